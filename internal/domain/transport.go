package domain

import "context"

// Transport is the messaging capability the session manager drives.
// Implementations authenticate, emit Signals, download media and send text.
type Transport interface {
	Name() string
	// Connect opens the session and delivers lifecycle and message signals
	// to listener until Disconnect is called or the connection closes.
	Connect(ctx context.Context, listener func(Signal)) error
	Disconnect()
	Download(ctx context.Context, msg RawMessage) ([]byte, error)
	Send(ctx context.Context, to string, text string) error
}

// CredentialStore persists the opaque authentication bundle of a transport.
type CredentialStore interface {
	LoadCredentials(ctx context.Context) error
	SaveCredentials(ctx context.Context) error
}

// Sender delivers a text message to a recipient.
type Sender interface {
	Send(ctx context.Context, to string, text string) error
}

// Signal is one of QRChallenge, ConnectionOpened, ConnectionClosed,
// CredentialsUpdated or MessageReceived.
type Signal interface {
	signal()
}

// QRChallenge asks the operator to scan a pairing code.
type QRChallenge struct {
	Code string
}

// ConnectionOpened reports an authenticated, usable session.
type ConnectionOpened struct{}

// ConnectionClosed reports a dropped or terminated session.
type ConnectionClosed struct {
	Reason CloseReason
	Err    error
}

// CredentialsUpdated asks for the credential bundle to be persisted.
type CredentialsUpdated struct{}

// MessageReceived carries one inbound transport message.
type MessageReceived struct {
	Message RawMessage
}

func (QRChallenge) signal()        {}
func (ConnectionOpened) signal()   {}
func (ConnectionClosed) signal()   {}
func (CredentialsUpdated) signal() {}
func (MessageReceived) signal()    {}
