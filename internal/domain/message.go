package domain

import "time"

// EventKind is the classification of an inbound message.
type EventKind string

const (
	KindDocument  EventKind = "document"
	KindPlainText EventKind = "text"
	KindCommand   EventKind = "command"
)

// Route names the downstream handling path for an InboundEvent.
type Route string

const (
	RouteWelcome Route = "welcome"
	RouteExtract Route = "extract"
	RouteRelay   Route = "relay"
)

// Attachment describes a document attached to a message.
type Attachment struct {
	FileName string
	MimeType string
	Size     int64
}

// RawMessage is the transport-neutral view of an inbound message.
type RawMessage struct {
	ID           string
	ChatID       string // address replies are sent to
	SenderID     string
	FromMe       bool
	Text         string
	ExtendedText string // quoted / extended text body
	Document     *Attachment
	OtherMedia   bool // image, audio, sticker, ...
	Timestamp    time.Time
	Handle       any // transport-specific value needed for Download
}

// HasContent reports whether the message carries any body at all.
func (m RawMessage) HasContent() bool {
	return m.Text != "" || m.ExtendedText != "" || m.Document != nil || m.OtherMedia
}

// InboundEvent is a classified message. It is passed by value and never
// mutated after classification.
type InboundEvent struct {
	ID         string
	MessageID  string
	SenderID   string
	Kind       EventKind
	Route      Route
	Text       string
	Document   *Attachment
	Raw        RawMessage
	ReceivedAt time.Time
}
