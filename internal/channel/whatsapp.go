package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"pdfrelay/internal/domain"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

// keepAliveFailureLimit is how many missed keepalives end the session.
const keepAliveFailureLimit = 3

// WhatsAppConfig configures the WhatsApp Web (multi-device) transport.
type WhatsAppConfig struct {
	// SessionDB is the sqlite file holding the paired device credentials.
	SessionDB string
	Logger    *slog.Logger
}

// WhatsApp implements domain.Transport and domain.CredentialStore on top of
// whatsmeow. The sqlstore device row is the persisted credential bundle.
type WhatsApp struct {
	sessionDB string
	logger    *slog.Logger
	waLogger  waLog.Logger

	mu        sync.Mutex
	container *sqlstore.Container
	device    *store.Device
	client    *whatsmeow.Client
	handlerID uint32
}

// NewWhatsApp returns an unconnected WhatsApp transport.
func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhatsApp{
		sessionDB: cfg.SessionDB,
		logger:    cfg.Logger,
		waLogger:  NewWALogger(cfg.Logger, "whatsmeow"),
	}
}

// Name identifies the transport in logs.
func (w *WhatsApp) Name() string { return "whatsapp" }

// LoadCredentials opens the session database and loads the first paired
// device, or a fresh one when nothing was paired yet.
func (w *WhatsApp) LoadCredentials(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.container == nil {
		if dir := filepath.Dir(w.sessionDB); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create session directory %s: %w", dir, err)
			}
		}
		dsn := "file:" + w.sessionDB + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		container, err := sqlstore.New(ctx, "sqlite", dsn, w.waLogger.Sub("store"))
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		w.container = container
	}

	device, err := w.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}
	w.device = device
	return nil
}

// SaveCredentials writes the current device keys back to the store.
func (w *WhatsApp) SaveCredentials(ctx context.Context) error {
	w.mu.Lock()
	device := w.device
	w.mu.Unlock()
	if device == nil || device.ID == nil {
		return errors.New("no paired device to save")
	}
	return device.Save(ctx)
}

// Connect builds a fresh client for the loaded device and opens the
// websocket. Unpaired devices receive QR signals until scanned.
func (w *WhatsApp) Connect(ctx context.Context, listener func(domain.Signal)) error {
	w.mu.Lock()
	if w.device == nil {
		w.mu.Unlock()
		return errors.New("credentials not loaded")
	}
	if w.client != nil {
		w.client.RemoveEventHandler(w.handlerID)
		w.client.Disconnect()
	}
	client := whatsmeow.NewClient(w.device, w.waLogger.Sub("client"))
	// Restarts are owned by the session manager.
	client.EnableAutoReconnect = false
	w.handlerID = client.AddEventHandler(func(evt any) {
		w.handleEvent(evt, listener)
	})
	w.client = client
	paired := client.Store.ID != nil
	w.mu.Unlock()

	if !paired {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go w.forwardQR(qrChan, listener)
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	w.logger.Info("whatsapp connecting", "paired", paired)
	return nil
}

func (w *WhatsApp) forwardQR(qrChan <-chan whatsmeow.QRChannelItem, listener func(domain.Signal)) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			listener(domain.QRChallenge{Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			w.logger.Info("whatsapp pairing succeeded")
		case whatsmeow.QRChannelTimeout.Event:
			listener(domain.ConnectionClosed{
				Reason: domain.CloseReason{Cause: "qr scan timed out"},
			})
		case whatsmeow.QRChannelEventError:
			listener(domain.ConnectionClosed{
				Reason: domain.CloseReason{Cause: "pairing failed"},
				Err:    item.Error,
			})
		default:
			w.logger.Debug("whatsapp qr event", "event", item.Event)
		}
	}
}

// Disconnect closes the socket. It is safe to call more than once.
func (w *WhatsApp) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return
	}
	w.client.RemoveEventHandler(w.handlerID)
	w.client.Disconnect()
	w.client = nil
}

// Download fetches the document attached to msg.
func (w *WhatsApp) Download(ctx context.Context, msg domain.RawMessage) ([]byte, error) {
	doc, ok := msg.Handle.(*waE2E.DocumentMessage)
	if !ok || doc == nil {
		return nil, fmt.Errorf("message %s has no downloadable document", msg.ID)
	}
	client := w.currentClient()
	if client == nil {
		return nil, errors.New("whatsapp client not connected")
	}
	data, err := client.Download(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", msg.ID, err)
	}
	return data, nil
}

// Send delivers a plain conversation message. to is a JID string.
func (w *WhatsApp) Send(ctx context.Context, to string, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	client := w.currentClient()
	if client == nil {
		return errors.New("whatsapp client not connected")
	}
	_, err = client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("whatsapp send to %s: %w", jid, err)
	}
	return nil
}

func (w *WhatsApp) currentClient() *whatsmeow.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client
}

func (w *WhatsApp) handleEvent(evt any, listener func(domain.Signal)) {
	switch e := evt.(type) {
	case *events.Connected:
		listener(domain.ConnectionOpened{})
	case *events.PairSuccess:
		w.logger.Info("whatsapp device paired", "jid", e.ID.String(), "platform", e.Platform)
		listener(domain.CredentialsUpdated{})
	case *events.LoggedOut:
		listener(domain.ConnectionClosed{
			Reason: domain.CloseReason{Terminal: true, Cause: fmt.Sprintf("logged out: %v", e.Reason)},
		})
	case *events.StreamReplaced:
		// Another client took over the session; reconnecting would fight it.
		listener(domain.ConnectionClosed{
			Reason: domain.CloseReason{Terminal: true, Cause: "stream replaced"},
		})
	case *events.ConnectFailure:
		listener(domain.ConnectionClosed{
			Reason: domain.CloseReason{
				Terminal: e.Reason.IsLoggedOut(),
				Cause:    fmt.Sprintf("connect failure: %v %s", e.Reason, e.Message),
			},
		})
	case *events.KeepAliveTimeout:
		w.logger.Warn("whatsapp keepalive timeout", "errors", e.ErrorCount)
		if e.ErrorCount >= keepAliveFailureLimit {
			listener(domain.ConnectionClosed{Reason: domain.CloseReason{Cause: "keepalive timeout"}})
		}
	case *events.Disconnected:
		listener(domain.ConnectionClosed{Reason: domain.CloseReason{Cause: "connection lost"}})
	case *events.Message:
		listener(domain.MessageReceived{Message: toRawMessage(e)})
	}
}

// toRawMessage maps a whatsmeow message event onto the neutral shape.
func toRawMessage(e *events.Message) domain.RawMessage {
	m := e.Message
	raw := domain.RawMessage{
		ID:        e.Info.ID,
		ChatID:    e.Info.Chat.String(),
		SenderID:  e.Info.Sender.String(),
		FromMe:    e.Info.IsFromMe,
		Timestamp: e.Info.Timestamp,
	}
	if m == nil {
		return raw
	}
	raw.Text = m.GetConversation()
	raw.ExtendedText = m.GetExtendedTextMessage().GetText()
	if doc := documentOf(m); doc != nil {
		raw.Document = &domain.Attachment{
			FileName: doc.GetFileName(),
			MimeType: doc.GetMimetype(),
			Size:     int64(doc.GetFileLength()),
		}
		raw.Handle = doc
	}
	raw.OtherMedia = m.GetImageMessage() != nil ||
		m.GetVideoMessage() != nil ||
		m.GetAudioMessage() != nil ||
		m.GetStickerMessage() != nil
	return raw
}

func documentOf(m *waE2E.Message) *waE2E.DocumentMessage {
	if doc := m.GetDocumentMessage(); doc != nil {
		return doc
	}
	// Documents sent with a caption arrive wrapped.
	return m.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage()
}

// waLogger routes whatsmeow logging into slog.
type waLogger struct {
	base   *slog.Logger
	logger *slog.Logger
	module string
}

// NewWALogger adapts logger to whatsmeow's logging interface.
func NewWALogger(logger *slog.Logger, module string) waLog.Logger {
	return &waLogger{base: logger, logger: logger.With("module", module), module: module}
}

func (l *waLogger) Debugf(msg string, args ...any) { l.logger.Debug(fmt.Sprintf(msg, args...)) }
func (l *waLogger) Infof(msg string, args ...any)  { l.logger.Info(fmt.Sprintf(msg, args...)) }
func (l *waLogger) Warnf(msg string, args ...any)  { l.logger.Warn(fmt.Sprintf(msg, args...)) }
func (l *waLogger) Errorf(msg string, args ...any) { l.logger.Error(fmt.Sprintf(msg, args...)) }

func (l *waLogger) Sub(module string) waLog.Logger {
	return NewWALogger(l.base, l.module+"/"+module)
}
