// Package classifier turns raw transport messages into inbound events.
package classifier

import (
	"strings"
	"time"

	"pdfrelay/internal/domain"

	"github.com/google/uuid"
)

const (
	DefaultStartCommand = "/start"
	pdfMimeType         = "application/pdf"
)

// Classifier is pure: it never performs I/O.
type Classifier struct {
	startCommand string
	now          func() time.Time
}

// New returns a Classifier. An empty startCommand means "/start".
func New(startCommand string) *Classifier {
	if startCommand == "" {
		startCommand = DefaultStartCommand
	}
	return &Classifier{startCommand: startCommand, now: time.Now}
}

// Classify returns the event for msg, or false when the message is noise:
// empty, self-authored, or carrying an unsupported attachment.
func (c *Classifier) Classify(msg domain.RawMessage) (domain.InboundEvent, bool) {
	if !msg.HasContent() || msg.FromMe {
		return domain.InboundEvent{}, false
	}

	ev := domain.InboundEvent{
		ID:         uuid.NewString(),
		MessageID:  msg.ID,
		SenderID:   msg.ChatID,
		Raw:        msg,
		ReceivedAt: c.now(),
	}
	if ev.SenderID == "" {
		ev.SenderID = msg.SenderID
	}

	if msg.Document != nil {
		if !isPDF(msg.Document.MimeType) {
			return domain.InboundEvent{}, false
		}
		doc := *msg.Document
		ev.Kind = domain.KindDocument
		ev.Route = domain.RouteExtract
		ev.Document = &doc
		return ev, true
	}
	// Captions on images, audio and video are not relayed.
	if msg.OtherMedia {
		return domain.InboundEvent{}, false
	}

	text := msg.Text
	if text == "" {
		text = msg.ExtendedText
	}
	if text == "" {
		return domain.InboundEvent{}, false
	}
	ev.Text = text

	if c.IsStartCommand(text) {
		ev.Kind = domain.KindCommand
		ev.Route = domain.RouteWelcome
		return ev, true
	}

	ev.Kind = domain.KindPlainText
	ev.Route = domain.RouteRelay
	return ev, true
}

// IsStartCommand is a case-insensitive exact match on the start command.
func (c *Classifier) IsStartCommand(text string) bool {
	return strings.EqualFold(text, c.startCommand)
}

func isPDF(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime == pdfMimeType
}
