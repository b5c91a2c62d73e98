// Package pipeline handles classified inbound events: welcome replies,
// text relay, and PDF download, extraction and relay.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"pdfrelay/internal/dedup"
	"pdfrelay/internal/domain"
	"pdfrelay/internal/extract"
	"pdfrelay/internal/metrics"
)

// Messenger is the slice of the session the pipeline needs.
type Messenger interface {
	Send(ctx context.Context, to, text string) error
	Download(ctx context.Context, msg domain.RawMessage) ([]byte, error)
}

// Relayer forwards payloads to the automation backend.
type Relayer interface {
	Send(ctx context.Context, p domain.RelayPayload) error
}

// Messages are the fixed texts sent to users.
type Messages struct {
	Welcome  string
	Received string
	Failure  string
}

// DefaultMessages returns the built-in reply texts.
func DefaultMessages() Messages {
	return Messages{
		Welcome:  "🤖 *PDF Analysis Bot Active!*\n\n📄 Send a PDF for automatic analysis\n🔍 I will extract its contents and main topics",
		Received: "📄 PDF received! Analyzing the document...",
		Failure:  "❌ Error analyzing the PDF. Please try again.",
	}
}

// Config wires a Handler.
type Config struct {
	Messenger Messenger
	Extractor *extract.Extractor
	Relay     Relayer
	Dedup     dedup.Filter // optional
	Messages  Messages
	// KeepTempCopy stores each received PDF in the ephemeral store.
	KeepTempCopy bool
	// IncludeExtraction attaches page/word counts and the summary to
	// document payloads.
	IncludeExtraction bool
	Logger            *slog.Logger
}

// Handler implements session.Handler.
type Handler struct {
	messenger         Messenger
	extractor         *extract.Extractor
	relay             Relayer
	dedup             dedup.Filter
	msgs              Messages
	keepTempCopy      bool
	includeExtraction bool
	logger            *slog.Logger
	now               func() time.Time
}

// New returns a Handler with default reply texts filled in.
func New(cfg Config) *Handler {
	def := DefaultMessages()
	if cfg.Messages.Welcome == "" {
		cfg.Messages.Welcome = def.Welcome
	}
	if cfg.Messages.Received == "" {
		cfg.Messages.Received = def.Received
	}
	if cfg.Messages.Failure == "" {
		cfg.Messages.Failure = def.Failure
	}
	if cfg.Dedup == nil {
		cfg.Dedup = dedup.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		messenger:         cfg.Messenger,
		extractor:         cfg.Extractor,
		relay:             cfg.Relay,
		dedup:             cfg.Dedup,
		msgs:              cfg.Messages,
		keepTempCopy:      cfg.KeepTempCopy,
		includeExtraction: cfg.IncludeExtraction,
		logger:            cfg.Logger,
		now:               time.Now,
	}
}

// Handle routes ev. Relay failures are logged only; document failures
// before the relay step are reported to the sender.
func (h *Handler) Handle(ctx context.Context, ev domain.InboundEvent) {
	if ev.MessageID != "" {
		fresh, err := h.dedup.IsNew(ctx, ev.MessageID)
		if err != nil {
			h.logger.Warn("dedup check failed, handling anyway", "message", ev.MessageID, "err", err)
		} else if !fresh {
			metrics.DuplicatesSkipped.Inc()
			h.logger.Debug("duplicate message skipped", "message", ev.MessageID)
			return
		}
	}

	switch ev.Route {
	case domain.RouteWelcome:
		h.reply(ctx, ev.SenderID, h.msgs.Welcome)
	case domain.RouteRelay:
		h.handleText(ctx, ev)
	case domain.RouteExtract:
		h.handleDocument(ctx, ev)
	default:
		h.logger.Warn("event without route", "event", ev.ID, "kind", ev.Kind)
	}
}

func (h *Handler) handleText(ctx context.Context, ev domain.InboundEvent) {
	h.logger.Info("text message", "sender", ev.SenderID, "len", len(ev.Text))
	h.forward(ctx, domain.NewTextPayload(ev.SenderID, ev.Text, h.now()))
}

func (h *Handler) handleDocument(ctx context.Context, ev domain.InboundEvent) {
	fileName := "document.pdf"
	if ev.Document != nil && ev.Document.FileName != "" {
		fileName = ev.Document.FileName
	}
	log := h.logger.With("sender", ev.SenderID, "file", fileName, "event", ev.ID)
	log.Info("pdf received")

	h.reply(ctx, ev.SenderID, h.msgs.Received)

	buf, err := h.messenger.Download(ctx, ev.Raw)
	if err != nil {
		log.Error("pdf download failed", "err", err)
		h.reply(ctx, ev.SenderID, h.msgs.Failure)
		return
	}

	if !h.extractor.Validate(buf) {
		log.Warn("payload is not a pdf", "size", len(buf))
		h.reply(ctx, ev.SenderID, h.msgs.Failure)
		return
	}

	doc, err := h.extractor.Extract(buf, fileName)
	if err != nil {
		var exErr *extract.ExtractionError
		if errors.As(err, &exErr) {
			log.Error("pdf extraction failed", "cause", exErr.Err)
		} else {
			log.Error("pdf extraction failed", "err", err)
		}
		h.reply(ctx, ev.SenderID, h.msgs.Failure)
		return
	}

	if h.keepTempCopy {
		if a, err := h.extractor.SaveTemp(buf, fileName); err != nil {
			log.Warn("temp copy not saved", "err", err)
		} else {
			log.Debug("temp copy saved", "path", a.Path)
		}
	}

	p := domain.NewDocumentPayload(ev.SenderID, fileName, base64.StdEncoding.EncodeToString(buf), h.now())
	if h.includeExtraction {
		p.Extracted = &domain.ExtractedBrief{
			PageCount: doc.PageCount,
			WordCount: doc.WordCount,
			Info:      doc.Metadata.SourceInfo,
			Summary:   doc.Summary,
			Sections:  doc.Sections,
		}
	}
	h.forward(ctx, p)
}

func (h *Handler) forward(ctx context.Context, p domain.RelayPayload) {
	if err := h.relay.Send(ctx, p); err != nil {
		h.logger.Warn("relay failed", "type", p.Type, "from", p.From, "err", err)
	}
}

func (h *Handler) reply(ctx context.Context, to, text string) {
	if err := h.messenger.Send(ctx, to, text); err != nil {
		h.logger.Error("reply not sent", "to", to, "err", err)
	}
}
