package classifier

import (
	"testing"
	"time"

	"pdfrelay/internal/domain"
)

func pdfAttachment() *domain.Attachment {
	return &domain.Attachment{FileName: "invoice.pdf", MimeType: "application/pdf", Size: 1024}
}

func TestClassify_Routes(t *testing.T) {
	c := New("")

	tests := []struct {
		name      string
		msg       domain.RawMessage
		wantKind  domain.EventKind
		wantRoute domain.Route
		wantText  string
	}{
		{
			name:      "start command",
			msg:       domain.RawMessage{ID: "1", ChatID: "a", Text: "/start"},
			wantKind:  domain.KindCommand,
			wantRoute: domain.RouteWelcome,
			wantText:  "/start",
		},
		{
			name:      "start command any case",
			msg:       domain.RawMessage{ID: "2", ChatID: "a", Text: "/START"},
			wantKind:  domain.KindCommand,
			wantRoute: domain.RouteWelcome,
			wantText:  "/START",
		},
		{
			name:      "plain text",
			msg:       domain.RawMessage{ID: "3", ChatID: "a", Text: "hello"},
			wantKind:  domain.KindPlainText,
			wantRoute: domain.RouteRelay,
			wantText:  "hello",
		},
		{
			name:      "extended text",
			msg:       domain.RawMessage{ID: "4", ChatID: "a", ExtendedText: "quoted reply"},
			wantKind:  domain.KindPlainText,
			wantRoute: domain.RouteRelay,
			wantText:  "quoted reply",
		},
		{
			name:      "text wins over extended text",
			msg:       domain.RawMessage{ID: "5", ChatID: "a", Text: "primary", ExtendedText: "secondary"},
			wantKind:  domain.KindPlainText,
			wantRoute: domain.RouteRelay,
			wantText:  "primary",
		},
		{
			name:      "pdf document",
			msg:       domain.RawMessage{ID: "6", ChatID: "a", Document: pdfAttachment()},
			wantKind:  domain.KindDocument,
			wantRoute: domain.RouteExtract,
		},
		{
			name:      "pdf with caption is a document",
			msg:       domain.RawMessage{ID: "7", ChatID: "a", ExtendedText: "/start", Document: pdfAttachment()},
			wantKind:  domain.KindDocument,
			wantRoute: domain.RouteExtract,
		},
		{
			name:      "start command with trailing text is plain",
			msg:       domain.RawMessage{ID: "8", ChatID: "a", Text: "/start now"},
			wantKind:  domain.KindPlainText,
			wantRoute: domain.RouteRelay,
			wantText:  "/start now",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := c.Classify(tt.msg)
			if !ok {
				t.Fatal("expected message to be classified")
			}
			if ev.Kind != tt.wantKind || ev.Route != tt.wantRoute {
				t.Errorf("got kind=%s route=%s, want kind=%s route=%s", ev.Kind, ev.Route, tt.wantKind, tt.wantRoute)
			}
			if ev.Text != tt.wantText {
				t.Errorf("expected text %q, got %q", tt.wantText, ev.Text)
			}
			if ev.MessageID != tt.msg.ID {
				t.Errorf("expected message id %q, got %q", tt.msg.ID, ev.MessageID)
			}
			if ev.ID == "" {
				t.Error("event id should be assigned")
			}
		})
	}
}

func TestClassify_Ignored(t *testing.T) {
	c := New("")

	tests := []struct {
		name string
		msg  domain.RawMessage
	}{
		{"empty", domain.RawMessage{ID: "1", ChatID: "a"}},
		{"from self", domain.RawMessage{ID: "2", ChatID: "a", Text: "hi", FromMe: true}},
		{"non-pdf document", domain.RawMessage{ID: "3", ChatID: "a", Document: &domain.Attachment{FileName: "a.docx", MimeType: "application/msword"}}},
		{"image only", domain.RawMessage{ID: "4", ChatID: "a", OtherMedia: true}},
		{"photo with caption", domain.RawMessage{ID: "9", ChatID: "a", ExtendedText: "my holiday", OtherMedia: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ev, ok := c.Classify(tt.msg); ok {
				t.Errorf("expected message to be ignored, got %+v", ev)
			}
		})
	}
}

func TestClassify_DocumentIsCopied(t *testing.T) {
	c := New("")
	att := pdfAttachment()

	ev, ok := c.Classify(domain.RawMessage{ID: "1", ChatID: "a", Document: att})
	if !ok {
		t.Fatal("expected document event")
	}
	att.FileName = "changed.pdf"
	if ev.Document.FileName != "invoice.pdf" {
		t.Errorf("event document should not alias the raw attachment, got %q", ev.Document.FileName)
	}
}

func TestClassify_MimeParameters(t *testing.T) {
	c := New("")
	msg := domain.RawMessage{ID: "1", ChatID: "a", Document: &domain.Attachment{MimeType: " Application/PDF; name=x.pdf"}}

	if _, ok := c.Classify(msg); !ok {
		t.Error("mime type parameters and case should not matter")
	}
}

func TestClassify_SenderFallback(t *testing.T) {
	c := New("")
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	ev, ok := c.Classify(domain.RawMessage{ID: "1", SenderID: "user-7", Text: "hi"})
	if !ok {
		t.Fatal("expected event")
	}
	if ev.SenderID != "user-7" {
		t.Errorf("expected sender fallback, got %q", ev.SenderID)
	}
	if !ev.ReceivedAt.Equal(fixed) {
		t.Errorf("unexpected receive time %v", ev.ReceivedAt)
	}

	ev, _ = c.Classify(domain.RawMessage{ID: "2", ChatID: "chat-1", SenderID: "user-7", Text: "hi"})
	if ev.SenderID != "chat-1" {
		t.Errorf("chat id should be the reply address, got %q", ev.SenderID)
	}
}

func TestIsStartCommand_Custom(t *testing.T) {
	c := New("/hello")

	if !c.IsStartCommand("/Hello") {
		t.Error("custom start command should match case-insensitively")
	}
	if c.IsStartCommand("/start") {
		t.Error("default command should not match when overridden")
	}
}
