package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"pdfrelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type recordingSender struct {
	mu   sync.Mutex
	sent []struct{ to, text string }
	err  error
}

func (s *recordingSender) Send(_ context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, struct{ to, text string }{to, text})
	return s.err
}

func TestSend_PostsPayload(t *testing.T) {
	var got domain.RelayPayload
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &recordingSender{}
	c := New(Config{Endpoint: srv.URL, Sender: sender, Logger: testLogger()})
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := c.Send(context.Background(), domain.NewTextPayload("user@s.whatsapp.net", "hello", at)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", contentType)
	}
	if got.Type != domain.PayloadText || got.Message != "hello" || got.From != "user@s.whatsapp.net" {
		t.Errorf("unexpected payload %+v", got)
	}
	if !got.Timestamp.Equal(at) {
		t.Errorf("unexpected timestamp %v", got.Timestamp)
	}
	if len(sender.sent) != 0 {
		t.Errorf("empty response should not produce a reply, got %+v", sender.sent)
	}
}

func TestSend_DocumentPayloadFields(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Logger: testLogger()})
	p := domain.NewDocumentPayload("a", "doc.pdf", "JVBERi0=", time.Now())
	if err := c.Send(context.Background(), p); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if raw["type"] != "pdf" || raw["fileName"] != "doc.pdf" || raw["fileBuffer"] != "JVBERi0=" {
		t.Errorf("unexpected document body %v", raw)
	}
	if _, ok := raw["message"]; ok {
		t.Error("document payload should not carry a message field")
	}
}

func TestSend_ReplyDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply":"Got it!"}`))
	}))
	defer srv.Close()

	sender := &recordingSender{}
	c := New(Config{Endpoint: srv.URL, Sender: sender, Logger: testLogger()})

	if err := c.Send(context.Background(), domain.NewTextPayload("chat-1", "hi", time.Now())); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].to != "chat-1" || sender.sent[0].text != "Got it!" {
		t.Errorf("unexpected replies %+v", sender.sent)
	}
}

func TestSend_ReplyIgnoredCases(t *testing.T) {
	bodies := []string{
		`{"reply":""}`,
		`{"status":"ok"}`,
		`not json at all`,
		`   `,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		sender := &recordingSender{}
		c := New(Config{Endpoint: srv.URL, Sender: sender, Logger: testLogger()})

		if err := c.Send(context.Background(), domain.NewTextPayload("a", "hi", time.Now())); err != nil {
			t.Errorf("body %q: unexpected error %v", body, err)
		}
		if len(sender.sent) != 0 {
			t.Errorf("body %q: no reply expected, got %+v", body, sender.sent)
		}
		srv.Close()
	}
}

func TestSend_ReplyDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":"x"}`))
	}))
	defer srv.Close()

	sender := &recordingSender{err: errors.New("session not open")}
	c := New(Config{Endpoint: srv.URL, Sender: sender, Logger: testLogger()})

	err := c.Send(context.Background(), domain.NewTextPayload("a", "hi", time.Now()))
	if err == nil {
		t.Fatal("expected reply delivery error")
	}
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		t.Error("a reply delivery failure is not a relay failure")
	}
}

func TestSend_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow not active", http.StatusNotFound)
	}))
	defer srv.Close()

	sender := &recordingSender{}
	c := New(Config{Endpoint: srv.URL, Sender: sender, Logger: testLogger()})

	err := c.Send(context.Background(), domain.NewTextPayload("a", "hi", time.Now()))
	var relayErr *RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("expected *RelayError, got %T: %v", err, err)
	}
	if relayErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", relayErr.StatusCode)
	}
	if len(sender.sent) != 0 {
		t.Error("failed relay must not send anything to the user")
	}
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond, Logger: testLogger()})

	err := c.Send(context.Background(), domain.NewTextPayload("a", "hi", time.Now()))
	var relayErr *RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("expected *RelayError, got %T: %v", err, err)
	}
	if relayErr.StatusCode != 0 {
		t.Errorf("timeouts carry no status, got %d", relayErr.StatusCode)
	}
}

func TestSend_DryRun(t *testing.T) {
	for _, endpoint := range []string{"", PlaceholderURL} {
		c := New(Config{Endpoint: endpoint, Logger: testLogger()})
		if !c.DryRun() {
			t.Errorf("endpoint %q should be a dry run", endpoint)
		}
		if err := c.Send(context.Background(), domain.NewTextPayload("a", "hi", time.Now())); err != nil {
			t.Errorf("dry run should succeed, got %v", err)
		}
	}

	if New(Config{Endpoint: "http://localhost:5678/webhook/x"}).DryRun() {
		t.Error("a real endpoint is not a dry run")
	}
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(0)
	if c.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", c.Timeout)
	}
	c = NewHTTPClient(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", c.Timeout)
	}
}
