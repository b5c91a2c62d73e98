package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"pdfrelay/internal/bus"
	"pdfrelay/internal/domain"
)

// SessionView is what the operator API needs from the session manager.
type SessionView interface {
	Send(ctx context.Context, to, text string) error
	State() domain.ConnectionState
}

// APIConfig configures the operator HTTP surface.
type APIConfig struct {
	Host    string
	Port    int
	Secret  string // optional HMAC secret for /send-message
	Session SessionView
	// Events feeds the lifecycle summary of /health when non-nil.
	Events *bus.EventBus
	// Metrics is mounted at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger
}

// API serves /send-message, /health and metrics.
type API struct {
	host        string
	port        int
	secret      string
	session     SessionView
	events      *bus.EventBus
	metrics     http.Handler
	metricsPath string
	logger      *slog.Logger
	server      *http.Server
	now         func() time.Time
}

// SendMessageRequest is the body of POST /send-message.
type SendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type sendMessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type healthResponse struct {
	Status           string       `json:"status"`
	BotConnected     bool         `json:"bot_connected"`
	State            string       `json:"state"`
	LastChange       *healthEvent `json:"last_change,omitempty"`
	RecentReconnects int          `json:"reconnects_last_hour"`
	Timestamp        time.Time    `json:"timestamp"`
}

// healthEvent is the most recent session state change.
type healthEvent struct {
	State  string    `json:"state"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// NewAPI returns an API listening on port 3000 unless cfg says otherwise.
func NewAPI(cfg APIConfig) *API {
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &API{
		host:        cfg.Host,
		port:        cfg.Port,
		secret:      cfg.Secret,
		session:     cfg.Session,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		metricsPath: cfg.MetricsPath,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// Handler returns the routed mux.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /send-message", a.handleSendMessage)
	mux.HandleFunc("GET /health", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET "+a.metricsPath, a.metrics)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (a *API) Start(ctx context.Context) error {
	a.server = &http.Server{
		Addr:              net.JoinHostPort(a.host, strconv.Itoa(a.port)),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("operator api starting", "addr", a.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("operator api shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("operator api: %w", err)
	}
}

func (a *API) handleSendMessage(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, sendMessageResponse{Error: "unreadable body"})
		return
	}
	defer r.Body.Close()

	if a.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			writeJSON(rw, http.StatusUnauthorized, sendMessageResponse{Error: "missing signature"})
			return
		}
		if !verifyHMAC(body, a.secret, sig) {
			writeJSON(rw, http.StatusForbidden, sendMessageResponse{Error: "invalid signature"})
			return
		}
	}

	var req SendMessageRequest
	if err := json.Unmarshal(body, &req); err != nil || req.To == "" || req.Message == "" {
		writeJSON(rw, http.StatusBadRequest, sendMessageResponse{Error: "Parameters 'to' and 'message' are required"})
		return
	}

	if a.session.State() != domain.StateOpen {
		writeJSON(rw, http.StatusServiceUnavailable, sendMessageResponse{Error: "bot not connected"})
		return
	}

	if err := a.session.Send(r.Context(), req.To, req.Message); err != nil {
		a.logger.Error("operator send failed", "to", req.To, "err", err)
		writeJSON(rw, http.StatusInternalServerError, sendMessageResponse{Error: err.Error()})
		return
	}

	a.logger.Info("operator message sent", "to", req.To, "len", len(req.Message))
	writeJSON(rw, http.StatusOK, sendMessageResponse{Success: true, Message: "Message sent successfully"})
}

func (a *API) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	state := a.session.State()
	now := a.now()
	resp := healthResponse{
		Status:       "OK",
		BotConnected: state == domain.StateOpen,
		State:        state.String(),
		Timestamp:    now,
	}
	if a.events != nil {
		if ev, ok := a.events.Last(bus.EventStateChanged); ok {
			resp.LastChange = &healthEvent{State: ev.State, Detail: ev.Detail, At: ev.Timestamp}
		}
		resp.RecentReconnects = len(a.events.Replay(bus.EventReconnect, now.Add(-time.Hour)))
	}
	writeJSON(rw, http.StatusOK, resp)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// verifyHMAC verifies the "sha256=<hex>" HMAC-SHA256 signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
