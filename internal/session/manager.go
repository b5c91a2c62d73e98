// Package session owns the single transport session: its connection state
// machine, automatic restarts after transient drops, credential persistence
// and dispatch of classified inbound events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pdfrelay/internal/bus"
	"pdfrelay/internal/classifier"
	"pdfrelay/internal/domain"
	"pdfrelay/internal/metrics"
)

// minRetryDelay spaces reconnect attempts whose Connect call itself failed.
const minRetryDelay = time.Second

// Errors returned by session operations.
var (
	ErrNotOpen = errors.New("session not open")
	ErrStopped = errors.New("session stopped")
)

// Handler processes one inbound event. Calls run concurrently.
type Handler interface {
	Handle(ctx context.Context, ev domain.InboundEvent)
}

// Config wires a Manager. Transport is required.
type Config struct {
	Transport   domain.Transport
	Credentials domain.CredentialStore // optional
	Classifier  *classifier.Classifier
	Handler     Handler
	Events      *bus.EventBus // optional
	// ReconnectDelay postpones the restart after a transient close.
	// Zero restarts immediately.
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Manager is the explicit session handle passed to every consumer.
type Manager struct {
	transport      domain.Transport
	creds          domain.CredentialStore
	classifier     *classifier.Classifier
	handler        Handler
	events         *bus.EventBus
	reconnectDelay time.Duration
	logger         *slog.Logger

	mu          sync.Mutex
	state       domain.ConnectionState
	closeReason domain.CloseReason
	generation  uint64
	stopped     bool
	baseCtx     context.Context

	inflight   sync.WaitGroup
	reconnects atomic.Int64
}

// NewManager returns a Disconnected manager. Nil Classifier, Events and
// Logger get defaults.
func NewManager(cfg Config) *Manager {
	if cfg.Classifier == nil {
		cfg.Classifier = classifier.New("")
	}
	if cfg.Events == nil {
		cfg.Events = bus.NewEventBus(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		transport:      cfg.Transport,
		creds:          cfg.Credentials,
		classifier:     cfg.Classifier,
		handler:        cfg.Handler,
		events:         cfg.Events,
		reconnectDelay: cfg.ReconnectDelay,
		logger:         cfg.Logger.With("transport", cfg.Transport.Name()),
		state:          domain.StateDisconnected,
		baseCtx:        context.Background(),
	}
}

// SetHandler installs the event handler. It must be called before Start.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Start loads credentials, opens the transport with a fresh listener and
// enters Connecting. Signals from listeners of earlier starts are ignored.
// A failed Connect is transient: the session moves to Closed, a restart is
// scheduled and Start returns nil.
func (m *Manager) Start(ctx context.Context) error {
	err := m.open(ctx)
	var ce *connectError
	if !errors.As(err, &ce) {
		return err
	}
	delay := max(m.reconnectDelay, minRetryDelay)
	m.logger.Warn("connect failed, retrying", "err", err, "delay", delay)
	m.scheduleReconnect(ce.gen, delay)
	return nil
}

// connectError marks a Connect failure of generation gen.
type connectError struct {
	gen uint64
	err error
}

func (e *connectError) Error() string { return e.err.Error() }
func (e *connectError) Unwrap() error { return e.err }

func (m *Manager) open(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	m.baseCtx = ctx
	m.mu.Unlock()

	if m.creds != nil {
		if err := m.creds.LoadCredentials(ctx); err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.mu.Unlock()
	m.transition(gen, domain.StateConnecting, "")

	if err := m.transport.Connect(ctx, m.listener(gen)); err != nil {
		m.mu.Lock()
		if gen == m.generation {
			m.closeReason = domain.CloseReason{Cause: err.Error()}
		}
		m.mu.Unlock()
		m.transition(gen, domain.StateClosed, err.Error())
		return &connectError{gen: gen, err: fmt.Errorf("connect %s: %w", m.transport.Name(), err)}
	}
	return nil
}

// Stop ends the transport session and waits for in-flight handlers until
// ctx is done. Closes reported after Stop never trigger a reconnect.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	m.transport.Disconnect()
	m.transition(gen, domain.StateDisconnected, "stopped")

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight handlers: %w", ctx.Err())
	}
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CloseReason returns the reason of the most recent close.
func (m *Manager) CloseReason() domain.CloseReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeReason
}

// Connected reports whether the session is Open.
func (m *Manager) Connected() bool { return m.State() == domain.StateOpen }

// Reconnects returns how many restarts were triggered by transient closes.
func (m *Manager) Reconnects() int64 { return m.reconnects.Load() }

// Events exposes the lifecycle bus.
func (m *Manager) Events() *bus.EventBus { return m.events }

// Send delivers text through the transport. It fails with ErrNotOpen
// unless the session is Open.
func (m *Manager) Send(ctx context.Context, to, text string) error {
	if !m.Connected() {
		return ErrNotOpen
	}
	return m.transport.Send(ctx, to, text)
}

// Download fetches the media of msg through the transport.
func (m *Manager) Download(ctx context.Context, msg domain.RawMessage) ([]byte, error) {
	if !m.Connected() {
		return nil, ErrNotOpen
	}
	return m.transport.Download(ctx, msg)
}

// Dispatch hands ev to the handler on its own goroutine. It is a silent
// no-op unless the session is Open.
func (m *Manager) Dispatch(ctx context.Context, ev domain.InboundEvent) {
	m.mu.Lock()
	if m.stopped || m.state != domain.StateOpen {
		m.mu.Unlock()
		m.logger.Debug("event dropped: session not open", "event", ev.ID)
		return
	}
	h := m.handler
	if h == nil {
		m.mu.Unlock()
		return
	}
	// Add under mu so Stop's Wait cannot miss it.
	m.inflight.Add(1)
	m.mu.Unlock()

	metrics.InFlight.Inc()
	go func() {
		defer m.inflight.Done()
		defer metrics.InFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("event handler panic", "event", ev.ID, "kind", ev.Kind, "panic", r)
			}
		}()
		h.Handle(ctx, ev)
	}()
}

func (m *Manager) listener(gen uint64) func(domain.Signal) {
	return func(sig domain.Signal) {
		m.handleSignal(gen, sig)
	}
}

func (m *Manager) handleSignal(gen uint64, sig domain.Signal) {
	switch s := sig.(type) {
	case domain.QRChallenge:
		if !m.current(gen) {
			return
		}
		m.transition(gen, domain.StateAwaitingAuthScan, "")
		m.logger.Info("pairing code received, scan it with the phone app")
		m.events.Emit(bus.Event{Type: bus.EventQRChallenge, Detail: s.Code})

	case domain.ConnectionOpened:
		if m.transition(gen, domain.StateOpen, "") {
			m.logger.Info("session open")
		}

	case domain.ConnectionClosed:
		m.handleClosed(gen, s)

	case domain.CredentialsUpdated:
		if m.current(gen) {
			m.persistCredentials()
		}

	case domain.MessageReceived:
		if !m.current(gen) {
			return
		}
		ev, ok := m.classifier.Classify(s.Message)
		if !ok {
			metrics.MessagesDropped.Inc()
			return
		}
		metrics.MessagesTotal.Inc()
		metrics.MessagesByKind(string(ev.Kind)).Inc()
		m.logger.Info("message received", "sender", ev.SenderID, "kind", ev.Kind, "event", ev.ID)
		m.Dispatch(m.context(), ev)
	}
}

func (m *Manager) handleClosed(gen uint64, s domain.ConnectionClosed) {
	m.mu.Lock()
	if gen != m.generation || m.state == domain.StateClosed {
		m.mu.Unlock()
		return
	}
	m.closeReason = s.Reason
	stopped := m.stopped
	m.mu.Unlock()

	m.transition(gen, domain.StateClosed, s.Reason.String())
	closeErr := &domain.TransportCloseError{Reason: s.Reason, Err: s.Err}

	if s.Reason.Terminal {
		m.logger.Error("session closed permanently, credentials are no longer valid", "err", closeErr)
		return
	}
	if stopped {
		return
	}
	m.logger.Warn("session closed, reconnecting", "err", closeErr, "delay", m.reconnectDelay)
	m.scheduleReconnect(gen, m.reconnectDelay)
}

func (m *Manager) scheduleReconnect(gen uint64, delay time.Duration) {
	n := m.reconnects.Add(1)
	metrics.Reconnects.Inc()
	m.events.Emit(bus.Event{Type: bus.EventReconnect, Detail: fmt.Sprintf("attempt %d", n)})

	run := func() {
		m.mu.Lock()
		if m.stopped || gen != m.generation {
			m.mu.Unlock()
			return
		}
		ctx := m.baseCtx
		m.mu.Unlock()
		if ctx.Err() != nil {
			return
		}

		if err := m.open(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				return
			}
			m.logger.Error("reconnect failed", "err", err)
			m.mu.Lock()
			next := m.generation
			m.mu.Unlock()
			m.scheduleReconnect(next, max(delay, minRetryDelay))
		}
	}

	if delay <= 0 {
		go run()
		return
	}
	time.AfterFunc(delay, run)
}

func (m *Manager) persistCredentials() {
	if m.creds == nil {
		return
	}
	if err := m.creds.SaveCredentials(m.context()); err != nil {
		m.logger.Error("credential update not persisted", "err", &domain.PersistenceError{Err: err})
		return
	}
	m.events.Emit(bus.Event{Type: bus.EventCredentials, Detail: "saved"})
}

// transition moves to next when gen is the live generation and reports
// whether the state changed.
func (m *Manager) transition(gen uint64, next domain.ConnectionState, detail string) bool {
	m.mu.Lock()
	if gen != m.generation || m.state == next {
		m.mu.Unlock()
		return false
	}
	m.state = next
	m.mu.Unlock()

	if next == domain.StateOpen {
		metrics.SessionOpen.Set(1)
	} else {
		metrics.SessionOpen.Set(0)
	}
	m.events.Emit(bus.Event{Type: bus.EventStateChanged, State: next.String(), Detail: detail})
	return true
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseCtx
}
