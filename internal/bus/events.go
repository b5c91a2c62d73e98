// Package bus carries session lifecycle events (state changes, pairing
// challenges, reconnects) to operator-facing consumers.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Well-known event types.
const (
	EventStateChanged = "session.state"
	EventQRChallenge  = "session.qr"
	EventReconnect    = "session.reconnect"
	EventCredentials  = "session.credentials"
	EventAll          = "*"
)

// Event is a lifecycle notification.
type Event struct {
	Type      string
	State     string // new connection state, for session.state
	Detail    string // close reason, QR code, error text
	Timestamp time.Time
}

// Handler receives one event.
type Handler func(Event)

type namedHandler struct {
	id string
	fn Handler
}

// EventBus dispatches events synchronously, in registration order, and
// keeps a bounded history.
type EventBus struct {
	mu         sync.RWMutex
	handlers   map[string][]namedHandler
	history    []Event
	maxHistory int
	seq        int
	logger     *slog.Logger
}

// NewEventBus returns a bus that keeps the last 100 events.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		maxHistory: 100,
		logger:     logger,
	}
}

// On subscribes fn to eventType ("*" for all).
func (eb *EventBus) On(eventType string, fn Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.seq++
	id := eventType + "-" + strconv.Itoa(eb.seq)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{id: id, fn: fn})
}

// Emit records the event and calls matching handlers. A panicking handler
// is logged and does not affect the others.
func (eb *EventBus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, ev)
	hs := make([]namedHandler, 0, len(eb.handlers[ev.Type])+len(eb.handlers[EventAll]))
	hs = append(hs, eb.handlers[ev.Type]...)
	if ev.Type != EventAll {
		hs = append(hs, eb.handlers[EventAll]...)
	}
	eb.mu.Unlock()

	for _, h := range hs {
		eb.call(h, ev)
	}
}

func (eb *EventBus) call(h namedHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", ev.Type, "handler", h.id, "panic", r)
		}
	}()
	h.fn(ev)
}

// Last returns the most recent event of eventType, if any.
func (eb *EventBus) Last(eventType string) (Event, bool) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for i := len(eb.history) - 1; i >= 0; i-- {
		if eventType == EventAll || eb.history[i].Type == eventType {
			return eb.history[i], true
		}
	}
	return Event{}, false
}

// Replay returns events of eventType emitted at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	var out []Event
	for _, ev := range eb.history {
		if ev.Timestamp.Before(since) {
			continue
		}
		if eventType == EventAll || ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
