package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got Event
	eb.On(EventQRChallenge, func(e Event) { got = e })

	eb.Emit(Event{Type: EventQRChallenge, Detail: "2@abc"})

	if got.Detail != "2@abc" {
		t.Errorf("expected QR detail, got %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On(EventAll, func(e Event) { atomic.AddInt32(&count, 1) })

	eb.Emit(Event{Type: EventStateChanged, State: "connecting"})
	eb.Emit(Event{Type: EventReconnect})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2 events on wildcard, got %d", count)
	}
}

func TestEventBus_OnlyMatchingType(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On(EventStateChanged, func(e Event) { atomic.AddInt32(&count, 1) })

	eb.Emit(Event{Type: EventQRChallenge})
	eb.Emit(Event{Type: EventStateChanged})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 matching event, got %d", count)
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after int32
	eb.On(EventStateChanged, func(e Event) { panic("boom") })
	eb.On(EventStateChanged, func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: EventStateChanged})

	if atomic.LoadInt32(&after) != 1 {
		t.Error("handler after a panicking one should still run")
	}
}

func TestEventBus_Last(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	if _, ok := eb.Last(EventStateChanged); ok {
		t.Fatal("empty bus should have no last event")
	}

	eb.Emit(Event{Type: EventStateChanged, State: "connecting"})
	eb.Emit(Event{Type: EventQRChallenge, Detail: "code"})
	eb.Emit(Event{Type: EventStateChanged, State: "open"})

	ev, ok := eb.Last(EventStateChanged)
	if !ok || ev.State != "open" {
		t.Errorf("expected last state open, got %+v", ev)
	}
	ev, _ = eb.Last(EventAll)
	if ev.State != "open" {
		t.Errorf("expected most recent event overall, got %+v", ev)
	}
}

func TestEventBus_HistoryBounded(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	for i := 0; i < 150; i++ {
		eb.Emit(Event{Type: EventReconnect})
	}

	if n := len(eb.Replay(EventAll, time.Time{})); n != 100 {
		t.Errorf("expected history capped at 100, got %d", n)
	}
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	base := time.Now()

	eb.Emit(Event{Type: EventStateChanged, State: "connecting", Timestamp: base.Add(-time.Minute)})
	eb.Emit(Event{Type: EventStateChanged, State: "open", Timestamp: base.Add(time.Second)})
	eb.Emit(Event{Type: EventQRChallenge, Timestamp: base.Add(2 * time.Second)})

	evs := eb.Replay(EventStateChanged, base)
	if len(evs) != 1 || evs[0].State != "open" {
		t.Errorf("unexpected replay: %+v", evs)
	}
}
