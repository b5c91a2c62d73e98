package dedup

import (
	"context"
	"testing"
	"time"
)

func TestMemoryFilter(t *testing.T) {
	f := NewMemoryFilter(time.Minute)
	ctx := context.Background()

	if ok, _ := f.IsNew(ctx, "msg-1"); !ok {
		t.Fatal("first sighting should be new")
	}
	if ok, _ := f.IsNew(ctx, "msg-1"); ok {
		t.Error("second sighting should be a duplicate")
	}
	if ok, _ := f.IsNew(ctx, "msg-2"); !ok {
		t.Error("a different id should be new")
	}
}

func TestMemoryFilter_Expiry(t *testing.T) {
	f := NewMemoryFilter(30 * time.Millisecond)
	ctx := context.Background()

	f.IsNew(ctx, "msg-1")
	time.Sleep(60 * time.Millisecond)

	if ok, _ := f.IsNew(ctx, "msg-1"); !ok {
		t.Error("id should be new again after the ttl")
	}
}

func TestNop(t *testing.T) {
	var f Filter = Nop{}
	for i := 0; i < 3; i++ {
		if ok, err := f.IsNew(context.Background(), "same"); !ok || err != nil {
			t.Fatalf("Nop should always report new, got %v %v", ok, err)
		}
	}
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	f, closeFn, err := New(ctx, Options{})
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if _, ok := f.(*MemoryFilter); !ok {
		t.Errorf("default backend should be memory, got %T", f)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}

	f, _, err = New(ctx, Options{Backend: "none"})
	if err != nil {
		t.Fatalf("none backend: %v", err)
	}
	if _, ok := f.(Nop); !ok {
		t.Errorf("expected Nop, got %T", f)
	}

	if _, _, err := New(ctx, Options{Backend: "memcached"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNew_RedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, closeFn, err := New(ctx, Options{Backend: "redis", RedisAddr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected ping failure")
	}
	if closeFn == nil {
		t.Error("close func should never be nil")
	}
}
