package host

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEventBusEmitOn(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var received Event

	eb.On(EventDeviceCommissioned, func(e Event) {
		received = e
	})

	eb.Emit(Event{Type: EventDeviceCommissioned, Data: map[string]any{"gpd": "0x12345678"}})

	if received.Type != EventDeviceCommissioned {
		t.Errorf("type = %q, want %q", received.Type, EventDeviceCommissioned)
	}
	if received.Data["gpd"] != "0x12345678" {
		t.Errorf("data = %v, want gpd 0x12345678", received.Data)
	}
}

func TestEventBusFillsIDAndTime(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	eb.now = func() time.Time { return fixed }

	var got []Event
	eb.OnAll(func(e Event) { got = append(got, e) })

	eb.Emit(Event{Type: EventCommand})
	eb.Emit(Event{Type: EventCommand, ID: "keep", Time: fixed.Add(time.Hour)})

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].ID == "" {
		t.Error("ID not filled")
	}
	if !got[0].Time.Equal(fixed) {
		t.Errorf("Time = %v, want %v", got[0].Time, fixed)
	}
	if got[1].ID != "keep" || !got[1].Time.Equal(fixed.Add(time.Hour)) {
		t.Errorf("preset fields overwritten: %+v", got[1])
	}
	if got[0].ID == got[1].ID {
		t.Error("IDs not unique")
	}
}

func TestEventBusOnDoesNotReceiveOtherTypes(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	called := false

	eb.On(EventDeviceCommissioned, func(e Event) {
		called = true
	})

	eb.Emit(Event{Type: EventDeviceRemoved})

	if called {
		t.Error("handler called for wrong event type")
	}
}

func TestEventBusOnAll(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var count atomic.Int32

	eb.OnAll(func(e Event) {
		count.Add(1)
	})

	eb.Emit(Event{Type: EventDeviceCommissioned})
	eb.Emit(Event{Type: EventDeviceRemoved})
	eb.Emit(Event{Type: EventCommand})

	if count.Load() != 3 {
		t.Errorf("onAll called %d times, want 3", count.Load())
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var count atomic.Int32

	unsub := eb.On(EventCommand, func(e Event) {
		count.Add(1)
	})
	eb.Emit(Event{Type: EventCommand})
	if count.Load() != 1 {
		t.Fatalf("expected 1 call before unsub, got %d", count.Load())
	}

	unsub()
	eb.Emit(Event{Type: EventCommand})
	if count.Load() != 1 {
		t.Errorf("expected 1 call after unsub, got %d", count.Load())
	}

	unsubAll := eb.OnAll(func(e Event) { count.Add(1) })
	unsubAll()
	eb.Emit(Event{Type: EventCommand})
	if count.Load() != 1 {
		t.Errorf("expected 1 call after OnAll unsub, got %d", count.Load())
	}
}

func TestEventBusPanicRecovery(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var called atomic.Int32

	eb.On(EventCommand, func(e Event) {
		called.Add(1)
		panic("test panic")
	})
	eb.On(EventCommand, func(e Event) {
		called.Add(1)
	})

	eb.Emit(Event{Type: EventCommand})

	if c := called.Load(); c != 2 {
		t.Errorf("expected 2 handlers called, got %d", c)
	}
}

func TestEventBusConcurrentEmit(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var count atomic.Int32

	eb.OnAll(func(e Event) {
		count.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eb.Emit(Event{Type: EventNotification})
		}()
	}
	wg.Wait()

	if count.Load() != 100 {
		t.Errorf("got %d, want 100", count.Load())
	}
}
