package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventBus_PublishSync(t *testing.T) {
	b := NewEventBus()

	var got atomic.Int32
	b.Subscribe(EventTypeConnected, func(e Event) {
		got.Add(1)
	})
	b.Subscribe(EventTypeConnected, func(e Event) {
		got.Add(1)
	})

	b.PublishSync(Event{Type: EventTypeConnected})

	if got.Load() != 2 {
		t.Errorf("expected both handlers invoked, got %d", got.Load())
	}
}

func TestEventBus_PublishIsolatesTypes(t *testing.T) {
	b := NewEventBus()

	var wrongType atomic.Bool
	b.Subscribe(EventTypeMicStarted, func(e Event) {
		wrongType.Store(true)
	})

	b.PublishSync(Event{Type: EventTypeMicStopped})

	if wrongType.Load() {
		t.Error("handler for mic.started fired on mic.stopped")
	}
}

func TestEventBus_SubscribeMultiple(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	seen := make(map[EventType]int)
	b.SubscribeMultiple([]EventType{EventTypeSpeakingStarted, EventTypeSpeakingStopped}, func(e Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
	})

	b.PublishSync(Event{Type: EventTypeSpeakingStarted})
	b.PublishSync(Event{Type: EventTypeSpeakingStopped})

	mu.Lock()
	defer mu.Unlock()
	if seen[EventTypeSpeakingStarted] != 1 || seen[EventTypeSpeakingStopped] != 1 {
		t.Errorf("unexpected delivery counts: %v", seen)
	}
}

func TestEventBus_Clear(t *testing.T) {
	b := NewEventBus()

	fired := make(chan struct{}, 1)
	b.Subscribe(EventTypeError, func(e Event) {
		fired <- struct{}{}
	})
	b.Clear()

	b.PublishSync(Event{Type: EventTypeError})

	select {
	case <-fired:
		t.Error("handler fired after Clear")
	case <-time.After(50 * time.Millisecond):
	}
}
