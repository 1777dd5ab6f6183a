package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestEventBus_EmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	var hits atomic.Int32

	bus.SubscribeMany([]EventType{EventDesync, EventStall}, "counter", func(ctx context.Context, e Event) error {
		hits.Add(1)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventDesync, Source: "test"})
	bus.Emit(context.Background(), Event{Type: EventStall, Source: "test"})
	bus.Emit(context.Background(), Event{Type: EventChatMessage, Source: "test"})
	bus.Stop()

	if got := hits.Load(); got != 2 {
		t.Fatalf("hits = %d, want 2", got)
	}
	if bus.HandlerCount(EventDesync) != 1 {
		t.Fatalf("handler count = %d", bus.HandlerCount(EventDesync))
	}
}

func TestEventBus_EmitSyncReturnsError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()
	want := errors.New("boom")

	bus.Subscribe(EventShutdown, "fails", func(ctx context.Context, e Event) error { return want })
	bus.Subscribe(EventShutdown, "panics", func(ctx context.Context, e Event) error { panic("bad handler") })

	if err := bus.EmitSync(context.Background(), Event{Type: EventShutdown}); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestEventBus_UnsubscribeAndStopped(t *testing.T) {
	bus := NewEventBus()
	called := false
	bus.Subscribe(EventPlayerJoined, "once", func(ctx context.Context, e Event) error {
		called = true
		return nil
	})
	bus.Unsubscribe(EventPlayerJoined, "once")

	if err := bus.EmitSync(context.Background(), Event{Type: EventPlayerJoined}); err != nil {
		t.Fatalf("EmitSync: %v", err)
	}
	bus.Stop()
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventPlayerJoined})

	if called {
		t.Fatal("unsubscribed handler ran")
	}
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}
}

func TestSessionState_JSON(t *testing.T) {
	b, err := SessionRunning.MarshalJSON()
	if err != nil || string(b) != `"running"` {
		t.Fatalf("MarshalJSON = %s, %v", b, err)
	}
	if SessionIdle.Active() || !SessionTerminated.Active() {
		t.Fatal("unexpected Active")
	}
}

func TestEventBus_PreservesOrderPerSubscriber(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	var got []int

	bus.SubscribeMany([]EventType{EventChatMessage, EventStall}, "ordered", func(ctx context.Context, e Event) error {
		mu.Lock()
		got = append(got, e.Payload.(int))
		mu.Unlock()
		return nil
	})

	for i := 0; i < 100; i++ {
		typ := EventChatMessage
		if i%3 == 0 {
			typ = EventStall
		}
		bus.Emit(context.Background(), Event{Type: typ, Payload: i})
	}
	bus.Stop()

	if len(got) != 100 {
		t.Fatalf("delivered %d events, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d delivered at position %d", v, i)
		}
	}
}

func TestEventBus_DropsWhenSubscriberIsStuck(t *testing.T) {
	bus := NewEventBus()
	release := make(chan struct{})
	bus.Subscribe(EventStall, "stuck", func(ctx context.Context, e Event) error {
		<-release
		return nil
	})

	for i := 0; i < subscriberQueue+10; i++ {
		bus.Emit(context.Background(), Event{Type: EventStall})
	}
	if bus.Dropped() < 9 {
		t.Fatalf("dropped = %d, want at least 9", bus.Dropped())
	}
	close(release)
	bus.Stop()
}
