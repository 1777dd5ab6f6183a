package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// subscriberQueue is the per-subscriber backlog. A subscriber that falls
// this far behind loses events rather than stalling the frame loop.
const subscriberQueue = 256

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is a publish-subscribe hub. The frame loop emits protocol
// events at tick rate; telemetry, the API stream and the console consume
// them. Every subscriber name has one worker, so a subscriber sees events
// in emit order.
type EventBus struct {
	mu          sync.RWMutex
	routes      map[EventType][]route
	subscribers map[string]*subscriber
	stopCh      chan struct{}
	stopped     bool
	wg          sync.WaitGroup
	dropped     atomic.Uint64
}

type route struct {
	sub     *subscriber
	handler HandlerFunc
}

type subscriber struct {
	name   string
	queue  chan delivery
	routes int
}

type delivery struct {
	ctx     context.Context
	event   Event
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		routes:      make(map[EventType][]route),
		subscribers: make(map[string]*subscriber),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe registers handler for one event type under name. Handlers
// sharing a name share a worker.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}

	sub, ok := eb.subscribers[name]
	if !ok {
		sub = &subscriber{name: name, queue: make(chan delivery, subscriberQueue)}
		eb.subscribers[name] = sub
		eb.wg.Add(1)
		go eb.work(sub)
	}
	sub.routes++
	eb.routes[eventType] = append(eb.routes[eventType], route{sub: sub, handler: handler})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeMany registers one handler under the same name for several event types.
func (eb *EventBus) SubscribeMany(eventTypes []EventType, name string, handler HandlerFunc) {
	for _, t := range eventTypes {
		eb.Subscribe(t, name, handler)
	}
}

// Unsubscribe removes a named handler from a specific event type. The
// worker exits once its name has no routes left.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	routes := eb.routes[eventType]
	filtered := routes[:0]
	for _, r := range routes {
		if r.sub.name != name {
			filtered = append(filtered, r)
			continue
		}
		r.sub.routes--
		if r.sub.routes == 0 && !eb.stopped {
			close(r.sub.queue)
			delete(eb.subscribers, name)
		}
	}
	eb.routes[eventType] = filtered
}

// Emit queues an event for every subscriber of its type without blocking.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	for _, r := range eb.routes[event.Type] {
		select {
		case r.sub.queue <- delivery{ctx: ctx, event: event, handler: r.handler}:
		default:
			if n := eb.dropped.Add(1); n == 1 || n%1000 == 0 {
				log.Warn().
					Str("event", string(event.Type)).
					Str("handler", r.sub.name).
					Uint64("dropped", n).
					Msg("subscriber queue full, event dropped")
			}
		}
	}
}

// EmitSync runs every handler of the event type on the calling goroutine
// and returns their errors joined.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	routes := append([]route(nil), eb.routes[event.Type]...)
	eb.mu.RUnlock()

	var errs []error
	for _, r := range routes {
		if err := call(ctx, r.sub.name, r.handler, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (eb *EventBus) work(sub *subscriber) {
	defer eb.wg.Done()
	for d := range sub.queue {
		call(d.ctx, sub.name, d.handler, d.event)
	}
}

func call(ctx context.Context, name string, handler HandlerFunc, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", name, r)
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", name).
			Msg("handler returned error")
	}
	return err
}

// Stop stops accepting events, lets every worker drain its queue and
// waits for them.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for _, sub := range eb.subscribers {
		close(sub.queue)
	}
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Uint64("dropped", eb.dropped.Load()).Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.routes[eventType])
}

// Dropped returns how many deliveries were lost to full subscriber queues.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}
