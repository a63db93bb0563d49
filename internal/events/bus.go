package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/metrics"
)

// DefaultBusBuffer is the number of events the bus holds before Emit drops.
const DefaultBusBuffer = 1024

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus fans lobby events out to subscribers. Events are delivered one
// at a time, in emission order, on a single dispatcher goroutine so that
// consumers such as the history store see them as the connection produced
// them. Emit never blocks the network loop.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	pending  chan Event
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a bus holding up to buffer undelivered events.
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = DefaultBusBuffer
	}
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		pending:  make(chan Event, buffer),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the dispatcher. It returns when ctx is done or Stop is called.
func (eb *EventBus) Start(ctx context.Context) {
	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-eb.stopCh:
				eb.drain(ctx)
				return
			case ev := <-eb.pending:
				eb.dispatch(ctx, ev)
			}
		}
	}()
}

func (eb *EventBus) drain(ctx context.Context) {
	for {
		select {
		case ev := <-eb.pending:
			eb.dispatch(ctx, ev)
		default:
			return
		}
	}
}

// Subscribe registers a handler function for a specific event type, or for
// every type with EventAny. The name is used for logging and Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// Emit queues an event for delivery. When the buffer is full the event is
// dropped and a warning logged.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}
	metrics.EventsTotal.WithLabelValues(string(event.Type)).Inc()

	select {
	case eb.pending <- event:
	default:
		log.Warn().
			Str("event", string(event.Type)).
			Str("source", event.Source).
			Msg("event bus full, dropping event")
	}
}

// EmitSync delivers an event on the caller's goroutine and returns the
// first handler error, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	stopped := eb.stopped
	eb.mu.RUnlock()
	if stopped {
		return nil
	}
	return eb.dispatch(ctx, event)
}

func (eb *EventBus) handlersFor(t EventType) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	specific := eb.handlers[t]
	wildcard := eb.handlers[EventAny]
	out := make([]handlerEntry, 0, len(specific)+len(wildcard))
	out = append(out, specific...)
	return append(out, wildcard...)
}

func (eb *EventBus) dispatch(ctx context.Context, event Event) error {
	handlers := eb.handlersFor(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("dispatching event")

	var firstErr error
	for _, h := range handlers {
		if err := eb.call(ctx, h, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (eb *EventBus) call(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop stops accepting events, delivers what is already queued and waits
// for the dispatcher to exit.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
