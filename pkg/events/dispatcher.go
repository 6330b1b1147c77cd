package events

import (
	"context"
	"fmt"
)

// Handler reacts to a single event. A non-nil error aborts dispatch and
// propagates to the emitter.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	types   map[Type]bool
	handler Handler
}

// Dispatcher invokes subscribers synchronously, in registration order.
// There is no isolation between subscribers: the first failing handler stops
// the dispatch and its error is returned to the caller.
//
// Dispatcher is not safe for concurrent subscription; register all handlers
// during startup, before serving requests.
type Dispatcher struct {
	subscriptions []subscription
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a handler for the given event types. With no types
// given the handler receives every event.
func (d *Dispatcher) Subscribe(handler Handler, types ...Type) {
	sub := subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	d.subscriptions = append(d.subscriptions, sub)
}

// Emit delivers the event to all matching subscribers.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) error {
	for _, sub := range d.subscriptions {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		if err := sub.handler(ctx, ev); err != nil {
			return fmt.Errorf("event %s: handler failed: %w", ev.Type, err)
		}
	}
	return nil
}
