/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Handler processes one event of type T.
type Handler[T Event] func(ctx context.Context, event T) error

// Publisher is the publishing side of the bus, as used by credential tasks.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type subscription struct {
	id      uint64
	deliver func(ctx context.Context, event Event) error
}

// EventBus delivers credential lifecycle events to the handlers subscribed to
// their type. It is safe for concurrent use.
type EventBus struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[string][]subscription
	logger logr.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(logger logr.Logger) *EventBus {
	return &EventBus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers handler for events of type T. The returned function
// removes it again; calling it more than once is harmless.
func Subscribe[T Event](bus *EventBus, handler Handler[T]) (cancel func()) {
	var zero T
	eventType := zero.Type()

	deliver := func(ctx context.Context, event Event) error {
		e, ok := event.(T)
		if !ok {
			return fmt.Errorf("event %s has type %T, handler expects %T", eventType, event, zero)
		}
		return handler(ctx, e)
	}

	bus.mu.Lock()
	bus.next++
	id := bus.next
	bus.subs[eventType] = append(bus.subs[eventType], subscription{id: id, deliver: deliver})
	bus.mu.Unlock()

	return func() { bus.remove(eventType, id) }
}

func (b *EventBus) remove(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// Copy so a Publish iterating the old slice is unaffected.
		rest := make([]subscription, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(b.subs, eventType)
		} else {
			b.subs[eventType] = rest
		}
		return
	}
}

// Publish calls every handler subscribed to the event's type, in subscription
// order. A failing handler does not stop the others; their errors are joined.
func (b *EventBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := b.subs[event.Type()]
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	log := b.logger.WithValues("type", event.Type(), "id", event.ID())
	log.V(2).Info("publishing event", "handlers", len(subs))

	var errs []error
	for _, s := range subs {
		if err := s.deliver(ctx, event); err != nil {
			log.Error(err, "event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
