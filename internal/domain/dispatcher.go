package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/pkg/logger"
)

// LifecycleHandler reacts to one approval request lifecycle event.
type LifecycleHandler func(ctx context.Context, event *DomainEvent) error

// EventDispatcher fans request lifecycle events out to their subscribers in
// subscription order. Dispatch runs on the caller goroutine.
type EventDispatcher struct {
	mu   sync.RWMutex
	subs map[EventType][]LifecycleHandler
}

func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{subs: make(map[EventType][]LifecycleHandler)}
}

// Subscribe adds h for every listed event type.
func (d *EventDispatcher) Subscribe(h LifecycleHandler, types ...EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range types {
		d.subs[t] = append(d.subs[t], h)
	}
}

// Subscribed reports whether anything listens for t.
func (d *EventDispatcher) Subscribed(t EventType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[t]) > 0
}

// Dispatch delivers event to each subscriber. A failing subscriber does not
// stop the rest; the failures come back joined. Delivery stops early only
// when ctx is done.
func (d *EventDispatcher) Dispatch(ctx context.Context, event *DomainEvent) error {
	d.mu.RLock()
	subs := d.subs[event.EventType]
	d.mu.RUnlock()

	if len(subs) == 0 {
		logger.Debug("Lifecycle event has no subscribers",
			zap.String("event_type", string(event.EventType)),
			zap.String("request_id", event.AggregateID),
		)
		return nil
	}

	var errs []error
	for i, h := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s for request %s: %d of %d subscribers skipped: %w",
				event.EventType, event.AggregateID, len(subs)-i, len(subs), err))
			break
		}
		if err := h(ctx, event); err != nil {
			logger.Error("Lifecycle subscriber failed",
				zap.String("event_type", string(event.EventType)),
				zap.String("event_id", event.EventID),
				zap.String("request_id", event.AggregateID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s for request %s: %w", event.EventType, event.AggregateID, err))
		}
	}
	return errors.Join(errs...)
}
