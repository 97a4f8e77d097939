// Package pubsub provides a generic publish/subscribe event system used to
// stream store events and log entries to asynchronous consumers.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	CreatedEvent   EventType = "created"
	UpdatedEvent   EventType = "updated"
	DeletedEvent   EventType = "deleted"
	ChangedEvent   EventType = "changed"
	CommittedEvent EventType = "commit"
	ResetEvent     EventType = "reset"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T) int
}

// Collect reads events from ch until n events have arrived, the channel
// closes, or ctx is done. It returns what was received.
func Collect[T any](ctx context.Context, ch <-chan Event[T], n int) []Event[T] {
	out := make([]Event[T], 0, n)
	for len(out) < n {
		select {
		case <-ctx.Done():
			return out
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		}
	}
	return out
}
