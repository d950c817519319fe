package bus

import (
	"context"
	"time"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Handler is a callback registered for one event kind. Handlers run on the
// emitting goroutine and must not block indefinitely.
type Handler func(ctx context.Context, evt Event)
