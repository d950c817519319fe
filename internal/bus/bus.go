package bus

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus is an in-process event bus. It offers two delivery modes:
// callbacks registered with On for an exact event kind, run in emission
// order, and buffered channel subscriptions with namespace filtering for
// observers that may lag behind.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]*subscription
	handlers map[string]map[int]Handler
	next     int

	// dispatch serializes callback delivery across emitters.
	dispatch sync.Mutex
}

type subscription struct {
	namespace string
	ch        chan Event
}

type dispatchKey struct{}

// queue holds events emitted by handlers while a dispatch is in progress.
type queue struct {
	mu     sync.Mutex
	events []Event
	done   bool
}

func (q *queue) push(evt Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done {
		return false
	}
	q.events = append(q.events, evt)
	return true
}

func (q *queue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		q.done = true
		return Event{}, false
	}
	evt := q.events[0]
	q.events = q.events[1:]
	return evt, true
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs:     make(map[int]*subscription),
		handlers: make(map[string]map[int]Handler),
	}
}

// On registers h for events of exactly the given kind and returns a
// function that removes the registration. The returned function is safe to
// call more than once.
func (b *Bus) On(kind string, h Handler) (off func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[int]Handler)
	}
	b.handlers[kind][id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[kind], id)
			if len(b.handlers[kind]) == 0 {
				delete(b.handlers, kind)
			}
			b.mu.Unlock()
		})
	}
}

// Handlers returns the number of callbacks registered for kind.
func (b *Bus) Handlers(kind string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Emit delivers evt to every callback registered for its kind, then
// publishes it to matching subscribers. Emit returns once evt has been
// handled. An Emit issued from inside a handler is queued and delivered
// after the current event, before the outer Emit returns, so handlers
// never nest.
func (b *Bus) Emit(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if q, ok := ctx.Value(dispatchKey{}).(*queue); ok && q.push(evt) {
		return
	}

	b.dispatch.Lock()
	defer b.dispatch.Unlock()

	q := &queue{events: []Event{evt}}
	dctx := context.WithValue(ctx, dispatchKey{}, q)
	for {
		next, ok := q.pop()
		if !ok {
			return
		}
		b.deliver(dctx, next)
	}
}

func (b *Bus) deliver(ctx context.Context, evt Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers[evt.Kind]))
	for id := range b.handlers[evt.Kind] {
		ids = append(ids, id)
	}
	hs := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		hs = append(hs, b.handlers[evt.Kind][id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ctx, evt)
	}
	b.Publish(evt)
}

// Publish sends an event to all subscribers whose namespace is a prefix of event.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
