package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/store"
	"go.uber.org/zap"
)

// Source is the event source handlers attach to.
type Source interface {
	On(kind string, h bus.Handler) (off func())
}

// Store is the transactional store the handlers write to.
type Store interface {
	Queries() *store.Queries
	WithTx(ctx context.Context, fn func(q *store.Queries) error) error
}

type binding struct {
	kind string
	fn   bus.Handler
}

// listener attaches a fixed set of bindings to a source.
type listener struct {
	mu       sync.Mutex
	source   Source
	bindings []binding
	offs     []func()
}

// Listen registers every handler on the source. It is a no-op when already
// listening.
func (l *listener) Listen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offs != nil {
		return
	}

	offs := make([]func(), 0, len(l.bindings))
	defer func() {
		// A panicking source must not leave a partial registration behind.
		if len(offs) != len(l.bindings) {
			for _, off := range offs {
				off()
			}
		}
	}()
	for _, b := range l.bindings {
		offs = append(offs, l.source.On(b.kind, b.fn))
	}
	l.offs = offs
}

// Unlisten removes the registrations made by Listen. It is a no-op when
// not listening. Handlers already running are not interrupted.
func (l *listener) Unlisten() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, off := range l.offs {
		off()
	}
	l.offs = nil
}

// Listening reports whether the handlers are registered.
func (l *listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offs != nil
}

// bind adapts an operation to a bus handler. The payload may be a T or a
// *T. Errors end at this boundary: they are logged and never reach the
// source.
func bind[T any](logger *zap.Logger, kind string, op func(context.Context, T) error) binding {
	return binding{
		kind: kind,
		fn: func(ctx context.Context, evt bus.Event) {
			payload, err := payloadOf[T](evt)
			if err != nil {
				logger.Error("dropping event", zap.String("event", evt.Kind), zap.Error(err))
				return
			}
			if err := op(ctx, payload); err != nil {
				logger.Error("event handling failed", zap.String("event", evt.Kind), zap.String("event_id", evt.ID), zap.Error(err))
			}
		},
	}
}

func payloadOf[T any](evt bus.Event) (T, error) {
	switch p := evt.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unexpected payload %T", evt.Payload)
}

// Set is the chat and message handler pair of one session.
type Set struct {
	Chats    *ChatHandler
	Messages *MessageHandler
}

// Emitter is a source that can also publish events.
type Emitter interface {
	Source
	Emit(ctx context.Context, evt bus.Event)
}

// New builds both handlers of a session on one source. When the source can
// emit, chats synthesized for orphan messages are re-published as
// chats.upsert so every listener sees them; otherwise they go straight to
// the chat handler.
func New(session string, source Source, st Store, logger *zap.Logger, opts Options) *Set {
	chats := NewChatHandler(session, source, st, logger, opts)
	var notifier ChatNotifier = chats
	if em, ok := source.(Emitter); ok {
		notifier = SourceNotifier{Source: em}
	}
	return &Set{
		Chats:    chats,
		Messages: NewMessageHandler(session, source, st, notifier, logger, opts),
	}
}

// Listen attaches both handlers.
func (s *Set) Listen() {
	s.Chats.Listen()
	s.Messages.Listen()
}

// Unlisten detaches both handlers.
func (s *Set) Unlisten() {
	s.Messages.Unlisten()
	s.Chats.Unlisten()
}

// Listening reports whether both handlers are attached.
func (s *Set) Listening() bool {
	return s.Chats.Listening() && s.Messages.Listening()
}
