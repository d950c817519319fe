package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/wppsync/internal/model"
	"github.com/matheus3301/wppsync/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrAllFailed is returned when no record of a chat upsert batch was stored.
	ErrAllFailed = errors.New("every chat upsert failed")
	// ErrPartialFailure is returned under UpsertAll when some records were not stored.
	ErrPartialFailure = errors.New("some chat upserts failed")
)

// ChatHandler keeps the chats of one session consistent with chat events.
type ChatHandler struct {
	listener
	session string
	store   Store
	logger  *zap.Logger
	opts    Options
}

// NewChatHandler creates a chat handler. It does not listen until Listen is
// called.
func NewChatHandler(session string, source Source, st Store, logger *zap.Logger, opts Options) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ChatHandler{
		session: session,
		store:   st,
		logger:  logger.With(zap.String("handler", "chat")),
		opts:    opts.withDefaults(),
	}
	h.listener = listener{
		source: source,
		bindings: []binding{
			bind(h.logger, model.EventHistorySet, h.Set),
			bind(h.logger, model.EventChatsUpsert, h.Upsert),
			bind(h.logger, model.EventChatsUpdate, h.Update),
			bind(h.logger, model.EventChatsDelete, h.Delete),
		},
	}
	return h
}

// Set applies the chats of a history sync. Existing chats are kept as
// stored; only unseen ids are inserted. With IsLatest the session's chats
// are cleared first.
func (h *ChatHandler) Set(ctx context.Context, set model.HistorySet) error {
	var added int
	err := h.store.WithTx(ctx, func(q *store.Queries) error {
		if set.IsLatest {
			if _, err := q.DeleteSessionChats(ctx, h.session); err != nil {
				return err
			}
		}

		ids := make([]string, 0, len(set.Chats))
		for _, c := range set.Chats {
			if c.ID != "" {
				ids = append(ids, c.ID)
			}
		}
		seen, err := q.ExistingChatIDs(ctx, h.session, ids)
		if err != nil {
			return err
		}

		rows := make([]model.Columns, 0, len(ids))
		for _, c := range set.Chats {
			if c.ID == "" || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			rows = append(rows, model.Normalize(c))
		}
		if added, err = q.InsertChats(ctx, h.session, rows); err != nil {
			return err
		}
		return checkpoint(ctx, q, h.session, "chats", added)
	})
	if err != nil {
		return fmt.Errorf("chats set: %w", err)
	}
	h.logger.Info("synced chats",
		zap.String("session", h.session),
		zap.Int("chats_added", added),
		zap.Bool("is_latest", set.IsLatest))
	return nil
}

// Upsert stores every chat of the batch concurrently, creating missing rows
// and overwriting the provided fields of existing ones.
func (h *ChatHandler) Upsert(ctx context.Context, chats []model.Chat) error {
	if len(chats) == 0 {
		return nil
	}

	errs := make([]error, len(chats))
	var wg sync.WaitGroup
	for i, c := range chats {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.ID == "" {
				errs[i] = errors.New("chat without id")
				return
			}
			if err := h.store.Queries().UpsertChat(ctx, h.session, model.Normalize(c)); err != nil {
				h.logger.Error("failed to upsert chat", zap.String("jid", c.ID), zap.Error(err))
				errs[i] = err
			}
		}()
	}
	wg.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	switch {
	case len(failed) == len(chats):
		return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(failed...))
	case len(failed) > 0 && h.opts.ChatUpsert == UpsertAll:
		return fmt.Errorf("%w: %d of %d: %w", ErrPartialFailure, len(failed), len(chats), errors.Join(failed...))
	}
	return nil
}

// NotifyChat creates a chat synthesized for an orphan message.
func (h *ChatHandler) NotifyChat(ctx context.Context, chat model.Chat) error {
	return h.Upsert(ctx, []model.Chat{chat})
}

// Update applies partial patches in order. A positive unread count is
// added to the stored count; zero or negative replaces it. Patches for
// unknown chats are skipped.
func (h *ChatHandler) Update(ctx context.Context, patches []model.Chat) error {
	for _, p := range patches {
		err := h.update(ctx, p)
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.logger.Info("got update for non existent chat", zap.String("jid", p.ID))
		case err != nil:
			h.logger.Error("failed to update chat", zap.String("jid", p.ID), zap.Error(err))
		}
	}
	return nil
}

func (h *ChatHandler) update(ctx context.Context, patch model.Chat) error {
	set := model.Normalize(patch)
	delete(set, model.ColumnID)

	var incr map[string]int64
	if n, ok := set.Int64(model.ColumnUnreadCount); ok && n > 0 {
		delete(set, model.ColumnUnreadCount)
		incr = map[string]int64{model.ColumnUnreadCount: n}
	}
	return h.store.Queries().UpdateChat(ctx, h.session, patch.ID, set, incr)
}

// Delete removes the chats with the given ids.
func (h *ChatHandler) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	scope := ""
	if h.opts.ChatDelete == ChatDeleteSession {
		scope = h.session
	}
	n, err := h.store.Queries().DeleteChats(ctx, scope, ids)
	if err != nil {
		return fmt.Errorf("chats delete: %w", err)
	}
	h.logger.Debug("deleted chats", zap.Int("requested", len(ids)), zap.Int64("deleted", n))
	return nil
}

// checkpoint records when a history sync of kind last completed.
func checkpoint(ctx context.Context, q *store.Queries, session, kind string, count int) error {
	if err := q.SetSyncState(ctx, session, "history."+kind+".last_sync", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return q.SetSyncState(ctx, session, "history."+kind+".last_count", strconv.Itoa(count))
}
