package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/wppsync/internal/model"
	"github.com/matheus3301/wppsync/internal/store"
	"go.uber.org/zap"
)

// MessageHandler keeps the messages of one session consistent with message
// events, including their receipts and reactions.
type MessageHandler struct {
	listener
	session  string
	store    Store
	notifier ChatNotifier
	logger   *zap.Logger
	opts     Options
}

// NewMessageHandler creates a message handler. Chats for orphan messages
// are created through notifier; a nil notifier disables that.
func NewMessageHandler(session string, source Source, st Store, notifier ChatNotifier, logger *zap.Logger, opts Options) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &MessageHandler{
		session:  session,
		store:    st,
		notifier: notifier,
		logger:   logger.With(zap.String("handler", "message")),
		opts:     opts.withDefaults(),
	}
	h.listener = listener{
		source: source,
		bindings: []binding{
			bind(h.logger, model.EventHistorySet, h.Set),
			bind(h.logger, model.EventMessagesUpsert, h.Upsert),
			bind(h.logger, model.EventMessagesUpdate, h.Update),
			bind(h.logger, model.EventMessagesDelete, h.Delete),
			bind(h.logger, model.EventReceiptUpdate, h.UpdateReceipts),
			bind(h.logger, model.EventMessagesReaction, h.UpdateReactions),
		},
	}
	return h
}

// row builds the storage row of msg stored under remoteJID.
func row(msg model.Message, remoteJID string) (model.Columns, error) {
	if msg.Key == nil || msg.Key.ID == "" || remoteJID == "" {
		return nil, errors.New("message without key")
	}
	cols := model.Normalize(msg)
	cols[model.ColumnRemoteJID] = remoteJID
	cols[model.ColumnID] = msg.Key.ID
	return cols, nil
}

// Set inserts every message of a history sync. With IsLatest the session's
// messages are cleared first. Rows rejected by the store, such as
// duplicates, are logged and skipped.
func (h *MessageHandler) Set(ctx context.Context, set model.HistorySet) error {
	rows := make([]model.Columns, 0, len(set.Messages))
	for _, m := range set.Messages {
		var jid string
		if m.Key != nil {
			jid = m.Key.RemoteJID
		}
		r, err := row(m, jid)
		if err != nil {
			h.logger.Error("skipping history message", zap.Error(err))
			continue
		}
		rows = append(rows, r)
	}

	var (
		added    int
		rejected []store.RowError
	)
	err := h.store.WithTx(ctx, func(q *store.Queries) error {
		if set.IsLatest {
			if _, err := q.DeleteSessionMessages(ctx, h.session); err != nil {
				return err
			}
		}
		var err error
		if added, rejected, err = q.InsertMessages(ctx, h.session, rows); err != nil {
			return err
		}
		return checkpoint(ctx, q, h.session, "messages", added)
	})
	if err != nil {
		return fmt.Errorf("messages set: %w", err)
	}
	for _, re := range rejected {
		r := rows[re.Index]
		h.logger.Error("failed to insert history message",
			zap.String("jid", r.String(model.ColumnRemoteJID)),
			zap.String("msg_id", r.String(model.ColumnID)),
			zap.Bool("constraint", store.IsConstraint(re.Err)),
			zap.Error(re.Err))
	}
	h.logger.Info("synced messages",
		zap.String("session", h.session),
		zap.Int("messages_added", added),
		zap.Int("messages_rejected", len(rejected)),
		zap.Bool("is_latest", set.IsLatest))
	return nil
}

// Upsert stores newly delivered and appended messages. A newly delivered
// message in a conversation with no stored chat creates that chat.
func (h *MessageHandler) Upsert(ctx context.Context, up model.MessagesUpsert) error {
	switch up.Type {
	case model.UpsertNotify, model.UpsertAppend:
	default:
		return nil
	}
	for _, m := range up.Messages {
		if err := h.upsert(ctx, m, up.Type); err != nil {
			h.logger.Error("failed to upsert message", zap.String("msg_id", keyID(m.Key)), zap.Error(err))
		}
	}
	return nil
}

func (h *MessageHandler) upsert(ctx context.Context, m model.Message, typ model.UpsertType) error {
	var jid string
	if m.Key != nil {
		jid = model.NormalizeJID(m.Key.RemoteJID)
	}
	r, err := row(m, jid)
	if err != nil {
		return err
	}
	q := h.store.Queries()
	if err := q.UpsertMessage(ctx, h.session, r); err != nil {
		return err
	}

	n, err := q.CountChats(ctx, h.session, jid)
	if err != nil {
		return err
	}
	if typ == model.UpsertNotify && n == 0 && h.notifier != nil {
		if err := h.notifier.NotifyChat(ctx, orphanChat(jid, m)); err != nil {
			h.logger.Error("failed to create chat for message", zap.String("jid", jid), zap.Error(err))
		}
	}
	return nil
}

// Update applies partial patches in order by replacing each stored message
// with the merge of its stored fields and the patch. The replacement is
// keyed by the merged key, so a patch may move a message.
func (h *MessageHandler) Update(ctx context.Context, updates []model.MessageUpdate) error {
	for _, u := range updates {
		err := h.store.WithTx(ctx, func(q *store.Queries) error {
			return h.update(ctx, q, u)
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.logger.Info("got update for non existent message", zap.String("jid", u.Key.RemoteJID), zap.String("msg_id", u.Key.ID))
		case err != nil:
			h.logger.Error("failed to update message", zap.String("msg_id", u.Key.ID), zap.Error(err))
		}
	}
	return nil
}

func (h *MessageHandler) update(ctx context.Context, q *store.Queries, u model.MessageUpdate) error {
	prev, err := q.GetMessage(ctx, h.session, u.Key.RemoteJID, u.Key.ID)
	if err != nil {
		return err
	}
	merged := prev.Merge(model.Normalize(u.Update))

	remoteJID, id := u.Key.RemoteJID, u.Key.ID
	var key model.MessageKey
	if ok, err := merged.DecodeJSON(model.ColumnKey, &key); err != nil {
		return err
	} else if ok {
		if key.RemoteJID != "" {
			remoteJID = key.RemoteJID
		}
		if key.ID != "" {
			id = key.ID
		}
	}
	merged[model.ColumnRemoteJID] = remoteJID
	merged[model.ColumnID] = id

	if err := q.DeleteMessage(ctx, h.session, u.Key.RemoteJID, u.Key.ID); err != nil {
		return err
	}
	return q.InsertMessage(ctx, h.session, merged)
}

// Delete removes every message of a conversation, or a set of messages.
func (h *MessageHandler) Delete(ctx context.Context, del model.MessagesDelete) error {
	q := h.store.Queries()
	if del.All {
		n, err := q.DeleteMessagesByChat(ctx, h.session, del.JID)
		if err != nil {
			return fmt.Errorf("messages delete: %w", err)
		}
		h.logger.Debug("cleared chat messages", zap.String("jid", del.JID), zap.Int64("deleted", n))
		return nil
	}
	if len(del.Keys) == 0 {
		return nil
	}

	groups := make(map[string][]string)
	var order []string
	for _, k := range del.Keys {
		jid := k.RemoteJID
		if h.opts.MessageDelete == MessageDeleteFirstKey {
			jid = del.Keys[0].RemoteJID
		}
		if _, ok := groups[jid]; !ok {
			order = append(order, jid)
		}
		groups[jid] = append(groups[jid], k.ID)
	}

	var total int64
	for _, jid := range order {
		n, err := q.DeleteMessagesByID(ctx, h.session, jid, groups[jid])
		if err != nil {
			return fmt.Errorf("messages delete: %w", err)
		}
		total += n
	}
	h.logger.Debug("deleted messages", zap.Int("requested", len(del.Keys)), zap.Int64("deleted", total))
	return nil
}

// UpdateReceipts merges receipts into their messages, keeping one entry
// per recipient.
func (h *MessageHandler) UpdateReceipts(ctx context.Context, updates []model.ReceiptUpdate) error {
	for _, u := range updates {
		err := h.mergeColumn(ctx, u.Key, model.ColumnUserReceipt, func(cols model.Columns) (any, error) {
			var receipts []model.UserReceipt
			if _, err := cols.DecodeJSON(model.ColumnUserReceipt, &receipts); err != nil {
				return nil, err
			}
			return mergeReceipt(receipts, u.Receipt), nil
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.logger.Debug("got receipt update for non existent message", zap.String("msg_id", u.Key.ID))
		case err != nil:
			h.logger.Error("failed to update message receipt", zap.String("msg_id", u.Key.ID), zap.Error(err))
		}
	}
	return nil
}

// UpdateReactions merges reactions into their messages, keeping at most
// one per author.
func (h *MessageHandler) UpdateReactions(ctx context.Context, updates []model.ReactionUpdate) error {
	for _, u := range updates {
		err := h.mergeColumn(ctx, u.Key, model.ColumnReactions, func(cols model.Columns) (any, error) {
			var reactions []model.Reaction
			if _, err := cols.DecodeJSON(model.ColumnReactions, &reactions); err != nil {
				return nil, err
			}
			return mergeReaction(reactions, u.Reaction), nil
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.logger.Debug("got reaction update for non existent message", zap.String("msg_id", u.Key.ID))
		case err != nil:
			h.logger.Error("failed to update message reaction", zap.String("msg_id", u.Key.ID), zap.Error(err))
		}
	}
	return nil
}

// mergeColumn reads one JSON column of a message, recomputes it and writes
// it back in a single transaction.
func (h *MessageHandler) mergeColumn(ctx context.Context, key model.MessageKey, col string, merge func(model.Columns) (any, error)) error {
	return h.store.WithTx(ctx, func(q *store.Queries) error {
		cols, err := q.GetMessage(ctx, h.session, key.RemoteJID, key.ID, col)
		if err != nil {
			return err
		}
		next, err := merge(cols)
		if err != nil {
			return err
		}
		encoded, err := model.EncodeJSON(next)
		if err != nil {
			return err
		}
		return q.UpdateMessage(ctx, h.session, key.RemoteJID, key.ID, model.Columns{col: encoded})
	})
}

func keyID(k *model.MessageKey) string {
	if k == nil {
		return ""
	}
	return k.ID
}
