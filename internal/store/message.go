package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/matheus3301/wppsync/internal/model"
)

// RowError reports a rejected row of a best-effort bulk insert.
type RowError struct {
	Index int
	Err   error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Index, e.Err) }

func (e RowError) Unwrap() error { return e.Err }

// DeleteSessionMessages removes every message of a session.
func (q *Queries) DeleteSessionMessages(ctx context.Context, session string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, session)
	if err != nil {
		return 0, fmt.Errorf("delete session messages: %w", err)
	}
	return res.RowsAffected()
}

// InsertMessages inserts every message as a new row. Each row runs under its
// own savepoint: a constraint violation discards that row only and is
// reported in the returned slice, any other error aborts the call. Must be
// called inside WithTx.
func (q *Queries) InsertMessages(ctx context.Context, session string, msgs []model.Columns) (int, []RowError, error) {
	var (
		inserted int
		rejected []RowError
	)
	for i, m := range msgs {
		if _, err := q.q.ExecContext(ctx, `SAVEPOINT message_row`); err != nil {
			return inserted, rejected, fmt.Errorf("savepoint: %w", err)
		}
		err := q.InsertMessage(ctx, session, m)
		if err != nil {
			if _, rbErr := q.q.ExecContext(ctx, `ROLLBACK TO message_row`); rbErr != nil {
				return inserted, rejected, fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
		}
		if _, relErr := q.q.ExecContext(ctx, `RELEASE message_row`); relErr != nil {
			return inserted, rejected, fmt.Errorf("release savepoint: %w", relErr)
		}
		switch {
		case err == nil:
			inserted++
		case IsConstraint(err):
			rejected = append(rejected, RowError{Index: i, Err: err})
		default:
			return inserted, rejected, err
		}
	}
	return inserted, rejected, nil
}

// InsertMessage inserts one message row. The columns must carry remote_jid
// and id alongside the serialized key.
func (q *Queries) InsertMessage(ctx context.Context, session string, m model.Columns) error {
	query, args, err := messageInsert(session, m, false)
	if err != nil {
		return err
	}
	if _, err := q.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert message %s: %w", m.String(model.ColumnID), err)
	}
	return nil
}

// UpsertMessage creates the message or overwrites the provided columns of
// the existing row.
func (q *Queries) UpsertMessage(ctx context.Context, session string, m model.Columns) error {
	query, args, err := messageInsert(session, m, true)
	if err != nil {
		return err
	}
	if _, err := q.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert message %s: %w", m.String(model.ColumnID), err)
	}
	return nil
}

func messageInsert(session string, m model.Columns, upsert bool) (string, []any, error) {
	if m.String(model.ColumnRemoteJID) == "" || m.String(model.ColumnID) == "" {
		return "", nil, errors.New("message without remote jid or id")
	}
	names, err := sortedColumns(m, messageColumns)
	if err != nil {
		return "", nil, err
	}
	cols := append([]string{"session_id"}, names...)
	args := append([]any{session}, values(m, names)...)
	if upsert {
		return upsertSQL("messages", cols, []string{"session_id", model.ColumnRemoteJID, model.ColumnID}), args, nil
	}
	return insertSQL("messages", cols), args, nil
}

// GetMessage returns the stored columns of one message, including its
// remote_jid and id. NULL columns are omitted.
func (q *Queries) GetMessage(ctx context.Context, session, remoteJID, id string, cols ...string) (model.Columns, error) {
	if len(cols) == 0 {
		cols = append(model.MessageColumns(), model.ColumnRemoteJID, model.ColumnID)
	}
	for _, c := range cols {
		if !messageColumns[c] {
			return nil, fmt.Errorf("unknown column %q", c)
		}
	}
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE session_id = ? AND remote_jid = ? AND id = ?`,
		strings.Join(quoteAll(cols), ", "))
	return scanRow(q.q.QueryRowContext(ctx, query, session, remoteJID, id), cols)
}

// UpdateMessage overwrites the given columns of an existing message.
func (q *Queries) UpdateMessage(ctx context.Context, session, remoteJID, id string, set model.Columns) error {
	names, err := sortedColumns(set, messageColumns)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		_, err := q.GetMessage(ctx, session, remoteJID, id, model.ColumnID)
		return err
	}
	assign := make([]string, len(names))
	for i, n := range names {
		assign[i] = quote(n) + " = ?"
	}
	query := fmt.Sprintf(`UPDATE messages SET %s WHERE session_id = ? AND remote_jid = ? AND id = ?`, strings.Join(assign, ", "))
	res, err := q.q.ExecContext(ctx, query, append(values(set, names), session, remoteJID, id)...)
	if err != nil {
		return fmt.Errorf("update message %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage removes one message by its unique key.
func (q *Queries) DeleteMessage(ctx context.Context, session, remoteJID, id string) error {
	res, err := q.q.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND remote_jid = ? AND id = ?`, session, remoteJID, id)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessagesByChat removes every message of one conversation.
func (q *Queries) DeleteMessagesByChat(ctx context.Context, session, remoteJID string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ? AND remote_jid = ?`, session, remoteJID)
	if err != nil {
		return 0, fmt.Errorf("delete chat messages: %w", err)
	}
	return res.RowsAffected()
}

// DeleteMessagesByID removes the messages of one conversation whose id is
// in ids.
func (q *Queries) DeleteMessagesByID(ctx context.Context, session, remoteJID string, ids []string) (int64, error) {
	var total int64
	for _, part := range chunk(ids, maxInArgs) {
		query := fmt.Sprintf(`DELETE FROM messages WHERE session_id = ? AND remote_jid = ? AND id IN (%s)`, placeholders(len(part)))
		res, err := q.q.ExecContext(ctx, query, append([]any{session, remoteJID}, anySlice(part)...)...)
		if err != nil {
			return total, fmt.Errorf("delete messages: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("delete messages: %w", err)
		}
		total += n
	}
	return total, nil
}

// CountMessages counts the messages of a session, restricted to one
// conversation when remoteJID is not empty.
func (q *Queries) CountMessages(ctx context.Context, session, remoteJID string) (int64, error) {
	query := `SELECT COUNT(*) FROM messages WHERE session_id = ?`
	args := []any{session}
	if remoteJID != "" {
		query += ` AND remote_jid = ?`
		args = append(args, remoteJID)
	}
	var n int64
	if err := q.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// ListMessageIDs returns the ids of a conversation's messages, sorted.
func (q *Queries) ListMessageIDs(ctx context.Context, session, remoteJID string) ([]string, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id FROM messages WHERE session_id = ? AND remote_jid = ?`, session, remoteJID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}
