package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/matheus3301/wppsync/internal/model"
)

// DeleteSessionChats removes every chat of a session.
func (q *Queries) DeleteSessionChats(ctx context.Context, session string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM chats WHERE session_id = ?`, session)
	if err != nil {
		return 0, fmt.Errorf("delete session chats: %w", err)
	}
	return res.RowsAffected()
}

// ExistingChatIDs returns the subset of ids that already have a chat row in
// the session.
func (q *Queries) ExistingChatIDs(ctx context.Context, session string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for _, part := range chunk(ids, maxInArgs) {
		query := fmt.Sprintf(`SELECT id FROM chats WHERE session_id = ? AND id IN (%s)`, placeholders(len(part)))
		args := append([]any{session}, anySlice(part)...)

		rows, err := q.q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("existing chat ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			found[id] = true
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return found, nil
}

// InsertChats inserts every chat as a new row. Any failure aborts the call.
func (q *Queries) InsertChats(ctx context.Context, session string, chats []model.Columns) (int, error) {
	for i, c := range chats {
		query, args, err := chatInsert(session, c, false)
		if err != nil {
			return i, err
		}
		if _, err := q.q.ExecContext(ctx, query, args...); err != nil {
			return i, fmt.Errorf("insert chat %s: %w", c.String(model.ColumnID), err)
		}
	}
	return len(chats), nil
}

// UpsertChat creates the chat or overwrites the provided columns of the
// existing row.
func (q *Queries) UpsertChat(ctx context.Context, session string, c model.Columns) error {
	query, args, err := chatInsert(session, c, true)
	if err != nil {
		return err
	}
	if _, err := q.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert chat %s: %w", c.String(model.ColumnID), err)
	}
	return nil
}

func chatInsert(session string, c model.Columns, upsert bool) (string, []any, error) {
	if c.String(model.ColumnID) == "" {
		return "", nil, errors.New("chat without id")
	}
	names, err := sortedColumns(c, chatColumns)
	if err != nil {
		return "", nil, err
	}
	cols := append([]string{"session_id"}, names...)
	args := append([]any{session}, values(c, names)...)
	if upsert {
		return upsertSQL("chats", cols, []string{"session_id", model.ColumnID}), args, nil
	}
	return insertSQL("chats", cols), args, nil
}

// UpdateChat applies a partial patch to an existing chat. Columns in set are
// overwritten; columns in incr are added to the stored value, NULL counting
// as zero. Returns ErrNotFound when the chat does not exist.
func (q *Queries) UpdateChat(ctx context.Context, session, id string, set model.Columns, incr map[string]int64) error {
	names, err := sortedColumns(set, chatColumns)
	if err != nil {
		return err
	}

	var (
		assign []string
		args   []any
	)
	for _, n := range names {
		if n == model.ColumnID {
			continue
		}
		assign = append(assign, quote(n)+" = ?")
		args = append(args, set[n])
	}

	incrNames := make([]string, 0, len(incr))
	for n := range incr {
		if !chatColumns[n] {
			return fmt.Errorf("unknown column %q", n)
		}
		incrNames = append(incrNames, n)
	}
	sort.Strings(incrNames)
	for _, n := range incrNames {
		assign = append(assign, fmt.Sprintf("%s = COALESCE(%s, 0) + ?", quote(n), quote(n)))
		args = append(args, incr[n])
	}

	if len(assign) == 0 {
		_, err := q.GetChat(ctx, session, id)
		return err
	}

	query := fmt.Sprintf(`UPDATE chats SET %s WHERE session_id = ? AND id = ?`, strings.Join(assign, ", "))
	res, err := q.q.ExecContext(ctx, query, append(args, session, id)...)
	if err != nil {
		return fmt.Errorf("update chat %s: %w", id, err)
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

// DeleteChats removes the chats with the given ids. An empty session
// matches the ids in every session.
func (q *Queries) DeleteChats(ctx context.Context, session string, ids []string) (int64, error) {
	var total int64
	for _, part := range chunk(ids, maxInArgs) {
		query := fmt.Sprintf(`DELETE FROM chats WHERE id IN (%s)`, placeholders(len(part)))
		args := anySlice(part)
		if session != "" {
			query += ` AND session_id = ?`
			args = append(args, session)
		}
		res, err := q.q.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("delete chats: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("delete chats: %w", err)
		}
		total += n
	}
	return total, nil
}

// CountChats counts the chats of a session, restricted to ids when given.
func (q *Queries) CountChats(ctx context.Context, session string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		var n int64
		err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE session_id = ?`, session).Scan(&n)
		return n, err
	}
	var total int64
	for _, part := range chunk(ids, maxInArgs) {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM chats WHERE session_id = ? AND id IN (%s)`, placeholders(len(part)))
		var n int64
		if err := q.q.QueryRowContext(ctx, query, append([]any{session}, anySlice(part)...)...).Scan(&n); err != nil {
			return 0, fmt.Errorf("count chats: %w", err)
		}
		total += n
	}
	return total, nil
}

// GetChat returns the stored columns of one chat. NULL columns are omitted.
func (q *Queries) GetChat(ctx context.Context, session, id string, cols ...string) (model.Columns, error) {
	if len(cols) == 0 {
		cols = model.ChatColumns()
	}
	for _, c := range cols {
		if !chatColumns[c] {
			return nil, fmt.Errorf("unknown column %q", c)
		}
	}
	query := fmt.Sprintf(`SELECT %s FROM chats WHERE session_id = ? AND id = ?`, strings.Join(quoteAll(cols), ", "))
	return scanRow(q.q.QueryRowContext(ctx, query, session, id), cols)
}

// ListChatIDs returns the ids of every chat in the session, sorted.
func (q *Queries) ListChatIDs(ctx context.Context, session string) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id FROM chats WHERE session_id = ? ORDER BY id`, session)
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
	return ids, rows.Err()
}

// scanRow reads a single row into Columns, skipping NULL values.
func scanRow(row *sql.Row, cols []string) (model.Columns, error) {
	dest := make([]any, len(cols))
	for i := range dest {
		dest[i] = new(any)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := make(model.Columns, len(cols))
	for i, c := range cols {
		v := *(dest[i].(*any))
		if v == nil {
			continue
		}
		out[c] = v
	}
	return out, nil
}
