package store

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/matheus3301/wppsync/internal/model"
)

// maxInArgs bounds the number of bound parameters used in a single IN list.
const maxInArgs = 500

var (
	chatColumns    = columnSet(model.ChatColumns())
	messageColumns = columnSet(append(model.MessageColumns(), model.ColumnRemoteJID, model.ColumnID))
)

func columnSet(cols []string) map[string]bool {
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c] = true
	}
	return set
}

// sortedColumns returns the keys of cols in a stable order, rejecting any
// column outside allowed.
func sortedColumns(cols model.Columns, allowed map[string]bool) ([]string, error) {
	names := make([]string, 0, len(cols))
	for name := range cols {
		if !allowed[name] {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func quote(col string) string {
	return `"` + col + `"`
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quote(c)
	}
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// insertSQL builds an INSERT of the given fixed and dynamic columns.
func insertSQL(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(quoteAll(cols), ", "), placeholders(len(cols)))
}

// upsertSQL builds an INSERT that, on conflict with the given key columns,
// overwrites only the provided columns.
func upsertSQL(table string, cols, conflict []string) string {
	var set []string
	for _, c := range cols {
		if slices.Contains(conflict, c) {
			continue
		}
		set = append(set, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
	}
	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	return fmt.Sprintf("%s ON CONFLICT(%s) %s",
		insertSQL(table, cols), strings.Join(quoteAll(conflict), ", "), action)
}

// values returns the values of cols in the order of names.
func values(cols model.Columns, names []string) []any {
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = cols[n]
	}
	return args
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func anySlice[T any](items []T) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}
