package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Columns maps storage column names to storage-ready values: int64, bool,
// string (text and serialized JSON) or []byte (binary blobs). Values read
// back from the store may also be int64 for booleans.
type Columns map[string]any

// Normalize converts a Chat or Message (or a pointer to one) into its
// storage representation. Long values collapse to int64, binary blobs pass
// through, nested structures become serialized JSON. Absent fields produce
// no key, so the result can be merged over an existing row.
func Normalize(entity any) Columns {
	out := Columns{}
	rv := reflect.Indirect(reflect.ValueOf(entity))
	if !rv.IsValid() || rv.Kind() != reflect.Struct {
		return out
	}
	for _, f := range fieldsOf(rv.Type()) {
		if v, ok := storageValue(rv.Field(f.index)); ok {
			out[f.column] = v
		}
	}
	return out
}

// ChatColumns returns the storage columns a Chat normalizes to, sorted.
func ChatColumns() []string { return columnNames(reflect.TypeFor[Chat]()) }

// MessageColumns returns the storage columns a Message normalizes to, sorted.
// The identity columns derived from the key are not included.
func MessageColumns() []string { return columnNames(reflect.TypeFor[Message]()) }

// EncodeJSON serializes v the way Normalize stores nested structures.
func EncodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Merge returns a copy of c with every key of patch overwritten.
func (c Columns) Merge(patch Columns) Columns {
	out := make(Columns, len(c)+len(patch))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// String returns the text value of col, or "" when absent.
func (c Columns) String(col string) string {
	switch v := c[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// Int64 returns the integer value of col and whether it was present.
func (c Columns) Int64(col string) (int64, bool) {
	switch v := c[col].(type) {
	case int64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// DecodeJSON unmarshals the serialized JSON held in col into v. It reports
// false without touching v when the column is absent or empty.
func (c Columns) DecodeJSON(col string, v any) (bool, error) {
	var raw []byte
	switch s := c[col].(type) {
	case string:
		raw = []byte(s)
	case []byte:
		raw = s
	default:
		return false, nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode column %s: %w", col, err)
	}
	return true, nil
}

type columnField struct {
	index  int
	column string
}

var fieldCache sync.Map // reflect.Type -> []columnField

func fieldsOf(t reflect.Type) []columnField {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]columnField)
	}
	var fields []columnField
	for i := 0; i < t.NumField(); i++ {
		col := t.Field(i).Tag.Get("db")
		if col == "" || col == "-" {
			continue
		}
		fields = append(fields, columnField{index: i, column: col})
	}
	fieldCache.Store(t, fields)
	return fields
}

func columnNames(t reflect.Type) []string {
	fields := fieldsOf(t)
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.column)
	}
	sort.Strings(names)
	return names
}

func storageValue(f reflect.Value) (any, bool) {
	switch v := f.Interface().(type) {
	case string:
		return v, v != ""
	case *string:
		if v == nil {
			return nil, false
		}
		return *v, true
	case *bool:
		if v == nil {
			return nil, false
		}
		return *v, true
	case *int64:
		if v == nil {
			return nil, false
		}
		return *v, true
	case *Long:
		if v == nil {
			return nil, false
		}
		return int64(*v), true
	case Bytes:
		if v == nil {
			return nil, false
		}
		return []byte(v), true
	case json.RawMessage:
		if len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, false
		}
		return string(v), true
	}

	switch f.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		if f.IsNil() {
			return nil, false
		}
	}
	s, err := EncodeJSON(f.Interface())
	if err != nil {
		return nil, false
	}
	return s, true
}
