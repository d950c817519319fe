package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Long is a 64-bit integer as produced by the upstream protocol layer.
// It decodes from a JSON number, a numeric string, or a {low, high, unsigned}
// object and always encodes as a plain JSON number.
type Long int64

// NewLong returns a pointer to v as a Long.
func NewLong(v int64) *Long {
	l := Long(v)
	return &l
}

// Int64 returns l as an int64.
func (l Long) Int64() int64 { return int64(l) }

func (l Long) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, int64(l), 10), nil
}

func (l *Long) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("long: %w", err)
		}
		*l = Long(v)
	case '{':
		var parts struct {
			Low      int32 `json:"low"`
			High     int32 `json:"high"`
			Unsigned bool  `json:"unsigned"`
		}
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("long: %w", err)
		}
		*l = Long(int64(parts.High)<<32 | int64(uint32(parts.Low)))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("long: %w", err)
		}
		if v, err := n.Int64(); err == nil {
			*l = Long(v)
			return nil
		}
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("long: %w", err)
		}
		*l = Long(int64(f))
	}
	return nil
}

// Bytes is a binary blob. It decodes from a base64 string or a Node.js
// Buffer object ({"type": "Buffer", "data": [...]}) and encodes as base64.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '{' {
		var buf struct {
			Type string `json:"type"`
			Data []int  `json:"data"`
		}
		if err := json.Unmarshal(data, &buf); err != nil {
			return fmt.Errorf("bytes: %w", err)
		}
		out := make([]byte, len(buf.Data))
		for i, v := range buf.Data {
			out[i] = byte(v)
		}
		*b = out
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("bytes: %w", err)
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("bytes: %w", err)
	}
	*b = out
	return nil
}
