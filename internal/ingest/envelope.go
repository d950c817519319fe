package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is one event forwarded by a remote protocol gateway.
type Envelope struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// ErrPoison marks content that can never be applied. Poison deliveries are
// acknowledged and dropped rather than requeued.
var ErrPoison = errors.New("poison message")

// DecodeEnvelope parses body into an envelope. Malformed bodies and
// envelopes without an event name are poison.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrPoison, err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("%w: missing event name", ErrPoison)
	}
	return env, nil
}
