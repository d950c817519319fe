package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names of the upstream protocol layer. They are a wire contract and
// must not change.
const (
	EventHistorySet       = "messaging-history.set"
	EventChatsUpsert      = "chats.upsert"
	EventChatsUpdate      = "chats.update"
	EventChatsDelete      = "chats.delete"
	EventMessagesUpsert   = "messages.upsert"
	EventMessagesUpdate   = "messages.update"
	EventMessagesDelete   = "messages.delete"
	EventReceiptUpdate    = "message-receipt.update"
	EventMessagesReaction = "messages.reaction"
)

// HistorySet is a snapshot or replay of historical state. IsLatest marks it
// authoritative: prior rows of the session are cleared before applying it.
type HistorySet struct {
	Chats    []Chat          `json:"chats"`
	Contacts json.RawMessage `json:"contacts,omitempty"`
	Messages []Message       `json:"messages"`
	IsLatest bool            `json:"isLatest"`
}

// UpsertType classifies how a batch of messages reached the client.
type UpsertType string

const (
	UpsertNotify UpsertType = "notify"
	UpsertAppend UpsertType = "append"
)

// MessagesUpsert is the payload of messages.upsert.
type MessagesUpsert struct {
	Messages []Message `json:"messages"`
	Type     UpsertType `json:"type"`
}

// MessageUpdate pairs a message key with a partial patch.
type MessageUpdate struct {
	Key    MessageKey `json:"key"`
	Update Message    `json:"update"`
}

// MessagesDelete is either a set of keys or, with All, every message of JID.
type MessagesDelete struct {
	Keys []MessageKey `json:"keys,omitempty"`
	JID  string       `json:"jid,omitempty"`
	All  bool         `json:"all,omitempty"`
}

// ReceiptUpdate is one entry of message-receipt.update.
type ReceiptUpdate struct {
	Key     MessageKey  `json:"key"`
	Receipt UserReceipt `json:"receipt"`
}

// ReactionUpdate is one entry of messages.reaction.
type ReactionUpdate struct {
	Key      MessageKey `json:"key"`
	Reaction Reaction   `json:"reaction"`
}

// ErrUnknownEvent is returned by DecodeEvent for event names this module
// does not persist.
var ErrUnknownEvent = errors.New("unknown event")

// DecodeEvent decodes the JSON payload of the named event into its Go type.
// The returned value is the payload type itself, not a pointer to it.
func DecodeEvent(name string, data []byte) (any, error) {
	switch name {
	case EventHistorySet:
		return decodeAs[HistorySet](name, data)
	case EventChatsUpsert, EventChatsUpdate:
		return decodeAs[[]Chat](name, data)
	case EventChatsDelete:
		return decodeAs[[]string](name, data)
	case EventMessagesUpsert:
		return decodeAs[MessagesUpsert](name, data)
	case EventMessagesUpdate:
		return decodeAs[[]MessageUpdate](name, data)
	case EventMessagesDelete:
		return decodeAs[MessagesDelete](name, data)
	case EventReceiptUpdate:
		return decodeAs[[]ReceiptUpdate](name, data)
	case EventMessagesReaction:
		return decodeAs[[]ReactionUpdate](name, data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

func decodeAs[T any](name string, data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, nil
}
