package reconcile

import "fmt"

// ChatDeleteScope selects which rows chats.delete removes.
type ChatDeleteScope string

const (
	// ChatDeleteGlobal removes matching ids in every session.
	ChatDeleteGlobal ChatDeleteScope = "global"
	// ChatDeleteSession removes matching ids in the handler's session only.
	ChatDeleteSession ChatDeleteScope = "session"
)

// MessageDeleteScope selects how the id-set form of messages.delete picks
// the conversation of each id.
type MessageDeleteScope string

const (
	// MessageDeleteFirstKey scopes every id to the first key's conversation.
	MessageDeleteFirstKey MessageDeleteScope = "first_key"
	// MessageDeletePerKey scopes every id to its own key's conversation.
	MessageDeletePerKey MessageDeleteScope = "per_key"
)

// UpsertPolicy decides when a concurrent chats.upsert batch counts as failed.
type UpsertPolicy string

const (
	// UpsertAny succeeds when at least one record was stored.
	UpsertAny UpsertPolicy = "any"
	// UpsertAll fails when any record was not stored.
	UpsertAll UpsertPolicy = "all"
)

// Options tunes behaviors that differ between deployments.
type Options struct {
	ChatDelete    ChatDeleteScope
	MessageDelete MessageDeleteScope
	ChatUpsert    UpsertPolicy
}

// DefaultOptions returns the options matching the upstream protocol layer.
func DefaultOptions() Options {
	return Options{
		ChatDelete:    ChatDeleteGlobal,
		MessageDelete: MessageDeleteFirstKey,
		ChatUpsert:    UpsertAny,
	}
}

// Validate rejects unknown option values. Empty values are allowed and
// take their defaults.
func (o Options) Validate() error {
	switch o.ChatDelete {
	case "", ChatDeleteGlobal, ChatDeleteSession:
	default:
		return fmt.Errorf("invalid chat delete scope %q", o.ChatDelete)
	}
	switch o.MessageDelete {
	case "", MessageDeleteFirstKey, MessageDeletePerKey:
	default:
		return fmt.Errorf("invalid message delete scope %q", o.MessageDelete)
	}
	switch o.ChatUpsert {
	case "", UpsertAny, UpsertAll:
	default:
		return fmt.Errorf("invalid chat upsert policy %q", o.ChatUpsert)
	}
	return nil
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChatDelete == "" {
		o.ChatDelete = d.ChatDelete
	}
	if o.MessageDelete == "" {
		o.MessageDelete = d.MessageDelete
	}
	if o.ChatUpsert == "" {
		o.ChatUpsert = d.ChatUpsert
	}
	return o
}
