package reconcile

import (
	"context"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/model"
)

// ChatNotifier creates the parent chat of a message whose conversation is
// not stored yet.
type ChatNotifier interface {
	NotifyChat(ctx context.Context, chat model.Chat) error
}

// SourceNotifier publishes the synthesized chat as a chats.upsert event.
// The event is a chat event, so it cannot re-enter the message bridge.
type SourceNotifier struct {
	Source interface {
		Emit(ctx context.Context, evt bus.Event)
	}
}

// NotifyChat emits chats.upsert with the single chat.
func (n SourceNotifier) NotifyChat(ctx context.Context, chat model.Chat) error {
	n.Source.Emit(ctx, bus.Event{Kind: model.EventChatsUpsert, Payload: []model.Chat{chat}})
	return nil
}

// orphanChat is the minimal chat created for a newly notified message.
func orphanChat(jid string, msg model.Message) model.Chat {
	unread := int64(1)
	chat := model.Chat{ID: jid, UnreadCount: &unread}
	if msg.MessageTimestamp != nil {
		ts := *msg.MessageTimestamp
		chat.ConversationTimestamp = &ts
	}
	return chat
}
