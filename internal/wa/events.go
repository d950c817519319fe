package wa

import (
	"context"
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/model"
	"github.com/matheus3301/wppsync/internal/status"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// LIDResolver maps hidden-user (LID) addresses to phone-number addresses.
type LIDResolver interface {
	ResolveLID(ctx context.Context, jid types.JID) types.JID
}

// EventHandler processes whatsmeow events, drives the state machine and
// emits the translated chat and message events on the bus. It does NOT
// touch the store: the reconcilers listen on the bus independently.
type EventHandler struct {
	bus      *bus.Bus
	machine  *status.Machine
	resolver LIDResolver
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler. resolver may be nil, in
// which case LID addresses are kept as they are.
func NewEventHandler(b *bus.Bus, machine *status.Machine, resolver LIDResolver, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		bus:      b,
		machine:  machine,
		resolver: resolver,
		logger:   logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	ctx := context.Background()
	switch evt := rawEvt.(type) {
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		current := h.machine.Current()
		if current == status.AuthRequired || current == status.Reconnecting {
			_ = h.machine.Transition(status.Connecting)
		}
		_ = h.machine.Transition(status.Syncing)
		h.bus.Publish(bus.Event{Kind: "sync.connected", Timestamp: time.Now()})
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		_ = h.machine.Transition(status.Reconnecting)
		h.bus.Publish(bus.Event{Kind: "sync.disconnected", Timestamp: time.Now()})
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		_ = h.machine.Transition(status.AuthRequired)
		h.bus.Publish(bus.Event{Kind: "session.logged_out", Timestamp: time.Now(), Payload: evt.Reason.String()})

	case *events.HistorySync:
		h.handleHistorySync(ctx, evt)
	case *events.Message:
		h.handleMessage(ctx, evt)
	case *events.Receipt:
		h.handleReceipt(ctx, evt)

	case *events.Archive:
		h.emit(ctx, model.EventChatsUpdate, []model.Chat{{ID: h.resolveJID(evt.JID.String()), Archived: ptr(evt.Action.GetArchived())}})
	case *events.Pin:
		var pinned int64
		if evt.Action.GetPinned() {
			pinned = evt.Timestamp.Unix()
		}
		h.emit(ctx, model.EventChatsUpdate, []model.Chat{{ID: h.resolveJID(evt.JID.String()), Pinned: &pinned}})
	case *events.Mute:
		var end int64
		if evt.Action.GetMuted() {
			end = evt.Action.GetMuteEndTimestamp()
		}
		h.emit(ctx, model.EventChatsUpdate, []model.Chat{{ID: h.resolveJID(evt.JID.String()), MuteEndTime: model.NewLong(end)}})
	case *events.MarkChatAsRead:
		// Read resets the counter; unread marks the chat the way the phone does.
		n := int64(0)
		if !evt.Action.GetRead() {
			n = -1
		}
		h.emit(ctx, model.EventChatsUpdate, []model.Chat{{ID: h.resolveJID(evt.JID.String()), UnreadCount: &n}})
	case *events.DeleteChat:
		h.emit(ctx, model.EventChatsDelete, []string{h.resolveJID(evt.JID.String())})
	case *events.ClearChat:
		h.emit(ctx, model.EventMessagesDelete, model.MessagesDelete{JID: h.resolveJID(evt.JID.String()), All: true})
	case *events.DeleteForMe:
		h.emit(ctx, model.EventMessagesDelete, model.MessagesDelete{Keys: []model.MessageKey{{
			RemoteJID: h.resolveJID(evt.ChatJID.String()),
			FromMe:    evt.IsFromMe,
			ID:        evt.MessageID,
		}}})
	}
}

func (h *EventHandler) emit(ctx context.Context, kind string, payload any) {
	h.bus.Emit(ctx, bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (h *EventHandler) handleHistorySync(ctx context.Context, evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	set := model.HistorySet{IsLatest: data.GetSyncType() == waHistorySync.HistorySync_INITIAL_BOOTSTRAP}
	for _, conv := range data.GetConversations() {
		chat := ParseConversation(conv)
		chat.ID = h.resolveJID(chat.ID)
		if chat.ID == "" {
			continue
		}
		set.Chats = append(set.Chats, chat)

		for _, hm := range conv.GetMessages() {
			info := hm.GetMessage()
			if info == nil || info.GetKey() == nil {
				continue
			}
			msg := ParseWebMessage(info)
			msg.Key.RemoteJID = chat.ID
			if msg.Key.Participant != "" {
				msg.Key.Participant = h.resolveJID(msg.Key.Participant)
			}
			set.Messages = append(set.Messages, msg)
		}
	}

	h.logger.Info("history sync received",
		zap.String("type", data.GetSyncType().String()),
		zap.Int("chats", len(set.Chats)),
		zap.Int("messages", len(set.Messages)))
	if len(set.Chats) == 0 && len(set.Messages) == 0 && !set.IsLatest {
		return
	}
	h.emit(ctx, model.EventHistorySet, set)
}

func (h *EventHandler) handleMessage(ctx context.Context, evt *events.Message) {
	if h.machine.Current() == status.Syncing {
		_ = h.machine.Transition(status.Ready)
	}

	info := evt.Info
	info.Chat = h.resolve(info.Chat).ToNonAD()
	info.Sender = h.resolve(info.Sender).ToNonAD()
	key := liveKey(info)

	if r := evt.Message.GetReactionMessage(); r != nil {
		h.emit(ctx, model.EventMessagesReaction, []model.ReactionUpdate{{
			Key: h.targetKey(r.GetKey(), key),
			Reaction: model.Reaction{
				Key:               &key,
				Text:              r.GetText(),
				GroupingKey:       r.GetGroupingKey(),
				SenderTimestampMs: long(r.GetSenderTimestampMS()),
			},
		}})
		return
	}

	if p := evt.Message.GetProtocolMessage(); p != nil {
		switch p.GetType() {
		case waE2E.ProtocolMessage_REVOKE:
			stub := int64(stubRevoke)
			h.emit(ctx, model.EventMessagesUpdate, []model.MessageUpdate{{
				Key: h.targetKey(p.GetKey(), key),
				Update: model.Message{
					MessageStubType:        &stub,
					RevokeMessageTimestamp: unixTime(info.Timestamp),
				},
			}})
		case waE2E.ProtocolMessage_MESSAGE_EDIT:
			h.emit(ctx, model.EventMessagesUpdate, []model.MessageUpdate{{
				Key:    h.targetKey(p.GetKey(), key),
				Update: model.Message{Message: encodeMessage(p.GetEditedMessage())},
			}})
		}
		return
	}

	parsed := ParseLiveMessage(&events.Message{Info: info, Message: evt.Message})
	h.emit(ctx, model.EventMessagesUpsert, model.MessagesUpsert{
		Type:     model.UpsertNotify,
		Messages: []model.Message{parsed},
	})
}

// targetKey returns the key of the message a reaction or protocol message
// refers to. The conversation defaults to the one the event arrived in.
func (h *EventHandler) targetKey(k *waCommon.MessageKey, carrier model.MessageKey) model.MessageKey {
	target := model.MessageKey{
		RemoteJID:   h.resolveJID(k.GetRemoteJID()),
		FromMe:      k.GetFromMe(),
		ID:          k.GetID(),
		Participant: k.GetParticipant(),
	}
	if target.RemoteJID == "" {
		target.RemoteJID = carrier.RemoteJID
	}
	return target
}

func (h *EventHandler) handleReceipt(ctx context.Context, evt *events.Receipt) {
	var receipt model.UserReceipt
	ts := unixTime(evt.Timestamp)
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		receipt.ReceiptTimestamp = ts
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		receipt.ReadTimestamp = ts
	case types.ReceiptTypePlayed, types.ReceiptTypePlayedSelf:
		receipt.PlayedTimestamp = ts
	default:
		return
	}
	receipt.UserJID = h.resolveJID(evt.Sender.ToNonAD().String())

	chat := h.resolveJID(evt.Chat.String())
	updates := make([]model.ReceiptUpdate, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		updates = append(updates, model.ReceiptUpdate{
			Key:     model.MessageKey{RemoteJID: chat, FromMe: !evt.IsFromMe, ID: id},
			Receipt: receipt,
		})
	}
	if len(updates) > 0 {
		h.emit(ctx, model.EventReceiptUpdate, updates)
	}
}

// resolveJID normalizes an address and maps LID addresses to phone numbers
// when a resolver is available.
func (h *EventHandler) resolveJID(jid string) string {
	if jid == "" {
		return ""
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return jid
	}
	return model.NormalizeJID(h.resolve(parsed).String())
}

func (h *EventHandler) resolve(jid types.JID) types.JID {
	if h.resolver == nil {
		return jid
	}
	return h.resolver.ResolveLID(context.Background(), jid)
}

func ptr[T any](v T) *T { return &v }
