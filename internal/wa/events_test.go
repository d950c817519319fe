package wa

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/model"
	"github.com/matheus3301/wppsync/internal/status"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waSyncAction"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// walkTo transitions the machine through the given states sequentially.
func walkTo(t *testing.T, m *status.Machine, states ...status.State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}

// capture records every event of kind emitted on b.
func capture(b *bus.Bus, kind string) *[]bus.Event {
	var got []bus.Event
	b.On(kind, func(_ context.Context, evt bus.Event) { got = append(got, evt) })
	return &got
}

func single[T any](t *testing.T, got *[]bus.Event) T {
	t.Helper()
	if len(*got) != 1 {
		t.Fatalf("got %d events, want 1", len(*got))
	}
	v, ok := (*got)[0].Payload.(T)
	if !ok {
		t.Fatalf("payload = %T", (*got)[0].Payload)
	}
	return v
}

type lidMap map[string]types.JID

func (m lidMap) ResolveLID(_ context.Context, jid types.JID) types.JID {
	if pn, ok := m[jid.String()]; ok {
		return pn
	}
	return jid
}

func newHandler(resolver LIDResolver) (*bus.Bus, *status.Machine, *EventHandler) {
	b := bus.New()
	m := status.NewMachine(b)
	return b, m, NewEventHandler(b, m, resolver, zap.NewNop())
}

func TestHandleConnectedFromAuthRequired(t *testing.T) {
	b, m, h := newHandler(nil)
	walkTo(t, m, status.AuthRequired)

	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	h.Handle(&events.Connected{})

	if m.Current() != status.Syncing {
		t.Errorf("state = %s, want SYNCING", m.Current())
	}
	select {
	case evt := <-ch:
		if evt.Kind != "sync.connected" {
			t.Errorf("event kind = %q, want sync.connected", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sync.connected event")
	}
}

func TestHandleConnectedFromReconnecting(t *testing.T) {
	_, m, h := newHandler(nil)
	walkTo(t, m, status.Connecting, status.Syncing, status.Reconnecting)

	h.Handle(&events.Connected{})

	if m.Current() != status.Syncing {
		t.Errorf("state = %s, want SYNCING (reconnect path)", m.Current())
	}
}

func TestHandleDisconnected(t *testing.T) {
	b, m, h := newHandler(nil)
	walkTo(t, m, status.Connecting, status.Syncing, status.Ready)

	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	h.Handle(&events.Disconnected{})

	if m.Current() != status.Reconnecting {
		t.Errorf("state = %s, want RECONNECTING", m.Current())
	}
	select {
	case evt := <-ch:
		if evt.Kind != "sync.disconnected" {
			t.Errorf("event kind = %q, want sync.disconnected", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sync.disconnected event")
	}
}

func TestHandleLoggedOut(t *testing.T) {
	_, m, h := newHandler(nil)
	walkTo(t, m, status.Connecting, status.Syncing, status.Ready)

	h.Handle(&events.LoggedOut{})

	if m.Current() != status.AuthRequired {
		t.Errorf("state = %s, want AUTH_REQUIRED", m.Current())
	}
}

func TestHandleMessageEmitsNotifyUpsert(t *testing.T) {
	b, m, h := newHandler(nil)
	walkTo(t, m, status.Connecting, status.Syncing)
	got := capture(b, model.EventMessagesUpsert)

	ts := time.Unix(1700000000, 0)
	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID:        "m1",
			Timestamp: ts,
			PushName:  "Ana",
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("5511999", types.DefaultUserServer),
				Sender: types.JID{User: "5511999", Device: 3, Server: types.DefaultUserServer},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hello")},
	})

	if m.Current() != status.Ready {
		t.Errorf("state = %s, want READY (first message after sync)", m.Current())
	}
	up := single[model.MessagesUpsert](t, got)
	if up.Type != model.UpsertNotify || len(up.Messages) != 1 {
		t.Fatalf("upsert = %+v", up)
	}
	msg := up.Messages[0]
	if msg.Key.RemoteJID != "5511999@s.whatsapp.net" || msg.Key.ID != "m1" {
		t.Errorf("key = %+v", msg.Key)
	}
	if msg.MessageTimestamp.Int64() != ts.Unix() {
		t.Errorf("timestamp = %d, want %d", msg.MessageTimestamp.Int64(), ts.Unix())
	}
	if msg.PushName == nil || *msg.PushName != "Ana" {
		t.Errorf("push name = %v", msg.PushName)
	}
	if string(msg.Message) != `{"conversation":"hello"}` {
		t.Errorf("message = %s", msg.Message)
	}
}

func TestHandleMessageWhileReady(t *testing.T) {
	_, m, h := newHandler(nil)
	walkTo(t, m, status.Connecting, status.Syncing, status.Ready)

	h.Handle(&events.Message{
		Info:    types.MessageInfo{ID: "m1", MessageSource: types.MessageSource{Chat: types.NewJID("1", types.DefaultUserServer)}},
		Message: &waE2E.Message{Conversation: proto.String("x")},
	})

	if m.Current() != status.Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
}

func TestLiveMessageResolvesLID(t *testing.T) {
	pn := types.NewJID("558592403672", types.DefaultUserServer)
	b, _, h := newHandler(lidMap{"3917077286968@lid": pn})
	got := capture(b, model.EventMessagesUpsert)

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID:            "m1",
			MessageSource: types.MessageSource{Chat: types.NewJID("3917077286968", types.HiddenUserServer)},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi")},
	})

	up := single[model.MessagesUpsert](t, got)
	if jid := up.Messages[0].Key.RemoteJID; jid != pn.String() {
		t.Errorf("remote jid = %q, want %q", jid, pn.String())
	}
}

func TestGroupMessageCarriesParticipant(t *testing.T) {
	b, _, h := newHandler(nil)
	got := capture(b, model.EventMessagesUpsert)

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID: "g1",
			MessageSource: types.MessageSource{
				Chat:    types.NewJID("120363123456", types.GroupServer),
				Sender:  types.JID{User: "5511", Device: 2, Server: types.DefaultUserServer},
				IsGroup: true,
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi all")},
	})

	msg := single[model.MessagesUpsert](t, got).Messages[0]
	if msg.Key.Participant != "5511@s.whatsapp.net" {
		t.Errorf("key participant = %q", msg.Key.Participant)
	}
	if msg.Participant == nil || *msg.Participant != "5511@s.whatsapp.net" {
		t.Errorf("participant = %v", msg.Participant)
	}
}

func TestReactionMessage(t *testing.T) {
	b, _, h := newHandler(nil)
	reactions := capture(b, model.EventMessagesReaction)
	upserts := capture(b, model.EventMessagesUpsert)

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID:            "r1",
			MessageSource: types.MessageSource{Chat: types.NewJID("5511", types.DefaultUserServer), Sender: types.NewJID("5511", types.DefaultUserServer)},
		},
		Message: &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{
			Key:               &waCommon.MessageKey{ID: proto.String("m1"), FromMe: proto.Bool(true)},
			Text:              proto.String("👍"),
			SenderTimestampMS: proto.Int64(1700000000000),
		}},
	})

	if len(*upserts) != 0 {
		t.Errorf("reaction was also upserted as a message")
	}
	r := single[[]model.ReactionUpdate](t, reactions)
	if len(r) != 1 {
		t.Fatalf("got %d reactions", len(r))
	}
	if r[0].Key.ID != "m1" || !r[0].Key.FromMe || r[0].Key.RemoteJID != "5511@s.whatsapp.net" {
		t.Errorf("target key = %+v", r[0].Key)
	}
	if r[0].Reaction.Text != "👍" || r[0].Reaction.Key == nil || r[0].Reaction.Key.ID != "r1" {
		t.Errorf("reaction = %+v", r[0].Reaction)
	}
}

func TestRevokeAndEdit(t *testing.T) {
	b, _, h := newHandler(nil)
	got := capture(b, model.EventMessagesUpdate)
	chat := types.NewJID("5511", types.DefaultUserServer)
	target := &waCommon.MessageKey{RemoteJID: proto.String(chat.String()), ID: proto.String("m1")}

	h.Handle(&events.Message{
		Info: types.MessageInfo{ID: "p1", Timestamp: time.Unix(100, 0), MessageSource: types.MessageSource{Chat: chat}},
		Message: &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
			Type: waE2E.ProtocolMessage_REVOKE.Enum(),
			Key:  target,
		}},
	})
	h.Handle(&events.Message{
		Info: types.MessageInfo{ID: "p2", MessageSource: types.MessageSource{Chat: chat}},
		Message: &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
			Type:          waE2E.ProtocolMessage_MESSAGE_EDIT.Enum(),
			Key:           target,
			EditedMessage: &waE2E.Message{Conversation: proto.String("edited")},
		}},
	})

	if len(*got) != 2 {
		t.Fatalf("got %d updates, want 2", len(*got))
	}
	revoke := (*got)[0].Payload.([]model.MessageUpdate)[0]
	if revoke.Key.ID != "m1" || revoke.Update.MessageStubType == nil || *revoke.Update.MessageStubType != stubRevoke {
		t.Errorf("revoke = %+v", revoke)
	}
	if revoke.Update.RevokeMessageTimestamp.Int64() != 100 {
		t.Errorf("revoke timestamp = %v", revoke.Update.RevokeMessageTimestamp)
	}
	edit := (*got)[1].Payload.([]model.MessageUpdate)[0]
	if string(edit.Update.Message) != `{"conversation":"edited"}` {
		t.Errorf("edit = %s", edit.Update.Message)
	}
}

func TestReceipt(t *testing.T) {
	b, _, h := newHandler(nil)
	got := capture(b, model.EventReceiptUpdate)

	h.Handle(&events.Receipt{
		MessageSource: types.MessageSource{
			Chat:   types.NewJID("5511", types.DefaultUserServer),
			Sender: types.JID{User: "5511", Device: 1, Server: types.DefaultUserServer},
		},
		MessageIDs: []types.MessageID{"m1", "m2"},
		Timestamp:  time.Unix(200, 0),
		Type:       types.ReceiptTypeRead,
	})
	// Unhandled receipt types are ignored.
	h.Handle(&events.Receipt{Type: types.ReceiptTypeRetry, MessageIDs: []types.MessageID{"m3"}})

	updates := single[[]model.ReceiptUpdate](t, got)
	if len(updates) != 2 {
		t.Fatalf("got %d receipts, want 2", len(updates))
	}
	r := updates[1]
	if r.Key.ID != "m2" || !r.Key.FromMe {
		t.Errorf("key = %+v", r.Key)
	}
	if r.Receipt.UserJID != "5511@s.whatsapp.net" || r.Receipt.ReadTimestamp.Int64() != 200 || r.Receipt.ReceiptTimestamp != nil {
		t.Errorf("receipt = %+v", r.Receipt)
	}
}

func TestChatActions(t *testing.T) {
	b, _, h := newHandler(nil)
	updates := capture(b, model.EventChatsUpdate)
	deletes := capture(b, model.EventChatsDelete)
	clears := capture(b, model.EventMessagesDelete)
	jid := types.JID{User: "5511", Device: 4, Server: types.DefaultUserServer}

	h.Handle(&events.Archive{JID: jid, Action: &waSyncAction.ArchiveChatAction{Archived: proto.Bool(true)}})
	h.Handle(&events.MarkChatAsRead{JID: jid, Action: &waSyncAction.MarkChatAsReadAction{Read: proto.Bool(true)}})
	h.Handle(&events.Mute{JID: jid, Action: &waSyncAction.MuteAction{Muted: proto.Bool(true), MuteEndTimestamp: proto.Int64(999)}})
	h.Handle(&events.DeleteChat{JID: jid})
	h.Handle(&events.ClearChat{JID: jid})

	if len(*updates) != 3 {
		t.Fatalf("got %d chat updates, want 3", len(*updates))
	}
	archived := (*updates)[0].Payload.([]model.Chat)[0]
	if archived.ID != "5511@s.whatsapp.net" || archived.Archived == nil || !*archived.Archived {
		t.Errorf("archive = %+v", archived)
	}
	read := (*updates)[1].Payload.([]model.Chat)[0]
	if read.UnreadCount == nil || *read.UnreadCount != 0 {
		t.Errorf("read unread_count = %v, want 0", read.UnreadCount)
	}
	muted := (*updates)[2].Payload.([]model.Chat)[0]
	if muted.MuteEndTime.Int64() != 999 {
		t.Errorf("mute end = %v", muted.MuteEndTime)
	}

	ids := single[[]string](t, deletes)
	if len(ids) != 1 || ids[0] != "5511@s.whatsapp.net" {
		t.Errorf("deleted ids = %v", ids)
	}
	del := single[model.MessagesDelete](t, clears)
	if !del.All || del.JID != "5511@s.whatsapp.net" {
		t.Errorf("clear = %+v", del)
	}
}

func TestHandleHistorySync(t *testing.T) {
	pn := types.NewJID("558592403672", types.DefaultUserServer)
	b, _, h := newHandler(lidMap{"3917077286968@lid": pn})
	got := capture(b, model.EventHistorySet)

	h.Handle(&events.HistorySync{Data: &waHistorySync.HistorySync{
		SyncType: waHistorySync.HistorySync_INITIAL_BOOTSTRAP.Enum(),
		Conversations: []*waHistorySync.Conversation{
			{
				ID:          proto.String("3917077286968@lid"),
				Name:        proto.String("Ana"),
				UnreadCount: proto.Uint32(2),
				Messages: []*waHistorySync.HistorySyncMsg{
					{Message: &waWeb.WebMessageInfo{
						Key:              &waCommon.MessageKey{RemoteJID: proto.String("3917077286968@lid"), ID: proto.String("m1")},
						MessageTimestamp: proto.Uint64(1700000000),
					}},
					{Message: &waWeb.WebMessageInfo{}},
				},
			},
			{ID: proto.String("5511:7@s.whatsapp.net")},
		},
	}})

	set := single[model.HistorySet](t, got)
	if !set.IsLatest {
		t.Error("initial bootstrap should be latest")
	}
	if len(set.Chats) != 2 || set.Chats[0].ID != pn.String() || set.Chats[1].ID != "5511@s.whatsapp.net" {
		t.Fatalf("chats = %+v", set.Chats)
	}
	if *set.Chats[0].UnreadCount != 2 || *set.Chats[0].Name != "Ana" {
		t.Errorf("chat = %+v", set.Chats[0])
	}
	if len(set.Messages) != 1 {
		t.Fatalf("got %d messages, want 1 (keyless skipped)", len(set.Messages))
	}
	if set.Messages[0].Key.RemoteJID != pn.String() {
		t.Errorf("message remote jid = %q, want %q", set.Messages[0].Key.RemoteJID, pn.String())
	}
}

func TestHistorySyncRecentIsNotLatest(t *testing.T) {
	b, _, h := newHandler(nil)
	got := capture(b, model.EventHistorySet)

	h.Handle(&events.HistorySync{Data: &waHistorySync.HistorySync{
		SyncType:      waHistorySync.HistorySync_RECENT.Enum(),
		Conversations: []*waHistorySync.Conversation{{ID: proto.String("1@s.whatsapp.net")}},
	}})
	// An empty non-authoritative sync carries nothing to apply.
	h.Handle(&events.HistorySync{Data: &waHistorySync.HistorySync{SyncType: waHistorySync.HistorySync_RECENT.Enum()}})
	h.Handle(&events.HistorySync{})

	if set := single[model.HistorySet](t, got); set.IsLatest {
		t.Error("recent sync should not be latest")
	}
}

func TestResolveJIDWithoutResolver(t *testing.T) {
	_, _, h := newHandler(nil)

	tests := []struct {
		input string
		want  string
	}{
		{"558592403672@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:0@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672@c.us", "558592403672@s.whatsapp.net"},
		// LID cannot be resolved without a resolver, stays as-is.
		{"3917077286968@lid", "3917077286968@lid"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := h.resolveJID(tt.input); got != tt.want {
			t.Errorf("resolveJID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestResolveLIDNonLIDPassthrough(t *testing.T) {
	a := &Adapter{}
	regular := types.NewJID("558592403672", types.DefaultUserServer)
	if got := a.ResolveLID(context.Background(), regular); got != regular {
		t.Errorf("ResolveLID(regular) = %v, want %v", got, regular)
	}
	group := types.NewJID("120363123456", types.GroupServer)
	if got := a.ResolveLID(context.Background(), group); got != group {
		t.Errorf("ResolveLID(group) = %v, want %v", got, group)
	}
	// Without a device store the LID is returned unchanged.
	lid := types.NewJID("3917077286968", types.HiddenUserServer)
	if got := a.ResolveLID(context.Background(), lid); got != lid {
		t.Errorf("ResolveLID(lid) = %v, want %v", got, lid)
	}
}
