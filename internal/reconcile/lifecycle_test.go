package reconcile

import (
	"context"
	"testing"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/model"
	"go.uber.org/zap"
)

var allKinds = []string{
	model.EventHistorySet,
	model.EventChatsUpsert,
	model.EventChatsUpdate,
	model.EventChatsDelete,
	model.EventMessagesUpsert,
	model.EventMessagesUpdate,
	model.EventMessagesDelete,
	model.EventReceiptUpdate,
	model.EventMessagesReaction,
}

func TestListenIsIdempotent(t *testing.T) {
	b := bus.New()
	h := NewChatHandler(testSession, b, testDB(t), zap.NewNop(), Options{})

	if h.Listening() {
		t.Fatal("new handler should not be listening")
	}
	h.Listen()
	h.Listen()
	if !h.Listening() {
		t.Fatal("handler should be listening")
	}
	for _, kind := range []string{model.EventHistorySet, model.EventChatsUpsert, model.EventChatsUpdate, model.EventChatsDelete} {
		if n := b.Handlers(kind); n != 1 {
			t.Errorf("%s: %d registrations, want 1", kind, n)
		}
	}

	h.Unlisten()
	h.Unlisten()
	if h.Listening() {
		t.Error("handler should not be listening")
	}
	if n := b.Handlers(model.EventChatsUpsert); n != 0 {
		t.Errorf("%d registrations after unlisten, want 0", n)
	}
}

func TestSetLifecycle(t *testing.T) {
	b := bus.New()
	s := New(testSession, b, testDB(t), zap.NewNop(), Options{})

	s.Listen()
	s.Listen()
	if !s.Listening() {
		t.Fatal("set should be listening")
	}
	want := map[string]int{model.EventHistorySet: 2}
	for _, kind := range allKinds {
		n := want[kind]
		if n == 0 {
			n = 1
		}
		if got := b.Handlers(kind); got != n {
			t.Errorf("%s: %d registrations, want %d", kind, got, n)
		}
	}

	s.Unlisten()
	for _, kind := range allKinds {
		if got := b.Handlers(kind); got != 0 {
			t.Errorf("%s: %d registrations after unlisten, want 0", kind, got)
		}
	}
}

type panickingSource struct {
	calls int
	offs  int
}

func (s *panickingSource) On(string, bus.Handler) func() {
	s.calls++
	if s.calls == 3 {
		panic("source failure")
	}
	return func() { s.offs++ }
}

func TestListenRollsBackOnPanic(t *testing.T) {
	src := &panickingSource{}
	h := NewChatHandler(testSession, src, testDB(t), zap.NewNop(), Options{})

	func() {
		defer func() { _ = recover() }()
		h.Listen()
	}()

	if h.Listening() {
		t.Error("handler should not be listening after a failed registration")
	}
	if src.offs != 2 {
		t.Errorf("rolled back %d registrations, want 2", src.offs)
	}
}

func TestBridgeThroughBus(t *testing.T) {
	b := bus.New()
	db := testDB(t)
	s := New(testSession, b, db, zap.NewNop(), Options{})
	s.Listen()
	ctx := context.Background()

	m := model.Message{
		Key:              &model.MessageKey{RemoteJID: "a@s.whatsapp.net", ID: "m1"},
		MessageTimestamp: model.NewLong(42),
	}
	b.Emit(ctx, bus.Event{Kind: model.EventMessagesUpsert, Payload: model.MessagesUpsert{Type: model.UpsertNotify, Messages: []model.Message{m}}})

	cols, err := db.Queries().GetChat(ctx, testSession, "a@s.whatsapp.net")
	if err != nil {
		t.Fatalf("chat not created: %v", err)
	}
	if n, _ := cols.Int64(model.ColumnUnreadCount); n != 1 {
		t.Errorf("unread_count = %d, want 1", n)
	}
	if ts, _ := cols.Int64("conversation_timestamp"); ts != 42 {
		t.Errorf("conversation_timestamp = %d, want 42", ts)
	}

	// A second message in the now known chat leaves the chat untouched.
	m.Key.ID = "m2"
	b.Emit(ctx, bus.Event{Kind: model.EventMessagesUpsert, Payload: &model.MessagesUpsert{Type: model.UpsertNotify, Messages: []model.Message{m}}})
	cols, _ = db.Queries().GetChat(ctx, testSession, "a@s.whatsapp.net")
	if n, _ := cols.Int64(model.ColumnUnreadCount); n != 1 {
		t.Errorf("unread_count = %d, want 1", n)
	}
}

func TestBridgeWithoutEmitter(t *testing.T) {
	src := &panickingSource{}
	db := testDB(t)
	s := New(testSession, src, db, zap.NewNop(), Options{})

	err := s.Messages.Upsert(context.Background(), model.MessagesUpsert{
		Type:     model.UpsertNotify,
		Messages: []model.Message{{Key: &model.MessageKey{RemoteJID: "a@s.whatsapp.net", ID: "m1"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := db.Queries().CountChats(context.Background(), testSession, "a@s.whatsapp.net"); n != 1 {
		t.Errorf("chat count = %d, want 1", n)
	}
}

func TestWrongPayloadIsDropped(t *testing.T) {
	b := bus.New()
	db := testDB(t)
	s := New(testSession, b, db, zap.NewNop(), Options{})
	s.Listen()

	b.Emit(context.Background(), bus.Event{Kind: model.EventChatsUpsert, Payload: "not chats"})
	if n, _ := db.Queries().CountChats(context.Background(), testSession); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}
