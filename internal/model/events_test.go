package model

import (
	"errors"
	"testing"
)

func TestDecodeHistorySet(t *testing.T) {
	raw := `{
		"chats": [{"id": "a@s.whatsapp.net", "unreadCount": 2, "conversationTimestamp": {"low": 10, "high": 0}}],
		"contacts": [],
		"messages": [{"key": {"remoteJid": "a@s.whatsapp.net", "fromMe": false, "id": "m1"}, "messageTimestamp": "10"}],
		"isLatest": true
	}`
	v, err := DecodeEvent(EventHistorySet, []byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	set, ok := v.(HistorySet)
	if !ok {
		t.Fatalf("payload type = %T, want HistorySet", v)
	}
	if !set.IsLatest || len(set.Chats) != 1 || len(set.Messages) != 1 {
		t.Fatalf("set = %+v", set)
	}
	if set.Chats[0].ConversationTimestamp.Int64() != 10 {
		t.Errorf("conversationTimestamp = %d, want 10", *set.Chats[0].ConversationTimestamp)
	}
	if set.Messages[0].Key.ID != "m1" || set.Messages[0].MessageTimestamp.Int64() != 10 {
		t.Errorf("message = %+v", set.Messages[0])
	}
}

func TestDecodeMessagesDelete(t *testing.T) {
	v, err := DecodeEvent(EventMessagesDelete, []byte(`{"jid": "a@s.whatsapp.net", "all": true}`))
	if err != nil {
		t.Fatal(err)
	}
	del := v.(MessagesDelete)
	if !del.All || del.JID != "a@s.whatsapp.net" || len(del.Keys) != 0 {
		t.Errorf("delete = %+v", del)
	}

	v, err = DecodeEvent(EventMessagesDelete, []byte(`{"keys": [{"remoteJid": "a@s.whatsapp.net", "id": "m1"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if del := v.(MessagesDelete); del.All || len(del.Keys) != 1 {
		t.Errorf("delete = %+v", del)
	}
}

func TestDecodeReactionAndReceipt(t *testing.T) {
	v, err := DecodeEvent(EventMessagesReaction, []byte(`[{"key":{"remoteJid":"g@g.us","id":"m1"},"reaction":{"key":{"remoteJid":"g@g.us","participant":"p@s.whatsapp.net","id":"r1"},"text":"👍"}}]`))
	if err != nil {
		t.Fatal(err)
	}
	reactions := v.([]ReactionUpdate)
	if len(reactions) != 1 || reactions[0].Reaction.Text != "👍" || reactions[0].Reaction.Key.Participant != "p@s.whatsapp.net" {
		t.Errorf("reactions = %+v", reactions)
	}

	v, err = DecodeEvent(EventReceiptUpdate, []byte(`[{"key":{"remoteJid":"a@s.whatsapp.net","id":"m1"},"receipt":{"userJid":"x","receiptTimestamp":5}}]`))
	if err != nil {
		t.Fatal(err)
	}
	receipts := v.([]ReceiptUpdate)
	if receipts[0].Receipt.UserJID != "x" || receipts[0].Receipt.ReceiptTimestamp.Int64() != 5 {
		t.Errorf("receipts = %+v", receipts)
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := DecodeEvent("contacts.upsert", []byte(`[]`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := DecodeEvent(EventChatsDelete, []byte(`{"not":"a list"}`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{"5511999999999:12@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{"5511999999999@c.us", "5511999999999@s.whatsapp.net"},
		{"120363000000000000@g.us", "120363000000000000@g.us"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeJID(tt.input); got != tt.want {
				t.Errorf("NormalizeJID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
