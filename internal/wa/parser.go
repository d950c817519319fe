package wa

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/matheus3301/wppsync/internal/model"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/encoding/protojson"
)

// Stub type written on revoked messages (WebMessageInfo REVOKE).
const stubRevoke = 1

// set returns a pointer to v, or nil when v is the zero value, so unset
// protobuf fields stay absent from the translated record.
func set[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

func long[T int64 | uint64 | int32 | uint32](v T) *model.Long {
	if v == 0 {
		return nil
	}
	return model.NewLong(int64(v))
}

func count[T int32 | uint32 | int64](v T) *int64 {
	if v == 0 {
		return nil
	}
	n := int64(v)
	return &n
}

func unixTime(t time.Time) *model.Long {
	if t.IsZero() {
		return nil
	}
	return model.NewLong(t.Unix())
}

// ParseConversation translates a history sync conversation into a chat.
func ParseConversation(conv *waHistorySync.Conversation) model.Chat {
	return model.Chat{
		ID:                        conv.GetID(),
		NewJID:                    set(conv.GetNewJID()),
		OldJID:                    set(conv.GetOldJID()),
		LastMsgTimestamp:          long(conv.GetLastMsgTimestamp()),
		UnreadCount:               count(conv.GetUnreadCount()),
		ReadOnly:                  set(conv.GetReadOnly()),
		EndOfHistoryTransfer:      set(conv.GetEndOfHistoryTransfer()),
		EphemeralExpiration:       count(conv.GetEphemeralExpiration()),
		EphemeralSettingTimestamp: long(conv.GetEphemeralSettingTimestamp()),
		ConversationTimestamp:     long(conv.GetConversationTimestamp()),
		Name:                      set(conv.GetName()),
		PHash:                     set(conv.GetPHash()),
		NotSpam:                   set(conv.GetNotSpam()),
		Archived:                  set(conv.GetArchived()),
		UnreadMentionCount:        count(conv.GetUnreadMentionCount()),
		MarkedAsUnread:            set(conv.GetMarkedAsUnread()),
		TcToken:                   conv.GetTcToken(),
		TcTokenTimestamp:          long(conv.GetTcTokenTimestamp()),
		Pinned:                    count(conv.GetPinned()),
		MuteEndTime:               long(conv.GetMuteEndTime()),
		Suspended:                 set(conv.GetSuspended()),
		Terminated:                set(conv.GetTerminated()),
		CreatedAt:                 long(conv.GetCreatedAt()),
		CreatedBy:                 set(conv.GetCreatedBy()),
		Description:               set(conv.GetDescription()),
		DisplayName:               set(conv.GetDisplayName()),
	}
}

// ParseWebMessage translates a stored web message (history sync) into a
// message record.
func ParseWebMessage(info *waWeb.WebMessageInfo) model.Message {
	return model.Message{
		Key:                     parseKey(info.GetKey()),
		Message:                 encodeMessage(info.GetMessage()),
		MessageTimestamp:        long(info.GetMessageTimestamp()),
		Status:                  count(int32(info.GetStatus())),
		Participant:             set(info.GetParticipant()),
		MessageC2STimestamp:     long(info.GetMessageC2STimestamp()),
		Ignore:                  set(info.GetIgnore()),
		Starred:                 set(info.GetStarred()),
		Broadcast:               set(info.GetBroadcast()),
		PushName:                set(info.GetPushName()),
		Multicast:               set(info.GetMulticast()),
		MessageStubType:         count(int32(info.GetMessageStubType())),
		MessageStubParameters:   encodeJSON(info.GetMessageStubParameters()),
		Duration:                count(info.GetDuration()),
		EphemeralStartTimestamp: long(info.GetEphemeralStartTimestamp()),
		EphemeralDuration:       count(info.GetEphemeralDuration()),
		VerifiedBizName:         set(info.GetVerifiedBizName()),
		MessageSecret:           info.GetMessageSecret(),
		UserReceipt:             parseReceipts(info.GetUserReceipt()),
		Reactions:               parseReactions(info.GetReactions()),
	}
}

// ParseLiveMessage translates a live message event into a message record.
func ParseLiveMessage(evt *events.Message) model.Message {
	key := liveKey(evt.Info)
	msg := model.Message{
		Key:              &key,
		Message:          encodeMessage(evt.Message),
		MessageTimestamp: unixTime(evt.Info.Timestamp),
		PushName:         set(evt.Info.PushName),
		Multicast:        set(evt.Info.Multicast),
	}
	if evt.Info.IsGroup {
		msg.Participant = set(evt.Info.Sender.ToNonAD().String())
	}
	return msg
}

func liveKey(info types.MessageInfo) model.MessageKey {
	key := model.MessageKey{
		RemoteJID: info.Chat.ToNonAD().String(),
		FromMe:    info.IsFromMe,
		ID:        info.ID,
	}
	if info.IsGroup {
		key.Participant = info.Sender.ToNonAD().String()
	}
	return key
}

func parseKey(k *waCommon.MessageKey) *model.MessageKey {
	if k == nil {
		return nil
	}
	return &model.MessageKey{
		RemoteJID:   k.GetRemoteJID(),
		FromMe:      k.GetFromMe(),
		ID:          k.GetID(),
		Participant: k.GetParticipant(),
	}
}

func parseReceipts(in []*waWeb.UserReceipt) []model.UserReceipt {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.UserReceipt, 0, len(in))
	for _, r := range in {
		out = append(out, model.UserReceipt{
			UserJID:            r.GetUserJID(),
			ReceiptTimestamp:   long(r.GetReceiptTimestamp()),
			ReadTimestamp:      long(r.GetReadTimestamp()),
			PlayedTimestamp:    long(r.GetPlayedTimestamp()),
			PendingDeviceJID:   r.GetPendingDeviceJID(),
			DeliveredDeviceJID: r.GetDeliveredDeviceJID(),
		})
	}
	return out
}

func parseReactions(in []*waWeb.Reaction) []model.Reaction {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Reaction, 0, len(in))
	for _, r := range in {
		out = append(out, model.Reaction{
			Key:               parseKey(r.GetKey()),
			Text:              r.GetText(),
			GroupingKey:       r.GetGroupingKey(),
			SenderTimestampMs: long(r.GetSenderTimestampMS()),
			Unread:            set(r.GetUnread()),
		})
	}
	return out
}

// encodeMessage serializes message content as protobuf JSON, which uses the
// same camelCase field names as the upstream protocol layer. protojson output
// is compacted since its whitespace is deliberately unstable.
func encodeMessage(m *waE2E.Message) json.RawMessage {
	if m == nil {
		return nil
	}
	b, err := protojson.Marshal(m)
	if err != nil {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil
	}
	return buf.Bytes()
}

func encodeJSON[T any](v []T) json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
