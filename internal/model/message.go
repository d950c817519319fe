package model

import "encoding/json"

// MessageKey identifies a message: the conversation it belongs to, its id,
// whether this account sent it and, in groups, the sending participant.
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// UserReceipt is a per-recipient delivery/read acknowledgment.
type UserReceipt struct {
	UserJID            string   `json:"userJid"`
	ReceiptTimestamp   *Long    `json:"receiptTimestamp,omitempty"`
	ReadTimestamp      *Long    `json:"readTimestamp,omitempty"`
	PlayedTimestamp    *Long    `json:"playedTimestamp,omitempty"`
	PendingDeviceJID   []string `json:"pendingDeviceJid,omitempty"`
	DeliveredDeviceJID []string `json:"deliveredDeviceJid,omitempty"`
}

// Reaction is one author's emoji on a message. Empty Text removes the
// author's previous reaction.
type Reaction struct {
	Key               *MessageKey `json:"key,omitempty"`
	Text              string      `json:"text,omitempty"`
	GroupingKey       string      `json:"groupingKey,omitempty"`
	SenderTimestampMs *Long       `json:"senderTimestampMs,omitempty"`
	Unread            *bool       `json:"unread,omitempty"`
}

// Message is a web message info record. Like Chat, nil fields are absent,
// so Message doubles as the patch type of messages.update.
type Message struct {
	Key *MessageKey `json:"key,omitempty" db:"key"`

	Message                         json.RawMessage `json:"message,omitempty" db:"message"`
	MessageTimestamp                *Long           `json:"messageTimestamp,omitempty" db:"message_timestamp"`
	Status                          *int64          `json:"status,omitempty" db:"status"`
	Participant                     *string         `json:"participant,omitempty" db:"participant"`
	MessageC2STimestamp             *Long           `json:"messageC2STimestamp,omitempty" db:"message_c2s_timestamp"`
	Ignore                          *bool           `json:"ignore,omitempty" db:"ignore"`
	Starred                         *bool           `json:"starred,omitempty" db:"starred"`
	Broadcast                       *bool           `json:"broadcast,omitempty" db:"broadcast"`
	PushName                        *string         `json:"pushName,omitempty" db:"push_name"`
	MediaCiphertextSha256           Bytes           `json:"mediaCiphertextSha256,omitempty" db:"media_ciphertext_sha256"`
	Multicast                       *bool           `json:"multicast,omitempty" db:"multicast"`
	URLText                         *bool           `json:"urlText,omitempty" db:"url_text"`
	URLNumber                       *bool           `json:"urlNumber,omitempty" db:"url_number"`
	MessageStubType                 *int64          `json:"messageStubType,omitempty" db:"message_stub_type"`
	ClearMedia                      *bool           `json:"clearMedia,omitempty" db:"clear_media"`
	MessageStubParameters           json.RawMessage `json:"messageStubParameters,omitempty" db:"message_stub_parameters"`
	Duration                        *int64          `json:"duration,omitempty" db:"duration"`
	Labels                          json.RawMessage `json:"labels,omitempty" db:"labels"`
	PaymentInfo                     json.RawMessage `json:"paymentInfo,omitempty" db:"payment_info"`
	FinalLiveLocation               json.RawMessage `json:"finalLiveLocation,omitempty" db:"final_live_location"`
	QuotedPaymentInfo               json.RawMessage `json:"quotedPaymentInfo,omitempty" db:"quoted_payment_info"`
	EphemeralStartTimestamp         *Long           `json:"ephemeralStartTimestamp,omitempty" db:"ephemeral_start_timestamp"`
	EphemeralDuration               *int64          `json:"ephemeralDuration,omitempty" db:"ephemeral_duration"`
	EphemeralOffToOn                *bool           `json:"ephemeralOffToOn,omitempty" db:"ephemeral_off_to_on"`
	EphemeralOutOfSync              *bool           `json:"ephemeralOutOfSync,omitempty" db:"ephemeral_out_of_sync"`
	BizPrivacyStatus                *int64          `json:"bizPrivacyStatus,omitempty" db:"biz_privacy_status"`
	VerifiedBizName                 *string         `json:"verifiedBizName,omitempty" db:"verified_biz_name"`
	MediaData                       json.RawMessage `json:"mediaData,omitempty" db:"media_data"`
	PhotoChange                     json.RawMessage `json:"photoChange,omitempty" db:"photo_change"`
	UserReceipt                     []UserReceipt   `json:"userReceipt,omitempty" db:"user_receipt"`
	Reactions                       []Reaction      `json:"reactions,omitempty" db:"reactions"`
	QuotedStickerData               json.RawMessage `json:"quotedStickerData,omitempty" db:"quoted_sticker_data"`
	FutureproofData                 Bytes           `json:"futureproofData,omitempty" db:"futureproof_data"`
	StatusPsa                       json.RawMessage `json:"statusPsa,omitempty" db:"status_psa"`
	PollUpdates                     json.RawMessage `json:"pollUpdates,omitempty" db:"poll_updates"`
	PollAdditionalMetadata          json.RawMessage `json:"pollAdditionalMetadata,omitempty" db:"poll_additional_metadata"`
	AgentID                         *string         `json:"agentId,omitempty" db:"agent_id"`
	StatusAlreadyViewed             *bool           `json:"statusAlreadyViewed,omitempty" db:"status_already_viewed"`
	MessageSecret                   Bytes           `json:"messageSecret,omitempty" db:"message_secret"`
	KeepInChat                      json.RawMessage `json:"keepInChat,omitempty" db:"keep_in_chat"`
	OriginalSelfAuthorUserJIDString *string         `json:"originalSelfAuthorUserJidString,omitempty" db:"original_self_author_user_jid_string"`
	RevokeMessageTimestamp          *Long           `json:"revokeMessageTimestamp,omitempty" db:"revoke_message_timestamp"`
	PinInChat                       json.RawMessage `json:"pinInChat,omitempty" db:"pin_in_chat"`
	PremiumMessageInfo              json.RawMessage `json:"premiumMessageInfo,omitempty" db:"premium_message_info"`
	Is1PBizBotMessage               *bool           `json:"is1PBizBotMessage,omitempty" db:"is_1p_biz_bot_message"`
	IsGroupHistoryMessage           *bool           `json:"isGroupHistoryMessage,omitempty" db:"is_group_history_message"`
	BotMessageInvokerJID            *string         `json:"botMessageInvokerJid,omitempty" db:"bot_message_invoker_jid"`
	CommentMetadata                 json.RawMessage `json:"commentMetadata,omitempty" db:"comment_metadata"`
	EventResponses                  json.RawMessage `json:"eventResponses,omitempty" db:"event_responses"`
	ReportingTokenInfo              json.RawMessage `json:"reportingTokenInfo,omitempty" db:"reporting_token_info"`
	NewsletterServerID              *Long           `json:"newsletterServerId,omitempty" db:"newsletter_server_id"`
}

// Storage columns that identify a message row. They are derived from the
// message key rather than carried as fields.
const (
	ColumnRemoteJID = "remote_jid"
	ColumnID        = "id"
	ColumnKey       = "key"
)

// Columns holding the nested mutable lists merged by receipt and reaction events.
const (
	ColumnUserReceipt = "user_receipt"
	ColumnReactions   = "reactions"
)

// ColumnUnreadCount is the chat column merged with increment-vs-set semantics.
const ColumnUnreadCount = "unread_count"
