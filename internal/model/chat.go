package model

import "encoding/json"

// Chat is one conversation as described by the upstream protocol layer.
// Every field except ID is optional; a nil field is absent from the event,
// which makes the same type usable for full records and partial patches.
//
// The db tag names the storage column the field normalizes to.
type Chat struct {
	ID string `json:"id" db:"id"`

	NewJID                    *string         `json:"newJid,omitempty" db:"new_jid"`
	OldJID                    *string         `json:"oldJid,omitempty" db:"old_jid"`
	LastMsgTimestamp          *Long           `json:"lastMsgTimestamp,omitempty" db:"last_msg_timestamp"`
	UnreadCount               *int64          `json:"unreadCount,omitempty" db:"unread_count"`
	ReadOnly                  *bool           `json:"readOnly,omitempty" db:"read_only"`
	EndOfHistoryTransfer      *bool           `json:"endOfHistoryTransfer,omitempty" db:"end_of_history_transfer"`
	EphemeralExpiration       *int64          `json:"ephemeralExpiration,omitempty" db:"ephemeral_expiration"`
	EphemeralSettingTimestamp *Long           `json:"ephemeralSettingTimestamp,omitempty" db:"ephemeral_setting_timestamp"`
	EndOfHistoryTransferType  *int64          `json:"endOfHistoryTransferType,omitempty" db:"end_of_history_transfer_type"`
	ConversationTimestamp     *Long           `json:"conversationTimestamp,omitempty" db:"conversation_timestamp"`
	Name                      *string         `json:"name,omitempty" db:"name"`
	PHash                     *string         `json:"pHash,omitempty" db:"p_hash"`
	NotSpam                   *bool           `json:"notSpam,omitempty" db:"not_spam"`
	Archived                  *bool           `json:"archived,omitempty" db:"archived"`
	DisappearingMode          json.RawMessage `json:"disappearingMode,omitempty" db:"disappearing_mode"`
	UnreadMentionCount        *int64          `json:"unreadMentionCount,omitempty" db:"unread_mention_count"`
	MarkedAsUnread            *bool           `json:"markedAsUnread,omitempty" db:"marked_as_unread"`
	Participant               json.RawMessage `json:"participant,omitempty" db:"participant"`
	TcToken                   Bytes           `json:"tcToken,omitempty" db:"tc_token"`
	TcTokenTimestamp          *Long           `json:"tcTokenTimestamp,omitempty" db:"tc_token_timestamp"`
	ContactPrimaryIdentityKey Bytes           `json:"contactPrimaryIdentityKey,omitempty" db:"contact_primary_identity_key"`
	Pinned                    *int64          `json:"pinned,omitempty" db:"pinned"`
	MuteEndTime               *Long           `json:"muteEndTime,omitempty" db:"mute_end_time"`
	Wallpaper                 json.RawMessage `json:"wallpaper,omitempty" db:"wallpaper"`
	MediaVisibility           *int64          `json:"mediaVisibility,omitempty" db:"media_visibility"`
	TcTokenSenderTimestamp    *Long           `json:"tcTokenSenderTimestamp,omitempty" db:"tc_token_sender_timestamp"`
	Suspended                 *bool           `json:"suspended,omitempty" db:"suspended"`
	Terminated                *bool           `json:"terminated,omitempty" db:"terminated"`
	CreatedAt                 *Long           `json:"createdAt,omitempty" db:"created_at"`
	CreatedBy                 *string         `json:"createdBy,omitempty" db:"created_by"`
	Description               *string         `json:"description,omitempty" db:"description"`
	Support                   *bool           `json:"support,omitempty" db:"support"`
	IsParentGroup             *bool           `json:"isParentGroup,omitempty" db:"is_parent_group"`
	ParentGroupID             *string         `json:"parentGroupId,omitempty" db:"parent_group_id"`
	IsDefaultSubgroup         *bool           `json:"isDefaultSubgroup,omitempty" db:"is_default_subgroup"`
	DisplayName               *string         `json:"displayName,omitempty" db:"display_name"`
	PnJID                     *string         `json:"pnJid,omitempty" db:"pn_jid"`
	ShareOwnPn                *bool           `json:"shareOwnPn,omitempty" db:"share_own_pn"`
	PnhDuplicateLidThread     *bool           `json:"pnhDuplicateLidThread,omitempty" db:"pnh_duplicate_lid_thread"`
	LidJID                    *string         `json:"lidJid,omitempty" db:"lid_jid"`
	Username                  *string         `json:"username,omitempty" db:"username"`
	LidOriginType             *string         `json:"lidOriginType,omitempty" db:"lid_origin_type"`
	CommentsCount             *int64          `json:"commentsCount,omitempty" db:"comments_count"`
	LastMessageRecvTimestamp  *int64          `json:"lastMessageRecvTimestamp,omitempty" db:"last_message_recv_timestamp"`
}
