package models

import (
	"time"
)

// MessageType is the canonical message kind.
type MessageType string

const (
	MessageText     MessageType = "TEXT"
	MessageImage    MessageType = "IMAGE"
	MessageVideo    MessageType = "VIDEO"
	MessageAudio    MessageType = "AUDIO"
	MessageDocument MessageType = "DOCUMENT"
	MessageSticker  MessageType = "STICKER"
	MessageLocation MessageType = "LOCATION"
	MessageContact  MessageType = "CONTACT"
	MessageReaction MessageType = "REACTION"
)

// MessageStatus is the canonical delivery state.
type MessageStatus string

const (
	StatusPending   MessageStatus = "PENDING"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// vendorStatusTable maps gateway numeric status codes to canonical states.
// Codes outside the table leave the stored status unchanged.
var vendorStatusTable = map[int]MessageStatus{
	2: StatusSent,
	3: StatusDelivered,
	4: StatusRead,
}

// StatusFromVendorCode resolves a gateway status code. ok is false for
// unknown codes.
func StatusFromVendorCode(code int) (MessageStatus, bool) {
	status, ok := vendorStatusTable[code]
	return status, ok
}

// MediaRef is an on-demand media reference; bytes are fetched from the
// gateway when needed, never stored locally.
type MediaRef struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// Message is an append-only record. (instance_id, external_id) is unique and
// serves as the idempotency key for at-least-once webhook delivery. Rows are
// never physically deleted; Deleted is a soft flag.
type Message struct {
	ID               int64         `json:"id"`
	InstanceID       int64         `json:"instanceId"`
	ConversationID   int64         `json:"conversationId"`
	ExternalID       string        `json:"externalId"`
	Type             MessageType   `json:"type"`
	Content          string        `json:"content"`
	Status           MessageStatus `json:"status"`
	FromAgent        bool          `json:"fromAgent"`
	AgentID          *int64        `json:"agentId,omitempty"`
	QuotedExternalID *string       `json:"quotedExternalId,omitempty"`
	Media            *MediaRef     `json:"media,omitempty"`
	Deleted          bool          `json:"deleted"`
	SentAt           time.Time     `json:"sentAt"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// previewLabels are the bracketed placeholders used for non-text previews.
var previewLabels = map[MessageType]string{
	MessageImage:    "[image]",
	MessageVideo:    "[video]",
	MessageAudio:    "[audio]",
	MessageDocument: "[document]",
	MessageSticker:  "[sticker]",
	MessageLocation: "[location]",
	MessageContact:  "[contact]",
}

// Preview renders the conversation last-message preview for this message:
// raw content for TEXT and REACTION, "[kind] caption" otherwise.
func (m *Message) Preview() string {
	label, ok := previewLabels[m.Type]
	if !ok {
		return m.Content
	}
	if m.Content != "" {
		return label + " " + m.Content
	}
	return label
}
