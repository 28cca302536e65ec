package models

import (
	"time"
)

// ConversationStatus is the agent-facing lifecycle state.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "OPEN"
	ConversationPending  ConversationStatus = "PENDING"
	ConversationResolved ConversationStatus = "RESOLVED"
	ConversationSpam     ConversationStatus = "SPAM"
)

// ValidConversationStatus reports whether s is a known lifecycle state.
func ValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case ConversationOpen, ConversationPending, ConversationResolved, ConversationSpam:
		return true
	}
	return false
}

// Conversation is the unit of agent work tying one contact to one instance.
// (instance_id, contact_id) is unique. A RESOLVED conversation receiving a
// new customer message reopens automatically; SPAM is sticky and only
// reachable (or leavable) by explicit agent action.
type Conversation struct {
	ID              int64              `json:"id"`
	InstanceID      int64              `json:"instanceId"`
	ContactID       int64              `json:"contactId"`
	Status          ConversationStatus `json:"status"`
	UnreadCount     int                `json:"unreadCount"`
	LastMessage     string             `json:"lastMessage"`
	LastMessageAt   *time.Time         `json:"lastMessageAt,omitempty"`
	AssignedAgentID *int64             `json:"assignedAgentId,omitempty"`
	TeamID          *int64             `json:"teamId,omitempty"`
	Archived        bool               `json:"archived"`
	Priority        int                `json:"priority"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// ConversationPatch carries the optional agent-action mutations. Nil fields
// are left untouched.
type ConversationPatch struct {
	Status          *ConversationStatus `json:"status,omitempty"`
	AssignedAgentID *int64              `json:"assignedAgentId,omitempty"`
	TeamID          *int64              `json:"teamId,omitempty"`
	Archived        *bool               `json:"archived,omitempty"`
	Priority        *int                `json:"priority,omitempty"`
}
