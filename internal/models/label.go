package models

import (
	"time"
)

// Label is a named, colored tag attached to conversations via a join row.
type Label struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationLabel is the assignment join row.
type ConversationLabel struct {
	ConversationID int64     `json:"conversationId"`
	LabelID        int64     `json:"labelId"`
	AssignedAt     time.Time `json:"assignedAt"`
}
