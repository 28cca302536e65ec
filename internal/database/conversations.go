package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wadesk/internal/models"
)

const conversationColumns = `id, instance_id, contact_id, status, unread_count, last_message, last_message_at,
	assigned_agent_id, team_id, archived, priority, created_at, updated_at`

func (d *Database) scanConversation(row interface {
	Scan(dest ...interface{}) error
}) (*models.Conversation, error) {
	c := &models.Conversation{}
	var preview string
	var lastAt sql.NullTime
	var agentID, teamID sql.NullInt64

	err := row.Scan(&c.ID, &c.InstanceID, &c.ContactID, &c.Status, &c.UnreadCount, &preview, &lastAt,
		&agentID, &teamID, &c.Archived, &c.Priority, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	c.LastMessage, err = d.encryptor.DecryptIfEnabled(preview)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt preview: %w", err)
	}
	if lastAt.Valid {
		t := lastAt.Time
		c.LastMessageAt = &t
	}
	if agentID.Valid {
		c.AssignedAgentID = &agentID.Int64
	}
	if teamID.Valid {
		c.TeamID = &teamID.Int64
	}
	return c, nil
}

// GetConversationByContact returns nil, nil when no conversation exists for
// the (instance, contact) pair.
func (d *Database) GetConversationByContact(ctx context.Context, instanceID, contactID int64) (*models.Conversation, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE instance_id = ? AND contact_id = ?`,
		instanceID, contactID)
	return d.scanConversation(row)
}

func (d *Database) GetConversationByID(ctx context.Context, id int64) (*models.Conversation, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return d.scanConversation(row)
}

// CreateConversation inserts the singleton conversation for an
// (instance, contact) pair, defaulting to OPEN with zero unread. Losing the
// creation race returns the winning row.
func (d *Database) CreateConversation(ctx context.Context, instanceID, contactID int64) (*models.Conversation, error) {
	var res sql.Result
	err := retryableDBOperation(ctx, func() error {
		var execErr error
		res, execErr = d.db.ExecContext(ctx,
			`INSERT INTO conversations (instance_id, contact_id, status, unread_count) VALUES (?, ?, ?, 0)`,
			instanceID, contactID, models.ConversationOpen)
		return execErr
	}, "create conversation")
	if err != nil {
		if IsUniqueViolation(err) {
			return d.GetConversationByContact(ctx, instanceID, contactID)
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation id: %w", err)
	}
	return d.GetConversationByID(ctx, id)
}

func (d *Database) ListConversations(ctx context.Context, status models.ConversationStatus) ([]*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY last_message_at DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		c, err := d.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// ApplyInboundMessage updates the conversation aggregate for a message
// received from the contact: preview, timestamp, unread counter, and the
// reopen-on-reply transition. Only RESOLVED flips back to OPEN; SPAM is
// sticky. Aggregate writes are last-writer-wins.
func (d *Database) ApplyInboundMessage(ctx context.Context, conversationID int64, preview string, sentAt time.Time) (*models.Conversation, error) {
	encPreview, err := d.encryptor.EncryptIfEnabled(preview)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt preview: %w", err)
	}

	err = retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx,
			`UPDATE conversations
			 SET last_message = ?, last_message_at = ?,
			     unread_count = unread_count + 1,
			     status = CASE WHEN status = ? THEN ? ELSE status END,
			     updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			encPreview, sentAt, models.ConversationResolved, models.ConversationOpen, conversationID)
		return execErr
	}, "apply inbound message")
	if err != nil {
		return nil, err
	}
	return d.GetConversationByID(ctx, conversationID)
}

// ApplyOutboundMessage updates preview and timestamp for an agent-originated
// message; unread count and status are untouched.
func (d *Database) ApplyOutboundMessage(ctx context.Context, conversationID int64, preview string, sentAt time.Time) (*models.Conversation, error) {
	encPreview, err := d.encryptor.EncryptIfEnabled(preview)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt preview: %w", err)
	}

	err = retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx,
			`UPDATE conversations
			 SET last_message = ?, last_message_at = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			encPreview, sentAt, conversationID)
		return execErr
	}, "apply outbound message")
	if err != nil {
		return nil, err
	}
	return d.GetConversationByID(ctx, conversationID)
}

// UpdateConversation applies agent-action mutations from a patch.
func (d *Database) UpdateConversation(ctx context.Context, id int64, patch models.ConversationPatch) (*models.Conversation, error) {
	sets := ""
	args := []interface{}{}

	if patch.Status != nil {
		sets += `status = ?, `
		args = append(args, *patch.Status)
	}
	if patch.AssignedAgentID != nil {
		sets += `assigned_agent_id = ?, `
		args = append(args, *patch.AssignedAgentID)
	}
	if patch.TeamID != nil {
		sets += `team_id = ?, `
		args = append(args, *patch.TeamID)
	}
	if patch.Archived != nil {
		sets += `archived = ?, `
		args = append(args, *patch.Archived)
	}
	if patch.Priority != nil {
		sets += `priority = ?, `
		args = append(args, *patch.Priority)
	}
	if sets == "" {
		return d.GetConversationByID(ctx, id)
	}

	args = append(args, id)
	_, err := d.db.ExecContext(ctx,
		`UPDATE conversations SET `+sets+`updated_at = CURRENT_TIMESTAMP WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return d.GetConversationByID(ctx, id)
}

// ResetUnread zeroes the unread counter after a mark-as-read.
func (d *Database) ResetUnread(ctx context.Context, conversationID int64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		conversationID)
	if err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}
	return nil
}
