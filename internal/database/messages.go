package database

import (
	"context"
	"database/sql"
	"fmt"

	"wadesk/internal/models"
)

const messageColumns = `id, instance_id, conversation_id, external_id, type, content, status,
	from_agent, agent_id, quoted_external_id, media_url, media_mime_type, media_file_name,
	deleted, sent_at, created_at, updated_at`

func (d *Database) scanMessage(row interface {
	Scan(dest ...interface{}) error
}) (*models.Message, error) {
	m := &models.Message{}
	var content string
	var agentID sql.NullInt64
	var quotedID, mediaURL, mediaMime, mediaName sql.NullString

	err := row.Scan(&m.ID, &m.InstanceID, &m.ConversationID, &m.ExternalID, &m.Type, &content, &m.Status,
		&m.FromAgent, &agentID, &quotedID, &mediaURL, &mediaMime, &mediaName,
		&m.Deleted, &m.SentAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	m.Content, err = d.encryptor.DecryptIfEnabled(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt message content: %w", err)
	}
	if agentID.Valid {
		m.AgentID = &agentID.Int64
	}
	if quotedID.Valid {
		m.QuotedExternalID = &quotedID.String
	}
	if mediaURL.Valid || mediaMime.Valid || mediaName.Valid {
		m.Media = &models.MediaRef{
			URL:      mediaURL.String,
			MimeType: mediaMime.String,
			FileName: mediaName.String,
		}
	}
	return m, nil
}

// GetMessageByExternalID is the idempotency lookup. Returns nil, nil for
// messages this system never saw.
func (d *Database) GetMessageByExternalID(ctx context.Context, instanceID int64, externalID string) (*models.Message, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE instance_id = ? AND external_id = ?`,
		instanceID, externalID)
	return d.scanMessage(row)
}

func (d *Database) GetMessageByID(ctx context.Context, id int64) (*models.Message, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return d.scanMessage(row)
}

// CreateMessage persists a new message row. A concurrent duplicate delivery
// losing the (instance_id, external_id) race gets ErrDuplicateMessage, which
// callers treat as "already processed".
func (d *Database) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	encContent, err := d.encryptor.EncryptIfEnabled(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message content: %w", err)
	}

	var mediaURL, mediaMime, mediaName interface{}
	if msg.Media != nil {
		mediaURL, mediaMime, mediaName = msg.Media.URL, msg.Media.MimeType, msg.Media.FileName
	}
	var quotedID interface{}
	if msg.QuotedExternalID != nil {
		quotedID = *msg.QuotedExternalID
	}
	var agentID interface{}
	if msg.AgentID != nil {
		agentID = *msg.AgentID
	}

	var res sql.Result
	err = retryableDBOperation(ctx, func() error {
		var execErr error
		res, execErr = d.db.ExecContext(ctx,
			`INSERT INTO messages (instance_id, conversation_id, external_id, type, content, status,
			 from_agent, agent_id, quoted_external_id, media_url, media_mime_type, media_file_name, sent_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.InstanceID, msg.ConversationID, msg.ExternalID, msg.Type, encContent, msg.Status,
			msg.FromAgent, agentID, quotedID, mediaURL, mediaMime, mediaName, msg.SentAt)
		return execErr
	}, "create message")
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicateMessage
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message id: %w", err)
	}
	return d.GetMessageByID(ctx, id)
}

// UpdateMessageStatus writes a new delivery status.
func (d *Database) UpdateMessageStatus(ctx context.Context, id int64, status models.MessageStatus) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// ListMessagesByConversation pages stored history, newest last. Soft-deleted
// rows are excluded.
func (d *Database) ListMessagesByConversation(ctx context.Context, conversationID int64, limit, offset int) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND deleted = 0
		 ORDER BY sent_at ASC LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := d.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListUnreadInbound returns the inbound messages of a conversation not yet
// READ; mark-as-read flips exactly these.
func (d *Database) ListUnreadInbound(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND from_agent = 0 AND status != ?`,
		conversationID, models.StatusRead)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := d.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkInboundRead sets all non-READ inbound messages of the conversation to
// READ and returns how many rows changed.
func (d *Database) MarkInboundRead(ctx context.Context, conversationID int64) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE conversation_id = ? AND from_agent = 0 AND status != ?`,
		models.StatusRead, conversationID, models.StatusRead)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return res.RowsAffected()
}

// SoftDeleteMessage sets the deleted flag; rows are never physically removed.
func (d *Database) SoftDeleteMessage(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE messages SET deleted = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete message: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
