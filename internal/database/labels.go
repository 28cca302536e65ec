package database

import (
	"context"
	"database/sql"
	"fmt"

	"wadesk/internal/models"
)

func (d *Database) CreateLabel(ctx context.Context, name, color string) (*models.Label, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO labels (name, color) VALUES (?, ?)`, name, color)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicateRow
		}
		return nil, fmt.Errorf("failed to create label: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get label id: %w", err)
	}

	label := &models.Label{}
	row := d.db.QueryRowContext(ctx,
		`SELECT id, name, color, created_at FROM labels WHERE id = ?`, id)
	if err := row.Scan(&label.ID, &label.Name, &label.Color, &label.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan label: %w", err)
	}
	return label, nil
}

func (d *Database) ListLabels(ctx context.Context) ([]*models.Label, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, color, created_at FROM labels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	defer rows.Close()

	var labels []*models.Label
	for rows.Next() {
		l := &models.Label{}
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// AssignLabel attaches a label to a conversation; re-assignments are no-ops.
func (d *Database) AssignLabel(ctx context.Context, conversationID, labelID int64) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO conversation_labels (conversation_id, label_id) VALUES (?, ?)`,
		conversationID, labelID)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to assign label: %w", err)
	}
	return nil
}

func (d *Database) RemoveLabel(ctx context.Context, conversationID, labelID int64) error {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM conversation_labels WHERE conversation_id = ? AND label_id = ?`,
		conversationID, labelID)
	if err != nil {
		return fmt.Errorf("failed to remove label: %w", err)
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

func (d *Database) ListLabelsByConversation(ctx context.Context, conversationID int64) ([]*models.Label, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT l.id, l.name, l.color, l.created_at
		 FROM labels l
		 JOIN conversation_labels cl ON cl.label_id = l.id
		 WHERE cl.conversation_id = ?
		 ORDER BY l.name`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation labels: %w", err)
	}
	defer rows.Close()

	var labels []*models.Label
	for rows.Next() {
		l := &models.Label{}
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}
