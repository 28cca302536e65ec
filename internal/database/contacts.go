package database

import (
	"context"
	"database/sql"
	"fmt"

	"wadesk/internal/models"
)

const contactColumns = `id, instance_id, remote_jid, name, phone, avatar_url, is_group, created_at, updated_at`

func (d *Database) scanContact(row interface {
	Scan(dest ...interface{}) error
}) (*models.Contact, error) {
	c := &models.Contact{}
	var name, avatar string

	err := row.Scan(&c.ID, &c.InstanceID, &c.RemoteJID, &name, &c.Phone, &avatar, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}

	c.Name, err = d.encryptor.DecryptIfEnabled(name)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt contact name: %w", err)
	}
	c.AvatarURL, err = d.encryptor.DecryptIfEnabled(avatar)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt avatar url: %w", err)
	}
	return c, nil
}

// GetContactByRemoteJID returns nil, nil when unknown.
func (d *Database) GetContactByRemoteJID(ctx context.Context, instanceID int64, remoteJID string) (*models.Contact, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE instance_id = ? AND remote_jid = ?`,
		instanceID, remoteJID)
	return d.scanContact(row)
}

// CreateContact inserts a contact row. A concurrent creator winning the
// (instance_id, remote_jid) race surfaces as a unique violation; the caller
// gets the winning row back instead of an error.
func (d *Database) CreateContact(ctx context.Context, contact *models.Contact) (*models.Contact, error) {
	encName, err := d.encryptor.EncryptIfEnabled(contact.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt contact name: %w", err)
	}
	encAvatar, err := d.encryptor.EncryptIfEnabled(contact.AvatarURL)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt avatar url: %w", err)
	}

	var res sql.Result
	err = retryableDBOperation(ctx, func() error {
		var execErr error
		res, execErr = d.db.ExecContext(ctx,
			`INSERT INTO contacts (instance_id, remote_jid, name, phone, avatar_url, is_group)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			contact.InstanceID, contact.RemoteJID, encName, contact.Phone, encAvatar, contact.IsGroup)
		return execErr
	}, "create contact")
	if err != nil {
		if IsUniqueViolation(err) {
			return d.GetContactByRemoteJID(ctx, contact.InstanceID, contact.RemoteJID)
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get contact id: %w", err)
	}

	row := d.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	return d.scanContact(row)
}

// UpdateContactName backfills the display name. Names are monotonically
// improved: an empty incoming name never overwrites an existing one (the
// caller guards the direction; this just writes).
func (d *Database) UpdateContactName(ctx context.Context, id int64, name string) error {
	encName, err := d.encryptor.EncryptIfEnabled(name)
	if err != nil {
		return fmt.Errorf("failed to encrypt contact name: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`UPDATE contacts SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		encName, id)
	if err != nil {
		return fmt.Errorf("failed to update contact name: %w", err)
	}
	return nil
}

func (d *Database) GetContactByID(ctx context.Context, id int64) (*models.Contact, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	return d.scanContact(row)
}
