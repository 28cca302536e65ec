package database

import (
	"context"
	"database/sql"
	"fmt"

	"wadesk/internal/models"
)

const instanceColumns = `id, name, token, status, qr_code, created_at, updated_at`

func (d *Database) scanInstance(row interface {
	Scan(dest ...interface{}) error
}) (*models.Instance, error) {
	inst := &models.Instance{}
	var token string
	var qr sql.NullString

	err := row.Scan(&inst.ID, &inst.Name, &token, &inst.Status, &qr, &inst.CreatedAt, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	inst.Token, err = d.encryptor.DecryptIfEnabled(token)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt instance token: %w", err)
	}
	if qr.Valid {
		inst.QRCode = &qr.String
	}
	return inst, nil
}

// CreateInstance registers a new gateway connection. The name is unique;
// a conflict is reported as ErrDuplicateRow.
func (d *Database) CreateInstance(ctx context.Context, name, token string) (*models.Instance, error) {
	encToken, err := d.encryptor.EncryptIfEnabled(token)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt instance token: %w", err)
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO instances (name, token, status) VALUES (?, ?, ?)`,
		name, encToken, models.InstanceDisconnected)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicateRow
		}
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get instance id: %w", err)
	}
	return d.GetInstanceByID(ctx, id)
}

// GetInstanceByName returns nil, nil when no instance matches; webhook
// handlers treat that as a per-item skip.
func (d *Database) GetInstanceByName(ctx context.Context, name string) (*models.Instance, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE name = ?`, name)
	return d.scanInstance(row)
}

func (d *Database) GetInstanceByID(ctx context.Context, id int64) (*models.Instance, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	return d.scanInstance(row)
}

func (d *Database) ListInstances(ctx context.Context) ([]*models.Instance, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.Instance
	for rows.Next() {
		inst, err := d.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// UpdateInstanceStatus persists a new connection status. On transition to
// CONNECTED any stored pairing payload is cleared; it is no longer valid.
func (d *Database) UpdateInstanceStatus(ctx context.Context, id int64, status models.InstanceStatus) error {
	var err error
	if status == models.InstanceConnected {
		_, err = d.db.ExecContext(ctx,
			`UPDATE instances SET status = ?, qr_code = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			status, id)
	} else {
		_, err = d.db.ExecContext(ctx,
			`UPDATE instances SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}
	return nil
}

// UpdateInstanceQRCode stores the latest pairing payload and flips the
// instance into the QRCODE state.
func (d *Database) UpdateInstanceQRCode(ctx context.Context, id int64, qrcode string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE instances SET qr_code = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		qrcode, models.InstanceQRCode, id)
	if err != nil {
		return fmt.Errorf("failed to update instance qr code: %w", err)
	}
	return nil
}

// DeleteInstance removes the instance; contacts, conversations and messages
// cascade with it.
func (d *Database) DeleteInstance(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
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
