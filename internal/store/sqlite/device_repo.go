package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"portalchat/internal/domain"
)

// DeviceNameRepo tracks which device ids entered the chat under which
// display names. Rows are upserted on every chat entry and rename.
type DeviceNameRepo struct {
	db *sql.DB
}

func NewDeviceNameRepo(db *sql.DB) *DeviceNameRepo {
	return &DeviceNameRepo{db: db}
}

var _ domain.DeviceNameRepository = (*DeviceNameRepo)(nil)

func (r *DeviceNameRepo) Record(ctx context.Context, username, deviceID string) error {
	query := `
		INSERT INTO device_names (username, device_id, last_used_at)
		VALUES (?, ?, ?)
		ON CONFLICT (username, device_id) DO UPDATE SET last_used_at = excluded.last_used_at
	`
	if _, err := r.db.ExecContext(ctx, query, username, deviceID, time.Now().UTC()); err != nil {
		return fmt.Errorf("record device name: %w", err)
	}
	return nil
}

func (r *DeviceNameRepo) DevicesForUsername(ctx context.Context, username string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id FROM device_names WHERE username = ? ORDER BY last_used_at DESC
	`, username)
	if err != nil {
		return nil, fmt.Errorf("devices for username: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device id: %w", err)
		}
		res = append(res, id)
	}
	return res, rows.Err()
}
