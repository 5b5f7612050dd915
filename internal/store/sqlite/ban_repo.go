package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"portalchat/internal/domain"
)

type BanRepo struct {
	db *sql.DB
}

func NewBanRepo(db *sql.DB) *BanRepo {
	return &BanRepo{db: db}
}

var _ domain.BanRepository = (*BanRepo)(nil)

func (r *BanRepo) Upsert(ctx context.Context, b *domain.BanRecord) error {
	query := `
		INSERT INTO bans (device_id, reason, banned_by, banned_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			reason = excluded.reason,
			banned_by = excluded.banned_by,
			banned_at = excluded.banned_at
	`
	if _, err := r.db.ExecContext(ctx, query, b.DeviceID, b.Reason, b.BannedBy, b.BannedAt); err != nil {
		return fmt.Errorf("upsert ban: %w", err)
	}
	return nil
}

func (r *BanRepo) Delete(ctx context.Context, deviceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bans WHERE device_id = ?`, deviceID)
	if err != nil {
		return false, fmt.Errorf("delete ban: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete ban rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *BanRepo) Get(ctx context.Context, deviceID string) (*domain.BanRecord, error) {
	b := &domain.BanRecord{}
	err := r.db.QueryRowContext(ctx, `
		SELECT device_id, reason, banned_by, banned_at FROM bans WHERE device_id = ?
	`, deviceID).Scan(&b.DeviceID, &b.Reason, &b.BannedBy, &b.BannedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ban: %w", err)
	}
	return b, nil
}

func (r *BanRepo) List(ctx context.Context) ([]*domain.BanRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, reason, banned_by, banned_at FROM bans ORDER BY banned_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()

	var res []*domain.BanRecord
	for rows.Next() {
		b := &domain.BanRecord{}
		if err := rows.Scan(&b.DeviceID, &b.Reason, &b.BannedBy, &b.BannedAt); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
