package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"portalchat/internal/domain"
)

type ReportRepo struct {
	db *sql.DB
}

func NewReportRepo(db *sql.DB) *ReportRepo {
	return &ReportRepo{db: db}
}

var _ domain.ReportRepository = (*ReportRepo)(nil)

func (r *ReportRepo) Create(ctx context.Context, rep *domain.Report) error {
	query := `
		INSERT INTO reports (id, message_id, message_text, reported_username, reported_device_id, reporter_device_id, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		rep.ID,
		rep.MessageID,
		rep.MessageText,
		rep.ReportedUsername,
		rep.ReportedDeviceID,
		rep.ReporterDeviceID,
		rep.Reason,
		rep.Status,
		rep.CreatedAt,
	)
	if err != nil {
		// The unique index on (message_id, reporter_device_id) backs
		// the at-most-one-report invariant even under a filing race.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrDuplicateReport
		}
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (r *ReportRepo) GetByID(ctx context.Context, id string) (*domain.Report, error) {
	rep := &domain.Report{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, message_id, message_text, reported_username, reported_device_id, reporter_device_id, reason, status, created_at
		FROM reports WHERE id = ?
	`, id).Scan(
		&rep.ID,
		&rep.MessageID,
		&rep.MessageText,
		&rep.ReportedUsername,
		&rep.ReportedDeviceID,
		&rep.ReporterDeviceID,
		&rep.Reason,
		&rep.Status,
		&rep.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return rep, nil
}

func (r *ReportRepo) List(ctx context.Context, status *domain.ReportStatus) ([]*domain.Report, error) {
	query := `
		SELECT id, message_id, message_text, reported_username, reported_device_id, reporter_device_id, reason, status, created_at
		FROM reports
	`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var res []*domain.Report
	for rows.Next() {
		rep := &domain.Report{}
		if err := rows.Scan(
			&rep.ID,
			&rep.MessageID,
			&rep.MessageText,
			&rep.ReportedUsername,
			&rep.ReportedDeviceID,
			&rep.ReporterDeviceID,
			&rep.Reason,
			&rep.Status,
			&rep.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

func (r *ReportRepo) UpdateStatus(ctx context.Context, id string, status domain.ReportStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE reports SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update report status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update report rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ReportRepo) ExistsFor(ctx context.Context, messageID, reporterDeviceID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM reports WHERE message_id = ? AND reporter_device_id = ?
	`, messageID, reporterDeviceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("report exists: %w", err)
	}
	return true, nil
}
