package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"portalchat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.ChatMessage) error {
	query := `
		INSERT INTO messages (id, username, device_id, text, created_at, reply_message_id, reply_username, reply_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var replyID, replyUser, replyText *string
	if m.ReplyTo != nil {
		replyID = &m.ReplyTo.MessageID
		replyUser = &m.ReplyTo.Username
		replyText = &m.ReplyTo.Text
	}
	res, err := r.db.ExecContext(ctx, query,
		m.ID,
		m.Username,
		m.DeviceID,
		m.Text,
		m.CreatedAt,
		replyID,
		replyUser,
		replyText,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.Seq = seq
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.ChatMessage, error) {
	query := `
		SELECT seq, id, username, device_id, text, created_at, reply_message_id, reply_username, reply_text
		FROM messages
		WHERE id = ?
	`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func (r *MessageRepo) ListRecent(ctx context.Context, limit int) ([]*domain.ChatMessage, error) {
	query := `
		SELECT seq, id, username, device_id, text, created_at, reply_message_id, reply_username, reply_text
		FROM messages
		ORDER BY seq DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	// Reverse to ascending seq (DB returns DESC).
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r *MessageRepo) Prune(ctx context.Context, keepLimit int) ([]string, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if count <= keepLimit {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM messages
		ORDER BY seq ASC
		LIMIT ?
	`, count-keepLimit)
	if err != nil {
		return nil, fmt.Errorf("select old messages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select old messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := `DELETE FROM messages WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("delete old messages: %w", err)
	}
	return ids, nil
}

func (r *MessageRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("delete all messages: %w", err)
	}
	return nil
}

func (r *MessageRepo) DevicesForUsername(ctx context.Context, username string, scanLimit int) ([]string, error) {
	query := `
		SELECT DISTINCT device_id FROM (
			SELECT device_id, username FROM messages ORDER BY seq DESC LIMIT ?
		) WHERE username = ?
	`
	rows, err := r.db.QueryContext(ctx, query, scanLimit, username)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.ChatMessage, error) {
	m := &domain.ChatMessage{}
	var replyID, replyUser, replyText sql.NullString
	if err := row.Scan(
		&m.Seq,
		&m.ID,
		&m.Username,
		&m.DeviceID,
		&m.Text,
		&m.CreatedAt,
		&replyID,
		&replyUser,
		&replyText,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if replyID.Valid {
		m.ReplyTo = &domain.ReplyRef{
			MessageID: replyID.String,
			Username:  replyUser.String,
			Text:      replyText.String,
		}
	}
	return m, nil
}
