package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"portalchat/internal/domain"
)

type ReactionRepo struct {
	db *sql.DB
}

func NewReactionRepo(db *sql.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

var _ domain.ReactionRepository = (*ReactionRepo)(nil)

// Toggle flips the reactor-set membership of one (message, emoji,
// device) triple inside a single transaction, so concurrent toggles by
// different devices merge instead of overwriting each other.
func (r *ReactionRepo) Toggle(ctx context.Context, messageID, emoji, deviceID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin toggle: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM reactions WHERE message_id = ? AND emoji = ? AND device_id = ?
	`, messageID, emoji, deviceID)
	if err != nil {
		return false, fmt.Errorf("toggle delete: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("toggle rows affected: %w", err)
	}

	added := deleted == 0
	if added {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reactions (message_id, emoji, device_id) VALUES (?, ?, ?)
		`, messageID, emoji, deviceID); err != nil {
			return false, fmt.Errorf("toggle insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit toggle: %w", err)
	}
	return added, nil
}

func (r *ReactionRepo) GroupsFor(ctx context.Context, messageID string) ([]domain.ReactionGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT emoji, device_id FROM reactions
		WHERE message_id = ?
		ORDER BY created_at ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	byEmoji := make(map[string][]string)
	var order []string
	for rows.Next() {
		var emoji, device string
		if err := rows.Scan(&emoji, &device); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		if _, ok := byEmoji[emoji]; !ok {
			order = append(order, emoji)
		}
		byEmoji[emoji] = append(byEmoji[emoji], device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}

	res := make([]domain.ReactionGroup, 0, len(order))
	for _, emoji := range order {
		devices := byEmoji[emoji]
		sort.Strings(devices)
		res = append(res, domain.ReactionGroup{
			Emoji:   emoji,
			Count:   len(devices),
			Devices: devices,
		})
	}
	return res, nil
}

func (r *ReactionRepo) DeleteForMessages(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	query := `DELETE FROM reactions WHERE message_id IN (?` + strings.Repeat(",?", len(messageIDs)-1) + `)`
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete reactions: %w", err)
	}
	return nil
}

func (r *ReactionRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reactions`); err != nil {
		return fmt.Errorf("delete all reactions: %w", err)
	}
	return nil
}
