package domain

import (
	"context"
)

// MessageRepository defines persistence for the bounded message log.
type MessageRepository interface {
	Create(ctx context.Context, m *ChatMessage) error
	GetByID(ctx context.Context, id string) (*ChatMessage, error)
	// ListRecent returns the newest limit messages in ascending Seq order.
	ListRecent(ctx context.Context, limit int) ([]*ChatMessage, error)
	// Prune deletes the oldest messages beyond keepLimit and returns the
	// ids of the deleted rows so dependent state can be cleaned up.
	Prune(ctx context.Context, keepLimit int) ([]string, error)
	DeleteAll(ctx context.Context) error
	// DevicesForUsername scans the newest scanLimit messages for device
	// ids that posted under the given display name.
	DevicesForUsername(ctx context.Context, username string, scanLimit int) ([]string, error)
}

// ReactionRepository defines persistence for per-message emoji reactions.
type ReactionRepository interface {
	// Toggle flips the (messageID, emoji, deviceID) membership inside a
	// single transaction and reports whether the reaction is now present.
	Toggle(ctx context.Context, messageID, emoji, deviceID string) (added bool, err error)
	GroupsFor(ctx context.Context, messageID string) ([]ReactionGroup, error)
	DeleteForMessages(ctx context.Context, messageIDs []string) error
	DeleteAll(ctx context.Context) error
}

// BanRepository defines persistence for device bans.
type BanRepository interface {
	Upsert(ctx context.Context, b *BanRecord) error
	// Delete removes the ban and reports whether a record existed.
	Delete(ctx context.Context, deviceID string) (bool, error)
	Get(ctx context.Context, deviceID string) (*BanRecord, error)
	List(ctx context.Context) ([]*BanRecord, error)
}

// ReportRepository defines persistence for the report review queue.
type ReportRepository interface {
	// Create inserts the report; a second report for the same
	// (messageID, reporterDeviceID) pair returns ErrDuplicateReport.
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id string) (*Report, error)
	// List returns reports newest first, optionally filtered by status.
	List(ctx context.Context, status *ReportStatus) ([]*Report, error)
	UpdateStatus(ctx context.Context, id string, status ReportStatus) error
	ExistsFor(ctx context.Context, messageID, reporterDeviceID string) (bool, error)
}

// DeviceNameRepository records which device ids have entered the chat
// under which display names. It is one of the sources reconciled by
// the admin username search.
type DeviceNameRepository interface {
	Record(ctx context.Context, username, deviceID string) error
	DevicesForUsername(ctx context.Context, username string) ([]string, error)
}
