package domain

import "time"

// Session represents one connected client instance. Sessions are
// ephemeral: created on chat entry, refreshed on heartbeat, removed on
// disconnect. The display name is mutable and non-unique.
type Session struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	DeviceID   string    `json:"device_id"`
	JoinedAt   time.Time `json:"joined_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// ReplyRef is an immutable snapshot of the message being replied to,
// captured at post time. Deleting the original message never changes
// the quoted excerpt.
type ReplyRef struct {
	MessageID string `json:"message_id"`
	Username  string `json:"username"`
	Text      string `json:"text"`
}

// ChatMessage is one entry in the room's append-only log. Seq is
// server-assigned and strictly increasing; delivery order follows Seq,
// with CreatedAt non-decreasing along it.
type ChatMessage struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Username  string    `json:"username"`
	DeviceID  string    `json:"device_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	ReplyTo   *ReplyRef `json:"reply_to,omitempty"`
}

// ReactionGroup is the aggregated view of one emoji on one message.
// Count always equals len(Devices).
type ReactionGroup struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	Devices []string `json:"devices"`
}

// BanRecord blocks a device from posting, reacting, and presence.
type BanRecord struct {
	DeviceID string    `json:"device_id"`
	Reason   string    `json:"reason"`
	BannedBy string    `json:"banned_by"`
	BannedAt time.Time `json:"banned_at"`
}

// ReportStatus is the review state of a filed report.
type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportReviewed  ReportStatus = "reviewed"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

// ValidReportStatus reports whether s is a known review state.
func ValidReportStatus(s ReportStatus) bool {
	switch s {
	case ReportPending, ReportReviewed, ReportResolved, ReportDismissed:
		return true
	}
	return false
}

// Report is a user-filed complaint about a message. Message text,
// username and device id are snapshotted at filing time so the report
// stays reviewable after the message is pruned or cleared.
type Report struct {
	ID               string       `json:"id"`
	MessageID        string       `json:"message_id"`
	MessageText      string       `json:"message_text"`
	ReportedUsername string       `json:"reported_username"`
	ReportedDeviceID string       `json:"reported_device_id"`
	ReporterDeviceID string       `json:"reporter_device_id"`
	Reason           string       `json:"reason"`
	Status           ReportStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
}

// UsernameMatch is one candidate device id for a searched display
// name, with the sources that correlated it. Display names are not
// unique and can be impersonated, so the admin gets every candidate.
type UsernameMatch struct {
	DeviceID string   `json:"device_id"`
	Sources  []string `json:"sources"`
}

// A device id is a client-generated, client-stored opaque token; there
// is no server-issued credential behind it. A malicious client can
// fabricate or clear it to evade a ban. That trust boundary is
// accepted, not something to patch server-side.
const MaxDeviceIDLen = 64

// ValidDeviceID checks the shape of a client-asserted device id.
func ValidDeviceID(id string) bool {
	return id != "" && len(id) <= MaxDeviceIDLen
}
