package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portalchat/internal/domain"
	"portalchat/internal/metrics"
)

// PresenceDirectory is the slice of the presence registry the
// moderation subsystem needs: ban propagation and username search.
type PresenceDirectory interface {
	RemoveDevice(deviceID string) []string
	DevicesForUsername(username string) []string
	ListSessions() []domain.Session
}

// BanEvent is pushed to ban subscribers whenever a device's ban state
// flips. Live sessions react to it without reconnecting.
type BanEvent struct {
	DeviceID string `json:"device_id"`
	Banned   bool   `json:"banned"`
	Reason   string `json:"reason"`
}

// messageScanLimit bounds how many recent messages the username search
// scans for device attribution.
const messageScanLimit = 500

// reportTransitions is the full review workflow: pending can be
// reviewed or dismissed, reviewed can be resolved, and both terminal
// states can be reopened.
var reportTransitions = map[domain.ReportStatus][]domain.ReportStatus{
	domain.ReportPending:   {domain.ReportReviewed, domain.ReportDismissed},
	domain.ReportReviewed:  {domain.ReportResolved},
	domain.ReportResolved:  {domain.ReportPending},
	domain.ReportDismissed: {domain.ReportPending},
}

// ModerationService owns the ban list, the report queue, and admin
// search. The ban list is single-writer (admin) / multi-reader; reads
// hit the store so a ban is visible to in-flight sessions immediately.
type ModerationService struct {
	logger   *zap.SugaredLogger
	bans     domain.BanRepository
	reports  domain.ReportRepository
	names    domain.DeviceNameRepository
	messages domain.MessageRepository
	presence PresenceDirectory

	mu      sync.Mutex
	banSubs map[int]chan BanEvent
	nextSub int
}

func NewModerationService(
	logger *zap.SugaredLogger,
	bans domain.BanRepository,
	reports domain.ReportRepository,
	names domain.DeviceNameRepository,
	messages domain.MessageRepository,
	presence PresenceDirectory,
) *ModerationService {
	return &ModerationService{
		logger:   logger,
		bans:     bans,
		reports:  reports,
		names:    names,
		messages: messages,
		presence: presence,
		banSubs:  make(map[int]chan BanEvent),
	}
}

var _ BanChecker = (*ModerationService)(nil)

// Ban records a ban for the device and propagates it: presence entries
// are force-removed and ban subscribers are notified so active
// sessions are cut off immediately. adminID comes from the already
// verified admin identity; an empty one fails closed.
func (s *ModerationService) Ban(ctx context.Context, deviceID, reason, adminID string) error {
	if adminID == "" {
		return domain.ErrUnauthorized
	}
	if !domain.ValidDeviceID(deviceID) {
		return domain.ErrInvalidInput
	}

	rec := &domain.BanRecord{
		DeviceID: deviceID,
		Reason:   reason,
		BannedBy: adminID,
		BannedAt: time.Now().UTC(),
	}
	if err := s.bans.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("record ban: %w", err)
	}

	removed := s.presence.RemoveDevice(deviceID)
	s.notifyBan(BanEvent{DeviceID: deviceID, Banned: true, Reason: reason})
	s.refreshBanGauge(ctx)
	s.logger.Infow("device banned",
		"device_id", deviceID, "by", adminID, "sessions_removed", len(removed))
	return nil
}

// Unban lifts the ban. Returns domain.ErrNotFound when the device was
// not banned.
func (s *ModerationService) Unban(ctx context.Context, deviceID string) error {
	existed, err := s.bans.Delete(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("delete ban: %w", err)
	}
	if !existed {
		return domain.ErrNotFound
	}
	s.notifyBan(BanEvent{DeviceID: deviceID, Banned: false})
	s.refreshBanGauge(ctx)
	s.logger.Infow("device unbanned", "device_id", deviceID)
	return nil
}

// IsBanned is consulted synchronously inside post and toggle.
func (s *ModerationService) IsBanned(ctx context.Context, deviceID string) (bool, error) {
	_, err := s.bans.Get(ctx, deviceID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetBan returns the ban record for a device, if any.
func (s *ModerationService) GetBan(ctx context.Context, deviceID string) (*domain.BanRecord, error) {
	return s.bans.Get(ctx, deviceID)
}

// ListBans returns all active bans, newest first.
func (s *ModerationService) ListBans(ctx context.Context) ([]*domain.BanRecord, error) {
	return s.bans.List(ctx)
}

// SubscribeBans streams ban state changes. The cancel func tears the
// listener down deterministically.
func (s *ModerationService) SubscribeBans() (<-chan BanEvent, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan BanEvent, 16)
	s.banSubs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.banSubs[id]; ok {
			delete(s.banSubs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// FileReport files a complaint about a message, snapshotting its text
// and author. Reporting one's own message is domain.ErrSelfAction; a
// second report for the same (message, reporter) pair is
// domain.ErrDuplicateReport.
func (s *ModerationService) FileReport(ctx context.Context, messageID, reporterDeviceID, reason string) (*domain.Report, error) {
	if !domain.ValidDeviceID(reporterDeviceID) {
		return nil, domain.ErrInvalidInput
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.DeviceID == reporterDeviceID {
		return nil, domain.ErrSelfAction
	}

	exists, err := s.reports.ExistsFor(ctx, messageID, reporterDeviceID)
	if err != nil {
		return nil, fmt.Errorf("check existing report: %w", err)
	}
	if exists {
		return nil, domain.ErrDuplicateReport
	}

	rep := &domain.Report{
		ID:               uuid.NewString(),
		MessageID:        msg.ID,
		MessageText:      msg.Text,
		ReportedUsername: msg.Username,
		ReportedDeviceID: msg.DeviceID,
		ReporterDeviceID: reporterDeviceID,
		Reason:           reason,
		Status:           domain.ReportPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.reports.Create(ctx, rep); err != nil {
		// The unique index catches a filing race the ExistsFor check missed.
		if errors.Is(err, domain.ErrDuplicateReport) {
			return nil, domain.ErrDuplicateReport
		}
		return nil, fmt.Errorf("file report: %w", err)
	}

	metrics.ReportsFiled.Inc()
	s.logger.Infow("report filed", "report_id", rep.ID, "message_id", messageID)
	return rep, nil
}

// ListReports returns reports, optionally filtered by status.
func (s *ModerationService) ListReports(ctx context.Context, status *domain.ReportStatus) ([]*domain.Report, error) {
	if status != nil && !domain.ValidReportStatus(*status) {
		return nil, domain.ErrInvalidInput
	}
	return s.reports.List(ctx, status)
}

// SetReportStatus advances a report through the review workflow.
// Invalid moves return domain.ErrInvalidTransition.
func (s *ModerationService) SetReportStatus(ctx context.Context, id string, status domain.ReportStatus) (*domain.Report, error) {
	if !domain.ValidReportStatus(status) {
		return nil, domain.ErrInvalidInput
	}
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(rep.Status, status) {
		return nil, domain.ErrInvalidTransition
	}
	if err := s.reports.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	rep.Status = status
	return rep, nil
}

// RecordDeviceName refreshes the username -> device attribution
// registry; called on every chat entry and rename. Best effort.
func (s *ModerationService) RecordDeviceName(ctx context.Context, username, deviceID string) {
	if err := s.names.Record(ctx, username, deviceID); err != nil {
		s.logger.Warnw("record device name", "error", err)
	}
}

// SearchUsername reconciles three sources of device attribution for a
// display name: the entry registry, recent message authorship, and
// live presence. Names are neither unique nor verified, so the admin
// gets every correlated candidate with its sources.
func (s *ModerationService) SearchUsername(ctx context.Context, username string) ([]domain.UsernameMatch, error) {
	if username == "" {
		return nil, domain.ErrInvalidInput
	}

	bySource := make(map[string][]string)

	fromRegistry, err := s.names.DevicesForUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("search registry: %w", err)
	}
	for _, d := range fromRegistry {
		bySource[d] = append(bySource[d], "registry")
	}

	fromMessages, err := s.messages.DevicesForUsername(ctx, username, messageScanLimit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	for _, d := range fromMessages {
		bySource[d] = append(bySource[d], "messages")
	}

	for _, d := range s.presence.DevicesForUsername(username) {
		bySource[d] = append(bySource[d], "presence")
	}

	matches := make([]domain.UsernameMatch, 0, len(bySource))
	for device, sources := range bySource {
		matches = append(matches, domain.UsernameMatch{DeviceID: device, Sources: sources})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].DeviceID < matches[j].DeviceID })
	return matches, nil
}

// ListActiveSessions exposes the live presence set to the admin API.
func (s *ModerationService) ListActiveSessions() []domain.Session {
	return s.presence.ListSessions()
}

func transitionAllowed(from, to domain.ReportStatus) bool {
	for _, allowed := range reportTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *ModerationService) notifyBan(ev BanEvent) {
	s.mu.Lock()
	for _, ch := range s.banSubs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *ModerationService) refreshBanGauge(ctx context.Context) {
	if bans, err := s.bans.List(ctx); err == nil {
		metrics.BansActive.Set(float64(len(bans)))
	}
}
