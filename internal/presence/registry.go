// Package presence tracks the live set of connected sessions.
//
// The registry is purely in-memory: presence is ephemeral by contract
// and self-corrects within one heartbeat interval after any fault. The
// primary removal path is the connection handler's deferred Leave; the
// TTL reaper only catches sessions whose server never ran that defer.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"portalchat/internal/domain"
	"portalchat/internal/metrics"
)

type Registry struct {
	logger *zap.SugaredLogger
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[string]*domain.Session
	subs     map[int]chan []domain.Session
	nextSub  int
	now      func() time.Time
}

func NewRegistry(logger *zap.SugaredLogger, ttl time.Duration) *Registry {
	return &Registry{
		logger:   logger,
		ttl:      ttl,
		sessions: make(map[string]*domain.Session),
		subs:     make(map[int]chan []domain.Session),
		now:      time.Now,
	}
}

// Run evicts sessions whose last heartbeat is older than the TTL.
// Blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

// Join registers or overwrites the session entry. Idempotent: joining
// twice with the same session id refreshes it in place.
func (r *Registry) Join(sessionID, username, deviceID string) {
	now := r.now().UTC()
	r.mu.Lock()
	if existing, ok := r.sessions[sessionID]; ok {
		existing.Username = username
		existing.DeviceID = deviceID
		existing.LastSeenAt = now
	} else {
		r.sessions[sessionID] = &domain.Session{
			ID:         sessionID,
			Username:   username,
			DeviceID:   deviceID,
			JoinedAt:   now,
			LastSeenAt: now,
		}
	}
	r.notifyLocked()
	r.mu.Unlock()
}

// Leave removes the session entry if present.
func (r *Registry) Leave(sessionID string) {
	r.mu.Lock()
	if _, ok := r.sessions[sessionID]; ok {
		delete(r.sessions, sessionID)
		r.notifyLocked()
	}
	r.mu.Unlock()
}

// Heartbeat refreshes the session's liveness timestamp.
func (r *Registry) Heartbeat(sessionID string) {
	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok {
		s.LastSeenAt = r.now().UTC()
	}
	r.mu.Unlock()
}

// Rename updates the display name of a live session.
func (r *Registry) Rename(sessionID, username string) {
	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok && s.Username != username {
		s.Username = username
		s.LastSeenAt = r.now().UTC()
		r.notifyLocked()
	}
	r.mu.Unlock()
}

// RemoveDevice force-removes every session of the given device and
// returns the removed session ids. Used for ban propagation.
func (r *Registry) RemoveDevice(deviceID string) []string {
	r.mu.Lock()
	var removed []string
	for id, s := range r.sessions {
		if s.DeviceID == deviceID {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		r.notifyLocked()
	}
	r.mu.Unlock()
	return removed
}

// Subscribe returns a channel receiving the full online set on every
// change, and a cancel func that deterministically tears the listener
// down. Updates are best-effort: a slow listener may miss intermediate
// snapshots but always receives the latest one eventually.
func (r *Registry) Subscribe() (<-chan []domain.Session, func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan []domain.Session, 8)
	r.subs[id] = ch
	// Seed with the current set so subscribers need no separate fetch.
	ch <- r.snapshotLocked()
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// ListSessions returns the current online set sorted by join time.
func (r *Registry) ListSessions() []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// DevicesForUsername returns the device ids of live sessions using the
// given display name.
func (r *Registry) DevicesForUsername(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var res []string
	for _, s := range r.sessions {
		if s.Username != username {
			continue
		}
		if _, ok := seen[s.DeviceID]; ok {
			continue
		}
		seen[s.DeviceID] = struct{}{}
		res = append(res, s.DeviceID)
	}
	sort.Strings(res)
	return res
}

func (r *Registry) reap() {
	cutoff := r.now().UTC().Add(-r.ttl)
	r.mu.Lock()
	var stale []string
	for id, s := range r.sessions {
		if s.LastSeenAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.sessions, id)
	}
	if len(stale) > 0 {
		r.logger.Infow("reaped stale presence entries", "count", len(stale))
		r.notifyLocked()
	}
	r.mu.Unlock()
}

func (r *Registry) snapshotLocked() []domain.Session {
	res := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		res = append(res, *s)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].JoinedAt.Equal(res[j].JoinedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].JoinedAt.Before(res[j].JoinedAt)
	})
	return res
}

func (r *Registry) notifyLocked() {
	metrics.SessionsOnline.Set(float64(len(r.sessions)))
	snap := r.snapshotLocked()
	for _, ch := range r.subs {
		select {
		case ch <- snap:
		default:
			// Listener is behind; drop the stale snapshot in favor of
			// this one so it converges on the latest set.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
