package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"portalchat/internal/domain"
	"portalchat/internal/metrics"
)

// ReactionUpdate carries the full aggregate for one message after a
// change.
type ReactionUpdate struct {
	MessageID string                 `json:"message_id"`
	Groups    []domain.ReactionGroup `json:"groups"`
}

// ReactionService maintains the per-message emoji aggregates. Toggles
// are serialized under one mutex on top of the repo's transactional
// insert-or-delete, so concurrent reactions merge and never lose an
// update to a whole-aggregate overwrite.
type ReactionService struct {
	logger    *zap.SugaredLogger
	reactions domain.ReactionRepository
	messages  domain.MessageRepository
	bans      BanChecker

	mu      sync.Mutex
	msgSubs map[string]map[int]chan ReactionUpdate
	allSubs map[int]chan ReactionUpdate
	nextSub int
}

func NewReactionService(
	logger *zap.SugaredLogger,
	reactions domain.ReactionRepository,
	messages domain.MessageRepository,
	bans BanChecker,
) *ReactionService {
	return &ReactionService{
		logger:    logger,
		reactions: reactions,
		messages:  messages,
		bans:      bans,
		msgSubs:   make(map[string]map[int]chan ReactionUpdate),
		allSubs:   make(map[int]chan ReactionUpdate),
	}
}

// Toggle flips deviceID's membership in the emoji's reactor set.
// Returns domain.ErrNotFound for an unknown message,
// domain.ErrSelfAction when the device authored the message, and
// domain.ErrBanned for banned devices.
func (s *ReactionService) Toggle(ctx context.Context, messageID, emoji, deviceID string) error {
	if emoji == "" || !domain.ValidDeviceID(deviceID) {
		return domain.ErrInvalidInput
	}

	banned, err := s.bans.IsBanned(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return domain.ErrBanned
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.DeviceID == deviceID {
		return domain.ErrSelfAction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.reactions.Toggle(ctx, messageID, emoji, deviceID); err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}
	groups, err := s.reactions.GroupsFor(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load reaction groups: %w", err)
	}

	s.notifyLocked(ReactionUpdate{MessageID: messageID, Groups: groups})
	metrics.ReactionsToggled.Inc()
	return nil
}

// GroupsFor returns the current aggregate for one message.
func (s *ReactionService) GroupsFor(ctx context.Context, messageID string) ([]domain.ReactionGroup, error) {
	return s.reactions.GroupsFor(ctx, messageID)
}

// Subscribe streams the aggregate of one message on every change.
func (s *ReactionService) Subscribe(messageID string) (<-chan ReactionUpdate, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan ReactionUpdate, 16)
	if s.msgSubs[messageID] == nil {
		s.msgSubs[messageID] = make(map[int]chan ReactionUpdate)
	}
	s.msgSubs[messageID][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if subs, ok := s.msgSubs[messageID]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
			}
			if len(subs) == 0 {
				delete(s.msgSubs, messageID)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// SubscribeAll streams every reaction change in the room. The chat
// transport uses this to fan updates out to connected clients.
func (s *ReactionService) SubscribeAll() (<-chan ReactionUpdate, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan ReactionUpdate, 64)
	s.allSubs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.allSubs[id]; ok {
			delete(s.allSubs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *ReactionService) notifyLocked(u ReactionUpdate) {
	for _, ch := range s.msgSubs[u.MessageID] {
		select {
		case ch <- u:
		default:
		}
	}
	for _, ch := range s.allSubs {
		select {
		case ch <- u:
		default:
		}
	}
}
