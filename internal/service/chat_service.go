package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portalchat/internal/domain"
	"portalchat/internal/metrics"
)

// BanChecker is the slice of the moderation subsystem the chat and
// reaction services consult synchronously.
type BanChecker interface {
	IsBanned(ctx context.Context, deviceID string) (bool, error)
}

// ChatEventType tags entries on a tail subscription.
type ChatEventType string

const (
	// EventMessage carries one newly appended message.
	EventMessage ChatEventType = "message"
	// EventCleared signals that the whole log was emptied at once.
	EventCleared ChatEventType = "cleared"
)

type ChatEvent struct {
	Type    ChatEventType
	Message *domain.ChatMessage
}

// replyExcerptRunes bounds the quoted text snapshot stored on a reply.
const replyExcerptRunes = 200

// ChatService owns the room's single ordered message log and its
// broadcast fan-out. All mutations run under one mutex, which is what
// gives the log its total order and makes ClearAll indivisible.
type ChatService struct {
	logger    *zap.SugaredLogger
	messages  domain.MessageRepository
	reactions domain.ReactionRepository
	bans      BanChecker

	historyLimit int
	maxRunes     int

	mu      sync.Mutex
	tail    []*domain.ChatMessage
	subs    map[int]chan ChatEvent
	nextSub int
}

func NewChatService(
	logger *zap.SugaredLogger,
	messages domain.MessageRepository,
	reactions domain.ReactionRepository,
	bans BanChecker,
	historyLimit int,
	maxRunes int,
) *ChatService {
	return &ChatService{
		logger:       logger,
		messages:     messages,
		reactions:    reactions,
		bans:         bans,
		historyLimit: historyLimit,
		maxRunes:     maxRunes,
		subs:         make(map[int]chan ChatEvent),
	}
}

// Restore loads the persisted recent window into the in-memory tail.
// Call once at startup, before any subscriber attaches.
func (s *ChatService) Restore(ctx context.Context) error {
	msgs, err := s.messages.ListRecent(ctx, s.historyLimit)
	if err != nil {
		return fmt.Errorf("restore message tail: %w", err)
	}
	s.mu.Lock()
	s.tail = msgs
	s.mu.Unlock()
	s.logger.Infow("restored message tail", "messages", len(msgs))
	return nil
}

// Post appends a message to the log. Banned devices get
// domain.ErrBanned, blank text domain.ErrEmptyText. When replyToID is
// set, an immutable excerpt of the original is snapshotted onto the
// new message; clearing the log later never alters that excerpt.
func (s *ChatService) Post(ctx context.Context, sess *domain.Session, text, replyToID string) (*domain.ChatMessage, error) {
	banned, err := s.bans.IsBanned(ctx, sess.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("check ban: %w", err)
	}
	if banned {
		metrics.MessagesRejected.WithLabelValues("banned").Inc()
		return nil, domain.ErrBanned
	}

	text = strings.TrimSpace(text)
	if text == "" {
		metrics.MessagesRejected.WithLabelValues("empty").Inc()
		return nil, domain.ErrEmptyText
	}
	if runes := []rune(text); len(runes) > s.maxRunes {
		text = string(runes[:s.maxRunes])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var replyTo *domain.ReplyRef
	if replyToID != "" {
		orig, err := s.messages.GetByID(ctx, replyToID)
		if err != nil {
			return nil, err
		}
		excerpt := orig.Text
		if runes := []rune(excerpt); len(runes) > replyExcerptRunes {
			excerpt = string(runes[:replyExcerptRunes])
		}
		replyTo = &domain.ReplyRef{
			MessageID: orig.ID,
			Username:  orig.Username,
			Text:      excerpt,
		}
	}

	m := &domain.ChatMessage{
		ID:        uuid.NewString(),
		Username:  sess.Username,
		DeviceID:  sess.DeviceID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
		ReplyTo:   replyTo,
	}

	if err := withRetry(ctx, func() error {
		return s.messages.Create(ctx, m)
	}); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	s.tail = append(s.tail, m)
	if len(s.tail) > s.historyLimit {
		s.tail = s.tail[len(s.tail)-s.historyLimit:]
	}
	if pruned, err := s.messages.Prune(ctx, s.historyLimit); err != nil {
		s.logger.Warnw("prune old messages", "error", err)
	} else if len(pruned) > 0 {
		if err := s.reactions.DeleteForMessages(ctx, pruned); err != nil {
			s.logger.Warnw("prune reactions", "error", err)
		}
	}

	s.broadcastLocked(ChatEvent{Type: EventMessage, Message: m})
	metrics.MessagesPosted.Inc()
	return m, nil
}

// SubscribeTail returns the newest limit messages in ascending order
// plus a channel streaming subsequent events. Snapshot and
// registration happen under one lock, so the stream has no gap and no
// duplicate relative to the snapshot.
func (s *ChatService) SubscribeTail(limit int) ([]*domain.ChatMessage, <-chan ChatEvent, func()) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	s.mu.Lock()
	history := s.snapshotLocked(limit)
	id := s.nextSub
	s.nextSub++
	ch := make(chan ChatEvent, 64)
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		s.dropSubLocked(id)
		s.mu.Unlock()
	}
	return history, ch, cancel
}

// History returns the newest limit messages in ascending order.
func (s *ChatService) History(limit int) []*domain.ChatMessage {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(limit)
}

// ClearAll empties the log as one indivisible operation; every
// subscriber observes a single EventCleared, never a partial log.
func (s *ChatService) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.messages.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if err := s.reactions.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear reactions: %w", err)
	}
	s.tail = nil
	s.broadcastLocked(ChatEvent{Type: EventCleared})
	s.logger.Infow("message log cleared")
	return nil
}

// GetMessage looks a message up by id.
func (s *ChatService) GetMessage(ctx context.Context, id string) (*domain.ChatMessage, error) {
	return s.messages.GetByID(ctx, id)
}

func (s *ChatService) snapshotLocked(limit int) []*domain.ChatMessage {
	start := 0
	if len(s.tail) > limit {
		start = len(s.tail) - limit
	}
	res := make([]*domain.ChatMessage, len(s.tail)-start)
	copy(res, s.tail[start:])
	return res
}

func (s *ChatService) broadcastLocked(ev ChatEvent) {
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// A subscriber that can't keep up would otherwise see a gap;
			// ending the subscription keeps the no-gap contract honest.
			s.logger.Warnw("dropping slow tail subscriber", "sub", id)
			s.dropSubLocked(id)
		}
	}
}

func (s *ChatService) dropSubLocked(id int) {
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}
