package ws

import (
	"context"

	"go.uber.org/zap"

	"portalchat/internal/domain"
	"portalchat/internal/presence"
	"portalchat/internal/service"
)

// Broadcaster is the room's fan-out goroutine. It consumes the
// presence, reaction, and ban subscriptions once and pushes updates to
// every connection through the hub; banned devices are cut off the
// moment the ban event arrives.
type Broadcaster struct {
	logger     *zap.SugaredLogger
	hub        *Hub
	presence   *presence.Registry
	reactions  *service.ReactionService
	moderation *service.ModerationService
}

func NewBroadcaster(
	logger *zap.SugaredLogger,
	hub *Hub,
	reg *presence.Registry,
	reactions *service.ReactionService,
	moderation *service.ModerationService,
) *Broadcaster {
	return &Broadcaster{
		logger:     logger,
		hub:        hub,
		presence:   reg,
		reactions:  reactions,
		moderation: moderation,
	}
}

// Run blocks until ctx is cancelled. All subscriptions are torn down
// on exit.
func (b *Broadcaster) Run(ctx context.Context) {
	presenceCh, cancelPresence := b.presence.Subscribe()
	defer cancelPresence()
	reactionCh, cancelReactions := b.reactions.SubscribeAll()
	defer cancelReactions()
	banCh, cancelBans := b.moderation.SubscribeBans()
	defer cancelBans()

	for {
		select {
		case <-ctx.Done():
			return

		case sessions, ok := <-presenceCh:
			if !ok {
				return
			}
			b.hub.Broadcast(presenceFrame(sessions))

		case update, ok := <-reactionCh:
			if !ok {
				return
			}
			b.hub.Broadcast(map[string]any{
				"type":       "reactions",
				"message_id": update.MessageID,
				"groups":     update.Groups,
			})

		case ev, ok := <-banCh:
			if !ok {
				return
			}
			if ev.Banned {
				b.logger.Infow("cutting off banned device", "device_id", ev.DeviceID)
				b.hub.KickDevice(ev.DeviceID, banFrame(ev.Reason))
			}
		}
	}
}

func presenceFrame(sessions []domain.Session) map[string]any {
	users := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		users = append(users, map[string]any{
			"session_id": s.ID,
			"username":   s.Username,
		})
	}
	return map[string]any{
		"type":  "presence",
		"count": len(sessions),
		"users": users,
	}
}

func banFrame(reason string) map[string]any {
	return map[string]any{
		"type":   "banned",
		"reason": reason,
	}
}
