package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"portalchat/internal/domain"
	"portalchat/internal/presence"
	"portalchat/internal/service"
)

const maxUsernameRunes = 50

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func cleanUsername(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "anonymous"
	}
	if runes := []rune(name); len(runes) > maxUsernameRunes {
		name = string(runes[:maxUsernameRunes])
	}
	return name
}

// MakeHandler returns the HTTP handler for the /ws chat endpoint: the
// per-connection session controller. It establishes the session from
// the client-asserted device id, registers presence with a deferred
// removal intent, replays the message tail, then dispatches events:
//   - message       -> post (optional reply_to) & stream to the room
//   - react         -> toggle an emoji reaction
//   - report        -> file a report against a message
//   - set_username  -> change the display name mid-session
//   - ping          -> heartbeat, refreshes presence liveness
func MakeHandler(
	logger *zap.SugaredLogger,
	hub *Hub,
	reg *presence.Registry,
	chat *service.ChatService,
	reactions *service.ReactionService,
	moderation *service.ModerationService,
	allowedOrigins []string,
	heartbeat time.Duration,
	maxMessageRunes int,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	readWait := 3 * heartbeat

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		q := r.URL.Query()
		deviceID := strings.TrimSpace(q.Get("device_id"))
		if !domain.ValidDeviceID(deviceID) {
			http.Error(w, "missing or invalid device_id", http.StatusBadRequest)
			return
		}
		username := cleanUsername(q.Get("username"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Worst-case UTF-8 for the text cap plus envelope slack.
		conn.SetReadLimit(4*int64(maxMessageRunes) + 1024)

		ctx := r.Context()
		sess := &domain.Session{
			ID:       uuid.NewString(),
			Username: username,
			DeviceID: deviceID,
		}
		client := NewClient(sess.ID, deviceID, conn)

		// Join order matters: the deferred Leave is the server-side
		// "remove on disconnect" intent registered atomically with the
		// join, so a crash or close never leaves a dangling entry.
		hub.Register(client)
		reg.Join(sess.ID, sess.Username, deviceID)
		defer func() {
			reg.Leave(sess.ID)
			hub.Unregister(sess.ID)
		}()

		// Join first, check the ban list second. A ban recorded before
		// this check is caught here; one recorded after it already sees
		// the session in presence and the hub. Banned devices get the
		// persistent notice and nothing else.
		if rec, err := moderation.GetBan(ctx, deviceID); err == nil {
			client.Kick(banFrame(rec.Reason))
			return
		} else if !errors.Is(err, domain.ErrNotFound) {
			logger.Warnw("ban check on join", "error", err)
		}

		moderation.RecordDeviceName(ctx, sess.Username, deviceID)

		history, tailCh, cancelTail := chat.SubscribeTail(0)
		defer cancelTail()

		if err := client.Send(map[string]any{
			"type":       "joined",
			"session_id": sess.ID,
			"username":   sess.Username,
		}); err != nil {
			return
		}
		if err := client.Send(map[string]any{
			"type":     "history",
			"messages": history,
		}); err != nil {
			return
		}

		// Forward tail events until the subscription is cancelled.
		go func() {
			for ev := range tailCh {
				switch ev.Type {
				case service.EventMessage:
					if err := client.Send(map[string]any{
						"type":    "message",
						"message": ev.Message,
					}); err != nil {
						return
					}
				case service.EventCleared:
					if err := client.Send(map[string]any{"type": "log_cleared"}); err != nil {
						return
					}
				}
			}
		}()

		logger.Infow("session joined", "session_id", sess.ID, "username", sess.Username)
		defer logger.Infow("session left", "session_id", sess.ID)

		for {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			var payload map[string]any
			if err := conn.ReadJSON(&payload); err != nil {
				return
			}
			reg.Heartbeat(sess.ID)

			msgType, _ := payload["type"].(string)
			switch msgType {

			case "ping":
				_ = client.Send(map[string]any{"type": "pong"})

			case "message":
				text, _ := payload["text"].(string)
				replyTo, _ := payload["reply_to"].(string)
				if _, err := chat.Post(ctx, sess, text, replyTo); err != nil {
					sendActionError(ctx, logger, client, moderation, sess.DeviceID, err)
				}

			case "react":
				messageID, _ := payload["message_id"].(string)
				emoji, _ := payload["emoji"].(string)
				if err := reactions.Toggle(ctx, messageID, emoji, sess.DeviceID); err != nil {
					sendActionError(ctx, logger, client, moderation, sess.DeviceID, err)
				}

			case "report":
				messageID, _ := payload["message_id"].(string)
				reason, _ := payload["reason"].(string)
				rep, err := moderation.FileReport(ctx, messageID, sess.DeviceID, reason)
				if errors.Is(err, domain.ErrDuplicateReport) {
					// Idempotent from the reporter's point of view.
					_ = client.Send(map[string]any{
						"type":       "report_ack",
						"message_id": messageID,
						"duplicate":  true,
					})
					continue
				}
				if err != nil {
					sendActionError(ctx, logger, client, moderation, sess.DeviceID, err)
					continue
				}
				_ = client.Send(map[string]any{
					"type":       "report_ack",
					"report_id":  rep.ID,
					"message_id": messageID,
				})

			case "set_username":
				raw, _ := payload["username"].(string)
				name := cleanUsername(raw)
				sess.Username = name
				reg.Rename(sess.ID, name)
				moderation.RecordDeviceName(ctx, name, sess.DeviceID)

			default:
				logger.Debugw("unknown event type", "type", msgType, "session_id", sess.ID)
			}
		}
	}
}

// errorCode maps domain errors onto wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrBanned):
		return "banned"
	case errors.Is(err, domain.ErrEmptyText):
		return "empty"
	case errors.Is(err, domain.ErrSelfAction):
		return "self_action"
	case errors.Is(err, domain.ErrDuplicateReport):
		return "duplicate_report"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	default:
		return "internal"
	}
}

func sendActionError(
	ctx context.Context,
	logger *zap.SugaredLogger,
	client *Client,
	moderation *service.ModerationService,
	deviceID string,
	err error,
) {
	code := errorCode(err)
	if code == "internal" {
		logger.Warnw("chat action failed", "error", err)
	}
	if code == "banned" {
		reason := ""
		if rec, banErr := moderation.GetBan(ctx, deviceID); banErr == nil {
			reason = rec.Reason
		}
		client.Kick(banFrame(reason))
		return
	}
	_ = client.Send(map[string]any{
		"type":    "error",
		"code":    code,
		"message": err.Error(),
	})
}
