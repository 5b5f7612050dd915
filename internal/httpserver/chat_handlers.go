package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"portalchat/internal/domain"
	"portalchat/internal/service"
)

func handleListMessages(svc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				limit = n
			}
		}
		msgs := svc.History(limit)
		if msgs == nil {
			msgs = []*domain.ChatMessage{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleMessageReactions(svc *service.ReactionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := chi.URLParam(r, "messageID")
		groups, err := svc.GroupsFor(r.Context(), messageID)
		if err != nil {
			writeError(w, err)
			return
		}
		if groups == nil {
			groups = []domain.ReactionGroup{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message_id": messageID,
			"groups":     groups,
		})
	}
}
