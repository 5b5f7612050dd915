package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"portalchat/internal/domain"
	"portalchat/internal/service"
)

func handleListSessions(svc *service.ModerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := svc.ListActiveSessions()
		writeJSON(w, http.StatusOK, map[string]any{
			"count":    len(sessions),
			"sessions": sessions,
		})
	}
}

func handleClearMessages(svc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearAll(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

type banRequest struct {
	DeviceID string `json:"device_id"`
	Reason   string `json:"reason"`
}

func handleBanDevice(svc *service.ModerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req banRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if err := svc.Ban(r.Context(), req.DeviceID, req.Reason, CurrentAdmin(r)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "banned", "device_id": req.DeviceID})
	}
}

func handleUnbanDevice(svc *service.ModerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "deviceID")
		if err := svc.Unban(r.Context(), deviceID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unbanned", "device_id": deviceID})
	}
}

func handleListBans(svc *service.ModerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bans, err := svc.ListBans(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if bans == nil {
			bans = []*domain.BanRecord{}
		}
		writeJSON(w, http.StatusOK, bans)
	}
}

func handleSearchUsername(svc *service.ModerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := r.URL.Query().Get("username")
		matches, err := svc.SearchUsername(r.Context(), username)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"username": username,
			"matches":  matches,
		})
	}
}

func handleListReports(svc *service.ModerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status *domain.ReportStatus
		if s := r.URL.Query().Get("status"); s != "" {
			st := domain.ReportStatus(s)
			status = &st
		}
		reports, err := svc.ListReports(r.Context(), status)
		if err != nil {
			writeError(w, err)
			return
		}
		if reports == nil {
			reports = []*domain.Report{}
		}
		writeJSON(w, http.StatusOK, reports)
	}
}

type reportStatusRequest struct {
	Status domain.ReportStatus `json:"status"`
}

func handleSetReportStatus(svc *service.ModerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reportID := chi.URLParam(r, "reportID")
		var req reportStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		rep, err := svc.SetReportStatus(r.Context(), reportID, req.Status)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}
