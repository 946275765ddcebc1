package web

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/netresearch/cronhook/store"
)

func (s *Server) listNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	items, err := s.store.ListNotifications(r.Context(), userID, unreadOnly, listLimit(r))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if items == nil {
		items = []*store.Notification{}
	}
	writeJSON(w, http.StatusOK, items)
}

// markNotificationReadHandler marks one notification read. The user_id in
// the body scopes the update so one user cannot clear another's inbox.
func (s *Server) markNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.store.MarkNotificationRead(r.Context(), r.PathValue("id"), req.UserID); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listTeamsHandler(w http.ResponseWriter, r *http.Request) {
	teams, err := s.store.ListTeams(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if teams == nil {
		teams = []*store.Team{}
	}
	writeJSON(w, http.StatusOK, teams)
}

func (s *Server) listCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if categories == nil {
		categories = []*store.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) getSlackSettingsHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetSlackSettings(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) putSlackSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var cfg store.SlackSettings
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cfg.IsEnabled && cfg.WebhookURL == "" {
		writeError(w, http.StatusUnprocessableEntity, "webhook_url is required when Slack is enabled")
		return
	}
	if cfg.WebhookURL != "" {
		u, err := url.Parse(cfg.WebhookURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			writeError(w, http.StatusUnprocessableEntity, "webhook_url must be an https URL")
			return
		}
	}
	if err := s.store.SaveSlackSettings(r.Context(), &cfg); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &cfg)
}
