package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// getCheckpoint handles GET /v1/checkpoint with the cursor the next crawl
// resumes from.
func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checkpoints == nil {
		writeError(w, http.StatusServiceUnavailable, "checkpoint store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), repoTimeout)
	defer cancel()
	cur, err := s.deps.Checkpoints.Load(ctx)
	if err != nil {
		s.logger.Error("load checkpoint failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": cur, "position": cur.String()})
}

// listAlerts handles GET /v1/alerts?limit=.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alert repository unavailable")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultAlertLimit, maxAlertLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), repoTimeout)
	defer cancel()
	alerts, err := s.deps.Alerts.RecentAlerts(ctx, limit)
	if err != nil {
		s.logger.Error("list alerts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// startRescan handles POST /v1/rescan. The rescan runs in the background;
// 409 means one is already running.
func (s *Server) startRescan(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Rescan == nil {
		writeError(w, http.StatusServiceUnavailable, "rescan unavailable")
		return
	}
	if !s.deps.Rescan.Start() {
		writeError(w, http.StatusConflict, "rescan already running")
		return
	}
	writeJSON(w, http.StatusAccepted, s.deps.Rescan.Status())
}

// rescanStatus handles GET /v1/rescan.
func (s *Server) rescanStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Rescan == nil {
		writeError(w, http.StatusServiceUnavailable, "rescan unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Rescan.Status())
}
