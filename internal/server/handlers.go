package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/woozymasta/maintsync/internal/duration"
	"github.com/woozymasta/maintsync/internal/maintenance"
	"github.com/woozymasta/maintsync/internal/models"
	"github.com/woozymasta/maintsync/internal/timer"
	"github.com/woozymasta/maintsync/internal/validate"
	"github.com/woozymasta/maintsync/internal/vars"
)

// handleStatus returns the node status: state, timer, whitelist size and last announcement.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

// handleEnable turns maintenance on. Body: {"mode":"GLOBAL","reason":"...","started_by":"..."}
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	var req enableRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.Mode == "" {
		req.Mode = models.ModeGlobal.String()
	}
	mode, err := models.ParseMode(req.Mode)
	if err != nil || mode == models.ModeDisabled {
		writeError(w, http.StatusBadRequest, "invalid maintenance mode")
		return
	}

	ok, err := s.node.Machine.Enable(r.Context(), mode, validate.Sanitize(req.Reason), validate.Sanitize(req.StartedBy))
	switch {
	case errors.Is(err, maintenance.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to enable maintenance")
		writeError(w, http.StatusInternalServerError, "database error")
	case !ok:
		writeError(w, http.StatusConflict, "maintenance is already enabled")
	default:
		writeJSON(w, http.StatusOK, s.node.Machine.State())
	}
}

// handleDisable turns maintenance off.
func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	ok, err := s.node.Machine.Disable(r.Context())
	switch {
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to disable maintenance")
		writeError(w, http.StatusInternalServerError, "database error")
	case !ok:
		writeError(w, http.StatusConflict, "maintenance is not enabled")
	default:
		writeJSON(w, http.StatusOK, result{Status: "ok", Message: "maintenance disabled"})
	}
}

// handleWhitelist lists whitelisted players sorted by name.
func (s *Server) handleWhitelist(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Whitelist.Entries())
}

// handleWhitelistAdd whitelists a player. Body: {"uuid":"...","name":"...","reason":"...","added_by":"..."}
func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := validate.PlayerUUID(req.UUID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !validate.PlayerName(req.Name) {
		writeError(w, http.StatusBadRequest, "invalid player name")
		return
	}

	ok, err := s.node.Whitelist.Add(r.Context(), id, req.Name, validate.Sanitize(req.Reason), validate.Sanitize(req.AddedBy))
	switch {
	case err != nil:
		s.logger.Error().Err(err).Str("uuid", id.String()).Msg("Failed to add player to whitelist")
		writeError(w, http.StatusInternalServerError, "database error")
	case !ok:
		writeError(w, http.StatusConflict, "player is already whitelisted")
	default:
		entry, _ := s.node.Whitelist.Get(id)
		writeJSON(w, http.StatusOK, entry)
	}
}

// handleWhitelistRemove drops a player from the whitelist.
func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	id, err := validate.PlayerUUID(r.PathValue("uuid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := s.node.Whitelist.Remove(r.Context(), id)
	switch {
	case err != nil:
		s.logger.Error().Err(err).Str("uuid", id.String()).Msg("Failed to remove player from whitelist")
		writeError(w, http.StatusInternalServerError, "database error")
	case !ok:
		writeError(w, http.StatusNotFound, "player is not whitelisted")
	default:
		writeJSON(w, http.StatusOK, result{Status: "ok", Message: "player removed"})
	}
}

func (s *Server) handleWhitelistClear(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Whitelist.Clear(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear whitelist")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, result{Status: "ok", Message: "whitelist cleared"})
}

// handleWhitelistRefresh reloads the whitelist cache from the store.
func (s *Server) handleWhitelistRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Whitelist.Refresh(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to refresh whitelist")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, result{Status: "ok", Message: strconv.Itoa(s.node.Whitelist.Len()) + " entries"})
}

// handleTimerSchedule arms a maintenance window.
// Body: {"start_in":"10m","duration":"1h","reason":"...","warnings":["5m","1m"]}
func (s *Server) handleTimerSchedule(w http.ResponseWriter, r *http.Request) {
	var req timerRequest
	if !s.decode(w, r, &req) {
		return
	}

	plan := timer.Plan{Reason: validate.Sanitize(req.Reason)}

	var err error
	if strings.TrimSpace(req.StartIn) != "" {
		if plan.StartDelay, err = duration.Parse(req.StartIn); err != nil {
			writeError(w, http.StatusBadRequest, "start_in: "+err.Error())
			return
		}
	}
	if plan.Duration, err = duration.Parse(req.Duration); err != nil {
		writeError(w, http.StatusBadRequest, "duration: "+err.Error())
		return
	}
	if req.Warnings != nil {
		if plan.Warnings, err = duration.ParseList(strings.Join(req.Warnings, ",")); err != nil {
			writeError(w, http.StatusBadRequest, "warnings: "+err.Error())
			return
		}
		if plan.Warnings == nil {
			plan.Warnings = []time.Duration{}
		}
	}

	ok, err := s.node.Schedule(r.Context(), plan)
	switch {
	case errors.Is(err, timer.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to schedule maintenance")
		writeError(w, http.StatusInternalServerError, "schedule error")
	case !ok:
		writeError(w, http.StatusConflict, "a maintenance window is already scheduled")
	default:
		writeJSON(w, http.StatusOK, s.node.Timer.Window())
	}
}

// handleTimerCancel disarms the scheduled window.
func (s *Server) handleTimerCancel(w http.ResponseWriter, r *http.Request) {
	ok, err := s.node.CancelSchedule(r.Context())
	switch {
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to cancel scheduled maintenance")
		writeError(w, http.StatusInternalServerError, "database error")
	case !ok:
		writeError(w, http.StatusConflict, "no maintenance window is scheduled")
	default:
		writeJSON(w, http.StatusOK, result{Status: "ok", Message: "schedule cancelled"})
	}
}

// handleStats returns the aggregate statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.node.Machine.Stats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch stats")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleSessions returns the most recent sessions, newest first.
// Query params: ?limit=10
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sessions, err := s.node.Machine.RecentSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch sessions")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// handleConfigReload reloads settings here and on every other node.
func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := s.node.ReloadSettings(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reload settings")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result{Status: "ok", Message: "settings reloaded"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vars.Info())
}

// decode reads a size-limited JSON body into v and answers 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Invalid JSON")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
