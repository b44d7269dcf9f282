package server

import (
	"net/http"
	"net/netip"

	"github.com/google/uuid"
	"github.com/woozymasta/maintsync/internal/gate"
)

// handleGateLogin answers whether a connecting player may join.
// Body: {"uuid":"...","name":"...","ip":"203.0.113.7","bypass":false}
// Without ip the caller's address is used.
func (s *Server) handleGateLogin(w http.ResponseWriter, r *http.Request) {
	var req gate.Login
	if !s.decode(w, r, &req) {
		return
	}

	if req.UUID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "missing player uuid")
		return
	}

	if req.IP == "" {
		req.IP = GetRealIP(r, s.trustProxy)
	} else if addr, err := netip.ParseAddr(req.IP); err != nil {
		writeError(w, http.StatusBadRequest, "invalid player ip")
		return
	} else {
		req.IP = addr.Unmap().String()
	}

	writeJSON(w, http.StatusOK, s.gate.Login(req))
}

// handleGatePing returns the server-list banner.
func (s *Server) handleGatePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gate.Ping())
}

// handleGateKicked records players a host adapter removed when maintenance began.
// Body: {"count":3}
func (s *Server) handleGateKicked(w http.ResponseWriter, r *http.Request) {
	var req kickedRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.Count <= 0 {
		writeError(w, http.StatusBadRequest, "count must be positive")
		return
	}

	if err := s.gate.Kicked(r.Context(), req.Count); err != nil {
		s.logger.Error().Err(err).Int("count", req.Count).Msg("Failed to record kicked players")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, result{Status: "ok"})
}
