// Package server implements the operator HTTP API, the gate endpoints for host adapters
// and their middleware.
package server

import (
	"net/http"

	"github.com/woozymasta/maintsync/internal/config"
	"github.com/woozymasta/maintsync/internal/gate"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/node"
)

// New creates a Server for the given node and gate.
func New(n *node.Node, g *gate.Gate, cfg *config.Config) *Server {
	return &Server{
		node:           n,
		gate:           g,
		authToken:      cfg.Server.AuthToken,
		maxBody:        cfg.Server.MaxBodySize,
		trustProxy:     cfg.Server.TrustProxy,
		hardLimitCount: cfg.RateLimit.HardLimitCount,
		hardLimitWin:   cfg.RateLimit.HardLimitWin,
		logger:         logger.Component("http"),
		shutdown:       make(chan struct{}),
	}
}

// Close stops background cleanup started by Run.
func (s *Server) Close() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	mux := http.NewServeMux()

	admin := func(h http.HandlerFunc) http.Handler {
		return AdminAuthMiddleware(s.authToken, h)
	}

	mux.Handle("GET /api/status", admin(s.handleStatus))
	mux.Handle("POST /api/maintenance/enable", admin(s.handleEnable))
	mux.Handle("POST /api/maintenance/disable", admin(s.handleDisable))

	mux.Handle("GET /api/whitelist", admin(s.handleWhitelist))
	mux.Handle("POST /api/whitelist", admin(s.handleWhitelistAdd))
	mux.Handle("DELETE /api/whitelist/{uuid}", admin(s.handleWhitelistRemove))
	mux.Handle("POST /api/whitelist/clear", admin(s.handleWhitelistClear))
	mux.Handle("POST /api/whitelist/refresh", admin(s.handleWhitelistRefresh))

	mux.Handle("POST /api/timer", admin(s.handleTimerSchedule))
	mux.Handle("DELETE /api/timer", admin(s.handleTimerCancel))

	mux.Handle("GET /api/stats", admin(s.handleStats))
	mux.Handle("GET /api/sessions", admin(s.handleSessions))
	mux.Handle("POST /api/config/reload", admin(s.handleConfigReload))
	mux.Handle("GET /api/version", http.HandlerFunc(s.handleVersion))

	// gate endpoints share one per-IP limiter
	gateMux := http.NewServeMux()
	gateMux.HandleFunc("POST /api/gate/login", s.handleGateLogin)
	gateMux.HandleFunc("GET /api/gate/ping", s.handleGatePing)
	limited := s.RateLimitMiddleware(gateMux)
	mux.Handle("POST /api/gate/login", limited)
	mux.Handle("GET /api/gate/ping", limited)
	mux.Handle("POST /api/gate/kicked", admin(s.handleGateKicked))

	return s.LoggingMiddleware(mux)
}
