package server

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/gate"
	"github.com/woozymasta/maintsync/internal/node"
)

// Server holds the dependencies and configuration required to serve the operator API
// and the gate endpoints used by host adapters.
type Server struct {
	// node owns the maintenance state, whitelist and timer this API operates on.
	node *node.Node

	// gate answers login and ping requests from host adapters.
	gate *gate.Gate

	// shutdown stops the rate limiter cleanup loop.
	shutdown chan struct{}

	logger zerolog.Logger

	// authToken is the secret required by operator endpoints as a Bearer token.
	authToken string

	// maxBody specifies the maximum allowed size (in bytes) for incoming request bodies.
	maxBody int64

	// hardLimitCount is the maximum number of gate requests allowed per IP address
	// within the hardLimitWin duration.
	hardLimitCount int

	// hardLimitWin is the time window duration for the hard rate limiter.
	hardLimitWin time.Duration

	// trustProxy indicates whether the server should trust headers like X-Forwarded-For
	// or CF-Connecting-IP when determining the client's real IP address.
	trustProxy bool
}

// enableRequest is the body of POST /api/maintenance/enable.
type enableRequest struct {
	Mode      string `json:"mode"`
	Reason    string `json:"reason"`
	StartedBy string `json:"started_by"`
}

// whitelistRequest is the body of POST /api/whitelist.
type whitelistRequest struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Reason  string `json:"reason"`
	AddedBy string `json:"added_by"`
}

// timerRequest is the body of POST /api/timer. Durations use the 1d2h30m form
// or bare seconds.
type timerRequest struct {
	StartIn  string   `json:"start_in"`
	Duration string   `json:"duration"`
	Reason   string   `json:"reason"`
	Warnings []string `json:"warnings"`
}

// kickedRequest is the body of POST /api/gate/kicked.
type kickedRequest struct {
	Count int `json:"count"`
}

// result is the body of successful mutations.
type result struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
