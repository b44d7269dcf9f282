package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/maintsync/internal/config"
	"github.com/woozymasta/maintsync/internal/gate"
	"github.com/woozymasta/maintsync/internal/models"
	"github.com/woozymasta/maintsync/internal/node"
)

const token = "secret"

func newTestServer(t *testing.T, hardLimit int, opts ...gate.Option) http.Handler {
	t.Helper()
	ctx := context.Background()

	store, err := node.OpenStore(ctx, config.Storage{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "m.db")})
	require.NoError(t, err)

	n, err := node.New(node.Options{Name: "lobby", Store: store})
	require.NoError(t, err)
	require.NoError(t, n.Start(ctx))
	t.Cleanup(func() { _ = n.Close(context.Background()) })

	g := gate.New(n.Machine, n.Whitelist, n, opts...)
	g.Start(1)
	t.Cleanup(g.Stop)

	cfg := &config.Config{}
	cfg.Server.AuthToken = token
	cfg.Server.MaxBodySize = 4096
	cfg.RateLimit.HardLimitCount = hardLimit
	cfg.RateLimit.HardLimitWin = time.Minute

	s := New(n, g, cfg)
	t.Cleanup(s.Close)

	return s.Run()
}

func do(h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, 100)

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", "", false).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/status", "", true).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/version", "", false).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/api/gate/kicked", `{"count":1}`, false).Code)
}

func TestMaintenanceEndpoints(t *testing.T) {
	h := newTestServer(t, 100)

	t.Run("rejects bad input", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/maintenance/enable", `{"mode":"SOMETIMES"}`, true).Code)
		assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/maintenance/enable", `{"mode":"DISABLED"}`, true).Code)
		assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/maintenance/enable", `{`, true).Code)
	})

	t.Run("enable", func(t *testing.T) {
		rec := do(h, http.MethodPost, "/api/maintenance/enable", `{"mode":"emergency","reason":"outage","started_by":"ops"}`, true)
		require.Equal(t, http.StatusOK, rec.Code)

		state := decodeBody[models.State](t, rec)
		assert.True(t, state.Enabled)
		assert.Equal(t, models.ModeEmergency, state.Mode)
		assert.Equal(t, "outage", state.Reason)

		assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/maintenance/enable", `{}`, true).Code)

		status := decodeBody[node.Status](t, do(h, http.MethodGet, "/api/status", "", true))
		assert.True(t, status.State.Enabled)
		assert.Equal(t, "ops", status.StartedBy)
	})

	t.Run("disable", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/maintenance/disable", "", true).Code)
		assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/maintenance/disable", "", true).Code)
	})

	t.Run("history", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/api/sessions?limit=5", "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		sessions := decodeBody[[]models.Session](t, rec)
		require.Len(t, sessions, 1)
		assert.Equal(t, models.ModeEmergency, sessions[0].Mode)
		assert.Equal(t, "ops", sessions[0].StartedBy)

		assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/sessions?limit=abc", "", true).Code)

		stats := decodeBody[models.Stats](t, do(h, http.MethodGet, "/api/stats", "", true))
		assert.EqualValues(t, 1, stats.TotalSessions)
	})
}

func TestWhitelistEndpoints(t *testing.T) {
	h := newTestServer(t, 100)
	id := uuid.New()

	t.Run("validation", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/whitelist", `{"uuid":"nope","name":"Steve"}`, true).Code)
		assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/whitelist", `{"uuid":"`+id.String()+`","name":"x"}`, true).Code)
		assert.Equal(t, http.StatusBadRequest, do(h, http.MethodDelete, "/api/whitelist/nope", "", true).Code)
	})

	t.Run("add and list", func(t *testing.T) {
		body := `{"uuid":"` + id.String() + `","name":"Steve","reason":"builder","added_by":"ops"}`
		rec := do(h, http.MethodPost, "/api/whitelist", body, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Steve", decodeBody[models.WhitelistEntry](t, rec).Name)

		assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/whitelist", body, true).Code)

		entries := decodeBody[[]models.WhitelistEntry](t, do(h, http.MethodGet, "/api/whitelist", "", true))
		require.Len(t, entries, 1)
		assert.Equal(t, id, entries[0].UUID)
	})

	t.Run("remove", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(h, http.MethodDelete, "/api/whitelist/"+id.String(), "", true).Code)
		assert.Equal(t, http.StatusNotFound, do(h, http.MethodDelete, "/api/whitelist/"+id.String(), "", true).Code)
	})

	t.Run("clear and refresh", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/whitelist/clear", "", true).Code)
		assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/whitelist/refresh", "", true).Code)
	})
}

func TestTimerEndpoints(t *testing.T) {
	h := newTestServer(t, 100)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/timer", `{"start_in":"10m","duration":"soon"}`, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/timer", `{"start_in":"10m","duration":"0"}`, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/timer", `{"duration":"1h","warnings":["5x"]}`, true).Code)

	rec := do(h, http.MethodPost, "/api/timer", `{"start_in":"1h","duration":"30m","reason":"update","warnings":["5m","1m"]}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	window := decodeBody[models.Window](t, rec)
	assert.Equal(t, 30*time.Minute, window.End.Sub(window.Start))
	assert.Equal(t, "update", window.Reason)

	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/timer", `{"start_in":"2h","duration":"30m"}`, true).Code)

	status := decodeBody[node.Status](t, do(h, http.MethodGet, "/api/status", "", true))
	assert.True(t, status.Scheduled)

	assert.Equal(t, http.StatusOK, do(h, http.MethodDelete, "/api/timer", "", true).Code)
	assert.Equal(t, http.StatusConflict, do(h, http.MethodDelete, "/api/timer", "", true).Code)
}

func TestGateEndpoints(t *testing.T) {
	h := newTestServer(t, 100)
	player := `{"uuid":"` + uuid.NewString() + `","name":"Alex"}`

	decision := decodeBody[gate.Decision](t, do(h, http.MethodPost, "/api/gate/login", player, false))
	assert.True(t, decision.Allowed)
	assert.Equal(t, gate.OutcomeOpen, decision.Outcome)

	assert.False(t, decodeBody[gate.Banner](t, do(h, http.MethodGet, "/api/gate/ping", "", false)).Maintenance)

	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/maintenance/enable", `{"mode":"GLOBAL"}`, true).Code)

	decision = decodeBody[gate.Decision](t, do(h, http.MethodPost, "/api/gate/login", player, false))
	assert.False(t, decision.Allowed)
	assert.Equal(t, gate.OutcomeBlocked, decision.Outcome)
	assert.NotEmpty(t, decision.Message)

	banner := decodeBody[gate.Banner](t, do(h, http.MethodGet, "/api/gate/ping", "", false))
	assert.True(t, banner.Maintenance)
	assert.Equal(t, models.ModeGlobal, banner.Mode)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/gate/login", `{"name":"Alex"}`, false).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/gate/kicked", `{"count":0}`, true).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/gate/kicked", `{"count":2}`, true).Code)

	stats := decodeBody[models.Stats](t, do(h, http.MethodGet, "/api/stats", "", true))
	assert.EqualValues(t, 2, stats.PlayersKicked)
}

func TestGateLoginPlayerIP(t *testing.T) {
	h := newTestServer(t, 100, gate.WithSoftLimit(time.Minute))
	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/maintenance/enable", `{"mode":"GLOBAL"}`, true).Code)

	id := uuid.NewString()
	login := func(ip string) int {
		body := `{"uuid":"` + id + `","name":"Alex","ip":"` + ip + `"}`
		return do(h, http.MethodPost, "/api/gate/login", body, false).Code
	}

	// same adapter, two player addresses
	assert.Equal(t, http.StatusOK, login("203.0.113.7"))
	assert.Equal(t, http.StatusOK, login("203.0.113.7"))
	assert.Equal(t, http.StatusOK, login("198.51.100.20"))
	assert.Equal(t, http.StatusOK, login("::ffff:198.51.100.20"))
	assert.Equal(t, http.StatusBadRequest, login("not-an-ip"))

	require.Eventually(t, func() bool {
		stats := decodeBody[models.Stats](t, do(h, http.MethodGet, "/api/stats", "", true))
		return stats.ConnectionsBlocked == 2
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	stats := decodeBody[models.Stats](t, do(h, http.MethodGet, "/api/stats", "", true))
	assert.EqualValues(t, 2, stats.ConnectionsBlocked)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, 2)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/gate/ping", "", false).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/gate/ping", "", false).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/api/gate/ping", "", false).Code)

	// operator endpoints are not limited
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/status", "", true).Code)
}

func TestConfigReload(t *testing.T) {
	h := newTestServer(t, 100)

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/config/reload", "", true).Code)
}

func TestGetRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "10.0.0.1", GetRealIP(req, false))
	assert.Equal(t, "203.0.113.7", GetRealIP(req, true))

	req.Header.Set("CF-Connecting-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", GetRealIP(req, true))
}
