/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	*httptest.Server
	ctrl *Controller
	gw   *mockGateway
}

func newTestServer(t *testing.T, cfg *Config) *testServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if cfg.pollInterval == 0 {
		cfg.pollInterval = time.Hour
	}
	if cfg.scenario == 0 {
		cfg.scenario = 1
	}
	if cfg.playerID == "" {
		cfg.playerID = "p1"
	}

	gw := new(mockGateway)
	logger := zap.NewNop()
	ctrl := NewController(ctx, gw, cfg, logger)
	hub := newHub(ctrl, logger)
	go hub.run(ctx)

	errs := make(chan error, 64)

	srv := httptest.NewServer(newRouter(ctx, cfg, ctrl, hub, logger, errs))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, ctrl: ctrl, gw: gw}
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(body)
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t, &Config{})

	tests := []struct {
		name        string
		path        string
		status      int
		contentType string
		contains    string
	}{
		{"home", "/", http.StatusOK, "text/html", "assets/bouncer/app.js"},
		{"script", "/assets/bouncer/app.js", http.StatusOK, "text/javascript", "WebSocket"},
		{"stylesheet", "/assets/bouncer/app.css", http.StatusOK, "text/css", ".card"},
		{"missing asset", "/assets/bouncer/nope.js", http.StatusNotFound, "", ""},
		{"index is not an asset", "/assets/bouncer/index.html", http.StatusNotFound, "", ""},
		{"health", "/healthz", http.StatusOK, "text/plain", "Ok"},
		{"version", "/version", http.StatusOK, "text/plain", "bouncer v" + releaseVersion},
		{"robots", "/robots.txt", http.StatusOK, "text/plain", "Disallow: /"},
		{"qr without game", "/qr", http.StatusNotFound, "", ""},
		{"metrics disabled", "/metrics", http.StatusNotFound, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, srv.URL+tt.path)

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.contentType != "" {
				assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), tt.contentType), resp.Header.Get("Content-Type"))
			}
			if tt.contains != "" {
				assert.Contains(t, body, tt.contains)
			}
		})
	}
}

func TestRoutes_SecurityHeaders(t *testing.T) {
	srv := newTestServer(t, &Config{})

	resp, _ := get(t, srv.URL+"/")

	assert.Equal(t, "default-src 'self'", resp.Header.Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestRoutes_Prefix(t *testing.T) {
	srv := newTestServer(t, &Config{prefix: "/door", metrics: true, profile: true})

	resp, _ := get(t, srv.URL+"/door/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/door/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get(t, srv.URL+"/door/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "go_goroutines")

	resp, _ = get(t, srv.URL+"/door/pprof/cmdline")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutes_StatisticsPanel(t *testing.T) {
	srv := newTestServer(t, &Config{})

	_, page := get(t, srv.URL+"/")
	assert.Contains(t, page, `id="statistics-card"`)
	assert.Contains(t, page, `id="frequencies"`)
	assert.Contains(t, page, `id="correlations"`)
	assert.Contains(t, page, `id="status-rate"`)

	_, script := get(t, srv.URL+"/assets/bouncer/app.js")
	for _, field := range []string{"statistics", "relativeFrequencies", "correlations", "acceptanceRate", "isOverTarget"} {
		assert.Contains(t, script, field)
	}
}

func TestWebsocket_SendsStatistics(t *testing.T) {
	srv := newTestServer(t, &Config{})

	game := testGame()
	game.AttributeStatistics.Correlations = map[string]map[string]float64{"young": {"young": 1}}

	srv.gw.On("CreateGame", mock.Anything, "p1", 1).Return(game, nil).Once()
	srv.gw.On("FetchStatus", mock.Anything, "g1").Return(&StatusSnapshot{
		GameID:         "g1",
		AcceptanceRate: 0.5,
		Constraints:    []ConstraintProgress{{Attribute: "young", Current: 700, Target: 600, IsOverTarget: true}},
	}, nil)
	srv.gw.On("FetchNextAndDecide", mock.Anything, "g1", 0, (*bool)(nil)).Return(running(0, nil), nil).Once()

	conn := dialWS(t, srv)
	readMessage(t, conn, "view")

	require.NoError(t, srv.ctrl.CreateGame(context.Background(), "p1", 1))

	// Views keep coming until one carries the refreshed status.
	var session map[string]any
	for session == nil {
		msg := readMessage(t, conn, "view")
		if s, ok := msg["session"].(map[string]any); ok && s["status"] != nil {
			session = s
		}
	}

	stats := session["statistics"].(map[string]any)
	assert.Equal(t, 0.32, stats["relativeFrequencies"].(map[string]any)["young"])
	assert.Contains(t, stats["correlations"], "young")

	status := session["status"].(map[string]any)
	assert.Equal(t, 0.5, status["acceptanceRate"])
	constraint := status["constraints"].([]any)[0].(map[string]any)
	assert.Equal(t, true, constraint["isOverTarget"])
}

func TestServeQR(t *testing.T) {
	srv := newTestServer(t, &Config{})

	srv.gw.On("FetchStatus", mock.Anything, "g1").Return(&StatusSnapshot{GameID: "g1"}, nil)
	srv.gw.On("FetchNextAndDecide", mock.Anything, "g1", 0, (*bool)(nil)).Return(running(0, nil), nil).Once()

	require.NoError(t, srv.ctrl.JoinGame(context.Background(), "g1"))

	resp, body := get(t, srv.URL+"/qr")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "\x89PNG"))
}

func dialWS(t *testing.T, srv *testServer) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// readMessage returns the next message of the given type, skipping others.
func readMessage(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))

		if msg["type"] == typ {
			return msg
		}
	}
}

func TestWebsocket_InitialView(t *testing.T) {
	srv := newTestServer(t, &Config{})
	conn := dialWS(t, srv)

	msg := readMessage(t, conn, "view")
	assert.Equal(t, modeSetup, msg["mode"])
	assert.Equal(t, "p1", msg["player_id"])
}

func TestWebsocket_RefusalNotice(t *testing.T) {
	srv := newTestServer(t, &Config{})
	conn := dialWS(t, srv)

	readMessage(t, conn, "view")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "back"}))

	msg := readMessage(t, conn, "notice")
	assert.Equal(t, ErrNoSession.Error(), msg["message"])
}

func TestWebsocket_PlaysGame(t *testing.T) {
	srv := newTestServer(t, &Config{})

	srv.gw.On("CreateGame", mock.Anything, "p2", 2).Return(&GameResponse{GameID: "g1"}, nil).Once()
	srv.gw.On("FetchStatus", mock.Anything, "g1").Return(&StatusSnapshot{GameID: "g1"}, nil)
	srv.gw.On("FetchNextAndDecide", mock.Anything, "g1", 0, (*bool)(nil)).Return(running(0, nil), nil).Once()
	srv.gw.On("FetchNextAndDecide", mock.Anything, "g1", 0, verdict(false)).Return(running(1, nil), nil).Once()

	conn := dialWS(t, srv)
	readMessage(t, conn, "view")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "create", PlayerID: "p2", Scenario: 2}))

	require.Eventually(t, func() bool {
		s := srv.ctrl.View().Session
		return s != nil && s.Offer != nil && s.Offer.PersonIndex == 0
	}, 2*time.Second, 5*time.Millisecond)

	idx := 0
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "reject", PersonIndex: &idx}))

	require.Eventually(t, func() bool {
		s := srv.ctrl.View().Session
		return s != nil && s.Cursor == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []Decision{{PersonIndex: 0, Accepted: false}}, srv.ctrl.View().Session.History)

	// A stale click for the person already decided is refused.
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "accept", PersonIndex: &idx}))
	msg := readMessage(t, conn, "notice")
	assert.Equal(t, ErrStaleOffer.Error(), msg["message"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "back"}))
	require.Eventually(t, func() bool {
		return srv.ctrl.View().Mode == modeSetup
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1:5555", realIP(r))

	r.Header.Set("X-Real-IP", "192.0.2.7")
	assert.Equal(t, "192.0.2.7:5555", realIP(r))

	r.Header.Set("CF-Connecting-IP", "2001:db8::1")
	assert.Equal(t, "[2001:db8::1]:5555", realIP(r))
}
