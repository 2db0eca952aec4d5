package api_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/turntimer/internal/api"
	"github.com/mcoot/turntimer/internal/api/response"
	"github.com/mcoot/turntimer/internal/factory"
	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/services/directory"
)

// testServer creates a test server with all dependencies
type testServer struct {
	handler http.Handler
	app     *factory.TestApp
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// The first user created gets id-1 and owns the completed game g1
	app := factory.NewTestApp(directory.Entry{
		Ref:       model.ContextRef{Kind: model.ContextGame, ID: "g1"},
		Owner:     "id-1",
		Completed: true,
		Players:   []model.PlayerSeed{{UserID: "id-1"}, {Name: "Walk-in"}},
	})
	t.Cleanup(func() { _ = app.Close() })

	router := api.NewRouter(api.RouterConfig{
		Logger:        logger,
		Clock:         app.Clock,
		AuthService:   app.AuthService,
		TimerService:  app.TimerService,
		Websocket:     app.Websocket,
		CORSOrigins:   []string{"https://timers.example"},
		AuthRateLimit: 100,
	})

	return &testServer{
		handler: router,
		app:     app,
	}
}

func (ts *testServer) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) guest(t *testing.T, name string) response.AuthResponse {
	t.Helper()
	rr := ts.request(http.MethodPost, "/api/v1/users/guest", map[string]string{"display_name": name}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp response.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func (ts *testServer) createTimer(t *testing.T, token string, body any) response.Timer {
	t.Helper()
	rr := ts.request(http.MethodPost, "/api/v1/timers", body, token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var timer response.Timer
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &timer))
	return timer
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Error.Code
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestCreateGuestUser(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.guest(t, "Alice")

	assert.Equal(t, "Alice", resp.User.DisplayName)
	assert.True(t, resp.User.IsGuest)
	assert.NotEmpty(t, resp.SessionToken)
	assert.WithinDuration(t, ts.app.FakeClock.Now().Add(24*time.Hour), resp.ExpiresAt, 0)
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	// Register
	registerBody := map[string]string{
		"username":     "alice",
		"password":     "secret123",
		"display_name": "Alice",
	}
	rr := ts.request(http.MethodPost, "/api/v1/users/register", registerBody, "")
	require.Equal(t, http.StatusCreated, rr.Code)

	var registerResp response.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &registerResp))
	assert.False(t, registerResp.User.IsGuest)

	rr = ts.request(http.MethodPost, "/api/v1/users/register", registerBody, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "USERNAME_EXISTS", errorCode(t, rr))

	// Login
	loginBody := map[string]string{"username": "alice", "password": "secret123"}
	rr = ts.request(http.MethodPost, "/api/v1/users/login", loginBody, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var loginResp response.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &loginResp))
	assert.Equal(t, registerResp.User.ID, loginResp.User.ID)

	rr = ts.request(http.MethodPost, "/api/v1/users/login", map[string]string{"username": "alice", "password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rr))
}

func TestMeAndLogout(t *testing.T) {
	ts := newTestServer(t)
	auth := ts.guest(t, "Alice")

	rr := ts.request(http.MethodGet, "/api/v1/users/me", nil, auth.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Alice")

	rr = ts.request(http.MethodPost, "/api/v1/users/logout", nil, auth.SessionToken)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/users/me", nil, auth.SessionToken)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTimersRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/timers", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rr))

	rr = ts.request(http.MethodGet, "/api/v1/timers", nil, "bogus")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateAndGetTimer(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.guest(t, "Owner")

	created := ts.createTimer(t, owner.SessionToken, map[string]any{
		"type":             "RELOAD",
		"initial_duration": 60000,
		"reload_increment": 5000,
		"players": []map[string]string{
			{"name": "Alice", "color": "#ff0000"},
			{"user_id": owner.User.ID},
		},
	})

	assert.Equal(t, "RELOAD", created.Type)
	require.NotNil(t, created.ReloadIncrement)
	assert.Equal(t, int64(5000), *created.ReloadIncrement)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, owner.User.ID, created.Creator)
	require.Len(t, created.Players, 2)
	assert.Equal(t, "#ffffff", created.Players[1].Color)
	assert.False(t, created.Players[0].Running)

	rr := ts.request(http.MethodGet, "/api/v1/timers/"+created.ID, nil, owner.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched response.Timer
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, created, fetched)
}

func TestCreateTimerValidation(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.guest(t, "Owner")

	cases := map[string]any{
		"no players":    map[string]any{"players": []any{}},
		"bad type":      map[string]any{"type": "HOURGLASS", "players": []map[string]string{{"name": "A"}}},
		"bad color":     map[string]any{"players": []map[string]string{{"name": "A", "color": "red"}}},
		"unknown field": map[string]any{"players": []map[string]string{{"name": "A"}}, "speed": 2},
	}
	for name, body := range cases {
		rr := ts.request(http.MethodPost, "/api/v1/timers", body, owner.SessionToken)
		assert.Equal(t, http.StatusBadRequest, rr.Code, name)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rr), name)
	}
}

func TestTimerAccess(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.guest(t, "Owner")
	player := ts.guest(t, "Player")
	stranger := ts.guest(t, "Stranger")

	created := ts.createTimer(t, owner.SessionToken, map[string]any{
		"players": []map[string]string{{"user_id": player.User.ID}, {"name": "Other"}},
	})

	rr := ts.request(http.MethodGet, "/api/v1/timers/"+created.ID, nil, player.SessionToken)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/timers/"+created.ID, nil, stranger.SessionToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "ACCESS_DENIED", errorCode(t, rr))

	rr = ts.request(http.MethodGet, "/api/v1/timers/missing", nil, owner.SessionToken)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Players see the timer in their list, strangers do not
	rr = ts.request(http.MethodGet, "/api/v1/timers", nil, player.SessionToken)
	var list response.TimerList
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Timers, 1)
	assert.Equal(t, created.ID, list.Timers[0].ID)

	rr = ts.request(http.MethodGet, "/api/v1/timers", nil, stranger.SessionToken)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Empty(t, list.Timers)

	// Only the creator deletes
	rr = ts.request(http.MethodDelete, "/api/v1/timers/"+created.ID, nil, player.SessionToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = ts.request(http.MethodDelete, "/api/v1/timers/"+created.ID, nil, owner.SessionToken)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = ts.request(http.MethodGet, "/api/v1/timers/"+created.ID, nil, owner.SessionToken)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateTimerFromGame(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.guest(t, "Owner")
	require.Equal(t, "id-1", owner.User.ID)

	rr := ts.request(http.MethodPost, "/api/v1/games/g1/timer",
		map[string]any{"type": "COUNT_DOWN", "initial_duration": 300000}, owner.SessionToken)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var timer response.Timer
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &timer))
	require.NotNil(t, timer.Context)
	assert.Equal(t, response.Context{Kind: "game", ID: "g1"}, *timer.Context)
	require.Len(t, timer.Players, 2)
	assert.Equal(t, "id-1", timer.Players[0].UserID)
	assert.Equal(t, "Walk-in", timer.Players[1].Name)

	rr = ts.request(http.MethodPost, "/api/v1/games/nope/timer", map[string]any{}, owner.SessionToken)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/timers", nil)
	req.Header.Set("Origin", "https://timers.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://timers.example", rr.Header().Get("Access-Control-Allow-Origin"))
}
