package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/turntimer/internal/api"
	"github.com/mcoot/turntimer/internal/api/response"
	"github.com/mcoot/turntimer/internal/cli"
	"github.com/mcoot/turntimer/internal/factory"
	"github.com/mcoot/turntimer/internal/model"
)

// cliRunner runs timerctl commands in process against a server
type cliRunner struct {
	serverURL string
	tokenFile string
}

func newCLIRunner(t *testing.T, serverURL string) *cliRunner {
	t.Helper()
	return &cliRunner{
		serverURL: serverURL,
		tokenFile: filepath.Join(t.TempDir(), "token"),
	}
}

func (r *cliRunner) run(args ...string) (string, error) {
	fullArgs := append([]string{
		"--server", r.serverURL,
		"--token-file", r.tokenFile,
		"--output", "json",
	}, args...)

	var out bytes.Buffer
	cmd := cli.NewRootCmd()
	cmd.SetArgs(fullArgs)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func (r *cliRunner) token(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(r.tokenFile)
	require.NoError(t, err)
	return string(data)
}

// testServer is a real HTTP server over a fully wired application
type testServer struct {
	app    *factory.App
	server *httptest.Server
	url    string
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	app, err := factory.New(context.Background(), factory.Config{Logger: logger})
	require.NoError(t, err)

	router := api.NewRouter(api.RouterConfig{
		Logger:       logger,
		Clock:        app.Clock,
		AuthService:  app.AuthService,
		TimerService: app.TimerService,
		Websocket:    app.Websocket,
	})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		app.Websocket.Close()
		server.Close()
		_ = app.Close()
	})
	return &testServer{app: app, server: server, url: server.URL}
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestCLIHealth(t *testing.T) {
	srv := startTestServer(t)
	runner := newCLIRunner(t, srv.url)

	out, err := runner.run("health")
	require.NoError(t, err, out)
	assert.Equal(t, "ok", decode[response.Health](t, out).Status)
}

func TestCLIUserFlow(t *testing.T) {
	srv := startTestServer(t)
	runner := newCLIRunner(t, srv.url)

	out, err := runner.run("user", "register", "--name", "Alice", "--user", "alice", "--pass", "secret123")
	require.NoError(t, err, out)
	registered := decode[response.AuthResponse](t, out)
	assert.Equal(t, registered.SessionToken, runner.token(t))

	out, err = runner.run("user", "me")
	require.NoError(t, err, out)
	me := decode[response.User](t, out)
	assert.Equal(t, "Alice", me.DisplayName)
	assert.False(t, me.IsGuest)

	_, err = runner.run("user", "logout")
	require.NoError(t, err)
	_, err = os.Stat(runner.tokenFile)
	assert.True(t, os.IsNotExist(err))

	out, err = runner.run("user", "me")
	require.Error(t, err)
	assert.Contains(t, out, "UNAUTHORIZED")

	out, err = runner.run("user", "login", "--user", "alice", "--pass", "secret123")
	require.NoError(t, err, out)
	assert.Equal(t, registered.User.ID, decode[response.AuthResponse](t, out).User.ID)
}

func TestCLITimerFlow(t *testing.T) {
	srv := startTestServer(t)
	runner := newCLIRunner(t, srv.url)

	_, err := runner.run("user", "guest", "--name", "Host")
	require.NoError(t, err)

	// Create
	out, err := runner.run("timer", "create",
		"--type", "count_down", "--initial", "10m",
		"--player", "Alice=#ff0000", "--player", "Bob")
	require.NoError(t, err, out)
	created := decode[response.Timer](t, out)
	require.Len(t, created.Players, 2)
	assert.Equal(t, "COUNT_DOWN", created.Type)
	assert.Equal(t, int64(600000), created.InitialDuration)
	assert.Equal(t, "#ff0000", created.Players[0].Color)
	alice, bob := created.Players[0].ID, created.Players[1].ID

	// List
	out, err = runner.run("timer", "list")
	require.NoError(t, err, out)
	list := decode[response.TimerList](t, out)
	require.Len(t, list.Timers, 1)
	assert.Equal(t, created.ID, list.Timers[0].ID)

	// Start, then next
	out, err = runner.run("timer", "start", created.ID)
	require.NoError(t, err, out)
	started := decode[response.Timer](t, out)
	assert.True(t, started.Players[0].Running)
	assert.Equal(t, int64(2), started.Version)

	out, err = runner.run("timer", "start", created.ID)
	require.Error(t, err)
	assert.Contains(t, out, "ALREADY_STARTED")

	out, err = runner.run("timer", "next", created.ID)
	require.NoError(t, err, out)
	advanced := decode[response.Timer](t, out)
	assert.False(t, advanced.Players[0].Running)
	assert.True(t, advanced.Players[1].Running)
	assert.Equal(t, 1, advanced.CurrentPlayer)

	// Reorder swaps the players
	out, err = runner.run("timer", "reorder", created.ID, alice+"=1", bob+"=0")
	require.NoError(t, err, out)
	reordered := decode[response.Timer](t, out)
	assert.Equal(t, bob, reordered.Players[0].ID)
	assert.Equal(t, 0, reordered.CurrentPlayer)
	for _, p := range reordered.Players {
		assert.False(t, p.Running, "reorder stops every clock")
	}

	out, err = runner.run("timer", "stop", created.ID)
	require.Error(t, err)
	assert.Contains(t, out, "ALREADY_STOPPED")

	// Restart Bob, now first in turn, then stop him
	out, err = runner.run("timer", "start", created.ID)
	require.NoError(t, err, out)
	restarted := decode[response.Timer](t, out)
	assert.True(t, restarted.Players[0].Running)
	assert.Equal(t, bob, restarted.Players[0].ID)

	out, err = runner.run("timer", "stop", created.ID)
	require.NoError(t, err, out)
	for _, p := range decode[response.Timer](t, out).Players {
		assert.False(t, p.Running)
	}

	// Delete
	_, err = runner.run("timer", "delete", created.ID)
	require.NoError(t, err)
	out, err = runner.run("timer", "get", created.ID)
	require.Error(t, err)
	assert.Contains(t, out, "NOT_FOUND")
}

func TestCLIStrangerIsDenied(t *testing.T) {
	srv := startTestServer(t)
	owner := newCLIRunner(t, srv.url)
	stranger := newCLIRunner(t, srv.url)

	_, err := owner.run("user", "guest", "--name", "Owner")
	require.NoError(t, err)
	_, err = stranger.run("user", "guest", "--name", "Stranger")
	require.NoError(t, err)

	out, err := owner.run("timer", "create", "--player", "Solo")
	require.NoError(t, err, out)
	id := decode[response.Timer](t, out).ID

	out, err = stranger.run("timer", "start", id)
	require.Error(t, err)
	assert.Contains(t, out, "ACCESS_DENIED")

	out, err = stranger.run("timer", "delete", id)
	require.Error(t, err)
	assert.Contains(t, out, "ACCESS_DENIED")
}

func TestCLIWatchEndsOnDelete(t *testing.T) {
	srv := startTestServer(t)
	runner := newCLIRunner(t, srv.url)

	_, err := runner.run("user", "guest", "--name", "Host")
	require.NoError(t, err)
	out, err := runner.run("timer", "create", "--player", "A", "--player", "B")
	require.NoError(t, err, out)
	id := decode[response.Timer](t, out).ID
	token := runner.token(t)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := runner.run("watch", id)
		done <- result{out, err}
	}()

	require.Eventually(t, func() bool {
		hub := srv.app.HubManager.GetHub(model.TimerID(id))
		return hub != nil && hub.MemberCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Drive the timer with plain HTTP while the watcher is the only CLI running
	req, err := http.NewRequest(http.MethodDelete, srv.url+"/api/v1/timers/"+id, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	select {
	case res := <-done:
		require.NoError(t, res.err, res.out)
		lines := strings.Split(strings.TrimSpace(res.out), "\n")
		require.Len(t, lines, 2, res.out)
		assert.Contains(t, lines[0], `"event":"ack"`)
		assert.Contains(t, lines[1], `"event":"timer_delete"`)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not end after delete")
	}
}
