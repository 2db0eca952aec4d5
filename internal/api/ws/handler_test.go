package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/turntimer/internal/dependencies/clock"
	"github.com/mcoot/turntimer/internal/dependencies/ids"
	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/realtime"
	"github.com/mcoot/turntimer/internal/services/access"
	"github.com/mcoot/turntimer/internal/services/auth"
	"github.com/mcoot/turntimer/internal/services/directory"
	"github.com/mcoot/turntimer/internal/services/exclusive"
	"github.com/mcoot/turntimer/internal/services/room"
	"github.com/mcoot/turntimer/internal/services/timer"
	"github.com/mcoot/turntimer/internal/storage/memory"
	"github.com/mcoot/turntimer/internal/testutil"
)

type HandlerSuite struct {
	suite.Suite
	ctx     context.Context
	auth    *auth.Service
	timers  *timer.Service
	hubs    *realtime.HubManager
	handler *Handler
	server  *httptest.Server
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := testutil.NopLogger()
	clk := clock.New()
	idGen := ids.New()
	dir := directory.New(logger)
	s.ctx = context.Background()

	cfg := auth.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	s.auth = auth.New(auth.NewMemoryUsers(), clk, idGen, cfg, logger)
	s.hubs = realtime.NewHubManager(logger)
	s.timers = timer.NewService(
		exclusive.New(memory.New(), logger),
		access.New(dir, logger),
		dir,
		realtime.NewLocalBroadcaster(s.hubs, logger),
		clk,
		idGen,
		logger,
	)
	rooms := room.NewManager(s.timers, s.hubs, logger)
	s.handler = NewHandler(s.auth, rooms, idGen, DefaultConfig(), logger)
	s.server = httptest.NewServer(s.handler)
}

func (s *HandlerSuite) TearDownTest() {
	s.handler.Close()
	s.server.Close()
	s.hubs.Close()
}

func (s *HandlerSuite) guest(name string) *auth.Session {
	session, err := s.auth.CreateGuest(s.ctx, name)
	s.Require().NoError(err)
	return session
}

func (s *HandlerSuite) dial(token string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	s.Require().NoError(err)
	_ = resp.Body.Close()
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *HandlerSuite) createTimer(owner model.UserID, settings model.TimerSettings) model.TimerID {
	snap, err := s.timers.Create(s.ctx, owner, settings)
	s.Require().NoError(err)
	return snap.Timer.ID
}

func (s *HandlerSuite) send(conn *websocket.Conn, frame ClientFrame) {
	s.Require().NoError(conn.WriteJSON(frame))
}

func (s *HandlerSuite) read(conn *websocket.Conn) ServerFrame {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var frame ServerFrame
	s.Require().NoError(conn.ReadJSON(&frame))
	return frame
}

// readN reads n frames and indexes them by event name
func (s *HandlerSuite) readN(conn *websocket.Conn, n int) map[string]ServerFrame {
	frames := make(map[string]ServerFrame, n)
	for i := 0; i < n; i++ {
		f := s.read(conn)
		frames[f.Event] = f
	}
	return frames
}

func (s *HandlerSuite) follow(conn *websocket.Conn, id model.TimerID) {
	s.send(conn, ClientFrame{Ref: "f", Command: CommandFollow, TimerID: string(id)})
	ack := s.read(conn)
	s.Require().Equal(EventAck, ack.Event, ack.Message)
}

func (s *HandlerSuite) TestRejectsMissingToken() {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().ErrorIs(err, websocket.ErrBadHandshake)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	_, resp, err = websocket.DefaultDialer.Dial(url+"?access_token=bogus", nil)
	s.Require().ErrorIs(err, websocket.ErrBadHandshake)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func (s *HandlerSuite) TestFollowAckCarriesSnapshot() {
	owner := s.guest("Owner")
	id := s.createTimer(owner.UserID, model.TimerSettings{Players: []model.PlayerSeed{{Name: "A"}, {Name: "B"}}})
	conn := s.dial(owner.Token)

	s.send(conn, ClientFrame{Ref: "r1", Command: CommandFollow, TimerID: string(id)})
	ack := s.read(conn)

	s.Equal(EventAck, ack.Event)
	s.Equal("r1", ack.Ref)
	s.Equal(string(id), ack.TimerID)
	s.Require().NotNil(ack.Timer)
	s.Len(ack.Timer.Players, 2)
	s.Equal(int64(1), ack.Version)
}

func (s *HandlerSuite) TestStartBroadcastsToGroup() {
	owner := s.guest("Owner")
	id := s.createTimer(owner.UserID, model.TimerSettings{Players: []model.PlayerSeed{{Name: "A"}, {Name: "B"}}})
	a := s.dial(owner.Token)
	b := s.dial(owner.Token)
	s.follow(a, id)
	s.follow(b, id)

	s.send(a, ClientFrame{Ref: "go", Command: CommandStart})

	frames := s.readN(a, 2)
	s.Equal("go", frames[EventAck].Ref)
	start := frames[string(model.ActionStart)]
	s.Equal(int64(2), start.Version)
	s.Require().NotNil(start.Timer)
	s.True(start.Timer.Players[0].Running)

	other := s.read(b)
	s.Equal(string(model.ActionStart), other.Event)
	s.Equal(string(id), other.TimerID)
}

func (s *HandlerSuite) TestErrorsGoToIssuerOnly() {
	owner := s.guest("Owner")
	id := s.createTimer(owner.UserID, model.TimerSettings{Players: []model.PlayerSeed{{Name: "A"}}})
	conn := s.dial(owner.Token)

	s.send(conn, ClientFrame{Ref: "1", Command: CommandStart})
	f := s.read(conn)
	s.Equal(EventError, f.Event)
	s.Equal("NOT_FOLLOWING", f.Code)
	s.Equal("1", f.Ref)

	s.send(conn, ClientFrame{Ref: "2", Command: "explode"})
	s.Equal("VALIDATION_ERROR", s.read(conn).Code)

	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	s.Equal("VALIDATION_ERROR", s.read(conn).Code)

	s.follow(conn, id)
	s.send(conn, ClientFrame{Ref: "3", Command: CommandStop})
	f = s.read(conn)
	s.Equal("ALREADY_STOPPED", f.Code)
	s.False(f.Note)

	s.send(conn, ClientFrame{Ref: "4", Command: CommandFollow, TimerID: "other"})
	s.Equal("ALREADY_FOLLOWING", s.read(conn).Code)
}

func (s *HandlerSuite) TestFollowDeniedForStranger() {
	owner := s.guest("Owner")
	stranger := s.guest("Stranger")
	id := s.createTimer(owner.UserID, model.TimerSettings{Players: []model.PlayerSeed{{Name: "A"}}})
	conn := s.dial(stranger.Token)

	s.send(conn, ClientFrame{Command: CommandFollow, TimerID: string(id)})
	s.Equal("ACCESS_DENIED", s.read(conn).Code)

	s.send(conn, ClientFrame{Command: CommandFollow, TimerID: "missing"})
	s.Equal("NOT_FOUND", s.read(conn).Code)
}

func (s *HandlerSuite) TestAdvanceRestartFailureIsANote() {
	owner := s.guest("Owner")
	id := s.createTimer(owner.UserID, model.TimerSettings{
		Type:            model.TimerTypeCountDown,
		InitialDuration: 1,
		Players:         []model.PlayerSeed{{Name: "Solo"}},
	})
	conn := s.dial(owner.Token)
	s.follow(conn, id)

	s.send(conn, ClientFrame{Command: CommandStart})
	s.readN(conn, 2)
	time.Sleep(5 * time.Millisecond)

	s.send(conn, ClientFrame{Ref: "n", Command: CommandNext})
	frames := s.readN(conn, 3)

	next := frames[string(model.ActionNext)]
	s.Require().NotNil(next.Timer)
	s.False(next.Timer.Players[0].Running)

	note := frames[EventError]
	s.True(note.Note)
	s.Equal("RAN_OUT", note.Code)
	s.Equal("n", note.Ref)
	s.Equal("n", frames[EventAck].Ref)
}

func (s *HandlerSuite) TestReorderTurns() {
	owner := s.guest("Owner")
	snap, err := s.timers.Create(s.ctx, owner.UserID, model.TimerSettings{
		Players: []model.PlayerSeed{{Name: "A"}, {Name: "B"}},
	})
	s.Require().NoError(err)
	conn := s.dial(owner.Token)
	s.follow(conn, snap.Timer.ID)

	p0, p1 := string(snap.Players[0].ID), string(snap.Players[1].ID)

	s.send(conn, ClientFrame{Command: CommandReorderTurns, TurnOrders: []TurnOrder{{p0, 0}, {p0, 1}}})
	s.Equal("VALIDATION_ERROR", s.read(conn).Code)

	s.send(conn, ClientFrame{Command: CommandReorderTurns, TurnOrders: []TurnOrder{{p0, 0}, {p1, 0}}})
	s.Equal("INVALID_PERMUTATION", s.read(conn).Code)

	s.send(conn, ClientFrame{Command: CommandReorderTurns, TurnOrders: []TurnOrder{{p0, 1}, {p1, 0}}})
	frames := s.readN(conn, 2)
	ev := frames[string(model.ActionReorderTurns)]
	s.Require().NotNil(ev.Timer)
	s.Equal(p1, ev.Timer.Players[0].ID)
}

func (s *HandlerSuite) TestDeleteNotifiesGroupAndIssuer() {
	owner := s.guest("Owner")
	id := s.createTimer(owner.UserID, model.TimerSettings{Players: []model.PlayerSeed{{Name: "A"}}})
	follower := s.dial(owner.Token)
	issuer := s.dial(owner.Token)
	s.follow(follower, id)

	s.send(issuer, ClientFrame{Ref: "d", Command: CommandDelete, TimerID: string(id)})

	frames := s.readN(issuer, 2)
	s.Equal(string(id), frames[string(model.ActionDelete)].TimerID)
	s.Equal("d", frames[EventAck].Ref)

	s.Equal(string(model.ActionDelete), s.read(follower).Event)

	s.send(issuer, ClientFrame{Command: CommandDelete, TimerID: string(id)})
	s.Equal("NOT_FOUND", s.read(issuer).Code)
}

func (s *HandlerSuite) TestDisconnectLeavesGroup() {
	owner := s.guest("Owner")
	id := s.createTimer(owner.UserID, model.TimerSettings{Players: []model.PlayerSeed{{Name: "A"}}})
	conn := s.dial(owner.Token)
	s.follow(conn, id)
	s.Equal(1, s.hubs.GetHub(id).MemberCount())

	s.Require().NoError(conn.Close())
	s.Eventually(func() bool {
		return s.hubs.GetHub(id).MemberCount() == 0 && s.handler.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
