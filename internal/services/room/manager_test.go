package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/turntimer/internal/dependencies/clock"
	"github.com/mcoot/turntimer/internal/dependencies/mocks"
	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/realtime"
	"github.com/mcoot/turntimer/internal/services/access"
	"github.com/mcoot/turntimer/internal/services/directory"
	"github.com/mcoot/turntimer/internal/services/exclusive"
	"github.com/mcoot/turntimer/internal/services/timer"
	"github.com/mcoot/turntimer/internal/storage/memory"
	"github.com/mcoot/turntimer/internal/testutil"
)

// chanSink buffers frames in a channel; Send fails once it is full
type chanSink struct {
	frames chan model.Event
	once   sync.Once
	closed chan struct{}
}

func newChanSink(size int) *chanSink {
	return &chanSink{frames: make(chan model.Event, size), closed: make(chan struct{})}
}

func (c *chanSink) Send(ev model.Event) bool {
	select {
	case c.frames <- ev:
		return true
	default:
		return false
	}
}

func (c *chanSink) Close() {
	c.once.Do(func() { close(c.closed) })
}

type ManagerSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *clockwork.FakeClock
	hubs    *realtime.HubManager
	timers  *timer.Service
	manager *Manager
	timerID model.TimerID
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	logger := testutil.NopLogger()
	s.ctx = context.Background()
	s.clock = clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.hubs = realtime.NewHubManager(logger)
	dir := directory.New(logger)

	s.timers = timer.NewService(
		exclusive.New(memory.New(), logger),
		access.New(dir, logger),
		dir,
		realtime.NewLocalBroadcaster(s.hubs, logger),
		s.clock,
		mocks.NewSequentialIDs("id"),
		logger,
	)
	s.manager = NewManager(s.timers, s.hubs, logger)

	snap, err := s.timers.Create(s.ctx, "creator", model.TimerSettings{
		Type:            model.TimerTypeCountDown,
		InitialDuration: 60000,
		Players: []model.PlayerSeed{
			{UserID: "alice"},
			{Name: "Bob"},
		},
	})
	s.Require().NoError(err)
	s.timerID = snap.Timer.ID
}

func (s *ManagerSuite) TearDownTest() {
	s.hubs.Close()
}

func (s *ManagerSuite) session(connID string, actor model.UserID) (*Session, *chanSink) {
	sink := newChanSink(16)
	return NewSession(connID, actor, sink), sink
}

func (s *ManagerSuite) next(sink *chanSink) model.Event {
	select {
	case ev := <-sink.frames:
		return ev
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for event")
		return model.Event{}
	}
}

func (s *ManagerSuite) assertQuiet(sink *chanSink) {
	select {
	case ev := <-sink.frames:
		s.Failf("unexpected event", "got %s", ev.Action)
	case <-time.After(30 * time.Millisecond):
	}
}

func (s *ManagerSuite) TestFollow() {
	sess, _ := s.session("c1", "creator")

	snap, err := s.manager.Follow(s.ctx, sess, s.timerID)
	s.Require().NoError(err)
	s.Equal(s.timerID, snap.Timer.ID)

	id, ok := sess.Following()
	s.True(ok)
	s.Equal(s.timerID, id)
	s.Equal(1, s.hubs.GetHub(s.timerID).MemberCount())

	// Same timer again is a no-op
	_, err = s.manager.Follow(s.ctx, sess, s.timerID)
	s.NoError(err)
	s.Equal(1, s.hubs.GetHub(s.timerID).MemberCount())
}

func (s *ManagerSuite) TestFollowSecondTimerIsAlreadyFollowing() {
	other, err := s.timers.Create(s.ctx, "creator", model.TimerSettings{Players: []model.PlayerSeed{{Name: "Solo"}}})
	s.Require().NoError(err)

	sess, _ := s.session("c1", "creator")
	_, err = s.manager.Follow(s.ctx, sess, s.timerID)
	s.Require().NoError(err)

	_, err = s.manager.Follow(s.ctx, sess, other.Timer.ID)
	s.ErrorIs(err, model.ErrAlreadyFollowing)

	id, _ := sess.Following()
	s.Equal(s.timerID, id)
}

func (s *ManagerSuite) TestFollowRejections() {
	sess, _ := s.session("c1", "mallory")

	_, err := s.manager.Follow(s.ctx, sess, "missing")
	s.ErrorIs(err, model.ErrTimerNotFound)

	_, err = s.manager.Follow(s.ctx, sess, s.timerID)
	s.ErrorIs(err, model.ErrAccessDenied)

	_, err = s.manager.Follow(s.ctx, sess, "")
	s.ErrorIs(err, model.ErrValidation)

	_, ok := sess.Following()
	s.False(ok)
	s.Nil(s.hubs.GetHub(s.timerID))
}

func (s *ManagerSuite) TestCommandsRequireFollow() {
	sess, _ := s.session("c1", "creator")

	s.ErrorIs(s.manager.Start(s.ctx, sess), model.ErrNotFollowing)
	s.ErrorIs(s.manager.Stop(s.ctx, sess), model.ErrNotFollowing)
	_, err := s.manager.Next(s.ctx, sess)
	s.ErrorIs(err, model.ErrNotFollowing)
	_, err = s.manager.Prev(s.ctx, sess)
	s.ErrorIs(err, model.ErrNotFollowing)
	s.ErrorIs(s.manager.ReorderTurns(s.ctx, sess, map[model.PlayerTimerID]int{"x": 0}), model.ErrNotFollowing)
	s.ErrorIs(s.manager.Unfollow(sess), model.ErrNotFollowing)

	snap, err := s.timers.Get(s.ctx, "creator", s.timerID)
	s.Require().NoError(err)
	s.Equal(int64(1), snap.Timer.Version)
}

func (s *ManagerSuite) TestBroadcastReachesEveryFollower() {
	creator, creatorSink := s.session("c1", "creator")
	alice, aliceSink := s.session("c2", "alice")
	_, err := s.manager.Follow(s.ctx, creator, s.timerID)
	s.Require().NoError(err)
	_, err = s.manager.Follow(s.ctx, alice, s.timerID)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Start(s.ctx, alice))

	for _, sink := range []*chanSink{creatorSink, aliceSink} {
		ev := s.next(sink)
		s.Equal(model.ActionStart, ev.Action)
		s.Equal(int64(2), ev.Version)
		s.True(ev.Snapshot.Players[0].Running())
	}

	s.clock.Advance(3 * time.Second)
	res, err := s.manager.Next(s.ctx, creator)
	s.Require().NoError(err)
	s.Equal(1, res.Current)

	ev := s.next(aliceSink)
	s.Equal(model.ActionNext, ev.Action)
	s.Equal(int64(3000), ev.Snapshot.Players[0].Elapsed)
	s.True(ev.Snapshot.Players[1].Running())
}

func (s *ManagerSuite) TestBusinessErrorReachesOnlyIssuer() {
	creator, creatorSink := s.session("c1", "creator")
	_, err := s.manager.Follow(s.ctx, creator, s.timerID)
	s.Require().NoError(err)

	s.ErrorIs(s.manager.Stop(s.ctx, creator), model.ErrAlreadyStopped)
	s.assertQuiet(creatorSink)
}

func (s *ManagerSuite) TestUnfollowStopsEvents() {
	creator, _ := s.session("c1", "creator")
	alice, aliceSink := s.session("c2", "alice")
	_, err := s.manager.Follow(s.ctx, creator, s.timerID)
	s.Require().NoError(err)
	_, err = s.manager.Follow(s.ctx, alice, s.timerID)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Unfollow(alice))
	s.ErrorIs(s.manager.Unfollow(alice), model.ErrNotFollowing)

	s.Require().NoError(s.manager.Start(s.ctx, creator))
	s.assertQuiet(aliceSink)
}

func (s *ManagerSuite) TestDeleteUnfollowsGroup() {
	creator, creatorSink := s.session("c1", "creator")
	alice, aliceSink := s.session("c2", "alice")
	_, err := s.manager.Follow(s.ctx, creator, s.timerID)
	s.Require().NoError(err)
	_, err = s.manager.Follow(s.ctx, alice, s.timerID)
	s.Require().NoError(err)

	s.ErrorIs(s.manager.Delete(s.ctx, alice, s.timerID), model.ErrAccessDenied)
	s.Require().NoError(s.manager.Delete(s.ctx, creator, s.timerID))

	for _, sink := range []*chanSink{creatorSink, aliceSink} {
		ev := s.next(sink)
		s.Equal(model.ActionDelete, ev.Action)
		s.Equal(int64(2), ev.Version)
	}
	s.assertQuiet(creatorSink)

	s.Eventually(func() bool {
		_, ok := alice.Following()
		return !ok
	}, time.Second, 5*time.Millisecond)
	_, ok := creator.Following()
	s.False(ok)
}

func (s *ManagerSuite) TestDeleteByNonMemberDeliversToIssuer() {
	creator, creatorSink := s.session("c1", "creator")
	alice, aliceSink := s.session("c2", "alice")
	_, err := s.manager.Follow(s.ctx, alice, s.timerID)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Delete(s.ctx, creator, s.timerID))

	s.Equal(model.ActionDelete, s.next(creatorSink).Action)
	s.Equal(model.ActionDelete, s.next(aliceSink).Action)
	s.assertQuiet(creatorSink)

	s.ErrorIs(s.manager.Delete(s.ctx, creator, s.timerID), model.ErrTimerNotFound)
}

func (s *ManagerSuite) TestSlowConsumerIsDisconnected() {
	creator, _ := s.session("c1", "creator")
	sink := newChanSink(0)
	slow := NewSession("c2", "alice", sink)
	_, err := s.manager.Follow(s.ctx, creator, s.timerID)
	s.Require().NoError(err)
	_, err = s.manager.Follow(s.ctx, slow, s.timerID)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Start(s.ctx, creator))

	select {
	case <-sink.closed:
	case <-time.After(2 * time.Second):
		s.FailNow("slow session was not closed")
	}
	_, ok := slow.Following()
	s.False(ok)
	s.Equal(1, s.hubs.GetHub(s.timerID).MemberCount())
}

func (s *ManagerSuite) TestDisconnectLeavesGroup() {
	sess, _ := s.session("c1", "creator")
	_, err := s.manager.Follow(s.ctx, sess, s.timerID)
	s.Require().NoError(err)

	s.manager.Disconnect(sess)
	s.Equal(0, s.hubs.GetHub(s.timerID).MemberCount())

	s.hubs.CleanupEmptyHubs()
	s.Equal(0, s.hubs.HubCount())
}

func (s *ManagerSuite) TestSessionStateIsSerialisable() {
	sess, _ := s.session("c1", "creator")
	_, err := s.manager.Follow(s.ctx, sess, s.timerID)
	s.Require().NoError(err)

	data, err := json.Marshal(sess.State())
	s.Require().NoError(err)
	s.JSONEq(`{"conn_id":"c1","actor":"creator","following":{"timer_id":"`+string(s.timerID)+`"}}`, string(data))

	s.Require().NoError(s.manager.Unfollow(sess))
	data, err = json.Marshal(sess.State())
	s.Require().NoError(err)
	s.JSONEq(`{"conn_id":"c1","actor":"creator"}`, string(data))
}
