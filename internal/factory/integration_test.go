package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/turntimer/internal/config"
	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/services/directory"
	"github.com/mcoot/turntimer/internal/services/room"
	"github.com/mcoot/turntimer/internal/testutil"
)

// eventSink collects delivered events for a session
type eventSink struct {
	events chan model.Event
}

func newEventSink() *eventSink {
	return &eventSink{events: make(chan model.Event, 32)}
}

func (e *eventSink) Send(ev model.Event) bool {
	select {
	case e.events <- ev:
		return true
	default:
		return false
	}
}

func (e *eventSink) Close() {}

type IntegrationSuite struct {
	suite.Suite
	app *TestApp
	ctx context.Context
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.app = NewTestApp(directory.Entry{
		Ref:     model.ContextRef{Kind: model.ContextEvent, ID: "club-night"},
		Owner:   "organiser",
		Members: []model.UserID{"id-1", "id-2"},

		MembersCanEdit: true,
	})
	s.ctx = context.Background()
}

func (s *IntegrationSuite) TearDownTest() {
	s.NoError(s.app.Close())
}

func (s *IntegrationSuite) next(sink *eventSink) model.Event {
	select {
	case ev := <-sink.events:
		return ev
	case <-time.After(time.Second):
		s.FailNow("no event delivered")
		return model.Event{}
	}
}

// Test: two members of an event follow the same timer and play a turn
func (s *IntegrationSuite) TestSharedTimerFlow() {
	// Step 1: Two guests join (ids id-1 and id-2 are the event's members)
	alice, err := s.app.AuthService.CreateGuest(s.ctx, "Alice")
	s.Require().NoError(err)
	bob, err := s.app.AuthService.CreateGuest(s.ctx, "Bob")
	s.Require().NoError(err)
	s.Equal(model.UserID("id-1"), alice.UserID)

	// Step 2: Alice creates a timer for the event
	snap, err := s.app.TimerService.Create(s.ctx, alice.UserID, model.TimerSettings{
		Context: &model.ContextRef{Kind: model.ContextEvent, ID: "club-night"},
		Players: []model.PlayerSeed{{UserID: alice.UserID}, {UserID: bob.UserID}},
	})
	s.Require().NoError(err)
	id := snap.Timer.ID

	// Step 3: Both follow it
	aliceSink, bobSink := newEventSink(), newEventSink()
	aliceSess := room.NewSession("conn-a", alice.UserID, aliceSink)
	bobSess := room.NewSession("conn-b", bob.UserID, bobSink)
	_, err = s.app.RoomManager.Follow(s.ctx, aliceSess, id)
	s.Require().NoError(err)
	_, err = s.app.RoomManager.Follow(s.ctx, bobSess, id)
	s.Require().NoError(err)

	// Step 4: Alice starts, two seconds pass, Bob hands the turn on
	s.Require().NoError(s.app.RoomManager.Start(s.ctx, aliceSess))
	s.Equal(model.ActionStart, s.next(bobSink).Action)
	s.Equal(model.ActionStart, s.next(aliceSink).Action)

	s.app.FakeClock.Advance(2 * time.Second)
	res, err := s.app.RoomManager.Next(s.ctx, bobSess)
	s.Require().NoError(err)
	s.NoError(res.StartErr)

	for _, sink := range []*eventSink{aliceSink, bobSink} {
		ev := s.next(sink)
		s.Equal(model.ActionNext, ev.Action)
		s.Equal(int64(3), ev.Version)
		s.Require().NotNil(ev.Snapshot)
		s.Equal(int64(2000), ev.Snapshot.Players[0].Elapsed)
		s.True(ev.Snapshot.Players[1].Running())
	}

	// Step 5: The organiser deletes it and both are unfollowed
	s.Require().NoError(s.app.RoomManager.Delete(s.ctx, room.NewSession("conn-o", "organiser", newEventSink()), id))
	s.Equal(model.ActionDelete, s.next(aliceSink).Action)
	s.Equal(model.ActionDelete, s.next(bobSink).Action)
	s.Eventually(func() bool {
		_, following := aliceSess.Following()
		return !following
	}, time.Second, 10*time.Millisecond)
}

func (s *IntegrationSuite) TestStrangerCannotFollow() {
	alice, _ := s.app.AuthService.CreateGuest(s.ctx, "Alice")
	snap, err := s.app.TimerService.Create(s.ctx, alice.UserID, model.TimerSettings{
		Players: []model.PlayerSeed{{Name: "Solo"}},
	})
	s.Require().NoError(err)

	stranger := room.NewSession("conn-x", "stranger", newEventSink())
	_, err = s.app.RoomManager.Follow(s.ctx, stranger, snap.Timer.ID)
	s.ErrorIs(err, model.ErrAccessDenied)
}

func (s *IntegrationSuite) TestInvalidContextIsRejected() {
	_, err := newWithDependencies(dependencies{}, Config{
		Contexts: []directory.Entry{{Ref: model.ContextRef{Kind: "party", ID: "x"}, Owner: "o"}},
	}, testutil.NopLogger())
	s.ErrorIs(err, model.ErrValidation)
}

func (s *IntegrationSuite) TestConfigFrom() {
	settings := config.Default()
	settings.StorageType = config.StorageRedis
	settings.RedisURL = "redis://cache:6379"
	settings.NATSURL = "nats://bus:4222"
	settings.SessionDuration = time.Hour
	settings.CORSOrigins = []string{"https://timers.example"}

	cfg := ConfigFrom(settings, testutil.NopLogger())
	s.Require().NotNil(cfg.RedisConfig)
	s.Equal("redis://cache:6379", cfg.RedisConfig.URL)
	s.Nil(cfg.PostgresConfig)
	s.Require().NotNil(cfg.NATSConfig)
	s.Equal("nats://bus:4222", cfg.NATSConfig.URL)
	s.Equal(time.Hour, cfg.AuthConfig.SessionDuration)
	s.Equal([]string{"https://timers.example"}, cfg.WebsocketConfig.AllowedOrigins)
}

func (s *IntegrationSuite) TestNewRejectsIncompleteStorage() {
	_, err := New(s.ctx, Config{StorageType: config.StorageRedis})
	s.Error(err)
	_, err = New(s.ctx, Config{StorageType: "etcd"})
	s.Error(err)

	app, err := New(s.ctx, Config{})
	s.Require().NoError(err)
	s.NoError(app.Close())
}
