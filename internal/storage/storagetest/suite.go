// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/storage"
)

// Suite runs the shared storage contract. Backends embed it and set Storage in SetupTest.
type Suite struct {
	suite.Suite
	Storage storage.Storage
	Ctx     context.Context
}

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// NewTimerFixture returns a COUNT_DOWN timer with n named players and one registered player
func NewTimerFixture(id model.TimerID, n int) (*model.Timer, []*model.PlayerTimer) {
	timer := &model.Timer{
		ID:              id,
		Type:            model.TimerTypeCountDown,
		InitialDuration: 600000,
		Creator:         "creator",
		Version:         1,
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}
	players := make([]*model.PlayerTimer, n)
	for i := range players {
		players[i] = &model.PlayerTimer{
			ID:        model.PlayerTimerID(string(id) + "-p" + string(rune('0'+i))),
			TimerID:   id,
			TurnOrder: i,
			Name:      "player " + string(rune('A'+i)),
			Color:     model.DefaultColor,
		}
	}
	if n > 0 {
		players[0].Name = ""
		players[0].UserID = "participant"
	}
	return timer, players
}

func (s *Suite) create(id model.TimerID, n int) (*model.Timer, []*model.PlayerTimer) {
	timer, players := NewTimerFixture(id, n)
	uow, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	s.Require().NoError(uow.CreateTimer(s.Ctx, timer, players))
	s.Require().NoError(uow.Commit(s.Ctx))
	return timer, players
}

func (s *Suite) load(id model.TimerID) (*model.Snapshot, error) {
	uow, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = uow.Rollback(s.Ctx) }()
	if err := uow.LockTimer(s.Ctx, id, storage.LockShared); err != nil {
		return nil, err
	}
	return storage.LoadSnapshot(s.Ctx, uow, id)
}

func (s *Suite) TestCreateAndLoad() {
	timer, players := s.create("t1", 3)

	snap, err := s.load("t1")
	s.Require().NoError(err)
	s.Equal(timer.ID, snap.Timer.ID)
	s.Equal(timer.Type, snap.Timer.Type)
	s.Equal(timer.InitialDuration, snap.Timer.InitialDuration)
	s.Require().Len(snap.Players, 3)
	for i, p := range snap.Players {
		s.Equal(players[i].ID, p.ID)
		s.Equal(i, p.TurnOrder)
	}
	s.Equal(model.UserID("participant"), snap.Players[0].UserID)
	s.NoError(snap.Validate())
}

func (s *Suite) TestLockMissingTimer() {
	uow, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = uow.Rollback(s.Ctx) }()

	s.ErrorIs(uow.LockTimer(s.Ctx, "missing", storage.LockExclusive), model.ErrTimerNotFound)
	_, err = uow.GetTimer(s.Ctx, "missing")
	s.ErrorIs(err, model.ErrTimerNotFound)
}

func (s *Suite) TestSaveCommitsAtomically() {
	s.create("t1", 2)

	uow, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	s.Require().NoError(uow.LockTimer(s.Ctx, "t1", storage.LockExclusive))
	snap, err := storage.LoadSnapshot(s.Ctx, uow, "t1")
	s.Require().NoError(err)

	start := baseTime.Add(time.Minute)
	snap.Players[1].Start = &start
	snap.Players[1].Elapsed = 42
	snap.Timer.CurrentPlayer = 1
	snap.Timer.Version++
	s.Require().NoError(uow.SavePlayer(s.Ctx, snap.Players[1]))
	s.Require().NoError(uow.SaveTimer(s.Ctx, snap.Timer))

	// Read-your-writes inside the unit of work
	players, err := uow.GetPlayers(s.Ctx, "t1")
	s.Require().NoError(err)
	s.Equal(int64(42), players[1].Elapsed)

	s.Require().NoError(uow.Commit(s.Ctx))

	after, err := s.load("t1")
	s.Require().NoError(err)
	s.Equal(1, after.Timer.CurrentPlayer)
	s.Equal(int64(2), after.Timer.Version)
	s.Equal(int64(42), after.Players[1].Elapsed)
	s.Require().NotNil(after.Players[1].Start)
	s.True(start.Equal(*after.Players[1].Start))
	s.Nil(after.Players[0].Start)
}

func (s *Suite) TestRollbackDiscardsWrites() {
	s.create("t1", 2)

	uow, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	s.Require().NoError(uow.LockTimer(s.Ctx, "t1", storage.LockExclusive))
	snap, err := storage.LoadSnapshot(s.Ctx, uow, "t1")
	s.Require().NoError(err)
	snap.Players[0].Elapsed = 999
	s.Require().NoError(uow.SavePlayer(s.Ctx, snap.Players[0]))
	s.Require().NoError(uow.Rollback(s.Ctx))

	after, err := s.load("t1")
	s.Require().NoError(err)
	s.Equal(int64(0), after.Players[0].Elapsed)
}

func (s *Suite) TestSaveUnknownPlayer() {
	s.create("t1", 1)

	uow, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = uow.Rollback(s.Ctx) }()
	s.Require().NoError(uow.LockTimer(s.Ctx, "t1", storage.LockExclusive))

	err = uow.SavePlayer(s.Ctx, &model.PlayerTimer{ID: "nobody", TimerID: "t1", Name: "x", Color: model.DefaultColor})
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *Suite) TestDeleteRemovesPlayers() {
	s.create("t1", 3)

	uow, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	s.Require().NoError(uow.LockTimer(s.Ctx, "t1", storage.LockExclusive))
	s.Require().NoError(uow.DeleteTimer(s.Ctx, "t1"))
	s.Require().NoError(uow.Commit(s.Ctx))

	_, err = s.load("t1")
	s.ErrorIs(err, model.ErrTimerNotFound)

	uow, err = s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = uow.Rollback(s.Ctx) }()
	_, err = uow.GetPlayers(s.Ctx, "t1")
	s.ErrorIs(err, model.ErrTimerNotFound)
	timers, err := uow.ListTimersForUser(s.Ctx, "participant")
	s.Require().NoError(err)
	s.Empty(timers)
}

func (s *Suite) TestListTimersForUser() {
	s.create("t1", 2)
	s.create("t2", 2)

	uow, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = uow.Rollback(s.Ctx) }()

	byCreator, err := uow.ListTimersForUser(s.Ctx, "creator")
	s.Require().NoError(err)
	s.Len(byCreator, 2)

	byParticipant, err := uow.ListTimersForUser(s.Ctx, "participant")
	s.Require().NoError(err)
	s.Len(byParticipant, 2)

	none, err := uow.ListTimersForUser(s.Ctx, "stranger")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *Suite) TestExclusiveLockBlocksSecondHolder() {
	s.create("t1", 1)

	first, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	s.Require().NoError(first.LockTimer(s.Ctx, "t1", storage.LockExclusive))

	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		second, err := s.Storage.Begin(s.Ctx)
		if !s.NoError(err) {
			return
		}
		defer func() { _ = second.Rollback(s.Ctx) }()
		if s.NoError(second.LockTimer(s.Ctx, "t1", storage.LockExclusive)) {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		s.Fail("second exclusive lock acquired while first held")
	case <-time.After(100 * time.Millisecond):
	}

	s.Require().NoError(first.Commit(s.Ctx))
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		s.Fail("second exclusive lock never acquired")
	}
	wg.Wait()
}

func (s *Suite) TestExclusiveLockHonoursContext() {
	s.create("t1", 1)

	first, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = first.Rollback(s.Ctx) }()
	s.Require().NoError(first.LockTimer(s.Ctx, "t1", storage.LockExclusive))

	ctx, cancel := context.WithTimeout(s.Ctx, 50*time.Millisecond)
	defer cancel()
	second, err := s.Storage.Begin(ctx)
	s.Require().NoError(err)
	defer func() { _ = second.Rollback(s.Ctx) }()
	s.Error(second.LockTimer(ctx, "t1", storage.LockExclusive))
}

func (s *Suite) TestSharedLockReadsCommittedState() {
	s.create("t1", 2)

	reader, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = reader.Rollback(s.Ctx) }()
	s.Require().NoError(reader.LockTimer(s.Ctx, "t1", storage.LockShared))
	before, err := storage.LoadSnapshot(s.Ctx, reader, "t1")
	s.Require().NoError(err)
	s.Equal(0, before.Timer.CurrentPlayer)
}

func (s *Suite) TestCommitTwiceFails() {
	uow, err := s.Storage.Begin(s.Ctx)
	s.Require().NoError(err)
	timer, players := NewTimerFixture("t1", 1)
	s.Require().NoError(uow.CreateTimer(s.Ctx, timer, players))
	s.Require().NoError(uow.Commit(s.Ctx))
	s.Error(uow.Commit(s.Ctx))
	s.NoError(uow.Rollback(s.Ctx))
}
