package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/storage"
	"github.com/mcoot/turntimer/internal/storage/storagetest"
)

type StorageSuite struct {
	storagetest.Suite
	storage *Storage
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.storage = New()
	s.Storage = s.storage
	s.Ctx = context.Background()
}

func (s *StorageSuite) TestStagedWritesInvisibleUntilCommit() {
	timer, players := storagetest.NewTimerFixture("t1", 2)

	uow, err := s.storage.Begin(s.Ctx)
	s.Require().NoError(err)
	s.Require().NoError(uow.CreateTimer(s.Ctx, timer, players))

	s.storage.mu.RLock()
	_, visible := s.storage.timers["t1"]
	s.storage.mu.RUnlock()
	s.False(visible)

	s.Require().NoError(uow.Commit(s.Ctx))
	_, ok := s.storage.load("t1")
	s.True(ok)
}

func (s *StorageSuite) TestCommitFailsWhenTimerDeletedConcurrently() {
	timer, players := storagetest.NewTimerFixture("t1", 1)
	setup, _ := s.storage.Begin(s.Ctx)
	s.Require().NoError(setup.CreateTimer(s.Ctx, timer, players))
	s.Require().NoError(setup.Commit(s.Ctx))

	// Writer pins a shared view, then the timer disappears underneath it
	writer, _ := s.storage.Begin(s.Ctx)
	s.Require().NoError(writer.LockTimer(s.Ctx, "t1", storage.LockShared))
	snap, err := storage.LoadSnapshot(s.Ctx, writer, "t1")
	s.Require().NoError(err)

	deleter, _ := s.storage.Begin(s.Ctx)
	s.Require().NoError(deleter.LockTimer(s.Ctx, "t1", storage.LockExclusive))
	s.Require().NoError(deleter.DeleteTimer(s.Ctx, "t1"))
	s.Require().NoError(deleter.Commit(s.Ctx))

	snap.Players[0].Elapsed = 10
	s.Require().NoError(writer.SavePlayer(s.Ctx, snap.Players[0]))
	s.ErrorIs(writer.Commit(s.Ctx), model.ErrTimerNotFound)
}

func (s *StorageSuite) TestLocksReleasedAfterCommit() {
	timer, players := storagetest.NewTimerFixture("t1", 1)
	uow, _ := s.storage.Begin(s.Ctx)
	s.Require().NoError(uow.CreateTimer(s.Ctx, timer, players))
	s.Require().NoError(uow.Commit(s.Ctx))

	uow, _ = s.storage.Begin(s.Ctx)
	s.Require().NoError(uow.LockTimer(s.Ctx, "t1", storage.LockExclusive))
	s.Equal(1, s.storage.locks.Len())
	s.Require().NoError(uow.Rollback(s.Ctx))
	s.Equal(0, s.storage.locks.Len())
}
