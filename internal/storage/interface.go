package storage

import (
	"context"

	"github.com/mcoot/turntimer/internal/model"
)

// LockMode selects how strongly a unit of work claims a timer
type LockMode int

const (
	// LockShared pins a consistent view of the committed timer for later reads
	LockShared LockMode = iota
	// LockExclusive serialises every reader and writer of the timer until commit or rollback
	LockExclusive
)

func (m LockMode) String() string {
	if m == LockExclusive {
		return "exclusive"
	}
	return "shared"
}

// Storage defines the interface for timer persistence
type Storage interface {
	// Begin opens a unit of work. The caller must Commit or Rollback it.
	Begin(ctx context.Context) (UnitOfWork, error)

	// Close releases the backend's resources
	Close() error
}

// UnitOfWork is an atomic, isolated scope of reads and writes. Writes become
// visible to other units of work only after Commit.
type UnitOfWork interface {
	// LockTimer claims the timer for the rest of the unit of work
	LockTimer(ctx context.Context, id model.TimerID, mode LockMode) error

	// Timer operations
	GetTimer(ctx context.Context, id model.TimerID) (*model.Timer, error)
	CreateTimer(ctx context.Context, timer *model.Timer, players []*model.PlayerTimer) error
	SaveTimer(ctx context.Context, timer *model.Timer) error
	DeleteTimer(ctx context.Context, id model.TimerID) error
	ListTimersForUser(ctx context.Context, user model.UserID) ([]*model.Timer, error)

	// Player timer operations
	GetPlayers(ctx context.Context, id model.TimerID) ([]*model.PlayerTimer, error)
	SavePlayer(ctx context.Context, player *model.PlayerTimer) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// LoadSnapshot reads a timer and its players through uow
func LoadSnapshot(ctx context.Context, uow UnitOfWork, id model.TimerID) (*model.Snapshot, error) {
	timer, err := uow.GetTimer(ctx, id)
	if err != nil {
		return nil, err
	}
	players, err := uow.GetPlayers(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.NewSnapshot(timer, players), nil
}
