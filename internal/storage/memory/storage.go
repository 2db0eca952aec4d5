package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mcoot/turntimer/internal/keylock"
	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/storage"
)

var errFinished = errors.New("unit of work already finished")

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	timers    map[model.TimerID]*model.Timer
	players   map[model.TimerID]map[model.PlayerTimerID]*model.PlayerTimer
	userIndex map[model.UserID]map[model.TimerID]bool

	locks *keylock.Locker[model.TimerID]
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		timers:    make(map[model.TimerID]*model.Timer),
		players:   make(map[model.TimerID]map[model.PlayerTimerID]*model.PlayerTimer),
		userIndex: make(map[model.UserID]map[model.TimerID]bool),
		locks:     keylock.New[model.TimerID](),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Begin opens a unit of work whose writes are staged until Commit
func (s *Storage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	return &unitOfWork{
		s:       s,
		views:   make(map[model.TimerID]*model.Snapshot),
		timers:  make(map[model.TimerID]*model.Timer),
		players: make(map[model.TimerID]map[model.PlayerTimerID]*model.PlayerTimer),
		created: make(map[model.TimerID]bool),
		deleted: make(map[model.TimerID]bool),
	}, nil
}

// Close is a no-op for in-memory storage
func (s *Storage) Close() error {
	return nil
}

// load copies the committed timer and its players under the read lock
func (s *Storage) load(id model.TimerID) (*model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	timer, ok := s.timers[id]
	if !ok {
		return nil, false
	}
	players := make([]*model.PlayerTimer, 0, len(s.players[id]))
	for _, p := range s.players[id] {
		players = append(players, p.Clone())
	}
	return model.NewSnapshot(timer.Clone(), players), true
}

func (s *Storage) indexLocked(id model.TimerID, users ...model.UserID) {
	for _, u := range users {
		if u == "" {
			continue
		}
		if s.userIndex[u] == nil {
			s.userIndex[u] = make(map[model.TimerID]bool)
		}
		s.userIndex[u][id] = true
	}
}

func (s *Storage) unindexLocked(id model.TimerID) {
	for u, ids := range s.userIndex {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.userIndex, u)
		}
	}
}

type unitOfWork struct {
	s *Storage

	// views holds snapshots pinned by LockTimer
	views map[model.TimerID]*model.Snapshot

	// Staged writes
	timers  map[model.TimerID]*model.Timer
	players map[model.TimerID]map[model.PlayerTimerID]*model.PlayerTimer
	created map[model.TimerID]bool
	deleted map[model.TimerID]bool

	unlocks []func()
	done    bool
}

func (u *unitOfWork) LockTimer(ctx context.Context, id model.TimerID, mode storage.LockMode) error {
	if u.done {
		return errFinished
	}
	if mode == storage.LockExclusive {
		unlock, err := u.s.locks.Lock(ctx, id)
		if err != nil {
			return err
		}
		u.unlocks = append(u.unlocks, unlock)
	}
	snap, ok := u.s.load(id)
	if !ok {
		return model.ErrTimerNotFound
	}
	u.views[id] = snap
	return nil
}

// base returns the pinned view of a timer, or a fresh committed copy
func (u *unitOfWork) base(id model.TimerID) (*model.Snapshot, bool) {
	if snap, ok := u.views[id]; ok {
		return snap, true
	}
	return u.s.load(id)
}

func (u *unitOfWork) GetTimer(ctx context.Context, id model.TimerID) (*model.Timer, error) {
	if u.deleted[id] {
		return nil, model.ErrTimerNotFound
	}
	if t, ok := u.timers[id]; ok {
		return t.Clone(), nil
	}
	snap, ok := u.base(id)
	if !ok {
		return nil, model.ErrTimerNotFound
	}
	return snap.Timer.Clone(), nil
}

func (u *unitOfWork) GetPlayers(ctx context.Context, id model.TimerID) ([]*model.PlayerTimer, error) {
	if u.deleted[id] {
		return nil, model.ErrTimerNotFound
	}
	staged := u.players[id]
	var players []*model.PlayerTimer
	if !u.created[id] {
		snap, ok := u.base(id)
		if !ok {
			return nil, model.ErrTimerNotFound
		}
		for _, p := range snap.Players {
			if _, ok := staged[p.ID]; !ok {
				players = append(players, p.Clone())
			}
		}
	}
	for _, p := range staged {
		players = append(players, p.Clone())
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].TurnOrder < players[j].TurnOrder })
	return players, nil
}

func (u *unitOfWork) CreateTimer(ctx context.Context, timer *model.Timer, players []*model.PlayerTimer) error {
	if u.done {
		return errFinished
	}
	if _, err := u.GetTimer(ctx, timer.ID); err == nil {
		return errors.New("timer already exists")
	}
	u.timers[timer.ID] = timer.Clone()
	u.players[timer.ID] = make(map[model.PlayerTimerID]*model.PlayerTimer, len(players))
	for _, p := range players {
		u.players[timer.ID][p.ID] = p.Clone()
	}
	u.created[timer.ID] = true
	delete(u.deleted, timer.ID)
	return nil
}

func (u *unitOfWork) SaveTimer(ctx context.Context, timer *model.Timer) error {
	if u.done {
		return errFinished
	}
	if _, err := u.GetTimer(ctx, timer.ID); err != nil {
		return err
	}
	u.timers[timer.ID] = timer.Clone()
	return nil
}

func (u *unitOfWork) SavePlayer(ctx context.Context, player *model.PlayerTimer) error {
	if u.done {
		return errFinished
	}
	players, err := u.GetPlayers(ctx, player.TimerID)
	if err != nil {
		return err
	}
	found := false
	for _, p := range players {
		if p.ID == player.ID {
			found = true
			break
		}
	}
	if !found {
		return model.ErrPlayerNotFound
	}
	if u.players[player.TimerID] == nil {
		u.players[player.TimerID] = make(map[model.PlayerTimerID]*model.PlayerTimer)
	}
	u.players[player.TimerID][player.ID] = player.Clone()
	return nil
}

func (u *unitOfWork) DeleteTimer(ctx context.Context, id model.TimerID) error {
	if u.done {
		return errFinished
	}
	if _, err := u.GetTimer(ctx, id); err != nil {
		return err
	}
	delete(u.timers, id)
	delete(u.players, id)
	delete(u.views, id)
	if u.created[id] {
		delete(u.created, id)
		return nil
	}
	u.deleted[id] = true
	return nil
}

func (u *unitOfWork) ListTimersForUser(ctx context.Context, user model.UserID) ([]*model.Timer, error) {
	u.s.mu.RLock()
	ids := make([]model.TimerID, 0, len(u.s.userIndex[user]))
	for id := range u.s.userIndex[user] {
		ids = append(ids, id)
	}
	u.s.mu.RUnlock()

	var timers []*model.Timer
	for _, id := range ids {
		t, err := u.GetTimer(ctx, id)
		if errors.Is(err, model.ErrTimerNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	for id := range u.created {
		players, _ := u.GetPlayers(ctx, id)
		if model.NewSnapshot(u.timers[id], players).HasParticipant(user) || u.timers[id].Creator == user {
			timers = append(timers, u.timers[id].Clone())
		}
	}
	sort.Slice(timers, func(i, j int) bool { return timers[i].CreatedAt.Before(timers[j].CreatedAt) })
	return timers, nil
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return errFinished
	}
	defer u.finish()

	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	// Check everything before applying anything
	for id := range u.created {
		if _, ok := u.s.timers[id]; ok {
			return errors.New("timer already exists")
		}
	}
	for id := range u.deleted {
		if _, ok := u.s.timers[id]; !ok {
			return model.ErrTimerNotFound
		}
	}
	for id := range u.timers {
		if !u.created[id] {
			if _, ok := u.s.timers[id]; !ok {
				return model.ErrTimerNotFound
			}
		}
	}
	for id := range u.players {
		if !u.created[id] {
			if _, ok := u.s.timers[id]; !ok {
				return model.ErrTimerNotFound
			}
		}
	}

	for id := range u.deleted {
		delete(u.s.timers, id)
		delete(u.s.players, id)
		u.s.unindexLocked(id)
	}
	for id, t := range u.timers {
		u.s.timers[id] = t
		if u.created[id] {
			u.s.players[id] = make(map[model.PlayerTimerID]*model.PlayerTimer)
			u.s.indexLocked(id, t.Creator)
		}
	}
	for id, players := range u.players {
		for pid, p := range players {
			u.s.players[id][pid] = p
			u.s.indexLocked(id, p.UserID)
		}
	}
	return nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.finish()
	return nil
}

func (u *unitOfWork) finish() {
	u.done = true
	for _, unlock := range u.unlocks {
		unlock()
	}
	u.unlocks = nil
}
