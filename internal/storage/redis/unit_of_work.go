package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/storage"
)

var (
	errFinished = errors.New("unit of work already finished")
	errLockLost = errors.New("timer lock expired before commit")
)

// releaseScript deletes the lock only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type unitOfWork struct {
	s     *Storage
	token string

	// locked maps exclusively locked timers; views holds every pinned snapshot
	locked map[model.TimerID]bool
	views  map[model.TimerID]*model.Snapshot

	// Staged writes
	timers  map[model.TimerID]*model.Timer
	players map[model.TimerID]map[model.PlayerTimerID]*model.PlayerTimer
	created map[model.TimerID]bool
	deleted map[model.TimerID][]model.UserID // users to unindex

	done bool
}

func newUnitOfWork(s *Storage) *unitOfWork {
	return &unitOfWork{
		s:       s,
		token:   uuid.NewString(),
		locked:  make(map[model.TimerID]bool),
		views:   make(map[model.TimerID]*model.Snapshot),
		timers:  make(map[model.TimerID]*model.Timer),
		players: make(map[model.TimerID]map[model.PlayerTimerID]*model.PlayerTimer),
		created: make(map[model.TimerID]bool),
		deleted: make(map[model.TimerID][]model.UserID),
	}
}

func (u *unitOfWork) LockTimer(ctx context.Context, id model.TimerID, mode storage.LockMode) error {
	if u.done {
		return errFinished
	}
	if mode == storage.LockExclusive && !u.locked[id] {
		if err := u.acquire(ctx, id); err != nil {
			return err
		}
	}
	snap, err := u.s.fetchSnapshot(ctx, id)
	if err != nil {
		return err
	}
	u.views[id] = snap
	return nil
}

// acquire polls SET NX until the lock is ours or ctx is done
func (u *unitOfWork) acquire(ctx context.Context, id model.TimerID) error {
	ticker := time.NewTicker(u.s.cfg.LockRetry)
	defer ticker.Stop()
	for {
		ok, err := u.s.client.SetNX(ctx, lockKey(id), u.token, u.s.cfg.LockTTL).Result()
		if err != nil {
			return err
		}
		if ok {
			u.locked[id] = true
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (u *unitOfWork) base(ctx context.Context, id model.TimerID) (*model.Snapshot, error) {
	if snap, ok := u.views[id]; ok {
		return snap, nil
	}
	return u.s.fetchSnapshot(ctx, id)
}

func (u *unitOfWork) GetTimer(ctx context.Context, id model.TimerID) (*model.Timer, error) {
	if _, ok := u.deleted[id]; ok {
		return nil, model.ErrTimerNotFound
	}
	if t, ok := u.timers[id]; ok {
		return t.Clone(), nil
	}
	if snap, ok := u.views[id]; ok {
		return snap.Timer.Clone(), nil
	}
	return u.s.fetchTimer(ctx, id)
}

func (u *unitOfWork) GetPlayers(ctx context.Context, id model.TimerID) ([]*model.PlayerTimer, error) {
	if _, ok := u.deleted[id]; ok {
		return nil, model.ErrTimerNotFound
	}
	staged := u.players[id]
	var players []*model.PlayerTimer
	if !u.created[id] {
		snap, err := u.base(ctx, id)
		if err != nil {
			return nil, err
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
	u.timers[timer.ID] = timer.Clone()
	u.players[timer.ID] = make(map[model.PlayerTimerID]*model.PlayerTimer, len(players))
	for _, p := range players {
		u.players[timer.ID][p.ID] = p.Clone()
	}
	u.created[timer.ID] = true
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
	timer, err := u.GetTimer(ctx, id)
	if err != nil {
		return err
	}
	players, err := u.GetPlayers(ctx, id)
	if err != nil {
		return err
	}
	delete(u.timers, id)
	delete(u.players, id)
	delete(u.views, id)
	if u.created[id] {
		delete(u.created, id)
		return nil
	}
	users := []model.UserID{timer.Creator}
	users = append(users, model.NewSnapshot(timer, players).Participants()...)
	u.deleted[id] = users
	return nil
}

func (u *unitOfWork) ListTimersForUser(ctx context.Context, user model.UserID) ([]*model.Timer, error) {
	ids, err := u.s.client.SMembers(ctx, userTimersIndexKey(user)).Result()
	if err != nil {
		return nil, err
	}

	var timers []*model.Timer
	for _, id := range ids {
		t, err := u.GetTimer(ctx, model.TimerID(id))
		if errors.Is(err, model.ErrTimerNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	for id := range u.created {
		players, err := u.GetPlayers(ctx, id)
		if err != nil {
			return nil, err
		}
		if u.timers[id].Creator == user || model.NewSnapshot(u.timers[id], players).HasParticipant(user) {
			timers = append(timers, u.timers[id].Clone())
		}
	}
	sort.Slice(timers, func(i, j int) bool { return timers[i].CreatedAt.Before(timers[j].CreatedAt) })
	return timers, nil
}

// Commit writes every staged change in one MULTI/EXEC. Lock keys and touched
// timer keys are WATCHed so a lost lock or a concurrent delete aborts the commit.
func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return errFinished
	}
	defer u.release(ctx)

	watched := u.watchedKeys()
	if len(watched) == 0 {
		return nil
	}

	err := u.s.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := u.verify(ctx, tx); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return u.apply(ctx, pipe)
		})
		return err
	}, watched...)
	if errors.Is(err, redis.TxFailedErr) {
		return errLockLost
	}
	return err
}

func (u *unitOfWork) watchedKeys() []string {
	touched := make(map[model.TimerID]bool)
	for id := range u.timers {
		touched[id] = true
	}
	for id := range u.players {
		touched[id] = true
	}
	for id := range u.deleted {
		touched[id] = true
	}
	var keys []string
	for id := range touched {
		keys = append(keys, timerKey(id))
	}
	for id := range u.locked {
		keys = append(keys, lockKey(id))
	}
	return keys
}

// verify checks lock ownership and timer existence against the watched keys
func (u *unitOfWork) verify(ctx context.Context, tx *redis.Tx) error {
	for id := range u.locked {
		owner, err := tx.Get(ctx, lockKey(id)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if owner != u.token {
			return errLockLost
		}
	}
	for id := range u.created {
		n, err := tx.Exists(ctx, timerKey(id)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errors.New("timer already exists")
		}
	}
	check := func(id model.TimerID) error {
		if u.created[id] {
			return nil
		}
		n, err := tx.Exists(ctx, timerKey(id)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrTimerNotFound
		}
		return nil
	}
	for id := range u.timers {
		if err := check(id); err != nil {
			return err
		}
	}
	for id := range u.players {
		if err := check(id); err != nil {
			return err
		}
	}
	for id := range u.deleted {
		if err := check(id); err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) apply(ctx context.Context, pipe redis.Pipeliner) error {
	for id, users := range u.deleted {
		pipe.Del(ctx, timerKey(id), playersKey(id))
		for _, user := range users {
			pipe.SRem(ctx, userTimersIndexKey(user), string(id))
		}
	}
	for id, t := range u.timers {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		pipe.Set(ctx, timerKey(id), data, 0)
		if u.created[id] {
			pipe.SAdd(ctx, userTimersIndexKey(t.Creator), string(id))
		}
	}
	for id, players := range u.players {
		for pid, p := range players {
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, playersKey(id), string(pid), data)
			if u.created[id] && p.UserID != "" {
				pipe.SAdd(ctx, userTimersIndexKey(p.UserID), string(id))
			}
		}
	}
	return nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.release(ctx)
	return nil
}

// release drops every lock we still own
func (u *unitOfWork) release(ctx context.Context) {
	u.done = true
	// Release even if the caller's context is already cancelled
	ctx = context.WithoutCancel(ctx)
	for id := range u.locked {
		_ = releaseScript.Run(ctx, u.s.client, []string{lockKey(id)}, u.token).Err()
	}
	u.locked = make(map[model.TimerID]bool)
}
