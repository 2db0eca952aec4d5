package timer

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcoot/turntimer/internal/model"
)

// The transitions below operate on a snapshot loaded under lock. They mutate
// it in place, mark touched rows dirty, and leave it untouched on error.

// resolve returns the player at turn, defaulting to the current player
func resolve(snap *model.Snapshot, turn *int) (*model.PlayerTimer, error) {
	t := snap.Timer.CurrentPlayer
	if turn != nil {
		t = *turn
	}
	return snap.PlayerAt(t)
}

// Start runs a player's clock
func Start(snap *model.Snapshot, turn *int, now time.Time) error {
	p, err := resolve(snap, turn)
	if err != nil {
		return err
	}
	if p.Running() {
		return model.ErrAlreadyStarted
	}
	if snap.Timer.Type != model.TimerTypeCountUp && p.Elapsed >= snap.Timer.InitialDuration {
		return model.ErrRanOut
	}
	// Only one clock may run per timer
	for _, other := range snap.Running() {
		if other.ID != p.ID {
			return fmt.Errorf("%w: turn %d is running", model.ErrAlreadyStarted, other.TurnOrder)
		}
	}

	start := now
	p.Start = &start
	snap.MarkPlayer(p.ID)
	return nil
}

// Stop halts a player's clock and banks the running segment.
// RELOAD timers then subtract their increment, never going below zero.
func Stop(snap *model.Snapshot, turn *int, now time.Time) error {
	p, err := resolve(snap, turn)
	if err != nil {
		return err
	}
	if !p.Running() {
		return model.ErrAlreadyStopped
	}
	stopPlayer(snap, p, now)
	return nil
}

func stopPlayer(snap *model.Snapshot, p *model.PlayerTimer, now time.Time) {
	elapsed := p.LiveElapsed(now)
	if snap.Timer.Type == model.TimerTypeReload {
		elapsed -= snap.Timer.DurationIncrement()
	}
	if elapsed < 0 {
		elapsed = 0
	}
	p.Elapsed = elapsed
	p.Start = nil
	snap.MarkPlayer(p.ID)
}

// AdvanceResult reports what an advance did
type AdvanceResult struct {
	Previous int
	Current  int
	Stopped  bool

	// StartErr is why the new current player could not be started. It does not
	// undo the stop or the move.
	StartErr error
}

// Advance moves the turn pointer one step in dir, stopping whoever is running
// and starting the new current player
func Advance(snap *model.Snapshot, dir model.Direction, now time.Time) (AdvanceResult, error) {
	if !dir.Valid() {
		return AdvanceResult{}, fmt.Errorf("%w: unknown direction %q", model.ErrValidation, dir)
	}
	n := len(snap.Players)
	if n == 0 {
		return AdvanceResult{}, model.ErrPlayerNotFound
	}

	step := 1
	if dir == model.DirectionPrev {
		step = n - 1
	}
	res := AdvanceResult{Previous: snap.Timer.CurrentPlayer}
	res.Current = (res.Previous + step) % n

	for _, p := range snap.Running() {
		stopPlayer(snap, p, now)
		res.Stopped = true
	}

	snap.Timer.CurrentPlayer = res.Current
	snap.MarkTimer()

	if err := Start(snap, nil, now); err != nil {
		if errors.Is(err, model.ErrPlayerNotFound) {
			return res, err
		}
		res.StartErr = err
	}
	return res, nil
}

// ReorderTurns assigns new turn orders. The result must be a dense 0..N-1
// permutation. Running clocks are stopped and the pointer returns to turn 0.
func ReorderTurns(snap *model.Snapshot, assignments map[model.PlayerTimerID]int, now time.Time) error {
	n := len(snap.Players)
	next := make(map[model.PlayerTimerID]int, n)
	for _, p := range snap.Players {
		next[p.ID] = p.TurnOrder
	}
	for id, order := range assignments {
		if _, ok := next[id]; !ok {
			return fmt.Errorf("%w: %s", model.ErrPlayerNotFound, id)
		}
		next[id] = order
	}

	seen := make([]bool, n)
	for _, order := range next {
		if order < 0 || order >= n || seen[order] {
			return model.ErrInvalidPermutation
		}
		seen[order] = true
	}

	for _, p := range snap.Running() {
		stopPlayer(snap, p, now)
	}
	for _, p := range snap.Players {
		if p.TurnOrder != next[p.ID] {
			p.TurnOrder = next[p.ID]
			snap.MarkPlayer(p.ID)
		}
	}
	snap.SortPlayers()
	snap.Timer.CurrentPlayer = 0
	snap.MarkTimer()
	return nil
}
