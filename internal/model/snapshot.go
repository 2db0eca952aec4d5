package model

import (
	"fmt"
	"sort"
)

// Snapshot is a consistent view of a timer and all its players, ordered by turn order.
// Transitions mutate it in place and mark what they touched so that only the
// affected rows are written back.
type Snapshot struct {
	Timer   *Timer         `json:"timer"`
	Players []*PlayerTimer `json:"players"`

	timerDirty   bool
	playersDirty map[PlayerTimerID]bool
}

// NewSnapshot builds a snapshot, sorting players by turn order
func NewSnapshot(timer *Timer, players []*PlayerTimer) *Snapshot {
	s := &Snapshot{
		Timer:        timer,
		Players:      players,
		playersDirty: make(map[PlayerTimerID]bool),
	}
	s.SortPlayers()
	return s
}

// Clone returns a deep copy without dirty marks
func (s *Snapshot) Clone() *Snapshot {
	players := make([]*PlayerTimer, len(s.Players))
	for i, p := range s.Players {
		players[i] = p.Clone()
	}
	return NewSnapshot(s.Timer.Clone(), players)
}

// SortPlayers restores turn-order ordering after reassignments
func (s *Snapshot) SortPlayers() {
	sort.SliceStable(s.Players, func(i, j int) bool {
		return s.Players[i].TurnOrder < s.Players[j].TurnOrder
	})
}

// PlayerAt returns the player holding the given turn order
func (s *Snapshot) PlayerAt(turn int) (*PlayerTimer, error) {
	for _, p := range s.Players {
		if p.TurnOrder == turn {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no player at turn %d", ErrPlayerNotFound, turn)
}

// Player returns the player with the given id
func (s *Snapshot) Player(id PlayerTimerID) (*PlayerTimer, error) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, ErrPlayerNotFound
}

// Running returns the players whose clock is running
func (s *Snapshot) Running() []*PlayerTimer {
	var running []*PlayerTimer
	for _, p := range s.Players {
		if p.Running() {
			running = append(running, p)
		}
	}
	return running
}

// HasParticipant reports whether the user is registered as one of the players
func (s *Snapshot) HasParticipant(user UserID) bool {
	if user == "" {
		return false
	}
	for _, p := range s.Players {
		if p.UserID == user {
			return true
		}
	}
	return false
}

// Participants returns the user ids of registered players
func (s *Snapshot) Participants() []UserID {
	var users []UserID
	for _, p := range s.Players {
		if p.UserID != "" {
			users = append(users, p.UserID)
		}
	}
	return users
}

// MarkTimer flags the timer row as modified
func (s *Snapshot) MarkTimer() {
	s.timerDirty = true
}

// MarkPlayer flags a player row as modified
func (s *Snapshot) MarkPlayer(id PlayerTimerID) {
	if s.playersDirty == nil {
		s.playersDirty = make(map[PlayerTimerID]bool)
	}
	s.playersDirty[id] = true
}

// DirtyTimer reports whether the timer row was modified
func (s *Snapshot) DirtyTimer() bool {
	return s.timerDirty
}

// DirtyPlayers returns the modified players in turn order
func (s *Snapshot) DirtyPlayers() []*PlayerTimer {
	var dirty []*PlayerTimer
	for _, p := range s.Players {
		if s.playersDirty[p.ID] {
			dirty = append(dirty, p)
		}
	}
	return dirty
}

// Changed reports whether any row was modified
func (s *Snapshot) Changed() bool {
	return s.timerDirty || len(s.playersDirty) > 0
}

// Validate checks the invariants that must hold after every committed transition
func (s *Snapshot) Validate() error {
	if s.Timer == nil {
		return fmt.Errorf("%w: snapshot has no timer", ErrValidation)
	}
	n := len(s.Players)
	if n == 0 {
		return fmt.Errorf("%w: timer %s has no players", ErrValidation, s.Timer.ID)
	}

	running := 0
	seen := make([]bool, n)
	for _, p := range s.Players {
		if p.Running() {
			running++
		}
		if p.Elapsed < 0 {
			return fmt.Errorf("%w: player %s has negative elapsed", ErrValidation, p.ID)
		}
		if p.TurnOrder < 0 || p.TurnOrder >= n || seen[p.TurnOrder] {
			return fmt.Errorf("%w: timer %s", ErrInvalidPermutation, s.Timer.ID)
		}
		seen[p.TurnOrder] = true
	}
	if running > 1 {
		return fmt.Errorf("%w: timer %s has %d running players", ErrValidation, s.Timer.ID, running)
	}
	if s.Timer.CurrentPlayer < 0 || s.Timer.CurrentPlayer >= n {
		return fmt.Errorf("%w: current player %d out of range", ErrValidation, s.Timer.CurrentPlayer)
	}
	if (s.Timer.Type == TimerTypeReload) != (s.Timer.Reload != nil) {
		return fmt.Errorf("%w: reload extension must be present exactly for RELOAD timers", ErrValidation)
	}
	return nil
}
