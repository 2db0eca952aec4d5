package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TimerID uniquely identifies a timer
type TimerID string

// PlayerTimerID uniquely identifies one participant's timer
type PlayerTimerID string

// UserID identifies an authenticated actor
type UserID string

// TimerType selects how player clocks count
type TimerType string

const (
	TimerTypeCountUp   TimerType = "COUNT_UP"
	TimerTypeCountDown TimerType = "COUNT_DOWN"
	TimerTypeReload    TimerType = "RELOAD" // Stopping subtracts a fixed increment
)

// Valid reports whether t is a known timer type
func (t TimerType) Valid() bool {
	switch t {
	case TimerTypeCountUp, TimerTypeCountDown, TimerTypeReload:
		return true
	}
	return false
}

// ContextKind is the kind of external entity a timer can belong to
type ContextKind string

const (
	ContextGame  ContextKind = "game"
	ContextEvent ContextKind = "event"
)

// ContextRef points at an external game or event owning a timer
type ContextRef struct {
	Kind ContextKind `json:"kind" yaml:"kind"`
	ID   string      `json:"id" yaml:"id"`
}

// String renders the reference as kind/id
func (r ContextRef) String() string {
	return string(r.Kind) + "/" + r.ID
}

// ReloadExtension holds the extra settings of a RELOAD timer
type ReloadExtension struct {
	DurationIncrement int64 `json:"duration_increment"` // ms
}

// Timer is the aggregate clock shared by a rotation of players
type Timer struct {
	ID              TimerID          `json:"id"`
	Type            TimerType        `json:"type"`
	InitialDuration int64            `json:"initial_duration"` // ms
	CurrentPlayer   int              `json:"current_player"`   // turn order of the current player
	Creator         UserID           `json:"creator"`
	Context         *ContextRef      `json:"context,omitempty"`
	Reload          *ReloadExtension `json:"reload,omitempty"`

	// Version is bumped on every committed mutation
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the timer
func (t *Timer) Clone() *Timer {
	c := *t
	if t.Context != nil {
		ref := *t.Context
		c.Context = &ref
	}
	if t.Reload != nil {
		ext := *t.Reload
		c.Reload = &ext
	}
	return &c
}

// DurationIncrement returns the reload increment, or 0 for non-RELOAD timers
func (t *Timer) DurationIncrement() int64 {
	if t.Reload == nil {
		return 0
	}
	return t.Reload.DurationIncrement
}

// PlayerTimer is one participant's elapsed-time record within a timer
type PlayerTimer struct {
	ID        PlayerTimerID `json:"id"`
	TimerID   TimerID       `json:"timer_id"`
	TurnOrder int           `json:"turn_order"`

	// Exactly one of UserID and Name is set
	UserID UserID `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`

	Color   string     `json:"color"`
	Elapsed int64      `json:"elapsed"` // ms accumulated while not running
	Start   *time.Time `json:"start"`   // non-nil while running
}

// Clone returns a deep copy of the player timer
func (p *PlayerTimer) Clone() *PlayerTimer {
	c := *p
	if p.Start != nil {
		start := *p.Start
		c.Start = &start
	}
	return &c
}

// Running reports whether the player's clock is currently running
func (p *PlayerTimer) Running() bool {
	return p.Start != nil
}

// LiveElapsed returns the elapsed time including the running segment
func (p *PlayerTimer) LiveElapsed(now time.Time) int64 {
	if p.Start == nil {
		return p.Elapsed
	}
	return p.Elapsed + millisSince(*p.Start, now)
}

// millisSince never goes negative, even if start was stamped by a clock ahead of now
func millisSince(start, now time.Time) int64 {
	d := now.Sub(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// DefaultColor is assigned to players created without a color
const DefaultColor = "#ffffff"

var colorPattern = regexp.MustCompile(`(?i)^#[a-f0-9]{6}([a-f0-9]{2})?$`)

// PlayerSeed describes a participant at timer creation
type PlayerSeed struct {
	UserID UserID `json:"user_id,omitempty" yaml:"user_id"`
	Name   string `json:"name,omitempty" yaml:"name"`
	Color  string `json:"color,omitempty" yaml:"color"`
}

// Normalize trims the name, fills the default color and validates the seed
func (s PlayerSeed) Normalize() (PlayerSeed, error) {
	s.Name = strings.TrimSpace(s.Name)
	if s.UserID != "" && s.Name != "" {
		return s, fmt.Errorf("%w: player user_id and name are mutually exclusive", ErrValidation)
	}
	if s.UserID == "" && s.Name == "" {
		return s, fmt.Errorf("%w: player needs either a user_id or a name", ErrValidation)
	}
	if s.Color == "" {
		s.Color = DefaultColor
	}
	if !colorPattern.MatchString(s.Color) {
		return s, fmt.Errorf("%w: invalid player color %q", ErrValidation, s.Color)
	}
	return s, nil
}
