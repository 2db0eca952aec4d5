package model

import "fmt"

// TimerSettings are the caller-supplied parameters of a new timer
type TimerSettings struct {
	Type              TimerType    `json:"type"`
	InitialDuration   int64        `json:"initial_duration"`
	DurationIncrement int64        `json:"reload_increment"`
	CurrentPlayer     int          `json:"current_player"`
	Context           *ContextRef  `json:"context,omitempty"`
	Players           []PlayerSeed `json:"players"`
}

// Normalize applies defaults and validates the settings
func (s TimerSettings) Normalize() (TimerSettings, error) {
	if s.Type == "" {
		s.Type = TimerTypeCountUp
	}
	if !s.Type.Valid() {
		return s, fmt.Errorf("%w: unknown timer type %q", ErrValidation, s.Type)
	}
	if s.InitialDuration < 0 {
		return s, fmt.Errorf("%w: initial_duration must be >= 0", ErrValidation)
	}
	if s.DurationIncrement < 0 {
		return s, fmt.Errorf("%w: reload_increment must be >= 0", ErrValidation)
	}
	if s.Type != TimerTypeReload && s.DurationIncrement != 0 {
		return s, fmt.Errorf("%w: reload_increment is only valid for RELOAD timers", ErrValidation)
	}
	if len(s.Players) == 0 {
		return s, fmt.Errorf("%w: a timer needs at least one player", ErrValidation)
	}
	if s.CurrentPlayer < 0 || s.CurrentPlayer >= len(s.Players) {
		return s, fmt.Errorf("%w: current_player must be in [0, %d)", ErrValidation, len(s.Players))
	}
	if s.Context != nil {
		if s.Context.Kind != ContextGame && s.Context.Kind != ContextEvent {
			return s, fmt.Errorf("%w: unknown context kind %q", ErrValidation, s.Context.Kind)
		}
		if s.Context.ID == "" {
			return s, fmt.Errorf("%w: context id is required", ErrValidation)
		}
	}

	seeds := make([]PlayerSeed, len(s.Players))
	for i, seed := range s.Players {
		normalized, err := seed.Normalize()
		if err != nil {
			return s, err
		}
		seeds[i] = normalized
	}
	s.Players = seeds
	return s, nil
}
