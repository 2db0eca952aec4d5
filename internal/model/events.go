package model

// Action tags a broadcast with the transition that produced it
type Action string

const (
	ActionStart        Action = "timer_start"
	ActionStop         Action = "timer_stop"
	ActionNext         Action = "timer_next"
	ActionPrev         Action = "timer_prev"
	ActionReorderTurns Action = "timer_change_player_turn_order"
	ActionDelete       Action = "timer_delete"
)

// Event is a committed state change published to a timer's group
type Event struct {
	Action   Action    `json:"action"`
	TimerID  TimerID   `json:"timer_id"`
	Version  int64     `json:"version"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// Terminal reports whether the event ends the group's lifetime
func (e Event) Terminal() bool {
	return e.Action == ActionDelete
}

// Direction selects the rotation step of an advance
type Direction string

const (
	DirectionNext Direction = "next"
	DirectionPrev Direction = "prev"
)

// Action returns the broadcast tag for an advance in this direction
func (d Direction) Action() Action {
	if d == DirectionPrev {
		return ActionPrev
	}
	return ActionNext
}

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionNext || d == DirectionPrev
}
