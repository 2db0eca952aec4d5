package ws

import (
	"fmt"

	"github.com/mcoot/turntimer/internal/api/apierr"
	"github.com/mcoot/turntimer/internal/api/response"
	"github.com/mcoot/turntimer/internal/model"
)

// Commands a client may send
const (
	CommandFollow       = "follow"
	CommandUnfollow     = "unfollow"
	CommandStart        = "start"
	CommandStop         = "stop"
	CommandNext         = "next"
	CommandPrev         = "prev"
	CommandReorderTurns = "reorder_turns"
	CommandDelete       = "delete"
)

// Frame kinds that are not timer events
const (
	EventAck   = "ack"
	EventError = "error"
)

// TurnOrder assigns a player a new position
type TurnOrder struct {
	PlayerID  string `json:"player_id"`
	TurnOrder int    `json:"turn_order"`
}

// ClientFrame is a command sent by a client. Ref is echoed on the reply.
type ClientFrame struct {
	Ref        string      `json:"ref,omitempty"`
	Command    string      `json:"command"`
	TimerID    string      `json:"timer_id,omitempty"`
	TurnOrders []TurnOrder `json:"turn_orders,omitempty"`
}

// assignments converts the frame's turn orders, rejecting repeated players
func (f ClientFrame) assignments() (map[model.PlayerTimerID]int, error) {
	if len(f.TurnOrders) == 0 {
		return nil, fmt.Errorf("%w: turn_orders is required", model.ErrValidation)
	}
	out := make(map[model.PlayerTimerID]int, len(f.TurnOrders))
	for _, to := range f.TurnOrders {
		id := model.PlayerTimerID(to.PlayerID)
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("%w: player %s listed twice", model.ErrValidation, id)
		}
		out[id] = to.TurnOrder
	}
	return out, nil
}

// ServerFrame is anything the server sends: a timer event, an ack, or an error
type ServerFrame struct {
	Event   string          `json:"event"`
	Ref     string          `json:"ref,omitempty"`
	Command string          `json:"command,omitempty"`
	TimerID string          `json:"timer_id,omitempty"`
	Version int64           `json:"version,omitempty"`
	Timer   *response.Timer `json:"timer,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`

	// Note marks an error that did not reject the command. A next or prev
	// whose restart fails is broadcast as usual, and the issuer alone gets the
	// restart error as a note frame ahead of its ack.
	Note bool `json:"note,omitempty"`
}

func eventFrame(ev model.Event) ServerFrame {
	frame := ServerFrame{
		Event:   string(ev.Action),
		TimerID: string(ev.TimerID),
		Version: ev.Version,
	}
	if ev.Snapshot != nil {
		t := response.TimerFromSnapshot(ev.Snapshot)
		frame.Timer = &t
	}
	return frame
}

func ackFrame(f ClientFrame, snap *model.Snapshot) ServerFrame {
	frame := ServerFrame{Event: EventAck, Ref: f.Ref, Command: f.Command, TimerID: f.TimerID}
	if snap != nil {
		t := response.TimerFromSnapshot(snap)
		frame.Timer = &t
		frame.TimerID = t.ID
		frame.Version = t.Version
	}
	return frame
}

func errorFrame(f ClientFrame, err error) ServerFrame {
	e := apierr.Classify(err)
	return ServerFrame{
		Event:   EventError,
		Ref:     f.Ref,
		Command: f.Command,
		TimerID: f.TimerID,
		Code:    e.Code,
		Message: e.Message,
	}
}
