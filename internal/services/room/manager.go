package room

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/realtime"
	"github.com/mcoot/turntimer/internal/services/timer"
)

// Timers is the part of the timer service the room manager drives
type Timers interface {
	Get(ctx context.Context, actor model.UserID, id model.TimerID) (*model.Snapshot, error)
	Start(ctx context.Context, actor model.UserID, id model.TimerID) error
	Stop(ctx context.Context, actor model.UserID, id model.TimerID) error
	Advance(ctx context.Context, actor model.UserID, id model.TimerID, dir model.Direction) (timer.AdvanceResult, error)
	ReorderTurns(ctx context.Context, actor model.UserID, id model.TimerID, assignments map[model.PlayerTimerID]int) error
	Delete(ctx context.Context, actor model.UserID, id model.TimerID) (*model.Snapshot, error)
}

// Ensure the timer service satisfies Timers
var _ Timers = (*timer.Service)(nil)

// Manager tracks which timer each session follows and routes commands
type Manager struct {
	timers Timers
	hubs   *realtime.HubManager
	logger *slog.Logger
}

// NewManager creates a new room manager
func NewManager(timers Timers, hubs *realtime.HubManager, logger *slog.Logger) *Manager {
	return &Manager{
		timers: timers,
		hubs:   hubs,
		logger: logger.With(slog.String("component", "room")),
	}
}

// Follow joins the session to a timer's group and returns the timer's state
// as of after the join, so no later event is missed. Following the same timer
// again is a no-op.
func (m *Manager) Follow(ctx context.Context, sess *Session, id model.TimerID) (*model.Snapshot, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: timer_id is required", model.ErrValidation)
	}
	if current, ok := sess.Following(); ok {
		if current != id {
			return nil, model.ErrAlreadyFollowing
		}
		return m.timers.Get(ctx, sess.Actor, id)
	}

	if _, err := m.timers.Get(ctx, sess.Actor, id); err != nil {
		return nil, err
	}

	sess.setFollowing(id)
	m.hubs.Join(id, sess)

	snap, err := m.timers.Get(ctx, sess.Actor, id)
	if err != nil {
		m.hubs.Leave(id, sess.ConnID)
		sess.clearFollowing(id)
		return nil, err
	}

	m.logger.Debug("session followed timer",
		slog.String("conn_id", sess.ConnID),
		slog.String("timer_id", string(id)))
	return snap, nil
}

// Unfollow leaves the followed timer's group
func (m *Manager) Unfollow(sess *Session) error {
	id, ok := sess.Following()
	if !ok {
		return model.ErrNotFollowing
	}
	m.hubs.Leave(id, sess.ConnID)
	sess.clearFollowing(id)

	m.logger.Debug("session unfollowed timer",
		slog.String("conn_id", sess.ConnID),
		slog.String("timer_id", string(id)))
	return nil
}

func (m *Manager) followed(sess *Session) (model.TimerID, error) {
	id, ok := sess.Following()
	if !ok {
		return "", model.ErrNotFollowing
	}
	return id, nil
}

// Start starts the followed timer's current player
func (m *Manager) Start(ctx context.Context, sess *Session) error {
	id, err := m.followed(sess)
	if err != nil {
		return err
	}
	return m.timers.Start(ctx, sess.Actor, id)
}

// Stop stops the followed timer's current player
func (m *Manager) Stop(ctx context.Context, sess *Session) error {
	id, err := m.followed(sess)
	if err != nil {
		return err
	}
	return m.timers.Stop(ctx, sess.Actor, id)
}

// Next advances the followed timer to the next player
func (m *Manager) Next(ctx context.Context, sess *Session) (timer.AdvanceResult, error) {
	return m.advance(ctx, sess, model.DirectionNext)
}

// Prev moves the followed timer back to the previous player
func (m *Manager) Prev(ctx context.Context, sess *Session) (timer.AdvanceResult, error) {
	return m.advance(ctx, sess, model.DirectionPrev)
}

func (m *Manager) advance(ctx context.Context, sess *Session, dir model.Direction) (timer.AdvanceResult, error) {
	id, err := m.followed(sess)
	if err != nil {
		return timer.AdvanceResult{}, err
	}
	return m.timers.Advance(ctx, sess.Actor, id, dir)
}

// ReorderTurns changes the followed timer's turn orders
func (m *Manager) ReorderTurns(ctx context.Context, sess *Session, assignments map[model.PlayerTimerID]int) error {
	id, err := m.followed(sess)
	if err != nil {
		return err
	}
	return m.timers.ReorderTurns(ctx, sess.Actor, id, assignments)
}

// Delete removes any timer the actor may delete. The group is notified and
// unfollowed by the hub; an issuer outside the group gets the event directly.
func (m *Manager) Delete(ctx context.Context, sess *Session, id model.TimerID) error {
	if id == "" {
		return fmt.Errorf("%w: timer_id is required", model.ErrValidation)
	}
	current, following := sess.Following()
	member := following && current == id

	final, err := m.timers.Delete(ctx, sess.Actor, id)
	if err != nil {
		return err
	}

	if member {
		sess.clearFollowing(id)
		return nil
	}
	sess.Deliver(model.Event{
		Action:   model.ActionDelete,
		TimerID:  id,
		Version:  final.Timer.Version + 1,
		Snapshot: final,
	})
	return nil
}

// Disconnect drops the session from any group
func (m *Manager) Disconnect(sess *Session) {
	if id, ok := sess.Following(); ok {
		m.hubs.Leave(id, sess.ConnID)
		sess.clearFollowing(id)
	}
	m.logger.Debug("session disconnected", slog.String("conn_id", sess.ConnID))
}
