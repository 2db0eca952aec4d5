package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcoot/turntimer/internal/model"
)

// Capability is what an actor wants to do with a timer
type Capability string

const (
	Read  Capability = "READ"
	Write Capability = "WRITE"
)

// Target is what an access decision is made about
type Target struct {
	TimerID      model.TimerID
	Creator      model.UserID
	Context      *model.ContextRef
	Participants []model.UserID
}

// TargetOf builds the access target of a snapshot
func TargetOf(snap *model.Snapshot) Target {
	return Target{
		TimerID:      snap.Timer.ID,
		Creator:      snap.Timer.Creator,
		Context:      snap.Timer.Context,
		Participants: snap.Participants(),
	}
}

// ContextRules answers access questions for timers owned by an external game or event
type ContextRules interface {
	CanAccess(ctx context.Context, capability Capability, ref model.ContextRef, actor model.UserID) (bool, error)
	Owner(ctx context.Context, ref model.ContextRef) (model.UserID, error)
}

// Checker decides whether an actor may read, write or delete a timer
type Checker struct {
	rules  ContextRules
	logger *slog.Logger
}

// New creates a new Checker
func New(rules ContextRules, logger *slog.Logger) *Checker {
	return &Checker{
		rules:  rules,
		logger: logger.With(slog.String("component", "access")),
	}
}

// CanAccess delegates to the owning context's rules when there is one.
// Otherwise the creator and registered participants have both capabilities.
func (c *Checker) CanAccess(ctx context.Context, capability Capability, target Target, actor model.UserID) (bool, error) {
	if actor == "" {
		return false, nil
	}
	if target.Context != nil {
		ok, err := c.rules.CanAccess(ctx, capability, *target.Context, actor)
		if err != nil {
			return false, fmt.Errorf("context rules for %s: %w", target.Context, err)
		}
		return ok, nil
	}
	if actor == target.Creator {
		return true, nil
	}
	for _, p := range target.Participants {
		if p == actor {
			return true, nil
		}
	}
	return false, nil
}

// CanDelete allows the creator, or the owner of the timer's context
func (c *Checker) CanDelete(ctx context.Context, target Target, actor model.UserID) (bool, error) {
	if actor == "" {
		return false, nil
	}
	if actor == target.Creator {
		return true, nil
	}
	if target.Context == nil {
		return false, nil
	}
	owner, err := c.rules.Owner(ctx, *target.Context)
	if err != nil {
		return false, fmt.Errorf("context owner for %s: %w", target.Context, err)
	}
	return owner == actor, nil
}

// Require returns model.ErrAccessDenied unless the actor has the capability
func (c *Checker) Require(ctx context.Context, capability Capability, target Target, actor model.UserID) error {
	ok, err := c.CanAccess(ctx, capability, target, actor)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Info("access denied",
			slog.String("timer_id", string(target.TimerID)),
			slog.String("user_id", string(actor)),
			slog.String("capability", string(capability)))
		return model.ErrAccessDenied
	}
	return nil
}
