package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mcoot/turntimer/internal/dependencies/clock"
	"github.com/mcoot/turntimer/internal/dependencies/ids"
	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/realtime"
	"github.com/mcoot/turntimer/internal/services/access"
	"github.com/mcoot/turntimer/internal/services/exclusive"
	"github.com/mcoot/turntimer/internal/storage"
)

// GameSource supplies the player list of a completed external game
type GameSource interface {
	GamePlayers(ctx context.Context, gameID string) ([]model.PlayerSeed, error)
}

// Service runs timer operations: access check, exclusive unit of work,
// transition, persistence, then broadcast of the freshly committed state
type Service struct {
	controller  *exclusive.Controller
	access      *access.Checker
	games       GameSource
	broadcaster realtime.Broadcaster
	clock       clock.Clock
	ids         ids.Generator
	logger      *slog.Logger
}

// NewService creates a new timer service
func NewService(
	controller *exclusive.Controller,
	checker *access.Checker,
	games GameSource,
	broadcaster realtime.Broadcaster,
	clk clock.Clock,
	idGen ids.Generator,
	logger *slog.Logger,
) *Service {
	return &Service{
		controller:  controller,
		access:      checker,
		games:       games,
		broadcaster: broadcaster,
		clock:       clk,
		ids:         idGen,
		logger:      logger.With(slog.String("component", "timer")),
	}
}

// Create creates a timer and its players in one unit of work
func (s *Service) Create(ctx context.Context, actor model.UserID, settings model.TimerSettings) (*model.Snapshot, error) {
	settings, err := settings.Normalize()
	if err != nil {
		return nil, err
	}
	if settings.Context != nil {
		if err := s.access.Require(ctx, access.Write, access.Target{Context: settings.Context}, actor); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	timer := &model.Timer{
		ID:              model.TimerID(s.ids.NewID()),
		Type:            settings.Type,
		InitialDuration: settings.InitialDuration,
		CurrentPlayer:   settings.CurrentPlayer,
		Creator:         actor,
		Context:         settings.Context,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if settings.Type == model.TimerTypeReload {
		timer.Reload = &model.ReloadExtension{DurationIncrement: settings.DurationIncrement}
	}
	players := make([]*model.PlayerTimer, len(settings.Players))
	for i, seed := range settings.Players {
		players[i] = &model.PlayerTimer{
			ID:        model.PlayerTimerID(s.ids.NewID()),
			TimerID:   timer.ID,
			TurnOrder: i,
			UserID:    seed.UserID,
			Name:      seed.Name,
			Color:     seed.Color,
		}
	}

	snap := model.NewSnapshot(timer, players)
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	err = s.controller.Create(ctx, func(ctx context.Context, tx *exclusive.Tx) error {
		return tx.CreateTimer(ctx, timer, players)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("timer created",
		slog.String("timer_id", string(timer.ID)),
		slog.String("type", string(timer.Type)),
		slog.Int("players", len(players)),
		slog.String("creator", string(actor)))
	return snap.Clone(), nil
}

// CreateFromGame creates a timer seeded with a completed game's players and owned by that game
func (s *Service) CreateFromGame(ctx context.Context, actor model.UserID, gameID string, settings model.TimerSettings) (*model.Snapshot, error) {
	seeds, err := s.games.GamePlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	settings.Players = seeds
	settings.Context = &model.ContextRef{Kind: model.ContextGame, ID: gameID}
	return s.Create(ctx, actor, settings)
}

// Get returns a consistent snapshot of a timer the actor may read
func (s *Service) Get(ctx context.Context, actor model.UserID, id model.TimerID) (*model.Snapshot, error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.Require(ctx, access.Read, access.TargetOf(snap), actor); err != nil {
		return nil, err
	}
	return snap, nil
}

// ListForUser returns the timers the actor created or plays in
func (s *Service) ListForUser(ctx context.Context, actor model.UserID) ([]*model.Timer, error) {
	var timers []*model.Timer
	err := s.controller.View(ctx, "", func(ctx context.Context, uow storage.UnitOfWork) error {
		var err error
		timers, err = uow.ListTimersForUser(ctx, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return timers, nil
}

// Start runs the current player's clock
func (s *Service) Start(ctx context.Context, actor model.UserID, id model.TimerID) error {
	return s.mutate(ctx, actor, id, model.ActionStart, func(snap *model.Snapshot) error {
		return Start(snap, nil, s.clock.Now())
	})
}

// Stop halts the current player's clock
func (s *Service) Stop(ctx context.Context, actor model.UserID, id model.TimerID) error {
	return s.mutate(ctx, actor, id, model.ActionStop, func(snap *model.Snapshot) error {
		return Stop(snap, nil, s.clock.Now())
	})
}

// Advance moves to the next or previous player. The advance is committed even
// when the new player cannot be started; that failure is in the result.
func (s *Service) Advance(ctx context.Context, actor model.UserID, id model.TimerID, dir model.Direction) (AdvanceResult, error) {
	if !dir.Valid() {
		return AdvanceResult{}, fmt.Errorf("%w: unknown direction %q", model.ErrValidation, dir)
	}
	var res AdvanceResult
	err := s.mutate(ctx, actor, id, dir.Action(), func(snap *model.Snapshot) error {
		var err error
		res, err = Advance(snap, dir, s.clock.Now())
		return err
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	return res, nil
}

// ReorderTurns applies new turn orders, stopping any running clock
func (s *Service) ReorderTurns(ctx context.Context, actor model.UserID, id model.TimerID, assignments map[model.PlayerTimerID]int) error {
	if len(assignments) == 0 {
		return fmt.Errorf("%w: no turn orders given", model.ErrValidation)
	}
	return s.mutate(ctx, actor, id, model.ActionReorderTurns, func(snap *model.Snapshot) error {
		return ReorderTurns(snap, assignments, s.clock.Now())
	})
}

// Delete removes a timer and its players. The group receives a terminal
// timer_delete event; the final snapshot is returned for the issuer.
func (s *Service) Delete(ctx context.Context, actor model.UserID, id model.TimerID) (*model.Snapshot, error) {
	peek, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.access.CanDelete(ctx, access.TargetOf(peek), actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrAccessDenied
	}

	var final *model.Snapshot
	err = s.controller.RunExclusive(ctx, id, func(ctx context.Context, tx *exclusive.Tx) error {
		snap, err := storage.LoadSnapshot(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteTimer(ctx, id); err != nil {
			return err
		}
		final = snap
		tx.AfterCommit(func(ctx context.Context) {
			s.publish(ctx, model.Event{
				Action:   model.ActionDelete,
				TimerID:  id,
				Version:  snap.Timer.Version + 1,
				Snapshot: snap,
			})
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("timer deleted",
		slog.String("timer_id", string(id)),
		slog.String("user_id", string(actor)))
	return final, nil
}

// mutate checks WRITE on a peeked snapshot, then applies fn to a snapshot
// loaded under the exclusive lock and persists whatever fn touched
func (s *Service) mutate(ctx context.Context, actor model.UserID, id model.TimerID, action model.Action, fn func(snap *model.Snapshot) error) error {
	peek, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.access.Require(ctx, access.Write, access.TargetOf(peek), actor); err != nil {
		return err
	}

	err = s.controller.RunExclusive(ctx, id, func(ctx context.Context, tx *exclusive.Tx) error {
		snap, err := storage.LoadSnapshot(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
		if !snap.Changed() {
			return nil
		}
		if err := s.persist(ctx, tx, snap); err != nil {
			return err
		}
		tx.AfterCommit(func(ctx context.Context) {
			s.publishFresh(ctx, id, action)
		})
		return nil
	})
	if err != nil {
		if !isBusinessError(err) {
			s.logger.Error("timer operation failed",
				slog.String("timer_id", string(id)),
				slog.String("action", string(action)),
				slog.Any("error", err))
		}
		return err
	}
	return nil
}

func (s *Service) persist(ctx context.Context, tx *exclusive.Tx, snap *model.Snapshot) error {
	snap.Timer.Version++
	snap.Timer.UpdatedAt = s.clock.Now()
	snap.MarkTimer()
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("transition broke timer invariants: %w", err)
	}
	if err := tx.SaveTimer(ctx, snap.Timer); err != nil {
		return err
	}
	for _, p := range snap.DirtyPlayers() {
		if err := tx.SavePlayer(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// publishFresh re-reads the committed state so listeners never see the working copy
func (s *Service) publishFresh(ctx context.Context, id model.TimerID, action model.Action) {
	snap, err := s.load(ctx, id)
	if err != nil {
		s.logger.Error("reload after commit failed",
			slog.String("timer_id", string(id)),
			slog.String("action", string(action)),
			slog.Any("error", err))
		return
	}
	s.publish(ctx, model.Event{
		Action:   action,
		TimerID:  id,
		Version:  snap.Timer.Version,
		Snapshot: snap,
	})
}

func (s *Service) publish(ctx context.Context, ev model.Event) {
	if err := s.broadcaster.Publish(ctx, ev); err != nil {
		s.logger.Error("broadcast failed",
			slog.String("timer_id", string(ev.TimerID)),
			slog.String("action", string(ev.Action)),
			slog.Any("error", err))
	}
}

func (s *Service) load(ctx context.Context, id model.TimerID) (*model.Snapshot, error) {
	var snap *model.Snapshot
	err := s.controller.View(ctx, id, func(ctx context.Context, uow storage.UnitOfWork) error {
		var err error
		snap, err = storage.LoadSnapshot(ctx, uow, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// businessErrors are expected outcomes reported to the caller, not logged as failures
var businessErrors = []error{
	model.ErrValidation,
	model.ErrTimerNotFound,
	model.ErrPlayerNotFound,
	model.ErrContextNotFound,
	model.ErrAccessDenied,
	model.ErrAlreadyStarted,
	model.ErrAlreadyStopped,
	model.ErrRanOut,
	model.ErrInvalidPermutation,
}

func isBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
