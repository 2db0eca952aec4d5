package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/services/access"
)

// Entry is an external game or event that timers can belong to
type Entry struct {
	Ref            model.ContextRef   `yaml:",inline"`
	Owner          model.UserID       `yaml:"owner"`
	Members        []model.UserID     `yaml:"members"`
	Public         bool               `yaml:"public"`
	MembersCanEdit bool               `yaml:"members_can_edit"`
	Completed      bool               `yaml:"completed"` // games only
	Players        []model.PlayerSeed `yaml:"players"`   // games only
}

// isMember counts a game's registered players as members
func (e *Entry) isMember(user model.UserID) bool {
	for _, m := range e.Members {
		if m == user {
			return true
		}
	}
	for _, p := range e.Players {
		if p.UserID != "" && p.UserID == user {
			return true
		}
	}
	return false
}

// Service is an in-memory registry of external contexts
type Service struct {
	mu      sync.RWMutex
	entries map[model.ContextRef]*Entry
	logger  *slog.Logger
}

// New creates an empty directory
func New(logger *slog.Logger) *Service {
	return &Service{
		entries: make(map[model.ContextRef]*Entry),
		logger:  logger.With(slog.String("component", "directory")),
	}
}

// Ensure Service implements ContextRules
var _ access.ContextRules = (*Service)(nil)

// Register adds or replaces an entry
func (s *Service) Register(e Entry) error {
	if e.Ref.Kind != model.ContextGame && e.Ref.Kind != model.ContextEvent {
		return fmt.Errorf("%w: unknown context kind %q", model.ErrValidation, e.Ref.Kind)
	}
	if e.Ref.ID == "" || e.Owner == "" {
		return fmt.Errorf("%w: context needs an id and an owner", model.ErrValidation)
	}
	players := make([]model.PlayerSeed, len(e.Players))
	for i, seed := range e.Players {
		normalized, err := seed.Normalize()
		if err != nil {
			return fmt.Errorf("context %s: %w", e.Ref, err)
		}
		players[i] = normalized
	}
	e.Players = players
	e.Members = append([]model.UserID(nil), e.Members...)

	s.mu.Lock()
	s.entries[e.Ref] = &e
	s.mu.Unlock()

	s.logger.Info("context registered",
		slog.String("context", e.Ref.String()),
		slog.String("owner", string(e.Owner)))
	return nil
}

// Get returns a copy of an entry
func (s *Service) Get(ref model.ContextRef) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[ref]
	if !ok {
		return Entry{}, model.ErrContextNotFound
	}
	return *e, nil
}

// CanAccess grants READ to the owner, members and anyone for public contexts,
// and WRITE to the owner, or members when the context lets them edit
func (s *Service) CanAccess(ctx context.Context, capability access.Capability, ref model.ContextRef, actor model.UserID) (bool, error) {
	e, err := s.Get(ref)
	if err != nil {
		return false, err
	}
	if actor == e.Owner {
		return true, nil
	}
	switch capability {
	case access.Read:
		return e.Public || e.isMember(actor), nil
	case access.Write:
		return e.MembersCanEdit && e.isMember(actor), nil
	}
	return false, nil
}

// Owner returns the owner of a context
func (s *Service) Owner(ctx context.Context, ref model.ContextRef) (model.UserID, error) {
	e, err := s.Get(ref)
	if err != nil {
		return "", err
	}
	return e.Owner, nil
}

// GamePlayers returns the player list of a completed game
func (s *Service) GamePlayers(ctx context.Context, gameID string) ([]model.PlayerSeed, error) {
	e, err := s.Get(model.ContextRef{Kind: model.ContextGame, ID: gameID})
	if err != nil {
		return nil, err
	}
	if !e.Completed {
		return nil, fmt.Errorf("%w: game %s is not completed", model.ErrValidation, gameID)
	}
	if len(e.Players) == 0 {
		return nil, fmt.Errorf("%w: game %s has no players", model.ErrValidation, gameID)
	}
	players := make([]model.PlayerSeed, len(e.Players))
	copy(players, e.Players)
	return players, nil
}
