package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/turntimer/internal/dependencies/clock"
	"github.com/mcoot/turntimer/internal/dependencies/ids"
	"github.com/mcoot/turntimer/internal/model"
)

// Errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid or expired session")
	ErrUsernameExists     = errors.New("username already exists")
)

// Session represents an authenticated session
type Session struct {
	Token     string
	UserID    model.UserID
	User      model.User
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Service handles authentication and session management
type Service struct {
	users  UserStore
	clock  clock.Clock
	ids    ids.Generator
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	sessionDuration time.Duration
	bcryptCost      int
}

// Config holds configuration for the auth service
type Config struct {
	SessionDuration time.Duration
	BcryptCost      int
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		SessionDuration: 24 * time.Hour,
		BcryptCost:      bcrypt.DefaultCost,
	}
}

// New creates a new auth service
func New(users UserStore, clk clock.Clock, idGen ids.Generator, cfg Config, logger *slog.Logger) *Service {
	defaults := DefaultConfig()
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = defaults.SessionDuration
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = defaults.BcryptCost
	}
	return &Service{
		users:           users,
		clock:           clk,
		ids:             idGen,
		logger:          logger.With(slog.String("component", "auth")),
		sessions:        make(map[string]*Session),
		sessionDuration: cfg.SessionDuration,
		bcryptCost:      cfg.BcryptCost,
	}
}

// CreateGuest creates an anonymous user and session
func (s *Service) CreateGuest(ctx context.Context, displayName string) (*Session, error) {
	user, err := s.newUser(ctx, displayName, true)
	if err != nil {
		return nil, err
	}
	return s.createSession(user)
}

// Register creates a registered user account and session
func (s *Service) Register(ctx context.Context, username, password, displayName string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", model.ErrValidation)
	}

	_, err := s.users.GetCredentialsByUsername(ctx, username)
	if err == nil {
		return nil, ErrUsernameExists
	}
	if !errors.Is(err, model.ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user, err := s.newUser(ctx, displayName, false)
	if err != nil {
		return nil, err
	}
	err = s.users.SaveCredentials(ctx, &model.Credentials{
		UserID:       user.ID,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    user.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.String("user_id", string(user.ID)),
		slog.String("username", username))
	return s.createSession(user)
}

// Login authenticates a registered user and creates a session
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	creds, err := s.users.GetCredentialsByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetUser(ctx, creds.UserID)
	if err != nil {
		return nil, err
	}
	return s.createSession(user)
}

// ValidateSession checks if a session token is valid and returns the session
func (s *Service) ValidateSession(token string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidSession
	}

	if s.clock.Now().After(session.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return nil, ErrInvalidSession
	}

	return session, nil
}

// InvalidateSession removes a session
func (s *Service) InvalidateSession(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// CleanExpiredSessions removes expired sessions (call periodically)
func (s *Service) CleanExpiredSessions() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired sessions removed", slog.Int("removed", removed))
	}
}

func (s *Service) newUser(ctx context.Context, displayName string, guest bool) (*model.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", model.ErrValidation)
	}
	user := &model.User{
		ID:          model.UserID(s.ids.NewID()),
		DisplayName: displayName,
		IsGuest:     guest,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.users.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) createSession(user *model.User) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	session := &Session{
		Token:     token,
		UserID:    user.ID,
		User:      *user,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionDuration),
	}

	s.mu.Lock()
	s.sessions[token] = session
	s.mu.Unlock()

	return session, nil
}

// generateToken returns an unguessable bearer token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return "sess_" + base64.RawURLEncoding.EncodeToString(b), nil
}
