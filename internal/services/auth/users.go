package auth

import (
	"context"
	"sync"

	"github.com/mcoot/turntimer/internal/model"
)

// UserStore persists users and their credentials
type UserStore interface {
	SaveUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id model.UserID) (*model.User, error)
	SaveCredentials(ctx context.Context, creds *model.Credentials) error
	GetCredentialsByUsername(ctx context.Context, username string) (*model.Credentials, error)
}

// MemoryUsers is an in-memory UserStore
type MemoryUsers struct {
	mu          sync.RWMutex
	users       map[model.UserID]*model.User
	credentials map[string]*model.Credentials
}

// NewMemoryUsers creates an empty user store
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		users:       make(map[model.UserID]*model.User),
		credentials: make(map[string]*model.Credentials),
	}
}

func (m *MemoryUsers) SaveUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := *user
	m.users[user.ID] = &u
	return nil
}

func (m *MemoryUsers) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

// SaveCredentials stores credentials, refusing a username that is taken
func (m *MemoryUsers) SaveCredentials(ctx context.Context, creds *model.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[creds.Username]; ok {
		return ErrUsernameExists
	}
	c := *creds
	m.credentials[creds.Username] = &c
	return nil
}

func (m *MemoryUsers) GetCredentialsByUsername(ctx context.Context, username string) (*model.Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[username]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	copied := *c
	return &copied, nil
}
