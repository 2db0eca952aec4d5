package exclusive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcoot/turntimer/internal/keylock"
	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/storage"
)

// Tx is the unit of work handed to a body. Hooks registered with AfterCommit
// run only if the unit of work commits.
type Tx struct {
	storage.UnitOfWork
	hooks []func(ctx context.Context)
}

// AfterCommit registers fn to run after a successful commit
func (t *Tx) AfterCommit(fn func(ctx context.Context)) {
	t.hooks = append(t.hooks, fn)
}

// Controller serialises work per timer id. Within one process a keyed mutex
// orders callers; across processes the storage's exclusive lock does.
type Controller struct {
	store  storage.Storage
	locks  *keylock.Locker[model.TimerID]
	logger *slog.Logger
}

// New creates a new Controller
func New(store storage.Storage, logger *slog.Logger) *Controller {
	return &Controller{
		store:  store,
		locks:  keylock.New[model.TimerID](),
		logger: logger.With(slog.String("component", "exclusive")),
	}
}

// RunExclusive runs body in a unit of work holding the timer exclusively.
// A second call for the same id blocks until the first has committed and run
// its after-commit hooks. Calls for different ids do not wait on each other.
func (c *Controller) RunExclusive(ctx context.Context, id model.TimerID, body func(ctx context.Context, tx *Tx) error) error {
	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	return c.run(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.LockTimer(ctx, id, storage.LockExclusive); err != nil {
			return err
		}
		return body(ctx, tx)
	})
}

// Create runs body in a unit of work that is not scoped to an existing timer
func (c *Controller) Create(ctx context.Context, body func(ctx context.Context, tx *Tx) error) error {
	return c.run(ctx, body)
}

// View runs a read-only body. When id is set the timer is pinned with a
// shared lock first. The unit of work is always rolled back.
func (c *Controller) View(ctx context.Context, id model.TimerID, body func(ctx context.Context, uow storage.UnitOfWork) error) error {
	uow, err := c.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	if id != "" {
		if err := uow.LockTimer(ctx, id, storage.LockShared); err != nil {
			return err
		}
	}
	return body(ctx, uow)
}

func (c *Controller) run(ctx context.Context, body func(ctx context.Context, tx *Tx) error) (err error) {
	uow, err := c.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	tx := &Tx{UnitOfWork: uow}

	defer func() {
		if r := recover(); r != nil {
			c.rollback(ctx, uow)
			panic(r)
		}
	}()

	if err := body(ctx, tx); err != nil {
		c.rollback(ctx, uow)
		return err
	}
	if err := uow.Commit(ctx); err != nil {
		c.rollback(ctx, uow)
		return fmt.Errorf("%w: %w", model.ErrConcurrencyAborted, err)
	}

	for _, hook := range tx.hooks {
		hook(ctx)
	}
	return nil
}

func (c *Controller) rollback(ctx context.Context, uow storage.UnitOfWork) {
	if err := uow.Rollback(ctx); err != nil {
		c.logger.Error("rollback failed", slog.Any("error", err))
	}
}
