package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/mcoot/turntimer/internal/api/ws"
	"github.com/mcoot/turntimer/internal/config"
	"github.com/mcoot/turntimer/internal/dependencies/clock"
	"github.com/mcoot/turntimer/internal/dependencies/ids"
	"github.com/mcoot/turntimer/internal/realtime"
	"github.com/mcoot/turntimer/internal/realtime/natsrelay"
	"github.com/mcoot/turntimer/internal/services/access"
	"github.com/mcoot/turntimer/internal/services/auth"
	"github.com/mcoot/turntimer/internal/services/directory"
	"github.com/mcoot/turntimer/internal/services/exclusive"
	"github.com/mcoot/turntimer/internal/services/room"
	"github.com/mcoot/turntimer/internal/services/timer"
	"github.com/mcoot/turntimer/internal/storage"
	"github.com/mcoot/turntimer/internal/storage/memory"
	"github.com/mcoot/turntimer/internal/storage/postgres"
	redisstorage "github.com/mcoot/turntimer/internal/storage/redis"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock clock.Clock
	IDs   ids.Generator

	// Services
	Directory        *directory.Service
	AccessChecker    *access.Checker
	Exclusive        *exclusive.Controller
	HubManager       *realtime.HubManager
	LocalBroadcaster *realtime.LocalBroadcaster
	Broadcaster      realtime.Broadcaster
	TimerService     *timer.Service
	RoomManager      *room.Manager
	AuthService      *auth.Service
	Websocket        *ws.Handler

	nats   *nats.Conn
	relay  *natsrelay.Relay
	logger *slog.Logger
}

// Config holds configuration for the application factory
type Config struct {
	// AuthConfig holds configuration for the auth service (optional)
	// If zero value, defaults to auth.DefaultConfig()
	AuthConfig auth.Config
	// WebsocketConfig tunes websocket connections (optional)
	WebsocketConfig ws.Config
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "redis" or "postgres")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// PostgresConfig holds Postgres settings (required if StorageType is "postgres")
	PostgresConfig *postgres.Config
	// NATSConfig enables cross-instance event delivery (optional)
	NATSConfig *natsrelay.Config
	// Contexts are games and events registered at startup
	Contexts []directory.Entry
}

// ConfigFrom maps loaded server settings onto a factory configuration
func ConfigFrom(settings config.Config, logger *slog.Logger) Config {
	cfg := Config{
		Logger:      logger,
		StorageType: settings.StorageType,
		Contexts:    settings.Contexts,
	}
	cfg.AuthConfig = auth.DefaultConfig()
	if settings.SessionDuration > 0 {
		cfg.AuthConfig.SessionDuration = settings.SessionDuration
	}
	cfg.WebsocketConfig = ws.DefaultConfig()
	cfg.WebsocketConfig.AllowedOrigins = settings.CORSOrigins

	switch settings.StorageType {
	case config.StorageRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = settings.RedisURL
		cfg.RedisConfig = &redisCfg
	case config.StoragePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = settings.DatabaseURL
		cfg.PostgresConfig = &pgCfg
	}

	if settings.NATSURL != "" {
		natsCfg := natsrelay.DefaultConfig()
		natsCfg.URL = settings.NATSURL
		natsCfg.Token = settings.NATSToken
		cfg.NATSConfig = &natsCfg
	}
	return cfg
}

// dependencies are the swappable edges of the application
type dependencies struct {
	store storage.Storage
	clock clock.Clock
	ids   ids.Generator
	users auth.UserStore
	// remote carries events between instances; nil keeps delivery in process
	remote realtime.Broadcaster
}

// New creates a new application with all dependencies wired
func New(ctx context.Context, cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	deps := dependencies{
		store: store,
		clock: clock.NewMonotonic(clock.New()),
		ids:   ids.New(),
		users: auth.NewMemoryUsers(),
	}

	var nc *nats.Conn
	if cfg.NATSConfig != nil {
		nc, err = natsrelay.Connect(*cfg.NATSConfig, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		deps.remote = natsrelay.NewBroadcaster(nc, logger)
	}

	app, err := newWithDependencies(deps, cfg, logger)
	if err != nil {
		if nc != nil {
			nc.Close()
		}
		_ = store.Close()
		return nil, err
	}

	if nc != nil {
		app.nats = nc
		app.relay = natsrelay.NewRelay(app.LocalBroadcaster, logger)
		if err := app.relay.Start(nc); err != nil {
			_ = app.Close()
			return nil, err
		}
	}
	return app, nil
}

func openStorage(ctx context.Context, cfg Config) (storage.Storage, error) {
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = config.StorageMemory
	}

	switch storageType {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StorageRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		store, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoragePostgres:
		if cfg.PostgresConfig == nil {
			return nil, errors.New("PostgresConfig required when StorageType is postgres")
		}
		store, err := postgres.New(ctx, *cfg.PostgresConfig)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("invalid StorageType %q: must be 'memory', 'redis' or 'postgres'", storageType)
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(deps dependencies, cfg Config, logger *slog.Logger) (*App, error) {
	authCfg := cfg.AuthConfig
	if authCfg.SessionDuration == 0 {
		authCfg = auth.DefaultConfig()
	}

	dir := directory.New(logger)
	for _, entry := range cfg.Contexts {
		if err := dir.Register(entry); err != nil {
			return nil, err
		}
	}

	hubManager := realtime.NewHubManager(logger)
	local := realtime.NewLocalBroadcaster(hubManager, logger)
	var broadcaster realtime.Broadcaster = local
	if deps.remote != nil {
		broadcaster = deps.remote
	}

	checker := access.New(dir, logger)
	controller := exclusive.New(deps.store, logger)
	timerService := timer.NewService(controller, checker, dir, broadcaster, deps.clock, deps.ids, logger)
	roomManager := room.NewManager(timerService, hubManager, logger)
	authService := auth.New(deps.users, deps.clock, deps.ids, authCfg, logger)
	wsHandler := ws.NewHandler(authService, roomManager, deps.ids, cfg.WebsocketConfig, logger)

	return &App{
		Storage:          deps.store,
		Clock:            deps.clock,
		IDs:              deps.ids,
		Directory:        dir,
		AccessChecker:    checker,
		Exclusive:        controller,
		HubManager:       hubManager,
		LocalBroadcaster: local,
		Broadcaster:      broadcaster,
		TimerService:     timerService,
		RoomManager:      roomManager,
		AuthService:      authService,
		Websocket:        wsHandler,
		logger:           logger.With(slog.String("component", "app")),
	}, nil
}

// Close disconnects clients, stops the relay and releases storage
func (a *App) Close() error {
	a.Websocket.Close()

	var errs []error
	if a.relay != nil {
		if err := a.relay.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop relay: %w", err))
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
	a.HubManager.Close()
	if err := a.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		a.logger.Error("shutdown incomplete", slog.Any("error", err))
	}
	return err
}
