package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcoot/turntimer/internal/api"
	"github.com/mcoot/turntimer/internal/config"
	"github.com/mcoot/turntimer/internal/factory"
)

// housekeepingInterval is how often idle hubs and expired sessions are swept
const housekeepingInterval = time.Minute

func main() {
	settings, err := config.Load(".env")
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: settings.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create application factory
	app, err := factory.New(ctx, factory.ConfigFrom(settings, logger))
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("application created",
		slog.String("storage", settings.StorageType),
		slog.Bool("nats", settings.NATSURL != ""),
		slog.Int("contexts", len(settings.Contexts)))

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Logger:        logger,
		Clock:         app.Clock,
		AuthService:   app.AuthService,
		TimerService:  app.TimerService,
		Websocket:     app.Websocket,
		CORSOrigins:   settings.CORSOrigins,
		AuthRateLimit: settings.AuthRateLimit,
	})

	// Create server
	serverConfig := api.DefaultServerConfig()
	serverConfig.Port = settings.Port
	server := api.NewServer(router, serverConfig, logger)
	server.OnShutdown(app.Websocket.Close)

	go housekeeping(ctx, app)

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("server started", slog.String("addr", server.Addr()))

	// Wait for shutdown or error
	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			exitCode = 1
		}
	case <-ctx.Done():
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	if err := app.Close(); err != nil {
		exitCode = 1
	}
	cancel()
	logger.Info("server stopped")
	os.Exit(exitCode)
}

// housekeeping drops hubs nobody follows and expired sessions
func housekeeping(ctx context.Context, app *factory.App) {
	ticker := app.Clock.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			app.HubManager.CleanupEmptyHubs()
			app.AuthService.CleanExpiredSessions()
		}
	}
}
