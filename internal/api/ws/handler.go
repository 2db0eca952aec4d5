package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/turntimer/internal/api/apierr"
	"github.com/mcoot/turntimer/internal/api/middleware"
	"github.com/mcoot/turntimer/internal/dependencies/ids"
	"github.com/mcoot/turntimer/internal/services/auth"
	"github.com/mcoot/turntimer/internal/services/room"
)

// Config holds websocket connection settings
type Config struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int

	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string
}

// DefaultConfig returns default websocket settings
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     64,
	}
}

// Handler upgrades authenticated requests and serves the command protocol
type Handler struct {
	auth     *auth.Service
	rooms    *room.Manager
	ids      ids.Generator
	config   Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[string]*connection
}

// NewHandler creates a new websocket handler
func NewHandler(authService *auth.Service, rooms *room.Manager, idGen ids.Generator, cfg Config, logger *slog.Logger) *Handler {
	defaults := DefaultConfig()
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}

	h := &Handler{
		auth:   authService,
		rooms:  rooms,
		ids:    idGen,
		config: cfg,
		logger: logger.With(slog.String("component", "ws")),
		conns:  make(map[string]*connection),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP handles GET /api/v1/ws. It returns when the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := middleware.ExtractToken(r)
	if token == "" {
		apierr.WriteError(w, apierr.NewUnauthorizedError())
		return
	}
	session, err := h.auth.ValidateSession(token)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := newConnection(h, conn, h.ids.NewID(), session.UserID)
	h.track(c)
	defer h.untrack(c)

	c.logger.Info("websocket connected")
	go c.writePump()
	c.readPump(r.Context())

	h.rooms.Disconnect(c.session)
	c.Close()
	c.logger.Info("websocket disconnected")
}

func (h *Handler) track(c *connection) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Handler) untrack(c *connection) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

// ConnectionCount returns the number of open connections
func (h *Handler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close closes every open connection
func (h *Handler) Close() {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
