package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mcoot/turntimer/internal/api/handler"
	"github.com/mcoot/turntimer/internal/api/middleware"
	"github.com/mcoot/turntimer/internal/api/response"
	"github.com/mcoot/turntimer/internal/api/ws"
	"github.com/mcoot/turntimer/internal/dependencies/clock"
	sharedmw "github.com/mcoot/turntimer/internal/middleware"
	"github.com/mcoot/turntimer/internal/services/auth"
	"github.com/mcoot/turntimer/internal/services/timer"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger       *slog.Logger
	Clock        clock.Clock
	AuthService  *auth.Service
	TimerService *timer.Service
	Websocket    *ws.Handler

	// CORSOrigins lists allowed browser origins. Empty allows any.
	CORSOrigins []string

	// AuthRateLimit caps auth requests per client IP per minute. Zero disables it.
	AuthRateLimit int
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	userHandler := handler.NewUserHandler(cfg.AuthService)
	timerHandler := handler.NewTimerHandler(cfg.TimerService, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.AuthService)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Recovery(cfg.Logger))
	api.Use(sharedmw.Logging(cfg.Logger, cfg.Clock))

	// User routes (no auth required for creating users/logging in)
	users := api.PathPrefix("/users").Subrouter()
	public := users.NewRoute().Subrouter()
	if cfg.AuthRateLimit > 0 {
		public.Use(middleware.RateLimitByIP(cfg.AuthRateLimit, time.Minute))
	}
	public.HandleFunc("/guest", userHandler.CreateGuest).Methods(http.MethodPost)
	public.HandleFunc("/register", userHandler.Register).Methods(http.MethodPost)
	public.HandleFunc("/login", userHandler.Login).Methods(http.MethodPost)

	protected := users.NewRoute().Subrouter()
	protected.Use(authMiddleware)
	protected.HandleFunc("/me", userHandler.GetMe).Methods(http.MethodGet)
	protected.HandleFunc("/logout", userHandler.Logout).Methods(http.MethodPost)

	// Timer routes (all require auth)
	timers := api.PathPrefix("/timers").Subrouter()
	timers.Use(authMiddleware)
	timers.HandleFunc("", timerHandler.Create).Methods(http.MethodPost)
	timers.HandleFunc("", timerHandler.List).Methods(http.MethodGet)
	timers.HandleFunc("/{id}", timerHandler.Get).Methods(http.MethodGet)
	timers.HandleFunc("/{id}", timerHandler.Delete).Methods(http.MethodDelete)

	games := api.PathPrefix("/games").Subrouter()
	games.Use(authMiddleware)
	games.HandleFunc("/{game_id}/timer", timerHandler.CreateFromGame).Methods(http.MethodPost)

	// The websocket authenticates during the handshake itself
	if cfg.Websocket != nil {
		api.Handle("/ws", cfg.Websocket).Methods(http.MethodGet)
	}

	// Health check endpoint (no auth)
	api.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	return middleware.CORS(cfg.CORSOrigins)(r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, response.Health{Status: "ok"})
}
