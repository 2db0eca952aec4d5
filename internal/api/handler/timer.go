package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/turntimer/internal/api/apierr"
	"github.com/mcoot/turntimer/internal/api/middleware"
	"github.com/mcoot/turntimer/internal/api/request"
	"github.com/mcoot/turntimer/internal/api/response"
	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/services/timer"
)

// TimerHandler handles timer endpoints. Live control happens over the websocket.
type TimerHandler struct {
	timers *timer.Service
	logger *slog.Logger
}

// NewTimerHandler creates a new timer handler
func NewTimerHandler(timers *timer.Service, logger *slog.Logger) *TimerHandler {
	return &TimerHandler{
		timers: timers,
		logger: logger.With(slog.String("component", "api")),
	}
}

func (h *TimerHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apierr.IsInternal(err) {
		h.logger.Error("timer request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	WriteError(w, err)
}

// Create handles POST /api/v1/timers
func (h *TimerHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	var req request.CreateTimerRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	snap, err := h.timers.Create(r.Context(), user.ID, req.Settings())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.TimerFromSnapshot(snap))
}

// CreateFromGame handles POST /api/v1/games/{game_id}/timer
func (h *TimerHandler) CreateFromGame(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())
	gameID := mux.Vars(r)["game_id"]

	var req request.CreateGameTimerRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	snap, err := h.timers.CreateFromGame(r.Context(), user.ID, gameID, req.Settings())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.TimerFromSnapshot(snap))
}

// List handles GET /api/v1/timers
func (h *TimerHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	timers, err := h.timers.ListForUser(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := response.TimerList{Timers: make([]response.TimerSummary, len(timers))}
	for i, t := range timers {
		resp.Timers[i] = response.TimerSummaryFromModel(t)
	}
	response.JSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/timers/{id}
func (h *TimerHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())
	id := model.TimerID(mux.Vars(r)["id"])

	snap, err := h.timers.Get(r.Context(), user.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, response.TimerFromSnapshot(snap))
}

// Delete handles DELETE /api/v1/timers/{id}
func (h *TimerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())
	id := model.TimerID(mux.Vars(r)["id"])

	if _, err := h.timers.Delete(r.Context(), user.ID, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	response.NoContent(w)
}
