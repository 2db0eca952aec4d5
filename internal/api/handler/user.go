package handler

import (
	"net/http"

	"github.com/mcoot/turntimer/internal/api/middleware"
	"github.com/mcoot/turntimer/internal/api/request"
	"github.com/mcoot/turntimer/internal/api/response"
	"github.com/mcoot/turntimer/internal/services/auth"
)

// UserHandler handles user and session endpoints
type UserHandler struct {
	authService *auth.Service
}

// NewUserHandler creates a new user handler
func NewUserHandler(authService *auth.Service) *UserHandler {
	return &UserHandler{
		authService: authService,
	}
}

// CreateGuest handles POST /api/v1/users/guest
func (h *UserHandler) CreateGuest(w http.ResponseWriter, r *http.Request) {
	var req request.CreateGuestRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if req.DisplayName == "" {
		WriteError(w, NewValidationError("display_name is required"))
		return
	}

	session, err := h.authService.CreateGuest(r.Context(), req.DisplayName)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.AuthResponseFromSession(session))
}

// Register handles POST /api/v1/users/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req request.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if req.Username == "" {
		WriteError(w, NewValidationError("username is required"))
		return
	}
	if req.Password == "" {
		WriteError(w, NewValidationError("password is required"))
		return
	}
	if req.DisplayName == "" {
		WriteError(w, NewValidationError("display_name is required"))
		return
	}

	session, err := h.authService.Register(r.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.AuthResponseFromSession(session))
}

// Login handles POST /api/v1/users/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req request.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if req.Username == "" || req.Password == "" {
		WriteError(w, NewValidationError("username and password are required"))
		return
	}

	session, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AuthResponseFromSession(session))
}

// GetMe handles GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())
	response.JSON(w, http.StatusOK, response.UserFromModel(user))
}

// Logout handles POST /api/v1/users/logout
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := middleware.GetSession(r.Context()); session != nil {
		h.authService.InvalidateSession(session.Token)
	}
	response.NoContent(w)
}
