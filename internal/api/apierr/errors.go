package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/services/auth"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Error codes shared by the HTTP API and the websocket protocol
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeAccessDenied       = "ACCESS_DENIED"
	CodeAlreadyStarted     = "ALREADY_STARTED"
	CodeAlreadyStopped     = "ALREADY_STOPPED"
	CodeRanOut             = "RAN_OUT"
	CodeInvalidPermutation = "INVALID_PERMUTATION"
	CodeAlreadyFollowing   = "ALREADY_FOLLOWING"
	CodeNotFollowing       = "NOT_FOLLOWING"
	CodeConcurrencyAborted = "CONCURRENCY_ABORTED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeUsernameExists     = "USERNAME_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Classify returns the protocol code and client-safe message for an error.
// Anything unrecognised is INTERNAL_ERROR with no detail.
func Classify(err error) APIError {
	return toHTTPError(err).apiError
}

// IsInternal reports whether err has no client-facing classification
func IsInternal(err error) bool {
	return toHTTPError(err).status == http.StatusInternalServerError
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	switch {
	// Checked first: an aborted unit of work may wrap a lookup error
	case errors.Is(err, model.ErrConcurrencyAborted):
		return &httpError{http.StatusConflict, APIError{CodeConcurrencyAborted, "The operation could not be committed, retry"}}

	case errors.Is(err, model.ErrValidation):
		return &httpError{http.StatusBadRequest, APIError{CodeValidation, err.Error()}}
	case errors.Is(err, model.ErrTimerNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeNotFound, "Timer not found"}}
	case errors.Is(err, model.ErrPlayerNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeNotFound, "Player not found"}}
	case errors.Is(err, model.ErrContextNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeNotFound, "Game or event not found"}}
	case errors.Is(err, model.ErrUserNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeNotFound, "User not found"}}
	case errors.Is(err, model.ErrAccessDenied):
		return &httpError{http.StatusForbidden, APIError{CodeAccessDenied, "Access denied"}}
	case errors.Is(err, model.ErrAlreadyStarted):
		return &httpError{http.StatusConflict, APIError{CodeAlreadyStarted, "Timer is already running"}}
	case errors.Is(err, model.ErrAlreadyStopped):
		return &httpError{http.StatusConflict, APIError{CodeAlreadyStopped, "Timer is already stopped"}}
	case errors.Is(err, model.ErrRanOut):
		return &httpError{http.StatusConflict, APIError{CodeRanOut, "Player has run out of time"}}
	case errors.Is(err, model.ErrInvalidPermutation):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidPermutation, "Turn orders must be a permutation of 0..N-1"}}
	case errors.Is(err, model.ErrAlreadyFollowing):
		return &httpError{http.StatusConflict, APIError{CodeAlreadyFollowing, "Already following another timer"}}
	case errors.Is(err, model.ErrNotFollowing):
		return &httpError{http.StatusConflict, APIError{CodeNotFollowing, "Not following a timer"}}

	// Map auth errors
	case errors.Is(err, auth.ErrInvalidCredentials):
		return &httpError{http.StatusUnauthorized, APIError{CodeInvalidCredentials, "Invalid username or password"}}
	case errors.Is(err, auth.ErrInvalidSession):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Invalid or expired session"}}
	case errors.Is(err, auth.ErrUsernameExists):
		return &httpError{http.StatusConflict, APIError{CodeUsernameExists, "Username already exists"}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewValidationError creates a malformed request error
func NewValidationError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeValidation, message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Authentication required"}}
}

// NewRateLimitedError creates a too many requests error
func NewRateLimitedError() error {
	return &httpError{http.StatusTooManyRequests, APIError{CodeRateLimited, "Too many requests"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
