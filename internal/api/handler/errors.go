package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mcoot/turntimer/internal/api/apierr"
)

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	apierr.WriteError(w, err)
}

// NewValidationError creates a malformed request error
func NewValidationError(message string) error {
	return apierr.NewValidationError(message)
}

// decodeBody decodes a JSON request body, rejecting unknown fields
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return NewValidationError("invalid request body")
	}
	return nil
}
