package utils

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type conflictBody struct {
	Error   string   `json:"error"`
	Reasons []string `json:"reasons"`
}

// WriteErrorAndStatusCode answers typed errors with their status and message.
// Anything else is logged and answered with a generic 500.
func WriteErrorAndStatusCode(w http.ResponseWriter, err error) {
	e, ok := errors.Typed(err)
	if !ok || e.StatusCode >= http.StatusInternalServerError {
		logger.Log.Error("internal error", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if len(e.Reasons) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(e.StatusCode)
		json.NewEncoder(w).Encode(conflictBody{Error: e.Message, Reasons: e.Reasons})
		return
	}
	http.Error(w, e.Message, e.StatusCode)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("failed to encode response", "error", err)
	}
}

func DecodeValidate(r io.ReadCloser, body any) error {
	if err := json.NewDecoder(r).Decode(body); err != nil {
		logger.Log.Debug("invalid request body", "error", err)
		return errors.Validation("Body is invalid json")
	}
	if err := validate.Struct(body); err != nil {
		logger.Log.Debug("request validation failed", "error", err)
		return errors.Validation("Required fields missing")
	}
	return nil
}
