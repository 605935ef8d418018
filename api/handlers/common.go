// Package handlers exposes the HTTP surface: the decision callback, the
// ledger endpoints, and health. The handlers translate transport concerns
// and delegate everything else.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/types"
)

// Response is the uniform API envelope.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorInfo is the serialized error payload.
type ErrorInfo struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError maps the error taxonomy onto HTTP statuses and writes the
// envelope.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	kind := types.Kind(err)
	if logger != nil {
		logger.Warn("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	WriteJSON(w, httpStatus(kind), Response{
		Success: false,
		Error: &ErrorInfo{
			Kind:      string(kind),
			Message:   err.Error(),
			Retryable: types.IsRetryable(err),
		},
		Timestamp: time.Now(),
	})
}

func httpStatus(kind types.ErrorKind) int {
	switch kind {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrAuthExpired:
		return http.StatusUnauthorized
	case types.ErrQuotaExceeded:
		return http.StatusTooManyRequests
	case types.ErrTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
