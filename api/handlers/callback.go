package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/types"
)

// Resumer is the slice of the workflow engine the callback needs.
type Resumer interface {
	Resume(ctx context.Context, decision types.Decision) error
}

// CallbackHandler receives decision callbacks from the approval channel.
type CallbackHandler struct {
	engine Resumer
	logger *zap.Logger
}

// NewCallbackHandler builds the callback handler.
func NewCallbackHandler(engine Resumer, logger *zap.Logger) *CallbackHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackHandler{engine: engine, logger: logger.With(zap.String("component", "callback_handler"))}
}

// ServeHTTP handles POST /v1/callbacks/decision. Stale callbacks are
// acknowledged with 200 so the channel does not redeliver them.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "method not allowed"), h.logger)
		return
	}

	var decision types.Decision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "malformed decision payload").WithCause(err), h.logger)
		return
	}

	err := h.engine.Resume(r.Context(), decision)
	switch {
	case err == nil:
		WriteSuccess(w, map[string]string{"status": "applied"})
	case types.IsStaleCallback(err):
		WriteSuccess(w, map[string]string{"status": "stale"})
	default:
		WriteError(w, err, h.logger)
	}
}
