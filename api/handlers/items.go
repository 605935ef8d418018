package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/store"
	"github.com/BaSui01/mailflow/types"
)

// Starter is the slice of the workflow engine the intake needs.
type Starter interface {
	Start(ctx context.Context, item *types.WorkItem) (string, error)
}

// ItemsHandler is the intake endpoint the external mail poller posts new
// messages to. Intake is idempotent on the provider message id.
type ItemsHandler struct {
	items  *store.ItemStore
	engine Starter
	logger *zap.Logger
}

// NewItemsHandler builds the intake handler.
func NewItemsHandler(items *store.ItemStore, engine Starter, logger *zap.Logger) *ItemsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemsHandler{items: items, engine: engine, logger: logger.With(zap.String("component", "items_handler"))}
}

type intakeRequest struct {
	UserID            string `json:"user_id"`
	ProviderMessageID string `json:"provider_message_id"`
	MailThreadID      string `json:"mail_thread_id"`
	Sender            string `json:"sender"`
	Subject           string `json:"subject"`
	BodyPreview       string `json:"body_preview"`
}

func (r *intakeRequest) validate() error {
	if r.UserID == "" || r.ProviderMessageID == "" || r.Sender == "" {
		return types.NewError(types.ErrInvalidRequest,
			"user_id, provider_message_id and sender are required")
	}
	return nil
}

// ServeHTTP handles POST /v1/items: persists the work item and runs the
// workflow up to its suspension point. Re-posting a seen message is a
// no-op acknowledged with 200.
func (h *ItemsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "method not allowed"), h.logger)
		return
	}

	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "malformed item payload").WithCause(err), h.logger)
		return
	}
	if err := req.validate(); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	item := &types.WorkItem{
		UserID:            req.UserID,
		ProviderMessageID: req.ProviderMessageID,
		MailThreadID:      req.MailThreadID,
		Sender:            req.Sender,
		Subject:           req.Subject,
		BodyPreview:       req.BodyPreview,
	}
	if err := h.items.Create(r.Context(), item); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			WriteSuccess(w, map[string]string{"status": "duplicate"})
			return
		}
		WriteError(w, err, h.logger)
		return
	}

	threadID, err := h.engine.Start(r.Context(), item)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			WriteSuccess(w, map[string]string{"status": "already_processing", "work_item_id": item.ID})
			return
		}
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]string{
		"status":       "accepted",
		"work_item_id": item.ID,
		"thread_id":    threadID,
	})
}
