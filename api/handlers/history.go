package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/history"
	"github.com/BaSui01/mailflow/store"
	"github.com/BaSui01/mailflow/types"
)

// HistoryHandler serves the decision ledger and its statistics.
type HistoryHandler struct {
	ledger *history.Service
	logger *zap.Logger
}

// NewHistoryHandler builds the ledger handler.
func NewHistoryHandler(ledger *history.Service, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{ledger: ledger, logger: logger.With(zap.String("component", "history_handler"))}
}

// History handles GET /v1/history?user_id=&from=&to=&action=&limit=.
func (h *HistoryHandler) History(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	rows, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	limit := rowLimit(r)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	WriteSuccess(w, rows)
}

// Statistics handles GET /v1/statistics?user_id=&from=&to=.
func (h *HistoryHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "user_id is required"), h.logger)
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	stats, err := h.ledger.Statistics(r.Context(), userID, from, to)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, stats)
}

func parseFilter(r *http.Request) (store.LedgerFilter, error) {
	q := r.URL.Query()
	filter := store.LedgerFilter{UserID: q.Get("user_id")}
	if filter.UserID == "" {
		return filter, types.NewError(types.ErrInvalidRequest, "user_id is required")
	}

	if action := q.Get("action"); action != "" {
		at := types.ActionType(action)
		if !at.Valid() {
			return filter, types.NewError(types.ErrInvalidRequest, "unknown action filter")
		}
		filter.Action = at
	}

	from, to, err := parseWindow(r)
	if err != nil {
		return filter, err
	}
	if !from.IsZero() {
		filter.From = &from
	}
	if !to.IsZero() {
		filter.To = &to
	}
	return filter, nil
}

func parseWindow(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, types.NewError(types.ErrInvalidRequest, "from must be RFC 3339").WithCause(err)
		}
	}
	if v := q.Get("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, types.NewError(types.ErrInvalidRequest, "to must be RFC 3339").WithCause(err)
		}
	}
	return from, to, nil
}

func rowLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
