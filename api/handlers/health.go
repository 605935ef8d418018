package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HealthHandler answers liveness and readiness probes.
type HealthHandler struct {
	db      *gorm.DB
	version string
	started time.Time
	logger  *zap.Logger
}

// NewHealthHandler builds the health handler.
func NewHealthHandler(db *gorm.DB, version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		db:      db,
		version: version,
		started: time.Now(),
		logger:  logger.With(zap.String("component", "health_handler")),
	}
}

// Live handles GET /healthz. Always 200 while the process serves traffic.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, map[string]string{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready handles GET /readyz, including a database ping.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		WriteJSON(w, http.StatusServiceUnavailable, Response{
			Success:   false,
			Error:     &ErrorInfo{Kind: "NOT_READY", Message: "database unreachable"},
			Timestamp: time.Now(),
		})
		return
	}
	WriteSuccess(w, map[string]string{"status": "ready"})
}
