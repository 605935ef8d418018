package handlers

import "net/http"

// NewMux assembles the API routes.
func NewMux(items *ItemsHandler, callback *CallbackHandler, ledger *HistoryHandler, health *HealthHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/v1/items", items)
	mux.Handle("/v1/callbacks/decision", callback)
	mux.HandleFunc("/v1/history", ledger.History)
	mux.HandleFunc("/v1/statistics", ledger.Statistics)
	mux.HandleFunc("/healthz", health.Live)
	mux.HandleFunc("/readyz", health.Ready)
	return mux
}
