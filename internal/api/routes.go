package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Запуск
	mux.Handle("GET /api/v1/run", chain(http.HandlerFunc(h.StartDefault)))
	mux.Handle("POST /api/v1/run", chain(http.HandlerFunc(h.StartDefault)))
	mux.Handle("POST /api/v1/orchestrations/{name}", chain(http.HandlerFunc(h.StartOrchestration)))

	// Instances
	mux.Handle("GET /api/v1/instances", chain(http.HandlerFunc(h.ListInstances)))
	mux.Handle("GET /api/v1/instances/{id}", chain(http.HandlerFunc(h.GetInstance)))
	mux.Handle("GET /api/v1/instances/{id}/history", chain(http.HandlerFunc(h.GetHistory)))

	// Terminate
	mux.Handle("GET /api/v1/terminate", chain(http.HandlerFunc(h.Terminate)))
	mux.Handle("POST /api/v1/terminate", chain(http.HandlerFunc(h.Terminate)))

	// Health и metrics
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
}
