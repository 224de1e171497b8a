package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func New(addr string, healthHandler http.HandlerFunc, handlers *Handlers) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	if handlers != nil {
		mux.HandleFunc("GET /v1/sessions/recent", handlers.RecentSessions)
		mux.HandleFunc("GET /v1/metrics/recent", handlers.RecentMetrics)
		mux.HandleFunc("GET /v1/aggregates/recent", handlers.RecentAggregates)
		mux.HandleFunc("GET /v1/runs/recent", handlers.RecentRuns)
		mux.HandleFunc("POST /v1/reports", handlers.PostReport)
		mux.HandleFunc("POST /v1/sync", handlers.PostSync)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
