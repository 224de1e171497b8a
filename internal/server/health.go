package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pulseledger/internal/store"
)

type RuntimeSnapshot struct {
	LastRunTime   *int64
	LastRunStatus string
	SyncEnabled   bool
}

type SnapshotProvider interface {
	Snapshot() RuntimeSnapshot
}

type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Version       string `json:"version"`
	DBStatus      string `json:"db_status"`
	DBSizeBytes   int64  `json:"db_size_bytes"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
	RunCount      int64  `json:"run_count"`
	LastRunTime   *int64 `json:"last_run_time"`
	LastRunStatus string `json:"last_run_status"`
	SyncEnabled   bool   `json:"sync_enabled"`
	GeneratedAt   string `json:"generated_at"`
}

type HealthHandler struct {
	st          *store.Store
	startTime   time.Time
	version     string
	snapshotter SnapshotProvider
}

func NewHealthHandler(st *store.Store, start time.Time, version string, snapshotter SnapshotProvider) *HealthHandler {
	return &HealthHandler{
		st:          st,
		startTime:   start,
		version:     version,
		snapshotter: snapshotter,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.snapshotter.Snapshot()
	dbStats := h.st.Stats()
	runCount, err := h.st.RunCount(context.Background())

	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Version:       h.version,
		DBStatus:      dbStats.DBStatus,
		DBSizeBytes:   dbStats.DBSizeBytes,
		WALSizeBytes:  dbStats.WALSize,
		RunCount:      runCount,
		LastRunTime:   snapshot.LastRunTime,
		LastRunStatus: snapshot.LastRunStatus,
		SyncEnabled:   snapshot.SyncEnabled,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil || dbStats.DBStatus != "ok" {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
