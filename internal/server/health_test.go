package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseledger/internal/store"
)

type fakeSnapshotter struct {
	snapshot RuntimeSnapshot
}

func (f *fakeSnapshotter) Snapshot() RuntimeSnapshot {
	return f.snapshot
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	st, err := store.Open(filepath.Join(t.TempDir(), "pulseledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	lastRun := time.Now().UnixMilli()
	h := NewHealthHandler(st, time.Now().Add(-time.Minute), "0.3.0", &fakeSnapshotter{
		snapshot: RuntimeSnapshot{
			LastRunTime:   &lastRun,
			LastRunStatus: "ok",
			SyncEnabled:   true,
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "0.3.0", resp.Version)
	assert.Equal(t, "ok", resp.DBStatus)
	assert.True(t, resp.SyncEnabled)
	assert.Equal(t, "ok", resp.LastRunStatus)
	require.NotNil(t, resp.LastRunTime)
	assert.Equal(t, lastRun, *resp.LastRunTime)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(59))
}

func TestHealthHandlerDegradedWhenStoreClosed(t *testing.T) {
	t.Parallel()

	st, err := store.Open(filepath.Join(t.TempDir(), "pulseledger.db"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	h := NewHealthHandler(st, time.Now(), "0.3.0", &fakeSnapshotter{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}
