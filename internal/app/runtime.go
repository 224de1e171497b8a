package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pulseledger/internal/aggregate"
	"pulseledger/internal/config"
	"pulseledger/internal/pipeline"
	"pulseledger/internal/provider"
	"pulseledger/internal/server"
	"pulseledger/internal/sink"
	"pulseledger/internal/store"
	"pulseledger/internal/track"
)

type Runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	version    string
	startedAt  time.Time
	st         *store.Store
	orch       *pipeline.Orchestrator
	sinkClient *sink.Client
	httpServer *http.Server
	bgCancel   context.CancelFunc
	bgWG       sync.WaitGroup

	syncMu        sync.Mutex
	lastRunTime   atomic.Int64
	lastRunStatus atomic.Value
}

func New(cfg *config.Config, logger *slog.Logger, version string) *Runtime {
	r := &Runtime{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		startedAt: time.Now(),
	}
	r.lastRunStatus.Store("none")
	return r
}

func (r *Runtime) open(ctx context.Context) error {
	st, err := store.Open(r.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	r.st = st

	journalMode, busyTimeout, err := st.Pragmas(ctx)
	if err != nil {
		return fmt.Errorf("query sqlite pragmas: %w", err)
	}
	r.logger.Info("store opened",
		"path", r.cfg.DBPath,
		"journal_mode", journalMode,
		"busy_timeout", busyTimeout,
		"tables", 4,
	)

	tracker := track.New(st, r.cfg.SyncEpoch)
	agg := aggregate.New(st)

	if r.cfg.ProviderToken != "" {
		fetcher := provider.New(r.cfg.ProviderBaseURL, r.cfg.ProviderToken, r.cfg.FetchTimeout)
		r.orch = pipeline.New(r.logger, fetcher, st, agg, tracker, r.cfg.MaxNotesBytes)
	} else {
		r.logger.Warn("provider token not set, sync disabled")
	}

	if r.cfg.SinkConfigured() {
		r.sinkClient = sink.NewClient(sink.Options{
			BaseURL:    r.cfg.NotionBaseURL,
			Token:      r.cfg.NotionToken,
			DatabaseID: r.cfg.NotionDatabaseID,
		})
	}

	return nil
}

// RunOnce executes a single pipeline run and exits. A failed run is an error
// to the caller so the exit code reflects the ledger.
func (r *Runtime) RunOnce(ctx context.Context) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	defer r.closeStore(ctx)

	if r.orch == nil {
		return errors.New("provider not configured")
	}

	outcome, err := r.TriggerSync(ctx)
	if err != nil {
		return err
	}
	if !outcome.OK {
		return fmt.Errorf("run failed at %s stage: %s", outcome.FailedStage, outcome.Notes)
	}
	return nil
}

// Serve runs the query API until the context is canceled, with optional
// periodic sync and WAL checkpoint loops.
func (r *Runtime) Serve(ctx context.Context) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	healthHandler := server.NewHealthHandler(r.st, r.startedAt, r.version, r)

	var reportSink server.ReportSink
	if r.sinkClient != nil {
		reportSink = r.sinkClient
	}
	var trigger server.SyncTrigger
	if r.orch != nil {
		trigger = r
	}
	handlers := server.NewHandlers(r.st, reportSink, trigger)
	r.httpServer = server.New(":"+r.cfg.Port, healthHandler.ServeHTTP, handlers)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	r.bgCancel = bgCancel
	r.startBackgroundLoops(bgCtx)

	serverErr := make(chan error, 1)
	go func() {
		r.logger.Info("listening", "addr", ":"+r.cfg.Port)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
		return r.shutdown(context.Background())
	}
}

// TriggerSync runs one pipeline pass. Runs are serialized; a second trigger
// while one is in flight is refused rather than queued.
func (r *Runtime) TriggerSync(ctx context.Context) (pipeline.Outcome, error) {
	if r.orch == nil {
		return pipeline.Outcome{}, errors.New("provider not configured")
	}
	if !r.syncMu.TryLock() {
		return pipeline.Outcome{}, server.ErrSyncInFlight
	}
	defer r.syncMu.Unlock()

	outcome := r.orch.Run(ctx)
	r.lastRunTime.Store(outcome.RunTS.UnixMilli())
	if outcome.OK {
		r.lastRunStatus.Store("ok")
	} else {
		r.lastRunStatus.Store("failed")
	}

	if outcome.OK && r.sinkClient != nil {
		r.pushWeeklyReport(ctx, outcome.RunTS)
	}
	return outcome, nil
}

// pushWeeklyReport is best-effort: committed store rows stand regardless of
// whether the write-back lands.
func (r *Runtime) pushWeeklyReport(ctx context.Context, at time.Time) {
	wp, err := sink.ComposeWeekly(ctx, r.st, at)
	if err != nil {
		r.logger.Warn("compose weekly report failed", "error", err)
		return
	}
	if err := r.sinkClient.UpsertWeek(ctx, wp); err != nil {
		r.logger.Warn("weekly report push failed", "week", wp.WeekLabel, "error", err)
		return
	}
	r.logger.Info("weekly report pushed", "week", wp.WeekLabel, "km", wp.DistanceKm, "sessions", wp.SessionsCount)
}

func (r *Runtime) Snapshot() server.RuntimeSnapshot {
	var lastRun *int64
	if ts := r.lastRunTime.Load(); ts > 0 {
		t := ts
		lastRun = &t
	}
	status := ""
	if s, ok := r.lastRunStatus.Load().(string); ok {
		status = s
	}
	return server.RuntimeSnapshot{
		LastRunTime:   lastRun,
		LastRunStatus: status,
		SyncEnabled:   r.orch != nil,
	}
}

func (r *Runtime) startBackgroundLoops(ctx context.Context) {
	if r.orch != nil && r.cfg.SyncInterval > 0 {
		r.bgWG.Add(1)
		go func() {
			defer r.bgWG.Done()
			ticker := time.NewTicker(r.cfg.SyncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					syncCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
					if _, err := r.TriggerSync(syncCtx); err != nil && !errors.Is(err, server.ErrSyncInFlight) {
						r.logger.Warn("scheduled sync failed", "error", err)
					}
					cancel()
				}
			}
		}()
	}

	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		ticker := time.NewTicker(r.cfg.WALCheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cpCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				if err := r.st.Checkpoint(cpCtx); err != nil {
					r.logger.Warn("wal checkpoint failed", "error", err)
				}
				cancel()
			}
		}
	}()
}

func (r *Runtime) shutdown(ctx context.Context) error {
	var joined error

	if r.httpServer != nil {
		httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(httpCtx); err != nil {
			joined = errors.Join(joined, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if r.bgCancel != nil {
		r.bgCancel()
		done := make(chan struct{})
		go func() {
			r.bgWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			joined = errors.Join(joined, errors.New("background loop shutdown timeout"))
		}
	}

	joined = errors.Join(joined, r.closeStore(ctx))

	r.logger.Info("shutdown complete", "uptime", time.Since(r.startedAt).String())
	return joined
}

func (r *Runtime) closeStore(ctx context.Context) error {
	if r.st == nil {
		return nil
	}
	var joined error
	cpCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.st.Checkpoint(cpCtx); err != nil {
		joined = errors.Join(joined, fmt.Errorf("wal checkpoint: %w", err))
	}
	if err := r.st.Close(); err != nil {
		joined = errors.Join(joined, fmt.Errorf("store close: %w", err))
	}
	r.st = nil
	return joined
}
