// Package pipeline sequences one sync run: fetch, normalize, store,
// aggregate, record. Stages run strictly in order; a stage's failure mode
// decides whether the run aborts, skips a record, or continues degraded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pulseledger/internal/aggregate"
	"pulseledger/internal/normalize"
	"pulseledger/internal/observability"
	"pulseledger/internal/provider"
	"pulseledger/internal/store"
	"pulseledger/internal/track"
)

type Stage string

const (
	StageFetching    Stage = "fetching"
	StageStoring     Stage = "storing"
	StageAggregating Stage = "aggregating"
	StageRecording   Stage = "recording"
)

type Fetcher interface {
	FetchSince(ctx context.Context, since time.Time) (provider.Batch, error)
}

// Writer is the slice of the store the orchestrator writes through.
type Writer interface {
	UpsertSession(ctx context.Context, sess store.Session) error
	UpsertMetric(ctx context.Context, m store.DailyMetric) error
	FillForwardLatest(ctx context.Context) error
}

type Recomputer interface {
	Recompute(ctx context.Context, changed []time.Time) ([]string, error)
}

// Outcome summarizes one run for the caller and for the ledger notes.
type Outcome struct {
	RunID           string
	RunTS           time.Time
	OK              bool
	FailedStage     Stage
	Fetched         int
	Skipped         int
	StoredSessions  int
	StoredMetrics   int
	WeeksRecomputed []string
	Notes           string
}

type Orchestrator struct {
	logger        *slog.Logger
	fetcher       Fetcher
	writer        Writer
	agg           Recomputer
	tracker       *track.Tracker
	maxNotesBytes int
}

func New(logger *slog.Logger, fetcher Fetcher, writer Writer, agg Recomputer, tracker *track.Tracker, maxNotesBytes int) *Orchestrator {
	if maxNotesBytes <= 0 {
		maxNotesBytes = 2048
	}
	return &Orchestrator{
		logger:        logger,
		fetcher:       fetcher,
		writer:        writer,
		agg:           agg,
		tracker:       tracker,
		maxNotesBytes: maxNotesBytes,
	}
}

// Run executes one pipeline pass. The ledger row is written on every path,
// success or failure, exactly once.
func (o *Orchestrator) Run(ctx context.Context) (out Outcome) {
	out = Outcome{RunTS: time.Now().UTC()}
	var runErr error

	defer func() {
		o.record(ctx, &out, runErr)
	}()

	watermark, err := o.tracker.Watermark(ctx)
	if err != nil {
		out.FailedStage = StageFetching
		runErr = fmt.Errorf("watermark: %w", err)
		return out
	}

	o.logger.Info("run started", "watermark", watermark)

	batch, err := o.fetcher.FetchSince(ctx, watermark)
	if err != nil {
		// No writes have happened; safe to retry on the next schedule.
		out.FailedStage = StageFetching
		runErr = fmt.Errorf("fetch since %s: %w", watermark.Format(time.RFC3339), err)
		return out
	}
	out.Fetched = len(batch.Sessions) + len(batch.Metrics)

	changedDates, err := o.storeBatch(ctx, &out, batch)
	if err != nil {
		out.FailedStage = StageStoring
		runErr = err
		return out
	}

	weeks, err := o.agg.Recompute(ctx, changedDates)
	out.WeeksRecomputed = weeks
	if err != nil {
		// Sessions and metrics are committed facts; only the derived
		// rollups are stale. The next run recomputes the same window.
		out.FailedStage = StageAggregating
		runErr = fmt.Errorf("aggregate: %w", err)
		return out
	}

	out.OK = true
	return out
}

// storeBatch normalizes and upserts every fetched record. A malformed record
// is skipped and counted; a store failure is systemic and aborts the batch.
func (o *Orchestrator) storeBatch(ctx context.Context, out *Outcome, batch provider.Batch) ([]time.Time, error) {
	dates := make([]time.Time, 0, len(batch.Sessions))

	for _, raw := range batch.Sessions {
		if normalize.IsFitnessTest(raw) {
			m, err := normalize.FitnessTest(raw)
			if o.skippable(out, err) {
				continue
			}
			if err := o.writer.UpsertMetric(ctx, m); err != nil {
				return nil, err
			}
			out.StoredMetrics++
			continue
		}

		res, err := normalize.Session(raw)
		if o.skippable(out, err) {
			continue
		}
		if res.LoadSource != "" {
			o.logger.Debug("training load source", "session_id", res.Session.SessionID, "key", res.LoadSource)
		}
		if err := o.writer.UpsertSession(ctx, res.Session); err != nil {
			return nil, err
		}
		out.StoredSessions++
		dates = append(dates, res.Session.Start)
	}

	for _, raw := range batch.Metrics {
		m, err := normalize.Metric(raw)
		if o.skippable(out, err) {
			continue
		}
		if err := o.writer.UpsertMetric(ctx, m); err != nil {
			return nil, err
		}
		out.StoredMetrics++
	}

	if err := o.writer.FillForwardLatest(ctx); err != nil {
		return nil, err
	}

	return dates, nil
}

// skippable reports whether err is a per-record normalization failure, and
// if so counts it. Any other non-nil error would have been returned by the
// normalizer only as *normalize.Error, so err != nil here means skip.
func (o *Orchestrator) skippable(out *Outcome, err error) bool {
	if err == nil {
		return false
	}
	var nerr *normalize.Error
	if errors.As(err, &nerr) {
		o.logger.Warn("record skipped", "field", nerr.Field, "reason", nerr.Reason)
	} else {
		o.logger.Warn("record skipped", "error", err)
	}
	out.Skipped++
	return true
}

func (o *Orchestrator) record(ctx context.Context, out *Outcome, runErr error) {
	notes := fmt.Sprintf(
		"fetched=%d skipped=%d sessions=%d metrics=%d weeks=%d",
		out.Fetched, out.Skipped, out.StoredSessions, out.StoredMetrics, len(out.WeeksRecomputed),
	)
	if runErr != nil {
		notes += "; error: " + runErr.Error()
	}
	out.Notes = TruncateBytes(notes, o.maxNotesBytes)

	runID, err := o.tracker.RecordRun(ctx, out.RunTS, out.OK, out.Notes)
	if err != nil {
		// The ledger itself is unreachable; nothing left to do but log.
		o.logger.Error("record run failed", "error", err)
	}
	out.RunID = runID

	observability.RecordRun(outcomeLabel(out, runErr), out.RunTS)
	observability.RecordSkipped(out.Skipped)
	observability.RecordSessionsUpserted(out.StoredSessions)
	observability.RecordMetricsUpserted(out.StoredMetrics)
	observability.RecordWeeksRecomputed(len(out.WeeksRecomputed))

	if out.OK {
		o.logger.Info("run succeeded", "run_id", out.RunID, "notes", out.Notes)
	} else {
		o.logger.Error("run failed", "run_id", out.RunID, "stage", string(out.FailedStage), "notes", out.Notes)
	}
}

func outcomeLabel(out *Outcome, runErr error) string {
	if out.OK {
		return "ok"
	}
	var terr *provider.TransportError
	if errors.As(runErr, &terr) {
		return "fetch_failed"
	}
	var aerr *aggregate.Error
	if errors.As(runErr, &aerr) {
		return "aggregate_failed"
	}
	return "store_failed"
}
