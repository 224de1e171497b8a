// Package track owns the sync watermark. There is no mutable "last sync"
// variable anywhere; the watermark is a pure function of the append-only run
// ledger.
package track

import (
	"context"
	"time"
)

type Ledger interface {
	AppendRun(ctx context.Context, runTS time.Time, ok bool, notes string) (string, error)
	LastSuccessfulRun(ctx context.Context) (time.Time, bool, error)
}

type Tracker struct {
	ledger Ledger
	epoch  time.Time
}

func New(ledger Ledger, epoch time.Time) *Tracker {
	return &Tracker{ledger: ledger, epoch: epoch}
}

// Watermark returns the run_ts of the most recent successful run, or the
// configured epoch when no run has succeeded yet. Run timestamps are taken
// at run start from the wall clock, so the watermark never regresses — a
// successful run that found zero new records still advances it.
func (t *Tracker) Watermark(ctx context.Context) (time.Time, error) {
	ts, found, err := t.ledger.LastSuccessfulRun(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !found || ts.Before(t.epoch) {
		return t.epoch, nil
	}
	return ts, nil
}

// RecordRun appends exactly one ledger row for the run.
func (t *Tracker) RecordRun(ctx context.Context, runTS time.Time, ok bool, notes string) (string, error) {
	return t.ledger.AppendRun(ctx, runTS, ok, notes)
}
