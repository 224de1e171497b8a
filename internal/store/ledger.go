package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncRun is one append-only ledger row per pipeline execution.
type SyncRun struct {
	RunID string
	RunTS time.Time
	OK    bool
	Notes string
}

// AppendRun records one run outcome. The ledger is append-only; rows are
// never updated or deleted.
func (s *Store) AppendRun(ctx context.Context, runTS time.Time, ok bool, notes string) (string, error) {
	runID := uuid.NewString()
	okInt := 0
	if ok {
		okInt = 1
	}
	_, err := s.writer.ExecContext(ctx,
		"INSERT INTO sync_runs (run_id, run_ts, ok, notes) VALUES (?, ?, ?, ?)",
		runID, toMillis(runTS), okInt, notes,
	)
	if err != nil {
		return "", fmt.Errorf("append run: %w", err)
	}
	return runID, nil
}

// LastSuccessfulRun returns the run_ts of the most recent ok run. found is
// false when the ledger holds no successful run yet.
func (s *Store) LastSuccessfulRun(ctx context.Context) (ts time.Time, found bool, err error) {
	var ms int64
	err = s.reader.QueryRowContext(ctx,
		"SELECT run_ts FROM sync_runs WHERE ok = 1 ORDER BY run_ts DESC LIMIT 1",
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last successful run: %w", err)
	}
	return fromMillis(ms), true, nil
}

func (s *Store) RunCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("run count: %w", err)
	}
	return n, nil
}

// RecentRuns returns ledger rows, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	rows, err := s.reader.QueryContext(ctx, `
SELECT run_id, run_ts, ok, notes
FROM sync_runs
ORDER BY run_ts DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	out := make([]SyncRun, 0, limit)
	for rows.Next() {
		var (
			run   SyncRun
			ms    int64
			okInt int
		)
		if err := rows.Scan(&run.RunID, &ms, &okInt, &run.Notes); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.RunTS = fromMillis(ms)
		run.OK = okInt == 1
		out = append(out, run)
	}
	return out, rows.Err()
}
