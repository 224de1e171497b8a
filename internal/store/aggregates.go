package store

import (
	"context"
	"fmt"
	"time"
)

// WeeklyAggregate is one derived rollup per ISO year-week. Rows are fully
// recomputed from sessions, never patched in place.
type WeeklyAggregate struct {
	YearWeek string // e.g. "2025-W45"
	Km       float64
	Load7d   float64
	Load28d  float64
	ACWR     *float64
	Monotony *float64
	Strain   *float64
}

func (s *Store) WriteAggregate(ctx context.Context, agg WeeklyAggregate) error {
	if agg.YearWeek == "" {
		return fmt.Errorf("write aggregate: empty year_week")
	}
	_, err := s.writer.ExecContext(ctx, `
INSERT INTO weekly_aggregates (year_week, km, load_7d, load_28d, acwr, monotony, strain, computed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(year_week) DO UPDATE SET
  km=excluded.km,
  load_7d=excluded.load_7d,
  load_28d=excluded.load_28d,
  acwr=excluded.acwr,
  monotony=excluded.monotony,
  strain=excluded.strain,
  computed_at=excluded.computed_at
`,
		agg.YearWeek,
		agg.Km,
		agg.Load7d,
		agg.Load28d,
		agg.ACWR,
		agg.Monotony,
		agg.Strain,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write aggregate %s: %w", agg.YearWeek, err)
	}
	return nil
}

func (s *Store) ReadAggregate(ctx context.Context, yearWeek string) (WeeklyAggregate, error) {
	var agg WeeklyAggregate
	err := s.reader.QueryRowContext(ctx, `
SELECT year_week, km, load_7d, load_28d, acwr, monotony, strain
FROM weekly_aggregates
WHERE year_week = ?
`, yearWeek).Scan(&agg.YearWeek, &agg.Km, &agg.Load7d, &agg.Load28d, &agg.ACWR, &agg.Monotony, &agg.Strain)
	if err != nil {
		return WeeklyAggregate{}, fmt.Errorf("read aggregate %s: %w", yearWeek, err)
	}
	return agg, nil
}

// RecentAggregates returns the latest weekly rows, newest week first. The
// year-week label sorts lexicographically within a year; ordering by label
// is correct because the year prefix dominates.
func (s *Store) RecentAggregates(ctx context.Context, limit int) ([]WeeklyAggregate, error) {
	rows, err := s.reader.QueryContext(ctx, `
SELECT year_week, km, load_7d, load_28d, acwr, monotony, strain
FROM weekly_aggregates
ORDER BY year_week DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent aggregates: %w", err)
	}
	defer rows.Close()

	out := make([]WeeklyAggregate, 0, limit)
	for rows.Next() {
		var agg WeeklyAggregate
		if err := rows.Scan(&agg.YearWeek, &agg.Km, &agg.Load7d, &agg.Load28d, &agg.ACWR, &agg.Monotony, &agg.Strain); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}
