package store

import (
	"context"
	"fmt"
)

// DailyMetric is one day's physiological snapshot. Upserts merge field by
// field: a later sync may fill a previously-null column but never replaces a
// stored value with null.
type DailyMetric struct {
	Date       string // DateFormat
	RestingHR  *int
	HRVRmssd   *float64
	VO2Max     *float64
	WeightKg   *float64
	SleepHours *float64
}

func (s *Store) UpsertMetric(ctx context.Context, m DailyMetric) error {
	if m.Date == "" {
		return fmt.Errorf("upsert metric: empty date")
	}
	_, err := s.writer.ExecContext(ctx, `
INSERT INTO daily_metrics (date, resting_hr, hrv_rmssd, vo2max, weight_kg, sleep_hours)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(date) DO UPDATE SET
  resting_hr=COALESCE(excluded.resting_hr, daily_metrics.resting_hr),
  hrv_rmssd=COALESCE(excluded.hrv_rmssd, daily_metrics.hrv_rmssd),
  vo2max=COALESCE(excluded.vo2max, daily_metrics.vo2max),
  weight_kg=COALESCE(excluded.weight_kg, daily_metrics.weight_kg),
  sleep_hours=COALESCE(excluded.sleep_hours, daily_metrics.sleep_hours)
`,
		m.Date,
		m.RestingHR,
		m.HRVRmssd,
		m.VO2Max,
		m.WeightKg,
		m.SleepHours,
	)
	if err != nil {
		return fmt.Errorf("upsert metric %s: %w", m.Date, err)
	}
	return nil
}

// ReadMetrics returns metric rows with date in [from, to), ordered by date.
func (s *Store) ReadMetrics(ctx context.Context, from, to string) ([]DailyMetric, error) {
	rows, err := s.reader.QueryContext(ctx, `
SELECT date, resting_hr, hrv_rmssd, vo2max, weight_kg, sleep_hours
FROM daily_metrics
WHERE date >= ? AND date < ?
ORDER BY date ASC
`, from, to)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	defer rows.Close()

	out := make([]DailyMetric, 0)
	for rows.Next() {
		var m DailyMetric
		if err := rows.Scan(&m.Date, &m.RestingHR, &m.HRVRmssd, &m.VO2Max, &m.WeightKg, &m.SleepHours); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentMetrics returns the latest daily rows, newest first.
func (s *Store) RecentMetrics(ctx context.Context, limit int) ([]DailyMetric, error) {
	rows, err := s.reader.QueryContext(ctx, `
SELECT date, resting_hr, hrv_rmssd, vo2max, weight_kg, sleep_hours
FROM daily_metrics
ORDER BY date DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent metrics: %w", err)
	}
	defer rows.Close()

	out := make([]DailyMetric, 0, limit)
	for rows.Next() {
		var m DailyMetric
		if err := rows.Scan(&m.Date, &m.RestingHR, &m.HRVRmssd, &m.VO2Max, &m.WeightKg, &m.SleepHours); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// slow-moving measurements carried forward into the newest row when a sync
// produced that row without them
var fillForwardColumns = []string{"weight_kg", "resting_hr", "vo2max"}

// FillForwardLatest copies the most recent non-null value of each slow-moving
// column into the latest metric row if that row left the column null. Only
// nulls are filled; stored values are never replaced.
func (s *Store) FillForwardLatest(ctx context.Context) error {
	for _, col := range fillForwardColumns {
		q := fmt.Sprintf(`
UPDATE daily_metrics SET %[1]s = (
  SELECT %[1]s FROM daily_metrics WHERE %[1]s IS NOT NULL ORDER BY date DESC LIMIT 1
)
WHERE date = (SELECT MAX(date) FROM daily_metrics) AND %[1]s IS NULL
`, col)
		if _, err := s.writer.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("fill forward %s: %w", col, err)
		}
	}
	return nil
}
