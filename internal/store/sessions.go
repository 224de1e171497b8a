package store

import (
	"context"
	"fmt"
	"time"
)

// Session is one completed exercise activity, keyed by the provider-assigned
// session id. Re-upserting with new values overwrites the row.
type Session struct {
	SessionID    string
	Start        time.Time
	End          time.Time
	Sport        string
	DistanceM    float64
	DurationS    float64
	Kcal         float64
	AvgHR        *int
	MaxHR        *int
	Device       string
	TrainingLoad *float64
}

func (s *Store) UpsertSession(ctx context.Context, sess Session) error {
	if sess.SessionID == "" {
		return fmt.Errorf("upsert session: empty session_id")
	}
	_, err := s.writer.ExecContext(ctx, `
INSERT INTO sessions (
  session_id, ts_start, ts_end, sport, distance_m, duration_s, kcal,
  avg_hr, max_hr, device, training_load
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  ts_start=excluded.ts_start,
  ts_end=excluded.ts_end,
  sport=excluded.sport,
  distance_m=excluded.distance_m,
  duration_s=excluded.duration_s,
  kcal=excluded.kcal,
  avg_hr=excluded.avg_hr,
  max_hr=excluded.max_hr,
  device=excluded.device,
  training_load=excluded.training_load
`,
		sess.SessionID,
		toMillis(sess.Start),
		toMillis(sess.End),
		sess.Sport,
		sess.DistanceM,
		sess.DurationS,
		sess.Kcal,
		sess.AvgHR,
		sess.MaxHR,
		sess.Device,
		sess.TrainingLoad,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.SessionID, err)
	}
	return nil
}

// ReadSessions returns sessions whose start time falls in [from, to),
// ordered by start time.
func (s *Store) ReadSessions(ctx context.Context, from, to time.Time) ([]Session, error) {
	rows, err := s.reader.QueryContext(ctx, `
SELECT session_id, ts_start, ts_end, sport, distance_m, duration_s, kcal,
       avg_hr, max_hr, device, training_load
FROM sessions
WHERE ts_start >= ? AND ts_start < ?
ORDER BY ts_start ASC
`, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// RecentSessions returns the most recent sessions by start time.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.reader.QueryContext(ctx, `
SELECT session_id, ts_start, ts_end, sport, distance_m, duration_s, kcal,
       avg_hr, max_hr, device, training_load
FROM sessions
ORDER BY ts_start DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) CountSessions(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE ts_start >= ? AND ts_start < ?",
		toMillis(from), toMillis(to),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

type sessionRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSessions(rows sessionRows) ([]Session, error) {
	out := make([]Session, 0)
	for rows.Next() {
		var (
			sess       Session
			start, end int64
		)
		if err := rows.Scan(
			&sess.SessionID,
			&start,
			&end,
			&sess.Sport,
			&sess.DistanceM,
			&sess.DurationS,
			&sess.Kcal,
			&sess.AvgHR,
			&sess.MaxHR,
			&sess.Device,
			&sess.TrainingLoad,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Start = fromMillis(start)
		sess.End = fromMillis(end)
		out = append(out, sess)
	}
	return out, rows.Err()
}
