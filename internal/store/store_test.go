package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulseledger.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestOpenAppliesPragmasAndSchema(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)

	journal, busy, err := st.Pragmas(context.Background())
	if err != nil {
		t.Fatalf("Pragmas() error = %v", err)
	}
	if journal != "wal" {
		t.Fatalf("journal mode = %q, want wal", journal)
	}
	if busy != 10000 {
		t.Fatalf("busy_timeout = %d, want 10000", busy)
	}

	n, err := st.CountSessions(context.Background(), time.Unix(0, 0), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("CountSessions() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("session count = %d, want 0", n)
	}
}

func TestUpsertSessionOverwrites(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 11, 3, 7, 0, 0, 0, time.UTC)

	first := Session{
		SessionID:    "ex-1",
		Start:        start,
		End:          start.Add(time.Hour),
		Sport:        "RUNNING",
		DistanceM:    10000,
		DurationS:    3600,
		Kcal:         500,
		AvgHR:        intPtr(140),
		MaxHR:        intPtr(172),
		Device:       "Polar Vantage",
		TrainingLoad: floatPtr(80),
	}
	if err := st.UpsertSession(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second := first
	second.DistanceM = 12000
	second.Kcal = 600
	second.AvgHR = nil
	second.TrainingLoad = nil
	if err := st.UpsertSession(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := st.ReadSessions(ctx, start.Add(-time.Hour), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("read sessions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("session count after re-upsert = %d, want 1", len(got))
	}
	if got[0].DistanceM != 12000 {
		t.Fatalf("distance = %v, want 12000 (overwrite)", got[0].DistanceM)
	}
	if got[0].AvgHR != nil {
		t.Fatalf("avg_hr = %v, want nil (overwrite, not merge)", *got[0].AvgHR)
	}
	if got[0].TrainingLoad != nil {
		t.Fatalf("training_load = %v, want nil (overwrite, not merge)", *got[0].TrainingLoad)
	}
	if !got[0].Start.Equal(start) {
		t.Fatalf("start = %v, want %v", got[0].Start, start)
	}
}

func TestUpsertSessionRejectsEmptyID(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	if err := st.UpsertSession(context.Background(), Session{}); err == nil {
		t.Fatal("expected error for empty session_id")
	}
}

func TestUpsertMetricMergesNonNull(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertMetric(ctx, DailyMetric{Date: "2025-11-03", RestingHR: intPtr(48)}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := st.UpsertMetric(ctx, DailyMetric{Date: "2025-11-03", WeightKg: floatPtr(70.5)}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rows, err := st.ReadMetrics(ctx, "2025-11-03", "2025-11-04")
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("metric rows = %d, want 1", len(rows))
	}
	m := rows[0]
	if m.RestingHR == nil || *m.RestingHR != 48 {
		t.Fatalf("resting_hr = %v, want 48 (null never replaces stored value)", m.RestingHR)
	}
	if m.WeightKg == nil || *m.WeightKg != 70.5 {
		t.Fatalf("weight_kg = %v, want 70.5 (later sync fills null)", m.WeightKg)
	}

	// A non-null incoming value still replaces.
	if err := st.UpsertMetric(ctx, DailyMetric{Date: "2025-11-03", RestingHR: intPtr(50)}); err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	rows, err = st.ReadMetrics(ctx, "2025-11-03", "2025-11-04")
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if *rows[0].RestingHR != 50 {
		t.Fatalf("resting_hr = %d, want 50", *rows[0].RestingHR)
	}
}

func TestFillForwardLatest(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	old := DailyMetric{
		Date:      "2025-11-01",
		RestingHR: intPtr(47),
		WeightKg:  floatPtr(71.2),
		VO2Max:    floatPtr(52),
		HRVRmssd:  floatPtr(65),
	}
	if err := st.UpsertMetric(ctx, old); err != nil {
		t.Fatalf("seed old row: %v", err)
	}
	if err := st.UpsertMetric(ctx, DailyMetric{Date: "2025-11-03", SleepHours: floatPtr(7.5)}); err != nil {
		t.Fatalf("seed latest row: %v", err)
	}

	if err := st.FillForwardLatest(ctx); err != nil {
		t.Fatalf("fill forward: %v", err)
	}

	rows, err := st.ReadMetrics(ctx, "2025-11-03", "2025-11-04")
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	latest := rows[0]
	if latest.WeightKg == nil || *latest.WeightKg != 71.2 {
		t.Fatalf("weight_kg = %v, want 71.2 carried forward", latest.WeightKg)
	}
	if latest.RestingHR == nil || *latest.RestingHR != 47 {
		t.Fatalf("resting_hr = %v, want 47 carried forward", latest.RestingHR)
	}
	if latest.VO2Max == nil || *latest.VO2Max != 52 {
		t.Fatalf("vo2max = %v, want 52 carried forward", latest.VO2Max)
	}
	if latest.HRVRmssd != nil {
		t.Fatalf("hrv_rmssd = %v, want nil (fast-moving, never carried)", *latest.HRVRmssd)
	}
	if latest.SleepHours == nil || *latest.SleepHours != 7.5 {
		t.Fatalf("sleep_hours = %v, want 7.5 untouched", latest.SleepHours)
	}

	// Older rows are never modified.
	rows, err = st.ReadMetrics(ctx, "2025-11-01", "2025-11-02")
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if rows[0].SleepHours != nil {
		t.Fatalf("old row sleep_hours = %v, want nil", *rows[0].SleepHours)
	}
}

func TestWriteAggregateUpserts(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	agg := WeeklyAggregate{YearWeek: "2025-W45", Km: 42, Load7d: 180, Load28d: 45}
	if err := st.WriteAggregate(ctx, agg); err != nil {
		t.Fatalf("first write: %v", err)
	}
	agg.Km = 50
	agg.ACWR = floatPtr(4)
	if err := st.WriteAggregate(ctx, agg); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := st.ReadAggregate(ctx, "2025-W45")
	if err != nil {
		t.Fatalf("read aggregate: %v", err)
	}
	if got.Km != 50 {
		t.Fatalf("km = %v, want 50 (full recompute, no patching)", got.Km)
	}
	if got.ACWR == nil || *got.ACWR != 4 {
		t.Fatalf("acwr = %v, want 4", got.ACWR)
	}
	if got.Monotony != nil {
		t.Fatalf("monotony = %v, want nil", *got.Monotony)
	}
}

func TestRecentAggregatesOrder(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	for _, week := range []string{"2025-W44", "2025-W46", "2025-W45"} {
		if err := st.WriteAggregate(ctx, WeeklyAggregate{YearWeek: week}); err != nil {
			t.Fatalf("write %s: %v", week, err)
		}
	}

	got, err := st.RecentAggregates(ctx, 2)
	if err != nil {
		t.Fatalf("recent aggregates: %v", err)
	}
	if len(got) != 2 || got[0].YearWeek != "2025-W46" || got[1].YearWeek != "2025-W45" {
		t.Fatalf("recent aggregates = %+v, want newest first", got)
	}
}

func TestLedgerLastSuccessfulRun(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	_, found, err := st.LastSuccessfulRun(ctx)
	if err != nil {
		t.Fatalf("empty ledger: %v", err)
	}
	if found {
		t.Fatal("found = true on empty ledger, want false")
	}

	t1 := time.Date(2025, 11, 3, 6, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	if _, err := st.AppendRun(ctx, t1, true, "fetched=2"); err != nil {
		t.Fatalf("append t1: %v", err)
	}
	if _, err := st.AppendRun(ctx, t2, true, "fetched=0"); err != nil {
		t.Fatalf("append t2: %v", err)
	}
	// A failed run never advances the watermark.
	if _, err := st.AppendRun(ctx, t3, false, "error: provider /v3/exercises: status 503"); err != nil {
		t.Fatalf("append t3: %v", err)
	}

	ts, found, err := st.LastSuccessfulRun(ctx)
	if err != nil {
		t.Fatalf("last successful run: %v", err)
	}
	if !found || !ts.Equal(t2) {
		t.Fatalf("last successful run = %v found=%v, want %v", ts, found, t2)
	}

	n, err := st.RunCount(ctx)
	if err != nil {
		t.Fatalf("run count: %v", err)
	}
	if n != 3 {
		t.Fatalf("run count = %d, want 3", n)
	}

	runs, err := st.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 3 || !runs[0].RunTS.Equal(t3) || runs[0].OK {
		t.Fatalf("recent runs = %+v, want newest first with failed t3 on top", runs)
	}
}

func TestReadSessionsWindowIsHalfOpen(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		sess := Session{
			SessionID: id,
			Start:     day.AddDate(0, 0, i),
			End:       day.AddDate(0, 0, i).Add(time.Hour),
			Sport:     "RUNNING",
		}
		if err := st.UpsertSession(ctx, sess); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	got, err := st.ReadSessions(ctx, day, day.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("read sessions: %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "a" || got[1].SessionID != "b" {
		t.Fatalf("window read = %+v, want a and b only", got)
	}
}
