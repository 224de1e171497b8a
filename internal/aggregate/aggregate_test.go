package aggregate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseledger/internal/store"
)

// fakeStore serves sessions from memory and records written aggregates.
type fakeStore struct {
	sessions []store.Session
	written  map[string]store.WeeklyAggregate
}

func newFakeStore() *fakeStore {
	return &fakeStore{written: make(map[string]store.WeeklyAggregate)}
}

func (f *fakeStore) ReadSessions(_ context.Context, from, to time.Time) ([]store.Session, error) {
	out := make([]store.Session, 0)
	for _, s := range f.sessions {
		if !s.Start.Before(from) && s.Start.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) WriteAggregate(_ context.Context, agg store.WeeklyAggregate) error {
	f.written[agg.YearWeek] = agg
	return nil
}

func (f *fakeStore) addSession(id string, start time.Time, distanceM float64, load *float64) {
	f.sessions = append(f.sessions, store.Session{
		SessionID:    id,
		Start:        start,
		End:          start.Add(time.Hour),
		Sport:        "RUNNING",
		DistanceM:    distanceM,
		TrainingLoad: load,
	})
}

func loadPtr(v float64) *float64 { return &v }

// monday is an ISO week start used across the tests: 2025-11-03 is the
// Monday of 2025-W45.
var monday = time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)

func TestWeekLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2025-W45", WeekLabel(monday))
	assert.Equal(t, "2025-W45", WeekLabel(monday.AddDate(0, 0, 6)), "sunday belongs to the same week")
	assert.Equal(t, "2025-W46", WeekLabel(monday.AddDate(0, 0, 7)))
	// Jan 1 2027 is a Friday and falls in 2026-W53.
	assert.Equal(t, "2026-W53", WeekLabel(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestWeekStart(t *testing.T) {
	t.Parallel()

	for i := 0; i < 7; i++ {
		got := WeekStart(monday.AddDate(0, 0, i).Add(13 * time.Hour))
		assert.True(t, got.Equal(monday), "day offset %d", i)
	}
	assert.True(t, WeekStart(monday.AddDate(0, 0, -1)).Equal(monday.AddDate(0, 0, -7)))
}

func TestComputeWeekSingleWeek(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	// One week of alternating daily loads, nothing in the three prior weeks.
	loads := []float64{50, 0, 40, 0, 60, 0, 30}
	for i, load := range loads {
		if load == 0 {
			continue
		}
		fs.addSession(fmt.Sprintf("s%d", i), monday.AddDate(0, 0, i).Add(7*time.Hour), 10000, loadPtr(load))
	}

	agg := New(fs)
	labels, err := agg.Recompute(context.Background(), []time.Time{monday})
	require.NoError(t, err)
	require.Contains(t, labels, "2025-W45")

	w := fs.written["2025-W45"]
	assert.Equal(t, 180.0, w.Load7d)
	assert.Equal(t, 45.0, w.Load28d, "three empty prior weeks pull the chronic load down")
	assert.Equal(t, 40.0, w.Km, "4 sessions x 10 km")

	require.NotNil(t, w.ACWR)
	assert.InDelta(t, 4.0, *w.ACWR, 1e-9)

	// mean 180/7 over population sigma of the 7 daily loads
	require.NotNil(t, w.Monotony)
	assert.InDelta(t, 1.0795, *w.Monotony, 1e-3)
	require.NotNil(t, w.Strain)
	assert.InDelta(t, 180*1.0795, *w.Strain, 0.5)
}

func TestComputeWeekNullsWhenNoLoad(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	// Sessions exist but carry no training load.
	fs.addSession("s1", monday.Add(8*time.Hour), 5000, nil)

	agg := New(fs)
	_, err := agg.Recompute(context.Background(), []time.Time{monday})
	require.NoError(t, err)

	w := fs.written["2025-W45"]
	assert.Equal(t, 0.0, w.Load7d)
	assert.Equal(t, 0.0, w.Load28d)
	assert.Equal(t, 5.0, w.Km, "distance still counts")
	assert.Nil(t, w.ACWR, "no ratio against a zero chronic load")
	assert.Nil(t, w.Monotony, "zero sigma yields no monotony")
	assert.Nil(t, w.Strain)
}

func TestComputeWeekConstantLoadHasNoMonotony(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	for i := 0; i < 7; i++ {
		fs.addSession(fmt.Sprintf("s%d", i), monday.AddDate(0, 0, i).Add(7*time.Hour), 0, loadPtr(30))
	}

	agg := New(fs)
	_, err := agg.Recompute(context.Background(), []time.Time{monday})
	require.NoError(t, err)

	w := fs.written["2025-W45"]
	assert.Equal(t, 210.0, w.Load7d)
	require.NotNil(t, w.ACWR)
	assert.Nil(t, w.Monotony, "constant week has zero variance")
	assert.Nil(t, w.Strain)
}

func TestComputeWeekACWRWithHistory(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	// 100 load units in each of the four weeks of the window.
	for week := -3; week <= 0; week++ {
		start := monday.AddDate(0, 0, 7*week)
		fs.addSession(fmt.Sprintf("w%d", week), start.Add(9*time.Hour), 8000, loadPtr(100))
	}

	agg := New(fs)
	_, err := agg.Recompute(context.Background(), []time.Time{monday})
	require.NoError(t, err)

	w := fs.written["2025-W45"]
	assert.Equal(t, 100.0, w.Load7d)
	assert.Equal(t, 100.0, w.Load28d)
	require.NotNil(t, w.ACWR)
	assert.InDelta(t, 1.0, *w.ACWR, 1e-9)
	assert.Equal(t, 8.0, w.Km, "only the current week's distance counts")
}

func TestRecomputePropagatesFourWeeks(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.addSession("s1", monday.Add(8*time.Hour), 10000, loadPtr(50))

	agg := New(fs)
	labels, err := agg.Recompute(context.Background(), []time.Time{monday.Add(8 * time.Hour)})
	require.NoError(t, err)

	// The session sits in the 28-day window of its own week and the three
	// weeks after it.
	assert.Equal(t, []string{"2025-W45", "2025-W46", "2025-W47", "2025-W48"}, labels)
	for _, label := range labels {
		assert.Contains(t, fs.written, label)
	}
	assert.Equal(t, 12.5, fs.written["2025-W48"].Load28d, "the load is still chronic three weeks later")
	assert.Equal(t, 0.0, fs.written["2025-W48"].Load7d)
}

func TestRecomputeDeduplicatesWeeks(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	agg := New(fs)

	// Two changed dates inside the same ISO week share all four targets.
	labels, err := agg.Recompute(context.Background(), []time.Time{
		monday.Add(6 * time.Hour),
		monday.AddDate(0, 0, 3),
	})
	require.NoError(t, err)
	assert.Len(t, labels, 4)
}

func TestRecomputeRejectsNegativeLoad(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.addSession("bad", monday.Add(8*time.Hour), 1000, loadPtr(-10))

	agg := New(fs)
	_, err := agg.Recompute(context.Background(), []time.Time{monday})
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "2025-W45", aerr.YearWeek)
}
