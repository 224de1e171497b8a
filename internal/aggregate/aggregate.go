// Package aggregate recomputes the weekly training-load rollups. It reads
// committed sessions from the store and never consumes in-flight data, so a
// recompute is always derived from durable state.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"pulseledger/internal/store"
)

const (
	windowDays = 28
	weekDays   = 7
)

// Error marks an aggregation failure for one week. Committed session rows
// are unaffected; the run is marked failed and the next run recomputes the
// same window.
type Error struct {
	YearWeek string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("aggregate %s: %s", e.YearWeek, e.Reason)
}

// SessionReader is the slice of the store the aggregator needs.
type SessionReader interface {
	ReadSessions(ctx context.Context, from, to time.Time) ([]store.Session, error)
	WriteAggregate(ctx context.Context, agg store.WeeklyAggregate) error
}

type Aggregator struct {
	store SessionReader
}

func New(s SessionReader) *Aggregator {
	return &Aggregator{store: s}
}

// Recompute rebuilds every weekly aggregate whose trailing 28-day window can
// contain one of the changed session dates: the week of each date plus the
// three following ISO weeks. Returns the labels of the recomputed weeks.
func (a *Aggregator) Recompute(ctx context.Context, changed []time.Time) ([]string, error) {
	weekStarts := make(map[time.Time]struct{})
	for _, d := range changed {
		for i := 0; i < 4; i++ {
			weekStarts[WeekStart(d.AddDate(0, 0, weekDays*i))] = struct{}{}
		}
	}

	starts := make([]time.Time, 0, len(weekStarts))
	for ws := range weekStarts {
		starts = append(starts, ws)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	labels := make([]string, 0, len(starts))
	for _, ws := range starts {
		agg, err := a.computeWeek(ctx, ws)
		if err != nil {
			return labels, err
		}
		if err := a.store.WriteAggregate(ctx, agg); err != nil {
			return labels, err
		}
		labels = append(labels, agg.YearWeek)
	}
	return labels, nil
}

// computeWeek derives the rollup for the ISO week starting at weekStart
// (Monday 00:00 UTC) from the 28-day window ending on that week's Sunday.
//
// load_28d is defined as the mean of the four non-overlapping trailing 7-day
// sums (weeks W-3..W), equivalently the 28-day mean daily load scaled by 7.
func (a *Aggregator) computeWeek(ctx context.Context, weekStart time.Time) (store.WeeklyAggregate, error) {
	label := WeekLabel(weekStart)
	windowEnd := weekStart.AddDate(0, 0, weekDays)
	windowStart := windowEnd.AddDate(0, 0, -windowDays)

	sessions, err := a.store.ReadSessions(ctx, windowStart, windowEnd)
	if err != nil {
		return store.WeeklyAggregate{}, err
	}

	// Daily load series over the window. Days without sessions stay 0;
	// that zero is load-bearing for monotony, not missing data.
	var daily [windowDays]float64
	var km float64
	for _, sess := range sessions {
		day := int(dateOnly(sess.Start).Sub(windowStart).Hours() / 24)
		if day < 0 || day >= windowDays {
			continue
		}
		if sess.TrainingLoad != nil {
			if *sess.TrainingLoad < 0 {
				return store.WeeklyAggregate{}, &Error{YearWeek: label, Reason: fmt.Sprintf("session %s has negative training load", sess.SessionID)}
			}
			daily[day] += *sess.TrainingLoad
		}
		if !sess.Start.Before(weekStart) {
			km += sess.DistanceM / 1000
		}
	}

	agg := store.WeeklyAggregate{YearWeek: label, Km: km}

	weekSums := make([]float64, 0, windowDays/weekDays)
	for i := 0; i < windowDays; i += weekDays {
		var sum float64
		for _, v := range daily[i : i+weekDays] {
			sum += v
		}
		weekSums = append(weekSums, sum)
	}
	agg.Load7d = weekSums[len(weekSums)-1]

	var chronic float64
	for _, v := range weekSums {
		chronic += v
	}
	agg.Load28d = chronic / float64(len(weekSums))

	if agg.Load28d > 0 {
		acwr := agg.Load7d / agg.Load28d
		agg.ACWR = &acwr
	}

	if monotony, ok := weekMonotony(daily[windowDays-weekDays:]); ok {
		strain := agg.Load7d * monotony
		agg.Monotony = &monotony
		agg.Strain = &strain
	}

	return agg, nil
}

// weekMonotony is mean/population-σ of the 7 daily loads. A zero σ (constant
// or all-zero week) yields no value rather than a division by zero.
func weekMonotony(daily []float64) (float64, bool) {
	var sum float64
	for _, v := range daily {
		sum += v
	}
	mean := sum / float64(len(daily))

	var variance float64
	for _, v := range daily {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(daily))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0, false
	}
	return mean / std, true
}

func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
