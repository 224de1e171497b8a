package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pulseledger/internal/aggregate"
	"pulseledger/internal/store"
)

// AggregateReader is the slice of the store the report composer reads.
type AggregateReader interface {
	ReadAggregate(ctx context.Context, yearWeek string) (store.WeeklyAggregate, error)
	CountSessions(ctx context.Context, from, to time.Time) (int, error)
}

// ComposeWeekly builds the progress record for the ISO week containing at.
// A week with no aggregate row yet reports zeroes rather than failing.
func ComposeWeekly(ctx context.Context, r AggregateReader, at time.Time) (WeeklyProgress, error) {
	weekStart := aggregate.WeekStart(at)
	label := aggregate.WeekLabel(at)

	wp := WeeklyProgress{
		WeekLabel:     label,
		Status:        "In Progress",
		WeekStartDate: weekStart.Format(store.DateFormat),
	}

	agg, err := r.ReadAggregate(ctx, label)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// nothing aggregated for this week yet
	case err != nil:
		return WeeklyProgress{}, err
	default:
		wp.DistanceKm = agg.Km
		wp.Notes = formatLoadNotes(agg)
	}

	count, err := r.CountSessions(ctx, weekStart, weekStart.AddDate(0, 0, 7))
	if err != nil {
		return WeeklyProgress{}, err
	}
	wp.SessionsCount = count

	return wp, nil
}

func formatLoadNotes(agg store.WeeklyAggregate) string {
	notes := fmt.Sprintf("load_7d=%.0f load_28d=%.0f", agg.Load7d, agg.Load28d)
	if agg.ACWR != nil {
		notes += fmt.Sprintf(" acwr=%.2f", *agg.ACWR)
	}
	if agg.Monotony != nil {
		notes += fmt.Sprintf(" monotony=%.2f", *agg.Monotony)
	}
	if agg.Strain != nil {
		notes += fmt.Sprintf(" strain=%.0f", *agg.Strain)
	}
	return notes
}
