// Query handlers are pass-through views over the canonical store, with the
// same limit clamps the original tool surface used. They add no logic of
// their own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pulseledger/internal/pipeline"
	"pulseledger/internal/sink"
	"pulseledger/internal/store"
)

// ErrSyncInFlight is returned by a trigger while another run holds the lock.
var ErrSyncInFlight = errors.New("sync already in flight")

type Reader interface {
	RecentSessions(ctx context.Context, limit int) ([]store.Session, error)
	RecentMetrics(ctx context.Context, limit int) ([]store.DailyMetric, error)
	RecentAggregates(ctx context.Context, limit int) ([]store.WeeklyAggregate, error)
	RecentRuns(ctx context.Context, limit int) ([]store.SyncRun, error)
}

type ReportSink interface {
	UpsertWeek(ctx context.Context, wp sink.WeeklyProgress) error
}

type SyncTrigger interface {
	TriggerSync(ctx context.Context) (pipeline.Outcome, error)
}

type Handlers struct {
	reader  Reader
	sink    ReportSink
	trigger SyncTrigger
}

func NewHandlers(reader Reader, reportSink ReportSink, trigger SyncTrigger) *Handlers {
	return &Handlers{reader: reader, sink: reportSink, trigger: trigger}
}

type sessionJSON struct {
	SessionID    string   `json:"session_id"`
	TsStart      string   `json:"ts_start"`
	TsEnd        string   `json:"ts_end"`
	Sport        string   `json:"sport"`
	DistanceM    float64  `json:"distance_m"`
	DurationS    float64  `json:"duration_s"`
	Kcal         float64  `json:"kcal"`
	AvgHR        *int     `json:"avg_hr"`
	MaxHR        *int     `json:"max_hr"`
	Device       string   `json:"device"`
	TrainingLoad *float64 `json:"training_load"`
}

type metricJSON struct {
	Date       string   `json:"date"`
	RestingHR  *int     `json:"resting_hr"`
	HRVRmssd   *float64 `json:"hrv_rmssd"`
	VO2Max     *float64 `json:"vo2max"`
	WeightKg   *float64 `json:"weight_kg"`
	SleepHours *float64 `json:"sleep_hours"`
}

type aggregateJSON struct {
	YearWeek string   `json:"year_week"`
	Km       float64  `json:"km"`
	Load7d   float64  `json:"load_7d"`
	Load28d  float64  `json:"load_28d"`
	ACWR     *float64 `json:"acwr"`
	Monotony *float64 `json:"monotony"`
	Strain   *float64 `json:"strain"`
}

type runJSON struct {
	RunID string `json:"run_id"`
	RunTS string `json:"run_ts"`
	OK    bool   `json:"ok"`
	Notes string `json:"notes"`
}

func (h *Handlers) RecentSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 10, 100)
	if !ok {
		return
	}
	sessions, err := h.reader.RecentSessions(r.Context(), limit)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]sessionJSON, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionJSON{
			SessionID:    s.SessionID,
			TsStart:      s.Start.Format(time.RFC3339),
			TsEnd:        s.End.Format(time.RFC3339),
			Sport:        s.Sport,
			DistanceM:    s.DistanceM,
			DurationS:    s.DurationS,
			Kcal:         s.Kcal,
			AvgHR:        s.AvgHR,
			MaxHR:        s.MaxHR,
			Device:       s.Device,
			TrainingLoad: s.TrainingLoad,
		})
	}
	writeJSON(w, out)
}

func (h *Handlers) RecentMetrics(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 14, 60)
	if !ok {
		return
	}
	metrics, err := h.reader.RecentMetrics(r.Context(), limit)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]metricJSON, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, metricJSON{
			Date:       m.Date,
			RestingHR:  m.RestingHR,
			HRVRmssd:   m.HRVRmssd,
			VO2Max:     m.VO2Max,
			WeightKg:   m.WeightKg,
			SleepHours: m.SleepHours,
		})
	}
	writeJSON(w, out)
}

func (h *Handlers) RecentAggregates(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 8, 60)
	if !ok {
		return
	}
	aggs, err := h.reader.RecentAggregates(r.Context(), limit)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]aggregateJSON, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, aggregateJSON{
			YearWeek: a.YearWeek,
			Km:       a.Km,
			Load7d:   a.Load7d,
			Load28d:  a.Load28d,
			ACWR:     a.ACWR,
			Monotony: a.Monotony,
			Strain:   a.Strain,
		})
	}
	writeJSON(w, out)
}

func (h *Handlers) RecentRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 10, 100)
	if !ok {
		return
	}
	runs, err := h.reader.RecentRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, runJSON{
			RunID: run.RunID,
			RunTS: run.RunTS.Format(time.RFC3339),
			OK:    run.OK,
			Notes: run.Notes,
		})
	}
	writeJSON(w, out)
}

type reportRequest struct {
	WeekLabel     string   `json:"week_label"`
	Status        string   `json:"status"`
	GoalText      string   `json:"goal_text"`
	NotesText     string   `json:"notes_text"`
	ActionItems   []string `json:"action_items"`
	DistanceKm    float64  `json:"distance_km"`
	SessionsCount int      `json:"sessions_count"`
	NextFocus     string   `json:"next_focus"`
	WeekStartDate string   `json:"week_start_date"`
}

func (h *Handlers) PostReport(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		http.Error(w, "sink not configured", http.StatusServiceUnavailable)
		return
	}
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.WeekLabel == "" {
		http.Error(w, "week_label is required", http.StatusBadRequest)
		return
	}

	err := h.sink.UpsertWeek(r.Context(), sink.WeeklyProgress{
		WeekLabel:     req.WeekLabel,
		Status:        req.Status,
		Goal:          req.GoalText,
		Notes:         req.NotesText,
		ActionItems:   req.ActionItems,
		DistanceKm:    req.DistanceKm,
		SessionsCount: req.SessionsCount,
		NextFocus:     req.NextFocus,
		WeekStartDate: req.WeekStartDate,
	})
	if err != nil {
		http.Error(w, "sink write failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) PostSync(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		http.Error(w, "provider not configured", http.StatusServiceUnavailable)
		return
	}
	outcome, err := h.trigger.TriggerSync(r.Context())
	if errors.Is(err, ErrSyncInFlight) {
		http.Error(w, "sync already in flight", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"run_id":   outcome.RunID,
		"ok":       outcome.OK,
		"fetched":  outcome.Fetched,
		"skipped":  outcome.Skipped,
		"sessions": outcome.StoredSessions,
		"metrics":  outcome.StoredMetrics,
		"weeks":    outcome.WeeksRecomputed,
		"notes":    outcome.Notes,
	})
}

func limitParam(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > max {
		http.Error(w, "limit must be between 1 and "+strconv.Itoa(max), http.StatusBadRequest)
		return 0, false
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
