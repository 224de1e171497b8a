// Package normalize maps loosely-typed provider records onto the canonical
// store types. It is pure: no I/O, no clock, one record in, one entity (or
// an error naming the bad field) out.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulseledger/internal/store"
)

// Error marks a single malformed record. The caller skips the record and
// keeps the batch going.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize: field %q: %s", e.Field, e.Reason)
}

// SessionResult carries the canonical session plus the raw key the training
// load was taken from. The source key is surfaced in logs only.
type SessionResult struct {
	Session    store.Session
	LoadSource string
}

// Accepted provider timestamp layouts. Polar emits local timestamps without
// a zone designator; those are interpreted as UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Session normalizes one raw exercise record.
func Session(raw map[string]any) (SessionResult, error) {
	if err := validateShape(sessionSchema, raw); err != nil {
		return SessionResult{}, err
	}

	id := sessionID(raw)
	if id == "" {
		return SessionResult{}, &Error{Field: "session_id", Reason: "no id field present"}
	}

	startRaw, _ := getString(raw, "start_time")
	start, ok := parseTime(startRaw)
	if !ok {
		return SessionResult{}, &Error{Field: "ts_start", Reason: fmt.Sprintf("unparseable timestamp %q", startRaw)}
	}

	var durationS float64
	if d, present := getString(raw, "duration"); present {
		secs, ok := ParseISODuration(d)
		if !ok {
			return SessionResult{}, &Error{Field: "duration_s", Reason: fmt.Sprintf("unparseable duration %q", d)}
		}
		durationS = secs
	}

	// End time comes from the payload when supplied, otherwise it is
	// derived from start + duration.
	end := start.Add(time.Duration(durationS * float64(time.Second)))
	if endRaw, present := getString(raw, "end_time"); present {
		parsed, ok := parseTime(endRaw)
		if !ok {
			return SessionResult{}, &Error{Field: "ts_end", Reason: fmt.Sprintf("unparseable timestamp %q", endRaw)}
		}
		end = parsed
	}
	if end.Before(start) {
		return SessionResult{}, &Error{Field: "ts_end", Reason: "ends before it starts"}
	}

	distance := getFloat(raw, "distance")
	if distance < 0 {
		return SessionResult{}, &Error{Field: "distance_m", Reason: "negative"}
	}
	kcal := getFloat(raw, "calories")
	if kcal < 0 {
		return SessionResult{}, &Error{Field: "kcal", Reason: "negative"}
	}

	avgHR, maxHR, err := heartRates(raw)
	if err != nil {
		return SessionResult{}, err
	}

	load, loadSource, err := trainingLoad(raw)
	if err != nil {
		return SessionResult{}, err
	}

	sport, _ := getString(raw, "sport")
	if sport == "" {
		sport = "UNKNOWN"
	}
	device, _ := getString(raw, "device")
	if device == "" {
		device = "Polar"
	}

	return SessionResult{
		Session: store.Session{
			SessionID:    id,
			Start:        start,
			End:          end,
			Sport:        sport,
			DistanceM:    distance,
			DurationS:    durationS,
			Kcal:         kcal,
			AvgHR:        avgHR,
			MaxHR:        maxHR,
			Device:       device,
			TrainingLoad: load,
		},
		LoadSource: loadSource,
	}, nil
}

// Metric normalizes one raw physical-information record into a daily row.
func Metric(raw map[string]any) (store.DailyMetric, error) {
	if err := validateShape(metricSchema, raw); err != nil {
		return store.DailyMetric{}, err
	}

	createdRaw, _ := getString(raw, "created")
	date, ok := dateOf(createdRaw)
	if !ok {
		return store.DailyMetric{}, &Error{Field: "date", Reason: fmt.Sprintf("unparseable timestamp %q", createdRaw)}
	}

	m := store.DailyMetric{Date: date}
	if v, present := floatField(raw, "resting-heart-rate"); present {
		if v < 0 {
			return store.DailyMetric{}, &Error{Field: "resting_hr", Reason: "negative"}
		}
		hr := int(v)
		m.RestingHR = &hr
	}
	if v, present := floatField(raw, "vo2-max"); present {
		if v < 0 {
			return store.DailyMetric{}, &Error{Field: "vo2max", Reason: "negative"}
		}
		m.VO2Max = &v
	}
	if v, present := floatField(raw, "weight"); present {
		if v <= 0 {
			return store.DailyMetric{}, &Error{Field: "weight_kg", Reason: "not positive"}
		}
		m.WeightKg = &v
	}
	if v, present := floatField(raw, "sleep-hours"); present {
		if v < 0 || v > 24 {
			return store.DailyMetric{}, &Error{Field: "sleep_hours", Reason: "outside 0-24"}
		}
		m.SleepHours = &v
	}
	return m, nil
}

// IsFitnessTest reports whether an exercise record is a Polar fitness or
// orthostatic test. Those carry physiology, not training, and land in the
// daily metrics table.
func IsFitnessTest(raw map[string]any) bool {
	testType, _ := getString(raw, "test_type")
	if nested, ok := raw["test"].(map[string]any); ok {
		if t, present := getString(nested, "type"); present {
			testType = t
		}
	}
	switch strings.ToUpper(testType) {
	case "FITNESS_TEST", "ORTHOSTATIC_TEST":
		return true
	}
	return false
}

// FitnessTest extracts the daily metric embedded in a test record.
func FitnessTest(raw map[string]any) (store.DailyMetric, error) {
	startRaw, _ := getString(raw, "start_time")
	date, ok := dateOf(startRaw)
	if !ok {
		return store.DailyMetric{}, &Error{Field: "date", Reason: fmt.Sprintf("unparseable timestamp %q", startRaw)}
	}

	m := store.DailyMetric{Date: date}
	if hr, hrOK := raw["heart_rate"].(map[string]any); hrOK {
		if v, present := floatField(hr, "average"); present {
			if v < 0 {
				return store.DailyMetric{}, &Error{Field: "resting_hr", Reason: "negative"}
			}
			rhr := int(v)
			m.RestingHR = &rhr
		}
	}
	if hrv, hrvOK := raw["heart_rate_variability"].(map[string]any); hrvOK {
		if v, present := floatField(hrv, "rmssd"); present {
			if v < 0 {
				return store.DailyMetric{}, &Error{Field: "hrv_rmssd", Reason: "negative"}
			}
			m.HRVRmssd = &v
		}
	}
	if v, present := floatField(raw, "vo2max"); present {
		if v < 0 {
			return store.DailyMetric{}, &Error{Field: "vo2max", Reason: "negative"}
		}
		m.VO2Max = &v
	}
	return m, nil
}

// sessionID coalesces the provider's id variants in fixed precedence order.
func sessionID(raw map[string]any) string {
	for _, key := range []string{"id", "list-item-id", "transaction-id"} {
		if s := stringify(raw[key]); s != "" {
			return s
		}
	}
	if url, ok := getString(raw, "url"); ok && url != "" {
		parts := strings.Split(strings.TrimRight(url, "/"), "/")
		return parts[len(parts)-1]
	}
	return ""
}

// trainingLoad applies the fixed precedence order: the flat key wins over
// the nested pro-load structure.
func trainingLoad(raw map[string]any) (*float64, string, error) {
	if v, present := floatField(raw, "training_load"); present {
		if v < 0 {
			return nil, "", &Error{Field: "training_load", Reason: "negative"}
		}
		return &v, "training_load", nil
	}
	if pro, ok := raw["training_load_pro"].(map[string]any); ok {
		if v, present := floatField(pro, "cardio-load"); present {
			if v < 0 {
				return nil, "", &Error{Field: "training_load", Reason: "negative"}
			}
			return &v, "training_load_pro.cardio-load", nil
		}
	}
	return nil, "", nil
}

func heartRates(raw map[string]any) (avg, max *int, err error) {
	hr, ok := raw["heart_rate"].(map[string]any)
	if !ok {
		return nil, nil, nil
	}
	if v, present := floatField(hr, "average"); present {
		if v < 0 {
			return nil, nil, &Error{Field: "avg_hr", Reason: "negative"}
		}
		a := int(v)
		avg = &a
	}
	// Both spellings appear in the wild.
	for _, key := range []string{"maximum", "max"} {
		if v, present := floatField(hr, key); present {
			if v < 0 {
				return nil, nil, &Error{Field: "max_hr", Reason: "negative"}
			}
			m := int(v)
			max = &m
			break
		}
	}
	if avg != nil && max != nil && *avg > *max {
		return nil, nil, &Error{Field: "avg_hr", Reason: "exceeds max_hr"}
	}
	return avg, max, nil
}

func dateOf(ts string) (string, bool) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(ts, "Z"))
	if trimmed == "" {
		return "", false
	}
	if t, ok := parseTime(trimmed); ok {
		return t.Format(store.DateFormat), true
	}
	if len(trimmed) >= 10 {
		if _, err := time.Parse(store.DateFormat, trimmed[:10]); err == nil {
			return trimmed[:10], true
		}
	}
	return "", false
}

func getString(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func floatField(raw map[string]any, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func getFloat(raw map[string]any, key string) float64 {
	v, _ := floatField(raw, key)
	return v
}
