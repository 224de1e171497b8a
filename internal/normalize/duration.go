package normalize

import (
	"regexp"
	"strconv"
)

// Polar encodes durations as ISO 8601, e.g. "PT1H5M12S" or "PT30.5S", with
// an optional day component.
var durationRe = regexp.MustCompile(
	`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`,
)

// ParseISODuration converts an ISO 8601 duration string to seconds.
func ParseISODuration(s string) (float64, bool) {
	if s == "" || s == "P" || s == "PT" {
		return 0, false
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	var total float64
	if m[1] != "" {
		days, _ := strconv.Atoi(m[1])
		total += float64(days) * 86400
	}
	if m[2] != "" {
		hours, _ := strconv.Atoi(m[2])
		total += float64(hours) * 3600
	}
	if m[3] != "" {
		minutes, _ := strconv.Atoi(m[3])
		total += float64(minutes) * 60
	}
	if m[4] != "" {
		seconds, _ := strconv.ParseFloat(m[4], 64)
		total += seconds
	}
	return total, true
}
