package pipeline

// TruncateBytes caps a note string at maxBytes. Notes land in a ledger
// column, not a log stream, so a hard byte cap is enough.
func TruncateBytes(input string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	raw := []byte(input)
	if len(raw) <= maxBytes {
		return input
	}
	return string(raw[:maxBytes])
}
