package util

// TruncationMarker is appended (or prepended) where text was cut.
const TruncationMarker = "\n...(truncated)..."

// TruncateHead keeps the first max bytes of s and marks the cut.
func TruncateHead(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + TruncationMarker
}

// TruncateTail keeps the last max bytes of s and marks the cut.
func TruncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:] + TruncationMarker
}
