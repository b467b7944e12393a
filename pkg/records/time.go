package records

import "time"

// timeLayout is the fixed-width UTC layout used for every timestamp column.
// Fixed width keeps lexicographic order identical to chronological order,
// which the keyset pagination queries depend on.
const timeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the canonical column layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a canonical column timestamp. Zero time on failure.
func ParseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Tolerate historical rows written with full RFC3339 precision.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

/// SortAt returns the canonical sort key for a record: the earlier of the
// client-declared createdAt and the server-observed indexedAt. Backdated
// createdAt values cannot push a record forward in the feed, and clock skew
// cannot push it past "now".
func SortAt(createdAt, indexedAt time.Time) time.Time {
	if createdAt.IsZero() {
		return indexedAt.UTC()
	}
	if createdAt.Before(indexedAt) {
		return createdAt.UTC()
	}
	return indexedAt.UTC()
}
