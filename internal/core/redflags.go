package core

import "strings"

// FlagParseError is recorded when the oracle's answer could not be used.
const FlagParseError = "parse_error"

// RecordRedFlags appends every incoming flag not already present, keeping
// insertion order.  Matching is exact and case-sensitive after trimming.
// Existing flags are never removed or reordered.
func RecordRedFlags(existing, incoming []string) []string {
	for _, f := range incoming {
		f = strings.TrimSpace(f)
		if f == "" || contains(existing, f) {
			continue
		}
		existing = append(existing, f)
	}
	return existing
}
