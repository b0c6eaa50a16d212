package core

import "strings"

// IsRepeat reports whether a proposed question is the same as the last one
// emitted, ignoring case and surrounding whitespace.
func IsRepeat(proposed, last string) bool {
	p := strings.TrimSpace(proposed)
	return p != "" && strings.EqualFold(p, strings.TrimSpace(last))
}
