package repository

import "strings"

// DefaultInterval is used when no interval has been chosen yet.
const DefaultInterval = "30min"

var validIntervals = map[string]struct{}{
	"1min": {}, "5min": {}, "15min": {}, "30min": {}, "45min": {},
	"1h": {}, "2h": {}, "4h": {}, "8h": {},
	"1day": {}, "1week": {}, "1month": {},
}

// IsValidInterval returns true if s is an interval the indicator provider accepts.
func IsValidInterval(s string) bool {
	_, ok := validIntervals[s]
	return ok
}

// NormalizeInterval trims s and falls back to DefaultInterval when it is not valid.
func NormalizeInterval(s string) string {
	s = strings.TrimSpace(s)
	if IsValidInterval(s) {
		return s
	}
	return DefaultInterval
}

// SignalPath is the record store path of a signal.
func SignalPath(id string) string {
	return "signals/" + id
}

// SignalsRoot is the parent path of every signal document.
const SignalsRoot = "signals"
