// Package policy evaluates the daily access window that gates start
// operations. Evaluation is a pure function of an explicit wall-clock
// parameter so that window boundaries are deterministic under test and
// never depend on a cached decision.
package policy

import (
	"fmt"
	"time"
)

// AccessWindow is a half-open daily interval [StartHour, EndHour) in
// whole hours. StartHour > EndHour means the window wraps midnight
// (e.g. 22 -> 02). StartHour == EndHour is the empty window.
type AccessWindow struct {
	StartHour int
	EndHour   int
}

// Contains reports whether now falls inside the window. Only start
// transitions are ever gated by this; stop, delete, create and status
// queries are not.
func (w AccessWindow) Contains(now time.Time) bool {
	h := now.Hour()
	switch {
	case w.StartHour == w.EndHour:
		return false
	case w.StartHour < w.EndHour:
		return h >= w.StartHour && h < w.EndHour
	default:
		// Wraps midnight.
		return h >= w.StartHour || h < w.EndHour
	}
}

func (w AccessWindow) String() string {
	return fmt.Sprintf("%02d:00-%02d:00", w.StartHour, w.EndHour)
}
