package match

import (
	"time"

	"github.com/boshu2/jobphaser/lifecycle"
)

// IntervalCriterion matches instances by the first timestamp at which
// RunState was entered. From/To are inclusive-from,
// IncludeTo-controlled-to bounds; a nil bound is unconstrained.
type IntervalCriterion struct {
	RunState  lifecycle.RunState `json:"run_state"`
	From      *time.Time         `json:"from,omitempty"`
	To        *time.Time         `json:"to,omitempty"`
	IncludeTo bool               `json:"include_to"`
}

// Matches reports whether inst entered RunState within [From, To] (or
// [From, To) if !IncludeTo).
func (c IntervalCriterion) Matches(inst Instance) bool {
	t, ok := inst.StateEnteredAt(c.RunState)
	if !ok {
		return false
	}
	if c.From != nil && t.Before(*c.From) {
		return false
	}
	if c.To != nil {
		if c.IncludeTo {
			if t.After(*c.To) {
				return false
			}
		} else if !t.Before(*c.To) {
			return false
		}
	}
	return true
}
