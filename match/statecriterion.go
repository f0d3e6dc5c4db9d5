package match

import "github.com/boshu2/jobphaser/lifecycle"

// StateCriterion matches instances by the phase names they report and/or
// termination flag groups. Warning is carried for wire-format
// compatibility with external warning-detector collaborators and is never
// consulted here.
type StateCriterion struct {
	Phases     []string              `json:"phases,omitempty"`
	FlagGroups []lifecycle.StatusFlag `json:"flag_groups,omitempty"`
	Warning    *bool                 `json:"warning,omitempty"`
}

// Matches reports whether inst's phase set intersects Phases (when
// non-empty) and its flags satisfy at least one FlagGroups entry in full
// (when non-empty). An empty StateCriterion matches everything.
func (c StateCriterion) Matches(inst Instance) bool {
	if len(c.Phases) > 0 && !containsAny(inst.Phases(), c.Phases) {
		return false
	}
	if len(c.FlagGroups) > 0 {
		flags := inst.Flags()
		matched := false
		for _, g := range c.FlagGroups {
			if flags&g == g {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containsAny(have []string, want []string) bool {
	set := make(map[string]struct{}, len(want))
	for _, w := range want {
		set[w] = struct{}{}
	}
	for _, h := range have {
		if _, ok := set[h]; ok {
			return true
		}
	}
	return false
}
