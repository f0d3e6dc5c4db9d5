package match

import "strings"

// IDCriterion matches an instance's job_id and/or instance_id. When
// MatchBothIDs is true both fields must match (AND); otherwise
// either field matching is sufficient (OR), and JobID/InstanceID carry the
// same pattern (the "single token matches either field" case).
type IDCriterion struct {
	JobID        string   `json:"job_id"`
	InstanceID   string   `json:"instance_id"`
	MatchBothIDs bool     `json:"match_both_ids"`
	Strategy     Strategy `json:"strategy"`
}

// ParseIDPattern parses the `[job]@[instance]` pattern syntax: if '@' is
// present both sides are required and ANDed; otherwise the whole token is
// tested against either field (ORed).
func ParseIDPattern(pattern string, strategy Strategy) IDCriterion {
	if idx := strings.IndexByte(pattern, '@'); idx >= 0 {
		return IDCriterion{
			JobID:        pattern[:idx],
			InstanceID:   pattern[idx+1:],
			MatchBothIDs: true,
			Strategy:     strategy,
		}
	}
	return IDCriterion{
		JobID:        pattern,
		InstanceID:   pattern,
		MatchBothIDs: false,
		Strategy:     strategy,
	}
}

// AlwaysTrue returns an ID criterion that matches every instance, used for
// the empty/void criteria case.
func AlwaysTrue() IDCriterion {
	return IDCriterion{Strategy: StrategyAlwaysTrue}
}

// AlwaysFalse returns an ID criterion that matches no instance.
func AlwaysFalse() IDCriterion {
	return IDCriterion{Strategy: StrategyAlwaysFalse}
}

// Matches implements the ID criterion predicate against inst.
func (c IDCriterion) Matches(inst Instance) bool {
	switch c.Strategy {
	case StrategyAlwaysTrue:
		return true
	case StrategyAlwaysFalse:
		return false
	}
	jobMatches := matchString(c.Strategy, c.JobID, inst.JobID())
	instMatches := matchString(c.Strategy, c.InstanceID, inst.InstanceID())
	if c.MatchBothIDs {
		return jobMatches && instMatches
	}
	return jobMatches || instMatches
}
