package match

import "encoding/json"

// Strategy selects how a single ID field is compared against a pattern.
type Strategy int

const (
	StrategyExact Strategy = iota
	StrategyFnMatch
	StrategyPartial
	StrategyAlwaysTrue
	StrategyAlwaysFalse
)

var strategyNames = map[Strategy]string{
	StrategyExact:       "EXACT",
	StrategyFnMatch:      "FN_MATCH",
	StrategyPartial:      "PARTIAL",
	StrategyAlwaysTrue:   "ALWAYS_TRUE",
	StrategyAlwaysFalse:  "ALWAYS_FALSE",
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return "EXACT"
}

func (s Strategy) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Strategy) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for k, v := range strategyNames {
		if v == name {
			*s = k
			return nil
		}
	}
	*s = StrategyExact
	return nil
}

// matchString applies strategy to compare value against pattern.
func matchString(strategy Strategy, pattern, value string) bool {
	switch strategy {
	case StrategyAlwaysTrue:
		return true
	case StrategyAlwaysFalse:
		return false
	case StrategyFnMatch:
		return fnMatch(pattern, value)
	case StrategyPartial:
		return partialMatch(pattern, value)
	default:
		return pattern == value
	}
}
