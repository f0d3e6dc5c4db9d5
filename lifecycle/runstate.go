package lifecycle

// RunState coarsely classifies what a phase is doing.
type RunState int

const (
	StateNone RunState = iota
	StateUnknown
	StateCreated
	StatePending
	StateWaiting
	StateEvaluating
	StateInQueue
	StateExecuting
	StateEnded
)

var runStateNames = map[RunState]string{
	StateNone:       "NONE",
	StateUnknown:    "UNKNOWN",
	StateCreated:    "CREATED",
	StatePending:    "PENDING",
	StateWaiting:    "WAITING",
	StateEvaluating: "EVALUATING",
	StateInQueue:    "IN_QUEUE",
	StateExecuting:  "EXECUTING",
	StateEnded:      "ENDED",
}

func (s RunState) String() string {
	if n, ok := runStateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// MarshalJSON encodes RunState as its name, so wire payloads are readable by
// non-Go listeners.
func (s RunState) MarshalJSON() ([]byte, error) {
	return marshalEnumString(s.String())
}

// UnmarshalJSON decodes a RunState name back into its value.
func (s *RunState) UnmarshalJSON(data []byte) error {
	name, err := unmarshalEnumString(data)
	if err != nil {
		return err
	}
	for k, v := range runStateNames {
		if v == name {
			*s = k
			return nil
		}
	}
	*s = StateUnknown
	return nil
}

// IsExecuted reports the coarse predicate "is executed": some run in
// the state is EXECUTING.
func (s RunState) IsExecuted() bool { return s == StateExecuting }

// IsWaiting reports whether the state is one an external release can
// unblock (PENDING, WAITING, IN_QUEUE) — the check /jobs/release/waiting
// performs before signalling an instance.
func (s RunState) IsWaiting() bool {
	return s == StatePending || s == StateWaiting || s == StateInQueue
}

// ParseRunState resolves a state name back to its value, for callers that
// receive state names over the wire outside a JSON document.
func ParseRunState(name string) (RunState, bool) {
	for k, v := range runStateNames {
		if v == name {
			return k, true
		}
	}
	return StateUnknown, false
}
