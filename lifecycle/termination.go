package lifecycle

// StatusFlag is a bit in the public flag-set contract clients use to filter
// termination statuses, e.g. "all failures".
type StatusFlag uint16

const (
	FlagBeforeExecution StatusFlag = 1 << iota
	FlagUnexecuted
	FlagWaiting
	FlagDiscarded
	FlagRejected
	FlagExecuted
	FlagSuccess
	FlagNonSuccess
	FlagIncomplete
	FlagFailure
	FlagAborted
)

// TerminationStatus is the concrete reason a lifecycle ended. Each
// value carries a fixed set of StatusFlags, queried with Has.
type TerminationStatus int

const (
	StatusNone TerminationStatus = iota
	StatusUnknown
	StatusCreated
	StatusPending
	StatusQueued
	StatusCancelled
	StatusTimeout
	StatusInvalidOverlap
	StatusUnsatisfied
	StatusRunning
	StatusCompleted
	StatusStopped
	StatusInterrupted
	StatusFailed
	StatusError
)

var statusNames = map[TerminationStatus]string{
	StatusNone:           "NONE",
	StatusUnknown:        "UNKNOWN",
	StatusCreated:        "CREATED",
	StatusPending:        "PENDING",
	StatusQueued:         "QUEUED",
	StatusCancelled:      "CANCELLED",
	StatusTimeout:        "TIMEOUT",
	StatusInvalidOverlap: "INVALID_OVERLAP",
	StatusUnsatisfied:    "UNSATISFIED",
	StatusRunning:        "RUNNING",
	StatusCompleted:      "COMPLETED",
	StatusStopped:        "STOPPED",
	StatusInterrupted:    "INTERRUPTED",
	StatusFailed:         "FAILED",
	StatusError:          "ERROR",
}

// statusFlags is the public flag-set contract: which coarse predicates each
// concrete status satisfies.
var statusFlags = map[TerminationStatus]StatusFlag{
	StatusCreated:        FlagBeforeExecution | FlagUnexecuted,
	StatusPending:        FlagBeforeExecution | FlagUnexecuted | FlagWaiting,
	StatusQueued:         FlagBeforeExecution | FlagUnexecuted | FlagWaiting,
	StatusCancelled:      FlagBeforeExecution | FlagUnexecuted | FlagDiscarded | FlagRejected,
	StatusTimeout:        FlagBeforeExecution | FlagUnexecuted | FlagDiscarded | FlagRejected,
	StatusInvalidOverlap: FlagBeforeExecution | FlagUnexecuted | FlagDiscarded | FlagRejected,
	StatusUnsatisfied:    FlagBeforeExecution | FlagUnexecuted | FlagDiscarded | FlagRejected,
	StatusRunning:        FlagExecuted,
	StatusCompleted:      FlagExecuted | FlagSuccess,
	StatusStopped:        FlagExecuted | FlagNonSuccess | FlagIncomplete | FlagAborted,
	StatusInterrupted:    FlagExecuted | FlagNonSuccess | FlagIncomplete | FlagAborted,
	StatusFailed:         FlagExecuted | FlagNonSuccess | FlagFailure,
	StatusError:          FlagExecuted | FlagNonSuccess | FlagFailure,
}

func (s TerminationStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// MarshalJSON encodes TerminationStatus as its name.
func (s TerminationStatus) MarshalJSON() ([]byte, error) {
	return marshalEnumString(s.String())
}

// UnmarshalJSON decodes a TerminationStatus name back into its value.
func (s *TerminationStatus) UnmarshalJSON(data []byte) error {
	name, err := unmarshalEnumString(data)
	if err != nil {
		return err
	}
	for k, v := range statusNames {
		if v == name {
			*s = k
			return nil
		}
	}
	*s = StatusUnknown
	return nil
}

// Flags returns the StatusFlag set for s.
func (s TerminationStatus) Flags() StatusFlag {
	return statusFlags[s]
}

// Has reports whether s carries every bit in want.
func (s TerminationStatus) Has(want StatusFlag) bool {
	return s.Flags()&want == want
}

// MatchesAnyGroup reports whether s satisfies at least one flag group; a
// group is satisfied if every flag in it is set.
func (s TerminationStatus) MatchesAnyGroup(groups []StatusFlag) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if s.Has(g) {
			return true
		}
	}
	return false
}
