// Package coord implements the coordination phases that synchronise an
// instance with other instances, possibly in other processes:
// ApprovalPhase, NoOverlapPhase, DependencyPhase, WaitingPhase, the
// ExecutionQueue, and the PendingPhase. Each is a phaser.Phase.
package coord

import (
	"context"

	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/lifecycle"
)

// ActiveRun is what a coordination phase needs to know about another
// instance discovered via the cross-process query every coordination phase
// performs under the host lock.
type ActiveRun struct {
	Metadata        identity.Metadata
	CurrentPhase    string
	CurrentRunState lifecycle.RunState
	Phases          []lifecycle.PhaseMetadata
	Lifecycle       lifecycle.Lifecycle
}

// ActiveRunsSource is the narrow view of "the Client" a coordination phase
// needs. A concrete implementation (wired in the top-level binary) fans a
// query out to every discovered API server, the way client.JobsClient
// does — coord only depends on this interface, not on the client
// package, to avoid an import cycle (client will in turn want to satisfy
// coord's ExecutionQueue collaborator interfaces).
type ActiveRunsSource interface {
	ActiveRuns(ctx context.Context) ([]ActiveRun, error)
}

// DispatchSignaler sends the /jobs/_signal/dispatch request for a specific
// instance, wherever its API server lives.
type DispatchSignaler interface {
	SignalDispatch(ctx context.Context, target identity.Metadata) (waiterFound, executed bool, err error)
}

func isSuperset(have, want map[string]string) bool {
	for k, v := range want {
		if got, ok := have[k]; !ok || got != v {
			return false
		}
	}
	return true
}
