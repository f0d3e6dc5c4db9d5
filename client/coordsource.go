package client

import (
	"context"
	"fmt"

	"github.com/boshu2/jobphaser/coord"
	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/match"
)

// ActiveRuns implements coord.ActiveRunsSource: every coordination phase's
// cross-process query resolves to a /jobs read against all discovered API
// servers. Per-server SOCKET errors are tolerated — a server that went away
// between discovery and query simply contributes no runs — because the
// caller holds the host lock, so the servers that did answer are a
// consistent view of the instances that still exist. Any other per-server
// error fails the whole query.
func (c *JobsClient) ActiveRuns(ctx context.Context) ([]coord.ActiveRun, error) {
	runs, srvErrs := c.ReadInstances(ctx, nil)
	for _, e := range srvErrs {
		if e.Kind != ErrorSocket {
			return nil, fmt.Errorf("client: active runs query: server %s: %s", e.ServerID, e.Detail)
		}
		log.Debug("active runs query skipped unreachable server", "server_id", e.ServerID, "detail", e.Detail)
	}

	out := make([]coord.ActiveRun, 0, len(runs))
	for _, jr := range runs {
		ar := coord.ActiveRun{
			Metadata:  jr.Metadata,
			Phases:    jr.Run.Phases,
			Lifecycle: jr.Run.Lifecycle,
		}
		if curr := jr.Run.Lifecycle.Current(); curr != nil {
			ar.CurrentPhase = curr.PhaseName
			ar.CurrentRunState = curr.RunState
		}
		out = append(out, ar)
	}
	return out, nil
}

// SignalDispatch implements coord.DispatchSignaler: it addresses the
// /jobs/_signal/dispatch request to exactly the target instance, wherever
// its API server lives.
func (c *JobsClient) SignalDispatch(ctx context.Context, target identity.Metadata) (waiterFound, executed bool, err error) {
	criteria := match.Criteria{ID: []match.IDCriterion{{
		JobID:        target.JobID,
		InstanceID:   target.InstanceID,
		MatchBothIDs: true,
		Strategy:     match.StrategyExact,
	}}}
	results, srvErrs := c.SignalDispatchJobs(ctx, criteria)
	for _, r := range results {
		if r.WaiterFound {
			return r.WaiterFound, r.Executed, nil
		}
	}
	for _, e := range srvErrs {
		if e.Kind != ErrorSocket {
			return false, false, fmt.Errorf("client: signal dispatch: server %s: %s", e.ServerID, e.Detail)
		}
	}
	return false, false, nil
}

var (
	_ coord.ActiveRunsSource = (*JobsClient)(nil)
	_ coord.DispatchSignaler = (*JobsClient)(nil)
)
