package coord

import (
	"context"

	"github.com/boshu2/jobphaser/hostlock"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/phaser"
)

// NoOverlapPhase runs in state EVALUATING and terminates with
// INVALID_OVERLAP if any other currently active instance declared the same
// no_overlap_id on a phase whose protection window (that instance's declared
// phases from that phase through until_phase, or through the phase
// immediately following it) contains that instance's current phase. The
// check runs under the shared host lock so the inspect-then-decide is atomic
// across processes.
type NoOverlapPhase struct {
	name   string
	params map[string]string
	source ActiveRunsSource
	lock   *hostlock.Lock
}

// NewNoOverlapPhase constructs a NoOverlapPhase. untilPhase may be empty, in
// which case the window ends at the phase immediately following the
// matching one in the other instance's declared phase list. If the until
// phase is not declared after the matching one, the window runs to the end
// of that list.
func NewNoOverlapPhase(name, noOverlapID, untilPhase string, source ActiveRunsSource, lock *hostlock.Lock) *NoOverlapPhase {
	params := map[string]string{"no_overlap_id": noOverlapID}
	if untilPhase != "" {
		params["until_phase"] = untilPhase
	}
	return &NoOverlapPhase{name: name, params: params, source: source, lock: lock}
}

func (n *NoOverlapPhase) Name() string                          { return n.name }
func (n *NoOverlapPhase) RunState() lifecycle.RunState          { return lifecycle.StateEvaluating }
func (n *NoOverlapPhase) Parameters() map[string]string         { return n.params }
func (n *NoOverlapPhase) StopStatus() lifecycle.TerminationStatus { return lifecycle.StatusCancelled }

// Stop is a no-op: the evaluation in Run is a single bounded host-locked
// query, not something that blocks waiting for an external event.
func (n *NoOverlapPhase) Stop(context.Context) error { return nil }

func (n *NoOverlapPhase) Run(ctx context.Context) error {
	noOverlapID := n.params["no_overlap_id"]
	untilParam := n.params["until_phase"]

	var overlap bool
	err := n.lock.Do(ctx, func() error {
		runs, err := n.source.ActiveRuns(ctx)
		if err != nil {
			return err
		}
		for _, run := range runs {
			thatPhase, idx, ok := findPhaseWithParam(run.Phases, "no_overlap_id", noOverlapID)
			if !ok {
				continue
			}
			until := untilParam
			if until == "" {
				if idx+1 < len(run.Phases) {
					until = run.Phases[idx+1].Name
				} else {
					until = thatPhase.Name
				}
			}
			for _, p := range run.Phases[idx:] {
				if p.Name == run.CurrentPhase {
					overlap = true
					return nil
				}
				if p.Name == until {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if overlap {
		return phaser.Terminate(lifecycle.StatusInvalidOverlap)
	}
	return nil
}
