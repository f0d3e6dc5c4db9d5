package coord

import (
	"context"

	"github.com/boshu2/jobphaser/hostlock"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
	"github.com/boshu2/jobphaser/phaser"
)

// DependencyPhase runs in state EVALUATING and terminates with UNSATISFIED
// unless at least one currently active instance (queried host-wide, under
// the host lock) satisfies its dependency criteria.
type DependencyPhase struct {
	name            string
	dependencyMatch match.Criteria
	source          ActiveRunsSource
	lock            *hostlock.Lock
}

// NewDependencyPhase constructs a DependencyPhase.
func NewDependencyPhase(name string, dependencyMatch match.Criteria, source ActiveRunsSource, lock *hostlock.Lock) *DependencyPhase {
	return &DependencyPhase{name: name, dependencyMatch: dependencyMatch, source: source, lock: lock}
}

func (d *DependencyPhase) Name() string                 { return d.name }
func (d *DependencyPhase) RunState() lifecycle.RunState { return lifecycle.StateEvaluating }

func (d *DependencyPhase) Parameters() map[string]string {
	return map[string]string{"coord": "dependency"}
}

func (d *DependencyPhase) StopStatus() lifecycle.TerminationStatus { return lifecycle.StatusCancelled }

func (d *DependencyPhase) Stop(context.Context) error { return nil }

func (d *DependencyPhase) Run(ctx context.Context) error {
	var satisfied bool
	err := d.lock.Do(ctx, func() error {
		runs, err := d.source.ActiveRuns(ctx)
		if err != nil {
			return err
		}
		for _, run := range runs {
			if d.dependencyMatch.Matches(activeRunInstance{run}) {
				satisfied = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !satisfied {
		return phaser.Terminate(lifecycle.StatusUnsatisfied)
	}
	return nil
}
