package coord

import (
	"context"
	"sync"
	"time"

	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/phaser"
)

// ConditionResult is what a Condition reports on each evaluation.
type ConditionResult int

const (
	ResultNone ConditionResult = iota
	ResultSatisfied
	ResultUnsatisfied
	ResultEvaluationError
)

// Condition is one observable condition a WaitingPhase waits on. Start must
// call report at least once (possibly repeatedly, e.g. on a poll interval)
// and return when ctx is done; Stop must make an in-flight Start return
// promptly.
type Condition interface {
	Start(ctx context.Context, report func(ConditionResult)) error
	Stop()
}

// WaitingPhase runs in state WAITING until every condition reports
// ResultSatisfied (continue), any condition reports ResultUnsatisfied or
// ResultEvaluationError (terminate UNSATISFIED), the optional timeout
// elapses (terminate TIMEOUT), or Stop is called.
type WaitingPhase struct {
	name       string
	params     map[string]string
	conditions []Condition
	timeout    time.Duration

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewWaitingPhase constructs a WaitingPhase. A timeout <= 0 means "wait
// forever for the conditions".
func NewWaitingPhase(name string, params map[string]string, conditions []Condition, timeout time.Duration) *WaitingPhase {
	return &WaitingPhase{
		name:       name,
		params:     params,
		conditions: conditions,
		timeout:    timeout,
		stopped:    make(chan struct{}),
	}
}

func (w *WaitingPhase) Name() string                          { return w.name }
func (w *WaitingPhase) RunState() lifecycle.RunState          { return lifecycle.StateWaiting }
func (w *WaitingPhase) Parameters() map[string]string         { return w.params }
func (w *WaitingPhase) StopStatus() lifecycle.TerminationStatus { return lifecycle.StatusCancelled }

func (w *WaitingPhase) Run(ctx context.Context) error {
	n := len(w.conditions)
	if n == 0 {
		return nil
	}

	type report struct {
		index  int
		result ConditionResult
	}
	results := make(chan report, n*4)
	innerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, c := range w.conditions {
		i, c := i, c
		go func() {
			if err := c.Start(innerCtx, func(r ConditionResult) {
				select {
				case results <- report{i, r}:
				case <-innerCtx.Done():
				}
			}); err != nil {
				select {
				case results <- report{i, ResultEvaluationError}:
				case <-innerCtx.Done():
				}
			}
		}()
	}

	var timeoutCh <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	satisfied := make(map[int]bool, n)
	for {
		select {
		case rep := <-results:
			switch rep.result {
			case ResultSatisfied:
				satisfied[rep.index] = true
				if len(satisfied) >= n {
					return nil
				}
			case ResultUnsatisfied, ResultEvaluationError:
				return phaser.Terminate(lifecycle.StatusUnsatisfied)
			}
		case <-timeoutCh:
			return phaser.Terminate(lifecycle.StatusTimeout)
		case <-ctx.Done():
			return phaser.Terminate(lifecycle.StatusCancelled)
		case <-w.stopped:
			return nil
		}
	}
}

func (w *WaitingPhase) Stop(context.Context) error {
	w.stopOnce.Do(func() {
		for _, c := range w.conditions {
			c.Stop()
		}
		close(w.stopped)
	})
	return nil
}
