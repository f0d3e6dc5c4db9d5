package coord

import (
	"context"
	"sync"
	"time"

	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/phaser"
)

// ApprovalPhase blocks in state PENDING until Approve is called, ctx is
// cancelled, or an optional timeout elapses.
// Its stop status is CANCELLED.
type ApprovalPhase struct {
	name     string
	params   map[string]string
	timeout  time.Duration
	approved chan struct{}
	once     sync.Once
}

// NewApprovalPhase constructs an ApprovalPhase. A timeout <= 0 means "wait
// forever for Approve".
func NewApprovalPhase(name string, params map[string]string, timeout time.Duration) *ApprovalPhase {
	return &ApprovalPhase{name: name, params: params, timeout: timeout, approved: make(chan struct{})}
}

func (a *ApprovalPhase) Name() string                          { return a.name }
func (a *ApprovalPhase) RunState() lifecycle.RunState          { return lifecycle.StatePending }
func (a *ApprovalPhase) Parameters() map[string]string         { return a.params }
func (a *ApprovalPhase) StopStatus() lifecycle.TerminationStatus { return lifecycle.StatusCancelled }

// Run blocks until approved, the context is done, or the timeout elapses.
func (a *ApprovalPhase) Run(ctx context.Context) error {
	var timeoutCh <-chan time.Time
	if a.timeout > 0 {
		timer := time.NewTimer(a.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-a.approved:
		return nil
	case <-timeoutCh:
		return phaser.Terminate(lifecycle.StatusTimeout)
	case <-ctx.Done():
		return phaser.Terminate(lifecycle.StatusCancelled)
	}
}

// Approve releases a waiting Run, one-shot and idempotent.
func (a *ApprovalPhase) Approve() {
	a.once.Do(func() { close(a.approved) })
}

// Stop releases the approval event; the Phaser has already committed
// StopStatus as the termination before calling this, so Run's own (nil)
// return value is moot once it unblocks.
func (a *ApprovalPhase) Stop(context.Context) error {
	a.once.Do(func() { close(a.approved) })
	return nil
}
