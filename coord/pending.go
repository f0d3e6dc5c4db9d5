package coord

import (
	"context"
	"sync"

	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/phaser"
)

// PendingPhase is a pending-group rendezvous, a named analog to
// ApprovalPhase: it blocks in state PENDING, stamped with a pending_group
// system parameter, until every member of the named group is released
// together via the /jobs/release/pending API resource.
type PendingPhase struct {
	name         string
	pendingGroup string
	released     chan struct{}
	once         sync.Once
}

// NewPendingPhase constructs a PendingPhase belonging to pendingGroup.
func NewPendingPhase(name, pendingGroup string) *PendingPhase {
	return &PendingPhase{name: name, pendingGroup: pendingGroup, released: make(chan struct{})}
}

func (p *PendingPhase) Name() string                 { return p.name }
func (p *PendingPhase) RunState() lifecycle.RunState { return lifecycle.StatePending }
func (p *PendingPhase) PendingGroup() string         { return p.pendingGroup }

func (p *PendingPhase) Parameters() map[string]string {
	return map[string]string{"coord": "pending_group", "pending_group": p.pendingGroup}
}

func (p *PendingPhase) StopStatus() lifecycle.TerminationStatus { return lifecycle.StatusCancelled }

func (p *PendingPhase) Run(ctx context.Context) error {
	select {
	case <-p.released:
		return nil
	case <-ctx.Done():
		return phaser.Terminate(lifecycle.StatusCancelled)
	}
}

// Release frees every instance waiting in this pending group; one-shot and
// idempotent.
func (p *PendingPhase) Release() {
	p.once.Do(func() { close(p.released) })
}

func (p *PendingPhase) Stop(context.Context) error {
	p.once.Do(func() { close(p.released) })
	return nil
}
