package coord

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/boshu2/jobphaser/dgram"
	"github.com/boshu2/jobphaser/event"
	"github.com/boshu2/jobphaser/hostlock"
	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/internal/logging"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
	"github.com/boshu2/jobphaser/phaser"
)

var execQueueLog = logging.New("coord.executionqueue")

type waiterState int

const (
	waiterInQueue waiterState = iota
	waiterDispatched
	waiterCancelled
)

type waiterEntry struct {
	meta  identity.Metadata
	state waiterState
}

// ExecutionQueueConfig ties one process's view of an ExecutionQueue to its
// cross-process collaborators: Source and
// Lock give it the host-wide view and the atomic inspect-then-decide needed
// for _dispatch_next; Signaler lets it deliver /jobs/_signal/dispatch to
// whichever process owns the instance being dispatched, local or remote.
type ExecutionQueueConfig struct {
	ExecutionGroup string
	MaxExecutions  int
	Source         ActiveRunsSource
	Lock           *hostlock.Lock
	Signaler       DispatchSignaler
	ListenerDir    string
}

// ExecutionQueue is a host-wide concurrency limiter shared by every instance
// declaring the same execution_group. One ExecutionQueue
// value is constructed once per (execution_group, process) and handed a
// fresh NewPhase for each instance that waits on it; instances in other
// processes coordinate through the same named group via the host lock, the
// phase-transition channel, and DispatchSignaler.
type ExecutionQueue struct {
	cfg ExecutionQueueConfig

	mu              sync.Mutex
	cond            *sync.Cond
	schedulerActive bool
	receiverOnce    sync.Once
	receiver        *event.Receiver
	waiters         map[string]*waiterEntry
}

// NewExecutionQueue constructs an ExecutionQueue. MaxExecutions <= 0 means
// no instance in the group can ever execute (a misconfiguration the caller
// should avoid, not one this constructor rejects; max_executions
// validation belongs to the declaring job).
func NewExecutionQueue(cfg ExecutionQueueConfig) *ExecutionQueue {
	q := &ExecutionQueue{cfg: cfg, waiters: make(map[string]*waiterEntry)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Params is the system-parameter stamp every phase bound to this queue
// carries, used by _dispatch_next to recognise the group's own phases on
// other instances.
func (q *ExecutionQueue) Params() map[string]string {
	return map[string]string{
		"coord":           "execution_queue",
		"execution_group": q.cfg.ExecutionGroup,
		"max_executions":  strconv.Itoa(q.cfg.MaxExecutions),
	}
}

// NewPhase returns a Phase, bound to meta, that waits on this queue.
func (q *ExecutionQueue) NewPhase(name string, meta identity.Metadata) *ExecutionQueuePhase {
	return &ExecutionQueuePhase{queue: q, name: name, meta: meta}
}

// SignalDispatch implements the local effect of /jobs/_signal/dispatch for
// an instance this process owns: transitions its waiter from IN_QUEUE to
// DISPATCHED (if present and still queued) and wakes any goroutine blocked
// in wait() so it can re-check its state.
func (q *ExecutionQueue) SignalDispatch(instanceID string) (waiterFound, executed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.waiters[instanceID]
	if !ok {
		return false, false
	}
	if entry.state != waiterInQueue {
		return true, false
	}
	entry.state = waiterDispatched
	q.cond.Broadcast()
	return true, true
}

func (q *ExecutionQueue) cancel(instanceID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.waiters[instanceID]; ok && entry.state == waiterInQueue {
		entry.state = waiterCancelled
	}
	q.cond.Broadcast()
}

// ensureReceiverLocked opens, once per queue lifetime, a transition receiver
// filtered to this queue's own phases: any ENDED transition among them means
// an execution slot may have freed up, so every local waiter is woken to
// retry becoming the scheduler. Caller must hold mu.
func (q *ExecutionQueue) ensureReceiverLocked() {
	q.receiverOnce.Do(func() {
		if q.cfg.ListenerDir == "" {
			return
		}
		path := dgram.SocketPath(q.cfg.ListenerDir, event.ExtTransition)
		filter := match.Criteria{Metadata: &match.MetadataCriteria{ParameterSets: []map[string]string{q.Params()}}}
		recv, err := event.NewTransitionReceiver(path, filter, func(ev event.TransitionEvent) {
			if ev.Event.NewPhase.RunState != lifecycle.StateEnded {
				return
			}
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		if err != nil {
			execQueueLog.Warn("failed to open execution queue transition receiver", "execution_group", q.cfg.ExecutionGroup, "err", err)
			return
		}
		q.receiver = recv
	})
}

// wait registers meta as a waiter and blocks until it is dispatched,
// cancelled, or ctx is done, electing itself scheduler whenever no other
// goroutine currently holds that role.
func (q *ExecutionQueue) wait(ctx context.Context, meta identity.Metadata) error {
	entry := &waiterEntry{meta: meta, state: waiterInQueue}

	q.mu.Lock()
	q.waiters[meta.InstanceID] = entry
	q.ensureReceiverLocked()
	defer q.mu.Unlock()

	ctxDone := make(chan struct{})
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-ctxDone:
			}
		}()
		defer close(ctxDone)
	}

	for entry.state == waiterInQueue {
		if !q.schedulerActive {
			q.schedulerActive = true
			q.mu.Unlock()
			if err := q.cfg.Lock.Do(ctx, func() error { return q.dispatchNext(ctx) }); err != nil {
				execQueueLog.Warn("execution queue dispatch round failed", "execution_group", q.cfg.ExecutionGroup, "err", err)
			}
			q.mu.Lock()
			q.schedulerActive = false
			q.cond.Broadcast()
			if entry.state != waiterInQueue {
				break
			}
		}
		if ctx.Err() != nil {
			entry.state = waiterCancelled
			break
		}
		q.cond.Wait()
	}

	switch entry.state {
	case waiterDispatched:
		return nil
	case waiterCancelled:
		return phaser.Terminate(lifecycle.StatusCancelled)
	default:
		return nil
	}
}

// dispatchNext implements _dispatch_next: under the
// host lock (already held by the caller), read every active run bearing
// this queue's parameter stamp, and signal dispatch to the earliest-created
// IN_QUEUE candidates up to the number of free execution slots.
func (q *ExecutionQueue) dispatchNext(ctx context.Context) error {
	runs, err := q.cfg.Source.ActiveRuns(ctx)
	if err != nil {
		return err
	}

	wanted := q.Params()
	type candidate struct {
		meta      identity.Metadata
		createdAt int64
	}
	var queued []candidate
	executing := 0
	for _, r := range runs {
		if !isSuperset(r.Metadata.Combined(), wanted) {
			continue
		}
		switch r.CurrentRunState {
		case lifecycle.StateInQueue:
			createdAt := int64(0)
			if t, ok := r.Lifecycle.PhaseStartedAt("INIT"); ok {
				createdAt = t.UnixNano()
			}
			queued = append(queued, candidate{meta: r.Metadata, createdAt: createdAt})
		case lifecycle.StateExecuting:
			executing++
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].createdAt < queued[j].createdAt })

	free := q.cfg.MaxExecutions - executing
	for _, c := range queued {
		if free <= 0 {
			break
		}
		_, executed, err := q.cfg.Signaler.SignalDispatch(ctx, c.meta)
		if err != nil {
			execQueueLog.Warn("failed to signal dispatch", "instance_id", c.meta.InstanceID, "err", err)
			continue
		}
		if executed {
			free--
		}
	}
	return nil
}

// ExecutionQueuePhase is the per-instance phaser.Phase bound to one
// ExecutionQueue, in state IN_QUEUE until dispatched.
type ExecutionQueuePhase struct {
	queue *ExecutionQueue
	name  string
	meta  identity.Metadata
}

func (p *ExecutionQueuePhase) Name() string                 { return p.name }
func (p *ExecutionQueuePhase) RunState() lifecycle.RunState { return lifecycle.StateInQueue }
func (p *ExecutionQueuePhase) Parameters() map[string]string { return p.queue.Params() }
func (p *ExecutionQueuePhase) StopStatus() lifecycle.TerminationStatus {
	return lifecycle.StatusCancelled
}

func (p *ExecutionQueuePhase) Run(ctx context.Context) error {
	return p.queue.wait(ctx, p.meta)
}

// SignalDispatch delivers the /jobs/_signal/dispatch effect to this phase's
// waiter, for the API server hosting the instance locally.
func (p *ExecutionQueuePhase) SignalDispatch() (waiterFound, executed bool) {
	return p.queue.SignalDispatch(p.meta.InstanceID)
}

func (p *ExecutionQueuePhase) Stop(context.Context) error {
	p.queue.cancel(p.meta.InstanceID)
	return nil
}
