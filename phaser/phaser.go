package phaser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boshu2/jobphaser/internal/logging"
	"github.com/boshu2/jobphaser/lifecycle"
)

var log = logging.New("phaser")

const (
	initPhaseName     = "INIT"
	terminalPhaseName = "TERMINAL"
)

// ErrAlreadyPrimed is returned by Prime when called more than once.
var ErrAlreadyPrimed = errors.New("phaser: already primed")

// ErrNotPrimed is returned by Run when called before Prime.
var ErrNotPrimed = errors.New("phaser: not primed")

// TransitionHook observes every phase transition, including the synthetic
// INIT and TERMINAL entries, with prev possibly nil for the very first
// transition. snapshot is taken under the transition lock at
// the instant of the transition, so a hook that publishes JobRun state (the
// Runner's observer fan-out, the transition dispatcher) never needs to
// re-enter the Phaser to read it.
type TransitionHook func(prev, curr *lifecycle.PhaseRun, ordinal int, snapshot lifecycle.RunSnapshot)

// Phaser drives an ordered phase list with atomic transitions, recording a
// Lifecycle and a terminal TerminationInfo. The zero value
// is not usable; construct with New.
//
// The transition lock is a single sync.Mutex rather than a true re-entrant
// lock: every method that needs to run while already holding it
// (enterTerminalLocked, snapshotLocked) is a private *Locked helper called
// only from within another locked method, so there is never an actual
// re-entry attempt on the mutex itself — re-entrancy by call-graph
// discipline instead of a recursive lock primitive (which the Go standard
// library deliberately omits).
type Phaser struct {
	phases []Phase
	hook   TransitionHook

	mu             sync.Mutex
	lc             lifecycle.Lifecycle
	currentIdx     int // -1 before the first phase; len(phases) once exhausted
	primed         bool
	abort          bool
	terminalEnter  bool
	termination    *lifecycle.TerminationInfo
	pendingOutcome *lifecycle.TerminationInfo
	pendingReraise error
	interrupted    bool
}

// New constructs a Phaser over the given ordered phase list.
func New(phases []Phase, hook TransitionHook) *Phaser {
	return &Phaser{phases: phases, hook: hook, currentIdx: -1}
}

// Prime advances the Phaser to the synthetic INIT phase (state CREATED).
// Must be called exactly once before Run.
func (p *Phaser) Prime() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.primed {
		return ErrAlreadyPrimed
	}
	p.primed = true
	if err := p.lc.AddPhaseRun(lifecycle.PhaseRun{
		PhaseName: initPhaseName,
		RunState:  lifecycle.StateCreated,
		StartedAt: time.Now(),
	}); err != nil {
		return err
	}
	p.notifyHookLocked(initPhaseName)
	return nil
}

// Run walks the phase list to completion, returning the re-raised error (if
// any) from an interrupted or SystemExit-terminated phase body. The Phaser
// itself never returns a termination reason from Run — that is read from
// CreateRunSnapshot; the Phaser converts phase outcomes into termination
// info instead of failing.
func (p *Phaser) Run(ctx context.Context) error {
	p.mu.Lock()
	primed := p.primed
	p.mu.Unlock()
	if !primed {
		return ErrNotPrimed
	}

	for {
		done, phase, rerr := p.transition()
		if done {
			return rerr
		}
		p.executePhase(ctx, phase)
	}
}

// transition performs the per-iteration bookkeeping under the transition
// lock, returning the next phase to execute
// outside the lock, or done=true once the Phaser has reached TERMINAL.
func (p *Phaser) transition() (done bool, next Phase, rerr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminalEnter {
		return true, nil, nil
	}
	if p.abort {
		return true, nil, nil
	}

	if p.pendingOutcome != nil {
		if p.termination == nil {
			p.termination = p.pendingOutcome
		}
		p.pendingOutcome = nil
	}

	if p.pendingReraise != nil {
		reraise := p.pendingReraise
		p.pendingReraise = nil
		p.enterTerminalLocked()
		return true, nil, reraise
	}

	if p.termination != nil {
		p.enterTerminalLocked()
		return true, nil, nil
	}

	p.currentIdx++
	if p.currentIdx >= len(p.phases) {
		if p.termination == nil {
			p.termination = &lifecycle.TerminationInfo{
				Status:       lifecycle.StatusCompleted,
				TerminatedAt: time.Now(),
			}
		}
		p.enterTerminalLocked()
		return true, nil, nil
	}

	ph := p.phases[p.currentIdx]
	pr := lifecycle.PhaseRun{PhaseName: ph.Name(), RunState: ph.RunState(), StartedAt: time.Now()}
	if err := p.lc.AddPhaseRun(pr); err != nil {
		return true, nil, fmt.Errorf("phaser: phase %q: %w", ph.Name(), err)
	}
	p.notifyHookLocked(ph.Name())
	return false, ph, nil
}

// executePhase runs phase.Run outside the transition lock and stages its
// classified outcome for the next transition() call to commit.
func (p *Phaser) executePhase(ctx context.Context, phase Phase) {
	err := phase.Run(ctx)
	info, reraise := classifyOutcome(err)

	p.mu.Lock()
	p.pendingOutcome = info
	p.pendingReraise = reraise
	if reraise != nil {
		p.interrupted = true
	}
	p.mu.Unlock()

	if info != nil {
		switch info.Status {
		case lifecycle.StatusFailed:
			log.Warn("phase recorded a run failure", "phase", phase.Name(), "fault_type", info.Failure.FaultType, "reason", info.Failure.Reason)
		case lifecycle.StatusError:
			log.Error("phase recorded a run error", "phase", phase.Name(), "fault_type", info.Error.FaultType, "reason", info.Error.Reason)
		}
	}
}

// classifyOutcome maps a phase body's returned error to the termination
// taxonomy.
func classifyOutcome(err error) (info *lifecycle.TerminationInfo, reraise error) {
	if err == nil {
		return nil, nil
	}

	now := time.Now()

	if errors.Is(err, ErrInterrupt) {
		return &lifecycle.TerminationInfo{Status: lifecycle.StatusInterrupted, TerminatedAt: now}, err
	}

	var sysExit *SystemExit
	if errors.As(err, &sysExit) {
		status := lifecycle.StatusFailed
		if sysExit.Code == 0 {
			status = lifecycle.StatusCompleted
		}
		return &lifecycle.TerminationInfo{Status: status, TerminatedAt: now}, err
	}

	var term *TerminateRun
	if errors.As(err, &term) {
		return &lifecycle.TerminationInfo{Status: term.Status, TerminatedAt: now}, nil
	}

	var failure *lifecycle.RunFailure
	if errors.As(err, &failure) {
		fault := failure.Fault
		return &lifecycle.TerminationInfo{Status: lifecycle.StatusFailed, TerminatedAt: now, Failure: &fault}, nil
	}

	re := lifecycle.NewRunError(err)
	return &lifecycle.TerminationInfo{Status: lifecycle.StatusError, TerminatedAt: now, Error: re}, nil
}

// Stop requests termination; always non-blocking with
// respect to the transition lock and idempotent. If the Phaser has not
// advanced past INIT, it short-circuits straight to TERMINAL without
// running any phase body; otherwise it calls the current phase's Stop
// outside the lock.
func (p *Phaser) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.termination != nil || p.terminalEnter {
		p.mu.Unlock()
		return nil
	}

	status := lifecycle.StatusStopped
	var phase Phase
	inInit := p.currentIdx < 0
	if !inInit && p.currentIdx < len(p.phases) {
		phase = p.phases[p.currentIdx]
		if s := phase.StopStatus(); s != lifecycle.StatusNone {
			status = s
		}
	}
	p.termination = &lifecycle.TerminationInfo{Status: status, TerminatedAt: time.Now()}

	if inInit {
		p.abort = true
		p.enterTerminalLocked()
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if phase == nil {
		return nil
	}
	return phase.Stop(ctx)
}

// enterTerminalLocked appends the synthetic TERMINAL phase run and fires
// the transition hook; idempotent. Caller must hold mu.
func (p *Phaser) enterTerminalLocked() {
	if p.terminalEnter {
		return
	}
	p.terminalEnter = true
	_ = p.lc.AddPhaseRun(lifecycle.PhaseRun{
		PhaseName: terminalPhaseName,
		RunState:  lifecycle.StateEnded,
		StartedAt: time.Now(),
	})
	p.notifyHookLocked(terminalPhaseName)
}

// notifyHookLocked fires p.hook for the just-appended run at phaseName.
// Caller must hold mu.
func (p *Phaser) notifyHookLocked(phaseName string) {
	if p.hook == nil {
		return
	}
	ordinal, _ := p.lc.Ordinal(phaseName)
	p.hook(p.lc.Previous(), p.lc.Current(), ordinal, p.snapshotLocked())
}

// CreateRunSnapshot returns an immutable snapshot of phase metadata,
// lifecycle, and termination info, taken atomically under the transition
// lock.
func (p *Phaser) CreateRunSnapshot() lifecycle.RunSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Phaser) snapshotLocked() lifecycle.RunSnapshot {
	metas := make([]lifecycle.PhaseMetadata, 0, len(p.phases))
	for _, ph := range p.phases {
		metas = append(metas, lifecycle.PhaseMetadata{
			Name:       ph.Name(),
			RunState:   ph.RunState(),
			Parameters: ph.Parameters(),
		})
	}
	return lifecycle.RunSnapshot{
		Phases:      metas,
		Lifecycle:   p.lc.Copy(),
		Termination: p.termination,
	}
}

// ExecuteTransitionHookSafely runs fn(prevCopy, currCopy, ordinal) under the
// transition lock, for a caller (the Runner) registering a transition
// observer that must see the phase current at registration time without
// racing a concurrent transition.
func (p *Phaser) ExecuteTransitionHookSafely(fn TransitionHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	curr := p.lc.Current()
	prev := p.lc.Previous()
	ordinal := -1
	if curr != nil {
		ordinal, _ = p.lc.Ordinal(curr.PhaseName)
	}
	fn(prev, curr, ordinal, p.snapshotLocked())
}

// Interrupted reports whether Run ever re-raised an ErrInterrupt or
// SystemExit outcome.
func (p *Phaser) Interrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupted
}

// IsEnded reports whether the Phaser has reached TERMINAL.
func (p *Phaser) IsEnded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminalEnter
}
