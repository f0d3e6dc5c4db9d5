// Package instance implements the job instance runner: it
// binds an identity (job + run + instance id, parameters) to a Phaser,
// fans transitions, output, and status out to prioritised observer
// registries, and buffers captured output for the /jobs/tail resource.
package instance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/internal/logging"
	"github.com/boshu2/jobphaser/jobrun"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
	"github.com/boshu2/jobphaser/phaser"
)

var log = logging.New("instance")

const defaultOutputCapacity = 1000

// Tracking is the mutable task-tracking bag attached to a JobRun snapshot:
// an executing phase records progress into it (directly or through the
// status channel) and JobRunInfo serialises a copy.
type Tracking struct {
	mu   sync.Mutex
	data map[string]string
}

// Set records or replaces one tracking entry.
func (t *Tracking) Set(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data == nil {
		t.data = make(map[string]string)
	}
	t.data[key] = value
}

// Copy returns an independent copy of the tracking entries, nil when empty
// so JobRun.Task stays absent for instances that never report progress.
func (t *Tracking) Copy() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.data) == 0 {
		return nil
	}
	out := make(map[string]string, len(t.data))
	for k, v := range t.data {
		out[k] = v
	}
	return out
}

// Option configures a Runner at construction.
type Option func(*Runner)

// WithOutputCapacity bounds the Runner's output ring buffer.
func WithOutputCapacity(lines int) Option {
	return func(r *Runner) { r.buffer = NewOutputBuffer(lines) }
}

// Runner binds identity to a Phaser. It owns the Phaser, the three
// observer registries, the tracking bag, and the output buffer; the API
// server borrows it through the api.Instance interface.
type Runner struct {
	meta   identity.Metadata
	phases []phaser.Phase
	ph     *phaser.Phaser

	transitionObs registry[TransitionObserver]
	outputObs     registry[OutputObserver]
	statusObs     registry[StatusObserver]

	buffer   *OutputBuffer
	tracking Tracking

	transMu sync.Mutex
	transCh chan struct{}
}

// NewRunner builds a Runner over the given phases, stamps each phase's
// declared parameters into the instance's system parameters (so receivers
// can recognise e.g. queue-member instances by metadata alone), and primes
// the Phaser.
func NewRunner(meta identity.Metadata, phases []phaser.Phase, opts ...Option) (*Runner, error) {
	for _, ph := range phases {
		for _, kv := range orderedParams(ph.Parameters()) {
			meta = meta.WithSysParam(kv.Key, kv.Value)
		}
	}

	r := &Runner{
		meta:    meta,
		phases:  phases,
		transCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.buffer == nil {
		r.buffer = NewOutputBuffer(defaultOutputCapacity)
	}
	r.ph = phaser.New(phases, r.onTransition)
	if err := r.ph.Prime(); err != nil {
		return nil, err
	}
	return r, nil
}

// orderedParams flattens a parameter map into deterministically ordered
// pairs so repeated constructions of the same instance stamp identical
// system parameters.
func orderedParams(params map[string]string) identity.OrderedParams {
	var out identity.OrderedParams
	for _, k := range sortedKeys(params) {
		out = append(out, identity.KV{Key: k, Value: params[k]})
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InstanceMetadata returns the instance's immutable metadata.
func (r *Runner) InstanceMetadata() identity.Metadata { return r.meta }

// Run attaches the Runner's output-capture and status-forwarding sinks to
// every phase that produces them, drives the Phaser to completion, and
// detaches on exit.
func (r *Runner) Run(ctx context.Context) error {
	var detach []func()
	for _, ph := range r.phases {
		phaseMeta := lifecycle.PhaseMetadata{Name: ph.Name(), RunState: ph.RunState(), Parameters: ph.Parameters()}
		if src, ok := ph.(OutputSource); ok {
			sink := &captureSink{runner: r, phase: phaseMeta}
			src.AddOutputSink(sink)
			detach = append(detach, func() { src.RemoveOutputSink(sink) })
		}
		if src, ok := ph.(StatusSource); ok {
			sink := &statusForwardSink{runner: r, phase: phaseMeta}
			src.AddStatusSink(sink)
			detach = append(detach, func() { src.RemoveStatusSink(sink) })
		}
	}
	defer func() {
		for _, d := range detach {
			d()
		}
	}()
	return r.ph.Run(ctx)
}

// Stop delegates to the Phaser; non-blocking and idempotent.
func (r *Runner) Stop(ctx context.Context) error { return r.ph.Stop(ctx) }

// Interrupted reports whether the run was ended by an interrupt-style
// outcome the Phaser re-raised.
func (r *Runner) Interrupted() bool { return r.ph.Interrupted() }

// Snapshot returns the Phaser's atomic run snapshot.
func (r *Runner) Snapshot() lifecycle.RunSnapshot { return r.ph.CreateRunSnapshot() }

// JobRunInfo returns the serialisable instance snapshot.
func (r *Runner) JobRunInfo() (jobrun.JobRun, error) {
	var task any
	if data := r.tracking.Copy(); data != nil {
		task = data
	}
	return jobrun.New(r.meta, r.Snapshot(), task)
}

// Tracking exposes the mutable tracking bag for executing phases.
func (r *Runner) Tracking() *Tracking { return &r.tracking }

// onTransition is the Phaser's transition hook: it runs under the
// transition lock, so observers see transitions in total order. Panics
// in an observer are caught and logged, never propagated to the Phaser.
func (r *Runner) onTransition(prev, curr *lifecycle.PhaseRun, ordinal int, snap lifecycle.RunSnapshot) {
	jr, err := jobrun.New(r.meta, snap, taskOrNil(r.tracking.Copy()))
	if err != nil {
		log.Error("failed to build job run snapshot for transition", "job_id", r.meta.JobID, "instance_id", r.meta.InstanceID, "err", err)
		jr = jobrun.JobRun{Metadata: r.meta, Run: snap}
	}

	currName := ""
	if curr != nil {
		currName = curr.PhaseName
	}
	log.Debug("phase transition", "job_id", r.meta.JobID, "instance_id", r.meta.InstanceID, "phase", currName, "ordinal", ordinal)
	if snap.Termination != nil && curr != nil && curr.RunState == lifecycle.StateEnded {
		log.Info("instance ended", "job_id", r.meta.JobID, "instance_id", r.meta.InstanceID, "status", snap.Termination.Status)
	}

	for _, o := range r.transitionObs.snapshot() {
		notifyTransition(o, prev, curr, ordinal, jr)
	}

	r.transMu.Lock()
	close(r.transCh)
	r.transCh = make(chan struct{})
	r.transMu.Unlock()
}

func taskOrNil(data map[string]string) any {
	if data == nil {
		return nil
	}
	return data
}

func notifyTransition(o TransitionObserver, prev, curr *lifecycle.PhaseRun, ordinal int, jr jobrun.JobRun) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("transition observer panicked", "instance_id", jr.Metadata.InstanceID, "panic", rec)
		}
	}()
	o.OnPhaseTransition(prev, curr, ordinal, jr)
}

// AddObserverPhaseTransition registers o at the given priority (lower =
// earlier). With notifyOnRegister, the registration and the delivery of the
// current run happen under the Phaser's transition lock, so o misses no
// transition and sees no duplicate.
func (r *Runner) AddObserverPhaseTransition(o TransitionObserver, priority int, notifyOnRegister bool) {
	if !notifyOnRegister {
		r.transitionObs.add(o, priority)
		return
	}
	r.ph.ExecuteTransitionHookSafely(func(prev, curr *lifecycle.PhaseRun, ordinal int, snap lifecycle.RunSnapshot) {
		r.transitionObs.add(o, priority)
		if curr == nil {
			return
		}
		jr, err := jobrun.New(r.meta, snap, taskOrNil(r.tracking.Copy()))
		if err != nil {
			jr = jobrun.JobRun{Metadata: r.meta, Run: snap}
		}
		notifyTransition(o, prev, curr, ordinal, jr)
	})
}

// RemoveObserverPhaseTransition deregisters o.
func (r *Runner) RemoveObserverPhaseTransition(o TransitionObserver) {
	r.transitionObs.remove(o)
}

// AddObserverOutput registers an output observer at the given priority.
func (r *Runner) AddObserverOutput(o OutputObserver, priority int) {
	r.outputObs.add(o, priority)
}

// RemoveObserverOutput deregisters o.
func (r *Runner) RemoveObserverOutput(o OutputObserver) {
	r.outputObs.remove(o)
}

// AddObserverStatus registers a status observer at the given priority.
func (r *Runner) AddObserverStatus(o StatusObserver, priority int) {
	r.statusObs.add(o, priority)
}

// RemoveObserverStatus deregisters o.
func (r *Runner) RemoveObserverStatus(o StatusObserver) {
	r.statusObs.remove(o)
}

// WaitForTransition blocks until the lifecycle contains a run matching the
// filter — phaseName ("" matches any) and/or runState (StateNone matches
// any) — or the timeout elapses. A timeout <= 0 waits forever.
func (r *Runner) WaitForTransition(phaseName string, runState lifecycle.RunState, timeout time.Duration) bool {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	for {
		r.transMu.Lock()
		ch := r.transCh
		r.transMu.Unlock()

		if lifecycleHasRun(r.Snapshot().Lifecycle, phaseName, runState) {
			return true
		}
		select {
		case <-ch:
		case <-timeoutCh:
			return false
		}
	}
}

func lifecycleHasRun(lc lifecycle.Lifecycle, phaseName string, runState lifecycle.RunState) bool {
	for _, run := range lc.Runs() {
		if phaseName != "" && run.PhaseName != phaseName {
			continue
		}
		if runState != lifecycle.StateNone && run.RunState != runState {
			continue
		}
		return true
	}
	return false
}

// FetchOutput returns the first or last n captured output lines.
func (r *Runner) FetchOutput(mode OutputMode, lines int) []OutputLine {
	return r.buffer.Fetch(mode, lines)
}

// approver/releaser are the unblock surfaces coordination phases expose:
// ApprovalPhase approves, PendingPhase (and any user phase with the same
// shape) releases.
type approver interface{ Approve() }

type releaser interface{ Release() }

type pendingGrouped interface {
	PendingGroup() string
	Release()
}

type dispatchSignaler interface {
	SignalDispatch() (waiterFound, executed bool)
}

// currentPhase resolves the phase object currently running, nil while the
// instance sits in INIT or TERMINAL.
func (r *Runner) currentPhase() phaser.Phase {
	snap := r.Snapshot()
	curr := snap.Lifecycle.Current()
	if curr == nil {
		return nil
	}
	for _, ph := range r.phases {
		if ph.Name() == curr.PhaseName {
			return ph
		}
	}
	return nil
}

// ReleaseWaiting signals release if the current phase declares the given
// waiting state, reporting whether a release
// was performed.
func (r *Runner) ReleaseWaiting(state lifecycle.RunState) bool {
	ph := r.currentPhase()
	if ph == nil || ph.RunState() != state {
		return false
	}
	switch p := ph.(type) {
	case approver:
		p.Approve()
		return true
	case releaser:
		p.Release()
		return true
	}
	return false
}

// ReleasePending releases the current phase if it belongs to the named
// pending group.
func (r *Runner) ReleasePending(group string) bool {
	ph := r.currentPhase()
	if ph == nil {
		return false
	}
	if p, ok := ph.(pendingGrouped); ok && p.PendingGroup() == group {
		p.Release()
		return true
	}
	return false
}

// SignalDispatch forwards the /jobs/_signal/dispatch request to the current
// phase if it is an execution-queue waiter.
func (r *Runner) SignalDispatch() (waiterFound, executed bool) {
	ph := r.currentPhase()
	if ph == nil {
		return false, false
	}
	if p, ok := ph.(dispatchSignaler); ok {
		return p.SignalDispatch()
	}
	return false, false
}

// captureSink buffers and fans out one phase's output lines.
type captureSink struct {
	runner *Runner
	phase  lifecycle.PhaseMetadata
}

func (s *captureSink) Output(line string, isError bool) {
	s.runner.buffer.Append(OutputLine{Phase: s.phase.Name, Text: line, IsError: isError})
	for _, o := range s.runner.outputObs.snapshot() {
		notifyOutput(o, s.phase, line, isError)
	}
}

func notifyOutput(o OutputObserver, phase lifecycle.PhaseMetadata, line string, isError bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("output observer panicked", "phase", phase.Name, "panic", rec)
		}
	}()
	o.OnOutput(phase, line, isError)
}

// statusForwardSink records the latest status into the tracking bag and
// fans it out to status observers.
type statusForwardSink struct {
	runner *Runner
	phase  lifecycle.PhaseMetadata
}

func (s *statusForwardSink) Status(status string) {
	s.runner.tracking.Set("status", status)
	for _, o := range s.runner.statusObs.snapshot() {
		notifyStatus(o, s.phase, status)
	}
}

func notifyStatus(o StatusObserver, phase lifecycle.PhaseMetadata, status string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("status observer panicked", "phase", phase.Name, "panic", rec)
		}
	}()
	o.OnStatus(phase, status)
}

// match.Instance implementation, so criteria filter live Runners directly.

// JobID implements match.Instance.
func (r *Runner) JobID() string { return r.meta.JobID }

// InstanceID implements match.Instance.
func (r *Runner) InstanceID() string { return r.meta.InstanceID }

// Metadata implements match.Instance.
func (r *Runner) Metadata() map[string]string { return r.meta.Combined() }

// Phases implements match.Instance over the declared (non-synthetic) phase
// names.
func (r *Runner) Phases() []string {
	out := make([]string, len(r.phases))
	for i, ph := range r.phases {
		out[i] = ph.Name()
	}
	return out
}

// Flags implements match.Instance: the termination status flags once
// terminated, zero while still active.
func (r *Runner) Flags() lifecycle.StatusFlag {
	if term := r.Snapshot().Termination; term != nil {
		return term.Status.Flags()
	}
	return 0
}

// StateEnteredAt implements match.Instance.
func (r *Runner) StateEnteredAt(state lifecycle.RunState) (time.Time, bool) {
	snap := r.Snapshot()
	return snap.Lifecycle.StateChangedAt(state, true)
}

var _ match.Instance = (*Runner)(nil)
