// Package phaser implements the Phaser lifecycle engine: it
// drives a declared phase list in order, synthesizing an INIT phase before
// the first user phase and a TERMINAL phase after termination, with atomic
// transitions under a transition lock and a structured termination
// taxonomy.
package phaser

import (
	"context"
	"errors"
	"fmt"

	"github.com/boshu2/jobphaser/lifecycle"
)

// Phase is one named stage a Phaser drives: a declared run state, a
// parameters map copied into instance metadata, a body, and a stop hook.
type Phase interface {
	Name() string
	RunState() lifecycle.RunState
	Parameters() map[string]string
	// Run executes the phase body. A nil return is normal completion. A
	// *TerminateRun, *lifecycle.RunFailure, the ErrInterrupt sentinel, a
	// *SystemExit, or any other error are classified by the Phaser into the
	// termination taxonomy.
	Run(ctx context.Context) error
	// Stop must be safe to call from any goroutine at any time, including
	// concurrently with Run.
	Stop(ctx context.Context) error
	// StopStatus is the termination status to record if Stop interrupts this
	// phase; StatusNone means "use the Phaser's default (STOPPED)".
	StopStatus() lifecycle.TerminationStatus
}

// TerminateRun is returned by a phase body to end the run cleanly with a
// specific status, without that counting as a failure or error.
type TerminateRun struct {
	Status lifecycle.TerminationStatus
}

func (t *TerminateRun) Error() string {
	return fmt.Sprintf("phaser: terminate run: %s", t.Status)
}

// Terminate constructs a *TerminateRun for a phase body to return.
func Terminate(status lifecycle.TerminationStatus) error {
	return &TerminateRun{Status: status}
}

// ErrInterrupt signals a keyboard-style external cancellation: a phase
// body returns it (or wraps it) when the Phaser must re-raise the
// cancellation to Run's caller after completing the terminal transition.
var ErrInterrupt = errors.New("phaser: interrupted")

// SystemExit lets a phase body request process-exit-code semantics: code 0
// terminates COMPLETED, non-zero FAILED, and the value is re-raised from
// Run either way. Go has no catchable exit unwind, so a phase returns this
// value instead of calling os.Exit; the Phaser can then classify it and the
// caller still observes the re-raised error from Run.
type SystemExit struct {
	Code int
}

func (e *SystemExit) Error() string {
	return fmt.Sprintf("phaser: system exit: code %d", e.Code)
}
