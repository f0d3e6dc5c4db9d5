package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/jobphaser/api"
	"github.com/boshu2/jobphaser/client"
	"github.com/boshu2/jobphaser/coord"
	"github.com/boshu2/jobphaser/event"
	"github.com/boshu2/jobphaser/hostlock"
	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/instance"
	"github.com/boshu2/jobphaser/internal/paths"
	"github.com/boshu2/jobphaser/jobrun"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/persist"
	"github.com/boshu2/jobphaser/phaser"
)

var (
	runApprovalTimeout time.Duration
	runPendingGroup    string
	runQueueGroup      string
	runMaxExecutions   int
	runExecDuration    time.Duration
	runExecLines       int
	runNoOverlapID     string
)

var runCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run one demo instance through its phases",
	Long: `Run builds a phase list from the flags (approval gate, pending group,
no-overlap guard, execution queue, then a demo execution phase that emits
output lines), binds it to an instance, opens the instance's API socket and
the transition/output dispatchers, and drives the instance to its terminal
state. Other terminals can observe and control it with the jobs, tail, stop
and release subcommands.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstance,
}

func init() {
	runCmd.Flags().DurationVar(&runApprovalTimeout, "approval-timeout", 0, "Wait for approval before executing (0 disables the approval phase)")
	runCmd.Flags().StringVar(&runPendingGroup, "pending-group", "", "Join the named pending group before executing")
	runCmd.Flags().StringVar(&runQueueGroup, "queue-group", "", "Join the named execution queue group")
	runCmd.Flags().IntVar(&runMaxExecutions, "max-executions", 1, "Execution slots of the queue group")
	runCmd.Flags().DurationVar(&runExecDuration, "exec-duration", 2*time.Second, "How long the demo execution phase runs")
	runCmd.Flags().IntVar(&runExecLines, "exec-lines", 5, "Output lines the demo execution phase emits")
	runCmd.Flags().StringVar(&runNoOverlapID, "no-overlap-id", "", "Refuse to run while another instance holds this overlap id")
	rootCmd.AddCommand(runCmd)
}

func runInstance(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	dir := socketDir(cmd)

	lockPath, err := paths.HostLockFile()
	if err != nil {
		return fmt.Errorf("resolve host lock: %w", err)
	}
	lock := hostlock.New(lockPath, 0)
	jobs := client.New(dir)

	meta := identity.NewMetadata(jobID, "", nil)
	phases := buildPhases(meta, dir, lock, jobs)

	runner, err := instance.NewRunner(meta, phases)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}

	srv, err := api.NewServer(dir)
	if err != nil {
		return fmt.Errorf("open api server: %w", err)
	}
	defer srv.Close()
	srv.Register(runner)
	defer srv.Unregister(runner.InstanceID())

	wireDispatchers(runner, dir)

	store := persist.NewMemoryStore()
	runner.AddObserverPhaseTransition(persist.NewTransitionObserver(store), 10, false)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		_ = runner.Stop(context.Background())
		cancel()
	}()

	cmd.Printf("instance %s@%s started\n", meta.JobID, meta.InstanceID)
	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	snap := runner.Snapshot()
	if snap.Termination != nil {
		cmd.Printf("instance %s@%s ended: %s\n", meta.JobID, meta.InstanceID, snap.Termination.Status)
		if snap.Termination.Failure != nil {
			cmd.Printf("  failure: %s: %s\n", snap.Termination.Failure.FaultType, snap.Termination.Failure.Reason)
		}
		if snap.Termination.Error != nil {
			cmd.Printf("  error: %s: %s\n", snap.Termination.Error.FaultType, snap.Termination.Error.Reason)
		}
	}
	return nil
}

func buildPhases(meta identity.Metadata, dir string, lock *hostlock.Lock, jobs *client.JobsClient) []phaser.Phase {
	var phases []phaser.Phase
	if runApprovalTimeout > 0 {
		phases = append(phases, coord.NewApprovalPhase("APPROVAL", nil, runApprovalTimeout))
	}
	if runPendingGroup != "" {
		phases = append(phases, coord.NewPendingPhase("PENDING", runPendingGroup))
	}
	if runNoOverlapID != "" {
		phases = append(phases, coord.NewNoOverlapPhase("NO_OVERLAP", runNoOverlapID, "", jobs, lock))
	}
	if runQueueGroup != "" {
		queue := coord.NewExecutionQueue(coord.ExecutionQueueConfig{
			ExecutionGroup: runQueueGroup,
			MaxExecutions:  runMaxExecutions,
			Source:         jobs,
			Lock:           lock,
			Signaler:       jobs,
			ListenerDir:    dir,
		})
		phases = append(phases, queue.NewPhase("QUEUE", meta))
	}
	phases = append(phases, newDemoExecPhase(runExecDuration, runExecLines))
	return phases
}

// wireDispatchers forwards the runner's transitions and output onto the
// host-wide event channels, so listeners in other processes (including
// other instances' queue schedulers) see them.
func wireDispatchers(runner *instance.Runner, dir string) {
	transitions := event.NewDispatcher(dir, event.ExtTransition)
	outputs := event.NewDispatcher(dir, event.ExtOutput)
	meta := runner.InstanceMetadata()

	runner.AddObserverPhaseTransition(instance.TransitionObserverFunc(
		func(prev, curr *lifecycle.PhaseRun, ordinal int, jr jobrun.JobRun) {
			if curr == nil {
				return
			}
			transitions.DispatchTransition(event.NewTransitionEvent(meta, prev, *curr, ordinal, jr))
		}), 0, false)

	runner.AddObserverOutput(instance.OutputObserverFunc(
		func(phase lifecycle.PhaseMetadata, line string, isError bool) {
			outputs.DispatchOutput(event.NewOutputEvent(meta, phase, line, isError))
		}), 0)
}

// demoExecPhase stands in for the program-execution phase: it emits a fixed
// number of output lines spread over its duration and reports progress on
// the status channel.
type demoExecPhase struct {
	instance.OutputSupport
	duration time.Duration
	lines    int
	stopped  chan struct{}
	stopOnce sync.Once
}

func newDemoExecPhase(duration time.Duration, lines int) *demoExecPhase {
	if lines < 1 {
		lines = 1
	}
	return &demoExecPhase{duration: duration, lines: lines, stopped: make(chan struct{})}
}

func (p *demoExecPhase) Name() string                            { return "EXEC" }
func (p *demoExecPhase) RunState() lifecycle.RunState            { return lifecycle.StateExecuting }
func (p *demoExecPhase) Parameters() map[string]string           { return nil }
func (p *demoExecPhase) StopStatus() lifecycle.TerminationStatus { return lifecycle.StatusNone }

func (p *demoExecPhase) Run(ctx context.Context) error {
	interval := p.duration / time.Duration(p.lines)
	for i := 1; i <= p.lines; i++ {
		select {
		case <-time.After(interval):
		case <-p.stopped:
			return nil
		case <-ctx.Done():
			return nil
		}
		p.Emit(fmt.Sprintf("demo output line %d/%d", i, p.lines), false)
		p.EmitStatus(fmt.Sprintf("%d%%", i*100/p.lines))
	}
	return nil
}

func (p *demoExecPhase) Stop(context.Context) error {
	p.stopOnce.Do(func() { close(p.stopped) })
	return nil
}
