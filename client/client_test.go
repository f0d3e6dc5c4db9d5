package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/jobphaser/api"
	"github.com/boshu2/jobphaser/coord"
	"github.com/boshu2/jobphaser/dgram"
	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/instance"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
	"github.com/boshu2/jobphaser/phaser"
)

const testTimeout = 2 * time.Second

// outputPhase emits a few lines then waits for approval-style release, so
// tests can observe a live instance.
type outputPhase struct {
	instance.OutputSupport
	release  chan struct{}
	stopOnce sync.Once
}

func newOutputPhase() *outputPhase {
	return &outputPhase{release: make(chan struct{})}
}

func (p *outputPhase) Name() string                            { return "EXEC" }
func (p *outputPhase) RunState() lifecycle.RunState            { return lifecycle.StateExecuting }
func (p *outputPhase) Parameters() map[string]string           { return nil }
func (p *outputPhase) StopStatus() lifecycle.TerminationStatus { return lifecycle.StatusNone }

func (p *outputPhase) Run(ctx context.Context) error {
	p.Emit("starting", false)
	p.Emit("oops", true)
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return nil
}

func (p *outputPhase) Stop(context.Context) error {
	p.stopOnce.Do(func() { close(p.release) })
	return nil
}

func startInstance(t *testing.T, dir, jobID string, phase phaser.Phase) (*instance.Runner, chan error) {
	t.Helper()
	r, err := instance.NewRunner(identity.NewMetadata(jobID, "", nil), []phaser.Phase{phase})
	require.NoError(t, err)

	srv, err := api.NewServer(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	srv.Register(r)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	require.True(t, r.WaitForTransition(phase.Name(), phase.RunState(), testTimeout))
	return r, done
}

func TestReadInstancesAcrossServers(t *testing.T) {
	dir := t.TempDir()
	pa := newOutputPhase()
	pb := newOutputPhase()
	_, doneA := startInstance(t, dir, "job-a", pa)
	_, doneB := startInstance(t, dir, "job-b", pb)

	c := New(dir)
	runs, srvErrs := c.ReadInstances(context.Background(), nil)
	assert.Empty(t, srvErrs)
	require.Len(t, runs, 2)
	ids := map[string]bool{}
	for _, jr := range runs {
		ids[jr.Metadata.JobID] = true
	}
	assert.True(t, ids["job-a"] && ids["job-b"])

	// ID criteria narrow the result set (matching is monotone).
	criteria := &match.Criteria{ID: []match.IDCriterion{match.ParseIDPattern("job-a", match.StrategyExact)}}
	runs, srvErrs = c.ReadInstances(context.Background(), criteria)
	assert.Empty(t, srvErrs)
	require.Len(t, runs, 1)
	assert.Equal(t, "job-a", runs[0].Metadata.JobID)

	_ = pa.Stop(context.Background())
	_ = pb.Stop(context.Background())
	require.NoError(t, <-doneA)
	require.NoError(t, <-doneB)
}

func TestReadTail(t *testing.T) {
	dir := t.TempDir()
	p := newOutputPhase()
	_, done := startInstance(t, dir, "job-tail", p)

	c := New(dir)
	tails, srvErrs := c.ReadTail(context.Background(), nil)
	assert.Empty(t, srvErrs)
	require.Len(t, tails, 1)
	require.Len(t, tails[0].Lines, 2)
	assert.Equal(t, "starting", tails[0].Lines[0].Text)
	assert.True(t, tails[0].Lines[1].IsError)

	_ = p.Stop(context.Background())
	require.NoError(t, <-done)
}

func TestStopJobsRefusesEmptyCriteria(t *testing.T) {
	c := New(t.TempDir())
	_, _, err := c.StopJobs(context.Background(), match.Criteria{})
	assert.ErrorIs(t, err, ErrEmptyCriteria)
}

func TestStopJobs(t *testing.T) {
	dir := t.TempDir()
	p := newOutputPhase()
	r, done := startInstance(t, dir, "job-stop", p)

	c := New(dir)
	criteria := match.Criteria{ID: []match.IDCriterion{match.ParseIDPattern("job-stop", match.StrategyExact)}}
	results, srvErrs, err := c.StopJobs(context.Background(), criteria)
	require.NoError(t, err)
	assert.Empty(t, srvErrs)
	require.Len(t, results, 1)
	assert.Equal(t, "stop_performed", results[0].Result)

	require.NoError(t, <-done)
	assert.Equal(t, lifecycle.StatusStopped, r.Snapshot().Termination.Status)
}

func TestReleaseWaitingJobs(t *testing.T) {
	dir := t.TempDir()
	approval := coord.NewApprovalPhase("APPROVAL", nil, 0)
	r, done := startInstance(t, dir, "job-rel", approval)

	c := New(dir)
	results, srvErrs := c.ReleaseWaitingJobs(context.Background(), match.Criteria{}, lifecycle.StatePending)
	assert.Empty(t, srvErrs)
	require.Len(t, results, 1)
	assert.True(t, results[0].Released)

	require.NoError(t, <-done)
	assert.Equal(t, lifecycle.StatusCompleted, r.Snapshot().Termination.Status)
}

func TestPerServerErrorsAreIndependent(t *testing.T) {
	dir := t.TempDir()
	p := newOutputPhase()
	_, done := startInstance(t, dir, "job-ok", p)

	// A server that answers garbage: classified INVALID_RESPONSE while the
	// healthy server's instances still come back.
	bad, err := dgram.NewServer(dgram.SocketPath(dir, api.Extension), false, func(string) (string, bool) {
		return "not json", true
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bad.Close() })

	c := New(dir)
	runs, srvErrs := c.ReadInstances(context.Background(), nil)
	require.Len(t, runs, 1)
	require.Len(t, srvErrs, 1)
	assert.Equal(t, ErrorInvalidResponse, srvErrs[0].Kind)

	_ = p.Stop(context.Background())
	require.NoError(t, <-done)
}

func TestAPIErrorClassification(t *testing.T) {
	dir := t.TempDir()
	srv, err := api.NewServer(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	c := New(dir)
	_, srvErrs := c.SendRequest(context.Background(), "/jobs/nope", nil, nil)
	require.Len(t, srvErrs, 1)
	assert.Equal(t, ErrorAPI, srvErrs[0].Kind)
}

func TestSignalDispatchTargetsOneInstance(t *testing.T) {
	dir := t.TempDir()
	p := newOutputPhase()
	r, done := startInstance(t, dir, "job-sig", p)

	c := New(dir)
	waiterFound, executed, err := c.SignalDispatch(context.Background(), r.InstanceMetadata())
	require.NoError(t, err)
	// Instance exists but is not an execution-queue waiter.
	assert.False(t, waiterFound)
	assert.False(t, executed)

	_ = p.Stop(context.Background())
	require.NoError(t, <-done)
}

func TestActiveRunsMapsJobRuns(t *testing.T) {
	dir := t.TempDir()
	p := newOutputPhase()
	_, done := startInstance(t, dir, "job-act", p)

	c := New(dir)
	runs, err := c.ActiveRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "job-act", runs[0].Metadata.JobID)
	assert.Equal(t, "EXEC", runs[0].CurrentPhase)
	assert.Equal(t, lifecycle.StateExecuting, runs[0].CurrentRunState)

	_ = p.Stop(context.Background())
	require.NoError(t, <-done)
}
