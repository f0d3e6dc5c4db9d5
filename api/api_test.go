package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/jobphaser/coord"
	"github.com/boshu2/jobphaser/dgram"
	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/instance"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/phaser"
)

const testTimeout = 2 * time.Second

func newServer(t *testing.T) (*Server, *dgram.Client) {
	t.Helper()
	srv, err := NewServer(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv, dgram.NewClient()
}

func send(t *testing.T, c *dgram.Client, srv *Server, body string) Response {
	t.Helper()
	raw, err := c.Send(srv.Path(), body, testTimeout)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	return resp
}

func newApprovalRunner(t *testing.T, jobID string) (*instance.Runner, *coord.ApprovalPhase, chan error) {
	t.Helper()
	approval := coord.NewApprovalPhase("APPROVAL", nil, 0)
	r, err := instance.NewRunner(identity.NewMetadata(jobID, "", nil), []phaser.Phase{approval})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	require.True(t, r.WaitForTransition("APPROVAL", lifecycle.StatePending, testTimeout))
	return r, approval, done
}

func TestServerAnswersPing(t *testing.T) {
	srv, c := newServer(t)
	assert.True(t, c.Ping(srv.Path(), testTimeout))
}

func TestMalformedJSONIs400(t *testing.T) {
	srv, c := newServer(t)
	resp := send(t, c, srv, "{not json")
	assert.Equal(t, 400, resp.ResponseMetadata.Code)
	require.NotNil(t, resp.ResponseMetadata.Error)
}

func TestMissingRequestMetadataIs422(t *testing.T) {
	srv, c := newServer(t)
	resp := send(t, c, srv, `{"waiting_state":"PENDING"}`)
	assert.Equal(t, 422, resp.ResponseMetadata.Code)
}

func TestUnknownPathIs404(t *testing.T) {
	srv, c := newServer(t)
	resp := send(t, c, srv, `{"request_metadata":{"api":"/jobs/nope"}}`)
	assert.Equal(t, 404, resp.ResponseMetadata.Code)
}

func TestMalformedCriteriaIs422(t *testing.T) {
	srv, c := newServer(t)
	resp := send(t, c, srv, `{"request_metadata":{"api":"/jobs","instance_match":42}}`)
	assert.Equal(t, 422, resp.ResponseMetadata.Code)
}

func TestJobsReturnsRegisteredInstances(t *testing.T) {
	srv, c := newServer(t)
	r, approval, done := newApprovalRunner(t, "job-a")
	srv.Register(r)

	resp := send(t, c, srv, `{"request_metadata":{"api":"/jobs"}}`)
	assert.Equal(t, 200, resp.ResponseMetadata.Code)
	require.Len(t, resp.Instances, 1)
	_, hasRun := resp.Instances[0]["job_run"]
	assert.True(t, hasRun)

	approval.Approve()
	require.NoError(t, <-done)
}

func TestUnregisteredInstanceIsInvisible(t *testing.T) {
	srv, c := newServer(t)
	r, approval, done := newApprovalRunner(t, "job-a")
	srv.Register(r)
	srv.Unregister(r.InstanceID())

	resp := send(t, c, srv, `{"request_metadata":{"api":"/jobs"}}`)
	assert.Equal(t, 200, resp.ResponseMetadata.Code)
	assert.Empty(t, resp.Instances)

	approval.Approve()
	require.NoError(t, <-done)
}

func TestStopRefusesEmptyCriteria(t *testing.T) {
	srv, c := newServer(t)
	resp := send(t, c, srv, `{"request_metadata":{"api":"/jobs/stop"}}`)
	assert.Equal(t, 422, resp.ResponseMetadata.Code)
}

func TestStopPerformsStop(t *testing.T) {
	srv, c := newServer(t)
	r, _, done := newApprovalRunner(t, "job-stop")
	srv.Register(r)

	body := `{"request_metadata":{"api":"/jobs/stop","instance_match":{"id":[{"job_id":"job-stop","instance_id":"job-stop","match_both_ids":false,"strategy":"EXACT"}]}}}`
	resp := send(t, c, srv, body)
	assert.Equal(t, 200, resp.ResponseMetadata.Code)
	require.Len(t, resp.Instances, 1)
	assert.Equal(t, "stop_performed", asString(t, resp.Instances[0]["result"]))

	require.NoError(t, <-done)
	assert.Equal(t, lifecycle.StatusCancelled, r.Snapshot().Termination.Status)
}

func TestReleaseWaitingValidatesState(t *testing.T) {
	srv, c := newServer(t)

	resp := send(t, c, srv, `{"request_metadata":{"api":"/jobs/release/waiting"}}`)
	assert.Equal(t, 422, resp.ResponseMetadata.Code)

	resp = send(t, c, srv, `{"request_metadata":{"api":"/jobs/release/waiting"},"waiting_state":"EXECUTING"}`)
	assert.Equal(t, 422, resp.ResponseMetadata.Code)
}

func TestReleaseWaitingReleasesApproval(t *testing.T) {
	srv, c := newServer(t)
	r, _, done := newApprovalRunner(t, "job-rel")
	srv.Register(r)

	resp := send(t, c, srv, `{"request_metadata":{"api":"/jobs/release/waiting"},"waiting_state":"PENDING"}`)
	assert.Equal(t, 200, resp.ResponseMetadata.Code)
	require.Len(t, resp.Instances, 1)
	assert.True(t, asBool(t, resp.Instances[0]["released"]))

	require.NoError(t, <-done)
	assert.Equal(t, lifecycle.StatusCompleted, r.Snapshot().Termination.Status)
}

func TestReleasePendingByGroup(t *testing.T) {
	srv, c := newServer(t)
	pending := coord.NewPendingPhase("PEND", "batch-7")
	r, err := instance.NewRunner(identity.NewMetadata("job-pend", "", nil), []phaser.Phase{pending})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	require.True(t, r.WaitForTransition("PEND", lifecycle.StatePending, testTimeout))
	srv.Register(r)

	resp := send(t, c, srv, `{"request_metadata":{"api":"/jobs/release/pending"},"pending_group":"other-group"}`)
	require.Len(t, resp.Instances, 1)
	assert.False(t, asBool(t, resp.Instances[0]["released"]))

	resp = send(t, c, srv, `{"request_metadata":{"api":"/jobs/release/pending"},"pending_group":"batch-7"}`)
	require.Len(t, resp.Instances, 1)
	assert.True(t, asBool(t, resp.Instances[0]["released"]))
	require.NoError(t, <-done)
}

func TestSignalDispatchWithoutQueueWaiter(t *testing.T) {
	srv, c := newServer(t)
	r, approval, done := newApprovalRunner(t, "job-q")
	srv.Register(r)

	resp := send(t, c, srv, `{"request_metadata":{"api":"/jobs/_signal/dispatch"}}`)
	assert.Equal(t, 200, resp.ResponseMetadata.Code)
	require.Len(t, resp.Instances, 1)
	assert.False(t, asBool(t, resp.Instances[0]["waiter_found"]))

	approval.Approve()
	require.NoError(t, <-done)
}

func asString(t *testing.T, v any) string {
	t.Helper()
	s, ok := v.(string)
	require.True(t, ok, "expected string, got %T", v)
	return s
}

func asBool(t *testing.T, v any) bool {
	t.Helper()
	b, ok := v.(bool)
	require.True(t, ok, "expected bool, got %T", v)
	return b
}
