package event

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/jobphaser/dgram"
	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/jobrun"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
)

func TestTruncateOutputUnderLimit(t *testing.T) {
	assert.Equal(t, "short", truncateOutput("short"))
}

func TestTruncateOutputOverLimit(t *testing.T) {
	long := strings.Repeat("x", maxOutputChars+500)
	out := truncateOutput(long)
	assert.Len(t, out, maxOutputChars)
	assert.True(t, strings.HasSuffix(out, truncationMark))
}

func TestNewTransitionEvent(t *testing.T) {
	meta := identity.NewMetadata("build", "", nil)
	jr, err := jobrun.New(meta, lifecycle.RunSnapshot{}, nil)
	require.NoError(t, err)

	prev := lifecycle.PhaseRun{PhaseName: "INIT", RunState: lifecycle.StateCreated, StartedAt: time.Now()}
	next := lifecycle.PhaseRun{PhaseName: "EXEC", RunState: lifecycle.StateExecuting, StartedAt: time.Now()}
	ev := NewTransitionEvent(meta, &prev, next, 1, jr)

	assert.Equal(t, TransitionEventType, ev.EventMetadata.EventType)
	assert.Equal(t, "EXEC", ev.Event.NewPhase.PhaseName)
	assert.Equal(t, "INIT", ev.Event.PreviousPhase.PhaseName)
}

func TestDispatcherBroadcastsToReceiver(t *testing.T) {
	dir := t.TempDir()
	path := dgram.SocketPath(dir, ExtTransition)

	received := make(chan TransitionEvent, 1)
	recv, err := NewTransitionReceiver(path, match.Criteria{}, func(ev TransitionEvent) {
		received <- ev
	})
	require.NoError(t, err)
	defer recv.Close()

	disp := NewDispatcher(dir, ExtTransition)
	meta := identity.NewMetadata("build", "", nil)
	ev := NewTransitionEvent(meta, nil, lifecycle.PhaseRun{PhaseName: "INIT"}, 0, jobrun.JobRun{})
	disp.DispatchTransition(ev)

	select {
	case got := <-received:
		assert.Equal(t, "build", got.InstanceMetadata.JobID)
	case <-time.After(time.Second):
		t.Fatal("receiver never got the dispatched event")
	}
}

func TestReceiverFiltersByIDCriteria(t *testing.T) {
	dir := t.TempDir()
	path := dgram.SocketPath(dir, ExtTransition)

	received := make(chan TransitionEvent, 1)
	filter := match.Criteria{ID: []match.IDCriterion{match.ParseIDPattern("wanted-job", match.StrategyExact)}}
	recv, err := NewTransitionReceiver(path, filter, func(ev TransitionEvent) {
		received <- ev
	})
	require.NoError(t, err)
	defer recv.Close()

	disp := NewDispatcher(dir, ExtTransition)
	other := identity.NewMetadata("other-job", "", nil)
	disp.DispatchTransition(NewTransitionEvent(other, nil, lifecycle.PhaseRun{}, 0, jobrun.JobRun{}))

	wanted := identity.NewMetadata("wanted-job", "", nil)
	disp.DispatchTransition(NewTransitionEvent(wanted, nil, lifecycle.PhaseRun{}, 0, jobrun.JobRun{}))

	select {
	case got := <-received:
		assert.Equal(t, "wanted-job", got.InstanceMetadata.JobID)
	case <-time.After(time.Second):
		t.Fatal("receiver never got the matching event")
	}

	select {
	case <-received:
		t.Fatal("receiver should not have forwarded the filtered-out event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOutputReceiverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dgram.SocketPath(dir, ExtOutput)

	received := make(chan OutputEvent, 1)
	recv, err := NewOutputReceiver(path, match.Criteria{}, func(ev OutputEvent) {
		received <- ev
	})
	require.NoError(t, err)
	defer recv.Close()

	disp := NewDispatcher(dir, ExtOutput)
	meta := identity.NewMetadata("build", "", nil)
	ev := NewOutputEvent(meta, lifecycle.PhaseMetadata{Name: "EXEC"}, "line one\n", false)
	disp.DispatchOutput(ev)

	select {
	case got := <-received:
		assert.Equal(t, "line one\n", got.Event.Output)
		assert.False(t, got.Event.IsError)
	case <-time.After(time.Second):
		t.Fatal("receiver never got the dispatched output event")
	}
}
