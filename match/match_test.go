package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/jobphaser/lifecycle"
)

type fakeInstance struct {
	jobID      string
	instanceID string
	metadata   map[string]string
	phases     []string
	flags      lifecycle.StatusFlag
	entered    map[lifecycle.RunState]time.Time
}

func (f fakeInstance) JobID() string                    { return f.jobID }
func (f fakeInstance) InstanceID() string                { return f.instanceID }
func (f fakeInstance) Metadata() map[string]string       { return f.metadata }
func (f fakeInstance) Phases() []string                  { return f.phases }
func (f fakeInstance) Flags() lifecycle.StatusFlag        { return f.flags }
func (f fakeInstance) StateEnteredAt(s lifecycle.RunState) (time.Time, bool) {
	t, ok := f.entered[s]
	return t, ok
}

func TestParseIDPatternWithAt(t *testing.T) {
	c := ParseIDPattern("build@abcd", StrategyExact)
	assert.True(t, c.MatchBothIDs)
	assert.Equal(t, "build", c.JobID)
	assert.Equal(t, "abcd", c.InstanceID)
}

func TestParseIDPatternWithoutAt(t *testing.T) {
	c := ParseIDPattern("build", StrategyExact)
	assert.False(t, c.MatchBothIDs)

	inst := fakeInstance{jobID: "other", instanceID: "build"}
	assert.True(t, c.Matches(inst), "token should match either field")
}

func TestIDCriterionMatchBothIDsRequiresBoth(t *testing.T) {
	c := ParseIDPattern("build@abcd", StrategyExact)
	assert.False(t, c.Matches(fakeInstance{jobID: "build", instanceID: "other"}))
	assert.True(t, c.Matches(fakeInstance{jobID: "build", instanceID: "abcd"}))
}

func TestFnMatchGlob(t *testing.T) {
	assert.True(t, fnMatch("build-*", "build-nightly"))
	assert.True(t, fnMatch("build-?", "build-1"))
	assert.False(t, fnMatch("build-?", "build-12"))
	assert.True(t, fnMatch("[bc]uild", "build"))
	assert.True(t, fnMatch("[bc]uild", "cuild"))
	assert.False(t, fnMatch("[bc]uild", "duild"))
	assert.True(t, fnMatch("a/b/*", "a/b/c/d"))
}

func TestPartialMatchIsSubstringRegex(t *testing.T) {
	assert.True(t, partialMatch("nightly", "build-nightly-42"))
	assert.False(t, partialMatch("weekly", "build-nightly-42"))
	assert.False(t, partialMatch("[invalid", "anything"))
}

func TestIntervalCriterionBounds(t *testing.T) {
	base := time.Now()
	inst := fakeInstance{entered: map[lifecycle.RunState]time.Time{
		lifecycle.StateExecuting: base,
	}}

	from := base.Add(-time.Minute)
	to := base
	incl := IntervalCriterion{RunState: lifecycle.StateExecuting, From: &from, To: &to, IncludeTo: true}
	assert.True(t, incl.Matches(inst))

	excl := IntervalCriterion{RunState: lifecycle.StateExecuting, From: &from, To: &to, IncludeTo: false}
	assert.False(t, excl.Matches(inst))

	other := IntervalCriterion{RunState: lifecycle.StateEnded}
	assert.False(t, other.Matches(inst))
}

func TestStateCriterionPhasesAndFlags(t *testing.T) {
	inst := fakeInstance{phases: []string{"INIT", "EXEC"}, flags: lifecycle.FlagExecuted | lifecycle.FlagSuccess}

	c := StateCriterion{Phases: []string{"EXEC"}, FlagGroups: []lifecycle.StatusFlag{lifecycle.FlagFailure, lifecycle.FlagSuccess}}
	assert.True(t, c.Matches(inst))

	c2 := StateCriterion{Phases: []string{"OTHER"}}
	assert.False(t, c2.Matches(inst))

	c3 := StateCriterion{FlagGroups: []lifecycle.StatusFlag{lifecycle.FlagFailure}}
	assert.False(t, c3.Matches(inst))
}

func TestMetadataCriteriaSuperset(t *testing.T) {
	inst := fakeInstance{jobID: "build", metadata: map[string]string{"coord": "execution_queue", "group": "G"}}

	c := MetadataCriteria{ParameterSets: []map[string]string{
		{"coord": "other"},
		{"coord": "execution_queue", "group": "G"},
	}}
	assert.True(t, c.Matches(inst))

	c2 := MetadataCriteria{JobIDs: []string{"other-job"}}
	assert.False(t, c2.Matches(inst))
}

func TestCriteriaEmptyMatchesEverything(t *testing.T) {
	var c Criteria
	assert.True(t, c.Empty())
	assert.True(t, c.Matches(fakeInstance{jobID: "anything"}))
}

func TestCriteriaANDsClauses(t *testing.T) {
	inst := fakeInstance{jobID: "build", instanceID: "abcd", phases: []string{"EXEC"}}
	c := Criteria{
		ID:    []IDCriterion{ParseIDPattern("build", StrategyExact)},
		State: &StateCriterion{Phases: []string{"OTHER"}},
	}
	require.True(t, c.ID[0].Matches(inst))
	assert.False(t, c.Matches(inst), "state clause should veto even though ID clause matched")
}

func TestFilter(t *testing.T) {
	instances := []fakeInstance{
		{jobID: "a"},
		{jobID: "b"},
	}
	c := Criteria{ID: []IDCriterion{ParseIDPattern("a", StrategyExact)}}
	out := Filter(instances, c)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].jobID)
}
