// Package jobrun defines JobRun, the serialisable instance snapshot exposed
// over the API and carried in phase-transition events.
package jobrun

import (
	"encoding/json"

	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/lifecycle"
)

// JobRun is the tuple (metadata, run, task) a Runner hands out to the API
// server and the transition dispatcher. Task is opaque tracking info owned
// by whichever Phase implementation does the actual work (e.g. a spawned
// process's pid/exit code); the core never interprets it.
type JobRun struct {
	Metadata identity.Metadata      `json:"metadata"`
	Run      lifecycle.RunSnapshot  `json:"run"`
	Task     json.RawMessage        `json:"task,omitempty"`
}

// New builds a JobRun, marshalling task (which may be nil) to its raw JSON
// representation so JobRun itself stays serialisable without
// reflecting over an arbitrary interface{}.
func New(meta identity.Metadata, run lifecycle.RunSnapshot, task any) (JobRun, error) {
	jr := JobRun{Metadata: meta, Run: run}
	if task == nil {
		return jr, nil
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return JobRun{}, err
	}
	jr.Task = raw
	return jr, nil
}
