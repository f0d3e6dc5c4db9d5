// Package api implements the per-instance request/reply API server bound to
// the ".api" socket namespace: each datagram carries a JSON
// request naming a resource path and optional instance-match criteria; the
// server filters its registered instances and runs the resource handler per
// instance.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/instance"
	"github.com/boshu2/jobphaser/jobrun"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
)

// Extension is the filename extension API server sockets carry.
const Extension = ".api"

// Resource paths.
const (
	PathJobs           = "/jobs"
	PathReleaseWaiting = "/jobs/release/waiting"
	PathReleasePending = "/jobs/release/pending"
	PathStop           = "/jobs/stop"
	PathTail           = "/jobs/tail"
	PathSignalDispatch = "/jobs/_signal/dispatch"
)

// RequestMetadata is the envelope every request must carry. InstanceMatch
// stays raw here so a malformed criteria document maps to 422, not to the
// 400 reserved for unparseable request JSON.
type RequestMetadata struct {
	API           string          `json:"api"`
	InstanceMatch json.RawMessage `json:"instance_match,omitempty"`
}

// Request is the parsed request body; the resource-specific fields are a
// flat union across the built-in resources.
type Request struct {
	RequestMetadata *RequestMetadata `json:"request_metadata"`
	WaitingState    string           `json:"waiting_state,omitempty"`
	PendingGroup    string           `json:"pending_group,omitempty"`
	MaxLines        int              `json:"max_lines,omitempty"`
}

// ResponseMetadata carries the HTTP-like outcome code, a correlation id,
// and the error document on non-2xx.
type ResponseMetadata struct {
	Code      int            `json:"code"`
	RequestID string         `json:"request_id,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError is the per-server error document.
type ResponseError struct {
	Reason string `json:"reason"`
}

// Response is the full reply document. Instances holds one entry per
// matched instance, each an instance_metadata plus the handler body.
type Response struct {
	ResponseMetadata ResponseMetadata `json:"response_metadata"`
	Instances        []map[string]any `json:"instances,omitempty"`
}

// Error is a structured handler error that propagates to the client as its
// own code and reason rather than collapsing into the generic 500.
type Error struct {
	Code   int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d: %s", e.Code, e.Reason)
}

// NewError builds a structured handler error.
func NewError(code int, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// Instance is the view of a registered job instance the server needs; a
// *instance.Runner satisfies it. The server borrows instances: requests
// are only served for instances currently registered.
type Instance interface {
	match.Instance
	InstanceMetadata() identity.Metadata
	JobRunInfo() (jobrun.JobRun, error)
	Stop(ctx context.Context) error
	ReleaseWaiting(state lifecycle.RunState) bool
	ReleasePending(group string) bool
	SignalDispatch() (waiterFound, executed bool)
	FetchOutput(mode instance.OutputMode, lines int) []instance.OutputLine
}
