// Package client implements JobsClient: it fans one API
// request out to every API server discovered in the socket directory,
// aggregating per-instance responses and per-server errors. Each server's
// outcome is independent — a dead or misbehaving server never hides the
// responses of the others.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/boshu2/jobphaser/api"
	"github.com/boshu2/jobphaser/dgram"
	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/instance"
	"github.com/boshu2/jobphaser/internal/logging"
	"github.com/boshu2/jobphaser/jobrun"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
)

var log = logging.New("client")

// ErrEmptyCriteria is returned by StopJobs when the criteria would match
// every instance; stop refuses void criteria.
var ErrEmptyCriteria = errors.New("client: stop requires non-empty match criteria")

// DefaultTimeout bounds each per-server request round trip.
const DefaultTimeout = 2 * time.Second

const fanoutLimit = 8

// ErrorKind classifies a per-server failure.
type ErrorKind string

const (
	ErrorSocket          ErrorKind = "SOCKET"
	ErrorAPI             ErrorKind = "API"
	ErrorInvalidResponse ErrorKind = "INVALID_RESPONSE"
)

// ServerError is one server's failure outcome; the call that produced it
// still returns every other server's responses.
type ServerError struct {
	ServerID string    `json:"server_id"`
	Kind     ErrorKind `json:"error"`
	Detail   string    `json:"detail,omitempty"`
}

// InstanceResult is one instance's response body, flattened across all
// servers.
type InstanceResult struct {
	Metadata identity.Metadata
	Body     map[string]json.RawMessage
}

// JobsClient talks to every discovered API server. It keeps one dgram
// client for its lifetime, so sockets observed dead are skipped on
// subsequent calls.
type JobsClient struct {
	dir     string
	dg      *dgram.Client
	timeout time.Duration
}

// New returns a JobsClient over the socket directory dir.
func New(dir string) *JobsClient {
	return &JobsClient{dir: dir, dg: dgram.NewClient(), timeout: DefaultTimeout}
}

// SendRequest wraps the request with request_metadata, sends it to every
// discovered API server, and returns the flattened per-instance responses
// plus the per-server errors.
func (c *JobsClient) SendRequest(ctx context.Context, apiPath string, criteria *match.Criteria, body map[string]any) ([]InstanceResult, []ServerError) {
	reqMeta := map[string]any{"api": apiPath}
	if criteria != nil && !criteria.Empty() {
		reqMeta["instance_match"] = criteria
	}
	req := map[string]any{"request_metadata": reqMeta}
	for k, v := range body {
		req[k] = v
	}
	payload, err := json.Marshal(req)
	if err != nil {
		log.Error("failed to encode api request", "api", apiPath, "err", err)
		return nil, nil
	}

	targets, err := dgram.Discover(c.dir, api.Extension)
	if err != nil {
		log.Warn("failed to discover api sockets", "dir", c.dir, "err", err)
		return nil, nil
	}

	var (
		mu      sync.Mutex
		results []InstanceResult
		srvErrs []ServerError
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fanoutLimit)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			instances, srvErr := c.queryServer(target, string(payload))
			mu.Lock()
			defer mu.Unlock()
			results = append(results, instances...)
			if srvErr != nil {
				srvErrs = append(srvErrs, *srvErr)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, srvErrs
}

// queryServer performs one request round trip and classifies the outcome:
// transport error → SOCKET; unparseable or envelope-less reply →
// INVALID_RESPONSE; error document → API; otherwise the decoded instances.
func (c *JobsClient) queryServer(target, payload string) ([]InstanceResult, *ServerError) {
	serverID := strings.TrimSuffix(filepath.Base(target), api.Extension)

	raw, err := c.dg.Send(target, payload, c.timeout)
	if err != nil {
		return nil, &ServerError{ServerID: serverID, Kind: ErrorSocket, Detail: err.Error()}
	}

	var resp struct {
		ResponseMetadata *struct {
			Code  int `json:"code"`
			Error *struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"response_metadata"`
		Instances []json.RawMessage `json:"instances"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil || resp.ResponseMetadata == nil {
		return nil, &ServerError{ServerID: serverID, Kind: ErrorInvalidResponse, Detail: "missing or malformed response_metadata"}
	}
	if resp.ResponseMetadata.Error != nil {
		detail := resp.ResponseMetadata.Error.Reason
		return nil, &ServerError{ServerID: serverID, Kind: ErrorAPI, Detail: strconv.Itoa(resp.ResponseMetadata.Code) + ": " + detail}
	}

	out := make([]InstanceResult, 0, len(resp.Instances))
	for _, rawInst := range resp.Instances {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(rawInst, &fields); err != nil {
			return nil, &ServerError{ServerID: serverID, Kind: ErrorInvalidResponse, Detail: "malformed instance entry"}
		}
		var meta identity.Metadata
		if rawMeta, ok := fields["instance_metadata"]; ok {
			if err := json.Unmarshal(rawMeta, &meta); err != nil {
				return nil, &ServerError{ServerID: serverID, Kind: ErrorInvalidResponse, Detail: "malformed instance_metadata"}
			}
		}
		out = append(out, InstanceResult{Metadata: meta, Body: fields})
	}
	return out, nil
}

// ReadInstances returns the JobRun of every matching instance across all
// servers.
func (c *JobsClient) ReadInstances(ctx context.Context, criteria *match.Criteria) ([]jobrun.JobRun, []ServerError) {
	results, srvErrs := c.SendRequest(ctx, api.PathJobs, criteria, nil)
	runs := make([]jobrun.JobRun, 0, len(results))
	for _, r := range results {
		var jr jobrun.JobRun
		if raw, ok := r.Body["job_run"]; ok && json.Unmarshal(raw, &jr) == nil {
			runs = append(runs, jr)
		}
	}
	return runs, srvErrs
}

// ReleaseResult is one instance's release outcome.
type ReleaseResult struct {
	Metadata identity.Metadata
	Released bool
}

// ReleaseWaitingJobs signals release on every matching instance whose
// current phase declares waitingState.
func (c *JobsClient) ReleaseWaitingJobs(ctx context.Context, criteria match.Criteria, waitingState lifecycle.RunState) ([]ReleaseResult, []ServerError) {
	results, srvErrs := c.SendRequest(ctx, api.PathReleaseWaiting, &criteria, map[string]any{"waiting_state": waitingState.String()})
	return decodeReleased(results), srvErrs
}

// ReleasePendingJobs releases every matching instance belonging to the
// pending group.
func (c *JobsClient) ReleasePendingJobs(ctx context.Context, group string, criteria *match.Criteria) ([]ReleaseResult, []ServerError) {
	results, srvErrs := c.SendRequest(ctx, api.PathReleasePending, criteria, map[string]any{"pending_group": group})
	return decodeReleased(results), srvErrs
}

func decodeReleased(results []InstanceResult) []ReleaseResult {
	out := make([]ReleaseResult, 0, len(results))
	for _, r := range results {
		released := false
		if raw, ok := r.Body["released"]; ok {
			_ = json.Unmarshal(raw, &released)
		}
		out = append(out, ReleaseResult{Metadata: r.Metadata, Released: released})
	}
	return out
}

// StopResult is one instance's stop outcome.
type StopResult struct {
	Metadata identity.Metadata
	Result   string
}

// StopJobs stops every matching instance; refuses void criteria.
func (c *JobsClient) StopJobs(ctx context.Context, criteria match.Criteria) ([]StopResult, []ServerError, error) {
	if criteria.Empty() {
		return nil, nil, ErrEmptyCriteria
	}
	results, srvErrs := c.SendRequest(ctx, api.PathStop, &criteria, nil)
	out := make([]StopResult, 0, len(results))
	for _, r := range results {
		var result string
		if raw, ok := r.Body["result"]; ok {
			_ = json.Unmarshal(raw, &result)
		}
		out = append(out, StopResult{Metadata: r.Metadata, Result: result})
	}
	return out, srvErrs, nil
}

// TailResult is one instance's captured output tail.
type TailResult struct {
	Metadata identity.Metadata
	Lines    []instance.OutputLine
}

// ReadTail returns the last captured output lines of every matching
// instance.
func (c *JobsClient) ReadTail(ctx context.Context, criteria *match.Criteria) ([]TailResult, []ServerError) {
	results, srvErrs := c.SendRequest(ctx, api.PathTail, criteria, nil)
	out := make([]TailResult, 0, len(results))
	for _, r := range results {
		var lines []instance.OutputLine
		if raw, ok := r.Body["tail"]; ok {
			_ = json.Unmarshal(raw, &lines)
		}
		out = append(out, TailResult{Metadata: r.Metadata, Lines: lines})
	}
	return out, srvErrs
}

// DispatchResult is one instance's dispatch-signal outcome.
type DispatchResult struct {
	Metadata    identity.Metadata
	WaiterFound bool
	Executed    bool
}

// SignalDispatchJobs delivers /jobs/_signal/dispatch to every matching
// instance.
func (c *JobsClient) SignalDispatchJobs(ctx context.Context, criteria match.Criteria) ([]DispatchResult, []ServerError) {
	results, srvErrs := c.SendRequest(ctx, api.PathSignalDispatch, &criteria, nil)
	out := make([]DispatchResult, 0, len(results))
	for _, r := range results {
		var d DispatchResult
		d.Metadata = r.Metadata
		if raw, ok := r.Body["waiter_found"]; ok {
			_ = json.Unmarshal(raw, &d.WaiterFound)
		}
		if raw, ok := r.Body["executed"]; ok {
			_ = json.Unmarshal(raw, &d.Executed)
		}
		out = append(out, d)
	}
	return out, srvErrs
}
