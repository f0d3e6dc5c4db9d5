package api

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/boshu2/jobphaser/dgram"
	"github.com/boshu2/jobphaser/internal/logging"
	"github.com/boshu2/jobphaser/match"
)

var log = logging.New("api")

// Server answers API requests for its registered instances over one
// datagram socket in the ".api" namespace. It replies "pong" to
// "ping" so the stale-socket cleanup can probe it.
type Server struct {
	srv       *dgram.Server
	resources map[string]resource

	mu        sync.Mutex
	instances []Instance
}

// NewServer binds a fresh ".api" socket under dir and starts serving.
func NewServer(dir string) (*Server, error) {
	s := &Server{resources: builtinResources()}
	srv, err := dgram.NewServer(dgram.SocketPath(dir, Extension), true, s.handle)
	if err != nil {
		return nil, err
	}
	s.srv = srv
	return s, nil
}

// Register adds inst to the served set.
func (s *Server) Register(inst Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = append(s.instances, inst)
}

// Unregister removes the instance with the given id; requests no longer
// reach it afterwards.
func (s *Server) Unregister(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, inst := range s.instances {
		if inst.InstanceID() == instanceID {
			s.instances = append(s.instances[:i], s.instances[i+1:]...)
			return
		}
	}
}

// Close stops serving and unlinks the socket file.
func (s *Server) Close() error { return s.srv.Close() }

// Path returns the server's socket path.
func (s *Server) Path() string { return s.srv.Path() }

func (s *Server) registered() []Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Instance(nil), s.instances...)
}

// handle implements the request pipeline: parse (400), envelope check
// (422), resource resolution (404), criteria parsing (422 on malformed
// criteria), resource field validation (422), instance filtering, then the
// per-instance handler with _ApiError pass-through and a single 500 for
// anything else.
func (s *Server) handle(body string) (string, bool) {
	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorResponse(400, "invalid request JSON"), true
	}
	if req.RequestMetadata == nil {
		return errorResponse(422, "missing field request_metadata"), true
	}

	res, ok := s.resources[req.RequestMetadata.API]
	if !ok {
		return errorResponse(404, "unknown api path: "+req.RequestMetadata.API), true
	}

	var criteria match.Criteria
	if len(req.RequestMetadata.InstanceMatch) > 0 {
		if err := json.Unmarshal(req.RequestMetadata.InstanceMatch, &criteria); err != nil {
			return errorResponse(422, "invalid instance_match criteria"), true
		}
	}

	if res.validate != nil {
		if err := res.validate(&req, criteria); err != nil {
			if apiErr, ok := err.(*Error); ok {
				return errorResponse(apiErr.Code, apiErr.Reason), true
			}
			return errorResponse(422, err.Error()), true
		}
	}

	matched := match.Filter(s.registered(), criteria)
	bodies := make([]map[string]any, 0, len(matched))
	for _, inst := range matched {
		instBody, err := s.runHandler(res, inst, &req)
		if err != nil {
			if apiErr, ok := err.(*Error); ok {
				return errorResponse(apiErr.Code, apiErr.Reason), true
			}
			log.Error("api handler failed", "api", req.RequestMetadata.API, "instance_id", inst.InstanceID(), "err", err)
			return errorResponse(500, "Unexpected API handler error"), true
		}
		instBody["instance_metadata"] = inst.InstanceMetadata()
		bodies = append(bodies, instBody)
	}

	resp := Response{
		ResponseMetadata: ResponseMetadata{Code: 200, RequestID: uuid.NewString()},
		Instances:        bodies,
	}
	out, err := json.Marshal(resp)
	if err != nil {
		log.Error("failed to encode api response", "api", req.RequestMetadata.API, "err", err)
		return errorResponse(500, "Unexpected API handler error"), true
	}
	return string(out), true
}

// runHandler invokes the resource handler, converting a panic into an error
// so one bad handler collapses into a 500 instead of killing the serving
// goroutine.
func (s *Server) runHandler(res resource, inst Instance, req *Request) (body map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("api handler panicked", "instance_id", inst.InstanceID(), "panic", rec)
			body, err = nil, NewError(500, "Unexpected API handler error")
		}
	}()
	return res.handle(context.Background(), inst, req)
}

func errorResponse(code int, reason string) string {
	resp := Response{
		ResponseMetadata: ResponseMetadata{
			Code:      code,
			RequestID: uuid.NewString(),
			Error:     &ResponseError{Reason: reason},
		},
	}
	out, _ := json.Marshal(resp)
	return string(out)
}
