package api

import (
	"context"

	"github.com/boshu2/jobphaser/instance"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
)

const defaultTailLines = 100

// resource binds a path to its field validation and per-instance handler.
type resource struct {
	validate func(req *Request, criteria match.Criteria) error
	handle   func(ctx context.Context, inst Instance, req *Request) (map[string]any, error)
}

func builtinResources() map[string]resource {
	return map[string]resource{
		PathJobs: {
			handle: func(_ context.Context, inst Instance, _ *Request) (map[string]any, error) {
				jr, err := inst.JobRunInfo()
				if err != nil {
					return nil, err
				}
				return map[string]any{"job_run": jr}, nil
			},
		},

		PathReleaseWaiting: {
			validate: func(req *Request, _ match.Criteria) error {
				if req.WaitingState == "" {
					return NewError(422, "missing field waiting_state")
				}
				state, ok := lifecycle.ParseRunState(req.WaitingState)
				if !ok || !state.IsWaiting() {
					return NewError(422, "waiting_state is not a waiting state: "+req.WaitingState)
				}
				return nil
			},
			handle: func(_ context.Context, inst Instance, req *Request) (map[string]any, error) {
				state, _ := lifecycle.ParseRunState(req.WaitingState)
				return map[string]any{"released": inst.ReleaseWaiting(state)}, nil
			},
		},

		PathReleasePending: {
			validate: func(req *Request, _ match.Criteria) error {
				if req.PendingGroup == "" {
					return NewError(422, "missing field pending_group")
				}
				return nil
			},
			handle: func(_ context.Context, inst Instance, req *Request) (map[string]any, error) {
				return map[string]any{"released": inst.ReleasePending(req.PendingGroup)}, nil
			},
		},

		PathStop: {
			validate: func(_ *Request, criteria match.Criteria) error {
				// A stop with void criteria would stop every registered
				// instance; refuse it outright.
				if criteria.Empty() {
					return NewError(422, "stop requires non-empty instance_match criteria")
				}
				return nil
			},
			handle: func(ctx context.Context, inst Instance, _ *Request) (map[string]any, error) {
				if err := inst.Stop(ctx); err != nil {
					return nil, err
				}
				return map[string]any{"result": "stop_performed"}, nil
			},
		},

		PathTail: {
			handle: func(_ context.Context, inst Instance, req *Request) (map[string]any, error) {
				lines := req.MaxLines
				if lines <= 0 {
					lines = defaultTailLines
				}
				return map[string]any{"tail": inst.FetchOutput(instance.ModeTail, lines)}, nil
			},
		},

		PathSignalDispatch: {
			handle: func(_ context.Context, inst Instance, _ *Request) (map[string]any, error) {
				waiterFound, executed := inst.SignalDispatch()
				return map[string]any{"waiter_found": waiterFound, "executed": executed}, nil
			},
		},
	}
}
