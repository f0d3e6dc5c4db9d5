package event

import (
	"encoding/json"
	"time"

	"github.com/boshu2/jobphaser/dgram"
	"github.com/boshu2/jobphaser/identity"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
)

// TransitionHandler observes transition events accepted by a Receiver.
type TransitionHandler func(TransitionEvent)

// OutputHandler observes output events accepted by a Receiver.
type OutputHandler func(OutputEvent)

// Receiver is a datagram server bound to one concrete listener socket; it
// applies an optional ID match and event-type filter before forwarding to
// its local handler.
type Receiver struct {
	server *dgram.Server
}

// NewTransitionReceiver binds path and forwards every TransitionEvent whose
// instance metadata satisfies idFilter (empty criteria accept all) to handler.
// Malformed payloads are dropped silently — a receiver is a best-effort
// event sink, not an API endpoint with structured error responses. The
// receiver answers pings so the stale-socket cleanup never unlinks a live
// listener.
func NewTransitionReceiver(path string, idFilter match.Criteria, handler TransitionHandler) (*Receiver, error) {
	srv, err := dgram.NewServer(path, true, func(body string) (string, bool) {
		var ev TransitionEvent
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return "", false
		}
		if ev.EventMetadata.EventType != TransitionEventType {
			return "", false
		}
		if !idFilter.Empty() && !idFilter.Matches(metadataInstance{ev.InstanceMetadata}) {
			return "", false
		}
		handler(ev)
		return "", false
	})
	if err != nil {
		return nil, err
	}
	return &Receiver{server: srv}, nil
}

// NewOutputReceiver is the output-channel analog of NewTransitionReceiver.
func NewOutputReceiver(path string, idFilter match.Criteria, handler OutputHandler) (*Receiver, error) {
	srv, err := dgram.NewServer(path, true, func(body string) (string, bool) {
		var ev OutputEvent
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return "", false
		}
		if ev.EventMetadata.EventType != OutputEventType {
			return "", false
		}
		if !idFilter.Empty() && !idFilter.Matches(metadataInstance{ev.InstanceMetadata}) {
			return "", false
		}
		handler(ev)
		return "", false
	})
	if err != nil {
		return nil, err
	}
	return &Receiver{server: srv}, nil
}

// Close stops the receiver and unlinks its socket file.
func (r *Receiver) Close() error { return r.server.Close() }

// Path returns the receiver's socket path, suitable for registering as a
// discoverable listener.
func (r *Receiver) Path() string { return r.server.Path() }

// metadataInstance adapts identity.Metadata to match.Instance for a
// Receiver's filter: ID and metadata (parameter-set) criteria see the real
// values, while Phases, Flags and StateEnteredAt are not known from
// metadata alone and report nothing.
type metadataInstance struct {
	meta identity.Metadata
}

func (m metadataInstance) JobID() string              { return m.meta.JobID }
func (m metadataInstance) InstanceID() string          { return m.meta.InstanceID }
func (m metadataInstance) Metadata() map[string]string { return m.meta.Combined() }
func (m metadataInstance) Phases() []string            { return nil }
func (m metadataInstance) Flags() lifecycle.StatusFlag { return 0 }
func (m metadataInstance) StateEnteredAt(lifecycle.RunState) (time.Time, bool) {
	return time.Time{}, false
}
