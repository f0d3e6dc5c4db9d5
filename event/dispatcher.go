package event

import (
	"encoding/json"
	"errors"

	"github.com/boshu2/jobphaser/dgram"
	"github.com/boshu2/jobphaser/internal/logging"
)

var log = logging.New("event")

// Dispatcher broadcasts JSON-encoded events to every socket discovered
// under dir with the given listener extension. Delivery is
// fire-and-forget: a slow or dead listener never blocks the caller.
type Dispatcher struct {
	client *dgram.Client
	dir    string
	ext    string
}

// NewDispatcher returns a Dispatcher bound to dir/ext.
func NewDispatcher(dir, ext string) *Dispatcher {
	return &Dispatcher{client: dgram.NewClient(), dir: dir, ext: ext}
}

// DispatchTransition broadcasts a phase-transition event.
func (d *Dispatcher) DispatchTransition(ev TransitionEvent) {
	d.broadcast(ev)
}

// DispatchOutput broadcasts an output event.
func (d *Dispatcher) DispatchOutput(ev OutputEvent) {
	d.broadcast(ev)
}

func (d *Dispatcher) broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("failed to encode event", "err", err)
		return
	}
	targets, err := dgram.Discover(d.dir, d.ext)
	if err != nil {
		log.Warn("failed to discover listener sockets", "dir", d.dir, "ext", d.ext, "err", err)
		return
	}
	body := string(data)
	for _, target := range targets {
		if _, err := d.client.Send(target, body, 0); err != nil {
			if errors.Is(err, dgram.ErrPayloadTooLarge) {
				log.Error("event payload too large, dropping", "target", target)
				continue
			}
			log.Debug("dispatch to listener failed", "target", target, "err", err)
		}
	}
}
