// Package match implements the composable instance-matching criteria used
// by both the API server and the coordination phases.
package match

import (
	"time"

	"github.com/boshu2/jobphaser/lifecycle"
)

// Instance is the narrow view criteria need of a job instance. Concrete
// instance types (e.g. instance.Runner) satisfy this without match needing
// to import them, avoiding an import cycle.
type Instance interface {
	JobID() string
	InstanceID() string
	Metadata() map[string]string
	Phases() []string
	Flags() lifecycle.StatusFlag
	StateEnteredAt(state lifecycle.RunState) (time.Time, bool)
}
