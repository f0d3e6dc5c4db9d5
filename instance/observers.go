package instance

import (
	"sort"
	"sync"

	"github.com/boshu2/jobphaser/jobrun"
	"github.com/boshu2/jobphaser/lifecycle"
)

// TransitionObserver observes phase transitions of one Runner, in order.
// jr is the serialisable instance snapshot taken at the instant of the
// transition.
type TransitionObserver interface {
	OnPhaseTransition(prev, curr *lifecycle.PhaseRun, ordinal int, jr jobrun.JobRun)
}

// TransitionObserverFunc adapts a function to TransitionObserver.
type TransitionObserverFunc func(prev, curr *lifecycle.PhaseRun, ordinal int, jr jobrun.JobRun)

func (f TransitionObserverFunc) OnPhaseTransition(prev, curr *lifecycle.PhaseRun, ordinal int, jr jobrun.JobRun) {
	f(prev, curr, ordinal, jr)
}

// OutputObserver observes captured output lines in capture order.
type OutputObserver interface {
	OnOutput(phase lifecycle.PhaseMetadata, line string, isError bool)
}

// OutputObserverFunc adapts a function to OutputObserver.
type OutputObserverFunc func(phase lifecycle.PhaseMetadata, line string, isError bool)

func (f OutputObserverFunc) OnOutput(phase lifecycle.PhaseMetadata, line string, isError bool) {
	f(phase, line, isError)
}

// StatusObserver observes status updates forwarded from executing phases.
type StatusObserver interface {
	OnStatus(phase lifecycle.PhaseMetadata, status string)
}

// StatusObserverFunc adapts a function to StatusObserver.
type StatusObserverFunc func(phase lifecycle.PhaseMetadata, status string)

func (f StatusObserverFunc) OnStatus(phase lifecycle.PhaseMetadata, status string) {
	f(phase, status)
}

// registry is one priority-ordered observer list with copy-on-notify
// semantics: snapshot() takes the list under a
// short lock so callbacks may (de)register during notification. Lower
// priority runs earlier; ties keep registration order.
type registry[T comparable] struct {
	mu      sync.Mutex
	entries []registryEntry[T]
	seq     int
}

type registryEntry[T comparable] struct {
	obs      T
	priority int
	seq      int
}

func (r *registry[T]) add(obs T, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.entries = append(r.entries, registryEntry[T]{obs: obs, priority: priority, seq: r.seq})
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].priority != r.entries[j].priority {
			return r.entries[i].priority < r.entries[j].priority
		}
		return r.entries[i].seq < r.entries[j].seq
	})
}

func (r *registry[T]) remove(obs T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.obs == obs {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *registry[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.obs
	}
	return out
}
