package instance

import "sync"

// OutputMode selects which end of the buffer FetchOutput reads.
type OutputMode int

const (
	ModeHead OutputMode = iota
	ModeTail
)

// OutputLine is one captured output line, tagged with the phase that
// produced it and whether it came from the error stream.
type OutputLine struct {
	Phase   string `json:"phase"`
	Text    string `json:"text"`
	IsError bool   `json:"is_error"`
}

// OutputSink consumes output lines a phase produces. The Runner attaches
// one sink per output-producing phase for the duration of Run.
type OutputSink interface {
	Output(line string, isError bool)
}

// OutputSource is implemented by phases that produce output (e.g. a phase
// spawning a child process and capturing its stdout/stderr). The Runner
// attaches its capture sink before phaser.Run and removes it afterwards.
type OutputSource interface {
	AddOutputSink(sink OutputSink)
	RemoveOutputSink(sink OutputSink)
}

// StatusSink consumes free-form status updates from an executing phase
// (e.g. a progress line parsed out of the child's output).
type StatusSink interface {
	Status(status string)
}

// StatusSource is the status-channel analog of OutputSource.
type StatusSource interface {
	AddStatusSink(sink StatusSink)
	RemoveStatusSink(sink StatusSink)
}

// OutputSupport is an embeddable helper giving a Phase implementation the
// OutputSource/StatusSource plumbing: sinks register and deregister through
// it, and the phase body emits through Emit/EmitStatus. Safe for concurrent
// use.
type OutputSupport struct {
	mu          sync.Mutex
	outputSinks []OutputSink
	statusSinks []StatusSink
}

func (s *OutputSupport) AddOutputSink(sink OutputSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputSinks = append(s.outputSinks, sink)
}

func (s *OutputSupport) RemoveOutputSink(sink OutputSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.outputSinks {
		if o == sink {
			s.outputSinks = append(s.outputSinks[:i], s.outputSinks[i+1:]...)
			return
		}
	}
}

func (s *OutputSupport) AddStatusSink(sink StatusSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusSinks = append(s.statusSinks, sink)
}

func (s *OutputSupport) RemoveStatusSink(sink StatusSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.statusSinks {
		if o == sink {
			s.statusSinks = append(s.statusSinks[:i], s.statusSinks[i+1:]...)
			return
		}
	}
}

// Emit delivers one output line to every registered sink, in registration
// order (copy-on-notify, so a sink may deregister from its own callback).
func (s *OutputSupport) Emit(line string, isError bool) {
	s.mu.Lock()
	sinks := append([]OutputSink(nil), s.outputSinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		sink.Output(line, isError)
	}
}

// EmitStatus delivers one status update to every registered status sink.
func (s *OutputSupport) EmitStatus(status string) {
	s.mu.Lock()
	sinks := append([]StatusSink(nil), s.statusSinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		sink.Status(status)
	}
}

// OutputBuffer is the Runner's bounded in-memory ring of captured output
// lines, interleaving stdout and stderr in capture order. When full, the oldest lines are discarded.
type OutputBuffer struct {
	mu    sync.Mutex
	lines []OutputLine
	max   int
}

// NewOutputBuffer returns a buffer retaining at most max lines; max <= 0
// falls back to a sane default.
func NewOutputBuffer(max int) *OutputBuffer {
	if max <= 0 {
		max = defaultOutputCapacity
	}
	return &OutputBuffer{max: max}
}

// Append records one line, evicting the oldest if the buffer is full.
func (b *OutputBuffer) Append(line OutputLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= b.max {
		copy(b.lines, b.lines[1:])
		b.lines[len(b.lines)-1] = line
		return
	}
	b.lines = append(b.lines, line)
}

// Fetch returns the first (HEAD) or last (TAIL) n retained lines in capture
// order. n <= 0 returns everything retained.
func (b *OutputBuffer) Fetch(mode OutputMode, n int) []OutputLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]OutputLine, n)
	if mode == ModeHead {
		copy(out, b.lines[:n])
	} else {
		copy(out, b.lines[len(b.lines)-n:])
	}
	return out
}

// Len returns the number of retained lines.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
