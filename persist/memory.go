package persist

import (
	"sort"
	"sync"
	"time"

	"github.com/boshu2/jobphaser/jobrun"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
)

// MemoryStore is the in-memory reference Store: records live for the
// process lifetime, in insertion order.
type MemoryStore struct {
	mu   sync.Mutex
	runs []jobrun.JobRun
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Store implements Store.
func (s *MemoryStore) Store(jr jobrun.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, jr)
	return nil
}

// Len returns the number of stored runs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *MemoryStore) snapshot() []jobrun.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobrun.JobRun(nil), s.runs...)
}

// Read implements Store.
func (s *MemoryStore) Read(criteria match.Criteria, by Sort, asc bool, limit, offset int, last bool) ([]jobrun.JobRun, error) {
	matched := make([]jobrun.JobRun, 0)
	for _, jr := range s.snapshot() {
		if criteria.Matches(runInstance{jr}) {
			matched = append(matched, jr)
		}
	}

	if last {
		latest := make(map[string]jobrun.JobRun)
		for _, jr := range matched {
			prev, ok := latest[jr.Metadata.JobID]
			if !ok || createdAt(jr).After(createdAt(prev)) {
				latest[jr.Metadata.JobID] = jr
			}
		}
		matched = matched[:0]
		for _, jr := range latest {
			matched = append(matched, jr)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		var less bool
		switch by {
		case SortEnded:
			less = endedAt(matched[i]).Before(endedAt(matched[j]))
		case SortTime:
			less = executingTime(matched[i]) < executingTime(matched[j])
		default:
			less = createdAt(matched[i]).Before(createdAt(matched[j]))
		}
		if asc {
			return less
		}
		return !less
	})

	if offset > 0 {
		if offset >= len(matched) {
			return nil, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(criteria match.Criteria) ([]JobStats, error) {
	byJob := make(map[string]*JobStats)
	var order []string
	for _, jr := range s.snapshot() {
		if !criteria.Matches(runInstance{jr}) {
			continue
		}
		st, ok := byJob[jr.Metadata.JobID]
		if !ok {
			st = &JobStats{JobID: jr.Metadata.JobID}
			byJob[jr.Metadata.JobID] = st
			order = append(order, jr.Metadata.JobID)
		}
		st.Count++
		created := createdAt(jr)
		if st.FirstCreated.IsZero() || created.Before(st.FirstCreated) {
			st.FirstCreated = created
		}
		ended := endedAt(jr)
		if ended.After(st.LastEnded) {
			st.LastEnded = ended
		}
		if jr.Run.Termination != nil && jr.Run.Termination.Status.Has(lifecycle.FlagFailure) {
			st.FailedCount++
		}
		st.TotalTime += executingTime(jr)
	}
	out := make([]JobStats, 0, len(order))
	for _, id := range order {
		out = append(out, *byJob[id])
	}
	return out, nil
}

// Clean implements Store: drops records older than maxAge, then the oldest
// beyond maxRecords.
func (s *MemoryStore) Clean(maxRecords int, maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge)
		kept := s.runs[:0]
		for _, jr := range s.runs {
			if !endedAt(jr).Before(cutoff) {
				kept = append(kept, jr)
			}
		}
		s.runs = kept
	}
	if maxRecords > 0 && len(s.runs) > maxRecords {
		s.runs = append([]jobrun.JobRun(nil), s.runs[len(s.runs)-maxRecords:]...)
	}
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(criteria match.Criteria) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.runs[:0]
	for _, jr := range s.runs {
		if !criteria.Matches(runInstance{jr}) {
			kept = append(kept, jr)
		}
	}
	s.runs = kept
	return nil
}

var _ Store = (*MemoryStore)(nil)
