package match

// MetadataCriteria implements the job-id allow-list and parameter-set
// matching: an instance matches if its job_id is in JobIDs (when
// non-empty) and its combined metadata is a superset of at least one of
// ParameterSets (when non-empty).
type MetadataCriteria struct {
	JobIDs        []string            `json:"job_ids,omitempty"`
	ParameterSets []map[string]string `json:"parameter_sets,omitempty"`
}

// Matches implements the predicate described above; an empty
// MetadataCriteria matches everything.
func (c MetadataCriteria) Matches(inst Instance) bool {
	if len(c.JobIDs) > 0 {
		found := false
		for _, id := range c.JobIDs {
			if id == inst.JobID() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.ParameterSets) > 0 {
		combined := inst.Metadata()
		found := false
		for _, set := range c.ParameterSets {
			if isSuperset(combined, set) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func isSuperset(have, want map[string]string) bool {
	for k, v := range want {
		if got, ok := have[k]; !ok || got != v {
			return false
		}
	}
	return true
}
