package directory

// EntryFailure records one entry that could not be applied.
type EntryFailure struct {
	DN        string
	Reason    string
	Permanent bool
}

// CommitReport is the outcome of writing one batch. An entry lands in
// Succeeded, or in Failed with Permanent=true (explicitly rejected, will
// never succeed) or Permanent=false (retry budget exhausted, still
// unresolved).
type CommitReport struct {
	Stream    string
	Succeeded []string
	Failed    []EntryFailure
}

// FullyResolved reports whether every entry in the batch either succeeded
// or was permanently rejected. Only a fully resolved batch may advance the
// stream's bookmark: entries still pending retry must be replayed after a
// restart.
func (r *CommitReport) FullyResolved() bool {
	for _, f := range r.Failed {
		if !f.Permanent {
			return false
		}
	}
	return true
}

// Unresolved returns the failures still pending retry.
func (r *CommitReport) Unresolved() []EntryFailure {
	var out []EntryFailure
	for _, f := range r.Failed {
		if !f.Permanent {
			out = append(out, f)
		}
	}
	return out
}

// PermanentFailures returns the failures that were explicitly rejected.
func (r *CommitReport) PermanentFailures() []EntryFailure {
	var out []EntryFailure
	for _, f := range r.Failed {
		if f.Permanent {
			out = append(out, f)
		}
	}
	return out
}
