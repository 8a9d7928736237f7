package domain

import (
	"fmt"
	"time"
)

// RunState enumerates the ingestion pass milestones.
type RunState string

const (
	StateFetching    RunState = "fetching"
	StateNormalizing RunState = "normalizing"
	StateAnalyzing   RunState = "analyzing"
	StateGating      RunState = "gating"
	StatePersisting  RunState = "persisting"
	StateIndexing    RunState = "indexing"
	StateNotifying   RunState = "notifying"
	StateDone        RunState = "done"
)

// ItemFailure records one isolated failure inside a stage.
type ItemFailure struct {
	Stage  RunState
	Key    string
	Source string
	Err    error
}

func (f ItemFailure) Error() string {
	if f.Key == "" {
		return fmt.Sprintf("%s: source %s: %v", f.Stage, f.Source, f.Err)
	}
	return fmt.Sprintf("%s: %s: %v", f.Stage, f.Key, f.Err)
}

func (f ItemFailure) Unwrap() error {
	return f.Err
}

// RunSummary is returned by one ingestion pass.
type RunSummary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	State      RunState

	Fetched     int
	Known       int
	Normalized  int
	Analyzed    int
	Accepted    int
	Rejected    int
	Persisted   int
	Duplicates  int
	Indexed     int
	IndexFailed int
	Notified    bool

	Failures []ItemFailure
}

// Fail appends a failure to the summary.
func (s *RunSummary) Fail(stage RunState, key, source string, err error) {
	s.Failures = append(s.Failures, ItemFailure{Stage: stage, Key: key, Source: source, Err: err})
}

// IndexReport summarizes an indexing or catch-up pass.
type IndexReport struct {
	Attempted int
	Indexed   int
	Failed    int
	Failures  []ItemFailure
}
