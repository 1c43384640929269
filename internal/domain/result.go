package domain

import (
	"sort"
	"time"
)

// Status classifies the outcome of one day's ingestion.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// DateResult records the outcome of processing one day. Failures carry a
// reason; they are data, not control flow, so one bad day never aborts a
// multi-year run.
type DateResult struct {
	Source string    `json:"source"`
	Day    time.Time `json:"day"`
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// RunReport aggregates the per-day outcomes of one ingestion run.
type RunReport struct {
	Source      string
	Range       DateRange
	Started     time.Time
	Finished    time.Time
	Results     []DateResult
	FailedYears []int // years whose archive append ultimately failed
}

// Add appends a day's result.
func (r *RunReport) Add(res DateResult) {
	r.Results = append(r.Results, res)
}

// AddFailedYear records an archive shard that could not be committed.
func (r *RunReport) AddFailedYear(year int) {
	for _, y := range r.FailedYears {
		if y == year {
			return
		}
	}
	r.FailedYears = append(r.FailedYears, year)
	sort.Ints(r.FailedYears)
}

// Count returns the number of results with the given status.
func (r *RunReport) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Summary returns slog attributes describing the run, so a follow-up
// invocation can target exactly the remaining gaps.
func (r *RunReport) Summary() []any {
	return []any{
		"source", r.Source,
		"range", r.Range.String(),
		"succeeded", r.Count(StatusSucceeded),
		"skipped", r.Count(StatusSkipped),
		"failed", r.Count(StatusFailed),
		"archive_failed_years", r.FailedYears,
		"duration", r.Finished.Sub(r.Started).String(),
	}
}
