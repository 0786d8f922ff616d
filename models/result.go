package models

import "time"

// ExtractionAttempt records one provider invocation. Immutable once the
// provider returns it.
type ExtractionAttempt struct {
	Provider     ProviderKind
	StartedAt    time.Time
	EndedAt      time.Time
	Outcome      OutcomeKind
	ErrorKind    ErrorKind
	Err          error
	RawItemCount int
	Items        []RawItem
}

// Duration is the wall time the attempt consumed.
func (a ExtractionAttempt) Duration() time.Duration {
	return a.EndedAt.Sub(a.StartedAt)
}

// ScrapeResult is the terminal outcome for one Target; exactly one is
// produced per call regardless of how many providers were tried.
type ScrapeResult struct {
	Domain           string
	Success          bool
	Listings         []*Listing
	ToolUsed         ProviderKind
	RetryCount       int
	Attempts         []ExtractionAttempt
	AggregatedErrors []ErrorKind
	StartTime        time.Time
	EndTime          time.Time
}

// BatchSummary aggregates a full run across domains for the operator
// report emitted at shutdown.
type BatchSummary struct {
	Targets       int
	Succeeded     int
	Failed        int
	TotalListings int
	TotalRetries  int
	ErrorsByKind  map[ErrorKind]int
	Elapsed       time.Duration
}
