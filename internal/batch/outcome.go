package batch

// State is the lifecycle position of a submission.
type State string

const (
	StateIdle       State = "idle"
	StateSending    State = "sending"
	StateStreaming  State = "streaming"
	StateCompleting State = "completing"
	StateDone       State = "done"
	StatePartial    State = "partial"
	StateFailed     State = "failed"
)

// Completion carries the authoritative totals of a finished job.
type Completion struct {
	ValidCount        int
	InvalidCount      int
	Total             int
	DuplicatesRemoved int
	DomainStats       DomainStats

	// ProcessingTime is the server-reported duration in seconds, if any.
	ProcessingTime *float64

	// QuotaUsage is only present for authenticated callers.
	QuotaUsage *Quota
}

// Outcome is what a submission hands back to its caller.
type Outcome struct {
	State     State
	Aggregate Aggregate
	Progress  Progress

	// Completion is nil unless the backend reported completion.
	Completion *Completion

	// Quota is the caller's entitlement after reconciliation, if it changed.
	Quota *Quota

	// Warning is set when a failure was downgraded to partial results.
	Warning *PartialResultsWarning

	// HistoryDropped counts results this submission could not hand to the local history
	// because its write queue was full.
	HistoryDropped int
}
