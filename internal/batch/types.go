// Package batch holds the data model shared by every stage of a batch validation submission.
package batch

import (
	"encoding/json"
	"strings"
)

// Role identifies the kind of caller submitting a batch.
type Role string

const (
	RoleAnonymous     Role = "anonymous"
	RoleAuthenticated Role = "authenticated"
	RoleAdmin         Role = "admin"
)

// ParseRole maps free-form input onto a known role. Unknown values resolve to anonymous.
func ParseRole(raw string) Role {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "admin":
		return RoleAdmin
	case "authenticated", "user", "auth":
		return RoleAuthenticated
	default:
		return RoleAnonymous
	}
}

// Job is one normalized submission. It is created once per submit and never mutated.
type Job struct {
	RawInput       string
	Items          []string
	OriginalCount  int
	DuplicateCount int
}

// Result is a single validation verdict produced by the backend.
//
// The enrichment/risk/bounce/deliverability sub-records are passed through untouched.
type Result struct {
	Email           string          `json:"email"`
	Valid           bool            `json:"valid"`
	ConfidenceScore *int            `json:"confidence_score,omitempty"`
	Checks          map[string]bool `json:"checks,omitempty"`
	Enrichment      json.RawMessage `json:"enrichment,omitempty"`
	Risk            json.RawMessage `json:"risk,omitempty"`
	Bounce          json.RawMessage `json:"bounce,omitempty"`
	Deliverability  json.RawMessage `json:"deliverability,omitempty"`

	// ReceivedAt is the 0-based arrival ordinal assigned by the client.
	ReceivedAt int `json:"-"`
}

// Domain returns the lower-cased part after the last '@', or "" when there is none.
func (r Result) Domain() string {
	at := strings.LastIndex(r.Email, "@")
	if at < 0 || at+1 >= len(r.Email) {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(r.Email[at+1:]))
}

// Progress is the derived per-result progress view.
type Progress struct {
	Current             int     `json:"current"`
	Total               int     `json:"total"`
	Percentage          float64 `json:"percentage"`
	ETASeconds          float64 `json:"eta_seconds"`
	ThroughputPerSecond float64 `json:"throughput_per_second"`
}

// DomainStat summarises results for a single domain.
type DomainStat struct {
	Total        int     `json:"total"`
	Valid        int     `json:"valid"`
	Invalid      int     `json:"invalid"`
	ProviderType string  `json:"provider_type,omitempty"`
	ValidityRate float64 `json:"validity_rate"`
}

// DomainStats is keyed by lower-cased domain.
type DomainStats map[string]DomainStat

// Aggregate is the observable state of one submission.
//
// ValidCount+InvalidCount == len(Results) holds whenever the aggregate is observed.
type Aggregate struct {
	Results           []Result
	ValidCount        int
	InvalidCount      int
	Total             int
	OriginalCount     int
	DuplicatesRemoved int

	DomainStats           DomainStats
	ProcessingTimeSeconds *float64
}

// NewAggregate seeds an aggregate from the client-side estimate of a job.
func NewAggregate(job Job) *Aggregate {
	return &Aggregate{
		Results:           make([]Result, 0, len(job.Items)),
		Total:             len(job.Items),
		OriginalCount:     job.OriginalCount,
		DuplicatesRemoved: job.DuplicateCount,
	}
}

// Append commits a flushed batch. Counts are updated from the batch alone.
func (a *Aggregate) Append(results []Result) {
	for _, r := range results {
		if r.Valid {
			a.ValidCount++
		} else {
			a.InvalidCount++
		}
	}
	a.Results = append(a.Results, results...)
}

// Correct folds server-reported totals into the client estimate. The server may only see the
// already-deduplicated list, so the larger original count wins and duplicates are never
// reported below what the client removed itself.
func (a *Aggregate) Correct(total, original, duplicates int) {
	if total > 0 {
		a.Total = total
	}
	if original > a.OriginalCount {
		a.OriginalCount = original
	}
	a.DuplicatesRemoved = max(duplicates, a.OriginalCount-a.Total, 0)
}

// Consistent reports whether the counters match the retained results.
func (a *Aggregate) Consistent() bool {
	return a.ValidCount+a.InvalidCount == len(a.Results)
}

// Clone returns a copy safe to hand to observers.
func (a *Aggregate) Clone() Aggregate {
	out := *a
	out.Results = make([]Result, len(a.Results))
	copy(out.Results, a.Results)
	if a.DomainStats != nil {
		out.DomainStats = make(DomainStats, len(a.DomainStats))
		for k, v := range a.DomainStats {
			out.DomainStats[k] = v
		}
	}
	if a.ProcessingTimeSeconds != nil {
		v := *a.ProcessingTimeSeconds
		out.ProcessingTimeSeconds = &v
	}
	return out
}

// Quota is the caller's entitlement as seen by the pipeline.
type Quota struct {
	Used        int  `json:"used"`
	Limit       int  `json:"limit"`
	IsTeamQuota bool `json:"is_team_quota"`
}

// Remaining returns how many validations are left, never negative.
func (q Quota) Remaining() int {
	if q.Limit-q.Used < 0 {
		return 0
	}
	return q.Limit - q.Used
}
