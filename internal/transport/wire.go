package transport

import (
	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// Request is the JSON body shared by every contract.
type Request struct {
	Emails           []string `json:"emails"`
	Advanced         bool     `json:"advanced"`
	RemoveDuplicates bool     `json:"remove_duplicates"`
}

// BulkResponse is the complete, non-streaming response body.
type BulkResponse struct {
	Results           []batch.Result    `json:"results"`
	ValidCount        int               `json:"valid_count"`
	InvalidCount      int               `json:"invalid_count"`
	Total             int               `json:"total"`
	OriginalCount     int               `json:"original_count"`
	DuplicatesRemoved int               `json:"duplicates_removed"`
	ProcessingTime    *float64          `json:"processing_time,omitempty"`
	DomainStats       batch.DomainStats `json:"domain_stats"`

	// QuotaUsage is only sent to authenticated, non-admin callers.
	QuotaUsage *batch.Quota `json:"quota_usage,omitempty"`
}

// Completion converts the bulk totals into the shape the reconciler consumes.
func (r BulkResponse) Completion() batch.Completion {
	return batch.Completion{
		ValidCount:        r.ValidCount,
		InvalidCount:      r.InvalidCount,
		Total:             r.Total,
		DuplicatesRemoved: r.DuplicatesRemoved,
		DomainStats:       r.DomainStats,
		ProcessingTime:    r.ProcessingTime,
		QuotaUsage:        r.QuotaUsage,
	}
}

// Credentials carries whatever identifies the caller to the backend.
type Credentials struct {
	Token  string
	UserID string
}
