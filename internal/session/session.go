// Package session models the caller's session context: identity, entitlement and the
// per-session counters the pipeline consults at submission time.
package session

import (
	"strings"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// TeamInfo is present when the caller draws from a team-pooled quota.
type TeamInfo struct {
	TeamID     string `yaml:"team_id" json:"team_id"`
	QuotaUsed  int    `yaml:"quota_used" json:"quota_used"`
	QuotaLimit int    `yaml:"quota_limit" json:"quota_limit"`
}

// Session is the caller-session context object. It replaces ambient globals: every counter and
// preference the pipeline needs lives here and is loaded/saved through a Store.
type Session struct {
	// UserID is the opaque per-browser identifier sent as X-User-ID by anonymous callers.
	UserID string     `yaml:"user_id"`
	Role   batch.Role `yaml:"role"`
	Token  string     `yaml:"token,omitempty"`

	Tier          string    `yaml:"tier,omitempty"`
	APICallsCount int       `yaml:"api_calls_count"`
	APICallsLimit int       `yaml:"api_calls_limit"`
	TeamInfo      *TeamInfo `yaml:"team_info,omitempty"`

	// AnonymousValidations counts validations spent by an anonymous session.
	AnonymousValidations int `yaml:"anonymous_validations"`

	// KeepDuplicates disables deduplication; the zero value dedupes.
	KeepDuplicates bool `yaml:"keep_duplicates,omitempty"`
	DarkMode       bool `yaml:"dark_mode,omitempty"`
}

// Dedupe reports whether normalization should drop duplicates.
func (s Session) Dedupe() bool {
	return !s.KeepDuplicates
}

// EffectiveRole normalizes the stored role; a session without a token cannot be authenticated.
func (s Session) EffectiveRole() batch.Role {
	role := batch.ParseRole(string(s.Role))
	if role != batch.RoleAnonymous && strings.TrimSpace(s.Token) == "" {
		return batch.RoleAnonymous
	}
	return role
}

// Quota returns the entitlement the gatekeeper checks, preferring the team pool when present.
func (s Session) Quota() batch.Quota {
	if s.TeamInfo != nil {
		return batch.Quota{
			Used:        s.TeamInfo.QuotaUsed,
			Limit:       s.TeamInfo.QuotaLimit,
			IsTeamQuota: true,
		}
	}
	return batch.Quota{
		Used:  s.APICallsCount,
		Limit: s.APICallsLimit,
	}
}

// ApplyQuota writes reconciled usage back into the session: team_info.quota_used for team
// pools, api_calls_count otherwise.
func (s *Session) ApplyQuota(q batch.Quota) {
	if q.IsTeamQuota {
		if s.TeamInfo == nil {
			s.TeamInfo = &TeamInfo{}
		}
		s.TeamInfo.QuotaUsed = q.Used
		if q.Limit > 0 {
			s.TeamInfo.QuotaLimit = q.Limit
		}
		return
	}
	s.APICallsCount = q.Used
	if q.Limit > 0 {
		s.APICallsLimit = q.Limit
	}
}
