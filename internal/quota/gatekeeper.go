// Package quota implements pre-flight admission control for batch submissions.
package quota

import (
	"strings"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/session"
)

// Tier is one rung of the paid-plan ladder.
type Tier struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Limit int    `mapstructure:"limit" yaml:"limit"`
}

// DefaultTiers is the ladder used when none is configured, cheapest first.
var DefaultTiers = []Tier{
	{Name: "free", Limit: 100},
	{Name: "starter", Limit: 10000},
	{Name: "pro", Limit: 100000},
	{Name: "enterprise", Limit: 1000000},
}

// Options configures the gatekeeper.
type Options struct {
	// AnonymousLimit is the per-session ceiling for anonymous validations.
	AnonymousLimit int
	// AnonymousBatchEnabled allows anonymous callers to use batch mode at all.
	AnonymousBatchEnabled bool
	// AnonymousAllowOverflow admits any anonymous batch while the counter is below the
	// ceiling, even when the batch is larger than the remaining allowance.
	AnonymousAllowOverflow bool
	// Tiers is the ladder, cheapest first.
	Tiers []Tier
}

func (o Options) withDefaults() Options {
	if o.AnonymousLimit <= 0 {
		o.AnonymousLimit = 5
	}
	if len(o.Tiers) == 0 {
		o.Tiers = DefaultTiers
	}
	return o
}

// Gatekeeper decides whether a batch may be sent. It never mutates the session.
type Gatekeeper struct {
	opts Options
}

// NewGatekeeper returns a gatekeeper with defaults applied.
func NewGatekeeper(opts Options) *Gatekeeper {
	return &Gatekeeper{opts: opts.withDefaults()}
}

// Admit returns nil when a batch of items validations may be submitted for s, or a
// *batch.QuotaError describing why not.
func (g *Gatekeeper) Admit(items int, s session.Session) error {
	switch s.EffectiveRole() {
	case batch.RoleAdmin:
		return nil
	case batch.RoleAuthenticated:
		return g.admitAuthenticated(items, s)
	default:
		return g.admitAnonymous(items, s)
	}
}

func (g *Gatekeeper) admitAnonymous(items int, s session.Session) error {
	if !g.opts.AnonymousBatchEnabled {
		return &batch.QuotaError{
			Role:          batch.RoleAnonymous,
			Requested:     items,
			Reason:        "batch validation requires an account",
			NextTier:      g.opts.Tiers[0].Name,
			NextTierLimit: g.opts.Tiers[0].Limit,
		}
	}
	remaining := g.opts.AnonymousLimit - s.AnonymousValidations
	if remaining < 0 {
		remaining = 0
	}
	if s.AnonymousValidations < g.opts.AnonymousLimit && (g.opts.AnonymousAllowOverflow || items <= remaining) {
		return nil
	}
	return &batch.QuotaError{
		Role:          batch.RoleAnonymous,
		Requested:     items,
		Remaining:     remaining,
		NextTier:      g.opts.Tiers[0].Name,
		NextTierLimit: g.opts.Tiers[0].Limit,
	}
}

func (g *Gatekeeper) admitAuthenticated(items int, s session.Session) error {
	tierIdx := g.tierIndex(s.Tier)
	q := s.Quota()
	if q.Limit <= 0 && !q.IsTeamQuota {
		q.Limit = g.opts.Tiers[tierIdx].Limit
	}
	if items <= q.Remaining() {
		return nil
	}

	qe := &batch.QuotaError{
		Role:      batch.RoleAuthenticated,
		Tier:      g.opts.Tiers[tierIdx].Name,
		Requested: items,
		Remaining: q.Remaining(),
	}
	if tierIdx+1 < len(g.opts.Tiers) {
		qe.NextTier = g.opts.Tiers[tierIdx+1].Name
		qe.NextTierLimit = g.opts.Tiers[tierIdx+1].Limit
	}
	return qe
}

// tierIndex resolves a tier name; unknown names fall back to the cheapest tier.
func (g *Gatekeeper) tierIndex(name string) int {
	name = strings.TrimSpace(strings.ToLower(name))
	for i, t := range g.opts.Tiers {
		if strings.EqualFold(t.Name, name) {
			return i
		}
	}
	return 0
}
