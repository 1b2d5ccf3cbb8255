package reconcile

import "github.com/shpitdev/email-batch-validator/internal/batch"

var freeProviders = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"live.com":       true,
	"icloud.com":     true,
	"me.com":         true,
	"aol.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
	"gmx.com":        true,
	"yandex.com":     true,
	"mail.com":       true,
	"zoho.com":       true,
}

// ProviderType classifies a domain as "free" mail or "business".
func ProviderType(domain string) string {
	if freeProviders[domain] {
		return "free"
	}
	return "business"
}

// DomainStats summarises results per lower-cased domain. It never returns nil.
func DomainStats(results []batch.Result) batch.DomainStats {
	out := make(batch.DomainStats)
	for _, r := range results {
		d := r.Domain()
		if d == "" {
			d = "(none)"
		}
		st := out[d]
		st.Total++
		if r.Valid {
			st.Valid++
		} else {
			st.Invalid++
		}
		out[d] = st
	}
	for d, st := range out {
		st.ProviderType = ProviderType(d)
		st.ValidityRate = float64(st.Valid) / float64(st.Total)
		out[d] = st
	}
	return out
}
