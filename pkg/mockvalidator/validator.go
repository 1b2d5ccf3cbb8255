package mockvalidator

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/pkg/pipeline/core"
)

var emailRegex = regexp.MustCompile(`^(?i)[a-z0-9!#$%&'*+\/=?^_\x60{|}~-]+(?:\.[a-z0-9!#$%&'*+\/=?^_\x60{|}~-]+)*@(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

var disposableDomains = map[string]bool{
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"tempmail.com":      true,
	"yopmail.com":       true,
	"trashmail.com":     true,
}

var roleAccounts = map[string]bool{
	"admin":      true,
	"info":       true,
	"support":    true,
	"sales":      true,
	"contact":    true,
	"noreply":    true,
	"no-reply":   true,
	"webmaster":  true,
	"postmaster": true,
}

// SyntaxValid reports whether email is a plausible RFC 5321 address.
func SyntaxValid(email string) bool {
	if email == "" || len(email) > 254 || !emailRegex.MatchString(email) {
		return false
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return false
	}
	if len(local) > 64 || len(domain) > 253 || strings.Contains(email, "..") {
		return false
	}
	return !strings.HasPrefix(local, ".") && !strings.HasSuffix(local, ".")
}

// DefaultValidator checks syntax, disposable domains and role accounts. It never touches the
// network.
func DefaultValidator() core.Validator {
	return core.ValidatorFunc(func(ctx context.Context, email string) (batch.Result, error) {
		if err := ctx.Err(); err != nil {
			return batch.Result{}, err
		}
		syntax := SyntaxValid(email)
		local, domain, _ := strings.Cut(email, "@")
		disposable := disposableDomains[strings.ToLower(domain)]
		role := roleAccounts[strings.ToLower(local)]

		valid := syntax && !disposable
		score := 10
		risk := "high"
		switch {
		case valid && role:
			score, risk = 60, "medium"
		case valid:
			score, risk = 95, "low"
		}
		riskJSON, _ := json.Marshal(map[string]string{"level": risk})

		return batch.Result{
			Email:           email,
			Valid:           valid,
			ConfidenceScore: &score,
			Checks: map[string]bool{
				"syntax":     syntax,
				"disposable": disposable,
				"role_based": role,
			},
			Risk: riskJSON,
		}, nil
	})
}
