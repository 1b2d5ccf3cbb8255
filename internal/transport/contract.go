// Package transport selects and speaks the backend contracts used to validate a batch.
package transport

import (
	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// Contract identifies one backend variant.
type Contract struct {
	Name      string
	Path      string
	Streaming bool
	// Credential names which header authenticates the request.
	Credential Credential
}

// Credential is the kind of caller identification a contract sends.
type Credential int

const (
	CredentialNone Credential = iota
	CredentialBearer
	CredentialUserID
)

var (
	// ContractAdmin is the unlimited, non-streaming admin endpoint.
	ContractAdmin = Contract{
		Name:       "admin",
		Path:       "api/admin/validate/batch",
		Streaming:  false,
		Credential: CredentialBearer,
	}
	// ContractAuthenticated streams results to a signed-in caller.
	ContractAuthenticated = Contract{
		Name:       "authenticated",
		Path:       "api/validate/batch/stream",
		Streaming:  true,
		Credential: CredentialBearer,
	}
	// ContractAnonymous streams results to a caller identified only by a per-browser id.
	ContractAnonymous = Contract{
		Name:       "anonymous",
		Path:       "api/validate/batch/stream/anonymous",
		Streaming:  true,
		Credential: CredentialUserID,
	}
	// ContractAuthenticatedBulk is used when the caller cannot consume a stream.
	ContractAuthenticatedBulk = Contract{
		Name:       "authenticated-bulk",
		Path:       "api/validate/batch",
		Streaming:  false,
		Credential: CredentialBearer,
	}
	// ContractAnonymousBulk is the non-streaming anonymous variant.
	ContractAnonymousBulk = Contract{
		Name:       "anonymous-bulk",
		Path:       "api/validate/batch/anonymous",
		Streaming:  false,
		Credential: CredentialUserID,
	}
)

// Select picks the backend contract for a caller. It is a pure function and must be called
// before the request is issued: the streaming and bulk paths wire timeouts differently.
func Select(role batch.Role, streamingCapable bool) Contract {
	switch role {
	case batch.RoleAdmin:
		return ContractAdmin
	case batch.RoleAuthenticated:
		if !streamingCapable {
			return ContractAuthenticatedBulk
		}
		return ContractAuthenticated
	default:
		if !streamingCapable {
			return ContractAnonymousBulk
		}
		return ContractAnonymous
	}
}
