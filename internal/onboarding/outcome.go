package onboarding

import (
	"github.com/google/uuid"

	"github.com/m3rciful/receiverbot/internal/provider"
)

// Outcome is what one flow step produced. Each outcome is rendered as exactly
// one chat message.
type Outcome string

const (
	OutcomeInvalidPhone     Outcome = "invalid_phone"
	OutcomeAlreadyExists    Outcome = "already_exists"
	OutcomeCodeSent         Outcome = "code_sent"
	OutcomeInvalidCode      Outcome = "invalid_code"
	OutcomeCodeRetry        Outcome = "code_retry"
	OutcomePasswordRequired Outcome = "password_required"
	OutcomePasswordRetry    Outcome = "password_retry"
	OutcomeRetryLater       Outcome = "retry_later"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeBanned           Outcome = "banned"
	OutcomeRevoked          Outcome = "revoked"
	OutcomeFrozen           Outcome = "frozen"
	OutcomeLimited          Outcome = "limited"
	OutcomeTryAgain         Outcome = "try_again"
	OutcomeSuccess          Outcome = "success"
	OutcomeCancelled        Outcome = "cancelled"
	// OutcomeStep is returned by registered step handlers; Detail carries
	// their result.
	OutcomeStep Outcome = "step"
)

// Reply is the result of a single Handle call.
type Reply struct {
	Outcome   Outcome
	Phone     string
	AccountID uuid.UUID
	Detail    any
}

func outcomeFor(class provider.Class) Outcome {
	switch class {
	case provider.ClassRateLimited:
		return OutcomeRateLimited
	case provider.ClassBanned:
		return OutcomeBanned
	case provider.ClassRevoked:
		return OutcomeRevoked
	case provider.ClassFrozen:
		return OutcomeFrozen
	case provider.ClassTransient:
		return OutcomeRetryLater
	default:
		return OutcomeTryAgain
	}
}
