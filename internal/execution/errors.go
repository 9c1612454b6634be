package execution

import (
	"context"
	"errors"
)

// Swap failure sentinels. Every failed Outcome wraps exactly one of them.
var (
	// ErrUnavailable covers transport failures before anything was signed:
	// quote or balance lookups that timed out or hit a server error.
	ErrUnavailable = errors.New("execution: upstream unavailable")

	ErrNoRoute       = errors.New("execution: no route")
	ErrBuildFailed   = errors.New("execution: build failed")
	ErrSubmitFailed  = errors.New("execution: submit failed")
	ErrNothingToSell = errors.New("execution: nothing to sell")

	// ErrConfirmationTimeout means the transaction was submitted but not seen
	// confirmed before the deadline. It may still land; never resubmit.
	ErrConfirmationTimeout = errors.New("execution: confirmation timeout")

	// ErrTransactionFailed means the transaction landed with an error.
	ErrTransactionFailed = errors.New("execution: transaction failed on-chain")

	ErrInvalidParams = errors.New("execution: invalid trade parameters")
)

// FailureKind is the operator-facing error taxonomy.
type FailureKind string

const (
	KindNone                 FailureKind = ""
	KindTransientUnavailable FailureKind = "TRANSIENT_UNAVAILABLE"
	KindNoViableRoute        FailureKind = "NO_VIABLE_ROUTE"
	KindExecutionFailed      FailureKind = "EXECUTION_FAILED"
	KindConfirmationTimeout  FailureKind = "CONFIRMATION_TIMEOUT"
)

// Classify maps an execution error onto the taxonomy.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfirmationTimeout):
		return KindConfirmationTimeout
	case errors.Is(err, ErrNoRoute):
		return KindNoViableRoute
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransientUnavailable
	default:
		return KindExecutionFailed
	}
}
