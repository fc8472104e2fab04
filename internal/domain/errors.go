package domain

import "errors"

// Sentinel errors returned by the ledger, bus, and usecase layers. Callers
// should check these with errors.Is; adapters wrap them with fmt.Errorf's
// %w verb so the underlying driver error is never discarded.
var (
	// ErrInsufficientFunds is returned when a debit's guarded UPDATE affects
	// zero rows because the wallet balance is below the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNotFound is returned when a user, job, transaction, or model row
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on a unique-constraint violation, e.g. a
	// duplicate idempotency key.
	ErrConflict = errors.New("conflict")
	// ErrAlreadySettled is returned by the settlement engine when a job is
	// not in the pending state it expects.
	ErrAlreadySettled = errors.New("job already settled")
	// ErrBusUnavailable is returned when the AMQP broker cannot be reached
	// or a publish could not be confirmed after retrying.
	ErrBusUnavailable = errors.New("message bus unavailable")
	// ErrTimeout is returned when an RPC reply does not arrive before its
	// deadline.
	ErrTimeout = errors.New("timed out")
	// ErrStorage is returned for storage failures that don't map to a more
	// specific sentinel.
	ErrStorage = errors.New("storage error")
	// ErrValidation is returned when inbound data fails struct validation,
	// before any unit of work opens.
	ErrValidation = errors.New("validation failed")
	// ErrRateLimited is returned when a caller exceeds the replenishment
	// request bucket, surfaced before any state change.
	ErrRateLimited = errors.New("rate limited")
)

// ErrorCode maps a domain error to the stable string code surfaced over the
// wire, mirroring the teacher's errorCodeFromJobError switch.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, ErrBusUnavailable):
		return "bus_unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
