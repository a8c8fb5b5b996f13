package domain

import "errors"

// Coordination error taxonomy. Errors local to one room or session must
// never affect other rooms; callers translate these into coarse error
// codes at the gateway boundary and never leak the internal kind.
var (
	// ErrCoordinationTimeout means a registry or bus call exhausted its
	// retry budget. The triggering client action fails; the process does not.
	ErrCoordinationTimeout = errors.New("coordination timeout")

	// ErrConflictingStreamState means an invalid stream transition was
	// requested, e.g. going private while a public broadcast is running.
	// The former mode must be stopped explicitly first.
	ErrConflictingStreamState = errors.New("conflicting stream state")

	// ErrUnauthorizedJoin means the paywall or identity check rejected a
	// join. No side effects are performed before the check.
	ErrUnauthorizedJoin = errors.New("unauthorized join")
)

// Error codes sent over the wire. Internal error kinds are mapped onto
// these; anything unrecognised becomes ErrCodeActionFailed.
const (
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeActionFailed = "ACTION_FAILED"
)

// ErrorCode maps an internal error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorizedJoin):
		return ErrCodeUnauthorized
	case errors.Is(err, ErrConflictingStreamState):
		return ErrCodeConflict
	default:
		return ErrCodeActionFailed
	}
}

// ErrorText returns the fixed client-facing message for a wire code.
// Internal error text never crosses the socket boundary.
func ErrorText(code string) string {
	switch code {
	case ErrCodeUnauthorized:
		return "Not allowed"
	case ErrCodeConflict:
		return "Conflicting stream state"
	case ErrCodeBadRequest:
		return "Invalid request"
	default:
		return "Action failed"
	}
}
