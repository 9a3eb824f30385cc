package domain

import (
	"errors"
	"fmt"
)

// Kind is the stable classification callers branch on.
type Kind string

const (
	KindProfileNotFound       Kind = "profile_not_found"
	KindDatabase              Kind = "database"
	KindInsufficientCredits   Kind = "insufficient_credits"
	KindRequestNotFound       Kind = "request_not_found"
	KindCannotJudgeOwnRequest Kind = "cannot_judge_own_request"
	KindRequestClosed         Kind = "request_closed"
	KindAlreadyResponded      Kind = "already_responded"
	KindInsufficientVerdicts  Kind = "insufficient_verdicts"
	KindSynthesisFailed       Kind = "synthesis_failed"
	KindSynthesisTimeout      Kind = "synthesis_timeout"
	KindInvalidInput          Kind = "invalid_input"
)

// UserFacing reports whether the error message can be shown to an end user
// as-is. Infrastructure kinds get a generic message instead.
func (k Kind) UserFacing() bool {
	switch k {
	case KindDatabase, KindSynthesisFailed, KindSynthesisTimeout, "":
		return false
	}
	return true
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrProfileNotFound       = &Error{Kind: KindProfileNotFound}
	ErrDatabase              = &Error{Kind: KindDatabase}
	ErrInsufficientCredits   = &Error{Kind: KindInsufficientCredits}
	ErrRequestNotFound       = &Error{Kind: KindRequestNotFound}
	ErrCannotJudgeOwnRequest = &Error{Kind: KindCannotJudgeOwnRequest}
	ErrRequestClosed         = &Error{Kind: KindRequestClosed}
	ErrAlreadyResponded      = &Error{Kind: KindAlreadyResponded}
	ErrInsufficientVerdicts  = &Error{Kind: KindInsufficientVerdicts}
	ErrSynthesisFailed       = &Error{Kind: KindSynthesisFailed}
	ErrSynthesisTimeout      = &Error{Kind: KindSynthesisTimeout}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput}
)

type Error struct {
	Kind    Kind
	Op      string
	TraceID string
	Message string
	Err     error

	// Set for KindInsufficientCredits.
	Required int
	Balance  int
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessage(e)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Shortfall is how many more credits the caller needs.
func (e *Error) Shortfall() int {
	if e.Required <= e.Balance {
		return 0
	}
	return e.Required - e.Balance
}

// PublicMessage is the text safe to render to an end user.
func (e *Error) PublicMessage() string {
	if !e.Kind.UserFacing() {
		return "Something went wrong. Please try again."
	}
	if e.Message != "" {
		return e.Message
	}
	return defaultMessage(e)
}

func defaultMessage(e *Error) string {
	switch e.Kind {
	case KindProfileNotFound:
		return "profile not found, please refresh and try again"
	case KindDatabase:
		return "database error"
	case KindInsufficientCredits:
		return fmt.Sprintf("insufficient credits: need %d more credits", e.Shortfall())
	case KindRequestNotFound:
		return "verdict request not found"
	case KindCannotJudgeOwnRequest:
		return "you cannot judge your own request"
	case KindRequestClosed:
		return "this request is no longer accepting verdicts"
	case KindAlreadyResponded:
		return "you have already submitted a verdict for this request"
	case KindInsufficientVerdicts:
		return "at least 2 verdicts are required for a consensus"
	case KindSynthesisFailed:
		return "consensus synthesis failed"
	case KindSynthesisTimeout:
		return "consensus synthesis timed out"
	case KindInvalidInput:
		return "invalid input"
	}
	return "unknown error"
}

// E builds an *Error of the given kind wrapping err.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid builds a KindInvalidInput error with a user-facing message.
func Invalid(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// WithTrace stamps traceID on err when it is an *Error without one.
func WithTrace(err error, traceID string) error {
	var e *Error
	if errors.As(err, &e) && e.TraceID == "" {
		e.TraceID = traceID
	}
	return err
}
