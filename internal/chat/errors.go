package chat

import (
	"context"
	"errors"
	"fmt"
)

// Failure sentinels. Every error that leaves the send or resolution pipeline
// matches exactly one of these through errors.Is.
var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrRemoteUnavailable   = errors.New("remote unavailable")
	ErrRemoteTimeout       = errors.New("remote timeout")
	ErrNotFound            = errors.New("not found")
	ErrInvalidGroup        = errors.New("invalid group")
	ErrUnknown             = errors.New("unknown failure")

	ErrContactNotFound      = fmt.Errorf("contact %w", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)

	// ErrNotResendable marks a stored message that cannot be submitted again
	// as it is, such as one already synced or an attachment that never
	// uploaded. It is a constraint violation.
	ErrNotResendable = fmt.Errorf("not resendable: %w", ErrConstraintViolation)
)

// Kind names a failure class for logs, metrics and tool output.
type Kind string

const (
	KindConstraintViolation  Kind = "constraint_violation"
	KindRemoteUnavailable    Kind = "remote_unavailable"
	KindRemoteTimeout        Kind = "remote_timeout"
	KindNotFound             Kind = "not_found"
	KindContactNotFound      Kind = "contact_not_found"
	KindConversationNotFound Kind = "conversation_not_found"
	KindInvalidGroup         Kind = "invalid_group"
	KindUnknown              Kind = "unknown"
)

// Sentinel returns the error value that Kind k corresponds to.
func (k Kind) Sentinel() error {
	switch k {
	case KindConstraintViolation:
		return ErrConstraintViolation
	case KindRemoteUnavailable:
		return ErrRemoteUnavailable
	case KindRemoteTimeout:
		return ErrRemoteTimeout
	case KindNotFound:
		return ErrNotFound
	case KindContactNotFound:
		return ErrContactNotFound
	case KindConversationNotFound:
		return ErrConversationNotFound
	case KindInvalidGroup:
		return ErrInvalidGroup
	default:
		return ErrUnknown
	}
}

// Classify maps an arbitrary error onto the failure taxonomy.
// Specific not-found variants are checked before the generic one.
func Classify(err error) Kind {
	var pe *PipelineError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return pe.Kind
	case errors.Is(err, ErrContactNotFound):
		return KindContactNotFound
	case errors.Is(err, ErrConversationNotFound):
		return KindConversationNotFound
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConstraintViolation):
		return KindConstraintViolation
	case errors.Is(err, ErrRemoteTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindRemoteTimeout
	case errors.Is(err, ErrRemoteUnavailable):
		return KindRemoteUnavailable
	case errors.Is(err, ErrInvalidGroup):
		return KindInvalidGroup
	default:
		return KindUnknown
	}
}

// PipelineError is returned by the command orchestrator. It records which
// operation and stage failed and, for sends, the local id the caller can use
// to retry.
type PipelineError struct {
	Op      string
	Stage   string
	Kind    Kind
	LocalID string
	Err     error
}

// NewPipelineError classifies err and wraps it. A nil err yields nil.
func NewPipelineError(op, stage, localID string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Op: op, Stage: stage, Kind: Classify(err), LocalID: localID, Err: err}
}

func (e *PipelineError) Error() string {
	if e.LocalID != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Stage, e.LocalID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's Kind, so a timeout surfaced as
// context.DeadlineExceeded still satisfies errors.Is(err, ErrRemoteTimeout).
func (e *PipelineError) Is(target error) bool {
	if target == e.Kind.Sentinel() {
		return true
	}
	// Specific not-found kinds also match the generic sentinel.
	return target == ErrNotFound && (e.Kind == KindContactNotFound || e.Kind == KindConversationNotFound)
}
