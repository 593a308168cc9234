package gai

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout means the deadline passed before the worker produced an
	// outcome. The worker keeps running.
	ErrTimeout = errors.New("gai: lookup timed out")

	// ErrItemNotFound means the caller's own item vanished from the registry.
	ErrItemNotFound = errors.New("gai: in-flight item not found")

	// ErrParamMismatch means a succeeded item carried parameters other than
	// the ones its caller registered.
	ErrParamMismatch = errors.New("gai: in-flight item does not match its request")

	// ErrInternalState means the item held a status the wait loop does not know.
	ErrInternalState = errors.New("gai: unexpected in-flight item status")

	// ErrStartFailed means no worker could be started. No item is
	// left registered.
	ErrStartFailed = errors.New("gai: could not start worker")

	// ErrClosed is wrapped by ErrStartFailed after Close.
	ErrClosed = errors.New("gai: resolver closed")
)

// Result codes of GetaddrinfoWithTimeout that are not resolver codes.
const (
	CodeOK            = 0
	CodeStartFailed   = -889
	CodeInternalState = -888
	CodeParamMismatch = -887
	CodeItemNotFound  = -886
	CodeTimeout       = -885
)

// getaddrinfo error codes, glibc numbering.
const (
	EAIBadFlags   = -1
	EAINoName     = -2
	EAIAgain      = -3
	EAIFail       = -4
	EAINoData     = -5
	EAIFamily     = -6
	EAISockType   = -7
	EAIService    = -8
	EAIAddrFamily = -9
	EAIMemory     = -10
	EAISystem     = -11
)

var codeNames = map[int]string{
	CodeOK:            "success",
	CodeStartFailed:   "worker start failed",
	CodeInternalState: "internal state error",
	CodeParamMismatch: "parameter mismatch",
	CodeItemNotFound:  "item not found",
	CodeTimeout:       "timed out",
	EAIBadFlags:       "bad value for ai_flags",
	EAINoName:         "name or service not known",
	EAIAgain:          "temporary failure in name resolution",
	EAIFail:           "non-recoverable failure in name resolution",
	EAINoData:         "no address associated with hostname",
	EAIFamily:         "ai_family not supported",
	EAISockType:       "ai_socktype not supported",
	EAIService:        "servname not supported for ai_socktype",
	EAIAddrFamily:     "address family for hostname not supported",
	EAIMemory:         "memory allocation failure",
	EAISystem:         "system error",
}

// CodeName describes a result code.
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("unknown error %d", code)
}

// ResolverError is a failure reported by the primitive. Code is passed to
// callers unchanged.
type ResolverError struct {
	Code int
	Node string
	Err  error
}

// NewResolverError creates a ResolverError for node.
func NewResolverError(code int, node string, err error) *ResolverError {
	return &ResolverError{Code: code, Node: node, Err: err}
}

func (e *ResolverError) Error() string {
	msg := CodeName(e.Code)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Node == "" {
		return "lookup: " + msg
	}
	return "lookup " + e.Node + ": " + msg
}

func (e *ResolverError) Unwrap() error {
	return e.Err
}

// asResolverError keeps resolver errors verbatim and wraps anything else.
func asResolverError(node string, err error) error {
	var rerr *ResolverError
	if errors.As(err, &rerr) {
		return err
	}
	return NewResolverError(EAISystem, node, err)
}

// IsTimeout reports whether err means the caller's deadline passed.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Code maps an error returned by Lookup to its integer result code.
// Cancellation of the caller's context also maps to CodeTimeout: in both
// cases the caller stopped waiting while the worker went on.
func Code(err error) int {
	if err == nil {
		return CodeOK
	}
	var rerr *ResolverError
	switch {
	case errors.As(err, &rerr):
		return rerr.Code
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrStartFailed):
		return CodeStartFailed
	case errors.Is(err, ErrItemNotFound):
		return CodeItemNotFound
	case errors.Is(err, ErrParamMismatch):
		return CodeParamMismatch
	default:
		return CodeInternalState
	}
}

// Outcome classifies how a lookup ended.
type Outcome string

const (
	OutcomeSucceeded     Outcome = "succeeded"
	OutcomeFailed        Outcome = "failed"
	OutcomeTimedOut      Outcome = "timed_out"
	OutcomeCanceled      Outcome = "canceled"
	OutcomeStartFailed   Outcome = "start_failed"
	OutcomeInternalError Outcome = "internal_error"
)

// OutcomeOf classifies err.
func OutcomeOf(err error) Outcome {
	var rerr *ResolverError
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.As(err, &rerr):
		return OutcomeFailed
	case errors.Is(err, ErrTimeout):
		return OutcomeTimedOut
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	case errors.Is(err, ErrStartFailed):
		return OutcomeStartFailed
	default:
		return OutcomeInternalError
	}
}
