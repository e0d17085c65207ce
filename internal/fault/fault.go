// Package fault carries the error taxonomy shared by all components.
// Components return these instead of terminating; only the CLI entry
// points translate kinds to exit codes.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery and exit-code mapping.
type Kind string

const (
	KindInputValidation      Kind = "input_validation"
	KindNotFound             Kind = "not_found"
	KindRoleCardViolation    Kind = "role_card_violation"
	KindToolExecution        Kind = "tool_execution"
	KindProviderUnavailable  Kind = "provider_unavailable"
	KindStoreWrite           Kind = "store_write"
	KindBusSaturation        Kind = "bus_saturation"
	KindHeartbeatCheck       Kind = "heartbeat_check"
	KindLearningDistribution Kind = "learning_distribution"
)

// Error is a classified error. Err may be nil when the fault originates here.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without a cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. Returns nil when err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain, or "" when unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// ExitCode maps an error to the CLI exit code contract:
// 0 success, 1 generic error, 2 user input error, 3 not found.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindInputValidation:
		return 2
	case KindNotFound:
		return 3
	default:
		return 1
	}
}
