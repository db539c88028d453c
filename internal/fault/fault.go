// Package fault defines the error kinds a bastion session can end with and
// how each one is reported to the user.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSetup indicates missing or invalid installation configuration.
	ErrSetup = errors.New("setup")
	// ErrProvisioning indicates local credential generation failed.
	ErrProvisioning = errors.New("provisioning")
	// ErrLaunch indicates the remote platform rejected task creation.
	ErrLaunch = errors.New("launch")
	// ErrTaskFailed indicates the task stopped before it became ready.
	ErrTaskFailed = errors.New("task failed")
	// ErrAddressResolution indicates no usable address exists under the protocol policy.
	ErrAddressResolution = errors.New("address resolution")
	// ErrUnsupportedMode indicates a required local binary is missing.
	ErrUnsupportedMode = errors.New("unsupported mode")
	// ErrHandshake indicates the tunnel closed its output before signalling readiness.
	ErrHandshake = errors.New("handshake")
	// ErrNoMatch indicates no database matched the selection criteria.
	ErrNoMatch = errors.New("no match")
)

// Kinds lists every fatal kind, in taxonomy order.
var Kinds = []error{
	ErrSetup,
	ErrProvisioning,
	ErrLaunch,
	ErrTaskFailed,
	ErrAddressResolution,
	ErrUnsupportedMode,
	ErrHandshake,
	ErrNoMatch,
}

// Error is a classified failure carrying a user-facing message.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E classifies err under kind with a formatted message. err may be nil.
func E(kind error, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Setupf is shorthand for a setup failure without an underlying cause.
func Setupf(format string, args ...any) error {
	return E(ErrSetup, nil, format, args...)
}

// KindOf returns the taxonomy kind of err, or nil when err is unclassified.
func KindOf(err error) error {
	for _, k := range Kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// AmbiguousSelectionError reports that several databases matched and none
// was named. It is not fatal: the CLI lists the candidates and exits cleanly.
type AmbiguousSelectionError struct {
	Candidates []string
}

func (e *AmbiguousSelectionError) Error() string {
	return fmt.Sprintf("multiple databases available (%s)", strings.Join(e.Candidates, ", "))
}

// ExitError carries a child process's non-zero exit status through to the
// process exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}
