package disc

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures talking to external drive tooling.
type ErrorKind string

const (
	// KindLaunchFail means the tool could not be started or exited non-zero.
	KindLaunchFail ErrorKind = "launch_fail"
	// KindConvertToUTF means the tool output was not valid UTF-8.
	KindConvertToUTF ErrorKind = "convert_to_utf"
	// KindParse means the output was text but did not match the expected layout.
	KindParse ErrorKind = "parse"
)

var (
	ErrLaunchFail   = errors.New("tool launch failed")
	ErrConvertToUTF = errors.New("tool output is not valid utf-8")
	ErrParse        = errors.New("tool output could not be parsed")

	// ErrActuatorFailed is returned when every eject/close attempt reported failure.
	ErrActuatorFailed = errors.New("drive actuator reported failure")
)

// Error wraps a tool failure with its kind.
type Error struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Tool, e.sentinel())
	}
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.sentinel(), e.Err)
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindLaunchFail:
		return ErrLaunchFail
	case KindConvertToUTF:
		return ErrConvertToUTF
	default:
		return ErrParse
	}
}

func newError(kind ErrorKind, tool string, err error) *Error {
	return &Error{Kind: kind, Tool: tool, Err: err}
}

func parseErrorf(tool, format string, args ...any) *Error {
	return newError(KindParse, tool, fmt.Errorf(format, args...))
}

// Hint returns an operator-facing explanation for a discovery failure.
func Hint(err error) string {
	var discErr *Error
	if !errors.As(err, &discErr) {
		return ""
	}
	switch discErr.Kind {
	case KindLaunchFail:
		return fmt.Sprintf("Failed to launch %s. Is it not installed?", discErr.Tool)
	case KindConvertToUTF:
		return fmt.Sprintf("%s output was not valid UTF-8.", discErr.Tool)
	default:
		return fmt.Sprintf("Failed to parse %s output.", discErr.Tool)
	}
}
