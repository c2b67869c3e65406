package drive

import (
	"errors"
	"fmt"
)

// StateKind enumerates the lifecycle states of one drive.
type StateKind int

const (
	Setup StateKind = iota
	NoDisc
	Copying
	WaitingForName
	ConfirmingName
	Saving
	Done
	CopyReadError
	CopyWriteError
)

var stateNames = map[StateKind]string{
	Setup:          "setup",
	NoDisc:         "no_disc",
	Copying:        "copying",
	WaitingForName: "waiting_for_name",
	ConfirmingName: "confirming_name",
	Saving:         "saving",
	Done:           "done",
	CopyReadError:  "copy_read_error",
	CopyWriteError: "copy_write_error",
}

func (k StateKind) String() string {
	if name, ok := stateNames[k]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(k))
}

// MarshalText renders the kind by name so JSON clients see "copying".
func (k StateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *StateKind) UnmarshalText(text []byte) error {
	for kind, name := range stateNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown drive state %q", text)
}

// State is the current lifecycle position of a drive. Name carries the target
// image path for Saving and the pending path for ConfirmingName.
type State struct {
	Kind StateKind `json:"kind"`
	Name string    `json:"name,omitempty"`
}

func (s State) String() string {
	if s.Name == "" {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Name)
}

// Message is the operator-facing status text.
func (s State) Message() string {
	switch s.Kind {
	case Setup:
		return "Setting up..."
	case NoDisc:
		return "No Disk."
	case Copying:
		return "Copying..."
	case WaitingForName:
		return "Waiting for a name."
	case ConfirmingName:
		return "Confirming overwrite."
	case Saving:
		return "Saving..."
	case Done:
		return "Done."
	case CopyReadError:
		return "Error reading disk."
	case CopyWriteError:
		return "Error writing to output file."
	}
	return ""
}

// Settled reports whether the cycle has ended and the drive only waits for
// the disc to be removed.
func (s State) Settled() bool {
	switch s.Kind {
	case Done, CopyReadError, CopyWriteError:
		return true
	}
	return false
}

var (
	// ErrIllegalTransition reports a write that is not an edge of the lifecycle table.
	ErrIllegalTransition = errors.New("illegal drive state transition")
	// ErrNameRequired reports an empty operator-supplied image name.
	ErrNameRequired = errors.New("image name required")
)

// TransitionError describes a rejected state write.
type TransitionError struct {
	From State
	To   StateKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("drive state %s cannot move to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// transitions lists every legal edge. Saving -> WaitingForName covers a
// failed rename so the operator can choose another name.
var transitions = map[StateKind][]StateKind{
	Setup:          {NoDisc},
	NoDisc:         {Copying, Done},
	Copying:        {WaitingForName, CopyReadError, CopyWriteError},
	WaitingForName: {Saving, ConfirmingName},
	ConfirmingName: {WaitingForName, Saving},
	Saving:         {Done, WaitingForName},
	Done:           {NoDisc},
	CopyReadError:  {NoDisc},
	CopyWriteError: {NoDisc},
}

// CanTransition reports whether from -> to is a lifecycle edge.
func CanTransition(from, to StateKind) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
