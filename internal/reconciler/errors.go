package reconciler

import (
	"errors"
	"fmt"
)

var (
	// ErrPhaseOrder is returned for calls that violate
	// attach, inputs-changed*, detach ordering.
	ErrPhaseOrder = errors.New("reconciler: phase out of order")

	ErrNoSlot          = errors.New("reconciler: no such slot")
	ErrNotFireable     = errors.New("reconciler: manual handle cannot be fired")
	ErrNilDisposable   = errors.New("reconciler: activator returned no disposable")
	errDisposePanicked = errors.New("dispose panicked")
)

// Slot identifies a declarative or manual slot position.
type Slot struct {
	Index  int
	Manual bool
}

func (s Slot) String() string {
	if s.Manual {
		return fmt.Sprintf("manual slot %d", s.Index)
	}
	return fmt.Sprintf("slot %d", s.Index)
}

// DescriptorError reports a factory or binding failure.
type DescriptorError struct {
	Slot Slot
	Err  error
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("reconciler: %s: descriptor: %v", e.Slot, e.Err)
}

func (e *DescriptorError) Unwrap() error { return e.Err }

// ActivationError reports an Activator failure. The slot is left empty.
type ActivationError struct {
	Slot Slot
	Err  error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("reconciler: %s: activate: %v", e.Slot, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// DisposalError reports a failed Dispose. The handle is dropped regardless.
type DisposalError struct {
	Slot Slot
	Err  error
}

func (e *DisposalError) Error() string {
	return fmt.Sprintf("reconciler: %s: dispose: %v", e.Slot, e.Err)
}

func (e *DisposalError) Unwrap() error { return e.Err }
