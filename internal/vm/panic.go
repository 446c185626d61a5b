package vm

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory reports an allocation that cannot be satisfied within the
// configured heap limit, even after a forced collection. It is returned to
// the caller, never raised as a panic: the embedding program decides whether
// allocation exhaustion is fatal.
var ErrOutOfMemory = errors.New("vm: heap limit exceeded")

// PanicCode identifies the type of VM panic. Panics are reserved for host
// programming errors; runtime conditions (allocation failure, lookup miss)
// are reported through return values.
type PanicCode int

// Stable panic codes - do not change values.
const (
	PanicInvalidHandle     PanicCode = 2001 // EM2001: invalid heap handle
	PanicUseAfterFree      PanicCode = 2002 // EM2002: handle used after sweep
	PanicKindMismatch      PanicCode = 2003 // EM2003: wrong object kind for operation
	PanicStackOverflow     PanicCode = 2004 // EM2004: value stack overflow
	PanicStackUnderflow    PanicCode = 2005 // EM2005: value stack underflow
	PanicFrameOverflow     PanicCode = 2006 // EM2006: call frame overflow
	PanicFrameUnderflow    PanicCode = 2007 // EM2007: call frame underflow
	PanicTempRootUnderflow PanicCode = 2008 // EM2008: temp root pop without push
)

// String returns the code as "EM2001" format.
func (c PanicCode) String() string {
	return fmt.Sprintf("EM%d", c)
}

// VMError represents a host-misuse panic in the runtime.
type VMError struct {
	Code      PanicCode
	Message   string
	Backtrace []string // function names, innermost first
}

// Error implements the error interface.
func (p *VMError) Error() string {
	return fmt.Sprintf("panic %s: %s", p.Code, p.Message)
}

// errorBuilder constructs VMError values with the current call backtrace.
type errorBuilder struct {
	vm *VM
}

func (eb *errorBuilder) makeError(code PanicCode, msg string) *VMError {
	e := &VMError{
		Code:    code,
		Message: msg,
	}
	if eb.vm == nil {
		return e
	}
	for i := len(eb.vm.frames) - 1; i >= 0; i-- {
		e.Backtrace = append(e.Backtrace, eb.vm.frameFuncName(&eb.vm.frames[i]))
	}
	return e
}

func (eb *errorBuilder) throw(code PanicCode, format string, args ...any) {
	panic(eb.makeError(code, fmt.Sprintf(format, args...)))
}
