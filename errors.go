package ihook

import "fmt"

// Code is a stable, numeric error code returned by every public entry
// point. Codes are grouped by decade: general (-1..-99), memory
// (-100..-199), relocation (-200..-299), routing (-300..-399). The
// numeric values match the Dobby engine this API is modeled after, so
// callers porting code from it keep the same constants.
type Code int

const (
	// Success indicates the operation completed without error.
	Success Code = 0

	// General errors (-1..-99).
	InvalidArgument Code = -1
	NotFound        Code = -2
	AlreadyExists   Code = -3
	NotSupported    Code = -4
	Unknown         Code = -5

	// Memory errors (-100..-199).
	MemoryAllocation    Code = -100
	MemoryProtection    Code = -101
	MemoryOperation     Code = -102
	NearMemoryExhausted Code = -103

	// Relocation errors (-200..-299).
	RelocationFailed       Code = -200
	UnsupportedInstruction Code = -201
	CodeTooShort           Code = -202

	// Routing errors (-300..-399).
	TrampolineGeneration Code = -300
	RoutingBuild         Code = -301
)

// String returns the stable, human-readable message for a code. It never
// returns an empty string; unrecognized codes map to a generic message
// that still names the numeric value.
func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case InvalidArgument:
		return "invalid argument (nil pointer or invalid parameter)"
	case NotFound:
		return "hook or entry not found"
	case AlreadyExists:
		return "address already hooked or instrumented"
	case NotSupported:
		return "operation not supported on this platform or architecture"
	case Unknown:
		return "unknown error"
	case MemoryAllocation:
		return "memory allocation failed"
	case MemoryProtection:
		return "failed to change memory protection"
	case MemoryOperation:
		return "memory operation failed"
	case NearMemoryExhausted:
		return "no near memory available for trampoline"
	case RelocationFailed:
		return "instruction relocation failed"
	case UnsupportedInstruction:
		return "cannot relocate unsupported instruction"
	case CodeTooShort:
		return "not enough bytes available to patch"
	case TrampolineGeneration:
		return "failed to generate trampoline"
	case RoutingBuild:
		return "failed to build routing"
	default:
		return fmt.Sprintf("unrecognized error code %d", int(c))
	}
}

// Error wraps a Code with an optional message and underlying cause. It
// implements the error interface, so it can be returned directly from any
// public entry point, but callers that only want the taxonomy value can
// use errors.As to recover the Code.
type Error struct {
	Code    Code
	Detail  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Detail)
}

// Unwrap supports errors.Is/errors.As against the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// newError constructs an *Error, recording it as the calling thread's last
// error as a side effect, mirroring the contract that every public entry
// point sets the thread-local last error on both success and failure.
func newError(code Code, detail string, cause error) *Error {
	e := &Error{Code: code, Detail: detail, Wrapped: cause}
	setLastError(code)
	return e
}

// ErrorString maps a code to its constant message. It is the public,
// standalone counterpart of Code.String for callers holding only a raw
// code value (e.g. read back from a log).
func ErrorString(code Code) string {
	return code.String()
}

// CodeOf extracts the Code from any error returned by this package. Plain
// errors (not produced by this package) map to Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code
	}
	return Unknown
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
