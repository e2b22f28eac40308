// Package failure defines the error taxonomy shared by every host component.
//
// Each failure carries a Code that the capability bridge reports to rendering
// surfaces, and each Code has a Policy that tells startup whether the failure
// excludes one plugin or aborts the host.
package failure

import (
	"errors"
	"fmt"
)

// Code classifies a failure.
type Code string

const (
	DescriptorInvalid     Code = "DescriptorInvalid"
	SchemaProvisionFailed Code = "SchemaProvisionFailed"
	ServiceLoadFailed     Code = "ServiceLoadFailed"
	ServiceNotFound       Code = "ServiceNotFound"
	MethodNotFound        Code = "MethodNotFound"
	AccessDenied          Code = "AccessDenied"
	InvalidIdentifier     Code = "InvalidIdentifier"
	InvalidRequest        Code = "InvalidRequest"
	Unsupported           Code = "Unsupported"
	Internal              Code = "Internal"
)

// Sentinels for errors.Is matching. A *Error matches the sentinel of its code.
var (
	// ErrDescriptorInvalid indicates a plugin manifest could not be accepted.
	ErrDescriptorInvalid = &Error{Code: DescriptorInvalid}

	// ErrSchemaProvisionFailed indicates a table could not be created.
	ErrSchemaProvisionFailed = &Error{Code: SchemaProvisionFailed}

	// ErrServiceLoadFailed indicates a backend module could not be loaded.
	ErrServiceLoadFailed = &Error{Code: ServiceLoadFailed}

	// ErrServiceNotFound indicates no service is registered for a plugin id.
	ErrServiceNotFound = &Error{Code: ServiceNotFound}

	// ErrMethodNotFound indicates a service has no such exported method.
	ErrMethodNotFound = &Error{Code: MethodNotFound}

	// ErrAccessDenied indicates a request reached outside its namespace.
	ErrAccessDenied = &Error{Code: AccessDenied}

	// ErrInvalidIdentifier indicates a malformed table name or row id.
	ErrInvalidIdentifier = &Error{Code: InvalidIdentifier}

	// ErrInvalidRequest indicates a malformed bridge request.
	ErrInvalidRequest = &Error{Code: InvalidRequest}

	// ErrUnsupported indicates the platform cannot perform the operation.
	ErrUnsupported = &Error{Code: Unsupported}

	// ErrInternal indicates an unexpected host fault.
	ErrInternal = &Error{Code: Internal}
)

// Error is a classified failure.
type Error struct {
	Code   Code   // Classification
	Op     string // Operation name (e.g., "provision", "call")
	Target string // Target of the operation (e.g., plugin id, table name)
	Err    error  // Underlying error
}

// New creates an Error with a formatted message as its cause.
func New(code Code, op, target, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Target: target, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(code Code, op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Target: target, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op
		if e.Target != "" {
			msg = fmt.Sprintf("%s %s", e.Op, e.Target)
		}
	} else if e.Target != "" {
		msg = fmt.Sprintf("%s %s", e.Code, e.Target)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Message returns the cause text without operation context, for display.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return Internal
}

// Policy decides what a failure does to startup.
type Policy int

const (
	// SoftFail excludes the affected plugin and lets startup continue.
	SoftFail Policy = iota
	// Fatal aborts startup.
	Fatal
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case SoftFail:
		return "soft-fail"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// PolicyFor returns the startup policy for a code. A broken schema is fatal;
// a broken descriptor or backend module only costs that one plugin.
func PolicyFor(code Code) Policy {
	switch code {
	case SchemaProvisionFailed, Internal:
		return Fatal
	default:
		return SoftFail
	}
}
