package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile Phase = "compile" // module compilation and metering
	PhaseLink    Phase = "link"    // instantiation against host modules
	PhaseInvoke  Phase = "invoke"  // invocation setup
	PhaseAdvance Phase = "advance" // guest progress
	PhasePoll    Phase = "poll"    // async handle polling
	PhaseHost    Phase = "host"    // host capability calls and registration
	PhaseDrive   Phase = "drive"   // cooperative driver
	PhaseLoop    Phase = "loop"    // event loop
	PhaseConfig  Phase = "config"  // configuration
)

// Kind categorizes the error
type Kind string

const (
	KindCompile       Kind = "compile_error"
	KindLink          Kind = "link_error"
	KindMissingImport Kind = "missing_import"
	KindNotFound      Kind = "not_found"
	KindTypeMismatch  Kind = "type_mismatch"
	KindTrap          Kind = "trap"
	KindInvalidState  Kind = "invalid_state"
	KindHostFailure   Kind = "host_failure"
	KindCanceled      Kind = "canceled"
	KindFuelExhausted Kind = "fuel_exhausted"
	KindInvalidInput  Kind = "invalid_input"
	KindRegistration  Kind = "registration"
	KindUnsupported   Kind = "unsupported"
)

// Sentinels match any error of the same Kind regardless of Phase.
var (
	ErrCompile       = &Error{Kind: KindCompile}
	ErrLink          = &Error{Kind: KindLink}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrTypeMismatch  = &Error{Kind: KindTypeMismatch}
	ErrTrap          = &Error{Kind: KindTrap}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrHostFailure   = &Error{Kind: KindHostFailure}
	ErrCanceled      = &Error{Kind: KindCanceled}
	ErrFuelExhausted = &Error{Kind: KindFuelExhausted}
	ErrInvalidInput  = &Error{Kind: KindInvalidInput}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Function string // guest export or host capability involved
	Detail   string
	// Fatal marks errors that must escalate past the invocation to the scheduler.
	Fatal bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Function != "" {
		b.WriteString(" in ")
		b.WriteString(e.Function)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Function sets the guest export or host capability name
func (b *Builder) Function(name string) *Builder {
	b.err.Function = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Fatal marks the error as escalating to the scheduler
func (b *Builder) Fatal() *Builder {
	b.err.Fatal = true
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// CompileFailed creates a compile error
func CompileFailed(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindCompile,
		Detail: detail,
		Cause:  cause,
	}
}

// LinkFailed creates a link error
func LinkFailed(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindLink,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindNotFound,
		Function: name,
		Detail:   fmt.Sprintf("%s %q not found", what, name),
	}
}

// TypeMismatch creates a type mismatch error for a guest function signature
func TypeMismatch(function string, detail string, args ...any) *Error {
	return &Error{
		Phase:    PhaseInvoke,
		Kind:     KindTypeMismatch,
		Function: function,
		Detail:   fmt.Sprintf(detail, args...),
	}
}

// Trap creates a guest trap error
func Trap(function, reason string, cause error) *Error {
	return &Error{
		Phase:    PhaseAdvance,
		Kind:     KindTrap,
		Function: function,
		Detail:   reason,
		Cause:    cause,
	}
}

// InvalidState creates a contract violation error
func InvalidState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: detail,
	}
}

// HostFailure creates a host capability failure
func HostFailure(capability string, cause error) *Error {
	return &Error{
		Phase:    PhaseHost,
		Kind:     KindHostFailure,
		Function: capability,
		Detail:   "host capability failed",
		Cause:    cause,
	}
}

// Canceled creates a cancellation error
func Canceled(phase Phase, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCanceled,
		Detail: "canceled",
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// Unsupported creates an unsupported feature error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// IsFatal reports whether err carries an *Error marked Fatal.
func IsFatal(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Fatal {
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

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "host"
	Function  string // e.g., "sleep"
}

// MissingImportsError is returned when instantiation fails due to missing host functions
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "namespace#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ns, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Namespace: ns,
			Function:  fn,
		})
	}
	return result
}

func parseImportKey(key string) (namespace, function string) {
	ns, fn, found := strings.Cut(key, "#")
	if found {
		return ns, fn
	}
	return key, ""
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d host function(s):\n", len(e.Imports)))

	// Group by namespace for cleaner output
	byNS := make(map[string][]string)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], imp.Function)
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, fn := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
