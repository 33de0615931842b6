package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the pass pipeline the error occurred
type Phase string

const (
	PhaseAnalyze     Phase = "analyze"     // escape analysis
	PhaseRewrite     Phase = "rewrite"     // allocation lowering
	PhaseStringify   Phase = "stringify"   // module linearization
	PhaseOutline     Phase = "outline"     // substring mining and filtering
	PhaseReconstruct Phase = "reconstruct" // function rebuilding
	PhaseRun         Phase = "run"         // pass pipeline execution
)

// Kind categorizes the error
type Kind string

const (
	KindInternal    Kind = "internal"    // invariant violation, unreachable by construction
	KindUnsupported Kind = "unsupported" // construct outside the pass's domain
	KindNotFound    Kind = "not_found"   // missing function or pass
	KindInvalidIR   Kind = "invalid_ir"  // malformed input tree
	KindOutOfBounds Kind = "out_of_bounds"
)

// Error is the structured error type used throughout the optimizer
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Func   string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Func != "" {
		b.WriteString(" in $")
		b.WriteString(e.Func)
	}
	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
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

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
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

// Func sets the name of the function being processed
func (b *Builder) Func(name string) *Builder {
	b.err.Func = name
	return b
}

// Path sets the position path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
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

// Internal creates an internal invariant-violation error. Passes are total;
// reaching one of these is a bug, and callers panic with it.
func Internal(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInternal,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Unsupported creates an unsupported construct error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidIR creates a malformed input error
func InvalidIR(phase Phase, funcName, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidIR,
		Func:   funcName,
		Detail: detail,
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
