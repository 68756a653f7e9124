// Package diag implements the typed error catalogue of the link pipeline
// (spec §7): the core must be able to distinguish error kinds
// programmatically, not just print them, so every fatal or recoverable
// condition raised by internal/ packages is a *diag.Error wrapping one of
// the Kind values below.
package diag

import "fmt"

// Kind identifies one of the error classes the core must distinguish.
type Kind string

const (
	UnrecognizedInput          Kind = "UnrecognizedInput"
	MultipleDefinition         Kind = "MultipleDefinition"
	UndefinedReference         Kind = "UndefinedReference"
	UndefinedReferenceInText   Kind = "UndefinedReferenceInText"
	MixedStaticShared          Kind = "MixedStaticShared"
	NMagicNotStatic            Kind = "NMagicNotStatic"
	CannotMergeSection         Kind = "CannotMergeSection"
	BadMergeOffset             Kind = "BadMergeOffset"
	RelocOverflow              Kind = "RelocOverflow"
	BadReloc                   Kind = "BadReloc"
	UnsupportedReloc           Kind = "UnsupportedReloc"
	UnknownReloc               Kind = "UnknownReloc"
	FailAllocatePLT            Kind = "FailAllocatePLT"
	UnrecognizedOutputSection  Kind = "UnrecognizedOutputSection"
	RelaxationDiverged         Kind = "RelaxationDiverged"
)

// Fatal marks a Kind that always aborts the link as soon as it is raised
// (spec §7 policy: "symbol-resolution conflicts, unknown relocations, and
// allocation failures are fatal").
func (k Kind) Fatal() bool {
	switch k {
	case MultipleDefinition, UnknownReloc, FailAllocatePLT,
		UnrecognizedInput, MixedStaticShared, NMagicNotStatic,
		CannotMergeSection, BadMergeOffset, UnrecognizedOutputSection,
		RelaxationDiverged:
		return true
	default:
		return false
	}
}

// Error is one diagnostic: a Kind, a human-readable message, and an
// optional wrapped cause for errors.Unwrap/errors.Is chains.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	de, ok := err.(*Error)
	return ok && de.Kind == kind
}

// Collector accumulates recoverable per-item diagnostics (spec §7:
// "individual unresolved symbols produce one diagnostic each; the link
// fails after the relocation phase completes"), deferring the decision of
// whether to abort until the phase finishes.
type Collector struct {
	errs []*Error
}

func (c *Collector) Add(e *Error) {
	c.errs = append(c.errs, e)
}

func (c *Collector) Len() int { return len(c.errs) }

func (c *Collector) Errors() []*Error { return c.errs }

// Fail returns a combined error if any diagnostic was collected, nil
// otherwise.
func (c *Collector) Fail() error {
	if len(c.errs) == 0 {
		return nil
	}
	return &MultiError{Errs: c.errs}
}

// MultiError aggregates diagnostics collected over a phase (e.g. every
// unresolved symbol found while scanning relocations).
type MultiError struct {
	Errs []*Error
}

func (m *MultiError) Error() string {
	if len(m.Errs) == 1 {
		return m.Errs[0].Error()
	}
	return fmt.Sprintf("%d diagnostics, first: %s", len(m.Errs), m.Errs[0].Error())
}
