// Package diag contains the recoverable diagnostics produced by a resolution pass.
package diag

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/alecthomas/scopegraph/internal/binding"
)

// Severity of a [Diagnostic].
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "error"
}

// Kind classifies a [Diagnostic].
type Kind string

const (
	MissingBinding     Kind = "missing-binding"
	DuplicateBinding   Kind = "duplicate-binding"
	ScopeViolation     Kind = "scope-violation"
	ScopedMultibinding Kind = "scoped-multibinding"
	ScopeConflict      Kind = "scope-conflict"
	CircularDependency Kind = "circular-dependency"
	LikelyCircular     Kind = "likely-circular"
	UnresolvedScope    Kind = "unresolved-scope"
	UnknownScope       Kind = "unknown-scope"
	UnknownModule      Kind = "unknown-module"
	UnknownContainer   Kind = "unknown-container"
	GraphTooLarge      Kind = "graph-too-large"
)

// Diagnostic is a recoverable problem found during a resolution pass.
type Diagnostic struct {
	Severity Severity
	Kind     Kind
	// Key is the binding the diagnostic is about, if any.
	Key     binding.Key
	Message string
}

var _ error = (*Diagnostic)(nil)

// Errorf creates an error Diagnostic.
func Errorf(kind Kind, key binding.Key, format string, args ...any) *Diagnostic {
	return &Diagnostic{Severity: Error, Kind: kind, Key: key, Message: fmt.Sprintf(format, args...)}
}

// Warnf creates a warning Diagnostic.
func Warnf(kind Kind, key binding.Key, format string, args ...any) *Diagnostic {
	return &Diagnostic{Severity: Warning, Kind: kind, Key: key, Message: fmt.Sprintf(format, args...)}
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s", d.Severity, d.Kind, d.Message)
}

// Errors returns only the error diagnostics, preserving order.
func Errors(diagnostics []*Diagnostic) []*Diagnostic {
	return filter(diagnostics, Error)
}

// Warnings returns only the warning diagnostics, preserving order.
func Warnings(diagnostics []*Diagnostic) []*Diagnostic {
	return filter(diagnostics, Warning)
}

func filter(diagnostics []*Diagnostic, severity Severity) []*Diagnostic {
	var out []*Diagnostic
	for _, d := range diagnostics {
		if d.Severity == severity {
			out = append(out, d)
		}
	}
	return out
}

// Sort diagnostics within a single phase by severity, kind, key, then message.
func Sort(diagnostics []*Diagnostic) {
	slices.SortStableFunc(diagnostics, func(a, b *Diagnostic) int {
		return cmp.Or(
			cmp.Compare(a.Severity, b.Severity),
			cmp.Compare(a.Kind, b.Kind),
			binding.Compare(a.Key, b.Key),
			cmp.Compare(a.Message, b.Message),
		)
	})
}
