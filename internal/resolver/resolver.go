// Package resolver runs a single resolution pass: build the scope tree, collect declarations, compute the required
// keys, infer scopes, then validate.
//
// A driver that discovers declarations incrementally calls [Pass] repeatedly as more input becomes available, and
// passes [Final] once no more input is forthcoming. Missing declarations are only reported as errors by a final pass.
package resolver

import (
	"log/slog"

	"github.com/alecthomas/errors"

	"github.com/alecthomas/scopegraph/internal/depgraph"
	"github.com/alecthomas/scopegraph/internal/diag"
	"github.com/alecthomas/scopegraph/internal/inference"
	"github.com/alecthomas/scopegraph/internal/logging"
	"github.com/alecthomas/scopegraph/internal/scope"
	"github.com/alecthomas/scopegraph/internal/validate"
)

type passOptions struct {
	final     bool
	logger    *slog.Logger
	graph     []depgraph.Option
	inference []inference.Option
}

type Option func(*passOptions) error

// Final marks the pass as the last, so that missing declarations are reported as errors.
func Final(final bool) Option {
	return func(o *passOptions) error {
		o.final = final
		return nil
	}
}

// WithCache carries scope resolutions across passes.
func WithCache(cache *inference.Cache) Option {
	return func(o *passOptions) error {
		o.inference = append(o.inference, inference.WithCache(cache))
		return nil
	}
}

// WithLogger sets the logger used for debug tracing by every phase.
func WithLogger(logger *slog.Logger) Option {
	return func(o *passOptions) error {
		o.logger = logger
		return nil
	}
}

// WithWrappers adds built-in wrapper types. See [depgraph.WithWrappers].
func WithWrappers(wrappers ...string) Option {
	return func(o *passOptions) error {
		o.graph = append(o.graph, depgraph.WithWrappers(wrappers...))
		return nil
	}
}

// WithMaxKeys limits the size of the required key closure. See [depgraph.WithMaxKeys].
func WithMaxKeys(n int) Option {
	return func(o *passOptions) error {
		o.graph = append(o.graph, depgraph.WithMaxKeys(n))
		return nil
	}
}

// WithMaxTrail sets the dependency chain depth reported as likely circular. See [inference.WithMaxTrail].
func WithMaxTrail(n int) Option {
	return func(o *passOptions) error {
		o.inference = append(o.inference, inference.WithMaxTrail(n))
		return nil
	}
}

func WithOptions(options ...Option) Option {
	return func(o *passOptions) error {
		for _, opt := range options {
			err := opt(o)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}
}

// Result of a resolution pass.
type Result struct {
	Graph      *depgraph.Graph
	Tree       *scope.Tree
	Assignment *inference.Assignment
	// Diagnostics ordered by phase, then by severity, kind and key within each phase.
	Diagnostics []*diag.Diagnostic
	// Missing declarations, reported whether or not the pass is final.
	Missing []depgraph.Missing
}

// Errors returns the error diagnostics.
func (r *Result) Errors() []*diag.Diagnostic { return diag.Errors(r.Diagnostics) }

// Warnings returns the warning diagnostics.
func (r *Result) Warnings() []*diag.Diagnostic { return diag.Warnings(r.Diagnostics) }

// OK returns true if the pass produced no errors and no declarations are missing.
func (r *Result) OK() bool { return len(r.Errors()) == 0 && len(r.Missing) == 0 }

// Pass resolves the scope of every binding required by the containers in src.
//
// An error is returned only for structurally invalid input, such as a cyclic scope hierarchy. Everything else is
// reported as a diagnostic.
func Pass(src depgraph.Source, options ...Option) (*Result, error) {
	opts := &passOptions{}
	for _, opt := range options {
		if err := opt(opts); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if opts.logger == nil {
		opts.logger = logging.Discard()
	}
	logger := opts.logger

	tree, err := scope.New(src.ScopeAliases(), src.ScopeParents())
	if err != nil {
		return nil, errors.Errorf("invalid scope hierarchy: %w", err)
	}
	logger.Debug("Built scope tree", "scopes", len(tree.Scopes()), "roots", tree.Roots())

	graph, err := depgraph.CollectDeclarations(src, append(opts.graph, depgraph.WithLogger(logger))...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect declarations")
	}
	required := graph.RequiredKeys(src.Consumers())
	logger.Debug("Computed required keys", "declared", len(graph.Keys()), "required", len(required))

	result := &Result{Graph: graph, Tree: tree, Missing: graph.Missing()}

	phase := graph.Diagnostics()
	if opts.final {
		for _, missing := range result.Missing {
			phase = append(phase, missingDiagnostic(missing))
		}
	}
	result.add(phase)

	engine, err := inference.New(graph, tree, append(opts.inference, inference.WithLogger(logger))...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	assignment, diagnostics := engine.Resolve()
	result.Assignment = assignment
	result.add(diagnostics)

	result.add(validate.All(graph, tree, assignment))
	logger.Debug("Resolution pass complete", "final", opts.final, "errors", len(result.Errors()),
		"warnings", len(result.Warnings()), "missing", len(result.Missing))
	return result, nil
}

func (r *Result) add(phase []*diag.Diagnostic) {
	diag.Sort(phase)
	r.Diagnostics = append(r.Diagnostics, phase...)
}

func missingDiagnostic(missing depgraph.Missing) *diag.Diagnostic {
	switch {
	case !missing.RequiredBy.IsZero():
		return diag.Errorf(diag.MissingBinding, missing.Key, "no declaration for %s required by %s",
			missing.Key, missing.RequiredBy)
	case missing.Container != "":
		return diag.Errorf(diag.MissingBinding, missing.Key, "no declaration for %s required by container %s",
			missing.Key, missing.Container)
	default:
		return diag.Errorf(diag.MissingBinding, missing.Key, "no declaration for %s", missing.Key)
	}
}
