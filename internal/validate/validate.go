// Package validate checks a resolved dependency graph for lifetime and binding errors.
package validate

import (
	"strings"

	"github.com/alecthomas/scopegraph/internal/binding"
	"github.com/alecthomas/scopegraph/internal/depgraph"
	"github.com/alecthomas/scopegraph/internal/diag"
	"github.com/alecthomas/scopegraph/internal/inference"
	"github.com/alecthomas/scopegraph/internal/scope"
)

// All runs every validator: [ScopeOrder], [Duplicates] then [ScopedMultibindings].
func All(graph *depgraph.Graph, tree *scope.Tree, assignment *inference.Assignment) []*diag.Diagnostic {
	var out []*diag.Diagnostic
	out = append(out, ScopeOrder(graph, tree, assignment)...)
	out = append(out, Duplicates(graph)...)
	out = append(out, ScopedMultibindings(graph)...)
	return out
}

// ScopeOrder reports every required key that depends on a binding with a shorter lifetime than its own.
//
// Dependencies that are neither declared nor a wrapper around a declared key are skipped, as they are reported as
// missing.
func ScopeOrder(graph *depgraph.Graph, tree *scope.Tree, assignment *inference.Assignment) []*diag.Diagnostic {
	var out []*diag.Diagnostic
	for _, key := range graph.Required() {
		s, ok := assignment.Scope(key)
		if !ok {
			continue
		}
		reported := map[binding.Key]bool{}
		for _, decl := range graph.Declarations(key) {
			for _, req := range decl.Requires {
				dep, ok := graph.Lookup(req)
				if !ok || reported[dep] {
					continue
				}
				depScope, ok := assignment.Scope(dep)
				if !ok || tree.CanDependOn(s, depScope) {
					continue
				}
				reported[dep] = true
				out = append(out, diag.Errorf(diag.ScopeViolation, key,
					"%s (scoped %s) cannot depend on %s (scoped %s) which has a shorter lifetime",
					key, s, req, depScope))
			}
		}
	}
	return out
}

// Duplicates reports each key with more than one declaration where at least one is Unique.
func Duplicates(graph *depgraph.Graph) []*diag.Diagnostic {
	var out []*diag.Diagnostic
	for _, key := range graph.Keys() {
		decls := graph.Declarations(key)
		if len(decls) < 2 {
			continue
		}
		unique := false
		provenances := make([]string, 0, len(decls))
		for _, decl := range decls {
			if decl.Provision == binding.Unique {
				unique = true
			}
			provenances = append(provenances, decl.Provenance.String())
		}
		if !unique {
			continue
		}
		out = append(out, diag.Errorf(diag.DuplicateBinding, key,
			"%s is bound multiple times: %s", key, strings.Join(provenances, ", ")))
	}
	return out
}

// ScopedMultibindings reports each multibinding contribution that declares a scope.
func ScopedMultibindings(graph *depgraph.Graph) []*diag.Diagnostic {
	var out []*diag.Diagnostic
	for _, key := range graph.Keys() {
		for _, decl := range graph.Declarations(key) {
			if decl.Provision.IsMultibinding() && decl.Scope != "" {
				out = append(out, diag.Errorf(diag.ScopedMultibinding, key,
					"%s contributes to %s and cannot be scoped %s", decl.Provenance, key, decl.Scope))
			}
		}
	}
	return out
}
