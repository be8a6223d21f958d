// Package scope models the nesting of lifetime scopes.
//
// Scopes form a forest where each child scope is nested within, and lives no longer than, its parent. The "size" of a
// scope is derived from its depth: the root is the largest (longest-lived) scope and each level of nesting is one
// smaller.
package scope

import (
	"cmp"
	"slices"
	"strings"

	"github.com/alecthomas/errors"
)

// Scope is the canonical identity of a lifetime scope.
//
// The zero value is "unscoped": a binding that is not tied to any scope instance. Every scope may depend on
// unscoped bindings, but unscoped bindings may only depend on other unscoped bindings.
type Scope string

// Unscoped is the zero Scope.
const Unscoped Scope = ""

func (s Scope) String() string {
	if s == Unscoped {
		return "<unscoped>"
	}
	return string(s)
}

// Tree is the nesting of canonical scopes, built once per resolution pass and read-only afterwards.
type Tree struct {
	canonical map[string]Scope
	parent    map[Scope]Scope
	depth     map[Scope]int
	roots     []Scope
	maxDepth  int
}

// New builds a Tree.
//
// "aliases" maps an alias scope name to the scope it is equivalent to, and may be chained. "parents" maps a scope
// name (or alias) to its parent scope name (or alias). Scopes mentioned only as parents are roots.
func New(aliases map[string]string, parents map[string]string) (*Tree, error) {
	uf := newUnionFind()
	for _, alias := range sortedKeys(aliases) {
		uf.union(alias, aliases[alias])
	}
	for _, child := range sortedKeys(parents) {
		uf.add(child)
		if parent := parents[child]; parent != "" {
			uf.add(parent)
		}
	}

	t := &Tree{
		canonical: map[string]Scope{},
		parent:    map[Scope]Scope{},
		depth:     map[Scope]int{},
	}
	for _, name := range uf.names() {
		t.canonical[name] = Scope(uf.find(name))
	}

	for _, child := range sortedKeys(parents) {
		if parents[child] == "" {
			continue
		}
		c, p := t.canonical[child], t.canonical[parents[child]]
		if c == p {
			return nil, errors.Errorf("scope %s cannot be its own parent", child)
		}
		if existing, ok := t.parent[c]; ok && existing != p {
			return nil, errors.Errorf("scope %s has conflicting parents %s and %s", c, existing, p)
		}
		t.parent[c] = p
	}

	for _, s := range t.canonicalScopes() {
		if _, err := t.computeDepth(s); err != nil {
			return nil, err
		}
	}
	for s, d := range t.depth {
		if d == 0 {
			t.roots = append(t.roots, s)
		}
		t.maxDepth = max(t.maxDepth, d)
	}
	slices.Sort(t.roots)
	return t, nil
}

func (t *Tree) computeDepth(s Scope) (int, error) {
	if d, ok := t.depth[s]; ok {
		return d, nil
	}
	// Walk up to the first scope with a known depth, or a root.
	var chain []Scope
	onChain := map[Scope]bool{}
	cur := s
	base := -1
	for {
		if d, ok := t.depth[cur]; ok {
			base = d
			break
		}
		if onChain[cur] {
			names := make([]string, 0, len(chain)+1)
			for _, c := range chain {
				names = append(names, string(c))
			}
			names = append(names, string(cur))
			return 0, errors.Errorf("scope hierarchy contains a cycle: %s", strings.Join(names, " -> "))
		}
		onChain[cur] = true
		chain = append(chain, cur)
		parent, ok := t.parent[cur]
		if !ok {
			break
		}
		cur = parent
	}
	for i := len(chain) - 1; i >= 0; i-- {
		base++
		t.depth[chain[i]] = base
	}
	return t.depth[s], nil
}

func (t *Tree) canonicalScopes() []Scope {
	seen := map[Scope]bool{}
	out := []Scope{}
	for _, s := range t.canonical {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

// Canonical returns the canonical scope for a scope name or alias.
//
// The empty name is [Unscoped].
func (t *Tree) Canonical(name string) (Scope, bool) {
	if name == "" {
		return Unscoped, true
	}
	s, ok := t.canonical[name]
	return s, ok
}

// Contains returns true if the scope is in the tree. [Unscoped] is always contained.
func (t *Tree) Contains(s Scope) bool {
	if s == Unscoped {
		return true
	}
	_, ok := t.depth[s]
	return ok
}

// Parent returns the parent of s, if any.
func (t *Tree) Parent(s Scope) (Scope, bool) {
	p, ok := t.parent[s]
	return p, ok
}

// Depth returns the number of parent hops from s to its root.
func (t *Tree) Depth(s Scope) int {
	if s == Unscoped {
		return -1
	}
	return t.depth[s]
}

// Size returns maxDepth - depth(s). Larger scopes live longer.
//
// [Unscoped] is larger than every scope in the tree.
func (t *Tree) Size(s Scope) int {
	return t.maxDepth - t.Depth(s)
}

// Roots returns the root scopes in name order.
func (t *Tree) Roots() []Scope { return slices.Clone(t.roots) }

// LargestScope returns the root of the tree, or [Unscoped] if the tree is empty or has several roots.
func (t *Tree) LargestScope() Scope {
	if len(t.roots) == 1 {
		return t.roots[0]
	}
	return Unscoped
}

// IsSmallestScope returns true if no scope in the tree is smaller than s.
func (t *Tree) IsSmallestScope(s Scope) bool {
	return t.Contains(s) && t.Size(s) == 0
}

// CanDependOn returns true if a binding in dependent may use a value from dependency, ie. dependency is an
// ancestor of dependent, or dependent itself.
func (t *Tree) CanDependOn(dependent, dependency Scope) bool {
	if dependency == Unscoped {
		return true
	}
	for cur, ok := dependent, dependent != Unscoped; ok; cur, ok = t.parent[cur] {
		if cur == dependency {
			return true
		}
	}
	return false
}

// LargestCommonDependantScope returns the scope that may validly depend on both a and b, which is whichever of the
// two is nested within the other.
//
// If a and b are on different branches of the tree no scope can depend on both; the smaller of the two (by size,
// then name) is returned with false.
func (t *Tree) LargestCommonDependantScope(a, b Scope) (Scope, bool) {
	switch {
	case t.CanDependOn(a, b):
		return a, true
	case t.CanDependOn(b, a):
		return b, true
	}
	if c := cmp.Compare(t.Size(a), t.Size(b)); c < 0 || (c == 0 && a < b) {
		return a, false
	}
	return b, false
}

// Ancestors returns s followed by each of its ancestors up to the root.
func (t *Tree) Ancestors(s Scope) []Scope {
	if s == Unscoped {
		return nil
	}
	out := []Scope{s}
	for p, ok := t.parent[s]; ok; p, ok = t.parent[p] {
		out = append(out, p)
	}
	return out
}

// Scopes returns all canonical scopes ordered from largest to smallest, then by name.
func (t *Tree) Scopes() []Scope {
	out := t.canonicalScopes()
	slices.SortStableFunc(out, func(a, b Scope) int {
		return cmp.Or(cmp.Compare(t.Size(b), t.Size(a)), cmp.Compare(a, b))
	})
	return out
}

// Aliases returns every alias name that resolves to s, excluding s itself.
func (t *Tree) Aliases(s Scope) []string {
	var out []string
	for name, canonical := range t.canonical {
		if canonical == s && name != string(s) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
