// Package inference assigns a lifetime scope to every required binding.
//
// A binding's scope is either declared explicitly, derived structurally from the container it belongs to, or inferred
// from the scopes of its dependencies. Inferred scopes start at the largest scope in the tree and are narrowed by each
// dependency to the largest scope that may still depend on all of them.
package inference

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/alecthomas/errors"

	"github.com/alecthomas/scopegraph/internal/binding"
	"github.com/alecthomas/scopegraph/internal/depgraph"
	"github.com/alecthomas/scopegraph/internal/diag"
	"github.com/alecthomas/scopegraph/internal/logging"
	"github.com/alecthomas/scopegraph/internal/scope"
)

const defaultMaxTrail = 100

type engineOptions struct {
	logger   *slog.Logger
	maxTrail int
	cache    *Cache
}

type Option func(*engineOptions) error

// WithLogger sets the logger used for debug tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) error {
		o.logger = logger
		return nil
	}
}

// WithMaxTrail sets the depth of the dependency chain beyond which a likely circular dependency is reported.
func WithMaxTrail(n int) Option {
	return func(o *engineOptions) error {
		if n <= 0 {
			return errors.Errorf("max trail must be positive, not %d", n)
		}
		o.maxTrail = n
		return nil
	}
}

// WithCache consults and populates cache.
func WithCache(cache *Cache) Option {
	return func(o *engineOptions) error {
		o.cache = cache
		return nil
	}
}

// Engine resolves the scope of every required key in a [depgraph.Graph].
type Engine struct {
	graph *depgraph.Graph
	tree  *scope.Tree
	opts  *engineOptions
}

func New(graph *depgraph.Graph, tree *scope.Tree, options ...Option) (*Engine, error) {
	opts := &engineOptions{maxTrail: defaultMaxTrail}
	for _, opt := range options {
		if err := opt(opts); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if opts.logger == nil {
		opts.logger = logging.Discard()
	}
	return &Engine{graph: graph, tree: tree, opts: opts}, nil
}

// Node states during traversal.
const (
	unvisited uint8 = iota
	visiting
	done
)

type node struct {
	key   binding.Key
	deps  []int
	state uint8
	// Tarjan index and lowlink.
	index, lowlink int
	// A dependency, direct or transitive, is missing.
	incomplete bool
}

// pass holds the state of a single call to [Engine.Resolve].
type pass struct {
	*Engine
	nodes       []*node
	indexOf     map[binding.Key]int
	assignment  *Assignment
	diagnostics []*diag.Diagnostic
	reported    map[string]bool
	treeDigest  string

	counter int
	stack   []int
}

// Resolve assigns a scope to every required key of the graph.
//
// The traversal visits dependencies before their dependants, and resolves each strongly connected component of the
// graph as a unit. Resolve does not modify the Engine and may be called repeatedly.
func (e *Engine) Resolve() (*Assignment, []*diag.Diagnostic) {
	p := &pass{
		Engine:     e,
		indexOf:    map[binding.Key]int{},
		assignment: newAssignment(),
		reported:   map[string]bool{},
	}
	p.build()
	for i, n := range p.nodes {
		if n.state == unvisited {
			p.strongConnect(i)
		}
	}
	for _, n := range p.nodes {
		if _, ok := p.assignment.Get(n.key); !ok {
			p.diagnostics = append(p.diagnostics, diag.Errorf(diag.UnresolvedScope, n.key,
				"no scope could be resolved for %s", n.key))
		}
	}
	return p.assignment, p.diagnostics
}

// Build the node arena from the required keys, with edges to each declaration's dependencies.
func (p *pass) build() {
	required := p.graph.Required()
	p.nodes = make([]*node, len(required))
	for i, key := range required {
		p.nodes[i] = &node{key: key}
		p.indexOf[key] = i
	}
	for _, n := range p.nodes {
		seen := map[int]bool{}
		for _, decl := range p.graph.Declarations(n.key) {
			for _, req := range decl.Requires {
				dep, ok := p.graph.Lookup(req)
				if !ok || !p.graph.IsRequired(dep) {
					if req.IsBindable() {
						n.incomplete = true
					}
					continue
				}
				i := p.indexOf[dep]
				if !seen[i] {
					seen[i] = true
					n.deps = append(n.deps, i)
				}
			}
		}
	}
}

type frame struct {
	node int
	next int
}

// strongConnect is an iterative rendering of Tarjan's algorithm rooted at root.
func (p *pass) strongConnect(root int) {
	warned := false
	calls := []frame{}
	push := func(i int) {
		n := p.nodes[i]
		n.index, n.lowlink = p.counter, p.counter
		p.counter++
		n.state = visiting
		p.stack = append(p.stack, i)
		calls = append(calls, frame{node: i})
		if len(calls) > p.opts.maxTrail && !warned {
			warned = true
			p.diagnostics = append(p.diagnostics, diag.Warnf(diag.LikelyCircular, p.nodes[root].key,
				"dependency chain from %s is more than %d keys deep, likely a circular dependency",
				p.nodes[root].key, p.opts.maxTrail))
		}
	}
	push(root)
	for len(calls) > 0 {
		f := &calls[len(calls)-1]
		v := f.node
		n := p.nodes[v]
		if f.next < len(n.deps) {
			w := n.deps[f.next]
			f.next++
			switch dep := p.nodes[w]; dep.state {
			case unvisited:
				push(w)
			case visiting:
				n.lowlink = min(n.lowlink, dep.index)
			}
			continue
		}
		calls = calls[:len(calls)-1]
		if n.lowlink == n.index {
			p.resolveComponent(p.popComponent(v))
		}
		if len(calls) > 0 {
			parent := p.nodes[calls[len(calls)-1].node]
			parent.lowlink = min(parent.lowlink, n.lowlink)
		}
	}
}

// Pop the component rooted at root from the Tarjan stack, in order of discovery.
func (p *pass) popComponent(root int) []int {
	for i := len(p.stack) - 1; i >= 0; i-- {
		if p.stack[i] != root {
			continue
		}
		component := append([]int(nil), p.stack[i:]...)
		p.stack = p.stack[:i]
		for _, member := range component {
			p.nodes[member].state = done
		}
		return component
	}
	panic("component root is not on the stack")
}

func (p *pass) resolveComponent(component []int) {
	members := map[int]bool{}
	for _, i := range component {
		members[i] = true
	}
	cyclic := len(component) > 1
	if !cyclic {
		n := p.nodes[component[0]]
		for _, dep := range n.deps {
			if dep == component[0] {
				cyclic = true
			}
		}
	}
	if cyclic {
		keys := make([]string, 0, len(component)+1)
		for _, i := range component {
			keys = append(keys, p.nodes[i].key.String())
		}
		keys = append(keys, keys[0])
		p.diagnostics = append(p.diagnostics, diag.Warnf(diag.CircularDependency, p.nodes[component[0]].key,
			"circular dependency: %s", strings.Join(keys, " -> ")))
	}

	incomplete := false
	for _, i := range component {
		n := p.nodes[i]
		if n.incomplete {
			incomplete = true
		}
		for _, dep := range n.deps {
			if !members[dep] && p.nodes[dep].incomplete {
				incomplete = true
			}
		}
	}
	for _, i := range component {
		p.nodes[i].incomplete = incomplete
	}

	fingerprint := ""
	if p.opts.cache != nil && !incomplete {
		fingerprint = p.fingerprint(component, members)
		if fingerprint != "" && p.restore(component, fingerprint) {
			return
		}
	}
	reported := len(p.diagnostics)

	// Explicit and structural members are resolved first; their scopes constrain the inferred members.
	fixed := map[int]bool{}
	inferred := []int{}
	for _, i := range component {
		n := p.nodes[i]
		if resolution, ok := p.fixedScope(n.key); ok {
			p.opts.logger.Debug("Resolved scope", "key", n.key, "scope", resolution.Scope, "origin", resolution.Origin)
			p.assignment.set(n.key, resolution)
			fixed[i] = true
		} else {
			inferred = append(inferred, i)
		}
	}

	if len(inferred) > 0 {
		subject := p.nodes[inferred[0]].key
		current := p.tree.LargestScope()
		trail := []binding.Key{}
		narrow := func(dep binding.Key, s scope.Scope) {
			if p.tree.Size(s) > p.tree.Size(current) {
				return
			}
			next, ok := p.tree.LargestCommonDependantScope(current, s)
			if !ok {
				p.diagnostics = append(p.diagnostics, diag.Errorf(diag.ScopeConflict, subject,
					"%s cannot be scoped to both %s and %s (required by %s)", subject, current, s, dep))
				return
			}
			if next != current {
				current = next
				trail = append(trail, dep)
			}
		}
		for _, i := range component {
			n := p.nodes[i]
			if fixed[i] {
				if len(component) > 1 {
					s, _ := p.assignment.Scope(n.key)
					narrow(n.key, s)
				}
				continue
			}
			for _, dep := range n.deps {
				if members[dep] {
					continue
				}
				s, ok := p.assignment.Scope(p.nodes[dep].key)
				if !ok {
					continue
				}
				narrow(p.nodes[dep].key, s)
			}
		}
		for _, i := range inferred {
			key := p.nodes[i].key
			p.opts.logger.Debug("Inferred scope", "key", key, "scope", current, "trail", trail)
			p.assignment.set(key, Resolution{Scope: current, Origin: Inferred, Trail: trail})
		}
	}

	// A component that reported anything is recomputed next time so that its diagnostics are reported again.
	if fingerprint == "" || len(p.diagnostics) > reported {
		return
	}
	for _, i := range component {
		key := p.nodes[i].key
		if resolution, ok := p.assignment.Get(key); ok {
			p.opts.cache.Put(key, fingerprint, resolution)
		}
	}
}

// restore the resolutions of every member of component from the cache, if all of them were cached with fingerprint.
func (p *pass) restore(component []int, fingerprint string) bool {
	resolutions := make([]Resolution, 0, len(component))
	for _, i := range component {
		cached, ok := p.opts.cache.Get(p.nodes[i].key, fingerprint)
		if !ok || !p.tree.Contains(cached.Scope) {
			return false
		}
		resolutions = append(resolutions, cached)
	}
	for j, i := range component {
		key := p.nodes[i].key
		p.opts.logger.Debug("Using cached scope", "key", key, "scope", resolutions[j].Scope)
		p.assignment.set(key, Resolution{Scope: resolutions[j].Scope, Origin: Cached, Trail: resolutions[j].Trail})
	}
	return true
}

// fingerprint everything the resolution of component depends on: the scope tree, the declarations of each member,
// and the resolved scopes of the dependencies outside the component.
//
// An empty fingerprint means the component refers to an unknown scope and must not be cached.
func (p *pass) fingerprint(component []int, members map[int]bool) string {
	if p.treeDigest == "" {
		w := &strings.Builder{}
		for _, s := range p.tree.Scopes() {
			parent, _ := p.tree.Parent(s)
			fmt.Fprintf(w, "%s<%s=%s;", s, parent, strings.Join(p.tree.Aliases(s), ","))
		}
		p.treeDigest = w.String()
	}
	keys := make([]binding.Key, 0, len(component))
	external := map[binding.Key]bool{}
	for _, i := range component {
		keys = append(keys, p.nodes[i].key)
		for _, dep := range p.nodes[i].deps {
			if !members[dep] {
				external[p.nodes[dep].key] = true
			}
		}
	}
	slices.SortFunc(keys, binding.Compare)

	h := sha256.New()
	io.WriteString(h, p.treeDigest)
	for _, key := range keys {
		fmt.Fprintf(h, "\n%s:", key)
		for _, decl := range p.graph.Declarations(key) {
			s, ok := p.tree.Canonical(decl.Scope)
			if !ok {
				return ""
			}
			fmt.Fprintf(h, "\n  %s [%s]", decl, s)
			if container, ok := structuralContainer(decl); ok {
				c, _ := p.graph.Container(container)
				cs, ok := p.tree.Canonical(c.Scope)
				if !ok {
					return ""
				}
				fmt.Fprintf(h, " in %s", cs)
			}
			for _, req := range decl.Requires {
				fmt.Fprintf(h, " %s", req)
			}
		}
	}
	for _, dep := range binding.SortedKeys(external) {
		s, ok := p.assignment.Scope(dep)
		if !ok {
			fmt.Fprintf(h, "\n%s=?", dep)
			continue
		}
		fmt.Fprintf(h, "\n%s=%s", dep, s)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// fixedScope returns the explicit or structural scope of key, if it has one.
func (p *pass) fixedScope(key binding.Key) (Resolution, bool) {
	for _, decl := range p.graph.Declarations(key) {
		if container, ok := structuralContainer(decl); ok {
			return Resolution{Scope: p.containerScope(container), Origin: Structural}, true
		}
		if decl.Provision != binding.Unique || decl.Scope == "" {
			continue
		}
		s, ok := p.tree.Canonical(decl.Scope)
		if !ok {
			p.reportUnknownScope(key, decl.Scope, decl.Provenance.String())
			continue
		}
		return Resolution{Scope: s, Origin: Explicit}, true
	}
	return Resolution{}, false
}

// The container whose scope a structural declaration takes.
func structuralContainer(decl *binding.Declaration) (string, bool) {
	switch provenance := decl.Provenance.(type) {
	case binding.ContainerSelf:
		return provenance.Container, true
	case binding.BoundInstance:
		return provenance.Container, true
	case binding.DependencySelf:
		return provenance.Dependency, true
	case binding.DependencyMethod:
		return provenance.Dependency, true
	case binding.FactoryMethod, binding.InjectedType:
		return "", false
	default:
		panic(errors.Errorf("unexpected provenance %T", decl.Provenance))
	}
}

func (p *pass) containerScope(name string) scope.Scope {
	container, ok := p.graph.Container(name)
	if !ok || container.Scope == "" {
		return scope.Unscoped
	}
	s, ok := p.tree.Canonical(container.Scope)
	if !ok {
		p.reportUnknownScope(depgraph.ContainerKey(name), container.Scope, "container "+name)
		return scope.Unscoped
	}
	return s
}

func (p *pass) reportUnknownScope(key binding.Key, name, entity string) {
	id := entity + "\x00" + name
	if p.reported[id] {
		return
	}
	p.reported[id] = true
	p.diagnostics = append(p.diagnostics, diag.Errorf(diag.UnknownScope, key,
		"%s is scoped to unknown scope %s", entity, name))
}
