package depgraph

import (
	"slices"
	"strings"

	"github.com/alecthomas/scopegraph/internal/binding"
	"github.com/alecthomas/scopegraph/internal/diag"
)

type pending struct {
	key        binding.Key
	requiredBy binding.Key
	container  string
}

// RequiredKeys computes the closure of keys that must be resolvable for every consumer to be satisfied.
//
// The closure is seeded, in order, from each consumer's provision methods then its injection sites, and expanded
// breadth-first in order of first discovery so that the result is reproducible. Keys are only added if they are
// bindable. Built-in wrappers are substituted by their inner key, and parameterised types without a declaration are
// specialised from a matching generic constructor-injected type.
//
// Keys that cannot be resolved are recorded and available from [Graph.Missing].
func (g *Graph) RequiredKeys(consumers []ConsumerEntity) []binding.Key {
	queue := []pending{}
	discovered := map[binding.Key]bool{}
	enqueue := func(p pending) {
		if discovered[p.key] {
			return
		}
		discovered[p.key] = true
		queue = append(queue, p)
	}
	for _, consumer := range consumers {
		for _, provision := range consumer.Provisions {
			enqueue(pending{key: provision.Returns, container: consumer.Name})
		}
		for _, site := range consumer.Injects {
			for _, req := range site.Requires {
				enqueue(pending{key: req, container: consumer.Name})
			}
		}
	}

	count := 0
	for len(queue) > 0 {
		count++
		if count > g.opts.maxKeys {
			g.diagnostics = append(g.diagnostics, diag.Errorf(diag.GraphTooLarge, queue[0].key,
				"dependency graph is too large: gave up after expanding %d keys", g.opts.maxKeys))
			break
		}
		current := queue[0]
		queue = queue[1:]
		key := current.key

		if !key.IsBindable() {
			g.opts.logger.Debug("Skipping non-bindable key", "key", key)
			continue
		}

		decls, ok := g.declarations[key]
		if !ok {
			if inner, ok := g.unwrap(key); ok {
				g.opts.logger.Debug("Unwrapped built-in wrapper", "key", key, "inner", inner)
				g.aliases[key] = inner
				enqueue(pending{key: inner, requiredBy: current.requiredBy, container: current.container})
				continue
			}
			decls = g.specialise(key)
		}
		if len(decls) == 0 {
			g.opts.logger.Debug("Missing declaration", "key", key, "requiredBy", current.requiredBy)
			g.missing = append(g.missing, Missing{Key: key, RequiredBy: current.requiredBy, Container: current.container})
			continue
		}

		g.require(key)
		for _, decl := range decls {
			for _, req := range decl.Requires {
				enqueue(pending{key: req, requiredBy: key})
			}
		}
	}
	return slices.Clone(g.required)
}

func (g *Graph) require(key binding.Key) {
	if g.requiredSet[key] {
		return
	}
	g.requiredSet[key] = true
	g.required = append(g.required, key)
}

// Required returns the required keys in order of discovery.
func (g *Graph) Required() []binding.Key { return slices.Clone(g.required) }

// IsRequired returns true if key is in the required set.
func (g *Graph) IsRequired(key binding.Key) bool { return g.requiredSet[key] }

// Missing returns required keys that have no declaration, in order of discovery.
func (g *Graph) Missing() []Missing { return slices.Clone(g.missing) }

// Aliases returns the built-in wrapper keys that were substituted by their inner key.
func (g *Graph) Aliases() map[binding.Key]binding.Key {
	out := make(map[binding.Key]binding.Key, len(g.aliases))
	for k, v := range g.aliases {
		out[k] = v
	}
	return out
}

// Lookup resolves a dependency key to the key in the graph that satisfies it: the key itself if declared, otherwise
// the inner key of a built-in wrapper.
func (g *Graph) Lookup(key binding.Key) (binding.Key, bool) {
	// Each step strips one wrapper, so this terminates.
	for {
		if _, ok := g.declarations[key]; ok {
			return key, true
		}
		inner, ok := g.aliases[key]
		if !ok {
			if inner, ok = g.unwrap(key); !ok {
				return binding.Key{}, false
			}
		}
		key = inner
	}
}

// unwrap a built-in wrapper key W[T] to T, or map[K]W[V] to map[K]V.
func (g *Graph) unwrap(key binding.Key) (binding.Key, bool) {
	t := key.Type()
	switch t.Kind {
	case binding.Declared:
		if g.isWrapper(t) {
			return binding.NewKey(t.Args[0], key.Qualifier()), true
		}
	case binding.Map:
		if g.isWrapper(*t.Elem) {
			return binding.NewKey(binding.MapOf(*t.Key, t.Elem.Args[0]), key.Qualifier()), true
		}
	}
	return binding.Key{}, false
}

func (g *Graph) isWrapper(t binding.Type) bool {
	if t.Kind != binding.Declared || len(t.Args) != 1 {
		return false
	}
	for _, wrapper := range g.opts.wrappers {
		if wrapper == t.Name || (!strings.Contains(wrapper, ".") && wrapper == t.ShortName()) {
			return true
		}
	}
	return false
}

// specialise the generic constructor-injected types matching key, adding the specialised declarations to the graph.
func (g *Graph) specialise(key binding.Key) []*binding.Declaration {
	t := key.Type()
	if t.Kind != binding.Declared || len(t.Args) == 0 {
		return nil
	}
	for _, generic := range g.generics[t.Raw().String()] {
		if generic.Provides.Qualifier() != key.Qualifier() {
			continue
		}
		bindings, ok := binding.Unify(generic.Provides.Type(), t)
		if !ok {
			continue
		}
		decl := generic.Specialise(bindings)
		g.opts.logger.Debug("Specialised generic type", "generic", generic.Provides, "key", decl.Provides)
		g.add(decl)
	}
	return g.declarations[key]
}
