package depgraph

import (
	"io"
	"log/slog"
	"slices"

	"github.com/alecthomas/errors"

	"github.com/alecthomas/scopegraph/internal/binding"
	"github.com/alecthomas/scopegraph/internal/diag"
)

// DefaultWrappers are the built-in wrapper types that are never bound themselves, but are satisfied by a binding of
// their single type argument.
var DefaultWrappers = []string{"Provider", "Lazy", "Optional"}

type graphOptions struct {
	// Wrapper type names. Unqualified names match any package.
	wrappers []string
	// Upper bound on the number of keys expanded during closure.
	maxKeys int
	logger  *slog.Logger
}

type Option func(*graphOptions) error

// WithWrappers adds built-in wrapper types in addition to [DefaultWrappers].
func WithWrappers(wrappers ...string) Option {
	return func(o *graphOptions) error {
		for _, wrapper := range wrappers {
			if wrapper == "" {
				return errors.Errorf("empty wrapper type name")
			}
		}
		o.wrappers = append(o.wrappers, wrappers...)
		return nil
	}
}

// WithMaxKeys limits the number of keys expanded while computing required keys.
func WithMaxKeys(n int) Option {
	return func(o *graphOptions) error {
		if n <= 0 {
			return errors.Errorf("max keys must be positive, not %d", n)
		}
		o.maxKeys = n
		return nil
	}
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(o *graphOptions) error {
		o.logger = logger
		return nil
	}
}

func WithOptions(options ...Option) Option {
	return func(o *graphOptions) error {
		for _, opt := range options {
			err := opt(o)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}
}

// Missing is a required key with no declaration.
type Missing struct {
	Key binding.Key
	// RequiredBy is the key whose declaration required Key, or the zero key if a container required it directly.
	RequiredBy binding.Key
	// Container is the container that required Key directly, if any.
	Container string
}

// Graph is a multimap from binding key to the declarations producing it.
//
// The graph is mutable only while [CollectDeclarations] and [Graph.RequiredKeys] run, and is read-only afterwards.
type Graph struct {
	opts         *graphOptions
	declarations map[binding.Key][]*binding.Declaration
	// Keys in order of first declaration.
	keys []binding.Key
	// Generic constructor-injected types by raw type.
	generics   map[string][]*binding.Declaration
	containers map[string]ConsumerEntity
	modules    map[string]ProviderEntity

	required    []binding.Key
	requiredSet map[binding.Key]bool
	// Wrapper keys to the key they were substituted with.
	aliases     map[binding.Key]binding.Key
	missing     []Missing
	diagnostics []*diag.Diagnostic
}

// CollectDeclarations normalises the declarations of every module, constructor-injected type and container in src
// into a Graph.
//
// Structurally inconsistent input (duplicate module names, a set-values method that does not provide a slice) is an
// error. Recoverable problems such as unknown module references are recorded as diagnostics.
func CollectDeclarations(src Source, options ...Option) (*Graph, error) {
	opts := &graphOptions{
		wrappers: slices.Clone(DefaultWrappers),
		maxKeys:  100_000,
	}
	for _, opt := range options {
		if err := opt(opts); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if opts.logger == nil {
		opts.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g := &Graph{
		opts:         opts,
		declarations: map[binding.Key][]*binding.Declaration{},
		generics:     map[string][]*binding.Declaration{},
		containers:   map[string]ConsumerEntity{},
		modules:      map[string]ProviderEntity{},
		requiredSet:  map[binding.Key]bool{},
		aliases:      map[binding.Key]binding.Key{},
	}

	for _, module := range src.ProviderEntities() {
		if _, ok := g.modules[module.Name]; ok {
			return nil, errors.Errorf("duplicate module %q", module.Name)
		}
		g.modules[module.Name] = module
	}
	for _, container := range src.Consumers() {
		if _, ok := g.containers[container.Name]; ok {
			return nil, errors.Errorf("duplicate container %q", container.Name)
		}
		g.containers[container.Name] = container
	}

	if err := g.collectModules(src.ProviderEntities()); err != nil {
		return nil, err
	}
	for _, entity := range src.InjectedTypes() {
		g.collectType(entity)
	}
	dependedOn := map[string]bool{}
	for _, container := range src.Consumers() {
		for _, dependency := range container.Dependencies {
			dependedOn[dependency] = true
		}
	}
	for _, container := range src.Consumers() {
		g.collectContainer(container, dependedOn)
	}
	g.collectDependencies(src.Consumers())
	return g, nil
}

// Visit every module, and every module it includes, exactly once in depth-first declaration order.
func (g *Graph) collectModules(modules []ProviderEntity) error {
	visited := map[string]bool{}
	for _, root := range modules {
		stack := []string{root.Name}
		for len(stack) > 0 {
			name := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[name] {
				continue
			}
			visited[name] = true
			module := g.modules[name]
			for _, method := range module.Methods {
				if err := g.collectMethod(module, method); err != nil {
					return err
				}
			}
			for i := len(module.Includes) - 1; i >= 0; i-- {
				include := module.Includes[i]
				if _, ok := g.modules[include]; !ok {
					g.diagnostics = append(g.diagnostics, diag.Errorf(diag.UnknownModule, binding.Key{},
						"module %s includes unknown module %s", module.Name, include))
					continue
				}
				stack = append(stack, include)
			}
		}
	}
	return nil
}

func (g *Graph) collectMethod(module ProviderEntity, method Method) error {
	provenance := binding.FactoryMethod{Module: module.Name, Method: method.Name}
	var key binding.Key
	switch method.Provision {
	case binding.Unique:
		key = method.Provides
	case binding.SetElement:
		key = binding.SetKey(method.Provides)
	case binding.SetValues:
		if method.Provides.Type().Kind != binding.Array {
			return errors.Errorf("%s: set-values method must provide a slice, not %s", provenance, method.Provides)
		}
		key = method.Provides
	case binding.MapEntry:
		if method.MapKey.Kind == 0 {
			return errors.Errorf("%s: map-entry method has no map key type", provenance)
		}
		key = binding.MapKey(method.MapKey, method.Provides)
	default:
		return errors.Errorf("%s: unknown provision kind %s", provenance, method.Provision)
	}
	g.add(binding.NewDeclaration(key, method.Provision, provenance, method.Scope, method.Requires...))
	return nil
}

func (g *Graph) collectType(entity TypeEntity) {
	requires := slices.Concat(entity.Requires, entity.Members)
	provenance := binding.InjectedType{Type: entity.Type.Raw().String()}
	decl := binding.NewDeclaration(binding.NewKey(entity.Type, ""), binding.Unique, provenance, entity.Scope, requires...)
	if !entity.Type.IsBindable() {
		raw := entity.Type.Raw().String()
		g.generics[raw] = append(g.generics[raw], decl)
		return
	}
	g.add(decl)
}

// A container binds itself and its bound instances.
//
// A container that other containers depend on is bound through [binding.DependencySelf] instead, by
// collectDependencies.
func (g *Graph) collectContainer(container ConsumerEntity, dependedOn map[string]bool) {
	if !dependedOn[container.Name] {
		g.add(binding.NewDeclaration(containerKey(container.Name), binding.Unique,
			binding.ContainerSelf{Container: container.Name}, ""))
	}
	for _, bound := range container.Bound {
		g.add(binding.NewDeclaration(bound.Key, binding.Unique,
			binding.BoundInstance{Container: container.Name, Name: bound.Name}, ""))
	}
	for _, module := range container.Modules {
		if _, ok := g.modules[module]; !ok {
			g.diagnostics = append(g.diagnostics, diag.Errorf(diag.UnknownModule, containerKey(container.Name),
				"container %s installs unknown module %s", container.Name, module))
		}
	}
}

// Each dependency container is bound once, by the first container depending on it. Its provision methods only
// supply keys that nothing else in the graph declares, as the dependency's own modules may share this graph.
func (g *Graph) collectDependencies(containers []ConsumerEntity) {
	declared := make(map[binding.Key]bool, len(g.declarations))
	for key := range g.declarations {
		declared[key] = true
	}
	bound := map[string]bool{}
	for _, container := range containers {
		for _, name := range container.Dependencies {
			dependency, ok := g.containers[name]
			if !ok {
				g.diagnostics = append(g.diagnostics, diag.Errorf(diag.UnknownContainer, containerKey(container.Name),
					"container %s depends on unknown container %s", container.Name, name))
				continue
			}
			if bound[name] {
				continue
			}
			bound[name] = true
			g.add(binding.NewDeclaration(containerKey(name), binding.Unique,
				binding.DependencySelf{Container: container.Name, Dependency: name}, ""))
			for _, provision := range dependency.Provisions {
				if declared[provision.Returns] {
					continue
				}
				g.add(binding.NewDeclaration(provision.Returns, binding.Unique,
					binding.DependencyMethod{Container: container.Name, Dependency: name, Method: provision.Name}, ""))
			}
		}
	}
}

func (g *Graph) add(decl *binding.Declaration) {
	if _, ok := g.declarations[decl.Provides]; !ok {
		g.keys = append(g.keys, decl.Provides)
	}
	g.declarations[decl.Provides] = append(g.declarations[decl.Provides], decl)
}

func containerKey(name string) binding.Key {
	return binding.NewKey(binding.MustParseType(name), "")
}

// ContainerKey returns the key a container is bound to.
func ContainerKey(name string) binding.Key { return containerKey(name) }

// Declarations returns the declarations producing key, in the order they were declared.
func (g *Graph) Declarations(key binding.Key) []*binding.Declaration {
	return g.declarations[key]
}

// Keys returns every declared key, in order of first declaration.
func (g *Graph) Keys() []binding.Key { return slices.Clone(g.keys) }

// Container returns the container with the given name.
func (g *Graph) Container(name string) (ConsumerEntity, bool) {
	c, ok := g.containers[name]
	return c, ok
}

// Containers returns the names of all containers, sorted.
func (g *Graph) Containers() []string {
	out := make([]string, 0, len(g.containers))
	for name := range g.containers {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Diagnostics recorded while building the graph.
func (g *Graph) Diagnostics() []*diag.Diagnostic { return slices.Clone(g.diagnostics) }

// Graph returns the required part of the dependency graph as a map where keys are key strings and values are the
// key strings of their dependencies.
func (g *Graph) Graph() map[string][]string {
	result := make(map[string][]string, len(g.required))
	for _, key := range g.required {
		deps := []string{}
		seen := map[binding.Key]bool{}
		for _, decl := range g.declarations[key] {
			for _, req := range decl.Requires {
				if !seen[req] {
					seen[req] = true
					deps = append(deps, req.String())
				}
			}
		}
		result[key.String()] = deps
	}
	return result
}
