// Package manifest loads declarations from a small text DSL.
//
//	# Scopes, from longest to shortest lived.
//	scope Singleton
//	scope Activity < Singleton
//	alias AppScope = Singleton
//
//	module AppModule includes NetModule {
//	  provide example.Client (example.Config) as NewClient scoped Singleton
//	  provide set example.Plugin (example.Client) as LogPlugin
//	  provide values []example.Plugin as DefaultPlugins
//	  provide map=string example.Handler (example.Client) as Home
//	  provide "primary" example.DB as PrimaryDB
//	}
//
//	inject example.Repo[T] scoped Activity (example.DB, example.Cache[T]) members (example.Clock)
//
//	container example.AppComponent scoped Singleton modules AppModule {
//	  bind example.Clock
//	  depends example.ParentComponent
//	  get example.Repo[example.User] as Repo
//	  inject example.Screen (example.Clock)
//	}
package manifest

import (
	"io/fs"
	"slices"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/alecthomas/scopegraph/internal/binding"
	"github.com/alecthomas/scopegraph/internal/depgraph"
)

// Parse a single manifest.
func Parse(filename, text string) (*depgraph.Snapshot, error) {
	b := newBuilder()
	if err := b.parse(filename, text); err != nil {
		return nil, err
	}
	return b.snapshot, nil
}

// Load and merge the manifests matching each of the glob patterns in fsys.
//
// Module, container and scope names must be unique across all files.
func Load(fsys fs.FS, patterns ...string) (*depgraph.Snapshot, error) {
	b := newBuilder()
	seen := map[string]bool{}
	for _, pattern := range patterns {
		matches, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, errors.Errorf("%s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, errors.Errorf("%s: no manifests found", pattern)
		}
		slices.Sort(matches)
		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true
			data, err := fs.ReadFile(fsys, path)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read manifest")
			}
			if err := b.parse(path, string(data)); err != nil {
				return nil, err
			}
		}
	}
	return b.snapshot, nil
}

type builder struct {
	snapshot   *depgraph.Snapshot
	modules    map[string]bool
	containers map[string]bool
	scopes     map[string]bool
}

func newBuilder() *builder {
	return &builder{
		snapshot: &depgraph.Snapshot{
			Aliases: map[string]string{},
			Parents: map[string]string{},
		},
		modules:    map[string]bool{},
		containers: map[string]bool{},
		scopes:     map[string]bool{},
	}
}

func (b *builder) parse(filename, text string) error {
	ast, err := manifestParser.ParseString(filename, text)
	if err != nil {
		return errors.Errorf("failed to parse manifest: %w", err)
	}
	for _, decl := range ast.Declarations {
		if err := decl.apply(b); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) declareScope(pos lexer.Position, name string) error {
	if b.scopes[name] {
		return errors.Errorf("%s: duplicate scope %q", pos, name)
	}
	b.scopes[name] = true
	return nil
}

func (d *scopeDecl) apply(b *builder) error {
	if err := b.declareScope(d.Pos, d.Name); err != nil {
		return err
	}
	b.snapshot.Parents[d.Name] = d.Parent
	return nil
}

func (d *aliasDecl) apply(b *builder) error {
	if err := b.declareScope(d.Pos, d.Name); err != nil {
		return err
	}
	b.snapshot.Aliases[d.Name] = d.Target
	return nil
}

func (d *moduleDecl) apply(b *builder) error {
	if b.modules[d.Name] {
		return errors.Errorf("%s: duplicate module %q", d.Pos, d.Name)
	}
	b.modules[d.Name] = true
	module := depgraph.ProviderEntity{Name: d.Name, Includes: d.Includes}
	for _, provide := range d.Provides {
		method, err := provide.method()
		if err != nil {
			return errors.Errorf("%s: %w", provide.Pos, err)
		}
		module.Methods = append(module.Methods, method)
	}
	b.snapshot.Modules = append(b.snapshot.Modules, module)
	return nil
}

func (d *provideDecl) method() (depgraph.Method, error) {
	provides, err := d.Key.key()
	if err != nil {
		return depgraph.Method{}, err
	}
	method := depgraph.Method{Name: d.Name, Provides: provides, Scope: d.Scope}
	switch {
	case d.Set:
		method.Provision = binding.SetElement
	case d.Values:
		method.Provision = binding.SetValues
	case d.MapKey != nil:
		method.Provision = binding.MapEntry
		if method.MapKey, err = binding.ParseType(d.MapKey.String()); err != nil {
			return depgraph.Method{}, errors.WithStack(err)
		}
	}
	if method.Requires, err = keys(d.Requires); err != nil {
		return depgraph.Method{}, err
	}
	return method, nil
}

func (d *injectDecl) apply(b *builder) error {
	params := d.Type.typeParams()
	t, err := binding.ParseType(d.Type.String(), params...)
	if err != nil {
		return errors.Errorf("%s: %w", d.Pos, err)
	}
	entity := depgraph.TypeEntity{Type: t, Scope: d.Scope}
	if entity.Requires, err = keys(d.Requires, params...); err != nil {
		return errors.Errorf("%s: %w", d.Pos, err)
	}
	if entity.Members, err = keys(d.Members, params...); err != nil {
		return errors.Errorf("%s: %w", d.Pos, err)
	}
	b.snapshot.Types = append(b.snapshot.Types, entity)
	return nil
}

func (d *containerDecl) apply(b *builder) error {
	if b.containers[d.Name] {
		return errors.Errorf("%s: duplicate container %q", d.Pos, d.Name)
	}
	b.containers[d.Name] = true
	container := depgraph.ConsumerEntity{Name: d.Name, Scope: d.Scope, Modules: d.Modules}
	for _, member := range d.Members {
		if err := member.apply(&container); err != nil {
			return errors.Errorf("%s: %w", member.Pos, err)
		}
	}
	b.snapshot.Containers = append(b.snapshot.Containers, container)
	return nil
}

func (m *containerMember) apply(container *depgraph.ConsumerEntity) error {
	switch {
	case m.Bind != nil:
		key, err := m.Bind.Key.key()
		if err != nil {
			return err
		}
		name := m.Bind.Name
		if name == "" {
			name = key.String()
		}
		container.Bound = append(container.Bound, depgraph.Bound{Name: name, Key: key})

	case m.Depends != "":
		container.Dependencies = append(container.Dependencies, m.Depends)

	case m.Get != nil:
		key, err := m.Get.Key.key()
		if err != nil {
			return err
		}
		container.Provisions = append(container.Provisions, depgraph.Provision{Name: m.Get.Name, Returns: key})

	case m.Inject != nil:
		target, err := binding.ParseKey(m.Inject.Type.String(), "")
		if err != nil {
			return errors.WithStack(err)
		}
		requires, err := keys(m.Inject.Requires)
		if err != nil {
			return err
		}
		if len(requires) == 0 {
			requires = []binding.Key{target}
		}
		name := m.Inject.Name
		if name == "" {
			name = "inject " + target.String()
		}
		container.Injects = append(container.Injects, depgraph.InjectionSite{Name: name, Requires: requires})
	}
	return nil
}

func (k *keyExpr) key(typeParams ...string) (binding.Key, error) {
	key, err := binding.ParseKey(k.Type.String(), k.Qualifier, typeParams...)
	if err != nil {
		return binding.Key{}, errors.WithStack(err)
	}
	return key, nil
}

func keys(exprs []*keyExpr, typeParams ...string) ([]binding.Key, error) {
	var out []binding.Key
	for _, expr := range exprs {
		key, err := expr.key(typeParams...)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, nil
}
