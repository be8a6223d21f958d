package depgraph

import (
	"slices"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/alecthomas/scopegraph/internal/binding"
	"github.com/alecthomas/scopegraph/internal/diag"
)

// Sample keys for testing
var (
	configKey   = binding.MustKey("app.Config")
	loggerKey   = binding.MustKey("*app.Logger")
	dbKey       = binding.MustKey("*app.Database")
	serviceKey  = binding.MustKey("*app.UserService")
	pluginKey   = binding.MustKey("app.Plugin")
	handlerKey  = binding.MustKey("app.Handler")
	clockKey    = binding.MustKey("app.Clock")
	screenKey   = binding.MustKey("*app.Screen")
	primaryDB   = dbKey.Qualified("primary")
	repoUserKey = binding.MustKey("app.Repo[app.User]")
)

// Sample modules
var (
	coreModule = ProviderEntity{
		Name: "CoreModule",
		Methods: []Method{
			{Name: "NewLogger", Provides: loggerKey, Requires: []binding.Key{configKey}},
			{Name: "NewDatabase", Provides: dbKey, Requires: []binding.Key{configKey, loggerKey}, Scope: "Singleton"},
		},
	}

	pluginModule = ProviderEntity{
		Name: "PluginModule",
		Methods: []Method{
			{Name: "LogPlugin", Provides: pluginKey, Provision: binding.SetElement, Requires: []binding.Key{loggerKey}},
			{Name: "DefaultPlugins", Provides: binding.SetKey(pluginKey), Provision: binding.SetValues},
			{Name: "Home", Provides: handlerKey, Provision: binding.MapEntry, MapKey: binding.Named("string")},
		},
	}

	appModule = ProviderEntity{
		Name:     "AppModule",
		Includes: []string{"CoreModule", "PluginModule"},
		Methods: []Method{
			{Name: "NewUserService", Provides: serviceKey, Requires: []binding.Key{dbKey, loggerKey}},
			{Name: "NewConfig", Provides: configKey},
		},
	}
)

// Sample constructor-injected types
var (
	repoType = TypeEntity{
		Type:     binding.MustParseType("app.Repo[T]", "T"),
		Requires: []binding.Key{dbKey, binding.MustKey("app.Cache[T]", "T")},
		Scope:    "Activity",
	}
	cacheType = TypeEntity{
		Type:    binding.MustParseType("app.Cache[V]", "V"),
		Members: []binding.Key{clockKey},
	}
	screenType = TypeEntity{
		Type:     binding.MustParseType("*app.Screen"),
		Requires: []binding.Key{binding.MustKey("Provider[*app.UserService]"), repoUserKey},
	}
)

// Sample containers
var (
	appContainer = ConsumerEntity{
		Name:    "app.AppComponent",
		Scope:   "Singleton",
		Modules: []string{"AppModule"},
		Bound:   []Bound{{Name: "clock", Key: clockKey}},
		Provisions: []Provision{
			{Name: "Service", Returns: serviceKey},
			{Name: "Plugins", Returns: binding.SetKey(pluginKey)},
		},
	}
	activityContainer = ConsumerEntity{
		Name:         "app.ActivityComponent",
		Scope:        "Activity",
		Dependencies: []string{"app.AppComponent"},
		Injects: []InjectionSite{
			{Name: "InjectScreen", Requires: []binding.Key{screenKey}},
		},
	}
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Modules:    []ProviderEntity{appModule, coreModule, pluginModule},
		Types:      []TypeEntity{repoType, cacheType, screenType},
		Containers: []ConsumerEntity{appContainer, activityContainer},
		Parents:    map[string]string{"Singleton": "", "Activity": "Singleton"},
	}
}

func buildGraph(t *testing.T, src Source, options ...Option) *Graph {
	t.Helper()
	g, err := CollectDeclarations(src, options...)
	assert.NoError(t, err)
	g.RequiredKeys(src.Consumers())
	return g
}

func TestCollectDeclarations(t *testing.T) {
	g, err := CollectDeclarations(testSnapshot())
	assert.NoError(t, err)

	// Includes are visited depth-first directly after their includer.
	assert.Equal(t, []string{
		"*app.UserService",
		"app.Config",
		"*app.Logger",
		"*app.Database",
		"[]app.Plugin",
		"map[string]app.Handler",
		"*app.Screen",
		"app.Clock",
		"app.ActivityComponent",
		"app.AppComponent",
	}, keyStrings(g.Keys()))

	plugins := g.Declarations(binding.SetKey(pluginKey))
	assert.Equal(t, 2, len(plugins))
	assert.Equal(t, binding.SetElement, plugins[0].Provision)
	assert.Equal(t, binding.SetValues, plugins[1].Provision)

	handlers := g.Declarations(binding.MustKey("map[string]app.Handler"))
	assert.Equal(t, 1, len(handlers))
	assert.Equal(t, binding.MapEntry, handlers[0].Provision)

	db := g.Declarations(dbKey)
	assert.Equal(t, 1, len(db))
	assert.Equal(t, "Singleton", db[0].Scope)
	assert.Equal(t, binding.Provenance(binding.FactoryMethod{Module: "CoreModule", Method: "NewDatabase"}), db[0].Provenance)

	// Generic types are not declared until specialised.
	assert.Equal(t, 0, len(g.Declarations(binding.MustKey("app.Repo[$T]"))))

	// Structural declarations.
	self := g.Declarations(binding.MustKey("app.ActivityComponent"))
	assert.Equal(t, 1, len(self))
	assert.Equal(t, binding.Provenance(binding.ContainerSelf{Container: "app.ActivityComponent"}), self[0].Provenance)

	app := g.Declarations(binding.MustKey("app.AppComponent"))
	assert.Equal(t, 1, len(app))
	assert.Equal(t, binding.Provenance(binding.DependencySelf{Container: "app.ActivityComponent", Dependency: "app.AppComponent"}), app[0].Provenance)

	clock := g.Declarations(clockKey)
	assert.Equal(t, 1, len(clock))
	assert.Equal(t, binding.Provenance(binding.BoundInstance{Container: "app.AppComponent", Name: "clock"}), clock[0].Provenance)

	// The dependency's provision methods are already declared by its modules.
	assert.Equal(t, 1, len(g.Declarations(serviceKey)))
	assert.Equal(t, 0, len(g.Diagnostics()))
}

func TestDependencyMethodsSupplyUndeclaredKeys(t *testing.T) {
	parent := ConsumerEntity{
		Name:       "app.ParentComponent",
		Scope:      "Singleton",
		Provisions: []Provision{{Name: "Clock", Returns: clockKey}},
	}
	child := ConsumerEntity{
		Name:         "app.ChildComponent",
		Dependencies: []string{"app.ParentComponent", "app.Unknown"},
		Provisions:   []Provision{{Name: "Clock", Returns: clockKey}},
	}
	g := buildGraph(t, &Snapshot{Containers: []ConsumerEntity{parent, child}})
	decls := g.Declarations(clockKey)
	assert.Equal(t, 1, len(decls))
	assert.Equal(t, binding.Provenance(binding.DependencyMethod{
		Container:  "app.ChildComponent",
		Dependency: "app.ParentComponent",
		Method:     "Clock",
	}), decls[0].Provenance)
	assert.True(t, decls[0].IsStructural())

	diagnostics := g.Diagnostics()
	assert.Equal(t, 1, len(diagnostics))
	assert.Equal(t, diag.UnknownContainer, diagnostics[0].Kind)
}

func TestRequiredKeysClosure(t *testing.T) {
	g := buildGraph(t, testSnapshot())
	required := g.Required()

	expected := []binding.Key{
		serviceKey,
		binding.SetKey(pluginKey),
		screenKey,
		dbKey,
		loggerKey,
		repoUserKey,
		configKey,
		binding.MustKey("app.Cache[app.User]"),
		clockKey,
	}
	assert.Equal(t, keyStrings(expected), keyStrings(required))
	assert.Equal(t, 0, len(g.Missing()))

	// Closure completeness: every dependency of every required key is required, or substituted by its inner key.
	for _, key := range required {
		for _, decl := range g.Declarations(key) {
			for _, req := range decl.Requires {
				resolved, ok := g.Lookup(req)
				assert.True(t, ok, "%s requires %s which cannot be resolved", key, req)
				assert.True(t, g.IsRequired(resolved), "%s is not required", resolved)
			}
		}
	}
}

func TestRequiredKeysIsDeterministic(t *testing.T) {
	first := buildGraph(t, testSnapshot())
	for range 10 {
		again := buildGraph(t, testSnapshot())
		assert.Equal(t, keyStrings(first.Required()), keyStrings(again.Required()))
		assert.Equal(t, first.Graph(), again.Graph())
	}
}

func TestBuiltinWrapperUnwrap(t *testing.T) {
	foo := binding.MustKey("app.Foo")
	src := &Snapshot{
		Modules: []ProviderEntity{{Name: "M", Methods: []Method{{Name: "NewFoo", Provides: foo}}}},
		Containers: []ConsumerEntity{{
			Name: "app.C",
			Provisions: []Provision{
				{Name: "FooProvider", Returns: binding.MustKey("Provider[app.Foo]")},
				{Name: "LazyFoo", Returns: binding.MustKey("github.com/example/inject.Lazy[app.Foo]")},
				{Name: "Handlers", Returns: binding.MustKey("map[string]Provider[app.Handler]")},
			},
		}},
	}
	src.Modules[0].Methods = append(src.Modules[0].Methods,
		Method{Name: "Home", Provides: handlerKey, Provision: binding.MapEntry, MapKey: binding.Named("string")})

	g := buildGraph(t, src)
	assert.Equal(t, 0, len(g.Missing()))
	assert.Equal(t, []string{"app.Foo", "map[string]app.Handler"}, keyStrings(g.Required()))

	resolved, ok := g.Lookup(binding.MustKey("Provider[app.Foo]"))
	assert.True(t, ok)
	assert.Equal(t, foo, resolved)

	// Nested wrappers never seen during closure still resolve.
	resolved, ok = g.Lookup(binding.MustKey("Provider[Lazy[app.Foo]]"))
	assert.True(t, ok)
	assert.Equal(t, foo, resolved)

	_, ok = g.Lookup(binding.MustKey("Provider[app.Bar]"))
	assert.False(t, ok)
}

func TestCustomWrappers(t *testing.T) {
	foo := binding.MustKey("app.Foo")
	src := &Snapshot{
		Modules: []ProviderEntity{{Name: "M", Methods: []Method{{Name: "NewFoo", Provides: foo}}}},
		Containers: []ConsumerEntity{{
			Name:       "app.C",
			Provisions: []Provision{{Name: "Foo", Returns: binding.MustKey("example.com/di.Deferred[app.Foo]")}},
		}},
	}
	g := buildGraph(t, src)
	assert.Equal(t, 1, len(g.Missing()))

	g = buildGraph(t, src, WithWrappers("example.com/di.Deferred"))
	assert.Equal(t, 0, len(g.Missing()))
}

func TestMissingDeclarations(t *testing.T) {
	src := &Snapshot{
		Modules: []ProviderEntity{{Name: "M", Methods: []Method{
			{Name: "NewService", Provides: serviceKey, Requires: []binding.Key{dbKey, primaryDB}},
		}}},
		Containers: []ConsumerEntity{{
			Name:       "app.C",
			Provisions: []Provision{{Name: "Service", Returns: serviceKey}, {Name: "Repo", Returns: repoUserKey}},
		}},
	}
	g := buildGraph(t, src)
	assert.Equal(t, []Missing{
		{Key: repoUserKey, Container: "app.C"},
		{Key: dbKey, RequiredBy: serviceKey},
		{Key: primaryDB, RequiredBy: serviceKey},
	}, g.Missing())
}

func TestNonBindableKeysAreSkipped(t *testing.T) {
	src := &Snapshot{
		Modules: []ProviderEntity{{Name: "M", Methods: []Method{
			{Name: "NewService", Provides: serviceKey, Requires: []binding.Key{binding.MustKey("app.Box[T]", "T")}},
		}}},
		Containers: []ConsumerEntity{{Name: "app.C", Provisions: []Provision{{Name: "Service", Returns: serviceKey}}}},
	}
	g := buildGraph(t, src)
	assert.Equal(t, 0, len(g.Missing()))
	assert.Equal(t, []string{"*app.UserService"}, keyStrings(g.Required()))
}

func TestRunawaySpecialisationIsBounded(t *testing.T) {
	box := TypeEntity{
		Type:     binding.MustParseType("app.Box[T]", "T"),
		Requires: []binding.Key{binding.MustKey("app.Box[app.Box[T]]", "T")},
	}
	src := &Snapshot{
		Types:      []TypeEntity{box},
		Containers: []ConsumerEntity{{Name: "app.C", Provisions: []Provision{{Name: "Box", Returns: binding.MustKey("app.Box[int]")}}}},
	}
	g := buildGraph(t, src, WithMaxKeys(50))
	diagnostics := g.Diagnostics()
	assert.Equal(t, 1, len(diagnostics))
	assert.Equal(t, diag.GraphTooLarge, diagnostics[0].Kind)
	assert.Equal(t, 50, len(g.Required()))
}

func TestCollectDeclarationsErrors(t *testing.T) {
	tests := []struct {
		name string
		src  *Snapshot
		err  string
	}{
		{
			name: "DuplicateModule",
			src:  &Snapshot{Modules: []ProviderEntity{{Name: "M"}, {Name: "M"}}},
			err:  `duplicate module "M"`,
		},
		{
			name: "DuplicateContainer",
			src:  &Snapshot{Containers: []ConsumerEntity{{Name: "app.C"}, {Name: "app.C"}}},
			err:  `duplicate container "app.C"`,
		},
		{
			name: "SetValuesNotSlice",
			src: &Snapshot{Modules: []ProviderEntity{{Name: "M", Methods: []Method{
				{Name: "Plugins", Provides: pluginKey, Provision: binding.SetValues},
			}}}},
			err: "M.Plugins: set-values method must provide a slice",
		},
		{
			name: "MapEntryWithoutKey",
			src: &Snapshot{Modules: []ProviderEntity{{Name: "M", Methods: []Method{
				{Name: "Home", Provides: handlerKey, Provision: binding.MapEntry},
			}}}},
			err: "M.Home: map-entry method has no map key type",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := CollectDeclarations(test.src)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), test.err)
		})
	}
}

func TestUnknownModules(t *testing.T) {
	src := &Snapshot{
		Modules:    []ProviderEntity{{Name: "M", Includes: []string{"Missing"}}},
		Containers: []ConsumerEntity{{Name: "app.C", Modules: []string{"M", "Other"}}},
	}
	g, err := CollectDeclarations(src)
	assert.NoError(t, err)
	kinds := []diag.Kind{}
	for _, d := range g.Diagnostics() {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []diag.Kind{diag.UnknownModule, diag.UnknownModule}, kinds)
}

func keyStrings(keys []binding.Key) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = key.String()
	}
	return slices.Clip(out)
}
