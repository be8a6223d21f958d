package manifest

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/psanford/memfs"

	"github.com/alecthomas/scopegraph/internal/binding"
	"github.com/alecthomas/scopegraph/internal/depgraph"
	"github.com/alecthomas/scopegraph/internal/diag"
	"github.com/alecthomas/scopegraph/internal/resolver"
)

const example = `
# Scopes, from longest to shortest lived.
scope Singleton
scope Activity < Singleton
alias AppScope = Singleton

module NetModule {
  provide example.Client (example.Config) as NewClient scoped Singleton
}

// Plugins and handlers.
module AppModule includes NetModule {
  provide set example.Plugin (example.Client) as LogPlugin
  provide values []example.Plugin as DefaultPlugins
  provide map=string example.Handler (example.Client) as Home
  provide "primary" example.DB as PrimaryDB
  provide map[string]example.Route as Routes scoped AppScope
}

inject example.Repo[T] scoped Activity (example.DB, example.Cache[T]) members (example.Clock)

container example.AppComponent scoped Singleton modules AppModule {
  bind example.Clock
  depends example.ParentComponent
  get example.Repo[example.User] as Repo
  inject example.Screen (example.Clock)
  inject *example.Widget as InjectWidget
}
`

func TestParse(t *testing.T) {
	snapshot, err := Parse("example.sg", example)
	assert.NoError(t, err)
	expected := &depgraph.Snapshot{
		Modules: []depgraph.ProviderEntity{
			{Name: "NetModule", Methods: []depgraph.Method{
				{Name: "NewClient", Provides: binding.MustKey("example.Client"), Scope: "Singleton",
					Requires: []binding.Key{binding.MustKey("example.Config")}},
			}},
			{Name: "AppModule", Includes: []string{"NetModule"}, Methods: []depgraph.Method{
				{Name: "LogPlugin", Provides: binding.MustKey("example.Plugin"), Provision: binding.SetElement,
					Requires: []binding.Key{binding.MustKey("example.Client")}},
				{Name: "DefaultPlugins", Provides: binding.MustKey("[]example.Plugin"), Provision: binding.SetValues},
				{Name: "Home", Provides: binding.MustKey("example.Handler"), Provision: binding.MapEntry,
					MapKey: binding.MustParseType("string"), Requires: []binding.Key{binding.MustKey("example.Client")}},
				{Name: "PrimaryDB", Provides: binding.MustKey("example.DB").Qualified("primary")},
				{Name: "Routes", Provides: binding.MustKey("map[string]example.Route"), Scope: "AppScope"},
			}},
		},
		Types: []depgraph.TypeEntity{
			{
				Type:     binding.MustParseType("example.Repo[T]", "T"),
				Requires: []binding.Key{binding.MustKey("example.DB"), binding.MustKey("example.Cache[T]", "T")},
				Members:  []binding.Key{binding.MustKey("example.Clock")},
				Scope:    "Activity",
			},
		},
		Containers: []depgraph.ConsumerEntity{
			{
				Name:         "example.AppComponent",
				Scope:        "Singleton",
				Modules:      []string{"AppModule"},
				Dependencies: []string{"example.ParentComponent"},
				Bound:        []depgraph.Bound{{Name: "example.Clock", Key: binding.MustKey("example.Clock")}},
				Provisions:   []depgraph.Provision{{Name: "Repo", Returns: binding.MustKey("example.Repo[example.User]")}},
				Injects: []depgraph.InjectionSite{
					{Name: "inject example.Screen", Requires: []binding.Key{binding.MustKey("example.Clock")}},
					{Name: "InjectWidget", Requires: []binding.Key{binding.MustKey("*example.Widget")}},
				},
			},
		},
		Aliases: map[string]string{"AppScope": "Singleton"},
		Parents: map[string]string{"Singleton": "", "Activity": "Singleton"},
	}
	assert.Equal(t, expected, snapshot)
}

func TestTypeVariables(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		typ      string
		requires []binding.Key
		vars     []string
	}{
		{"Mixed", `inject example.Pair[K, $V, example.User] (example.Codec[K], example.Store[V])`,
			"example.Pair[$K, $V, example.User]",
			[]binding.Key{binding.MustKey("example.Codec[$K]"), binding.MustKey("example.Store[$V]")},
			[]string{"K", "V"}},
		{"Predeclared", `inject example.Box[int] (example.Dep)`,
			"example.Box[int]",
			[]binding.Key{binding.MustKey("example.Dep")},
			nil},
		{"PredeclaredAndVar", `inject example.Cache[string, T] (example.Store[T])`,
			"example.Cache[string, $T]",
			[]binding.Key{binding.MustKey("example.Store[$T]")},
			[]string{"T"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			snapshot, err := Parse("", test.text)
			assert.NoError(t, err)
			entity := snapshot.Types[0]
			assert.Equal(t, test.typ, entity.Type.String())
			assert.Equal(t, test.requires, entity.Requires)
			assert.Equal(t, test.vars, entity.Type.TypeVars())
			assert.Equal(t, len(test.vars) == 0, entity.Type.IsBindable())
		})
	}
}

func TestResolvePredeclaredTypeArgument(t *testing.T) {
	snapshot, err := Parse("app.sg", `
scope Singleton
inject example.Box[int] scoped Singleton
container example.App scoped Singleton {
  get example.Box[int] as Box
}
`)
	assert.NoError(t, err)
	result, err := resolver.Pass(snapshot, resolver.Final(true))
	assert.NoError(t, err)
	assert.True(t, result.OK())
	s, ok := result.Assignment.Scope(binding.MustKey("example.Box[int]"))
	assert.True(t, ok)
	assert.Equal(t, "Singleton", string(s))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		error string
	}{
		{"Syntax", `module {}`, `failed to parse manifest`},
		{"MissingProvideName", `module M { provide example.A }`, `failed to parse manifest`},
		{"DuplicateModule", "module M {}\nmodule M {}", `2:1: duplicate module "M"`},
		{"DuplicateContainer", "container example.C {}\ncontainer example.C {}", `duplicate container "example.C"`},
		{"DuplicateScope", "scope A\nscope A < B", `duplicate scope "A"`},
		{"AliasShadowsScope", "scope A\nalias A = B", `duplicate scope "A"`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse("test.sg", test.text)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), test.error)
		})
	}
}

func TestLoad(t *testing.T) {
	fsys := memfs.New()
	assert.NoError(t, fsys.MkdirAll("graph", 0700))
	assert.NoError(t, fsys.WriteFile("graph/scopes.sg", []byte("scope Singleton\n"), 0600))
	assert.NoError(t, fsys.WriteFile("graph/app.sg", []byte(`
module AppModule { provide example.DB as NewDB scoped Singleton }
container example.App modules AppModule { get example.DB as DB }
`), 0600))
	assert.NoError(t, fsys.WriteFile("graph/dupe.txt", []byte("module AppModule {}"), 0600))

	snapshot, err := Load(fsys, "graph/*.sg", "graph/app.sg")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(snapshot.Modules))
	assert.Equal(t, 1, len(snapshot.Containers))
	assert.Equal(t, map[string]string{"Singleton": ""}, snapshot.Parents)

	_, err = Load(fsys, "graph/*.sg", "graph/dupe.txt")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `graph/dupe.txt:1:1: duplicate module "AppModule"`)

	_, err = Load(fsys, "missing/*.sg")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no manifests found")
}

func TestResolveManifest(t *testing.T) {
	snapshot, err := Parse("app.sg", `
scope Singleton
scope Activity < Singleton

module AppModule {
  provide example.Config as NewConfig scoped Singleton
  provide example.DB (example.Config) as NewDB
  provide example.Session (example.DB) as NewSession scoped Activity
  provide example.Cache (example.Session) as NewCache scoped Singleton
}

container example.AppComponent scoped Singleton modules AppModule {
  get example.DB as DB
  get example.Cache as Cache
  get example.Missing as Missing
}
`)
	assert.NoError(t, err)
	result, err := resolver.Pass(snapshot, resolver.Final(true))
	assert.NoError(t, err)

	scopes := map[string]string{}
	for _, key := range result.Assignment.Keys() {
		s, _ := result.Assignment.Scope(key)
		scopes[key.String()] = string(s)
	}
	assert.Equal(t, map[string]string{
		"example.Config":  "Singleton",
		"example.DB":      "Singleton",
		"example.Session": "Activity",
		"example.Cache":   "Singleton",
	}, scopes)

	kinds := []diag.Kind{}
	for _, d := range result.Errors() {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []diag.Kind{diag.MissingBinding, diag.ScopeViolation}, kinds)
}
