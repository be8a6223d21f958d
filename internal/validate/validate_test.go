package validate

import (
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/alecthomas/scopegraph/internal/binding"
	"github.com/alecthomas/scopegraph/internal/depgraph"
	"github.com/alecthomas/scopegraph/internal/diag"
	"github.com/alecthomas/scopegraph/internal/inference"
	"github.com/alecthomas/scopegraph/internal/scope"
)

var nested = map[string]string{"Outer": "", "Mid": "Outer", "Inner": "Mid"}

type fixture struct {
	graph      *depgraph.Graph
	tree       *scope.Tree
	assignment *inference.Assignment
}

func provide(name, provides, scope string, requires ...string) depgraph.Method {
	method := depgraph.Method{Name: name, Provides: binding.MustKey(provides), Scope: scope}
	for _, req := range requires {
		method.Requires = append(method.Requires, binding.MustKey(req))
	}
	return method
}

func build(t *testing.T, roots []string, methods ...depgraph.Method) fixture {
	t.Helper()
	container := depgraph.ConsumerEntity{Name: "app.Component", Modules: []string{"M"}}
	for _, root := range roots {
		container.Provisions = append(container.Provisions, depgraph.Provision{Name: "Get", Returns: binding.MustKey(root)})
	}
	src := &depgraph.Snapshot{
		Modules:    []depgraph.ProviderEntity{{Name: "M", Methods: methods}},
		Containers: []depgraph.ConsumerEntity{container},
		Parents:    nested,
	}
	tree, err := scope.New(nil, nested)
	assert.NoError(t, err)
	graph, err := depgraph.CollectDeclarations(src)
	assert.NoError(t, err)
	graph.RequiredKeys(src.Containers)
	engine, err := inference.New(graph, tree)
	assert.NoError(t, err)
	assignment, _ := engine.Resolve()
	return fixture{graph: graph, tree: tree, assignment: assignment}
}

func TestScopeOrder(t *testing.T) {
	tests := []struct {
		name     string
		methods  []depgraph.Method
		expected []string
	}{
		{
			name: "DependsOnShorterLived",
			methods: []depgraph.Method{
				provide("NewA", "A", "Outer", "B"),
				provide("NewB", "B", "Inner"),
			},
			expected: []string{"A"},
		},
		{
			name: "DependsOnLongerLived",
			methods: []depgraph.Method{
				provide("NewA", "A", "Inner", "B"),
				provide("NewB", "B", "Outer"),
			},
		},
		{
			name: "ThroughWrapper",
			methods: []depgraph.Method{
				provide("NewA", "A", "Outer", "Provider[B]", "Lazy[B]"),
				provide("NewB", "B", "Mid"),
			},
			expected: []string{"A"},
		},
		{
			name: "InferredNeverViolates",
			methods: []depgraph.Method{
				provide("NewA", "A", "", "B", "C"),
				provide("NewB", "B", "Outer"),
				provide("NewC", "C", "Inner"),
			},
		},
		{
			name: "Cycle",
			methods: []depgraph.Method{
				provide("NewA", "A", "", "B"),
				provide("NewB", "B", "", "A"),
			},
		},
		{
			name: "CycleWithExplicitScopes",
			methods: []depgraph.Method{
				provide("NewA", "A", "Outer", "B"),
				provide("NewB", "B", "Inner", "A"),
			},
			expected: []string{"A"},
		},
		{
			name: "MissingDependencyIsSkipped",
			methods: []depgraph.Method{
				provide("NewA", "A", "Outer", "Missing"),
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := build(t, []string{"A"}, test.methods...)
			diagnostics := ScopeOrder(f.graph, f.tree, f.assignment)
			keys := []string{}
			for _, d := range diagnostics {
				assert.Equal(t, diag.ScopeViolation, d.Kind)
				keys = append(keys, d.Key.String())
			}
			if test.expected == nil {
				test.expected = []string{}
			}
			assert.Equal(t, test.expected, keys)
		})
	}
}

func TestScopeMonotonicity(t *testing.T) {
	f := build(t, []string{"A", "E"},
		provide("NewA", "A", "", "B", "C"),
		provide("NewB", "B", "Mid", "D"),
		provide("NewC", "C", "", "D", "Provider[E]"),
		provide("NewD", "D", "Inner"),
		provide("NewE", "E", "Outer", "A"),
	)
	diagnostics := ScopeOrder(f.graph, f.tree, f.assignment)
	violations := map[binding.Key]bool{}
	for _, d := range diagnostics {
		violations[d.Key] = true
	}
	assert.True(t, len(diagnostics) > 0)
	for _, key := range f.graph.Required() {
		s, ok := f.assignment.Scope(key)
		assert.True(t, ok)
		for _, decl := range f.graph.Declarations(key) {
			for _, req := range decl.Requires {
				dep, ok := f.graph.Lookup(req)
				assert.True(t, ok)
				depScope, _ := f.assignment.Scope(dep)
				if !f.tree.CanDependOn(s, depScope) {
					assert.True(t, violations[key], "%s -> %s violates scoping but was not reported", key, dep)
				}
			}
		}
	}
}

func TestDuplicates(t *testing.T) {
	plugin := binding.MustKey("Plugin")
	tests := []struct {
		name     string
		methods  []depgraph.Method
		expected []string
	}{
		{
			name: "TwoUnique",
			methods: []depgraph.Method{
				provide("NewA", "A", ""),
				provide("OtherA", "A", ""),
				provide("ThirdA", "A", ""),
			},
			expected: []string{"A is bound multiple times: M.NewA, M.OtherA, M.ThirdA"},
		},
		{
			name: "QualifiersDistinguish",
			methods: []depgraph.Method{
				provide("NewA", "A", ""),
				{Name: "PrimaryA", Provides: binding.MustKey("A").Qualified("primary")},
			},
		},
		{
			name: "SetContributions",
			methods: []depgraph.Method{
				{Name: "One", Provides: plugin, Provision: binding.SetElement},
				{Name: "Two", Provides: plugin, Provision: binding.SetElement},
				{Name: "Many", Provides: binding.SetKey(plugin), Provision: binding.SetValues},
			},
		},
		{
			name: "UniqueCollidesWithSet",
			methods: []depgraph.Method{
				{Name: "One", Provides: plugin, Provision: binding.SetElement},
				{Name: "All", Provides: binding.SetKey(plugin)},
			},
			expected: []string{"[]Plugin is bound multiple times: M.One, M.All"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := build(t, nil, test.methods...)
			messages := []string{}
			for _, d := range Duplicates(f.graph) {
				assert.Equal(t, diag.DuplicateBinding, d.Kind)
				messages = append(messages, d.Message)
			}
			if test.expected == nil {
				test.expected = []string{}
			}
			assert.Equal(t, test.expected, messages)
		})
	}
}

func TestScopedMultibindings(t *testing.T) {
	plugin := binding.MustKey("Plugin")
	f := build(t, nil,
		depgraph.Method{Name: "One", Provides: plugin, Provision: binding.SetElement, Scope: "Outer"},
		depgraph.Method{Name: "Two", Provides: plugin, Provision: binding.SetElement},
		depgraph.Method{Name: "Home", Provides: binding.MustKey("Handler"), Provision: binding.MapEntry,
			MapKey: binding.Named("string"), Scope: "Inner"},
		provide("NewA", "A", "Outer"),
	)
	diagnostics := ScopedMultibindings(f.graph)
	assert.Equal(t, 2, len(diagnostics))
	assert.Equal(t, binding.SetKey(plugin), diagnostics[0].Key)
	assert.Equal(t, "M.One contributes to []Plugin and cannot be scoped Outer", diagnostics[0].Message)
	assert.Equal(t, binding.MustKey("map[string]Handler"), diagnostics[1].Key)
}

func TestAll(t *testing.T) {
	f := build(t, []string{"A"},
		provide("NewA", "A", "Outer", "B"),
		provide("NewB", "B", "Inner"),
		provide("OtherB", "B", ""),
		depgraph.Method{Name: "One", Provides: binding.MustKey("Plugin"), Provision: binding.SetElement, Scope: "Mid"},
	)
	kinds := []diag.Kind{}
	for _, d := range All(f.graph, f.tree, f.assignment) {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []diag.Kind{diag.ScopeViolation, diag.DuplicateBinding, diag.ScopedMultibinding}, kinds)
}
