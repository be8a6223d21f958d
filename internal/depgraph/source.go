package depgraph

import (
	"github.com/alecthomas/scopegraph/internal/binding"
)

// Source supplies pre-extracted declarations to the graph builder.
//
// Implementations are the scanning layer: see the manifest and scan packages.
type Source interface {
	// ProviderEntities returns every module declaring factory methods.
	ProviderEntities() []ProviderEntity
	// InjectedTypes returns every type with an injectable constructor.
	InjectedTypes() []TypeEntity
	// Consumers returns every container.
	Consumers() []ConsumerEntity
	// ScopeAliases maps an alias scope name to the scope it is equivalent to.
	ScopeAliases() map[string]string
	// ScopeParents maps a scope name to its parent scope name, or "" for a root.
	ScopeParents() map[string]string
}

// ProviderEntity is a module: a named set of factory methods.
type ProviderEntity struct {
	Name string
	// Includes are the names of other modules whose methods are also provided by this module.
	Includes []string
	Methods  []Method
}

// Method is a factory method on a module.
type Method struct {
	Name string
	// Provides is the produced key. For SetElement and MapEntry methods this is the element or value key, not the
	// collection key it is contributed to. For SetValues methods it must be a slice.
	Provides  binding.Key
	Provision binding.Provision
	// MapKey is the key type of a MapEntry contribution.
	MapKey   binding.Type
	Requires []binding.Key
	// Scope is the explicitly declared scope name, if any.
	Scope string
}

// TypeEntity is a type with an injectable constructor.
type TypeEntity struct {
	// Type may be parameterised by type variables, in which case it is specialised on demand.
	Type binding.Type
	// Requires are the constructor's parameters.
	Requires []binding.Key
	// Members are field and method injection points.
	Members []binding.Key
	Scope   string
}

// ConsumerEntity is a container: the entry point that injection sites and provision methods are resolved against.
type ConsumerEntity struct {
	// Name of the container's type.
	Name  string
	Scope string
	// Modules installed in the container.
	Modules []string
	// Dependencies are the names of other containers whose provision methods are available to this one.
	Dependencies []string
	// Bound are instances supplied to the container's builder.
	Bound []Bound
	// Provisions are methods with no parameters returning a bindable type.
	Provisions []Provision
	// Injects are members-injection sites.
	Injects []InjectionSite
}

// Bound is an instance bound on a container's builder.
type Bound struct {
	Name string
	Key  binding.Key
}

// Provision is a container method returning a binding.
type Provision struct {
	Name    string
	Returns binding.Key
}

// InjectionSite is a container method injecting the members of a value.
type InjectionSite struct {
	Name     string
	Requires []binding.Key
}

// Snapshot is a static [Source].
type Snapshot struct {
	Modules    []ProviderEntity
	Types      []TypeEntity
	Containers []ConsumerEntity
	Aliases    map[string]string
	Parents    map[string]string
}

var _ Source = (*Snapshot)(nil)

func (s *Snapshot) ProviderEntities() []ProviderEntity { return s.Modules }
func (s *Snapshot) InjectedTypes() []TypeEntity        { return s.Types }
func (s *Snapshot) Consumers() []ConsumerEntity        { return s.Containers }
func (s *Snapshot) ScopeAliases() map[string]string    { return s.Aliases }
func (s *Snapshot) ScopeParents() map[string]string    { return s.Parents }

// Merge appends the contents of other to s.
func (s *Snapshot) Merge(other *Snapshot) {
	s.Modules = append(s.Modules, other.Modules...)
	s.Types = append(s.Types, other.Types...)
	s.Containers = append(s.Containers, other.Containers...)
	if s.Aliases == nil {
		s.Aliases = map[string]string{}
	}
	for alias, target := range other.Aliases {
		s.Aliases[alias] = target
	}
	if s.Parents == nil {
		s.Parents = map[string]string{}
	}
	for child, parent := range other.Parents {
		s.Parents[child] = parent
	}
}
