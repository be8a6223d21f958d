package binding

import (
	"fmt"
	"slices"
)

// Provision governs whether multiple declarations may coexist for a single key.
type Provision int

const (
	// Unique declarations must be the only declaration for their key.
	Unique Provision = iota
	// SetElement contributes a single element to a set multibinding.
	SetElement
	// SetValues contributes a collection of elements to a set multibinding.
	SetValues
	// MapEntry contributes a single entry to a map multibinding.
	MapEntry
)

func (p Provision) String() string {
	switch p {
	case Unique:
		return "unique"
	case SetElement:
		return "set-element"
	case SetValues:
		return "set-values"
	case MapEntry:
		return "map-entry"
	}
	return fmt.Sprintf("Provision(%d)", int(p))
}

// IsMultibinding returns true for provision kinds that contribute to a collection.
func (p Provision) IsMultibinding() bool { return p != Unique }

// Provenance records which declaring entity a [Declaration] came from.
//
//sumtype:decl
type Provenance interface {
	// Entity is the name of the declaring entity (module, type or container).
	Entity() string
	String() string
	provenance()
}

// FactoryMethod is a provider method declared in a module.
type FactoryMethod struct {
	Module string
	Method string
}

func (FactoryMethod) provenance()      {}
func (f FactoryMethod) Entity() string { return f.Module }
func (f FactoryMethod) String() string { return f.Module + "." + f.Method }

// InjectedType is a type with an injectable constructor.
type InjectedType struct {
	Type string
}

func (InjectedType) provenance()      {}
func (i InjectedType) Entity() string { return i.Type }
func (i InjectedType) String() string { return "constructor " + i.Type }

// DependencyMethod is a provision method of a container that another container depends on.
type DependencyMethod struct {
	Container  string
	Dependency string
	Method     string
}

func (DependencyMethod) provenance()      {}
func (d DependencyMethod) Entity() string { return d.Container }
func (d DependencyMethod) String() string {
	return d.Container + " dependency " + d.Dependency + "." + d.Method
}

// DependencySelf is a container that another container depends on, bound as itself.
type DependencySelf struct {
	Container  string
	Dependency string
}

func (DependencySelf) provenance()      {}
func (d DependencySelf) Entity() string { return d.Container }
func (d DependencySelf) String() string { return d.Container + " dependency " + d.Dependency }

// BoundInstance is an instance supplied to a container's builder from outside the graph.
type BoundInstance struct {
	Container string
	Name      string
}

func (BoundInstance) provenance()      {}
func (b BoundInstance) Entity() string { return b.Container }
func (b BoundInstance) String() string { return b.Container + " bound instance " + b.Name }

// ContainerSelf is a container, or its builder, bound as itself.
type ContainerSelf struct {
	Container string
}

func (ContainerSelf) provenance()      {}
func (c ContainerSelf) Entity() string { return c.Container }
func (c ContainerSelf) String() string { return "container " + c.Container }

var (
	_ Provenance = FactoryMethod{}
	_ Provenance = InjectedType{}
	_ Provenance = DependencyMethod{}
	_ Provenance = DependencySelf{}
	_ Provenance = BoundInstance{}
	_ Provenance = ContainerSelf{}
)

// Declaration is a single rule stating how a key is produced and what it requires.
//
// Declarations are created once during graph building and are not modified afterwards.
type Declaration struct {
	Provides   Key
	Requires   []Key
	Provision  Provision
	Provenance Provenance
	// Scope is the explicitly declared scope, or "" if none.
	Scope string
}

// NewDeclaration creates a Declaration, removing duplicate requirements while preserving order.
//
// A nil provenance or zero produced key is a contract violation and panics.
func NewDeclaration(provides Key, provision Provision, provenance Provenance, scope string, requires ...Key) *Declaration {
	if provenance == nil {
		panic(fmt.Sprintf("declaration for %s has no provenance", provides))
	}
	if provides.IsZero() {
		panic(fmt.Sprintf("declaration from %s provides nothing", provenance))
	}
	seen := make(map[Key]bool, len(requires))
	deduped := make([]Key, 0, len(requires))
	for _, req := range requires {
		if seen[req] {
			continue
		}
		seen[req] = true
		deduped = append(deduped, req)
	}
	return &Declaration{
		Provides:   provides,
		Requires:   deduped,
		Provision:  provision,
		Provenance: provenance,
		Scope:      scope,
	}
}

// Specialise returns a copy of the declaration with type variables replaced by bindings.
func (d *Declaration) Specialise(bindings map[string]Type) *Declaration {
	requires := make([]Key, 0, len(d.Requires))
	for _, req := range d.Requires {
		requires = append(requires, NewKey(req.Type().Substitute(bindings), req.qualifier))
	}
	provides := NewKey(d.Provides.Type().Substitute(bindings), d.Provides.qualifier)
	return NewDeclaration(provides, d.Provision, d.Provenance, d.Scope, requires...)
}

// IsStructural returns true if the declaration's scope is derived from its containing entity rather than from its
// dependencies.
func (d *Declaration) IsStructural() bool {
	switch d.Provenance.(type) {
	case FactoryMethod, InjectedType:
		return false
	case DependencyMethod, DependencySelf, BoundInstance, ContainerSelf:
		return true
	default:
		panic(fmt.Sprintf("unexpected provenance %T", d.Provenance))
	}
}

func (d *Declaration) String() string {
	out := fmt.Sprintf("%s %s from %s", d.Provision, d.Provides, d.Provenance)
	if d.Scope != "" {
		out += " scoped " + d.Scope
	}
	return out
}

// SortedKeys returns the keys in ascending [Compare] order.
func SortedKeys[V any](m map[Key]V) []Key {
	out := make([]Key, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	slices.SortFunc(out, Compare)
	return out
}
