// Package binding contains the identities and declarations that the dependency graph is built from.
package binding

import (
	"strings"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// TypeKind classifies a [Type].
type TypeKind int

const (
	Declared TypeKind = iota + 1
	Primitive
	TypeVar
	Array
	Pointer
	Map
)

func (k TypeKind) String() string {
	switch k {
	case Declared:
		return "declared"
	case Primitive:
		return "primitive"
	case TypeVar:
		return "type-variable"
	case Array:
		return "array"
	case Pointer:
		return "pointer"
	case Map:
		return "map"
	}
	return "invalid"
}

var primitives = map[string]bool{
	"bool": true, "string": true, "byte": true, "rune": true, "error": true, "any": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true, "uintptr": true,
	"float32": true, "float64": true, "complex64": true, "complex128": true,
}

// Type is the structural identity of a bindable type.
//
// The canonical text form is Go-like:
//
//	example.com/app.Repo[int, $T]
//	[]*example.com/app.Plugin
//	map[string]example.com/app.Handler
//
// Type variables are prefixed with "$" in canonical form so that the form round-trips without knowing the declaring
// entity's type parameters.
type Type struct {
	Kind TypeKind
	// Name of a Declared, Primitive or TypeVar type.
	Name string
	// Args of a parameterised Declared type.
	Args []Type
	// Elem is the element of an Array or Pointer, or the value of a Map.
	Elem *Type
	// Key is the key of a Map.
	Key *Type
}

// Named creates a Declared or Primitive type.
func Named(name string, args ...Type) Type {
	if primitives[name] && len(args) == 0 {
		return Type{Kind: Primitive, Name: name}
	}
	return Type{Kind: Declared, Name: name, Args: args}
}

// Var creates a type variable.
func Var(name string) Type { return Type{Kind: TypeVar, Name: name} }

// ArrayOf creates an Array of elem.
func ArrayOf(elem Type) Type { return Type{Kind: Array, Elem: &elem} }

// PointerTo creates a Pointer to elem.
func PointerTo(elem Type) Type { return Type{Kind: Pointer, Elem: &elem} }

// MapOf creates a Map from key to value.
func MapOf(key, value Type) Type { return Type{Kind: Map, Key: &key, Elem: &value} }

func (t Type) String() string {
	w := &strings.Builder{}
	t.write(w)
	return w.String()
}

func (t Type) write(w *strings.Builder) {
	switch t.Kind {
	case Declared, Primitive:
		w.WriteString(t.Name)
		if len(t.Args) > 0 {
			w.WriteByte('[')
			for i, arg := range t.Args {
				if i > 0 {
					w.WriteString(", ")
				}
				arg.write(w)
			}
			w.WriteByte(']')
		}
	case TypeVar:
		w.WriteByte('$')
		w.WriteString(t.Name)
	case Array:
		w.WriteString("[]")
		t.Elem.write(w)
	case Pointer:
		w.WriteByte('*')
		t.Elem.write(w)
	case Map:
		w.WriteString("map[")
		t.Key.write(w)
		w.WriteByte(']')
		t.Elem.write(w)
	default:
		w.WriteString("<invalid>")
	}
}

// Equal returns true if the two types are structurally identical.
func (t Type) Equal(other Type) bool { return t.String() == other.String() }

// Raw returns the type with any type arguments removed.
func (t Type) Raw() Type {
	if t.Kind != Declared {
		return t
	}
	return Type{Kind: Declared, Name: t.Name}
}

// ShortName returns the unqualified name of a Declared type.
//
// eg. "example.com/app.Provider" returns "Provider".
func (t Type) ShortName() string {
	name := t.Name
	if i := strings.LastIndexByte(name, '/'); i != -1 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i != -1 {
		name = name[i+1:]
	}
	return name
}

// IsBindable returns false if the type contains a type variable anywhere.
func (t Type) IsBindable() bool {
	switch t.Kind {
	case TypeVar:
		return false
	case Declared, Primitive:
		for _, arg := range t.Args {
			if !arg.IsBindable() {
				return false
			}
		}
		return true
	case Array, Pointer:
		return t.Elem.IsBindable()
	case Map:
		return t.Key.IsBindable() && t.Elem.IsBindable()
	}
	return false
}

// TypeVars returns the names of all type variables in t, in order of first appearance.
func (t Type) TypeVars() []string {
	var out []string
	seen := map[string]bool{}
	t.walk(func(v Type) {
		if v.Kind == TypeVar && !seen[v.Name] {
			seen[v.Name] = true
			out = append(out, v.Name)
		}
	})
	return out
}

func (t Type) walk(fn func(Type)) {
	fn(t)
	for _, arg := range t.Args {
		arg.walk(fn)
	}
	if t.Key != nil {
		t.Key.walk(fn)
	}
	if t.Elem != nil {
		t.Elem.walk(fn)
	}
}

// Substitute replaces type variables with the types in bindings.
//
// Type variables without a binding are left in place.
func (t Type) Substitute(bindings map[string]Type) Type {
	switch t.Kind {
	case TypeVar:
		if bound, ok := bindings[t.Name]; ok {
			return bound
		}
		return t
	case Declared, Primitive:
		if len(t.Args) == 0 {
			return t
		}
		args := make([]Type, len(t.Args))
		for i, arg := range t.Args {
			args[i] = arg.Substitute(bindings)
		}
		return Type{Kind: t.Kind, Name: t.Name, Args: args}
	case Array:
		return ArrayOf(t.Elem.Substitute(bindings))
	case Pointer:
		return PointerTo(t.Elem.Substitute(bindings))
	case Map:
		return MapOf(t.Key.Substitute(bindings), t.Elem.Substitute(bindings))
	}
	return t
}

// Unify matches a formal type containing type variables against an actual type, returning the type variable
// bindings that make them identical.
func Unify(formal, actual Type) (map[string]Type, bool) {
	bindings := map[string]Type{}
	if !unify(formal, actual, bindings) {
		return nil, false
	}
	return bindings, true
}

func unify(formal, actual Type, bindings map[string]Type) bool {
	if formal.Kind == TypeVar {
		if bound, ok := bindings[formal.Name]; ok {
			return bound.Equal(actual)
		}
		bindings[formal.Name] = actual
		return true
	}
	if formal.Kind != actual.Kind {
		return false
	}
	switch formal.Kind {
	case Declared, Primitive:
		if formal.Name != actual.Name || len(formal.Args) != len(actual.Args) {
			return false
		}
		for i := range formal.Args {
			if !unify(formal.Args[i], actual.Args[i], bindings) {
				return false
			}
		}
		return true
	case Array, Pointer:
		return unify(*formal.Elem, *actual.Elem, bindings)
	case Map:
		return unify(*formal.Key, *actual.Key, bindings) && unify(*formal.Elem, *actual.Elem, bindings)
	}
	return false
}

func (t Type) validate() error {
	switch t.Kind {
	case Declared, Primitive, TypeVar:
		if t.Name == "" {
			return errors.Errorf("%s type has no name", t.Kind)
		}
		for _, arg := range t.Args {
			if err := arg.validate(); err != nil {
				return err
			}
		}
		return nil
	case Array, Pointer:
		if t.Elem == nil {
			return errors.Errorf("%s type has no element", t.Kind)
		}
		return t.Elem.validate()
	case Map:
		if t.Key == nil || t.Elem == nil {
			return errors.Errorf("map type is missing its key or value")
		}
		if err := t.Key.validate(); err != nil {
			return err
		}
		return t.Elem.validate()
	}
	return errors.Errorf("invalid type kind %d", t.Kind)
}

var (
	typeLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "TypeVar", Pattern: `\$[a-zA-Z_][a-zA-Z0-9_]*`},
		{Name: "Name", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*([./-][a-zA-Z0-9_]+)*`},
		{Name: "Punct", Pattern: `[\[\],*]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})
	typeParser = participle.MustBuild[typeAST](
		participle.Lexer(typeLexer),
		participle.Elide("Whitespace"),
		participle.UseLookahead(2),
	)
)

type typeAST struct {
	Pointer *typeAST   `parser:"  '*' @@"`
	Array   *typeAST   `parser:"| '[' ']' @@"`
	Map     *mapAST    `parser:"| @@"`
	Var     string     `parser:"| @TypeVar"`
	Name    string     `parser:"| @Name"`
	Args    []*typeAST `parser:"  ('[' @@ (',' @@)* ']')?"`
}

type mapAST struct {
	Key   *typeAST `parser:"'map' '[' @@ ']'"`
	Value *typeAST `parser:"@@"`
}

// ParseType parses the canonical text form of a type.
//
// Bare identifiers listed in typeParams are parsed as type variables.
func ParseType(text string, typeParams ...string) (Type, error) {
	ast, err := typeParser.ParseString("", text)
	if err != nil {
		return Type{}, errors.Errorf("invalid type %q: %w", text, err)
	}
	params := make(map[string]bool, len(typeParams))
	for _, param := range typeParams {
		params[param] = true
	}
	return ast.toType(params), nil
}

// MustParseType is like [ParseType] but panics on error.
func MustParseType(text string, typeParams ...string) Type {
	t, err := ParseType(text, typeParams...)
	if err != nil {
		panic(err)
	}
	return t
}

func (a *typeAST) toType(params map[string]bool) Type {
	switch {
	case a.Pointer != nil:
		return PointerTo(a.Pointer.toType(params))
	case a.Array != nil:
		return ArrayOf(a.Array.toType(params))
	case a.Map != nil:
		return MapOf(a.Map.Key.toType(params), a.Map.Value.toType(params))
	case a.Var != "":
		return Var(a.Var[1:])
	case params[a.Name] && len(a.Args) == 0:
		return Var(a.Name)
	}
	args := make([]Type, 0, len(a.Args))
	for _, arg := range a.Args {
		args = append(args, arg.toType(params))
	}
	if len(args) == 0 {
		args = nil
	}
	return Named(a.Name, args...)
}
