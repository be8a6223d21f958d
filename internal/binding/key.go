package binding

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Key is the identity of a binding: a type and an optional qualifier.
//
// Keys are comparable and are used as map keys throughout.
type Key struct {
	typ       string
	qualifier string
}

// NewKey creates a Key for t.
//
// A structurally invalid type is a contract violation on the part of the caller and panics.
func NewKey(t Type, qualifier string) Key {
	if err := t.validate(); err != nil {
		panic(fmt.Sprintf("invalid binding key type: %s", err))
	}
	return Key{typ: t.String(), qualifier: qualifier}
}

// ParseKey parses the canonical text form of a type into a Key.
func ParseKey(text, qualifier string, typeParams ...string) (Key, error) {
	t, err := ParseType(text, typeParams...)
	if err != nil {
		return Key{}, err
	}
	return NewKey(t, qualifier), nil
}

// MustKey is like [ParseKey] with no qualifier, but panics on error.
func MustKey(text string, typeParams ...string) Key {
	key, err := ParseKey(text, "", typeParams...)
	if err != nil {
		panic(err)
	}
	return key
}

// Qualified returns a copy of the key with the given qualifier.
func (k Key) Qualified(qualifier string) Key { return Key{typ: k.typ, qualifier: qualifier} }

// IsZero returns true if the key is the zero value.
func (k Key) IsZero() bool { return k.typ == "" }

// TypeString returns the canonical text form of the key's type.
func (k Key) TypeString() string { return k.typ }

// Qualifier returns the key's qualifier, or "" if unqualified.
func (k Key) Qualifier() string { return k.qualifier }

// Type returns the structural type of the key.
func (k Key) Type() Type {
	t, err := ParseType(k.typ)
	if err != nil {
		panic(fmt.Sprintf("binding key %q is not a valid type: %s", k.typ, err))
	}
	return t
}

// IsBindable returns false if the key's type contains a type variable.
func (k Key) IsBindable() bool {
	if !strings.Contains(k.typ, "$") {
		return true
	}
	return k.Type().IsBindable()
}

func (k Key) String() string {
	if k.qualifier == "" {
		return k.typ
	}
	return strconv.Quote(k.qualifier) + " " + k.typ
}

// Compare orders keys by type, then qualifier.
func Compare(a, b Key) int {
	return cmp.Or(strings.Compare(a.typ, b.typ), strings.Compare(a.qualifier, b.qualifier))
}

// SetKey returns the derived key that set multibinding contributions of elem are collected under.
func SetKey(elem Key) Key {
	return NewKey(ArrayOf(elem.Type()), elem.qualifier)
}

// MapKey returns the derived key that map multibinding contributions of value are collected under.
func MapKey(key Type, value Key) Key {
	return NewKey(MapOf(key, value.Type()), value.qualifier)
}
