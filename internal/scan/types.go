package scan

import (
	"go/types"

	"github.com/alecthomas/errors"

	"github.com/alecthomas/scopegraph/internal/binding"
)

// keyOf converts a Go type to a binding key.
func keyOf(t types.Type, qualifier string) (binding.Key, error) {
	typ, err := convertType(t)
	if err != nil {
		return binding.Key{}, err
	}
	key, err := binding.ParseKey(typ.String(), qualifier)
	if err != nil {
		return binding.Key{}, errors.Errorf("%s: %w", types.TypeString(t, nil), err)
	}
	return key, nil
}

// convertType converts a Go type to its binding form.
//
// An uninstantiated generic named type converts to the type applied to its own type parameters, which become type
// variables.
func convertType(t types.Type) (binding.Type, error) {
	switch t := types.Unalias(t).(type) {
	case *types.Basic:
		return binding.Named(t.Name()), nil

	case *types.Interface:
		if !t.Empty() {
			return binding.Type{}, errors.Errorf("unsupported anonymous interface %s", t)
		}
		return binding.Named("any"), nil

	case *types.TypeParam:
		return binding.Var(t.Obj().Name()), nil

	case *types.Named:
		obj := t.Obj()
		name := obj.Name()
		if obj.Pkg() != nil {
			name = obj.Pkg().Path() + "." + name
		}
		args := []binding.Type{}
		if t.TypeArgs().Len() > 0 {
			for arg := range t.TypeArgs().Types() {
				converted, err := convertType(arg)
				if err != nil {
					return binding.Type{}, err
				}
				args = append(args, converted)
			}
		} else {
			for param := range t.TypeParams().TypeParams() {
				args = append(args, binding.Var(param.Obj().Name()))
			}
		}
		return binding.Named(name, args...), nil

	case *types.Pointer:
		elem, err := convertType(t.Elem())
		if err != nil {
			return binding.Type{}, err
		}
		return binding.PointerTo(elem), nil

	case *types.Slice:
		elem, err := convertType(t.Elem())
		if err != nil {
			return binding.Type{}, err
		}
		return binding.ArrayOf(elem), nil

	case *types.Map:
		key, err := convertType(t.Key())
		if err != nil {
			return binding.Type{}, err
		}
		value, err := convertType(t.Elem())
		if err != nil {
			return binding.Type{}, err
		}
		return binding.MapOf(key, value), nil

	default:
		return binding.Type{}, errors.Errorf("unsupported type %s", types.TypeString(t, nil))
	}
}
