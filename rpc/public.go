package rpc

import (
	"fmt"
	"reflect"
	"slices"
)

// Exposed is implemented by values that may be reached over RPC.
//
// PublicMembers lists the methods and exported fields that remote callers may
// resolve on the value. Anything not listed is invisible to Handle, callable or
// not. A field holding a nested object is only reachable if that object is
// itself Exposed.
type Exposed interface {
	PublicMembers() []string
}

// Public tags target as publicly invocable.
//
// A function is wrapped in a *Function and may be registered and called by its
// endpoint name alone. A struct, a pointer to a struct or an already Exposed
// value is wrapped in an *Object exposing members; tagging an *Object again adds
// members to the existing set. Any other target fails with ErrInvalidTarget.
func Public(target any, members ...string) (Exposed, error) {
	switch t := target.(type) {
	case nil:
		return nil, fmt.Errorf("%w: got nil", ErrInvalidTarget)
	case *Object:
		return t.with(members), nil
	case *Function:
		if len(members) > 0 {
			return nil, fmt.Errorf("%w: functions have no members", ErrInvalidTarget)
		}
		return t, nil
	}

	v := reflect.ValueOf(target)
	switch {
	case v.Kind() == reflect.Func:
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil function", ErrInvalidTarget)
		}
		if len(members) > 0 {
			return nil, fmt.Errorf("%w: functions have no members", ErrInvalidTarget)
		}
		return &Function{fn: v}, nil
	case v.Kind() == reflect.Struct,
		v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Kind() == reflect.Struct:
		obj := &Object{value: v}
		if e, ok := target.(Exposed); ok {
			obj.members = append(obj.members, e.PublicMembers()...)
		} else if ptr := addressable(v); ptr.IsValid() {
			if e, ok := ptr.Interface().(Exposed); ok {
				obj.members = append(obj.members, e.PublicMembers()...)
			}
		}
		return obj.with(members), nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidTarget, target)
	}
}

// MustPublic is like Public but panics on error. Intended for package-level
// registrations whose targets are known to be valid.
func MustPublic(target any, members ...string) Exposed {
	e, err := Public(target, members...)
	if err != nil {
		panic(err)
	}
	return e
}

// Object is a tagged struct value together with its public member names.
type Object struct {
	value   reflect.Value
	members []string
}

func (o *Object) PublicMembers() []string { return o.members }

func (o *Object) with(members []string) *Object {
	merged := slices.Clone(o.members)
	for _, m := range members {
		if !slices.Contains(merged, m) {
			merged = append(merged, m)
		}
	}
	return &Object{value: o.value, members: merged}
}

// Function is a tagged function. It has no members of its own.
type Function struct {
	fn reflect.Value
}

func (f *Function) PublicMembers() []string { return nil }

// isPublic reports whether name is listed by the exposed value.
func isPublic(e Exposed, name string) bool {
	return slices.Contains(e.PublicMembers(), name)
}
