package rpc

import (
	"fmt"
	"reflect"
)

// resolution is the outcome of walking a dotted path. Exactly one of fn and
// failure is meaningful once resolve returns.
type resolution struct {
	fn      reflect.Value
	failure string
}

// unwrap returns the value reflection operates on and the tag governing its
// members. The tag is nil for untagged values.
func unwrap(v any) (reflect.Value, Exposed) {
	switch t := v.(type) {
	case *Object:
		return t.value, t
	case *Function:
		return t.fn, t
	case Exposed:
		return reflect.ValueOf(v), t
	}
	return reflect.ValueOf(v), nil
}

// resolve walks segs[1:] starting at root. Visibility is checked on every hop
// and the first failing check wins.
func resolve(root any, segs []string) resolution {
	cur, tag := unwrap(root)
	for _, seg := range segs[1:] {
		member, ok := lookupMember(cur, seg)
		if !ok {
			return resolution{failure: fmt.Sprintf("%s: %s", errDoesNotExist, seg)}
		}
		if tag == nil || !isPublic(tag, seg) {
			return resolution{failure: fmt.Sprintf("%s: %s", errNotPublic, seg)}
		}
		if member.Kind() == reflect.Func {
			cur, tag = member, nil
			continue
		}
		if isNil(member) || !member.CanInterface() {
			return resolution{failure: fmt.Sprintf("%s: %s", errNotPublic, seg)}
		}
		cur, tag = unwrap(member.Interface())
		if tag == nil {
			// A struct value may carry PublicMembers on its pointer.
			if ptr := addressable(member); ptr.IsValid() {
				cur, tag = unwrap(ptr.Interface())
			}
		}
		if tag == nil {
			return resolution{failure: fmt.Sprintf("%s: %s", errNotPublic, seg)}
		}
	}

	if !cur.IsValid() || cur.Kind() != reflect.Func || cur.IsNil() {
		return resolution{failure: fmt.Sprintf("%s: %s", errNotCallable, segs[len(segs)-1])}
	}
	return resolution{fn: cur}
}

// lookupMember finds an exported method or exported struct field called name.
// Methods win over fields, as in Go selector rules for a single level.
func lookupMember(v reflect.Value, name string) (reflect.Value, bool) {
	if !v.IsValid() {
		return reflect.Value{}, false
	}
	if m := v.MethodByName(name); m.IsValid() {
		return m, true
	}
	if ptr := addressable(v); ptr.IsValid() {
		if m := ptr.MethodByName(name); m.IsValid() {
			return m, true
		}
	}

	s := v
	for s.Kind() == reflect.Pointer || s.Kind() == reflect.Interface {
		if s.IsNil() {
			return reflect.Value{}, false
		}
		s = s.Elem()
	}
	if s.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	f, ok := s.Type().FieldByName(name)
	if !ok || !f.IsExported() {
		return reflect.Value{}, false
	}
	field, err := s.FieldByIndexErr(f.Index)
	if err != nil {
		return reflect.Value{}, false
	}
	if field.Kind() == reflect.Interface && !field.IsNil() {
		field = field.Elem()
	}
	return field, true
}

// addressable returns a pointer to the struct v so pointer-receiver methods
// are reachable. Non-addressable values are copied first, so such methods
// see the copy. The zero Value is returned for anything but a struct.
func addressable(v reflect.Value) reflect.Value {
	if v.Kind() != reflect.Struct || !v.CanInterface() {
		return reflect.Value{}
	}
	if v.CanAddr() {
		return v.Addr()
	}
	ptr := reflect.New(v.Type())
	ptr.Elem().Set(v)
	return ptr
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	}
	return !v.IsValid()
}
