package rpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Kwargs receives the keyword parameters of a request when it is the last
// parameter of the invoked function.
type Kwargs map[string]any

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	kwargsType  = reflect.TypeOf(Kwargs(nil))
)

// invoke calls fn with the request parameters. A panic inside fn is turned into
// an error so it never escapes Handle.
func invoke(ctx context.Context, fn reflect.Value, params []any, kw map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()

	in, err := buildArgs(ctx, fn.Type(), params, kw)
	if err != nil {
		return nil, err
	}
	return collect(fn.Type(), fn.Call(in))
}

// buildArgs maps positional and keyword parameters onto the function signature:
//
//	func([ctx context.Context,] p0, p1, ... [, rest ...T | kw Kwargs])
func buildArgs(ctx context.Context, typ reflect.Type, params []any, kw map[string]any) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, typ.NumIn())

	first, last := 0, typ.NumIn()
	if last > 0 && typ.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		first = 1
	}
	takesKw := last > first && typ.In(last-1) == kwargsType
	if takesKw {
		last--
	} else if len(kw) > 0 {
		return nil, errors.New("unexpected keyword parameters")
	}

	fixed := last - first
	variadic := typ.IsVariadic()
	if variadic {
		fixed--
	}
	switch {
	case variadic && len(params) < fixed:
		return nil, fmt.Errorf("expected at least %d positional parameters, got %d", fixed, len(params))
	case !variadic && len(params) != fixed:
		return nil, fmt.Errorf("expected %d positional parameters, got %d", fixed, len(params))
	}

	for i, p := range params {
		var t reflect.Type
		if i < fixed {
			t = typ.In(first + i)
		} else {
			t = typ.In(typ.NumIn() - 1).Elem()
		}
		v, err := convertArg(p, t)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		in = append(in, v)
	}

	if takesKw {
		in = append(in, reflect.ValueOf(Kwargs(kw)))
	}
	return in, nil
}

func convertArg(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	out := reflect.New(t)
	if err := decode(v, out.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return out.Elem(), nil
}

// decode copies a generically decoded value (maps, slices, float64 numbers) into
// the typed value out points to. Struct fields are matched by their json tags.
func decode(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "json",
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// collect turns the function outputs into a single result. A trailing error
// output becomes the call error.
func collect(typ reflect.Type, out []reflect.Value) (any, error) {
	if n := typ.NumOut(); n > 0 && typ.Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	}
	res := make([]any, len(out))
	for i, o := range out {
		res[i] = o.Interface()
	}
	return res, nil
}
