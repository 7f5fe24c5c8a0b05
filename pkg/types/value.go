// Package types defines the public vocabulary of the topograph engine:
// metadata values, metadata updates, publish entries, search options and
// the caller-supplied function types used by search and subscriptions.
package types

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Value is a JSON-representable metadata value: nil, bool, float64, string,
// []Value or map[string]Value. Values entering the store go through Normalize,
// so anything read back out is already in canonical form.
type Value = any

// Normalize validates v as metadata and returns a canonical deep copy:
// integer and float types become float64, slices become []Value, maps become
// map[string]Value. Returns ErrMalformedEntry for anything not representable
// as JSON.
func Normalize(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return val, nil
	case string:
		return val, nil
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrMalformedEntry, val.String())
		}
		return f, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: metadata map keys must be strings, got %s", ErrMalformedEntry, rv.Type().Key())
		}
		out := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			elem, err := Normalize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = elem
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: metadata type %T is not JSON-representable", ErrMalformedEntry, v)
}

// Equal reports structural equality of two normalized values.
func Equal(a, b Value) bool {
	return reflect.DeepEqual(a, b)
}
