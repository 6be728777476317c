package protocol

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Fields is the payload of a message or packet, addressed by field name.
type Fields map[string]any

// Has reports whether the payload carries the named field.
func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

func (f Fields) String(name string) string {
	switch v := f[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (f Fields) Uint(name string) uint64 {
	switch v := f[name].(type) {
	case uint8:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case uint:
		return uint64(v)
	case int8:
		return uint64(v)
	case int16:
		return uint64(v)
	case int32:
		return uint64(v)
	case int64:
		return uint64(v)
	case int:
		return uint64(v)
	case float32:
		return uint64(v)
	case float64:
		return uint64(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

func (f Fields) Int(name string) int64 {
	switch v := f[name].(type) {
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case float32:
		return int64(v)
	case float64:
		return int64(v)
	}
	return int64(f.Uint(name))
}

func (f Fields) Float(name string) float64 {
	switch v := f[name].(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	}
	return float64(f.Int(name))
}

// Bool accepts both booleans and the 0/1 integers devices use for flags.
func (f Fields) Bool(name string) bool {
	if v, ok := f[name].(bool); ok {
		return v
	}
	return f.Uint(name) != 0
}

// Decode stores the named field into dst, which must be a pointer. Values
// that went over the wire come back as generic maps and slices, so anything
// not directly assignable is converted through a msgpack round trip.
func (f Fields) Decode(name string, dst any) error {
	value, ok := f[name]
	if !ok {
		return fmt.Errorf("payload has no field %q", name)
	}

	target := reflect.ValueOf(dst)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return fmt.Errorf("decoding field %q: destination must be a non nil pointer", name)
	}

	if value != nil && reflect.TypeOf(value).AssignableTo(target.Elem().Type()) {
		target.Elem().Set(reflect.ValueOf(value))
		return nil
	}

	raw, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding field %q: %w", name, err)
	}
	if err := msgpack.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding field %q: %w", name, err)
	}
	return nil
}

// Clone returns a shallow copy so callers can adjust a payload without
// touching a shared message template.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
