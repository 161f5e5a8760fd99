package langsmith

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// safeMarshal encodes arbitrary run payloads as JSON without ever failing.
// Payloads come straight from user code, so they can contain cycles, NaN,
// channels, functions, or types encoding/json rejects. Rather than dropping
// the whole run, the value tree is rewritten first:
//
//   - cycles are cut and replaced with {"result": "[Circular]"}
//   - NaN and ±Inf become null
//   - funcs, channels and unsafe pointers are omitted from objects and
//     null inside arrays
//   - failing json.Marshaler implementations fall back to their string form
//
// The returned bytes are always valid JSON.
func safeMarshal(v interface{}) []byte {
	s := &serializer{visiting: make(map[visitRef]bool)}
	sanitized := s.sanitize(reflect.ValueOf(v), 0)
	data, err := json.Marshal(sanitized)
	if err != nil {
		// Unreachable for sanitized trees, but never let a payload
		// take the run down with it.
		return []byte(`"[Unserializable]"`)
	}
	return data
}

// sanitizeAny rewrites a single value into its JSON-safe form without
// encoding it. Payload builders use it so queued operations hold plain
// maps and slices that any encoder downstream can handle.
func sanitizeAny(v interface{}) interface{} {
	s := &serializer{visiting: make(map[visitRef]bool)}
	return s.sanitize(reflect.ValueOf(v), 0)
}

// circularPlaceholder replaces back-edges in the value graph.
func circularPlaceholder() map[string]interface{} {
	return map[string]interface{}{"result": "[Circular]"}
}

// maxSerializeDepth bounds recursion for deeply nested (non-cyclic) values.
const maxSerializeDepth = 128

// visitRef identifies a container currently on the traversal path.
// Keyed by address and type so a struct pointer and a pointer to its
// first field are distinguished.
type visitRef struct {
	ptr uintptr
	typ reflect.Type
}

type serializer struct {
	visiting map[visitRef]bool
}

// sanitize rewrites v into a tree of JSON-safe values.
func (s *serializer) sanitize(v reflect.Value, depth int) interface{} {
	if !v.IsValid() {
		return nil
	}
	if depth > maxSerializeDepth {
		return "[Truncated]"
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Pointer {
			ref := visitRef{ptr: v.Pointer(), typ: v.Type()}
			if s.visiting[ref] {
				return circularPlaceholder()
			}
			s.visiting[ref] = true
			defer delete(s.visiting, ref)
		}
		if out, ok := s.tryMarshaler(v); ok {
			return out
		}
		return s.sanitize(v.Elem(), depth+1)
	}

	if out, ok := s.tryMarshaler(v); ok {
		return out
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f

	case reflect.String:
		return v.String()

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ref := visitRef{ptr: v.Pointer(), typ: v.Type()}
		if s.visiting[ref] {
			return circularPlaceholder()
		}
		s.visiting[ref] = true
		defer delete(s.visiting, ref)

		out := make(map[string]interface{}, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			if skipKind(iter.Value()) {
				continue
			}
			key := mapKeyString(iter.Key())
			out[key] = s.sanitize(iter.Value(), depth+1)
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			// []byte encodes as base64, same as encoding/json
			return v.Bytes()
		}
		ref := visitRef{ptr: v.Pointer(), typ: v.Type()}
		if s.visiting[ref] {
			return circularPlaceholder()
		}
		s.visiting[ref] = true
		defer delete(s.visiting, ref)
		return s.sanitizeList(v, depth)

	case reflect.Array:
		return s.sanitizeList(v, depth)

	case reflect.Struct:
		return s.sanitizeStruct(v, depth)

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil

	default:
		return fmt.Sprint(v.Interface())
	}
}

func (s *serializer) sanitizeList(v reflect.Value, depth int) []interface{} {
	out := make([]interface{}, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = s.sanitize(v.Index(i), depth+1)
	}
	return out
}

func (s *serializer) sanitizeStruct(v reflect.Value, depth int) interface{} {
	t := v.Type()
	out := make(map[string]interface{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitempty, skip := jsonFieldName(field)
		if skip {
			continue
		}
		fv := v.Field(i)
		if skipKind(fv) {
			continue
		}
		if field.Anonymous && field.Type.Kind() == reflect.Struct && !hasJSONTag(field) {
			// Embedded structs flatten into the parent object
			if embedded, ok := s.sanitizeStruct(fv, depth+1).(map[string]interface{}); ok {
				for k, val := range embedded {
					if _, exists := out[k]; !exists {
						out[k] = val
					}
				}
			}
			continue
		}
		if omitempty && fv.IsZero() {
			continue
		}
		out[name] = s.sanitize(fv, depth+1)
	}
	return out
}

// tryMarshaler lets types that know how to encode themselves do so.
// A marshaler that fails (cycles included, encoding/json detects them)
// degrades to its string form instead of poisoning the payload.
func (s *serializer) tryMarshaler(v reflect.Value) (interface{}, bool) {
	if !v.CanInterface() {
		return nil, false
	}
	iface := v.Interface()
	if m, ok := iface.(json.Marshaler); ok {
		if data, err := m.MarshalJSON(); err == nil && json.Valid(data) {
			return json.RawMessage(data), true
		}
		return fmt.Sprint(iface), true
	}
	if err, ok := iface.(error); ok {
		return err.Error(), true
	}
	return nil, false
}

// skipKind reports values that have no JSON representation at all and are
// omitted from objects rather than encoded.
func skipKind(v reflect.Value) bool {
	k := v.Kind()
	if k == reflect.Interface && !v.IsNil() {
		k = v.Elem().Kind()
	}
	return k == reflect.Func || k == reflect.Chan || k == reflect.UnsafePointer
}

func mapKeyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}

func jsonFieldName(f reflect.StructField) (name string, omitempty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	if tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			name = parts[0]
		}
		for _, p := range parts[1:] {
			if p == "omitempty" {
				omitempty = true
			}
		}
	}
	return name, omitempty, false
}

func hasJSONTag(f reflect.StructField) bool {
	tag := f.Tag.Get("json")
	return tag != "" && tag != "-"
}
