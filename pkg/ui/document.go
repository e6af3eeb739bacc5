package ui

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
)

// Document is a JSON-shaped map: the serialized form of an element, and the
// shape of aggregates read from channels.
type Document = map[string]any

// Equal compares two JSON-shaped values. Numbers compare by value regardless
// of their Go type, and maps and slices compare element-wise.
func Equal(a, b any) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if fa, ok := asFloat(a, ra); ok {
		fb, ok := asFloat(b, rb)
		return ok && fa == fb
	}
	switch ra.Kind() {
	case reflect.String:
		return rb.Kind() == reflect.String && ra.String() == rb.String()
	case reflect.Bool:
		return rb.Kind() == reflect.Bool && ra.Bool() == rb.Bool()
	case reflect.Slice, reflect.Array:
		if rb.Kind() != reflect.Slice && rb.Kind() != reflect.Array {
			return false
		}
		if ra.Len() != rb.Len() {
			return false
		}
		for i := 0; i < ra.Len(); i++ {
			if !Equal(ra.Index(i).Interface(), rb.Index(i).Interface()) {
				return false
			}
		}
		return true
	case reflect.Map:
		if rb.Kind() != reflect.Map || ra.Len() != rb.Len() {
			return false
		}
		bm := stringKeyed(rb)
		if bm == nil {
			return reflect.DeepEqual(a, b)
		}
		iter := ra.MapRange()
		for iter.Next() {
			if iter.Key().Kind() != reflect.String {
				return reflect.DeepEqual(a, b)
			}
			bv, ok := bm[iter.Key().String()]
			if !ok || !Equal(iter.Value().Interface(), bv) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func asFloat(v any, rv reflect.Value) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func asNumber(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return asFloat(v, reflect.ValueOf(v))
}

func stringKeyed(rv reflect.Value) map[string]any {
	if rv.Type().Key().Kind() != reflect.String {
		return nil
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out
}

// diffDocuments returns the keys of this whose values differ from other. With
// remove set, keys present only in other map to nil. Nested documents on both
// sides diff recursively, matching how ApplyDiff merges them. The result is
// nil when nothing differs.
func diffDocuments(this, other Document, remove bool) Document {
	result := Document{}
	for k, v := range this {
		prev := other[k]
		if Equal(prev, v) {
			continue
		}
		nested, isDoc := v.(map[string]any)
		prevDoc, wasDoc := prev.(map[string]any)
		if isDoc && wasDoc {
			if d := diffDocuments(nested, prevDoc, remove); d != nil {
				result[k] = d
			}
			continue
		}
		result[k] = v
	}
	if remove {
		for k := range other {
			if _, ok := this[k]; !ok {
				result[k] = nil
			}
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// ApplyDiff merges diff into a deep copy of doc and returns the copy. Null
// values in diff delete the key; nested documents merge recursively.
func ApplyDiff(doc, diff Document) Document {
	out := cloneDocument(doc)
	if out == nil {
		out = Document{}
	}
	for k, v := range diff {
		if v == nil {
			delete(out, k)
			continue
		}
		nested, isDoc := v.(map[string]any)
		existing, hasDoc := out[k].(map[string]any)
		if isDoc && hasDoc {
			out[k] = ApplyDiff(existing, nested)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// FindKey searches doc depth-first for key and returns the first value found.
func FindKey(doc Document, key string) (any, bool) {
	if v, ok := doc[key]; ok {
		return v, true
	}
	for _, k := range sortedKeys(doc) {
		if nested, ok := doc[k].(map[string]any); ok {
			if v, found := FindKey(nested, key); found {
				return v, true
			}
		}
	}
	return nil, false
}

// FindPathToKey returns the dotted path to the first occurrence of key in doc.
func FindPathToKey(doc Document, key string) (string, bool) {
	if _, ok := doc[key]; ok {
		return key, true
	}
	for _, k := range sortedKeys(doc) {
		if nested, ok := doc[k].(map[string]any); ok {
			if p, found := FindPathToKey(nested, key); found {
				return k + "." + p, true
			}
		}
	}
	return "", false
}

func sortedKeys(doc Document) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func roundTo(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}
