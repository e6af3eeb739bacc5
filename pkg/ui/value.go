package ui

import (
	"fmt"
	"time"
)

type valueState uint8

const (
	valueUnset valueState = iota
	valueNull
	valuePresent
)

// Value is the current value of an interaction. It distinguishes a value that
// was never set from one explicitly set to null.
type Value struct {
	state valueState
	v     any
}

// Unset returns the zero Value, which is never serialized.
func Unset() Value { return Value{} }

// Null returns a Value explicitly set to null.
func Null() Value { return Value{state: valueNull} }

// ValueOf wraps v. A nil v yields Null; time.Time values are stored as epoch
// seconds.
func ValueOf(v any) Value {
	v = normalizeValue(v)
	if v == nil {
		return Null()
	}
	return Value{state: valuePresent, v: v}
}

// IsSet reports whether the value was set, to null or otherwise.
func (v Value) IsSet() bool { return v.state != valueUnset }

// IsNull reports whether the value was explicitly set to null.
func (v Value) IsNull() bool { return v.state == valueNull }

// Get returns the wrapped value, or nil when unset or null.
func (v Value) Get() any {
	if v.state != valuePresent {
		return nil
	}
	return v.v
}

// Equal reports whether both values are in the same state and hold equal data.
func (v Value) Equal(o Value) bool {
	return v.state == o.state && Equal(v.v, o.v)
}

func (v Value) String() string {
	switch v.state {
	case valueUnset:
		return "<unset>"
	case valueNull:
		return "<null>"
	default:
		return fmt.Sprint(v.v)
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Unix()
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.Unix()
	}
	return v
}
