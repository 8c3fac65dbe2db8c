package mapper

import "fmt"

type valueState uint8

const (
	stateOmit valueState = iota
	stateNull
	statePresent
)

// Value is the result of resolving or transforming a single field.
// The zero Value is Omit.
type Value struct {
	state valueState
	v     any
}

// Omit drops the field from the write set so the store default applies.
func Omit() Value {
	return Value{state: stateOmit}
}

// Null writes an explicit NULL.
func Null() Value {
	return Value{state: stateNull}
}

// Of wraps a concrete value. A nil argument is treated as Null.
func Of(v any) Value {
	if v == nil {
		return Null()
	}
	return Value{state: statePresent, v: v}
}

func (v Value) IsOmit() bool {
	return v.state == stateOmit
}

func (v Value) IsNull() bool {
	return v.state == stateNull
}

// Get returns the wrapped value; nil for Null and Omit.
func (v Value) Get() any {
	return v.v
}

func (v Value) String() string {
	switch v.state {
	case stateOmit:
		return "Omit"
	case stateNull:
		return "Null"
	default:
		return fmt.Sprintf("Value(%v)", v.v)
	}
}
