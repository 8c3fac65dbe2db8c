package mapper

// Record is a read-only view over one externally sourced item.
type Record interface {
	Lookup(name string) (any, bool)
}

// MapRecord adapts decoded JSON objects and plain maps.
type MapRecord map[string]any

func (r MapRecord) Lookup(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}
