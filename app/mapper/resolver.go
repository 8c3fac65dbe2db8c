package mapper

// Resolve extracts the raw value for field from rec. sourceKey overrides the
// lookup key; an empty sourceKey means field.Name.
//
// Many-to-many fields always resolve to Omit, a transform has to supply them.
// An absent key resolves to Omit when the field is blank-allowed or has a
// default, to Null when it is nullable, and fails with *MissingFieldError
// otherwise. Present values are returned as-is.
func Resolve(rec Record, field Field, sourceKey string) (Value, error) {
	if field.IsRelation() {
		return Omit(), nil
	}

	if sourceKey == "" {
		sourceKey = field.Name
	}

	raw, ok := rec.Lookup(sourceKey)
	if !ok {
		switch {
		case field.Blank || field.HasDefault:
			return Omit(), nil
		case field.Null:
			return Null(), nil
		default:
			return Omit(), &MissingFieldError{Field: field.Name, SourceKey: sourceKey}
		}
	}

	return Of(raw), nil
}
