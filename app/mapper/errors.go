package mapper

import "fmt"

// ConfigurationError reports an invalid mapper declaration. It is raised at
// construction time only.
type ConfigurationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("mapper %s: field '%s': %s", e.Kind, e.Field, e.Reason)
}

// MissingFieldError reports a required field absent from an input record.
type MissingFieldError struct {
	Kind      Kind
	Field     string
	SourceKey string
}

func (e *MissingFieldError) Error() string {
	msg := fmt.Sprintf("missing required field '%s'", e.Field)
	if e.SourceKey != "" && e.SourceKey != e.Field {
		msg += fmt.Sprintf(" (source key '%s')", e.SourceKey)
	}
	if e.Kind != "" {
		msg += fmt.Sprintf(" for %s", e.Kind)
	}
	return msg
}
