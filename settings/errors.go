package settings

import "fmt"

// ValidationError is returned when a value is rejected by the validator of an
// option. The previously assigned value of the option is left intact.
type ValidationError struct {
	// Option is the option name the value was assigned to.
	Option string
	// Value is the rejected value.
	Value any
	// Reason describes which rule the value violates.
	Reason string
}

func (m *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %#v for option %q: %s", m.Value, m.Option, m.Reason)
}

// ConfigurationError is returned when a settings object cannot be rendered
// because it is incomplete.
type ConfigurationError struct {
	Reason string
}

func (m *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid iperf configuration: %s", m.Reason)
}
