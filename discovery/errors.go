package discovery

import "fmt"

// ConfigurationError reports a structural problem in a unit's
// declarations: conflicting pipeline declarations or mixed membership
// styles. It is fatal for the load.
type ConfigurationError struct {
	Unit   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unit %q: %s", e.Unit, e.Reason)
}
