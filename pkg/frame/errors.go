package frame

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the sentinel wrapped by every ConfigurationError.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports a component that can never produce valid
// frames. It is fatal and must be surfaced before a run starts.
type ConfigurationError struct {
	Component string
	Class     Class
	Reason    string
	Err       error
}

func (e *ConfigurationError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Component != "" {
		return fmt.Sprintf("component %q (%s): %s", e.Component, e.Class, msg)
	}
	return fmt.Sprintf("class %q: %s", e.Class, msg)
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}
