package apispec

import "fmt"

// ConfigError reports a malformed configuration document. Path is the
// dotted key path of the offending entry ("endpoints" keys are relative to
// the endpoint tree root, e.g. "anything.get.method").
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "invalid api config"
	if e.Path != "" {
		msg += fmt.Sprintf(" at %q", e.Path)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }
