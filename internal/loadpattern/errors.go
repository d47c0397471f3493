package loadpattern

import (
	"fmt"
	"strings"
)

// ConfigurationError reports invalid load pattern or run parameters. It is
// raised before a run starts and is never recovered from.
type ConfigurationError struct {
	Field  string
	Issues []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid configuration"
	}
	if e.Field == "" {
		return "invalid configuration: " + strings.Join(e.Issues, "; ")
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, strings.Join(e.Issues, "; "))
}

func configErrorf(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Issues: []string{fmt.Sprintf(format, args...)}}
}
