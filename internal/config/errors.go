package config

import (
	"fmt"
	"strings"
)

// ValidationError reports one or more invalid configuration fields.
// It is always raised before any I/O begins.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("invalid configuration: %s", e.Fields[0])
	}
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Fields, "; "))
}
