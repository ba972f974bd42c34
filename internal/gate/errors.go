package gate

import (
	"fmt"
	"strings"
)

// StructureError reports required columns missing from an extracted row set.
// It always lists both what was missing and what was actually found, so a
// renamed upstream column is diagnosable from the error alone.
type StructureError struct {
	Missing []string
	Found   []string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("required columns missing: [%s]; columns found: [%s]",
		strings.Join(e.Missing, ", "), strings.Join(e.Found, ", "))
}

// FloorError is the aggregate quality circuit breaker: too few rows survived
// validation for the batch to be trusted, so nothing is loaded.
type FloorError struct {
	Valid   int
	Total   int
	Floor   float64
	Reasons []string
}

func (e *FloorError) Error() string {
	return fmt.Sprintf("only %d of %d rows valid (%.0f%%), below quality floor %.0f%%",
		e.Valid, e.Total, 100*float64(e.Valid)/float64(e.Total), 100*e.Floor)
}
