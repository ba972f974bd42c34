package workflow

import "fmt"

// StageError marks a stage that failed after exhausting its attempts.
type StageError struct {
	Stage    string
	Attempts int
	Cause    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}
