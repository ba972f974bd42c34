package load

import "fmt"

// TxError is any failure during a load transaction. The whole transaction is
// rolled back; ChunksDone records how many chunks had been applied before the
// failure so operators can reason about re-runs.
type TxError struct {
	Strategy   string
	ChunksDone int
	Cause      error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s load failed after %d chunks: %v", e.Strategy, e.ChunksDone, e.Cause)
}

func (e *TxError) Unwrap() error {
	return e.Cause
}

// RefreshGuardError aborts a full refresh whose new snapshot is suspiciously
// small against the existing table, which usually means a truncated upstream
// report rather than a real inventory collapse.
type RefreshGuardError struct {
	OldCount int
	NewCount int
	MinRatio float64
}

func (e *RefreshGuardError) Error() string {
	return fmt.Sprintf("refusing refresh: new snapshot has %d rows against %d existing (minimum ratio %.2f)",
		e.NewCount, e.OldCount, e.MinRatio)
}
