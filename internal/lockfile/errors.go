package lockfile

import "fmt"

// HeldError reports that a job lock is held by a live process. Callers treat
// it as expected control flow (skip this invocation), not a lock subsystem
// failure; it exists so exit-code mapping can distinguish "already running"
// from real errors.
type HeldError struct {
	Job    string
	Holder Info
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lock for %q is held by pid %d on %s since %s",
		e.Job, e.Holder.PID, e.Holder.Hostname, e.Holder.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
}
