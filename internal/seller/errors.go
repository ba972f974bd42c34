package seller

import (
	"fmt"
	"time"
)

// ProtocolError represents a malformed or unexpected response from the seller
// API. It is fatal to the stage that triggered the call.
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("seller API protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("seller API protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// PollTimeoutError reports that a report job never reached a terminal status
// within the wait budget. Distinct from a remote failure so callers can decide
// whether retrying the whole stage is worthwhile.
type PollTimeoutError struct {
	JobCode  string
	Attempts int
	Elapsed  time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("report %s did not finish after %d polls over %s", e.JobCode, e.Attempts, e.Elapsed)
}

// ReportFailedError carries the remote side's own failure message for a report
// job that terminated unsuccessfully.
type ReportFailedError struct {
	JobCode string
	Reason  string
}

func (e *ReportFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("report %s failed remotely", e.JobCode)
	}
	return fmt.Sprintf("report %s failed remotely: %s", e.JobCode, e.Reason)
}
