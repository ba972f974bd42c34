package seller

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/marketsync/internal/oblog"
)

// Poller drives the async report protocol: create report, poll status at a
// fixed interval until terminal, then hand back the artifact location.
//
// The attempt budget is ceil(maxWait/interval); hitting it without a terminal
// status raises *PollTimeoutError. Transient transport errors are retried on
// the same cadence, and the last attempt's error is surfaced if polling is
// exhausted that way.
type Poller struct {
	client   Client
	interval time.Duration
	maxWait  time.Duration
	log      *oblog.Logger
	sleep    func(time.Duration)
}

// NewPoller constructs a poller. interval and maxWait must both be positive;
// config validation upstream guarantees interval <= maxWait.
func NewPoller(client Client, interval, maxWait time.Duration, log *oblog.Logger) (*Poller, error) {
	if interval <= 0 || maxWait <= 0 {
		return nil, fmt.Errorf("poller intervals must be positive (interval=%s maxWait=%s)", interval, maxWait)
	}
	return &Poller{
		client:   client,
		interval: interval,
		maxWait:  maxWait,
		log:      log,
		sleep:    time.Sleep,
	}, nil
}

// MaxAttempts returns the bounded poll count derived from the wait budget.
func (p *Poller) MaxAttempts() int {
	return int((p.maxWait + p.interval - 1) / p.interval)
}

// WaitForReport polls jobCode until the remote job succeeds, fails, or the
// wait budget runs out. On success the artifact URL is returned; its absence
// on a success status is a protocol violation.
func (p *Poller) WaitForReport(ctx context.Context, jobCode string) (string, error) {
	maxAttempts := p.MaxAttempts()
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := p.client.ReportStatus(ctx, jobCode)
		if err != nil {
			lastErr = err
			p.log.Warn("report status check failed", "job", jobCode, "attempt", attempt, "error", err)
		} else {
			lastErr = nil
			switch status.Status {
			case StatusSuccess:
				if status.FileURL == "" {
					return "", &ProtocolError{
						Message: fmt.Sprintf("report %s succeeded without a result file", jobCode),
					}
				}
				p.log.Info("report ready", "job", jobCode, "attempts", attempt)
				return status.FileURL, nil
			case StatusFailed, StatusError:
				return "", &ReportFailedError{JobCode: jobCode, Reason: status.Error}
			default:
				// processing, waiting, or a status this client predates:
				// keep polling.
			}
		}

		if attempt < maxAttempts {
			p.sleep(p.interval)
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("polling report %s exhausted after %d attempts: %w", jobCode, maxAttempts, lastErr)
	}
	return "", &PollTimeoutError{
		JobCode:  jobCode,
		Attempts: maxAttempts,
		Elapsed:  time.Since(start),
	}
}

// FetchReport runs the whole protocol end to end: create the report, wait for
// it, download and parse the artifact.
func (p *Poller) FetchReport(ctx context.Context, kind ReportKind, params map[string]string) ([]Row, error) {
	jobCode, err := p.client.CreateReport(ctx, kind, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s report: %w", kind, err)
	}
	p.log.Info("report requested", "kind", string(kind), "job", jobCode)

	fileURL, err := p.WaitForReport(ctx, jobCode)
	if err != nil {
		return nil, err
	}

	rows, err := p.client.DownloadCSV(ctx, fileURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download report %s: %w", jobCode, err)
	}
	return rows, nil
}
