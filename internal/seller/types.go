// Package seller talks to the remote marketplace seller API: report creation,
// status polling, artifact download, and paginated posting listings.
package seller

import "time"

// Row is one row of extracted tabular data, keyed by column name. Rows are
// consumed by the validation gate and never persisted as-is.
type Row = map[string]string

// ReportKind selects which server-side export to request.
type ReportKind string

const (
	ReportProducts ReportKind = "SELLER_PRODUCTS"
	ReportStocks   ReportKind = "SELLER_STOCKS"
)

// Remote report statuses. Anything outside this set is treated as still in
// progress; the remote side has added transient statuses before.
const (
	StatusProcessing = "processing"
	StatusWaiting    = "waiting"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusError      = "error"
)

// ReportStatus is the polled state of an async report job.
type ReportStatus struct {
	Status  string
	FileURL string
	Error   string
}

// Terminal reports whether the remote job reached a final state.
func (s ReportStatus) Terminal() bool {
	switch s.Status {
	case StatusSuccess, StatusFailed, StatusError:
		return true
	}
	return false
}

// PostingsQuery bounds one page of the paginated sales listing.
type PostingsQuery struct {
	Since    time.Time
	To       time.Time
	Cursor   string
	PageSize int
}

// PostingsPage is one page of sales rows plus the cursor for the next page.
// An empty NextCursor means the listing is exhausted.
type PostingsPage struct {
	Items      []Row
	NextCursor string
}
