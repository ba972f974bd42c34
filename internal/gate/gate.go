// Package gate validates and normalizes extracted rows before loading.
// Per-row problems become rejections, not failures; the whole batch fails only
// on structural breakage or when the valid fraction drops below the quality
// floor.
package gate

import (
	"fmt"
	"sort"

	"github.com/jonathan/marketsync/internal/oblog"
	"github.com/jonathan/marketsync/internal/seller"
)

// DefaultFloor is the minimum fraction of valid rows a batch needs to load.
const DefaultFloor = 0.5

// maxSampledReasons caps how many rejection reasons a report carries.
const maxSampledReasons = 5

// Report summarizes one validation pass for the run record.
type Report struct {
	Total      int
	Valid      int
	Rejected   int
	Duplicates int
	Reasons    []string
}

// Keyed is implemented by every normalized record; the natural key drives
// in-batch deduplication and downstream conflict resolution.
type Keyed interface {
	NaturalKey() string
}

// RowFunc parses and normalizes one raw row. A non-empty reason rejects the
// row; the record is used only when reason is empty.
type RowFunc[T Keyed] func(row seller.Row) (T, string)

// CheckColumns verifies the row set is non-empty and that every required
// column appears in the header derived from the first row. Missing columns
// produce one fatal *StructureError; there is no partial accept.
func CheckColumns(rows []seller.Row, required []string) error {
	if len(rows) == 0 {
		return &StructureError{Missing: required}
	}

	found := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		found = append(found, col)
	}
	sort.Strings(found)

	var missing []string
	for _, col := range required {
		if _, ok := rows[0][col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &StructureError{Missing: missing, Found: found}
	}
	return nil
}

// ValidateAndNormalize runs parse over every row, deduplicates by natural key
// (last occurrence wins, logged), and enforces the quality floor. The returned
// Report is populated even when a *FloorError is raised.
func ValidateAndNormalize[T Keyed](rows []seller.Row, parse RowFunc[T], floor float64, log *oblog.Logger) ([]T, *Report, error) {
	report := &Report{Total: len(rows)}

	valid := make([]T, 0, len(rows))
	index := make(map[string]int, len(rows))

	for i, row := range rows {
		record, reason := parse(row)
		if reason != "" {
			report.Rejected++
			if len(report.Reasons) < maxSampledReasons {
				report.Reasons = append(report.Reasons, fmt.Sprintf("row %d: %s", i+1, reason))
			}
			continue
		}

		key := record.NaturalKey()
		if pos, seen := index[key]; seen {
			report.Duplicates++
			log.Warn("duplicate natural key in batch, keeping later row", "key", key, "row", i+1)
			valid[pos] = record
			continue
		}
		index[key] = len(valid)
		valid = append(valid, record)
	}

	// Duplicates collapse into one record but each source row was valid.
	report.Valid = len(valid) + report.Duplicates

	if report.Total > 0 && float64(report.Valid)/float64(report.Total) < floor {
		return nil, report, &FloorError{
			Valid:   report.Valid,
			Total:   report.Total,
			Floor:   floor,
			Reasons: report.Reasons,
		}
	}
	return valid, report, nil
}
