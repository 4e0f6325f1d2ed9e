// Package ledger aggregates per-row outcomes into the run's output report.
// Every input row appears exactly once, and entries are emitted in input
// order regardless of batch completion order.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/dataloaders/hubspot-writer/pkg/batcher"
	"github.com/dataloaders/hubspot-writer/pkg/dispatcher"
)

// Status is the terminal per-row outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Entry is one row's outcome.
type Entry struct {
	// RowRef is the 1-based input row index.
	RowRef int

	Status      Status
	HTTPStatus  int
	ErrorDetail string
}

// Ledger is the append-only per-row outcome collection. It has a single
// writer: the aggregator records each batch outcome after its dispatch
// completes.
type Ledger struct {
	entries []Entry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// RecordRowError records a row that failed during mapping and never reached
// dispatch.
func (l *Ledger) RecordRowError(rowRef int, err error) {
	l.entries = append(l.entries, Entry{
		RowRef:      rowRef,
		Status:      StatusFailure,
		ErrorDetail: err.Error(),
	})
}

// RecordBatch correlates a dispatched batch's outcome back to its member
// rows: per-item errors where the endpoint reported them, batch-level
// inheritance otherwise.
func (l *Ledger) RecordBatch(b batcher.Batch, res dispatcher.Result) {
	for i, p := range b.Payloads {
		entry := Entry{
			RowRef:     p.RowRef,
			HTTPStatus: res.HTTPStatus,
		}

		switch res.Status {
		case dispatcher.StatusSuccess:
			entry.Status = StatusSuccess
		case dispatcher.StatusFailure:
			entry.Status = StatusFailure
			entry.ErrorDetail = res.ErrorDetail
		case dispatcher.StatusPartial:
			if detail, failed := res.ItemErrors[i]; failed {
				entry.Status = StatusFailure
				entry.ErrorDetail = detail
			} else if len(res.ItemErrors) == 0 {
				// Partial without attributable items: every member inherits
				// the batch-level detail
				entry.Status = StatusFailure
				entry.ErrorDetail = res.ErrorDetail
			} else {
				entry.Status = StatusSuccess
			}
		}

		l.entries = append(l.entries, entry)
	}
}

// Entries returns all entries sorted by row reference. Sorting by row
// identifier, not completion time, keeps the report deterministic under
// parallel dispatch.
func (l *Ledger) Entries() []Entry {
	sorted := make([]Entry, len(l.entries))
	copy(sorted, l.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RowRef < sorted[j].RowRef
	})
	return sorted
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// WriteCSV emits the ledger as the run's output table, one row per input
// row in input order.
func (l *Ledger) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"row_reference", "status", "http_status", "error_detail"}); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}

	for _, e := range l.Entries() {
		httpStatus := ""
		if e.HTTPStatus > 0 {
			httpStatus = strconv.Itoa(e.HTTPStatus)
		}
		record := []string{strconv.Itoa(e.RowRef), string(e.Status), httpStatus, e.ErrorDetail}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write ledger row %d: %w", e.RowRef, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Summary aggregates the ledger into run-level counters.
type Summary struct {
	Rows      int
	Succeeded int
	Failed    int
}

// Summarize computes the run summary.
func (l *Ledger) Summarize() Summary {
	s := Summary{Rows: len(l.entries)}
	for _, e := range l.entries {
		if e.Status == StatusSuccess {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}
