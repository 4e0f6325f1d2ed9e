package mapper

import "fmt"

// MissingColumnError reports a required column that is absent from the input
// table (Row == 0) or empty in a specific row (Row > 0).
type MissingColumnError struct {
	Column string
	Row    int
}

// Error implements the error interface.
func (e *MissingColumnError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("required column [%s] is missing from the input table", e.Column)
	}
	return fmt.Sprintf("required column [%s] is empty in row %d", e.Column, e.Row)
}

// EmptyPropertySetError reports a create row that yields no properties at all.
type EmptyPropertySetError struct {
	Row int
}

// Error implements the error interface.
func (e *EmptyPropertySetError) Error() string {
	return fmt.Sprintf("row %d has no non-empty property values", e.Row)
}

// RowDataError reports an endpoint-specific violation in a row's data.
type RowDataError struct {
	Row    int
	Reason string
}

// Error implements the error interface.
func (e *RowDataError) Error() string {
	return fmt.Sprintf("invalid data in row %d: %s", e.Row, e.Reason)
}
