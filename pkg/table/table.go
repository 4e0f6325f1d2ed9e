// Package table provides the input table model: CSV reading with charset
// decoding, the Row type consumed by the mapper, and table-level column
// validation.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Row is one input record. Values are keyed by column name; column order is
// owned by the enclosing Table. Index is the 1-based position of the row in
// the input data (header excluded) and serves as the row reference in the
// ledger.
type Row struct {
	Index  int
	Values map[string]string
}

// Get returns the value of a column, or "" when the column is absent.
func (r Row) Get(column string) string {
	return r.Values[column]
}

// Table is one logical input table: an ordered column set plus rows in
// input order.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// HasColumn reports whether the table declares a column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// MissingColumns returns the required columns absent from the table header,
// in the order given.
func (t *Table) MissingColumns(required []string) []string {
	var missing []string
	for _, col := range required {
		if !t.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	return missing
}

// ReadOptions controls CSV parsing.
type ReadOptions struct {
	// Name overrides the table name (default: file base name without extension).
	Name string

	// Encoding is the input charset: "" or "utf-8", or one of
	// "windows-1250", "windows-1251", "windows-1252".
	Encoding string

	// Delimiter is the CSV field separator (default ',').
	Delimiter rune
}

// ReadCSV parses a CSV table from r. The first record is the header.
func ReadCSV(r io.Reader, opts ReadOptions) (*Table, error) {
	decoded, err := decodeReader(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	csvReader := csv.NewReader(decoded)
	if opts.Delimiter != 0 {
		csvReader.Comma = opts.Delimiter
	}
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	// Short records are padded with empty values instead of failing the run
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("input table is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, col := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(col, "\uFEFF"))
	}

	t := &Table{
		Name:    opts.Name,
		Columns: columns,
	}

	rowNo := 0
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", rowNo+1, err)
		}

		rowNo++
		values := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				values[col] = record[i]
			} else {
				values[col] = ""
			}
		}

		t.Rows = append(t.Rows, Row{Index: rowNo, Values: values})
	}

	return t, nil
}

// ReadCSVFile opens and parses a CSV file. The table name defaults to the
// file base name without extension.
func ReadCSVFile(path string, opts ReadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input table: %w", err)
	}
	defer f.Close()

	if opts.Name == "" {
		base := filepath.Base(path)
		opts.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return ReadCSV(f, opts)
}

// decodeReader wraps r with a charset decoder when the input is not UTF-8.
func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8":
		return r, nil
	case "windows-1250":
		return charmap.Windows1250.NewDecoder().Reader(r), nil
	case "windows-1251":
		return charmap.Windows1251.NewDecoder().Reader(r), nil
	case "windows-1252":
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}
