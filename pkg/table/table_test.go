package table

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestReadCSV(t *testing.T) {
	input := "email,firstname,lastname\n" +
		"a@example.com,Alice,Alder\n" +
		"b@example.com,Bob,\n"

	tbl, err := ReadCSV(strings.NewReader(input), ReadOptions{Name: "contacts"})
	require.NoError(t, err)

	assert.Equal(t, "contacts", tbl.Name)
	assert.Equal(t, []string{"email", "firstname", "lastname"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)

	assert.Equal(t, 1, tbl.Rows[0].Index)
	assert.Equal(t, "a@example.com", tbl.Rows[0].Get("email"))
	assert.Equal(t, "Alice", tbl.Rows[0].Get("firstname"))

	assert.Equal(t, 2, tbl.Rows[1].Index)
	assert.Equal(t, "", tbl.Rows[1].Get("lastname"))
	assert.Equal(t, "", tbl.Rows[1].Get("no_such_column"))
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), ReadOptions{})
	assert.Error(t, err)
}

func TestReadCSV_HeaderOnly(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("email,name\n"), ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, tbl.Rows)
}

func TestReadCSV_StripsBOM(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("\uFEFFemail\na@example.com\n"), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, tbl.Columns)
}

func TestReadCSV_CustomDelimiter(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("email;name\na@example.com;Alice\n"),
		ReadOptions{Delimiter: ';'})
	require.NoError(t, err)
	assert.Equal(t, "Alice", tbl.Rows[0].Get("name"))
}

func TestReadCSV_Windows1251(t *testing.T) {
	encoder := charmap.Windows1251.NewEncoder()
	encoded, err := encoder.String("name\nМосква\n")
	require.NoError(t, err)

	tbl, err := ReadCSV(strings.NewReader(encoded), ReadOptions{Encoding: "windows-1251"})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "Москва", tbl.Rows[0].Get("name"))
}

func TestReadCSV_UnsupportedEncoding(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a\n1\n"), ReadOptions{Encoding: "koi8-r"})
	assert.ErrorContains(t, err, "unsupported encoding")
}

func TestReadCSV_ShortRecordPadded(t *testing.T) {
	// LazyQuotes keeps the reader permissive; a record that ends early still
	// maps all declared columns.
	tbl, err := ReadCSV(strings.NewReader("a,b,c\n\"1\",2\n"), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "", tbl.Rows[0].Get("c"))
}

func TestMissingColumns(t *testing.T) {
	tbl := &Table{Columns: []string{"vid", "email"}}

	assert.Empty(t, tbl.MissingColumns([]string{"vid"}))
	assert.Equal(t, []string{"list_id"}, tbl.MissingColumns([]string{"list_id", "email"}))
	assert.Equal(t, []string{"a", "b"}, tbl.MissingColumns([]string{"a", "vid", "b"}))
}

func TestHasColumn(t *testing.T) {
	tbl := &Table{Columns: []string{"vid"}}
	assert.True(t, tbl.HasColumn("vid"))
	assert.False(t, tbl.HasColumn("email"))
}
