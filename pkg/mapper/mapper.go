// Package mapper converts input rows into request payloads under the rules
// of the resolved endpoint descriptor. It performs no network I/O; its only
// side effect is traceability logging.
package mapper

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dataloaders/hubspot-writer/pkg/logging"
	"github.com/dataloaders/hubspot-writer/pkg/registry"
	"github.com/dataloaders/hubspot-writer/pkg/table"
)

// Association is one line item association reference.
type Association struct {
	ToID     string
	Category string
	TypeID   int
}

// Payload is the fully-formed target of one logical CRM operation, tagged
// with its originating row. Which fields are populated depends on the
// descriptor's body shape.
type Payload struct {
	// RowRef is the 1-based input row index the payload originates from.
	RowRef int

	// Path is the endpoint path with all template segments resolved.
	Path string

	// ObjectID carries the v3 batch update/archive identifier.
	ObjectID string

	// Properties is the v3 property map (object_batch shape).
	Properties map[string]string

	// Body is the complete request body for single-shape endpoints.
	Body map[string]any

	// Vids and Emails are list membership members.
	Vids   []string
	Emails []string

	// Associations are line item association references.
	Associations []Association
}

// Options carry run-level flags that influence mapping.
type Options struct {
	// TableName is the input table name, used as the custom object type when
	// UseTableNameAsType is set.
	TableName string

	// UseTableNameAsType makes custom object creation resolve the object type
	// from the table name instead of the object_type column.
	UseTableNameAsType bool
}

// Mapper maps rows for one descriptor. Construct once per run.
type Mapper struct {
	desc    registry.Descriptor
	columns []string
	opts    Options
	logger  zerolog.Logger
}

// New creates a mapper for a descriptor. columns is the input table's header
// in input order; it fixes the property emission order.
func New(desc registry.Descriptor, columns []string, opts Options) *Mapper {
	return &Mapper{
		desc:    desc,
		columns: columns,
		opts:    opts,
		logger:  logging.NewLogger("mapper"),
	}
}

// Map converts one row into a payload, or fails with MissingColumnError,
// EmptyPropertySetError, or RowDataError.
func (m *Mapper) Map(row table.Row) (*Payload, error) {
	if err := m.checkRequired(row); err != nil {
		return nil, err
	}

	switch {
	case m.desc.Object == registry.ObjectContact && m.desc.Action == registry.ActionAddToList:
		return m.mapListMembership(row, true)
	case m.desc.Object == registry.ObjectContact && m.desc.Action == registry.ActionRemoveFromList:
		return m.mapListMembership(row, false)
	case m.desc.Object == registry.ObjectContact && m.desc.Action == registry.ActionUpdateByEmail:
		return m.mapUpdateByEmail(row)
	case m.desc.Object == registry.ObjectList:
		return m.mapListCreate(row)
	case m.desc.Object == registry.ObjectCustomList:
		return m.mapCustomListCreate(row)
	case m.desc.Object == registry.ObjectLineItem && m.desc.Action == registry.ActionCreate:
		return m.mapLineItemCreate(row)
	case m.desc.Object == registry.ObjectCustomObject:
		return m.mapCustomObjectCreate(row)
	case m.desc.BodyShape == registry.BodyNone:
		return m.mapPathOnly(row)
	default:
		return m.mapObjectBatch(row)
	}
}

// checkRequired enforces the descriptor's required columns per row. The
// object_type column is exempt for custom objects when the table-name flag
// is set.
func (m *Mapper) checkRequired(row table.Row) error {
	for _, col := range m.desc.RequiredColumns {
		if col == "object_type" && m.desc.Object == registry.ObjectCustomObject && m.opts.UseTableNameAsType {
			continue
		}
		if row.Get(col) == "" {
			return &MissingColumnError{Column: col, Row: row.Index}
		}
	}
	return nil
}

// mapObjectBatch covers the v3 batch endpoints: contact/company/deal
// create/update/remove and line item remove.
func (m *Mapper) mapObjectBatch(row table.Row) (*Payload, error) {
	p := &Payload{
		RowRef: row.Index,
		Path:   m.desc.PathTemplate,
	}

	if len(m.desc.IdentifierColumns) > 0 {
		p.ObjectID = row.Get(m.desc.IdentifierColumns[0])
	}

	// Archive bodies carry only the object ID.
	if m.desc.Action == registry.ActionRemove {
		return p, nil
	}

	p.Properties = m.collectProperties(row)
	if m.desc.Action == registry.ActionCreate && len(p.Properties) == 0 {
		return nil, &EmptyPropertySetError{Row: row.Index}
	}

	return p, nil
}

// mapListMembership covers contact add/remove to/from list. When a row
// carries both vids and emails, vids win and emails are discarded for that
// row; this is a silent override, logged for traceability.
func (m *Mapper) mapListMembership(row table.Row, allowEmails bool) (*Payload, error) {
	p := &Payload{
		RowRef: row.Index,
		Path:   m.resolvePath(row, nil),
	}

	vid := row.Get("vids")
	email := row.Get("emails")

	switch {
	case vid != "":
		if email != "" {
			m.logger.Info().
				Int("row", row.Index).
				Str("list_id", row.Get("list_id")).
				Msg("Row has both vids and emails, using vids")
		}
		p.Vids = []string{vid}
	case allowEmails && email != "":
		p.Emails = []string{email}
	default:
		return nil, &RowDataError{Row: row.Index, Reason: "neither vids nor emails is set"}
	}

	return p, nil
}

// mapUpdateByEmail covers the v1 contact profile update keyed by email name.
// The v1 API spells the property key "property", not "name".
func (m *Mapper) mapUpdateByEmail(row table.Row) (*Payload, error) {
	props := make([]map[string]string, 0, len(row.Values))
	for _, col := range m.propertyColumns() {
		if v := row.Get(col); v != "" {
			props = append(props, map[string]string{"property": col, "value": v})
		}
	}

	return &Payload{
		RowRef: row.Index,
		Path:   m.resolvePath(row, nil),
		Body:   map[string]any{"properties": props},
	}, nil
}

// mapListCreate covers v1 list creation. Created lists are always static.
func (m *Mapper) mapListCreate(row table.Row) (*Payload, error) {
	return &Payload{
		RowRef: row.Index,
		Path:   m.desc.PathTemplate,
		Body: map[string]any{
			"name":    row.Get("name"),
			"dynamic": false,
		},
	}, nil
}

// mapCustomListCreate covers v3 list creation. The processing type is fixed
// to MANUAL regardless of input columns.
func (m *Mapper) mapCustomListCreate(row table.Row) (*Payload, error) {
	return &Payload{
		RowRef: row.Index,
		Path:   m.desc.PathTemplate,
		Body: map[string]any{
			"name":           row.Get("name"),
			"objectTypeId":   row.Get("object_type"),
			"processingType": "MANUAL",
		},
	}, nil
}

// mapLineItemCreate covers v3 line item batch creation with its association
// reference.
func (m *Mapper) mapLineItemCreate(row table.Row) (*Payload, error) {
	typeID, err := strconv.Atoi(row.Get("association_type_id"))
	if err != nil {
		return nil, &RowDataError{Row: row.Index, Reason: "association_type_id is not an integer"}
	}

	return &Payload{
		RowRef:     row.Index,
		Path:       m.desc.PathTemplate,
		Properties: m.collectProperties(row),
		Associations: []Association{{
			ToID:     row.Get("association_id"),
			Category: row.Get("association_category"),
			TypeID:   typeID,
		}},
	}, nil
}

// mapCustomObjectCreate covers v3 custom object batch creation. With the
// table-name flag set, the table name wins over any object_type column value.
func (m *Mapper) mapCustomObjectCreate(row table.Row) (*Payload, error) {
	objectType := row.Get("object_type")
	if m.opts.UseTableNameAsType {
		if objectType != "" && objectType != m.opts.TableName {
			m.logger.Debug().
				Int("row", row.Index).
				Str("object_type_column", objectType).
				Str("table_name", m.opts.TableName).
				Msg("Ignoring object_type column, using table name as object type")
		}
		objectType = m.opts.TableName
	}

	p := &Payload{
		RowRef:     row.Index,
		Path:       m.resolvePath(row, map[string]string{"object_type": objectType}),
		Properties: m.collectProperties(row),
	}
	if len(p.Properties) == 0 {
		return nil, &EmptyPropertySetError{Row: row.Index}
	}

	return p, nil
}

// mapPathOnly covers associations and secondary email operations: all data
// lives in the resolved path, no body is sent.
func (m *Mapper) mapPathOnly(row table.Row) (*Payload, error) {
	return &Payload{
		RowRef: row.Index,
		Path:   m.resolvePath(row, nil),
	}, nil
}

// collectProperties maps every non-identifier, non-empty column to a
// property value.
func (m *Mapper) collectProperties(row table.Row) map[string]string {
	props := make(map[string]string)
	for _, col := range m.propertyColumns() {
		if v := row.Get(col); v != "" {
			props[col] = v
		}
	}
	return props
}

// propertyColumns returns the table's columns minus the descriptor's
// identifier columns, in header order.
func (m *Mapper) propertyColumns() []string {
	cols := make([]string, 0, len(m.columns))
	for _, col := range m.columns {
		if !m.isIdentifier(col) {
			cols = append(cols, col)
		}
	}
	return cols
}

func (m *Mapper) isIdentifier(col string) bool {
	for _, id := range m.desc.IdentifierColumns {
		if id == col {
			return true
		}
	}
	return false
}

// resolvePath fills the descriptor's path template from row values, with
// override taking priority over the row.
func (m *Mapper) resolvePath(row table.Row, override map[string]string) string {
	path := m.desc.PathTemplate
	for col, value := range row.Values {
		placeholder := "{" + col + "}"
		if !strings.Contains(path, placeholder) {
			continue
		}
		if ov, ok := override[col]; ok {
			value = ov
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
	}
	for col, value := range override {
		path = strings.ReplaceAll(path, "{"+col+"}", url.PathEscape(value))
	}
	return path
}
