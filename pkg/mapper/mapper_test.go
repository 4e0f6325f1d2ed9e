package mapper

import (
	"errors"
	"testing"

	"github.com/dataloaders/hubspot-writer/pkg/registry"
	"github.com/dataloaders/hubspot-writer/pkg/table"
)

func mustResolve(t *testing.T, object registry.Object, action registry.Action) registry.Descriptor {
	t.Helper()
	desc, err := registry.Resolve(object, action)
	if err != nil {
		t.Fatalf("Resolve(%s, %s) error = %v", object, action, err)
	}
	return desc
}

func row(idx int, values map[string]string) table.Row {
	return table.Row{Index: idx, Values: values}
}

func TestMap_ContactCreate(t *testing.T) {
	desc := mustResolve(t, registry.ObjectContact, registry.ActionCreate)
	m := New(desc, []string{"email", "firstname", "lastname"}, Options{})

	p, err := m.Map(row(1, map[string]string{
		"email":     "a@example.com",
		"firstname": "Alice",
		"lastname":  "",
	}))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}

	if p.RowRef != 1 {
		t.Errorf("RowRef = %d, want 1", p.RowRef)
	}
	if len(p.Properties) != 2 {
		t.Errorf("Properties = %v, want 2 entries", p.Properties)
	}
	if p.Properties["email"] != "a@example.com" {
		t.Errorf("Properties[email] = %q", p.Properties["email"])
	}
	if _, ok := p.Properties["lastname"]; ok {
		t.Error("empty lastname must not appear in properties")
	}
}

func TestMap_ContactCreate_EmptyPropertySet(t *testing.T) {
	desc := mustResolve(t, registry.ObjectContact, registry.ActionCreate)
	m := New(desc, []string{"email", "firstname"}, Options{})

	_, err := m.Map(row(3, map[string]string{"email": "", "firstname": ""}))

	var emptyErr *EmptyPropertySetError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("Map() error = %v, want EmptyPropertySetError", err)
	}
	if emptyErr.Row != 3 {
		t.Errorf("Row = %d, want 3", emptyErr.Row)
	}
}

func TestMap_ContactUpdate(t *testing.T) {
	desc := mustResolve(t, registry.ObjectContact, registry.ActionUpdate)
	m := New(desc, []string{"vid", "firstname"}, Options{})

	p, err := m.Map(row(1, map[string]string{"vid": "1234", "firstname": "Alice"}))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}

	if p.ObjectID != "1234" {
		t.Errorf("ObjectID = %q, want 1234", p.ObjectID)
	}
	if _, ok := p.Properties["vid"]; ok {
		t.Error("vid is an identifier, must not appear in properties")
	}
	if p.Properties["firstname"] != "Alice" {
		t.Errorf("Properties[firstname] = %q", p.Properties["firstname"])
	}
}

func TestMap_ContactUpdate_EmptyVid(t *testing.T) {
	desc := mustResolve(t, registry.ObjectContact, registry.ActionUpdate)
	m := New(desc, []string{"vid", "firstname"}, Options{})

	_, err := m.Map(row(2, map[string]string{"vid": "", "firstname": "Alice"}))

	var missing *MissingColumnError
	if !errors.As(err, &missing) {
		t.Fatalf("Map() error = %v, want MissingColumnError", err)
	}
	if missing.Column != "vid" || missing.Row != 2 {
		t.Errorf("MissingColumnError = %+v, want column vid row 2", missing)
	}
}

func TestMap_ContactUpdateByEmail(t *testing.T) {
	desc := mustResolve(t, registry.ObjectContact, registry.ActionUpdateByEmail)
	m := New(desc, []string{"email", "firstname"}, Options{})

	p, err := m.Map(row(1, map[string]string{"email": "a@example.com", "firstname": "Alice"}))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}

	if p.Path != "contacts/v1/contact/email/a@example.com/profile" {
		t.Errorf("Path = %q", p.Path)
	}

	props, ok := p.Body["properties"].([]map[string]string)
	if !ok {
		t.Fatalf("Body properties type = %T", p.Body["properties"])
	}
	if len(props) != 1 {
		t.Fatalf("properties = %v, want 1 entry", props)
	}
	// The v1 profile API expects "property", not "name"
	if props[0]["property"] != "firstname" || props[0]["value"] != "Alice" {
		t.Errorf("properties[0] = %v", props[0])
	}
}

func TestMap_AddToList_VidsWinOverEmails(t *testing.T) {
	desc := mustResolve(t, registry.ObjectContact, registry.ActionAddToList)
	m := New(desc, []string{"list_id", "vids", "emails"}, Options{})

	tests := []struct {
		name       string
		vids       string
		emails     string
		wantVids   []string
		wantEmails []string
		wantErr    bool
	}{
		{
			name:     "both set, vids win and emails are discarded",
			vids:     "101",
			emails:   "a@example.com",
			wantVids: []string{"101"},
		},
		{
			name:       "only emails set",
			vids:       "",
			emails:     "a@example.com",
			wantEmails: []string{"a@example.com"},
		},
		{
			name:     "only vids set",
			vids:     "102",
			wantVids: []string{"102"},
		},
		{
			name:    "neither set",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := m.Map(row(1, map[string]string{
				"list_id": "77",
				"vids":    tt.vids,
				"emails":  tt.emails,
			}))

			if tt.wantErr {
				var rowErr *RowDataError
				if !errors.As(err, &rowErr) {
					t.Fatalf("Map() error = %v, want RowDataError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Map() error = %v", err)
			}

			if p.Path != "contacts/v1/lists/77/add" {
				t.Errorf("Path = %q", p.Path)
			}
			if len(p.Vids) != len(tt.wantVids) || len(p.Emails) != len(tt.wantEmails) {
				t.Errorf("Vids = %v, Emails = %v, want %v / %v",
					p.Vids, p.Emails, tt.wantVids, tt.wantEmails)
			}
			for i := range tt.wantVids {
				if p.Vids[i] != tt.wantVids[i] {
					t.Errorf("Vids[%d] = %q, want %q", i, p.Vids[i], tt.wantVids[i])
				}
			}
			for i := range tt.wantEmails {
				if p.Emails[i] != tt.wantEmails[i] {
					t.Errorf("Emails[%d] = %q, want %q", i, p.Emails[i], tt.wantEmails[i])
				}
			}
		})
	}
}

func TestMap_RemoveFromList_RequiresVids(t *testing.T) {
	desc := mustResolve(t, registry.ObjectContact, registry.ActionRemoveFromList)
	m := New(desc, []string{"list_id", "vids", "emails"}, Options{})

	_, err := m.Map(row(1, map[string]string{
		"list_id": "77",
		"vids":    "",
		"emails":  "a@example.com",
	}))

	var missing *MissingColumnError
	if !errors.As(err, &missing) {
		t.Fatalf("Map() error = %v, want MissingColumnError", err)
	}
	if missing.Column != "vids" {
		t.Errorf("Column = %q, want vids", missing.Column)
	}
}

func TestMap_DealCreate_RequiresOwner(t *testing.T) {
	desc := mustResolve(t, registry.ObjectDeal, registry.ActionCreate)
	m := New(desc, []string{"dealname", "hubspot_owner_id"}, Options{})

	p, err := m.Map(row(1, map[string]string{"dealname": "Big Deal", "hubspot_owner_id": "9"}))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	// hubspot_owner_id is a real deal property, not just a gate
	if p.Properties["hubspot_owner_id"] != "9" {
		t.Errorf("Properties[hubspot_owner_id] = %q", p.Properties["hubspot_owner_id"])
	}

	_, err = m.Map(row(2, map[string]string{"dealname": "No Owner", "hubspot_owner_id": ""}))
	var missing *MissingColumnError
	if !errors.As(err, &missing) || missing.Column != "hubspot_owner_id" {
		t.Errorf("Map() error = %v, want MissingColumnError for hubspot_owner_id", err)
	}
}

func TestMap_CompanyRemove(t *testing.T) {
	desc := mustResolve(t, registry.ObjectCompany, registry.ActionRemove)
	m := New(desc, []string{"company_id", "name"}, Options{})

	p, err := m.Map(row(1, map[string]string{"company_id": "555", "name": "ignored"}))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if p.ObjectID != "555" {
		t.Errorf("ObjectID = %q, want 555", p.ObjectID)
	}
	if p.Properties != nil {
		t.Errorf("archive payload must carry no properties, got %v", p.Properties)
	}
}

func TestMap_ListCreate_AlwaysStatic(t *testing.T) {
	desc := mustResolve(t, registry.ObjectList, registry.ActionCreate)
	m := New(desc, []string{"name", "dynamic"}, Options{})

	p, err := m.Map(row(1, map[string]string{"name": "My List", "dynamic": "true"}))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if p.Body["name"] != "My List" {
		t.Errorf("Body[name] = %v", p.Body["name"])
	}
	if p.Body["dynamic"] != false {
		t.Errorf("Body[dynamic] = %v, created lists are always static", p.Body["dynamic"])
	}
}

func TestMap_CustomListCreate_AlwaysManual(t *testing.T) {
	desc := mustResolve(t, registry.ObjectCustomList, registry.ActionCreate)
	m := New(desc, []string{"name", "object_type", "processing_type"}, Options{})

	p, err := m.Map(row(1, map[string]string{
		"name":            "VIPs",
		"object_type":     "0-1",
		"processing_type": "DYNAMIC",
	}))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if p.Body["processingType"] != "MANUAL" {
		t.Errorf("Body[processingType] = %v, want MANUAL regardless of input", p.Body["processingType"])
	}
	if p.Body["objectTypeId"] != "0-1" {
		t.Errorf("Body[objectTypeId] = %v", p.Body["objectTypeId"])
	}
}

func TestMap_CustomObjectCreate_TableNameFlag(t *testing.T) {
	desc := mustResolve(t, registry.ObjectCustomObject, registry.ActionCreate)

	t.Run("flag set, table name wins over column", func(t *testing.T) {
		m := New(desc, []string{"object_type", "sku"}, Options{
			TableName:          "machines",
			UseTableNameAsType: true,
		})

		p, err := m.Map(row(1, map[string]string{"object_type": "foo", "sku": "X1"}))
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		if p.Path != "crm/v3/objects/machines/batch/create" {
			t.Errorf("Path = %q, want table name as object type", p.Path)
		}
	})

	t.Run("flag set, object_type column optional", func(t *testing.T) {
		m := New(desc, []string{"sku"}, Options{
			TableName:          "machines",
			UseTableNameAsType: true,
		})

		p, err := m.Map(row(1, map[string]string{"sku": "X1"}))
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		if p.Path != "crm/v3/objects/machines/batch/create" {
			t.Errorf("Path = %q", p.Path)
		}
	})

	t.Run("flag unset, object_type required", func(t *testing.T) {
		m := New(desc, []string{"object_type", "sku"}, Options{TableName: "machines"})

		_, err := m.Map(row(1, map[string]string{"object_type": "", "sku": "X1"}))
		var missing *MissingColumnError
		if !errors.As(err, &missing) || missing.Column != "object_type" {
			t.Errorf("Map() error = %v, want MissingColumnError for object_type", err)
		}

		p, err := m.Map(row(2, map[string]string{"object_type": "2-123", "sku": "X1"}))
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		if p.Path != "crm/v3/objects/2-123/batch/create" {
			t.Errorf("Path = %q", p.Path)
		}
	})
}

func TestMap_LineItemCreate(t *testing.T) {
	desc := mustResolve(t, registry.ObjectLineItem, registry.ActionCreate)
	columns := []string{"name", "price", "quantity", "association_id", "association_category", "association_type_id"}
	m := New(desc, columns, Options{})

	values := map[string]string{
		"name":                 "Widget",
		"price":                "9.99",
		"quantity":             "3",
		"association_id":       "888",
		"association_category": "HUBSPOT_DEFINED",
		"association_type_id":  "20",
	}

	p, err := m.Map(row(1, values))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if len(p.Associations) != 1 {
		t.Fatalf("Associations = %v, want 1", p.Associations)
	}
	a := p.Associations[0]
	if a.ToID != "888" || a.Category != "HUBSPOT_DEFINED" || a.TypeID != 20 {
		t.Errorf("Association = %+v", a)
	}
	if _, ok := p.Properties["association_id"]; ok {
		t.Error("association columns must not leak into properties")
	}
	if p.Properties["price"] != "9.99" {
		t.Errorf("Properties[price] = %q", p.Properties["price"])
	}

	values["association_type_id"] = "twenty"
	_, err = m.Map(row(2, values))
	var rowErr *RowDataError
	if !errors.As(err, &rowErr) {
		t.Errorf("Map() error = %v, want RowDataError for non-integer type id", err)
	}
}

func TestMap_AssociationCreate_PathOnly(t *testing.T) {
	desc := mustResolve(t, registry.ObjectAssociation, registry.ActionCreate)
	columns := []string{"from_id", "to_id", "from_object_type", "to_object_type"}
	m := New(desc, columns, Options{})

	p, err := m.Map(row(1, map[string]string{
		"from_id":          "1",
		"to_id":            "2",
		"from_object_type": "contact",
		"to_object_type":   "company",
	}))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	want := "crm/v4/objects/contact/1/associations/default/company/2"
	if p.Path != want {
		t.Errorf("Path = %q, want %q", p.Path, want)
	}
	if p.Body != nil || p.Properties != nil {
		t.Error("association payload must carry no body or properties")
	}
}

func TestMap_SecondaryEmailUpdate(t *testing.T) {
	desc := mustResolve(t, registry.ObjectSecondaryEmail, registry.ActionUpdate)
	columns := []string{"vid", "secondary_email_old", "secondary_email"}
	m := New(desc, columns, Options{})

	p, err := m.Map(row(1, map[string]string{
		"vid":                 "42",
		"secondary_email_old": "old@example.com",
		"secondary_email":     "new@example.com",
	}))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	want := "contacts/v1/secondary-email/42/email/old@example.com/replace/new@example.com"
	if p.Path != want {
		t.Errorf("Path = %q, want %q", p.Path, want)
	}
}
