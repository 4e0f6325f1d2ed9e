// Package registry provides the static catalog that maps a configured
// (object, action) pair to the endpoint descriptor driving the rest of the
// pipeline: required columns, batching limits, payload shape, and the
// HubSpot API method/path.
package registry

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOperation is returned when an (object, action) pair is not
// part of the catalog.
var ErrUnsupportedOperation = errors.New("unsupported object/action combination")

// Object identifies a HubSpot CRM entity category.
type Object string

const (
	ObjectContact        Object = "contact"
	ObjectCompany        Object = "company"
	ObjectDeal           Object = "deal"
	ObjectList           Object = "list"
	ObjectCustomList     Object = "custom_list"
	ObjectLineItem       Object = "line_item"
	ObjectAssociation    Object = "association"
	ObjectSecondaryEmail Object = "secondary_email"
	ObjectCustomObject   Object = "custom_object"
)

// Action identifies the operation kind applied to an object.
type Action string

const (
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionUpdateByEmail  Action = "update_by_email"
	ActionRemove         Action = "remove"
	ActionAddToList      Action = "add_to_list"
	ActionRemoveFromList Action = "remove_from_list"
	ActionAdd            Action = "add"
)

// BodyShape selects how the dispatcher assembles the request body for a batch.
type BodyShape string

const (
	// BodyObjectBatch wraps member property maps in a v3 {"inputs": [...]} envelope.
	BodyObjectBatch BodyShape = "object_batch"

	// BodyListMembership merges member vids/emails into a v1
	// {"vids": [...], "emails": [...]} body.
	BodyListMembership BodyShape = "list_membership"

	// BodySingle sends the payload body as-is (singleton endpoints).
	BodySingle BodyShape = "single"

	// BodyNone sends no request body (path-only endpoints).
	BodyNone BodyShape = "none"
)

// ResultMode selects how the dispatcher correlates a response back to rows.
type ResultMode string

const (
	// ResultBatchItems parses the v3 batch response and attributes per-item
	// errors to members by object ID.
	ResultBatchItems ResultMode = "batch_items"

	// ResultListMembership parses the v1 list membership response
	// (updated/discarded/invalidVids/invalidEmails).
	ResultListMembership ResultMode = "list_membership"

	// ResultAggregate applies the HTTP status to every member.
	ResultAggregate ResultMode = "aggregate"
)

// Descriptor describes one catalog endpoint. Descriptors are immutable;
// Resolve returns a copy.
type Descriptor struct {
	Object Object
	Action Action

	// Method and PathTemplate locate the HubSpot endpoint. PathTemplate
	// segments in braces ({vid}, {list_id}, ...) are filled from row values.
	Method       string
	PathTemplate string

	// RequiredColumns must all be present in the input table, and non-empty
	// per row, before a row is mapped.
	RequiredColumns []string

	// IdentifierColumns are consumed by the path or the object ID and are
	// excluded from the mapped property set.
	IdentifierColumns []string

	Batchable    bool
	MaxBatchSize int

	BodyShape  BodyShape
	ResultMode ResultMode
}

// Key returns the canonical "object.action" form used in logs and errors.
func (d Descriptor) Key() string {
	return fmt.Sprintf("%s.%s", d.Object, d.Action)
}

// catalog is the read-only (object, action) table, populated at init and
// never mutated during a run.
var catalog = map[Object]map[Action]Descriptor{
	ObjectContact: {
		ActionCreate: {
			Method:       "POST",
			PathTemplate: "crm/v3/objects/contacts/batch/create",
			Batchable:    true,
			MaxBatchSize: 100,
			BodyShape:    BodyObjectBatch,
			ResultMode:   ResultBatchItems,
		},
		ActionUpdate: {
			Method:            "POST",
			PathTemplate:      "crm/v3/objects/contacts/batch/update",
			RequiredColumns:   []string{"vid"},
			IdentifierColumns: []string{"vid"},
			Batchable:         true,
			MaxBatchSize:      100,
			BodyShape:         BodyObjectBatch,
			ResultMode:        ResultBatchItems,
		},
		ActionUpdateByEmail: {
			Method:            "POST",
			PathTemplate:      "contacts/v1/contact/email/{email}/profile",
			RequiredColumns:   []string{"email"},
			IdentifierColumns: []string{"email"},
			MaxBatchSize:      1,
			BodyShape:         BodySingle,
			ResultMode:        ResultAggregate,
		},
		ActionAddToList: {
			Method:            "POST",
			PathTemplate:      "contacts/v1/lists/{list_id}/add",
			RequiredColumns:   []string{"list_id"},
			IdentifierColumns: []string{"list_id", "vids", "emails"},
			Batchable:         true,
			MaxBatchSize:      500,
			BodyShape:         BodyListMembership,
			ResultMode:        ResultListMembership,
		},
		ActionRemoveFromList: {
			Method:            "POST",
			PathTemplate:      "contacts/v1/lists/{list_id}/remove",
			RequiredColumns:   []string{"list_id", "vids"},
			IdentifierColumns: []string{"list_id", "vids", "emails"},
			Batchable:         true,
			MaxBatchSize:      500,
			BodyShape:         BodyListMembership,
			ResultMode:        ResultListMembership,
		},
	},
	ObjectList: {
		ActionCreate: {
			Method:          "POST",
			PathTemplate:    "contacts/v1/lists",
			RequiredColumns: []string{"name"},
			MaxBatchSize:    1,
			BodyShape:       BodySingle,
			ResultMode:      ResultAggregate,
		},
	},
	ObjectCustomList: {
		ActionCreate: {
			Method:          "POST",
			PathTemplate:    "crm/v3/lists",
			RequiredColumns: []string{"name", "object_type"},
			MaxBatchSize:    1,
			BodyShape:       BodySingle,
			ResultMode:      ResultAggregate,
		},
	},
	ObjectCompany: {
		ActionCreate: {
			Method:       "POST",
			PathTemplate: "crm/v3/objects/companies/batch/create",
			Batchable:    true,
			MaxBatchSize: 100,
			BodyShape:    BodyObjectBatch,
			ResultMode:   ResultBatchItems,
		},
		ActionUpdate: {
			Method:            "POST",
			PathTemplate:      "crm/v3/objects/companies/batch/update",
			RequiredColumns:   []string{"company_id"},
			IdentifierColumns: []string{"company_id"},
			Batchable:         true,
			MaxBatchSize:      100,
			BodyShape:         BodyObjectBatch,
			ResultMode:        ResultBatchItems,
		},
		ActionRemove: {
			Method:            "POST",
			PathTemplate:      "crm/v3/objects/companies/batch/archive",
			RequiredColumns:   []string{"company_id"},
			IdentifierColumns: []string{"company_id"},
			Batchable:         true,
			MaxBatchSize:      100,
			BodyShape:         BodyObjectBatch,
			ResultMode:        ResultBatchItems,
		},
	},
	ObjectDeal: {
		ActionCreate: {
			Method:          "POST",
			PathTemplate:    "crm/v3/objects/deals/batch/create",
			RequiredColumns: []string{"hubspot_owner_id"},
			Batchable:       true,
			MaxBatchSize:    100,
			BodyShape:       BodyObjectBatch,
			ResultMode:      ResultBatchItems,
		},
		ActionUpdate: {
			Method:            "POST",
			PathTemplate:      "crm/v3/objects/deals/batch/update",
			RequiredColumns:   []string{"deal_id"},
			IdentifierColumns: []string{"deal_id"},
			Batchable:         true,
			MaxBatchSize:      100,
			BodyShape:         BodyObjectBatch,
			ResultMode:        ResultBatchItems,
		},
		ActionRemove: {
			Method:            "POST",
			PathTemplate:      "crm/v3/objects/deals/batch/archive",
			RequiredColumns:   []string{"deal_id"},
			IdentifierColumns: []string{"deal_id"},
			Batchable:         true,
			MaxBatchSize:      100,
			BodyShape:         BodyObjectBatch,
			ResultMode:        ResultBatchItems,
		},
	},
	ObjectLineItem: {
		ActionCreate: {
			Method:       "POST",
			PathTemplate: "crm/v3/objects/line_items/batch/create",
			RequiredColumns: []string{
				"name", "price", "quantity",
				"association_id", "association_category", "association_type_id",
			},
			IdentifierColumns: []string{
				"association_id", "association_category", "association_type_id",
			},
			Batchable:    true,
			MaxBatchSize: 100,
			BodyShape:    BodyObjectBatch,
			ResultMode:   ResultBatchItems,
		},
		ActionRemove: {
			Method:            "POST",
			PathTemplate:      "crm/v3/objects/line_items/batch/archive",
			RequiredColumns:   []string{"line_item_id"},
			IdentifierColumns: []string{"line_item_id"},
			Batchable:         true,
			MaxBatchSize:      100,
			BodyShape:         BodyObjectBatch,
			ResultMode:        ResultBatchItems,
		},
	},
	ObjectAssociation: {
		ActionCreate: {
			Method:            "PUT",
			PathTemplate:      "crm/v4/objects/{from_object_type}/{from_id}/associations/default/{to_object_type}/{to_id}",
			RequiredColumns:   []string{"from_id", "to_id", "from_object_type", "to_object_type"},
			IdentifierColumns: []string{"from_id", "to_id", "from_object_type", "to_object_type"},
			MaxBatchSize:      1,
			BodyShape:         BodyNone,
			ResultMode:        ResultAggregate,
		},
		ActionRemove: {
			Method:            "DELETE",
			PathTemplate:      "crm/v4/objects/{from_object_type}/{from_id}/associations/{to_object_type}/{to_id}",
			RequiredColumns:   []string{"from_id", "to_id", "from_object_type", "to_object_type"},
			IdentifierColumns: []string{"from_id", "to_id", "from_object_type", "to_object_type"},
			MaxBatchSize:      1,
			BodyShape:         BodyNone,
			ResultMode:        ResultAggregate,
		},
	},
	ObjectSecondaryEmail: {
		ActionAdd: {
			Method:            "PUT",
			PathTemplate:      "contacts/v1/secondary-email/{vid}/email/{secondary_email}",
			RequiredColumns:   []string{"vid", "secondary_email"},
			IdentifierColumns: []string{"vid", "secondary_email"},
			MaxBatchSize:      1,
			BodyShape:         BodyNone,
			ResultMode:        ResultAggregate,
		},
		ActionUpdate: {
			Method:            "PUT",
			PathTemplate:      "contacts/v1/secondary-email/{vid}/email/{secondary_email_old}/replace/{secondary_email}",
			RequiredColumns:   []string{"vid", "secondary_email_old", "secondary_email"},
			IdentifierColumns: []string{"vid", "secondary_email_old", "secondary_email"},
			MaxBatchSize:      1,
			BodyShape:         BodyNone,
			ResultMode:        ResultAggregate,
		},
		ActionRemove: {
			Method:            "DELETE",
			PathTemplate:      "contacts/v1/secondary-email/{vid}/email/{secondary_email}",
			RequiredColumns:   []string{"vid", "secondary_email"},
			IdentifierColumns: []string{"vid", "secondary_email"},
			MaxBatchSize:      1,
			BodyShape:         BodyNone,
			ResultMode:        ResultAggregate,
		},
	},
	ObjectCustomObject: {
		ActionCreate: {
			Method:            "POST",
			PathTemplate:      "crm/v3/objects/{object_type}/batch/create",
			RequiredColumns:   []string{"object_type"},
			IdentifierColumns: []string{"object_type"},
			Batchable:         true,
			MaxBatchSize:      100,
			BodyShape:         BodyObjectBatch,
			ResultMode:        ResultBatchItems,
		},
	},
}

// Resolve returns the descriptor for an (object, action) pair.
func Resolve(object Object, action Action) (Descriptor, error) {
	actions, ok := catalog[object]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: object %q", ErrUnsupportedOperation, object)
	}

	desc, ok := actions[action]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s.%s", ErrUnsupportedOperation, object, action)
	}

	desc.Object = object
	desc.Action = action
	return desc, nil
}

// legacyEndpoints maps configuration endpoint names from older writer
// versions to their (object, action) pair.
var legacyEndpoints = map[string][2]string{
	"create_contact":           {"contact", "create"},
	"contact_create":           {"contact", "create"},
	"update_contact":           {"contact", "update"},
	"contact_update":           {"contact", "update"},
	"update_contact_by_email":  {"contact", "update_by_email"},
	"contact_update_by_email":  {"contact", "update_by_email"},
	"add_contact_to_list":      {"contact", "add_to_list"},
	"contact_add_to_list":      {"contact", "add_to_list"},
	"remove_contact_from_list": {"contact", "remove_from_list"},
	"contact_remove_from_list": {"contact", "remove_from_list"},
	"create_list":              {"list", "create"},
	"list_create":              {"list", "create"},
	"create_company":           {"company", "create"},
	"company_create":           {"company", "create"},
	"update_company":           {"company", "update"},
	"company_update":           {"company", "update"},
	"remove_company":           {"company", "remove"},
	"company_remove":           {"company", "remove"},
}

// NormalizeLegacy translates a legacy endpoint name to its (object, action)
// pair. The second return value reports whether the name was recognized.
func NormalizeLegacy(endpoint string) (Object, Action, bool) {
	pair, ok := legacyEndpoints[endpoint]
	if !ok {
		return "", "", false
	}
	return Object(pair[0]), Action(pair[1]), true
}
