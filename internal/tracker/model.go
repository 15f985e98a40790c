package tracker

import (
	"encoding/json"
	"fmt"
)

// Reference type discriminators used by the server.
const (
	TypeTrackerItemReference = "TrackerItemReference"
	TypeChoiceOptionRef      = "ChoiceOptionReference"
	TypeUserReference        = "UserReference"
)

// Reference points at another server object (item, option, user, status).
type Reference struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// TrackerItemReference is the trace-link form used in Subjects and test runs.
func TrackerItemReference(id int) Reference {
	return Reference{ID: id, Type: TypeTrackerItemReference}
}

// ChoiceOptionReference selects a choice option or a status.
func ChoiceOptionReference(id int) Reference {
	return Reference{ID: id, Type: TypeChoiceOptionRef}
}

// UserReference selects a project member.
func UserReference(id int) Reference {
	return Reference{ID: id, Type: TypeUserReference}
}

// Project is a tracker project.
type Project struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TrackerRef is a tracker as listed under a project.
type TrackerRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TypeRef names a tracker type, e.g. "Requirement" or "Testcase".
type TypeRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Tracker is the full tracker description.
type Tracker struct {
	ID   int      `json:"id"`
	Name string   `json:"name"`
	Type *TypeRef `json:"type,omitempty"`
}

// TypeName returns the tracker type name, or "" when the server omitted it.
func (t *Tracker) TypeName() string {
	if t == nil || t.Type == nil {
		return ""
	}
	return t.Type.Name
}

// ItemRef is one element of an item page.
type ItemRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ItemPage is one page of a tracker's items. Page is 1-based.
type ItemPage struct {
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Total    int       `json:"total"`
	ItemRefs []ItemRef `json:"itemRefs"`
}

// Member is a project member.
type Member struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type memberPage struct {
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
	Total    int      `json:"total"`
	Members  []Member `json:"members"`
}

// Transition is a legal status change on a tracker. From is nil for the
// initial transition of new items.
type Transition struct {
	ID   int        `json:"id"`
	Name string     `json:"name,omitempty"`
	From *Reference `json:"fromStatus,omitempty"`
	To   *Reference `json:"toStatus,omitempty"`
}

// Item is a tracker item.
//
// Properties the model does not name are kept and written back unchanged, so a
// read-modify-write through UpdateItem does not drop server data.
type Item struct {
	ID                int         `json:"id,omitempty"`
	Name              string      `json:"name"`
	Description       string      `json:"description,omitempty"`
	DescriptionFormat string      `json:"descriptionFormat,omitempty"`
	Status            *Reference  `json:"status,omitempty"`
	Subjects          []Reference `json:"subjects,omitempty"`
	CustomFields      FieldValues `json:"customFields,omitempty"`

	extra map[string]json.RawMessage
}

type itemAlias Item

var itemKeys = []string{"id", "name", "description", "descriptionFormat", "status", "subjects", "customFields"}

// UnmarshalJSON implements json.Unmarshaler.
func (it *Item) UnmarshalJSON(data []byte) error {
	var a itemAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range itemKeys {
		delete(all, k)
	}
	*it = Item(a)
	if len(all) > 0 {
		it.extra = all
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (it Item) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(itemAlias(it))
	if err != nil {
		return nil, err
	}
	if len(it.extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(it.extra)+len(itemKeys))
	for k, v := range it.extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// FieldValue returns the custom field value with the given field id.
func (it *Item) FieldValue(fieldID int) (FieldValue, bool) {
	for _, v := range it.CustomFields {
		if v.FieldID() == fieldID {
			return v, true
		}
	}
	return nil, false
}

// SetFieldValue replaces the custom field with the same field id, or appends it.
func (it *Item) SetFieldValue(v FieldValue) {
	for i, cur := range it.CustomFields {
		if cur.FieldID() == v.FieldID() {
			it.CustomFields[i] = v
			return
		}
	}
	it.CustomFields = append(it.CustomFields, v)
}

// ItemFields are the editable and read-only field values of one item.
type ItemFields struct {
	Editable FieldValues `json:"editableFields"`
	ReadOnly FieldValues `json:"readOnlyFields"`
}

type updateFieldsRequest struct {
	FieldValues FieldValues `json:"fieldValues"`
}

// TestRunRequest creates one test run covering the given test cases.
type TestRunRequest struct {
	TestCaseIDs              []Reference `json:"testCaseIds"`
	TestCaseRefs             []Reference `json:"testCaseRefs"`
	RunOnlyAcceptedTestCases bool        `json:"runOnlyAcceptedTestCases"`
}

// NewTestRunRequest builds a request over the given test case item ids.
func NewTestRunRequest(testCaseIDs []int) TestRunRequest {
	refs := make([]Reference, len(testCaseIDs))
	for i, id := range testCaseIDs {
		refs[i] = TrackerItemReference(id)
	}
	return TestRunRequest{
		TestCaseIDs:  refs,
		TestCaseRefs: append([]Reference(nil), refs...),
	}
}

// Test case results.
const (
	ResultPassed  = "PASSED"
	ResultFailed  = "FAILED"
	ResultBlocked = "BLOCKED"
)

// TestCaseResult sets the result of one test case in a run.
type TestCaseResult struct {
	Result            string    `json:"result"`
	TestCaseReference Reference `json:"testCaseReference"`
}

// TestRunResultRequest records results on an existing test run.
type TestRunResultRequest struct {
	ParentResultPropagation bool             `json:"parentResultPropagation"`
	UpdateRequestModels     []TestCaseResult `json:"updateRequestModels"`
}

func (r TestRunResultRequest) validate() error {
	for _, m := range r.UpdateRequestModels {
		switch m.Result {
		case ResultPassed, ResultFailed, ResultBlocked:
		default:
			return fmt.Errorf("unknown test result %q for test case %d", m.Result, m.TestCaseReference.ID)
		}
	}
	return nil
}
