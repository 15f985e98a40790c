package tracker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const itemJSON = `{
  "id": 12164,
  "name": "Verify alarm",
  "description": "desc",
  "status": {"id": 1, "name": "New", "type": "ChoiceOptionReference"},
  "priority": {"id": 3, "name": "High"},
  "version": 4,
  "customFields": [
    {"fieldId": 1000, "name": "Severity", "type": "ChoiceFieldValue", "values": [{"id": 2, "name": "High", "type": "ChoiceOptionReference"}]},
    {"fieldId": 1005, "name": "Effort", "type": "IntegerFieldValue", "value": 3},
    {"fieldId": 1007, "name": "Budget", "type": "IntegerFieldValue", "value": null},
    {"fieldId": 1002, "name": "Test Steps", "type": "TableFieldValue", "values": [
      [{"fieldId": 1003, "type": "WikiTextFieldValue", "value": "Press button"},
       {"fieldId": 1004, "type": "WikiTextFieldValue", "value": "Alarm sounds"}]
    ]},
    {"fieldId": 1006, "name": "Due", "type": "DateFieldValue", "value": "2025-01-01T00:00:00"}
  ]
}`

func TestItem_DecodeVariants(t *testing.T) {
	var it Item
	require.NoError(t, json.Unmarshal([]byte(itemJSON), &it))

	assert.Equal(t, 12164, it.ID)
	require.NotNil(t, it.Status)
	assert.Equal(t, 1, it.Status.ID)
	require.Len(t, it.CustomFields, 5)

	choice, ok := it.CustomFields[0].(ChoiceFieldValue)
	require.True(t, ok, "got %T", it.CustomFields[0])
	assert.Equal(t, 2, choice.Values[0].ID)

	effort := it.CustomFields[1].(IntegerFieldValue)
	require.NotNil(t, effort.Value)
	assert.Equal(t, 3, *effort.Value)
	assert.Nil(t, it.CustomFields[2].(IntegerFieldValue).Value)

	table := it.CustomFields[3].(TableFieldValue)
	require.Len(t, table.Rows, 1)
	require.Len(t, table.Rows[0], 2)
	assert.Equal(t, "Alarm sounds", table.Rows[0][1].(TextFieldValue).Value)

	raw := it.CustomFields[4].(RawFieldValue)
	assert.Equal(t, "DateFieldValue", raw.Kind())
	assert.Equal(t, 1006, raw.FieldID())
}

func TestItem_RoundTripKeepsUnknownProperties(t *testing.T) {
	var it Item
	require.NoError(t, json.Unmarshal([]byte(itemJSON), &it))

	it.Status = &Reference{ID: 2, Type: TypeChoiceOptionRef}
	out, err := json.Marshal(&it)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, float64(4), back["version"])
	assert.Equal(t, map[string]any{"id": float64(3), "name": "High"}, back["priority"])
	assert.Equal(t, float64(2), back["status"].(map[string]any)["id"])

	var again Item
	require.NoError(t, json.Unmarshal(out, &again))
	require.Len(t, again.CustomFields, len(it.CustomFields))
	assert.Equal(t, it.CustomFields[:4], again.CustomFields[:4])
	assert.JSONEq(t,
		string(it.CustomFields[4].(RawFieldValue).Raw),
		string(again.CustomFields[4].(RawFieldValue).Raw))
}

func TestItem_SetFieldValue(t *testing.T) {
	it := Item{Name: "tc"}
	steps := TableFieldValue{FieldMeta: FieldMeta{ID: 1002}}
	it.SetFieldValue(steps)
	require.Len(t, it.CustomFields, 1)

	steps.Rows = [][]FieldValue{{NewWikiText(1003, "a"), NewWikiText(1004, "b")}}
	it.SetFieldValue(steps)
	require.Len(t, it.CustomFields, 1, "same field id replaces")

	got, ok := it.FieldValue(1002)
	require.True(t, ok)
	assert.Len(t, got.(TableFieldValue).Rows, 1)

	_, ok = it.FieldValue(9)
	assert.False(t, ok)
}

func TestFieldValues_Marshal(t *testing.T) {
	values := FieldValues{
		ChoiceFieldValue{FieldMeta: FieldMeta{ID: 1, Name: "Owner"}, Values: []Reference{UserReference(7)}},
		IntegerFieldValue{FieldMeta: FieldMeta{ID: 2}, Value: IntPtr(5)},
		TableFieldValue{FieldMeta: FieldMeta{ID: 3}, Rows: [][]FieldValue{{NewWikiText(4, "x")}}},
	}
	out, err := json.Marshal(values)
	require.NoError(t, err)
	assert.JSONEq(t, `[
	  {"fieldId":1,"name":"Owner","type":"ChoiceFieldValue","values":[{"id":7,"type":"UserReference"}]},
	  {"fieldId":2,"type":"IntegerFieldValue","value":5},
	  {"fieldId":3,"type":"TableFieldValue","values":[[{"fieldId":4,"type":"WikiTextFieldValue","value":"x"}]]}
	]`, string(out))
}

func TestDecodeField_Malformed(t *testing.T) {
	_, err := DecodeField([]byte(`{"id":1,"type":"OptionChoiceField","options":"nope"}`))
	assert.Error(t, err)

	_, err = DecodeField([]byte(`not json`))
	assert.Error(t, err)
}

func TestItemFields_Decode(t *testing.T) {
	var f ItemFields
	require.NoError(t, json.Unmarshal([]byte(`{
	  "editableFields": [{"fieldId": 1, "name": "Severity", "type": "ChoiceFieldValue", "values": []}],
	  "readOnlyFields": [{"fieldId": 0, "name": "ID", "type": "IntegerFieldValue", "value": 12}]
	}`), &f))
	require.Len(t, f.Editable, 1)
	require.Len(t, f.ReadOnly, 1)
	assert.Equal(t, "Severity", f.Editable[0].FieldName())
}
