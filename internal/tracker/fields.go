package tracker

import (
	"encoding/json"
	"fmt"
)

// Wire discriminators of field values.
const (
	KindChoiceValue   = "ChoiceFieldValue"
	KindIntegerValue  = "IntegerFieldValue"
	KindTableValue    = "TableFieldValue"
	KindWikiTextValue = "WikiTextFieldValue"
	KindTextValue     = "TextFieldValue"
)

// FieldValue is the value of one field on an item. The set of implementations
// is closed: ChoiceFieldValue, IntegerFieldValue, TableFieldValue,
// TextFieldValue and RawFieldValue.
type FieldValue interface {
	FieldID() int
	FieldName() string
	Kind() string
	fieldValue()
}

// FieldMeta identifies the field a value belongs to.
type FieldMeta struct {
	ID   int    `json:"fieldId"`
	Name string `json:"name,omitempty"`
}

func (m FieldMeta) FieldID() int      { return m.ID }
func (m FieldMeta) FieldName() string { return m.Name }

// ChoiceFieldValue holds selected options or users.
type ChoiceFieldValue struct {
	FieldMeta
	Values []Reference
}

// IntegerFieldValue holds an integer; nil means unset.
type IntegerFieldValue struct {
	FieldMeta
	Value *int
}

// TableFieldValue holds table rows; each row is one value per column.
type TableFieldValue struct {
	FieldMeta
	Rows [][]FieldValue
}

// TextFieldValue holds wiki or plain text. An empty TextKind marshals as wiki text.
type TextFieldValue struct {
	FieldMeta
	TextKind string
	Value    string
}

// RawFieldValue is any other kind of value, kept verbatim.
type RawFieldValue struct {
	FieldMeta
	TypeName string
	Raw      json.RawMessage
}

func (ChoiceFieldValue) fieldValue()  {}
func (IntegerFieldValue) fieldValue() {}
func (TableFieldValue) fieldValue()   {}
func (TextFieldValue) fieldValue()    {}
func (RawFieldValue) fieldValue()     {}

func (ChoiceFieldValue) Kind() string  { return KindChoiceValue }
func (IntegerFieldValue) Kind() string { return KindIntegerValue }
func (TableFieldValue) Kind() string   { return KindTableValue }
func (v TextFieldValue) Kind() string {
	if v.TextKind == "" {
		return KindWikiTextValue
	}
	return v.TextKind
}
func (v RawFieldValue) Kind() string { return v.TypeName }

// NewWikiText returns a wiki text cell for a table column.
func NewWikiText(fieldID int, value string) TextFieldValue {
	return TextFieldValue{FieldMeta: FieldMeta{ID: fieldID}, TextKind: KindWikiTextValue, Value: value}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

type fieldValueWire struct {
	FieldID int             `json:"fieldId"`
	Name    string          `json:"name,omitempty"`
	Type    string          `json:"type"`
	Values  json.RawMessage `json:"values,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v ChoiceFieldValue) MarshalJSON() ([]byte, error) {
	values := v.Values
	if values == nil {
		values = []Reference{}
	}
	return json.Marshal(struct {
		FieldID int         `json:"fieldId"`
		Name    string      `json:"name,omitempty"`
		Type    string      `json:"type"`
		Values  []Reference `json:"values"`
	}{v.ID, v.Name, KindChoiceValue, values})
}

// MarshalJSON implements json.Marshaler.
func (v IntegerFieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		FieldID int    `json:"fieldId"`
		Name    string `json:"name,omitempty"`
		Type    string `json:"type"`
		Value   *int   `json:"value"`
	}{v.ID, v.Name, KindIntegerValue, v.Value})
}

// MarshalJSON implements json.Marshaler.
func (v TableFieldValue) MarshalJSON() ([]byte, error) {
	rows := make([]FieldValues, len(v.Rows))
	for i, r := range v.Rows {
		rows[i] = FieldValues(r)
	}
	return json.Marshal(struct {
		FieldID int           `json:"fieldId"`
		Name    string        `json:"name,omitempty"`
		Type    string        `json:"type"`
		Values  []FieldValues `json:"values"`
	}{v.ID, v.Name, KindTableValue, rows})
}

// MarshalJSON implements json.Marshaler.
func (v TextFieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		FieldID int    `json:"fieldId"`
		Name    string `json:"name,omitempty"`
		Type    string `json:"type"`
		Value   string `json:"value"`
	}{v.ID, v.Name, v.Kind(), v.Value})
}

// MarshalJSON implements json.Marshaler.
func (v RawFieldValue) MarshalJSON() ([]byte, error) {
	if len(v.Raw) > 0 {
		return v.Raw, nil
	}
	return json.Marshal(struct {
		FieldID int    `json:"fieldId"`
		Name    string `json:"name,omitempty"`
		Type    string `json:"type"`
	}{v.ID, v.Name, v.TypeName})
}

// FieldValues is a list of field values with polymorphic JSON decoding.
type FieldValues []FieldValue

// MarshalJSON implements json.Marshaler.
func (fv FieldValues) MarshalJSON() ([]byte, error) {
	if fv == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]FieldValue(fv))
}

// UnmarshalJSON implements json.Unmarshaler.
func (fv *FieldValues) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(FieldValues, 0, len(raws))
	for i, raw := range raws {
		v, err := decodeFieldValue(raw)
		if err != nil {
			return fmt.Errorf("field value %d: %w", i, err)
		}
		out = append(out, v)
	}
	*fv = out
	return nil
}

func decodeFieldValue(raw json.RawMessage) (FieldValue, error) {
	var w fieldValueWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	meta := FieldMeta{ID: w.FieldID, Name: w.Name}

	switch w.Type {
	case KindChoiceValue:
		v := ChoiceFieldValue{FieldMeta: meta}
		if len(w.Values) > 0 {
			if err := json.Unmarshal(w.Values, &v.Values); err != nil {
				return nil, fmt.Errorf("%s %q: %w", w.Type, w.Name, err)
			}
		}
		return v, nil
	case KindIntegerValue:
		v := IntegerFieldValue{FieldMeta: meta}
		if len(w.Value) > 0 && string(w.Value) != "null" {
			var n int
			if err := json.Unmarshal(w.Value, &n); err != nil {
				return nil, fmt.Errorf("%s %q: %w", w.Type, w.Name, err)
			}
			v.Value = &n
		}
		return v, nil
	case KindTableValue:
		v := TableFieldValue{FieldMeta: meta}
		if len(w.Values) > 0 {
			var rows []FieldValues
			if err := json.Unmarshal(w.Values, &rows); err != nil {
				return nil, fmt.Errorf("%s %q: %w", w.Type, w.Name, err)
			}
			v.Rows = make([][]FieldValue, len(rows))
			for i, r := range rows {
				v.Rows[i] = []FieldValue(r)
			}
		}
		return v, nil
	case KindWikiTextValue, KindTextValue:
		v := TextFieldValue{FieldMeta: meta, TextKind: w.Type}
		if len(w.Value) > 0 && string(w.Value) != "null" {
			if err := json.Unmarshal(w.Value, &v.Value); err != nil {
				return nil, fmt.Errorf("%s %q: %w", w.Type, w.Name, err)
			}
		}
		return v, nil
	default:
		return RawFieldValue{FieldMeta: meta, TypeName: w.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// Field definition discriminators.
const (
	KindOptionChoiceField = "OptionChoiceField"
	KindUserChoiceField   = "UserChoiceField"
	KindIntegerField      = "IntegerField"
	KindTableField        = "TableField"
)

// FieldRef is a field as listed on a tracker.
type FieldRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// FieldInfo is the common part of every field definition.
type FieldInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Field is a tracker field definition. The set of implementations is closed:
// ChoiceField, UserField, IntegerField, TableField and OtherField.
type Field interface {
	Info() FieldInfo
	field()
}

// ChoiceField is an option choice field.
type ChoiceField struct {
	FieldInfo
	Options []Reference `json:"options"`
}

// UserField is a user choice field.
type UserField struct {
	FieldInfo
}

// IntegerField is an integer field.
type IntegerField struct {
	FieldInfo
}

// TableField is a table field with ordered columns.
type TableField struct {
	FieldInfo
	Columns []FieldInfo `json:"columns"`
}

// Column returns the id of the column with the given name.
func (t TableField) Column(name string) (int, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c.ID, true
		}
	}
	return 0, false
}

// OtherField is any other field definition.
type OtherField struct {
	FieldInfo
}

func (f FieldInfo) Info() FieldInfo { return f }

func (ChoiceField) field()  {}
func (UserField) field()    {}
func (IntegerField) field() {}
func (TableField) field()   {}
func (OtherField) field()   {}

// DecodeField decodes a field definition by its type discriminator.
func DecodeField(data []byte) (Field, error) {
	var info FieldInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	switch info.Type {
	case KindOptionChoiceField:
		var f ChoiceField
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%s %q: %w", info.Type, info.Name, err)
		}
		return f, nil
	case KindUserChoiceField:
		return UserField{FieldInfo: info}, nil
	case KindIntegerField:
		return IntegerField{FieldInfo: info}, nil
	case KindTableField:
		var f TableField
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%s %q: %w", info.Type, info.Name, err)
		}
		return f, nil
	default:
		return OtherField{FieldInfo: info}, nil
	}
}
