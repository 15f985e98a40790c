// Package parse turns synthesized YAML text into typed records.
//
// Every decoder expects a top-level sequence of mappings. A document that
// violates the shape yields a *FormatError and no records; nothing is
// partially accepted.
package parse

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FormatError reports a synthesized document that does not match the expected
// record shape. Index is the offending record, or -1 for the document itself.
type FormatError struct {
	Index   int
	Missing []string
	Reason  string
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("invalid response format")
	if e.Index >= 0 {
		fmt.Fprintf(&b, ": record %d", e.Index)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing keys %s", strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// Records decodes raw as a sequence of mappings, each holding every key in
// required. Keys beyond required are kept.
func Records(raw string, required ...string) ([]map[string]any, error) {
	var doc any
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &FormatError{Index: -1, Reason: err.Error()}
	}

	list, ok := doc.([]any)
	if !ok {
		return nil, &FormatError{Index: -1, Reason: "expected a top-level list"}
	}

	out := make([]map[string]any, 0, len(list))
	for i, el := range list {
		rec, ok := el.(map[string]any)
		if !ok {
			return nil, &FormatError{Index: i, Reason: fmt.Sprintf("expected a mapping, got %T", el)}
		}
		var missing []string
		for _, key := range required {
			if _, ok := rec[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return nil, &FormatError{Index: i, Missing: missing}
		}
		out = append(out, rec)
	}
	return out, nil
}

// GeneratedItem is one synthesized tracker item.
type GeneratedItem struct {
	Name        string
	Description string
	// ParentID is the upstream item the record traces to, if the document named one.
	ParentID *int
}

// TestStep is one synthesized test step.
type TestStep struct {
	Action         string
	ExpectedResult string
}

// ExternalPart is one synthesized PLM part and the requirement it realizes.
type ExternalPart struct {
	ID              string
	PartName        string
	RequirementName string
}

// Items decodes {name, description, id?} records. Name and description must be
// non-empty; id, when present and not null, must be an integer.
func Items(raw string) ([]GeneratedItem, error) {
	recs, err := Records(raw, "name", "description")
	if err != nil {
		return nil, err
	}

	items := make([]GeneratedItem, 0, len(recs))
	for i, rec := range recs {
		var it GeneratedItem
		if it.Name, err = text(rec, "name", i); err != nil {
			return nil, err
		}
		if it.Description, err = text(rec, "description", i); err != nil {
			return nil, err
		}
		if v, ok := rec["id"]; ok && v != nil {
			id, err := integer(v)
			if err != nil {
				return nil, &FormatError{Index: i, Reason: "id: " + err.Error()}
			}
			it.ParentID = &id
		}
		items = append(items, it)
	}
	return items, nil
}

// TestSteps decodes {action, expected_result} records.
func TestSteps(raw string) ([]TestStep, error) {
	recs, err := Records(raw, "action", "expected_result")
	if err != nil {
		return nil, err
	}

	steps := make([]TestStep, 0, len(recs))
	for i, rec := range recs {
		var s TestStep
		if s.Action, err = text(rec, "action", i); err != nil {
			return nil, err
		}
		if s.ExpectedResult, err = text(rec, "expected_result", i); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// Parts decodes {id, part_name, requirement_name} records.
func Parts(raw string) ([]ExternalPart, error) {
	recs, err := Records(raw, "id", "part_name", "requirement_name")
	if err != nil {
		return nil, err
	}

	parts := make([]ExternalPart, 0, len(recs))
	for i, rec := range recs {
		var p ExternalPart
		if p.ID, err = text(rec, "id", i); err != nil {
			return nil, err
		}
		if p.PartName, err = text(rec, "part_name", i); err != nil {
			return nil, err
		}
		if p.RequirementName, err = text(rec, "requirement_name", i); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// text reads a non-empty scalar as a string. Numeric and boolean scalars are
// formatted since the model sometimes leaves short names unquoted.
func text(rec map[string]any, key string, index int) (string, error) {
	var s string
	switch v := rec[key].(type) {
	case string:
		s = v
	case int, int64, uint64, float64, bool:
		s = fmt.Sprint(v)
	case nil:
	default:
		return "", &FormatError{Index: index, Reason: fmt.Sprintf("%s: expected a scalar, got %T", key, v)}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &FormatError{Index: index, Reason: key + " is empty"}
	}
	return s, nil
}

func integer(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("%d out of range", n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}
