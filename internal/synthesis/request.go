package synthesis

import (
	"errors"
	"fmt"
)

// Kind selects the instruction template for a Request.
type Kind string

const (
	KindTopLevel             Kind = "top_level"
	KindDownstream           Kind = "downstream"
	KindComplianceTopLevel   Kind = "compliance_top_level"
	KindComplianceDownstream Kind = "compliance_downstream"
	KindTestSteps            Kind = "test_steps"
	KindParts                Kind = "parts"
)

// Category narrows top-level requirements to hardware, software or a mix.
type Category string

const (
	CategoryNone     Category = ""
	CategoryHardware Category = "hardware"
	CategorySoftware Category = "software"
	CategoryMixed    Category = "mixed"
)

// ParseCategory maps user input onto a Category. "both" is accepted for mixed.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "", "none":
		return CategoryNone, nil
	case "hardware":
		return CategoryHardware, nil
	case "software":
		return CategorySoftware, nil
	case "mixed", "both":
		return CategoryMixed, nil
	default:
		return CategoryNone, fmt.Errorf("unknown category %q (want hardware, software, mixed or none)", s)
	}
}

// Upstream is one row of the upstream table a downstream request traces to.
type Upstream struct {
	ID   int
	Name string
}

// Request describes one synthesis call. Which fields matter depends on Kind.
type Request struct {
	Kind    Kind
	Product string

	TrackerName string
	TrackerType string

	UpstreamTrackerName string
	UpstreamTrackerType string

	// Count is the number of items to create, per upstream row for downstream kinds.
	Count    int
	Category Category
	Rules    string

	// Upstream rows in the order they are listed in the instruction.
	Upstream []Upstream

	TestCaseName     string
	RequirementNames []string
}

// Validate reports the first missing field for the request's kind.
func (r Request) Validate() error {
	switch r.Kind {
	case KindTopLevel:
		if r.TrackerName == "" {
			return errors.New("tracker name required")
		}
		if r.Count < 1 {
			return fmt.Errorf("count must be >= 1, got %d", r.Count)
		}
	case KindDownstream:
		if r.TrackerName == "" || r.UpstreamTrackerName == "" {
			return errors.New("tracker and upstream tracker names required")
		}
		if r.Count < 1 {
			return fmt.Errorf("count must be >= 1, got %d", r.Count)
		}
		if len(r.Upstream) == 0 {
			return errors.New("upstream table is empty")
		}
	case KindComplianceTopLevel:
		if r.TrackerName == "" {
			return errors.New("tracker name required")
		}
	case KindComplianceDownstream:
		if r.TrackerName == "" || r.UpstreamTrackerName == "" {
			return errors.New("tracker and compliance tracker names required")
		}
		if len(r.Upstream) == 0 {
			return errors.New("upstream table is empty")
		}
	case KindTestSteps:
		if r.TestCaseName == "" {
			return errors.New("test case name required")
		}
	case KindParts:
		if len(r.RequirementNames) == 0 {
			return errors.New("requirement names required")
		}
	default:
		return fmt.Errorf("unknown request kind %q", r.Kind)
	}
	return nil
}
