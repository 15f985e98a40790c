package synthesis

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

const systemMessage = "You are a helpful assistant."

const outputContract = "Now generate the YAML for all entries. Please don't include any text other than the YAML."

var categoryClauses = map[Category]string{
	CategoryHardware: "The requirements should all be hardware requirements.",
	CategorySoftware: "The requirements should all be software requirements.",
	CategoryMixed:    "The requirements should be a mix of hardware and software requirements.",
}

var templateText = map[Kind]string{
	KindTopLevel: `You are tasked with creating {{ .Count }} {{ .TrackerName }} {{ .TrackerType }}s.

This data is for the product {{ .Product | quote }} and is intended to support ALM Demo Data.{{ with category .Category }} {{ . }}{{ end }} The new items should not be numbered in any way.

Provide a YAML object for each new {{ .TrackerType }} with:
- "name": the name of the new {{ .TrackerType }}
- "description": a realistically detailed explanation of the {{ .TrackerType }}. This should be formatted to make it look like a real {{ .TrackerType }}

Output example for one entry:
- name: "..."
  description: "..."
{{ with rules .Rules }}
Additional rules: {{ . }}
{{ end }}
{{ contract }}`,

	KindDownstream: `You are tasked with creating corresponding {{ .TrackerName | quote }} {{ .TrackerType }}s to the following {{ .UpstreamTrackerName | quote }} {{ .UpstreamTrackerType }}s:

{{ range .Upstream }}- id: {{ .ID }}, name: {{ .Name | oneline }}
{{ end }}
This data is for the product {{ .Product | quote }} and is intended to support ALM Demo Data.

For each {{ .UpstreamTrackerType }}, create {{ .Count }} corresponding {{ .TrackerName | quote }} {{ .TrackerType }} with the following criteria:
- The new items should have a unique name that is different from the {{ .UpstreamTrackerType }} name.
- DO NOT use anything similar to {{ .TrackerName | quote }} or any numbers in the new {{ .TrackerType }} names.
- The new name should be creative and relevant to the {{ .UpstreamTrackerType }} but distinct.
- Provide a YAML object for each new {{ .TrackerType }} with:
  - "id": matching the provided id.
  - "name": a unique name for the new {{ .TrackerType }}.
  - "description": a realistically detailed explanation of the {{ .TrackerType }}. This should be formatted to make it look like a real {{ .TrackerType }}

Output example for one entry:
- id: ...
  name: "..."
  description: "..."
{{ with rules .Rules }}
Additional rules: {{ . }}
{{ end }}
{{ contract }}`,

	KindComplianceTopLevel: `You are tasked with creating compliance requirements for {{ .TrackerName }}.

This data is intended to support ALM Demo Data. It should include all standards within {{ .TrackerName }}.

Provide a YAML object for each new regulatory {{ .TrackerType }} with:
- "name": the name of the new {{ .TrackerType }}
- "description": a detailed description of the regulatory {{ .TrackerType }}

Output example for one entry:
- name: "..."
  description: "..."

{{ contract }}`,

	KindComplianceDownstream: `For each of these Regulatory Standard Entries from {{ .UpstreamTrackerName }}:

{{ range .Upstream }}- id: {{ .ID }}, name: {{ .Name | oneline }}
{{ end }}
You are tasked with creating {{ .Count }} related {{ .TrackerName }} {{ .TrackerType }}s.

This data should be roughly related to a {{ .Product }} and is intended to support ALM Demo Data.
The new {{ .TrackerType }}s should not have the same exact name as their parent or include {{ .TrackerName | quote }} or the Regulatory Standard Entry name.

Provide {{ .Count }} YAML objects for each of the regulatory standard entries. Each YAML object should have the following:
- "id": matching the provided id.
- "name": a brief summary of the new {{ .TrackerType }}, without the tracker name, tracker type or upstream standard name
- "description": a detailed description of the {{ .TrackerType }}

Each parent entry should result in multiple specific requirements that are actionable and detailed. Ensure that the names and descriptions are varied and related to the product.

Output example for one entry:
- id: ...
  name: "..."
  description: "..."

{{ contract }}`,

	KindTestSteps: `You are tasked with creating 2 test steps for a test case called {{ .TestCaseName }}.
This is to support an ALM demo for a {{ .Product }}.

Provide a YAML object for each test step with:
- "action": The action the tester should take for this test
- "expected_result": The expected result for this action

Output example for one entry:
- action: "..."
  expected_result: "..."

Now generate the YAML. Please don't include any text other than the YAML.`,

	KindParts: `You are tasked with creating corresponding PLM Windchill Parts for the following requirements:

{{ range .RequirementNames }}- name: {{ . | oneline }}
{{ end }}
This data is for the product {{ .Product | quote }} and is intended to support ALM Demo Data.

For each requirement, create a corresponding Windchill Part with the following criteria:
- The new items should have a unique name that is different from the requirement name.
- The parts should be realistic and detailed
- Provide a YAML object for each new Windchill Part with:
  - "id": abbreviated version of the name, ideally at least 5 letters
  - "part_name": a name for the new Windchill Part with spaces
  - "requirement_name": the requirement it corresponds to

Output example for one entry:
- id: ...
  part_name: "..."
  requirement_name: "..."

{{ contract }}`,
}

var templates = func() map[Kind]*template.Template {
	funcs := sprig.TxtFuncMap()
	funcs["category"] = func(c Category) string { return categoryClauses[c] }
	funcs["rules"] = NeutralizeRules
	funcs["oneline"] = NeutralizeRules
	funcs["contract"] = func() string { return outputContract }

	out := make(map[Kind]*template.Template, len(templateText))
	for kind, text := range templateText {
		out[kind] = template.Must(template.New(string(kind)).Funcs(funcs).Option("missingkey=error").Parse(text))
	}
	return out
}()

// Render builds the instruction text for req. It is a pure function of req.
func Render(req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid %s request: %w", req.Kind, err)
	}
	if req.Kind == KindComplianceDownstream && req.Count == 0 {
		req.Count = 2
	}

	var b strings.Builder
	if err := templates[req.Kind].Execute(&b, req); err != nil {
		return "", fmt.Errorf("render %s instruction: %w", req.Kind, err)
	}
	return strings.TrimSpace(b.String()), nil
}

var (
	fenceRe      = regexp.MustCompile("`{3,}[A-Za-z]*")
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NeutralizeRules strips code-fence markers and collapses line breaks so free-form
// rules and item names stay on one line and cannot change the output format.
func NeutralizeRules(rules string) string {
	rules = fenceRe.ReplaceAllString(rules, "")
	rules = whitespaceRe.ReplaceAllString(rules, " ")
	return strings.TrimSpace(rules)
}

// StripFences removes a surrounding ```yaml / ``` code fence, stray backticks and
// surrounding whitespace from a completion.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexAny(s, "\r\n"); i >= 0 && !strings.ContainsAny(s[:i], " :-") {
			s = s[i:]
		} else if strings.HasPrefix(s, "yaml") {
			s = strings.TrimPrefix(s, "yaml")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(strings.Trim(s, "`"))
}
