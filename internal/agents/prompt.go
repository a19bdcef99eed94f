// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// promptTmpl is the analysis prompt shared by every agent. The agent's
// focus area, criteria, and guidance vary; the reply format does not.
var promptTmpl = template.Must(template.New("analysis").Parse(`You are an expert IRB reviewer specializing in {{.FocusArea}}.


IRB REVIEW CRITERIA:
{{.Criteria}}


STUDY MATERIALS TO REVIEW:
{{.Materials}}


INSTRUCTIONS:
1. Review the study materials against the IRB criteria
2. Identify any ethical concerns or issues
3. Categorize each issue by severity: critical, moderate, or minor
4. Provide specific recommendations for addressing each issue
5. Reference specific sections of the materials where issues were found


Provide your analysis in JSON format with the following structure:
{
  "findings": [
    {
      "issue_id": "unique_id",
      "severity": "critical|moderate|minor",
      "category": "category_name",
      "description": "detailed description",
      "recommendation": "specific recommendation",
      "affected_section": "document and section reference"
    }
  ],
  "summary": "overall summary of findings",
  "risk_assessment": "minimal|low|moderate|high"
}
{{if .Guidance}}

{{.Guidance}}{{end}}`))

// Request is what an agent sends to a backend.
type Request struct {
	Agent string

	// Criteria is the agent's criteria as indented JSON.
	Criteria string

	// Materials is the bundle rendered by FormatMaterials.
	Materials string

	// Prompt is the full rendered prompt.
	Prompt string
}

// BuildRequest renders the prompt for agent over bundle.
func BuildRequest(agent Agent, bundle types.Bundle) (Request, error) {
	criteria, err := json.MarshalIndent(agent.Criteria, "", "  ")
	if err != nil {
		return Request{}, fmt.Errorf("encoding %s criteria: %w", agent.Name, err)
	}
	req := Request{
		Agent:     agent.Name,
		Criteria:  string(criteria),
		Materials: FormatMaterials(bundle),
	}

	var buf bytes.Buffer
	if err := promptTmpl.Execute(&buf, struct {
		FocusArea string
		Criteria  string
		Materials string
		Guidance  string
	}{agent.FocusArea, req.Criteria, req.Materials, strings.TrimSpace(agent.Guidance)}); err != nil {
		return Request{}, fmt.Errorf("rendering %s prompt: %w", agent.Name, err)
	}
	req.Prompt = buf.String()
	return req, nil
}

// FormatMaterials renders a bundle as labelled sections: study information
// first, then each document in name order, then the repository listing.
func FormatMaterials(b types.Bundle) string {
	var parts []string
	if len(b.Metadata) > 0 {
		parts = append(parts, section("study_info", indentJSON(b.Metadata)))
	}

	names := make([]string, 0, len(b.Documents))
	for name := range b.Documents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, section(name+"_document", b.Documents[name]))
	}

	if b.RepoListing != nil {
		parts = append(parts, section("osf_materials", indentJSON(b.RepoListing)))
	}
	return strings.Join(parts, "\n")
}

func section(label, content string) string {
	return fmt.Sprintf("\n--- %s ---\n%s", strings.ToUpper(label), content)
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
