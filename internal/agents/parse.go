// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agents

import (
	"encoding/json"
	"strings"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// ParseErrorID is the issue ID of the finding that replaces an unparseable
// backend reply.
const ParseErrorID = "parse_error"

// RiskUnknown is the self-assessment recorded when an agent produced none.
const RiskUnknown = "unknown"

// Parse extracts the JSON object spanning the first '{' to the last '}' of
// reply. A reply with no parseable object becomes a single moderate
// parse_error finding with the raw reply kept; Parse never fails.
func Parse(agent, model, reply string) types.AgentResult {
	body := reply
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start >= 0 && end > start {
		body = reply[start : end+1]
	}

	var result types.AgentResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return parseFailure(agent, model, reply)
	}
	result.Agent = agent
	result.Model = model
	if result.Findings == nil {
		result.Findings = []types.Finding{}
	}
	return result
}

func parseFailure(agent, model, reply string) types.AgentResult {
	return types.AgentResult{
		Agent:       agent,
		Model:       model,
		RawResponse: reply,
		Findings: []types.Finding{{
			IssueID:         ParseErrorID,
			Severity:        string(types.SeverityModerate),
			Category:        types.CategoryAnalysisError,
			Description:     "Could not parse AI response as JSON",
			Recommendation:  "Manual review recommended",
			AffectedSection: "N/A",
		}},
		Summary:        "Response parsing failed",
		RiskAssessment: RiskUnknown,
	}
}
