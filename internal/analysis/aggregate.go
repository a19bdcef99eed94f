// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// Aggregation is the combined outcome of every agent's findings.
type Aggregation struct {
	Critical        []types.Finding        `json:"critical_issues"`
	Moderate        []types.Finding        `json:"moderate_issues"`
	Minor           []types.Finding        `json:"minor_issues"`
	OverallRisk     types.RiskLevel        `json:"overall_risk"`
	Recommendations []types.Recommendation `json:"recommendations"`
}

// Aggregate buckets findings by severity, scores the overall risk, and
// derives recommendations. Agents are visited in name order and findings in
// the order each agent reported them, so the result depends only on the
// contents of results.
func Aggregate(results map[string]types.AgentResult) Aggregation {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	agg := Aggregation{
		Critical:        []types.Finding{},
		Moderate:        []types.Finding{},
		Minor:           []types.Finding{},
		Recommendations: []types.Recommendation{},
	}
	for _, name := range names {
		for i, f := range results[name].Findings {
			f.Agent = name
			if f.IssueID == "" {
				f.IssueID = fmt.Sprintf("%s_%d", name, i+1)
			}
			if f.Category == "" {
				f.Category = types.CategoryGeneral
			}
			switch types.ParseSeverity(f.Severity) {
			case types.SeverityCritical:
				f.Severity = string(types.SeverityCritical)
				agg.Critical = append(agg.Critical, f)
			case types.SeverityModerate:
				f.Severity = string(types.SeverityModerate)
				agg.Moderate = append(agg.Moderate, f)
			default:
				f.Severity = string(types.SeverityMinor)
				agg.Minor = append(agg.Minor, f)
			}
		}
	}

	agg.OverallRisk = escalate(bucketRisk(agg), names, results)
	agg.Recommendations = recommend(agg)
	return agg
}

// bucketRisk scores risk from severity counts alone.
func bucketRisk(agg Aggregation) types.RiskLevel {
	switch {
	case len(agg.Critical) > 0:
		return types.RiskHigh
	case len(agg.Moderate) >= 5:
		return types.RiskModerate
	case len(agg.Moderate) > 0:
		return types.RiskLow
	}
	return types.RiskMinimal
}

// escalate raises risk by the agents' own assessments: any "high" makes the
// overall risk high, and any "moderate" lifts low to moderate. It never
// lowers risk.
func escalate(risk types.RiskLevel, names []string, results map[string]types.AgentResult) types.RiskLevel {
	var high, moderate bool
	for _, name := range names {
		switch types.RiskLevel(strings.ToLower(strings.TrimSpace(results[name].RiskAssessment))) {
		case types.RiskHigh:
			high = true
		case types.RiskModerate:
			moderate = true
		}
	}
	switch {
	case high:
		return types.RiskHigh
	case moderate && risk == types.RiskLow:
		return types.RiskModerate
	}
	return risk
}

// recommend emits one recommendation per category holding more than one
// finding, then one critical-priority recommendation per critical finding.
func recommend(agg Aggregation) []types.Recommendation {
	type group struct {
		ids      []string
		critical bool
	}
	groups := map[string]*group{}
	var order []string
	add := func(findings []types.Finding, critical bool) {
		for _, f := range findings {
			g, ok := groups[f.Category]
			if !ok {
				g = &group{}
				groups[f.Category] = g
				order = append(order, f.Category)
			}
			g.ids = append(g.ids, f.IssueID)
			g.critical = g.critical || critical
		}
	}
	add(agg.Critical, true)
	add(agg.Moderate, false)
	add(agg.Minor, false)

	recs := []types.Recommendation{}
	for _, category := range order {
		g := groups[category]
		if len(g.ids) < 2 {
			continue
		}
		priority := types.PriorityMedium
		if g.critical {
			priority = types.PriorityHigh
		}
		recs = append(recs, types.Recommendation{
			Category:       category,
			Recommendation: fmt.Sprintf("Address %d issues in %s", len(g.ids), category),
			IssueIDs:       g.ids,
			Priority:       priority,
		})
	}
	for _, f := range agg.Critical {
		recs = append(recs, types.Recommendation{
			Category:       f.Category,
			Recommendation: f.Recommendation,
			IssueIDs:       []string{f.IssueID},
			Priority:       types.PriorityCritical,
		})
	}
	return recs
}
