// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Severity buckets a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
)

// ParseSeverity normalizes s case-insensitively. Unknown or empty values
// are minor.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityModerate:
		return SeverityModerate
	}
	return SeverityMinor
}

// RiskLevel is the overall risk of a study as scored from its findings.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// Rank orders risk levels; unknown levels rank below minimal.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMinimal:
		return 1
	case RiskLow:
		return 2
	case RiskModerate:
		return 3
	case RiskHigh:
		return 4
	}
	return 0
}

// Category values the orchestrator and agents assign themselves.
const (
	CategoryAnalysisError = "analysis_error"
	CategoryConfiguration = "configuration"
	CategoryGeneral       = "general"
)

// Finding is the atomic unit produced by an agent.
type Finding struct {
	IssueID         string `json:"issue_id" yaml:"issue_id"`
	Severity        string `json:"severity" yaml:"severity"`
	Category        string `json:"category" yaml:"category"`
	Description     string `json:"description" yaml:"description"`
	Recommendation  string `json:"recommendation" yaml:"recommendation"`
	AffectedSection string `json:"affected_section" yaml:"affected_section"`

	// Agent is filled in by the aggregator, not by the backend.
	Agent string `json:"agent,omitempty" yaml:"agent,omitempty"`
}

// UnmarshalJSON accepts both snake_case and camelCase keys since backends
// are not consistent about which they emit.
func (f *Finding) UnmarshalJSON(data []byte) error {
	var raw struct {
		IssueID              string `json:"issue_id"`
		IssueIDCamel         string `json:"issueId"`
		Severity             string `json:"severity"`
		Category             string `json:"category"`
		Description          string `json:"description"`
		Recommendation       string `json:"recommendation"`
		AffectedSection      string `json:"affected_section"`
		AffectedSectionCamel string `json:"affectedSection"`
		Agent                string `json:"agent"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Finding{
		IssueID:         firstNonEmpty(raw.IssueID, raw.IssueIDCamel),
		Severity:        raw.Severity,
		Category:        raw.Category,
		Description:     raw.Description,
		Recommendation:  raw.Recommendation,
		AffectedSection: firstNonEmpty(raw.AffectedSection, raw.AffectedSectionCamel),
		Agent:           raw.Agent,
	}
	return nil
}

// AgentResult is one agent's structured output for a bundle.
type AgentResult struct {
	Agent          string    `json:"agent" yaml:"agent"`
	Model          string    `json:"model,omitempty" yaml:"model,omitempty"`
	Findings       []Finding `json:"findings" yaml:"findings"`
	Summary        string    `json:"summary" yaml:"summary"`
	RiskAssessment string    `json:"risk_assessment" yaml:"risk_assessment"`

	// Error holds the captured failure when the agent did not produce a result.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// RawResponse is kept when the backend reply could not be parsed.
	RawResponse string `json:"raw_response,omitempty" yaml:"raw_response,omitempty"`
}

// UnmarshalJSON accepts both risk_assessment and riskAssessment.
func (r *AgentResult) UnmarshalJSON(data []byte) error {
	type plain AgentResult
	var raw struct {
		plain
		RiskAssessmentCamel string `json:"riskAssessment"`
		RawResponseCamel    string `json:"rawResponse"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = AgentResult(raw.plain)
	r.RiskAssessment = firstNonEmpty(r.RiskAssessment, raw.RiskAssessmentCamel)
	r.RawResponse = firstNonEmpty(r.RawResponse, raw.RawResponseCamel)
	return nil
}

// Recommendation is an actionable item derived from aggregated findings.
type Recommendation struct {
	Category       string   `json:"category" yaml:"category"`
	Recommendation string   `json:"recommendation" yaml:"recommendation"`
	IssueIDs       []string `json:"issue_ids" yaml:"issue_ids"`
	Priority       string   `json:"priority" yaml:"priority"`
}

// Recommendation priorities.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
)

// ReviewStatus is the lifecycle state of an analysis review.
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "pending"
	ReviewInProgress ReviewStatus = "in_progress"
	ReviewCompleted  ReviewStatus = "completed"
	ReviewFailed     ReviewStatus = "failed"
)

// Closed reports whether the review has reached a final state.
func (s ReviewStatus) Closed() bool {
	return s == ReviewCompleted || s == ReviewFailed
}

// AnalysisReview is one orchestrator run against a study. It is immutable
// once closed, except for ResponseNotes.
type AnalysisReview struct {
	ID           string       `json:"id" yaml:"id"`
	StudyID      string       `json:"study_id" yaml:"study_id"`
	SubmissionID string       `json:"submission_id,omitempty" yaml:"submission_id,omitempty"`
	Version      int          `json:"version" yaml:"version"`
	Status       ReviewStatus `json:"status" yaml:"status"`
	RequestedBy  string       `json:"requested_by" yaml:"requested_by"`
	RepoURL      string       `json:"repo_url,omitempty" yaml:"repo_url,omitempty"`

	AgentResults    map[string]AgentResult `json:"agent_results,omitempty" yaml:"agent_results,omitempty"`
	CriticalIssues  []Finding              `json:"critical_issues,omitempty" yaml:"critical_issues,omitempty"`
	ModerateIssues  []Finding              `json:"moderate_issues,omitempty" yaml:"moderate_issues,omitempty"`
	MinorIssues     []Finding              `json:"minor_issues,omitempty" yaml:"minor_issues,omitempty"`
	Recommendations []Recommendation       `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	OverallRisk     RiskLevel              `json:"overall_risk,omitempty" yaml:"overall_risk,omitempty"`
	ModelVersions   map[string]string      `json:"model_versions,omitempty" yaml:"model_versions,omitempty"`

	ProcessingTimeSeconds float64 `json:"processing_time_seconds" yaml:"processing_time_seconds"`
	Error                 string  `json:"error,omitempty" yaml:"error,omitempty"`
	ResponseNotes         string  `json:"response_notes,omitempty" yaml:"response_notes,omitempty"`

	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Bundle is the material set every agent evaluates.
type Bundle struct {
	Metadata    map[string]any    `json:"metadata" yaml:"metadata"`
	Documents   map[string]string `json:"documents" yaml:"documents"`
	RepoListing *RepoListing      `json:"repo_listing,omitempty" yaml:"repo_listing,omitempty"`
}

// RepoListing is an externally fetched file listing for a study repository.
type RepoListing struct {
	URL       string     `json:"url" yaml:"url"`
	ProjectID string     `json:"project_id" yaml:"project_id"`
	Title     string     `json:"title,omitempty" yaml:"title,omitempty"`
	Files     []RepoFile `json:"files,omitempty" yaml:"files,omitempty"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// RepoFile is one entry of a RepoListing.
type RepoFile struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`
	Path string `json:"path" yaml:"path"`
	Size int64  `json:"size" yaml:"size"`

	DownloadURL string `json:"download_url,omitempty" yaml:"download_url,omitempty"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
