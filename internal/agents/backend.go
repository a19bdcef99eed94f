// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// Backend answers one agent request with free text that should contain a
// JSON object of findings.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Model is recorded on every result the backend produced.
	Model() string
}

// PlaceholderModel is the model name recorded for placeholder results.
const PlaceholderModel = "placeholder"

// PlaceholderBackend stands in for the AI provider when no API key is
// configured. Every agent gets a single minor configuration finding.
type PlaceholderBackend struct{}

// Model implements Backend.
func (PlaceholderBackend) Model() string { return PlaceholderModel }

// Complete implements Backend.
func (PlaceholderBackend) Complete(_ context.Context, req Request) (string, error) {
	data, err := json.Marshal(types.AgentResult{
		Findings: []types.Finding{{
			IssueID:         "placeholder",
			Severity:        string(types.SeverityMinor),
			Category:        types.CategoryConfiguration,
			Description:     "AI analysis not configured - placeholder results",
			Recommendation:  "Configure ANTHROPIC_API_KEY to enable AI analysis",
			AffectedSection: "N/A",
		}},
		Summary:        fmt.Sprintf("%s analysis requires API configuration", req.Agent),
		RiskAssessment: RiskUnknown,
	})
	return string(data), err
}

// NewBackend returns a ClaudeBackend when cfg carries an API key and a
// PlaceholderBackend otherwise. A positive RequestsPerMinute paces calls
// across all agents sharing the backend.
func NewBackend(cfg types.AIConfig, client *http.Client) Backend {
	if cfg.APIKey == "" {
		return PlaceholderBackend{}
	}
	b := &ClaudeBackend{
		APIKey:     cfg.APIKey,
		ModelName:  cfg.Model,
		MaxRetries: cfg.MaxRetries,
		Client:     client,
	}
	if cfg.RequestsPerMinute > 0 {
		b.Limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1)
	}
	return b
}
