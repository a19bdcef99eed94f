// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for irb-engine: studies,
// protocol submissions and amendments, analysis reviews and their findings,
// response records, audit records, and configuration.
package types

import (
	"encoding/json"
	"time"
)

// Role is the identity provider's role for an actor.
type Role string

const (
	RoleResearcher Role = "researcher"
	RoleIRBMember  Role = "irb_member"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleResearcher, RoleIRBMember, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller of a lifecycle operation as supplied by
// the identity provider.
type Actor struct {
	ID         string `json:"id" yaml:"id"`
	Email      string `json:"email" yaml:"email"`
	Name       string `json:"name" yaml:"name"`
	Role       Role   `json:"role" yaml:"role"`
	Department string `json:"department" yaml:"department"`
}

// User is a locally registered identity.
type User struct {
	ID         string    `json:"id" yaml:"id"`
	Email      string    `json:"email" yaml:"email"`
	Name       string    `json:"name" yaml:"name"`
	Role       Role      `json:"role" yaml:"role"`
	Department string    `json:"department" yaml:"department"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Actor returns the identity the lifecycle services authorize against.
func (u User) Actor() Actor {
	return Actor{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, Department: u.Department}
}

// IRBStatus summarizes a study's approval standing.
type IRBStatus string

const (
	IRBNotRequired IRBStatus = "not_required"
	IRBPending     IRBStatus = "pending"
	IRBApproved    IRBStatus = "approved"
	IRBExempt      IRBStatus = "exempt"
	IRBExpired     IRBStatus = "expired"
)

// MonitoringConfig controls sequential evidence monitoring for a study.
type MonitoringConfig struct {
	// Enabled turns monitoring on. Disabled studies never compute evidence.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MinSampleSize is the response count below which recomputation is a no-op.
	MinSampleSize int `json:"min_sample_size" yaml:"min_sample_size"`

	// Threshold is the evidence value at or above which stakeholders are notified.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// Strategy names a registered evidence strategy (e.g. "placeholder", "binomial").
	Strategy string `json:"strategy" yaml:"strategy"`

	// Params is passed verbatim to the strategy.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// DefaultMonitoring mirrors the defaults new studies receive.
func DefaultMonitoring() MonitoringConfig {
	return MonitoringConfig{
		MinSampleSize: 20,
		Threshold:     10.0,
		Strategy:      "placeholder",
	}
}

// Study is a research project owned by a researcher.
type Study struct {
	ID                string           `json:"id" yaml:"id"`
	Title             string           `json:"title" yaml:"title"`
	Description       string           `json:"description" yaml:"description"`
	ResearcherID      string           `json:"researcher_id" yaml:"researcher_id"`
	InvolvesDeception bool             `json:"involves_deception" yaml:"involves_deception"`
	Monitoring        MonitoringConfig `json:"monitoring" yaml:"monitoring"`

	// CurrentEvidence is nil until the first successful recomputation.
	CurrentEvidence *float64 `json:"current_evidence,omitempty" yaml:"current_evidence,omitempty"`

	// EvidenceN is the response count CurrentEvidence was computed from.
	EvidenceN int `json:"evidence_n" yaml:"evidence_n"`

	// Notified is set once, when evidence first crosses the threshold.
	Notified bool `json:"notified" yaml:"notified"`

	IRBStatus     IRBStatus  `json:"irb_status" yaml:"irb_status"`
	IRBNumber     string     `json:"irb_number,omitempty" yaml:"irb_number,omitempty"`
	IRBApprovedBy string     `json:"irb_approved_by,omitempty" yaml:"irb_approved_by,omitempty"`
	IRBApprovedAt *time.Time `json:"irb_approved_at,omitempty" yaml:"irb_approved_at,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// ResponseRecord is one participant's raw payload for a study. Records are
// append-only.
type ResponseRecord struct {
	ID        string          `json:"id" yaml:"id"`
	StudyID   string          `json:"study_id" yaml:"study_id"`
	SessionID string          `json:"session_id" yaml:"session_id"`
	Payload   json.RawMessage `json:"payload" yaml:"payload"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
}

// AuditRecord is appended for every lifecycle transition, in the same
// transaction as the transition itself.
type AuditRecord struct {
	ID        string         `json:"id" yaml:"id"`
	ActorID   string         `json:"actor_id,omitempty" yaml:"actor_id,omitempty"`
	Action    string         `json:"action" yaml:"action"`
	Entity    string         `json:"entity" yaml:"entity"`
	EntityID  string         `json:"entity_id" yaml:"entity_id"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
}
