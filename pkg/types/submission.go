// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// College identifies a reviewing college. Departments map onto colleges
// through the routing rules.
type College string

const (
	CollegeBusiness    College = "business"
	CollegeEducation   College = "education"
	CollegeLiberalArts College = "liberal_arts"
	CollegeSciences    College = "sciences"
	CollegeNursing     College = "nursing"
)

// Valid reports whether c is a known college.
func (c College) Valid() bool {
	switch c {
	case CollegeBusiness, CollegeEducation, CollegeLiberalArts, CollegeSciences, CollegeNursing:
		return true
	}
	return false
}

// CollegeRepresentative binds an IRB member to a college. Exactly one active
// representative may carry IsChair.
type CollegeRepresentative struct {
	College College `json:"college" yaml:"college"`
	UserID  string  `json:"user_id" yaml:"user_id"`
	IsChair bool    `json:"is_chair" yaml:"is_chair"`
	Active  bool    `json:"active" yaml:"active"`
}

// ReviewType is the level of reviewer involvement a protocol requires.
type ReviewType string

const (
	ReviewExempt    ReviewType = "exempt"
	ReviewExpedited ReviewType = "expedited"
	ReviewFull      ReviewType = "full"
)

// Valid reports whether t is one of the three review types.
func (t ReviewType) Valid() bool {
	switch t {
	case ReviewExempt, ReviewExpedited, ReviewFull:
		return true
	}
	return false
}

// SubmissionStatus is the authoring state of a submission.
type SubmissionStatus string

const (
	StatusDraft     SubmissionStatus = "draft"
	StatusSubmitted SubmissionStatus = "submitted"
)

// Decision is the outcome recorded on a submission or amendment.
type Decision string

const (
	DecisionPending        Decision = "pending"
	DecisionApproved       Decision = "approved"
	DecisionReviseResubmit Decision = "revise_resubmit"
	DecisionRejected       Decision = "rejected"
)

// Valid reports whether d is a decision a reviewer may record. Pending is
// the initial state, not a decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionReviseResubmit, DecisionRejected:
		return true
	}
	return false
}

// ProtocolSubmission is one review cycle for a study. Versions are strictly
// increasing per study; a decided version is never mutated again.
type ProtocolSubmission struct {
	ID               string           `json:"id" yaml:"id"`
	StudyID          string           `json:"study_id" yaml:"study_id"`
	Version          int              `json:"version" yaml:"version"`
	SubmissionNumber string           `json:"submission_number,omitempty" yaml:"submission_number,omitempty"`
	Status           SubmissionStatus `json:"status" yaml:"status"`
	SubmittedBy      string           `json:"submitted_by" yaml:"submitted_by"`

	Title             string     `json:"title" yaml:"title"`
	Summary           string     `json:"summary" yaml:"summary"`
	PISuggestedType   ReviewType `json:"pi_suggested_type" yaml:"pi_suggested_type"`
	InvolvesDeception bool       `json:"involves_deception" yaml:"involves_deception"`

	CollegeRepDetermination ReviewType `json:"college_rep_determination,omitempty" yaml:"college_rep_determination,omitempty"`
	ReviewType              ReviewType `json:"review_type,omitempty" yaml:"review_type,omitempty"`

	CollegeRepID string   `json:"college_rep_id,omitempty" yaml:"college_rep_id,omitempty"`
	ChairID      string   `json:"chair_id,omitempty" yaml:"chair_id,omitempty"`
	ReviewerIDs  []string `json:"reviewer_ids,omitempty" yaml:"reviewer_ids,omitempty"`

	// NeedsManualAssignment is set when routing could not find a college
	// representative or chair. The submission stays valid.
	NeedsManualAssignment bool   `json:"needs_manual_assignment" yaml:"needs_manual_assignment"`
	RoutingNotes          string `json:"routing_notes,omitempty" yaml:"routing_notes,omitempty"`

	Decision         Decision `json:"decision" yaml:"decision"`
	DecidedBy        string   `json:"decided_by,omitempty" yaml:"decided_by,omitempty"`
	ProtocolNumber   string   `json:"protocol_number,omitempty" yaml:"protocol_number,omitempty"`
	ApprovalNotes    string   `json:"approval_notes,omitempty" yaml:"approval_notes,omitempty"`
	RevisionNotes    string   `json:"revision_notes,omitempty" yaml:"revision_notes,omitempty"`
	RejectionGrounds string   `json:"rejection_grounds,omitempty" yaml:"rejection_grounds,omitempty"`

	AnalysisReviewID string `json:"analysis_review_id,omitempty" yaml:"analysis_review_id,omitempty"`

	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"updated_at"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty" yaml:"submitted_at,omitempty"`
	DeterminedAt *time.Time `json:"determined_at,omitempty" yaml:"determined_at,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty" yaml:"decided_at,omitempty"`
}

// HasReviewer reports whether userID is one of the assigned reviewers.
func (s *ProtocolSubmission) HasReviewer(userID string) bool {
	for _, id := range s.ReviewerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ProtocolAmendment is a change request against an approved submission.
type ProtocolAmendment struct {
	ID              string     `json:"id" yaml:"id"`
	SubmissionID    string     `json:"submission_id" yaml:"submission_id"`
	StudyID         string     `json:"study_id" yaml:"study_id"`
	Seq             int        `json:"seq" yaml:"seq"`
	AmendmentNumber string     `json:"amendment_number" yaml:"amendment_number"`
	Description     string     `json:"description" yaml:"description"`
	RequestedBy     string     `json:"requested_by" yaml:"requested_by"`
	Decision        Decision   `json:"decision" yaml:"decision"`
	DecidedBy       string     `json:"decided_by,omitempty" yaml:"decided_by,omitempty"`
	Notes           string     `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty" yaml:"decided_at,omitempty"`
}
