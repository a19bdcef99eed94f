// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// JobKind names a background task.
type JobKind string

const (
	JobRunAnalysis       JobKind = "run_analysis"
	JobRecomputeEvidence JobKind = "recompute_evidence"
	JobNotifySubmission  JobKind = "notify_submission"
)

// Job is one unit of background work. Jobs are persisted before dispatch and
// may be delivered more than once, so handlers must be idempotent.
type Job struct {
	ID       string  `json:"id" yaml:"id"`
	Kind     JobKind `json:"kind" yaml:"kind"`
	StudyID  string  `json:"study_id,omitempty" yaml:"study_id,omitempty"`
	TargetID string  `json:"target_id,omitempty" yaml:"target_id,omitempty"`

	// Attempt counts handler invocations so far.
	Attempt   int       `json:"attempt" yaml:"attempt"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
