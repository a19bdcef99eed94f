// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// ErrInvalidPayload is returned for response payloads that are not a JSON
// object.
var ErrInvalidPayload = errors.New("response payload must be a JSON object")

// Queue receives jobs after the transaction that scheduled them commits.
type Queue interface {
	Dispatch(job types.Job) bool
}

// Intake records participant responses and schedules evidence
// recomputation for each one.
type Intake struct {
	store *store.Store
	queue Queue
	now   func() time.Time
}

// NewIntake returns an Intake over st. A nil queue leaves scheduled jobs in
// the outbox for a worker to resume.
func NewIntake(st *store.Store, q Queue) *Intake {
	return &Intake{store: st, queue: q, now: time.Now}
}

// Ingest appends a response and its recompute_evidence job in one
// transaction, then dispatches the job.
func (in *Intake) Ingest(ctx context.Context, studyID, sessionID string, payload json.RawMessage) (types.ResponseRecord, error) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return types.ResponseRecord{}, ErrInvalidPayload
	}

	now := in.now()
	rec := types.ResponseRecord{
		ID:        uuid.NewString(),
		StudyID:   studyID,
		SessionID: sessionID,
		Payload:   payload,
		CreatedAt: now,
	}
	job := types.Job{
		ID:        uuid.NewString(),
		Kind:      types.JobRecomputeEvidence,
		StudyID:   studyID,
		TargetID:  studyID,
		CreatedAt: now,
	}
	err := in.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.Study(ctx, studyID); err != nil {
			return err
		}
		if err := tx.AppendResponse(ctx, rec); err != nil {
			return err
		}
		return tx.ScheduleJob(ctx, job)
	})
	if err != nil {
		return types.ResponseRecord{}, fmt.Errorf("ingesting response: %w", err)
	}
	if in.queue != nil {
		in.queue.Dispatch(job)
	}
	return rec, nil
}
