// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package submission

import (
	"context"
	"errors"
	"strings"

	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// CreateAmendment files a change request against an approved submission.
// Amendments are numbered after the parent's protocol number.
func (s *Service) CreateAmendment(ctx context.Context, actor types.Actor, submissionID string, in AmendmentInput) (types.ProtocolAmendment, error) {
	var a types.ProtocolAmendment
	err := s.run(ctx, func(tx *store.Tx, jobs *[]types.Job) error {
		sub, study, err := s.loadSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if actor.ID != study.ResearcherID {
			return reject(KindUnauthorized, "only the study owner may request an amendment")
		}
		if sub.Decision != types.DecisionApproved {
			return reject(KindPreconditions, "amendments apply only to approved protocols")
		}
		if strings.TrimSpace(in.Description) == "" {
			return reject(KindPreconditions, "an amendment needs a description")
		}

		seq, err := tx.NextAmendmentSeq(ctx, sub.ID)
		if err != nil {
			return err
		}
		a = types.ProtocolAmendment{
			ID:              newID(),
			SubmissionID:    sub.ID,
			StudyID:         sub.StudyID,
			Seq:             seq,
			AmendmentNumber: amendmentNumber(sub.ProtocolNumber, seq),
			Description:     in.Description,
			RequestedBy:     actor.ID,
			Decision:        types.DecisionPending,
			CreatedAt:       s.now(),
		}
		if err := tx.InsertAmendment(ctx, a); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "amendment.create", "amendment", a.ID, map[string]any{
			"submission_id":    sub.ID,
			"amendment_number": a.AmendmentNumber,
		})
	})
	return a, err
}

// DecideAmendment records a decision on a pending amendment. The authority
// is the same as for the parent submission's decision.
func (s *Service) DecideAmendment(ctx context.Context, actor types.Actor, amendmentID string, in DecisionInput) (types.ProtocolAmendment, error) {
	var a types.ProtocolAmendment
	var reviewType types.ReviewType
	err := s.run(ctx, func(tx *store.Tx, jobs *[]types.Job) error {
		var err error
		a, err = tx.Amendment(ctx, amendmentID)
		if errors.Is(err, store.ErrNotFound) {
			return reject(KindNotFound, "amendment %s does not exist", amendmentID)
		}
		if err != nil {
			return err
		}
		parent, _, err := s.loadSubmission(ctx, tx, a.SubmissionID)
		if err != nil {
			return err
		}
		reviewType = parent.ReviewType
		if err := authorizeDecision(actor, parent); err != nil {
			return err
		}
		if a.Decision != types.DecisionPending {
			return reject(KindAlreadyDecided, "amendment %s was already decided %s", amendmentID, a.Decision)
		}
		if err := validateDecision(in); err != nil {
			return err
		}

		now := s.now()
		a.Decision = in.Decision
		a.DecidedBy = actor.ID
		a.Notes = in.Notes
		a.DecidedAt = &now
		if err := tx.RecordAmendmentDecision(ctx, a); err != nil {
			return conflictAs(err, KindAlreadyDecided, "amendment %s was already decided", amendmentID)
		}
		return s.audit(ctx, tx, actor, "amendment.decide", "amendment", a.ID, map[string]any{
			"decision": string(a.Decision),
		})
	})
	if err == nil {
		s.metrics.Decision(ctx, "amendment", string(reviewType), string(a.Decision))
	}
	return a, err
}

// Amendments lists the amendments filed against a submission.
func (s *Service) Amendments(ctx context.Context, submissionID string) ([]types.ProtocolAmendment, error) {
	return s.store.Amendments(ctx, submissionID)
}
