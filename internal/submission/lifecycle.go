// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package submission

import (
	"context"
	"errors"
	"strings"

	"github.com/pdiddy/irb-engine/internal/routing"
	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// maxReviewers bounds the expedited reviewer set.
const maxReviewers = 2

// CreateDraft opens the first submission for a study. Later review cycles
// are created by Resubmit.
func (s *Service) CreateDraft(ctx context.Context, actor types.Actor, studyID string, in DraftInput) (types.ProtocolSubmission, error) {
	var sub types.ProtocolSubmission
	err := s.run(ctx, func(tx *store.Tx, jobs *[]types.Job) error {
		study, err := tx.Study(ctx, studyID)
		if errors.Is(err, store.ErrNotFound) {
			return reject(KindNotFound, "study %s does not exist", studyID)
		}
		if err != nil {
			return err
		}
		if actor.ID != study.ResearcherID {
			return reject(KindUnauthorized, "only the study owner may draft a submission")
		}
		existing, err := tx.Submissions(ctx, studyID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return reject(KindPreconditions, "study %s already has a submission; use resubmit", studyID)
		}
		if in.PISuggestedType != "" && !in.PISuggestedType.Valid() {
			return reject(KindPreconditions, "unknown review type %q", in.PISuggestedType)
		}

		version, err := tx.NextSubmissionVersion(ctx, studyID)
		if err != nil {
			return err
		}
		now := s.now()
		sub = types.ProtocolSubmission{
			ID:                newID(),
			StudyID:           studyID,
			Version:           version,
			Status:            types.StatusDraft,
			SubmittedBy:       actor.ID,
			Title:             in.Title,
			Summary:           in.Summary,
			PISuggestedType:   in.PISuggestedType,
			InvolvesDeception: study.InvolvesDeception,
			Decision:          types.DecisionPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if in.InvolvesDeception != nil {
			sub.InvolvesDeception = *in.InvolvesDeception
		}
		if sub.PISuggestedType == "" {
			sub.PISuggestedType = types.ReviewExempt
		}
		if err := tx.InsertSubmission(ctx, sub); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "submission.create", "submission", sub.ID, map[string]any{
			"study_id": studyID,
			"version":  version,
		})
	})
	return sub, err
}

// UpdateDraft edits a draft's authored fields.
func (s *Service) UpdateDraft(ctx context.Context, actor types.Actor, submissionID string, in DraftInput) (types.ProtocolSubmission, error) {
	var sub types.ProtocolSubmission
	err := s.run(ctx, func(tx *store.Tx, jobs *[]types.Job) error {
		var study types.Study
		var err error
		sub, study, err = s.loadSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if actor.ID != study.ResearcherID {
			return reject(KindUnauthorized, "only the study owner may edit a draft")
		}
		if sub.Status != types.StatusDraft {
			return reject(KindPreconditions, "submission %s is no longer a draft", submissionID)
		}
		if in.PISuggestedType != "" && !in.PISuggestedType.Valid() {
			return reject(KindPreconditions, "unknown review type %q", in.PISuggestedType)
		}

		if in.Title != "" {
			sub.Title = in.Title
		}
		if in.Summary != "" {
			sub.Summary = in.Summary
		}
		if in.PISuggestedType != "" {
			sub.PISuggestedType = in.PISuggestedType
		}
		if in.InvolvesDeception != nil {
			sub.InvolvesDeception = *in.InvolvesDeception
		}
		sub.UpdatedAt = s.now()
		if err := tx.UpdateDraft(ctx, sub); err != nil {
			return conflictAs(err, KindPreconditions, "submission %s is no longer a draft", submissionID)
		}
		return s.audit(ctx, tx, actor, "submission.update", "submission", sub.ID, nil)
	})
	return sub, err
}

// Submit files a draft: it allocates the submission number, routes the
// submission to its reviewing authorities, and schedules the reviewer
// notification and, when enabled, an analysis review.
func (s *Service) Submit(ctx context.Context, actor types.Actor, submissionID string) (types.ProtocolSubmission, error) {
	var sub types.ProtocolSubmission
	var outcome routing.Outcome
	err := s.run(ctx, func(tx *store.Tx, jobs *[]types.Job) error {
		var study types.Study
		var err error
		sub, study, err = s.loadSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if actor.ID != study.ResearcherID {
			return reject(KindUnauthorized, "only the study owner may submit")
		}
		if sub.Status != types.StatusDraft {
			return reject(KindPreconditions, "submission %s was already submitted", submissionID)
		}
		if strings.TrimSpace(sub.Title) == "" {
			return reject(KindPreconditions, "a submission needs a title")
		}
		if !sub.PISuggestedType.Valid() {
			return reject(KindPreconditions, "unknown review type %q", sub.PISuggestedType)
		}

		now := s.now()
		seq, err := tx.NextCounter(ctx, submissionCounter(now.Year()))
		if err != nil {
			return err
		}
		sub.SubmissionNumber = submissionNumber(now.Year(), seq)
		sub.SubmittedAt = &now
		sub.UpdatedAt = now

		outcome, err = routing.NewRouter(tx, s.rules).Route(ctx, &sub, actor)
		if err != nil {
			return err
		}
		if err := tx.MarkSubmitted(ctx, sub); err != nil {
			return conflictAs(err, KindPreconditions, "submission %s was already submitted", submissionID)
		}
		sub.Status = types.StatusSubmitted

		if study.IRBStatus != types.IRBApproved {
			if err := tx.SetIRBStatus(ctx, study.ID, types.IRBPending, now); err != nil {
				return err
			}
		}
		if err := s.audit(ctx, tx, actor, "submission.submit", "submission", sub.ID, map[string]any{
			"submission_number":       sub.SubmissionNumber,
			"review_type":             string(sub.ReviewType),
			"college_rep_id":          sub.CollegeRepID,
			"chair_id":                sub.ChairID,
			"needs_manual_assignment": sub.NeedsManualAssignment,
		}); err != nil {
			return err
		}
		if err := schedule(ctx, tx, jobs, newJob(types.JobNotifySubmission, sub.StudyID, sub.ID, now)); err != nil {
			return err
		}
		if s.analyzeOnSubmit {
			return s.openAnalysis(ctx, tx, jobs, actor, &sub)
		}
		return nil
	})
	if err == nil && outcome.NeedsManualAssignment {
		s.logger.Warn("submission needs manual assignment", "submission", sub.ID, "notes", sub.RoutingNotes)
	}
	return sub, err
}

// Determine records the college representative's review type. Submissions
// involving deception can only be determined as full review; a full
// determination brings in the chair.
func (s *Service) Determine(ctx context.Context, actor types.Actor, submissionID string, reviewType types.ReviewType) (types.ProtocolSubmission, error) {
	var sub types.ProtocolSubmission
	err := s.run(ctx, func(tx *store.Tx, jobs *[]types.Job) error {
		var err error
		sub, _, err = s.loadSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if sub.Status != types.StatusSubmitted {
			return reject(KindPreconditions, "submission %s has not been submitted", submissionID)
		}
		if sub.CollegeRepID == "" || actor.ID != sub.CollegeRepID {
			return reject(KindUnauthorized, "only the assigned college representative may determine the review type")
		}
		if sub.Decision != types.DecisionPending {
			return reject(KindAlreadyDecided, "submission %s was already decided", submissionID)
		}
		if !reviewType.Valid() {
			return reject(KindPreconditions, "unknown review type %q", reviewType)
		}
		if sub.InvolvesDeception && reviewType != types.ReviewFull {
			return reject(KindPreconditions, "submissions involving deception require full review")
		}
		if reviewType != types.ReviewExpedited && len(sub.ReviewerIDs) > 0 {
			return reject(KindPreconditions, "submission %s has expedited reviewers assigned", submissionID)
		}

		now := s.now()
		sub.CollegeRepDetermination = reviewType
		sub.ReviewType = reviewType
		var notes []string
		if reviewType == types.ReviewFull {
			if sub.ChairID == "" {
				if _, err := routing.NewRouter(tx, s.rules).AssignChair(ctx, &sub); err != nil {
					return err
				}
			}
			if sub.ChairID == "" {
				notes = append(notes, "no active chair")
			}
		} else {
			sub.ChairID = ""
		}
		sub.NeedsManualAssignment = len(notes) > 0
		sub.RoutingNotes = strings.Join(notes, "; ")
		sub.DeterminedAt = &now
		sub.UpdatedAt = now

		if err := tx.SetDetermination(ctx, sub); err != nil {
			return conflictAs(err, KindAlreadyDecided, "submission %s was already decided", submissionID)
		}
		return s.audit(ctx, tx, actor, "submission.determine", "submission", sub.ID, map[string]any{
			"review_type": string(reviewType),
			"chair_id":    sub.ChairID,
		})
	})
	return sub, err
}

// AssignReviewers adds IRB members to an expedited submission. The
// reviewer set holds at most two distinct members; re-assigning a current
// reviewer is a no-op.
func (s *Service) AssignReviewers(ctx context.Context, actor types.Actor, submissionID string, reviewerIDs ...string) (types.ProtocolSubmission, error) {
	var sub types.ProtocolSubmission
	err := s.run(ctx, func(tx *store.Tx, jobs *[]types.Job) error {
		var study types.Study
		var err error
		sub, study, err = s.loadSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if sub.Status != types.StatusSubmitted {
			return reject(KindPreconditions, "submission %s has not been submitted", submissionID)
		}
		if actor.Role != types.RoleAdmin && (sub.CollegeRepID == "" || actor.ID != sub.CollegeRepID) {
			return reject(KindUnauthorized, "only the college representative or an admin may assign reviewers")
		}
		if sub.Decision != types.DecisionPending {
			return reject(KindAlreadyDecided, "submission %s was already decided", submissionID)
		}
		if sub.ReviewType != types.ReviewExpedited {
			return reject(KindPreconditions, "reviewers are assigned only to expedited submissions, not %s", sub.ReviewType)
		}
		if len(reviewerIDs) == 0 {
			return reject(KindPreconditions, "no reviewers given")
		}

		next := append([]string(nil), sub.ReviewerIDs...)
		var added []string
		for _, id := range reviewerIDs {
			user, err := tx.User(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return reject(KindPreconditions, "reviewer %s does not exist", id)
			}
			if err != nil {
				return err
			}
			if user.Role != types.RoleIRBMember {
				return reject(KindPreconditions, "reviewer %s is not an IRB member", user.ID)
			}
			if user.ID == study.ResearcherID {
				return reject(KindPreconditions, "the study owner cannot review their own protocol")
			}
			if contains(next, user.ID) {
				continue
			}
			next = append(next, user.ID)
			added = append(added, user.ID)
		}
		if len(next) > maxReviewers {
			return reject(KindPreconditions, "an expedited submission takes at most %d reviewers", maxReviewers)
		}

		now := s.now()
		for _, id := range added {
			if err := tx.AddReviewer(ctx, sub.ID, id, now); err != nil {
				return err
			}
		}
		sub.ReviewerIDs = next
		return s.audit(ctx, tx, actor, "submission.assign_reviewers", "submission", sub.ID, map[string]any{
			"added":     added,
			"reviewers": next,
		})
	})
	return sub, err
}

// AssignAuthority lets an admin assign the college representative or the
// chair of a submission that routing could not fully assign. The manual
// assignment flag clears once no authority the review type needs is
// missing.
func (s *Service) AssignAuthority(ctx context.Context, actor types.Actor, submissionID string, in AuthorityInput) (types.ProtocolSubmission, error) {
	var sub types.ProtocolSubmission
	err := s.run(ctx, func(tx *store.Tx, jobs *[]types.Job) error {
		var study types.Study
		var err error
		sub, study, err = s.loadSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if actor.Role != types.RoleAdmin {
			return reject(KindUnauthorized, "only an admin may assign reviewing authorities")
		}
		if sub.Status != types.StatusSubmitted {
			return reject(KindPreconditions, "submission %s has not been submitted", submissionID)
		}
		if sub.Decision != types.DecisionPending {
			return reject(KindAlreadyDecided, "submission %s was already decided", submissionID)
		}
		if in.CollegeRepID == "" && in.ChairID == "" {
			return reject(KindPreconditions, "no college representative or chair given")
		}

		prevRep, prevChair := sub.CollegeRepID, sub.ChairID
		for _, a := range []struct {
			id   string
			role string
			dst  *string
		}{
			{in.CollegeRepID, "college representative", &sub.CollegeRepID},
			{in.ChairID, "chair", &sub.ChairID},
		} {
			if a.id == "" {
				continue
			}
			user, err := tx.User(ctx, a.id)
			if errors.Is(err, store.ErrNotFound) {
				return reject(KindPreconditions, "%s %s does not exist", a.role, a.id)
			}
			if err != nil {
				return err
			}
			if user.Role != types.RoleIRBMember {
				return reject(KindPreconditions, "%s %s is not an IRB member", a.role, user.ID)
			}
			if user.ID == study.ResearcherID {
				return reject(KindPreconditions, "the study owner cannot review their own protocol")
			}
			if sub.HasReviewer(user.ID) {
				return reject(KindPreconditions, "%s is already an assigned reviewer", user.ID)
			}
			*a.dst = user.ID
		}

		var missing []string
		if sub.CollegeRepID == "" {
			missing = append(missing, "no college representative assigned")
		}
		if sub.ReviewType == types.ReviewFull && sub.ChairID == "" {
			missing = append(missing, "no chair assigned")
		}
		sub.NeedsManualAssignment = len(missing) > 0
		sub.RoutingNotes = strings.Join(missing, "; ")
		sub.UpdatedAt = s.now()

		if err := tx.SetAuthorities(ctx, sub); err != nil {
			return conflictAs(err, KindAlreadyDecided, "submission %s was already decided", submissionID)
		}
		return s.audit(ctx, tx, actor, "submission.assign_authority", "submission", sub.ID, map[string]any{
			"college_rep_id":          sub.CollegeRepID,
			"previous_college_rep_id": prevRep,
			"chair_id":                sub.ChairID,
			"previous_chair_id":       prevChair,
			"needs_manual_assignment": sub.NeedsManualAssignment,
		})
	})
	return sub, err
}

// Decide records a decision on a submitted protocol. Approval allocates
// the protocol number and marks the study approved in the same
// transaction. Of concurrent decisions on one submission exactly one
// succeeds; the rest are rejected as already decided.
func (s *Service) Decide(ctx context.Context, actor types.Actor, submissionID string, in DecisionInput) (types.ProtocolSubmission, error) {
	var sub types.ProtocolSubmission
	err := s.run(ctx, func(tx *store.Tx, jobs *[]types.Job) error {
		var err error
		sub, _, err = s.loadSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if sub.Status != types.StatusSubmitted {
			return reject(KindPreconditions, "submission %s has not been submitted", submissionID)
		}
		if err := authorizeDecision(actor, sub); err != nil {
			return err
		}
		if sub.Decision != types.DecisionPending {
			return reject(KindAlreadyDecided, "submission %s was already decided %s", submissionID, sub.Decision)
		}
		if err := validateDecision(in); err != nil {
			return err
		}
		if sub.ReviewType == types.ReviewExpedited && len(sub.ReviewerIDs) < maxReviewers {
			return reject(KindPreconditions, "expedited review needs %d assigned reviewers, has %d", maxReviewers, len(sub.ReviewerIDs))
		}

		now := s.now()
		sub.Decision = in.Decision
		sub.DecidedBy = actor.ID
		sub.DecidedAt = &now
		sub.UpdatedAt = now
		switch in.Decision {
		case types.DecisionApproved:
			seq, err := tx.NextCounter(ctx, protocolCounter(now.Year()))
			if err != nil {
				return err
			}
			sub.ProtocolNumber = protocolNumber(now.Year(), seq)
			sub.ApprovalNotes = in.Notes
		case types.DecisionReviseResubmit:
			sub.RevisionNotes = in.Notes
		case types.DecisionRejected:
			sub.RejectionGrounds = in.Notes
		}

		if err := tx.RecordDecision(ctx, sub); err != nil {
			return conflictAs(err, KindAlreadyDecided, "submission %s was already decided", submissionID)
		}
		if sub.Decision == types.DecisionApproved {
			if err := tx.ApproveStudy(ctx, sub.StudyID, sub.ProtocolNumber, actor.ID, now); err != nil {
				return err
			}
		}
		return s.audit(ctx, tx, actor, "submission.decide", "submission", sub.ID, map[string]any{
			"decision":        string(sub.Decision),
			"review_type":     string(sub.ReviewType),
			"protocol_number": sub.ProtocolNumber,
		})
	})
	if err == nil {
		s.metrics.Decision(ctx, "submission", string(sub.ReviewType), string(sub.Decision))
		s.logger.Info("decision recorded", "submission", sub.ID, "decision", string(sub.Decision), "protocol", sub.ProtocolNumber)
	}
	return sub, err
}

// Resubmit starts the next review cycle after a revise-and-resubmit
// decision. The new version is a draft carrying the prior authored fields.
func (s *Service) Resubmit(ctx context.Context, actor types.Actor, submissionID string) (types.ProtocolSubmission, error) {
	var next types.ProtocolSubmission
	err := s.run(ctx, func(tx *store.Tx, jobs *[]types.Job) error {
		prev, study, err := s.loadSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if actor.ID != study.ResearcherID {
			return reject(KindUnauthorized, "only the study owner may resubmit")
		}
		if prev.Decision != types.DecisionReviseResubmit {
			return reject(KindPreconditions, "only revise-and-resubmit decisions can be resubmitted, submission %s is %s", submissionID, prev.Decision)
		}
		version, err := tx.NextSubmissionVersion(ctx, prev.StudyID)
		if err != nil {
			return err
		}
		if version != prev.Version+1 {
			return reject(KindPreconditions, "submission %s was already resubmitted", submissionID)
		}

		now := s.now()
		next = types.ProtocolSubmission{
			ID:                newID(),
			StudyID:           prev.StudyID,
			Version:           version,
			Status:            types.StatusDraft,
			SubmittedBy:       actor.ID,
			Title:             prev.Title,
			Summary:           prev.Summary,
			PISuggestedType:   prev.PISuggestedType,
			InvolvesDeception: prev.InvolvesDeception,
			Decision:          types.DecisionPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.InsertSubmission(ctx, next); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "submission.resubmit", "submission", next.ID, map[string]any{
			"previous_submission": prev.ID,
			"version":             version,
		})
	})
	return next, err
}

// authorizeDecision applies the decision authority for the submission's
// review type.
func authorizeDecision(actor types.Actor, sub types.ProtocolSubmission) error {
	switch sub.ReviewType {
	case types.ReviewExempt:
		if sub.CollegeRepID != "" && actor.ID == sub.CollegeRepID {
			return nil
		}
		return reject(KindUnauthorized, "exempt determinations are made by the college representative")
	case types.ReviewExpedited:
		if (sub.CollegeRepID != "" && actor.ID == sub.CollegeRepID) || sub.HasReviewer(actor.ID) {
			return nil
		}
		return reject(KindUnauthorized, "expedited decisions are made by the college representative or an assigned reviewer")
	case types.ReviewFull:
		if sub.ChairID != "" && actor.ID == sub.ChairID {
			return nil
		}
		return reject(KindUnauthorized, "full review decisions are made by the IRB chair")
	}
	return reject(KindPreconditions, "submission %s has no review type", sub.ID)
}

func validateDecision(in DecisionInput) error {
	if !in.Decision.Valid() {
		return reject(KindPreconditions, "unknown decision %q", in.Decision)
	}
	if in.Decision != types.DecisionApproved && strings.TrimSpace(in.Notes) == "" {
		return reject(KindPreconditions, "a %s decision needs notes", in.Decision)
	}
	return nil
}

// conflictAs converts a store conflict into a rejection of the given kind.
func conflictAs(err error, kind Kind, format string, args ...any) error {
	if errors.Is(err, store.ErrConflict) {
		return reject(kind, format, args...)
	}
	return err
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
