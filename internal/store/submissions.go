// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/irb-engine/pkg/types"
)

const submissionColumns = `id, study_id, version, submission_number, status, submitted_by,
	title, summary, pi_suggested_type, involves_deception,
	college_rep_determination, review_type, college_rep_id, chair_id,
	needs_manual_assignment, routing_notes,
	decision, decided_by, protocol_number, approval_notes, revision_notes, rejection_grounds,
	analysis_review_id, created_at, updated_at, submitted_at, determined_at, decided_at`

// Submission fetches a submission with its reviewers.
func (s *Store) Submission(ctx context.Context, id string) (types.ProtocolSubmission, error) {
	return getSubmission(ctx, s.db, id)
}

// Submission fetches a submission with its reviewers within the transaction.
func (t *Tx) Submission(ctx context.Context, id string) (types.ProtocolSubmission, error) {
	return getSubmission(ctx, t.tx, id)
}

// Submissions returns every version of a study's submission, ascending.
func (s *Store) Submissions(ctx context.Context, studyID string) ([]types.ProtocolSubmission, error) {
	return listSubmissions(ctx, s.db, studyID)
}

// Submissions returns every version of a study's submission within the
// transaction.
func (t *Tx) Submissions(ctx context.Context, studyID string) ([]types.ProtocolSubmission, error) {
	return listSubmissions(ctx, t.tx, studyID)
}

func getSubmission(ctx context.Context, q querier, id string) (types.ProtocolSubmission, error) {
	sub, err := scanSubmission(q.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM protocol_submissions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return sub, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return sub, err
	}
	sub.ReviewerIDs, err = reviewers(ctx, q, id)
	return sub, err
}

func listSubmissions(ctx context.Context, q querier, studyID string) ([]types.ProtocolSubmission, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM protocol_submissions WHERE study_id = ? ORDER BY version`, studyID)
	if err != nil {
		return nil, fmt.Errorf("querying submissions for %s: %w", studyID, err)
	}
	var out []types.ProtocolSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Reviewers load after the cursor is closed; the single connection
	// cannot serve a second query while rows are open.
	for i := range out {
		if out[i].ReviewerIDs, err = reviewers(ctx, q, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanSubmission(row scanner) (types.ProtocolSubmission, error) {
	var sub types.ProtocolSubmission
	var number, determination, reviewType, repID, chairID, notes sql.NullString
	var decidedBy, protocolNumber, approvalNotes, revisionNotes, grounds, analysisID sql.NullString
	var submittedAt, determinedAt, decidedAt sql.NullString
	var status, suggested, decision, created, updated string
	err := row.Scan(&sub.ID, &sub.StudyID, &sub.Version, &number, &status, &sub.SubmittedBy,
		&sub.Title, &sub.Summary, &suggested, &sub.InvolvesDeception,
		&determination, &reviewType, &repID, &chairID,
		&sub.NeedsManualAssignment, &notes,
		&decision, &decidedBy, &protocolNumber, &approvalNotes, &revisionNotes, &grounds,
		&analysisID, &created, &updated, &submittedAt, &determinedAt, &decidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sub, err
		}
		return sub, fmt.Errorf("scanning submission: %w", err)
	}
	sub.SubmissionNumber = number.String
	sub.Status = types.SubmissionStatus(status)
	sub.PISuggestedType = types.ReviewType(suggested)
	sub.CollegeRepDetermination = types.ReviewType(determination.String)
	sub.ReviewType = types.ReviewType(reviewType.String)
	sub.CollegeRepID = repID.String
	sub.ChairID = chairID.String
	sub.RoutingNotes = notes.String
	sub.Decision = types.Decision(decision)
	sub.DecidedBy = decidedBy.String
	sub.ProtocolNumber = protocolNumber.String
	sub.ApprovalNotes = approvalNotes.String
	sub.RevisionNotes = revisionNotes.String
	sub.RejectionGrounds = grounds.String
	sub.AnalysisReviewID = analysisID.String
	sub.CreatedAt = parseTime(created)
	sub.UpdatedAt = parseTime(updated)
	sub.SubmittedAt = timePtr(submittedAt)
	sub.DeterminedAt = timePtr(determinedAt)
	sub.DecidedAt = timePtr(decidedAt)
	return sub, nil
}

func reviewers(ctx context.Context, q querier, submissionID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM submission_reviewers WHERE submission_id = ? ORDER BY assigned_at, user_id`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("querying reviewers for %s: %w", submissionID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning reviewer: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NextSubmissionVersion returns one past the highest version stored for the
// study. Called inside a transaction it cannot race with another writer.
func (t *Tx) NextSubmissionVersion(ctx context.Context, studyID string) (int, error) {
	var v int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM protocol_submissions WHERE study_id = ?`, studyID,
	).Scan(&v); err != nil {
		return 0, fmt.Errorf("computing next version for %s: %w", studyID, err)
	}
	return v, nil
}

// InsertSubmission stores a new draft.
func (t *Tx) InsertSubmission(ctx context.Context, sub types.ProtocolSubmission) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO protocol_submissions (id, study_id, version, status, submitted_by,
			title, summary, pi_suggested_type, involves_deception, decision, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.StudyID, sub.Version, string(sub.Status), sub.SubmittedBy,
		sub.Title, sub.Summary, string(sub.PISuggestedType), boolInt(sub.InvolvesDeception),
		string(sub.Decision), formatTime(sub.CreatedAt), formatTime(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting submission %s: %w", sub.ID, err)
	}
	return nil
}

// UpdateDraft rewrites the authored fields of a draft.
func (t *Tx) UpdateDraft(ctx context.Context, sub types.ProtocolSubmission) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE protocol_submissions SET title = ?, summary = ?, pi_suggested_type = ?,
			involves_deception = ?, updated_at = ?
		 WHERE id = ? AND status = 'draft'`,
		sub.Title, sub.Summary, string(sub.PISuggestedType), boolInt(sub.InvolvesDeception),
		formatTime(sub.UpdatedAt), sub.ID,
	)
	if err != nil {
		return fmt.Errorf("updating draft %s: %w", sub.ID, err)
	}
	return expectOne(res, "updating draft "+sub.ID)
}

// MarkSubmitted moves a draft to submitted with its routing results.
func (t *Tx) MarkSubmitted(ctx context.Context, sub types.ProtocolSubmission) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE protocol_submissions SET status = 'submitted', submission_number = ?,
			review_type = ?, college_rep_id = ?, chair_id = ?,
			needs_manual_assignment = ?, routing_notes = ?, submitted_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'draft'`,
		sub.SubmissionNumber, nullString(string(sub.ReviewType)), nullString(sub.CollegeRepID),
		nullString(sub.ChairID), boolInt(sub.NeedsManualAssignment), nullString(sub.RoutingNotes),
		nullTime(sub.SubmittedAt), formatTime(sub.UpdatedAt), sub.ID,
	)
	if err != nil {
		return fmt.Errorf("submitting %s: %w", sub.ID, err)
	}
	return expectOne(res, "submitting "+sub.ID)
}

// SetDetermination records the college representative's review type.
func (t *Tx) SetDetermination(ctx context.Context, sub types.ProtocolSubmission) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE protocol_submissions SET college_rep_determination = ?, review_type = ?,
			chair_id = ?, needs_manual_assignment = ?, routing_notes = ?,
			determined_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'submitted' AND decision = 'pending'`,
		string(sub.CollegeRepDetermination), string(sub.ReviewType), nullString(sub.ChairID),
		boolInt(sub.NeedsManualAssignment), nullString(sub.RoutingNotes),
		nullTime(sub.DeterminedAt), formatTime(sub.UpdatedAt), sub.ID,
	)
	if err != nil {
		return fmt.Errorf("recording determination for %s: %w", sub.ID, err)
	}
	return expectOne(res, "recording determination for "+sub.ID)
}

// SetAuthorities records a manual assignment of the college
// representative and chair on a submitted, undecided submission.
func (t *Tx) SetAuthorities(ctx context.Context, sub types.ProtocolSubmission) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE protocol_submissions SET college_rep_id = ?, chair_id = ?,
			needs_manual_assignment = ?, routing_notes = ?, updated_at = ?
		 WHERE id = ? AND status = 'submitted' AND decision = 'pending'`,
		nullString(sub.CollegeRepID), nullString(sub.ChairID),
		boolInt(sub.NeedsManualAssignment), nullString(sub.RoutingNotes),
		formatTime(sub.UpdatedAt), sub.ID,
	)
	if err != nil {
		return fmt.Errorf("assigning authorities to %s: %w", sub.ID, err)
	}
	return expectOne(res, "assigning authorities to "+sub.ID)
}

// AddReviewer assigns userID to the submission. Assigning the same
// reviewer twice is a no-op.
func (t *Tx) AddReviewer(ctx context.Context, submissionID, userID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO submission_reviewers (submission_id, user_id, assigned_at) VALUES (?, ?, ?)
		 ON CONFLICT(submission_id, user_id) DO NOTHING`,
		submissionID, userID, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("assigning reviewer %s to %s: %w", userID, submissionID, err)
	}
	return nil
}

// RecordDecision moves a pending submission to its decision. It returns
// ErrConflict when the submission was already decided.
func (t *Tx) RecordDecision(ctx context.Context, sub types.ProtocolSubmission) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE protocol_submissions SET decision = ?, decided_by = ?, protocol_number = ?,
			approval_notes = ?, revision_notes = ?, rejection_grounds = ?,
			decided_at = ?, updated_at = ?
		 WHERE id = ? AND decision = 'pending'`,
		string(sub.Decision), sub.DecidedBy, nullString(sub.ProtocolNumber),
		nullString(sub.ApprovalNotes), nullString(sub.RevisionNotes), nullString(sub.RejectionGrounds),
		nullTime(sub.DecidedAt), formatTime(sub.UpdatedAt), sub.ID,
	)
	if err != nil {
		return fmt.Errorf("recording decision for %s: %w", sub.ID, err)
	}
	return expectOne(res, "recording decision for "+sub.ID)
}

// LinkAnalysisReview points a submission at the analysis review it triggered.
func (t *Tx) LinkAnalysisReview(ctx context.Context, submissionID, reviewID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE protocol_submissions SET analysis_review_id = ? WHERE id = ?`, reviewID, submissionID)
	if err != nil {
		return fmt.Errorf("linking analysis review to %s: %w", submissionID, err)
	}
	return nil
}

// NextCounter increments the named counter and returns its new value.
// Counters start at 1.
func (t *Tx) NextCounter(ctx context.Context, name string) (int, error) {
	var v int
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES (?, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1
		 RETURNING value`, name,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("advancing counter %s: %w", name, err)
	}
	return v, nil
}
