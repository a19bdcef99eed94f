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

const reviewColumns = `id, study_id, submission_id, version, status, requested_by, repo_url,
	agent_results, critical_issues, moderate_issues, minor_issues, recommendations,
	overall_risk, model_versions, processing_time_seconds, error, response_notes,
	created_at, started_at, completed_at`

// NextReviewVersion returns one past the highest analysis review version
// for the study.
func (t *Tx) NextReviewVersion(ctx context.Context, studyID string) (int, error) {
	var v int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM analysis_reviews WHERE study_id = ?`, studyID,
	).Scan(&v); err != nil {
		return 0, fmt.Errorf("computing next review version for %s: %w", studyID, err)
	}
	return v, nil
}

// InsertAnalysisReview stores a pending review.
func (t *Tx) InsertAnalysisReview(ctx context.Context, r types.AnalysisReview) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO analysis_reviews (id, study_id, submission_id, version, status, requested_by, repo_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StudyID, nullString(r.SubmissionID), r.Version, string(r.Status), r.RequestedBy,
		nullString(r.RepoURL), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting analysis review %s: %w", r.ID, err)
	}
	return nil
}

// AnalysisReview fetches a review by ID.
func (s *Store) AnalysisReview(ctx context.Context, id string) (types.AnalysisReview, error) {
	return getReview(ctx, s.db, id)
}

// AnalysisReview fetches a review by ID within the transaction.
func (t *Tx) AnalysisReview(ctx context.Context, id string) (types.AnalysisReview, error) {
	return getReview(ctx, t.tx, id)
}

func getReview(ctx context.Context, q querier, id string) (types.AnalysisReview, error) {
	r, err := scanReview(q.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM analysis_reviews WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("analysis review %s: %w", id, ErrNotFound)
	}
	return r, err
}

// AnalysisReviewByVersion fetches a study's review by version.
func (s *Store) AnalysisReviewByVersion(ctx context.Context, studyID string, version int) (types.AnalysisReview, error) {
	r, err := scanReview(s.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM analysis_reviews WHERE study_id = ? AND version = ?`, studyID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("analysis review %s v%d: %w", studyID, version, ErrNotFound)
	}
	return r, err
}

// AnalysisReviews lists a study's reviews, newest version first.
func (s *Store) AnalysisReviews(ctx context.Context, studyID string) ([]types.AnalysisReview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM analysis_reviews WHERE study_id = ? ORDER BY version DESC`, studyID)
	if err != nil {
		return nil, fmt.Errorf("querying analysis reviews for %s: %w", studyID, err)
	}
	defer rows.Close()

	var out []types.AnalysisReview
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReview(row scanner) (types.AnalysisReview, error) {
	var r types.AnalysisReview
	var submissionID, repoURL, results, critical, moderate, minor, recs, risk, models sql.NullString
	var errMsg, notes, startedAt, completedAt sql.NullString
	var status, created string
	err := row.Scan(&r.ID, &r.StudyID, &submissionID, &r.Version, &status, &r.RequestedBy, &repoURL,
		&results, &critical, &moderate, &minor, &recs,
		&risk, &models, &r.ProcessingTimeSeconds, &errMsg, &notes,
		&created, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scanning analysis review: %w", err)
	}
	r.SubmissionID = submissionID.String
	r.RepoURL = repoURL.String
	r.Status = types.ReviewStatus(status)
	r.OverallRisk = types.RiskLevel(risk.String)
	r.Error = errMsg.String
	r.ResponseNotes = notes.String
	r.CreatedAt = parseTime(created)
	r.StartedAt = timePtr(startedAt)
	r.CompletedAt = timePtr(completedAt)

	for _, c := range []struct {
		col  sql.NullString
		dest any
	}{
		{results, &r.AgentResults},
		{critical, &r.CriticalIssues},
		{moderate, &r.ModerateIssues},
		{minor, &r.MinorIssues},
		{recs, &r.Recommendations},
		{models, &r.ModelVersions},
	} {
		if err := scanJSON(c.col, c.dest); err != nil {
			return r, fmt.Errorf("decoding analysis review %s: %w", r.ID, err)
		}
	}
	return r, nil
}

// StartAnalysisReview marks a review in progress. Re-starting an
// in-progress review is allowed so an interrupted run can resume; a closed
// review returns ErrConflict.
func (s *Store) StartAnalysisReview(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_reviews SET status = 'in_progress', started_at = COALESCE(started_at, ?)
		 WHERE id = ? AND status IN ('pending', 'in_progress')`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("starting analysis review %s: %w", id, err)
	}
	return expectOne(res, "starting analysis review "+id)
}

// CompleteAnalysisReview stores the aggregated results of an in-progress
// review. Only the first finisher succeeds; later ones get ErrConflict.
func (s *Store) CompleteAnalysisReview(ctx context.Context, r types.AnalysisReview) error {
	cols := make([]any, 0, 6)
	for _, v := range []any{r.AgentResults, r.CriticalIssues, r.ModerateIssues, r.MinorIssues, r.Recommendations, r.ModelVersions} {
		ns, err := jsonColumn(v)
		if err != nil {
			return fmt.Errorf("encoding analysis review %s: %w", r.ID, err)
		}
		cols = append(cols, ns)
	}
	args := append(cols, string(r.OverallRisk), r.ProcessingTimeSeconds, nullTime(r.CompletedAt), r.ID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_reviews SET status = 'completed',
			agent_results = ?, critical_issues = ?, moderate_issues = ?, minor_issues = ?,
			recommendations = ?, model_versions = ?, overall_risk = ?,
			processing_time_seconds = ?, completed_at = ?
		 WHERE id = ? AND status = 'in_progress'`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("completing analysis review %s: %w", r.ID, err)
	}
	return expectOne(res, "completing analysis review "+r.ID)
}

// FailAnalysisReview closes an open review with an error message.
func (s *Store) FailAnalysisReview(ctx context.Context, id, message string, processing float64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_reviews SET status = 'failed', error = ?, processing_time_seconds = ?, completed_at = ?
		 WHERE id = ? AND status IN ('pending', 'in_progress')`,
		message, processing, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failing analysis review %s: %w", id, err)
	}
	return expectOne(res, "failing analysis review "+id)
}

// SetResponseNotes records the researcher's response on a completed review.
func (t *Tx) SetResponseNotes(ctx context.Context, id, notes string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE analysis_reviews SET response_notes = ? WHERE id = ? AND status = 'completed'`, notes, id)
	if err != nil {
		return fmt.Errorf("recording response notes on %s: %w", id, err)
	}
	return expectOne(res, "recording response notes on "+id)
}
