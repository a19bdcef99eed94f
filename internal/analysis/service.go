// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package analysis runs multi-agent protocol analysis. Service opens
// reviews and answers lookups; Orchestrator executes a review in the
// background by assembling the study's materials, dispatching every agent
// concurrently, and aggregating their findings into a risk score and
// recommendations.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/pkg/types"
)

var (
	// ErrNotFound is returned for an unknown study or review.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the actor may not act on the study.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReviewClosed is returned by Orchestrator.Run for a review that has
	// already completed or failed.
	ErrReviewClosed = errors.New("analysis review is closed")

	// ErrNotCompleted is returned when responding to a review that has not
	// completed.
	ErrNotCompleted = errors.New("analysis review has not completed")
)

// OpenRequest describes a review to open.
type OpenRequest struct {
	StudyID      string
	SubmissionID string
	RequestedBy  string
	RepoURL      string
}

// Open inserts a pending review with the study's next version, audits it,
// and schedules its run, all in tx. The caller dispatches the returned job
// after commit.
func Open(ctx context.Context, tx *store.Tx, req OpenRequest, now time.Time) (types.AnalysisReview, types.Job, error) {
	version, err := tx.NextReviewVersion(ctx, req.StudyID)
	if err != nil {
		return types.AnalysisReview{}, types.Job{}, err
	}
	review := types.AnalysisReview{
		ID:           uuid.NewString(),
		StudyID:      req.StudyID,
		SubmissionID: req.SubmissionID,
		Version:      version,
		Status:       types.ReviewPending,
		RequestedBy:  req.RequestedBy,
		RepoURL:      req.RepoURL,
		CreatedAt:    now,
	}
	if err := tx.InsertAnalysisReview(ctx, review); err != nil {
		return types.AnalysisReview{}, types.Job{}, err
	}
	meta := map[string]any{"study_id": req.StudyID, "version": version}
	if req.SubmissionID != "" {
		meta["submission_id"] = req.SubmissionID
	}
	if err := tx.AppendAudit(ctx, types.AuditRecord{
		ActorID:   req.RequestedBy,
		Action:    "analysis.create",
		Entity:    "analysis_review",
		EntityID:  review.ID,
		Metadata:  meta,
		CreatedAt: now,
	}); err != nil {
		return types.AnalysisReview{}, types.Job{}, err
	}
	job := types.Job{
		ID:        uuid.NewString(),
		Kind:      types.JobRunAnalysis,
		StudyID:   req.StudyID,
		TargetID:  review.ID,
		CreatedAt: now,
	}
	if err := tx.ScheduleJob(ctx, job); err != nil {
		return types.AnalysisReview{}, types.Job{}, err
	}
	return review, job, nil
}

// Queue receives jobs after the transaction that scheduled them commits.
type Queue interface {
	Dispatch(job types.Job) bool
}

// ReviewRequest carries the optional inputs of a researcher-requested review.
type ReviewRequest struct {
	// RepoURL is an external repository whose file listing joins the
	// material bundle.
	RepoURL string
}

// Service opens and reads analysis reviews.
type Service struct {
	store  *store.Store
	queue  Queue
	now    func() time.Time
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithQueue sets where scheduled runs are dispatched.
func WithQueue(q Queue) ServiceOption { return func(s *Service) { s.queue = q } }

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// NewService returns a Service over st.
func NewService(st *store.Store, opts ...ServiceOption) *Service {
	s := &Service{store: st, now: time.Now, logger: logging.New("analysis")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateReview opens a review for a study and schedules its run. It
// returns the pending review without waiting for the run. Only the study
// owner or an admin may request a review.
func (s *Service) CreateReview(ctx context.Context, actor types.Actor, studyID string, req ReviewRequest) (types.AnalysisReview, error) {
	var (
		review types.AnalysisReview
		job    types.Job
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		study, err := tx.Study(ctx, studyID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("study %s: %w", studyID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if actor.ID != study.ResearcherID && actor.Role != types.RoleAdmin {
			return fmt.Errorf("%s may not request analysis of study %s: %w", actor.ID, studyID, ErrUnauthorized)
		}

		review, job, err = Open(ctx, tx, OpenRequest{StudyID: studyID, RequestedBy: actor.ID, RepoURL: req.RepoURL}, s.now())
		return err
	})
	if err != nil {
		return types.AnalysisReview{}, err
	}
	if s.queue != nil {
		s.queue.Dispatch(job)
	}
	s.logger.Info("analysis review opened", "study", studyID, "review", review.ID, "version", review.Version)
	return review, nil
}

// Review fetches a study's review by version. A version below 1 selects
// the latest review.
func (s *Service) Review(ctx context.Context, studyID string, version int) (types.AnalysisReview, error) {
	if version < 1 {
		reviews, err := s.store.AnalysisReviews(ctx, studyID)
		if err != nil {
			return types.AnalysisReview{}, err
		}
		if len(reviews) == 0 {
			return types.AnalysisReview{}, fmt.Errorf("study %s has no reviews: %w", studyID, ErrNotFound)
		}
		return reviews[0], nil
	}
	r, err := s.store.AnalysisReviewByVersion(ctx, studyID, version)
	if errors.Is(err, store.ErrNotFound) {
		return r, fmt.Errorf("study %s review v%d: %w", studyID, version, ErrNotFound)
	}
	return r, err
}

// Reviews lists a study's reviews, newest first.
func (s *Service) Reviews(ctx context.Context, studyID string) ([]types.AnalysisReview, error) {
	return s.store.AnalysisReviews(ctx, studyID)
}

// RespondToReview records the study owner's response notes on a completed
// review.
func (s *Service) RespondToReview(ctx context.Context, actor types.Actor, reviewID, notes string) (types.AnalysisReview, error) {
	var review types.AnalysisReview
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		r, err := tx.AnalysisReview(ctx, reviewID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("review %s: %w", reviewID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		study, err := tx.Study(ctx, r.StudyID)
		if err != nil {
			return err
		}
		if actor.ID != study.ResearcherID {
			return fmt.Errorf("%s may not respond to review %s: %w", actor.ID, reviewID, ErrUnauthorized)
		}
		if r.Status != types.ReviewCompleted {
			return fmt.Errorf("review %s is %s: %w", reviewID, r.Status, ErrNotCompleted)
		}
		if err := tx.SetResponseNotes(ctx, reviewID, notes); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("review %s: %w", reviewID, ErrNotCompleted)
			}
			return err
		}
		if err := tx.AppendAudit(ctx, types.AuditRecord{
			ActorID:   actor.ID,
			Action:    "analysis.respond",
			Entity:    "analysis_review",
			EntityID:  reviewID,
			CreatedAt: s.now(),
		}); err != nil {
			return err
		}
		review, err = tx.AnalysisReview(ctx, reviewID)
		return err
	})
	return review, err
}
