// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package submission implements the protocol submission lifecycle: drafting,
// submission and routing, college representative determination, reviewer
// assignment, decisions, resubmission after revise-and-resubmit, and
// amendments against approved protocols.
//
// Every operation runs inside one store transaction. The checks, the guarded
// state change, the audit record, and any follow-up jobs either all commit or
// none do. Rejected operations return a *RejectionError and write nothing.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdiddy/irb-engine/internal/analysis"
	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/internal/routing"
	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/internal/telemetry"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// Queue receives jobs after the transaction that scheduled them commits.
type Queue interface {
	Dispatch(job types.Job) bool
}

// Service runs lifecycle operations against a store.
type Service struct {
	store           *store.Store
	rules           routing.Rules
	queue           Queue
	analyzeOnSubmit bool
	now             func() time.Time
	logger          *slog.Logger
	metrics         *telemetry.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRules overrides the department routing rules.
func WithRules(r routing.Rules) Option { return func(s *Service) { s.rules = r } }

// WithQueue sets where committed jobs are dispatched. Without a queue, jobs
// stay in the outbox until a worker resumes them.
func WithQueue(q Queue) Option { return func(s *Service) { s.queue = q } }

// WithAnalysisOnSubmit opens an analysis review for every submitted protocol.
func WithAnalysisOnSubmit(on bool) Option { return func(s *Service) { s.analyzeOnSubmit = on } }

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService returns a Service over st.
func NewService(st *store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = logging.New("submission")
	}
	if s.metrics == nil {
		s.metrics = telemetry.Default()
	}
	return s
}

// DraftInput carries the researcher-authored fields of a submission. Empty
// fields leave the current value unchanged on update.
type DraftInput struct {
	Title           string
	Summary         string
	PISuggestedType types.ReviewType

	// InvolvesDeception defaults to the study's flag when nil.
	InvolvesDeception *bool
}

// DecisionInput is a reviewer's decision with its notes. Notes are
// required for revise-and-resubmit and rejection.
type DecisionInput struct {
	Decision types.Decision
	Notes    string
}

// AuthorityInput names the reviewing authorities an admin assigns by hand.
// An empty field leaves the current assignment unchanged.
type AuthorityInput struct {
	CollegeRepID string
	ChairID      string
}

// AmendmentInput describes a requested change to an approved protocol.
type AmendmentInput struct {
	Description string
}

// --- lookups ---

// Submission fetches one submission.
func (s *Service) Submission(ctx context.Context, id string) (types.ProtocolSubmission, error) {
	sub, err := s.store.Submission(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return sub, reject(KindNotFound, "submission %s does not exist", id)
	}
	return sub, err
}

// History returns every submission version for a study, ascending.
func (s *Service) History(ctx context.Context, studyID string) ([]types.ProtocolSubmission, error) {
	if _, err := s.store.Study(ctx, studyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject(KindNotFound, "study %s does not exist", studyID)
		}
		return nil, err
	}
	return s.store.Submissions(ctx, studyID)
}

// --- transaction plumbing ---

// run executes fn in a transaction and dispatches the jobs it scheduled
// once the transaction commits.
func (s *Service) run(ctx context.Context, fn func(tx *store.Tx, jobs *[]types.Job) error) error {
	var jobs []types.Job
	if err := s.store.InTx(ctx, func(tx *store.Tx) error {
		jobs = jobs[:0]
		return fn(tx, &jobs)
	}); err != nil {
		return err
	}
	if s.queue != nil {
		for _, j := range jobs {
			s.queue.Dispatch(j)
		}
	}
	return nil
}

func (s *Service) loadSubmission(ctx context.Context, tx *store.Tx, id string) (types.ProtocolSubmission, types.Study, error) {
	sub, err := tx.Submission(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return sub, types.Study{}, reject(KindNotFound, "submission %s does not exist", id)
	}
	if err != nil {
		return sub, types.Study{}, err
	}
	study, err := tx.Study(ctx, sub.StudyID)
	if err != nil {
		return sub, study, fmt.Errorf("loading study for submission %s: %w", id, err)
	}
	return sub, study, nil
}

func (s *Service) audit(ctx context.Context, tx *store.Tx, actor types.Actor, action, entity, id string, meta map[string]any) error {
	return tx.AppendAudit(ctx, types.AuditRecord{
		ActorID:   actor.ID,
		Action:    action,
		Entity:    entity,
		EntityID:  id,
		Metadata:  meta,
		CreatedAt: s.now(),
	})
}

func newJob(kind types.JobKind, studyID, targetID string, at time.Time) types.Job {
	return types.Job{ID: newID(), Kind: kind, StudyID: studyID, TargetID: targetID, CreatedAt: at}
}

func schedule(ctx context.Context, tx *store.Tx, jobs *[]types.Job, job types.Job) error {
	if err := tx.ScheduleJob(ctx, job); err != nil {
		return err
	}
	*jobs = append(*jobs, job)
	return nil
}

// openAnalysis opens an analysis review for a just-submitted protocol in
// the same transaction.
func (s *Service) openAnalysis(ctx context.Context, tx *store.Tx, jobs *[]types.Job, actor types.Actor, sub *types.ProtocolSubmission) error {
	review, job, err := analysis.Open(ctx, tx, analysis.OpenRequest{
		StudyID:      sub.StudyID,
		SubmissionID: sub.ID,
		RequestedBy:  actor.ID,
	}, s.now())
	if err != nil {
		return err
	}
	if err := tx.LinkAnalysisReview(ctx, sub.ID, review.ID); err != nil {
		return err
	}
	sub.AnalysisReviewID = review.ID
	*jobs = append(*jobs, job)
	return nil
}
