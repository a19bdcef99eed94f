// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/irb-engine/internal/agents"
	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/internal/telemetry"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// ErrReviewFailed wraps the error of a run that closed its review as failed.
var ErrReviewFailed = errors.New("analysis review failed")

// DefaultAgentTimeout bounds one agent call when no timeout is configured.
const DefaultAgentTimeout = 2 * time.Minute

// Assembler builds the material bundle for a study.
type Assembler interface {
	Assemble(ctx context.Context, study types.Study, repoURL string) (types.Bundle, error)
}

// Orchestrator executes analysis reviews.
type Orchestrator struct {
	store     *store.Store
	assembler Assembler
	backend   agents.Backend
	agents    []agents.Agent
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAgents replaces the agent set, e.g. with criteria loaded from a file.
func WithAgents(a []agents.Agent) Option { return func(o *Orchestrator) { o.agents = a } }

// WithAgentTimeout bounds each agent call.
func WithAgentTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.timeout = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// NewOrchestrator returns an Orchestrator running the built-in agents
// against backend.
func NewOrchestrator(st *store.Store, asm Assembler, backend agents.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		assembler: asm,
		backend:   backend,
		agents:    agents.Registry(),
		timeout:   DefaultAgentTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.New("orchestrator")
	}
	if o.metrics == nil {
		o.metrics = telemetry.Default()
	}
	return o
}

// Run executes the review. A closed review is left untouched and yields
// ErrReviewClosed. Failure to assemble materials closes the review as failed
// and yields ErrReviewFailed; agent failures and timeouts become findings
// and never fail the run. If ctx ends mid-run the review stays in progress
// so a later Run can resume it.
func (o *Orchestrator) Run(ctx context.Context, reviewID string) error {
	review, err := o.store.AnalysisReview(ctx, reviewID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("review %s: %w", reviewID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if review.Status.Closed() {
		return fmt.Errorf("review %s is %s: %w", reviewID, review.Status, ErrReviewClosed)
	}

	started := o.now()
	if err := o.store.StartAnalysisReview(ctx, reviewID, started); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("review %s: %w", reviewID, ErrReviewClosed)
		}
		return err
	}
	log := o.logger.With("review", reviewID, "study", review.StudyID, "version", review.Version)
	log.Info("analysis started", "agents", len(o.agents))

	study, err := o.store.Study(ctx, review.StudyID)
	if err != nil {
		return o.fail(ctx, log, review, started, fmt.Errorf("loading study: %w", err))
	}
	bundle, err := o.assembler.Assemble(ctx, study, review.RepoURL)
	if err != nil {
		return o.fail(ctx, log, review, started, fmt.Errorf("assembling materials: %w", err))
	}
	log.Debug("materials assembled", "documents", len(bundle.Documents), "repo", bundle.RepoListing != nil)

	results := o.dispatch(ctx, log, bundle)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	agg := Aggregate(results)
	finished := o.now()
	review.AgentResults = results
	review.CriticalIssues = agg.Critical
	review.ModerateIssues = agg.Moderate
	review.MinorIssues = agg.Minor
	review.Recommendations = agg.Recommendations
	review.OverallRisk = agg.OverallRisk
	review.ModelVersions = make(map[string]string, len(results))
	for name, r := range results {
		review.ModelVersions[name] = r.Model
	}
	review.ProcessingTimeSeconds = finished.Sub(started).Seconds()
	review.CompletedAt = &finished

	if err := o.store.CompleteAnalysisReview(ctx, review); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("review %s: %w", reviewID, ErrReviewClosed)
		}
		return err
	}
	o.metrics.AnalysisRun(ctx, string(types.ReviewCompleted), finished.Sub(started))
	log.Info("analysis completed",
		"risk", agg.OverallRisk,
		"critical", len(agg.Critical),
		"moderate", len(agg.Moderate),
		"minor", len(agg.Minor),
		"seconds", review.ProcessingTimeSeconds,
	)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, review types.AnalysisReview, started time.Time, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	finished := o.now()
	elapsed := finished.Sub(started)
	if err := o.store.FailAnalysisReview(ctx, review.ID, cause.Error(), elapsed.Seconds(), finished); err != nil {
		return errors.Join(cause, err)
	}
	o.metrics.AnalysisRun(ctx, string(types.ReviewFailed), elapsed)
	log.Error("analysis failed", "error", cause)
	return fmt.Errorf("review %s: %w: %w", review.ID, ErrReviewFailed, cause)
}

// dispatch runs every agent concurrently and returns one result per agent.
func (o *Orchestrator) dispatch(ctx context.Context, log *slog.Logger, bundle types.Bundle) map[string]types.AgentResult {
	results := make([]types.AgentResult, len(o.agents))
	var g errgroup.Group
	for i, a := range o.agents {
		i, a := i, a
		g.Go(func() error {
			results[i] = o.runAgent(ctx, log, a, bundle)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]types.AgentResult, len(results))
	for _, r := range results {
		out[r.Agent] = r
	}
	return out
}

// runAgent calls one agent under the per-agent timeout. The call runs in
// its own goroutine so a backend that ignores cancellation cannot hold up
// the run past the timeout.
func (o *Orchestrator) runAgent(ctx context.Context, log *slog.Logger, a agents.Agent, bundle types.Bundle) types.AgentResult {
	actx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type outcome struct {
		result types.AgentResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("%s agent panicked: %v", a.Name, r)}
			}
		}()
		res, err := agents.Analyze(actx, a, o.backend, bundle)
		ch <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-actx.Done():
		out.err = fmt.Errorf("%s agent did not finish within %s: %w", a.Name, o.timeout, actx.Err())
	}
	if out.err == nil {
		return out.result
	}

	o.metrics.AgentFailure(ctx, a.Name)
	log.Warn("agent failed", "agent", a.Name, "error", out.err)
	return agentFailure(a.Name, o.backend.Model(), out.err)
}

// agentFailure records a failed agent as a single moderate finding.
func agentFailure(agent, model string, err error) types.AgentResult {
	return types.AgentResult{
		Agent: agent,
		Model: model,
		Error: err.Error(),
		Findings: []types.Finding{{
			IssueID:         agent + "_error",
			Severity:        string(types.SeverityModerate),
			Category:        types.CategoryAnalysisError,
			Description:     "Agent analysis failed: " + err.Error(),
			Recommendation:  "Manual review recommended",
			AffectedSection: "N/A",
		}},
		Summary:        agent + " analysis failed",
		RiskAssessment: agents.RiskUnknown,
	}
}

// RunHandler returns the job handler for run_analysis jobs. Reviews that
// are already closed, or that this run closed as failed, complete the job.
func (o *Orchestrator) RunHandler() func(context.Context, types.Job) error {
	return func(ctx context.Context, job types.Job) error {
		err := o.Run(ctx, job.TargetID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrReviewClosed):
			o.logger.Debug("skipping closed review", "review", job.TargetID)
			return nil
		case errors.Is(err, ErrReviewFailed), errors.Is(err, ErrNotFound):
			return nil
		}
		return err
	}
}
