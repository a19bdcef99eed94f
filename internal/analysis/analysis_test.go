// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/irb-engine/internal/agents"
	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// --- fakes ---

type fakeAssembler struct {
	err     error
	repoURL string
}

func (f *fakeAssembler) Assemble(_ context.Context, study types.Study, repoURL string) (types.Bundle, error) {
	f.repoURL = repoURL
	if f.err != nil {
		return types.Bundle{}, f.err
	}
	return types.Bundle{
		Metadata:  map[string]any{"title": study.Title},
		Documents: map[string]string{"protocol": "We will survey students."},
	}, nil
}

// scriptedBackend replies per agent. Agents listed in hang block until the
// test ends regardless of ctx; agents in fail return an error.
type scriptedBackend struct {
	replies map[string]string
	fail    map[string]bool
	hang    map[string]bool
	release chan struct{}

	mu    sync.Mutex
	calls []string
}

func (b *scriptedBackend) Model() string { return "scripted-1" }

func (b *scriptedBackend) Complete(_ context.Context, req agents.Request) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req.Agent)
	b.mu.Unlock()

	if b.hang[req.Agent] {
		<-b.release
		return "", errors.New("released")
	}
	if b.fail[req.Agent] {
		return "", errors.New("provider unavailable")
	}
	if r, ok := b.replies[req.Agent]; ok {
		return r, nil
	}
	return `{"findings":[],"summary":"ok","risk_assessment":"minimal"}`, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []types.Job
}

func (q *recordingQueue) Dispatch(job types.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

// --- helpers ---

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "irb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var owner = types.Actor{ID: "researcher-1", Role: types.RoleResearcher}

func seedStudy(t *testing.T, s *store.Store) types.Study {
	t.Helper()
	now := time.Now()
	st := types.Study{
		ID:           "study-1",
		Title:        "Sleep and Memory",
		ResearcherID: owner.ID,
		Monitoring:   types.DefaultMonitoring(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateStudy(context.Background(), st))
	return st
}

func newOrchestrator(s *store.Store, asm Assembler, b agents.Backend, opts ...Option) *Orchestrator {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewOrchestrator(s, asm, b, opts...)
}

// --- service ---

func TestCreateReview(t *testing.T) {
	s := newTestStore(t)
	seedStudy(t, s)
	q := &recordingQueue{}
	svc := NewService(s, WithQueue(q))
	ctx := context.Background()

	first, err := svc.CreateReview(ctx, owner, "study-1", ReviewRequest{RepoURL: "https://osf.io/abc12/"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, types.ReviewPending, first.Status)
	assert.Equal(t, "https://osf.io/abc12/", first.RepoURL)

	admin := types.Actor{ID: "admin-1", Role: types.RoleAdmin}
	second, err := svc.CreateReview(ctx, admin, "study-1", ReviewRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	require.Len(t, q.jobs, 2)
	assert.Equal(t, types.JobRunAnalysis, q.jobs[0].Kind)
	assert.Equal(t, first.ID, q.jobs[0].TargetID)

	pending, err := s.Jobs().Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	trail, err := s.AuditTrail(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "analysis.create", trail[0].Action)
}

func TestCreateReviewRejections(t *testing.T) {
	s := newTestStore(t)
	seedStudy(t, s)
	svc := NewService(s)
	ctx := context.Background()

	stranger := types.Actor{ID: "someone-else", Role: types.RoleIRBMember}
	_, err := svc.CreateReview(ctx, stranger, "study-1", ReviewRequest{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.CreateReview(ctx, owner, "no-such-study", ReviewRequest{})
	assert.ErrorIs(t, err, ErrNotFound)

	reviews, err := svc.Reviews(ctx, "study-1")
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestReviewByVersion(t *testing.T) {
	s := newTestStore(t)
	seedStudy(t, s)
	svc := NewService(s)
	ctx := context.Background()

	created, err := svc.CreateReview(ctx, owner, "study-1", ReviewRequest{})
	require.NoError(t, err)

	got, err := svc.Review(ctx, "study-1", 1)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = svc.Review(ctx, "study-1", 7)
	assert.ErrorIs(t, err, ErrNotFound)

	second, err := svc.CreateReview(ctx, owner, "study-1", ReviewRequest{})
	require.NoError(t, err)
	latest, err := svc.Review(ctx, "study-1", 0)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, 2, latest.Version)

	_, err = svc.Review(ctx, "study-2", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- orchestrator ---

func TestRunCompletes(t *testing.T) {
	s := newTestStore(t)
	seedStudy(t, s)
	ctx := context.Background()
	review, err := NewService(s).CreateReview(ctx, owner, "study-1", ReviewRequest{RepoURL: "https://osf.io/x/"})
	require.NoError(t, err)

	backend := &scriptedBackend{replies: map[string]string{
		agents.Ethics:  `{"findings":[{"issue_id":"e1","severity":"critical","category":"deception","recommendation":"Justify deception"}],"risk_assessment":"high"}`,
		agents.Privacy: `{"findings":[{"issue_id":"p1","severity":"moderate","category":"storage"}],"risk_assessment":"low"}`,
		agents.Consent: "not json at all",
	}}
	asm := &fakeAssembler{}
	require.NoError(t, newOrchestrator(s, asm, backend).Run(ctx, review.ID))
	assert.Equal(t, "https://osf.io/x/", asm.repoURL)

	got, err := s.AnalysisReview(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewCompleted, got.Status)
	assert.Len(t, got.AgentResults, 5)
	assert.Equal(t, types.RiskHigh, got.OverallRisk)
	require.Len(t, got.CriticalIssues, 1)
	assert.Equal(t, "e1", got.CriticalIssues[0].IssueID)
	assert.Equal(t, agents.Ethics, got.CriticalIssues[0].Agent)

	var moderateIDs []string
	for _, f := range got.ModerateIssues {
		moderateIDs = append(moderateIDs, f.IssueID)
	}
	assert.ElementsMatch(t, []string{agents.ParseErrorID, "p1"}, moderateIDs)
	assert.Equal(t, "not json at all", got.AgentResults[agents.Consent].RawResponse)
	assert.Equal(t, "scripted-1", got.ModelVersions[agents.Vulnerability])
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.GreaterOrEqual(t, got.ProcessingTimeSeconds, 0.0)
}

func TestRunAgentTimeoutDoesNotStall(t *testing.T) {
	s := newTestStore(t)
	seedStudy(t, s)
	ctx := context.Background()
	review, err := NewService(s).CreateReview(ctx, owner, "study-1", ReviewRequest{})
	require.NoError(t, err)

	backend := &scriptedBackend{
		hang:    map[string]bool{agents.DataSecurity: true},
		fail:    map[string]bool{agents.Privacy: true},
		release: make(chan struct{}),
	}
	t.Cleanup(func() { close(backend.release) })

	orch := newOrchestrator(s, &fakeAssembler{}, backend, WithAgentTimeout(50*time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx, review.ID) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run stalled on a hung agent")
	}

	got, err := s.AnalysisReview(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewCompleted, got.Status)
	require.Len(t, got.AgentResults, 5)

	for _, name := range []string{agents.DataSecurity, agents.Privacy} {
		r := got.AgentResults[name]
		assert.NotEmpty(t, r.Error, name)
		require.Len(t, r.Findings, 1, name)
		assert.Equal(t, types.CategoryAnalysisError, r.Findings[0].Category)
		assert.Equal(t, "moderate", r.Findings[0].Severity)
	}
	assert.Contains(t, got.AgentResults[agents.DataSecurity].Error, "did not finish")
	assert.Len(t, got.ModerateIssues, 2)
	assert.Equal(t, types.RiskLow, got.OverallRisk)
}

func TestRunAssemblyFailure(t *testing.T) {
	s := newTestStore(t)
	seedStudy(t, s)
	ctx := context.Background()
	review, err := NewService(s).CreateReview(ctx, owner, "study-1", ReviewRequest{})
	require.NoError(t, err)

	backend := &scriptedBackend{}
	orch := newOrchestrator(s, &fakeAssembler{err: errors.New("documents root unreadable")}, backend)
	err = orch.Run(ctx, review.ID)
	require.ErrorIs(t, err, ErrReviewFailed)

	got, err := s.AnalysisReview(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewFailed, got.Status)
	assert.Contains(t, got.Error, "documents root unreadable")
	assert.Empty(t, backend.calls)

	require.NoError(t, orch.RunHandler()(ctx, types.Job{Kind: types.JobRunAnalysis, TargetID: review.ID}))
}

func TestRunIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedStudy(t, s)
	ctx := context.Background()
	review, err := NewService(s).CreateReview(ctx, owner, "study-1", ReviewRequest{})
	require.NoError(t, err)

	backend := &scriptedBackend{}
	orch := newOrchestrator(s, &fakeAssembler{}, backend)
	require.NoError(t, orch.Run(ctx, review.ID))
	assert.ErrorIs(t, orch.Run(ctx, review.ID), ErrReviewClosed)
	assert.Len(t, backend.calls, 5)

	handler := orch.RunHandler()
	require.NoError(t, handler(ctx, types.Job{Kind: types.JobRunAnalysis, TargetID: review.ID}))
	require.NoError(t, handler(ctx, types.Job{Kind: types.JobRunAnalysis, TargetID: "missing"}))
	assert.Len(t, backend.calls, 5)
}

func TestRunPlaceholderBackend(t *testing.T) {
	s := newTestStore(t)
	seedStudy(t, s)
	ctx := context.Background()
	review, err := NewService(s).CreateReview(ctx, owner, "study-1", ReviewRequest{})
	require.NoError(t, err)

	require.NoError(t, newOrchestrator(s, &fakeAssembler{}, agents.PlaceholderBackend{}).Run(ctx, review.ID))

	got, err := s.AnalysisReview(ctx, review.ID)
	require.NoError(t, err)
	assert.Len(t, got.MinorIssues, 5)
	assert.Equal(t, types.RiskMinimal, got.OverallRisk)
	for _, name := range agents.Names {
		assert.Equal(t, agents.PlaceholderModel, got.ModelVersions[name])
	}
}

// --- responses ---

func TestRespondToReview(t *testing.T) {
	s := newTestStore(t)
	seedStudy(t, s)
	ctx := context.Background()
	svc := NewService(s)
	review, err := svc.CreateReview(ctx, owner, "study-1", ReviewRequest{})
	require.NoError(t, err)

	_, err = svc.RespondToReview(ctx, owner, review.ID, "too early")
	assert.ErrorIs(t, err, ErrNotCompleted)

	require.NoError(t, newOrchestrator(s, &fakeAssembler{}, &scriptedBackend{}).Run(ctx, review.ID))

	_, err = svc.RespondToReview(ctx, types.Actor{ID: "intruder"}, review.ID, "mine now")
	assert.ErrorIs(t, err, ErrUnauthorized)

	got, err := svc.RespondToReview(ctx, owner, review.ID, "Consent form revised.")
	require.NoError(t, err)
	assert.Equal(t, "Consent form revised.", got.ResponseNotes)

	_, err = svc.RespondToReview(ctx, owner, "nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAgentFailure(t *testing.T) {
	r := agentFailure(agents.Consent, "m", fmt.Errorf("boom"))
	assert.Equal(t, "consent_error", r.Findings[0].IssueID)
	assert.Equal(t, agents.RiskUnknown, r.RiskAssessment)
	assert.Equal(t, "boom", r.Error)
}
