// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/internal/notify"
	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/pkg/types"
)

type jobQueue struct {
	mu   sync.Mutex
	jobs []types.Job
}

func (q *jobQueue) Dispatch(job types.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

type fixture struct {
	store    *store.Store
	recorder *notify.Recorder
	monitor  *Monitor
	intake   *Intake
	queue    *jobQueue
}

func newFixture(t *testing.T, cfg types.MonitoringConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "irb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.CreateUser(ctx, types.User{
		ID: "owner", Email: "owner@example.edu", Name: "Olive Owner", Role: types.RoleResearcher,
	}))
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateStudy(ctx, types.Study{
		ID:           "study-1",
		Title:        "Priming and Recall",
		ResearcherID: "owner",
		Monitoring:   cfg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	f := &fixture{store: st, recorder: &notify.Recorder{}, queue: &jobQueue{}}
	f.monitor = New(st, f.recorder, WithSiteURL("https://irb.example.edu"), WithLogger(logging.Discard()))
	f.intake = NewIntake(st, f.queue)
	return f
}

func enabled() types.MonitoringConfig {
	cfg := types.DefaultMonitoring()
	cfg.Enabled = true
	return cfg
}

func (f *fixture) ingest(t *testing.T, n int, payload string) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.intake.Ingest(context.Background(), "study-1", fmt.Sprintf("s%d", i), json.RawMessage(payload))
		require.NoError(t, err)
	}
}

func TestMonitorScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enabled())

	f.ingest(t, 19, `{"outcome": true}`)
	value, err := f.monitor.Recompute(ctx, "study-1")
	require.NoError(t, err)
	assert.Nil(t, value)
	study, err := f.store.Study(ctx, "study-1")
	require.NoError(t, err)
	assert.Nil(t, study.CurrentEvidence)

	f.ingest(t, 1, `{"outcome": true}`)
	value, err = f.monitor.Recompute(ctx, "study-1")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, 0.5, *value)
	notified, err := f.monitor.MaybeNotify(ctx, "study-1")
	require.NoError(t, err)
	assert.False(t, notified)

	f.ingest(t, 20, `{"outcome": false}`)
	value, err = f.monitor.Recompute(ctx, "study-1")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, 12.0, *value)

	notified, err = f.monitor.MaybeNotify(ctx, "study-1")
	require.NoError(t, err)
	assert.True(t, notified)
	notified, err = f.monitor.MaybeNotify(ctx, "study-1")
	require.NoError(t, err)
	assert.False(t, notified, "second call must not notify again")

	msgs := f.recorder.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"owner@example.edu"}, msgs[0].Recipients)
	assert.Equal(t, "Bayesian Monitoring Alert: Priming and Recall", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "Sample Size: 40")
	assert.Contains(t, msgs[0].Body, "https://irb.example.edu/studies/study-1/")

	study, err = f.store.Study(ctx, "study-1")
	require.NoError(t, err)
	assert.True(t, study.Notified)
	assert.Equal(t, 40, study.EvidenceN)
}

func TestMonitorDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.DefaultMonitoring())
	f.ingest(t, 45, `{"outcome": true}`)

	value, err := f.monitor.Recompute(ctx, "study-1")
	require.NoError(t, err)
	assert.Nil(t, value)
	notified, err := f.monitor.MaybeNotify(ctx, "study-1")
	require.NoError(t, err)
	assert.False(t, notified)
	assert.Empty(t, f.recorder.Messages())
}

func TestMaybeNotifyConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enabled())
	f.ingest(t, 40, `{"outcome": true}`)
	_, err := f.monitor.Recompute(ctx, "study-1")
	require.NoError(t, err)

	const callers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.monitor.MaybeNotify(ctx, "study-1")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)
	assert.Len(t, f.recorder.Messages(), 1)
}

func TestConcurrentIngestAcrossThresholdNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 10; round++ {
		f := newFixture(t, enabled())
		f.ingest(t, 38, `{"outcome": true}`)
		handle := f.monitor.Handler()

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := f.intake.Ingest(ctx, "study-1", fmt.Sprintf("late-%d", i), json.RawMessage(`{"outcome": true}`))
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, handle(ctx, types.Job{Kind: types.JobRecomputeEvidence, StudyID: "study-1"}))
			}(i)
		}
		wg.Wait()

		// Redelivered jobs find the study already notified.
		for _, job := range f.queue.jobs {
			require.NoError(t, handle(ctx, job))
		}

		study, err := f.store.Study(ctx, "study-1")
		require.NoError(t, err)
		assert.True(t, study.Notified, "round %d", round)
		assert.Equal(t, 40, study.EvidenceN, "round %d", round)
		assert.Len(t, f.recorder.Messages(), 1, "round %d", round)
	}
}

func TestMaybeNotifySendFailureStillNotified(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enabled())
	f.recorder.Err = notify.ErrUnavailable
	f.ingest(t, 40, `{}`)
	_, err := f.monitor.Recompute(ctx, "study-1")
	require.NoError(t, err)

	notified, err := f.monitor.MaybeNotify(ctx, "study-1")
	require.NoError(t, err)
	assert.True(t, notified)

	f.recorder.Err = nil
	notified, err = f.monitor.MaybeNotify(ctx, "study-1")
	require.NoError(t, err)
	assert.False(t, notified)
	assert.Empty(t, f.recorder.Messages())
}

func TestRecomputeStaleWriteDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enabled())
	f.ingest(t, 20, `{}`)

	written, err := f.store.UpdateEvidence(ctx, "study-1", 8.0, 35)
	require.NoError(t, err)
	require.True(t, written)

	value, err := f.monitor.Recompute(ctx, "study-1")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, 0.5, *value)

	study, err := f.store.Study(ctx, "study-1")
	require.NoError(t, err)
	require.NotNil(t, study.CurrentEvidence)
	assert.Equal(t, 8.0, *study.CurrentEvidence)
	assert.Equal(t, 35, study.EvidenceN)
}

func TestRecomputeUnknownStrategy(t *testing.T) {
	cfg := enabled()
	cfg.Strategy = "sprt"
	f := newFixture(t, cfg)
	f.ingest(t, 20, `{}`)

	_, err := f.monitor.Recompute(context.Background(), "study-1")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestRecomputeCustomStrategy(t *testing.T) {
	cfg := enabled()
	cfg.Strategy = "count"
	cfg.MinSampleSize = 1
	f := newFixture(t, cfg)

	reg := NewRegistry()
	require.NoError(t, reg.Register("count", StrategyFunc(func(r []json.RawMessage, _ map[string]any) (float64, error) {
		return float64(len(r)), nil
	})))
	f.monitor = New(f.store, f.recorder, WithRegistry(reg), WithLogger(logging.Discard()))
	f.ingest(t, 3, `{}`)

	value, err := f.monitor.Recompute(context.Background(), "study-1")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, 3.0, *value)
}

func TestHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enabled())
	f.ingest(t, 40, `{}`)
	require.Len(t, f.queue.jobs, 40)
	job := f.queue.jobs[39]
	assert.Equal(t, types.JobRecomputeEvidence, job.Kind)
	assert.Equal(t, "study-1", job.TargetID)

	h := f.monitor.Handler()
	require.NoError(t, h(ctx, job))
	require.NoError(t, h(ctx, job))
	assert.Len(t, f.recorder.Messages(), 1)

	assert.NoError(t, h(ctx, types.Job{Kind: types.JobRecomputeEvidence, TargetID: "missing"}))
}

func TestIngestRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enabled())

	_, err := f.intake.Ingest(ctx, "study-1", "s", json.RawMessage(`[1, 2]`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = f.intake.Ingest(ctx, "study-1", "s", json.RawMessage(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = f.intake.Ingest(ctx, "nope", "s", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, store.ErrNotFound))

	n, err := f.store.CountResponses(ctx, "study-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.queue.jobs)
}

func TestPlaceholder(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0.5}, {20, 0.5}, {21, 3}, {29, 3}, {30, 8}, {39, 8}, {40, 12}, {500, 12},
	}
	for _, tt := range tests {
		got, err := Placeholder(make([]json.RawMessage, tt.n), nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "n=%d", tt.n)
	}
}

func responses(payloads ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(payloads))
	for i, p := range payloads {
		out[i] = json.RawMessage(p)
	}
	return out
}

func TestBinomial(t *testing.T) {
	// One success out of one: BF10 = (1/2) / 0.5 = 1.
	bf, err := Binomial(responses(`{"outcome": true}`), nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, bf, 1e-9)

	// Ten of ten: BF10 = (1/11) / 0.5^10.
	var all []string
	for i := 0; i < 10; i++ {
		all = append(all, `{"outcome": 1}`)
	}
	bf, err = Binomial(responses(all...), nil)
	require.NoError(t, err)
	assert.InDelta(t, math.Pow(2, 10)/11, bf, 1e-6)

	// Mixed encodings and a custom field; unusable payloads are skipped.
	bf, err = Binomial(responses(`{"hit": "yes"}`, `{"hit": "no"}`, `{"hit": 0.5}`, `{}`), map[string]any{"field": "hit"})
	require.NoError(t, err)
	// k=1, n=2: (1/6) / 0.25.
	assert.InDelta(t, 2.0/3.0, bf, 1e-9)

	_, err = Binomial(responses(`{"other": true}`), nil)
	assert.Error(t, err)
	_, err = Binomial(responses(`{"outcome": true}`), map[string]any{"p0": 1.5})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{StrategyBinomial, StrategyPlaceholder}, r.Names())
	assert.Error(t, r.Register(StrategyPlaceholder, StrategyFunc(Placeholder)))
	assert.Error(t, r.Register("", StrategyFunc(Placeholder)))
	assert.Panics(t, func() { r.MustRegister(StrategyBinomial, StrategyFunc(Binomial)) })

	_, ok := r.Lookup("missing")
	assert.False(t, ok)
}
