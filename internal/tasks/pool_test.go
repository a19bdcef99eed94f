// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tasks

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/pkg/types"
)

func TestMain(m *testing.M) {
	RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

func newTestPool(t *testing.T, outbox Outbox, attempts int) *Pool {
	t.Helper()
	p := NewPool(outbox, types.WorkerConfig{Count: 3, QueueSize: 8, MaxAttempts: attempts}, WithLogger(logging.Discard()))
	t.Cleanup(p.Stop)
	return p
}

func drain(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Drain(ctx))
}

func TestPool_RunsEnqueuedJobs(t *testing.T) {
	outbox := NewMemoryOutbox()
	p := newTestPool(t, outbox, 3)

	var seen sync.Map
	p.Handle(types.JobRecomputeEvidence, func(_ context.Context, job types.Job) error {
		seen.Store(job.StudyID, job.Attempt)
		return nil
	})
	p.Start(context.Background())

	var ids []string
	for _, study := range []string{"s1", "s2", "s3"} {
		job, err := p.Enqueue(context.Background(), types.Job{Kind: types.JobRecomputeEvidence, StudyID: study})
		require.NoError(t, err)
		require.NotEmpty(t, job.ID)
		ids = append(ids, job.ID)
	}
	drain(t, p)

	for _, study := range []string{"s1", "s2", "s3"} {
		attempt, ok := seen.Load(study)
		require.True(t, ok, study)
		assert.Equal(t, 1, attempt)
	}
	for _, id := range ids {
		status, _ := outbox.Status(id)
		assert.Equal(t, "done", status)
	}
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	outbox := NewMemoryOutbox()
	p := newTestPool(t, outbox, 3)

	var calls atomic.Int32
	p.Handle(types.JobRunAnalysis, func(context.Context, types.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("backend busy")
		}
		return nil
	})
	p.Start(context.Background())

	job, err := p.Enqueue(context.Background(), types.Job{Kind: types.JobRunAnalysis, TargetID: "r1"})
	require.NoError(t, err)
	drain(t, p)

	assert.Equal(t, int32(3), calls.Load())
	status, _ := outbox.Status(job.ID)
	assert.Equal(t, "done", status)
}

func TestPool_ExhaustedAttemptsMarkFailed(t *testing.T) {
	outbox := NewMemoryOutbox()
	p := newTestPool(t, outbox, 2)

	var calls atomic.Int32
	p.Handle(types.JobNotifySubmission, func(context.Context, types.Job) error {
		calls.Add(1)
		return errors.New("relay down")
	})
	p.Start(context.Background())

	job, err := p.Enqueue(context.Background(), types.Job{Kind: types.JobNotifySubmission})
	require.NoError(t, err)
	drain(t, p)

	assert.Equal(t, int32(2), calls.Load())
	status, lastErr := outbox.Status(job.ID)
	assert.Equal(t, "failed", status)
	assert.Equal(t, "relay down", lastErr)
}

func TestPool_UnknownKindFails(t *testing.T) {
	outbox := NewMemoryOutbox()
	p := newTestPool(t, outbox, 3)
	p.Start(context.Background())

	job, err := p.Enqueue(context.Background(), types.Job{Kind: "mystery"})
	require.NoError(t, err)
	drain(t, p)

	status, lastErr := outbox.Status(job.ID)
	assert.Equal(t, "failed", status)
	assert.Contains(t, lastErr, "no handler")
}

func TestPool_ResumePicksUpPersistedJobs(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, outbox.Schedule(ctx, types.Job{ID: id, Kind: types.JobRecomputeEvidence}))
	}

	p := newTestPool(t, outbox, 1)
	var calls atomic.Int32
	p.Handle(types.JobRecomputeEvidence, func(context.Context, types.Job) error {
		calls.Add(1)
		return nil
	})

	assert.False(t, p.Dispatch(types.Job{ID: "a", Kind: types.JobRecomputeEvidence}), "stopped pool accepts nothing")

	p.Start(ctx)
	n, err := p.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	drain(t, p)

	assert.Equal(t, int32(4), calls.Load())
	pending, err := outbox.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPool_DispatchIgnoresDuplicateWhileQueued(t *testing.T) {
	outbox := NewMemoryOutbox()
	p := newTestPool(t, outbox, 1)

	release := make(chan struct{})
	var calls atomic.Int32
	p.Handle(types.JobRunAnalysis, func(context.Context, types.Job) error {
		calls.Add(1)
		<-release
		return nil
	})
	p.Start(context.Background())

	job, err := p.Enqueue(context.Background(), types.Job{ID: "dup", Kind: types.JobRunAnalysis})
	require.NoError(t, err)
	assert.True(t, p.Dispatch(job))
	close(release)
	drain(t, p)

	assert.Equal(t, int32(1), calls.Load())
}

func TestPool_StopLeavesQueuedJobsPending(t *testing.T) {
	outbox := NewMemoryOutbox()
	p := NewPool(outbox, types.WorkerConfig{Count: 1, QueueSize: 4, MaxAttempts: 1}, WithLogger(logging.Discard()))

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	p.Handle(types.JobRunAnalysis, func(ctx context.Context, _ types.Job) error {
		started <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	_, err := p.Enqueue(ctx, types.Job{ID: "first", Kind: types.JobRunAnalysis})
	require.NoError(t, err)
	<-started
	_, err = p.Enqueue(ctx, types.Job{ID: "second", Kind: types.JobRunAnalysis})
	require.NoError(t, err)

	cancel()
	p.Stop()
	close(block)

	status, _ := outbox.Status("second")
	assert.Equal(t, "pending", status)
}

func TestPool_DrainReturnsAfterStopWithQueuedJobs(t *testing.T) {
	outbox := NewMemoryOutbox()
	p := NewPool(outbox, types.WorkerConfig{Count: 1, QueueSize: 4, MaxAttempts: 1}, WithLogger(logging.Discard()))

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	p.Handle(types.JobRecomputeEvidence, func(ctx context.Context, _ types.Job) error {
		started <- struct{}{}
		<-block
		return nil
	})
	p.Start(context.Background())

	_, err := p.Enqueue(context.Background(), types.Job{ID: "running", Kind: types.JobRecomputeEvidence})
	require.NoError(t, err)
	<-started
	for _, id := range []string{"queued-1", "queued-2"} {
		_, err := p.Enqueue(context.Background(), types.Job{ID: id, Kind: types.JobRecomputeEvidence})
		require.NoError(t, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	p.Stop()

	drain(t, p)
	for _, id := range []string{"queued-1", "queued-2"} {
		status, _ := outbox.Status(id)
		assert.Equal(t, "pending", status, id)
	}
	assert.False(t, p.Dispatch(types.Job{ID: "late", Kind: types.JobRecomputeEvidence}))
}

func TestPool_DrainReturnsAfterContextCancel(t *testing.T) {
	outbox := NewMemoryOutbox()
	p := NewPool(outbox, types.WorkerConfig{Count: 1, QueueSize: 4, MaxAttempts: 1}, WithLogger(logging.Discard()))
	t.Cleanup(p.Stop)

	started := make(chan struct{}, 1)
	p.Handle(types.JobRecomputeEvidence, func(ctx context.Context, _ types.Job) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	_, err := p.Enqueue(ctx, types.Job{ID: "running", Kind: types.JobRecomputeEvidence})
	require.NoError(t, err)
	<-started
	_, err = p.Enqueue(ctx, types.Job{ID: "queued", Kind: types.JobRecomputeEvidence})
	require.NoError(t, err)

	cancel()
	drain(t, p)
	status, _ := outbox.Status("queued")
	assert.Equal(t, "pending", status)
}
