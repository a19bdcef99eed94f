// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tasks

import (
	"context"
	"sort"
	"sync"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// Outbox persists jobs so that work survives a process restart. A job is
// written before it is dispatched and closed only after its handler
// returns, which yields at-least-once delivery.
type Outbox interface {
	Schedule(ctx context.Context, job types.Job) error
	Pending(ctx context.Context, limit int) ([]types.Job, error)
	MarkDone(ctx context.Context, id string, attempt int) error
	MarkFailed(ctx context.Context, id string, attempt int, lastErr string) error
}

// MemoryOutbox is an in-process Outbox for tests and one-shot runs.
type MemoryOutbox struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
	seq  int
}

type memoryJob struct {
	job     types.Job
	seq     int
	status  string
	lastErr string
}

// NewMemoryOutbox returns an empty MemoryOutbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{jobs: make(map[string]*memoryJob)}
}

// Schedule implements Outbox. Re-scheduling a known ID is a no-op.
func (o *MemoryOutbox) Schedule(_ context.Context, job types.Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.jobs[job.ID]; ok {
		return nil
	}
	o.seq++
	o.jobs[job.ID] = &memoryJob{job: job, seq: o.seq, status: "pending"}
	return nil
}

// Pending implements Outbox.
func (o *MemoryOutbox) Pending(_ context.Context, limit int) ([]types.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var open []*memoryJob
	for _, j := range o.jobs {
		if j.status == "pending" {
			open = append(open, j)
		}
	}
	sort.Slice(open, func(a, b int) bool { return open[a].seq < open[b].seq })
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	out := make([]types.Job, len(open))
	for i, j := range open {
		out[i] = j.job
	}
	return out, nil
}

// MarkDone implements Outbox.
func (o *MemoryOutbox) MarkDone(_ context.Context, id string, attempt int) error {
	o.close(id, "done", attempt, "")
	return nil
}

// MarkFailed implements Outbox.
func (o *MemoryOutbox) MarkFailed(_ context.Context, id string, attempt int, lastErr string) error {
	o.close(id, "failed", attempt, lastErr)
	return nil
}

func (o *MemoryOutbox) close(id, status string, attempt int, lastErr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j, ok := o.jobs[id]; ok && j.status == "pending" {
		j.status = status
		j.job.Attempt = attempt
		j.lastErr = lastErr
	}
}

// Status reports a job's status and last error.
func (o *MemoryOutbox) Status(id string) (status, lastErr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j, ok := o.jobs[id]; ok {
		return j.status, j.lastErr
	}
	return "", ""
}
