// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// Job statuses.
const (
	jobPending = "pending"
	jobDone    = "done"
	jobFailed  = "failed"
)

// ScheduleJob writes a job into the outbox in the caller's transaction, so
// the job exists if and only if the transition that produced it committed.
// Scheduling an existing job ID is a no-op.
func (t *Tx) ScheduleJob(ctx context.Context, job types.Job) error {
	return scheduleJob(ctx, t.tx, job)
}

func scheduleJob(ctx context.Context, q querier, job types.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, study_id, target_id, status, attempt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		job.ID, string(job.Kind), nullString(job.StudyID), nullString(job.TargetID),
		job.Attempt, formatTime(job.CreatedAt), formatTime(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", job.ID, err)
	}
	return nil
}

// Jobs is the SQLite-backed job outbox.
type Jobs struct {
	db *sql.DB
}

// Jobs returns the outbox view of the store.
func (s *Store) Jobs() *Jobs {
	return &Jobs{db: s.db}
}

// Schedule persists a pending job.
func (j *Jobs) Schedule(ctx context.Context, job types.Job) error {
	return scheduleJob(ctx, j.db, job)
}

// Pending returns up to limit pending jobs, oldest first. A non-positive
// limit returns all of them.
func (j *Jobs) Pending(ctx context.Context, limit int) ([]types.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kind, study_id, target_id, attempt, created_at
		 FROM jobs WHERE status = 'pending' ORDER BY created_at, rowid LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending jobs: %w", err)
	}
	defer rows.Close()

	var out []types.Job
	for rows.Next() {
		var job types.Job
		var kind, created string
		var studyID, targetID sql.NullString
		if err := rows.Scan(&job.ID, &kind, &studyID, &targetID, &job.Attempt, &created); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		job.Kind = types.JobKind(kind)
		job.StudyID = studyID.String
		job.TargetID = targetID.String
		job.CreatedAt = parseTime(created)
		out = append(out, job)
	}
	return out, rows.Err()
}

// MarkDone closes a job after its handler succeeded.
func (j *Jobs) MarkDone(ctx context.Context, id string, attempt int) error {
	return j.close(ctx, id, jobDone, attempt, "")
}

// MarkFailed closes a job whose attempts are exhausted.
func (j *Jobs) MarkFailed(ctx context.Context, id string, attempt int, lastErr string) error {
	return j.close(ctx, id, jobFailed, attempt, lastErr)
}

func (j *Jobs) close(ctx context.Context, id, status string, attempt int, lastErr string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempt = ?, last_error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, attempt, nullString(lastErr), formatTime(time.Now()), id, jobPending,
	)
	if err != nil {
		return fmt.Errorf("marking job %s %s: %w", id, status, err)
	}
	return nil
}

// JobCounts returns the number of jobs in each status.
func (j *Jobs) JobCounts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
