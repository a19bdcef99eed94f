// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pdiddy/irb-engine/pkg/types"
)

const amendmentColumns = `id, submission_id, study_id, seq, amendment_number, description,
	requested_by, decision, decided_by, notes, created_at, decided_at`

// Amendment fetches an amendment by ID.
func (s *Store) Amendment(ctx context.Context, id string) (types.ProtocolAmendment, error) {
	return getAmendment(ctx, s.db, id)
}

// Amendment fetches an amendment within the transaction.
func (t *Tx) Amendment(ctx context.Context, id string) (types.ProtocolAmendment, error) {
	return getAmendment(ctx, t.tx, id)
}

func getAmendment(ctx context.Context, q querier, id string) (types.ProtocolAmendment, error) {
	a, err := scanAmendment(q.QueryRowContext(ctx,
		`SELECT `+amendmentColumns+` FROM protocol_amendments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("amendment %s: %w", id, ErrNotFound)
	}
	return a, err
}

// Amendments lists the amendments filed against a submission, by sequence.
func (s *Store) Amendments(ctx context.Context, submissionID string) ([]types.ProtocolAmendment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+amendmentColumns+` FROM protocol_amendments WHERE submission_id = ? ORDER BY seq`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("querying amendments for %s: %w", submissionID, err)
	}
	defer rows.Close()

	var out []types.ProtocolAmendment
	for rows.Next() {
		a, err := scanAmendment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAmendment(row scanner) (types.ProtocolAmendment, error) {
	var a types.ProtocolAmendment
	var decision, created string
	var decidedBy, notes, decidedAt sql.NullString
	err := row.Scan(&a.ID, &a.SubmissionID, &a.StudyID, &a.Seq, &a.AmendmentNumber, &a.Description,
		&a.RequestedBy, &decision, &decidedBy, &notes, &created, &decidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scanning amendment: %w", err)
	}
	a.Decision = types.Decision(decision)
	a.DecidedBy = decidedBy.String
	a.Notes = notes.String
	a.CreatedAt = parseTime(created)
	a.DecidedAt = timePtr(decidedAt)
	return a, nil
}

// NextAmendmentSeq returns one past the highest amendment sequence filed
// against the submission.
func (t *Tx) NextAmendmentSeq(ctx context.Context, submissionID string) (int, error) {
	var seq int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM protocol_amendments WHERE submission_id = ?`, submissionID,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("computing amendment sequence for %s: %w", submissionID, err)
	}
	return seq, nil
}

// InsertAmendment stores a pending amendment.
func (t *Tx) InsertAmendment(ctx context.Context, a types.ProtocolAmendment) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO protocol_amendments (id, submission_id, study_id, seq, amendment_number,
			description, requested_by, decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SubmissionID, a.StudyID, a.Seq, a.AmendmentNumber,
		a.Description, a.RequestedBy, string(a.Decision), formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting amendment %s: %w", a.ID, err)
	}
	return nil
}

// RecordAmendmentDecision moves a pending amendment to its decision. It
// returns ErrConflict when the amendment was already decided.
func (t *Tx) RecordAmendmentDecision(ctx context.Context, a types.ProtocolAmendment) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE protocol_amendments SET decision = ?, decided_by = ?, notes = ?, decided_at = ?
		 WHERE id = ? AND decision = 'pending'`,
		string(a.Decision), a.DecidedBy, nullString(a.Notes), nullTime(a.DecidedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("recording amendment decision for %s: %w", a.ID, err)
	}
	return expectOne(res, "recording amendment decision for "+a.ID)
}
