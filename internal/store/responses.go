// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// AppendResponse records a participant response within the transaction.
func (t *Tx) AppendResponse(ctx context.Context, rec types.ResponseRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO responses (id, study_id, session_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.StudyID, rec.SessionID, string(rec.Payload), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting response %s: %w", rec.ID, err)
	}
	return nil
}

// ResponsePayloads returns the payloads recorded for a study in insertion
// order.
func (s *Store) ResponsePayloads(ctx context.Context, studyID string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM responses WHERE study_id = ? ORDER BY created_at, rowid`, studyID)
	if err != nil {
		return nil, fmt.Errorf("querying responses for %s: %w", studyID, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning response: %w", err)
		}
		out = append(out, json.RawMessage(payload))
	}
	return out, rows.Err()
}

// CountResponses returns the number of responses recorded for a study.
func (s *Store) CountResponses(ctx context.Context, studyID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM responses WHERE study_id = ?`, studyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting responses for %s: %w", studyID, err)
	}
	return n, nil
}
