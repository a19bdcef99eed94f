// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/irb-engine/pkg/types"
)

const studyColumns = `id, title, description, researcher_id, involves_deception,
	monitoring_enabled, min_sample_size, threshold, strategy, strategy_params,
	current_evidence, evidence_n, notified,
	irb_status, irb_number, irb_approved_by, irb_approved_at, created_at, updated_at`

// CreateStudy inserts a study.
func (s *Store) CreateStudy(ctx context.Context, st types.Study) error {
	params, err := jsonColumn(st.Monitoring.Params)
	if err != nil {
		return fmt.Errorf("encoding strategy params: %w", err)
	}
	if st.IRBStatus == "" {
		st.IRBStatus = types.IRBPending
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO studies (id, title, description, researcher_id, involves_deception,
			monitoring_enabled, min_sample_size, threshold, strategy, strategy_params,
			irb_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Title, st.Description, st.ResearcherID, boolInt(st.InvolvesDeception),
		boolInt(st.Monitoring.Enabled), st.Monitoring.MinSampleSize, st.Monitoring.Threshold,
		st.Monitoring.Strategy, params,
		string(st.IRBStatus), formatTime(st.CreatedAt), formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting study %s: %w", st.ID, err)
	}
	return nil
}

// Study fetches a study by ID.
func (s *Store) Study(ctx context.Context, id string) (types.Study, error) {
	return getStudy(ctx, s.db, id)
}

// Study fetches a study by ID within the transaction.
func (t *Tx) Study(ctx context.Context, id string) (types.Study, error) {
	return getStudy(ctx, t.tx, id)
}

// Studies lists studies ordered by creation time.
func (s *Store) Studies(ctx context.Context) ([]types.Study, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+studyColumns+` FROM studies ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying studies: %w", err)
	}
	defer rows.Close()

	var out []types.Study
	for rows.Next() {
		st, err := scanStudy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func getStudy(ctx context.Context, q querier, id string) (types.Study, error) {
	st, err := scanStudy(q.QueryRowContext(ctx, `SELECT `+studyColumns+` FROM studies WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("study %s: %w", id, ErrNotFound)
	}
	return st, err
}

func scanStudy(row scanner) (types.Study, error) {
	var st types.Study
	var params, irbNumber, approvedBy, approvedAt sql.NullString
	var evidence sql.NullFloat64
	var status, created, updated string
	err := row.Scan(&st.ID, &st.Title, &st.Description, &st.ResearcherID, &st.InvolvesDeception,
		&st.Monitoring.Enabled, &st.Monitoring.MinSampleSize, &st.Monitoring.Threshold,
		&st.Monitoring.Strategy, &params,
		&evidence, &st.EvidenceN, &st.Notified,
		&status, &irbNumber, &approvedBy, &approvedAt, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, err
		}
		return st, fmt.Errorf("scanning study: %w", err)
	}
	if err := scanJSON(params, &st.Monitoring.Params); err != nil {
		return st, fmt.Errorf("decoding strategy params: %w", err)
	}
	if evidence.Valid {
		v := evidence.Float64
		st.CurrentEvidence = &v
	}
	st.IRBStatus = types.IRBStatus(status)
	st.IRBNumber = irbNumber.String
	st.IRBApprovedBy = approvedBy.String
	st.IRBApprovedAt = timePtr(approvedAt)
	st.CreatedAt = parseTime(created)
	st.UpdatedAt = parseTime(updated)
	return st, nil
}

// UpdateMonitoring replaces a study's monitoring configuration.
func (s *Store) UpdateMonitoring(ctx context.Context, studyID string, cfg types.MonitoringConfig) error {
	params, err := jsonColumn(cfg.Params)
	if err != nil {
		return fmt.Errorf("encoding strategy params: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE studies SET monitoring_enabled = ?, min_sample_size = ?, threshold = ?,
			strategy = ?, strategy_params = ?, updated_at = ?
		 WHERE id = ?`,
		boolInt(cfg.Enabled), cfg.MinSampleSize, cfg.Threshold, cfg.Strategy, params,
		formatTime(time.Now()), studyID,
	)
	if err != nil {
		return fmt.Errorf("updating monitoring for %s: %w", studyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating monitoring for %s: %w", studyID, err)
	}
	if n == 0 {
		return fmt.Errorf("study %s: %w", studyID, ErrNotFound)
	}
	return nil
}

// ApproveStudy records approval metadata on the study within the
// transaction that recorded the approving decision.
func (t *Tx) ApproveStudy(ctx context.Context, studyID, irbNumber, approvedBy string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE studies SET irb_status = ?, irb_number = ?, irb_approved_by = ?, irb_approved_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(types.IRBApproved), irbNumber, approvedBy, formatTime(at), formatTime(at), studyID,
	)
	if err != nil {
		return fmt.Errorf("approving study %s: %w", studyID, err)
	}
	return expectOne(res, "approving study "+studyID)
}

// SetIRBStatus updates only the status column.
func (t *Tx) SetIRBStatus(ctx context.Context, studyID string, status types.IRBStatus, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE studies SET irb_status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(at), studyID,
	)
	if err != nil {
		return fmt.Errorf("updating irb status for %s: %w", studyID, err)
	}
	return nil
}

// UpdateEvidence stores an evidence value computed from n responses. A
// write computed from fewer responses than the stored value is discarded,
// so a stale recomputation never overwrites a newer one. It reports
// whether the value was written.
func (s *Store) UpdateEvidence(ctx context.Context, studyID string, value float64, n int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE studies SET current_evidence = ?, evidence_n = ?, updated_at = ?
		 WHERE id = ? AND evidence_n <= ?`,
		value, n, formatTime(time.Now()), studyID, n,
	)
	if err != nil {
		return false, fmt.Errorf("updating evidence for %s: %w", studyID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating evidence for %s: %w", studyID, err)
	}
	return rows == 1, nil
}

// ClaimNotification atomically flips notified from false to true when the
// stored evidence meets threshold. Exactly one caller wins.
func (s *Store) ClaimNotification(ctx context.Context, studyID string, threshold float64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE studies SET notified = 1, updated_at = ?
		 WHERE id = ? AND notified = 0 AND current_evidence IS NOT NULL AND current_evidence >= ?`,
		formatTime(time.Now()), studyID, threshold,
	)
	if err != nil {
		return false, fmt.Errorf("claiming notification for %s: %w", studyID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming notification for %s: %w", studyID, err)
	}
	return rows == 1, nil
}
