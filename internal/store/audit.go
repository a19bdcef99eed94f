// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// AppendAudit writes an audit record in the caller's transaction.
func (t *Tx) AppendAudit(ctx context.Context, rec types.AuditRecord) error {
	return appendAudit(ctx, t.tx, rec)
}

// AppendAudit writes a standalone audit record.
func (s *Store) AppendAudit(ctx context.Context, rec types.AuditRecord) error {
	return appendAudit(ctx, s.db, rec)
}

func appendAudit(ctx context.Context, q querier, rec types.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	meta, err := jsonColumn(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encoding audit metadata: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor_id, action, entity, entity_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullString(rec.ActorID), rec.Action, rec.Entity, rec.EntityID, meta, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("appending audit record %s/%s: %w", rec.Entity, rec.Action, err)
	}
	return nil
}

// AuditTrail returns the audit records for an entity, oldest first.
func (s *Store) AuditTrail(ctx context.Context, entityID string) ([]types.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_id, action, entity, entity_id, metadata, created_at
		 FROM audit_log WHERE entity_id = ? ORDER BY created_at, rowid`, entityID)
	if err != nil {
		return nil, fmt.Errorf("querying audit trail for %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []types.AuditRecord
	for rows.Next() {
		var rec types.AuditRecord
		var actor, meta sql.NullString
		var created string
		if err := rows.Scan(&rec.ID, &actor, &rec.Action, &rec.Entity, &rec.EntityID, &meta, &created); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		rec.ActorID = actor.String
		if err := scanJSON(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding audit metadata: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
