// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/irb-engine/pkg/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestRecordDecision_ZeroRowsIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE protocol_submissions SET decision = ?`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	now := time.Now()
	err := s.InTx(ctx, func(tx *Tx) error {
		return tx.RecordDecision(ctx, types.ProtocolSubmission{
			ID: "sub-1", Decision: types.DecisionApproved, DecidedBy: "rep", DecidedAt: &now, UpdatedAt: now,
		})
	})
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_CommitFailure(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO audit_log`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	err := s.InTx(ctx, func(tx *Tx) error {
		return tx.AppendAudit(ctx, types.AuditRecord{Action: "submission.submit", Entity: "submission", EntityID: "sub-1"})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNotification_DatabaseError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE studies SET notified = 1`)).
		WillReturnError(errors.New("locked"))

	won, err := s.ClaimNotification(context.Background(), "s1", 10)
	require.Error(t, err)
	assert.False(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}
