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

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u types.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role, department, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, string(u.Role), u.Department, formatTime(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting user %s: %w", u.ID, err)
	}
	return nil
}

// User fetches a user by ID or email.
func (s *Store) User(ctx context.Context, idOrEmail string) (types.User, error) {
	return getUser(ctx, s.db, idOrEmail)
}

// User fetches a user by ID or email within the transaction.
func (t *Tx) User(ctx context.Context, idOrEmail string) (types.User, error) {
	return getUser(ctx, t.tx, idOrEmail)
}

func getUser(ctx context.Context, q querier, idOrEmail string) (types.User, error) {
	var u types.User
	var role, created string
	err := q.QueryRowContext(ctx,
		`SELECT id, email, name, role, department, created_at FROM users WHERE id = ? OR email = ?`,
		idOrEmail, idOrEmail,
	).Scan(&u.ID, &u.Email, &u.Name, &role, &u.Department, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return u, fmt.Errorf("user %s: %w", idOrEmail, ErrNotFound)
	}
	if err != nil {
		return u, fmt.Errorf("querying user %s: %w", idOrEmail, err)
	}
	u.Role = types.Role(role)
	u.CreatedAt = parseTime(created)
	return u, nil
}

// Users lists every user ordered by email.
func (s *Store) Users(ctx context.Context) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, name, role, department, created_at FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var u types.User
		var role, created string
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &role, &u.Department, &created); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.Role = types.Role(role)
		u.CreatedAt = parseTime(created)
		users = append(users, u)
	}
	return users, rows.Err()
}

// UsersByRole lists users holding role.
func (s *Store) UsersByRole(ctx context.Context, role types.Role) ([]types.User, error) {
	all, err := s.Users(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.User
	for _, u := range all {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

// SetRep creates or replaces a college representative binding. Marking a
// representative as chair clears the flag on every other representative in
// the same transaction, so at most one chair exists.
func (s *Store) SetRep(ctx context.Context, rep types.CollegeRepresentative) error {
	return s.InTx(ctx, func(tx *Tx) error {
		if rep.IsChair {
			if _, err := tx.tx.ExecContext(ctx,
				`UPDATE college_reps SET is_chair = 0 WHERE user_id <> ?`, rep.UserID); err != nil {
				return fmt.Errorf("clearing chair: %w", err)
			}
		}
		_, err := tx.tx.ExecContext(ctx,
			`INSERT INTO college_reps (user_id, college, is_chair, active, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET
				college = excluded.college,
				is_chair = excluded.is_chair,
				active = excluded.active`,
			rep.UserID, string(rep.College), boolInt(rep.IsChair), boolInt(rep.Active), formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("upserting representative %s: %w", rep.UserID, err)
		}
		return nil
	})
}

// Reps lists every representative binding.
func (s *Store) Reps(ctx context.Context) ([]types.CollegeRepresentative, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, college, is_chair, active FROM college_reps ORDER BY college, created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying representatives: %w", err)
	}
	defer rows.Close()

	var reps []types.CollegeRepresentative
	for rows.Next() {
		var r types.CollegeRepresentative
		var college string
		if err := rows.Scan(&r.UserID, &college, &r.IsChair, &r.Active); err != nil {
			return nil, fmt.Errorf("scanning representative: %w", err)
		}
		r.College = types.College(college)
		reps = append(reps, r)
	}
	return reps, rows.Err()
}

// ActiveRep implements routing.Directory.
func (s *Store) ActiveRep(ctx context.Context, college types.College) (*types.CollegeRepresentative, error) {
	return activeRep(ctx, s.db, college)
}

// Chair implements routing.Directory.
func (s *Store) Chair(ctx context.Context) (*types.CollegeRepresentative, error) {
	return chair(ctx, s.db)
}

// ActiveRep implements routing.Directory within the transaction.
func (t *Tx) ActiveRep(ctx context.Context, college types.College) (*types.CollegeRepresentative, error) {
	return activeRep(ctx, t.tx, college)
}

// Chair implements routing.Directory within the transaction.
func (t *Tx) Chair(ctx context.Context) (*types.CollegeRepresentative, error) {
	return chair(ctx, t.tx)
}

func activeRep(ctx context.Context, q querier, college types.College) (*types.CollegeRepresentative, error) {
	return scanRep(q.QueryRowContext(ctx,
		`SELECT user_id, college, is_chair, active FROM college_reps
		 WHERE college = ? AND active = 1 ORDER BY created_at LIMIT 1`, string(college)))
}

func chair(ctx context.Context, q querier) (*types.CollegeRepresentative, error) {
	return scanRep(q.QueryRowContext(ctx,
		`SELECT user_id, college, is_chair, active FROM college_reps
		 WHERE is_chair = 1 AND active = 1 LIMIT 1`))
}

func scanRep(row *sql.Row) (*types.CollegeRepresentative, error) {
	var r types.CollegeRepresentative
	var college string
	err := row.Scan(&r.UserID, &college, &r.IsChair, &r.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying representative: %w", err)
	}
	r.College = types.College(college)
	return &r, nil
}
