package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertUser inserts a user keyed by email, updating name and flags for an
// existing row. Seed fixtures call this repeatedly, so it has to be
// idempotent.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, email, name, is_admin, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET name = excluded.name, is_admin = excluded.is_admin, is_active = excluded.is_active`,
		u.ID, u.Email, u.Name, boolToInt(u.IsAdmin), boolToInt(u.IsActive), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert user %q: %w", u.Email, err)
	}
	return nil
}

// GetUserByEmail fetches a user row by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	var isAdmin, isActive int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, is_admin, is_active, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.Name, &isAdmin, &isActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", email, err)
	}
	u.IsAdmin = isAdmin != 0
	u.IsActive = isActive != 0
	return &u, nil
}

// ListActiveUserIDs returns ids for every active user; completed and failed
// job notifications broadcast to all of them.
func (s *Store) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	return s.listUserIDs(ctx, `SELECT id FROM users WHERE is_active = 1`)
}

// ListActiveAdminIDs returns ids for active admins, the targeted audience of
// auto-pause and ending-soon warnings.
func (s *Store) ListActiveAdminIDs(ctx context.Context) ([]string, error) {
	return s.listUserIDs(ctx, `SELECT id FROM users WHERE is_active = 1 AND is_admin = 1`)
}

func (s *Store) listUserIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return ids, nil
}
