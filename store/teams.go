package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertTeam inserts or updates a PIC team keyed by slug.
func (s *Store) UpsertTeam(ctx context.Context, t *Team) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pic_teams (slug, name, slack_handle, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET name = excluded.name, slack_handle = excluded.slack_handle, is_active = excluded.is_active`,
		t.Slug, t.Name, nullStr(t.SlackHandle), boolToInt(t.IsActive))
	if err != nil {
		return fmt.Errorf("upsert team %q: %w", t.Slug, err)
	}
	return nil
}

// GetTeam fetches one team by slug.
func (s *Store) GetTeam(ctx context.Context, slug string) (*Team, error) {
	var t Team
	var handle sql.NullString
	var isActive int
	err := s.db.QueryRowContext(ctx,
		`SELECT slug, name, slack_handle, is_active FROM pic_teams WHERE slug = ?`, slug).
		Scan(&t.Slug, &t.Name, &handle, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get team %q: %w", slug, err)
	}
	t.SlackHandle = strOrEmpty(handle)
	t.IsActive = isActive != 0
	return &t, nil
}

// ListTeams returns all teams ordered by slug.
func (s *Store) ListTeams(ctx context.Context) ([]*Team, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, name, slack_handle, is_active FROM pic_teams ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		var t Team
		var handle sql.NullString
		var isActive int
		if err := rows.Scan(&t.Slug, &t.Name, &handle, &isActive); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		t.SlackHandle = strOrEmpty(handle)
		t.IsActive = isActive != 0
		teams = append(teams, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return teams, nil
}

// UpsertCategory inserts or updates a category. The reserved "general" slug
// keeps its name.
func (s *Store) UpsertCategory(ctx context.Context, c *Category) error {
	if c.Slug == ReservedCategorySlug && c.Name != "General" {
		return fmt.Errorf("category %q is reserved and cannot be renamed", ReservedCategorySlug)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO job_categories (slug, name, is_active)
		VALUES (?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET name = excluded.name, is_active = excluded.is_active`,
		c.Slug, c.Name, boolToInt(c.IsActive))
	if err != nil {
		return fmt.Errorf("upsert category %q: %w", c.Slug, err)
	}
	return nil
}

// ListCategories returns all categories ordered by slug.
func (s *Store) ListCategories(ctx context.Context) ([]*Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, name, is_active FROM job_categories ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []*Category
	for rows.Next() {
		var c Category
		var isActive int
		if err := rows.Scan(&c.Slug, &c.Name, &isActive); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.IsActive = isActive != 0
		cats = append(cats, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}
