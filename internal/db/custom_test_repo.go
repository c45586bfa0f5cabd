package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type CustomTestRepo struct {
	db *sql.DB
}

func NewCustomTestRepo(db *sql.DB) *CustomTestRepo {
	return &CustomTestRepo{db: db}
}

type CustomTestFilter struct {
	ProjectID string
	Type      TestMode
	Category  string
}

// CustomTestPatch lists the fields to change; nil fields are left alone.
type CustomTestPatch struct {
	Name        *string `json:"name"`
	Prompt      *string `json:"prompt"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

const customTestColumns = `id, project_id, name, prompt, type, category, description, is_active, created_at, updated_at`

func scanCustomTest(row rowScanner) (*CustomTest, error) {
	var t CustomTest
	var projectID sql.NullString
	var isActive sql.NullInt64
	var createdAtRaw, updatedAtRaw string
	if err := row.Scan(&t.ID, &projectID, &t.Name, &t.Prompt, &t.Type, &t.Category, &t.Description, &isActive, &createdAtRaw, &updatedAtRaw); err != nil {
		return nil, err
	}
	t.ProjectID = projectID.String
	t.IsActive = boolPtr(isActive)
	var err error
	t.CreatedAt, err = parseTimestamp(createdAtRaw)
	if err != nil {
		return nil, err
	}
	t.UpdatedAt, err = parseTimestamp(updatedAtRaw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *CustomTestRepo) Create(ctx context.Context, test *CustomTest) error {
	return insertCustomTest(ctx, r.db, test)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCustomTest(ctx context.Context, conn execer, test *CustomTest) error {
	if test.ID == "" {
		test.ID = NewID()
	}
	if test.CreatedAt.IsZero() {
		test.CreatedAt = nowUTC()
	}
	if test.UpdatedAt.IsZero() {
		test.UpdatedAt = test.CreatedAt
	}
	if test.Type == "" {
		test.Type = ModeUserDefined
	}

	_, err := conn.ExecContext(ctx, `
INSERT INTO custom_tests (id, project_id, name, prompt, type, category, description, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, test.ID, nullIfEmpty(test.ProjectID), test.Name, test.Prompt, string(test.Type), test.Category, test.Description, nullBool(test.IsActive), formatTimestamp(test.CreatedAt), formatTimestamp(test.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create custom test: %w", err)
	}
	return nil
}

func (r *CustomTestRepo) Get(ctx context.Context, id string) (*CustomTest, error) {
	t, err := scanCustomTest(r.db.QueryRowContext(ctx, `SELECT `+customTestColumns+` FROM custom_tests WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get custom test %q: %w", id, err)
	}
	return t, nil
}

func (r *CustomTestRepo) List(ctx context.Context, filter CustomTestFilter) ([]*CustomTest, error) {
	query := `SELECT ` + customTestColumns + ` FROM custom_tests`
	args := []any{}
	where := []string{}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom tests: %w", err)
	}
	defer rows.Close()

	tests := []*CustomTest{}
	for rows.Next() {
		t, err := scanCustomTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custom test: %w", err)
		}
		tests = append(tests, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating custom tests: %w", err)
	}
	return tests, nil
}

func (r *CustomTestRepo) ListUserDefined(ctx context.Context, projectID string) ([]*CustomTest, error) {
	return r.List(ctx, CustomTestFilter{ProjectID: projectID, Type: ModeUserDefined})
}

func (r *CustomTestRepo) ListBuffaloDefined(ctx context.Context) ([]*CustomTest, error) {
	return r.List(ctx, CustomTestFilter{Type: ModeBuffaloDefined})
}

func (r *CustomTestRepo) Update(ctx context.Context, id string, patch CustomTestPatch) (bool, error) {
	sets := []string{}
	args := []any{}
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Prompt != nil {
		sets = append(sets, "prompt = ?")
		args = append(args, *patch.Prompt)
	}
	if patch.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *patch.Category)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolToInt(*patch.IsActive))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTimestamp(nowUTC()), id)

	res, err := r.db.ExecContext(ctx, `UPDATE custom_tests SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update custom test %q: %w", id, err)
	}
	return affectedOne(res, "custom test", id)
}

func (r *CustomTestRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM custom_tests WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete custom test %q: %w", id, err)
	}
	return affectedOne(res, "custom test", id)
}

// ReplaceForProject makes the project's custom tests match tests: rows whose
// id is not listed are deleted, listed ids are updated, and entries without a
// known id are created as user-defined tests. The returned ids follow the
// order of tests.
func (r *CustomTestRepo) ReplaceForProject(ctx context.Context, projectID string, tests []*CustomTest) ([]string, error) {
	ids := make([]string, 0, len(tests))
	err := withTx(ctx, r.db, "replace custom tests", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM custom_tests WHERE project_id = ?`, projectID)
		if err != nil {
			return fmt.Errorf("failed to list custom tests for project %q: %w", projectID, err)
		}
		existing := map[string]bool{}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan custom test id: %w", err)
			}
			existing[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed while iterating custom test ids: %w", err)
		}

		keep := map[string]bool{}
		for _, t := range tests {
			if t.ID != "" {
				keep[t.ID] = true
			}
		}
		for id := range existing {
			if keep[id] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM custom_tests WHERE id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete custom test %q: %w", id, err)
			}
		}

		now := formatTimestamp(nowUTC())
		for _, t := range tests {
			if t.ID != "" && existing[t.ID] {
				if _, err := tx.ExecContext(ctx, `
UPDATE custom_tests
SET name = ?, prompt = ?, category = ?, updated_at = ?
WHERE id = ?
`, t.Name, t.Prompt, t.Category, now, t.ID); err != nil {
					return fmt.Errorf("failed to update custom test %q: %w", t.ID, err)
				}
				ids = append(ids, t.ID)
				continue
			}
			created := &CustomTest{
				ProjectID:   projectID,
				Name:        t.Name,
				Prompt:      t.Prompt,
				Type:        ModeUserDefined,
				Category:    t.Category,
				Description: t.Description,
				IsActive:    t.IsActive,
			}
			if err := insertCustomTest(ctx, tx, created); err != nil {
				return err
			}
			ids = append(ids, created.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SyncBuffaloDefined upserts global tests by name. It reports how many rows
// were inserted and how many were updated.
func (r *CustomTestRepo) SyncBuffaloDefined(ctx context.Context, tests []*CustomTest) (int, int, error) {
	inserted, updated := 0, 0
	err := withTx(ctx, r.db, "sync buffalo-defined tests", func(tx *sql.Tx) error {
		for _, t := range tests {
			var id string
			err := tx.QueryRowContext(ctx, `SELECT id FROM custom_tests WHERE type = ? AND project_id IS NULL AND name = ?`, string(ModeBuffaloDefined), t.Name).Scan(&id)
			switch {
			case err == sql.ErrNoRows:
				created := &CustomTest{
					Name:        t.Name,
					Prompt:      t.Prompt,
					Type:        ModeBuffaloDefined,
					Category:    t.Category,
					Description: t.Description,
					IsActive:    t.IsActive,
				}
				if err := insertCustomTest(ctx, tx, created); err != nil {
					return err
				}
				t.ID = created.ID
				inserted++
			case err != nil:
				return fmt.Errorf("failed to look up buffalo-defined test %q: %w", t.Name, err)
			default:
				if _, err := tx.ExecContext(ctx, `
UPDATE custom_tests
SET prompt = ?, category = ?, description = ?, is_active = ?, updated_at = ?
WHERE id = ?
`, t.Prompt, t.Category, t.Description, nullBool(t.IsActive), formatTimestamp(nowUTC()), id); err != nil {
					return fmt.Errorf("failed to update buffalo-defined test %q: %w", t.Name, err)
				}
				t.ID = id
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}
