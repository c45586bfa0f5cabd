package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
)

type ProjectRepo struct {
	db *sql.DB
}

func NewProjectRepo(db *sql.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

const projectColumns = `id, url, name, description, sensitive_info, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var sensitiveRaw sql.NullString
	var createdAtRaw, updatedAtRaw string
	if err := row.Scan(&p.ID, &p.URL, &p.Name, &p.Description, &sensitiveRaw, &createdAtRaw, &updatedAtRaw); err != nil {
		return nil, err
	}
	if sensitiveRaw.Valid {
		if err := decodeJSON(sensitiveRaw.String, &p.SensitiveInfo); err != nil {
			return nil, err
		}
	}
	var err error
	p.CreatedAt, err = parseTimestamp(createdAtRaw)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt, err = parseTimestamp(updatedAtRaw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert creates the project for rawURL or refreshes its name and description.
// Empty name and description keep the stored values; a new project without a
// name is named after the url host.
func (r *ProjectRepo) Upsert(ctx context.Context, rawURL, name, description string) (*Project, error) {
	if err := upsertProject(ctx, r.db, rawURL, name, description); err != nil {
		return nil, err
	}
	return r.GetByURL(ctx, rawURL)
}

// upsertProject inserts the project for rawURL or refreshes it. An empty name
// falls back to the hostname on insert and keeps the stored name on update.
func upsertProject(ctx context.Context, conn execer, rawURL, name, description string) error {
	insertName := name
	if insertName == "" {
		insertName = hostnameOf(rawURL)
	}
	now := formatTimestamp(nowUTC())

	_, err := conn.ExecContext(ctx, `
INSERT INTO projects (id, url, name, description, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
	name = CASE WHEN ? != '' THEN ? ELSE projects.name END,
	description = CASE WHEN excluded.description != '' THEN excluded.description ELSE projects.description END,
	updated_at = excluded.updated_at
`, NewID(), rawURL, insertName, description, now, now, name, name)
	if err != nil {
		return fmt.Errorf("failed to upsert project %q: %w", rawURL, err)
	}
	return nil
}

func (r *ProjectRepo) Get(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project %q: %w", id, err)
	}
	return p, nil
}

func (r *ProjectRepo) GetByURL(ctx context.Context, rawURL string) (*Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE url = ?`, rawURL))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project by url %q: %w", rawURL, err)
	}
	return p, nil
}

func (r *ProjectRepo) List(ctx context.Context, limit int) ([]*Project, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY url DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating projects: %w", err)
	}
	return projects, nil
}

// Update sets name and description. It reports false when the project does
// not exist.
func (r *ProjectRepo) Update(ctx context.Context, id, name, description string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE projects
SET name = ?, description = ?, updated_at = ?
WHERE id = ?
`, name, description, formatTimestamp(nowUTC()), id)
	if err != nil {
		return false, fmt.Errorf("failed to update project %q: %w", id, err)
	}
	return affectedOne(res, "project", id)
}

// SetSensitiveInfo stores info keyed by the project's own url.
func (r *ProjectRepo) SetSensitiveInfo(ctx context.Context, id string, info map[string]string) (bool, error) {
	raw, err := encodeJSON(info)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE projects
SET sensitive_info = json_object(url, json(?)), updated_at = ?
WHERE id = ?
`, raw, formatTimestamp(nowUTC()), id)
	if err != nil {
		return false, fmt.Errorf("failed to set sensitive info for project %q: %w", id, err)
	}
	return affectedOne(res, "project", id)
}

// ReplaceSensitiveInfo overwrites the stored value as given.
func (r *ProjectRepo) ReplaceSensitiveInfo(ctx context.Context, id string, info map[string]any) (bool, error) {
	raw, err := encodeNullJSON(info, info == nil)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE projects
SET sensitive_info = ?, updated_at = ?
WHERE id = ?
`, raw, formatTimestamp(nowUTC()), id)
	if err != nil {
		return false, fmt.Errorf("failed to replace sensitive info for project %q: %w", id, err)
	}
	return affectedOne(res, "project", id)
}

// DeleteCascade removes the project together with its sessions, their
// executions and reports, and its custom tests in one transaction. It returns
// nil when the project does not exist.
func (r *ProjectRepo) DeleteCascade(ctx context.Context, id string) (*CascadeResult, error) {
	var result *CascadeResult
	err := withTx(ctx, r.db, "delete project", func(tx *sql.Tx) error {
		var projectURL string
		if err := tx.QueryRowContext(ctx, `SELECT url FROM projects WHERE id = ?`, id).Scan(&projectURL); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("failed to load project %q: %w", id, err)
		}

		out := &CascadeResult{}
		steps := []struct {
			table string
			query string
			arg   string
			count *int64
		}{
			{"test_reports", `DELETE FROM test_reports WHERE test_session_id IN (SELECT id FROM test_sessions WHERE website_url = ?)`, projectURL, &out.Reports},
			{"test_executions", `DELETE FROM test_executions WHERE test_session_id IN (SELECT id FROM test_sessions WHERE website_url = ?)`, projectURL, &out.Executions},
			{"test_sessions", `DELETE FROM test_sessions WHERE website_url = ?`, projectURL, &out.Sessions},
			{"custom_tests", `DELETE FROM custom_tests WHERE project_id = ?`, id, &out.CustomTests},
			{"projects", `DELETE FROM projects WHERE id = ?`, id, nil},
		}
		for _, step := range steps {
			res, err := tx.ExecContext(ctx, step.query, step.arg)
			if err != nil {
				return fmt.Errorf("failed to delete %s for project %q: %w", step.table, id, err)
			}
			if step.count != nil {
				n, err := res.RowsAffected()
				if err != nil {
					return fmt.Errorf("failed to count deleted %s: %w", step.table, err)
				}
				*step.count = n
			}
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func affectedOne(res sql.Result, kind, id string) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read updated rows for %s %q: %w", kind, id, err)
	}
	return affected > 0, nil
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}
