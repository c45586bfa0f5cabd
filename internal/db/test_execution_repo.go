package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type TestExecutionRepo struct {
	db *sql.DB
}

func NewTestExecutionRepo(db *sql.DB) *TestExecutionRepo {
	return &TestExecutionRepo{db: db}
}

const testExecutionColumns = `id, test_session_id, name, prompt, website_url, type, status, passed, message, error_message, screenshots, started_at, completed_at, created_at`

func scanTestExecution(row rowScanner) (*TestExecution, error) {
	var e TestExecution
	var passed sql.NullInt64
	var screenshotsRaw, createdAtRaw string
	var startedAtRaw, completedAtRaw sql.NullString
	if err := row.Scan(&e.ID, &e.TestSessionID, &e.Name, &e.Prompt, &e.WebsiteURL, &e.Type, &e.Status, &passed, &e.Message, &e.ErrorMessage, &screenshotsRaw, &startedAtRaw, &completedAtRaw, &createdAtRaw); err != nil {
		return nil, err
	}
	e.Passed = boolPtr(passed)
	var err error
	if e.Screenshots, err = decodeStringSlice(screenshotsRaw); err != nil {
		return nil, err
	}
	if e.StartedAt, err = parseNullTimestamp(startedAtRaw); err != nil {
		return nil, err
	}
	if e.CompletedAt, err = parseNullTimestamp(completedAtRaw); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if e.StartedAt != nil && e.CompletedAt != nil {
		ms := e.CompletedAt.Sub(*e.StartedAt).Milliseconds()
		e.ExecutionTime = &ms
	}
	return &e, nil
}

func insertTestExecution(ctx context.Context, conn execer, e *TestExecution) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}
	if e.Status == "" {
		e.Status = ExecutionPending
	}
	if e.Screenshots == nil {
		e.Screenshots = []string{}
	}
	screenshotsRaw, err := encodeStringSlice(e.Screenshots)
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `
INSERT INTO test_executions (id, test_session_id, name, prompt, website_url, type, status, passed, message, error_message, screenshots, started_at, completed_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, e.ID, e.TestSessionID, e.Name, e.Prompt, e.WebsiteURL, e.Type, string(e.Status), nullBool(e.Passed), e.Message, e.ErrorMessage, screenshotsRaw, formatNullTimestamp(e.StartedAt), formatNullTimestamp(e.CompletedAt), formatTimestamp(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create test execution: %w", err)
	}
	return nil
}

func (r *TestExecutionRepo) Create(ctx context.Context, e *TestExecution) error {
	return insertTestExecution(ctx, r.db, e)
}

// CreateBatch inserts all executions or none.
func (r *TestExecutionRepo) CreateBatch(ctx context.Context, executions []*TestExecution) error {
	return withTx(ctx, r.db, "create test executions", func(tx *sql.Tx) error {
		for _, e := range executions {
			if err := insertTestExecution(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *TestExecutionRepo) Get(ctx context.Context, id string) (*TestExecution, error) {
	e, err := scanTestExecution(r.db.QueryRowContext(ctx, `SELECT `+testExecutionColumns+` FROM test_executions WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get test execution %q: %w", id, err)
	}
	return e, nil
}

// ListBySession returns executions in creation order.
func (r *TestExecutionRepo) ListBySession(ctx context.Context, sessionID string) ([]*TestExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+testExecutionColumns+`
FROM test_executions
WHERE test_session_id = ?
ORDER BY created_at ASC, rowid ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list test executions: %w", err)
	}
	defer rows.Close()

	executions := []*TestExecution{}
	for rows.Next() {
		e, err := scanTestExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating test executions: %w", err)
	}
	return executions, nil
}

func (r *TestExecutionRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(1) FROM test_executions WHERE test_session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count test executions for %q: %w", sessionID, err)
	}
	return n, nil
}

// MarkRunning sets status running and stamps startedAt unless already set.
func (r *TestExecutionRepo) MarkRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE test_executions
SET status = 'running', started_at = COALESCE(started_at, ?)
WHERE id = ? AND status IN ('pending', 'running')
`, formatTimestamp(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark test execution %q running: %w", id, err)
	}
	return affectedOne(res, "test execution", id)
}

// MarkTerminal moves a pending or running execution to a terminal status.
func (r *TestExecutionRepo) MarkTerminal(ctx context.Context, id string, status ExecutionStatus, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE test_executions
SET status = ?, completed_at = ?
WHERE id = ? AND status IN ('pending', 'running')
`, string(status), formatTimestamp(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark test execution %q %s: %w", id, status, err)
	}
	return affectedOne(res, "test execution", id)
}

// SaveResults records a result and forces status completed whatever the
// prior status was. A nil errorMessage keeps the stored one.
func (r *TestExecutionRepo) SaveResults(ctx context.Context, id string, passed bool, message string, errorMessage *string, at time.Time) (bool, error) {
	var errArg sql.NullString
	if errorMessage != nil {
		errArg = sql.NullString{String: *errorMessage, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE test_executions
SET passed = ?, message = ?, error_message = COALESCE(?, error_message), status = 'completed', completed_at = ?
WHERE id = ?
`, boolToInt(passed), message, errArg, formatTimestamp(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to save results for test execution %q: %w", id, err)
	}
	return affectedOne(res, "test execution", id)
}

// SaveFailure records a failure and forces status failed whatever the prior
// status was.
func (r *TestExecutionRepo) SaveFailure(ctx context.Context, id string, message, errorMessage string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE test_executions
SET passed = 0, message = ?, error_message = ?, status = 'failed', completed_at = ?
WHERE id = ?
`, message, errorMessage, formatTimestamp(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to save failure for test execution %q: %w", id, err)
	}
	return affectedOne(res, "test execution", id)
}

func (r *TestExecutionRepo) AppendScreenshot(ctx context.Context, id, screenshotURL string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE test_executions
SET screenshots = json_insert(screenshots, '$[#]', ?)
WHERE id = ?
`, screenshotURL, id)
	if err != nil {
		return false, fmt.Errorf("failed to append screenshot to test execution %q: %w", id, err)
	}
	return affectedOne(res, "test execution", id)
}
