package db

import (
	"context"
	"database/sql"
	"fmt"
)

type TestReportRepo struct {
	db *sql.DB
}

func NewTestReportRepo(db *sql.DB) *TestReportRepo {
	return &TestReportRepo{db: db}
}

// CreateIfAbsent inserts report unless the session already has one. The
// unique index on test_session_id makes the first writer win; later calls
// report false and leave the stored report untouched.
func (r *TestReportRepo) CreateIfAbsent(ctx context.Context, report *TestReport) (bool, error) {
	if report.ID == "" {
		report.ID = NewID()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = nowUTC()
	}
	if report.Issues == nil {
		report.Issues = []Issue{}
	}
	issuesRaw, err := encodeJSON(report.Issues)
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO test_reports (id, test_session_id, summary, issues, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(test_session_id) DO NOTHING
`, report.ID, report.TestSessionID, report.Summary, issuesRaw, formatTimestamp(report.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to create test report for session %q: %w", report.TestSessionID, err)
	}
	return affectedOne(res, "test report", report.TestSessionID)
}

func (r *TestReportRepo) GetBySession(ctx context.Context, sessionID string) (*TestReport, error) {
	var rep TestReport
	var issuesRaw, createdAtRaw string
	err := r.db.QueryRowContext(ctx, `
SELECT id, test_session_id, summary, issues, created_at
FROM test_reports
WHERE test_session_id = ?
`, sessionID).Scan(&rep.ID, &rep.TestSessionID, &rep.Summary, &issuesRaw, &createdAtRaw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get test report for session %q: %w", sessionID, err)
	}
	rep.Issues = []Issue{}
	if err := decodeJSON(issuesRaw, &rep.Issues); err != nil {
		return nil, err
	}
	if rep.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	return &rep, nil
}
