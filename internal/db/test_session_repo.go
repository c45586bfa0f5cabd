package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type TestSessionRepo struct {
	db *sql.DB
}

func NewTestSessionRepo(db *sql.DB) *TestSessionRepo {
	return &TestSessionRepo{db: db}
}

const testSessionColumns = `id, website_url, modes, email, credentials, status, remote_session_id, messages, results, started_at, completed_at, created_at`

func scanTestSession(row rowScanner) (*TestSession, error) {
	var s TestSession
	var modesRaw, messagesRaw, createdAtRaw string
	var credentialsRaw, resultsRaw, startedAtRaw, completedAtRaw sql.NullString
	if err := row.Scan(&s.ID, &s.WebsiteURL, &modesRaw, &s.Email, &credentialsRaw, &s.Status, &s.RemoteSessionID, &messagesRaw, &resultsRaw, &startedAtRaw, &completedAtRaw, &createdAtRaw); err != nil {
		return nil, err
	}

	s.Modes = []TestMode{}
	if err := decodeJSON(modesRaw, &s.Modes); err != nil {
		return nil, err
	}
	var err error
	s.Messages, err = decodeStringSlice(messagesRaw)
	if err != nil {
		return nil, err
	}
	if credentialsRaw.Valid {
		if err := decodeJSON(credentialsRaw.String, &s.Credentials); err != nil {
			return nil, err
		}
	}
	if resultsRaw.Valid {
		s.Results = &SessionResults{}
		if err := decodeJSON(resultsRaw.String, s.Results); err != nil {
			return nil, err
		}
	}
	if s.StartedAt, err = parseNullTimestamp(startedAtRaw); err != nil {
		return nil, err
	}
	if s.CompletedAt, err = parseNullTimestamp(completedAtRaw); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *TestSessionRepo) Create(ctx context.Context, session *TestSession) error {
	return insertTestSession(ctx, r.db, session)
}

// CreateWithProject upserts the project for the session's website and
// inserts the session in one transaction. Either both rows land or neither.
func (r *TestSessionRepo) CreateWithProject(ctx context.Context, session *TestSession, projectName, projectDescription string) error {
	return withTx(ctx, r.db, "create test session", func(tx *sql.Tx) error {
		if err := upsertProject(ctx, tx, session.WebsiteURL, projectName, projectDescription); err != nil {
			return err
		}
		return insertTestSession(ctx, tx, session)
	})
}

func insertTestSession(ctx context.Context, conn execer, session *TestSession) error {
	if session.ID == "" {
		session.ID = NewID()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = nowUTC()
	}
	if session.Messages == nil {
		session.Messages = []string{}
	}

	modesRaw, err := encodeJSON(session.Modes)
	if err != nil {
		return err
	}
	messagesRaw, err := encodeStringSlice(session.Messages)
	if err != nil {
		return err
	}
	credentialsRaw, err := encodeNullJSON(session.Credentials, len(session.Credentials) == 0)
	if err != nil {
		return err
	}
	resultsRaw, err := encodeNullJSON(session.Results, session.Results == nil)
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `
INSERT INTO test_sessions (id, website_url, modes, email, credentials, status, remote_session_id, messages, results, started_at, completed_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, session.ID, session.WebsiteURL, modesRaw, session.Email, credentialsRaw, string(session.Status), session.RemoteSessionID, messagesRaw, resultsRaw, formatNullTimestamp(session.StartedAt), formatNullTimestamp(session.CompletedAt), formatTimestamp(session.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create test session: %w", err)
	}
	return nil
}

func (r *TestSessionRepo) Get(ctx context.Context, id string) (*TestSession, error) {
	s, err := scanTestSession(r.db.QueryRowContext(ctx, `SELECT `+testSessionColumns+` FROM test_sessions WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get test session %q: %w", id, err)
	}
	return s, nil
}

// ListByWebsite returns the newest sessions for websiteURL first.
func (r *TestSessionRepo) ListByWebsite(ctx context.Context, websiteURL string, limit int) ([]*TestSession, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+testSessionColumns+`
FROM test_sessions
WHERE website_url = ?
ORDER BY started_at DESC, rowid DESC
LIMIT ?
`, websiteURL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list test sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*TestSession{}
	for rows.Next() {
		s, err := scanTestSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating test sessions: %w", err)
	}
	return sessions, nil
}

func (r *TestSessionRepo) Latest(ctx context.Context, websiteURL string) (*TestSession, error) {
	sessions, err := r.ListByWebsite(ctx, websiteURL, 1)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

func (r *TestSessionRepo) SetRemoteSessionID(ctx context.Context, id, remoteSessionID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE test_sessions SET remote_session_id = ? WHERE id = ?`, remoteSessionID, id)
	if err != nil {
		return false, fmt.Errorf("failed to set remote session id for %q: %w", id, err)
	}
	return affectedOne(res, "test session", id)
}

// Transition moves the session to status when its current status is one of
// from, stamping completedAt and appending message (if non-empty) in the same
// statement. It reports false when no row matched.
func (r *TestSessionRepo) Transition(ctx context.Context, id string, status SessionStatus, from []SessionStatus, completedAt *time.Time, message string) (bool, error) {
	args := []any{string(status), formatNullTimestamp(completedAt), message, message, id}
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE test_sessions
SET status = ?,
	completed_at = ?,
	messages = CASE WHEN ? = '' THEN messages ELSE json_insert(messages, '$[#]', ?) END
WHERE id = ? AND status IN (`+placeholders(len(from))+`)
`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition test session %q to %s: %w", id, status, err)
	}
	return affectedOne(res, "test session", id)
}

// AppendMessage appends to the message log when the session status is one of
// allowed.
func (r *TestSessionRepo) AppendMessage(ctx context.Context, id, message string, allowed []SessionStatus) (bool, error) {
	args := []any{message, id}
	for _, s := range allowed {
		args = append(args, string(s))
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE test_sessions
SET messages = json_insert(messages, '$[#]', ?)
WHERE id = ? AND status IN (`+placeholders(len(allowed))+`)
`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to append message to test session %q: %w", id, err)
	}
	return affectedOne(res, "test session", id)
}

// MergeResults overwrites the counters present in patch and keeps the rest.
func (r *TestSessionRepo) MergeResults(ctx context.Context, id string, patch ResultsPatch) (bool, error) {
	expr := `COALESCE(results, '{"completed":0,"passed":0,"failed":0,"skipped":0}')`
	args := []any{}
	paths := []struct {
		path  string
		value *int
	}{
		{"$.completed", patch.Completed},
		{"$.passed", patch.Passed},
		{"$.failed", patch.Failed},
		{"$.skipped", patch.Skipped},
	}
	setters := []string{}
	for _, p := range paths {
		if p.value == nil {
			continue
		}
		setters = append(setters, fmt.Sprintf("'%s', ?", p.path))
		args = append(args, *p.value)
	}
	if len(setters) > 0 {
		expr = "json_set(" + expr + ", " + strings.Join(setters, ", ") + ")"
	}
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, `UPDATE test_sessions SET results = `+expr+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to merge results for test session %q: %w", id, err)
	}
	return affectedOne(res, "test session", id)
}
