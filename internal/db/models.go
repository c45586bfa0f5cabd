package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TestMode string

const (
	ModeExploratory    TestMode = "exploratory"
	ModeUserDefined    TestMode = "user-defined"
	ModeBuffaloDefined TestMode = "buffalo-defined"
)

func (m TestMode) Valid() bool {
	switch m {
	case ModeExploratory, ModeUserDefined, ModeBuffaloDefined:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionSkipped   ExecutionStatus = "skipped"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionSkipped
}

func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionCompleted, ExecutionFailed, ExecutionSkipped:
		return true
	}
	return false
}

type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

func (s Severity) Valid() bool {
	return s == SeverityHigh || s == SeverityMedium || s == SeverityLow
}

type Project struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	SensitiveInfo map[string]any `json:"sensitiveInfo,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type CustomTest struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId,omitempty"`
	Name        string    `json:"name"`
	Prompt      string    `json:"prompt"`
	Type        TestMode  `json:"type"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	IsActive    *bool     `json:"isActive,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type SessionResults struct {
	Completed int `json:"completed"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ResultsPatch carries the counters to overwrite; nil fields are left alone.
type ResultsPatch struct {
	Completed *int `json:"completed,omitempty"`
	Passed    *int `json:"passed,omitempty"`
	Failed    *int `json:"failed,omitempty"`
	Skipped   *int `json:"skipped,omitempty"`
}

func (p ResultsPatch) Empty() bool {
	return p.Completed == nil && p.Passed == nil && p.Failed == nil && p.Skipped == nil
}

type TestSession struct {
	ID              string            `json:"id"`
	WebsiteURL      string            `json:"websiteUrl"`
	Modes           []TestMode        `json:"modes"`
	Email           string            `json:"email"`
	Credentials     map[string]string `json:"credentials,omitempty"`
	Status          SessionStatus     `json:"status"`
	RemoteSessionID string            `json:"remoteSessionId,omitempty"`
	Messages        []string          `json:"messages"`
	Results         *SessionResults   `json:"results,omitempty"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

type TestExecution struct {
	ID            string          `json:"id"`
	TestSessionID string          `json:"testSessionId"`
	Name          string          `json:"name"`
	Prompt        string          `json:"prompt"`
	WebsiteURL    string          `json:"websiteUrl,omitempty"`
	Type          string          `json:"type,omitempty"`
	Status        ExecutionStatus `json:"status"`
	Passed        *bool           `json:"passed,omitempty"`
	Message       string          `json:"message,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Screenshots   []string        `json:"screenshots"`
	ExecutionTime *int64          `json:"executionTime,omitempty"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type Issue struct {
	Severity        Severity `json:"severity"`
	Risk            string   `json:"risk"`
	Details         string   `json:"details"`
	TestExecutionID string   `json:"testExecutionId"`
	Advice          string   `json:"advice"`
}

type TestReport struct {
	ID            string    `json:"id"`
	TestSessionID string    `json:"testSessionId"`
	Summary       string    `json:"summary"`
	Issues        []Issue   `json:"issues"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CascadeResult counts the rows removed by a project delete.
type CascadeResult struct {
	Sessions    int64 `json:"sessions"`
	Executions  int64 `json:"executions"`
	Reports     int64 `json:"reports"`
	CustomTests int64 `json:"customTests"`
}

func NewID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// timestampLayout keeps every fraction nine digits wide so stored values sort
// lexically in time order. RFC3339Nano trims trailing zeros and does not.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(timestampLayout)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func formatNullTimestamp(ts *time.Time) sql.NullString {
	if ts == nil || ts.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(*ts), Valid: true}
}

func parseNullTimestamp(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	ts, err := parseTimestamp(v.String)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func encodeJSON(v any) (string, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(buf), nil
}

func encodeNullJSON(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	raw, err := encodeJSON(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: raw, Valid: true}, nil
}

func decodeJSON(raw string, dst any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

func encodeStringSlice(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	return encodeJSON(values)
}

func decodeStringSlice(raw string) ([]string, error) {
	values := []string{}
	if err := decodeJSON(raw, &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func nullIfEmpty(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullBool(v *bool) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(boolToInt(*v)), Valid: true}
}

func boolPtr(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
