package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/buffalo/internal/db"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidArgument   = errors.New("invalid argument")
)

const (
	EventSessionUpdated   = "session_updated"
	EventExecutionUpdated = "execution_updated"
	EventReportCreated    = "report_created"
)

type SessionStore interface {
	CreateWithProject(ctx context.Context, session *db.TestSession, projectName, projectDescription string) error
	Get(ctx context.Context, id string) (*db.TestSession, error)
	ListByWebsite(ctx context.Context, websiteURL string, limit int) ([]*db.TestSession, error)
	SetRemoteSessionID(ctx context.Context, id, remoteSessionID string) (bool, error)
	Transition(ctx context.Context, id string, status db.SessionStatus, from []db.SessionStatus, completedAt *time.Time, message string) (bool, error)
	AppendMessage(ctx context.Context, id, message string, allowed []db.SessionStatus) (bool, error)
	MergeResults(ctx context.Context, id string, patch db.ResultsPatch) (bool, error)
}

type ExecutionStore interface {
	Create(ctx context.Context, e *db.TestExecution) error
	CreateBatch(ctx context.Context, executions []*db.TestExecution) error
	Get(ctx context.Context, id string) (*db.TestExecution, error)
	ListBySession(ctx context.Context, sessionID string) ([]*db.TestExecution, error)
	MarkRunning(ctx context.Context, id string, at time.Time) (bool, error)
	MarkTerminal(ctx context.Context, id string, status db.ExecutionStatus, at time.Time) (bool, error)
	SaveResults(ctx context.Context, id string, passed bool, message string, errorMessage *string, at time.Time) (bool, error)
	SaveFailure(ctx context.Context, id string, message, errorMessage string, at time.Time) (bool, error)
	AppendScreenshot(ctx context.Context, id, screenshotURL string) (bool, error)
}

type ReportStore interface {
	CreateIfAbsent(ctx context.Context, report *db.TestReport) (bool, error)
	GetBySession(ctx context.Context, sessionID string) (*db.TestReport, error)
}

// Notifier receives an event after every successful mutation.
type Notifier interface {
	Notify(eventType, sessionID string, payload any)
}

type Stores struct {
	Sessions   SessionStore
	Executions ExecutionStore
	Reports    ReportStore
}

// Controller owns the session and execution state machines. Every mutation
// is a single conditional statement in the store, so concurrent callbacks for
// the same session never lose updates.
type Controller struct {
	sessions   SessionStore
	executions ExecutionStore
	reports    ReportStore
	notifier   Notifier
	now        func() time.Time
}

func New(stores Stores, notifier Notifier) *Controller {
	return &Controller{
		sessions:   stores.Sessions,
		executions: stores.Executions,
		reports:    stores.Reports,
		notifier:   notifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *Controller) notify(eventType, sessionID string, payload any) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(eventType, sessionID, payload)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
