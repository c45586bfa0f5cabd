package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/buffalo/internal/db"
	"github.com/user/buffalo/internal/metrics"
)

type ExecutionInput struct {
	Name       string `json:"name"`
	Prompt     string `json:"prompt"`
	WebsiteURL string `json:"websiteUrl,omitempty"`
	Type       string `json:"type,omitempty"`
}

// ResultInput leaves ErrorMessage nil when the caller omitted it, so an
// earlier error message survives a later result.
type ResultInput struct {
	Passed       bool    `json:"passed"`
	Message      string  `json:"message"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

type FailureInput struct {
	Message      string `json:"message"`
	ErrorMessage string `json:"errorMessage"`
}

func (c *Controller) newExecution(session *db.TestSession, in ExecutionInput) (*db.TestExecution, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalidArgument("execution name is required")
	}
	pageURL := strings.TrimSpace(in.WebsiteURL)
	if pageURL == "" {
		pageURL = session.WebsiteURL
	}
	return &db.TestExecution{
		TestSessionID: session.ID,
		Name:          name,
		Prompt:        in.Prompt,
		WebsiteURL:    pageURL,
		Type:          strings.TrimSpace(in.Type),
		Status:        db.ExecutionPending,
		Screenshots:   []string{},
		CreatedAt:     c.now(),
	}, nil
}

// CreateExecution adds a pending execution to the session. The session may
// already be terminal; late work from the remote runtime is still recorded.
func (c *Controller) CreateExecution(ctx context.Context, sessionID string, in ExecutionInput) (*db.TestExecution, error) {
	session, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e, err := c.newExecution(session, in)
	if err != nil {
		return nil, err
	}
	if err := c.executions.Create(ctx, e); err != nil {
		return nil, err
	}
	metrics.RecordExecutionTransition(string(db.ExecutionPending))
	c.notify(EventExecutionUpdated, sessionID, e)
	return e, nil
}

// CreateExecutions inserts the batch atomically, keeping input order.
func (c *Controller) CreateExecutions(ctx context.Context, sessionID string, in []ExecutionInput) ([]*db.TestExecution, error) {
	if len(in) == 0 {
		return nil, invalidArgument("at least one execution is required")
	}
	session, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	batch := make([]*db.TestExecution, 0, len(in))
	for i, item := range in {
		e, err := c.newExecution(session, item)
		if err != nil {
			return nil, fmt.Errorf("execution %d: %w", i, err)
		}
		batch = append(batch, e)
	}
	if err := c.executions.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}
	for _, e := range batch {
		metrics.RecordExecutionTransition(string(db.ExecutionPending))
		c.notify(EventExecutionUpdated, sessionID, e)
	}
	return batch, nil
}

func (c *Controller) GetExecution(ctx context.Context, id string) (*db.TestExecution, error) {
	e, err := c.executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound("test execution", id)
	}
	return e, nil
}

func (c *Controller) ListExecutions(ctx context.Context, sessionID string) ([]*db.TestExecution, error) {
	if _, err := c.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.executions.ListBySession(ctx, sessionID)
}

// SetExecutionStatus applies pending -> running -> terminal. Running stamps
// startedAt once; terminal statuses stamp completedAt. Moving a terminal
// execution is rejected.
func (c *Controller) SetExecutionStatus(ctx context.Context, id string, status db.ExecutionStatus) (*db.TestExecution, error) {
	if !status.Valid() {
		return nil, invalidArgument("unknown execution status %q", status)
	}

	var (
		ok  bool
		err error
	)
	at := c.now()
	switch {
	case status == db.ExecutionRunning:
		ok, err = c.executions.MarkRunning(ctx, id, at)
	case status.Terminal():
		ok, err = c.executions.MarkTerminal(ctx, id, status, at)
	default:
		e, getErr := c.GetExecution(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if e.Status == db.ExecutionPending {
			return e, nil
		}
		metrics.RecordRejectedTransition("execution")
		return nil, fmt.Errorf("%w: test execution %q is %s: cannot move to %s", ErrInvalidTransition, id, e.Status, status)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, c.executionRejected(ctx, id, status)
	}
	metrics.RecordExecutionTransition(string(status))
	return c.publishExecution(ctx, id)
}

// SaveResults is the success path: status becomes completed whatever it was
// before. Saving twice overwrites the earlier result.
func (c *Controller) SaveResults(ctx context.Context, id string, in ResultInput) (*db.TestExecution, error) {
	ok, err := c.executions.SaveResults(ctx, id, in.Passed, in.Message, in.ErrorMessage, c.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("test execution", id)
	}
	metrics.RecordExecutionTransition(string(db.ExecutionCompleted))
	return c.publishExecution(ctx, id)
}

// SaveFailure is the failure path: status becomes failed and passed false
// whatever the execution went through before.
func (c *Controller) SaveFailure(ctx context.Context, id string, in FailureInput) (*db.TestExecution, error) {
	ok, err := c.executions.SaveFailure(ctx, id, in.Message, in.ErrorMessage, c.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("test execution", id)
	}
	metrics.RecordExecutionTransition(string(db.ExecutionFailed))
	return c.publishExecution(ctx, id)
}

// AppendScreenshot is accepted in every status, terminal ones included.
func (c *Controller) AppendScreenshot(ctx context.Context, id, screenshotURL string) (*db.TestExecution, error) {
	if strings.TrimSpace(screenshotURL) == "" {
		return nil, invalidArgument("screenshot url is required")
	}
	ok, err := c.executions.AppendScreenshot(ctx, id, screenshotURL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("test execution", id)
	}
	return c.publishExecution(ctx, id)
}

func (c *Controller) executionRejected(ctx context.Context, id string, to db.ExecutionStatus) error {
	e, err := c.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	metrics.RecordRejectedTransition("execution")
	return fmt.Errorf("%w: test execution %q is %s: cannot move to %s", ErrInvalidTransition, id, e.Status, to)
}

func (c *Controller) publishExecution(ctx context.Context, id string) (*db.TestExecution, error) {
	e, err := c.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	c.notify(EventExecutionUpdated, e.TestSessionID, e)
	return e, nil
}
