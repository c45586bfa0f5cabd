package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/buffalo/internal/db"
	"github.com/user/buffalo/internal/metrics"
)

var activeSessionStatuses = []db.SessionStatus{db.SessionPending, db.SessionRunning}

type CreateSessionInput struct {
	WebsiteURL         string            `json:"websiteUrl"`
	Modes              []db.TestMode     `json:"modes"`
	Email              string            `json:"email"`
	Credentials        map[string]string `json:"credentials,omitempty"`
	ProjectName        string            `json:"projectName,omitempty"`
	ProjectDescription string            `json:"projectDescription,omitempty"`
}

// CreateSession upserts the project for the website and starts a session in
// status running.
func (c *Controller) CreateSession(ctx context.Context, in CreateSessionInput) (*db.TestSession, error) {
	websiteURL := strings.TrimSpace(in.WebsiteURL)
	if websiteURL == "" {
		return nil, invalidArgument("websiteUrl is required")
	}
	modes, err := normalizeModes(in.Modes)
	if err != nil {
		return nil, err
	}

	started := c.now()
	session := &db.TestSession{
		WebsiteURL:  websiteURL,
		Modes:       modes,
		Email:       strings.TrimSpace(in.Email),
		Credentials: in.Credentials,
		Status:      db.SessionRunning,
		Messages:    []string{},
		StartedAt:   &started,
		CreatedAt:   started,
	}
	if err := c.sessions.CreateWithProject(ctx, session, in.ProjectName, in.ProjectDescription); err != nil {
		return nil, err
	}

	slog.Info("test session created", "session_id", session.ID, "website_url", websiteURL, "modes", modes)
	metrics.RecordSessionTransition(string(db.SessionRunning))
	c.notify(EventSessionUpdated, session.ID, session)
	return session, nil
}

func normalizeModes(modes []db.TestMode) ([]db.TestMode, error) {
	if len(modes) == 0 {
		return nil, invalidArgument("at least one mode is required")
	}
	seen := map[db.TestMode]bool{}
	out := make([]db.TestMode, 0, len(modes))
	for _, m := range modes {
		if !m.Valid() {
			return nil, invalidArgument("unknown test mode %q", m)
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

func (c *Controller) GetSession(ctx context.Context, id string) (*db.TestSession, error) {
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, notFound("test session", id)
	}
	return s, nil
}

func (c *Controller) ListSessions(ctx context.Context, websiteURL string, limit int) ([]*db.TestSession, error) {
	if strings.TrimSpace(websiteURL) == "" {
		return nil, invalidArgument("websiteUrl is required")
	}
	return c.sessions.ListByWebsite(ctx, websiteURL, limit)
}

func (c *Controller) SetRemoteSessionID(ctx context.Context, id, remoteSessionID string) (*db.TestSession, error) {
	if strings.TrimSpace(remoteSessionID) == "" {
		return nil, invalidArgument("remoteSessionId is required")
	}
	ok, err := c.sessions.SetRemoteSessionID(ctx, id, remoteSessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("test session", id)
	}
	return c.publishSession(ctx, id)
}

func (c *Controller) GetRemoteSessionID(ctx context.Context, id string) (string, error) {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	return s.RemoteSessionID, nil
}

func (c *Controller) MarkCompleted(ctx context.Context, id string) (*db.TestSession, error) {
	return c.transition(ctx, id, db.SessionCompleted, "")
}

// MarkFailed fails the session and, when errorMessage is set, appends
// "Error: <errorMessage>" to its messages.
func (c *Controller) MarkFailed(ctx context.Context, id, errorMessage string) (*db.TestSession, error) {
	message := ""
	if strings.TrimSpace(errorMessage) != "" {
		message = "Error: " + errorMessage
	}
	return c.transition(ctx, id, db.SessionFailed, message)
}

// Cancel marks the session cancelled. Remote agents are not stopped; their
// later callbacks are still accepted.
func (c *Controller) Cancel(ctx context.Context, id string) (*db.TestSession, error) {
	return c.transition(ctx, id, db.SessionCancelled, "")
}

func (c *Controller) transition(ctx context.Context, id string, to db.SessionStatus, message string) (*db.TestSession, error) {
	at := c.now()
	ok, err := c.sessions.Transition(ctx, id, to, activeSessionStatuses, &at, message)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, c.sessionRejected(ctx, id, fmt.Sprintf("cannot move to %s", to))
	}
	slog.Info("test session transitioned", "session_id", id, "status", to)
	metrics.RecordSessionTransition(string(to))
	return c.publishSession(ctx, id)
}

func (c *Controller) AppendMessage(ctx context.Context, id, text string) (*db.TestSession, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalidArgument("message is required")
	}
	ok, err := c.sessions.AppendMessage(ctx, id, text, activeSessionStatuses)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, c.sessionRejected(ctx, id, "cannot append message")
	}
	return c.publishSession(ctx, id)
}

// UpdateProgress merges the given counters into the session results. Late
// updates for terminal sessions are accepted.
func (c *Controller) UpdateProgress(ctx context.Context, id string, patch db.ResultsPatch) (*db.TestSession, error) {
	if patch.Empty() {
		return nil, invalidArgument("at least one counter is required")
	}
	for _, v := range []*int{patch.Completed, patch.Passed, patch.Failed, patch.Skipped} {
		if v != nil && *v < 0 {
			return nil, invalidArgument("counters cannot be negative")
		}
	}
	ok, err := c.sessions.MergeResults(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("test session", id)
	}
	return c.publishSession(ctx, id)
}

// sessionRejected tells a missing session apart from one whose status did
// not allow the operation.
func (c *Controller) sessionRejected(ctx context.Context, id, op string) error {
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return notFound("test session", id)
	}
	metrics.RecordRejectedTransition("session")
	return fmt.Errorf("%w: test session %q is %s: %s", ErrInvalidTransition, id, s.Status, op)
}

func (c *Controller) publishSession(ctx context.Context, id string) (*db.TestSession, error) {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	c.notify(EventSessionUpdated, id, s)
	return s, nil
}
