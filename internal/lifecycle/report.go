package lifecycle

import (
	"context"
	"log/slog"

	"github.com/user/buffalo/internal/db"
	"github.com/user/buffalo/internal/metrics"
)

type ReportInput struct {
	TestSessionID string     `json:"testSessionId"`
	Summary       string     `json:"summary"`
	Issues        []db.Issue `json:"issues"`
}

// CreateReport stores the session's report unless one already exists. The
// first writer wins: a later call returns the stored report with created
// false and changes nothing.
func (c *Controller) CreateReport(ctx context.Context, in ReportInput) (*db.TestReport, bool, error) {
	if in.TestSessionID == "" {
		return nil, false, invalidArgument("testSessionId is required")
	}
	if _, err := c.GetSession(ctx, in.TestSessionID); err != nil {
		return nil, false, err
	}

	existing, err := c.reports.GetBySession(ctx, in.TestSessionID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		slog.Info("report already exists", "session_id", in.TestSessionID, "report_id", existing.ID)
		metrics.RecordReport(false)
		return existing, false, nil
	}

	if err := c.validateIssues(ctx, in.TestSessionID, in.Issues); err != nil {
		return nil, false, err
	}

	issues := in.Issues
	if issues == nil {
		issues = []db.Issue{}
	}
	report := &db.TestReport{
		TestSessionID: in.TestSessionID,
		Summary:       in.Summary,
		Issues:        issues,
		CreatedAt:     c.now(),
	}
	created, err := c.reports.CreateIfAbsent(ctx, report)
	if err != nil {
		return nil, false, err
	}
	metrics.RecordReport(created)
	if !created {
		// Lost the race to a concurrent writer.
		slog.Info("report already exists", "session_id", in.TestSessionID)
		stored, err := c.reports.GetBySession(ctx, in.TestSessionID)
		if err != nil {
			return nil, false, err
		}
		return stored, false, nil
	}

	slog.Info("report created", "session_id", in.TestSessionID, "issues", len(issues))
	c.notify(EventReportCreated, in.TestSessionID, report)
	return report, true, nil
}

// validateIssues checks severities and that referenced executions belong to
// the session. An empty testExecutionId is treated as absent.
func (c *Controller) validateIssues(ctx context.Context, sessionID string, issues []db.Issue) error {
	var owned map[string]bool
	for i, issue := range issues {
		if !issue.Severity.Valid() {
			return invalidArgument("issue %d: unknown severity %q", i, issue.Severity)
		}
		if issue.TestExecutionID == "" {
			continue
		}
		if owned == nil {
			executions, err := c.executions.ListBySession(ctx, sessionID)
			if err != nil {
				return err
			}
			owned = make(map[string]bool, len(executions))
			for _, e := range executions {
				owned[e.ID] = true
			}
		}
		if !owned[issue.TestExecutionID] {
			return invalidArgument("issue %d: execution %q does not belong to session %q", i, issue.TestExecutionID, sessionID)
		}
	}
	return nil
}

func (c *Controller) GetReport(ctx context.Context, sessionID string) (*db.TestReport, error) {
	if _, err := c.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	report, err := c.reports.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, notFound("test report for session", sessionID)
	}
	return report, nil
}
