package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/buffalo/internal/db"
)

type recordedEvent struct {
	Type      string
	SessionID string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Notify(eventType, sessionID string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{Type: eventType, SessionID: sessionID})
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e.Type == eventType {
			total++
		}
	}
	return total
}

type fixture struct {
	ctrl     *Controller
	projects *db.ProjectRepo
	notifier *recordingNotifier

	clockMu sync.Mutex
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "lifecycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	conn := database.SQL()
	f := &fixture{
		projects: db.NewProjectRepo(conn),
		notifier: &recordingNotifier{},
		clock:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.ctrl = New(Stores{
		Sessions:   db.NewTestSessionRepo(conn),
		Executions: db.NewTestExecutionRepo(conn),
		Reports:    db.NewTestReportRepo(conn),
	}, f.notifier)
	f.ctrl.now = func() time.Time {
		f.clockMu.Lock()
		defer f.clockMu.Unlock()
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func (f *fixture) session(t *testing.T, credentials map[string]string) *db.TestSession {
	t.Helper()
	s, err := f.ctrl.CreateSession(context.Background(), CreateSessionInput{
		WebsiteURL:  "https://example.com",
		Modes:       []db.TestMode{db.ModeExploratory},
		Email:       "qa@example.com",
		Credentials: credentials,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) execution(t *testing.T, sessionID string) *db.TestExecution {
	t.Helper()
	e, err := f.ctrl.CreateExecution(context.Background(), sessionID, ExecutionInput{Name: "login", Prompt: "log in", Type: "exploratory"})
	require.NoError(t, err)
	return e
}

func assertSessionInvariant(t *testing.T, s *db.TestSession) {
	t.Helper()
	assert.Equal(t, s.Status.Terminal(), s.CompletedAt != nil, "completedAt set iff terminal (status %s)", s.Status)
}

func assertExecutionInvariant(t *testing.T, e *db.TestExecution) {
	t.Helper()
	assert.Equal(t, e.Status.Terminal(), e.CompletedAt != nil, "completedAt set iff terminal (status %s)", e.Status)
	if e.StartedAt != nil && e.CompletedAt != nil {
		assert.False(t, e.StartedAt.After(*e.CompletedAt), "startedAt after completedAt")
	}
}

func TestCreateSessionStartsRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.session(t, nil)

	assert.Equal(t, db.SessionRunning, s.Status)
	assert.NotNil(t, s.StartedAt)
	assertSessionInvariant(t, s)

	project, err := f.projects.GetByURL(ctx, "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, project)
	assert.Equal(t, "example.com", project.Name)

	_, err = f.ctrl.GetReport(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.notifier.count(EventSessionUpdated))
}

func TestCreateSessionValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []CreateSessionInput{
		{Modes: []db.TestMode{db.ModeExploratory}},
		{WebsiteURL: "https://example.com"},
		{WebsiteURL: "https://example.com", Modes: []db.TestMode{"smoke"}},
	}
	for i, in := range cases {
		_, err := f.ctrl.CreateSession(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidArgument, "case %d", i)
	}

	s, err := f.ctrl.CreateSession(ctx, CreateSessionInput{
		WebsiteURL: "https://example.com",
		Modes:      []db.TestMode{db.ModeUserDefined, db.ModeUserDefined, db.ModeBuffaloDefined},
	})
	require.NoError(t, err)
	assert.Equal(t, []db.TestMode{db.ModeUserDefined, db.ModeBuffaloDefined}, s.Modes)
}

func TestSessionTransitionsRejectTerminalStates(t *testing.T) {
	ctx := context.Background()
	transitions := map[string]func(c *Controller, id string) (*db.TestSession, error){
		"complete": func(c *Controller, id string) (*db.TestSession, error) { return c.MarkCompleted(ctx, id) },
		"fail":     func(c *Controller, id string) (*db.TestSession, error) { return c.MarkFailed(ctx, id, "") },
		"cancel":   func(c *Controller, id string) (*db.TestSession, error) { return c.Cancel(ctx, id) },
	}

	for first, firstFn := range transitions {
		for second, secondFn := range transitions {
			t.Run(first+"_then_"+second, func(t *testing.T) {
				f := newFixture(t)
				s := f.session(t, nil)

				done, err := firstFn(f.ctrl, s.ID)
				require.NoError(t, err)
				assertSessionInvariant(t, done)

				_, err = secondFn(f.ctrl, s.ID)
				assert.ErrorIs(t, err, ErrInvalidTransition)

				after, err := f.ctrl.GetSession(ctx, s.ID)
				require.NoError(t, err)
				assert.Equal(t, done.Status, after.Status)
				assert.Equal(t, done.CompletedAt, after.CompletedAt)
				assertSessionInvariant(t, after)
			})
		}
	}
}

func TestSessionTransitionUnknownID(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.MarkCompleted(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.ctrl.AppendMessage(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkFailedAppendsErrorMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)

	_, err := f.ctrl.AppendMessage(ctx, s.ID, "crawling pages")
	require.NoError(t, err)
	failed, err := f.ctrl.MarkFailed(ctx, s.ID, "agent crashed")
	require.NoError(t, err)

	assert.Equal(t, db.SessionFailed, failed.Status)
	assert.Equal(t, []string{"crawling pages", "Error: agent crashed"}, failed.Messages)
}

func TestAppendMessageRejectedAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)

	_, err := f.ctrl.Cancel(ctx, s.ID)
	require.NoError(t, err)
	_, err = f.ctrl.AppendMessage(ctx, s.ID, "late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConcurrentAppendMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.ctrl.AppendMessage(ctx, s.ID, fmt.Sprintf("progress %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.ctrl.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 25)
}

func TestUpdateProgressMergesCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)

	two, one := 2, 1
	_, err := f.ctrl.UpdateProgress(ctx, s.ID, db.ResultsPatch{Completed: &two, Passed: &two})
	require.NoError(t, err)
	got, err := f.ctrl.UpdateProgress(ctx, s.ID, db.ResultsPatch{Failed: &one})
	require.NoError(t, err)
	assert.Equal(t, &db.SessionResults{Completed: 2, Passed: 2, Failed: 1}, got.Results)

	_, err = f.ctrl.UpdateProgress(ctx, s.ID, db.ResultsPatch{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	negative := -1
	_, err = f.ctrl.UpdateProgress(ctx, s.ID, db.ResultsPatch{Skipped: &negative})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRemoteSessionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)

	_, err := f.ctrl.SetRemoteSessionID(ctx, s.ID, "remote-42")
	require.NoError(t, err)
	remote, err := f.ctrl.GetRemoteSessionID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote-42", remote)

	_, err = f.ctrl.SetRemoteSessionID(ctx, "missing", "remote-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.ctrl.SetRemoteSessionID(ctx, s.ID, " ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestExecutionDefaultsToSessionURL(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, nil)

	e := f.execution(t, s.ID)
	assert.Equal(t, "https://example.com", e.WebsiteURL)
	assert.Equal(t, db.ExecutionPending, e.Status)
	assertExecutionInvariant(t, e)

	_, err := f.ctrl.CreateExecution(context.Background(), "missing", ExecutionInput{Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecutionStatusMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)
	e := f.execution(t, s.ID)

	running, err := f.ctrl.SetExecutionStatus(ctx, e.ID, db.ExecutionRunning)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	assertExecutionInvariant(t, running)

	again, err := f.ctrl.SetExecutionStatus(ctx, e.ID, db.ExecutionRunning)
	require.NoError(t, err)
	assert.Equal(t, running.StartedAt, again.StartedAt, "startedAt is stamped once")

	_, err = f.ctrl.SetExecutionStatus(ctx, e.ID, db.ExecutionPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	skipped, err := f.ctrl.SetExecutionStatus(ctx, e.ID, db.ExecutionSkipped)
	require.NoError(t, err)
	assertExecutionInvariant(t, skipped)
	require.NotNil(t, skipped.ExecutionTime)
	assert.Positive(t, *skipped.ExecutionTime)

	_, err = f.ctrl.SetExecutionStatus(ctx, e.ID, db.ExecutionRunning)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.ctrl.SetExecutionStatus(ctx, e.ID, db.ExecutionFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.ctrl.SetExecutionStatus(ctx, e.ID, "paused")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.ctrl.SetExecutionStatus(ctx, "missing", db.ExecutionRunning)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveFailureOnPendingExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)
	e := f.execution(t, s.ID)

	failed, err := f.ctrl.SaveFailure(ctx, e.ID, FailureInput{Message: "login form missing", ErrorMessage: "selector not found"})
	require.NoError(t, err)

	assert.Equal(t, db.ExecutionFailed, failed.Status)
	require.NotNil(t, failed.Passed)
	assert.False(t, *failed.Passed)
	assert.NotNil(t, failed.CompletedAt)
	assertExecutionInvariant(t, failed)
}

func TestSaveResultsOverwritesAndForcesCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)
	e := f.execution(t, s.ID)

	_, err := f.ctrl.SaveFailure(ctx, e.ID, FailureInput{Message: "first", ErrorMessage: "boom"})
	require.NoError(t, err)
	done, err := f.ctrl.SaveResults(ctx, e.ID, ResultInput{Passed: true, Message: "retried"})
	require.NoError(t, err)
	done, err = f.ctrl.SaveResults(ctx, e.ID, ResultInput{Passed: true, Message: "retried"})
	require.NoError(t, err)

	assert.Equal(t, db.ExecutionCompleted, done.Status)
	require.NotNil(t, done.Passed)
	assert.True(t, *done.Passed)
	assert.Equal(t, "retried", done.Message)
	assert.Equal(t, "boom", done.ErrorMessage)
	assertExecutionInvariant(t, done)

	cleared := ""
	done, err = f.ctrl.SaveResults(ctx, e.ID, ResultInput{Passed: true, Message: "retried", ErrorMessage: &cleared})
	require.NoError(t, err)
	assert.Empty(t, done.ErrorMessage)

	_, err = f.ctrl.SaveResults(ctx, "missing", ResultInput{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScreenshotsAppendAfterTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)
	e := f.execution(t, s.ID)

	_, err := f.ctrl.SaveResults(ctx, e.ID, ResultInput{Passed: true})
	require.NoError(t, err)
	got, err := f.ctrl.AppendScreenshot(ctx, e.ID, "https://cdn.example.com/shot.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/shot.png"}, got.Screenshots)

	_, err = f.ctrl.AppendScreenshot(ctx, e.ID, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLateCallbacksForCancelledSessionAreAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)
	_, err := f.ctrl.Cancel(ctx, s.ID)
	require.NoError(t, err)

	e := f.execution(t, s.ID)
	_, err = f.ctrl.SaveResults(ctx, e.ID, ResultInput{Passed: false, Message: "stale"})
	require.NoError(t, err)
	_, created, err := f.ctrl.CreateReport(ctx, ReportInput{TestSessionID: s.ID, Summary: "late"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestCreateExecutionsBatchKeepsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)

	batch, err := f.ctrl.CreateExecutions(ctx, s.ID, []ExecutionInput{
		{Name: "home", Type: "exploratory"},
		{Name: "cart", WebsiteURL: "https://example.com/cart", Type: "user_flow"},
	})
	require.NoError(t, err)
	require.Len(t, batch, 2)

	list, err := f.ctrl.ListExecutions(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, batch[0].ID, list[0].ID)
	assert.Equal(t, "https://example.com/cart", list[1].WebsiteURL)

	_, err = f.ctrl.CreateExecutions(ctx, s.ID, []ExecutionInput{{Name: "ok"}, {Name: ""}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	list, err = f.ctrl.ListExecutions(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCreateReportFirstCallWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)
	e := f.execution(t, s.ID)

	first, created, err := f.ctrl.CreateReport(ctx, ReportInput{
		TestSessionID: s.ID,
		Summary:       "one issue",
		Issues:        []db.Issue{{Severity: db.SeverityHigh, Risk: "checkout broken", TestExecutionID: e.ID}},
	})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.ctrl.CreateReport(ctx, ReportInput{
		TestSessionID: s.ID,
		Summary:       "different",
		Issues:        []db.Issue{{Severity: db.SeverityLow}, {Severity: db.SeverityMedium}},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	stored, err := f.ctrl.GetReport(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "one issue", stored.Summary)
	assert.Len(t, stored.Issues, 1)
	assert.Equal(t, 1, f.notifier.count(EventReportCreated))
}

func TestCreateReportConcurrentCallsStoreOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := f.ctrl.CreateReport(ctx, ReportInput{TestSessionID: s.ID, Summary: fmt.Sprintf("report %d", i)})
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
}

func TestCreateReportValidatesIssues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, nil)
	other := f.session(t, nil)
	foreign := f.execution(t, other.ID)

	_, _, err := f.ctrl.CreateReport(ctx, ReportInput{TestSessionID: s.ID, Issues: []db.Issue{{Severity: "Critical"}}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = f.ctrl.CreateReport(ctx, ReportInput{TestSessionID: s.ID, Issues: []db.Issue{{Severity: db.SeverityLow, TestExecutionID: foreign.ID}}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = f.ctrl.CreateReport(ctx, ReportInput{TestSessionID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.ctrl.GetReport(ctx, s.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}
