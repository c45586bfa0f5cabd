package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/user/buffalo/internal/catalog"
	"github.com/user/buffalo/internal/db"
	"github.com/user/buffalo/internal/dispatch"
	"github.com/user/buffalo/internal/graph"
	"github.com/user/buffalo/internal/lifecycle"
)

type graphBuilder interface {
	Build(req graph.SessionRequest) graph.Payload
}

type dispatcher interface {
	Dispatch(ctx context.Context, payload any) (*dispatch.Response, error)
	Claim(ctx context.Context, remoteSessionID string, amount int64) (*dispatch.Response, error)
}

// Options configures NewRouter. Builder and Gateway are required for the
// /session and claim endpoints; Catalog is optional.
type Options struct {
	Notifier      lifecycle.Notifier
	Builder       graphBuilder
	Gateway       dispatcher
	Catalog       *catalog.Catalog
	Token         string
	CallbackRate  float64
	CallbackBurst int
}

type handler struct {
	ctrl           *lifecycle.Controller
	projectRepo    *db.ProjectRepo
	sessionRepo    *db.TestSessionRepo
	executionRepo  *db.TestExecutionRepo
	customTestRepo *db.CustomTestRepo
	catalog        *catalog.Catalog
	builder        graphBuilder
	gw             dispatcher
}

func NewRouter(conn *sql.DB, opts Options) http.Handler {
	projectRepo := db.NewProjectRepo(conn)
	sessionRepo := db.NewTestSessionRepo(conn)
	executionRepo := db.NewTestExecutionRepo(conn)
	handler := &handler{
		ctrl: lifecycle.New(lifecycle.Stores{
			Sessions:   sessionRepo,
			Executions: executionRepo,
			Reports:    db.NewTestReportRepo(conn),
		}, opts.Notifier),
		projectRepo:    projectRepo,
		sessionRepo:    sessionRepo,
		executionRepo:  executionRepo,
		customTestRepo: db.NewCustomTestRepo(conn),
		catalog:        opts.Catalog,
		builder:        opts.Builder,
		gw:             opts.Gateway,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", handler.createRemoteSession)

	mux.HandleFunc("POST /api/projects", handler.upsertProject)
	mux.HandleFunc("GET /api/projects", handler.listProjects)
	mux.HandleFunc("GET /api/projects/{id}", handler.getProject)
	mux.HandleFunc("PATCH /api/projects/{id}", handler.updateProject)
	mux.HandleFunc("DELETE /api/projects/{id}", handler.deleteProject)
	mux.HandleFunc("GET /api/projects/{id}/sensitive-info", handler.getSensitiveInfo)
	mux.HandleFunc("PUT /api/projects/{id}/sensitive-info", handler.replaceSensitiveInfo)
	mux.HandleFunc("POST /api/projects/{id}/sensitive-info", handler.setSensitiveInfo)

	mux.HandleFunc("GET /api/projects/{id}/tests", handler.listProjectTests)
	mux.HandleFunc("POST /api/projects/{id}/tests", handler.createProjectTest)
	mux.HandleFunc("PUT /api/projects/{id}/tests", handler.replaceProjectTests)
	mux.HandleFunc("GET /api/tests/buffalo", handler.listBuffaloTests)
	mux.HandleFunc("POST /api/tests/buffalo/sync", handler.syncBuffaloTests)
	mux.HandleFunc("PATCH /api/tests/{id}", handler.updateTest)
	mux.HandleFunc("DELETE /api/tests/{id}", handler.deleteTest)

	mux.HandleFunc("POST /api/sessions", handler.createSession)
	mux.HandleFunc("GET /api/sessions", handler.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", handler.getSession)
	mux.HandleFunc("PUT /api/sessions/{id}/remote-session", handler.setRemoteSession)
	mux.HandleFunc("POST /api/sessions/{id}/messages", handler.appendMessage)
	mux.HandleFunc("POST /api/sessions/{id}/complete", handler.completeSession)
	mux.HandleFunc("POST /api/sessions/{id}/fail", handler.failSession)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", handler.cancelSession)
	mux.HandleFunc("PATCH /api/sessions/{id}/progress", handler.updateProgress)
	mux.HandleFunc("GET /api/sessions/{id}/view", handler.getSessionView)
	mux.HandleFunc("POST /api/sessions/{id}/claim", handler.claimPayment)

	mux.HandleFunc("GET /api/sessions/{id}/executions", handler.listExecutions)
	mux.HandleFunc("POST /api/sessions/{id}/executions", handler.createExecutions)
	mux.HandleFunc("GET /api/executions/{id}", handler.getExecution)
	mux.HandleFunc("PATCH /api/executions/{id}/status", handler.setExecutionStatus)
	mux.HandleFunc("POST /api/executions/{id}/results", handler.saveResults)
	mux.HandleFunc("POST /api/executions/{id}/failure", handler.saveFailure)
	mux.HandleFunc("POST /api/executions/{id}/screenshots", handler.appendScreenshot)

	mux.HandleFunc("GET /api/sessions/{id}/report", handler.getReport)
	mux.HandleFunc("POST /api/sessions/{id}/report", handler.createReport)

	tools := http.NewServeMux()
	tools.HandleFunc("GET "+graph.RequestPath, handler.userInputRequest)
	tools.HandleFunc("POST "+graph.RequestPath, handler.userInputRequest)
	tools.HandleFunc("GET "+graph.RespondPath, handler.userInputRespond)
	tools.HandleFunc("POST "+graph.RespondPath, handler.userInputRespond)

	// The remote runtime calls the tool endpoints without the UI token.
	root := http.NewServeMux()
	root.Handle("/tool/", rateLimitMiddleware(opts.CallbackRate, opts.CallbackBurst)(tools))
	root.Handle("/", authMiddleware(opts.Token)(mux))

	wrapped := jsonMiddleware(corsMiddleware(root))
	return wrapped
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

// rateLimitMiddleware applies one shared token bucket. A non-positive rate
// disables limiting.
func rateLimitMiddleware(perSecond float64, burst int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if perSecond <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(perSecond), burst)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				jsonError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
