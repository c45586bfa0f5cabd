package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/user/buffalo/internal/config"
	"github.com/user/buffalo/internal/metrics"
)

const (
	sessionsPath = "/api/v1/sessions"
	claimPath    = "/api/v1/internal/claim/"

	previewBytes = 500
	maxBodyBytes = 8 << 20

	defaultContentType = "application/json"
)

// ErrBodyTooLarge is wrapped in a TransportError when the remote runtime
// answers with more than maxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// TransportError means the remote runtime was never reached or the exchange
// broke before a response was read.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote runtime unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UpstreamError carries a non-2xx response untouched.
type UpstreamError struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("remote runtime returned status %d", e.StatusCode)
}

// Response is a successful remote reply forwarded as bytes.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// RemoteSessionID returns the "sessionId" or "id" string field of a JSON
// body, if any.
func (r *Response) RemoteSessionID() string {
	var fields map[string]any
	if err := json.Unmarshal(r.Body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"sessionId", "id"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

type Gateway struct {
	baseURL string
	client  *http.Client
	tracer  trace.Tracer
}

// New returns a gateway for the orchestration service at baseURL. A zero
// timeout leaves the call bounded only by the caller's context.
func New(baseURL string, timeout time.Duration) *Gateway {
	return &Gateway{
		baseURL: config.NormalizeBaseURL(baseURL),
		client:  &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("github.com/user/buffalo/internal/dispatch"),
	}
}

// Dispatch posts payload to the sessions endpoint once. It never retries.
func (g *Gateway) Dispatch(ctx context.Context, payload any) (*Response, error) {
	return g.post(ctx, "dispatch", g.baseURL+sessionsPath, payload)
}

type claimAmount struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

type claimRequest struct {
	Amount claimAmount `json:"amount"`
}

// Claim asks the orchestration service to charge amount for the remote
// session.
func (g *Gateway) Claim(ctx context.Context, remoteSessionID string, amount int64) (*Response, error) {
	if strings.TrimSpace(remoteSessionID) == "" {
		return nil, fmt.Errorf("remote session id cannot be empty")
	}
	body := claimRequest{Amount: claimAmount{Type: "coral", Amount: amount}}
	return g.post(ctx, "claim", g.baseURL+claimPath+url.PathEscape(remoteSessionID), body)
}

func (g *Gateway) post(ctx context.Context, operation, endpoint string, payload any) (*Response, error) {
	ctx, span := g.tracer.Start(ctx, "dispatch."+operation, trace.WithAttributes(
		attribute.String("http.url", endpoint),
	))
	defer span.End()

	start := time.Now()
	resp, err := g.do(ctx, endpoint, payload)
	elapsed := time.Since(start)

	switch e := err.(type) {
	case nil:
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		metrics.RecordDispatch(operation, "ok", elapsed)
		slog.Info("remote runtime responded", "operation", operation, "status", resp.StatusCode, "content_type", resp.ContentType, "body_preview", preview(resp.Body))
		return resp, nil
	case *UpstreamError:
		span.SetAttributes(attribute.Int("http.status_code", e.StatusCode))
		span.SetStatus(codes.Error, e.Error())
		metrics.RecordDispatch(operation, "upstream", elapsed)
		slog.Warn("remote runtime rejected request", "operation", operation, "status", e.StatusCode, "body_preview", preview(e.Body))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordDispatch(operation, "transport", elapsed)
		slog.Error("remote runtime call failed", "operation", operation, "endpoint", endpoint, "error", err)
	}
	return nil, err
}

func (g *Gateway) do(ctx context.Context, endpoint string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response body: %w", err)}
	}
	if len(raw) > maxBodyBytes {
		return nil, &TransportError{Err: fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, maxBodyBytes)}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, ContentType: contentType, Body: raw}
	}
	return &Response{StatusCode: resp.StatusCode, ContentType: contentType, Body: raw}, nil
}

func preview(body []byte) string {
	if len(body) > previewBytes {
		body = body[:previewBytes]
	}
	return string(body)
}
