package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/buffalo/internal/dispatch"
	"github.com/user/buffalo/internal/graph"
)

// claimPricePerExecution is charged for every execution of a session.
const claimPricePerExecution = 1000

type upstreamFailureResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
}

// createRemoteSession builds the agent graph for a stored session and posts
// it to the remote runtime, forwarding whatever the runtime answers.
func (h *handler) createRemoteSession(w http.ResponseWriter, r *http.Request) {
	var req graph.SessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.TestSessionID = strings.TrimSpace(req.TestSessionID)
	if req.TestSessionID == "" || strings.TrimSpace(req.WebsiteURL) == "" || strings.TrimSpace(req.Email) == "" {
		jsonError(w, http.StatusBadRequest, "testSessionId, websiteUrl and email are required")
		return
	}

	payload := h.builder.Build(req)
	agents, groups, tools := payload.Summary()
	slog.Info("dispatching agent graph", "session_id", req.TestSessionID, "agents", agents, "groups", groups, "tools", tools)

	resp, err := h.gw.Dispatch(r.Context(), payload)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	if remoteID := resp.RemoteSessionID(); remoteID != "" {
		if _, err := h.ctrl.SetRemoteSessionID(r.Context(), req.TestSessionID, remoteID); err != nil {
			slog.Warn("failed to record remote session id", "session_id", req.TestSessionID, "remote_session_id", remoteID, "error", err)
		}
	}
	rawResponse(w, resp.StatusCode, resp.ContentType, resp.Body)
}

// claimPayment charges the remote session for the executions it produced.
func (h *handler) claimPayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	remoteID, err := h.ctrl.GetRemoteSessionID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if remoteID == "" {
		jsonError(w, http.StatusConflict, "session has no remote session id")
		return
	}
	count, err := h.executionRepo.CountBySession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	amount := int64(count) * claimPricePerExecution
	slog.Info("claiming payment", "session_id", id, "remote_session_id", remoteID, "executions", count, "amount", amount)
	resp, err := h.gw.Claim(r.Context(), remoteID, amount)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	rawResponse(w, resp.StatusCode, resp.ContentType, resp.Body)
}

// writeUpstreamError answers 502. A non-2xx reply keeps its status and body
// for diagnostics; any other failure gets the bare envelope.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var upstream *dispatch.UpstreamError
	if errors.As(err, &upstream) {
		jsonResponse(w, http.StatusBadGateway, upstreamFailureResponse{
			Error:  "Upstream request failed",
			Status: upstream.StatusCode,
			Body:   string(upstream.Body),
		})
		return
	}
	jsonResponse(w, http.StatusBadGateway, upstreamFailureResponse{Error: "Upstream request failed"})
}
