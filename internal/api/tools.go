package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/buffalo/internal/callback"
	"github.com/user/buffalo/internal/graph"
	"github.com/user/buffalo/internal/lifecycle"
	"github.com/user/buffalo/internal/metrics"
)

type userInputRespondRequest struct {
	Response json.RawMessage `json:"response"`
}

// userInputRequest answers the remote runtime's request for user input with
// the instruction for the stored session. The handler returns at once; any
// waiting for a human happens on the remote side.
func (h *handler) userInputRequest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sessionID := strings.TrimSpace(query.Get("testSessionId"))
	websiteURL := strings.TrimSpace(query.Get("websiteUrl"))
	email := strings.TrimSpace(query.Get("email"))
	if sessionID == "" || websiteURL == "" || email == "" {
		h.toolResponse(w, graph.ToolRequest, http.StatusBadRequest, errorBody{Error: "Missing required parameters"})
		return
	}

	session, err := h.ctrl.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			h.toolResponse(w, graph.ToolRequest, http.StatusNotFound, "Test session not found")
			return
		}
		slog.Error("user input request failed", "session_id", sessionID, "error", err)
		h.toolResponse(w, graph.ToolRequest, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
		return
	}

	prompt := callback.Prompt(callback.InputFromSession(session, websiteURL, email))
	slog.Debug("user input requested", "session_id", sessionID)
	h.toolResponse(w, graph.ToolRequest, http.StatusOK, prompt)
}

// userInputRespond echoes body.response. Storing the answer is up to the
// remote runtime.
func (h *handler) userInputRespond(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.toolResponse(w, graph.ToolRespond, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
		return
	}
	var req userInputRespondRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		slog.Warn("malformed user input response", "error", err)
		h.toolResponse(w, graph.ToolRespond, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
		return
	}
	if len(req.Response) == 0 {
		req.Response = json.RawMessage("null")
	}
	h.toolResponse(w, graph.ToolRespond, http.StatusOK, req.Response)
}

func (h *handler) toolResponse(w http.ResponseWriter, tool string, status int, data any) {
	metrics.RecordCallback(tool, status)
	jsonResponse(w, status, data)
}
