package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/user/buffalo/internal/db"
	"github.com/user/buffalo/internal/lifecycle"
	"github.com/user/buffalo/internal/presentation"
)

type setRemoteSessionRequest struct {
	RemoteSessionID string `json:"remoteSessionId"`
}

type appendMessageRequest struct {
	Message string `json:"message"`
}

type failSessionRequest struct {
	ErrorMessage string `json:"errorMessage"`
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateSessionInput
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := h.ctrl.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, session)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	sessions, err := h.ctrl.ListSessions(r.Context(), r.URL.Query().Get("websiteUrl"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, sessions)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.ctrl.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, session)
}

func (h *handler) setRemoteSession(w http.ResponseWriter, r *http.Request) {
	var req setRemoteSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := h.ctrl.SetRemoteSessionID(r.Context(), r.PathValue("id"), strings.TrimSpace(req.RemoteSessionID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, session)
}

func (h *handler) appendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := h.ctrl.AppendMessage(r.Context(), r.PathValue("id"), req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, session)
}

func (h *handler) completeSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.ctrl.MarkCompleted(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, session)
}

func (h *handler) failSession(w http.ResponseWriter, r *http.Request) {
	var req failSessionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := h.ctrl.MarkFailed(r.Context(), r.PathValue("id"), req.ErrorMessage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, session)
}

func (h *handler) cancelSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.ctrl.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, session)
}

func (h *handler) updateProgress(w http.ResponseWriter, r *http.Request) {
	var patch db.ResultsPatch
	if err := decodeJSON(r, &patch); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := h.ctrl.UpdateProgress(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, session)
}

func (h *handler) getSessionView(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := h.ctrl.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	executions, err := h.ctrl.ListExecutions(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.ctrl.GetReport(r.Context(), id)
	if err != nil && !errors.Is(err, lifecycle.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, presentation.Build(session, executions, report))
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
