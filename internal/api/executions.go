package api

import (
	"net/http"

	"github.com/user/buffalo/internal/db"
	"github.com/user/buffalo/internal/lifecycle"
)

// createExecutionsRequest accepts either one execution or a batch under
// testExecutions.
type createExecutionsRequest struct {
	lifecycle.ExecutionInput
	TestExecutions []lifecycle.ExecutionInput `json:"testExecutions"`
}

type executionStatusRequest struct {
	Status db.ExecutionStatus `json:"status"`
}

type screenshotRequest struct {
	URL string `json:"url"`
}

type createReportRequest struct {
	Summary string     `json:"summary"`
	Issues  []db.Issue `json:"issues"`
}

type createReportResponse struct {
	Report  *db.TestReport `json:"report"`
	Created bool           `json:"created"`
}

func (h *handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := h.ctrl.ListExecutions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, executions)
}

func (h *handler) createExecutions(w http.ResponseWriter, r *http.Request) {
	var req createExecutionsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sessionID := r.PathValue("id")

	if req.TestExecutions != nil {
		executions, err := h.ctrl.CreateExecutions(r.Context(), sessionID, req.TestExecutions)
		if err != nil {
			writeError(w, r, err)
			return
		}
		jsonResponse(w, http.StatusCreated, executions)
		return
	}

	execution, err := h.ctrl.CreateExecution(r.Context(), sessionID, req.ExecutionInput)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, execution)
}

func (h *handler) getExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := h.ctrl.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, execution)
}

func (h *handler) setExecutionStatus(w http.ResponseWriter, r *http.Request) {
	var req executionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	execution, err := h.ctrl.SetExecutionStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, execution)
}

func (h *handler) saveResults(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.ResultInput
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	execution, err := h.ctrl.SaveResults(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, execution)
}

func (h *handler) saveFailure(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.FailureInput
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	execution, err := h.ctrl.SaveFailure(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, execution)
}

func (h *handler) appendScreenshot(w http.ResponseWriter, r *http.Request) {
	var req screenshotRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	execution, err := h.ctrl.AppendScreenshot(r.Context(), r.PathValue("id"), req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, execution)
}

func (h *handler) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.ctrl.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, report)
}

// createReport answers 200 whether or not a report already existed; the
// created flag tells the two apart.
func (h *handler) createReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, created, err := h.ctrl.CreateReport(r.Context(), lifecycle.ReportInput{
		TestSessionID: r.PathValue("id"),
		Summary:       req.Summary,
		Issues:        req.Issues,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, createReportResponse{Report: report, Created: created})
}
