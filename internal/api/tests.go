package api

import (
	"net/http"
	"strings"

	"github.com/user/buffalo/internal/db"
)

type customTestRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Prompt      string `json:"prompt"`
	Category    string `json:"category"`
	Description string `json:"description"`
	IsActive    *bool  `json:"isActive"`
}

type replaceTestsRequest struct {
	Tests []customTestRequest `json:"tests"`
}

type replaceTestsResponse struct {
	IDs []string `json:"ids"`
}

type syncTestsResponse struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

func (req *customTestRequest) validate() string {
	req.Name = strings.TrimSpace(req.Name)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Name == "" || req.Prompt == "" {
		return "name and prompt are required"
	}
	return ""
}

func (h *handler) listProjectTests(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	tests, err := h.customTestRepo.ListUserDefined(r.Context(), project.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, tests)
}

func (h *handler) createProjectTest(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	var req customTestRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		jsonError(w, http.StatusBadRequest, msg)
		return
	}

	test := &db.CustomTest{
		ProjectID:   project.ID,
		Name:        req.Name,
		Prompt:      req.Prompt,
		Type:        db.ModeUserDefined,
		Category:    req.Category,
		Description: req.Description,
		IsActive:    req.IsActive,
	}
	if err := h.customTestRepo.Create(r.Context(), test); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, test)
}

// replaceProjectTests makes the project's tests match the posted list.
func (h *handler) replaceProjectTests(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	var req replaceTestsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tests := make([]*db.CustomTest, 0, len(req.Tests))
	for i := range req.Tests {
		item := &req.Tests[i]
		if msg := item.validate(); msg != "" {
			jsonError(w, http.StatusBadRequest, msg)
			return
		}
		tests = append(tests, &db.CustomTest{
			ID:          item.ID,
			Name:        item.Name,
			Prompt:      item.Prompt,
			Category:    item.Category,
			Description: item.Description,
			IsActive:    item.IsActive,
		})
	}

	ids, err := h.customTestRepo.ReplaceForProject(r.Context(), project.ID, tests)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, replaceTestsResponse{IDs: ids})
}

func (h *handler) updateTest(w http.ResponseWriter, r *http.Request) {
	var patch db.CustomTestPatch
	if err := decodeJSON(r, &patch); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for _, v := range []*string{patch.Name, patch.Prompt} {
		if v != nil && strings.TrimSpace(*v) == "" {
			jsonError(w, http.StatusBadRequest, "name and prompt cannot be empty")
			return
		}
	}

	id := r.PathValue("id")
	updated, err := h.customTestRepo.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !updated {
		jsonError(w, http.StatusNotFound, "test not found")
		return
	}
	test, err := h.customTestRepo.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, test)
}

func (h *handler) deleteTest(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.customTestRepo.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		jsonError(w, http.StatusNotFound, "test not found")
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}

func (h *handler) listBuffaloTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.customTestRepo.ListBuffaloDefined(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, tests)
}

// syncBuffaloTests rereads the catalog directory and writes it to the store.
func (h *handler) syncBuffaloTests(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		jsonError(w, http.StatusNotFound, "test catalog not configured")
		return
	}
	if err := h.catalog.Reload(); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	inserted, updated, err := h.catalog.Sync(r.Context(), h.customTestRepo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, syncTestsResponse{Inserted: inserted, Updated: updated})
}
