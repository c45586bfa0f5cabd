package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/user/buffalo/internal/db"
)

type upsertProjectRequest struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type setSensitiveInfoRequest struct {
	Info map[string]string `json:"info"`
}

type replaceSensitiveInfoRequest struct {
	SensitiveInfo map[string]any `json:"sensitiveInfo"`
}

type projectDetailResponse struct {
	Project       *db.Project     `json:"project"`
	LatestSession *db.TestSession `json:"latestSession"`
}

func (h *handler) upsertProject(w http.ResponseWriter, r *http.Request) {
	var req upsertProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		jsonError(w, http.StatusBadRequest, "url is required")
		return
	}

	project, err := h.projectRepo.Upsert(r.Context(), req.URL, strings.TrimSpace(req.Name), req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, project)
}

// listProjects lists projects, or looks one up when ?url= is given.
func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	if rawURL := strings.TrimSpace(r.URL.Query().Get("url")); rawURL != "" {
		project, err := h.projectRepo.GetByURL(r.Context(), rawURL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if project == nil {
			jsonError(w, http.StatusNotFound, "project not found")
			return
		}
		jsonResponse(w, http.StatusOK, project)
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	projects, err := h.projectRepo.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, projects)
}

func (h *handler) getProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	latest, err := h.sessionRepo.Latest(r.Context(), project.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, projectDetailResponse{Project: project, LatestSession: latest})
}

func (h *handler) updateProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	var req updateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			jsonError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		project.Name = name
	}
	if req.Description != nil {
		project.Description = *req.Description
	}

	updated, err := h.projectRepo.Update(r.Context(), project.ID, project.Name, project.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !updated {
		jsonError(w, http.StatusNotFound, "project not found")
		return
	}
	h.respondProject(w, r, project.ID)
}

// deleteProject removes the project with every session, execution, report,
// and custom test that belongs to it.
func (h *handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	result, err := h.projectRepo.DeleteCascade(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result == nil {
		jsonError(w, http.StatusNotFound, "project not found")
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

func (h *handler) getSensitiveInfo(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	info := project.SensitiveInfo
	if info == nil {
		info = map[string]any{}
	}
	jsonResponse(w, http.StatusOK, info)
}

func (h *handler) setSensitiveInfo(w http.ResponseWriter, r *http.Request) {
	var req setSensitiveInfoRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Info == nil {
		req.Info = map[string]string{}
	}
	id := r.PathValue("id")
	updated, err := h.projectRepo.SetSensitiveInfo(r.Context(), id, req.Info)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !updated {
		jsonError(w, http.StatusNotFound, "project not found")
		return
	}
	h.respondProject(w, r, id)
}

func (h *handler) replaceSensitiveInfo(w http.ResponseWriter, r *http.Request) {
	var req replaceSensitiveInfoRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := r.PathValue("id")
	updated, err := h.projectRepo.ReplaceSensitiveInfo(r.Context(), id, req.SensitiveInfo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !updated {
		jsonError(w, http.StatusNotFound, "project not found")
		return
	}
	h.respondProject(w, r, id)
}

func (h *handler) loadProject(w http.ResponseWriter, r *http.Request) (*db.Project, bool) {
	project, err := h.projectRepo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if project == nil {
		jsonError(w, http.StatusNotFound, "project not found")
		return nil, false
	}
	return project, true
}

func (h *handler) respondProject(w http.ResponseWriter, r *http.Request, id string) {
	project, err := h.projectRepo.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if project == nil {
		jsonError(w, http.StatusNotFound, "project not found")
		return
	}
	jsonResponse(w, http.StatusOK, project)
}

// parseLimit reads ?limit=. Zero means the store default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		jsonError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
