package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avekdev/devroom/internal/auth"
	"github.com/avekdev/devroom/internal/domain"
	"github.com/avekdev/devroom/internal/store"
	"github.com/go-chi/chi/v5"
)

// ProjectHandler serves project CRUD and file tree persistence.
type ProjectHandler struct {
	repo   store.Repository
	tokens *auth.JWTVerifier
}

// NewProjectHandler creates a project handler.
func NewProjectHandler(repo store.Repository, tokens *auth.JWTVerifier) *ProjectHandler {
	return &ProjectHandler{repo: repo, tokens: tokens}
}

// RegisterRoutes mounts the project routes. All of them require auth.
func (h *ProjectHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.tokens))
		r.Post("/projects/create", h.Create)
		r.Get("/projects/all", h.All)
		r.Put("/projects/add-user", h.AddUser)
		r.Get("/projects/get-project/{projectID}", h.GetProject)
		r.Put("/projects/update-file-tree", h.UpdateFileTree)
	})
}

// Create makes a new project with the caller as its first collaborator.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}

	now := time.Now()
	project := &domain.Project{
		ID:        domain.NewID(),
		Name:      req.Name,
		Users:     []string{identity.ID},
		FileTree:  domain.FileTree{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.repo.CreateProject(r.Context(), project); err != nil {
		if errors.Is(err, store.ErrProjectNameTaken) {
			Error(w, http.StatusConflict, "project name already taken")
			return
		}
		slog.Error("failed to create project", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("project created", "project_id", project.ID, "user_id", identity.ID)
	JSON(w, http.StatusCreated, map[string]*domain.Project{"project": project})
}

// All lists the caller's projects.
func (h *ProjectHandler) All(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	projects, err := h.repo.ListProjectsForUser(r.Context(), identity.ID)
	if err != nil {
		slog.Error("failed to list projects", "error", err, "user_id", identity.ID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if projects == nil {
		projects = []*domain.Project{}
	}

	JSON(w, http.StatusOK, map[string][]*domain.Project{"projects": projects})
}

// AddUser adds collaborators to a project the caller belongs to.
func (h *ProjectHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	var req struct {
		ProjectID string   `json:"projectId"`
		Users     []string `json:"users"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !domain.ValidID(req.ProjectID) {
		Error(w, http.StatusBadRequest, "invalid project id")
		return
	}
	if len(req.Users) == 0 {
		Error(w, http.StatusBadRequest, "users is required")
		return
	}
	for _, id := range req.Users {
		if !domain.ValidID(id) {
			Error(w, http.StatusBadRequest, "invalid user id")
			return
		}
	}

	project, err := h.loadMemberProject(w, r, req.ProjectID, identity.ID)
	if project == nil || err != nil {
		return
	}

	if err := h.repo.AddProjectUsers(r.Context(), req.ProjectID, req.Users); err != nil {
		slog.Error("failed to add project users", "error", err, "project_id", req.ProjectID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := h.repo.GetProject(r.Context(), req.ProjectID)
	if err != nil || updated == nil {
		slog.Error("failed to reload project", "error", err, "project_id", req.ProjectID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("collaborators added", "project_id", req.ProjectID, "count", len(req.Users))
	JSON(w, http.StatusOK, map[string]*domain.Project{"project": updated})
}

// GetProject returns a project with its collaborators and file tree.
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	projectID := chi.URLParam(r, "projectID")
	if !domain.ValidID(projectID) {
		Error(w, http.StatusBadRequest, "invalid project id")
		return
	}

	project, err := h.loadMemberProject(w, r, projectID, identity.ID)
	if project == nil || err != nil {
		return
	}

	JSON(w, http.StatusOK, map[string]*domain.Project{"project": project})
}

// UpdateFileTree persists the project's merged file tree.
func (h *ProjectHandler) UpdateFileTree(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	var req struct {
		ProjectID string          `json:"projectId"`
		FileTree  domain.FileTree `json:"fileTree"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !domain.ValidID(req.ProjectID) {
		Error(w, http.StatusBadRequest, "invalid project id")
		return
	}

	project, err := h.loadMemberProject(w, r, req.ProjectID, identity.ID)
	if project == nil || err != nil {
		return
	}

	if err := h.repo.UpdateFileTree(r.Context(), req.ProjectID, req.FileTree); err != nil {
		slog.Error("failed to update file tree", "error", err, "project_id", req.ProjectID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadMemberProject fetches the project and enforces that the caller is a
// collaborator. Writes the error response itself; callers bail out when
// it returns nil.
func (h *ProjectHandler) loadMemberProject(w http.ResponseWriter, r *http.Request, projectID, userID string) (*domain.Project, error) {
	project, err := h.repo.GetProject(r.Context(), projectID)
	if err != nil {
		slog.Error("failed to load project", "error", err, "project_id", projectID)
		Error(w, http.StatusInternalServerError, "internal error")
		return nil, err
	}
	if project == nil {
		Error(w, http.StatusNotFound, "project not found")
		return nil, nil
	}
	if !project.HasUser(userID) {
		Error(w, http.StatusForbidden, "not a project collaborator")
		return nil, nil
	}
	return project, nil
}
