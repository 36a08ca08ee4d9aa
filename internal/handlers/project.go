package handlers

import (
	"net/http"
	"strconv"
	"time"

	"coral-lat/internal/contextutil"
	"coral-lat/internal/maskfilter"
	"coral-lat/internal/pipeline"
	"coral-lat/internal/service"
)

// ProjectHandler handles project build, load, and save requests.
type ProjectHandler struct {
	projectService    service.ProjectService
	defaultThresholds maskfilter.Thresholds
}

// NewProjectHandler creates a new ProjectHandler. defaults replace an omitted
// request config.
func NewProjectHandler(projectService service.ProjectService, defaults maskfilter.Thresholds) *ProjectHandler {
	return &ProjectHandler{
		projectService:    projectService,
		defaultThresholds: defaults,
	}
}

// LoadRequest represents the HTTP request payload for loading a project.
type LoadRequest struct {
	ProjectPath string `json:"project_path"`
}

// SaveRequest represents the HTTP request payload for saving a project.
type SaveRequest struct {
	OutputPath string `json:"output_path,omitempty"`
}

// SaveResponse represents the HTTP response payload for a save.
type SaveResponse struct {
	ProjectPath string `json:"project_path"`
}

// CancelResponse reports whether a build was running.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// RunResponse is one recorded build.
type RunResponse struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Total      int        `json:"total"`
	Progress   int        `json:"progress"`
	OutputPath string     `json:"output_path,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Start handles POST /api/projects.
//
// Responds 202 when a build was launched and 200 with started=false when one is
// already running.
func (h *ProjectHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Thresholds the client omits keep their defaults; explicit zeros are honored.
	req := pipeline.Request{Config: h.defaultThresholds}
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.projectService.StartBuild(ctx, req)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to start project build")
		return
	}

	status := http.StatusAccepted
	if !resp.Started {
		status = http.StatusOK
	}
	writeJSON(w, ctx, status, resp)
}

// Cancel handles POST /api/projects/cancel.
func (h *ProjectHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, ctx, http.StatusOK, CancelResponse{Cancelled: h.projectService.CancelBuild(ctx)})
}

// Status handles GET /api/projects/status.
func (h *ProjectHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, ctx, http.StatusOK, h.projectService.BuildStatus(ctx))
}

// Load handles POST /api/projects/load.
func (h *ProjectHandler) Load(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req LoadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	summary, err := h.projectService.LoadProject(ctx, req.ProjectPath)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to load project")
		return
	}
	logger.InfoContext(ctx, "project loaded", "path", summary.ProjectPath, "images", summary.Images)
	writeJSON(w, ctx, http.StatusOK, summary)
}

// Save handles POST /api/projects/save. An empty body saves over the loaded archive.
func (h *ProjectHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SaveRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	path, err := h.projectService.SaveProject(ctx, req.OutputPath)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to save project")
		return
	}
	writeJSON(w, ctx, http.StatusOK, SaveResponse{ProjectPath: path})
}

// Runs handles GET /api/runs?limit=.
func (h *ProjectHandler) Runs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.projectService.ListRuns(ctx, limit)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to list runs")
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, RunResponse{
			ID:         run.ID,
			State:      run.State,
			Total:      run.Total,
			Progress:   run.Progress,
			OutputPath: run.OutputPath,
			Error:      run.Error,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		})
	}
	writeJSON(w, ctx, http.StatusOK, resp)
}
