package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"coral-lat/internal/service"
)

const (
	defaultSimilarK = 5
	maxSimilarK     = 100
)

// DatasetHandler serves the loaded project's images and annotations.
type DatasetHandler struct {
	projectService service.ProjectService
}

// NewDatasetHandler creates a new DatasetHandler.
func NewDatasetHandler(projectService service.ProjectService) *DatasetHandler {
	return &DatasetHandler{projectService: projectService}
}

// Gallery handles GET /api/data.
func (h *DatasetHandler) Gallery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	images, err := h.projectService.Gallery(ctx)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to list images")
		return
	}
	writeJSON(w, ctx, http.StatusOK, images)
}

// Current handles GET /api/data/current.
func (h *DatasetHandler) Current(w http.ResponseWriter, r *http.Request) {
	h.writeImage(w, r, h.projectService.Current)
}

// Next handles POST /api/data/next.
func (h *DatasetHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.writeImage(w, r, h.projectService.Next)
}

// Previous handles POST /api/data/previous.
func (h *DatasetHandler) Previous(w http.ResponseWriter, r *http.Request) {
	h.writeImage(w, r, h.projectService.Previous)
}

// Get handles GET /api/data/{id}.
func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	data, err := h.projectService.Get(ctx, id)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to get image")
		return
	}
	writeJSON(w, ctx, http.StatusOK, data)
}

// Save handles PUT /api/data/{id}. The path id wins over any image_id in the body.
func (h *DatasetHandler) Save(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	var req service.SaveDataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ImageID = id

	if err := h.projectService.SaveData(ctx, req); err != nil {
		handleServiceError(w, ctx, err, "Failed to save image data")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Similar handles GET /api/data/{id}/similar?k=.
func (h *DatasetHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	k := defaultSimilarK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSimilarK {
			writeError(w, http.StatusBadRequest, "k must be between 1 and "+strconv.Itoa(maxSimilarK))
			return
		}
		k = n
	}

	matches, err := h.projectService.Similar(ctx, id, k)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to search similar images")
		return
	}
	writeJSON(w, ctx, http.StatusOK, matches)
}

// ByCategory handles GET /api/categories/{id}/images.
func (h *DatasetHandler) ByCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	ids, err := h.projectService.ImageIDsByCategory(ctx, id)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to list images by category")
		return
	}
	writeJSON(w, ctx, http.StatusOK, ids)
}

func (h *DatasetHandler) writeImage(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context) (service.ImageData, error)) {
	ctx := r.Context()
	data, err := fetch(ctx)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to get image")
		return
	}
	writeJSON(w, ctx, http.StatusOK, data)
}

// pathInt parses an integer URL parameter, writing a 400 on failure. Category ids
// may be negative.
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}
