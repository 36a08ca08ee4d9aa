package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_project_service.go -package=mocks coral-lat/internal/service ProjectService,SimilarFinder

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/contextutil"
	"coral-lat/internal/geometry"
	"coral-lat/internal/pipeline"
	"coral-lat/internal/project"
	"coral-lat/internal/storage"
	"coral-lat/internal/vectorstore"
)

// ErrNoProject is returned by dataset operations before a project is loaded.
var ErrNoProject = fmt.Errorf("no project loaded: %w", apperrors.ErrNotFound)

// SimilarFinder searches the image index of a project.
type SimilarFinder interface {
	Similar(ctx context.Context, projectPath string, excludeID int, vec []float32, k int) ([]vectorstore.Match, error)
}

// BuildStarted is the reply to a build request.
type BuildStarted struct {
	RunID   string `json:"run_id"`
	Started bool   `json:"started"`
}

// ProjectSummary describes the loaded project.
type ProjectSummary struct {
	ProjectPath    string                 `json:"project_path"`
	Images         int                    `json:"images"`
	CurrentImageID int                    `json:"current_image_id"`
	Categories     []project.CategoryInfo `json:"category_info"`
	Statuses       []project.StatusInfo   `json:"status_info"`
	StatusCounts   map[string]int         `json:"status_counts"`
}

// ImageData is everything the annotation tools need for one image.
type ImageData struct {
	Image          project.ImageRecord  `json:"image"`
	ImageURL       string               `json:"image_url"`
	EmbeddingShape []int                `json:"embedding_shape"`
	Annotations    []project.Annotation `json:"annotations"`
}

// SaveDataRequest replaces the annotation set of one image and, when given, the
// project lookup tables.
type SaveDataRequest struct {
	ImageID     int                    `json:"image_id"`
	Annotations []project.Annotation   `json:"annotations"`
	Categories  []project.CategoryInfo `json:"category_info,omitempty"`
	Statuses    []project.StatusInfo   `json:"status_info,omitempty"`
}

// ProjectService owns the project builder and the loaded dataset.
type ProjectService interface {
	StartBuild(ctx context.Context, req pipeline.Request) (BuildStarted, error)
	CancelBuild(ctx context.Context) bool
	BuildStatus(ctx context.Context) pipeline.Status
	ListRuns(ctx context.Context, limit int) ([]*storage.RunRecord, error)

	LoadProject(ctx context.Context, path string) (ProjectSummary, error)
	SaveProject(ctx context.Context, outputPath string) (string, error)
	Summary(ctx context.Context) (ProjectSummary, error)

	Gallery(ctx context.Context) ([]project.ImageRecord, error)
	Current(ctx context.Context) (ImageData, error)
	Next(ctx context.Context) (ImageData, error)
	Previous(ctx context.Context) (ImageData, error)
	Get(ctx context.Context, id int) (ImageData, error)
	SaveData(ctx context.Context, req SaveDataRequest) error
	ImageIDsByCategory(ctx context.Context, categoryID int) ([]int, error)
	Similar(ctx context.Context, id, k int) ([]vectorstore.Match, error)
}

// projectService implements ProjectService.
type projectService struct {
	builder *pipeline.Builder
	runs    storage.RunStore
	finder  SimilarFinder

	mu      sync.Mutex
	dataset *project.Dataset
	path    string
	current int
}

// NewProjectService creates a ProjectService. runs and finder may be nil.
func NewProjectService(builder *pipeline.Builder, runs storage.RunStore, finder SimilarFinder) ProjectService {
	return &projectService{
		builder: builder,
		runs:    runs,
		finder:  finder,
	}
}

// StartBuild launches a project build. A build already in progress is left alone.
func (s *projectService) StartBuild(ctx context.Context, req pipeline.Request) (BuildStarted, error) {
	runID, started, err := s.builder.Start(ctx, req)
	if err != nil {
		return BuildStarted{}, err
	}
	return BuildStarted{RunID: runID, Started: started}, nil
}

// CancelBuild asks the active build to stop.
func (s *projectService) CancelBuild(ctx context.Context) bool {
	cancelled := s.builder.Cancel()
	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "build cancel requested", "active", cancelled)
	return cancelled
}

// BuildStatus reports the current or last build.
func (s *projectService) BuildStatus(ctx context.Context) pipeline.Status {
	return s.builder.Status()
}

// ListRuns returns recorded builds, newest first.
func (s *projectService) ListRuns(ctx context.Context, limit int) ([]*storage.RunRecord, error) {
	if s.runs == nil {
		return []*storage.RunRecord{}, nil
	}
	runs, err := s.runs.List(ctx, limit)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to list runs")
	}
	if runs == nil {
		runs = []*storage.RunRecord{}
	}
	return runs, nil
}

// LoadProject replaces the loaded dataset with the archive at path.
func (s *projectService) LoadProject(ctx context.Context, path string) (ProjectSummary, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if strings.TrimSpace(path) == "" {
		return ProjectSummary{}, &apperrors.ValidationError{Field: "project_path", Message: "cannot be empty"}
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	ds, last, err := project.Unpack(ctx, path)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load project", "path", path, "error", err)
		return ProjectSummary{}, err
	}

	s.mu.Lock()
	s.dataset = ds
	s.path = path
	s.current = last
	summary := s.summaryLocked()
	s.mu.Unlock()

	return summary, nil
}

// SaveProject writes the dataset to outputPath, or back to the loaded archive when
// outputPath is empty. An unrelated existing file is never replaced.
func (s *projectService) SaveProject(ctx context.Context, outputPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dataset == nil {
		return "", ErrNoProject
	}
	target := outputPath
	if target == "" {
		target = s.path
	} else if abs, err := filepath.Abs(target); err == nil {
		target = abs
	}
	if !strings.HasSuffix(target, project.Extension) {
		return "", &apperrors.ValidationError{Field: "output_path", Message: "must end in " + project.Extension}
	}
	replace := filepath.Clean(target) == filepath.Clean(s.path)

	err := project.Save(ctx, s.dataset, target, s.current, replace)
	if errors.Is(err, fs.ErrExist) {
		return "", &apperrors.CapacityError{Dir: target, Attempts: 1}
	}
	if err != nil {
		return "", apperrors.WrapError(err, "failed to save project")
	}
	s.path = target
	return target, nil
}

// Summary describes the loaded project.
func (s *projectService) Summary(ctx context.Context) (ProjectSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataset == nil {
		return ProjectSummary{}, ErrNoProject
	}
	return s.summaryLocked(), nil
}

func (s *projectService) summaryLocked() ProjectSummary {
	return ProjectSummary{
		ProjectPath:    s.path,
		Images:         s.dataset.Len(),
		CurrentImageID: s.current,
		Categories:     s.dataset.Categories(),
		Statuses:       s.dataset.Statuses(),
		StatusCounts:   s.dataset.StatusCounts(),
	}
}

// Gallery lists every image record.
func (s *projectService) Gallery(ctx context.Context) ([]project.ImageRecord, error) {
	ds, _, _, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return ds.Images(), nil
}

// Current returns the image under the cursor.
func (s *projectService) Current(ctx context.Context) (ImageData, error) {
	return s.move(0)
}

// Next advances the cursor, stopping at the last image.
func (s *projectService) Next(ctx context.Context) (ImageData, error) {
	return s.move(1)
}

// Previous moves the cursor back, stopping at the first image.
func (s *projectService) Previous(ctx context.Context) (ImageData, error) {
	return s.move(-1)
}

// Get returns one image and moves the cursor to it.
func (s *projectService) Get(ctx context.Context, id int) (ImageData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataset == nil {
		return ImageData{}, ErrNoProject
	}
	data, err := imageData(s.dataset, id)
	if err != nil {
		return ImageData{}, err
	}
	s.current = id
	return data, nil
}

func (s *projectService) move(step int) (ImageData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataset == nil {
		return ImageData{}, ErrNoProject
	}
	ids := s.dataset.IDs()
	if len(ids) == 0 {
		return ImageData{}, fmt.Errorf("project has no images: %w", apperrors.ErrNotFound)
	}

	pos := sort.SearchInts(ids, s.current)
	if pos == len(ids) || ids[pos] != s.current {
		pos = 0
	}
	pos = min(max(pos+step, 0), len(ids)-1)

	data, err := imageData(s.dataset, ids[pos])
	if err != nil {
		return ImageData{}, err
	}
	s.current = ids[pos]
	return data, nil
}

func imageData(ds *project.Dataset, id int) (ImageData, error) {
	e, err := ds.Get(id)
	if err != nil {
		return ImageData{}, err
	}
	mime := http.DetectContentType(e.ImageData)
	return ImageData{
		Image:          e.Image,
		ImageURL:       "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(e.ImageData),
		EmbeddingShape: e.Embedding.Shape,
		Annotations:    e.Annotations,
	}, nil
}

// SaveData replaces one image's annotations and optionally the lookup tables. It
// changes memory only; SaveProject persists it.
func (s *projectService) SaveData(ctx context.Context, req SaveDataRequest) error {
	logger := contextutil.LoggerFromContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataset == nil {
		return ErrNoProject
	}
	entry, err := s.dataset.Get(req.ImageID)
	if err != nil {
		return err
	}

	categories := req.Categories
	if len(categories) == 0 {
		categories = s.dataset.Categories()
	}
	known := make(map[int]struct{}, len(categories))
	for _, c := range categories {
		known[c.ID] = struct{}{}
	}
	for i, a := range req.Annotations {
		if _, ok := known[a.CategoryID]; !ok {
			return &apperrors.ValidationError{
				Field:   fmt.Sprintf("annotations[%d].category_id", i),
				Message: fmt.Sprintf("unknown category %d", a.CategoryID),
			}
		}
		if a.Segmentation.Size != [2]int{entry.Image.Height, entry.Image.Width} {
			return &apperrors.ValidationError{
				Field:   fmt.Sprintf("annotations[%d].segmentation", i),
				Message: fmt.Sprintf("size %v does not match image %dx%d", a.Segmentation.Size, entry.Image.Height, entry.Image.Width),
			}
		}
		if _, err := geometry.Decode(a.Segmentation); err != nil {
			return &apperrors.ValidationError{Field: fmt.Sprintf("annotations[%d].segmentation", i), Message: err.Error()}
		}
	}

	if err := s.dataset.UpdateAnnotations(req.ImageID, req.Annotations); err != nil {
		return err
	}
	if len(req.Categories) > 0 {
		s.dataset.SetCategories(req.Categories)
	}
	if len(req.Statuses) > 0 {
		s.dataset.SetStatuses(req.Statuses)
	}
	logger.InfoContext(ctx, "saved image data", "image_id", req.ImageID, "annotations", len(req.Annotations))
	return nil
}

// ImageIDsByCategory lists images holding at least one annotation of categoryID.
func (s *projectService) ImageIDsByCategory(ctx context.Context, categoryID int) ([]int, error) {
	ds, _, _, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	ids := ds.IDsByCategory(categoryID)
	if ids == nil {
		ids = []int{}
	}
	return ids, nil
}

// Similar returns the k images of the loaded project whose embeddings are closest
// to image id.
func (s *projectService) Similar(ctx context.Context, id, k int) ([]vectorstore.Match, error) {
	if s.finder == nil {
		return nil, fmt.Errorf("image index is not configured: %w", apperrors.ErrNotFound)
	}
	ds, path, _, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	e, err := ds.Get(id)
	if err != nil {
		return nil, err
	}
	matches, err := s.finder.Similar(ctx, path, id, e.Embedding.Pool(), k)
	if errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrExternalService) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrExternalService, err)
	}
	return matches, nil
}

func (s *projectService) snapshot() (*project.Dataset, string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataset == nil {
		return nil, "", 0, ErrNoProject
	}
	return s.dataset, s.path, s.current, nil
}
