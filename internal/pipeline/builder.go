package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/contextutil"
	"coral-lat/internal/inference"
	"coral-lat/internal/project"
	"coral-lat/internal/storage"
	"coral-lat/internal/vectorstore"
)

// Indexer receives the pooled embeddings of a completed project.
type Indexer interface {
	IndexImages(ctx context.Context, projectPath string, images []vectorstore.ImageVector) error
}

// Option configures a Builder.
type Option func(*Builder)

// WithRunStore records every run in store.
func WithRunStore(store storage.RunStore) Option {
	return func(b *Builder) { b.runs = store }
}

// WithIndexer indexes the images of every completed project.
func WithIndexer(idx Indexer) Option {
	return func(b *Builder) { b.indexer = idx }
}

// WithProgress registers a callback invoked from the worker after each image.
func WithProgress(fn func(runID string, percent int)) Option {
	return func(b *Builder) { b.onProgress = fn }
}

// WithOutcome registers a callback invoked once when a run ends.
func WithOutcome(fn func(Outcome)) Option {
	return func(b *Builder) { b.onOutcome = fn }
}

// WithStagingRoot sets where per-run staging directories are created.
func WithStagingRoot(dir string) Option {
	return func(b *Builder) { b.stagingRoot = dir }
}

// Builder turns a batch of images into a packaged project. At most one run is
// active at a time; the run executes on a single background goroutine.
type Builder struct {
	embedder    inference.Embedder
	segmenter   inference.Segmenter
	projectDir  string
	stagingRoot string
	runs        storage.RunStore
	indexer     Indexer
	onProgress  func(string, int)
	onOutcome   func(Outcome)

	mu     sync.Mutex
	status Status
	token  *CancelToken
	done   chan struct{}
}

// NewBuilder creates a builder writing projects into projectDir. segmenter may be
// nil, in which case requests needing segmentation are rejected.
func NewBuilder(embedder inference.Embedder, segmenter inference.Segmenter, projectDir string, opts ...Option) *Builder {
	b := &Builder{
		embedder:    embedder,
		segmenter:   segmenter,
		projectDir:  projectDir,
		stagingRoot: filepath.Join(projectDir, ".staging"),
		status:      Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start validates req and launches a run. It returns immediately. When a run is
// already active the call is a no-op and started is false, whatever req holds.
func (b *Builder) Start(ctx context.Context, req Request) (runID string, started bool, err error) {
	logger := contextutil.LoggerFromContext(ctx)

	b.mu.Lock()
	if b.status.State == StateRunning {
		current := b.status.RunID
		b.mu.Unlock()
		logger.InfoContext(ctx, "build already running, ignoring start", "run_id", current)
		return current, false, nil
	}
	if err := b.validate(req); err != nil {
		b.mu.Unlock()
		return "", false, err
	}

	runID = uuid.New().String()
	token := NewCancelToken()
	done := make(chan struct{})
	b.status = Status{RunID: runID, State: StateRunning, Total: len(req.Inputs)}
	b.token = token
	b.done = done
	b.mu.Unlock()

	// The run outlives the request that started it.
	runCtx := contextutil.WithAttrs(context.WithoutCancel(ctx), "run_id", runID)
	b.recordStart(runCtx, runID, len(req.Inputs))

	logger.InfoContext(ctx, "starting project build", "run_id", runID, "images", len(req.Inputs), "segmentation", req.NeedSegmentation)
	go func() {
		defer close(done)
		b.run(runCtx, runID, req, token)
	}()
	return runID, true, nil
}

// validate checks req before any run state changes. Callers hold b.mu.
func (b *Builder) validate(req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.NeedSegmentation && b.segmenter == nil {
		return &apperrors.ValidationError{Field: "need_segmentation", Message: "no segmentation model is configured"}
	}
	_, err := b.outputPath(req)
	return err
}

// Cancel asks the active run to stop at its next checkpoint. It reports whether a
// run was active.
func (b *Builder) Cancel() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.State != StateRunning || b.token == nil {
		return false
	}
	b.token.Cancel()
	return true
}

// Status returns a snapshot of the current or last run.
func (b *Builder) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Wait blocks until the active run ends or ctx is done. It returns immediately
// when no run was ever started.
func (b *Builder) Wait(ctx context.Context) error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Builder) run(ctx context.Context, runID string, req Request, token *CancelToken) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	inputs := append([]Input(nil), req.Inputs...)
	sort.SliceStable(inputs, func(i, j int) bool {
		return inputs[i].ImageFileName < inputs[j].ImageFileName
	})

	staging, err := project.NewStaging(filepath.Join(b.stagingRoot, runID))
	if err != nil {
		b.finish(ctx, Outcome{RunID: runID, Err: err})
		return
	}

	vectors, cancelled, err := b.processAll(ctx, logger, runID, inputs, req, staging, token)
	if err != nil || cancelled {
		if rmErr := staging.Remove(); rmErr != nil {
			logger.WarnContext(ctx, "failed to discard staging directory", "dir", staging.Dir, "error", rmErr)
		}
		if cancelled {
			logger.InfoContext(ctx, "project build cancelled", "duration", time.Since(start))
		}
		b.finish(ctx, Outcome{RunID: runID, Err: err})
		return
	}

	path, err := b.pack(ctx, req, staging)
	if rmErr := staging.Remove(); rmErr != nil {
		logger.WarnContext(ctx, "failed to remove staging directory", "dir", staging.Dir, "error", rmErr)
	}
	if err != nil {
		b.finish(ctx, Outcome{RunID: runID, Err: err})
		return
	}

	logger.InfoContext(ctx, "project build completed", "path", path, "images", len(inputs), "duration", time.Since(start))
	if b.indexer != nil {
		if err := b.indexer.IndexImages(ctx, path, vectors); err != nil {
			logger.WarnContext(ctx, "failed to index project images", "path", path, "error", err)
		}
	}
	b.finish(ctx, Outcome{RunID: runID, Finished: true, ProjectPath: path})
}

// processAll stages every input in order. It stops early when the token is
// cancelled at a checkpoint or an input fails.
func (b *Builder) processAll(
	ctx context.Context,
	logger *slog.Logger,
	runID string,
	inputs []Input,
	req Request,
	staging *project.Staging,
	token *CancelToken,
) ([]vectorstore.ImageVector, bool, error) {
	vectors := make([]vectorstore.ImageVector, 0, len(inputs))

	for idx, in := range inputs {
		imageStart := time.Now()

		data, img, err := loadImage(in)
		if err != nil {
			logger.ErrorContext(ctx, "failed to load image", "image", in.ImageFileName, "error", err)
			return nil, false, err
		}
		if token.Cancelled() {
			return nil, true, nil
		}

		emb, err := b.embedder.GenerateEmbedding(ctx, img)
		if err != nil {
			logger.ErrorContext(ctx, "failed to generate embedding", "image", in.ImageFileName, "error", err)
			return nil, false, &apperrors.ResourceError{Path: in.ImageFileName, Err: err}
		}
		if token.Cancelled() {
			return nil, true, nil
		}

		annotations := []project.Annotation{}
		if req.NeedSegmentation {
			candidates, err := b.segmenter.GenerateMaskCandidates(ctx, img)
			if err != nil {
				logger.ErrorContext(ctx, "failed to generate masks", "image", in.ImageFileName, "error", err)
				return nil, false, &apperrors.ResourceError{Path: in.ImageFileName, Err: err}
			}
			annotations = annotate(ctx, idx, candidates, req.Config)
			logger.DebugContext(ctx, "filtered masks", "image", in.ImageFileName, "candidates", len(candidates), "kept", len(annotations))
		}

		bounds := img.Bounds()
		record := project.ImageRecord{
			ID:       idx,
			Filename: in.ImageFileName,
			Width:    bounds.Dx(),
			Height:   bounds.Dy(),
		}
		stem := project.Stem(in.ImageFileName)
		if err := staging.WriteImage(in.ImageFileName, data); err != nil {
			return nil, false, err
		}
		if err := staging.WriteEmbedding(stem, emb); err != nil {
			return nil, false, err
		}
		if err := staging.WriteAnnotations(stem, project.AnnotationFile{Image: record, Annotations: annotations}); err != nil {
			return nil, false, err
		}
		vectors = append(vectors, vectorstore.ImageVector{ImageID: idx, Filename: in.ImageFileName, Vec: emb.Pool()})

		b.setProgress(ctx, runID, Percent(idx+1, len(inputs)))
		logger.InfoContext(ctx, "processed image", "image", in.ImageFileName, "masks", len(annotations), "duration", time.Since(imageStart))
	}
	return vectors, false, nil
}

func (b *Builder) pack(ctx context.Context, req Request, staging *project.Staging) (string, error) {
	if err := staging.WriteProjectInfo(project.DefaultProjectInfo()); err != nil {
		return "", err
	}
	path, err := b.outputPath(req)
	if err != nil {
		return "", err
	}
	if req.OutputFile != "" && req.Overwrite {
		return path, project.Replace(ctx, staging.Dir, path)
	}
	return path, project.Pack(ctx, staging.Dir, path)
}

// outputPath resolves where the archive goes. An explicit file that exists is only
// accepted with Overwrite; otherwise a free name is picked in the project directory.
func (b *Builder) outputPath(req Request) (string, error) {
	if req.OutputFile == "" {
		if err := os.MkdirAll(b.projectDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create project directory: %w", err)
		}
		return project.AvailablePath(b.projectDir)
	}
	out, err := filepath.Abs(req.OutputFile)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", req.OutputFile, err)
	}
	if req.Overwrite {
		return out, nil
	}
	_, err = os.Stat(out)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return out, nil
	case err != nil:
		return "", fmt.Errorf("failed to check %s: %w", out, err)
	default:
		return "", &apperrors.CapacityError{Dir: out, Attempts: 1}
	}
}

// Percent is round(done/total*100), clamped to 0..100.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(done) / float64(total) * 100))
	return min(max(p, 0), 100)
}

func (b *Builder) setProgress(ctx context.Context, runID string, percent int) {
	b.mu.Lock()
	if b.status.RunID == runID && percent > b.status.Progress {
		b.status.Progress = percent
	}
	snapshot := b.status
	b.mu.Unlock()

	if b.onProgress != nil {
		b.onProgress(runID, percent)
	}
	if b.runs != nil {
		rec := &storage.RunRecord{
			ID:       snapshot.RunID,
			State:    string(snapshot.State),
			Total:    snapshot.Total,
			Progress: snapshot.Progress,
		}
		if err := b.runs.Update(ctx, rec); err != nil {
			contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to record progress", "error", err)
		}
	}
}

func (b *Builder) finish(ctx context.Context, out Outcome) {
	logger := contextutil.LoggerFromContext(ctx)

	state := StateCancelled
	switch {
	case out.Err != nil:
		state = StateFailed
		logger.ErrorContext(ctx, "project build failed", "error", out.Err)
	case out.Finished:
		state = StateCompleted
	}

	b.mu.Lock()
	b.status.State = state
	b.status.ProjectPath = out.ProjectPath
	if out.Err != nil {
		b.status.Error = out.Err.Error()
	}
	snapshot := b.status
	b.token = nil
	b.mu.Unlock()

	b.recordFinish(ctx, snapshot)
	if b.onOutcome != nil {
		b.onOutcome(out)
	}
}

func (b *Builder) recordStart(ctx context.Context, runID string, total int) {
	if b.runs == nil {
		return
	}
	rec := &storage.RunRecord{
		ID:        runID,
		State:     storage.RunStateRunning,
		Total:     total,
		StartedAt: time.Now().UTC(),
	}
	if err := b.runs.Create(ctx, rec); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to record run", "error", err)
	}
}

func (b *Builder) recordFinish(ctx context.Context, s Status) {
	if b.runs == nil {
		return
	}
	now := time.Now().UTC()
	rec := &storage.RunRecord{
		ID:         s.RunID,
		State:      string(s.State),
		Total:      s.Total,
		Progress:   s.Progress,
		OutputPath: s.ProjectPath,
		Error:      s.Error,
		FinishedAt: &now,
	}
	if err := b.runs.Update(ctx, rec); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to record run result", "error", err)
	}
}
