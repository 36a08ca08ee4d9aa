package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/mock/gomock"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/geometry"
	"coral-lat/internal/inference"
	inferencemocks "coral-lat/internal/inference/mocks"
	"coral-lat/internal/maskfilter"
	"coral-lat/internal/project"
	"coral-lat/internal/storage"
	storagemocks "coral-lat/internal/storage/mocks"
	"coral-lat/internal/tensor"
	"coral-lat/internal/vectorstore"
)

var defaultThresholds = maskfilter.Thresholds{MinAreaFraction: 0.2, MinConfidence: 0.5, MaxIoU: 0.5}

// writeImages saves small PNGs into a temp dir and returns inputs in the given order.
func writeImages(t *testing.T, names ...string) []Input {
	t.Helper()
	dir := t.TempDir()
	inputs := make([]Input, 0, len(names))
	for _, name := range names {
		img := imaging.New(10, 10, color.NRGBA{R: 10, G: 120, B: 200, A: 255})
		path := filepath.Join(dir, name)
		if err := imaging.Save(img, path); err != nil {
			t.Fatalf("failed to write test image: %v", err)
		}
		inputs = append(inputs, Input{ImageFileName: name, ImagePath: path})
	}
	return inputs
}

func testEmbedding() tensor.Embedding {
	return tensor.Embedding{Shape: []int{1, 2, 1, 1}, Data: []float32{0.5, 1.5}}
}

// outcomeCollector returns a builder option delivering outcomes to a channel.
func outcomeCollector() (Option, <-chan Outcome) {
	ch := make(chan Outcome, 4)
	return WithOutcome(func(o Outcome) { ch <- o }), ch
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for run outcome")
		return Outcome{}
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestBuilder_SegmentationDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	embedder := inferencemocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().GenerateEmbedding(gomock.Any(), gomock.Any()).Return(testEmbedding(), nil).Times(3)

	projectDir := t.TempDir()
	opt, outcomes := outcomeCollector()
	var progress []int
	b := NewBuilder(embedder, nil, projectDir, opt, WithProgress(func(_ string, p int) {
		progress = append(progress, p)
	}))

	inputs := writeImages(t, "c.png", "a.png", "b.png")
	runID, started, err := b.Start(context.Background(), Request{Inputs: inputs, Config: defaultThresholds})
	if err != nil || !started {
		t.Fatalf("Start() = %v, %v, want started", started, err)
	}

	out := waitOutcome(t, outcomes)
	if !out.Finished || out.Err != nil {
		t.Fatalf("outcome = %+v, want finished", out)
	}
	if out.RunID != runID {
		t.Errorf("outcome run id = %s, want %s", out.RunID, runID)
	}
	if want := filepath.Join(projectDir, "project.coral"); out.ProjectPath != want {
		t.Errorf("outcome path = %s, want %s", out.ProjectPath, want)
	}
	if got := b.Status(); got.State != StateCompleted || got.Progress != 100 {
		t.Errorf("Status() = %+v, want COMPLETED at 100", got)
	}
	if want := []int{33, 67, 100}; len(progress) != 3 || progress[0] != want[0] || progress[1] != want[1] || progress[2] != want[2] {
		t.Errorf("progress = %v, want %v", progress, want)
	}
	if names := listDir(t, filepath.Join(projectDir, ".staging")); len(names) != 0 {
		t.Errorf("staging left behind: %v", names)
	}

	ds, last, err := project.Unpack(context.Background(), out.ProjectPath)
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	if last != 0 {
		t.Errorf("last image = %d, want 0", last)
	}
	if ds.Len() != 3 {
		t.Fatalf("dataset has %d images, want 3", ds.Len())
	}
	for id, name := range []string{"a.png", "b.png", "c.png"} {
		e, err := ds.Get(id)
		if err != nil {
			t.Fatalf("Get(%d) error: %v", id, err)
		}
		if e.Image.Filename != name || e.Image.Width != 10 || e.Image.Height != 10 {
			t.Errorf("image %d = %+v, want %s 10x10", id, e.Image, name)
		}
		if len(e.Annotations) != 0 {
			t.Errorf("image %d has %d annotations, want none", id, len(e.Annotations))
		}
	}
	if cats := ds.Categories(); len(cats) != 2 || cats[0].ID != project.CategoryUndefinedCoral || cats[1].ID != project.CategoryDeadCoral {
		t.Errorf("categories = %+v, want the two seed categories", cats)
	}
	if stats := ds.Statuses(); len(stats) != 4 {
		t.Errorf("statuses = %+v, want four", stats)
	}
}

func TestBuilder_CancelAfterTwo(t *testing.T) {
	ctrl := gomock.NewController(t)
	embedder := inferencemocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().GenerateEmbedding(gomock.Any(), gomock.Any()).Return(testEmbedding(), nil).Times(2)

	projectDir := t.TempDir()
	opt, outcomes := outcomeCollector()
	var b *Builder
	b = NewBuilder(embedder, nil, projectDir, opt, WithProgress(func(_ string, p int) {
		if p == 40 {
			b.Cancel()
		}
	}))

	inputs := writeImages(t, "1.png", "2.png", "3.png", "4.png", "5.png")
	if _, started, err := b.Start(context.Background(), Request{Inputs: inputs, Config: defaultThresholds}); err != nil || !started {
		t.Fatalf("Start() = %v, %v", started, err)
	}

	out := waitOutcome(t, outcomes)
	if out.Finished || out.Err != nil || out.ProjectPath != "" {
		t.Fatalf("outcome = %+v, want cancelled", out)
	}
	if got := b.Status(); got.State != StateCancelled || got.Progress != 40 {
		t.Errorf("Status() = %+v, want CANCELLED at 40", got)
	}
	for _, name := range listDir(t, projectDir) {
		if strings.HasSuffix(name, project.Extension) {
			t.Errorf("archive %s written for a cancelled run", name)
		}
	}
	if names := listDir(t, filepath.Join(projectDir, ".staging")); len(names) != 0 {
		t.Errorf("staging left behind: %v", names)
	}
}

func TestBuilder_WithSegmentation(t *testing.T) {
	ctrl := gomock.NewController(t)
	embedder := inferencemocks.NewMockEmbedder(ctrl)
	segmenter := inferencemocks.NewMockSegmenter(ctrl)

	whole := geometry.NewMask(10, 10)
	top := geometry.NewMask(10, 10)
	bottom := geometry.NewMask(10, 10)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			whole.Set(y, x, true)
			if y < 8 {
				top.Set(y, x, true)
			}
			if y >= 7 {
				bottom.Set(y, x, true)
			}
		}
	}
	conf := 0.9
	candidates := []inference.Candidate{
		{Mask: whole, Confidence: &conf, Area: 100, BBox: [4]float64{0, 0, 10, 10}},
		{Mask: top, Confidence: &conf, Area: 80},
		{Mask: bottom, Confidence: &conf, Area: 30},
		{Mask: bottom, Confidence: nil, Area: 30},
	}

	embedder.EXPECT().GenerateEmbedding(gomock.Any(), gomock.Any()).Return(testEmbedding(), nil)
	segmenter.EXPECT().GenerateMaskCandidates(gomock.Any(), gomock.Any()).Return(candidates, nil)

	opt, outcomes := outcomeCollector()
	b := NewBuilder(embedder, segmenter, t.TempDir(), opt)
	req := Request{Inputs: writeImages(t, "reef.png"), Config: defaultThresholds, NeedSegmentation: true}
	if _, _, err := b.Start(context.Background(), req); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	out := waitOutcome(t, outcomes)
	if !out.Finished {
		t.Fatalf("outcome = %+v, want finished", out)
	}
	ds, _, err := project.Unpack(context.Background(), out.ProjectPath)
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	e, _ := ds.Get(0)
	if len(e.Annotations) != 2 {
		t.Fatalf("annotations = %+v, want 2", e.Annotations)
	}
	for i, wantID := range []int{0, 2} {
		a := e.Annotations[i]
		if a.ID != wantID || a.ImageID != 0 || a.CategoryID != project.CategoryUndefinedCoral || a.IsCrowd != 0 {
			t.Errorf("annotation %d = %+v", i, a)
		}
	}
	if e.Annotations[1].BBox != [4]float64{0, 7, 10, 3} {
		t.Errorf("derived bbox = %v, want [0 7 10 3]", e.Annotations[1].BBox)
	}
	decoded, err := geometry.Decode(e.Annotations[1].Segmentation)
	if err != nil || !decoded.Equal(bottom) {
		t.Errorf("segmentation does not decode to the kept mask: %v", err)
	}
}

func TestBuilder_FailureDiscardsStaging(t *testing.T) {
	ctrl := gomock.NewController(t)
	embedder := inferencemocks.NewMockEmbedder(ctrl)
	gomock.InOrder(
		embedder.EXPECT().GenerateEmbedding(gomock.Any(), gomock.Any()).Return(testEmbedding(), nil),
		embedder.EXPECT().GenerateEmbedding(gomock.Any(), gomock.Any()).
			Return(tensor.Embedding{}, apperrors.WrapError(apperrors.ErrExternalService, "model server returned 500")),
	)

	projectDir := t.TempDir()
	opt, outcomes := outcomeCollector()
	b := NewBuilder(embedder, nil, projectDir, opt)
	if _, _, err := b.Start(context.Background(), Request{Inputs: writeImages(t, "a.png", "b.png", "c.png"), Config: defaultThresholds}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	out := waitOutcome(t, outcomes)
	if out.Finished || out.Err == nil {
		t.Fatalf("outcome = %+v, want failure", out)
	}
	var resErr *apperrors.ResourceError
	if !errors.As(out.Err, &resErr) || resErr.Path != "b.png" {
		t.Errorf("outcome error = %v, want ResourceError for b.png", out.Err)
	}
	if !errors.Is(out.Err, apperrors.ErrExternalService) {
		t.Errorf("outcome error should wrap ErrExternalService")
	}
	if got := b.Status(); got.State != StateFailed || got.Error == "" {
		t.Errorf("Status() = %+v, want FAILED with error", got)
	}
	for _, name := range listDir(t, projectDir) {
		if strings.HasSuffix(name, project.Extension) {
			t.Errorf("archive %s written for a failed run", name)
		}
	}
	if names := listDir(t, filepath.Join(projectDir, ".staging")); len(names) != 0 {
		t.Errorf("staging left behind: %v", names)
	}
}

func TestBuilder_UnreadableImage(t *testing.T) {
	ctrl := gomock.NewController(t)
	embedder := inferencemocks.NewMockEmbedder(ctrl)

	opt, outcomes := outcomeCollector()
	b := NewBuilder(embedder, nil, t.TempDir(), opt)
	missing := filepath.Join(t.TempDir(), "missing.png")
	req := Request{Inputs: []Input{{ImageFileName: "missing.png", ImagePath: missing}}, Config: defaultThresholds}
	if _, _, err := b.Start(context.Background(), req); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	out := waitOutcome(t, outcomes)
	var resErr *apperrors.ResourceError
	if !errors.As(out.Err, &resErr) || resErr.Path != missing {
		t.Errorf("outcome error = %v, want ResourceError naming %s", out.Err, missing)
	}
}

func TestBuilder_SecondStartIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	embedder := inferencemocks.NewMockEmbedder(ctrl)
	release := make(chan struct{})
	entered := make(chan struct{})
	embedder.EXPECT().GenerateEmbedding(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, image.Image) (tensor.Embedding, error) {
			close(entered)
			<-release
			return testEmbedding(), nil
		})

	opt, outcomes := outcomeCollector()
	b := NewBuilder(embedder, nil, t.TempDir(), opt)
	req := Request{Inputs: writeImages(t, "a.png"), Config: defaultThresholds}

	first, started, err := b.Start(context.Background(), req)
	if err != nil || !started {
		t.Fatalf("Start() = %v, %v", started, err)
	}
	<-entered

	second, started, err := b.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	if started {
		t.Error("second Start() should not start a run")
	}
	if second != first {
		t.Errorf("second Start() run id = %s, want active %s", second, first)
	}
	if got := b.Status(); got.State != StateRunning {
		t.Errorf("Status() = %+v, want RUNNING", got)
	}

	taken := filepath.Join(t.TempDir(), "taken.coral")
	if err := os.WriteFile(taken, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	busy := []struct {
		name string
		req  Request
	}{
		{name: "no inputs", req: Request{Config: defaultThresholds}},
		{name: "output file exists", req: Request{Inputs: req.Inputs, Config: defaultThresholds, OutputFile: taken}},
		{name: "segmentation without model", req: Request{Inputs: req.Inputs, Config: defaultThresholds, NeedSegmentation: true}},
	}
	for _, tt := range busy {
		id, started, err := b.Start(context.Background(), tt.req)
		if err != nil || started || id != first {
			t.Errorf("busy Start() with %s = %q, %v, %v; want %q, false, nil", tt.name, id, started, err, first)
		}
	}

	close(release)
	if out := waitOutcome(t, outcomes); !out.Finished {
		t.Errorf("outcome = %+v, want finished", out)
	}
	if err := b.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error: %v", err)
	}
}

func TestBuilder_CancelIdle(t *testing.T) {
	b := NewBuilder(nil, nil, t.TempDir())
	if b.Cancel() {
		t.Error("Cancel() with no run should report false")
	}
	if got := b.Status(); got.State != StateIdle {
		t.Errorf("Status() = %+v, want IDLE", got)
	}
	if err := b.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error: %v", err)
	}
}

func TestBuilder_StartValidation(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "taken.coral")
	if err := os.WriteFile(existing, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	inputs := []Input{{ImageFileName: "a.png", ImagePath: "/tmp/a.png"}}

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "segmentation without segmenter",
			req:     Request{Inputs: inputs, Config: defaultThresholds, NeedSegmentation: true},
			wantErr: apperrors.ErrInvalidInput,
		},
		{
			name:    "existing output file",
			req:     Request{Inputs: inputs, Config: defaultThresholds, OutputFile: existing},
			wantErr: apperrors.ErrCapacity,
		},
		{
			name:    "empty batch",
			req:     Request{Config: defaultThresholds},
			wantErr: apperrors.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(nil, nil, t.TempDir())
			_, started, err := b.Start(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() error = %v, want %v", err, tt.wantErr)
			}
			if started {
				t.Error("Start() should not start on invalid input")
			}
			if got := b.Status(); got.State != StateIdle {
				t.Errorf("Status() = %+v, want IDLE", got)
			}
		})
	}
}

func TestBuilder_OverwriteOutputFile(t *testing.T) {
	ctrl := gomock.NewController(t)
	embedder := inferencemocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().GenerateEmbedding(gomock.Any(), gomock.Any()).Return(testEmbedding(), nil)

	target := filepath.Join(t.TempDir(), "mine.coral")
	if err := os.WriteFile(target, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	opt, outcomes := outcomeCollector()
	b := NewBuilder(embedder, nil, t.TempDir(), opt)
	req := Request{Inputs: writeImages(t, "a.png"), Config: defaultThresholds, OutputFile: target, Overwrite: true}
	if _, _, err := b.Start(context.Background(), req); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	out := waitOutcome(t, outcomes)
	if !out.Finished || out.ProjectPath != target {
		t.Fatalf("outcome = %+v, want finished at %s", out, target)
	}
	if _, _, err := project.Unpack(context.Background(), target); err != nil {
		t.Errorf("Unpack() of replaced archive error: %v", err)
	}
}

type recordingIndexer struct {
	path   string
	images []vectorstore.ImageVector
	err    error
}

func (r *recordingIndexer) IndexImages(_ context.Context, path string, images []vectorstore.ImageVector) error {
	r.path = path
	r.images = images
	return r.err
}

func TestBuilder_RunStoreAndIndexer(t *testing.T) {
	ctrl := gomock.NewController(t)
	embedder := inferencemocks.NewMockEmbedder(ctrl)
	runs := storagemocks.NewMockRunStore(ctrl)
	embedder.EXPECT().GenerateEmbedding(gomock.Any(), gomock.Any()).Return(testEmbedding(), nil).Times(2)

	var final *storage.RunRecord
	runs.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec *storage.RunRecord) error {
			if rec.State != storage.RunStateRunning || rec.Total != 2 {
				t.Errorf("Create() record = %+v", rec)
			}
			return nil
		})
	runs.EXPECT().Update(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec *storage.RunRecord) error {
			final = rec
			return nil
		}).Times(3)

	indexer := &recordingIndexer{err: errors.New("qdrant down")}
	opt, outcomes := outcomeCollector()
	b := NewBuilder(embedder, nil, t.TempDir(), opt, WithRunStore(runs), WithIndexer(indexer))
	if _, _, err := b.Start(context.Background(), Request{Inputs: writeImages(t, "b.png", "a.png"), Config: defaultThresholds}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	out := waitOutcome(t, outcomes)
	if !out.Finished {
		t.Fatalf("index failure must not fail the run: %+v", out)
	}
	if final == nil || final.State != storage.RunStateCompleted || final.OutputPath != out.ProjectPath || final.FinishedAt == nil {
		t.Errorf("final run record = %+v", final)
	}
	if indexer.path != out.ProjectPath || len(indexer.images) != 2 {
		t.Fatalf("indexer got %s with %d images", indexer.path, len(indexer.images))
	}
	if indexer.images[0].Filename != "a.png" || indexer.images[0].ImageID != 0 {
		t.Errorf("first indexed image = %+v, want a.png id 0", indexer.images[0])
	}
	if v := indexer.images[1].Vec; len(v) != 2 || v[0] != 0.5 || v[1] != 1.5 {
		t.Errorf("pooled vector = %v, want [0.5 1.5]", v)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		done, total, want int
	}{
		{0, 5, 0},
		{1, 3, 33},
		{2, 3, 67},
		{2, 5, 40},
		{5, 5, 100},
		{1, 0, 0},
		{7, 5, 100},
	}
	for _, tt := range tests {
		if got := Percent(tt.done, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}
