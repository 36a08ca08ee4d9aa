package project

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/geometry"
	"coral-lat/internal/tensor"
)

func testEntry(id int, filename string, categories ...int) Entry {
	mask := geometry.NewMask(2, 3)
	mask.Set(0, 1, true)
	anns := make([]Annotation, 0, len(categories))
	for i, c := range categories {
		anns = append(anns, Annotation{
			ID:           i,
			ImageID:      id,
			Segmentation: geometry.Encode(mask),
			BBox:         mask.BBox().XYWH(),
			Area:         mask.Area(),
			CategoryID:   c,
			PredictedIoU: 0.9,
		})
	}
	return Entry{
		Image:       ImageRecord{ID: id, Filename: filename, Width: 3, Height: 2},
		ImageData:   []byte("image-" + filename),
		Embedding:   tensor.Embedding{Shape: []int{1, 2, 1, 1}, Data: []float32{float32(id), 1}},
		Annotations: anns,
	}
}

func testDataset(t *testing.T, entries ...Entry) *Dataset {
	t.Helper()
	info := DefaultProjectInfo()
	ds := NewDataset(info.Categories, info.Statuses)
	for _, e := range entries {
		if err := ds.Add(e); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}
	return ds
}

func TestAnnotationFile_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ImageRecord
		wantErr bool
	}{
		{
			name:  "object form",
			input: `{"images":{"id":3,"filename":"a.jpg","width":4,"height":2},"annotations":[]}`,
			want:  ImageRecord{ID: 3, Filename: "a.jpg", Width: 4, Height: 2},
		},
		{
			name:  "list form",
			input: `{"images":[{"id":1,"filename":"b.png","width":1,"height":1}]}`,
			want:  ImageRecord{ID: 1, Filename: "b.png", Width: 1, Height: 1},
		},
		{
			name:    "missing image record",
			input:   `{"annotations":[]}`,
			wantErr: true,
		},
		{
			name:    "two image records",
			input:   `{"images":[{"id":1},{"id":2}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var af AnnotationFile
			err := json.Unmarshal([]byte(tt.input), &af)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if af.Image != tt.want {
				t.Errorf("Unmarshal() image = %+v, want %+v", af.Image, tt.want)
			}
			if af.Annotations == nil {
				t.Error("Unmarshal() annotations should be non-nil")
			}
		})
	}
}

func TestStem(t *testing.T) {
	tests := map[string]string{
		"reef.jpg":         "reef",
		"dir/reef.tar.png": "reef.tar",
		"noext":            "noext",
	}
	for in, want := range tests {
		if got := Stem(in); got != want {
			t.Errorf("Stem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewStaging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	leftover := filepath.Join(dir, "leftover.txt")
	if err := os.WriteFile(leftover, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStaging(dir)
	if err != nil {
		t.Fatalf("NewStaging() error: %v", err)
	}
	if _, err := os.Stat(leftover); !errors.Is(err, fs.ErrNotExist) {
		t.Error("NewStaging() should clear leftover files")
	}
	for _, sub := range []string{ImagesDir, EmbeddingsDir, AnnotationsDir} {
		if fi, err := os.Stat(filepath.Join(dir, sub)); err != nil || !fi.IsDir() {
			t.Errorf("NewStaging() missing folder %s", sub)
		}
	}

	if err := s.WriteAnnotations("reef", AnnotationFile{Image: ImageRecord{Filename: "reef.jpg"}}); err != nil {
		t.Fatalf("WriteAnnotations() error: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, AnnotationsDir, "reef.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(raw, []byte(`"annotations":[]`)) {
		t.Errorf("WriteAnnotations() should write an empty list, got %s", raw)
	}

	if err := s.Remove(); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, fs.ErrNotExist) {
		t.Error("Remove() should delete the staging directory")
	}
}

func TestDataset_Add(t *testing.T) {
	ds := testDataset(t, testEntry(0, "a.jpg"))

	if err := ds.Add(testEntry(0, "b.jpg")); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Add() duplicate id error = %v, want ErrInvalidInput", err)
	}
	if err := ds.Add(testEntry(1, "")); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Add() empty filename error = %v, want ErrInvalidInput", err)
	}
	if ds.Len() != 1 {
		t.Errorf("Len() = %d, want 1", ds.Len())
	}
}

func TestDataset_GetReturnsCopy(t *testing.T) {
	ds := testDataset(t, testEntry(0, "a.jpg", CategoryUndefinedCoral))

	e, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	e.Annotations[0].CategoryID = 42

	again, _ := ds.Get(0)
	if again.Annotations[0].CategoryID != CategoryUndefinedCoral {
		t.Error("Get() should return a copy of the annotations")
	}

	if _, err := ds.Get(9); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Get() unknown id error = %v, want ErrNotFound", err)
	}
}

func TestDataset_Annotations(t *testing.T) {
	ds := testDataset(t,
		testEntry(2, "c.jpg", CategoryDeadCoral),
		testEntry(0, "a.jpg", CategoryUndefinedCoral, CategoryUndefinedCoral),
		testEntry(1, "b.jpg", CategoryUndefinedCoral, CategoryDeadCoral),
	)

	if got := ds.IDs(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("IDs() = %v, want [0 1 2]", got)
	}
	if got := ds.IDsByCategory(CategoryDeadCoral); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("IDsByCategory(dead) = %v, want [1 2]", got)
	}

	counts := ds.StatusCounts()
	if counts["Undefined"] != 3 || counts["Dead"] != 2 {
		t.Errorf("StatusCounts() = %v, want Undefined:3 Dead:2", counts)
	}

	if err := ds.SetCategory(0, 1, CategoryDeadCoral); err != nil {
		t.Fatalf("SetCategory() error: %v", err)
	}
	if got := ds.IDsByCategory(CategoryDeadCoral); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("IDsByCategory(dead) after SetCategory = %v", got)
	}
	if err := ds.SetCategory(0, 99, CategoryDeadCoral); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("SetCategory() unknown annotation error = %v, want ErrNotFound", err)
	}

	replacement := []Annotation{{ID: 7, ImageID: 55, CategoryID: CategoryDeadCoral}}
	if err := ds.UpdateAnnotations(2, replacement); err != nil {
		t.Fatalf("UpdateAnnotations() error: %v", err)
	}
	e, _ := ds.Get(2)
	if len(e.Annotations) != 1 || e.Annotations[0].ImageID != 2 {
		t.Errorf("UpdateAnnotations() = %+v, want one annotation pointing at image 2", e.Annotations)
	}
	if err := ds.UpdateAnnotations(8, nil); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("UpdateAnnotations() unknown image error = %v, want ErrNotFound", err)
	}
}

func TestAvailablePath(t *testing.T) {
	dir := t.TempDir()

	got, err := AvailablePath(dir)
	if err != nil {
		t.Fatalf("AvailablePath() error: %v", err)
	}
	if got != filepath.Join(dir, "project.coral") {
		t.Errorf("AvailablePath() = %s, want project.coral", got)
	}

	for _, name := range []string{"project.coral", "project_1.coral", "project_2.coral"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	got, err = AvailablePath(dir)
	if err != nil {
		t.Fatalf("AvailablePath() error: %v", err)
	}
	if got != filepath.Join(dir, "project_3.coral") {
		t.Errorf("AvailablePath() = %s, want project_3.coral", got)
	}
}

func TestAvailablePath_Capacity(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "project.coral"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < MaxNameAttempts; i++ {
		name := filepath.Join(dir, "project_"+strconv.Itoa(i)+".coral")
		if err := os.WriteFile(name, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := AvailablePath(dir)
	var capErr *apperrors.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("AvailablePath() error = %v, want CapacityError", err)
	}
	if !errors.Is(err, apperrors.ErrCapacity) {
		t.Error("AvailablePath() error should wrap ErrCapacity")
	}
}

func TestSaveUnpack_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ds := testDataset(t,
		testEntry(0, "a.jpg", CategoryUndefinedCoral),
		testEntry(1, "b.png"),
		testEntry(2, "c.jpg", CategoryDeadCoral, CategoryUndefinedCoral),
	)
	path := filepath.Join(t.TempDir(), "project.coral")

	if err := Save(ctx, ds, path, 1, false); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, last, err := Unpack(ctx, path)
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	if last != 1 {
		t.Errorf("Unpack() last image = %d, want 1", last)
	}
	if !reflect.DeepEqual(loaded.IDs(), ds.IDs()) {
		t.Fatalf("Unpack() ids = %v, want %v", loaded.IDs(), ds.IDs())
	}
	for _, id := range ds.IDs() {
		want, _ := ds.Get(id)
		got, _ := loaded.Get(id)
		if got.Image != want.Image {
			t.Errorf("image %d record = %+v, want %+v", id, got.Image, want.Image)
		}
		if !bytes.Equal(got.ImageData, want.ImageData) {
			t.Errorf("image %d bytes differ", id)
		}
		if !reflect.DeepEqual(got.Embedding, want.Embedding) {
			t.Errorf("image %d embedding = %+v, want %+v", id, got.Embedding, want.Embedding)
		}
		if !reflect.DeepEqual(got.Annotations, want.Annotations) {
			t.Errorf("image %d annotations = %+v, want %+v", id, got.Annotations, want.Annotations)
		}
	}
	if !reflect.DeepEqual(loaded.Categories(), ds.Categories()) {
		t.Errorf("Unpack() categories = %+v", loaded.Categories())
	}
}

func TestSave_ExistingTarget(t *testing.T) {
	ctx := context.Background()
	ds := testDataset(t, testEntry(0, "a.jpg"))
	path := filepath.Join(t.TempDir(), "project.coral")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Save(ctx, ds, path, 0, false); !errors.Is(err, fs.ErrExist) {
		t.Errorf("Save() without replace error = %v, want ErrExist", err)
	}
	if err := Save(ctx, ds, path, 0, true); err != nil {
		t.Fatalf("Save() with replace error: %v", err)
	}
	if _, _, err := Unpack(ctx, path); err != nil {
		t.Errorf("Unpack() after replace error: %v", err)
	}
}

func TestPack_Deterministic(t *testing.T) {
	ctx := context.Background()
	ds := testDataset(t, testEntry(0, "a.jpg", CategoryUndefinedCoral), testEntry(1, "b.jpg"))
	dir := t.TempDir()

	first := filepath.Join(dir, "first.coral")
	second := filepath.Join(dir, "second.coral")
	if err := Save(ctx, ds, first, 0, false); err != nil {
		t.Fatal(err)
	}
	if err := Save(ctx, ds, second, 0, false); err != nil {
		t.Fatal(err)
	}

	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if !bytes.Equal(a, b) {
		t.Error("packing the same dataset twice should give identical archives")
	}
}

func TestUnpack_EmptyProject(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "empty.coral")
	if err := Save(ctx, testDataset(t), path, 0, false); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	ds, last, err := Unpack(ctx, path)
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	if ds.Len() != 0 || last != 0 {
		t.Errorf("Unpack() = %d images, last %d, want 0, 0", ds.Len(), last)
	}
}

// writeArchive builds an archive directly from name to content pairs.
func writeArchive(t *testing.T, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.coral")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func npyBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := tensor.WriteNPY(&buf, tensor.Embedding{Shape: []int{2}, Data: []float32{1, 2}}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUnpack_Invalid(t *testing.T) {
	info, _ := json.Marshal(DefaultProjectInfo())
	ann := func(id int, filename string) []byte {
		b, _ := json.Marshal(AnnotationFile{Image: ImageRecord{ID: id, Filename: filename}, Annotations: []Annotation{}})
		return b
	}
	badLast, _ := json.Marshal(ProjectInfo{LastImageID: 5})

	tests := []struct {
		name  string
		files map[string][]byte
	}{
		{
			name: "missing embedding",
			files: map[string][]byte{
				ProjectInfoFile:        info,
				"images/a.jpg":         []byte("x"),
				"annotations/a.json":   ann(0, "a.jpg"),
				"embeddings/other.npy": npyBytes(t),
			},
		},
		{
			name: "missing annotations",
			files: map[string][]byte{
				ProjectInfoFile:    info,
				"images/a.jpg":     []byte("x"),
				"embeddings/a.npy": npyBytes(t),
			},
		},
		{
			name: "duplicate image stem",
			files: map[string][]byte{
				ProjectInfoFile:      info,
				"images/a.jpg":       []byte("x"),
				"images/a.png":       []byte("y"),
				"embeddings/a.npy":   npyBytes(t),
				"annotations/a.json": ann(0, "a.jpg"),
			},
		},
		{
			name: "duplicate image id",
			files: map[string][]byte{
				ProjectInfoFile:      info,
				"images/a.jpg":       []byte("x"),
				"images/b.jpg":       []byte("y"),
				"embeddings/a.npy":   npyBytes(t),
				"embeddings/b.npy":   npyBytes(t),
				"annotations/a.json": ann(0, "a.jpg"),
				"annotations/b.json": ann(0, "b.jpg"),
			},
		},
		{
			name: "last image id out of range",
			files: map[string][]byte{
				ProjectInfoFile:      badLast,
				"images/a.jpg":       []byte("x"),
				"embeddings/a.npy":   npyBytes(t),
				"annotations/a.json": ann(0, "a.jpg"),
			},
		},
		{
			name: "corrupt embedding",
			files: map[string][]byte{
				ProjectInfoFile:      info,
				"images/a.jpg":       []byte("x"),
				"embeddings/a.npy":   []byte("not npy"),
				"annotations/a.json": ann(0, "a.jpg"),
			},
		},
		{
			name: "entry escapes root",
			files: map[string][]byte{
				ProjectInfoFile: info,
				"../evil.txt":   []byte("x"),
			},
		},
		{
			name: "missing project info",
			files: map[string][]byte{
				"images/a.jpg":       []byte("x"),
				"embeddings/a.npy":   npyBytes(t),
				"annotations/a.json": ann(0, "a.jpg"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeArchive(t, tt.files)
			_, _, err := Unpack(context.Background(), path)
			if !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("Unpack() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestUnpack_FilenameOverride(t *testing.T) {
	info, _ := json.Marshal(DefaultProjectInfo())
	ann, _ := json.Marshal(AnnotationFile{Image: ImageRecord{ID: 0, Filename: "renamed.jpg"}})
	path := writeArchive(t, map[string][]byte{
		ProjectInfoFile:      info,
		"images/a.jpg":       []byte("x"),
		"embeddings/a.npy":   npyBytes(t),
		"annotations/a.json": ann,
	})

	ds, _, err := Unpack(context.Background(), path)
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	e, _ := ds.Get(0)
	if e.Image.Filename != "a.jpg" {
		t.Errorf("Unpack() filename = %s, want a.jpg", e.Image.Filename)
	}
}

func TestUnpack_RepointsForeignAnnotations(t *testing.T) {
	info, _ := json.Marshal(DefaultProjectInfo())
	e := testEntry(0, "a.jpg", 1, 2)
	e.Annotations[1].ImageID = 7
	ann, _ := json.Marshal(AnnotationFile{Image: e.Image, Annotations: e.Annotations})
	path := writeArchive(t, map[string][]byte{
		ProjectInfoFile:      info,
		"images/a.jpg":       []byte("x"),
		"embeddings/a.npy":   npyBytes(t),
		"annotations/a.json": ann,
	})

	ds, _, err := Unpack(context.Background(), path)
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	got, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(got.Annotations) != 2 {
		t.Fatalf("Unpack() kept %d annotations, want 2", len(got.Annotations))
	}
	for i, a := range got.Annotations {
		if a.ImageID != 0 {
			t.Errorf("annotation %d image_id = %d, want 0", i, a.ImageID)
		}
	}
}

func TestUnpack_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.coral")
	if err := os.WriteFile(path, []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err := Unpack(context.Background(), path)
	var resErr *apperrors.ResourceError
	if !errors.As(err, &resErr) {
		t.Errorf("Unpack() error = %v, want ResourceError", err)
	}
}
