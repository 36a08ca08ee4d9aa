package project

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/contextutil"
	"coral-lat/internal/tensor"
)

// MaxNameAttempts caps the numeric suffixes AvailablePath tries.
const MaxNameAttempts = 1000

// archiveTime is stamped on every entry so packing the same staging content twice
// yields identical archives. Zip timestamps cannot go below 1980.
var archiveTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// AvailablePath returns the first of project.coral, project_1.coral, ... that does
// not exist in dir.
func AvailablePath(dir string) (string, error) {
	name := "project" + Extension
	for i := 1; i <= MaxNameAttempts; i++ {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", path, err)
		}
		name = fmt.Sprintf("project_%d%s", i, Extension)
	}
	return "", &apperrors.CapacityError{Dir: dir, Attempts: MaxNameAttempts}
}

// Pack zips a staging directory into archivePath. It refuses to replace an
// existing file; choose a free name with AvailablePath.
func Pack(ctx context.Context, stagingDir, archivePath string) error {
	if _, err := os.Stat(archivePath); err == nil {
		return fmt.Errorf("archive %s: %w", archivePath, fs.ErrExist)
	}
	return pack(ctx, stagingDir, archivePath)
}

// Replace zips a staging directory over archivePath. The previous archive stays in
// place until the new one is completely written.
func Replace(ctx context.Context, stagingDir, archivePath string) error {
	return pack(ctx, stagingDir, archivePath)
}

func pack(ctx context.Context, stagingDir, archivePath string) error {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	entries, err := stagedEntries(stagingDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(archivePath), "."+filepath.Base(archivePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	zw := zip.NewWriter(tmp)
	for _, rel := range entries {
		if err := addEntry(zw, stagingDir, rel); err != nil {
			_ = zw.Close()
			cleanup()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move archive into place: %w", err)
	}

	logger.InfoContext(ctx, "packed project", "path", archivePath, "entries", len(entries), "duration", time.Since(start))
	return nil
}

// stagedEntries lists the archive members, slash separated and relative to the
// staging root: project_info.json first, then each folder in sorted order.
func stagedEntries(stagingDir string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(stagingDir, ProjectInfoFile)); err != nil {
		return nil, fmt.Errorf("staging directory has no %s: %w", ProjectInfoFile, err)
	}
	entries := []string{ProjectInfoFile}
	for _, dir := range []string{ImagesDir, EmbeddingsDir, AnnotationsDir} {
		files, err := os.ReadDir(filepath.Join(stagingDir, dir))
		if err != nil {
			return nil, fmt.Errorf("failed to read staging folder %s: %w", dir, err)
		}
		for _, f := range files {
			if f.Type().IsRegular() {
				entries = append(entries, dir+"/"+f.Name())
			}
		}
	}
	return entries, nil
}

func addEntry(zw *zip.Writer, root, rel string) error {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", rel, err)
	}
	defer func() {
		_ = f.Close()
	}()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     rel,
		Method:   zip.Deflate,
		Modified: archiveTime,
	})
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", rel, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// Save stages the dataset and packs it to archivePath. When replace is false an
// existing file at archivePath is an error.
func Save(ctx context.Context, d *Dataset, archivePath string, lastImageID int, replace bool) error {
	tmpDir, err := os.MkdirTemp("", "coral-save-*")
	if err != nil {
		return fmt.Errorf("failed to create save directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	staging, err := d.Stage(filepath.Join(tmpDir, "project"), lastImageID)
	if err != nil {
		return err
	}
	if replace {
		return Replace(ctx, staging.Dir, archivePath)
	}
	return Pack(ctx, staging.Dir, archivePath)
}

// Unpack extracts an archive to a private temporary directory, validates that the
// image, embedding, and annotation folders share one stem set, and rebuilds the
// dataset keyed by the image id recorded in each annotation file. It returns the
// dataset and the last viewed image id.
func Unpack(ctx context.Context, archivePath string) (*Dataset, int, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	tmpDir, err := os.MkdirTemp("", "coral-load-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	if err := extract(archivePath, tmpDir); err != nil {
		return nil, 0, err
	}

	imageFiles, err := stemIndex(filepath.Join(tmpDir, ImagesDir))
	if err != nil {
		return nil, 0, err
	}
	embeddingFiles, err := stemIndex(filepath.Join(tmpDir, EmbeddingsDir))
	if err != nil {
		return nil, 0, err
	}
	annotationFiles, err := stemIndex(filepath.Join(tmpDir, AnnotationsDir))
	if err != nil {
		return nil, 0, err
	}
	if err := sameStems(imageFiles, embeddingFiles, annotationFiles); err != nil {
		return nil, 0, err
	}

	var info ProjectInfo
	raw, err := os.ReadFile(filepath.Join(tmpDir, ProjectInfoFile))
	if err != nil {
		return nil, 0, &apperrors.ValidationError{Field: ProjectInfoFile, Message: "missing from archive"}
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, 0, &apperrors.ValidationError{Field: ProjectInfoFile, Message: err.Error()}
	}

	dataset := NewDataset(info.Categories, info.Statuses)
	stems := make([]string, 0, len(imageFiles))
	for stem := range imageFiles {
		stems = append(stems, stem)
	}
	sort.Strings(stems)

	for _, stem := range stems {
		entry, err := loadEntry(ctx, tmpDir, imageFiles[stem], embeddingFiles[stem], annotationFiles[stem])
		if err != nil {
			return nil, 0, err
		}
		if entry.Image.Filename != imageFiles[stem] {
			logger.WarnContext(ctx, "annotation file names a different image", "stem", stem, "recorded", entry.Image.Filename, "actual", imageFiles[stem])
			entry.Image.Filename = imageFiles[stem]
		}
		if err := dataset.Add(entry); err != nil {
			return nil, 0, err
		}
	}

	if dataset.Len() == 0 {
		if info.LastImageID != 0 {
			return nil, 0, &apperrors.ValidationError{Field: "last_image_idx", Message: "must be 0 for an empty project"}
		}
	} else if !dataset.Has(info.LastImageID) {
		return nil, 0, &apperrors.ValidationError{Field: "last_image_idx", Message: fmt.Sprintf("image %d does not exist", info.LastImageID)}
	}

	logger.InfoContext(ctx, "loaded project", "path", archivePath, "images", dataset.Len(), "duration", time.Since(start))
	return dataset, info.LastImageID, nil
}

func extract(archivePath, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = zr.Close()
		return &apperrors.ValidationError{Field: "archive", Message: "archive contains entries outside the project root"}
	}
	if err != nil {
		return &apperrors.ResourceError{Path: archivePath, Err: err}
	}
	defer func() {
		_ = zr.Close()
	}()

	for _, f := range zr.File {
		name := filepath.FromSlash(f.Name)
		if filepath.IsAbs(name) || strings.HasPrefix(filepath.Clean(name), "..") {
			return &apperrors.ValidationError{Field: "archive", Message: fmt.Sprintf("entry %q escapes the project root", f.Name)}
		}
		target := filepath.Join(dest, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to extract %s: %w", f.Name, err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer func() {
		_ = rc.Close()
	}()
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}

// stemIndex maps each file stem in dir to its file name. A missing folder is
// treated as empty; two files sharing a stem are a validation error.
func stemIndex(dir string) (map[string]string, error) {
	out := make(map[string]string)
	files, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(dir), err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		stem := Stem(f.Name())
		if prev, ok := out[stem]; ok {
			return nil, &apperrors.ValidationError{
				Field:   filepath.Base(dir),
				Message: fmt.Sprintf("%s and %s share the stem %q", prev, f.Name(), stem),
			}
		}
		out[stem] = f.Name()
	}
	return out, nil
}

func sameStems(images, embeddings, annotations map[string]string) error {
	check := func(name string, other map[string]string) error {
		if len(other) != len(images) {
			return &apperrors.ValidationError{
				Field:   name,
				Message: fmt.Sprintf("%d files for %d images", len(other), len(images)),
			}
		}
		for stem := range images {
			if _, ok := other[stem]; !ok {
				return &apperrors.ValidationError{Field: name, Message: fmt.Sprintf("missing entry for %q", stem)}
			}
		}
		return nil
	}
	if err := check(EmbeddingsDir, embeddings); err != nil {
		return err
	}
	return check(AnnotationsDir, annotations)
}

func loadEntry(ctx context.Context, root, imageName, embeddingName, annotationName string) (Entry, error) {
	imageData, err := os.ReadFile(filepath.Join(root, ImagesDir, imageName))
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read image %s: %w", imageName, err)
	}

	rawEmb, err := os.ReadFile(filepath.Join(root, EmbeddingsDir, embeddingName))
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read embedding %s: %w", embeddingName, err)
	}
	emb, err := tensor.ReadNPY(bytes.NewReader(rawEmb))
	if err != nil {
		return Entry{}, &apperrors.ValidationError{Field: EmbeddingsDir, Message: fmt.Sprintf("%s: %v", embeddingName, err)}
	}

	rawAnn, err := os.ReadFile(filepath.Join(root, AnnotationsDir, annotationName))
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read annotations %s: %w", annotationName, err)
	}
	var af AnnotationFile
	if err := json.Unmarshal(rawAnn, &af); err != nil {
		return Entry{}, &apperrors.ValidationError{Field: AnnotationsDir, Message: fmt.Sprintf("%s: %v", annotationName, err)}
	}

	// Annotations belong to the image of the file they are stored in.
	var repointed int
	for i := range af.Annotations {
		if af.Annotations[i].ImageID != af.Image.ID {
			af.Annotations[i].ImageID = af.Image.ID
			repointed++
		}
	}
	if repointed > 0 {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "annotations referenced another image, re-pointed",
			"file", annotationName, "image_id", af.Image.ID, "count", repointed)
	}

	return Entry{
		Image:       af.Image,
		ImageData:   imageData,
		Embedding:   emb,
		Annotations: af.Annotations,
	}, nil
}
