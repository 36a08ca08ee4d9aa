package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"coral-lat/internal/tensor"
)

// Staging is a directory laid out like an unpacked project archive.
type Staging struct {
	Dir string
}

// NewStaging creates an empty staging directory at dir, discarding any leftover
// content from an earlier run.
func NewStaging(dir string) (*Staging, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to clear staging directory: %w", err)
	}
	for _, sub := range []string{ImagesDir, EmbeddingsDir, AnnotationsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create staging directory: %w", err)
		}
	}
	return &Staging{Dir: dir}, nil
}

// WriteImage stores the original image bytes under images/<filename>.
func (s *Staging) WriteImage(filename string, data []byte) error {
	path := filepath.Join(s.Dir, ImagesDir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write image %s: %w", filename, err)
	}
	return nil
}

// WriteEmbedding stores the embedding under embeddings/<stem>.npy.
func (s *Staging) WriteEmbedding(stem string, emb tensor.Embedding) error {
	path := filepath.Join(s.Dir, EmbeddingsDir, stem+EmbeddingExt)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create embedding file: %w", err)
	}
	if err := tensor.WriteNPY(f, emb); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write embedding %s: %w", stem, err)
	}
	return f.Close()
}

// WriteAnnotations stores the annotation file under annotations/<stem>.json.
func (s *Staging) WriteAnnotations(stem string, af AnnotationFile) error {
	if af.Annotations == nil {
		af.Annotations = []Annotation{}
	}
	return writeJSON(filepath.Join(s.Dir, AnnotationsDir, stem+AnnotationExt), af)
}

// WriteProjectInfo stores project_info.json.
func (s *Staging) WriteProjectInfo(info ProjectInfo) error {
	return writeJSON(filepath.Join(s.Dir, ProjectInfoFile), info)
}

// Remove deletes the staging directory.
func (s *Staging) Remove() error {
	return os.RemoveAll(s.Dir)
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
