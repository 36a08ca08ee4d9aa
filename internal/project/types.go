package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"coral-lat/internal/geometry"
)

// Archive layout.
const (
	Extension       = ".coral"
	ImagesDir       = "images"
	EmbeddingsDir   = "embeddings"
	AnnotationsDir  = "annotations"
	ProjectInfoFile = "project_info.json"
	EmbeddingExt    = ".npy"
	AnnotationExt   = ".json"
)

// Status ids.
const (
	StatusUndefined = -1
	StatusHealthy   = 0
	StatusBleached  = 1
	StatusDead      = 2
)

// Seed category ids.
const (
	CategoryUndefinedCoral = -1
	CategoryDeadCoral      = 0
)

// ImageRecord describes one processed image. ID is its 0-based position in the
// filename-sorted input list.
type ImageRecord struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Annotation is one persisted mask.
type Annotation struct {
	ID           int          `json:"id"`
	ImageID      int          `json:"image_id"`
	Segmentation geometry.RLE `json:"segmentation"`
	BBox         [4]float64   `json:"bbox"`
	Area         int          `json:"area"`
	CategoryID   int          `json:"category_id"`
	IsCrowd      int          `json:"iscrowd"`
	PredictedIoU float64      `json:"predicted_iou"`
}

// AnnotationFile is the per-image file stored under annotations/<stem>.json.
type AnnotationFile struct {
	Image       ImageRecord  `json:"images"`
	Annotations []Annotation `json:"annotations"`
}

// UnmarshalJSON accepts "images" either as an object or as a one-element list,
// the form written by older project files.
func (f *AnnotationFile) UnmarshalJSON(data []byte) error {
	var raw struct {
		Images      json.RawMessage `json:"images"`
		Annotations []Annotation    `json:"annotations"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.Annotations = raw.Annotations
	if f.Annotations == nil {
		f.Annotations = []Annotation{}
	}

	images := bytes.TrimSpace(raw.Images)
	switch {
	case len(images) == 0:
		return fmt.Errorf("annotation file has no image record")
	case images[0] == '[':
		var list []ImageRecord
		if err := json.Unmarshal(images, &list); err != nil {
			return err
		}
		if len(list) != 1 {
			return fmt.Errorf("annotation file lists %d image records, want 1", len(list))
		}
		f.Image = list[0]
	default:
		if err := json.Unmarshal(images, &f.Image); err != nil {
			return err
		}
	}
	return nil
}

// CategoryInfo is a project-wide category. Status links it to a StatusInfo.
type CategoryInfo struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	SuperCategory   string `json:"supercategory"`
	SuperCategoryID int    `json:"supercategory_id"`
	IsCoral         bool   `json:"is_coral"`
	Status          int    `json:"status"`
}

// StatusInfo names a health status.
type StatusInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ProjectInfo is the project_info.json metadata file.
type ProjectInfo struct {
	LastImageID int            `json:"last_image_idx"`
	Categories  []CategoryInfo `json:"category_info"`
	Statuses    []StatusInfo   `json:"status_info"`
}

// DefaultProjectInfo returns the metadata of a freshly built project: the
// undefined and dead coral seed categories and the four health statuses.
func DefaultProjectInfo() ProjectInfo {
	return ProjectInfo{
		LastImageID: 0,
		Categories: []CategoryInfo{
			{
				ID:              CategoryUndefinedCoral,
				Name:            "Undefined Coral",
				SuperCategory:   "Undefined Coral",
				SuperCategoryID: CategoryUndefinedCoral,
				IsCoral:         true,
				Status:          StatusUndefined,
			},
			{
				ID:              CategoryDeadCoral,
				Name:            "Dead Coral",
				SuperCategory:   "Dead Coral",
				SuperCategoryID: CategoryDeadCoral,
				IsCoral:         true,
				Status:          StatusDead,
			},
		},
		Statuses: []StatusInfo{
			{ID: StatusHealthy, Name: "Healthy"},
			{ID: StatusBleached, Name: "Bleached"},
			{ID: StatusDead, Name: "Dead"},
			{ID: StatusUndefined, Name: "Undefined"},
		},
	}
}

// Stem returns the filename without directory and extension.
func Stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
