package vectorstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/contextutil"
)

// Payload keys stored with every image point.
const (
	PayloadProjectPath = "project_path"
	PayloadFilename    = "filename"
	PayloadImageID     = "image_id"
)

// ImageVector is the pooled embedding of one project image.
type ImageVector struct {
	ImageID  int
	Filename string
	Vec      []float32
}

// Match is one similar-image hit.
type Match struct {
	ImageID  int     `json:"image_id"`
	Filename string  `json:"filename"`
	Score    float32 `json:"score"`
}

// ImageIndex keeps pooled image embeddings of built projects searchable.
type ImageIndex struct {
	store      VectorStore
	collection string
	vectorSize int
}

// NewImageIndex creates an index over one collection.
func NewImageIndex(store VectorStore, collection string, vectorSize int) *ImageIndex {
	return &ImageIndex{
		store:      store,
		collection: collection,
		vectorSize: vectorSize,
	}
}

// PointID derives a stable point ID from the project path and image filename, so
// re-indexing the same project overwrites its points.
func PointID(projectPath, filename string) string {
	key := filepath.ToSlash(filepath.Clean(projectPath)) + "#" + filename
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// IndexImages replaces the indexed vectors of one project. Points of images no
// longer in the project are removed first.
func (x *ImageIndex) IndexImages(ctx context.Context, projectPath string, images []ImageVector) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(images) == 0 {
		return nil
	}
	if err := x.store.EnsureCollection(ctx, x.collection, x.vectorSize); err != nil {
		return fmt.Errorf("failed to prepare collection: %w", err)
	}

	points := make([]Point, 0, len(images))
	for _, img := range images {
		if len(img.Vec) != x.vectorSize {
			return &apperrors.ValidationError{
				Field:   "embedding",
				Message: fmt.Sprintf("%s pools to %d values, collection expects %d", img.Filename, len(img.Vec), x.vectorSize),
			}
		}
		points = append(points, Point{
			ID:  PointID(projectPath, img.Filename),
			Vec: img.Vec,
			Meta: map[string]any{
				PayloadProjectPath: projectPath,
				PayloadFilename:    img.Filename,
				PayloadImageID:     img.ImageID,
			},
		})
	}

	if err := x.store.DeleteWhere(ctx, x.collection, map[string]any{PayloadProjectPath: projectPath}); err != nil {
		return fmt.Errorf("failed to clear stale images: %w", err)
	}
	if err := x.store.Upsert(ctx, x.collection, points); err != nil {
		return fmt.Errorf("failed to index images: %w", err)
	}
	logger.InfoContext(ctx, "indexed project images", "project", projectPath, "images", len(points))
	return nil
}

// Similar returns up to k images of the same project closest to vec, excluding
// the image with excludeID.
func (x *ImageIndex) Similar(ctx context.Context, projectPath string, excludeID int, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, &apperrors.ValidationError{Field: "k", Message: "must be greater than 0"}
	}
	results, err := x.store.Search(ctx, x.collection, vec, k+1, map[string]any{
		PayloadProjectPath: projectPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search similar images: %w", err)
	}

	matches := make([]Match, 0, k)
	for _, r := range results {
		id, ok := intValue(r.Meta[PayloadImageID])
		if !ok || id == excludeID {
			continue
		}
		filename, _ := r.Meta[PayloadFilename].(string)
		matches = append(matches, Match{ImageID: id, Filename: filename, Score: r.Score})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
