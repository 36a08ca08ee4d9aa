package inference

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks coral-lat/internal/inference Embedder
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_segmenter.go -package=mocks coral-lat/internal/inference Segmenter

import (
	"context"
	"image"

	"coral-lat/internal/geometry"
	"coral-lat/internal/tensor"
)

// Embedder produces the image embedding consumed by the interactive mask tools.
// Implementations are expected to be deterministic for a given model.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, img image.Image) (tensor.Embedding, error)
}

// Segmenter proposes candidate object masks for an image. An empty result is valid.
type Segmenter interface {
	GenerateMaskCandidates(ctx context.Context, img image.Image) ([]Candidate, error)
}

// Candidate is a raw mask proposal from the segmentation model.
type Candidate struct {
	Mask *geometry.Mask
	// Confidence is the model-predicted mask quality; nil when the model gave none.
	Confidence *float64
	BBox       [4]float64
	Area       int
}
