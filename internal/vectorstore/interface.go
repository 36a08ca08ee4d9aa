package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks coral-lat/internal/vectorstore VectorStore

import "context"

// Point is one stored vector with its payload.
type Point struct {
	ID   string
	Vec  []float32
	Meta map[string]any
}

// SearchResult is a scored point returned by Search.
type SearchResult struct {
	PointID string
	Score   float32
	Meta    map[string]any
}

// VectorStore is the subset of a vector database the image index needs. Filters
// are equality matches on payload keys.
type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, query []float32, k int, filters map[string]any) ([]SearchResult, error)
	DeleteWhere(ctx context.Context, collection string, filters map[string]any) error
}
