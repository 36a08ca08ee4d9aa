package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/contextutil"
)

// defaultGRPCPort is used when the Qdrant URL carries no port.
const defaultGRPCPort = 6334

// QdrantOptions configures the connection to a Qdrant server.
type QdrantOptions struct {
	// URL is the REST address, e.g. http://localhost:6333. The gRPC client dials
	// the next port up; https enables TLS.
	URL    string
	APIKey string
}

// QdrantStore implements VectorStore on a Qdrant collection.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a Qdrant client for opts.
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	host, port, useTLS, err := grpcTarget(opts.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: opts.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

// grpcTarget maps the REST URL onto the gRPC host and port.
func grpcTarget(rawURL string) (string, int, bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, false, &apperrors.ValidationError{Field: "qdrant_url", Message: err.Error()}
	}
	var useTLS bool
	switch u.Scheme {
	case "http":
	case "https":
		useTLS = true
	default:
		return "", 0, false, &apperrors.ValidationError{Field: "qdrant_url", Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := defaultGRPCPort
	if p := u.Port(); p != "" {
		restPort, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, false, &apperrors.ValidationError{Field: "qdrant_url", Message: "invalid port " + p}
		}
		port = restPort + 1
	}
	return host, port, useTLS, nil
}

// Upsert writes points, replacing any with the same ID.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vec...),
			Payload: qdrant.NewValueMap(p.Meta),
		}
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         structs,
		Wait:           &wait,
	}); err != nil {
		logger.ErrorContext(ctx, "failed to store image vectors", "collection", collection, "count", len(points), "error", err)
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	logger.DebugContext(ctx, "stored image vectors", "collection", collection, "count", len(points))
	return nil
}

// Search returns the k points nearest to query that match every filter.
func (s *QdrantStore) Search(ctx context.Context, collection string, query []float32, k int, filters map[string]any) ([]SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if k <= 0 {
		return nil, &apperrors.ValidationError{Field: "k", Message: "must be greater than 0"}
	}

	limit := uint64(k)
	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         buildFilter(ctx, filters),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to query image vectors", "collection", collection, "k", k, "error", err)
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]SearchResult, 0, len(scored))
	for _, sp := range scored {
		results = append(results, SearchResult{
			PointID: sp.GetId().GetUuid(),
			Score:   sp.GetScore(),
			Meta:    decodePayload(sp.GetPayload()),
		})
	}
	logger.DebugContext(ctx, "queried image vectors", "collection", collection, "k", k, "results", len(results))
	return results, nil
}

// DeleteWhere removes every point matching the filters. An empty filter set is
// rejected so a collection is never wiped by accident.
func (s *QdrantStore) DeleteWhere(ctx context.Context, collection string, filters map[string]any) error {
	logger := contextutil.LoggerFromContext(ctx)

	filter := buildFilter(ctx, filters)
	if filter == nil {
		return &apperrors.ValidationError{Field: "filters", Message: "at least one supported filter is required"}
	}

	wait := true
	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
		Wait:           &wait,
	}); err != nil {
		logger.ErrorContext(ctx, "failed to delete image vectors", "collection", collection, "error", err)
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// EnsureCollection creates a cosine collection of vectorSize, or checks that an
// existing one has that size.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		logger.InfoContext(ctx, "created image collection", "collection", collection, "vector_size", vectorSize)
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to get collection info: %w", err)
	}
	actual, ok := vectorSizeOf(info)
	if !ok {
		return fmt.Errorf("collection %s has no single unnamed vector config", collection)
	}
	if actual != vectorSize {
		return &apperrors.ValidationError{
			Field:   "vector_size",
			Message: fmt.Sprintf("collection %s stores %d-dim vectors, configured %d", collection, actual, vectorSize),
		}
	}
	return nil
}

// Ping checks that the Qdrant server answers.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func vectorSizeOf(info *qdrant.CollectionInfo) (int, bool) {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil || params.GetSize() == 0 {
		return 0, false
	}
	return int(params.GetSize()), true
}

// buildFilter turns equality filters into a Qdrant must-filter. Integer values use an
// integer match and strings a keyword match; other types are skipped.
func buildFilter(ctx context.Context, filters map[string]any) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	logger := contextutil.LoggerFromContext(ctx)

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]*qdrant.Condition, 0, len(filters))
	for _, key := range keys {
		switch v := filters[key].(type) {
		case int:
			must = append(must, qdrant.NewMatchInt(key, int64(v)))
		case int64:
			must = append(must, qdrant.NewMatchInt(key, v))
		case string:
			must = append(must, qdrant.NewMatch(key, v))
		default:
			logger.WarnContext(ctx, "unsupported filter value, skipping", "key", key, "type", fmt.Sprintf("%T", v))
		}
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// decodePayload converts a point payload into plain Go values. Integers come
// back as int64.
func decodePayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if v != nil {
			out[k] = decodeValue(v)
		}
	}
	return out
}

func decodeValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]any, len(items))
		for i, item := range items {
			list[i] = decodeValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return decodePayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}
