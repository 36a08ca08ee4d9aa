package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"

	"coral-lat/internal/apperrors"
)

func TestGRPCTarget(t *testing.T) {
	tests := []struct {
		name     string
		rawURL   string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{name: "default REST port", rawURL: "http://localhost:6333", wantHost: "localhost", wantPort: 6334},
		{name: "custom port", rawURL: "http://qdrant:9000", wantHost: "qdrant", wantPort: 9001},
		{name: "no port", rawURL: "http://qdrant", wantHost: "qdrant", wantPort: 6334},
		{name: "no host", rawURL: "http://:6333", wantHost: "localhost", wantPort: 6334},
		{name: "https enables TLS", rawURL: "https://cloud.example.com:6333", wantHost: "cloud.example.com", wantPort: 6334, wantTLS: true},
		{name: "unparseable", rawURL: "://invalid", wantErr: true},
		{name: "unsupported scheme", rawURL: "grpc://localhost:6334", wantErr: true},
		{name: "empty", rawURL: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := grpcTarget(tt.rawURL)
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrInvalidInput) {
					t.Errorf("grpcTarget(%q) error = %v, want ErrInvalidInput", tt.rawURL, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("grpcTarget(%q) error = %v", tt.rawURL, err)
			}
			if host != tt.wantHost || port != tt.wantPort || useTLS != tt.wantTLS {
				t.Errorf("grpcTarget(%q) = %s:%d tls=%v, want %s:%d tls=%v",
					tt.rawURL, host, port, useTLS, tt.wantHost, tt.wantPort, tt.wantTLS)
			}
		})
	}
}

func TestNewQdrantStore_InvalidURL(t *testing.T) {
	if _, err := NewQdrantStore(QdrantOptions{URL: "://invalid"}); err == nil {
		t.Error("NewQdrantStore() with invalid URL should return error")
	}
}

func TestQdrantStore_GuardsBeforeClientUse(t *testing.T) {
	store := &QdrantStore{}
	ctx := context.Background()

	if err := store.Upsert(ctx, "coral_images", nil); err != nil {
		t.Errorf("Upsert() with no points error = %v, want nil", err)
	}
	if _, err := store.Search(ctx, "coral_images", []float32{1, 0}, 0, nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Search() k=0 error = %v, want ErrInvalidInput", err)
	}
	if err := store.DeleteWhere(ctx, "coral_images", nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("DeleteWhere() without filters error = %v, want ErrInvalidInput", err)
	}
	if err := store.DeleteWhere(ctx, "coral_images", map[string]any{"score": 0.5}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("DeleteWhere() with unsupported filter error = %v, want ErrInvalidInput", err)
	}
}

func TestBuildFilter(t *testing.T) {
	ctx := context.Background()

	if f := buildFilter(ctx, nil); f != nil {
		t.Error("buildFilter(nil) should return nil")
	}

	f := buildFilter(ctx, map[string]any{
		"project_path": "/data/project.coral",
		"image_id":     3,
		"ignored":      1.5,
	})
	if f == nil {
		t.Fatal("buildFilter() returned nil")
	}
	if len(f.Must) != 2 {
		t.Errorf("buildFilter() must conditions = %d, want 2", len(f.Must))
	}

	if f := buildFilter(ctx, map[string]any{"ignored": []int{1}}); f != nil {
		t.Error("buildFilter() with only unsupported values should return nil")
	}
}

func TestVectorSizeOf(t *testing.T) {
	info := &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: 256, Distance: qdrant.Distance_Cosine}),
			},
		},
	}
	if size, ok := vectorSizeOf(info); !ok || size != 256 {
		t.Errorf("vectorSizeOf() = %d, %v, want 256, true", size, ok)
	}
	if _, ok := vectorSizeOf(&qdrant.CollectionInfo{}); ok {
		t.Error("vectorSizeOf() without config should report false")
	}
}

func TestDecodePayload(t *testing.T) {
	got := decodePayload(qdrant.NewValueMap(map[string]any{
		"project_path": "/data/reef.coral",
		"image_id":     7,
		"tags":         []any{"a", "b"},
	}))

	if got["project_path"] != "/data/reef.coral" {
		t.Errorf("project_path = %v", got["project_path"])
	}
	if got["image_id"] != int64(7) {
		t.Errorf("image_id = %#v, want int64(7)", got["image_id"])
	}
	if tags, ok := got["tags"].([]any); !ok || len(tags) != 2 || tags[1] != "b" {
		t.Errorf("tags = %#v", got["tags"])
	}

	if empty := decodePayload(nil); empty == nil || len(empty) != 0 {
		t.Errorf("decodePayload(nil) = %#v, want empty map", empty)
	}
}
