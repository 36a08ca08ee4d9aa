package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/geometry"
)

func testImage(w, h int) image.Image {
	return image.NewNRGBA(image.Rect(0, 0, w, h))
}

func TestNewEmbeddingClient(t *testing.T) {
	client := NewEmbeddingClient("http://localhost:8090", "test-key", "vit_b")
	if client == nil {
		t.Fatal("NewEmbeddingClient() returned nil")
	}
	if client.BaseURL != "http://localhost:8090" {
		t.Errorf("NewEmbeddingClient() BaseURL = %v, want http://localhost:8090", client.BaseURL)
	}
	if client.Model != "vit_b" {
		t.Errorf("NewEmbeddingClient() Model = %v, want vit_b", client.Model)
	}
}

func TestEmbeddingClient_GenerateEmbedding(t *testing.T) {
	tests := []struct {
		name       string
		serverResp func(w http.ResponseWriter, r *http.Request)
		wantErr    bool
		wantShape  []int
	}{
		{
			name: "successful embedding",
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				if r.URL.Path != "/v1/embeddings" {
					t.Errorf("expected /v1/embeddings, got %s", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
					t.Errorf("Authorization = %q, want Bearer test-key", got)
				}
				var req ModelRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("failed to decode request: %v", err)
				}
				if _, err := base64.StdEncoding.DecodeString(req.Image); err != nil || req.Image == "" {
					t.Errorf("request image is not base64: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(EmbeddingResponse{
					Shape: []int{1, 2, 2},
					Data:  []float32{1, 2, 3, 4},
				})
			},
			wantShape: []int{1, 2, 2},
		},
		{
			name: "shape mismatch",
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(EmbeddingResponse{Shape: []int{3}, Data: []float32{1}})
			},
			wantErr: true,
		},
		{
			name: "server error",
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("model not loaded"))
			},
			wantErr: true,
		},
		{
			name: "invalid json",
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResp))
			defer server.Close()

			client := NewEmbeddingClient(server.URL, "test-key", "vit_b")
			emb, err := client.GenerateEmbedding(context.Background(), testImage(4, 3))

			if tt.wantErr {
				if err == nil {
					t.Fatal("GenerateEmbedding() expected error, got nil")
				}
				if !errors.Is(err, apperrors.ErrExternalService) {
					t.Errorf("GenerateEmbedding() error = %v, want ErrExternalService", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateEmbedding() unexpected error: %v", err)
			}
			if len(emb.Shape) != len(tt.wantShape) {
				t.Errorf("GenerateEmbedding() shape = %v, want %v", emb.Shape, tt.wantShape)
			}
		})
	}
}

func TestSegmentationClient_GenerateMaskCandidates(t *testing.T) {
	mask := geometry.NewMask(3, 4)
	mask.Set(1, 1, true)
	mask.Set(1, 2, true)
	conf := 0.93

	tests := []struct {
		name       string
		masks      []MaskData
		wantErr    bool
		wantCount  int
		wantNilIoU bool
	}{
		{
			name: "decodes masks",
			masks: []MaskData{
				{Segmentation: geometry.Encode(mask), PredictedIoU: &conf, BBox: [4]float64{1, 1, 2, 1}, Area: 2},
			},
			wantCount: 1,
		},
		{
			name:       "missing confidence is preserved as nil",
			masks:      []MaskData{{Segmentation: geometry.Encode(mask), Area: 2}},
			wantCount:  1,
			wantNilIoU: true,
		},
		{
			name:      "no masks",
			masks:     []MaskData{},
			wantCount: 0,
		},
		{
			name:    "size mismatch",
			masks:   []MaskData{{Segmentation: geometry.Encode(geometry.NewMask(5, 5))}},
			wantErr: true,
		},
		{
			name:    "corrupt rle",
			masks:   []MaskData{{Segmentation: geometry.RLE{Size: [2]int{3, 4}, Counts: "~"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/masks" {
					t.Errorf("expected /v1/masks, got %s", r.URL.Path)
				}
				_ = json.NewEncoder(w).Encode(MasksResponse{Masks: tt.masks})
			}))
			defer server.Close()

			client := NewSegmentationClient(server.URL, "", "vit_b_coralscop")
			got, err := client.GenerateMaskCandidates(context.Background(), testImage(4, 3))

			if tt.wantErr {
				if err == nil {
					t.Error("GenerateMaskCandidates() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateMaskCandidates() unexpected error: %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("GenerateMaskCandidates() count = %d, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount == 0 {
				return
			}
			if !got[0].Mask.Equal(mask) {
				t.Error("GenerateMaskCandidates() mask does not match the encoded one")
			}
			if (got[0].Confidence == nil) != tt.wantNilIoU {
				t.Errorf("GenerateMaskCandidates() confidence = %v, wantNil %v", got[0].Confidence, tt.wantNilIoU)
			}
		})
	}
}
