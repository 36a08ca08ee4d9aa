package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/contextutil"
	"coral-lat/internal/geometry"
	"coral-lat/internal/tensor"
)

// ModelRequest is the payload sent to the model server for both endpoints.
type ModelRequest struct {
	Model string `json:"model"`
	// Image is a base64 encoded PNG.
	Image string `json:"image"`
}

// EmbeddingResponse is the response of the embedding endpoint.
type EmbeddingResponse struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// MaskData is one mask in the response of the segmentation endpoint.
type MaskData struct {
	Segmentation geometry.RLE `json:"segmentation"`
	PredictedIoU *float64     `json:"predicted_iou"`
	BBox         [4]float64   `json:"bbox"`
	Area         int          `json:"area"`
}

// MasksResponse is the response of the segmentation endpoint.
type MasksResponse struct {
	Masks []MaskData `json:"masks"`
}

// EmbeddingClient calls the embedding endpoint of a model server.
// It implements Embedder.
type EmbeddingClient struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
}

// NewEmbeddingClient creates a new embedding client.
func NewEmbeddingClient(baseURL, apiKey, model string) *EmbeddingClient {
	return &EmbeddingClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		client:  http.DefaultClient,
	}
}

// GenerateEmbedding returns the embedding tensor for img.
func (c *EmbeddingClient) GenerateEmbedding(ctx context.Context, img image.Image) (tensor.Embedding, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	var resp EmbeddingResponse
	if err := postImage(ctx, c.client, c.BaseURL+"/v1/embeddings", c.APIKey, c.Model, img, &resp); err != nil {
		return tensor.Embedding{}, err
	}

	emb := tensor.Embedding{Shape: resp.Shape, Data: resp.Data}
	if err := emb.Validate(); err != nil {
		return tensor.Embedding{}, fmt.Errorf("%w: %v", apperrors.ErrExternalService, err)
	}

	logger.DebugContext(ctx, "generated embedding", "model", c.Model, "shape", resp.Shape, "duration", time.Since(start))
	return emb, nil
}

// SegmentationClient calls the automatic mask generation endpoint of a model server.
// It implements Segmenter.
type SegmentationClient struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
}

// NewSegmentationClient creates a new segmentation client.
func NewSegmentationClient(baseURL, apiKey, model string) *SegmentationClient {
	return &SegmentationClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		client:  http.DefaultClient,
	}
}

// GenerateMaskCandidates returns the decoded mask proposals for img.
func (c *SegmentationClient) GenerateMaskCandidates(ctx context.Context, img image.Image) ([]Candidate, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	var resp MasksResponse
	if err := postImage(ctx, c.client, c.BaseURL+"/v1/masks", c.APIKey, c.Model, img, &resp); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	candidates := make([]Candidate, 0, len(resp.Masks))
	for i, md := range resp.Masks {
		mask, err := geometry.Decode(md.Segmentation)
		if err != nil {
			return nil, fmt.Errorf("%w: mask %d: %v", apperrors.ErrExternalService, i, err)
		}
		if mask.Height != bounds.Dy() || mask.Width != bounds.Dx() {
			return nil, fmt.Errorf("%w: mask %d is %dx%d, image is %dx%d",
				apperrors.ErrExternalService, i, mask.Height, mask.Width, bounds.Dy(), bounds.Dx())
		}
		candidates = append(candidates, Candidate{
			Mask:       mask,
			Confidence: md.PredictedIoU,
			BBox:       md.BBox,
			Area:       md.Area,
		})
	}

	logger.DebugContext(ctx, "generated mask candidates", "model", c.Model, "count", len(candidates), "duration", time.Since(start))
	return candidates, nil
}

// postImage sends img as a PNG to url and decodes the JSON response into out.
func postImage(ctx context.Context, client *http.Client, url, apiKey, model string, img image.Image, out any) error {
	var png bytes.Buffer
	if err := imaging.Encode(&png, img, imaging.PNG); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	body, err := json.Marshal(ModelRequest{
		Model: model,
		Image: base64.StdEncoding.EncodeToString(png.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to send request: %v", apperrors.ErrExternalService, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: bad status %d: %s", apperrors.ErrExternalService, resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", apperrors.ErrExternalService, err)
	}
	return nil
}
