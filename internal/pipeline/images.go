package pipeline

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"

	"coral-lat/internal/apperrors"
)

// loadImage returns the original encoded bytes of an input and the decoded image.
func loadImage(in Input) ([]byte, image.Image, error) {
	var (
		data   []byte
		source string
		err    error
	)
	if in.ImagePath != "" {
		source = in.ImagePath
		data, err = os.ReadFile(in.ImagePath)
	} else {
		source = in.ImageFileName
		data, err = decodeDataURL(in.ImageURL)
	}
	if err != nil {
		return nil, nil, &apperrors.ResourceError{Path: source, Err: err}
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, &apperrors.ResourceError{Path: source, Err: fmt.Errorf("failed to decode image: %w", err)}
	}
	return data, img, nil
}

// decodeDataURL extracts the payload of a base64 data URL.
func decodeDataURL(u string) ([]byte, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("data URL has no payload")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data URL: %w", err)
	}
	return data, nil
}
