package tensor

import "fmt"

// Embedding is a dense float32 tensor produced once per image by the embedding model.
type Embedding struct {
	Shape []int
	Data  []float32
}

// NumElements returns the product of the shape dimensions.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// MaxElements bounds the size of an embedding read from an archive or a model
// server. Image embeddings are around a million values.
const MaxElements = 1 << 24

// CheckedElements is NumElements for untrusted shapes. It rejects negative
// dimensions and products above MaxElements without overflowing.
func CheckedElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension in shape %v", shape)
		}
		if d != 0 && n > MaxElements/d {
			return 0, fmt.Errorf("shape %v exceeds %d elements", shape, MaxElements)
		}
		n *= d
	}
	return n, nil
}

// Validate checks that the data length matches the shape.
func (e Embedding) Validate() error {
	want, err := CheckedElements(e.Shape)
	if err != nil {
		return err
	}
	if want != len(e.Data) {
		return fmt.Errorf("embedding shape %v needs %d values, got %d", e.Shape, want, len(e.Data))
	}
	return nil
}

// Pool reduces the embedding to one value per channel by averaging over the
// spatial axes. Leading unit axes are skipped, so a [1, 256, 64, 64] image
// embedding pools to 256 values. A one-dimensional embedding is returned as is.
func (e Embedding) Pool() []float32 {
	shape := e.Shape
	for len(shape) > 1 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) == 0 {
		return append([]float32(nil), e.Data...)
	}

	channels := shape[0]
	if channels == 0 {
		return []float32{}
	}
	per := NumElements(shape[1:])
	out := make([]float32, channels)
	if per == 0 {
		return out
	}
	for c := 0; c < channels; c++ {
		var sum float64
		for _, v := range e.Data[c*per : (c+1)*per] {
			sum += float64(v)
		}
		out[c] = float32(sum / float64(per))
	}
	return out
}
