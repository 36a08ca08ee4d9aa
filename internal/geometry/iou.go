package geometry

// IoU returns |a∩b| / |a∪b|. Two empty masks, or masks of different shapes, score 0.
func IoU(a, b *Mask) float64 {
	if !a.SameShape(b) {
		return 0
	}
	inter := intersection(a, b)
	union := a.Area() + b.Area() - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// IoUMatrix returns the symmetric N×N matrix of pairwise IoU values.
// The diagonal is 1 for non-empty masks and 0 for empty ones.
//
// Cost is O(N²·H·W/64): every pair is intersected word by word. This is fine for
// the low hundreds of candidates a segmenter emits per image and becomes the
// dominant cost well before a few thousand.
func IoUMatrix(masks []*Mask) [][]float64 {
	n := len(masks)
	areas := make([]int, n)
	for i, m := range masks {
		areas[i] = m.Area()
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		if areas[i] > 0 {
			out[i][i] = 1
		}
		for j := i + 1; j < n; j++ {
			if !masks[i].SameShape(masks[j]) {
				continue
			}
			inter := intersection(masks[i], masks[j])
			union := areas[i] + areas[j] - inter
			if union == 0 {
				continue
			}
			v := float64(inter) / float64(union)
			out[i][j] = v
			out[j][i] = v
		}
	}
	return out
}
