package maskfilter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/contextutil"
	"coral-lat/internal/geometry"
)

// Thresholds are the per-run knobs of the filter.
type Thresholds struct {
	// MinAreaFraction is the minimum mask area as a fraction of the image area.
	MinAreaFraction float64 `json:"minArea"`
	// MinConfidence is the minimum model-predicted quality score.
	MinConfidence float64 `json:"minConfidence"`
	// MaxIoU is the overlap above which the smaller of two masks is a duplicate.
	MaxIoU float64 `json:"maxIOU"`
}

// Validate checks that every threshold lies in [0, 1].
func (t Thresholds) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"minArea", t.MinAreaFraction},
		{"minConfidence", t.MinConfidence},
		{"maxIOU", t.MaxIoU},
	}
	for _, f := range fields {
		if f.value < 0 || f.value > 1 {
			return &apperrors.ValidationError{Field: f.name, Message: fmt.Sprintf("must be within [0, 1], got %v", f.value)}
		}
	}
	return nil
}

// Candidate is one mask proposal with the stable id it was given before filtering.
type Candidate struct {
	ID         int
	Mask       *geometry.Mask
	Confidence float64
}

// IDSet is a set of candidate ids.
type IDSet map[int]struct{}

// Has reports whether id is in the set.
func (s IDSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Filter keeps the candidates that pass the area, confidence, and overlap predicates.
// Each predicate is evaluated against the full candidate list and the surviving id
// sets are intersected, so a mask suppressed for overlap stays suppressed even if the
// mask that suppressed it fails another predicate. Output preserves input order.
func Filter(ctx context.Context, candidates []Candidate, th Thresholds) []Candidate {
	logger := contextutil.LoggerFromContext(ctx)
	if len(candidates) == 0 {
		return nil
	}

	start := time.Now()
	byArea := ByArea(candidates, th.MinAreaFraction)
	byConfidence := ByConfidence(candidates, th.MinConfidence)
	byOverlap := ByOverlap(candidates, th.MaxIoU)

	kept := make([]Candidate, 0, len(byOverlap))
	for _, c := range candidates {
		if byArea.Has(c.ID) && byConfidence.Has(c.ID) && byOverlap.Has(c.ID) {
			kept = append(kept, c)
		}
	}

	logger.DebugContext(ctx, "filtered masks",
		"candidates", len(candidates),
		"by_area", len(byArea),
		"by_confidence", len(byConfidence),
		"by_overlap", len(byOverlap),
		"kept", len(kept),
		"min_area", th.MinAreaFraction,
		"min_confidence", th.MinConfidence,
		"max_iou", th.MaxIoU,
		"duration", time.Since(start),
	)
	return kept
}

// ByArea keeps ids whose mask covers at least minFraction of the image.
// The image area is taken from the first candidate's grid size.
func ByArea(candidates []Candidate, minFraction float64) IDSet {
	out := make(IDSet, len(candidates))
	if len(candidates) == 0 {
		return out
	}
	minArea := float64(candidates[0].Mask.Size()) * minFraction
	for _, c := range candidates {
		if float64(c.Mask.Area()) >= minArea {
			out[c.ID] = struct{}{}
		}
	}
	return out
}

// ByConfidence keeps ids whose predicted confidence is at least minConfidence.
func ByConfidence(candidates []Candidate, minConfidence float64) IDSet {
	out := make(IDSet, len(candidates))
	for _, c := range candidates {
		if c.Confidence >= minConfidence {
			out[c.ID] = struct{}{}
		}
	}
	return out
}

// ByOverlap performs greedy duplicate suppression. Candidates are visited largest
// area first (ties by ascending id); each unsuppressed candidate is kept and
// suppresses every other candidate whose IoU with it is strictly above maxIoU.
// The larger mask always wins, whatever the confidences.
func ByOverlap(candidates []Candidate, maxIoU float64) IDSet {
	out := make(IDSet, len(candidates))
	n := len(candidates)
	if n == 0 {
		return out
	}

	masks := make([]*geometry.Mask, n)
	areas := make([]int, n)
	for i, c := range candidates {
		masks[i] = c.Mask
		areas[i] = c.Mask.Area()
	}
	iou := geometry.IoUMatrix(masks)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if areas[i] != areas[j] {
			return areas[i] > areas[j]
		}
		return candidates[i].ID < candidates[j].ID
	})

	suppressed := make([]bool, n)
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		out[candidates[i].ID] = struct{}{}
		for j := 0; j < n; j++ {
			if j != i && iou[i][j] > maxIoU {
				suppressed[j] = true
			}
		}
	}
	return out
}
