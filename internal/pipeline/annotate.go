package pipeline

import (
	"context"

	"coral-lat/internal/contextutil"
	"coral-lat/internal/geometry"
	"coral-lat/internal/inference"
	"coral-lat/internal/maskfilter"
	"coral-lat/internal/project"
)

// annotate numbers raw candidates by their position, drops the ones without a
// confidence, filters the rest and turns the survivors into annotations of imageID.
func annotate(ctx context.Context, imageID int, raw []inference.Candidate, th maskfilter.Thresholds) []project.Annotation {
	candidates := make([]maskfilter.Candidate, 0, len(raw))
	for i, c := range raw {
		if c.Confidence == nil || c.Mask == nil {
			continue
		}
		candidates = append(candidates, maskfilter.Candidate{ID: i, Mask: c.Mask, Confidence: *c.Confidence})
	}
	if dropped := len(raw) - len(candidates); dropped > 0 {
		contextutil.LoggerFromContext(ctx).DebugContext(ctx, "dropped unscored mask candidates", "image_id", imageID, "dropped", dropped)
	}

	kept := maskfilter.Filter(ctx, candidates, th)

	anns := make([]project.Annotation, 0, len(kept))
	for _, k := range kept {
		src := raw[k.ID]
		area := src.Area
		if area == 0 {
			area = k.Mask.Area()
		}
		bbox := src.BBox
		if bbox == ([4]float64{}) {
			bbox = k.Mask.BBox().XYWH()
		}
		anns = append(anns, project.Annotation{
			ID:           k.ID,
			ImageID:      imageID,
			Segmentation: geometry.Encode(k.Mask),
			BBox:         bbox,
			Area:         area,
			CategoryID:   project.CategoryUndefinedCoral,
			IsCrowd:      0,
			PredictedIoU: k.Confidence,
		})
	}
	return anns
}
