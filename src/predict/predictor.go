package predict

import (
	"context"
	"image"

	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

// Predictor runs the detection model on a single decoded image. Implementations
// must be safe to share between workers once loaded.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) ([]datastructures.Detection, error)
	Close() error
}

// Postprocessor filters or modifies the detections returned by a Predictor.
type Postprocessor func([]datastructures.Detection) []datastructures.Detection

// NewScoreFilter drops detections below the given confidence.
func NewScoreFilter(minConfidence float64) Postprocessor {
	return func(in []datastructures.Detection) []datastructures.Detection {
		out := make([]datastructures.Detection, 0, len(in))
		for _, d := range in {
			if d.Confidence >= minConfidence {
				out = append(out, d)
			}
		}
		return out
	}
}

// WithPostprocessor applies post to every result of p.
func WithPostprocessor(p Predictor, post Postprocessor) Predictor {
	if post == nil {
		return p
	}
	return &postprocessingPredictor{Predictor: p, post: post}
}

type postprocessingPredictor struct {
	Predictor
	post Postprocessor
}

func (p *postprocessingPredictor) Predict(ctx context.Context, img image.Image) ([]datastructures.Detection, error) {
	detections, err := p.Predictor.Predict(ctx, img)
	if err != nil {
		return nil, err
	}
	return p.post(detections), nil
}
