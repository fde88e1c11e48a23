package video

import (
	"context"
	"image"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

// StreamInfo describes the geometry and timing of a video stream.
type StreamInfo struct {
	Width  int
	Height int
	// FrameRate is the rate as ffprobe reports it, e.g. "30000/1001".
	FrameRate string
}

// FrameSource yields decoded frames in stream order. Next returns io.EOF
// after the last frame.
type FrameSource interface {
	Info() StreamInfo
	Next() (image.Image, error)
	Close() error
}

type FrameSink interface {
	Write(img image.Image) error
	Close() error
}

type DetectFunc func(ctx context.Context, img image.Image) ([]datastructures.Detection, error)

type Annotator interface {
	Annotate(img image.Image, detections []datastructures.Detection) image.Image
}

// Aggregate is everything collected while walking through a stream.
type Aggregate struct {
	Frames     []datastructures.FrameDetections
	Detections []datastructures.Detection
	// Truncated is set when decoding stopped before the end of the stream.
	// Cause holds the decode error in that case.
	Truncated bool
	Cause     error
}

type Aggregator struct {
	detect    DetectFunc
	annotator Annotator
	// OnFrame, if set, is called after every frame written to the sink.
	OnFrame func(frame int, detections []datastructures.Detection)
}

func NewAggregator(detect DetectFunc, annotator Annotator) *Aggregator {
	return &Aggregator{detect: detect, annotator: annotator}
}

// Process runs detection on every frame of src, starting at index 0, and
// writes the annotated frames to sink. Neither src nor sink is closed.
func (a *Aggregator) Process(ctx context.Context, src FrameSource, sink FrameSink) (Aggregate, error) {
	agg := Aggregate{
		Frames:     []datastructures.FrameDetections{},
		Detections: []datastructures.Detection{},
	}

	for frame := 0; ; frame++ {
		if err := ctx.Err(); err != nil {
			return agg, err
		}

		img, err := src.Next()
		if err == io.EOF {
			return agg, nil
		}
		if err != nil {
			if frame == 0 {
				return agg, commons.NewMediaFormatError("couldn't decode video", err)
			}
			log.Info("[Video] Decoding stopped after ", frame, " frames: ", err.Error())
			agg.Truncated = true
			agg.Cause = err
			return agg, nil
		}

		detections, err := a.detect(ctx, img)
		if err != nil {
			return agg, commons.NewInferenceError(errors.Wrapf(err, "frame %d", frame))
		}
		if detections == nil {
			detections = []datastructures.Detection{}
		}

		if err := sink.Write(a.annotator.Annotate(img, detections)); err != nil {
			return agg, errors.Wrapf(err, "couldn't write frame %d", frame)
		}

		agg.Frames = append(agg.Frames, datastructures.FrameDetections{Frame: frame, Detections: detections})
		agg.Detections = append(agg.Detections, detections...)
		if a.OnFrame != nil {
			a.OnFrame(frame, detections)
		}
	}
}
