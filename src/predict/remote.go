package predict

import (
	"bytes"
	"context"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

// RemotePredictor sends images to an HTTP inference service (e.g. a small
// ultralytics sidecar serving the YOLO weights) and reads back
// {"detections": [{"bbox": [...], "confidence": ..., "class": ...}]}.
type RemotePredictor struct {
	client       *resty.Client
	inferenceURL string
	modelPath    string
}

func NewRemotePredictor(inferenceURL string, modelPath string) *RemotePredictor {
	client := resty.New().
		SetTimeout(60 * time.Second).
		SetHeader("Accept", "application/json")

	return &RemotePredictor{
		client:       client,
		inferenceURL: inferenceURL,
		modelPath:    modelPath,
	}
}

type remoteResponse struct {
	Detections []datastructures.Detection `json:"detections"`
}

func (p *RemotePredictor) Predict(ctx context.Context, img image.Image) ([]datastructures.Detection, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, commons.NewInferenceError(errors.Wrap(err, "couldn't encode frame"))
	}

	var res remoteResponse
	req := p.client.R().
		SetContext(ctx).
		SetFileReader("file", "image.jpg", &buf).
		SetResult(&res)
	if p.modelPath != "" {
		req.SetFormData(map[string]string{"model": p.modelPath})
	}

	resp, err := req.Post(p.inferenceURL)
	if err != nil {
		return nil, commons.NewInferenceError(errors.Wrap(err, "couldn't reach inference service"))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, commons.NewInferenceError(errors.Errorf("inference service answered with status %d", resp.StatusCode()))
	}

	detections := res.Detections
	if detections == nil {
		detections = []datastructures.Detection{}
	}
	return detections, nil
}

// CheckHealth asks the inference service whether it is ready.
func (p *RemotePredictor) CheckHealth(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get(strings.TrimRight(p.inferenceURL, "/") + "/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return errors.Errorf("inference service unhealthy: %d", resp.StatusCode())
	}
	return nil
}

func (p *RemotePredictor) Close() error {
	log.Debug("[Predictor] Closing remote predictor")
	return nil
}
