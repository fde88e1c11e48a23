//go:build tensorflow

package predict

import (
	"context"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

// TensorflowPredictor runs a frozen object detection graph exported with the
// TensorFlow object detection API.
type TensorflowPredictor struct {
	graph   *tf.Graph
	session *tf.Session
}

func NewTensorflowPredictor() *TensorflowPredictor {
	return &TensorflowPredictor{}
}

// Load reads the frozen graph. modelPath is either the graph.pb file itself or
// the directory holding it.
func (p *TensorflowPredictor) Load(modelPath string) error {
	if info, err := os.Stat(modelPath); err == nil && info.IsDir() {
		modelPath = filepath.Join(modelPath, "graph.pb")
	}

	// Load the serialized GraphDef from a file.
	model, err := os.ReadFile(modelPath)
	if err != nil {
		log.Debug("[Predictor] Couldn't read model: ", err.Error())
		return errors.Wrap(err, "couldn't read model")
	}

	// Construct an in-memory graph from the serialized form.
	p.graph = tf.NewGraph()
	if err := p.graph.Import(model, ""); err != nil {
		log.Debug("[Predictor] Couldn't construct graph: ", err.Error())
		return errors.Wrap(err, "couldn't construct graph")
	}

	// Create a session for inference over graph.
	p.session, err = tf.NewSession(p.graph, nil)
	if err != nil {
		log.Debug("[Predictor] Couldn't start session: ", err.Error())
		return errors.Wrap(err, "couldn't start session")
	}
	return nil
}

func (p *TensorflowPredictor) Predict(ctx context.Context, img image.Image) ([]datastructures.Detection, error) {
	if p.session == nil {
		return nil, commons.NewInferenceError(errors.New("model not loaded"))
	}
	if err := ctx.Err(); err != nil {
		return nil, commons.NewInferenceError(err)
	}

	tensor, err := makeTensorFromImage(img)
	if err != nil {
		log.Debug("[Predictor] Couldn't create tensor from image: ", err.Error())
		return nil, commons.NewInferenceError(err)
	}

	// Session.Run may be called concurrently, so a single loaded graph is
	// shared by all workers.
	output, err := p.session.Run(
		map[tf.Output]*tf.Tensor{
			p.graph.Operation("image_tensor").Output(0): tensor,
		},
		[]tf.Output{
			p.graph.Operation("detection_boxes").Output(0),
			p.graph.Operation("detection_scores").Output(0),
			p.graph.Operation("detection_classes").Output(0),
			p.graph.Operation("num_detections").Output(0),
		},
		nil)
	if err != nil {
		log.Debug("[Predictor] Couldn't run detection: ", err.Error())
		return nil, commons.NewInferenceError(err)
	}

	boxes := output[0].Value().([][][]float32)[0]
	scores := output[1].Value().([][]float32)[0]
	classes := output[2].Value().([][]float32)[0]
	num := int(output[3].Value().([]float32)[0])

	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())

	detections := make([]datastructures.Detection, 0, num)
	for i := 0; i < num && i < len(boxes); i++ {
		// boxes are normalized [ymin, xmin, ymax, xmax]
		box := boxes[i]
		detections = append(detections, datastructures.Detection{
			BBox: [4]float64{
				float64(box[1]) * w,
				float64(box[0]) * h,
				float64(box[3]) * w,
				float64(box[2]) * h,
			},
			Confidence: float64(scores[i]),
			// label maps of the object detection API start at 1
			Class: int(classes[i]) - 1,
		})
	}
	return detections, nil
}

func (p *TensorflowPredictor) Close() error {
	if p.session == nil {
		return nil
	}
	return p.session.Close()
}

// makeTensorFromImage turns img into the uint8 [1, height, width, 3] batch
// the object detection graphs expect.
func makeTensorFromImage(img image.Image) (*tf.Tensor, error) {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()

	batch := make([][][][]uint8, 1)
	batch[0] = make([][][]uint8, h)
	for y := 0; y < h; y++ {
		row := make([][]uint8, w)
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			row[x] = []uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
		}
		batch[0][y] = row
	}
	return tf.NewTensor(batch)
}

// LoadTensorflowPredictor builds and loads the in-process predictor.
func LoadTensorflowPredictor(modelPath string) (Predictor, error) {
	p := NewTensorflowPredictor()
	if err := p.Load(modelPath); err != nil {
		return nil, err
	}
	return p, nil
}
