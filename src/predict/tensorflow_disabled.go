//go:build !tensorflow

package predict

import "github.com/pkg/errors"

// LoadTensorflowPredictor is only available in binaries built with
// `-tags tensorflow` (libtensorflow has to be installed for that).
func LoadTensorflowPredictor(modelPath string) (Predictor, error) {
	return nil, errors.Errorf("can't load %s: built without tensorflow support", modelPath)
}
