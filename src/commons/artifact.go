package commons

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// NewArtifactName returns prefix_<random hex><ext>, e.g.
// processed_3f2a...c1.jpg.
func NewArtifactName(prefix string, ext string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", errors.Wrap(err, "couldn't generate artifact name")
	}
	return fmt.Sprintf("%s_%x%s", prefix, id.Bytes(), ext), nil
}

// ArtifactPath joins name onto dir and makes sure the result doesn't escape dir.
func ArtifactPath(dir, name string) string {
	return filepath.Join(dir, filepath.Base(name))
}
