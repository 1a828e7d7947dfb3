//go:build !gocv

package detector

import (
	"image"

	"github.com/andresmejia3/faced/internal/types"
	"github.com/cockroachdb/errors"
)

// GocvDetector is a placeholder for builds without the gocv tag.
type GocvDetector struct{}

// NewGocvDetector always fails when OpenCV support is not compiled in.
func NewGocvDetector(cfg Config) (*GocvDetector, error) {
	return nil, errors.WithHint(
		errors.Wrap(ErrBackendUnavailable, "gocv"),
		"rebuild with -tags gocv (requires OpenCV) or use detector.backend=pigo",
	)
}

func (d *GocvDetector) Name() string { return "gocv" }

func (d *GocvDetector) Close() error { return nil }

func (d *GocvDetector) Detect(gray *image.Gray, scaleFactor float64, minNeighbors int) ([]types.FaceRegion, error) {
	return nil, errors.Wrap(ErrBackendUnavailable, "gocv")
}
