package detector

import (
	"image"
	"math"

	"github.com/andresmejia3/faced/internal/types"
	"github.com/cockroachdb/errors"
)

var (
	// ErrUnknownBackend is returned by New for a backend name it does not know.
	ErrUnknownBackend = errors.New("unknown detector backend")
	// ErrBackendUnavailable means the backend exists but was not compiled in.
	ErrBackendUnavailable = errors.New("detector backend unavailable")
	// ErrInvalidParams is returned when scale factor or min neighbors are out of range.
	ErrInvalidParams = errors.New("invalid detector parameters")
)

// Detector finds face regions in a grayscale grid.
// Implementations must only return regions inside gray.Bounds().
type Detector interface {
	Detect(gray *image.Gray, scaleFactor float64, minNeighbors int) ([]types.FaceRegion, error)
	Name() string
	Close() error
}

// Config selects and tunes a backend.
type Config struct {
	Backend     string
	Cascade     string  // path to the classifier model
	MinSize     int     // smallest window side in pixels
	MaxSize     int     // largest window side, 0 means min(W, H)
	ShiftFactor float64 // window stride as a fraction of the window side
	MinQuality  float64 // raw detections at or below this score are ignored
}

// New creates a detector based on cfg.Backend.
func New(cfg Config) (Detector, error) {
	switch cfg.Backend {
	case "pigo", "":
		d, err := NewPigoDetector(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "gocv":
		d, err := NewGocvDetector(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Backend)
	}
}

// ValidateParams rejects values the cascade scan cannot work with.
func ValidateParams(scaleFactor float64, minNeighbors int) error {
	if math.IsNaN(scaleFactor) || scaleFactor <= 1.0 || scaleFactor > 2.0 {
		return errors.Wrapf(ErrInvalidParams, "scale factor %v outside (1.0, 2.0]", scaleFactor)
	}
	if minNeighbors < 1 {
		return errors.Wrapf(ErrInvalidParams, "min neighbors %d below 1", minNeighbors)
	}
	return nil
}

// clampRegions intersects every rect with bounds, shifts it to a zero origin
// and drops whatever ends up empty.
func clampRegions(rects []image.Rectangle, bounds image.Rectangle) []types.FaceRegion {
	faces := make([]types.FaceRegion, 0, len(rects))
	for _, r := range rects {
		r = r.Intersect(bounds)
		if r.Empty() {
			continue
		}
		faces = append(faces, types.RegionFromRect(r.Sub(bounds.Min)))
	}
	return faces
}
