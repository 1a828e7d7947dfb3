//go:build gocv

package detector

import (
	"image"
	"sync"

	"github.com/andresmejia3/faced/internal/types"
	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"
)

// GocvDetector wraps an OpenCV Haar cascade. The native classifier is not
// safe for concurrent use, so Detect holds mu for the whole scan.
type GocvDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	cfg        Config
}

// NewGocvDetector loads an OpenCV cascade XML such as haarcascade_frontalface_default.xml.
func NewGocvDetector(cfg Config) (*GocvDetector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.Cascade) {
		classifier.Close()
		return nil, errors.WithHint(
			errors.Newf("failed to load cascade classifier %q", cfg.Cascade),
			"set detector.cascade to an OpenCV haarcascade XML file",
		)
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = defaultMinSize
	}
	return &GocvDetector{classifier: classifier, cfg: cfg}, nil
}

func (d *GocvDetector) Name() string { return "gocv" }

func (d *GocvDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}

func (d *GocvDetector) Detect(gray *image.Gray, scaleFactor float64, minNeighbors int) ([]types.FaceRegion, error) {
	if err := ValidateParams(scaleFactor, minNeighbors); err != nil {
		return nil, err
	}
	b := gray.Bounds()
	if b.Empty() {
		return nil, nil
	}

	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert grayscale grid to Mat")
	}
	defer mat.Close()

	maxSize := image.Point{}
	if d.cfg.MaxSize > 0 {
		maxSize = image.Pt(d.cfg.MaxSize, d.cfg.MaxSize)
	}

	d.mu.Lock()
	rects := d.classifier.DetectMultiScaleWithParams(
		mat,
		scaleFactor,
		minNeighbors,
		0,
		image.Pt(d.cfg.MinSize, d.cfg.MinSize),
		maxSize,
	)
	d.mu.Unlock()

	// The Mat is zero-origin; move results into the grid's coordinate space.
	for i := range rects {
		rects[i] = rects[i].Add(b.Min)
	}
	return clampRegions(rects, b), nil
}
