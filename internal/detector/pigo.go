package detector

import (
	"image"
	"math"
	"os"

	"github.com/andresmejia3/faced/internal/types"
	"github.com/cockroachdb/errors"
	pigo "github.com/esimov/pigo/core"
)

const (
	defaultMinSize     = 20
	defaultShiftFactor = 0.1
)

// PigoDetector runs the pure Go PICO cascade. The unpacked classifier is only
// read after construction, so one instance serves concurrent callers.
type PigoDetector struct {
	classifier *pigo.Pigo
	cfg        Config
}

// NewPigoDetector loads the cascade file named by cfg.Cascade.
func NewPigoDetector(cfg Config) (*PigoDetector, error) {
	data, err := os.ReadFile(cfg.Cascade)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "failed to read cascade file %q", cfg.Cascade),
			"set detector.cascade (or FACED_DETECTOR_CASCADE) to a pigo facefinder file",
		)
	}
	return NewPigoDetectorFromBytes(data, cfg)
}

// NewPigoDetectorFromBytes unpacks an in-memory cascade.
func NewPigoDetectorFromBytes(data []byte, cfg Config) (*PigoDetector, error) {
	classifier, err := unpack(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack cascade")
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = defaultMinSize
	}
	if cfg.ShiftFactor <= 0 {
		cfg.ShiftFactor = defaultShiftFactor
	}
	return &PigoDetector{classifier: classifier, cfg: cfg}, nil
}

func (d *PigoDetector) Name() string { return "pigo" }

func (d *PigoDetector) Close() error { return nil }

// Detect scans every window size of the schedule, then groups the raw hits.
func (d *PigoDetector) Detect(gray *image.Gray, scaleFactor float64, minNeighbors int) ([]types.FaceRegion, error) {
	if err := ValidateParams(scaleFactor, minNeighbors); err != nil {
		return nil, err
	}
	b := gray.Bounds()
	cols, rows := b.Dx(), b.Dy()
	if cols == 0 || rows == 0 {
		return nil, nil
	}

	maxSize := min(cols, rows)
	if d.cfg.MaxSize > 0 && d.cfg.MaxSize < maxSize {
		maxSize = d.cfg.MaxSize
	}

	img := pigo.ImageParams{
		Pixels: grayPixels(gray),
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}

	var raw []image.Rectangle
	for _, size := range windowSizes(d.cfg.MinSize, maxSize, scaleFactor) {
		// MinSize == MaxSize with a growth of 2 makes RunCascade do exactly one pass.
		dets := d.classifier.RunCascade(pigo.CascadeParams{
			MinSize:     size,
			MaxSize:     size,
			ShiftFactor: d.cfg.ShiftFactor,
			ScaleFactor: 2.0,
			ImageParams: img,
		}, 0.0)
		for _, det := range dets {
			if float64(det.Q) <= d.cfg.MinQuality {
				continue
			}
			x := det.Col - det.Scale/2
			y := det.Row - det.Scale/2
			raw = append(raw, image.Rect(x, y, x+det.Scale, y+det.Scale).Add(b.Min))
		}
	}

	grouped := GroupRectangles(raw, minNeighbors, DefaultGroupEps)
	return clampRegions(grouped, b), nil
}

// unpack indexes into the packet without bounds checks, so truncated or
// foreign files surface as a panic inside pigo.
func unpack(data []byte) (classifier *pigo.Pigo, err error) {
	if len(data) < 16 {
		return nil, errors.Newf("cascade packet too short (%d bytes)", len(data))
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("corrupt cascade packet: %v", r)
		}
	}()
	return pigo.NewPigo().Unpack(data)
}

// windowSizes returns minSize * scaleFactor^k rounded to whole pixels, without
// repeats, up to maxSize.
func windowSizes(minSize, maxSize int, scaleFactor float64) []int {
	var sizes []int
	for f := float64(minSize); ; f *= scaleFactor {
		size := int(math.Round(f))
		if size > maxSize {
			break
		}
		if len(sizes) == 0 || sizes[len(sizes)-1] != size {
			sizes = append(sizes, size)
		}
	}
	return sizes
}

// grayPixels returns the grid as one contiguous row-major slice.
func grayPixels(gray *image.Gray) []uint8 {
	b := gray.Bounds()
	cols, rows := b.Dx(), b.Dy()
	start := gray.PixOffset(b.Min.X, b.Min.Y)
	if gray.Stride == cols {
		return gray.Pix[start : start+rows*cols]
	}
	out := make([]uint8, 0, rows*cols)
	for y := 0; y < rows; y++ {
		off := start + y*gray.Stride
		out = append(out, gray.Pix[off:off+cols]...)
	}
	return out
}
