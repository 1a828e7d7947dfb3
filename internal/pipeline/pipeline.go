package pipeline

import (
	"image"
	"image/color"

	"github.com/andresmejia3/faced/internal/detector"
	"github.com/andresmejia3/faced/internal/types"
	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// DefaultStroke is the outline width in pixels.
const DefaultStroke = 2

var (
	// ErrInvalidInput means the grid is missing or has no pixels.
	ErrInvalidInput = errors.New("invalid input image")
	// ErrInvalidConfig means the detection parameters are out of range.
	ErrInvalidConfig = errors.New("invalid detection parameters")
)

// Pipeline runs grayscale conversion, detection and annotation for one image.
// It holds no per-request state, so a single Pipeline is shared by all callers.
type Pipeline struct {
	detector detector.Detector
	stroke   int
}

type Option func(*Pipeline)

// WithStroke overrides the outline width. Values below 1 are ignored.
func WithStroke(px int) Option {
	return func(p *Pipeline) {
		if px > 0 {
			p.stroke = px
		}
	}
}

func New(d detector.Detector, opts ...Option) *Pipeline {
	p := &Pipeline{detector: d, stroke: DefaultStroke}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Detector returns the backend the pipeline runs.
func (p *Pipeline) Detector() detector.Detector { return p.detector }

// Validate checks the parameter ranges the cascade scan accepts. The ranges
// live in detector.ValidateParams; the result is also marked ErrInvalidConfig.
func Validate(params types.Params) error {
	if err := detector.ValidateParams(params.ScaleFactor, params.MinNeighbors); err != nil {
		return errors.WithHint(
			errors.Mark(err, ErrInvalidConfig),
			"scale factor must be in (1.0, 2.0] and min neighbors at least 1",
		)
	}
	return nil
}

// Run detects faces in img and returns them with an annotated copy.
// img is never modified.
func (p *Pipeline) Run(img image.Image, req types.Request) (*types.Result, error) {
	if img == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "empty image (%dx%d)", b.Dx(), b.Dy())
	}
	if err := Validate(req.Params); err != nil {
		return nil, err
	}

	gray := Grayscale(img)
	raw, err := p.detector.Detect(gray, req.Params.ScaleFactor, req.Params.MinNeighbors)
	if err != nil {
		if errors.Is(err, detector.ErrInvalidParams) {
			return nil, errors.Mark(err, ErrInvalidConfig)
		}
		return nil, errors.Wrapf(err, "%s detection failed", p.detector.Name())
	}

	w, h := b.Dx(), b.Dy()
	faces := make([]types.FaceRegion, 0, len(raw))
	for _, f := range raw {
		r := f.Rect().Intersect(image.Rect(0, 0, w, h))
		if r.Empty() {
			continue
		}
		faces = append(faces, types.RegionFromRect(r))
	}

	annotated := imaging.Clone(img)
	c := req.Color
	c.A = 0xff
	for _, f := range faces {
		DrawOutline(annotated, f.Rect(), p.stroke, c)
	}

	return &types.Result{
		Faces:     faces,
		Annotated: annotated,
		Width:     w,
		Height:    h,
	}, nil
}

// Grayscale converts img to an 8-bit luminance grid with a zero origin.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(gray, gray.Bounds(), img, b.Min, xdraw.Src)
	return gray
}

// DrawOutline paints an unfilled rectangle of the given width along the inside
// of r. Pixels outside img are skipped.
func DrawOutline(img *image.NRGBA, r image.Rectangle, width int, c color.NRGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() || width <= 0 {
		return
	}
	w := min(width, r.Dx(), r.Dy())

	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w), c) // top
	fill(img, image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y), c) // bottom
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y), c) // left
	fill(img, image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y), c) // right
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, c.A
			off += 4
		}
	}
}
