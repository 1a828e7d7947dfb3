package imageio

import (
	"bytes"
	"encoding/hex"
	"image"
	"image/color"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	// Registers WebP with image.Decode; some browsers capture camera frames as WebP.
	_ "golang.org/x/image/webp"
)

const (
	// DownloadName is the file name offered for the annotated image.
	DownloadName = "detected_faces.jpg"
	// DownloadMIME is the content type of the annotated image.
	DownloadMIME = "image/jpeg"
	// DefaultJPEGQuality is used when no quality is configured.
	DefaultJPEGQuality = 95
	// DefaultMaxPixels caps width*height when a Decoder leaves MaxPixels at 0.
	DefaultMaxPixels = 50_000_000
)

var (
	// ErrNoInput means there was nothing to decode. Callers treat it as "nothing to do".
	ErrNoInput = errors.New("no input image")
	// ErrDecodeFailure means the bytes are not an image we can read.
	ErrDecodeFailure = errors.New("could not decode image")
	// ErrInvalidColor is returned by ParseHexColor.
	ErrInvalidColor = errors.New("invalid color")
)

// Decoder turns uploaded bytes into an opaque RGB grid.
type Decoder struct {
	// MaxSide downscales images whose longer side is larger. 0 disables it.
	MaxSide int
	// MaxPixels rejects images whose header declares more pixels, before any
	// pixel data is allocated. 0 means DefaultMaxPixels.
	MaxPixels int
}

// Decode reads a JPEG, PNG or WebP image, applies EXIF orientation, flattens
// transparency onto white and returns the grid with the detected format name.
func (d Decoder) Decode(data []byte) (*image.NRGBA, string, error) {
	if len(data) == 0 {
		return nil, "", ErrNoInput
	}

	header, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", decodeFailure(err)
	}
	if err := d.checkDimensions(header.Width, header.Height); err != nil {
		return nil, "", err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", decodeFailure(err)
	}
	grid := flatten(img)
	if d.MaxSide > 0 {
		grid = downscale(grid, d.MaxSide)
	}
	return grid, format, nil
}

func (d Decoder) checkDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return decodeFailure(errors.Newf("image has no pixels (%dx%d)", w, h))
	}
	limit := int64(d.MaxPixels)
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if int64(w)*int64(h) > limit {
		return errors.WithHint(
			errors.Mark(errors.Newf("image is %dx%d, above the %d pixel limit", w, h, limit), ErrDecodeFailure),
			"resize the image or raise image.max_pixels",
		)
	}
	return nil
}

func decodeFailure(err error) error {
	return errors.WithHint(
		errors.Mark(errors.Wrap(err, "decode"), ErrDecodeFailure),
		"upload a JPEG, PNG or WebP image",
	)
}

// flatten composites img over an opaque white canvas with a zero origin.
func flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return imaging.Clone(img)
	}
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func downscale(img *image.NRGBA, maxSide int) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	longest := max(w, h)
	if longest <= maxSide {
		return img
	}
	nw := max(1, w*maxSide/longest)
	nh := max(1, h*maxSide/longest)
	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// ParseHexColor accepts "#RRGGBB" or "RRGGBB" in either case.
func ParseHexColor(s string) (color.NRGBA, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(raw) != 6 {
		return color.NRGBA{}, errors.WithHint(
			errors.Wrapf(ErrInvalidColor, "%q", s),
			"use a six digit hex color such as #00FF00",
		)
	}
	rgb, err := hex.DecodeString(raw)
	if err != nil {
		return color.NRGBA{}, errors.WithHint(
			errors.Wrapf(ErrInvalidColor, "%q", s),
			"use a six digit hex color such as #00FF00",
		)
	}
	return color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xff}, nil
}

// FormatHexColor renders c as "#RRGGBB".
func FormatHexColor(c color.NRGBA) string {
	return "#" + strings.ToUpper(hex.EncodeToString([]byte{c.R, c.G, c.B}))
}

// EncodeJPEG writes img as a JPEG. quality is clamped to [1, 100].
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	quality = min(max(quality, 1), 100)
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return errors.Wrap(err, "failed to encode jpeg")
	}
	return nil
}
