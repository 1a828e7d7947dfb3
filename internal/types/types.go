package types

import (
	"image"
	"image/color"
)

// FaceRegion is an axis-aligned face box in pixel-grid coordinates.
type FaceRegion struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// RegionFromRect converts an image.Rectangle into a FaceRegion.
func RegionFromRect(r image.Rectangle) FaceRegion {
	return FaceRegion{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect returns the region as an image.Rectangle.
func (f FaceRegion) Rect() image.Rectangle {
	return image.Rect(f.X, f.Y, f.X+f.Width, f.Y+f.Height)
}

// Within reports whether the region is non-empty and fits inside a W x H grid.
func (f FaceRegion) Within(width, height int) bool {
	return f.X >= 0 && f.Y >= 0 && f.Width > 0 && f.Height > 0 &&
		f.X+f.Width <= width && f.Y+f.Height <= height
}

// Params are the per-invocation detector settings.
type Params struct {
	ScaleFactor  float64 `json:"scale_factor" yaml:"scale_factor"`
	MinNeighbors int     `json:"min_neighbors" yaml:"min_neighbors"`
}

// Request bundles everything one pipeline invocation needs besides the image.
type Request struct {
	Params Params
	Color  color.NRGBA // RGB order, alpha ignored
}

// Result is what the pipeline hands back to presentation.
type Result struct {
	Faces     []FaceRegion
	Annotated *image.NRGBA
	Width     int
	Height    int
}
