package detector

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jitter returns n windows of side size around (x, y), each shifted by at most one pixel.
func jitter(x, y, size, n int) []image.Rectangle {
	offsets := []image.Point{{0, 0}, {1, 0}, {0, 1}, {-1, 0}, {0, -1}, {1, 1}, {-1, -1}, {1, -1}, {-1, 1}}
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		o := offsets[i%len(offsets)]
		out = append(out, image.Rect(x+o.X, y+o.Y, x+o.X+size, y+o.Y+size))
	}
	return out
}

func TestGroupRectangles_Empty(t *testing.T) {
	assert.Empty(t, GroupRectangles(nil, 1, DefaultGroupEps))
}

func TestGroupRectangles_MergesCluster(t *testing.T) {
	raw := jitter(100, 50, 40, 6)

	got := GroupRectangles(raw, 3, DefaultGroupEps)
	require.Len(t, got, 1)

	r := got[0]
	assert.InDelta(t, 100, r.Min.X, 1)
	assert.InDelta(t, 50, r.Min.Y, 1)
	assert.Equal(t, 40, r.Dx())
	assert.Equal(t, 40, r.Dy())
}

func TestGroupRectangles_ThresholdIsStrict(t *testing.T) {
	raw := jitter(10, 10, 30, 5)

	// Five members survive a threshold of four but not of five.
	assert.Len(t, GroupRectangles(raw, 4, DefaultGroupEps), 1)
	assert.Empty(t, GroupRectangles(raw, 5, DefaultGroupEps))
}

func TestGroupRectangles_SeparateClustersKeepOrder(t *testing.T) {
	raw := append(jitter(200, 200, 50, 4), jitter(10, 10, 30, 4)...)

	got := GroupRectangles(raw, 2, DefaultGroupEps)
	require.Len(t, got, 2)
	assert.InDelta(t, 200, got[0].Min.X, 1)
	assert.InDelta(t, 10, got[1].Min.X, 1)
}

func TestGroupRectangles_DropsNestedWeakerRegion(t *testing.T) {
	strong := jitter(100, 100, 100, 9)
	weak := jitter(130, 130, 30, 3)

	got := GroupRectangles(append(strong, weak...), 1, DefaultGroupEps)
	require.Len(t, got, 1)
	assert.Equal(t, 100, got[0].Dx())
}

func TestGroupRectangles_MonotoneInMinNeighbors(t *testing.T) {
	var raw []image.Rectangle
	raw = append(raw, jitter(0, 0, 40, 2)...)
	raw = append(raw, jitter(100, 0, 40, 5)...)
	raw = append(raw, jitter(200, 0, 40, 9)...)
	raw = append(raw, jitter(300, 0, 40, 14)...)
	raw = append(raw, jitter(305, 5, 20, 4)...)

	prev := len(raw) + 1
	for n := 1; n <= 20; n++ {
		count := len(GroupRectangles(raw, n, DefaultGroupEps))
		assert.LessOrEqual(t, count, prev, "min neighbors %d", n)
		prev = count
	}
}

func TestWindowSizes(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
		scale    float64
		want     []int
	}{
		{"doubling", 20, 100, 2.0, []int{20, 40, 80}},
		{"max below min", 50, 40, 1.1, nil},
		{"fine scale dedupes", 20, 23, 1.01, []int{20, 21, 22, 23}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, windowSizes(tt.min, tt.max, tt.scale))
		})
	}
}

func TestGrayPixels_SubImage(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range g.Pix {
		g.Pix[i] = uint8(i)
	}
	sub := g.SubImage(image.Rect(1, 1, 3, 3)).(*image.Gray)

	assert.Equal(t, []uint8{5, 6, 9, 10}, grayPixels(sub))
}
