package detector

import (
	"image"
	"math"
)

// DefaultGroupEps is the relative edge tolerance used to merge raw windows.
const DefaultGroupEps = 0.2

// GroupRectangles merges overlapping raw detection windows into final regions.
//
// Windows are partitioned into classes of similar rectangles, each class is
// averaged, and only classes with more than minNeighbors members survive.
// A survivor sitting inside a stronger survivor is dropped as well.
// Output order follows the first appearance of each class in raw.
func GroupRectangles(raw []image.Rectangle, minNeighbors int, eps float64) []image.Rectangle {
	if len(raw) == 0 {
		return nil
	}

	labels, nclasses := partition(raw, eps)

	sums := make([][4]int, nclasses)
	weights := make([]int, nclasses)
	for i, r := range raw {
		c := labels[i]
		sums[c][0] += r.Min.X
		sums[c][1] += r.Min.Y
		sums[c][2] += r.Dx()
		sums[c][3] += r.Dy()
		weights[c]++
	}

	avg := make([]image.Rectangle, nclasses)
	for c := range avg {
		n := float64(weights[c])
		x := int(math.Round(float64(sums[c][0]) / n))
		y := int(math.Round(float64(sums[c][1]) / n))
		w := int(math.Round(float64(sums[c][2]) / n))
		h := int(math.Round(float64(sums[c][3]) / n))
		avg[c] = image.Rect(x, y, x+w, y+h)
	}

	var out []image.Rectangle
	for i, r1 := range avg {
		n1 := weights[i]
		if n1 <= minNeighbors {
			continue
		}
		if nestedInStronger(i, avg, weights, minNeighbors, eps) {
			continue
		}
		out = append(out, r1)
	}
	return out
}

func nestedInStronger(i int, avg []image.Rectangle, weights []int, minNeighbors int, eps float64) bool {
	r1, n1 := avg[i], weights[i]
	for j, r2 := range avg {
		n2 := weights[j]
		if j == i || n2 <= minNeighbors {
			continue
		}
		dx := int(math.Round(float64(r2.Dx()) * eps))
		dy := int(math.Round(float64(r2.Dy()) * eps))
		inside := r1.Min.X >= r2.Min.X-dx &&
			r1.Min.Y >= r2.Min.Y-dy &&
			r1.Max.X <= r2.Max.X+dx &&
			r1.Max.Y <= r2.Max.Y+dy
		if inside && (n2 > max(3, n1) || n1 < 3) {
			return true
		}
	}
	return false
}

// similar reports whether every edge of a and b differs by at most delta.
func similar(a, b image.Rectangle, eps float64) bool {
	delta := eps * float64(min(a.Dx(), b.Dx())+min(a.Dy(), b.Dy())) * 0.5
	return absf(a.Min.X-b.Min.X) <= delta &&
		absf(a.Min.Y-b.Min.Y) <= delta &&
		absf(a.Max.X-b.Max.X) <= delta &&
		absf(a.Max.Y-b.Max.Y) <= delta
}

// partition labels rects with equivalence classes under similar, using
// union-find. Classes are numbered in order of first appearance.
func partition(rects []image.Rectangle, eps float64) ([]int, int) {
	parent := make([]int, len(rects))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			if !similar(rects[i], rects[j], eps) {
				continue
			}
			ri, rj := find(i), find(j)
			if ri == rj {
				continue
			}
			if ri < rj {
				parent[rj] = ri
			} else {
				parent[ri] = rj
			}
		}
	}

	labels := make([]int, len(rects))
	ids := make(map[int]int)
	for i := range rects {
		root := find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}
	return labels, len(ids)
}

func absf(v int) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}
