package drawing

import (
	"math"

	"github.com/uhyunpark/chartreplay/pkg/chart"
)

func dist(a, b chart.Pixel) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// projection returns the parameter of p projected onto the line a->b
// (0 at a, 1 at b). ok is false for a degenerate line.
func projection(p, a, b chart.Pixel) (float64, bool) {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return 0, false
	}
	return ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / l2, true
}

func pointAt(a, b chart.Pixel, t float64) chart.Pixel {
	return chart.Pixel{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

// segmentDistance is the distance from p to the closed segment a-b.
func segmentDistance(p, a, b chart.Pixel) float64 {
	t, ok := projection(p, a, b)
	if !ok {
		return dist(p, a)
	}
	return dist(p, pointAt(a, b, math.Max(0, math.Min(1, t))))
}

// rayDistance treats the segment as unbounded beyond b.
func rayDistance(p, a, b chart.Pixel) float64 {
	t, ok := projection(p, a, b)
	if !ok {
		return dist(p, a)
	}
	return dist(p, pointAt(a, b, math.Max(0, t)))
}

// rectEdgeDistance is the distance to the nearest of the four edges of the
// axis-aligned rectangle spanned by a and b. The interior is not a hit.
func rectEdgeDistance(p, a, b chart.Pixel) float64 {
	tl := chart.Pixel{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y)}
	br := chart.Pixel{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y)}
	tr := chart.Pixel{X: br.X, Y: tl.Y}
	bl := chart.Pixel{X: tl.X, Y: br.Y}
	return math.Min(
		math.Min(segmentDistance(p, tl, tr), segmentDistance(p, tr, br)),
		math.Min(segmentDistance(p, br, bl), segmentDistance(p, bl, tl)),
	)
}

// circleDistance measures to the outline of the circle centered on a that
// passes through b.
func circleDistance(p, a, b chart.Pixel) float64 {
	return math.Abs(dist(p, a) - dist(a, b))
}

// Distance is the pixel distance from px to the outline of d as currently
// projected by m.
func Distance(d Drawing, px chart.Pixel, m chart.Mapper) float64 {
	a := m.ToPixel(d.Points[0])
	b := m.ToPixel(d.Points[1])
	switch d.Kind {
	case Line, Fib:
		return segmentDistance(px, a, b)
	case Ray:
		return rayDistance(px, a, b)
	case Rect:
		return rectEdgeDistance(px, a, b)
	case Circle:
		return circleDistance(px, a, b)
	case Horizontal:
		return math.Abs(px.Y - a.Y)
	case Vertical:
		return math.Abs(px.X - a.X)
	}
	return math.Inf(1)
}
