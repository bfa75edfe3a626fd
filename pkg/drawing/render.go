package drawing

import (
	"fmt"
	"math"

	"github.com/uhyunpark/chartreplay/pkg/chart"
)

type Shape string

const (
	ShapeSegment Shape = "segment"
	ShapeRect    Shape = "rect"
	ShapeCircle  Shape = "circle"
)

// Primitive is one pixel-space shape produced by a render pass.
type Primitive struct {
	DrawingID string        `json:"drawingId,omitempty"`
	Shape     Shape         `json:"shape"`
	Points    []chart.Pixel `json:"points"`
	Radius    float64       `json:"radius,omitempty"`
	Color     string        `json:"color"`
	Label     string        `json:"label,omitempty"`
	Locked    bool          `json:"locked,omitempty"`
	Draft     bool          `json:"draft,omitempty"`
}

// Render projects every visible drawing through m. The drag staging copy
// replaces its committed drawing and the draft is drawn last.
func (s *Store) Render(m chart.Mapper, width, height float64) []Primitive {
	s.mu.Lock()
	list := make([]Drawing, len(s.drawings))
	copy(list, s.drawings)
	if s.drag != nil {
		for i := range list {
			if list[i].ID == s.drag.id {
				list[i] = s.drag.staged
			}
		}
	}
	var draft *Drawing
	if s.draft != nil {
		d := *s.draft
		draft = &d
	}
	s.mu.Unlock()

	var out []Primitive
	for _, d := range list {
		if d.Visible {
			out = append(out, project(d, m, width, height)...)
		}
	}
	if draft != nil {
		for _, p := range project(*draft, m, width, height) {
			p.Draft = true
			out = append(out, p)
		}
	}
	return out
}

func project(d Drawing, m chart.Mapper, width, height float64) []Primitive {
	a := m.ToPixel(d.Points[0])
	b := m.ToPixel(d.Points[1])
	base := Primitive{DrawingID: d.ID, Color: d.Color, Locked: d.Locked}

	seg := func(p, q chart.Pixel) Primitive {
		out := base
		out.Shape = ShapeSegment
		out.Points = []chart.Pixel{p, q}
		return out
	}

	switch d.Kind {
	case Line:
		return []Primitive{seg(a, b)}
	case Ray:
		return []Primitive{seg(a, clipRay(a, b, width, height))}
	case Rect:
		out := base
		out.Shape = ShapeRect
		out.Points = []chart.Pixel{
			{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y)},
			{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y)},
		}
		return []Primitive{out}
	case Circle:
		out := base
		out.Shape = ShapeCircle
		out.Points = []chart.Pixel{a}
		out.Radius = dist(a, b)
		return []Primitive{out}
	case Horizontal:
		return []Primitive{seg(chart.Pixel{X: 0, Y: a.Y}, chart.Pixel{X: width, Y: a.Y})}
	case Vertical:
		return []Primitive{seg(chart.Pixel{X: a.X, Y: 0}, chart.Pixel{X: a.X, Y: height})}
	case Fib:
		levels := FibLevels(d.Points[0].Price, d.Points[1].Price)
		out := make([]Primitive, 0, len(levels))
		x0, x1 := math.Min(a.X, b.X), math.Max(a.X, b.X)
		for _, l := range levels {
			y := m.ToPixel(chart.Point{Time: d.Points[0].Time, Price: l.Price}).Y
			p := seg(chart.Pixel{X: x0, Y: y}, chart.Pixel{X: x1, Y: y})
			p.Label = fmt.Sprintf("%g (%g)", l.Ratio, l.Price)
			out = append(out, p)
		}
		return out
	}
	return nil
}

// clipRay returns where the ray from a through b leaves the
// [0,width]x[0,height] rectangle.
func clipRay(a, b chart.Pixel, width, height float64) chart.Pixel {
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx == 0 && dy == 0 {
		return b
	}
	t := math.Inf(1)
	if dx > 0 {
		t = math.Min(t, (width-a.X)/dx)
	} else if dx < 0 {
		t = math.Min(t, -a.X/dx)
	}
	if dy > 0 {
		t = math.Min(t, (height-a.Y)/dy)
	} else if dy < 0 {
		t = math.Min(t, -a.Y/dy)
	}
	if t <= 0 || math.IsInf(t, 1) {
		return b
	}
	return pointAt(a, b, t)
}
