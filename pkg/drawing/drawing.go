package drawing

import (
	"errors"

	"github.com/uhyunpark/chartreplay/pkg/chart"
)

type Kind string

const (
	Line       Kind = "line"
	Ray        Kind = "ray"
	Rect       Kind = "rect"
	Circle     Kind = "circle"
	Horizontal Kind = "horizontal"
	Vertical   Kind = "vertical"
	Fib        Kind = "fib"
)

func (k Kind) Valid() bool {
	switch k {
	case Line, Ray, Rect, Circle, Horizontal, Vertical, Fib:
		return true
	}
	return false
}

// Drawing is an annotation anchored in domain coordinates. Every kind has
// exactly two anchors; horizontal and vertical lines use the first one.
type Drawing struct {
	ID      string         `json:"id"`
	Kind    Kind           `json:"type"`
	Points  [2]chart.Point `json:"points"`
	Color   string         `json:"color"`
	Locked  bool           `json:"locked"`
	Visible bool           `json:"visible"`
}

// Translate returns d with both anchors moved by the same domain offset.
func (d Drawing) Translate(dt int64, dp float64) Drawing {
	d.Points[0] = chart.Translate(d.Points[0], dt, dp)
	d.Points[1] = chart.Translate(d.Points[1], dt, dp)
	return d
}

var (
	ErrInvalidKind     = errors.New("invalid drawing type")
	ErrDrawingNotFound = errors.New("drawing not found")
	ErrLocked          = errors.New("drawing is locked")
	ErrNoDraft         = errors.New("no drawing in progress")
	ErrNotDragging     = errors.New("no drag in progress")
	ErrNotResizable    = errors.New("only rectangles have resize handles")
)

// DefaultTolerance is the hit-test distance in pixels.
const DefaultTolerance = 5.0

// Handle identifies a rectangle corner: the corner's time comes from anchor
// TimeFrom and its price from anchor PriceFrom.
type Handle struct {
	TimeFrom  int `json:"timeFrom"`
	PriceFrom int `json:"priceFrom"`
}

func (h Handle) valid() bool {
	return h.TimeFrom >= 0 && h.TimeFrom <= 1 && h.PriceFrom >= 0 && h.PriceFrom <= 1
}

func corners() []Handle {
	return []Handle{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
}

func (d Drawing) corner(h Handle) chart.Point {
	return chart.Point{Time: d.Points[h.TimeFrom].Time, Price: d.Points[h.PriceFrom].Price}
}
