package chart

// Mapper converts between domain and pixel space through the current
// viewport. Nothing is cached: pan, zoom and resize are visible to the next
// call.
type Mapper struct {
	vp Viewport
}

func NewMapper(vp Viewport) Mapper {
	return Mapper{vp: vp}
}

func (m Mapper) ToPixel(p Point) Pixel {
	return Pixel{X: m.vp.TimeToPixel(p.Time), Y: m.vp.PriceToPixel(p.Price)}
}

func (m Mapper) ToPoint(px Pixel) Point {
	return Point{Time: m.vp.PixelToTime(px.X), Price: m.vp.PixelToPrice(px.Y)}
}

// Delta is the domain-space offset from a to b.
func Delta(a, b Point) (dt int64, dp float64) {
	return b.Time - a.Time, b.Price - a.Price
}

// Translate moves p by a domain-space offset.
func Translate(p Point, dt int64, dp float64) Point {
	return Point{Time: p.Time + dt, Price: p.Price + dp}
}
