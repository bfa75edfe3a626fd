package chart

import (
	"math"
	"testing"
)

func testViewport() *LinearViewport {
	return &LinearViewport{From: 0, To: 1000, MinPrice: 100, MaxPrice: 200, Width: 500, Height: 400}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLinearViewport_Mapping(t *testing.T) {
	v := testViewport()
	m := NewMapper(v)

	px := m.ToPixel(Point{Time: 500, Price: 150})
	if !near(px.X, 250) || !near(px.Y, 200) {
		t.Errorf("ToPixel = %+v, want {250 200}", px)
	}

	top := m.ToPixel(Point{Time: 0, Price: 200})
	if !near(top.X, 0) || !near(top.Y, 0) {
		t.Errorf("top-left = %+v, want {0 0}", top)
	}

	pt := m.ToPoint(Pixel{X: 100, Y: 100})
	if pt.Time != 200 || !near(pt.Price, 175) {
		t.Errorf("ToPoint = %+v, want {200 175}", pt)
	}
}

func TestLinearViewport_RoundTrip(t *testing.T) {
	v := testViewport()
	m := NewMapper(v)
	for _, p := range []Point{{0, 100}, {123, 150.5}, {998, 199.75}} {
		back := m.ToPoint(m.ToPixel(p))
		if back.Time != p.Time || !near(back.Price, p.Price) {
			t.Errorf("round trip %+v -> %+v", p, back)
		}
	}
}

func TestLinearViewport_PanZoomResizeInvalidateMapping(t *testing.T) {
	v := testViewport()
	m := NewMapper(v)
	p := Point{Time: 500, Price: 150}

	before := m.ToPixel(p)
	v.Pan(50, 0) // 50px right = 100s earlier window
	after := m.ToPixel(p)
	if !near(after.X, before.X+50) {
		t.Errorf("after pan x = %v, want %v", after.X, before.X+50)
	}
	if v.From != -100 || v.To != 900 {
		t.Errorf("window = [%d,%d], want [-100,900]", v.From, v.To)
	}

	v.Pan(0, 40) // 40px down = +10 price
	if !near(v.MinPrice, 110) || !near(v.MaxPrice, 210) {
		t.Errorf("price range = [%v,%v], want [110,210]", v.MinPrice, v.MaxPrice)
	}

	v2 := testViewport()
	v2.Zoom(2, 250) // anchor at t=500
	if v2.From != 250 || v2.To != 750 {
		t.Errorf("zoomed window = [%d,%d], want [250,750]", v2.From, v2.To)
	}

	v3 := testViewport()
	m3 := NewMapper(v3)
	v3.Resize(1000, 800)
	got := m3.ToPixel(p)
	if !near(got.X, 500) || !near(got.Y, 400) {
		t.Errorf("after resize = %+v, want {500 400}", got)
	}
}

func TestLinearViewport_Validate(t *testing.T) {
	if err := testViewport().Validate(); err != nil {
		t.Errorf("valid viewport: %v", err)
	}
	bad := &LinearViewport{From: 10, To: 10, MinPrice: 1, MaxPrice: 2, Width: 1, Height: 1}
	if err := bad.Validate(); err != ErrEmptyViewport {
		t.Errorf("err = %v, want ErrEmptyViewport", err)
	}
}
