package chart

import (
	"errors"
	"math"
)

// Point is a domain coordinate: unix seconds and price.
type Point struct {
	Time  int64   `json:"time"`
	Price float64 `json:"price"`
}

// Pixel is a screen coordinate with y growing downward.
type Pixel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the capability the drawing layer needs from a chart surface.
type Viewport interface {
	TimeToPixel(t int64) float64
	PixelToTime(x float64) int64
	PriceToPixel(p float64) float64
	PixelToPrice(y float64) float64
}

var ErrEmptyViewport = errors.New("viewport has an empty time or price range")

// LinearViewport maps [From, To] x [MinPrice, MaxPrice] linearly onto a
// Width x Height pixel rectangle.
type LinearViewport struct {
	From     int64   `json:"from"`
	To       int64   `json:"to"`
	MinPrice float64 `json:"minPrice"`
	MaxPrice float64 `json:"maxPrice"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

func (v *LinearViewport) Validate() error {
	if v.To <= v.From || v.MaxPrice <= v.MinPrice || v.Width <= 0 || v.Height <= 0 {
		return ErrEmptyViewport
	}
	return nil
}

func (v *LinearViewport) secondsPerPixel() float64 {
	return float64(v.To-v.From) / v.Width
}

func (v *LinearViewport) pricePerPixel() float64 {
	return (v.MaxPrice - v.MinPrice) / v.Height
}

func (v *LinearViewport) TimeToPixel(t int64) float64 {
	return float64(t-v.From) / v.secondsPerPixel()
}

func (v *LinearViewport) PixelToTime(x float64) int64 {
	return v.From + int64(math.Round(x*v.secondsPerPixel()))
}

func (v *LinearViewport) PriceToPixel(p float64) float64 {
	return (v.MaxPrice - p) / v.pricePerPixel()
}

func (v *LinearViewport) PixelToPrice(y float64) float64 {
	return v.MaxPrice - y*v.pricePerPixel()
}

// Pan shifts the visible window by a pixel delta. Dragging right (dx > 0)
// reveals earlier time; dragging down (dy > 0) reveals higher prices.
func (v *LinearViewport) Pan(dx, dy float64) {
	dt := int64(math.Round(dx * v.secondsPerPixel()))
	dp := dy * v.pricePerPixel()
	v.From -= dt
	v.To -= dt
	v.MinPrice += dp
	v.MaxPrice += dp
}

// Zoom scales the time axis by factor around the pixel column anchorX.
// factor > 1 zooms in.
func (v *LinearViewport) Zoom(factor, anchorX float64) {
	if factor <= 0 {
		return
	}
	anchor := float64(v.PixelToTime(anchorX))
	from := anchor - (anchor-float64(v.From))/factor
	to := anchor + (float64(v.To)-anchor)/factor
	if to-from < 1 {
		return
	}
	v.From = int64(math.Round(from))
	v.To = int64(math.Round(to))
}

// Resize changes the pixel size keeping the visible domain.
func (v *LinearViewport) Resize(width, height float64) {
	if width > 0 {
		v.Width = width
	}
	if height > 0 {
		v.Height = height
	}
}
