package anchor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToPixels(t *testing.T) {
	c := Coordinates{
		Page: 3,
		BBox: BBox{X1: 0.25, Y1: 0.5, X2: 0.75, Y2: 0.6},
	}
	vp := Viewport{PageWidth: 800, PageHeight: 1000, Scale: 2, OffsetX: 10, OffsetY: 20}

	r := c.ToPixels(vp)
	assert.Equal(t, 410.0, r.X)  // 10 + 0.25*1600
	assert.Equal(t, 1020.0, r.Y) // 20 + 0.5*2000
	assert.Equal(t, 800.0, r.Width)
	assert.InDelta(t, 200.0, r.Height, 1e-9)
}

func TestToPixels_ZeroScaleDefaultsToOne(t *testing.T) {
	c := Coordinates{Page: 1, BBox: BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}}
	r := c.ToPixels(Viewport{PageWidth: 600, PageHeight: 800})
	assert.Equal(t, 600.0, r.Width)
	assert.Equal(t, 800.0, r.Height)
}

func TestFromPixels_RoundTrip(t *testing.T) {
	vp := Viewport{PageWidth: 612, PageHeight: 792, Scale: 1.5, OffsetX: 40, OffsetY: 60}
	orig := Coordinates{Page: 7, BBox: BBox{X1: 0.1, Y1: 0.2, X2: 0.4, Y2: 0.35}}

	got := FromPixels(7, orig.ToPixels(vp), vp)
	assert.Equal(t, orig.Page, got.Page)
	assert.InDelta(t, orig.BBox.X1, got.BBox.X1, 1e-9)
	assert.InDelta(t, orig.BBox.Y1, got.BBox.Y1, 1e-9)
	assert.InDelta(t, orig.BBox.X2, got.BBox.X2, 1e-9)
	assert.InDelta(t, orig.BBox.Y2, got.BBox.Y2, 1e-9)
}

func TestFromPixels_ClampsToPage(t *testing.T) {
	vp := Viewport{PageWidth: 100, PageHeight: 100, Scale: 1}
	// Selection dragged past the right and bottom edges.
	c := FromPixels(1, PixelRect{X: 50, Y: 50, Width: 200, Height: 200}, vp)
	assert.True(t, c.BBox.Valid())
	assert.Equal(t, 1.0, c.BBox.X2)
	assert.Equal(t, 1.0, c.BBox.Y2)
}

func TestBBoxValid(t *testing.T) {
	assert.True(t, BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}.Valid())
	assert.False(t, BBox{X1: 0.5, Y1: 0, X2: 0.2, Y2: 1}.Valid())  // inverted
	assert.False(t, BBox{X1: -0.1, Y1: 0, X2: 0.2, Y2: 1}.Valid()) // out of range
}
