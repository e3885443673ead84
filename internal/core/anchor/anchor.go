// Package anchor maps normalized document coordinates (page, bounding box)
// to and from the evidence viewer's pixel space. Everything here is pure;
// the conversions carry no state and are safe to call from any goroutine.
package anchor

// BBox is an axis-aligned box in normalized page coordinates. All four
// values are fractions of the page dimensions in [0, 1], with the origin at
// the top-left corner of the page.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid reports whether the box is well-formed: both corners inside the
// unit square and the first corner at or above-left of the second.
func (b BBox) Valid() bool {
	if b.X1 > b.X2 || b.Y1 > b.Y2 {
		return false
	}
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// Coordinates anchors a claim or relation to a region of a source document.
// Page is 1-based.
type Coordinates struct {
	Page int  `json:"page"`
	BBox BBox `json:"bbox"`
}

// Viewport describes the pixel geometry of one rendered page: the unscaled
// page size, the zoom factor, and the offset of the page's top-left corner
// within the viewer canvas.
type Viewport struct {
	PageWidth  float64
	PageHeight float64
	Scale      float64
	OffsetX    float64
	OffsetY    float64
}

// PixelRect is a rectangle in viewer pixel space.
type PixelRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ToPixels projects the normalized bounding box into the viewport's pixel
// space. A zero or negative scale is treated as 1.
func (c Coordinates) ToPixels(vp Viewport) PixelRect {
	scale := vp.Scale
	if scale <= 0 {
		scale = 1
	}
	w := vp.PageWidth * scale
	h := vp.PageHeight * scale
	return PixelRect{
		X:      vp.OffsetX + c.BBox.X1*w,
		Y:      vp.OffsetY + c.BBox.Y1*h,
		Width:  (c.BBox.X2 - c.BBox.X1) * w,
		Height: (c.BBox.Y2 - c.BBox.Y1) * h,
	}
}

// FromPixels is the inverse projection: a pixel rectangle on the given page
// back to normalized coordinates. Results are clamped to the unit square so
// a selection dragged past the page edge still yields a valid box.
func FromPixels(page int, r PixelRect, vp Viewport) Coordinates {
	scale := vp.Scale
	if scale <= 0 {
		scale = 1
	}
	w := vp.PageWidth * scale
	h := vp.PageHeight * scale
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	box := BBox{
		X1: clamp01((r.X - vp.OffsetX) / w),
		Y1: clamp01((r.Y - vp.OffsetY) / h),
		X2: clamp01((r.X + r.Width - vp.OffsetX) / w),
		Y2: clamp01((r.Y + r.Height - vp.OffsetY) / h),
	}
	return Coordinates{Page: page, BBox: box}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
