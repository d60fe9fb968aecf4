package multishapelet

import (
	"fmt"
	"image"
	"sort"
)

// Span is a horizontal run of pixels [X0, X1] on row Y, endpoints inclusive.
type Span struct {
	Y, X0, X1 int
}

// Footprint is the set of pixels belonging to one detected source, stored as
// sorted horizontal spans. Footprints are immutable; the transforming
// operations return new footprints.
type Footprint struct {
	spans []Span
	bbox  image.Rectangle
	area  int
}

func newFootprint(spans []Span) *Footprint {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Y != spans[j].Y {
			return spans[i].Y < spans[j].Y
		}
		return spans[i].X0 < spans[j].X0
	})
	fp := &Footprint{spans: spans}
	for _, s := range spans {
		fp.area += s.X1 - s.X0 + 1
		r := image.Rect(s.X0, s.Y, s.X1+1, s.Y+1)
		if fp.bbox.Empty() {
			fp.bbox = r
		} else {
			fp.bbox = fp.bbox.Union(r)
		}
	}
	return fp
}

// NewFootprintFromSpans builds a footprint from explicit spans. Spans must not
// overlap; they need not be sorted.
func NewFootprintFromSpans(spans []Span) *Footprint {
	out := make([]Span, len(spans))
	copy(out, spans)
	return newFootprint(out)
}

// NewFootprintFromBox builds a footprint covering every pixel of the box.
func NewFootprintFromBox(box image.Rectangle) *Footprint {
	spans := make([]Span, 0, box.Dy())
	for y := box.Min.Y; y < box.Max.Y; y++ {
		spans = append(spans, Span{Y: y, X0: box.Min.X, X1: box.Max.X - 1})
	}
	return newFootprint(spans)
}

// Area returns the number of pixels in the footprint.
func (fp *Footprint) Area() int { return fp.area }

// Bounds returns the bounding box of the footprint.
func (fp *Footprint) Bounds() image.Rectangle { return fp.bbox }

// Spans returns the sorted span list; treat it as read-only.
func (fp *Footprint) Spans() []Span { return fp.spans }

// bitmap is a scratch boolean raster used by the span-set operations.
type bitmap struct {
	bounds image.Rectangle
	set    []bool
}

func newBitmap(bounds image.Rectangle) *bitmap {
	return &bitmap{bounds: bounds, set: make([]bool, bounds.Dx()*bounds.Dy())}
}

func (b *bitmap) index(x, y int) int {
	return (y-b.bounds.Min.Y)*b.bounds.Dx() + (x - b.bounds.Min.X)
}

func (b *bitmap) mark(x, y int)    { b.set[b.index(x, y)] = true }
func (b *bitmap) at(x, y int) bool { return b.set[b.index(x, y)] }

// spans extracts the row runs of set pixels.
func (b *bitmap) spans() []Span {
	var spans []Span
	for y := b.bounds.Min.Y; y < b.bounds.Max.Y; y++ {
		x := b.bounds.Min.X
		for x < b.bounds.Max.X {
			if !b.at(x, y) {
				x++
				continue
			}
			x0 := x
			for x < b.bounds.Max.X && b.at(x, y) {
				x++
			}
			spans = append(spans, Span{Y: y, X0: x0, X1: x - 1})
		}
	}
	return spans
}

// Grow returns the footprint dilated by a circular structuring element of the
// given radius. A non-positive radius returns the footprint unchanged.
func (fp *Footprint) Grow(radius int) *Footprint {
	if radius <= 0 || fp.area == 0 {
		return fp
	}
	type offset struct{ dx, dy int }
	var offsets []offset
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				offsets = append(offsets, offset{dx, dy})
			}
		}
	}
	bounds := fp.bbox.Inset(-radius)
	bm := newBitmap(bounds)
	for _, s := range fp.spans {
		for x := s.X0; x <= s.X1; x++ {
			for _, o := range offsets {
				bm.mark(x+o.dx, s.Y+o.dy)
			}
		}
	}
	return newFootprint(bm.spans())
}

// ClipTo returns the footprint restricted to the given bounds.
func (fp *Footprint) ClipTo(bounds image.Rectangle) *Footprint {
	var spans []Span
	for _, s := range fp.spans {
		if s.Y < bounds.Min.Y || s.Y >= bounds.Max.Y {
			continue
		}
		x0, x1 := s.X0, s.X1
		if x0 < bounds.Min.X {
			x0 = bounds.Min.X
		}
		if x1 > bounds.Max.X-1 {
			x1 = bounds.Max.X - 1
		}
		if x0 <= x1 {
			spans = append(spans, Span{Y: s.Y, X0: x0, X1: x1})
		}
	}
	return newFootprint(spans)
}

// IntersectMask returns the footprint restricted to the mask's bounds with
// every pixel carrying any of the bad bits removed.
func (fp *Footprint) IntersectMask(mask *Mask, bad MaskPixel) *Footprint {
	clipped := fp.ClipTo(mask.Bounds())
	var spans []Span
	for _, s := range clipped.spans {
		x := s.X0
		for x <= s.X1 {
			if mask.At(x, s.Y)&bad != 0 {
				x++
				continue
			}
			x0 := x
			for x <= s.X1 && mask.At(x, s.Y)&bad == 0 {
				x++
			}
			spans = append(spans, Span{Y: s.Y, X0: x0, X1: x - 1})
		}
	}
	return newFootprint(spans)
}

// Flatten copies the footprint's pixels out of the image in span order. The
// footprint must lie entirely within the image bounds.
func (fp *Footprint) Flatten(im *Image) ([]float64, error) {
	if fp.area > 0 && !fp.bbox.In(im.Bounds()) {
		return nil, fmt.Errorf("footprint bounds %v extend outside image bounds %v", fp.bbox, im.Bounds())
	}
	out := make([]float64, 0, fp.area)
	for _, s := range fp.spans {
		for x := s.X0; x <= s.X1; x++ {
			out = append(out, im.At(x, s.Y))
		}
	}
	return out, nil
}

// FootprintFromThreshold extracts the connected set of above-threshold pixels
// containing the seed, scanning row runs outward from the seed row. It returns
// an empty footprint when the seed pixel itself is below threshold.
func FootprintFromThreshold(im *Image, seed image.Point, threshold float64) *Footprint {
	bounds := im.Bounds()
	if !seed.In(bounds) || im.At(seed.X, seed.Y) < threshold {
		return newFootprint(nil)
	}
	bm := newBitmap(bounds)
	type point struct{ x, y int }
	stack := []point{{seed.X, seed.Y}}
	var spans []Span
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if bm.at(p.x, p.y) || im.At(p.x, p.y) < threshold {
			continue
		}
		// Expand the run left and right, then probe the rows above and
		// below over the run's extent.
		x0, x1 := p.x, p.x
		for x0 > bounds.Min.X && !bm.at(x0-1, p.y) && im.At(x0-1, p.y) >= threshold {
			x0--
		}
		for x1 < bounds.Max.X-1 && !bm.at(x1+1, p.y) && im.At(x1+1, p.y) >= threshold {
			x1++
		}
		for x := x0; x <= x1; x++ {
			bm.mark(x, p.y)
		}
		spans = append(spans, Span{Y: p.y, X0: x0, X1: x1})
		for _, dy := range [2]int{-1, 1} {
			y := p.y + dy
			if y < bounds.Min.Y || y >= bounds.Max.Y {
				continue
			}
			for x := x0; x <= x1; x++ {
				if !bm.at(x, y) && im.At(x, y) >= threshold {
					stack = append(stack, point{x, y})
				}
			}
		}
	}
	return newFootprint(spans)
}
