package multishapelet

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFootprintFromBox(t *testing.T) {
	fp := NewFootprintFromBox(image.Rect(2, 3, 6, 5))
	assert.Equal(t, 8, fp.Area())
	assert.Equal(t, image.Rect(2, 3, 6, 5), fp.Bounds())
	require.Len(t, fp.Spans(), 2)
	assert.Equal(t, Span{Y: 3, X0: 2, X1: 5}, fp.Spans()[0])
	assert.Equal(t, Span{Y: 4, X0: 2, X1: 5}, fp.Spans()[1])
}

func TestFootprintGrow(t *testing.T) {
	fp := NewFootprintFromSpans([]Span{{Y: 0, X0: 0, X1: 0}})
	grown := fp.Grow(1)
	// Radius-1 circle: a plus shape of five pixels.
	assert.Equal(t, 5, grown.Area())
	assert.Equal(t, image.Rect(-1, -1, 2, 2), grown.Bounds())
	// Growing never shrinks, and radius zero is the identity.
	assert.Equal(t, fp, fp.Grow(0))
}

func TestFootprintClipTo(t *testing.T) {
	fp := NewFootprintFromBox(image.Rect(-2, -2, 5, 5))
	clipped := fp.ClipTo(image.Rect(0, 0, 3, 3))
	assert.Equal(t, 9, clipped.Area())
	assert.Equal(t, image.Rect(0, 0, 3, 3), clipped.Bounds())
}

func TestFootprintIntersectMask(t *testing.T) {
	mask := NewMask(image.Rect(0, 0, 4, 4))
	mask.Or(1, 1, MaskSaturated)
	mask.Or(2, 1, MaskBad)
	fp := NewFootprintFromBox(image.Rect(0, 0, 4, 4))

	out := fp.IntersectMask(mask, MaskBad|MaskSaturated)
	assert.Equal(t, 14, out.Area())
	// Only the flagged pixels are removed; an unrelated plane is ignored.
	out = fp.IntersectMask(mask, MaskInterpolated)
	assert.Equal(t, 16, out.Area())
}

func TestFootprintFlatten(t *testing.T) {
	im := NewImage(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			im.Set(x, y, float64(10*y+x))
		}
	}
	fp := NewFootprintFromSpans([]Span{
		{Y: 0, X0: 1, X1: 2},
		{Y: 1, X0: 0, X1: 0},
	})
	data, err := fp.Flatten(im)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 10}, data)

	outside := NewFootprintFromBox(image.Rect(0, 0, 5, 5))
	_, err = outside.Flatten(im)
	assert.Error(t, err)
}

func TestFootprintFromThreshold(t *testing.T) {
	im := NewImage(image.Rect(0, 0, 7, 7))
	// A 3x3 plateau around (3, 3) plus a detached bright pixel.
	for y := 2; y <= 4; y++ {
		for x := 2; x <= 4; x++ {
			im.Set(x, y, 10)
		}
	}
	im.Set(0, 0, 50)

	fp := FootprintFromThreshold(im, image.Pt(3, 3), 5)
	assert.Equal(t, 9, fp.Area())
	assert.Equal(t, image.Rect(2, 2, 5, 5), fp.Bounds())

	// The detached pixel is not part of the connected region.
	for _, s := range fp.Spans() {
		assert.GreaterOrEqual(t, s.Y, 2)
	}

	// A below-threshold seed yields an empty footprint.
	empty := FootprintFromThreshold(im, image.Pt(6, 6), 5)
	assert.Zero(t, empty.Area())
}
