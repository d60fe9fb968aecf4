package multishapelet

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputsFromBox(t *testing.T) {
	im := NewImage(image.Rect(0, 0, 5, 5))
	im.Fill(2)
	h, err := NewInputsFromBox(im, Point2d{X: 2, Y: 2}, image.Rect(0, 0, 5, 5))
	require.NoError(t, err)
	assert.Equal(t, 25, h.Size())
	assert.Nil(t, h.Weights())
	// Coordinates are centered on the source.
	assert.Equal(t, -2.0, h.X()[0])
	assert.Equal(t, -2.0, h.Y()[0])
	assert.Equal(t, 2.0, h.X()[24])
	assert.Equal(t, 2.0, h.Y()[24])
	for _, v := range h.Data() {
		assert.Equal(t, 2.0, v)
	}
}

func TestInputsBoxClippedToImage(t *testing.T) {
	im := NewImage(image.Rect(0, 0, 4, 4))
	h, err := NewInputsFromBox(im, Point2d{}, image.Rect(-3, -3, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, 4, h.Size())
}

func TestInputsEmptyRegion(t *testing.T) {
	im := NewImage(image.Rect(0, 0, 4, 4))
	_, err := NewInputsFromBox(im, Point2d{}, image.Rect(10, 10, 12, 12))
	assert.Error(t, err)
}

func TestMaskedInputsExcludeBadPixels(t *testing.T) {
	mi := NewMaskedImage(image.Rect(0, 0, 4, 4))
	mi.Image.Fill(7)
	mi.Variance.Fill(4)
	mi.Mask.Or(1, 2, MaskSaturated)
	mi.Mask.Or(3, 0, MaskBad)

	h, err := NewMaskedInputsFromBox(mi, Point2d{X: 1.5, Y: 1.5}, image.Rect(0, 0, 4, 4), MaskBad|MaskSaturated, true)
	require.NoError(t, err)
	assert.Equal(t, 14, h.Size())
	for i := range h.Data() {
		// weights = 1/sigma, data pre-multiplied by them.
		assert.InDelta(t, 0.5, h.Weights()[i], 1e-14)
		assert.InDelta(t, 3.5, h.Data()[i], 1e-14)
	}
	// The flagged pixels are absent from the coordinate table.
	for i := range h.X() {
		x, y := h.X()[i]+1.5, h.Y()[i]+1.5
		assert.False(t, x == 1 && y == 2)
		assert.False(t, x == 3 && y == 0)
	}
}

func TestMaskedInputsMeanVariance(t *testing.T) {
	mi := NewMaskedImage(image.Rect(0, 0, 2, 2))
	mi.Image.Fill(1)
	mi.Variance.Set(0, 0, 1)
	mi.Variance.Set(1, 0, 2)
	mi.Variance.Set(0, 1, 3)
	mi.Variance.Set(1, 1, 10)

	h, err := NewMaskedInputsFromBox(mi, Point2d{}, image.Rect(0, 0, 2, 2), 0, false)
	require.NoError(t, err)
	// All weights collapse to 1/sqrt(mean variance) = 1/2.
	for _, w := range h.Weights() {
		assert.InDelta(t, 0.5, w, 1e-14)
	}

	perPixel, err := NewMaskedInputsFromBox(mi, Point2d{}, image.Rect(0, 0, 2, 2), 0, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, perPixel.Weights()[0], 1e-14)
	assert.InDelta(t, 1/math.Sqrt(10), perPixel.Weights()[3], 1e-14)
}

func TestMaskedInputsFromFootprintGrows(t *testing.T) {
	mi := NewMaskedImage(image.Rect(0, 0, 9, 9))
	mi.Variance.Fill(1)
	fp := NewFootprintFromSpans([]Span{{Y: 4, X0: 4, X1: 4}})

	h, err := NewMaskedInputsFromFootprint(mi, Point2d{X: 4, Y: 4}, fp, 2, 0, false)
	require.NoError(t, err)
	// Radius-2 disc: 13 pixels.
	assert.Equal(t, 13, h.Size())
	assert.Equal(t, fp.Grow(2).Area(), h.Footprint().Area())
}

func TestMaskedInputsNonPositiveVariance(t *testing.T) {
	mi := NewMaskedImage(image.Rect(0, 0, 2, 2))
	mi.Variance.Fill(0)
	_, err := NewMaskedInputsFromBox(mi, Point2d{}, image.Rect(0, 0, 2, 2), 0, true)
	assert.Error(t, err)
}
