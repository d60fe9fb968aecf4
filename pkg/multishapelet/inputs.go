package multishapelet

import (
	"fmt"
	"image"
	"math"
)

// ModelInputHandler extracts the per-source inputs of a fit: a flattened pixel
// vector in footprint-span order, matching coordinate vectors relative to the
// source center, and (for masked images) an inverse-sigma weight vector. The
// data vector is pre-multiplied by the weights, so downstream consumers work
// on whitened residuals directly. All accessors return internal buffers;
// treat them as read-only.
type ModelInputHandler struct {
	footprint *Footprint
	data      []float64
	weights   []float64
	x, y      []float64
}

func finishInputs(fp *Footprint, im *Image, center Point2d) (*ModelInputHandler, error) {
	if fp.Area() == 0 {
		return nil, fmt.Errorf("fit region contains no usable pixels")
	}
	data, err := fp.Flatten(im)
	if err != nil {
		return nil, err
	}
	h := &ModelInputHandler{
		footprint: fp,
		data:      data,
		x:         make([]float64, 0, fp.Area()),
		y:         make([]float64, 0, fp.Area()),
	}
	for _, s := range fp.Spans() {
		dy := float64(s.Y) - center.Y
		for ix := s.X0; ix <= s.X1; ix++ {
			h.x = append(h.x, float64(ix)-center.X)
			h.y = append(h.y, dy)
		}
	}
	return h, nil
}

func (h *ModelInputHandler) applyWeights(variance []float64, usePixelWeights bool) error {
	if !usePixelWeights {
		mean := 0.0
		for _, v := range variance {
			mean += v
		}
		mean /= float64(len(variance))
		for i := range variance {
			variance[i] = mean
		}
	}
	h.weights = variance
	for i, v := range h.weights {
		if v <= 0 {
			return fmt.Errorf("non-positive variance %g at flattened pixel %d", v, i)
		}
		h.weights[i] = 1 / math.Sqrt(v)
		h.data[i] *= h.weights[i]
	}
	return nil
}

// NewInputsFromBox extracts inputs from a plain image over a box clipped to
// the image bounds. No weights are produced.
func NewInputsFromBox(im *Image, center Point2d, box image.Rectangle) (*ModelInputHandler, error) {
	fp := NewFootprintFromBox(box).ClipTo(im.Bounds())
	return finishInputs(fp, im, center)
}

// NewInputsFromFootprint extracts inputs from a plain image over a footprint,
// optionally grown by the given radius and always clipped to the image bounds.
func NewInputsFromFootprint(im *Image, center Point2d, fp *Footprint, grow int) (*ModelInputHandler, error) {
	region := fp.Grow(grow).ClipTo(im.Bounds())
	return finishInputs(region, im, center)
}

// NewMaskedInputsFromBox extracts weighted inputs from a masked image over a
// box; pixels carrying any bad bit are excluded entirely, not zero-filled.
func NewMaskedInputsFromBox(mi *MaskedImage, center Point2d, box image.Rectangle, bad MaskPixel, usePixelWeights bool) (*ModelInputHandler, error) {
	fp := NewFootprintFromBox(box).IntersectMask(mi.Mask, bad)
	return finishMaskedInputs(fp, mi, center, usePixelWeights)
}

// NewMaskedInputsFromFootprint extracts weighted inputs from a masked image
// over a footprint, optionally grown, with bad pixels excluded.
func NewMaskedInputsFromFootprint(mi *MaskedImage, center Point2d, fp *Footprint, grow int, bad MaskPixel, usePixelWeights bool) (*ModelInputHandler, error) {
	region := fp.Grow(grow).IntersectMask(mi.Mask, bad)
	return finishMaskedInputs(region, mi, center, usePixelWeights)
}

func finishMaskedInputs(fp *Footprint, mi *MaskedImage, center Point2d, usePixelWeights bool) (*ModelInputHandler, error) {
	h, err := finishInputs(fp, mi.Image, center)
	if err != nil {
		return nil, err
	}
	variance, err := fp.Flatten(mi.Variance)
	if err != nil {
		return nil, err
	}
	if err := h.applyWeights(variance, usePixelWeights); err != nil {
		return nil, err
	}
	return h, nil
}

// Size returns the number of usable pixels.
func (h *ModelInputHandler) Size() int { return len(h.data) }

// Footprint returns the final footprint after growing, clipping and masking.
func (h *ModelInputHandler) Footprint() *Footprint { return h.footprint }

// Data returns the flattened (and, when weighted, whitened) pixel values.
func (h *ModelInputHandler) Data() []float64 { return h.data }

// Weights returns the inverse-sigma weights, or nil for unweighted inputs.
func (h *ModelInputHandler) Weights() []float64 { return h.weights }

// X returns the pixel x coordinates relative to the source center.
func (h *ModelInputHandler) X() []float64 { return h.x }

// Y returns the pixel y coordinates relative to the source center.
func (h *ModelInputHandler) Y() []float64 { return h.y }
