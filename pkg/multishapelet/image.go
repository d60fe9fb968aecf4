package multishapelet

import (
	"fmt"
	"image"
	"math"
)

// Image is a float64 pixel plane over an integer bounding box. Coordinates are
// absolute: At(x, y) addresses the same sky position regardless of where the
// image's box sits.
type Image struct {
	bounds image.Rectangle
	data   []float64
}

// NewImage returns a zero-filled image covering the given bounds.
func NewImage(bounds image.Rectangle) *Image {
	return &Image{bounds: bounds, data: make([]float64, bounds.Dx()*bounds.Dy())}
}

func (im *Image) Bounds() image.Rectangle { return im.bounds }

// Data returns the backing row-major pixel slice.
func (im *Image) Data() []float64 { return im.data }

func (im *Image) index(x, y int) int {
	return (y-im.bounds.Min.Y)*im.bounds.Dx() + (x - im.bounds.Min.X)
}

func (im *Image) At(x, y int) float64     { return im.data[im.index(x, y)] }
func (im *Image) Set(x, y int, v float64) { im.data[im.index(x, y)] = v }

// Fill sets every pixel to v.
func (im *Image) Fill(v float64) {
	for i := range im.data {
		im.data[i] = v
	}
}

// Bilinear samples the image at a fractional position using bilinear
// interpolation, clamping to the image edge.
func (im *Image) Bilinear(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x0 < im.bounds.Min.X {
		x0 = im.bounds.Min.X
	}
	if y0 < im.bounds.Min.Y {
		y0 = im.bounds.Min.Y
	}
	if x1 > im.bounds.Max.X-1 {
		x1 = im.bounds.Max.X - 1
	}
	if y1 > im.bounds.Max.Y-1 {
		y1 = im.bounds.Max.Y - 1
	}
	xr := x - float64(x0)
	yr := y - float64(y0)
	p00 := im.At(x0, y0)
	p01 := im.At(x1, y0)
	p10 := im.At(x0, y1)
	p11 := im.At(x1, y1)
	top := p00 + xr*(p01-p00)
	bottom := p10 + xr*(p11-p10)
	return top + yr*(bottom-top)
}

// MaskPixel is a bit plane value; a pixel is bad for a given fit when it has
// any bit in common with the fit's bad-pixel mask.
type MaskPixel uint16

// Standard mask planes.
const (
	MaskBad MaskPixel = 1 << iota
	MaskSaturated
	MaskInterpolated
	MaskEdge
)

// Mask is a MaskPixel plane over an integer bounding box.
type Mask struct {
	bounds image.Rectangle
	data   []MaskPixel
}

// NewMask returns a zero-filled mask covering the given bounds.
func NewMask(bounds image.Rectangle) *Mask {
	return &Mask{bounds: bounds, data: make([]MaskPixel, bounds.Dx()*bounds.Dy())}
}

func (m *Mask) Bounds() image.Rectangle { return m.bounds }

func (m *Mask) index(x, y int) int {
	return (y-m.bounds.Min.Y)*m.bounds.Dx() + (x - m.bounds.Min.X)
}

func (m *Mask) At(x, y int) MaskPixel { return m.data[m.index(x, y)] }

// Or sets the given bits at (x, y).
func (m *Mask) Or(x, y int, bits MaskPixel) { m.data[m.index(x, y)] |= bits }

// MaskedImage bundles a pixel plane with its mask and per-pixel variance.
// All three planes share the same bounds.
type MaskedImage struct {
	Image    *Image
	Mask     *Mask
	Variance *Image
}

// NewMaskedImage returns a masked image with zeroed planes over the bounds.
func NewMaskedImage(bounds image.Rectangle) *MaskedImage {
	return &MaskedImage{
		Image:    NewImage(bounds),
		Mask:     NewMask(bounds),
		Variance: NewImage(bounds),
	}
}

func (mi *MaskedImage) Bounds() image.Rectangle { return mi.Image.Bounds() }

// Psf models the point-spread function of an exposure: a realization of the
// PSF as an image centered near the given position.
type Psf interface {
	ComputeImage(center Point2d) (*Image, error)
}

// GaussianPsf is a reference Psf: a single normalized elliptical Gaussian
// rendered on a Size x Size postage stamp.
type GaussianPsf struct {
	Core EllipseCore
	Size int
}

// ComputeImage renders the PSF on a stamp centered at the pixel nearest the
// given position. The stamp is normalized to unit total flux.
func (p GaussianPsf) ComputeImage(center Point2d) (*Image, error) {
	if p.Size < 3 {
		return nil, fmt.Errorf("psf stamp size %d is too small", p.Size)
	}
	if !p.Core.Valid() {
		return nil, fmt.Errorf("psf core is not positive definite")
	}
	cx := int(math.Round(center.X))
	cy := int(math.Round(center.Y))
	half := p.Size / 2
	bounds := image.Rect(cx-half, cy-half, cx-half+p.Size, cy-half+p.Size)
	out := NewImage(bounds)

	t, err := Ellipse{Core: p.Core, Center: Point2d{X: float64(cx), Y: float64(cy)}}.GridTransform()
	if err != nil {
		return nil, err
	}
	sum := 0.0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			zx, zy := t.Apply(float64(x), float64(y))
			v := math.Exp(-0.5 * (zx*zx + zy*zy))
			out.Set(x, y, v)
			sum += v
		}
	}
	if sum > 0 {
		for i := range out.data {
			out.data[i] /= sum
		}
	}
	return out, nil
}

// Exposure is the unit of processing handed to the measurement algorithms: a
// masked image with an optionally attached PSF model.
type Exposure struct {
	MaskedImage *MaskedImage
	Psf         Psf
}

// HasPsf reports whether a PSF model is attached.
func (e *Exposure) HasPsf() bool { return e.Psf != nil }

// ImageMoments returns the flux-weighted centroid and quadrupole second
// moments of an image, for use as a fit starting point. Negative pixels are
// ignored so a background-subtracted stamp yields stable moments.
func ImageMoments(im *Image) (Point2d, EllipseCore) {
	var sum, sx, sy float64
	b := im.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := im.At(x, y)
			if v <= 0 {
				continue
			}
			sum += v
			sx += v * float64(x)
			sy += v * float64(y)
		}
	}
	if sum <= 0 {
		return Point2d{}, EllipseCore{}
	}
	center := Point2d{X: sx / sum, Y: sy / sum}
	var ixx, iyy, ixy float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := im.At(x, y)
			if v <= 0 {
				continue
			}
			dx := float64(x) - center.X
			dy := float64(y) - center.Y
			ixx += v * dx * dx
			iyy += v * dy * dy
			ixy += v * dx * dy
		}
	}
	return center, EllipseCore{Ixx: ixx / sum, Iyy: iyy / sum, Ixy: ixy / sum}
}
