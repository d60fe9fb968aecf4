package multishapelet

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point2d represents a 2D point with float64 coordinates.
type Point2d struct {
	X, Y float64
}

// Affine grid-transform parameter ordering, used to index the rows of
// grid-transform derivative matrices.
const (
	TransformXX = iota
	TransformYX
	TransformXY
	TransformYY
	TransformX
	TransformY
	NumTransformParams
)

// maxMomentCorrelation bounds |Ixy| relative to sqrt(Ixx*Iyy) when clipping a
// core back into the positive-definite domain.
const maxMomentCorrelation = 0.99

// EllipseCore describes the shape of an elliptical Gaussian by its quadrupole
// second moments. The three moments are also the nonlinear parameter vector
// seen by the optimizer.
type EllipseCore struct {
	Ixx, Iyy, Ixy float64
}

// NewCircularCore returns the core of a circular Gaussian with the given sigma.
func NewCircularCore(r float64) EllipseCore {
	return EllipseCore{Ixx: r * r, Iyy: r * r}
}

// NewEllipseCoreFromAxes builds a core from the per-axis sigmas and the
// position angle of the major axis, measured counterclockwise from +x.
func NewEllipseCoreFromAxes(a, b, theta float64) EllipseCore {
	c, s := math.Cos(theta), math.Sin(theta)
	return EllipseCore{
		Ixx: a*a*c*c + b*b*s*s,
		Iyy: a*a*s*s + b*b*c*c,
		Ixy: (a*a - b*b) * c * s,
	}
}

func (e EllipseCore) Det() float64 {
	return e.Ixx*e.Iyy - e.Ixy*e.Ixy
}

func (e EllipseCore) Trace() float64 {
	return e.Ixx + e.Iyy
}

// TraceRadius is the circular-equivalent sigma sqrt((Ixx+Iyy)/2).
func (e EllipseCore) TraceRadius() float64 {
	return math.Sqrt(0.5 * e.Trace())
}

// Valid reports whether the moment matrix is positive definite.
func (e EllipseCore) Valid() bool {
	return e.Ixx > 0 && e.Iyy > 0 && e.Det() > 0
}

// Convolve returns the core of the convolution of two Gaussians, which is the
// sum of their moment matrices.
func (e EllipseCore) Convolve(o EllipseCore) EllipseCore {
	return EllipseCore{Ixx: e.Ixx + o.Ixx, Iyy: e.Iyy + o.Iyy, Ixy: e.Ixy + o.Ixy}
}

// Scale returns the core with all linear dimensions multiplied by f.
func (e EllipseCore) Scale(f float64) EllipseCore {
	f2 := f * f
	return EllipseCore{Ixx: e.Ixx * f2, Iyy: e.Iyy * f2, Ixy: e.Ixy * f2}
}

// Axes returns the per-axis sigmas (a >= b) and the major-axis position angle.
func (e EllipseCore) Axes() (a, b, theta float64) {
	half := 0.5 * (e.Ixx + e.Iyy)
	diff := 0.5 * (e.Ixx - e.Iyy)
	d := math.Hypot(diff, e.Ixy)
	a = math.Sqrt(math.Max(half+d, 0))
	b = math.Sqrt(math.Max(half-d, 0))
	theta = 0.5 * math.Atan2(2*e.Ixy, e.Ixx-e.Iyy)
	return a, b, theta
}

// Clip forces the core back into the positive-definite domain: both diagonal
// moments at least minRadius squared, and the cross moment bounded away from
// full correlation. The second return value reports whether anything changed.
func (e EllipseCore) Clip(minRadius float64) (EllipseCore, bool) {
	clipped := false
	r2 := minRadius * minRadius
	if e.Ixx < r2 {
		e.Ixx = r2
		clipped = true
	}
	if e.Iyy < r2 {
		e.Iyy = r2
		clipped = true
	}
	limit := maxMomentCorrelation * math.Sqrt(e.Ixx*e.Iyy)
	if e.Ixy > limit {
		e.Ixy = limit
		clipped = true
	} else if e.Ixy < -limit {
		e.Ixy = -limit
		clipped = true
	}
	return e, clipped
}

// WriteParameters copies the moments into dst, which must have length 3.
func (e EllipseCore) WriteParameters(dst []float64) {
	dst[0] = e.Ixx
	dst[1] = e.Iyy
	dst[2] = e.Ixy
}

// CoreFromParameters is the inverse of WriteParameters.
func CoreFromParameters(p []float64) EllipseCore {
	return EllipseCore{Ixx: p[0], Iyy: p[1], Ixy: p[2]}
}

// GridTransform is the affine map taking pixel coordinates into the frame
// where the ellipse becomes the unit circle.
type GridTransform struct {
	XX, XY, YX, YY float64
	X, Y           float64
}

// Apply maps the point (x, y) through the transform.
func (t GridTransform) Apply(x, y float64) (float64, float64) {
	return t.XX*x + t.XY*y + t.X, t.YX*x + t.YY*y + t.Y
}

// Det returns the determinant of the linear part.
func (t GridTransform) Det() float64 {
	return t.XX*t.YY - t.XY*t.YX
}

// gridFactors holds the intermediates of the closed-form inverse matrix square
// root T = adj(Q + sI) / (s*mu), with s = sqrt(det Q) and mu = sqrt(tr Q + 2s).
type gridFactors struct {
	s, mu float64
}

func (e EllipseCore) gridFactors() (gridFactors, error) {
	if !e.Valid() {
		return gridFactors{}, fmt.Errorf("ellipse core (%g, %g, %g) is not positive definite", e.Ixx, e.Iyy, e.Ixy)
	}
	s := math.Sqrt(e.Det())
	return gridFactors{s: s, mu: math.Sqrt(e.Trace() + 2*s)}, nil
}

// GridTransform returns the linear map to the unit-circle frame of the core.
// It fails if the moment matrix is not positive definite.
func (e EllipseCore) GridTransform() (GridTransform, error) {
	f, err := e.gridFactors()
	if err != nil {
		return GridTransform{}, err
	}
	k := 1.0 / (f.s * f.mu)
	return GridTransform{
		XX: (e.Iyy + f.s) * k,
		YY: (e.Ixx + f.s) * k,
		XY: -e.Ixy * k,
		YX: -e.Ixy * k,
	}, nil
}

// GridTransformDeriv returns the derivative of the grid transform with respect
// to the three moments, as a NumTransformParams x 3 matrix whose rows follow
// the Transform* ordering. The translation rows are zero for a centered core.
func (e EllipseCore) GridTransformDeriv() (*mat.Dense, error) {
	f, err := e.gridFactors()
	if err != nil {
		return nil, err
	}
	s, mu := f.s, f.mu
	k := 1.0 / (s * mu)

	adjXX := e.Iyy + s
	adjYY := e.Ixx + s
	adjXY := -e.Ixy

	// Per-parameter derivatives of s, mu and the adjugate entries.
	dsd := [3]float64{e.Iyy / (2 * s), e.Ixx / (2 * s), -e.Ixy / s}
	dtr := [3]float64{1, 1, 0}

	out := mat.NewDense(NumTransformParams, 3, nil)
	for p := 0; p < 3; p++ {
		dmu := (dtr[p] + 2*dsd[p]) / (2 * mu)
		dk := -k * (dsd[p]/s + dmu/mu)

		var dAdjXX, dAdjYY, dAdjXY float64
		switch p {
		case 0: // Ixx
			dAdjXX = dsd[p]
			dAdjYY = 1 + dsd[p]
		case 1: // Iyy
			dAdjXX = 1 + dsd[p]
			dAdjYY = dsd[p]
		case 2: // Ixy
			dAdjXX = dsd[p]
			dAdjYY = dsd[p]
			dAdjXY = -1
		}

		out.Set(TransformXX, p, dAdjXX*k+adjXX*dk)
		out.Set(TransformYY, p, dAdjYY*k+adjYY*dk)
		out.Set(TransformXY, p, dAdjXY*k+adjXY*dk)
		out.Set(TransformYX, p, dAdjXY*k+adjXY*dk)
	}
	return out, nil
}

// Ellipse is an EllipseCore located at a center point.
type Ellipse struct {
	Core   EllipseCore
	Center Point2d
}

// GridTransform returns the full affine map to the unit-circle frame,
// including the translation that moves the center to the origin.
func (e Ellipse) GridTransform() (GridTransform, error) {
	t, err := e.Core.GridTransform()
	if err != nil {
		return GridTransform{}, err
	}
	t.X = -(t.XX*e.Center.X + t.XY*e.Center.Y)
	t.Y = -(t.YX*e.Center.X + t.YY*e.Center.Y)
	return t, nil
}

// GridTransformDeriv returns the derivative of the full transform with respect
// to the three core moments; the translation rows carry the chain-rule term
// from the center offset.
func (e Ellipse) GridTransformDeriv() (*mat.Dense, error) {
	d, err := e.Core.GridTransformDeriv()
	if err != nil {
		return nil, err
	}
	for p := 0; p < 3; p++ {
		d.Set(TransformX, p, -(d.At(TransformXX, p)*e.Center.X + d.At(TransformXY, p)*e.Center.Y))
		d.Set(TransformY, p, -(d.At(TransformYX, p)*e.Center.X + d.At(TransformYY, p)*e.Center.Y))
	}
	return d, nil
}

// Convolve returns the ellipse of the convolution of two Gaussians.
func (e Ellipse) Convolve(o Ellipse) Ellipse {
	return Ellipse{
		Core:   e.Core.Convolve(o.Core),
		Center: Point2d{X: e.Center.X + o.Center.X, Y: e.Center.Y + o.Center.Y},
	}
}
