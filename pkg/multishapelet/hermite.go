package multishapelet

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// basisRoot0 is the value of the zeroth Gauss-Hermite function at x=0 scale,
// pi^(-1/4), and basisIntegral0 its integral over the real line.
var (
	basisRoot0     = math.Pow(math.Pi, -0.25)
	basisIntegral0 = math.Sqrt2 * math.Pow(math.Pi, 0.25)
)

// HermiteEvaluator evaluates 2D Gauss-Hermite (shapelet) basis functions over
// the packed triangular coefficient layout. It is constructed once for a fixed
// maximum order and reused across evaluation points; the four workspace
// buffers are private caches and must not be shared across goroutines.
type HermiteEvaluator struct {
	order    int
	wx, wy   []float64
	dwx, dwy []float64
}

// NewHermiteEvaluator returns an evaluator for basis functions up to the given
// maximum combined order.
func NewHermiteEvaluator(order int) *HermiteEvaluator {
	if order < 0 {
		panic("shapelet order must be non-negative")
	}
	return &HermiteEvaluator{
		order: order,
		wx:    make([]float64, order+1),
		wy:    make([]float64, order+1),
		dwx:   make([]float64, order+1),
		dwy:   make([]float64, order+1),
	}
}

// Order returns the maximum combined order of the basis.
func (h *HermiteEvaluator) Order() int { return h.order }

// fill1d evaluates the 1D Gauss-Hermite functions psi_0..psi_order at t using
// the two-term recurrence psi_n = sqrt(2/n) t psi_(n-1) - sqrt((n-1)/n) psi_(n-2).
func fill1d(ws []float64, t float64) {
	ws[0] = basisRoot0 * math.Exp(-0.5*t*t)
	if len(ws) > 1 {
		ws[1] = math.Sqrt2 * t * ws[0]
	}
	for n := 2; n < len(ws); n++ {
		ws[n] = math.Sqrt(2.0/float64(n))*t*ws[n-1] - math.Sqrt(float64(n-1)/float64(n))*ws[n-2]
	}
}

// fillDeriv1d fills the derivatives using psi'_n = sqrt(2n) psi_(n-1) - t psi_n,
// given the already-filled function values.
func fillDeriv1d(dws, ws []float64, t float64) {
	dws[0] = -t * ws[0]
	for n := 1; n < len(ws); n++ {
		dws[n] = math.Sqrt(2*float64(n))*ws[n-1] - t*ws[n]
	}
}

// FillEvaluation fills target so that its dot product with a packed coefficient
// vector evaluates the shapelet expansion at (x, y). If dx or dy is non-nil it
// is filled with the corresponding partial-derivative vector. All provided
// slices must have length PackedSize(order).
func (h *HermiteEvaluator) FillEvaluation(target []float64, x, y float64, dx, dy []float64) error {
	size := PackedSize(h.order)
	if len(target) != size {
		return fmt.Errorf("evaluation target has length %d, expected %d", len(target), size)
	}
	if dx != nil && len(dx) != size {
		return fmt.Errorf("dx target has length %d, expected %d", len(dx), size)
	}
	if dy != nil && len(dy) != size {
		return fmt.Errorf("dy target has length %d, expected %d", len(dy), size)
	}
	fill1d(h.wx, x)
	fill1d(h.wy, y)
	if dx != nil {
		fillDeriv1d(h.dwx, h.wx, x)
	}
	if dy != nil {
		fillDeriv1d(h.dwy, h.wy, y)
	}
	for idx := NewPackedIndex(); idx.Order() <= h.order; idx.Next() {
		target[idx.Index()] = h.wx[idx.X()] * h.wy[idx.Y()]
		if dx != nil {
			dx[idx.Index()] = h.dwx[idx.X()] * h.wy[idx.Y()]
		}
		if dy != nil {
			dy[idx.Index()] = h.wx[idx.X()] * h.dwy[idx.Y()]
		}
	}
	return nil
}

// SumEvaluation evaluates the expansion with the given packed coefficients at (x, y).
func (h *HermiteEvaluator) SumEvaluation(coeff []float64, x, y float64) (float64, error) {
	if len(coeff) != PackedSize(h.order) {
		return 0, fmt.Errorf("coefficient vector has length %d, expected %d", len(coeff), PackedSize(h.order))
	}
	fill1d(h.wx, x)
	fill1d(h.wy, y)
	sum := 0.0
	for idx := NewPackedIndex(); idx.Order() <= h.order; idx.Next() {
		sum += coeff[idx.Index()] * h.wx[idx.X()] * h.wy[idx.Y()]
	}
	return sum, nil
}

// integrate1d returns the integrals of t^moment * psi_n(t) over the real line
// for n = 0..order. The moment-free case follows a_n = sqrt((n-1)/n) a_(n-2);
// each moment level is reduced through t psi_n = sqrt((n+1)/2) psi_(n+1) +
// sqrt(n/2) psi_(n-1).
func integrate1d(order, moment int) []float64 {
	cur := make([]float64, order+moment+1)
	cur[0] = basisIntegral0
	for n := 2; n < len(cur); n += 2 {
		cur[n] = math.Sqrt(float64(n-1)/float64(n)) * cur[n-2]
	}
	for m := 0; m < moment; m++ {
		next := make([]float64, len(cur)-1)
		for n := range next {
			v := math.Sqrt(float64(n+1)/2) * cur[n+1]
			if n > 0 {
				v += math.Sqrt(float64(n)/2) * cur[n-1]
			}
			next[n] = v
		}
		cur = next
	}
	return cur[:order+1]
}

// FillIntegration fills target so that its dot product with a packed
// coefficient vector integrates the expansion over the plane, optionally
// weighted by x^xMoment * y^yMoment.
func (h *HermiteEvaluator) FillIntegration(target []float64, xMoment, yMoment int) error {
	if len(target) != PackedSize(h.order) {
		return fmt.Errorf("integration target has length %d, expected %d", len(target), PackedSize(h.order))
	}
	if xMoment < 0 || yMoment < 0 {
		return fmt.Errorf("moments must be non-negative, got (%d, %d)", xMoment, yMoment)
	}
	ix := integrate1d(h.order, xMoment)
	iy := integrate1d(h.order, yMoment)
	for idx := NewPackedIndex(); idx.Order() <= h.order; idx.Next() {
		target[idx.Index()] = ix[idx.X()] * iy[idx.Y()]
	}
	return nil
}

// SumIntegration integrates the expansion with the given packed coefficients.
func (h *HermiteEvaluator) SumIntegration(coeff []float64, xMoment, yMoment int) (float64, error) {
	target := make([]float64, PackedSize(h.order))
	if err := h.FillIntegration(target, xMoment, yMoment); err != nil {
		return 0, err
	}
	if len(coeff) != len(target) {
		return 0, fmt.Errorf("coefficient vector has length %d, expected %d", len(coeff), len(target))
	}
	sum := 0.0
	for i := range coeff {
		sum += coeff[i] * target[i]
	}
	return sum, nil
}

// HermiteInnerProductMatrix returns the matrix of function inner products
// between two packed bases with different scales,
//
//	M[i][j] = integral psi_i(a*x) psi_j(b*x) d^2x,
//
// computed from the closed-form recurrence for the 1D two-scale products
// rather than by numerical integration. At a == b the result is the identity
// scaled by 1/a^2.
func HermiteInnerProductMatrix(rowOrder, colOrder int, a, b float64) *mat.Dense {
	// 1D table: p[m][n] = integral psi_m(a t) psi_n(b t) dt. Entries with
	// m+n odd vanish by parity.
	rows1d := rowOrder + 1
	cols1d := colOrder + 1
	p := make([][]float64, rows1d)
	for m := range p {
		p[m] = make([]float64, cols1d)
	}
	q := a*a + b*b
	p[0][0] = math.Sqrt(2 / q)
	get := func(m, n int) float64 {
		if m < 0 || n < 0 || m >= rows1d || n >= cols1d {
			return 0
		}
		return p[m][n]
	}
	for m := 0; m < rows1d; m++ {
		for n := 0; n < cols1d; n++ {
			if m == 0 && n == 0 {
				continue
			}
			if m > 0 {
				p[m][n] = (a*a-b*b)/q*math.Sqrt(float64(m-1)/float64(m))*get(m-2, n) +
					2*a*b/q*math.Sqrt(float64(n)/float64(m))*get(m-1, n-1)
			} else {
				p[m][n] = (b*b-a*a)/q*math.Sqrt(float64(n-1)/float64(n))*get(m, n-2) +
					2*a*b/q*math.Sqrt(float64(m)/float64(n))*get(m-1, n-1)
			}
		}
	}

	out := mat.NewDense(PackedSize(rowOrder), PackedSize(colOrder), nil)
	for i := NewPackedIndex(); i.Order() <= rowOrder; i.Next() {
		for j := NewPackedIndex(); j.Order() <= colOrder; j.Next() {
			out.Set(i.Index(), j.Index(), p[i.X()][j.X()]*p[i.Y()][j.Y()])
		}
	}
	return out
}
