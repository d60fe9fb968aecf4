package multishapelet

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// GaussianModelBuilder evaluates a single elliptical Gaussian, and its
// derivatives with respect to the ellipse moments, over a fixed set of pixel
// coordinates. The coordinate table is built once; ComputeModel and
// ComputeDerivative are called many times with varying ellipses.
type GaussianModelBuilder struct {
	x, y     []float64
	xt, yt   []float64
	model    []float64
	hasModel bool

	// skipFactor scales the sparsity threshold (machine epsilon times the
	// Jacobian infinity norm) below which derivative terms are skipped.
	// Zero disables skipping. This is a performance policy only; results
	// agree to round-off either way.
	skipFactor float64
}

func newGaussianModelBuilder(x, y []float64) *GaussianModelBuilder {
	n := len(x)
	return &GaussianModelBuilder{
		x: x, y: y,
		xt:         make([]float64, n),
		yt:         make([]float64, n),
		model:      make([]float64, n),
		skipFactor: 1,
	}
}

// NewGaussianModelBuilder constructs a builder over explicit coordinate
// vectors, which must have equal length. The slices are retained, not copied.
func NewGaussianModelBuilder(x, y []float64) (*GaussianModelBuilder, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("coordinate vectors have mismatched lengths %d and %d", len(x), len(y))
	}
	return newGaussianModelBuilder(x, y), nil
}

// NewGaussianModelBuilderFromFootprint constructs a builder over the
// footprint's pixels in span order.
func NewGaussianModelBuilderFromFootprint(fp *Footprint) *GaussianModelBuilder {
	x := make([]float64, 0, fp.Area())
	y := make([]float64, 0, fp.Area())
	for _, s := range fp.Spans() {
		for ix := s.X0; ix <= s.X1; ix++ {
			x = append(x, float64(ix))
			y = append(y, float64(s.Y))
		}
	}
	return newGaussianModelBuilder(x, y)
}

// NewGaussianModelBuilderFromBox constructs a builder over every pixel of the
// box in row-major order.
func NewGaussianModelBuilderFromBox(box image.Rectangle) *GaussianModelBuilder {
	x := make([]float64, 0, box.Dx()*box.Dy())
	y := make([]float64, 0, box.Dx()*box.Dy())
	for iy := box.Min.Y; iy < box.Max.Y; iy++ {
		for ix := box.Min.X; ix < box.Max.X; ix++ {
			x = append(x, float64(ix))
			y = append(y, float64(iy))
		}
	}
	return newGaussianModelBuilder(x, y)
}

// Size returns the number of pixels in the coordinate table.
func (b *GaussianModelBuilder) Size() int { return len(b.x) }

// SetSparsityFactor adjusts the derivative skip threshold; see skipFactor.
func (b *GaussianModelBuilder) SetSparsityFactor(f float64) { b.skipFactor = f }

// ComputeModel evaluates exp(-0.5*|T x|^2) for every pixel, where T is the
// ellipse's grid transform. The returned slice is an internal buffer, valid
// until the next ComputeModel or ComputeDerivative call; treat it as read-only.
func (b *GaussianModelBuilder) ComputeModel(ellipse Ellipse) ([]float64, error) {
	t, err := ellipse.GridTransform()
	if err != nil {
		return nil, err
	}
	for i := range b.x {
		xt, yt := t.Apply(b.x[i], b.y[i])
		b.xt[i] = xt
		b.yt[i] = yt
		b.model[i] = math.Exp(-0.5 * (xt*xt + yt*yt))
	}
	b.hasModel = true
	return b.model, nil
}

// Model returns the last computed model vector under the same borrow contract
// as ComputeModel.
func (b *GaussianModelBuilder) Model() []float64 { return b.model }

// ComputeDerivative fills (or, with add set, accumulates into) output with the
// per-pixel partial derivatives of the model. With a nil jacobian the columns
// are the derivatives with respect to the three ellipse moments; otherwise
// jacobian must be a 3 x P matrix mapping the moments onto P external
// parameters, applied by the chain rule. With reuseModel set the model from
// the previous ComputeModel call is reused instead of recomputed.
func (b *GaussianModelBuilder) ComputeDerivative(output *mat.Dense, ellipse Ellipse, jacobian *mat.Dense, add, reuseModel bool) error {
	if !reuseModel || !b.hasModel {
		if _, err := b.ComputeModel(ellipse); err != nil {
			return err
		}
	}
	gt, err := ellipse.GridTransformDeriv()
	if err != nil {
		return err
	}
	full := gt
	if jacobian != nil {
		jr, jc := jacobian.Dims()
		if jr != 3 {
			return fmt.Errorf("parameter jacobian has %d rows, expected 3", jr)
		}
		full = mat.NewDense(NumTransformParams, jc, nil)
		full.Mul(gt, jacobian)
	}
	rows, cols := output.Dims()
	_, nParams := full.Dims()
	if rows != len(b.x) {
		return fmt.Errorf("incorrect number of rows for array: got %d, expected %d", rows, len(b.x))
	}
	if cols != nParams {
		return fmt.Errorf("mismatch between array (%d) and jacobian dimensions (%d)", cols, nParams)
	}
	if !add {
		output.Zero()
	}

	// The transform jacobian is usually sparse; inspect each entry and only
	// accumulate the products that contribute above round-off.
	eps := 0.0
	if b.skipFactor > 0 {
		norm := 0.0
		for r := 0; r < NumTransformParams; r++ {
			sum := 0.0
			for c := 0; c < nParams; c++ {
				sum += math.Abs(full.At(r, c))
			}
			if sum > norm {
				norm = sum
			}
		}
		eps = machineEpsilon * norm * b.skipFactor
	}

	for n := 0; n < nParams; n++ {
		jxx := full.At(TransformXX, n)
		jxy := full.At(TransformXY, n)
		jx := full.At(TransformX, n)
		jyx := full.At(TransformYX, n)
		jyy := full.At(TransformYY, n)
		jy := full.At(TransformY, n)
		for i := range b.x {
			dfdx := -b.xt[i] * b.model[i]
			dfdy := -b.yt[i] * b.model[i]
			v := output.At(i, n)
			if math.Abs(jxx) > eps {
				v += jxx * b.x[i] * dfdx
			}
			if math.Abs(jxy) > eps {
				v += jxy * b.y[i] * dfdx
			}
			if math.Abs(jx) > eps {
				v += jx * dfdx
			}
			if math.Abs(jyx) > eps {
				v += jyx * b.x[i] * dfdy
			}
			if math.Abs(jyy) > eps {
				v += jyy * b.y[i] * dfdy
			}
			if math.Abs(jy) > eps {
				v += jy * dfdy
			}
			output.Set(i, n, v)
		}
	}
	return nil
}

const machineEpsilon = 2.220446049250313e-16
