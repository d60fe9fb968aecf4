package multishapelet

import (
	"fmt"
	"math"
)

// ShapeletFunction is a Gauss-Hermite expansion attached to an ellipse: the
// packed coefficient vector scales basis functions evaluated in the ellipse's
// unit-circle frame, with the transform determinant folded in so that the
// plane integral of the expansion is independent of the ellipse.
type ShapeletFunction struct {
	Order        int
	Ellipse      Ellipse
	Coefficients []float64
}

// NewShapeletFunction returns a zero expansion of the given order.
func NewShapeletFunction(order int, ellipse Ellipse) ShapeletFunction {
	return ShapeletFunction{
		Order:        order,
		Ellipse:      ellipse,
		Coefficients: make([]float64, PackedSize(order)),
	}
}

// Evaluate returns the expansion value at the given point. For repeated
// evaluation over many points prefer ShapeletModelBuilder, which amortizes
// the evaluator workspace.
func (f ShapeletFunction) Evaluate(p Point2d) (float64, error) {
	h := NewHermiteEvaluator(f.Order)
	return f.evaluate(h, p)
}

func (f ShapeletFunction) evaluate(h *HermiteEvaluator, p Point2d) (float64, error) {
	t, err := f.Ellipse.GridTransform()
	if err != nil {
		return 0, err
	}
	zx, zy := t.Apply(p.X, p.Y)
	v, err := h.SumEvaluation(f.Coefficients, zx, zy)
	if err != nil {
		return 0, err
	}
	return v * t.Det(), nil
}

// Flux returns the integral of the expansion over the plane.
func (f ShapeletFunction) Flux() (float64, error) {
	h := NewHermiteEvaluator(f.Order)
	return h.SumIntegration(f.Coefficients, 0, 0)
}

// Convolve returns the convolution of two expansions. Only zeroth-order
// (Gaussian) operands are supported: moment matrices add and fluxes multiply.
func (f ShapeletFunction) Convolve(g ShapeletFunction) (ShapeletFunction, error) {
	if f.Order != 0 || g.Order != 0 {
		return ShapeletFunction{}, fmt.Errorf("convolution requires zeroth-order expansions, got orders %d and %d", f.Order, g.Order)
	}
	out := NewShapeletFunction(0, f.Ellipse.Convolve(g.Ellipse))
	out.Coefficients[0] = 2 * math.SqrtPi * f.Coefficients[0] * g.Coefficients[0]
	return out, nil
}

// MultiShapeletFunction is a sum of shapelet expansions.
type MultiShapeletFunction struct {
	Elements []ShapeletFunction
}

// Evaluate returns the summed value at the given point.
func (m MultiShapeletFunction) Evaluate(p Point2d) (float64, error) {
	sum := 0.0
	for _, el := range m.Elements {
		v, err := el.Evaluate(p)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

// Flux returns the summed plane integral.
func (m MultiShapeletFunction) Flux() (float64, error) {
	sum := 0.0
	for _, el := range m.Elements {
		v, err := el.Flux()
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

// Convolve returns the element-pairwise convolution of two multi-shapelet
// functions.
func (m MultiShapeletFunction) Convolve(o MultiShapeletFunction) (MultiShapeletFunction, error) {
	out := MultiShapeletFunction{Elements: make([]ShapeletFunction, 0, len(m.Elements)*len(o.Elements))}
	for _, a := range m.Elements {
		for _, b := range o.Elements {
			c, err := a.Convolve(b)
			if err != nil {
				return MultiShapeletFunction{}, err
			}
			out.Elements = append(out.Elements, c)
		}
	}
	return out, nil
}

// MultiplyFlux scales every element's coefficients by f.
func (m *MultiShapeletFunction) MultiplyFlux(f float64) {
	for _, el := range m.Elements {
		for i := range el.Coefficients {
			el.Coefficients[i] *= f
		}
	}
}

// ShapeletModelBuilder evaluates shapelet expansions over a fixed pixel
// coordinate set, reusing one evaluator workspace per expansion.
type ShapeletModelBuilder struct {
	x, y []float64
}

// NewShapeletModelBuilder constructs a builder over the coordinate vectors,
// which must have equal length. The slices are retained, not copied.
func NewShapeletModelBuilder(x, y []float64) (*ShapeletModelBuilder, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("coordinate vectors have mismatched lengths %d and %d", len(x), len(y))
	}
	return &ShapeletModelBuilder{x: x, y: y}, nil
}

// AddModelVector accumulates the expansion's value at every pixel into out,
// which must match the coordinate count.
func (b *ShapeletModelBuilder) AddModelVector(f ShapeletFunction, out []float64) error {
	if len(out) != len(b.x) {
		return fmt.Errorf("incorrect size for array: got %d, expected %d", len(out), len(b.x))
	}
	t, err := f.Ellipse.GridTransform()
	if err != nil {
		return err
	}
	det := t.Det()
	h := NewHermiteEvaluator(f.Order)
	for i := range b.x {
		zx, zy := t.Apply(b.x[i], b.y[i])
		v, err := h.SumEvaluation(f.Coefficients, zx, zy)
		if err != nil {
			return err
		}
		out[i] += v * det
	}
	return nil
}
