package multishapelet

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Objective is a least-squares residual function with an analytic Jacobian.
// ComputeFunction fills function with the residual vector at params;
// ComputeDerivative fills derivative (DataSize x ParameterSize) with the
// residual Jacobian and may assume function holds the residuals already
// computed at the same params.
type Objective interface {
	ComputeFunction(params, function []float64) error
	ComputeDerivative(params []float64, function []float64, derivative *mat.Dense) error
	ParameterSize() int
	DataSize() int
}

// MultiGaussianObjective fits an elliptical multi-Gaussian profile, convolved
// with a multi-Gaussian PSF approximation, to the pixels of a
// ModelInputHandler. The three parameters are the quadrupole moments of the
// profile ellipse; the single linear amplitude is solved in closed form on
// every function evaluation, so the optimizer never sees it.
type MultiGaussianObjective struct {
	inputs     *ModelInputHandler
	components MultiGaussianList
	psf        MultiGaussianList
	psfEllipse EllipseCore
	minRadius  float64

	builder   *GaussianModelBuilder
	model     []float64
	modelSq   float64
	amplitude float64
	clipped   bool

	scratch *mat.Dense
}

// NewMultiGaussianObjective builds an objective over the given inputs.
// components describes the profile being fit and psfComponents with
// psfEllipse describe the already-fit PSF. minRadius bounds how small the
// profile ellipse may get when parameters wander out of the valid region.
func NewMultiGaussianObjective(
	inputs *ModelInputHandler,
	components MultiGaussianList,
	psfComponents MultiGaussianList,
	psfEllipse EllipseCore,
	minRadius float64,
) (*MultiGaussianObjective, error) {
	if len(components) == 0 || len(psfComponents) == 0 {
		return nil, fmt.Errorf("objective requires at least one profile and one PSF component")
	}
	if minRadius <= 0 {
		return nil, fmt.Errorf("minimum radius must be positive: %g", minRadius)
	}
	builder, err := NewGaussianModelBuilder(inputs.X(), inputs.Y())
	if err != nil {
		return nil, err
	}
	return &MultiGaussianObjective{
		inputs:     inputs,
		components: components,
		psf:        psfComponents,
		psfEllipse: psfEllipse,
		minRadius:  minRadius,
		builder:    builder,
		model:      make([]float64, inputs.Size()),
		scratch:    mat.NewDense(inputs.Size(), 3, nil),
	}, nil
}

func (obj *MultiGaussianObjective) ParameterSize() int { return 3 }

func (obj *MultiGaussianObjective) DataSize() int { return obj.inputs.Size() }

// Amplitude returns the closed-form amplitude from the most recent
// ComputeFunction call.
func (obj *MultiGaussianObjective) Amplitude() float64 { return obj.amplitude }

// Clipped reports whether the most recent evaluation had to clip the profile
// ellipse to the minimum radius.
func (obj *MultiGaussianObjective) Clipped() bool { return obj.clipped }

// restore converts optimizer parameters to a valid ellipse core, clipping to
// the minimum radius when the moments do not describe a real ellipse.
func (obj *MultiGaussianObjective) restore(params []float64) EllipseCore {
	core := CoreFromParameters(params)
	core, clipped := core.Clip(obj.minRadius)
	obj.clipped = clipped
	return core
}

// convolvedEllipse returns the pixel-space ellipse of profile component k
// convolved with PSF component j, given the unit profile core.
func (obj *MultiGaussianObjective) convolvedEllipse(core EllipseCore, k, j int) EllipseCore {
	return core.Scale(obj.components[k].Radius).Convolve(obj.psfEllipse.Scale(obj.psf[j].Radius))
}

// accumulateModel evaluates the full convolved model with unit amplitude
// into obj.model.
func (obj *MultiGaussianObjective) accumulateModel(core EllipseCore) error {
	for i := range obj.model {
		obj.model[i] = 0
	}
	for k := range obj.components {
		for j := range obj.psf {
			conv := obj.convolvedEllipse(core, k, j)
			// A unit-flux PSF component contributes its weight as a flux
			// fraction, so the convolved peak coefficient is the profile
			// coefficient at the convolved determinant times that weight.
			c := obj.components[k].Coefficient(conv.Det()) * obj.psf[j].Weight
			g, err := obj.builder.ComputeModel(Ellipse{Core: conv})
			if err != nil {
				return err
			}
			for i, v := range g {
				obj.model[i] += c * v
			}
		}
	}
	if w := obj.inputs.Weights(); w != nil {
		for i := range obj.model {
			obj.model[i] *= w[i]
		}
	}
	return nil
}

func (obj *MultiGaussianObjective) ComputeFunction(params, function []float64) error {
	if len(function) != obj.DataSize() {
		return fmt.Errorf("incorrect residual vector size: got %d, expected %d", len(function), obj.DataSize())
	}
	core := obj.restore(params)
	if err := obj.accumulateModel(core); err != nil {
		return err
	}
	data := obj.inputs.Data()
	var mm, md float64
	for i, v := range obj.model {
		mm += v * v
		md += v * data[i]
	}
	obj.modelSq = mm
	if mm > 0 {
		obj.amplitude = md / mm
	} else {
		obj.amplitude = 0
	}
	for i, v := range obj.model {
		function[i] = data[i] - obj.amplitude*v
	}
	return nil
}

func (obj *MultiGaussianObjective) ComputeDerivative(params []float64, function []float64, derivative *mat.Dense) error {
	r, c := derivative.Dims()
	if r != obj.DataSize() || c != obj.ParameterSize() {
		return fmt.Errorf("incorrect Jacobian size: got %dx%d, expected %dx%d", r, c, obj.DataSize(), obj.ParameterSize())
	}
	core := obj.restore(params)
	derivative.Zero()
	weights := obj.inputs.Weights()
	for k := range obj.components {
		rk2 := obj.components[k].Radius * obj.components[k].Radius
		// d(convolved moments)/d(params) is rk^2 times the identity.
		jac := mat.NewDense(3, 3, []float64{
			rk2, 0, 0,
			0, rk2, 0,
			0, 0, rk2,
		})
		for j := range obj.psf {
			conv := obj.convolvedEllipse(core, k, j)
			det := conv.Det()
			coeff := obj.components[k].Coefficient(det) * obj.psf[j].Weight
			g, err := obj.builder.ComputeModel(Ellipse{Core: conv})
			if err != nil {
				return err
			}
			obj.scratch.Zero()
			if err := obj.builder.ComputeDerivative(obj.scratch, Ellipse{Core: conv}, jac, false, true); err != nil {
				return err
			}
			// d(coeff)/dp applies only when the profile component is
			// normalized, via the 1/sqrt(det) factor.
			var dcoeff [3]float64
			if obj.components[k].Normalized {
				factor := -coeff / (2 * det) * rk2
				dcoeff[0] = factor * conv.Iyy
				dcoeff[1] = factor * conv.Ixx
				dcoeff[2] = factor * -2 * conv.Ixy
			}
			for i := 0; i < obj.DataSize(); i++ {
				for p := 0; p < 3; p++ {
					v := coeff*obj.scratch.At(i, p) + g[i]*dcoeff[p]
					if weights != nil {
						v *= weights[i]
					}
					derivative.Set(i, p, derivative.At(i, p)+v)
				}
			}
		}
	}
	// Residual is data - amplitude*model, so the residual Jacobian is the
	// negated model Jacobian scaled by the fixed amplitude.
	derivative.Scale(-obj.amplitude, derivative)
	return nil
}
