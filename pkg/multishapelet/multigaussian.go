package multishapelet

import (
	"fmt"
	"math"
	"sort"
)

// MultiGaussianComponent is one Gaussian in a mixture approximating a radial
// profile: a relative weight and a radius factor applied to the mixture's
// reference ellipse. With Normalized set the weight is the component's
// integrated flux; otherwise it is the central surface brightness.
type MultiGaussianComponent struct {
	Weight     float64
	Radius     float64
	Normalized bool
}

// Coefficient returns the multiplier on the unit-peak Gaussian for a component
// whose convolved moment matrix has the given determinant.
func (c MultiGaussianComponent) Coefficient(det float64) float64 {
	if !c.Normalized {
		return c.Weight
	}
	return c.Weight / (2 * math.Pi * math.Sqrt(det))
}

// MakeShapelet returns the component as a zeroth-order shapelet expansion on
// the given reference ellipse.
func (c MultiGaussianComponent) MakeShapelet(ellipse Ellipse) ShapeletFunction {
	scaled := Ellipse{Core: ellipse.Core.Scale(c.Radius), Center: ellipse.Center}
	f := NewShapeletFunction(0, scaled)
	if c.Normalized {
		f.Coefficients[0] = c.Weight / (2 * math.SqrtPi)
	} else {
		f.Coefficients[0] = c.Weight * math.SqrtPi * math.Sqrt(scaled.Core.Det())
	}
	return f
}

// MultiGaussianList is an ordered mixture of components defining one profile
// family. Lists obtained from the registry have weights normalized to unit
// total flux.
type MultiGaussianList []MultiGaussianComponent

// TotalWeight returns the sum of the component weights.
func (l MultiGaussianList) TotalWeight() float64 {
	sum := 0.0
	for _, c := range l {
		sum += c.Weight
	}
	return sum
}

// EffectiveMoment returns the weighted mean squared radius factor, the scale
// relating the mixture's second moments to its reference ellipse.
func (l MultiGaussianList) EffectiveMoment() float64 {
	var num, den float64
	for _, c := range l {
		num += c.Weight * c.Radius * c.Radius
		den += c.Weight
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// normalized returns a copy with weights scaled to sum to one.
func (l MultiGaussianList) normalized() MultiGaussianList {
	total := l.TotalWeight()
	out := make(MultiGaussianList, len(l))
	for i, c := range l {
		out[i] = MultiGaussianComponent{Weight: c.Weight / total, Radius: c.Radius, Normalized: c.Normalized}
	}
	return out
}

// DeltaFunctionMixture is the single-component mixture with zero radius, used
// as the PSF mixture when fitting without convolution.
func DeltaFunctionMixture() MultiGaussianList {
	return MultiGaussianList{{Weight: 1, Radius: 0, Normalized: true}}
}

// Multi-Gaussian approximations to the standard radial profiles
// (Hogg & Lang 2013 style mixtures), radii in units of the half-light radius.
// The registry is populated once from this table and never mutated afterwards,
// so concurrent lookups need no locking.
var builtinProfiles = map[string]MultiGaussianList{
	"gaussian": {
		{Weight: 1.0, Radius: 1.0, Normalized: true},
	},
	// Double-Gaussian PSF approximation: a compact core with a broader halo.
	"dgauss": {
		{Weight: 0.8, Radius: 1.0, Normalized: true},
		{Weight: 0.2, Radius: 2.0, Normalized: true},
	},
	"exp": {
		{Weight: 0.00235, Radius: 0.0347, Normalized: true},
		{Weight: 0.03080, Radius: 0.0941, Normalized: true},
		{Weight: 0.22336, Radius: 0.1979, Normalized: true},
		{Weight: 1.17949, Radius: 0.3742, Normalized: true},
		{Weight: 4.33874, Radius: 0.6790, Normalized: true},
		{Weight: 5.99821, Radius: 1.2255, Normalized: true},
	},
	"dev": {
		{Weight: 0.04263, Radius: 0.01496, Normalized: true},
		{Weight: 0.24013, Radius: 0.03166, Normalized: true},
		{Weight: 0.68591, Radius: 0.06471, Normalized: true},
		{Weight: 1.51937, Radius: 0.13017, Normalized: true},
		{Weight: 2.83627, Radius: 0.26170, Normalized: true},
		{Weight: 4.46468, Radius: 0.53592, Normalized: true},
		{Weight: 5.72441, Radius: 1.15464, Normalized: true},
		{Weight: 5.60989, Radius: 2.89865, Normalized: true},
	},
}

var profileRegistry map[string]MultiGaussianList

func init() {
	profileRegistry = make(map[string]MultiGaussianList, len(builtinProfiles))
	for name, list := range builtinProfiles {
		profileRegistry[name] = list.normalized()
	}
}

// LookupProfile returns the named mixture with unit total flux. Unknown names
// are configuration errors.
func LookupProfile(name string) (MultiGaussianList, error) {
	list, ok := profileRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown multi-Gaussian profile %q", name)
	}
	return list, nil
}

// ProfileNames returns the registered profile names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profileRegistry))
	for name := range profileRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deconvolve estimates the unconvolved reference core of a mixture given an
// observed (convolved) shape, the PSF reference ellipse, and the two mixtures.
// It inverts the moment relation shape = mProfile*core + mPsf*psf, where the
// m factors are the mixtures' effective squared radii. When the subtraction
// leaves a non-positive-definite core the result is clipped to minRadius and
// an error is returned alongside the best-effort estimate.
func Deconvolve(shape, psfEllipse EllipseCore, components, psfComponents MultiGaussianList, minRadius float64) (EllipseCore, error) {
	mProfile := components.EffectiveMoment()
	mPsf := psfComponents.EffectiveMoment()
	if mProfile <= 0 {
		return EllipseCore{}, fmt.Errorf("profile mixture has non-positive effective moment %g", mProfile)
	}
	core := EllipseCore{
		Ixx: (shape.Ixx - mPsf*psfEllipse.Ixx) / mProfile,
		Iyy: (shape.Iyy - mPsf*psfEllipse.Iyy) / mProfile,
		Ixy: (shape.Ixy - mPsf*psfEllipse.Ixy) / mProfile,
	}
	if clipped, wasClipped := core.Clip(minRadius); wasClipped {
		return clipped, fmt.Errorf("deconvolved shape is not positive definite; clipped to minimum radius %g", minRadius)
	}
	return core, nil
}
