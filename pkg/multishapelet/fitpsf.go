package multishapelet

import (
	"fmt"
)

// FitPsfControl configures the multi-Gaussian PSF approximation fit.
type FitPsfControl struct {
	// Name is the field-name prefix under which results are recorded.
	Name string
	// Profile names the registered mixture used to approximate the PSF.
	Profile string
	// MinRadius bounds the fitted ellipse away from degeneracy, in pixels.
	MinRadius float64
	// Optimizer configures the nonlinear fit.
	Optimizer HybridOptimizerControl
}

// NewFitPsfControl returns the default PSF fit configuration.
func NewFitPsfControl() FitPsfControl {
	return FitPsfControl{
		Name:      "multishapelet.psf",
		Profile:   "dgauss",
		MinRadius: 0.1,
		Optimizer: NewHybridOptimizerControl(),
	}
}

// FitPsfModel is the result of approximating a PSF image with an elliptical
// multi-Gaussian mixture: the mixture name, the fitted reference ellipse and
// amplitude, and whether the fit failed. A failed model still carries the
// best parameters found.
type FitPsfModel struct {
	Profile   string
	Ellipse   EllipseCore
	Amplitude float64
	Failed    bool
}

// Components returns the model's mixture, scaled by the fitted amplitude.
func (m *FitPsfModel) Components() (MultiGaussianList, error) {
	list, err := LookupProfile(m.Profile)
	if err != nil {
		return nil, err
	}
	out := make(MultiGaussianList, len(list))
	for i, c := range list {
		out[i] = MultiGaussianComponent{
			Weight:     c.Weight * m.Amplitude,
			Radius:     c.Radius,
			Normalized: c.Normalized,
		}
	}
	return out, nil
}

// AsMultiShapelet returns the model as a multi-shapelet function centered at
// the given point.
func (m *FitPsfModel) AsMultiShapelet(center Point2d) (MultiShapeletFunction, error) {
	components, err := m.Components()
	if err != nil {
		return MultiShapeletFunction{}, err
	}
	ellipse := Ellipse{Core: m.Ellipse, Center: center}
	f := MultiShapeletFunction{Elements: make([]ShapeletFunction, len(components))}
	for i, c := range components {
		f.Elements[i] = c.MakeShapelet(ellipse)
	}
	return f, nil
}

// FitPsfModelFromRecord reconstructs a previously recorded model from the
// fields written under the given name prefix.
func FitPsfModelFromRecord(rec *SourceRecord, name, profile string) (*FitPsfModel, error) {
	ixx, err := rec.Get(name + ".ellipse.ixx")
	if err != nil {
		return nil, err
	}
	iyy, err := rec.Get(name + ".ellipse.iyy")
	if err != nil {
		return nil, err
	}
	ixy, err := rec.Get(name + ".ellipse.ixy")
	if err != nil {
		return nil, err
	}
	amplitude, err := rec.Get(name + ".flux")
	if err != nil {
		return nil, err
	}
	return &FitPsfModel{
		Profile:   profile,
		Ellipse:   EllipseCore{Ixx: ixx, Iyy: iyy, Ixy: ixy},
		Amplitude: amplitude,
		Failed:    rec.GetFlag(name + ".flags"),
	}, nil
}

// FitPsfAlgorithm fits a multi-Gaussian approximation to the PSF realized at
// each source position.
type FitPsfAlgorithm struct {
	ctrl       FitPsfControl
	components MultiGaussianList
}

// NewFitPsfAlgorithm validates the control and resolves its profile.
func NewFitPsfAlgorithm(ctrl FitPsfControl) (*FitPsfAlgorithm, error) {
	components, err := LookupProfile(ctrl.Profile)
	if err != nil {
		return nil, fmt.Errorf("PSF fit configuration: %w", err)
	}
	if ctrl.MinRadius <= 0 {
		return nil, fmt.Errorf("PSF fit configuration: minimum radius must be positive: %g", ctrl.MinRadius)
	}
	return &FitPsfAlgorithm{ctrl: ctrl, components: components}, nil
}

// Name returns the algorithm's field-name prefix.
func (a *FitPsfAlgorithm) Name() string { return a.ctrl.Name }

// Control returns the configuration the algorithm was built with.
func (a *FitPsfAlgorithm) Control() FitPsfControl { return a.ctrl }

// Apply fits the model to prepared inputs, starting from the given moments
// estimate. The PSF image is its own data here, so the fit uses no further
// convolution.
func (a *FitPsfAlgorithm) Apply(inputs *ModelInputHandler, moments EllipseCore) (*FitPsfModel, error) {
	// Undo the mixture's effective moment so the observed second moments
	// match at the starting point.
	m := a.components.EffectiveMoment()
	start := EllipseCore{
		Ixx: moments.Ixx / m,
		Iyy: moments.Iyy / m,
		Ixy: moments.Ixy / m,
	}
	if clipped, was := start.Clip(a.ctrl.MinRadius); was {
		start = clipped
	}
	objective, err := NewMultiGaussianObjective(
		inputs, a.components, DeltaFunctionMixture(), EllipseCore{}, a.ctrl.MinRadius,
	)
	if err != nil {
		return nil, err
	}
	params := make([]float64, 3)
	start.WriteParameters(params)
	opt, err := NewHybridOptimizer(objective, params, a.ctrl.Optimizer)
	if err != nil {
		return nil, err
	}
	state, err := opt.Run()
	if err != nil {
		return nil, err
	}
	core := CoreFromParameters(opt.Parameters())
	core, _ = core.Clip(a.ctrl.MinRadius)
	return &FitPsfModel{
		Profile:   a.ctrl.Profile,
		Ellipse:   core,
		Amplitude: objective.Amplitude(),
		Failed:    state&OptimizerSuccess == 0,
	}, nil
}

// Measure realizes the exposure's PSF at the record's center, fits the model
// to the resulting image, and records the results.
func (a *FitPsfAlgorithm) Measure(rec *SourceRecord, exp *Exposure) error {
	if !exp.HasPsf() {
		return fmt.Errorf("cannot fit PSF approximation: exposure has no PSF")
	}
	im, err := exp.Psf.ComputeImage(rec.Center)
	if err != nil {
		return fmt.Errorf("computing PSF image for record %d: %w", rec.ID, err)
	}
	center, moments := ImageMoments(im)
	inputs, err := NewInputsFromBox(im, center, im.Bounds())
	if err != nil {
		return err
	}
	model, err := a.Apply(inputs, moments)
	if err != nil {
		return err
	}
	name := a.ctrl.Name
	rec.Set(name+".ellipse.ixx", model.Ellipse.Ixx)
	rec.Set(name+".ellipse.iyy", model.Ellipse.Iyy)
	rec.Set(name+".ellipse.ixy", model.Ellipse.Ixy)
	rec.Set(name+".flux", model.Amplitude)
	rec.SetFlag(name+".flags", model.Failed)
	return nil
}
