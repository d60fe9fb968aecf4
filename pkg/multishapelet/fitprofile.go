package multishapelet

import (
	"fmt"
	"math"
)

// MeasureAlgorithm is a per-source measurement plugin. Measure reads the
// record's inputs (center, shape, footprint, and fields written by earlier
// algorithms) and writes its results back under Name-prefixed fields.
type MeasureAlgorithm interface {
	Name() string
	Measure(rec *SourceRecord, exp *Exposure) error
}

// FitProfileControl configures the convolved galaxy profile fit.
type FitProfileControl struct {
	// Name is the field-name prefix under which results are recorded.
	Name string
	// Profile names the registered mixture being fit to the source.
	Profile string
	// PsfName is the field-name prefix of the FitPsf algorithm this fit
	// depends on for the PSF approximation.
	PsfName string
	// MinRadius bounds the fitted ellipse away from degeneracy, in pixels.
	MinRadius float64
	// GrowFootprint expands the fit region by this many pixels.
	GrowFootprint int
	// BadMask selects the mask planes whose pixels are excluded.
	BadMask MaskPixel
	// UsePixelWeights enables per-pixel inverse-variance weighting; when
	// false the mean variance over the fit region is used instead, which
	// avoids biasing the fit toward low-flux pixels.
	UsePixelWeights bool
	// DeconvolveShape starts the fit from a PSF-deconvolved moments
	// estimate rather than the raw observed shape.
	DeconvolveShape bool
	// Optimizer configures the nonlinear fit.
	Optimizer HybridOptimizerControl
}

// NewFitProfileControl returns the default configuration for fitting the
// given profile family.
func NewFitProfileControl(profile string) FitProfileControl {
	return FitProfileControl{
		Name:            "multishapelet." + profile,
		Profile:         profile,
		PsfName:         "multishapelet.psf",
		MinRadius:       0.1,
		GrowFootprint:   5,
		BadMask:         MaskBad | MaskSaturated | MaskEdge,
		DeconvolveShape: true,
		Optimizer:       NewHybridOptimizerControl(),
	}
}

// FitProfileModel is the result of a convolved profile fit: the unconvolved
// reference ellipse, the flux and its uncertainty from the final linear
// step, and whether the nonlinear fit failed.
type FitProfileModel struct {
	Profile string
	Ellipse EllipseCore
	Flux    float64
	FluxErr float64
	Failed  bool
}

// AsMultiShapelet returns the fitted profile, convolved with nothing, as a
// multi-shapelet function centered at the given point with the fitted flux.
func (m *FitProfileModel) AsMultiShapelet(center Point2d) (MultiShapeletFunction, error) {
	components, err := LookupProfile(m.Profile)
	if err != nil {
		return MultiShapeletFunction{}, err
	}
	ellipse := Ellipse{Core: m.Ellipse, Center: center}
	f := MultiShapeletFunction{Elements: make([]ShapeletFunction, len(components))}
	for i, c := range components {
		f.Elements[i] = c.MakeShapelet(ellipse)
	}
	f.MultiplyFlux(m.Flux)
	return f, nil
}

// FitProfileAlgorithm fits an elliptical multi-Gaussian galaxy profile,
// convolved with the previously fit PSF approximation, to each source.
type FitProfileAlgorithm struct {
	ctrl       FitProfileControl
	components MultiGaussianList
	psfProfile string
}

// NewFitProfileAlgorithm validates the control and resolves the PSF fit it
// depends on among the already constructed algorithms.
func NewFitProfileAlgorithm(ctrl FitProfileControl, others map[string]MeasureAlgorithm) (*FitProfileAlgorithm, error) {
	components, err := LookupProfile(ctrl.Profile)
	if err != nil {
		return nil, fmt.Errorf("profile fit configuration: %w", err)
	}
	if ctrl.MinRadius <= 0 {
		return nil, fmt.Errorf("profile fit configuration: minimum radius must be positive: %g", ctrl.MinRadius)
	}
	dep, ok := others[ctrl.PsfName]
	if !ok {
		return nil, fmt.Errorf("profile fit %q depends on algorithm %q, which was not configured", ctrl.Name, ctrl.PsfName)
	}
	psfAlg, ok := dep.(*FitPsfAlgorithm)
	if !ok {
		return nil, fmt.Errorf("profile fit %q depends on algorithm %q, which is not a PSF fit", ctrl.Name, ctrl.PsfName)
	}
	return &FitProfileAlgorithm{
		ctrl:       ctrl,
		components: components,
		psfProfile: psfAlg.Control().Profile,
	}, nil
}

// Name returns the algorithm's field-name prefix.
func (a *FitProfileAlgorithm) Name() string { return a.ctrl.Name }

// Control returns the configuration the algorithm was built with.
func (a *FitProfileAlgorithm) Control() FitProfileControl { return a.ctrl }

// Apply fits the model to prepared inputs given the PSF approximation and an
// observed moments estimate of the source shape. The returned model is the
// best fit found even when Failed is set.
func (a *FitProfileAlgorithm) Apply(inputs *ModelInputHandler, psfModel *FitPsfModel, shape EllipseCore) (*FitProfileModel, error) {
	psfComponents, err := psfModel.Components()
	if err != nil {
		return nil, err
	}
	psfComponents = psfComponents.normalized()
	var start EllipseCore
	if a.ctrl.DeconvolveShape {
		// A failed deconvolution still yields a clipped starting point.
		start, _ = Deconvolve(shape, psfModel.Ellipse, a.components, psfComponents, a.ctrl.MinRadius)
	} else {
		m := a.components.EffectiveMoment()
		start = EllipseCore{Ixx: shape.Ixx / m, Iyy: shape.Iyy / m, Ixy: shape.Ixy / m}
		start, _ = start.Clip(a.ctrl.MinRadius)
	}
	objective, err := NewMultiGaussianObjective(
		inputs, a.components, psfComponents, psfModel.Ellipse, a.ctrl.MinRadius,
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
	model := &FitProfileModel{
		Profile: a.ctrl.Profile,
		Ellipse: core,
		Failed:  state&OptimizerSuccess == 0,
	}
	flux, fluxErr, err := a.fitShapeletTerms(inputs, psfComponents, psfModel.Ellipse, core)
	if err != nil {
		return nil, err
	}
	model.Flux = flux
	model.FluxErr = fluxErr
	return model, nil
}

// mixtureAsShapelets expands a mixture on a reference ellipse into shapelet
// elements.
func mixtureAsShapelets(components MultiGaussianList, ellipse Ellipse) MultiShapeletFunction {
	f := MultiShapeletFunction{Elements: make([]ShapeletFunction, len(components))}
	for i, c := range components {
		f.Elements[i] = c.MakeShapelet(ellipse)
	}
	return f
}

// convolvedUnitModel evaluates the PSF-convolved profile at the given
// reference core, normalized to unit flux, over the handler's pixels. The
// handler's weights, when present, are applied.
func convolvedUnitModel(inputs *ModelInputHandler, components MultiGaussianList, core EllipseCore, psfComponents MultiGaussianList, psfEllipse EllipseCore) ([]float64, error) {
	profile := mixtureAsShapelets(components, Ellipse{Core: core})
	psf := mixtureAsShapelets(psfComponents, Ellipse{Core: psfEllipse})
	convolved, err := profile.Convolve(psf)
	if err != nil {
		return nil, err
	}
	total, err := convolved.Flux()
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("convolved model has zero flux")
	}
	convolved.MultiplyFlux(1 / total)
	builder, err := NewShapeletModelBuilder(inputs.X(), inputs.Y())
	if err != nil {
		return nil, err
	}
	model := make([]float64, inputs.Size())
	for _, e := range convolved.Elements {
		if err := builder.AddModelVector(e, model); err != nil {
			return nil, err
		}
	}
	if w := inputs.Weights(); w != nil {
		for i := range model {
			model[i] *= w[i]
		}
	}
	return model, nil
}

// fitShapeletTerms performs the final linear step: build the unit-flux
// convolved model at the fitted ellipse through the shapelet expansion and
// solve for the flux and its uncertainty against the (weighted) data.
func (a *FitProfileAlgorithm) fitShapeletTerms(inputs *ModelInputHandler, psfComponents MultiGaussianList, psfEllipse EllipseCore, core EllipseCore) (flux, fluxErr float64, err error) {
	model, err := convolvedUnitModel(inputs, a.components, core, psfComponents, psfEllipse)
	if err != nil {
		return 0, 0, err
	}
	data := inputs.Data()
	var mm, md float64
	for i, v := range model {
		mm += v * v
		md += v * data[i]
	}
	if mm <= 0 {
		return 0, 0, fmt.Errorf("model vector vanishes over the fit region")
	}
	return md / mm, 1 / math.Sqrt(mm), nil
}

// Measure fits the profile to the record's footprint and writes the results.
// The exposure must carry a PSF and the PSF fit must have run first.
func (a *FitProfileAlgorithm) Measure(rec *SourceRecord, exp *Exposure) error {
	if !exp.HasPsf() {
		return fmt.Errorf("cannot fit profile: exposure has no PSF")
	}
	psfModel, err := FitPsfModelFromRecord(rec, a.ctrl.PsfName, a.psfProfile)
	if err != nil {
		return fmt.Errorf("profile fit %q: %w", a.ctrl.Name, err)
	}
	if rec.Footprint == nil {
		return fmt.Errorf("record %d has no footprint", rec.ID)
	}
	inputs, err := NewMaskedInputsFromFootprint(
		exp.MaskedImage, rec.Center, rec.Footprint,
		a.ctrl.GrowFootprint, a.ctrl.BadMask, a.ctrl.UsePixelWeights,
	)
	if err != nil {
		return err
	}
	model, err := a.Apply(inputs, psfModel, rec.Shape)
	if err != nil {
		return err
	}
	name := a.ctrl.Name
	rec.Set(name+".ellipse.ixx", model.Ellipse.Ixx)
	rec.Set(name+".ellipse.iyy", model.Ellipse.Iyy)
	rec.Set(name+".ellipse.ixy", model.Ellipse.Ixy)
	rec.Set(name+".flux", model.Flux)
	rec.Set(name+".flux.err", model.FluxErr)
	rec.SetFlag(name+".flags", model.Failed || psfModel.Failed)
	return nil
}
