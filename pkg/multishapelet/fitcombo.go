package multishapelet

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// FitComboControl configures the exponential/de Vaucouleurs combination fit.
type FitComboControl struct {
	// Name is the field-name prefix under which results are recorded.
	Name string
	// ExpName and DevName are the field-name prefixes of the two profile
	// fits whose fitted ellipses the combination reuses.
	ExpName string
	DevName string
	// PsfName is the field-name prefix of the FitPsf algorithm.
	PsfName string
	// GrowFootprint, BadMask and UsePixelWeights select the fit region the
	// same way FitProfileControl does.
	GrowFootprint   int
	BadMask         MaskPixel
	UsePixelWeights bool
}

// NewFitComboControl returns the default combination fit configuration.
func NewFitComboControl() FitComboControl {
	return FitComboControl{
		Name:          "multishapelet.combo",
		ExpName:       "multishapelet.exp",
		DevName:       "multishapelet.dev",
		PsfName:       "multishapelet.psf",
		GrowFootprint: 5,
		BadMask:       MaskBad | MaskSaturated | MaskEdge,
	}
}

// FitComboModel is the result of fitting a non-negative linear combination
// of the exponential and de Vaucouleurs models at their separately fitted
// ellipses. FracDev is the fraction of the total flux carried by the de
// Vaucouleurs component.
type FitComboModel struct {
	Flux    float64
	FluxErr float64
	FracDev float64
	Failed  bool
}

// FitComboAlgorithm fits the two-component bulge-plus-disk combination.
type FitComboAlgorithm struct {
	ctrl       FitComboControl
	exp        MultiGaussianList
	dev        MultiGaussianList
	expProfile string
	devProfile string
	psfProfile string
	psfName    string
}

// NewFitComboAlgorithm resolves the two profile fits and the PSF fit it
// depends on among the already constructed algorithms.
func NewFitComboAlgorithm(ctrl FitComboControl, others map[string]MeasureAlgorithm) (*FitComboAlgorithm, error) {
	resolve := func(name string) (*FitProfileAlgorithm, error) {
		dep, ok := others[name]
		if !ok {
			return nil, fmt.Errorf("combination fit %q depends on algorithm %q, which was not configured", ctrl.Name, name)
		}
		alg, ok := dep.(*FitProfileAlgorithm)
		if !ok {
			return nil, fmt.Errorf("combination fit %q depends on algorithm %q, which is not a profile fit", ctrl.Name, name)
		}
		return alg, nil
	}
	expAlg, err := resolve(ctrl.ExpName)
	if err != nil {
		return nil, err
	}
	devAlg, err := resolve(ctrl.DevName)
	if err != nil {
		return nil, err
	}
	expComponents, err := LookupProfile(expAlg.Control().Profile)
	if err != nil {
		return nil, err
	}
	devComponents, err := LookupProfile(devAlg.Control().Profile)
	if err != nil {
		return nil, err
	}
	dep, ok := others[ctrl.PsfName]
	if !ok {
		return nil, fmt.Errorf("combination fit %q depends on algorithm %q, which was not configured", ctrl.Name, ctrl.PsfName)
	}
	psfAlg, ok := dep.(*FitPsfAlgorithm)
	if !ok {
		return nil, fmt.Errorf("combination fit %q depends on algorithm %q, which is not a PSF fit", ctrl.Name, ctrl.PsfName)
	}
	return &FitComboAlgorithm{
		ctrl:       ctrl,
		exp:        expComponents,
		dev:        devComponents,
		expProfile: expAlg.Control().Profile,
		devProfile: devAlg.Control().Profile,
		psfProfile: psfAlg.Control().Profile,
		psfName:    ctrl.PsfName,
	}, nil
}

// Name returns the algorithm's field-name prefix.
func (a *FitComboAlgorithm) Name() string { return a.ctrl.Name }

// Apply solves the two-component non-negative linear fit given the PSF
// approximation and the two fitted ellipses.
func (a *FitComboAlgorithm) Apply(inputs *ModelInputHandler, psfModel *FitPsfModel, expEllipse, devEllipse EllipseCore) (*FitComboModel, error) {
	psfComponents, err := psfModel.Components()
	if err != nil {
		return nil, err
	}
	psfComponents = psfComponents.normalized()
	expModel, err := convolvedUnitModel(inputs, a.exp, expEllipse, psfComponents, psfModel.Ellipse)
	if err != nil {
		return nil, err
	}
	devModel, err := convolvedUnitModel(inputs, a.dev, devEllipse, psfComponents, psfModel.Ellipse)
	if err != nil {
		return nil, err
	}
	data := inputs.Data()
	var aa, ab, bb, ad, bd float64
	for i := range data {
		aa += expModel[i] * expModel[i]
		ab += expModel[i] * devModel[i]
		bb += devModel[i] * devModel[i]
		ad += expModel[i] * data[i]
		bd += devModel[i] * data[i]
	}
	if aa <= 0 || bb <= 0 {
		return nil, fmt.Errorf("model vector vanishes over the fit region")
	}
	normal := mat.NewSymDense(2, []float64{aa, ab, ab, bb})
	rhs := mat.NewVecDense(2, []float64{ad, bd})
	coeffs := mat.NewVecDense(2, nil)
	var chol mat.Cholesky
	solved := chol.Factorize(normal)
	if solved {
		solved = chol.SolveVecTo(coeffs, rhs) == nil
	}
	cExp, cDev := coeffs.AtVec(0), coeffs.AtVec(1)
	if !solved || cExp < 0 || cDev < 0 {
		// Fall back to whichever single component fits better; the other
		// coefficient is pinned at the boundary.
		costExp := -ad * ad / aa
		costDev := -bd * bd / bb
		if costExp <= costDev {
			cExp, cDev = ad/aa, 0
		} else {
			cExp, cDev = 0, bd/bb
		}
		if cExp < 0 {
			cExp = 0
		}
		if cDev < 0 {
			cDev = 0
		}
	}
	flux := cExp + cDev
	model := &FitComboModel{Flux: flux}
	if flux > 0 {
		model.FracDev = cDev / flux
	}
	// var(flux) = ones' (M'M)^-1 ones for the unconstrained solution; fall
	// back to the single-component error when the solve was degenerate.
	det := aa*bb - ab*ab
	if det > 0 {
		model.FluxErr = math.Sqrt((aa + bb - 2*ab) / det)
	} else {
		model.FluxErr = 1 / math.Sqrt(math.Max(aa, bb))
	}
	return model, nil
}

// Measure runs the combination fit using the ellipses recorded by the two
// profile fits and writes flux, flux error and the de Vaucouleurs fraction.
func (a *FitComboAlgorithm) Measure(rec *SourceRecord, exp *Exposure) error {
	if !exp.HasPsf() {
		return fmt.Errorf("cannot fit combination: exposure has no PSF")
	}
	psfModel, err := FitPsfModelFromRecord(rec, a.psfName, a.psfProfile)
	if err != nil {
		return fmt.Errorf("combination fit %q: %w", a.ctrl.Name, err)
	}
	readEllipse := func(name string) (EllipseCore, bool, error) {
		ixx, err := rec.Get(name + ".ellipse.ixx")
		if err != nil {
			return EllipseCore{}, false, err
		}
		iyy, err := rec.Get(name + ".ellipse.iyy")
		if err != nil {
			return EllipseCore{}, false, err
		}
		ixy, err := rec.Get(name + ".ellipse.ixy")
		if err != nil {
			return EllipseCore{}, false, err
		}
		return EllipseCore{Ixx: ixx, Iyy: iyy, Ixy: ixy}, rec.GetFlag(name + ".flags"), nil
	}
	expEllipse, expFailed, err := readEllipse(a.ctrl.ExpName)
	if err != nil {
		return fmt.Errorf("combination fit %q: %w", a.ctrl.Name, err)
	}
	devEllipse, devFailed, err := readEllipse(a.ctrl.DevName)
	if err != nil {
		return fmt.Errorf("combination fit %q: %w", a.ctrl.Name, err)
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
	model, err := a.Apply(inputs, psfModel, expEllipse, devEllipse)
	if err != nil {
		return err
	}
	model.Failed = expFailed || devFailed || psfModel.Failed
	name := a.ctrl.Name
	rec.Set(name+".flux", model.Flux)
	rec.Set(name+".flux.err", model.FluxErr)
	rec.Set(name+".fracdev", model.FracDev)
	rec.SetFlag(name+".flags", model.Failed)
	return nil
}
