package multishapelet

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comboTestAlgorithms(t *testing.T) (map[string]MeasureAlgorithm, *FitComboAlgorithm) {
	t.Helper()
	byName := make(map[string]MeasureAlgorithm)
	psfAlg, err := NewFitPsfAlgorithm(NewFitPsfControl())
	require.NoError(t, err)
	byName[psfAlg.Name()] = psfAlg
	expAlg, err := NewFitProfileAlgorithm(NewFitProfileControl("exp"), byName)
	require.NoError(t, err)
	byName[expAlg.Name()] = expAlg
	devAlg, err := NewFitProfileAlgorithm(NewFitProfileControl("dev"), byName)
	require.NoError(t, err)
	byName[devAlg.Name()] = devAlg
	comboAlg, err := NewFitComboAlgorithm(NewFitComboControl(), byName)
	require.NoError(t, err)
	return byName, comboAlg
}

func TestNewFitComboAlgorithmDependencyErrors(t *testing.T) {
	_, err := NewFitComboAlgorithm(NewFitComboControl(), map[string]MeasureAlgorithm{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestFitComboPureComponent(t *testing.T) {
	// Data generated from the exponential mixture alone: the combination
	// assigns it essentially all of the flux.
	_, comboAlg := comboTestAlgorithms(t)

	expList, err := LookupProfile("exp")
	require.NoError(t, err)
	core := NewCircularCore(3)
	psfModel := nearDeltaPsfModel()
	psfComponents, err := psfModel.Components()
	require.NoError(t, err)

	box := image.Rect(-15, -15, 16, 16)
	im := NewImage(box)
	const flux = 750.0
	inputsProbe, err := NewInputsFromBox(im, Point2d{}, box)
	require.NoError(t, err)
	model, err := convolvedUnitModel(inputsProbe, expList, core, psfComponents, psfModel.Ellipse)
	require.NoError(t, err)
	i := 0
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			im.Set(x, y, flux*model[i])
			i++
		}
	}

	inputs, err := NewInputsFromBox(im, Point2d{}, box)
	require.NoError(t, err)
	devCore := NewCircularCore(2)
	got, err := comboAlg.Apply(inputs, psfModel, core, devCore)
	require.NoError(t, err)

	assert.InDelta(t, flux, got.Flux, 0.02*flux)
	assert.Less(t, got.FracDev, 0.05)
	assert.Greater(t, got.FluxErr, 0.0)
}

func TestFitComboMeasure(t *testing.T) {
	byName, comboAlg := comboTestAlgorithms(t)

	truth := NewCircularCore(2.5)
	const flux = 600.0
	bounds := image.Rect(0, 0, 41, 41)
	mi := NewMaskedImage(bounds)
	mi.Variance.Fill(1)
	gt, err := truth.GridTransform()
	require.NoError(t, err)
	coeff := MultiGaussianComponent{Weight: flux, Radius: 1, Normalized: true}.Coefficient(truth.Det())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			u, v := gt.Apply(float64(x)-20, float64(y)-20)
			mi.Image.Set(x, y, coeff*math.Exp(-0.5*(u*u+v*v)))
		}
	}

	rec := NewSourceRecord(9)
	rec.Center = Point2d{X: 20, Y: 20}
	rec.Shape = truth
	rec.Footprint = NewFootprintFromBox(image.Rect(12, 12, 29, 29))
	exposure := &Exposure{
		MaskedImage: mi,
		Psf:         GaussianPsf{Core: NewCircularCore(1e-4), Size: 15},
	}

	for _, name := range []string{"multishapelet.psf", "multishapelet.exp", "multishapelet.dev"} {
		require.NoError(t, byName[name].Measure(rec, exposure))
	}
	require.NoError(t, comboAlg.Measure(rec, exposure))

	comboFlux, err := rec.Get("multishapelet.combo.flux")
	require.NoError(t, err)
	assert.Greater(t, comboFlux, 0.0)
	fracDev, err := rec.Get("multishapelet.combo.fracdev")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fracDev, 0.0)
	assert.LessOrEqual(t, fracDev, 1.0)
}
