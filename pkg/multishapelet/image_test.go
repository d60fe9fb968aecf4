package multishapelet

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageAbsoluteCoordinates(t *testing.T) {
	im := NewImage(image.Rect(10, 20, 14, 23))
	im.Set(11, 21, 5)
	assert.Equal(t, 5.0, im.At(11, 21))
	assert.Equal(t, 0.0, im.At(10, 20))
	assert.Len(t, im.Data(), 12)
}

func TestImageBilinear(t *testing.T) {
	im := NewImage(image.Rect(0, 0, 2, 2))
	im.Set(0, 0, 0)
	im.Set(1, 0, 1)
	im.Set(0, 1, 2)
	im.Set(1, 1, 3)
	assert.InDelta(t, 0.5, im.Bilinear(0.5, 0), 1e-14)
	assert.InDelta(t, 1.5, im.Bilinear(0.5, 0.5), 1e-14)
	// Edge-clamped outside the box.
	assert.InDelta(t, 0.0, im.Bilinear(-1, -1), 1e-14)
}

func TestGaussianPsfComputeImage(t *testing.T) {
	psf := GaussianPsf{Core: NewCircularCore(2), Size: 25}
	im, err := psf.ComputeImage(Point2d{X: 100, Y: 50})
	require.NoError(t, err)
	b := im.Bounds()
	assert.Equal(t, 25, b.Dx())
	assert.Equal(t, 25, b.Dy())
	assert.True(t, image.Pt(100, 50).In(b))

	sum := 0.0
	for _, v := range im.Data() {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	// Peak at the center pixel.
	peak := im.At(100, 50)
	for _, v := range im.Data() {
		assert.LessOrEqual(t, v, peak+1e-15)
	}
}

func TestGaussianPsfErrors(t *testing.T) {
	_, err := GaussianPsf{Core: NewCircularCore(2), Size: 2}.ComputeImage(Point2d{})
	assert.Error(t, err)
	_, err = GaussianPsf{Core: EllipseCore{Ixx: -1}, Size: 25}.ComputeImage(Point2d{})
	assert.Error(t, err)
}

func TestImageMoments(t *testing.T) {
	psf := GaussianPsf{Core: NewEllipseCoreFromAxes(3, 2, 0.5), Size: 41}
	im, err := psf.ComputeImage(Point2d{X: 0, Y: 0})
	require.NoError(t, err)
	center, moments := ImageMoments(im)
	assert.InDelta(t, 0, center.X, 1e-6)
	assert.InDelta(t, 0, center.Y, 1e-6)
	// Pixel-sampled moments of a well-resolved Gaussian match the analytic
	// quadrupole to a few percent.
	assert.InDelta(t, psf.Core.Ixx, moments.Ixx, 0.05*psf.Core.Ixx)
	assert.InDelta(t, psf.Core.Iyy, moments.Iyy, 0.05*psf.Core.Iyy)
	assert.InDelta(t, psf.Core.Ixy, moments.Ixy, 0.05*math.Abs(psf.Core.Ixy)+0.02)
}

func TestEstimateNoise(t *testing.T) {
	im := NewImage(image.Rect(0, 0, 64, 64))
	// Deterministic pseudo-noise around a flat background of 100.
	seed := uint64(12345)
	for i := range im.Data() {
		seed = seed*6364136223846793005 + 1442695040888963407
		u := float64(seed>>11) / float64(1<<53)
		im.Data()[i] = 100 + 4*(u-0.5)
	}
	// A few bright outliers the clipping should reject.
	im.Set(10, 10, 5000)
	im.Set(40, 30, 8000)

	est := EstimateNoise(im, 3, 1e-4, 10)
	assert.InDelta(t, 100, est.BackgroundMean, 0.5)
	// Uniform [-2, 2] noise has sigma 4/sqrt(12).
	assert.InDelta(t, 4/math.Sqrt(12), est.Sigma, 0.2)
	assert.Greater(t, est.Iterations, 1)
}

func TestSyntheticVariancePlane(t *testing.T) {
	mi := NewMaskedImage(image.Rect(0, 0, 16, 16))
	mi.Image.Fill(50)
	est := SyntheticVariancePlane(mi, 4)
	// A perfectly flat image has zero sigma; the plane falls back to one.
	assert.Zero(t, est.Sigma)
	assert.Equal(t, 1.0, mi.Variance.At(0, 0))
}
