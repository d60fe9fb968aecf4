package multishapelet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridTransformUnitCircle(t *testing.T) {
	core := NewCircularCore(1)
	gt, err := core.GridTransform()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, gt.XX, 1e-14)
	assert.InDelta(t, 1.0, gt.YY, 1e-14)
	assert.InDelta(t, 0.0, gt.XY, 1e-14)
	assert.InDelta(t, 0.0, gt.YX, 1e-14)
}

func TestGridTransformMapsToUnitFrame(t *testing.T) {
	// Points at one Mahalanobis sigma from the center map to radius one.
	core := NewEllipseCoreFromAxes(3.0, 1.5, 0.4)
	gt, err := core.GridTransform()
	require.NoError(t, err)
	a, b, theta := core.Axes()
	c, s := math.Cos(theta), math.Sin(theta)
	for _, p := range []Point2d{
		{X: a * c, Y: a * s},
		{X: -b * s, Y: b * c},
	} {
		u, v := gt.Apply(p.X, p.Y)
		assert.InDelta(t, 1.0, math.Hypot(u, v), 1e-12)
	}
	// The determinant matches the area scaling 1/sqrt(det Q).
	assert.InDelta(t, 1/math.Sqrt(core.Det()), gt.Det(), 1e-12)
}

func TestGridTransformInvalidCore(t *testing.T) {
	_, err := EllipseCore{Ixx: 1, Iyy: 1, Ixy: 2}.GridTransform()
	assert.Error(t, err)
	_, err = EllipseCore{Ixx: -1, Iyy: 1}.GridTransform()
	assert.Error(t, err)
}

func TestGridTransformDerivFiniteDifference(t *testing.T) {
	core := EllipseCore{Ixx: 4.2, Iyy: 2.8, Ixy: 0.9}
	deriv, err := core.GridTransformDeriv()
	require.NoError(t, err)

	const h = 1e-6
	params := make([]float64, 3)
	core.WriteParameters(params)
	for p := 0; p < 3; p++ {
		plus := append([]float64(nil), params...)
		minus := append([]float64(nil), params...)
		plus[p] += h
		minus[p] -= h
		tp, err := CoreFromParameters(plus).GridTransform()
		require.NoError(t, err)
		tm, err := CoreFromParameters(minus).GridTransform()
		require.NoError(t, err)
		numeric := [NumTransformParams]float64{
			TransformXX: (tp.XX - tm.XX) / (2 * h),
			TransformYX: (tp.YX - tm.YX) / (2 * h),
			TransformXY: (tp.XY - tm.XY) / (2 * h),
			TransformYY: (tp.YY - tm.YY) / (2 * h),
		}
		for row := 0; row < 4; row++ {
			assert.InDelta(t, numeric[row], deriv.At(row, p), 1e-6, "row=%d p=%d", row, p)
		}
	}
}

func TestEllipseGridTransformCentersOrigin(t *testing.T) {
	e := Ellipse{Core: NewEllipseCoreFromAxes(2.0, 1.0, 0.7), Center: Point2d{X: 5.5, Y: -3.25}}
	gt, err := e.GridTransform()
	require.NoError(t, err)
	u, v := gt.Apply(e.Center.X, e.Center.Y)
	assert.InDelta(t, 0, u, 1e-12)
	assert.InDelta(t, 0, v, 1e-12)
}

func TestConvolveAddsMoments(t *testing.T) {
	a := EllipseCore{Ixx: 2, Iyy: 3, Ixy: 0.5}
	b := EllipseCore{Ixx: 1, Iyy: 1, Ixy: -0.25}
	c := a.Convolve(b)
	assert.Equal(t, EllipseCore{Ixx: 3, Iyy: 4, Ixy: 0.25}, c)
}

func TestScale(t *testing.T) {
	c := EllipseCore{Ixx: 2, Iyy: 3, Ixy: 0.5}.Scale(2)
	assert.Equal(t, EllipseCore{Ixx: 8, Iyy: 12, Ixy: 2}, c)
}

func TestClip(t *testing.T) {
	valid := EllipseCore{Ixx: 4, Iyy: 4, Ixy: 1}
	out, clipped := valid.Clip(0.5)
	assert.False(t, clipped)
	assert.Equal(t, valid, out)

	out, clipped = EllipseCore{Ixx: -1, Iyy: 4, Ixy: 0}.Clip(0.5)
	assert.True(t, clipped)
	assert.True(t, out.Valid())

	out, clipped = EllipseCore{Ixx: 1, Iyy: 1, Ixy: 5}.Clip(0.5)
	assert.True(t, clipped)
	assert.True(t, out.Valid())
	assert.LessOrEqual(t, math.Abs(out.Ixy), maxMomentCorrelation*math.Sqrt(out.Ixx*out.Iyy)+1e-12)
}

func TestAxesRoundTrip(t *testing.T) {
	want := NewEllipseCoreFromAxes(3.0, 1.2, 0.6)
	a, b, theta := want.Axes()
	got := NewEllipseCoreFromAxes(a, b, theta)
	assert.InDelta(t, want.Ixx, got.Ixx, 1e-12)
	assert.InDelta(t, want.Iyy, got.Iyy, 1e-12)
	assert.InDelta(t, want.Ixy, got.Ixy, 1e-12)
}

func TestParameterRoundTrip(t *testing.T) {
	want := EllipseCore{Ixx: 1.5, Iyy: 2.5, Ixy: -0.75}
	p := make([]float64, 3)
	want.WriteParameters(p)
	assert.Equal(t, want, CoreFromParameters(p))
}
