package multishapelet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHermiteEvaluationOrderZero(t *testing.T) {
	h := NewHermiteEvaluator(0)
	target := make([]float64, 1)
	require.NoError(t, h.FillEvaluation(target, 0, 0, nil, nil))
	// psi_0(0)^2 = 1/sqrt(pi)
	assert.InDelta(t, 1/math.SqrtPi, target[0], 1e-14)

	// The basis function decays as a unit Gaussian.
	require.NoError(t, h.FillEvaluation(target, 1, 0, nil, nil))
	assert.InDelta(t, math.Exp(-0.5)/math.SqrtPi, target[0], 1e-14)
}

func TestHermiteSumEvaluationLinearity(t *testing.T) {
	h := NewHermiteEvaluator(3)
	n := PackedSize(3)
	coeffA := make([]float64, n)
	coeffB := make([]float64, n)
	sum := make([]float64, n)
	for i := 0; i < n; i++ {
		coeffA[i] = float64(i + 1)
		coeffB[i] = float64(n - i)
		sum[i] = coeffA[i] + coeffB[i]
	}
	x, y := 0.7, -0.3
	va, err := h.SumEvaluation(coeffA, x, y)
	require.NoError(t, err)
	vb, err := h.SumEvaluation(coeffB, x, y)
	require.NoError(t, err)
	vs, err := h.SumEvaluation(sum, x, y)
	require.NoError(t, err)
	assert.InDelta(t, va+vb, vs, 1e-12)
}

func TestHermiteIntegration(t *testing.T) {
	h := NewHermiteEvaluator(4)
	target := make([]float64, PackedSize(4))
	require.NoError(t, h.FillIntegration(target, 0, 0))
	// Integral of psi_0 x psi_0 over the plane is (sqrt(2) pi^(1/4))^2.
	assert.InDelta(t, 2*math.SqrtPi, target[0], 1e-13)
	// Odd-order basis functions integrate to zero.
	idx := NewPackedIndex()
	for idx.Index() < len(target) {
		if idx.X()%2 == 1 || idx.Y()%2 == 1 {
			assert.InDelta(t, 0, target[idx.Index()], 1e-13, "x=%d y=%d", idx.X(), idx.Y())
		}
		idx.Next()
	}
}

func TestHermiteIntegrationDimensionError(t *testing.T) {
	h := NewHermiteEvaluator(2)
	err := h.FillIntegration(make([]float64, 3), 0, 0)
	assert.Error(t, err)
}

func TestHermiteInnerProductIdentity(t *testing.T) {
	// Equal scale factors make the basis orthogonal, with the substitution
	// Jacobian leaving 1/a^2 on the diagonal.
	for _, scale := range []float64{0.5, 1.0, 2.7} {
		p := HermiteInnerProductMatrix(4, 4, scale, scale)
		r, c := p.Dims()
		require.Equal(t, PackedSize(4), r)
		require.Equal(t, PackedSize(4), c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				want := 0.0
				if i == j {
					want = 1 / (scale * scale)
				}
				assert.InDelta(t, want, p.At(i, j), 1e-12, "scale=%g i=%d j=%d", scale, i, j)
			}
		}
	}
}

func TestHermiteInnerProductParity(t *testing.T) {
	// Entries where either 1D order pair sums to an odd number vanish for
	// any pair of scales.
	p := HermiteInnerProductMatrix(5, 5, 1.0, 2.0)
	for i := NewPackedIndex(); i.Order() <= 5; i.Next() {
		for j := NewPackedIndex(); j.Order() <= 5; j.Next() {
			if (i.X()+j.X())%2 == 1 || (i.Y()+j.Y())%2 == 1 {
				assert.InDelta(t, 0, p.At(i.Index(), j.Index()), 1e-15,
					"i=(%d,%d) j=(%d,%d)", i.X(), i.Y(), j.X(), j.Y())
			}
		}
	}
}
