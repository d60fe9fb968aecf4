package multishapelet

import "math"

// NoiseEstimate is the result of iterative kappa-sigma background estimation.
type NoiseEstimate struct {
	Sigma          float64
	BackgroundMean float64
	Iterations     int
}

// EstimateNoise performs iterative kappa-sigma clipping on the image: pixels
// above mean + clippingMultiplier*sigma are excluded and the statistics
// recomputed until sigma changes by less than allowedError or maxIterations
// is reached. The result characterizes the background of a sparse field.
func EstimateNoise(im *Image, clippingMultiplier, allowedError float64, maxIterations int) NoiseEstimate {
	data := im.Data()
	threshold := math.MaxFloat64
	lastSigma := 1.0
	lastMean := 1.0
	iterations := 0

	for iterations < maxIterations {
		var sum float64
		var count int
		for _, v := range data {
			if v < threshold {
				sum += v
				count++
			}
		}
		if count == 0 {
			break
		}
		mean := sum / float64(count)
		var sse float64
		for _, v := range data {
			if v < threshold {
				d := v - mean
				sse += d * d
			}
		}
		sigma := math.Sqrt(sse / float64(count))

		iterations++
		if iterations > 1 && math.Abs(sigma-lastSigma) <= allowedError {
			lastSigma = sigma
			lastMean = mean
			break
		}
		threshold = mean + clippingMultiplier*sigma
		lastSigma = sigma
		lastMean = mean
	}

	return NoiseEstimate{Sigma: lastSigma, BackgroundMean: lastMean, Iterations: iterations}
}

// SyntheticVariancePlane fills the variance plane of a masked image with the
// squared noise sigma estimated from its pixel plane, for inputs that carry
// no variance of their own.
func SyntheticVariancePlane(mi *MaskedImage, clippingMultiplier float64) NoiseEstimate {
	est := EstimateNoise(mi.Image, clippingMultiplier, 1e-5, 5)
	v := est.Sigma * est.Sigma
	if v <= 0 {
		v = 1
	}
	mi.Variance.Fill(v)
	return est
}
