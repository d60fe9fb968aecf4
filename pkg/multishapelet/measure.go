package multishapelet

import (
	"context"
)

// MeasureSources runs the given algorithms, in order, over every record.
// A failure on one source sets that source's per-algorithm failure flag and
// moves on; only context cancellation stops the batch. The returned error
// count is the number of algorithm invocations that failed.
func MeasureSources(ctx context.Context, exp *Exposure, records []*SourceRecord, algorithms []MeasureAlgorithm) (int, error) {
	failures := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		for _, alg := range algorithms {
			if err := alg.Measure(rec, exp); err != nil {
				rec.SetFlag(alg.Name()+".flags", true)
				failures++
			}
		}
	}
	return failures, nil
}

// BuildAlgorithms constructs the standard measurement chain from its
// controls: the PSF fit, the exponential and de Vaucouleurs profile fits,
// and the combination fit, wired together by field-name dependencies.
func BuildAlgorithms(psfCtrl FitPsfControl, expCtrl, devCtrl FitProfileControl, comboCtrl FitComboControl) ([]MeasureAlgorithm, error) {
	byName := make(map[string]MeasureAlgorithm)
	psfAlg, err := NewFitPsfAlgorithm(psfCtrl)
	if err != nil {
		return nil, err
	}
	byName[psfAlg.Name()] = psfAlg
	expAlg, err := NewFitProfileAlgorithm(expCtrl, byName)
	if err != nil {
		return nil, err
	}
	byName[expAlg.Name()] = expAlg
	devAlg, err := NewFitProfileAlgorithm(devCtrl, byName)
	if err != nil {
		return nil, err
	}
	byName[devAlg.Name()] = devAlg
	comboAlg, err := NewFitComboAlgorithm(comboCtrl, byName)
	if err != nil {
		return nil, err
	}
	return []MeasureAlgorithm{psfAlg, expAlg, devAlg, comboAlg}, nil
}
