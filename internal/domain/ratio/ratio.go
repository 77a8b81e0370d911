// Package ratio computes dimensionless ratios between two independently sampled counters.
package ratio

import "github.com/Mihirgupta25/open-source-tracker/internal/domain/model"

// Compute returns numerator/denominator. A zero denominator yields 0 rather than
// NaN or Inf so that charts never need to special-case missing data.
//
// Inputs are not validated: negative counts pass straight through.
func Compute(numerator, denominator int64) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

// NewSample builds a RatioSample for one period.
func NewSample(entityID, period string, numerator, denominator int64) model.RatioSample {
	return model.RatioSample{
		EntityID:    entityID,
		Period:      period,
		Numerator:   numerator,
		Denominator: denominator,
		Ratio:       Compute(numerator, denominator),
	}
}
