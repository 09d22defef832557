package mgof

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// RelativeEntropy returns the Kullback-Leibler divergence of q from p,
// sum(q[i] * ln(q[i]/p[i])). Bins where q is zero contribute nothing. A bin
// where p is zero and q is not, or a length mismatch, yields +Inf.
func RelativeEntropy(q, p []float64) float64 {
	if len(q) != len(p) {
		return math.Inf(1)
	}

	sum := 0.0
	for i := range q {
		if q[i] == 0 {
			continue
		}
		if p[i] == 0 {
			return math.Inf(1)
		}
		sum += q[i] * math.Log(q[i]/p[i])
	}
	return sum
}

// ChiSquareThreshold returns the chi-square quantile at confidence with
// nBins-1 degrees of freedom.
func ChiSquareThreshold(confidence float64, nBins int) float64 {
	return distuv.ChiSquared{K: float64(nBins - 1)}.Quantile(confidence)
}

// IsSameStatisticalPattern reports whether candidate could have been drawn
// from reference: 2 * sampleCount * RelativeEntropy(candidate, reference) < threshold.
func IsSameStatisticalPattern(candidate, reference []float64, sampleCount int, threshold float64) bool {
	return gate(RelativeEntropy(candidate, reference), sampleCount, threshold)
}

func gate(re float64, sampleCount int, threshold float64) bool {
	return 2*float64(sampleCount)*re < threshold
}
