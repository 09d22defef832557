// Package mgof implements the multinomial goodness-of-fit anomaly detector.
//
// Each window of samples is reduced to a histogram over its observed value
// range. Windows are clustered into patterns with a chi-square gated
// relative entropy test, and the live window is anomalous when its pattern
// has not recurred more than count_threshold times.
package mgof

import (
	"math"
)

// Distribution is a discretized probability distribution over n equal-width
// bins spanning the observed value range, with the number of samples that
// produced it. A zero SampleCount marks an empty, unusable distribution.
type Distribution struct {
	Probs       []float64 `json:"probs"`
	SampleCount int       `json:"sample_count"`
}

// Valid reports whether d can be fed into the entropy calculation
func (d Distribution) Valid() bool {
	return d.SampleCount > 0 && len(d.Probs) > 0
}

// Bins returns the number of bins
func (d Distribution) Bins() int {
	return len(d.Probs)
}

// Build partitions the observed range of samples into nBins equal-width
// buckets and returns the fraction of samples per bucket. The last bucket
// includes the upper edge. When all samples are equal the range is widened
// by 0.5 on each side. NaN and infinite samples are ignored.
func Build(samples []float64, nBins int) Distribution {
	if nBins < 1 {
		return Distribution{}
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	n := 0
	for _, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		n++
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if n == 0 {
		return Distribution{}
	}

	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}
	// Offsets are taken on halved values so that ranges wider than
	// MaxFloat64 stay finite.
	width := (hi/2 - lo/2) / float64(nBins)

	counts := make([]int, nBins)
	for _, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		// Constants too large for the 0.5 widening sit at the centre.
		idx := nBins / 2
		if width > 0 {
			idx = int((v/2 - lo/2) / width)
		}
		if idx >= nBins {
			idx = nBins - 1
		} else if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}

	probs := make([]float64, nBins)
	for i, c := range counts {
		probs[i] = float64(c) / float64(n)
	}

	return Distribution{Probs: probs, SampleCount: n}
}
