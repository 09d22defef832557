package mgof

import (
	"github.com/soltixdb/morgoth/internal/analytics/anomaly"
)

// Params are the inputs of the classification fold
type Params struct {
	NBins          int
	CountThreshold int
	Threshold      float64 // chi-square gate
}

// Outcome is the classification of one window
type Outcome struct {
	Verdict         anomaly.Verdict
	PatternIndex    int // -1 when skipped
	Matched         bool
	RelativeEntropy float64
}

// Skipped reports whether the window was left out for lack of samples
func (o Outcome) Skipped() bool {
	return o.Verdict == anomaly.VerdictUnclassified
}

// Classify folds dists, in order, over reg. It returns one outcome per
// distribution and the registry after the last step.
func Classify(reg Registry, dists []Distribution, p Params) ([]Outcome, Registry) {
	outcomes := make([]Outcome, len(dists))
	for i, d := range dists {
		outcomes[i], reg = Step(reg, d, p)
	}
	return outcomes, reg
}

// Step classifies a single distribution against reg:
//   - fewer than NBins samples: skipped, unclassified
//   - empty registry: becomes the first pattern, normal
//   - matches a pattern: its count is incremented, anomalous while the
//     count is still <= CountThreshold
//   - no match: becomes a new pattern, anomalous
func Step(reg Registry, d Distribution, p Params) (Outcome, Registry) {
	if !d.Valid() || d.SampleCount < p.NBins || d.Bins() != p.NBins {
		return Outcome{Verdict: anomaly.VerdictUnclassified, PatternIndex: -1}, reg
	}

	if reg.Len() == 0 {
		return Outcome{Verdict: anomaly.VerdictNormal, PatternIndex: 0}, reg.Append(d.Probs)
	}

	if idx, re, ok := reg.Match(d.Probs, d.SampleCount, p.Threshold); ok {
		reg = reg.Increment(idx)
		verdict := anomaly.VerdictNormal
		if reg.Count(idx) <= p.CountThreshold {
			verdict = anomaly.VerdictAnomalous
		}
		return Outcome{Verdict: verdict, PatternIndex: idx, Matched: true, RelativeEntropy: re}, reg
	}

	reg = reg.Append(d.Probs)
	return Outcome{Verdict: anomaly.VerdictAnomalous, PatternIndex: reg.Len() - 1}, reg
}
