package mgof

// Pattern is an accepted distribution shape and how often it was seen
type Pattern struct {
	Probs []float64 `json:"probs"`
	Count int       `json:"count"`
}

// Registry is an ordered, immutable set of patterns. Mutating methods
// return a new Registry and leave the receiver untouched.
type Registry struct {
	patterns []Pattern
}

// NewRegistry creates a registry holding copies of patterns
func NewRegistry(patterns ...Pattern) Registry {
	r := Registry{patterns: make([]Pattern, len(patterns))}
	for i, p := range patterns {
		r.patterns[i] = Pattern{Probs: cloneProbs(p.Probs), Count: p.Count}
	}
	return r
}

// Len returns the number of patterns
func (r Registry) Len() int {
	return len(r.patterns)
}

// Count returns the occurrence count of pattern i
func (r Registry) Count(i int) int {
	return r.patterns[i].Count
}

// Patterns returns a copy of the patterns in registration order
func (r Registry) Patterns() []Pattern {
	return NewRegistry(r.patterns...).patterns
}

// Match tests dist against every pattern through the chi-square gate and
// returns the passing pattern with the smallest relative entropy. Ties keep
// the earliest pattern.
func (r Registry) Match(dist []float64, sampleCount int, threshold float64) (index int, re float64, ok bool) {
	index = -1
	for i, p := range r.patterns {
		e := RelativeEntropy(dist, p.Probs)
		if !gate(e, sampleCount, threshold) {
			continue
		}
		if !ok || e < re {
			index, re, ok = i, e, true
		}
	}
	return index, re, ok
}

// Append returns a registry with dist added as a new pattern of count 1
func (r Registry) Append(dist []float64) Registry {
	next := make([]Pattern, len(r.patterns), len(r.patterns)+1)
	copy(next, r.patterns)
	next = append(next, Pattern{Probs: cloneProbs(dist), Count: 1})
	return Registry{patterns: next}
}

// Increment returns a registry with pattern i seen once more
func (r Registry) Increment(i int) Registry {
	next := make([]Pattern, len(r.patterns))
	copy(next, r.patterns)
	next[i].Count++
	return Registry{patterns: next}
}

// Trim evicts patterns until at most limit remain, lowest count first and the
// oldest among equal counts. Survivors keep their order. The returned slice
// maps each old index to its new one, or -1 when evicted. limit <= 0 keeps all.
func (r Registry) Trim(limit int) (Registry, []int) {
	remap := make([]int, len(r.patterns))
	for i := range remap {
		remap[i] = i
	}
	if limit <= 0 || len(r.patterns) <= limit {
		return r, remap
	}

	evicted := make([]bool, len(r.patterns))
	for n := len(r.patterns) - limit; n > 0; n-- {
		victim := -1
		for i, p := range r.patterns {
			if evicted[i] {
				continue
			}
			if victim < 0 || p.Count < r.patterns[victim].Count {
				victim = i
			}
		}
		evicted[victim] = true
	}

	next := make([]Pattern, 0, limit)
	for i, p := range r.patterns {
		if evicted[i] {
			remap[i] = -1
			continue
		}
		remap[i] = len(next)
		next = append(next, p)
	}
	return Registry{patterns: next}, remap
}

func cloneProbs(p []float64) []float64 {
	if p == nil {
		return nil
	}
	out := make([]float64, len(p))
	copy(out, p)
	return out
}
