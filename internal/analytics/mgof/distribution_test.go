package mgof

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// uniform returns n evenly spaced samples over [0, n)
func uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestBuild_Uniform(t *testing.T) {
	d := Build(uniform(100), 4)

	require.True(t, d.Valid())
	assert.Equal(t, 100, d.SampleCount)
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, d.Probs)
}

func TestBuild_MaxFallsInLastBin(t *testing.T) {
	d := Build([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 10}, 2)

	require.Len(t, d.Probs, 2)
	assert.InDelta(t, 0.5, d.Probs[0], 1e-12)
	assert.InDelta(t, 0.5, d.Probs[1], 1e-12)
}

func TestBuild_ConstantSamples(t *testing.T) {
	d := Build([]float64{5, 5, 5, 5, 5}, 4)

	require.Len(t, d.Probs, 4)
	assert.Equal(t, []float64{0, 0, 1, 0}, d.Probs)
	assert.Equal(t, 5, d.SampleCount)
}

func TestBuild_ExtremeRange(t *testing.T) {
	d := Build([]float64{-1e308, 0, 1e308, 1e308}, 4)

	require.True(t, d.Valid())
	assert.Equal(t, []float64{0.25, 0, 0.25, 0.5}, d.Probs)

	d = Build([]float64{-math.MaxFloat64, math.MaxFloat64}, 2)
	assert.Equal(t, []float64{0.5, 0.5}, d.Probs)
}

func TestBuild_HugeConstantSamples(t *testing.T) {
	d := Build([]float64{1e308, 1e308, 1e308}, 4)

	require.True(t, d.Valid())
	assert.Equal(t, []float64{0, 0, 1, 0}, d.Probs)
}

func TestBuild_Empty(t *testing.T) {
	for _, samples := range [][]float64{nil, {}, {math.NaN(), math.Inf(1)}} {
		d := Build(samples, 4)
		assert.Equal(t, 0, d.SampleCount)
		assert.False(t, d.Valid())
		assert.Nil(t, d.Probs)
	}
}

func TestBuild_IgnoresNonFinite(t *testing.T) {
	d := Build([]float64{1, 2, math.NaN(), 3, math.Inf(-1), 4}, 2)
	assert.Equal(t, 4, d.SampleCount)
	assert.InDelta(t, 1.0, sum(d.Probs), 1e-12)
}

func TestBuild_InvalidBins(t *testing.T) {
	d := Build(uniform(10), 0)
	assert.False(t, d.Valid())
}

func TestBuild_SumsToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		nBins := 2 + rng.Intn(40)
		n := nBins + rng.Intn(500)
		samples := make([]float64, n)
		for i := range samples {
			samples[i] = rng.NormFloat64()*10 + 100
		}

		d := Build(samples, nBins)
		require.Len(t, d.Probs, nBins)
		assert.Equal(t, n, d.SampleCount)
		assert.InDelta(t, 1.0, sum(d.Probs), 1e-9)
		for _, p := range d.Probs {
			assert.GreaterOrEqual(t, p, 0.0)
		}
	}
}

func TestBuild_BinCountDoesNotChangeSum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]float64, 300)
	for i := range samples {
		samples[i] = rng.ExpFloat64()
	}

	for _, nBins := range []int{2, 5, 10, 20, 50} {
		assert.InDelta(t, 1.0, sum(Build(samples, nBins).Probs), 1e-9, "n_bins=%d", nBins)
	}
}
