// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mixture

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/gomlx/logreg/pkg/axes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func featureAxes(t *testing.T, spec string) axes.Axes {
	as, err := axes.Parse(spec)
	require.NoError(t, err)
	return as
}

func TestGenerate(t *testing.T) {
	gen, err := New([]float64{0.5, 0.5}, featureAxes(t, "C=4")).Done()
	require.NoError(t, err)
	assert.Equal(t, 4, gen.FeatureDim())
	assert.Equal(t, 2, gen.NumClusters())

	features, labels, err := gen.Generate(128, 10)
	require.NoError(t, err)
	require.Len(t, features, 10)
	require.Len(t, labels, 10)
	for b := range features {
		rows, cols := features[b].Dims()
		assert.Equal(t, 4, rows)
		assert.Equal(t, 128, cols)
		require.Len(t, labels[b], cols, "batch %d: labels not aligned with features", b)
		for _, label := range labels[b] {
			assert.Contains(t, []int{0, 1}, label)
		}
	}
}

func TestGenerateSizes(t *testing.T) {
	gen := must.M1(New([]float64{0.2, 0.8}, featureAxes(t, "H=2,W=3")).WithSeed(3).Done())
	for _, tc := range []struct{ batchSize, numBatches int }{{1, 1}, {1, 7}, {5, 1}, {33, 4}} {
		features, labels, err := gen.Generate(tc.batchSize, tc.numBatches)
		require.NoError(t, err)
		require.Len(t, features, tc.numBatches)
		require.Len(t, labels, tc.numBatches)
		for b := range features {
			rows, cols := features[b].Dims()
			assert.Equal(t, 6, rows)
			assert.Equal(t, tc.batchSize, cols)
			assert.Len(t, labels[b], tc.batchSize)
		}
	}

	// No batches is not an error.
	features, labels, err := gen.Generate(16, 0)
	require.NoError(t, err)
	assert.NotNil(t, features)
	assert.Empty(t, features)
	assert.Empty(t, labels)
}

func TestGenerateInvalidArguments(t *testing.T) {
	gen := must.M1(New([]float64{0.5, 0.5}, featureAxes(t, "C=4")).Done())
	for _, tc := range []struct{ batchSize, numBatches int }{{0, 1}, {-1, 1}, {8, -1}} {
		features, labels, err := gen.Generate(tc.batchSize, tc.numBatches)
		require.ErrorIsf(t, err, ErrInvalidArgument, "Generate(%d, %d)", tc.batchSize, tc.numBatches)
		assert.Nil(t, features)
		assert.Nil(t, labels)
	}
}

func TestInvalidConfig(t *testing.T) {
	features := featureAxes(t, "C=4")
	for name, cfg := range map[string]*Config{
		"sum below one":     New([]float64{0.3, 0.3}, features),
		"sum above one":     New([]float64{0.7, 0.7}, features),
		"negative weight":   New([]float64{-0.5, 1.5}, features),
		"NaN weight":        New([]float64{math.NaN(), 1}, features),
		"one cluster":       New([]float64{1}, features),
		"three clusters":    New([]float64{0.2, 0.3, 0.5}, features),
		"no features":       New([]float64{0.5, 0.5}, nil),
		"zero separation":   New([]float64{0.5, 0.5}, features).WithSeparation(0),
		"zero stddev":       New([]float64{0.5, 0.5}, features).WithStdDev(0),
		"empty means range": New([]float64{0.5, 0.5}, features).WithRandomMeans(1, 1),
	} {
		gen, err := cfg.Done()
		require.ErrorIsf(t, err, ErrInvalidConfig, "configuration %q should have failed", name)
		assert.Nil(t, gen)
	}

	// Within tolerance is fine, and so is a degenerate mixture.
	_, err := New([]float64{0.1 + 0.2, 0.7}, features).Done()
	require.NoError(t, err)
	_, err = New([]float64{1, 0}, features).Done()
	require.NoError(t, err)
}

func TestDeterminism(t *testing.T) {
	gen := must.M1(New([]float64{0.4, 0.6}, featureAxes(t, "C=3")).WithSeed(17).Done())
	features0, labels0 := must.M2(gen.Generate(32, 3))
	features1, labels1 := must.M2(gen.Generate(32, 3))
	assert.Equal(t, labels0, labels1)
	for b := range features0 {
		assert.True(t, mat.Equal(features0[b], features1[b]), "batch %d differs between calls", b)
	}

	// A second generator with the same seed also reproduces the data.
	gen2 := must.M1(New([]float64{0.4, 0.6}, featureAxes(t, "C=3")).WithSeed(17).Done())
	features2, labels2 := must.M2(gen2.Generate(32, 3))
	assert.Equal(t, labels0, labels2)
	assert.True(t, mat.Equal(features0[0], features2[0]))

	// A different seed gives different data.
	gen3 := must.M1(New([]float64{0.4, 0.6}, featureAxes(t, "C=3")).WithSeed(18).Done())
	features3, _ := must.M2(gen3.Generate(32, 3))
	assert.False(t, mat.Equal(features0[0], features3[0]))
}

func TestMeans(t *testing.T) {
	gen := must.M1(New([]float64{0.5, 0.5}, featureAxes(t, "C=4")).Done())
	assert.Equal(t, [][]float64{{-1, 0, 0, 0}, {1, 0, 0, 0}}, gen.Means())

	gen = must.M1(New([]float64{0.5, 0.5}, featureAxes(t, "C=2")).WithSeparation(6).Done())
	assert.Equal(t, [][]float64{{-3, 0}, {3, 0}}, gen.Means())

	// Means() returns a copy.
	gen.Means()[0][0] = 100
	assert.Equal(t, -3.0, gen.Means()[0][0])

	randomGen := must.M1(New([]float64{0.5, 0.5}, featureAxes(t, "C=5")).WithRandomMeans(-1, 1).WithSeed(5).Done())
	means := randomGen.Means()
	for _, m := range means {
		require.Len(t, m, 5)
		for _, v := range m {
			assert.GreaterOrEqual(t, v, -1.0)
			assert.Less(t, v, 1.0)
		}
	}
	sameGen := must.M1(New([]float64{0.5, 0.5}, featureAxes(t, "C=5")).WithRandomMeans(-1, 1).WithSeed(5).Done())
	assert.Equal(t, means, sameGen.Means())
}

// TestDistribution checks the empirical label frequencies and cluster means with a large sample.
func TestDistribution(t *testing.T) {
	gen := must.M1(New([]float64{0.25, 0.75}, featureAxes(t, "C=2")).WithSeparation(4).WithSeed(1).Done())
	ds := must.M1(gen.GenerateDataset(1000, 20))
	assert.Equal(t, 20_000, ds.NumSamples())

	counts := ds.LabelCounts()
	assert.InDelta(t, 0.25, float64(counts[0])/20_000, 0.02)
	assert.InDelta(t, 0.75, float64(counts[1])/20_000, 0.02)

	stats := must.M1(ds.Describe())
	require.Len(t, stats, 2)
	assert.Equal(t, counts[0], stats[0].Count)
	assert.Equal(t, counts[1], stats[1].Count)
	assert.InDelta(t, -2.0, stats[0].Means[0], 0.1)
	assert.InDelta(t, 0.0, stats[0].Means[1], 0.1)
	assert.InDelta(t, 2.0, stats[1].Means[0], 0.1)
	assert.InDelta(t, 0.0, stats[1].Means[1], 0.1)
}

func TestDataset(t *testing.T) {
	gen := must.M1(New([]float64{0.5, 0.5}, featureAxes(t, "H=2,W=2")).WithSeed(9).Done())
	ds := must.M1(gen.GenerateDataset(3, 2))
	assert.Equal(t, 2, ds.NumBatches())
	assert.Equal(t, 3, ds.BatchSize())
	assert.Equal(t, 4, ds.FeatureDim())
	assert.Equal(t, []string{"H0_W0", "H0_W1", "H1_W0", "H1_W1"}, ds.FeatureNames())

	features, labels := must.M2(gen.Generate(3, 2))
	assert.Equal(t, labels, ds.LabelBatches())
	for b, x := range ds.FeatureBatches() {
		assert.True(t, mat.Equal(features[b], x))
		assert.Equal(t, labels[b], ds.Batch(b).Labels)
	}

	df := ds.DataFrame()
	require.NoError(t, df.Err)
	assert.Equal(t, 6, df.Nrow())
	assert.Equal(t, 5, df.Ncol())
	assert.Equal(t, features[1].At(2, 0), df.Col("H1_W0").Float()[3])

	var buf bytes.Buffer
	require.NoError(t, ds.WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "H0_W0,H0_W1,H1_W0,H1_W1,label", lines[0])
}
