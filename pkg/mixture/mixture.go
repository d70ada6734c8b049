// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mixture generates synthetic classification data: labeled samples drawn from a mixture
// of isotropic Gaussian clusters, partitioned into fixed-size batches.
//
// Example:
//
//	features := must.M1(axes.Parse("C=4"))
//	gen := must.M1(mixture.New([]float64{0.5, 0.5}, features).WithSeed(42).Done())
//	xs, ys := must.M2(gen.Generate(128, 10))  // 10 batches of (4, 128) features and 128 labels.
//
// Generation is deterministic given the seed: every call to Generator.Generate starts from a
// freshly seeded random source, so the same arguments always return the same data.
package mixture

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/gomlx/logreg/pkg/axes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"
)

var (
	// ErrInvalidConfig is returned (wrapped) when the Generator configuration is invalid.
	ErrInvalidConfig = errors.New("invalid mixture configuration")

	// ErrInvalidArgument is returned (wrapped) when Generate is called with invalid arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	// NumClusters is the number of clusters of the mixture: one per class of a binary classification task.
	NumClusters = 2

	// WeightsTolerance is how far from 1 the sum of the mixing weights may be.
	WeightsTolerance = 1e-6

	// DefaultSeparation is the distance between the two cluster centers: they are placed at ±1
	// on the first feature coordinate.
	DefaultSeparation = 2.0

	// DefaultStdDev of every feature coordinate (identity covariance).
	DefaultStdDev = 1.0
)

// Independent PCG streams so that the means and the samples don't share random numbers.
const (
	meansStream   = 0x6d65616e73 // "means"
	samplesStream = 0x73616d706c // "sampl"
)

// Config for a Generator, created with New and finalized with Config.Done.
type Config struct {
	weights    []float64
	features   axes.Axes
	seed       uint64
	separation float64
	stdDev     float64

	randomMeans         bool
	meansLow, meansHigh float64
}

// New starts the configuration of a mixture Generator with the given mixing weights (one per
// cluster, they must sum to 1) and the feature axes (their total size is the feature dimension).
//
// Optional settings can be chained, and Config.Done returns the Generator or an error, e.g.:
//
//	gen, err := mixture.New([]float64{0.3, 0.7}, features).WithSeed(7).WithSeparation(4).Done()
func New(weights []float64, features axes.Axes) *Config {
	return &Config{
		weights:    append([]float64(nil), weights...),
		features:   append(axes.Axes(nil), features...),
		separation: DefaultSeparation,
		stdDev:     DefaultStdDev,
	}
}

// WithSeed sets the seed of the random number generator. Default is 0.
func (c *Config) WithSeed(seed uint64) *Config {
	c.seed = seed
	return c
}

// WithSeparation sets the distance between the two cluster centers, placed symmetrically about the origin
// on the first feature coordinate. Default is DefaultSeparation.
//
// It is ignored if WithRandomMeans is used.
func (c *Config) WithSeparation(separation float64) *Config {
	c.separation = separation
	return c
}

// WithStdDev sets the standard deviation of every feature coordinate. Default is DefaultStdDev.
func (c *Config) WithStdDev(stdDev float64) *Config {
	c.stdDev = stdDev
	return c
}

// WithRandomMeans draws every coordinate of the cluster centers uniformly from [low, high), using the
// configured seed, instead of placing them symmetrically about the origin.
func (c *Config) WithRandomMeans(low, high float64) *Config {
	c.randomMeans = true
	c.meansLow, c.meansHigh = low, high
	return c
}

func (c *Config) validate() error {
	if len(c.weights) != NumClusters {
		return errors.Wrapf(ErrInvalidConfig, "expected %d mixing weights, got %d (%v)",
			NumClusters, len(c.weights), c.weights)
	}
	for ii, w := range c.weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return errors.Wrapf(ErrInvalidConfig, "mixing weight #%d must be non-negative and finite, got %g", ii, w)
		}
	}
	if sum := floats.Sum(c.weights); math.Abs(sum-1) > WeightsTolerance {
		return errors.Wrapf(ErrInvalidConfig, "mixing weights %v must sum to 1, got %g", c.weights, sum)
	}
	if c.features.Size() <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "feature axes %q must have a positive size", c.features)
	}
	if _, err := axes.Of(c.features...); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "feature axes: %v", err)
	}
	if !c.randomMeans && !(c.separation > 0) {
		return errors.Wrapf(ErrInvalidConfig, "cluster separation must be positive, got %g", c.separation)
	}
	if !(c.stdDev > 0) || math.IsInf(c.stdDev, 0) {
		return errors.Wrapf(ErrInvalidConfig, "standard deviation must be positive, got %g", c.stdDev)
	}
	if c.randomMeans && !(c.meansLow < c.meansHigh) {
		return errors.Wrapf(ErrInvalidConfig, "random means range [%g, %g) is empty", c.meansLow, c.meansHigh)
	}
	return nil
}

// Done validates the configuration and returns the Generator, with its cluster means fixed.
func (c *Config) Done() (*Generator, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		weights:  c.weights,
		features: c.features,
		stdDev:   c.stdDev,
		seed:     c.seed,
	}
	dim := c.features.Size()
	g.means = make([][]float64, NumClusters)
	if c.randomMeans {
		uniform := distuv.Uniform{Min: c.meansLow, Max: c.meansHigh, Src: rand.NewPCG(c.seed, meansStream)}
		for k := range g.means {
			g.means[k] = make([]float64, dim)
			for ii := range g.means[k] {
				g.means[k][ii] = uniform.Rand()
			}
		}
	} else {
		half := c.separation / 2
		for k := range g.means {
			g.means[k] = make([]float64, dim)
		}
		g.means[0][0] = -half
		g.means[1][0] = half
	}
	klog.V(1).Infof("mixture: weights=%v, features=%s, stdDev=%g, seed=%d, means=%v",
		g.weights, g.features, g.stdDev, g.seed, g.means)
	return g, nil
}

// Generator of labeled samples from a Gaussian mixture. It is immutable after creation and can be
// used concurrently.
type Generator struct {
	weights  []float64
	features axes.Axes
	means    [][]float64
	stdDev   float64
	seed     uint64
}

// NumClusters returns the number of clusters (and classes) of the mixture.
func (g *Generator) NumClusters() int { return len(g.weights) }

// FeatureDim is the dimension of each sample: the size of the feature axes.
func (g *Generator) FeatureDim() int { return g.features.Size() }

// Features returns the feature axes.
func (g *Generator) Features() axes.Axes { return append(axes.Axes(nil), g.features...) }

// Weights returns a copy of the mixing weights.
func (g *Generator) Weights() []float64 { return append([]float64(nil), g.weights...) }

// StdDev of each feature coordinate.
func (g *Generator) StdDev() float64 { return g.stdDev }

// Seed used by the generator.
func (g *Generator) Seed() uint64 { return g.seed }

// Means returns a copy of the cluster centers, indexed by label.
func (g *Generator) Means() [][]float64 {
	means := make([][]float64, len(g.means))
	for k, m := range g.means {
		means[k] = append([]float64(nil), m...)
	}
	return means
}

// String implements fmt.Stringer.
func (g *Generator) String() string {
	return fmt.Sprintf("mixture(weights=%v, features=%s, stdDev=%g, seed=%d)", g.weights, g.features, g.stdDev, g.seed)
}

// Generate numBatches batches of batchSize samples each.
//
// It returns two aligned slices of length numBatches: features[b] is a matrix shaped
// (FeatureDim, batchSize) with one sample per column, and labels[b][i] is the cluster index
// the sample in column i was drawn from.
//
// batchSize must be positive and numBatches non-negative, otherwise it fails with ErrInvalidArgument.
// numBatches == 0 returns empty slices.
func (g *Generator) Generate(batchSize, numBatches int) (features []*mat.Dense, labels [][]int, err error) {
	if batchSize <= 0 {
		return nil, nil, errors.Wrapf(ErrInvalidArgument, "batchSize must be positive, got %d", batchSize)
	}
	if numBatches < 0 {
		return nil, nil, errors.Wrapf(ErrInvalidArgument, "numBatches must be non-negative, got %d", numBatches)
	}

	src := rand.NewPCG(g.seed, samplesStream)
	picker := distuv.NewCategorical(g.weights, src)
	noise := distuv.Normal{Mu: 0, Sigma: g.stdDev, Src: src}
	dim := g.FeatureDim()

	features = make([]*mat.Dense, numBatches)
	labels = make([][]int, numBatches)
	for b := range numBatches {
		x := mat.NewDense(dim, batchSize, nil)
		y := make([]int, batchSize)
		for col := range batchSize {
			k := int(picker.Rand())
			y[col] = k
			for row, mu := range g.means[k] {
				x.Set(row, col, mu+noise.Rand())
			}
		}
		features[b] = x
		labels[b] = y
	}
	return features, labels, nil
}

// GenerateDataset is like Generate, but returns the batches organized as a Dataset.
func (g *Generator) GenerateDataset(batchSize, numBatches int) (*Dataset, error) {
	features, labels, err := g.Generate(batchSize, numBatches)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{
		features:    g.Features(),
		numClusters: g.NumClusters(),
		batchSize:   batchSize,
		batches:     make([]Batch, numBatches),
	}
	for b := range features {
		ds.batches[b] = Batch{Features: features[b], Labels: labels[b]}
	}
	return ds, nil
}
