// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mixture

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/logreg/pkg/axes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LabelColumn is the name of the label column in Dataset.DataFrame and Dataset.WriteCSV.
const LabelColumn = "label"

// Batch of samples: Features is shaped (featureDim, batchSize), with one sample per column,
// and Labels[i] is the label of the sample in column i.
type Batch struct {
	Features *mat.Dense
	Labels   []int
}

// Size is the number of samples in the batch.
func (b Batch) Size() int { return len(b.Labels) }

// Dataset is an ordered sequence of batches, generated once by Generator.GenerateDataset.
// It is meant to be read-only, and reused as is for every epoch of training.
type Dataset struct {
	features    axes.Axes
	numClusters int
	batchSize   int
	batches     []Batch
}

// Features returns the axes describing one sample.
func (ds *Dataset) Features() axes.Axes { return append(axes.Axes(nil), ds.features...) }

// FeatureDim is the number of features of each sample.
func (ds *Dataset) FeatureDim() int { return ds.features.Size() }

// NumClusters is the number of distinct labels.
func (ds *Dataset) NumClusters() int { return ds.numClusters }

// BatchSize is the number of samples per batch.
func (ds *Dataset) BatchSize() int { return ds.batchSize }

// NumBatches in the dataset.
func (ds *Dataset) NumBatches() int { return len(ds.batches) }

// NumSamples in the dataset, across all batches.
func (ds *Dataset) NumSamples() int { return len(ds.batches) * ds.batchSize }

// Batch returns the batch at position idx. It panics if idx is out of range.
func (ds *Dataset) Batch(idx int) Batch { return ds.batches[idx] }

// FeatureBatches returns the feature matrices of all batches in order.
func (ds *Dataset) FeatureBatches() []*mat.Dense {
	features := make([]*mat.Dense, len(ds.batches))
	for ii, b := range ds.batches {
		features[ii] = b.Features
	}
	return features
}

// LabelBatches returns the labels of all batches in order.
func (ds *Dataset) LabelBatches() [][]int {
	labels := make([][]int, len(ds.batches))
	for ii, b := range ds.batches {
		labels[ii] = b.Labels
	}
	return labels
}

// LabelCounts returns the number of samples per label.
func (ds *Dataset) LabelCounts() []int {
	counts := make([]int, ds.numClusters)
	for _, b := range ds.batches {
		for _, label := range b.Labels {
			counts[label]++
		}
	}
	return counts
}

// FeatureNames returns one column name per flattened feature coordinate, built from the axes
// names and the coordinate index in each axis, e.g. "C0", "C1" for the axes "C=2", or "H0_W1"
// for the axes "H=2,W=2".
func (ds *Dataset) FeatureNames() []string {
	dims := ds.features.Dimensions()
	names := make([]string, ds.FeatureDim())
	indices := make([]int, len(dims))
	parts := make([]string, len(dims))
	for flat := range names {
		for ii, a := range ds.features {
			parts[ii] = fmt.Sprintf("%s%d", a.Name, indices[ii])
		}
		names[flat] = strings.Join(parts, "_")
		// Increment the multi-dimensional index, last axis first.
		for ii := len(dims) - 1; ii >= 0; ii-- {
			indices[ii]++
			if indices[ii] < dims[ii] {
				break
			}
			indices[ii] = 0
		}
	}
	return names
}

// DataFrame returns the dataset as a table with one row per sample, in batch order,
// one column per feature (see FeatureNames) and a final LabelColumn.
func (ds *Dataset) DataFrame() dataframe.DataFrame {
	numSamples := ds.NumSamples()
	dim := ds.FeatureDim()
	columns := make([][]float64, dim)
	for ii := range columns {
		columns[ii] = make([]float64, 0, numSamples)
	}
	labels := make([]int, 0, numSamples)
	for _, b := range ds.batches {
		for col := range b.Size() {
			for row := range dim {
				columns[row] = append(columns[row], b.Features.At(row, col))
			}
		}
		labels = append(labels, b.Labels...)
	}

	names := ds.FeatureNames()
	allSeries := make([]series.Series, 0, dim+1)
	for ii, values := range columns {
		allSeries = append(allSeries, series.New(values, series.Float, names[ii]))
	}
	allSeries = append(allSeries, series.New(labels, series.Int, LabelColumn))
	return dataframe.New(allSeries...)
}

// ClusterStats summarizes the samples of one label.
type ClusterStats struct {
	Label int
	Count int

	// Means of each feature, in the order of Dataset.FeatureNames.
	Means []float64
}

// Describe returns the number of samples and the empirical feature means for each label.
func (ds *Dataset) Describe() ([]ClusterStats, error) {
	df := ds.DataFrame()
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to build data frame")
	}
	names := ds.FeatureNames()
	stats := make([]ClusterStats, ds.numClusters)
	for label := range stats {
		subset := df.Filter(dataframe.F{Colname: LabelColumn, Comparator: series.Eq, Comparando: label})
		if subset.Err != nil {
			return nil, errors.Wrapf(subset.Err, "failed to select samples with label %d", label)
		}
		stats[label] = ClusterStats{Label: label, Count: subset.Nrow(), Means: make([]float64, len(names))}
		if subset.Nrow() == 0 {
			continue
		}
		for ii, name := range names {
			stats[label].Means[ii] = subset.Col(name).Mean()
		}
	}
	return stats, nil
}

// WriteCSV writes the dataset as CSV, with a header line, in the layout of DataFrame.
func (ds *Dataset) WriteCSV(w io.Writer) error {
	df := ds.DataFrame()
	if df.Err != nil {
		return errors.Wrap(df.Err, "failed to build data frame")
	}
	return errors.Wrap(df.WriteCSV(w), "failed to write dataset as CSV")
}
