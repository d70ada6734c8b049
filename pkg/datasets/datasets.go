// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets exposes a mixture.Dataset as a gomlx train.Dataset, yielding one batch of
// tensors per step, in order, and io.EOF at the end of each epoch.
//
// The tensors are created once and yielded again on every epoch, so every epoch trains on exactly
// the same data.
package datasets

import (
	"fmt"
	"io"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/logreg/pkg/mixture"
	"github.com/pkg/errors"
)

// Layout of the yielded tensors.
type Layout int

const (
	// FeaturesFirst yields inputs shaped [featureDim, batchSize] and labels shaped [batchSize],
	// matching the placeholders of logreg.Model.
	FeaturesFirst Layout = iota

	// BatchFirst yields inputs shaped [batchSize, featureDim] and labels shaped [batchSize, 1],
	// the layout expected by gomlx's trainer, losses and metrics.
	BatchFirst
)

// String implements fmt.Stringer.
func (l Layout) String() string {
	switch l {
	case FeaturesFirst:
		return "FeaturesFirst"
	case BatchFirst:
		return "BatchFirst"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// Dataset implements train.Dataset over the batches of a mixture.Dataset.
type Dataset struct {
	name   string
	layout Layout

	muYield  sync.Mutex
	position int
	inputs   []*tensors.Tensor
	labels   []*tensors.Tensor
}

// Assert Dataset is a train.Dataset.
var _ train.Dataset = (*Dataset)(nil)

// New converts the batches of ds to float32 tensors in the given layout.
func New(name string, ds *mixture.Dataset, layout Layout) (*Dataset, error) {
	if ds == nil {
		return nil, errors.Errorf("datasets.New(%q): nil mixture.Dataset", name)
	}
	if layout != FeaturesFirst && layout != BatchFirst {
		return nil, errors.Errorf("datasets.New(%q): unknown layout %s", name, layout)
	}
	d := &Dataset{
		name:   name,
		layout: layout,
		inputs: make([]*tensors.Tensor, ds.NumBatches()),
		labels: make([]*tensors.Tensor, ds.NumBatches()),
	}
	for ii := range ds.NumBatches() {
		d.inputs[ii], d.labels[ii] = batchToTensors(ds.Batch(ii), layout)
	}
	return d, nil
}

// batchToTensors converts the gonum matrix and the labels to float32 tensors.
func batchToTensors(batch mixture.Batch, layout Layout) (inputs, labels *tensors.Tensor) {
	featureDim, batchSize := batch.Features.Dims()
	flatInputs := make([]float32, featureDim*batchSize)
	flatLabels := make([]float32, batchSize)
	for col, label := range batch.Labels {
		flatLabels[col] = float32(label)
		for row := range featureDim {
			value := float32(batch.Features.At(row, col))
			if layout == FeaturesFirst {
				flatInputs[row*batchSize+col] = value
			} else {
				flatInputs[col*featureDim+row] = value
			}
		}
	}
	if layout == FeaturesFirst {
		inputs = tensors.FromFlatDataAndDimensions(flatInputs, featureDim, batchSize)
		labels = tensors.FromFlatDataAndDimensions(flatLabels, batchSize)
	} else {
		inputs = tensors.FromFlatDataAndDimensions(flatInputs, batchSize, featureDim)
		labels = tensors.FromFlatDataAndDimensions(flatLabels, batchSize, 1)
	}
	return
}

// Name implements train.Dataset.
func (d *Dataset) Name() string { return d.name }

// ShortName implements train.HasShortName.
func (d *Dataset) ShortName() string {
	if len(d.name) <= 3 {
		return d.name
	}
	return d.name[:3]
}

// Layout of the yielded tensors.
func (d *Dataset) Layout() Layout { return d.layout }

// Len returns the number of batches per epoch.
func (d *Dataset) Len() int { return len(d.inputs) }

// Yield implements train.Dataset. It returns:
//
//   - spec: nil, all batches have the same shape.
//   - inputs: one tensor with the features of the batch, see Layout.
//   - labels: one float32 tensor with the labels 0 or 1, see Layout.
//
// After the last batch it returns io.EOF, until Reset is called.
func (d *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	d.muYield.Lock()
	defer d.muYield.Unlock()
	if d.inputs == nil {
		return nil, nil, nil, errors.Errorf("dataset %q already finalized", d.name)
	}
	if d.position >= len(d.inputs) {
		return nil, nil, nil, io.EOF
	}
	idx := d.position
	d.position++
	return nil, []*tensors.Tensor{d.inputs[idx]}, []*tensors.Tensor{d.labels[idx]}, nil
}

// IsOwnershipTransferred tells the training loop that the dataset keeps ownership of the yielded tensors:
// they are reused on every epoch.
func (d *Dataset) IsOwnershipTransferred() bool {
	return false
}

// Reset implements train.Dataset: the next Yield returns the first batch again.
func (d *Dataset) Reset() {
	d.muYield.Lock()
	defer d.muYield.Unlock()
	d.position = 0
}

// Finalize frees the tensors held by the dataset. It can't be used afterward.
func (d *Dataset) Finalize() {
	d.muYield.Lock()
	defer d.muYield.Unlock()
	for ii := range d.inputs {
		d.inputs[ii].FinalizeAll()
		d.labels[ii].FinalizeAll()
	}
	d.inputs, d.labels = nil, nil
}
