// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package logreg implements a binary logistic regression model, without bias, trained by
// gradient descent on batches of a Gaussian mixture.
//
// The model prediction for a sample x is sigmoid(w·x), and each training step computes the mean
// binary cross-entropy loss of a batch, its gradient with respect to w, and updates
// w ← w - learningRate * gradient. The step is compiled once (per batch shape) with gomlx and
// executed on the given backend.
//
// Two ways of training are provided: Loop, a small training loop that calls Model.Step with a
// per-epoch LearningRateSchedule, and TrainWithTrainer, which trains the same model with gomlx's
// train.Trainer and optimizers.
package logreg

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/logreg/pkg/axes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// Scope in the context where the model variables are created.
	Scope = "logreg"

	// WeightsVariable is the name of the weights variable, shaped [featureDim].
	WeightsVariable = "weights"

	// StepVariable is the name of the int64 counter of executed steps.
	StepVariable = "step"
)

// DType of the model weights, inputs and labels.
var DType = dtypes.Float32

// StepResult is the outcome of one training step.
type StepResult struct {
	// Loss is the mean binary cross-entropy of the batch, computed with the weights before the update.
	Loss float64

	// Weights after the update.
	Weights []float64

	// Step is the number of steps executed so far, including this one.
	Step int64
}

// Model of a logistic regression over samples described by the feature axes.
//
// The batches are given as features shaped [featureDim, batchSize] (one sample per column) and
// labels shaped [batchSize], both float32 (see datasets.FeaturesFirst).
//
// A Model is not safe for concurrent use.
type Model struct {
	backend  backends.Backend
	ctx      *context.Context
	features axes.Axes

	weightsVar, stepVar   *context.Variable
	stepExec, predictExec *context.Exec
}

// New creates a model for the given feature axes, with the weights initialized to 0.
func New(backend backends.Backend, features axes.Axes) (*Model, error) {
	if backend == nil {
		return nil, errors.New("logreg.New: nil backend")
	}
	if features.Size() <= 0 {
		return nil, errors.Wrapf(axes.ErrInvalidAxes, "logreg.New: feature axes %q must have a positive size", features)
	}
	m := &Model{
		backend:  backend,
		ctx:      context.New(),
		features: append(axes.Axes(nil), features...),
	}
	err := exceptions.TryCatch[error](func() {
		scoped := m.ctx.In(Scope)
		m.weightsVar = scoped.VariableWithValue(WeightsVariable, make([]float32, features.Size()))
		m.stepVar = scoped.VariableWithValue(StepVariable, int64(0)).SetTrainable(false)
		m.stepExec = context.MustNewExec(backend, m.ctx, m.stepGraph)
		m.predictExec = context.MustNewExec(backend, m.ctx, m.predictGraph)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "logreg.New(features=%s)", features)
	}
	klog.V(1).Infof("logreg: created model for features %s on backend %q", features, backend.Name())
	return m, nil
}

// Features returns the feature axes of the model.
func (m *Model) Features() axes.Axes { return append(axes.Axes(nil), m.features...) }

// FeatureDim is the number of weights of the model.
func (m *Model) FeatureDim() int { return m.features.Size() }

// Context holding the model variables.
func (m *Model) Context() *context.Context { return m.ctx }

// logitsGraph returns w·x for every column of x: x is shaped [featureDim, batchSize] and the
// result [batchSize].
func (m *Model) logitsGraph(x *Node) *Node {
	w := m.weightsVar.ValueGraph(x.Graph())
	return Einsum("f,fb->b", w, ConvertDType(x, DType))
}

// stepGraph takes as inputs the learning rate (scalar), the features and the labels, and returns
// the loss, the updated weights and the updated step counter.
func (m *Model) stepGraph(_ *context.Context, inputs []*Node) []*Node {
	learningRate, x, labels := inputs[0], inputs[1], inputs[2]
	g := x.Graph()
	w := m.weightsVar.ValueGraph(g)
	logits := m.logitsGraph(x)
	loss := ReduceAllMean(losses.BinaryCrossentropyLogits([]*Node{labels}, []*Node{logits}))
	grad := Gradient(loss, w)[0]
	w = Sub(w, Mul(ConvertDType(learningRate, DType), grad))
	m.weightsVar.SetValueGraph(w)
	step := OnePlus(m.stepVar.ValueGraph(g))
	m.stepVar.SetValueGraph(step)
	return []*Node{loss, w, step}
}

// predictGraph returns the probability of label 1 for each sample.
func (m *Model) predictGraph(_ *context.Context, x *Node) *Node {
	return Sigmoid(m.logitsGraph(x))
}

// checkFeatures verifies features is shaped [featureDim, batchSize] and returns batchSize.
func (m *Model) checkFeatures(features *tensors.Tensor) (int, error) {
	if features == nil {
		return 0, errors.New("nil features tensor")
	}
	shape := features.Shape()
	if shape.DType != DType || shape.Rank() != 2 || shape.Dimensions[0] != m.FeatureDim() {
		return 0, errors.Errorf("features must be %s shaped [%d, batchSize], got %s", DType, m.FeatureDim(), shape)
	}
	return shape.Dimensions[1], nil
}

func (m *Model) checkInputs(features, labels *tensors.Tensor) error {
	batchSize, err := m.checkFeatures(features)
	if err != nil {
		return err
	}
	if labels == nil {
		return errors.New("nil labels tensor")
	}
	shape := labels.Shape()
	if shape.DType != DType || shape.Rank() != 1 || shape.Dimensions[0] != batchSize {
		return errors.Errorf("labels must be %s shaped [%d] (the batch size of the features), got %s",
			DType, batchSize, shape)
	}
	return nil
}

// Step executes one gradient descent step on the batch and returns the batch loss (before the
// update), the updated weights and the step counter.
func (m *Model) Step(learningRate float64, features, labels *tensors.Tensor) (StepResult, error) {
	var result StepResult
	if math.IsNaN(learningRate) || math.IsInf(learningRate, 0) {
		return result, errors.Errorf("logreg.Step: invalid learning rate %g", learningRate)
	}
	if err := m.checkInputs(features, labels); err != nil {
		return result, errors.WithMessage(err, "logreg.Step")
	}
	outputs, err := m.stepExec.Exec(float32(learningRate), features, labels)
	if err != nil {
		return result, errors.WithMessage(err, "logreg.Step: failed to execute training step")
	}
	return readStepOutputs(outputs)
}

// readStepOutputs converts the outputs of the step graph (loss, weights, step) and frees the loss.
// The weights and step outputs may share storage with the variables, so they are not finalized.
func readStepOutputs(outputs []*tensors.Tensor) (result StepResult, err error) {
	defer func() {
		if finalizeErr := outputs[0].FinalizeAll(); finalizeErr != nil {
			klog.Warningf("logreg.Step: failed to finalize loss: %v", finalizeErr)
		}
	}()
	err = exceptions.TryCatch[error](func() {
		result.Loss = float64(outputs[0].Value().(float32))
		result.Weights = toFloat64(outputs[1].Value().([]float32))
		result.Step = outputs[2].Value().(int64)
	})
	if err != nil {
		return StepResult{}, errors.WithMessage(err, "logreg.Step: failed to read results")
	}
	return result, nil
}

// Predict returns the probability of label 1 for each sample (column) of features.
func (m *Model) Predict(features *tensors.Tensor) ([]float64, error) {
	if _, err := m.checkFeatures(features); err != nil {
		return nil, errors.WithMessage(err, "logreg.Predict")
	}
	var probabilities []float64
	err := exceptions.TryCatch[error](func() {
		output := m.predictExec.MustExec1(features)
		defer output.FinalizeAll()
		probabilities = toFloat64(output.Value().([]float32))
	})
	if err != nil {
		return nil, errors.WithMessage(err, "logreg.Predict")
	}
	return probabilities, nil
}

// Accuracy returns the fraction of samples where the predicted label (probability >= 0.5) matches
// the given label.
func (m *Model) Accuracy(features, labels *tensors.Tensor) (float64, error) {
	if err := m.checkInputs(features, labels); err != nil {
		return 0, errors.WithMessage(err, "logreg.Accuracy")
	}
	probabilities, err := m.Predict(features)
	if err != nil {
		return 0, err
	}
	if len(probabilities) == 0 {
		return 0, nil
	}
	var want []float32
	err = exceptions.TryCatch[error](func() { want = labels.Value().([]float32) })
	if err != nil {
		return 0, errors.WithMessage(err, "logreg.Accuracy: failed to read labels")
	}
	var correct int
	for ii, p := range probabilities {
		if (p >= 0.5) == (want[ii] >= 0.5) {
			correct++
		}
	}
	return float64(correct) / float64(len(probabilities)), nil
}

// Weights returns the current weights of the model.
func (m *Model) Weights() ([]float64, error) {
	value, err := m.weightsVar.Value()
	if err != nil {
		return nil, errors.WithMessage(err, "logreg.Weights")
	}
	var weights []float64
	err = exceptions.TryCatch[error](func() { weights = toFloat64(value.Value().([]float32)) })
	if err != nil {
		return nil, errors.WithMessage(err, "logreg.Weights")
	}
	return weights, nil
}

// NumSteps returns the number of training steps executed since creation or the last Reset.
func (m *Model) NumSteps() (int64, error) {
	value, err := m.stepVar.Value()
	if err != nil {
		return 0, errors.WithMessage(err, "logreg.NumSteps")
	}
	var step int64
	err = exceptions.TryCatch[error](func() { step = value.Value().(int64) })
	return step, err
}

// Reset sets the weights and the step counter back to 0.
func (m *Model) Reset() error {
	if err := m.weightsVar.SetValue(tensors.FromValue(make([]float32, m.FeatureDim()))); err != nil {
		return errors.WithMessage(err, "logreg.Reset: weights")
	}
	if err := m.stepVar.SetValue(tensors.FromScalar(int64(0))); err != nil {
		return errors.WithMessage(err, "logreg.Reset: step")
	}
	return nil
}

// Finalize frees the compiled computations and the variables. The model can't be used afterward.
func (m *Model) Finalize() {
	m.stepExec.Finalize()
	m.predictExec.Finalize()
	m.ctx.Finalize()
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for ii, v := range values {
		out[ii] = float64(v)
	}
	return out
}
