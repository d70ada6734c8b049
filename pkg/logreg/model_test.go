// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package logreg

import (
	"math"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/logreg/pkg/axes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	backendOnce sync.Once
	testBackend backends.Backend
)

// buildTestBackend returns the pure Go backend, shared by all tests.
func buildTestBackend(t *testing.T) backends.Backend {
	backendOnce.Do(func() {
		testBackend = must.M1(backends.NewWithConfig("go"))
	})
	require.NotNil(t, testBackend)
	return testBackend
}

func newTestModel(t *testing.T, features string) *Model {
	m, err := New(buildTestBackend(t), must.M1(axes.Parse(features)))
	require.NoError(t, err)
	t.Cleanup(m.Finalize)
	return m
}

// twoSamples returns a batch of 2 samples with 2 features: (1, 0) with label 1 and (0, 2) with label 0.
func twoSamples() (features, labels *tensors.Tensor) {
	features = tensors.FromValue([][]float32{
		{1, 0},
		{0, 2},
	})
	labels = tensors.FromValue([]float32{1, 0})
	return
}

func TestNew(t *testing.T) {
	_, err := New(nil, must.M1(axes.Parse("C=2")))
	require.Error(t, err)
	_, err = New(buildTestBackend(t), nil)
	require.ErrorIs(t, err, axes.ErrInvalidAxes)

	m := newTestModel(t, "H=2,W=3")
	assert.Equal(t, 6, m.FeatureDim())
	weights, err := m.Weights()
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 6), weights)
	assert.Equal(t, int64(0), must.M1(m.NumSteps()))
}

func TestStep(t *testing.T) {
	m := newTestModel(t, "C=2")
	features, labels := twoSamples()

	// With w=0 every prediction is 0.5, so the loss is ln(2) and the gradient is
	// mean((0.5 - t) * x) = (-0.25, 0.5).
	result, err := m.Step(1.0, features, labels)
	require.NoError(t, err)
	assert.InDelta(t, math.Ln2, result.Loss, 1e-5)
	require.Len(t, result.Weights, 2)
	assert.InDelta(t, 0.25, result.Weights[0], 1e-5)
	assert.InDelta(t, -0.5, result.Weights[1], 1e-5)
	assert.Equal(t, int64(1), result.Step)

	// The variables hold the updated values.
	weights := must.M1(m.Weights())
	assert.InDeltaSlice(t, result.Weights, weights, 1e-6)

	// A second step reduces the loss and increments the counter.
	second, err := m.Step(1.0, features, labels)
	require.NoError(t, err)
	assert.Less(t, second.Loss, result.Loss)
	assert.Equal(t, int64(2), second.Step)
	assert.Equal(t, int64(2), must.M1(m.NumSteps()))

	// A learning rate of 0 keeps the weights.
	third, err := m.Step(0, features, labels)
	require.NoError(t, err)
	assert.InDeltaSlice(t, second.Weights, third.Weights, 1e-6)
	assert.Equal(t, int64(3), third.Step)
}

func TestStepInvalidInputs(t *testing.T) {
	m := newTestModel(t, "C=2")
	features, labels := twoSamples()

	_, err := m.Step(math.NaN(), features, labels)
	require.Error(t, err)
	_, err = m.Step(1, nil, labels)
	require.Error(t, err)
	_, err = m.Step(1, features, nil)
	require.Error(t, err)

	// Wrong feature dimension.
	_, err = m.Step(1, tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}}), labels)
	require.Error(t, err)

	// Labels not aligned with the features.
	_, err = m.Step(1, features, tensors.FromValue([]float32{1, 0, 1}))
	require.Error(t, err)

	// Wrong dtype.
	_, err = m.Step(1, tensors.FromValue([][]float64{{1, 0}, {0, 2}}), labels)
	require.Error(t, err)

	// Nothing was executed.
	assert.Equal(t, int64(0), must.M1(m.NumSteps()))
}

func TestReadStepOutputs(t *testing.T) {
	loss := tensors.FromScalar(float32(0.5))
	weights := tensors.FromValue([]float32{0.25, -0.5})
	step := tensors.FromScalar(int64(3))
	result, err := readStepOutputs([]*tensors.Tensor{loss, weights, step})
	require.NoError(t, err)
	assert.Equal(t, StepResult{Loss: 0.5, Weights: []float64{0.25, -0.5}, Step: 3}, result)

	// Only the loss is freed: weights and step may be backed by the variables.
	assert.False(t, loss.Ok())
	assert.True(t, weights.Ok())
	assert.True(t, step.Ok())

	// Wrong dtype: the loss is freed anyway.
	loss = tensors.FromScalar(float64(0.5))
	_, err = readStepOutputs([]*tensors.Tensor{loss, weights, step})
	require.Error(t, err)
	assert.False(t, loss.Ok())
}

func TestPredictAndAccuracy(t *testing.T) {
	m := newTestModel(t, "C=2")
	features, labels := twoSamples()

	probabilities, err := m.Predict(features)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, probabilities, 1e-6)

	// With w=0 everything is predicted as 1.
	accuracy, err := m.Accuracy(features, labels)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, accuracy, 1e-9)

	// After one step w=(0.25, -0.5): the first sample gets logit 0.25 and the second -1.
	_ = must.M1(m.Step(1.0, features, labels))
	probabilities = must.M1(m.Predict(features))
	assert.InDelta(t, 1/(1+math.Exp(-0.25)), probabilities[0], 1e-5)
	assert.InDelta(t, 1/(1+math.Exp(1)), probabilities[1], 1e-5)
	assert.InDelta(t, 1.0, must.M1(m.Accuracy(features, labels)), 1e-9)

	_, err = m.Predict(tensors.FromValue([]float32{1, 2}))
	require.Error(t, err)
}

func TestReset(t *testing.T) {
	m := newTestModel(t, "C=2")
	features, labels := twoSamples()
	first := must.M1(m.Step(1.0, features, labels))
	_ = must.M1(m.Step(1.0, features, labels))

	require.NoError(t, m.Reset())
	assert.Equal(t, []float64{0, 0}, must.M1(m.Weights()))
	assert.Equal(t, int64(0), must.M1(m.NumSteps()))

	// Training restarts from scratch.
	again := must.M1(m.Step(1.0, features, labels))
	assert.InDelta(t, first.Loss, again.Loss, 1e-6)
	assert.InDeltaSlice(t, first.Weights, again.Weights, 1e-6)
	assert.Equal(t, int64(1), again.Step)
}

func TestSchedules(t *testing.T) {
	inverse := InverseEpochDecay(5)
	assert.Equal(t, 5.0, inverse(0))
	assert.Equal(t, 2.5, inverse(1))
	assert.Equal(t, 1.0, inverse(4))
	assert.Equal(t, 0.3, ConstantRate(0.3)(7))

	s, err := ScheduleByName("constant", 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, s(3))
	s, err = ScheduleByName("inverse", 2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s(1))
	_, err = ScheduleByName("cosine", 2)
	require.Error(t, err)
}
