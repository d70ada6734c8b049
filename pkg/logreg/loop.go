// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package logreg

import (
	"io"
	"iter"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop, ds train.Dataset) error

// OnStepFn is the type of OnStep hooks, called with the result of the step just executed.
type OnStepFn func(loop *Loop, result StepResult) error

// OnEndFn is the type of OnEnd hooks, called with the result of the last step.
type OnEndFn func(loop *Loop, result StepResult) error

// EpochSummary holds the statistics of one epoch of a Loop run.
type EpochSummary struct {
	Epoch        int
	LearningRate float64
	Steps        int

	// MeanLoss is the mean of the batch losses of the epoch.
	MeanLoss float64
}

// Loop trains a Model by feeding every batch of a dataset, for a number of epochs, to Model.Step
// with the learning rate given by its schedule for the current epoch.
//
// Functionality, like a progress bar, is attached with the OnStart, OnStep and OnEnd hooks.
//
// The public attributes are meant for reading only.
type Loop struct {
	Model    *Model
	Schedule LearningRateSchedule

	// LoopStep currently being executed. It starts with the number of steps the model has already
	// executed.
	LoopStep int

	// StartStep is the value of LoopStep at the start of RunEpochs.
	StartStep int

	// EndStep is one-past the last step to be executed, or -1 while it is not known (during the
	// first epoch). After the first epoch it is extrapolated from the number of batches per epoch.
	EndStep int

	// Epoch currently being executed, starting from 0.
	Epoch int

	// NumEpochs of the current run.
	NumEpochs int

	// LearningRate used in the current epoch.
	LearningRate float64

	// History has one summary per completed epoch of the last run.
	History []EpochSummary

	// TrainStepDurations collected during training.
	TrainStepDurations []time.Duration

	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a training loop for model. If schedule is nil, InverseEpochDecay(DefaultLearningRateBase)
// is used.
func NewLoop(model *Model, schedule LearningRateSchedule) *Loop {
	if schedule == nil {
		schedule = InverseEpochDecay(DefaultLearningRateBase)
	}
	loop := &Loop{
		Model:    model,
		Schedule: schedule,
		EndStep:  -1,
		onStart:  newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:   newPriorityHooks[*hookWithName[OnStepFn]](),
		onEnd:    newPriorityHooks[*hookWithName[OnEndFn]](),
	}
	if numSteps, err := model.NumSteps(); err == nil {
		loop.LoopStep = int(numSteps)
	}
	return loop
}

// RunEpochs trains for the given number of epochs: every epoch reads ds until io.EOF and then resets it.
//
// ds must yield one input and one label tensor per batch, in the layout datasets.FeaturesFirst.
// Yielded tensors are finalized after use, unless ds implements train.DatasetCustomOwnership and keeps
// their ownership.
//
// It returns the result of the last step.
func (loop *Loop) RunEpochs(ds train.Dataset, epochs int) (last StepResult, err error) {
	if epochs < 0 {
		return last, errors.Errorf("Loop.RunEpochs(%d): number of epochs must be non-negative", epochs)
	}
	finalizeYielded := finalizeYieldedTensors(ds)
	loop.StartStep = loop.LoopStep
	loop.EndStep = -1
	loop.Epoch = 0
	loop.NumEpochs = epochs
	loop.History = nil
	loop.TrainStepDurations = nil
	if epochs > 0 {
		loop.LearningRate = loop.Schedule(0)
	}
	if err = loop.start(ds); err != nil {
		return
	}

	for loop.Epoch = 0; loop.Epoch < epochs; loop.Epoch++ {
		loop.LearningRate = loop.Schedule(loop.Epoch)
		summary := EpochSummary{Epoch: loop.Epoch, LearningRate: loop.LearningRate}
		var sumLoss float64
		for {
			_, inputs, labels, yieldErr := ds.Yield()
			if yieldErr != nil {
				if yieldErr == io.EOF {
					loop.EndStep = loop.LoopStep + summary.Steps*(epochs-loop.Epoch-1)
					break
				}
				return last, errors.WithMessagef(yieldErr,
					"Loop.RunEpochs(epoch %d of %d): failed reading from dataset %q", loop.Epoch, epochs, ds.Name())
			}
			if len(inputs) != 1 || len(labels) != 1 {
				return last, errors.Errorf("Loop.RunEpochs: dataset %q must yield one input and one label tensor, got %d and %d",
					ds.Name(), len(inputs), len(labels))
			}
			last, err = loop.step(inputs[0], labels[0])
			if finalizeYielded {
				finalizeAll(inputs, labels)
			}
			if err != nil {
				return last, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed at epoch %d (LoopStep=%d)",
					epochs, loop.Epoch, loop.LoopStep)
			}
			summary.Steps++
			sumLoss += last.Loss
			loop.LoopStep++
		}
		if summary.Steps > 0 {
			summary.MeanLoss = sumLoss / float64(summary.Steps)
		}
		loop.History = append(loop.History, summary)
		klog.V(1).Infof("epoch %d: learning rate %g, %d steps, mean loss %.4f",
			summary.Epoch, summary.LearningRate, summary.Steps, summary.MeanLoss)
		ds.Reset()
	}
	if loop.EndStep < 0 {
		loop.EndStep = loop.LoopStep
	}

	if err = loop.end(last); err != nil {
		return last, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed end (LoopStep=%d)", epochs, loop.LoopStep)
	}
	return last, nil
}

// step executes one Model.Step and calls the OnStep hooks.
func (loop *Loop) step(features, labels *tensors.Tensor) (result StepResult, err error) {
	startTime := time.Now()
	result, err = loop.Model.Step(loop.LearningRate, features, labels)
	loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(startTime))
	if err != nil {
		return
	}
	for hook := range loop.onStep.All() {
		if err = hook.fn(loop, result); err != nil {
			return result, errors.WithMessagef(err, "Loop.OnStep(hook %q)", hook.name)
		}
	}
	if math.IsNaN(result.Loss) {
		return result, errors.Errorf("batch loss is NaN, training interrupted")
	}
	if math.IsInf(result.Loss, 0) {
		return result, errors.Errorf("batch loss is infinity (%f), training interrupted", result.Loss)
	}
	return result, nil
}

func (loop *Loop) start(ds train.Dataset) error {
	for hook := range loop.onStart.All() {
		if err := hook.fn(loop, ds); err != nil {
			return errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	}
	return nil
}

func (loop *Loop) end(result StepResult) error {
	for hook := range loop.onEnd.All() {
		if err := hook.fn(loop, result); err != nil {
			return errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	}
	return nil
}

// finalizeYieldedTensors checks whether the tensors yielded by ds should be finalized after use.
func finalizeYieldedTensors(ds train.Dataset) bool {
	dsOwnership, ok := ds.(train.DatasetCustomOwnership)
	if !ok {
		return true
	}
	return dsOwnership.IsOwnershipTransferred()
}

func finalizeAll(groups ...[]*tensors.Tensor) {
	for _, group := range groups {
		for _, t := range group {
			if err := t.FinalizeAll(); err != nil {
				klog.Warningf("failed to finalize yielded tensor: %v", err)
			}
		}
	}
}

// MedianTrainStepDuration returns the median duration of each training step. It returns 1 millisecond
// if no training step was recorded.
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.TrainStepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a loop.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with given priority and name (for error reporting) called after each Model.Step.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a loop.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks per priority, keeping the insertion order within a priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{hooks: make(map[Priority][]H)}
}

func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All returns an iterator over all registered hooks in priority order.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
