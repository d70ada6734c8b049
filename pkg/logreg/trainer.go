// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package logreg

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	gomlxcli "github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelGraph is the logistic regression model as a train.ModelFn, for batches in the layout
// datasets.BatchFirst: inputs[0] is shaped [batchSize, featureDim] and the returned logits
// [batchSize, 1].
//
// The weights are created in the current scope of ctx (usually "/logreg"), initialized to 0.
func ModelGraph(ctx *context.Context, _ any, inputs []*Node) []*Node {
	x := ConvertDType(inputs[0], DType)
	batchSize, featureDim := x.Shape().Dimensions[0], x.Shape().Dimensions[1]
	w := ctx.VariableWithValue(WeightsVariable, make([]float32, featureDim)).ValueGraph(x.Graph())
	logits := Einsum("bf,f->b", x, w)
	return []*Node{Reshape(logits, batchSize, 1)}
}

// TrainerReport holds the results of TrainWithTrainer.
type TrainerReport struct {
	// Steps executed by the training loop.
	Steps int

	// Weights learned.
	Weights []float64

	// Loss and Accuracy evaluated on the training dataset after training.
	Loss, Accuracy float64
}

// TrainWithTrainer trains the logistic regression for the given number of epochs using gomlx's
// train.Trainer and train.Loop, and the optimizer configured in ctx (see optimizers.FromContext,
// by default stochastic gradient descent with the "learning_rate" hyperparameter).
//
// ds must yield batches in the layout datasets.BatchFirst. The model variables are created under
// the scope Scope of ctx. If progressBar is true, gomlx's command-line progress bar is displayed.
func TrainWithTrainer(backend backends.Backend, ctx *context.Context, ds train.Dataset, epochs int,
	progressBar bool) (report TrainerReport, err error) {
	if epochs < 0 {
		return report, errors.Errorf("TrainWithTrainer: number of epochs must be non-negative, got %d", epochs)
	}
	err = exceptions.TryCatch[error](func() {
		ctx = ctx.In(Scope)
		meanAccuracyMetric := metrics.NewMeanBinaryLogitsAccuracy("Mean Accuracy", "#acc")
		movingAccuracyMetric := metrics.NewMovingAverageBinaryLogitsAccuracy("Moving Average Accuracy", "~acc", 0.01)
		trainer := train.NewTrainer(backend, ctx, ModelGraph,
			losses.BinaryCrossentropyLogits,
			optimizers.FromContext(ctx),
			[]metrics.Interface{movingAccuracyMetric}, // trainMetrics
			[]metrics.Interface{meanAccuracyMetric})   // evalMetrics

		loop := train.NewLoop(trainer)
		if progressBar {
			gomlxcli.AttachProgressBar(loop)
		}
		if _, err := loop.RunEpochs(ds, epochs); err != nil {
			panic(err)
		}
		report.Steps = loop.LoopStep
		klog.V(1).Infof("trainer: %d steps, median step duration %s", loop.LoopStep, loop.MedianTrainStepDuration())

		// Eval returns the loss followed by the evaluation metrics.
		evalValues, err := trainer.Eval(ds)
		if err != nil {
			panic(err)
		}
		ds.Reset()
		report.Loss = scalarToFloat64(evalValues[0])
		report.Accuracy = scalarToFloat64(evalValues[1])

		weightsVar := ctx.GetVariableByScopeAndName(ctx.Scope(), WeightsVariable)
		if weightsVar == nil {
			panic(errors.Errorf("variable %q not found in scope %q", WeightsVariable, ctx.Scope()))
		}
		report.Weights = toFloat64(weightsVar.MustValue().Value().([]float32))
	})
	if err != nil {
		return TrainerReport{}, errors.WithMessage(err, "TrainWithTrainer")
	}
	return report, nil
}

// scalarToFloat64 converts a float scalar tensor to float64.
func scalarToFloat64(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		panic(errors.Errorf("expected a float scalar, got %s", t.Shape()))
	}
}
