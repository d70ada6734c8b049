// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// logreg generates a two-class Gaussian mixture and trains a logistic regression on it.
//
// Hyperparameters are set with -set, e.g.:
//
//	logreg -set="weights=0.3,0.7;axes=H:2,W:2;num_epochs=20" -plot=/tmp/samples.png
//
// Settings are separated by ";", and the axes use ":" between name and length, since "=" is
// taken by the -set syntax.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	gomlxcli "github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/logreg/pkg/axes"
	"github.com/gomlx/logreg/pkg/datasets"
	"github.com/gomlx/logreg/pkg/logreg"
	"github.com/gomlx/logreg/pkg/mixture"
	"github.com/gomlx/logreg/pkg/plots"
	"github.com/gomlx/logreg/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

// ValidTrainers are the values accepted by the "trainer" hyperparameter.
var ValidTrainers = []string{"manual", "gomlx"}

var (
	flagBackend   = flag.String("backend", "", "Backend configuration, e.g. \"go\" or \"xla:cpu\". If empty, uses $GOMLX_BACKEND or the default backend.")
	flagCSV       = flag.String("csv", "", "If set, writes the generated samples as CSV to this file.")
	flagPlot      = flag.String("plot", "", "If set, plots the samples and the learned decision boundary to this file (.png, .svg or .pdf).")
	flagDescribe  = flag.Bool("describe", false, "Print the number of samples and the feature means for each label.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

// createDefaultContext sets the context with default hyperparameters.
func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// Mixture.
		"weights":      "0.5,0.5",
		"axes":         "C:4",
		"batch_size":   128,
		"num_batches":  10,
		"seed":         0,
		"separation":   mixture.DefaultSeparation,
		"std_dev":      mixture.DefaultStdDev,
		"random_means": false,
		"means_range":  1.0, // Means drawn from [-means_range, means_range) if random_means is set.

		// Training.
		"trainer":    ValidTrainers[0],
		"num_epochs": 10,
		"lr_base":    logreg.DefaultLearningRateBase,
		"schedule":   "inverse", // "inverse": lr_base/(1+epoch), "constant": lr_base.

		// Used by the "gomlx" trainer only.
		optimizers.ParamOptimizer:    "sgd",
		optimizers.ParamLearningRate: 0.1,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := gomlxcli.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(gomlxcli.ParseContextSettings(ctx, *settings))
	if err := mainWithContext(ctx, paramsSet); err != nil {
		klog.Errorf("Failed with error: %+v", err)
		os.Exit(1)
	}
}

// parseWeights parses a comma-separated list of mixing weights.
func parseWeights(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	weights := make([]float64, 0, len(parts))
	for _, part := range parts {
		w, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid mixing weight %q in %q", part, s)
		}
		weights = append(weights, w)
	}
	return weights, nil
}

// newGenerator creates the mixture generator configured by the hyperparameters in ctx.
func newGenerator(ctx *context.Context) (*mixture.Generator, error) {
	weights, err := parseWeights(context.GetParamOr(ctx, "weights", "0.5,0.5"))
	if err != nil {
		return nil, err
	}
	features, err := axes.Parse(context.GetParamOr(ctx, "axes", "C:4"))
	if err != nil {
		return nil, err
	}
	seed := context.GetParamOr(ctx, "seed", 0)
	if seed < 0 {
		return nil, errors.Errorf("seed must be non-negative, got %d", seed)
	}
	cfg := mixture.New(weights, features).
		WithSeed(uint64(seed)).
		WithSeparation(context.GetParamOr(ctx, "separation", mixture.DefaultSeparation)).
		WithStdDev(context.GetParamOr(ctx, "std_dev", mixture.DefaultStdDev))
	if context.GetParamOr(ctx, "random_means", false) {
		r := context.GetParamOr(ctx, "means_range", 1.0)
		cfg = cfg.WithRandomMeans(-r, r)
	}
	return cfg.Done()
}

func newBackend() (backends.Backend, error) {
	if *flagBackend != "" {
		return backends.NewWithConfig(*flagBackend)
	}
	return backends.New()
}

// mainWithContext generates the data and trains the model with the hyperparameters in ctx.
func mainWithContext(ctx *context.Context, paramsSet []string) error {
	if *flagVerbosity >= 2 {
		fmt.Println(gomlxcli.SprintModifiedContextSettings(ctx, paramsSet))
	}
	trainerType := context.GetParamOr(ctx, "trainer", ValidTrainers[0])
	if trainerType != "manual" && trainerType != "gomlx" {
		return errors.Errorf("parameter \"trainer\" must take one value from %v, got %q", ValidTrainers, trainerType)
	}
	gen, err := newGenerator(ctx)
	if err != nil {
		return err
	}
	mds, err := gen.GenerateDataset(
		context.GetParamOr(ctx, "batch_size", 128),
		context.GetParamOr(ctx, "num_batches", 10))
	if err != nil {
		return err
	}
	if *flagVerbosity >= 1 {
		fmt.Printf("Generated %s samples (%s batches of %s) of %s\n", humanize.Comma(int64(mds.NumSamples())),
			humanize.Comma(int64(mds.NumBatches())), humanize.Comma(int64(mds.BatchSize())), gen)
	}
	if *flagDescribe {
		if err = describe(mds); err != nil {
			return err
		}
	}
	if *flagCSV != "" {
		if err = writeCSV(mds, *flagCSV); err != nil {
			return err
		}
	}

	backend, err := newBackend()
	if err != nil {
		return errors.WithMessage(err, "failed to create backend")
	}
	defer backend.Finalize()
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	numEpochs := context.GetParamOr(ctx, "num_epochs", 10)
	var weights []float64
	var rows [][2]string
	if trainerType == "manual" {
		weights, rows, err = trainManual(ctx, backend, mds, numEpochs)
	} else {
		weights, rows, err = trainWithGoMLX(ctx, backend, mds, numEpochs)
	}
	if err != nil {
		return err
	}
	fmt.Println(commandline.SummaryTable(rows))

	if *flagPlot != "" {
		if err = plots.Scatter(mds, weights, *flagPlot); err != nil {
			return err
		}
		fmt.Printf("Plot saved to %q\n", *flagPlot)
	}
	return nil
}

// trainManual trains with logreg.Loop, and returns the learned weights and the summary rows.
func trainManual(ctx *context.Context, backend backends.Backend, mds *mixture.Dataset, numEpochs int) (
	weights []float64, rows [][2]string, err error) {
	schedule, err := logreg.ScheduleByName(
		context.GetParamOr(ctx, "schedule", "inverse"),
		context.GetParamOr(ctx, "lr_base", logreg.DefaultLearningRateBase))
	if err != nil {
		return nil, nil, err
	}
	ds, err := datasets.New("train", mds, datasets.FeaturesFirst)
	if err != nil {
		return nil, nil, err
	}
	defer ds.Finalize()
	model, err := logreg.New(backend, mds.Features())
	if err != nil {
		return nil, nil, err
	}
	defer model.Finalize()

	loop := logreg.NewLoop(model, schedule)
	if *flagVerbosity >= 1 {
		commandline.AttachProgressBar(loop)
	}
	last, err := loop.RunEpochs(ds, numEpochs)
	if err != nil {
		return nil, nil, err
	}
	if *flagVerbosity >= 1 {
		fmt.Println(commandline.HistoryTable(loop.History))
	}
	weights, err = model.Weights()
	if err != nil {
		return nil, nil, err
	}
	accuracy, err := manualAccuracy(model, ds)
	if err != nil {
		return nil, nil, err
	}
	rows = [][2]string{
		{"Trainer", "manual"},
		{"Steps", humanize.Comma(last.Step)},
		{"Last batch loss", fmt.Sprintf("%.4f", last.Loss)},
		{"Accuracy (train)", fmt.Sprintf("%.2f%%", 100*accuracy)},
		{"Weights", commandline.FormatWeights(weights)},
		{"Median train step duration", gomlxcli.FormatDuration(loop.MedianTrainStepDuration())},
	}
	return weights, rows, nil
}

// manualAccuracy returns the accuracy of the model over all batches of ds.
func manualAccuracy(model *logreg.Model, ds *datasets.Dataset) (float64, error) {
	ds.Reset()
	defer ds.Reset()
	var sum float64
	var count int
	for {
		_, inputs, labels, err := ds.Yield()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		accuracy, err := model.Accuracy(inputs[0], labels[0])
		if err != nil {
			return 0, err
		}
		sum += accuracy
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}

// trainWithGoMLX trains with gomlx's train.Trainer, and returns the learned weights and the summary rows.
func trainWithGoMLX(ctx *context.Context, backend backends.Backend, mds *mixture.Dataset, numEpochs int) (
	weights []float64, rows [][2]string, err error) {
	ds, err := datasets.New("train", mds, datasets.BatchFirst)
	if err != nil {
		return nil, nil, err
	}
	defer ds.Finalize()
	report, err := logreg.TrainWithTrainer(backend, ctx, ds, numEpochs, *flagVerbosity >= 1)
	if err != nil {
		return nil, nil, err
	}
	rows = [][2]string{
		{"Trainer", "gomlx (" + context.GetParamOr(ctx, optimizers.ParamOptimizer, "sgd") + ")"},
		{"Steps", humanize.Comma(int64(report.Steps))},
		{"Loss (train)", fmt.Sprintf("%.4f", report.Loss)},
		{"Accuracy (train)", fmt.Sprintf("%.2f%%", 100*report.Accuracy)},
		{"Weights", commandline.FormatWeights(report.Weights)},
	}
	return report.Weights, rows, nil
}

func describe(mds *mixture.Dataset) error {
	stats, err := mds.Describe()
	if err != nil {
		return err
	}
	names := mds.FeatureNames()
	rows := make([][2]string, 0, 2*len(stats))
	for _, s := range stats {
		means := make([]string, len(s.Means))
		for ii, m := range s.Means {
			means[ii] = fmt.Sprintf("%s=%.3f", names[ii], m)
		}
		rows = append(rows,
			[2]string{fmt.Sprintf("Label %d count", s.Label), humanize.Comma(int64(s.Count))},
			[2]string{fmt.Sprintf("Label %d means", s.Label), strings.Join(means, " ")})
	}
	fmt.Println(commandline.SummaryTable(rows))
	return nil
}

func writeCSV(mds *mixture.Dataset, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close %q", path)
		}
	}()
	if err = mds.WriteCSV(f); err != nil {
		return err
	}
	klog.V(1).Infof("wrote %d samples to %q", mds.NumSamples(), path)
	return nil
}
