// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package logreg

import "github.com/pkg/errors"

// DefaultLearningRateBase is the base of the InverseEpochDecay schedule used by the command line.
const DefaultLearningRateBase = 5.0

// LearningRateSchedule returns the learning rate to use during the given epoch (starting at 0).
type LearningRateSchedule func(epoch int) float64

// InverseEpochDecay returns the schedule base / (1 + epoch).
func InverseEpochDecay(base float64) LearningRateSchedule {
	return func(epoch int) float64 {
		return base / float64(1+epoch)
	}
}

// ConstantRate returns a schedule that always returns rate.
func ConstantRate(rate float64) LearningRateSchedule {
	return func(int) float64 { return rate }
}

// ScheduleByName returns the schedule "inverse" (InverseEpochDecay) or "constant" (ConstantRate)
// with the given base rate.
func ScheduleByName(name string, base float64) (LearningRateSchedule, error) {
	switch name {
	case "inverse", "":
		return InverseEpochDecay(base), nil
	case "constant":
		return ConstantRate(base), nil
	default:
		return nil, errors.Errorf("unknown learning rate schedule %q, valid values are \"inverse\" or \"constant\"", name)
	}
}
