/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package optimizers

import (
	"math"

	"github.com/pkg/errors"
)

// This file implements learning rate schedules.

// Scheduler returns the learning rate to use at the given epoch, given the base learning rate
// configured in the optimizer.
type Scheduler interface {
	LearningRate(baseLearningRate float64, epoch int) float64
}

// FactorScheduler multiplies the learning rate by Factor every Step epochs:
// `lr = base_lr * factor^floor(epoch/step)`.
type FactorScheduler struct {
	Step   int
	Factor float64
}

// NewFactorScheduler returns a FactorScheduler. Step must be >= 1, and factor must be in (0, 1].
func NewFactorScheduler(step int, factor float64) (*FactorScheduler, error) {
	if step < 1 {
		return nil, errors.Errorf("FactorScheduler: step must be >= 1, got %d", step)
	}
	if factor <= 0 || factor > 1 {
		return nil, errors.Errorf("FactorScheduler: factor must be in (0, 1] so the learning rate doesn't grow, got %g", factor)
	}
	return &FactorScheduler{Step: step, Factor: factor}, nil
}

// LearningRate implements Scheduler.
func (s *FactorScheduler) LearningRate(baseLearningRate float64, epoch int) float64 {
	return baseLearningRate * math.Pow(s.Factor, float64(epoch/s.Step))
}

// CosineScheduler implements a cosine annealing schedule of the learning rate, see details in
// https://paperswithcode.com/method/cosine-annealing, with a fixed period given in epochs.
//
// The learning rate goes from the base learning rate, at the start of each period, down to
// MinLearningRate at its end.
type CosineScheduler struct {
	// Period of the schedule in number of epochs.
	Period int

	// MinLearningRate is the value of the learning rate at the end of the period.
	// If 0, it defaults to 10^-3 * base learning rate.
	MinLearningRate float64
}

// LearningRate implements Scheduler.
func (s *CosineScheduler) LearningRate(baseLearningRate float64, epoch int) float64 {
	if s.Period <= 0 {
		return baseLearningRate
	}
	minLR := s.MinLearningRate
	if minLR == 0 {
		minLR = baseLearningRate * 1e-3
	}
	// Take only the fractional part of the cycle: so always in range `[0.0, 1.0)`.
	cycle := float64(epoch%s.Period) / float64(s.Period)
	cosine := (math.Cos(cycle*math.Pi) + 1) / 2
	return minLR + cosine*(baseLearningRate-minLR)
}
