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

// Package optimizers implements optimizers that update weights in place, from the gradients computed
// by the operators' Backward. They all implement optimizers.Interface.
//
// Weights, gradients and states are tensors of dtype Float32 or Float64.
package optimizers

import (
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/customops/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Interface implemented by optimizer implementations.
//
// Weights are identified by an index, unique per weight, used to key per-weight learning rate scales.
type Interface interface {
	// CreateState returns the optimizer state for the weight with the given index (e.g. its momentum),
	// or nil if the optimizer doesn't need one.
	CreateState(index int, weight *tensors.Tensor) *tensors.Tensor

	// Update the weight in place, given its gradient and the state returned by CreateState.
	Update(index int, weight, grad, state *tensors.Tensor)

	// BeginEpoch is called at the start of each epoch, and is used by learning rate schedulers.
	BeginEpoch(epoch int)

	// SetLRScale sets a multiplier of the learning rate per weight index. Indices not given use 1.
	SetLRScale(scales map[int]float64)
}

var (
	// KnownOptimizers is a map of known optimizers by name to their default constructors, given the
	// gradient rescaling factor (typically 1/batch_size).
	KnownOptimizers = map[string]func(rescaleGrad float64) Interface{
		"sgd":     func(rescaleGrad float64) Interface { return StochasticGradientDescent().RescaleGrad(rescaleGrad).Done() },
		"rmsprop": func(rescaleGrad float64) Interface { return RMSProp().RescaleGrad(rescaleGrad).Done() },
	}
)

// ByName returns an optimizer with its default configuration given its (case-insensitive) name.
// It uses KnownOptimizers.
func ByName(name string, rescaleGrad float64) (Interface, error) {
	optBuilder, found := KnownOptimizers[strings.ToLower(name)]
	if !found {
		return nil, errors.Errorf("unknown optimizer %q, valid values are %q", name,
			slices.Sorted(maps.Keys(KnownOptimizers)))
	}
	return optBuilder(rescaleGrad), nil
}

// hyperParams are the hyperparameters shared by all optimizers.
type hyperParams struct {
	learningRate float64
	weightDecay  float64
	rescaleGrad  float64
	clipGradient float64 // 0 means no clipping.
	scheduler    Scheduler
}

// base implements the parts of Interface shared by all optimizers.
type base struct {
	hyperParams
	epoch   int
	lrScale map[int]float64
}

// BeginEpoch implements optimizers.Interface.
func (b *base) BeginEpoch(epoch int) {
	b.epoch = epoch
}

// SetLRScale implements optimizers.Interface.
func (b *base) SetLRScale(scales map[int]float64) {
	b.lrScale = maps.Clone(scales)
}

// learningRateFor returns the learning rate for the weight index at the current epoch.
func (b *base) learningRateFor(index int) float64 {
	lr := b.learningRate
	if b.scheduler != nil {
		lr = b.scheduler.LearningRate(b.learningRate, b.epoch)
	}
	if scale, found := b.lrScale[index]; found {
		lr *= scale
	}
	return lr
}

// gradient returns the rescaled and clipped gradient.
func gradient[T constraints.Float](hp *hyperParams, g T) T {
	g *= T(hp.rescaleGrad)
	if hp.clipGradient > 0 {
		g = max(min(g, T(hp.clipGradient)), T(-hp.clipGradient))
	}
	return g
}

// checkUpdate verifies that weight, grad and the optional state are compatible.
func checkUpdate(name string, weight, grad, state *tensors.Tensor) {
	if !weight.Shape().Equal(grad.Shape()) {
		exceptions.Panicf("%s: weight %s and gradient %s shapes differ", name, weight.Shape(), grad.Shape())
	}
	if state != nil && !weight.Shape().Equal(state.Shape()) {
		exceptions.Panicf("%s: weight %s and state %s shapes differ", name, weight.Shape(), state.Shape())
	}
	if dtype := weight.DType(); dtype != dtypes.Float32 && dtype != dtypes.Float64 {
		exceptions.Panicf("%s: weights of dtype %s not supported, only Float32 and Float64", name, dtype)
	}
}

// zerosLike returns a zero tensor with the shape of t.
func zerosLike(t *tensors.Tensor) *tensors.Tensor {
	return tensors.FromShape(t.Shape())
}

// Updater keeps the optimizer state of each weight, created on first use.
type Updater struct {
	optimizer Interface
	states    map[int]*tensors.Tensor
}

// NewUpdater returns an Updater for the optimizer.
func NewUpdater(optimizer Interface) *Updater {
	return &Updater{optimizer: optimizer, states: make(map[int]*tensors.Tensor)}
}

// Update the weight with the given index from its gradient.
func (u *Updater) Update(index int, weight, grad *tensors.Tensor) {
	state, found := u.states[index]
	if !found {
		state = u.optimizer.CreateState(index, weight)
		u.states[index] = state
	}
	u.optimizer.Update(index, weight, grad, state)
}

// State returns the optimizer state of the weight with the given index, or nil if there is none.
func (u *Updater) State(index int) *tensors.Tensor {
	return u.states[index]
}
