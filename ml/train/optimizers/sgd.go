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
	"github.com/gomlx/customops/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

const (
	// SgdDefaultLearningRate is the default learning rate used by the StochasticGradientDescent optimizer.
	SgdDefaultLearningRate = 0.01

	// DefaultWeightDecay is the default L2 regularization factor of the optimizers.
	DefaultWeightDecay = 1e-4
)

// StochasticGradientDescent creates an optimizer that performs SGD with optional momentum and
// weight decay:
//
//	grad = clip(rescale_grad * grad)
//	mom = momentum * mom - learning_rate * (grad + weight_decay * weight)
//	weight += mom
//
// Without momentum (the default) no state is kept, and weight -= learning_rate * (grad + weight_decay * weight).
//
// It returns a configuration object that can be used to set its parameters. Once configured call Done, and it
// will return an optimizers.Interface.
func StochasticGradientDescent() *SGDConfig {
	return &SGDConfig{
		hyperParams: hyperParams{
			learningRate: SgdDefaultLearningRate,
			weightDecay:  DefaultWeightDecay,
			rescaleGrad:  1,
		},
	}
}

// SGDConfig holds the configuration of the SGD optimizer. Create it with StochasticGradientDescent, and once
// configured call Done.
type SGDConfig struct {
	hyperParams
	momentum float64
}

// LearningRate sets the base learning rate. Default is SgdDefaultLearningRate.
func (c *SGDConfig) LearningRate(value float64) *SGDConfig {
	c.learningRate = value
	return c
}

// Momentum sets the momentum. Default is 0, which disables it.
func (c *SGDConfig) Momentum(value float64) *SGDConfig {
	c.momentum = value
	return c
}

// WeightDecay sets the L2 regularization factor. Default is DefaultWeightDecay.
func (c *SGDConfig) WeightDecay(value float64) *SGDConfig {
	c.weightDecay = value
	return c
}

// RescaleGrad sets the factor multiplied to the gradients, typically 1/batch_size. Default is 1.
func (c *SGDConfig) RescaleGrad(value float64) *SGDConfig {
	c.rescaleGrad = value
	return c
}

// ClipGradient clips the (rescaled) gradient to [-value, value]. A value <= 0 disables it (the default).
func (c *SGDConfig) ClipGradient(value float64) *SGDConfig {
	c.clipGradient = value
	return c
}

// Scheduler sets the learning rate scheduler, given the base learning rate and the epoch.
func (c *SGDConfig) Scheduler(scheduler Scheduler) *SGDConfig {
	c.scheduler = scheduler
	return c
}

// Done will finish the configuration and construct the optimizers.Interface.
func (c *SGDConfig) Done() Interface {
	return &sgd{base: base{hyperParams: c.hyperParams}, momentum: c.momentum}
}

// sgd implements the SGD algorithm as an optimizers.Interface.
type sgd struct {
	base
	momentum float64
}

// CreateState implements optimizers.Interface: the momentum, if enabled.
func (o *sgd) CreateState(_ int, weight *tensors.Tensor) *tensors.Tensor {
	if o.momentum == 0 {
		return nil
	}
	return zerosLike(weight)
}

// Update implements optimizers.Interface.
func (o *sgd) Update(index int, weight, grad, state *tensors.Tensor) {
	checkUpdate("SGD", weight, grad, state)
	lr := o.learningRateFor(index)
	klog.V(2).Infof("SGD: update weight #%d %s with learning rate %g", index, weight.Shape(), lr)
	switch weight.DType() {
	case dtypes.Float32:
		sgdUpdate(&o.hyperParams, tensors.Flat[float32](weight), tensors.Flat[float32](grad), flatOrNil[float32](state), lr, o.momentum)
	case dtypes.Float64:
		sgdUpdate(&o.hyperParams, tensors.Flat[float64](weight), tensors.Flat[float64](grad), flatOrNil[float64](state), lr, o.momentum)
	}
}

func sgdUpdate[T constraints.Float](hp *hyperParams, weight, grad, mom []T, lr, momentum float64) {
	for ii, g := range grad {
		step := gradient(hp, g) + T(hp.weightDecay)*weight[ii]
		if mom != nil {
			mom[ii] = T(momentum)*mom[ii] - T(lr)*step
			weight[ii] += mom[ii]
		} else {
			weight[ii] -= T(lr) * step
		}
	}
}

// flatOrNil returns the flat values of t, or nil if t is nil.
func flatOrNil[T float32 | float64](t *tensors.Tensor) []T {
	if t == nil {
		return nil
	}
	return tensors.Flat[T](t)
}
