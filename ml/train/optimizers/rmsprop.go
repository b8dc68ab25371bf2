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

	"github.com/gomlx/customops/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// RMSPropDefaultLearningRate is used by RMSProp if no learning rate is set.
const RMSPropDefaultLearningRate = 1e-3

// RMSProp creates an optimizer that scales the step by a moving average of the squared gradients, as
// described in Tieleman & Hinton, 2012 (http://www.cs.toronto.edu/~tijmen/csc321/slides/lecture_slides_lec6.pdf):
//
//	grad = clip(rescale_grad * grad) + weight_decay * weight
//	ms = decay_rate * ms + (1 - decay_rate) * grad^2
//	weight -= learning_rate * grad / sqrt(ms + epsilon)
//
// With a decay rate of 1 no state is kept, and it behaves as SGD without momentum.
//
// It returns a configuration object that can be used to set its parameters. Once configured call Done, and it
// will return an optimizers.Interface.
func RMSProp() *RMSPropConfig {
	return &RMSPropConfig{
		hyperParams: hyperParams{
			learningRate: RMSPropDefaultLearningRate,
			weightDecay:  DefaultWeightDecay,
			rescaleGrad:  1,
		},
		decayRate: 0.9,
		epsilon:   1e-6,
	}
}

// RMSPropConfig holds the configuration of the RMSProp optimizer. Create it with RMSProp, and once
// configured call Done.
type RMSPropConfig struct {
	hyperParams
	decayRate, epsilon float64
}

// LearningRate sets the base learning rate. Default is RMSPropDefaultLearningRate.
func (c *RMSPropConfig) LearningRate(value float64) *RMSPropConfig {
	c.learningRate = value
	return c
}

// DecayRate sets the decay of the moving average of the squared gradients. Default is 0.9.
func (c *RMSPropConfig) DecayRate(value float64) *RMSPropConfig {
	c.decayRate = value
	return c
}

// Epsilon used on the denominator as a small constant for stability. Default is 1e-6.
func (c *RMSPropConfig) Epsilon(value float64) *RMSPropConfig {
	c.epsilon = value
	return c
}

// WeightDecay sets the L2 regularization factor. Default is DefaultWeightDecay.
func (c *RMSPropConfig) WeightDecay(value float64) *RMSPropConfig {
	c.weightDecay = value
	return c
}

// RescaleGrad sets the factor multiplied to the gradients, typically 1/batch_size. Default is 1.
func (c *RMSPropConfig) RescaleGrad(value float64) *RMSPropConfig {
	c.rescaleGrad = value
	return c
}

// ClipGradient clips the (rescaled) gradient to [-value, value]. A value <= 0 disables it (the default).
func (c *RMSPropConfig) ClipGradient(value float64) *RMSPropConfig {
	c.clipGradient = value
	return c
}

// Scheduler sets the learning rate scheduler.
func (c *RMSPropConfig) Scheduler(scheduler Scheduler) *RMSPropConfig {
	c.scheduler = scheduler
	return c
}

// Done will finish the configuration and construct the optimizers.Interface.
func (c *RMSPropConfig) Done() Interface {
	return &rmsProp{base: base{hyperParams: c.hyperParams}, decayRate: c.decayRate, epsilon: c.epsilon}
}

// rmsProp implements the RMSProp algorithm as an optimizers.Interface.
type rmsProp struct {
	base
	decayRate, epsilon float64
}

// CreateState implements optimizers.Interface: the moving average of the squared gradients.
func (o *rmsProp) CreateState(_ int, weight *tensors.Tensor) *tensors.Tensor {
	if o.decayRate == 1 {
		return nil
	}
	return zerosLike(weight)
}

// Update implements optimizers.Interface.
func (o *rmsProp) Update(index int, weight, grad, state *tensors.Tensor) {
	checkUpdate("RMSProp", weight, grad, state)
	lr := o.learningRateFor(index)
	klog.V(2).Infof("RMSProp: update weight #%d %s with learning rate %g", index, weight.Shape(), lr)
	switch weight.DType() {
	case dtypes.Float32:
		rmsPropUpdate(o, tensors.Flat[float32](weight), tensors.Flat[float32](grad), flatOrNil[float32](state), lr)
	case dtypes.Float64:
		rmsPropUpdate(o, tensors.Flat[float64](weight), tensors.Flat[float64](grad), flatOrNil[float64](state), lr)
	}
}

func rmsPropUpdate[T constraints.Float](o *rmsProp, weight, grad, ms []T, lr float64) {
	hp := &o.hyperParams
	decay := T(o.decayRate)
	for ii, g := range grad {
		step := gradient(hp, g) + T(hp.weightDecay)*weight[ii]
		if ms == nil {
			weight[ii] -= T(lr) * step
			continue
		}
		ms[ii] = decay*ms[ii] + (1-decay)*step*step
		weight[ii] -= T(lr) * step / T(math.Sqrt(float64(ms[ii]+T(o.epsilon))))
	}
}
