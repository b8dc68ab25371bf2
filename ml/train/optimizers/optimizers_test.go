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
	"testing"

	"github.com/gomlx/customops/executor"
	"github.com/gomlx/customops/operator"
	"github.com/gomlx/customops/ops"
	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/customops/types/tensors"
	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	opt, err := ByName("SGD", 1)
	require.NoError(t, err)
	assert.IsType(t, &sgd{}, opt)
	opt, err = ByName("rmsprop", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, opt.(*rmsProp).rescaleGrad)
	_, err = ByName("adagrad", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rmsprop")
}

func TestSGD(t *testing.T) {
	// Plain SGD, with weight decay.
	opt := StochasticGradientDescent().LearningRate(0.1).WeightDecay(0.5).Done()
	weight := tensors.FromFlatDataAndDimensions([]float64{1, -2}, 2)
	grad := tensors.FromFlatDataAndDimensions([]float64{1, 1}, 2)
	assert.Nil(t, opt.CreateState(0, weight))
	opt.Update(0, weight, grad, nil)
	// w -= 0.1 * (g + 0.5*w)
	assert.InDeltaSlice(t, []float64{1 - 0.1*1.5, -2 - 0.1*0}, tensors.Flat[float64](weight), 1e-12)

	// Momentum, rescaling and clipping.
	opt = StochasticGradientDescent().LearningRate(1).WeightDecay(0).Momentum(0.5).RescaleGrad(2).ClipGradient(3).Done()
	weight = tensors.FromFlatDataAndDimensions([]float32{0, 0}, 2)
	grad = tensors.FromFlatDataAndDimensions([]float32{1, -10}, 2)
	updater := NewUpdater(opt)
	updater.Update(7, weight, grad)
	assert.Equal(t, []float32{-2, 3}, tensors.Flat[float32](weight))
	assert.Equal(t, []float32{-2, 3}, tensors.Flat[float32](updater.State(7)))
	updater.Update(7, weight, grad)
	// mom = 0.5*mom - g
	assert.Equal(t, []float32{-3, 4.5}, tensors.Flat[float32](updater.State(7)))
	assert.Equal(t, []float32{-5, 7.5}, tensors.Flat[float32](weight))
	assert.Nil(t, updater.State(1))

	// Per-index learning rate scale.
	opt = StochasticGradientDescent().LearningRate(1).WeightDecay(0).Done()
	opt.SetLRScale(map[int]float64{1: 0.5})
	w0 := tensors.FromFlatDataAndDimensions([]float64{0}, 1)
	w1 := tensors.FromFlatDataAndDimensions([]float64{0}, 1)
	g := tensors.FromFlatDataAndDimensions([]float64{1}, 1)
	opt.Update(0, w0, g, nil)
	opt.Update(1, w1, g, nil)
	assert.Equal(t, -1.0, tensors.Flat[float64](w0)[0])
	assert.Equal(t, -0.5, tensors.Flat[float64](w1)[0])

	// Unsupported dtypes and mismatched shapes.
	require.Panics(t, func() {
		opt.Update(0, tensors.FromFlatDataAndDimensions([]int32{1}, 1), tensors.FromFlatDataAndDimensions([]int32{1}, 1), nil)
	})
	require.Panics(t, func() {
		opt.Update(0, w0, tensors.FromFlatDataAndDimensions([]float64{1, 2}, 2), nil)
	})
}

func TestRMSProp(t *testing.T) {
	opt := RMSProp().LearningRate(0.1).DecayRate(0.5).Epsilon(0).WeightDecay(0).Done()
	weight := tensors.FromFlatDataAndDimensions([]float64{1}, 1)
	grad := tensors.FromFlatDataAndDimensions([]float64{2}, 1)
	state := opt.CreateState(0, weight)
	require.NotNil(t, state)
	opt.Update(0, weight, grad, state)
	// ms = 0.5*0 + 0.5*4 = 2; w -= 0.1 * 2 / sqrt(2)
	assert.InDelta(t, 2.0, tensors.Flat[float64](state)[0], 1e-12)
	assert.InDelta(t, 1-0.1*2/math.Sqrt(2), tensors.Flat[float64](weight)[0], 1e-12)

	// Decay rate of 1 keeps no state: plain SGD.
	opt = RMSProp().LearningRate(0.1).DecayRate(1).WeightDecay(0).Done()
	weight = tensors.FromFlatDataAndDimensions([]float32{1}, 1)
	grad = tensors.FromFlatDataAndDimensions([]float32{2}, 1)
	assert.Nil(t, opt.CreateState(0, weight))
	opt.Update(0, weight, grad, nil)
	assert.InDelta(t, 0.8, tensors.Flat[float32](weight)[0], 1e-6)
}

func TestSchedulers(t *testing.T) {
	_, err := NewFactorScheduler(0, 0.5)
	require.Error(t, err)
	_, err = NewFactorScheduler(2, 1.5)
	require.Error(t, err)
	factor := must.M1(NewFactorScheduler(2, 0.5))
	assert.Equal(t, 1.0, factor.LearningRate(1, 0))
	assert.Equal(t, 1.0, factor.LearningRate(1, 1))
	assert.Equal(t, 0.5, factor.LearningRate(1, 2))
	assert.Equal(t, 0.25, factor.LearningRate(1, 5))

	cosine := &CosineScheduler{Period: 50, MinLearningRate: 0.001}
	assert.InDelta(t, 1.0, cosine.LearningRate(1, 0), 1e-9)
	assert.InDelta(t, (1+0.001)/2, cosine.LearningRate(1, 25), 1e-9)
	assert.InDelta(t, 1.0, cosine.LearningRate(1, 50), 1e-9)
	for epoch := range 49 {
		assert.Greater(t, cosine.LearningRate(1, epoch), cosine.LearningRate(1, epoch+1), "epoch %d", epoch)
	}
	assert.InDelta(t, 1e-3, (&CosineScheduler{Period: 2}).LearningRate(1, 1)*2-1, 1e-9)

	// Optimizer with scheduler follows the epochs.
	opt := StochasticGradientDescent().LearningRate(1).WeightDecay(0).Scheduler(factor).Done()
	w := tensors.FromFlatDataAndDimensions([]float64{0}, 1)
	g := tensors.FromFlatDataAndDimensions([]float64{1}, 1)
	opt.BeginEpoch(4)
	opt.Update(0, w, g, nil)
	assert.Equal(t, -0.25, tensors.Flat[float64](w)[0])
}

// TestTrainFullyBias fits the bias of a FullyBias operator to a target with a squared loss.
func TestTrainFullyBias(t *testing.T) {
	for _, name := range []string{"sgd", "rmsprop"} {
		t.Run(name, func(t *testing.T) {
			prop := must.M1(ops.NewFullyBias(ops.FullyBiasParams{NumOutput: 2}))
			e := executor.New(prop, nil)
			require.NoError(t, e.Bind([]shapes.Shape{shapes.Make(Float64, 4, 3), shapes.Unknown()}, []DType{Float64, InvalidDType}))

			data := tensors.FromShape(shapes.Make(Float64, 4, 3))
			for ii := range tensors.Flat[float64](data) {
				tensors.Flat[float64](data)[ii] = float64(ii%3) - 1
			}
			// Target is reachable with bias[0, f, k] = f + k.
			target := tensors.FromShape(shapes.Make(Float64, 4, 3, 2))
			targetFlat := tensors.Flat[float64](target)
			for ii := range targetFlat {
				b, f, k := ii/6, (ii/2)%3, ii%2
				targetFlat[ii] = tensors.Flat[float64](data)[b*3+f] + float64(f+k)
			}
			bias := tensors.FromShape(shapes.Make(Float64, 1, 3, 2))

			var opt Interface
			if name == "sgd" {
				opt = StochasticGradientDescent().LearningRate(0.5).WeightDecay(0).RescaleGrad(1.0 / 4).Done()
			} else {
				opt = RMSProp().LearningRate(0.1).WeightDecay(0).RescaleGrad(1.0 / 4).
					Scheduler(must.M1(NewFactorScheduler(50, 0.5))).Done()
			}
			updater := NewUpdater(opt)
			req := []operator.WriteMode{operator.WriteNull, operator.WriteTo}
			var loss float64
			for step := range 400 {
				opt.BeginEpoch(step)
				outputs := must.M1(e.Forward(true, []*tensors.Tensor{data, bias}, false))
				outGrad := tensors.FromShape(outputs[0].Shape())
				loss = 0
				for ii, y := range tensors.Flat[float64](outputs[0]) {
					diff := y - targetFlat[ii]
					tensors.Flat[float64](outGrad)[ii] = diff
					loss += diff * diff / 2
				}
				grads := must.M1(e.Backward([]*tensors.Tensor{outGrad}, req, nil, false))
				updater.Update(ops.FullyBiasBias, bias, grads[ops.FullyBiasBias])
				e.Release(outputs...)
				e.Release(grads[ops.FullyBiasBias])
			}
			assert.Less(t, loss, 1e-3)
			assert.InDeltaSlice(t, []float64{0, 1, 1, 2, 2, 3}, tensors.Flat[float64](bias), 0.05)
		})
	}
}
