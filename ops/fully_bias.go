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

package ops

import (
	"github.com/gomlx/customops/operator"
	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/customops/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Slots of FullyBias.
const (
	FullyBiasData = iota
	FullyBiasBias
)

// FullyBiasOut is the only output slot of FullyBias.
const FullyBiasOut = 0

// FullyBiasParams configures FullyBias.
type FullyBiasParams struct {
	// NumOutput is the number of outputs (K) each input feature is broadcast to.
	NumOutput int
}

// FullyBiasKind describes the FullyBias operator.
func FullyBiasKind() operator.Kind {
	return operator.Kind{
		Name: "FullyBias",
		Description: "Apply a per-feature, per-output bias to the input: " +
			"out[b, f, k] = data[b, f] + bias_weight[0, f, k], where f runs over the flattened non-batch " +
			"axes of data and k over num_output.",
		Arguments: []operator.Argument{
			{Name: "data", Type: "Symbol", Description: "Input data to the FullyBias operator: the first axis is the batch."},
			{Name: "bias_weight", Type: "Symbol", Description: "Bias, shaped (1, features, num_output)."},
		},
		Fields: []operator.Field{
			operator.NewField("num_output", operator.IntField).SetLowerBound(1).
				Describe("Number of hidden nodes of the output."),
		},
		New: func(params operator.Values) (operator.Property, error) {
			return NewFullyBias(FullyBiasParams{NumOutput: params.Int("num_output")})
		},
	}
}

// FullyBias broadcasts each input feature to NumOutput outputs, adding a learned bias per (feature, output).
//
// Data must have rank >= 2: its first axis is the batch (B) and the remaining axes are flattened into
// the features (F). The output is shaped (B, F, NumOutput).
type FullyBias struct {
	operator.Base
	params FullyBiasParams
}

var _ operator.Property = (*FullyBias)(nil)

// NewFullyBias returns the FullyBias Property for the given parameters.
func NewFullyBias(params FullyBiasParams) (*FullyBias, error) {
	if params.NumOutput < 1 {
		return nil, errors.Errorf("FullyBias: num_output must be >= 1, got %d", params.NumOutput)
	}
	return &FullyBias{params: params}, nil
}

// Name implements operator.Property.
func (p *FullyBias) Name() string { return "FullyBias" }

// Arguments implements operator.Property.
func (p *FullyBias) Arguments() []string { return []string{"data", "bias_weight"} }

// Params implements operator.Property.
func (p *FullyBias) Params() operator.Values {
	return operator.Values{"num_output": p.params.NumOutput}
}

// InferShape implements operator.Property.
func (p *FullyBias) InferShape(inShapes []shapes.Shape) (outShapes, auxShapes []shapes.Shape, err error) {
	args := p.Arguments()
	if err = operator.CheckNumInputs(args, len(inShapes)); err != nil {
		return
	}
	dshape := inShapes[FullyBiasData]
	if dshape.IsUnknown() {
		err = errors.Wrap(operator.ErrIncomplete, "FullyBias: shape of \"data\" unknown")
		return
	}
	if err = dshape.CheckMinRank(2); err != nil {
		err = errors.WithMessage(err, "FullyBias: \"data\" must have at least a batch and a feature axis")
		return
	}
	numFeatures := dshape.ProdDims(1, dshape.Rank())
	numOutput := p.params.NumOutput
	if err = operator.AssignShape(args, inShapes, FullyBiasBias, shapes.Dims(1, numFeatures, numOutput)); err != nil {
		return
	}
	outShapes = []shapes.Shape{shapes.Dims(dshape.Dim(0), numFeatures, numOutput)}
	return
}

// InferType implements operator.Property.
func (p *FullyBias) InferType(inTypes []dtypes.DType) (outTypes, auxTypes []dtypes.DType, err error) {
	outTypes, err = operator.InferUniformType(p.Arguments(), inTypes, 1)
	return
}

// BackwardDeps implements operator.Property: the gradients only depend on the output gradient. The shapes
// of the input gradients are taken from the gradient buffers themselves.
func (p *FullyBias) BackwardDeps(outGrad, inData, outData []int) []int {
	return []int{outGrad[FullyBiasOut]}
}

// BackwardInplace implements operator.Property: the gradient of data may reuse the storage of data.
func (p *FullyBias) BackwardInplace(outGrad, inData, outData, inGrad []int) []operator.InplacePair {
	return []operator.InplacePair{{Source: inData[FullyBiasData], Dest: inGrad[FullyBiasData]}}
}

// CreateOperator implements operator.Property.
func (p *FullyBias) CreateOperator(inShapes []shapes.Shape, inTypes []dtypes.DType) (operator.Operator, error) {
	dispatcher := operator.NewDTypeDispatcher[func(FullyBiasParams) operator.Operator]("FullyBias").
		Register(dtypes.Float32, func(params FullyBiasParams) operator.Operator { return &fullyBiasOp[float32]{params} }).
		Register(dtypes.Float64, func(params FullyBiasParams) operator.Operator { return &fullyBiasOp[float64]{params} }).
		Reject(dtypes.Float16, "float16 FullyBias is only supported by accelerated (cuDNN) implementations")
	return operator.Create(p, inShapes, inTypes, dispatcher, p.params)
}

// fullyBiasOp implements the FullyBias kernels for dtype T.
type fullyBiasOp[T kernelFloat] struct {
	params FullyBiasParams
}

// Forward implements operator.Operator.
func (op *fullyBiasOp[T]) Forward(ctx *operator.Context, inData []*tensors.Tensor, req []operator.WriteMode, outData, _ []*tensors.Tensor) {
	if len(inData) != 2 || len(outData) != 1 || len(req) != 1 {
		exceptions.Panicf("FullyBias.Forward: wants 2 inputs, 1 output and 1 write mode, got %d, %d and %d",
			len(inData), len(outData), len(req))
	}
	if req[FullyBiasOut] == operator.WriteNull {
		return
	}
	operator.AssertOverwrite("FullyBias", "output", req[FullyBiasOut])
	dshape := inData[FullyBiasData].Shape()
	batchSize := dshape.Dim(0)
	numFeatures := dshape.ProdDims(1, dshape.Rank())
	numOutput := op.params.NumOutput
	shapes.AssertDims(outData[FullyBiasOut], batchSize, numFeatures, numOutput)
	shapes.AssertSize(inData[FullyBiasBias], numFeatures*numOutput)

	data := tensors.Flat[T](inData[FullyBiasData])
	bias := tensors.Flat[T](inData[FullyBiasBias])
	out := tensors.Flat[T](outData[FullyBiasOut])
	ctx.ParallelFor(len(data), func(start, end int) {
		for row := start; row < end; row++ {
			// row = b*numFeatures + f, so the bias row is f.
			feature := row % numFeatures
			outRow := out[row*numOutput : (row+1)*numOutput]
			biasRow := bias[feature*numOutput : (feature+1)*numOutput]
			for k, b := range biasRow {
				outRow[k] = data[row] + b
			}
		}
	})
}

// Backward implements operator.Operator.
//
// Viewing the output gradient as (B, F*K), the bias gradient is the sum over the batch. Viewing it
// as (B*F, K), the data gradient is the sum over the outputs. Neither needs the forward tensors.
func (op *fullyBiasOp[T]) Backward(ctx *operator.Context, outGrad, _, _ []*tensors.Tensor, req []operator.WriteMode, inGrad, _ []*tensors.Tensor) {
	if len(outGrad) != 1 || len(inGrad) != 2 || len(req) != 2 {
		exceptions.Panicf("FullyBias.Backward: wants 1 output gradient, 2 input gradients and 2 write modes, got %d, %d and %d",
			len(outGrad), len(inGrad), len(req))
	}
	gshape := outGrad[FullyBiasOut].Shape()
	if gshape.Rank() < 2 {
		exceptions.Panicf("FullyBias.Backward: output gradient must have a batch axis, got shape %s", gshape)
	}
	grad := tensors.Flat[T](outGrad[FullyBiasOut])

	if mode := req[FullyBiasBias]; mode != operator.WriteNull {
		batchSize := gshape.Dim(0)
		rowSize := gshape.ProdDims(1, gshape.Rank())
		gbias := inGrad[FullyBiasBias].MustReshape(rowSize)
		klog.V(2).Infof("FullyBias.Backward: bias gradient %s from %d rows (%s)", inGrad[FullyBiasBias].Shape(), batchSize, mode)
		gbiasFlat := tensors.Flat[T](gbias)
		ctx.ParallelFor(rowSize, func(start, end int) {
			sums := make([]T, end-start)
			for b := range batchSize {
				for jj, g := range grad[b*rowSize+start : b*rowSize+end] {
					sums[jj] += g
				}
			}
			for jj, sum := range sums {
				operator.Assign(gbiasFlat, mode, start+jj, sum)
			}
		})
	}

	if mode := req[FullyBiasData]; mode != operator.WriteNull {
		numRows := gshape.ProdDims(0, gshape.Rank()-1)
		numOutput := gshape.Dim(-1)
		gdata := inGrad[FullyBiasData].MustReshape(numRows)
		klog.V(2).Infof("FullyBias.Backward: data gradient %s (%s)", inGrad[FullyBiasData].Shape(), mode)
		gdataFlat := tensors.Flat[T](gdata)
		ctx.ParallelFor(numRows, func(start, end int) {
			for row := start; row < end; row++ {
				var sum T
				for _, g := range grad[row*numOutput : (row+1)*numOutput] {
					sum += g
				}
				operator.Assign(gdataFlat, mode, row, sum)
			}
		})
	}
}
