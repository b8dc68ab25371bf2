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

// Slots of EmbeddingBias.
const (
	EmbeddingBiasData = iota
	EmbeddingBiasWeight
	EmbeddingBiasBias
)

// EmbeddingBiasOut is the only output slot of EmbeddingBias.
const EmbeddingBiasOut = 0

// EmbeddingBiasParams configures EmbeddingBias.
type EmbeddingBiasParams struct {
	// InputDim is the vocabulary size: indices in data must be in [0, InputDim).
	InputDim int

	// OutputDim is the embedding size.
	OutputDim int
}

// EmbeddingBiasKind describes the EmbeddingBias operator.
func EmbeddingBiasKind() operator.Kind {
	return operator.Kind{
		Name: "EmbeddingBias",
		Description: "Map integer indices to vector representations (embeddings), adding a per-index bias: " +
			"output[..., :] = weight[data[...], :] + bias[data[...], :]. " +
			"The output shape is the shape of data with output_dim appended.",
		Arguments: []operator.Argument{
			{Name: "data", Type: "Symbol", Description: "Input data to the EmbeddingBias operator: indices stored with the floating-point dtype of weight."},
			{Name: "weight", Type: "Symbol", Description: "Embedding weight matrix, shaped (input_dim, output_dim)."},
			{Name: "bias", Type: "Symbol", Description: "Embedding bias matrix, shaped (input_dim, output_dim)."},
		},
		Fields: []operator.Field{
			operator.NewField("input_dim", operator.IntField).SetLowerBound(1).
				Describe("Vocabulary size of the input indices."),
			operator.NewField("output_dim", operator.IntField).SetLowerBound(1).
				Describe("Dimension of the embedding vectors."),
		},
		New: func(params operator.Values) (operator.Property, error) {
			return NewEmbeddingBias(EmbeddingBiasParams{
				InputDim:  params.Int("input_dim"),
				OutputDim: params.Int("output_dim"),
			})
		},
	}
}

// EmbeddingBias is an embedding lookup with a per-index bias table.
//
// Indices are carried in data using the floating-point dtype of the tables, and truncated to int.
// They are not validated against InputDim: out-of-range indices panic.
type EmbeddingBias struct {
	operator.Base
	params EmbeddingBiasParams
}

var _ operator.Property = (*EmbeddingBias)(nil)

// NewEmbeddingBias returns the EmbeddingBias Property for the given parameters.
func NewEmbeddingBias(params EmbeddingBiasParams) (*EmbeddingBias, error) {
	if params.InputDim < 1 || params.OutputDim < 1 {
		return nil, errors.Errorf("EmbeddingBias: input_dim and output_dim must be >= 1, got %d and %d",
			params.InputDim, params.OutputDim)
	}
	return &EmbeddingBias{params: params}, nil
}

// Name implements operator.Property.
func (p *EmbeddingBias) Name() string { return "EmbeddingBias" }

// Arguments implements operator.Property.
func (p *EmbeddingBias) Arguments() []string { return embeddingBiasArguments }

var embeddingBiasArguments = []string{"data", "weight", "bias"}

// Params implements operator.Property.
func (p *EmbeddingBias) Params() operator.Values {
	return operator.Values{"input_dim": p.params.InputDim, "output_dim": p.params.OutputDim}
}

// InferShape implements operator.Property.
// The weight and bias shapes are always refined to (input_dim, output_dim), even if data is not known yet.
func (p *EmbeddingBias) InferShape(inShapes []shapes.Shape) (outShapes, auxShapes []shapes.Shape, err error) {
	args := p.Arguments()
	if err = operator.CheckNumInputs(args, len(inShapes)); err != nil {
		return
	}
	tableShape := shapes.Dims(p.params.InputDim, p.params.OutputDim)
	for _, idx := range []int{EmbeddingBiasWeight, EmbeddingBiasBias} {
		if err = operator.AssignShape(args, inShapes, idx, tableShape); err != nil {
			return
		}
	}
	dshape := inShapes[EmbeddingBiasData]
	if dshape.IsUnknown() {
		err = errors.Wrap(operator.ErrIncomplete, "EmbeddingBias: shape of \"data\" unknown")
		return
	}
	out := shapes.ConcatenateDimensions(dshape, shapes.Dims(p.params.OutputDim))
	out.DType = dtypes.InvalidDType
	outShapes = []shapes.Shape{out}
	return
}

// InferType implements operator.Property.
func (p *EmbeddingBias) InferType(inTypes []dtypes.DType) (outTypes, auxTypes []dtypes.DType, err error) {
	outTypes, err = operator.InferUniformType(p.Arguments(), inTypes, 1)
	return
}

// BackwardDeps implements operator.Property: the gradient of the tables only needs the indices.
func (p *EmbeddingBias) BackwardDeps(outGrad, inData, outData []int) []int {
	return []int{outGrad[EmbeddingBiasOut], inData[EmbeddingBiasData]}
}

// CreateOperator implements operator.Property.
func (p *EmbeddingBias) CreateOperator(inShapes []shapes.Shape, inTypes []dtypes.DType) (operator.Operator, error) {
	dispatcher := operator.NewDTypeDispatcher[func(EmbeddingBiasParams) operator.Operator]("EmbeddingBias").
		Register(dtypes.Float32, func(params EmbeddingBiasParams) operator.Operator { return &embeddingBiasOp[float32]{params} }).
		Register(dtypes.Float64, func(params EmbeddingBiasParams) operator.Operator { return &embeddingBiasOp[float64]{params} }).
		Register(dtypes.Float16, func(params EmbeddingBiasParams) operator.Operator {
			return operator.Float16Operator{Float32: &embeddingBiasOp[float32]{params}}
		})
	return operator.Create(p, inShapes, inTypes, dispatcher, p.params)
}

// embeddingBiasOp implements the EmbeddingBias kernels for dtype T.
type embeddingBiasOp[T kernelFloat] struct {
	params EmbeddingBiasParams
}

// Forward implements operator.Operator.
func (op *embeddingBiasOp[T]) Forward(_ *operator.Context, inData []*tensors.Tensor, req []operator.WriteMode, outData, _ []*tensors.Tensor) {
	if len(inData) != 3 || len(outData) != 1 || len(req) != 1 {
		exceptions.Panicf("EmbeddingBias.Forward: wants 3 inputs, 1 output and 1 write mode, got %d, %d and %d",
			len(inData), len(outData), len(req))
	}
	if req[EmbeddingBiasOut] == operator.WriteNull {
		return
	}
	operator.AssertOverwrite("EmbeddingBias", "output", req[EmbeddingBiasOut])
	dim := op.params.OutputDim
	indices := tensors.Flat[T](inData[EmbeddingBiasData])
	weight := tensors.Flat[T](inData[EmbeddingBiasWeight])
	bias := tensors.Flat[T](inData[EmbeddingBiasBias])
	out := tensors.Flat[T](outData[EmbeddingBiasOut])
	shapes.AssertSize(outData[EmbeddingBiasOut], len(indices)*dim)
	for ii, index := range indices {
		row := int(index) * dim
		outRow := out[ii*dim : (ii+1)*dim]
		weightRow := weight[row : row+dim]
		biasRow := bias[row : row+dim]
		for jj := range outRow {
			outRow[jj] = weightRow[jj] + biasRow[jj]
		}
	}
}

// Backward implements operator.Operator.
//
// The gradient with respect to data is not defined, so its write mode must be WriteNull. The gradients
// of weight and bias are the same: the output gradient rows scatter-added into the rows of their indices.
func (op *embeddingBiasOp[T]) Backward(_ *operator.Context, outGrad, inData, _ []*tensors.Tensor, req []operator.WriteMode, inGrad, _ []*tensors.Tensor) {
	if len(outGrad) != 1 || len(inGrad) != 3 || len(req) != 3 {
		exceptions.Panicf("EmbeddingBias.Backward: wants 1 output gradient, 3 input gradients and 3 write modes, got %d, %d and %d",
			len(outGrad), len(inGrad), len(req))
	}
	if req[EmbeddingBiasData] != operator.WriteNull {
		exceptions.Panicf("EmbeddingBias.Backward: gradient with respect to \"data\" (indices) is not supported, write mode must be WriteNull, got %s",
			req[EmbeddingBiasData])
	}
	dim := op.params.OutputDim
	indices := tensors.Flat[T](inData[EmbeddingBiasData])
	grad := tensors.Flat[T](outGrad[EmbeddingBiasOut])
	shapes.AssertSize(outGrad[EmbeddingBiasOut], len(indices)*dim)
	for _, idx := range []int{EmbeddingBiasWeight, EmbeddingBiasBias} {
		mode := req[idx]
		switch mode {
		case operator.WriteNull:
			continue
		case operator.WriteTo, operator.WriteInplace:
			inGrad[idx].Zero()
		case operator.AddTo:
		default:
			exceptions.Panicf("EmbeddingBias.Backward: unknown write mode %s", mode)
		}
		klog.V(2).Infof("EmbeddingBias.Backward: scatter-add %d rows into %q (%s)", len(indices), embeddingBiasArguments[idx], mode)
		table := tensors.Flat[T](inGrad[idx])
		shapes.AssertSize(inGrad[idx], op.params.InputDim*dim)
		for ii, index := range indices {
			row := int(index) * dim
			tableRow := table[row : row+dim]
			for jj, g := range grad[ii*dim : (ii+1)*dim] {
				tableRow[jj] += g
			}
		}
	}
}
