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
	"math"

	"github.com/gomlx/customops/operator"
	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/customops/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// Slots of SignedSqrt.
const (
	SignedSqrtData = 0
	SignedSqrtOut  = 0
)

// DefaultSignedSqrtEpsilon is the default value of the "epsilon" parameter of SignedSqrt.
const DefaultSignedSqrtEpsilon = 0.06

// SignedSqrtParams configures SignedSqrt.
type SignedSqrtParams struct {
	// Epsilon is added to the denominator of the gradient: it prevents 1/0, and clips the
	// gradient when large.
	Epsilon float64
}

// SignedSqrtKind describes the SignedSqrt operator.
func SignedSqrtKind() operator.Kind {
	return operator.Kind{
		Name: "SignedSqrt",
		Description: "Signed Square Root. Take the signed square root of the input. " +
			"Use epsilon to prevent 1/0 and control the magnitude of gradients.",
		Arguments: []operator.Argument{
			{Name: "data", Type: "Symbol", Description: "Input data to the SignedSqrt operator."},
		},
		Fields: []operator.Field{
			operator.NewField("epsilon", operator.FloatField).
				SetDefault(DefaultSignedSqrtEpsilon).SetLowerBound(0).
				Describe("Epsilon to prevent 1/0 and clip gradient (when large)."),
		},
		New: func(params operator.Values) (operator.Property, error) {
			return NewSignedSqrt(SignedSqrtParams{Epsilon: params.Float("epsilon")})
		},
	}
}

// SignedSqrt computes `sign(x)*sqrt(|x|)` elementwise.
//
// Its gradient is computed from the forward output y (not from x) as `dy / (2*|y| + epsilon)`.
type SignedSqrt struct {
	operator.Base
	params SignedSqrtParams
}

var _ operator.Property = (*SignedSqrt)(nil)

// NewSignedSqrt returns the SignedSqrt Property for the given parameters.
func NewSignedSqrt(params SignedSqrtParams) (*SignedSqrt, error) {
	if params.Epsilon < 0 || math.IsNaN(params.Epsilon) {
		return nil, errors.Errorf("SignedSqrt: epsilon must be >= 0, got %g", params.Epsilon)
	}
	return &SignedSqrt{params: params}, nil
}

// Name implements operator.Property.
func (p *SignedSqrt) Name() string { return "SignedSqrt" }

// Arguments implements operator.Property.
func (p *SignedSqrt) Arguments() []string { return []string{"data"} }

// Params implements operator.Property.
func (p *SignedSqrt) Params() operator.Values {
	return operator.Values{"epsilon": p.params.Epsilon}
}

// InferShape implements operator.Property.
func (p *SignedSqrt) InferShape(inShapes []shapes.Shape) (outShapes, auxShapes []shapes.Shape, err error) {
	if err = operator.CheckNumInputs(p.Arguments(), len(inShapes)); err != nil {
		return
	}
	dshape := inShapes[SignedSqrtData]
	if dshape.IsUnknown() {
		err = errors.Wrap(operator.ErrIncomplete, "SignedSqrt: shape of \"data\" unknown")
		return
	}
	outShapes = []shapes.Shape{dshape.Clone()}
	return
}

// InferType implements operator.Property.
func (p *SignedSqrt) InferType(inTypes []dtypes.DType) (outTypes, auxTypes []dtypes.DType, err error) {
	outTypes, err = operator.InferUniformType(p.Arguments(), inTypes, 1)
	return
}

// BackwardDeps implements operator.Property: only the output gradient and the forward output are needed.
func (p *SignedSqrt) BackwardDeps(outGrad, inData, outData []int) []int {
	return []int{outGrad[SignedSqrtOut], outData[SignedSqrtOut]}
}

// ForwardInplace implements operator.Property: each output value depends only on the co-located input.
func (p *SignedSqrt) ForwardInplace(inData, outData []int) []operator.InplacePair {
	return []operator.InplacePair{{Source: inData[SignedSqrtData], Dest: outData[SignedSqrtOut]}}
}

// BackwardInplace implements operator.Property.
func (p *SignedSqrt) BackwardInplace(outGrad, inData, outData, inGrad []int) []operator.InplacePair {
	return []operator.InplacePair{{Source: outGrad[SignedSqrtOut], Dest: inGrad[SignedSqrtData]}}
}

// CreateOperator implements operator.Property.
func (p *SignedSqrt) CreateOperator(inShapes []shapes.Shape, inTypes []dtypes.DType) (operator.Operator, error) {
	dispatcher := operator.NewDTypeDispatcher[func(SignedSqrtParams) operator.Operator]("SignedSqrt").
		Register(dtypes.Float32, func(params SignedSqrtParams) operator.Operator { return &signedSqrtOp[float32]{params} }).
		Register(dtypes.Float64, func(params SignedSqrtParams) operator.Operator { return &signedSqrtOp[float64]{params} }).
		Register(dtypes.Float16, func(params SignedSqrtParams) operator.Operator {
			return operator.Float16Operator{Float32: &signedSqrtOp[float32]{params}}
		})
	return operator.Create(p, inShapes, inTypes, dispatcher, p.params)
}

// signedSqrtOp implements the SignedSqrt kernels for dtype T.
type signedSqrtOp[T kernelFloat] struct {
	params SignedSqrtParams
}

func signedSqrt[T constraints.Float](x T) T {
	if x > 0 {
		return T(math.Sqrt(float64(x)))
	}
	return -T(math.Sqrt(float64(-x)))
}

// Forward implements operator.Operator.
func (op *signedSqrtOp[T]) Forward(ctx *operator.Context, inData []*tensors.Tensor, req []operator.WriteMode, outData, _ []*tensors.Tensor) {
	if len(inData) != 1 || len(outData) != 1 {
		exceptions.Panicf("SignedSqrt.Forward: wants 1 input and 1 output, got %d and %d", len(inData), len(outData))
	}
	if req[SignedSqrtOut] == operator.WriteNull {
		return
	}
	operator.AssertOverwrite("SignedSqrt", "output", req[SignedSqrtOut])
	data := tensors.Flat[T](inData[SignedSqrtData])
	out := tensors.Flat[T](outData[SignedSqrtOut])
	shapes.AssertSize(outData[SignedSqrtOut], len(data))
	ctx.ParallelFor(len(data), func(start, end int) {
		for ii := start; ii < end; ii++ {
			out[ii] = signedSqrt(data[ii])
		}
	})
}

// Backward implements operator.Operator. It doesn't use inData.
func (op *signedSqrtOp[T]) Backward(ctx *operator.Context, outGrad, _, outData []*tensors.Tensor, req []operator.WriteMode, inGrad, _ []*tensors.Tensor) {
	if len(outGrad) != 1 || len(inGrad) != 1 || len(req) != 1 {
		exceptions.Panicf("SignedSqrt.Backward: wants 1 output gradient, 1 input gradient and 1 write mode, got %d, %d and %d",
			len(outGrad), len(inGrad), len(req))
	}
	if req[SignedSqrtData] == operator.WriteNull {
		return
	}
	gradOut := tensors.Flat[T](outGrad[SignedSqrtOut])
	y := tensors.Flat[T](outData[SignedSqrtOut])
	gradIn := tensors.Flat[T](inGrad[SignedSqrtData])
	shapes.AssertSize(inGrad[SignedSqrtData], len(gradOut))
	epsilon := T(op.params.Epsilon)
	klog.V(2).Infof("SignedSqrt.Backward: %d elements, epsilon=%g, req=%s", len(gradOut), op.params.Epsilon, req[SignedSqrtData])
	ctx.ParallelFor(len(gradOut), func(start, end int) {
		for ii := start; ii < end; ii++ {
			// Order matters for reproducibility: abs, times 2, plus epsilon. Float16 runs this in
			// float32 and rounds only the result.
			denominator := y[ii]
			if denominator < 0 {
				denominator = -denominator
			}
			denominator *= 2
			denominator += epsilon
			operator.Assign(gradIn, req[SignedSqrtData], ii, gradOut[ii]/denominator)
		}
	})
}
