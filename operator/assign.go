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

package operator

import (
	"github.com/gomlx/customops/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Assign writes value into dst[index] according to the write mode.
// WriteNull is a no-op.
func Assign[T constraints.Float](dst []T, req WriteMode, index int, value T) {
	switch req {
	case WriteNull:
	case WriteTo, WriteInplace:
		dst[index] = value
	case AddTo:
		dst[index] += value
	default:
		exceptions.Panicf("unknown write mode %s", req)
	}
}

// AssertOverwrite panics if req is not WriteNull or an overwrite: used by kernels that don't support AddTo.
func AssertOverwrite(opName, slot string, req WriteMode) {
	if req != WriteNull && !req.IsOverwrite() {
		exceptions.Panicf("%s: write mode %s not supported for %q, it must be WriteTo or WriteInplace", opName, req, slot)
	}
}

// Float32Of returns a float32 copy of a Float16 tensor: kernels for Float16 compute in float32.
func Float32Of(t *tensors.Tensor) *tensors.Tensor {
	if t == nil {
		return nil
	}
	src := tensors.Flat[float16.Float16](t)
	dst := make([]float32, len(src))
	for ii, v := range src {
		dst[ii] = v.Float32()
	}
	return tensors.FromFlatDataAndDimensions(dst, t.Shape().Dimensions...)
}

// Float32sOf converts a list of Float16 tensors with Float32Of. nil entries are kept nil.
func Float32sOf(list []*tensors.Tensor) []*tensors.Tensor {
	converted := make([]*tensors.Tensor, len(list))
	for ii, t := range list {
		converted[ii] = Float32Of(t)
	}
	return converted
}

// StoreFloat16 writes back the float32 values of src into the Float16 tensor dst.
// It is a no-op if either is nil.
func StoreFloat16(dst, src *tensors.Tensor) {
	if dst == nil || src == nil {
		return
	}
	dstFlat := tensors.Flat[float16.Float16](dst)
	for ii, v := range tensors.Flat[float32](src) {
		dstFlat[ii] = float16.Fromfloat32(v)
	}
}

// Float16Operator runs a float32 Operator on Float16 tensors: inputs are converted to float32, and the
// outputs (and gradients) requested are converted back.
type Float16Operator struct {
	Float32 Operator
}

// Forward implements Operator.
func (op Float16Operator) Forward(ctx *Context, inData []*tensors.Tensor, req []WriteMode, outData, auxStates []*tensors.Tensor) {
	out32 := Float32sOf(outData)
	aux32 := Float32sOf(auxStates)
	op.Float32.Forward(ctx, Float32sOf(inData), req, out32, aux32)
	for ii, out := range outData {
		if req[ii] != WriteNull {
			StoreFloat16(out, out32[ii])
		}
	}
	for ii, aux := range auxStates {
		StoreFloat16(aux, aux32[ii])
	}
}

// Backward implements Operator.
func (op Float16Operator) Backward(ctx *Context, outGrad, inData, outData []*tensors.Tensor, req []WriteMode, inGrad, auxStates []*tensors.Tensor) {
	inGrad32 := Float32sOf(inGrad)
	aux32 := Float32sOf(auxStates)
	op.Float32.Backward(ctx, Float32sOf(outGrad), Float32sOf(inData), Float32sOf(outData), req, inGrad32, aux32)
	for ii, grad := range inGrad {
		if req[ii] != WriteNull {
			StoreFloat16(grad, inGrad32[ii])
		}
	}
	for ii, aux := range auxStates {
		StoreFloat16(aux, aux32[ii])
	}
}
