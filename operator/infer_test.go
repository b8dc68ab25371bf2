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
	"testing"

	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/customops/types/tensors"
	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addProp is a minimal Property for tests: output = a + b, with b refined to the shape of a.
type addProp struct {
	Base
}

func (p *addProp) Name() string        { return "Add" }
func (p *addProp) Arguments() []string { return []string{"a", "b"} }
func (p *addProp) Params() Values      { return nil }

func (p *addProp) InferShape(inShapes []shapes.Shape) (outShapes, auxShapes []shapes.Shape, err error) {
	if err = CheckNumInputs(p.Arguments(), len(inShapes)); err != nil {
		return
	}
	if inShapes[0].IsUnknown() {
		err = errors.Wrap(ErrIncomplete, "shape of \"a\" unknown")
		return
	}
	if err = AssignShape(p.Arguments(), inShapes, 1, inShapes[0]); err != nil {
		return
	}
	outShapes = []shapes.Shape{inShapes[0].Clone()}
	return
}

func (p *addProp) InferType(inTypes []DType) (outTypes, auxTypes []DType, err error) {
	outTypes, err = InferUniformType(p.Arguments(), inTypes, 1)
	return
}

func (p *addProp) CreateOperator(inShapes []shapes.Shape, inTypes []DType) (Operator, error) {
	dispatcher := NewDTypeDispatcher[func(int) Operator]("Add").
		Register(Float32, func(int) Operator { return addOp{} })
	return Create(p, inShapes, inTypes, dispatcher, 0)
}

type addOp struct{}

func (addOp) Forward(_ *Context, inData []*tensors.Tensor, req []WriteMode, outData, _ []*tensors.Tensor) {
	a, b := tensors.Flat[float32](inData[0]), tensors.Flat[float32](inData[1])
	out := tensors.Flat[float32](outData[0])
	for ii := range out {
		Assign(out, req[0], ii, a[ii]+b[ii])
	}
}

func (addOp) Backward(_ *Context, outGrad, _, _ []*tensors.Tensor, req []WriteMode, inGrad, _ []*tensors.Tensor) {
	g := tensors.Flat[float32](outGrad[0])
	for input := range 2 {
		grad := tensors.Flat[float32](inGrad[input])
		for ii, v := range g {
			Assign(grad, req[input], ii, v)
		}
	}
}

func TestInfer(t *testing.T) {
	prop := &addProp{}
	inShapes := []shapes.Shape{shapes.Dims(2, 0), shapes.Dims(0, 3)}
	inTypes := []DType{Float32, InvalidDType}
	inf, err := Infer(prop, inShapes, inTypes)
	require.NoError(t, err)

	// Given slices are not modified.
	assert.Equal(t, []int{2, 0}, inShapes[0].Dimensions)
	assert.Equal(t, InvalidDType, inTypes[1])

	assert.Equal(t, []DType{Float32, Float32}, inf.InTypes)
	assert.True(t, inf.InShapes[1].Equal(shapes.Make(Float32, 2, 3)))
	assert.True(t, inf.OutShapes[0].Equal(shapes.Make(Float32, 2, 0)))
	assert.False(t, inf.Known())

	// Incomplete information is retryable, and the message names the operator.
	_, err = Infer(prop, []shapes.Shape{shapes.Unknown(), shapes.Dims(3)}, []DType{Float32, Float32})
	require.Error(t, err)
	assert.True(t, IsIncomplete(err))
	assert.Contains(t, err.Error(), "Add")

	_, err = Infer(prop, []shapes.Shape{shapes.Dims(3), shapes.Dims(3)}, []DType{InvalidDType, Float32})
	require.Error(t, err)
	assert.True(t, IsIncomplete(err))

	// Conflicts are fatal.
	_, err = Infer(prop, []shapes.Shape{shapes.Dims(3), shapes.Dims(4)}, []DType{Float32, Float32})
	require.Error(t, err)
	assert.False(t, IsIncomplete(err))
	assert.Contains(t, err.Error(), "\"b\"")

	_, err = Infer(prop, []shapes.Shape{shapes.Dims(3), shapes.Dims(3)}, []DType{Float32, Int32})
	require.Error(t, err)
	assert.False(t, IsIncomplete(err))
	assert.Contains(t, err.Error(), "uniform type")

	_, err = Infer(prop, []shapes.Shape{shapes.Dims(3)}, []DType{Float32})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Input:[a, b]")
}

func TestCreate(t *testing.T) {
	prop := &addProp{}
	_, err := prop.CreateOperator([]shapes.Shape{shapes.Dims(2, 0), shapes.Unknown()}, []DType{Float32, Float32})
	require.Error(t, err)
	assert.True(t, IsIncomplete(err))

	_, err = prop.CreateOperator([]shapes.Shape{shapes.Dims(2), shapes.Unknown()}, []DType{Float64, Float64})
	require.Error(t, err)
	assert.False(t, IsIncomplete(err))

	op, err := prop.CreateOperator([]shapes.Shape{shapes.Dims(2), shapes.Unknown()}, []DType{Float32, InvalidDType})
	require.NoError(t, err)
	a := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	b := tensors.FromFlatDataAndDimensions([]float32{10, 20}, 2)
	out := tensors.FromFlatDataAndDimensions([]float32{100, 100}, 2)
	op.Forward(&Context{}, []*tensors.Tensor{a, b}, []WriteMode{AddTo}, []*tensors.Tensor{out}, nil)
	assert.Equal(t, []float32{111, 122}, tensors.Flat[float32](out))
}

func TestBaseDefaults(t *testing.T) {
	var prop Property = &addProp{}
	assert.Equal(t, []string{"output"}, prop.Outputs())
	assert.Empty(t, prop.AuxiliaryStates())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, prop.BackwardDeps([]int{1}, []int{2, 3}, []int{4, 5}))
	assert.Empty(t, prop.ForwardInplace([]int{2, 3}, []int{4}))
	assert.Empty(t, prop.BackwardInplace([]int{1}, []int{2, 3}, []int{4}, []int{6, 7}))
}

func TestWriteMode(t *testing.T) {
	assert.True(t, WriteTo.IsOverwrite())
	assert.True(t, WriteInplace.IsOverwrite())
	assert.False(t, AddTo.IsOverwrite())
	assert.False(t, WriteNull.IsOverwrite())
	assert.Equal(t, "AddTo", AddTo.String())
	assert.Equal(t, "WriteMode(9)", WriteMode(9).String())
}
