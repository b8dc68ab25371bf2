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
	"slices"
	"strings"

	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Inference holds the result of a full shape and type inference of an operator.
type Inference struct {
	// InShapes and InTypes are the refined input shapes and dtypes.
	InShapes []shapes.Shape
	InTypes  []dtypes.DType

	OutShapes, AuxShapes []shapes.Shape
	OutTypes, AuxTypes   []dtypes.DType
}

// Infer runs type and shape inference for prop with the currently known input shapes and dtypes.
// The given slices are not modified: the refined inputs are returned in Inference.
//
// It returns an error wrapping ErrIncomplete if the caller should retry later, or a fatal error.
// The inferred shapes carry the inferred dtypes.
func Infer(prop Property, inShapes []shapes.Shape, inTypes []dtypes.DType) (*Inference, error) {
	inf := &Inference{
		InTypes: slices.Clone(inTypes),
	}
	inf.InShapes = make([]shapes.Shape, len(inShapes))
	for ii, s := range inShapes {
		inf.InShapes[ii] = s.Clone()
	}

	var err error
	inf.OutTypes, inf.AuxTypes, err = prop.InferType(inf.InTypes)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: type inference", prop.Name())
	}
	inf.OutShapes, inf.AuxShapes, err = prop.InferShape(inf.InShapes)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: shape inference", prop.Name())
	}
	setDTypes(inf.InShapes, inf.InTypes)
	setDTypes(inf.OutShapes, inf.OutTypes)
	setDTypes(inf.AuxShapes, inf.AuxTypes)
	return inf, nil
}

func setDTypes(shapesList []shapes.Shape, types []dtypes.DType) {
	for ii := range shapesList {
		if ii < len(types) {
			shapesList[ii].DType = types[ii]
		}
	}
}

// Known returns whether all input, output and auxiliary shapes are fully known.
func (inf *Inference) Known() bool {
	for _, list := range [][]shapes.Shape{inf.InShapes, inf.OutShapes, inf.AuxShapes} {
		for _, s := range list {
			if !s.IsKnown() {
				return false
			}
		}
	}
	return true
}

// CheckNumInputs returns a fatal error if the number of inputs doesn't match the arguments.
func CheckNumInputs(arguments []string, numInputs int) error {
	if numInputs != len(arguments) {
		return errors.Errorf("wrong number of inputs: got %d, wanted %d (Input:[%s])",
			numInputs, len(arguments), strings.Join(arguments, ", "))
	}
	return nil
}

// AssignShape refines inShapes[index] with the target shape.
// An inconsistency with what is already known about the input is a fatal error.
func AssignShape(arguments []string, inShapes []shapes.Shape, index int, target shapes.Shape) error {
	refined, err := inShapes[index].Refine(target)
	if err != nil {
		return errors.WithMessagef(err, "shape inconsistent for argument %q", arguments[index])
	}
	inShapes[index] = refined
	return nil
}

// InferUniformType implements the type inference of operators that require all their inputs and outputs to
// share one dtype: the one of the first input.
//
// Unresolved inputs (dtypes.InvalidDType) adopt it, and a mismatch is a fatal error. If the first input
// itself is not resolved, it returns an error wrapping ErrIncomplete.
func InferUniformType(arguments []string, inTypes []dtypes.DType, numOutputs int) ([]dtypes.DType, error) {
	if err := CheckNumInputs(arguments, len(inTypes)); err != nil {
		return nil, err
	}
	dtype := inTypes[0]
	if dtype == dtypes.InvalidDType {
		return nil, errors.Wrapf(ErrIncomplete, "first input %q must have a specified type", arguments[0])
	}
	for ii, t := range inTypes {
		if t == dtypes.InvalidDType {
			inTypes[ii] = dtype
			continue
		}
		if t != dtype {
			return nil, errors.Errorf("this operator requires uniform type: expected %s vs. given %s at %q",
				dtype, t, arguments[ii])
		}
	}
	outTypes := make([]dtypes.DType, numOutputs)
	for ii := range outTypes {
		outTypes[ii] = dtype
	}
	return outTypes, nil
}

// Create implements the common part of Property.CreateOperator: it runs the full inference, requires all
// shapes to be known, and uses the dispatcher to build the Operator for the inferred dtype.
func Create[P any](prop Property, inShapes []shapes.Shape, inTypes []dtypes.DType,
	dispatcher *DTypeDispatcher[func(P) Operator], params P) (Operator, error) {
	inf, err := Infer(prop, inShapes, inTypes)
	if err != nil {
		return nil, err
	}
	if !inf.Known() {
		return nil, errors.Wrapf(ErrIncomplete, "%s: shapes not fully inferred, inputs=%v, outputs=%v",
			prop.Name(), inf.InShapes, inf.OutShapes)
	}
	dtype := inf.InTypes[0]
	factory, err := dispatcher.Dispatch(dtype)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("created %s operator for dtype %s, inputs=%v", prop.Name(), dtype, inf.InShapes)
	return factory(params), nil
}
