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

// Package operator defines the contract a differentiable operator must satisfy to be plugged into a
// computation-graph engine.
//
// An operator comes in two parts:
//
//   - Property: the graph-level description of the operator. It validates and infers shapes and
//     dtypes, declares which forward tensors its backward pass needs, and which buffers may alias.
//     Once inference succeeds, the engine asks it for an Operator bound to a concrete dtype.
//   - Operator: the numeric kernels, Forward and Backward, writing their outputs according to the
//     WriteMode requested by the engine for each slot.
//
// Operators are stateless across calls: they only hold their (immutable) parameters. Tensors are
// owned by the engine and only borrowed during a call.
//
// Errors: shape/type inference can fail in two ways. If some required information is still missing
// it returns an error wrapping ErrIncomplete (check with IsIncomplete), and the caller can retry after
// more information propagates through the graph. Any other error is a fatal configuration error.
// Violations of preconditions inside kernels (e.g. an unsupported WriteMode) are not validated beyond
// cheap checks, and panic.
package operator

import (
	"fmt"

	"github.com/gomlx/customops/internal/workerspool"
	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/customops/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ErrIncomplete is returned (wrapped) by shape or type inference when some required shape or dtype is
// not known yet. The caller may retry once upstream inference fills the gaps.
var ErrIncomplete = errors.New("inference incomplete, retry when more information is available")

// IsIncomplete returns whether err signals an incomplete (retryable) inference.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}

// WriteMode tells an operator how to write one of its output (or gradient) slots.
type WriteMode int

const (
	// WriteNull means the slot must not be written at all.
	WriteNull WriteMode = iota

	// WriteTo overwrites the slot.
	WriteTo

	// WriteInplace overwrites the slot, whose storage is shared with one of the inputs.
	WriteInplace

	// AddTo accumulates into the current contents of the slot.
	AddTo
)

// IsOverwrite returns whether the mode overwrites the slot (WriteTo or WriteInplace).
func (m WriteMode) IsOverwrite() bool {
	return m == WriteTo || m == WriteInplace
}

// String implements fmt.Stringer.
func (m WriteMode) String() string {
	switch m {
	case WriteNull:
		return "WriteNull"
	case WriteTo:
		return "WriteTo"
	case WriteInplace:
		return "WriteInplace"
	case AddTo:
		return "AddTo"
	}
	return fmt.Sprintf("WriteMode(%d)", int(m))
}

// Context of one Forward or Backward call.
type Context struct {
	// IsTrain indicates the call is part of a training pass.
	IsTrain bool

	// Workers used by kernels to split their work. If nil, kernels run inline.
	Workers *workerspool.Pool
}

// ParallelMinChunk is the minimum number of elements a kernel hands to each parallel worker.
const ParallelMinChunk = 16 * 1024

// ParallelFor calls fn over chunks of the range [0, n), in parallel if ctx has workers.
// Chunks must not write to overlapping positions.
func (ctx *Context) ParallelFor(n int, fn func(start, end int)) {
	var workers *workerspool.Pool
	if ctx != nil {
		workers = ctx.Workers
	}
	workers.ParallelFor(n, ParallelMinChunk, fn)
}

// InplacePair declares that the buffer of slot Source may be reused for slot Dest.
// Slot ids are the ones given by the engine to the Property declaration methods.
type InplacePair struct {
	Source, Dest int
}

// Operator is an operator instance bound to a concrete dtype, with the numeric kernels.
//
// The order of the tensors in each slice is given by the Property's Arguments, Outputs and
// AuxiliaryStates. Tensors not declared as needed by Property.BackwardDeps may be nil during Backward.
type Operator interface {
	// Forward computes outData from inData, writing each output according to req.
	Forward(ctx *Context, inData []*tensors.Tensor, req []WriteMode, outData, auxStates []*tensors.Tensor)

	// Backward computes the gradients with respect to the inputs (inGrad) from the gradients with
	// respect to the outputs (outGrad), writing each input gradient according to req.
	Backward(ctx *Context, outGrad, inData, outData []*tensors.Tensor, req []WriteMode, inGrad, auxStates []*tensors.Tensor)
}

// Property describes an operator kind configured with its parameters, and is used by the engine at
// graph construction time. A Property is immutable and can be shared.
type Property interface {
	// Name of the operator kind, e.g. "FullyBias".
	Name() string

	// Arguments lists the names of the inputs, in binding order.
	Arguments() []string

	// Outputs lists the names of the outputs, in binding order.
	Outputs() []string

	// AuxiliaryStates lists the names of the auxiliary states, in binding order.
	AuxiliaryStates() []string

	// Params returns the parameters the Property was created with.
	Params() Values

	// InferShape refines inShapes in place, and returns the output and auxiliary shapes.
	// It returns an error wrapping ErrIncomplete if it needs more information.
	InferShape(inShapes []shapes.Shape) (outShapes, auxShapes []shapes.Shape, err error)

	// InferType resolves inTypes in place, and returns the output and auxiliary dtypes.
	// Unresolved dtypes are given as dtypes.InvalidDType.
	InferType(inTypes []dtypes.DType) (outTypes, auxTypes []dtypes.DType, err error)

	// BackwardDeps returns, out of the ids given for the output gradients, input data and output data,
	// the minimal set of ids needed by Backward.
	BackwardDeps(outGrad, inData, outData []int) []int

	// ForwardInplace returns pairs (input id, output id) that may share storage during Forward.
	ForwardInplace(inData, outData []int) []InplacePair

	// BackwardInplace returns pairs (source id, input gradient id) that may share storage during Backward.
	BackwardInplace(outGrad, inData, outData, inGrad []int) []InplacePair

	// CreateOperator validates the given shapes and dtypes (they must be fully inferable), and returns
	// the Operator bound to the inferred dtype.
	CreateOperator(inShapes []shapes.Shape, inTypes []dtypes.DType) (Operator, error)
}

// Base implements the optional parts of Property with their defaults: a single output named "output",
// no auxiliary states, no in-place options and all forward tensors needed by Backward.
//
// It is meant to be embedded in Property implementations.
type Base struct{}

// Outputs implements Property.
func (Base) Outputs() []string { return []string{"output"} }

// AuxiliaryStates implements Property.
func (Base) AuxiliaryStates() []string { return nil }

// BackwardDeps implements Property. By default, everything is needed.
func (Base) BackwardDeps(outGrad, inData, outData []int) []int {
	deps := make([]int, 0, len(outGrad)+len(inData)+len(outData))
	deps = append(deps, outGrad...)
	deps = append(deps, inData...)
	deps = append(deps, outData...)
	return deps
}

// ForwardInplace implements Property.
func (Base) ForwardInplace(inData, outData []int) []InplacePair { return nil }

// BackwardInplace implements Property.
func (Base) BackwardInplace(outGrad, inData, outData, inGrad []int) []InplacePair { return nil }
