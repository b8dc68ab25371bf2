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

// Package executor runs a single operator the way a computation-graph engine does: it runs the
// shape and type inference, binds the operator to the inferred dtype, allocates the outputs and
// gradients, and honors the backward dependencies and in-place options declared by the operator.
//
// It is used by tools and tests to exercise operators without a full graph engine.
package executor

import (
	"maps"
	"slices"

	"github.com/gomlx/customops/internal/workerspool"
	"github.com/gomlx/customops/operator"
	"github.com/gomlx/customops/types"
	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/customops/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MaxInferenceIterations bounds the number of inference rounds run by Bind until the input shapes
// stop being refined.
const MaxInferenceIterations = 8

// Executor binds one operator.Property to concrete input shapes and dtypes, and runs its Forward
// and Backward passes.
//
// Slot ids given to the Property declaration methods are assigned, in order, to the output
// gradients, the input data, the output data and the input gradients.
//
// An Executor is not safe for concurrent use.
type Executor struct {
	prop    operator.Property
	pool    *BufferPool
	workers *workerspool.Pool

	inf *operator.Inference
	op  operator.Operator

	numInputs, numOutputs           int
	outGradIDs, inDataIDs           []int
	outDataIDs, inGradIDs           []int
	deps                            types.Set[int]
	forwardInplace, backwardInplace map[int]int // Dest id -> Source id.

	// Tensors kept from the last Forward call, indexed by slot id.
	retained map[int]*tensors.Tensor
	ctx      operator.Context
}

// New returns an Executor for prop. If pool is nil, a new BufferPool is created.
func New(prop operator.Property, pool *BufferPool) *Executor {
	if pool == nil {
		pool = NewBufferPool()
	}
	return &Executor{prop: prop, pool: pool}
}

// WithWorkers sets the pool of workers used by the kernels to parallelize their work.
// By default (nil) kernels run in the caller's goroutine.
func (e *Executor) WithWorkers(workers *workerspool.Pool) *Executor {
	e.workers = workers
	return e
}

// Property returns the operator property being executed.
func (e *Executor) Property() operator.Property { return e.prop }

// Inference returns the result of the inference run by Bind, or nil if not bound yet.
func (e *Executor) Inference() *operator.Inference { return e.inf }

// Bind runs the shape and type inference for the given inputs, repeating it while it keeps refining
// the input shapes, and creates the Operator for the inferred dtype.
//
// Input shapes may be partially known and dtypes may be dtypes.InvalidDType, as long as the operator
// can infer them. It returns an error wrapping operator.ErrIncomplete if it can't.
func (e *Executor) Bind(inShapes []shapes.Shape, inTypes []dtypes.DType) error {
	var inf *operator.Inference
	var err error
	for range MaxInferenceIterations {
		inf, err = operator.Infer(e.prop, inShapes, inTypes)
		if err != nil {
			return errors.WithMessagef(err, "executor failed to bind %s", e.prop.Name())
		}
		if sameShapes(inShapes, inf.InShapes) {
			break
		}
		inShapes, inTypes = inf.InShapes, inf.InTypes
	}
	if !inf.Known() {
		return errors.Wrapf(operator.ErrIncomplete, "executor failed to bind %s: inputs %v, outputs %v",
			e.prop.Name(), inf.InShapes, inf.OutShapes)
	}
	op, err := e.prop.CreateOperator(inf.InShapes, inf.InTypes)
	if err != nil {
		return errors.WithMessagef(err, "executor failed to bind %s", e.prop.Name())
	}
	e.inf, e.op = inf, op
	e.assignSlotIDs()
	klog.V(1).Infof("executor bound %s: inputs=%v outputs=%v", e.prop.Name(), inf.InShapes, inf.OutShapes)
	return nil
}

func sameShapes(a, b []shapes.Shape) bool {
	if len(a) != len(b) {
		return false
	}
	for ii := range a {
		if !a[ii].EqualDimensions(b[ii]) {
			return false
		}
	}
	return true
}

func (e *Executor) assignSlotIDs() {
	e.numInputs, e.numOutputs = len(e.inf.InShapes), len(e.inf.OutShapes)
	next := 0
	makeIDs := func(n int) []int {
		ids := make([]int, n)
		for ii := range ids {
			ids[ii] = next
			next++
		}
		return ids
	}
	e.outGradIDs = makeIDs(e.numOutputs)
	e.inDataIDs = makeIDs(e.numInputs)
	e.outDataIDs = makeIDs(e.numOutputs)
	e.inGradIDs = makeIDs(e.numInputs)

	e.deps = types.SetWith(e.prop.BackwardDeps(e.outGradIDs, e.inDataIDs, e.outDataIDs)...)
	e.forwardInplace = make(map[int]int)
	for _, pair := range e.prop.ForwardInplace(e.inDataIDs, e.outDataIDs) {
		e.forwardInplace[pair.Dest] = pair.Source
	}
	e.backwardInplace = make(map[int]int)
	for _, pair := range e.prop.BackwardInplace(e.outGradIDs, e.inDataIDs, e.outDataIDs, e.inGradIDs) {
		e.backwardInplace[pair.Dest] = pair.Source
	}
	klog.V(1).Infof("%s: backward dependencies %v, retained for backward %v",
		e.prop.Name(), types.Sorted(e.deps), types.Sorted(e.retainedIDs()))
}

// checkBound returns an error if Bind hasn't succeeded yet.
func (e *Executor) checkBound() error {
	if e.op == nil {
		return errors.Errorf("executor for %s is not bound, call Bind first", e.prop.Name())
	}
	return nil
}

// checkTensors verifies the given tensors match the expected shapes.
func checkTensors(what string, list []*tensors.Tensor, expected []shapes.Shape) error {
	if len(list) != len(expected) {
		return errors.Errorf("wrong number of %s: got %d, wanted %d", what, len(list), len(expected))
	}
	for ii, t := range list {
		if t == nil {
			return errors.Errorf("%s #%d is nil", what, ii)
		}
		if !t.Shape().Equal(expected[ii]) {
			return errors.Errorf("%s #%d has shape %s, wanted %s", what, ii, t.Shape(), expected[ii])
		}
	}
	return nil
}

// Forward runs the operator on the inputs and returns newly allocated outputs.
//
// If donate is true the caller gives up the inputs, and their storage may be reused for the outputs,
// where the operator allows it. Donated inputs should not be used afterwards.
//
// The tensors needed by Backward are retained until the next Forward call.
func (e *Executor) Forward(isTrain bool, inputs []*tensors.Tensor, donate bool) ([]*tensors.Tensor, error) {
	if err := e.checkBound(); err != nil {
		return nil, err
	}
	if err := checkTensors("inputs", inputs, e.inf.InShapes); err != nil {
		return nil, errors.WithMessagef(err, "%s.Forward", e.prop.Name())
	}
	keep := e.retainedIDs()
	outputs := make([]*tensors.Tensor, e.numOutputs)
	req := make([]operator.WriteMode, e.numOutputs)
	for ii, outShape := range e.inf.OutShapes {
		req[ii] = operator.WriteTo
		if sourceID, found := e.forwardInplace[e.outDataIDs[ii]]; found && donate && !keep.Has(sourceID) {
			source := inputs[sourceID-e.inDataIDs[0]]
			if source.Size() == outShape.Size() && source.DType() == outShape.DType {
				outputs[ii] = source.MustReshape(outShape.Dimensions...)
				req[ii] = operator.WriteInplace
				klog.V(2).Infof("%s.Forward: output #%d reuses input #%d", e.prop.Name(), ii, sourceID-e.inDataIDs[0])
				continue
			}
		}
		outputs[ii] = e.pool.Get(outShape)
	}

	e.ctx = operator.Context{IsTrain: isTrain, Workers: e.workers}
	err := exceptions.TryCatch[error](func() {
		e.op.Forward(&e.ctx, inputs, req, outputs, nil)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s.Forward failed", e.prop.Name())
	}

	e.retained = make(map[int]*tensors.Tensor, len(keep))
	for ii, id := range e.inDataIDs {
		if keep.Has(id) {
			e.retained[id] = inputs[ii]
		}
	}
	for ii, id := range e.outDataIDs {
		if keep.Has(id) {
			e.retained[id] = outputs[ii]
		}
	}
	return outputs, nil
}

// retainedIDs returns the ids of the forward tensors kept for Backward: the declared dependencies, plus
// the sources of the backward in-place options, whose storage may be reused by the gradients.
func (e *Executor) retainedIDs() types.Set[int] {
	return e.deps.Union(types.SetWith(slices.Collect(maps.Values(e.backwardInplace))...))
}

// Backward computes the gradients of the inputs of the last Forward call, given the gradients of
// its outputs.
//
// req selects, per input, how its gradient is written. inGrads may be nil or hold, per input, a
// tensor where to write the gradient: it is required for operator.AddTo, and is allocated (or,
// if donate is true, taken from a tensor the operator allows to reuse) otherwise.
// Gradients with operator.WriteNull are returned as nil.
//
// Tensors not declared as needed by the operator are not given to it.
func (e *Executor) Backward(outGrads []*tensors.Tensor, req []operator.WriteMode, inGrads []*tensors.Tensor, donate bool) ([]*tensors.Tensor, error) {
	if err := e.checkBound(); err != nil {
		return nil, err
	}
	name := e.prop.Name()
	if e.retained == nil {
		return nil, errors.Errorf("%s.Backward called before Forward", name)
	}
	if err := checkTensors("output gradients", outGrads, e.inf.OutShapes); err != nil {
		return nil, errors.WithMessagef(err, "%s.Backward", name)
	}
	if len(req) != e.numInputs {
		return nil, errors.Errorf("%s.Backward: got %d write modes, wanted one per input (%d)", name, len(req), e.numInputs)
	}
	if inGrads == nil {
		inGrads = make([]*tensors.Tensor, e.numInputs)
	} else if len(inGrads) != e.numInputs {
		return nil, errors.Errorf("%s.Backward: got %d input gradients, wanted %d", name, len(inGrads), e.numInputs)
	}

	// Gradient tensors.
	req = append([]operator.WriteMode(nil), req...)
	grads := make([]*tensors.Tensor, e.numInputs)
	for ii, mode := range req {
		inShape := e.inf.InShapes[ii]
		switch {
		case mode == operator.WriteNull:
			continue
		case inGrads[ii] != nil:
			if !inGrads[ii].Shape().Equal(inShape) {
				return nil, errors.Errorf("%s.Backward: gradient #%d has shape %s, wanted %s", name, ii, inGrads[ii].Shape(), inShape)
			}
			grads[ii] = inGrads[ii]
			if mode == operator.AddTo {
				for jj, outGrad := range outGrads {
					if outGrad != nil && inGrads[ii].SharesStorage(outGrad) {
						klog.Warningf("%s.Backward: AddTo on gradient #%d, which shares storage with output gradient #%d", name, ii, jj)
					}
				}
			}
		case mode == operator.AddTo:
			return nil, errors.Errorf("%s.Backward: AddTo requested for gradient #%d, but no tensor given to accumulate into", name, ii)
		default:
			if source := e.backwardInplaceSource(ii, outGrads); donate && source != nil && source.Size() == inShape.Size() {
				grads[ii] = source.MustReshape(inShape.Dimensions...)
				req[ii] = operator.WriteInplace
				klog.V(2).Infof("%s.Backward: gradient #%d written in place", name, ii)
			} else {
				grads[ii] = e.pool.Get(inShape)
				req[ii] = operator.WriteTo
			}
		}
	}

	// Only the declared dependencies are given.
	depOutGrads := e.filterDeps(e.outGradIDs, outGrads)
	depInData := e.filterDeps(e.inDataIDs, nil)
	depOutData := e.filterDeps(e.outDataIDs, nil)
	err := exceptions.TryCatch[error](func() {
		e.op.Backward(&e.ctx, depOutGrads, depInData, depOutData, req, grads, nil)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s.Backward failed", name)
	}
	return grads, nil
}

// backwardInplaceSource returns the tensor whose storage may be reused by the gradient of input ii, or nil.
func (e *Executor) backwardInplaceSource(ii int, outGrads []*tensors.Tensor) *tensors.Tensor {
	sourceID, found := e.backwardInplace[e.inGradIDs[ii]]
	if !found {
		return nil
	}
	if sourceID < e.inDataIDs[0] {
		return outGrads[sourceID-e.outGradIDs[0]]
	}
	return e.retained[sourceID]
}

// filterDeps returns, for the given ids, the tensors declared as dependencies of Backward, and nil for the others.
// If given is nil, the tensors are taken from the ones retained by Forward.
func (e *Executor) filterDeps(ids []int, given []*tensors.Tensor) []*tensors.Tensor {
	filtered := make([]*tensors.Tensor, len(ids))
	for ii, id := range ids {
		if !e.deps.Has(id) {
			continue
		}
		if given != nil {
			filtered[ii] = given[ii]
		} else {
			filtered[ii] = e.retained[id]
		}
	}
	return filtered
}

// Release returns the storage of the given tensors, e.g. outputs or gradients no longer used, to the pool.
func (e *Executor) Release(list ...*tensors.Tensor) {
	for _, t := range list {
		e.pool.Put(t)
	}
}
