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

// Package shapes defines Shape and associated tools.
//
// Shape represents the shape (rank, dimensions and DType) of a Tensor, or the partially known
// shape of an operator slot while shape inference is still running.
//
// Shapes used during inference may be incomplete:
//
//   - A shape with rank 0 and no DType is "unknown": nothing was inferred about it yet.
//   - A dimension with value 0 is "not yet inferred".
//
// Inference only ever refines shapes (see Shape.Refine): once a dimension is known it is never
// changed, and a conflicting constraint is reported as an error.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a Tensor.
//   - Axis: is the index of a dimension on a multidimensional Tensor.
//   - Dimension: the size of a multi-dimensions Tensor in one of its axes.
//   - DType: the data type of the unit element in a tensor. Enumeration defined in github.com/gomlx/gopjrt/dtypes
//
// Example: the multi-dimensional array `[][]float32{{0, 1, 2}, {3, 4, 5}}` has shape
// `(Float32)[2 3]`, created with `shapes.Make(dtypes.Float32, 2, 3)`.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// UnknownDim is the value of a dimension not yet inferred.
const UnknownDim = 0

// Shape represents the shape of a Tensor, or the (possibly partial) shape of an operator slot.
//
// Use Make to create a new shape, or Unknown for a shape about which nothing is known.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
// Dimensions equal to UnknownDim (0) are allowed and mean "not yet inferred".
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with negative dimension", s)
		}
	}
	return s
}

// Dims returns a Shape with the given dimensions and an unresolved DType.
// It's the form used by shape inference, which doesn't deal with data types.
func Dims(dimensions ...int) Shape {
	return Make(dtypes.InvalidDType, dimensions...)
}

// Unknown returns a shape about which nothing is known: its rank is 0.
func Unknown() Shape {
	return Shape{}
}

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsUnknown returns whether nothing is known about the shape, that is its rank is 0.
func (s Shape) IsUnknown() bool { return s.Rank() == 0 }

// IsKnown returns whether the rank and all dimensions of the shape are inferred.
func (s Shape) IsKnown() bool {
	if s.Rank() == 0 {
		return false
	}
	for _, dim := range s.Dimensions {
		if dim == UnknownDim {
			return false
		}
	}
	return true
}

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)<unknown>", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		if dim == UnknownDim {
			parts = append(parts, "?")
		} else {
			parts = append(parts, fmt.Sprint(dim))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Size returns the number of elements of DType needed for this shape. It's the product of all dimensions.
// It is 0 if any dimension is not yet inferred.
func (s Shape) Size() int {
	return s.ProdDims(0, s.Rank())
}

// ProdDims returns the product of the dimensions of the axes in the range [start, end).
// An empty range has product 1.
func (s Shape) ProdDims(start, end int) (size int) {
	size = 1
	for _, d := range s.Dimensions[start:end] {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// WithDType returns a copy of the shape with the given DType.
func (s Shape) WithDType(dtype dtypes.DType) Shape {
	s2 := s.Clone()
	s2.DType = dtype
	return s2
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return s.EqualDimensions(s2)
}

// EqualDimensions compares two shapes for equality of dimensions. Dtypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// Refine merges the constraint given by target into the shape s, and returns the refined shape.
//
// Unknown shapes (rank 0) take the target as is, and unknown dimensions take the
// corresponding target dimension. Dimensions already known are never changed: if target
// disagrees with them (or with the rank), an error is returned. The DType is not touched.
func (s Shape) Refine(target Shape) (Shape, error) {
	if target.IsUnknown() {
		return s.Clone(), nil
	}
	if s.IsUnknown() {
		refined := target.Clone()
		refined.DType = s.DType
		return refined, nil
	}
	if s.Rank() != target.Rank() {
		return s, errors.Errorf("shape %s has rank %d, incompatible with %s", s, s.Rank(), target)
	}
	refined := s.Clone()
	for axis, dim := range target.Dimensions {
		switch {
		case dim == UnknownDim:
			continue
		case refined.Dimensions[axis] == UnknownDim:
			refined.Dimensions[axis] = dim
		case refined.Dimensions[axis] != dim:
			return s, errors.Errorf("shape %s axis %d has dimension %d, incompatible with %s", s, axis, s.Dimensions[axis], target)
		}
	}
	return refined, nil
}

// ConcatenateDimensions of two shapes. The resulting rank is the sum of both ranks, and the DType is the one of s1.
func ConcatenateDimensions(s1, s2 Shape) (shape Shape) {
	shape.DType = s1.DType
	shape.Dimensions = make([]int, s1.Rank()+s2.Rank())
	copy(shape.Dimensions, s1.Dimensions)
	copy(shape.Dimensions[s1.Rank():], s2.Dimensions)
	return
}
