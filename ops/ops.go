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

// Package ops implements the EmbeddingBias, FullyBias and SignedSqrt operators.
//
// Each operator provides a Kind (name, description and parameter schema), a Property
// (shape/type inference, backward dependencies and in-place options) and the kernels,
// for float32, float64 and, except FullyBias, float16.
//
// Example:
//
//	registry := must.M1(ops.NewRegistry())
//	prop := must.M1(registry.Create("SignedSqrt", map[string]string{"epsilon": "0.1"}))
package ops

import (
	"github.com/gomlx/customops/operator"
)

// kernelFloat are the Go types the generic kernels are instantiated with. Float16 kernels run
// through operator.Float16Operator.
type kernelFloat interface {
	float32 | float64
}

// Kinds returns the operator kinds implemented by this package.
func Kinds() []operator.Kind {
	return []operator.Kind{
		EmbeddingBiasKind(),
		FullyBiasKind(),
		SignedSqrtKind(),
	}
}

// NewRegistry returns an operator.Registry with all the Kinds of this package.
func NewRegistry() (*operator.Registry, error) {
	return operator.NewRegistry(Kinds()...)
}
