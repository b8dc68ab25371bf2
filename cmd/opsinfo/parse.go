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

package main

import (
	"strconv"
	"strings"

	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// dtypeNames maps the names accepted by -dtype to the dtypes supported by the operators.
var dtypeNames = map[string]dtypes.DType{
	"float16": dtypes.Float16,
	"f16":     dtypes.Float16,
	"float32": dtypes.Float32,
	"f32":     dtypes.Float32,
	"float64": dtypes.Float64,
	"f64":     dtypes.Float64,
}

// parseDType parses a dtype name. An empty name means unknown (dtypes.InvalidDType).
func parseDType(name string) (dtypes.DType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return dtypes.InvalidDType, nil
	}
	dtype, found := dtypeNames[name]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", name)
	}
	return dtype, nil
}

// parseShapes parses the list of input shapes, in the format "<shape>;<shape>;...", where each shape
// is a list of dimensions separated by "x" or ",". A "?" dimension is not known, and an empty shape
// (or "?" alone) means the whole shape is unknown. Missing trailing shapes are unknown.
//
// Example: "32x?;?;1,10,5".
func parseShapes(shapesFlag string, numInputs int) ([]shapes.Shape, error) {
	inShapes := make([]shapes.Shape, numInputs)
	for ii := range inShapes {
		inShapes[ii] = shapes.Unknown()
	}
	if strings.TrimSpace(shapesFlag) == "" {
		return inShapes, nil
	}
	parts := strings.Split(shapesFlag, ";")
	if len(parts) > numInputs {
		return nil, errors.Errorf("%d shapes given in %q, but operator only has %d inputs", len(parts), shapesFlag, numInputs)
	}
	for ii, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "?" {
			continue
		}
		dimsStr := strings.FieldsFunc(part, func(r rune) bool { return r == 'x' || r == ',' })
		dims := make([]int, 0, len(dimsStr))
		for _, dimStr := range dimsStr {
			dimStr = strings.TrimSpace(dimStr)
			if dimStr == "?" {
				dims = append(dims, shapes.UnknownDim)
				continue
			}
			dim, err := strconv.Atoi(dimStr)
			if err != nil || dim < 1 {
				return nil, errors.Errorf("invalid dimension %q in shape %q", dimStr, part)
			}
			dims = append(dims, dim)
		}
		inShapes[ii] = shapes.Dims(dims...)
	}
	return inShapes, nil
}
