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
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// MaxDTypes is the upper bound (exclusive) of the dtypes.DType values a DTypeDispatcher can handle.
const MaxDTypes = 32

// DTypeDispatcher is a dispatch table of functions (F) keyed by dtype.
//
// Dtypes can also be explicitly rejected, with a reason that is included in the error returned
// by Dispatch: this way an operator can tell "not supported on this execution path" apart from
// "unknown dtype".
type DTypeDispatcher[F any] struct {
	Name     string
	fnMap    [MaxDTypes]F
	set      [MaxDTypes]bool
	rejected [MaxDTypes]string
}

// NewDTypeDispatcher creates a new dispatcher for a class of functions.
func NewDTypeDispatcher[F any](name string) *DTypeDispatcher[F] {
	return &DTypeDispatcher[F]{
		Name: name,
	}
}

// Register a function to handle a specific dtype.
// This overwrites any previous setting for the same dtype.
func (d *DTypeDispatcher[F]) Register(dtype dtypes.DType, fn F) *DTypeDispatcher[F] {
	if dtype < 0 || dtype >= MaxDTypes {
		panic(errors.Errorf("dtype %s not supported by %s", dtype, d.Name))
	}
	d.fnMap[dtype] = fn
	d.set[dtype] = true
	d.rejected[dtype] = ""
	return d
}

// Reject marks the dtype as explicitly unsupported, with the given reason.
func (d *DTypeDispatcher[F]) Reject(dtype dtypes.DType, reason string) *DTypeDispatcher[F] {
	if dtype < 0 || dtype >= MaxDTypes {
		panic(errors.Errorf("dtype %s not supported by %s", dtype, d.Name))
	}
	var zero F
	d.fnMap[dtype] = zero
	d.set[dtype] = false
	d.rejected[dtype] = reason
	return d
}

// Dispatch returns the function registered for the dtype, or an error if there is none.
func (d *DTypeDispatcher[F]) Dispatch(dtype dtypes.DType) (F, error) {
	var zero F
	if dtype < 0 || dtype >= MaxDTypes {
		return zero, errors.Errorf("unsupported dtype %s for %s", dtype, d.Name)
	}
	if reason := d.rejected[dtype]; reason != "" {
		return zero, errors.Errorf("dtype %s not supported by %s: %s", dtype, d.Name, reason)
	}
	if !d.set[dtype] {
		return zero, errors.Errorf("unsupported dtype %s for %s", dtype, d.Name)
	}
	return d.fnMap[dtype], nil
}

// Supported returns the list of dtypes with a registered function.
func (d *DTypeDispatcher[F]) Supported() []dtypes.DType {
	var supported []dtypes.DType
	for ii, isSet := range d.set {
		if isSet {
			supported = append(supported, dtypes.DType(ii))
		}
	}
	return supported
}
