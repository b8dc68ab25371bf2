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

	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTypeDispatcher(t *testing.T) {
	d := NewDTypeDispatcher[func() string]("Test").
		Register(Float32, func() string { return "f32" }).
		Register(Float64, func() string { return "f64" }).
		Reject(Float16, "no half precision here")
	assert.Equal(t, []DType{Float32, Float64}, d.Supported())

	fn, err := d.Dispatch(Float64)
	require.NoError(t, err)
	assert.Equal(t, "f64", fn())

	_, err = d.Dispatch(Float16)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no half precision here")

	_, err = d.Dispatch(Int32)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dtype")

	// Registering overrides a rejection.
	d.Register(Float16, func() string { return "f16" })
	fn, err = d.Dispatch(Float16)
	require.NoError(t, err)
	assert.Equal(t, "f16", fn())
}
