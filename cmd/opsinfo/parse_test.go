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
	"testing"

	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShapes(t *testing.T) {
	inShapes, err := parseShapes("32x?; ?;1,10,5", 4)
	require.NoError(t, err)
	require.Len(t, inShapes, 4)
	assert.Equal(t, []int{32, shapes.UnknownDim}, inShapes[0].Dimensions)
	assert.True(t, inShapes[1].IsUnknown())
	assert.Equal(t, []int{1, 10, 5}, inShapes[2].Dimensions)
	assert.True(t, inShapes[3].IsUnknown())

	inShapes, err = parseShapes("", 2)
	require.NoError(t, err)
	assert.True(t, inShapes[0].IsUnknown())

	_, err = parseShapes("1;2;3", 2)
	require.Error(t, err)
	_, err = parseShapes("2x-1", 1)
	require.Error(t, err)
	_, err = parseShapes("2xa", 1)
	require.Error(t, err)
}

func TestParseDType(t *testing.T) {
	dtype, err := parseDType("Float32")
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, dtype)
	dtype, err = parseDType("")
	require.NoError(t, err)
	assert.Equal(t, dtypes.InvalidDType, dtype)
	_, err = parseDType("int8")
	require.Error(t, err)
}
