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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFields() []Field {
	return []Field{
		NewField("num_output", IntField).SetLowerBound(1).Describe("Number of outputs."),
		NewField("epsilon", FloatField).SetDefault(0.06).SetLowerBound(0).SetUpperBound(1),
		NewField("no_bias", BoolField).SetDefault(false),
		NewField("name", StringField).SetDefault("op"),
	}
}

func TestParseParams(t *testing.T) {
	fields := testFields()
	values, err := ParseParams(fields, map[string]string{"num_output": "3"})
	require.NoError(t, err)
	assert.Equal(t, 3, values.Int("num_output"))
	assert.Equal(t, 0.06, values.Float("epsilon"))
	assert.Equal(t, false, values["no_bias"])
	assert.Equal(t, "op", values["name"])

	values, err = ParseParams(fields, map[string]string{
		"num_output": "5", "epsilon": "0.5", "no_bias": "true", "name": "fc1"})
	require.NoError(t, err)
	assert.Equal(t, Values{"num_output": 5, "epsilon": 0.5, "no_bias": true, "name": "fc1"}, values)
	assert.Equal(t, map[string]string{"num_output": "5", "epsilon": "0.5", "no_bias": "true", "name": "fc1"}, values.Strings())

	testCases := []struct {
		name    string
		kwargs  map[string]string
		message string
	}{
		{"missing required", map[string]string{}, "required parameter \"num_output\""},
		{"unknown parameter", map[string]string{"num_output": "1", "foo": "1"}, "unknown parameter \"foo\""},
		{"unparsable int", map[string]string{"num_output": "x"}, "failed to parse"},
		{"below lower bound", map[string]string{"num_output": "0"}, "greater than or equal to"},
		{"above upper bound", map[string]string{"num_output": "1", "epsilon": "2"}, "less than or equal to"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseParams(fields, tc.kwargs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}

	assert.Panics(t, func() { values.Int("epsilon") })
	assert.Panics(t, func() { values.Float("missing") })
}

func TestParseSettings(t *testing.T) {
	kwargs, err := ParseSettings("num_output=3; epsilon = 0.1;;")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"num_output": "3", "epsilon": "0.1"}, kwargs)

	kwargs, err = ParseSettings("")
	require.NoError(t, err)
	assert.Empty(t, kwargs)

	_, err = ParseSettings("num_output")
	require.Error(t, err)
	_, err = ParseSettings("a=b=c")
	require.Error(t, err)
}

func TestFieldType(t *testing.T) {
	assert.Equal(t, "int", IntField.String())
	assert.Equal(t, "float", FloatField.String())
	assert.Equal(t, "FieldType(17)", FieldType(17).String())
	assert.True(t, NewField("x", IntField).Required())
	assert.False(t, NewField("x", IntField).SetDefault(1).Required())
}
