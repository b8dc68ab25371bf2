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
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// FieldType is the type of the value of a parameter field.
type FieldType int

const (
	IntField FieldType = iota
	FloatField
	BoolField
	StringField
)

// String implements fmt.Stringer.
func (t FieldType) String() string {
	switch t {
	case IntField:
		return "int"
	case FloatField:
		return "float"
	case BoolField:
		return "boolean"
	case StringField:
		return "string"
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// Field describes one parameter of an operator: name, type, default, bounds and description.
//
// Create it with NewField and configure it with the chained setters, e.g.:
//
//	NewField("num_output", IntField).SetLowerBound(1).Describe("Number of output classes.")
//
// A Field without a default is required.
type Field struct {
	Name        string
	Type        FieldType
	Default     any
	Lower       *float64
	Upper       *float64
	Description string
}

// NewField returns a required Field with the given name and type.
func NewField(name string, fieldType FieldType) Field {
	return Field{Name: name, Type: fieldType}
}

// SetDefault sets the default value, which makes the field optional.
func (f Field) SetDefault(value any) Field {
	f.Default = value
	return f
}

// SetLowerBound sets an inclusive lower bound for numeric fields.
func (f Field) SetLowerBound(bound float64) Field {
	f.Lower = &bound
	return f
}

// SetUpperBound sets an inclusive upper bound for numeric fields.
func (f Field) SetUpperBound(bound float64) Field {
	f.Upper = &bound
	return f
}

// Describe sets the description of the field.
func (f Field) Describe(description string) Field {
	f.Description = description
	return f
}

// Required returns whether the field has no default.
func (f Field) Required() bool { return f.Default == nil }

// parse the string value according to the field type.
func (f Field) parse(valueStr string) (value any, err error) {
	switch f.Type {
	case IntField:
		var v int
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case FloatField:
		var v float64
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case BoolField:
		var v bool
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case StringField:
		value = valueStr
	default:
		err = errors.Errorf("don't know how to parse field type %s", f.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse value %q for parameter %q (type %s)", valueStr, f.Name, f.Type)
	}
	return
}

// check the bounds of a numeric value.
func (f Field) check(value any) error {
	var v float64
	switch typed := value.(type) {
	case int:
		v = float64(typed)
	case float64:
		v = typed
	default:
		return nil
	}
	if f.Lower != nil && v < *f.Lower {
		return errors.Errorf("value %v for parameter %q should be greater than or equal to %v", value, f.Name, *f.Lower)
	}
	if f.Upper != nil && v > *f.Upper {
		return errors.Errorf("value %v for parameter %q should be less than or equal to %v", value, f.Name, *f.Upper)
	}
	return nil
}

// Values holds the parsed parameters of an operator, keyed by field name.
// Values are int, float64, bool or string, according to the field type.
type Values map[string]any

// ParseParams parses the keyword arguments against the fields schema.
//
// Unknown keys, missing required fields, unparsable values and values out of bounds are errors.
// Missing optional fields take their default.
func ParseParams(fields []Field, kwargs map[string]string) (Values, error) {
	values := make(Values, len(fields))
	known := make(map[string]bool, len(fields))
	for _, field := range fields {
		known[field.Name] = true
		valueStr, found := kwargs[field.Name]
		var value any
		if found {
			var err error
			value, err = field.parse(valueStr)
			if err != nil {
				return nil, err
			}
		} else {
			if field.Required() {
				return nil, errors.Errorf("required parameter %q (%s) is missing", field.Name, field.Description)
			}
			value = field.Default
		}
		if err := field.check(value); err != nil {
			return nil, err
		}
		values[field.Name] = value
	}
	for _, key := range slices.Sorted(maps.Keys(kwargs)) {
		if !known[key] {
			return nil, errors.Errorf("unknown parameter %q, valid parameters are %q", key, fieldNames(fields))
		}
	}
	return values, nil
}

func fieldNames(fields []Field) []string {
	names := make([]string, 0, len(fields))
	for _, field := range fields {
		names = append(names, field.Name)
	}
	return names
}

// ParseSettings parses a settings string with the format "<param>=<value>;<param>=<value>;..." into
// keyword arguments. Empty settings are ignored.
func ParseSettings(settings string) (map[string]string, error) {
	kwargs := make(map[string]string)
	for _, setting := range strings.Split(settings, ";") {
		if strings.TrimSpace(setting) == "" {
			continue
		}
		parts := strings.Split(setting, "=")
		if len(parts) != 2 {
			return nil, errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\", got %q",
				settings, setting)
		}
		kwargs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return kwargs, nil
}

// Int returns the value of an IntField. It panics if the field is missing or of another type.
func (v Values) Int(name string) int {
	value, ok := v[name].(int)
	if !ok {
		exceptions.Panicf("parameter %q is not an int: %#v", name, v[name])
	}
	return value
}

// Float returns the value of a FloatField. It panics if the field is missing or of another type.
func (v Values) Float(name string) float64 {
	value, ok := v[name].(float64)
	if !ok {
		exceptions.Panicf("parameter %q is not a float: %#v", name, v[name])
	}
	return value
}

// Strings returns the values formatted as strings, in the same format accepted by ParseParams.
func (v Values) Strings() map[string]string {
	out := make(map[string]string, len(v))
	for key, value := range v {
		out[key] = fmt.Sprint(value)
	}
	return out
}
