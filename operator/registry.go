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
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// Argument documents one input of an operator kind.
type Argument struct {
	Name, Type, Description string
}

// Kind describes an operator kind for registries and introspection: its name, description, inputs
// and parameter schema, and how to build a Property from parsed parameters.
type Kind struct {
	Name        string
	Description string
	Arguments   []Argument
	Fields      []Field

	// New builds a Property from parameters already parsed and validated against Fields.
	New func(params Values) (Property, error)
}

// Create parses kwargs against the Kind's Fields and builds the Property.
func (k Kind) Create(kwargs map[string]string) (Property, error) {
	params, err := ParseParams(k.Fields, kwargs)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating %s", k.Name)
	}
	return k.New(params)
}

// Schema returns the description of the Kind as a protobuf Struct, suitable to be exported
// (e.g. with protojson) to external registries or configuration systems.
func (k Kind) Schema() (*structpb.Struct, error) {
	arguments := make([]any, 0, len(k.Arguments))
	for _, arg := range k.Arguments {
		arguments = append(arguments, map[string]any{
			"name":        arg.Name,
			"type":        arg.Type,
			"description": arg.Description,
		})
	}
	fields := make([]any, 0, len(k.Fields))
	for _, field := range k.Fields {
		f := map[string]any{
			"name":        field.Name,
			"type":        field.Type.String(),
			"required":    field.Required(),
			"description": field.Description,
		}
		if !field.Required() {
			f["default"] = field.Default
		}
		if field.Lower != nil {
			f["lower_bound"] = *field.Lower
		}
		if field.Upper != nil {
			f["upper_bound"] = *field.Upper
		}
		fields = append(fields, f)
	}
	schema, err := structpb.NewStruct(map[string]any{
		"name":        k.Name,
		"description": k.Description,
		"arguments":   arguments,
		"fields":      fields,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build schema for operator %s", k.Name)
	}
	return schema, nil
}

// Registry of operator kinds, keyed by their case-insensitive name.
//
// It is explicitly constructed with the kinds it should hold; there is no global registry.
type Registry struct {
	kinds map[string]Kind
}

// NewRegistry returns a Registry with the given kinds. Duplicate names are an error.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{kinds: make(map[string]Kind, len(kinds))}
	for _, kind := range kinds {
		key := strings.ToLower(kind.Name)
		if _, found := r.kinds[key]; found {
			return nil, errors.Errorf("operator %q registered more than once", kind.Name)
		}
		if kind.New == nil {
			return nil, errors.Errorf("operator %q has no constructor", kind.Name)
		}
		r.kinds[key] = kind
	}
	return r, nil
}

// Lookup returns the kind with the given (case-insensitive) name.
func (r *Registry) Lookup(name string) (Kind, bool) {
	kind, found := r.kinds[strings.ToLower(name)]
	return kind, found
}

// Kinds returns all registered kinds, sorted by name.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.kinds))
	for _, key := range slices.Sorted(maps.Keys(r.kinds)) {
		kinds = append(kinds, r.kinds[key])
	}
	return kinds
}

// Create builds the Property of the named kind from the keyword arguments.
func (r *Registry) Create(name string, kwargs map[string]string) (Property, error) {
	kind, found := r.Lookup(name)
	if !found {
		names := make([]string, 0, len(r.kinds))
		for _, kind := range r.Kinds() {
			names = append(names, kind.Name)
		}
		return nil, errors.Errorf("unknown operator %q, valid operators are %q", name, names)
	}
	return kind.Create(kwargs)
}
