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

// opsinfo lists the operators available, describes their parameters, and runs their shape and
// type inference for given input shapes.
//
// Examples:
//
//	opsinfo
//	opsinfo -op FullyBias -settings "num_output=10" -shapes "32x5x4" -dtype float32
//	opsinfo -op SignedSqrt -json
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/customops/executor"
	"github.com/gomlx/customops/operator"
	"github.com/gomlx/customops/ops"
	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"k8s.io/klog/v2"
)

var (
	flagOp       = flag.String("op", "", "Name of the operator to describe. If empty, all operators are listed.")
	flagSettings = flag.String("settings", "", "Parameters of the operator, in the format \"<param>=<value>;<param>=<value>;...\".")
	flagShapes   = flag.String("shapes", "", "Shapes of the inputs of the operator, in the format \"<shape>;<shape>;...\", "+
		"where each shape is a list of dimensions separated by \"x\", and \"?\" is an unknown dimension. "+
		"Missing shapes are unknown. If set, shape and type inference is run.")
	flagDType = flag.String("dtype", "float32", "DType of the first input, one of float16, float32 or float64. "+
		"The dtype of the other inputs is inferred.")
	flagJSON = flag.Bool("json", false, "Output the description of the operators as JSON.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	registry := must.M1(ops.NewRegistry())
	err := exceptions.TryCatch[error](func() {
		if *flagOp == "" {
			must.M(listKinds(registry))
			return
		}
		must.M(describeKind(registry, *flagOp))
	})
	if err != nil {
		klog.Exitf("Failed: %+v", err)
	}
}

// listKinds prints a table with all the operator kinds, or their schemas in JSON.
func listKinds(registry *operator.Registry) error {
	if *flagJSON {
		for _, kind := range registry.Kinds() {
			if err := printSchema(kind); err != nil {
				return err
			}
		}
		return nil
	}
	fmt.Println(titleStyle.Render("Operators"))
	table := newPlainTable([]string{"Name", "Arguments", "Parameters", "Description"})
	for _, kind := range registry.Kinds() {
		arguments := make([]string, 0, len(kind.Arguments))
		for _, arg := range kind.Arguments {
			arguments = append(arguments, arg.Name)
		}
		fields := make([]string, 0, len(kind.Fields))
		for _, field := range kind.Fields {
			fields = append(fields, field.Name)
		}
		table.Row(kind.Name, strings.Join(arguments, ", "), strings.Join(fields, ", "),
			lipgloss.NewStyle().Width(60).Render(kind.Description))
	}
	fmt.Println(table.Render())
	return nil
}

func printSchema(kind operator.Kind) error {
	schema, err := kind.Schema()
	if err != nil {
		return err
	}
	fmt.Println(protojson.MarshalOptions{Multiline: true, Indent: "  "}.Format(schema))
	return nil
}

// describeKind prints the arguments and parameters of the operator kind, and, if -shapes is given,
// the result of its inference.
func describeKind(registry *operator.Registry, name string) error {
	kind, found := registry.Lookup(name)
	if !found {
		_, err := registry.Create(name, nil)
		return err
	}
	if *flagJSON {
		return printSchema(kind)
	}

	fmt.Println(titleStyle.Render(kind.Name))
	fmt.Printf("    %s\n", kind.Description)
	table := newPlainTable([]string{"Argument", "Type", "Description"}, lipgloss.Right, lipgloss.Left)
	for _, arg := range kind.Arguments {
		table.Row(arg.Name, arg.Type, arg.Description)
	}
	fmt.Println(table.Render())

	table = newPlainTable([]string{"Parameter", "Type", "Default", "Range", "Description"}, lipgloss.Right, lipgloss.Left)
	for _, field := range kind.Fields {
		defaultStr := "required"
		if !field.Required() {
			defaultStr = fmt.Sprint(field.Default)
		}
		table.Row(field.Name, field.Type.String(), defaultStr, fieldRange(field), field.Description)
	}
	fmt.Println(table.Render())

	if *flagSettings == "" && *flagShapes == "" {
		return nil
	}
	kwargs, err := operator.ParseSettings(*flagSettings)
	if err != nil {
		return err
	}
	prop, err := kind.Create(kwargs)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Parameters"))
	table = newPlainTable([]string{"Parameter", "Value"}, lipgloss.Right, lipgloss.Left)
	for _, field := range kind.Fields {
		table.Row(field.Name, fmt.Sprint(prop.Params()[field.Name]))
	}
	fmt.Println(table.Render())
	if *flagShapes == "" {
		return nil
	}
	return inferShapes(prop)
}

func fieldRange(field operator.Field) string {
	lower, upper := "-inf", "+inf"
	if field.Lower == nil && field.Upper == nil {
		return ""
	}
	if field.Lower != nil {
		lower = fmt.Sprint(*field.Lower)
	}
	if field.Upper != nil {
		upper = fmt.Sprint(*field.Upper)
	}
	return fmt.Sprintf("[%s, %s]", lower, upper)
}

// inferShapes binds the operator to the shapes given by -shapes and -dtype, and prints the inferred shapes.
func inferShapes(prop operator.Property) error {
	numInputs := len(prop.Arguments())
	inShapes, err := parseShapes(*flagShapes, numInputs)
	if err != nil {
		return err
	}
	dtype, err := parseDType(*flagDType)
	if err != nil {
		return err
	}
	inTypes := make([]dtypes.DType, numInputs)
	for ii := range inTypes {
		inTypes[ii] = dtypes.InvalidDType
	}
	inTypes[0] = dtype

	e := executor.New(prop, nil)
	if err := e.Bind(inShapes, inTypes); err != nil {
		if operator.IsIncomplete(err) {
			fmt.Fprintf(os.Stderr, "Not enough information to infer the shapes: %v\n", err)
			return nil
		}
		return errors.WithMessagef(err, "inference of %s failed", prop.Name())
	}
	inf := e.Inference()
	fmt.Println(titleStyle.Render("Inference"))
	table := newPlainTable([]string{"Slot", "Name", "Shape", "Size", "Memory"}, lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	var total uintptr
	addRows := func(slot string, names []string, list []shapes.Shape) {
		for ii, shape := range list {
			total += shape.Memory()
			table.Row(slot, names[ii], shape.String(), humanize.Comma(int64(shape.Size())), humanize.Bytes(uint64(shape.Memory())))
		}
	}
	addRows("input", prop.Arguments(), inf.InShapes)
	addRows("output", prop.Outputs(), inf.OutShapes)
	addRows("auxiliary", prop.AuxiliaryStates(), inf.AuxShapes)
	table.Row("", "total", "", "", humanize.Bytes(uint64(total)))
	fmt.Println(table.Render())
	return nil
}
