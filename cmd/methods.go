// Copyright (c) 2021 Palantir Technologies. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/palantir/jvm-verifier/pkg/buffer"
	"github.com/palantir/jvm-verifier/pkg/bytecode"
	"github.com/palantir/jvm-verifier/pkg/classfile"
	"github.com/palantir/jvm-verifier/pkg/java"
	"github.com/palantir/jvm-verifier/pkg/verifier"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func methodsCmd() *cobra.Command {
	var (
		className   string
		classPath   string
		disassemble bool
		outputJSON  bool
		trace       bool
	)
	cmd := cobra.Command{
		Use:   "methods <class-file-or-jar>",
		Args:  cobra.ExactArgs(1),
		Short: "Verifies a single class and outputs the result of each of its methods",
		Long: `Verifies a single class and outputs the result of each of its methods.
The class is read from a class file, or from a jar when class-name is provided.
Other classes of the same jar are resolved before the classpath.
Use disassemble to also print the instructions of each method.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repository := java.NewRepository(java.Bootstrap)
			defer func() {
				_ = repository.Close()
			}()
			var data []byte
			var err error
			if className != "" {
				data, err = java.ReadClass(args[0], className)
				if err == nil {
					err = repository.AddEntry(args[0])
				}
			} else {
				data, err = readClassFile(args[0])
			}
			if err != nil {
				return err
			}
			if err := repository.AddClassPath(classPath); err != nil {
				return err
			}

			opts := verifier.Options{}
			if trace {
				opts.Tracef = func(format string, a ...interface{}) {
					_, _ = fmt.Fprintf(cmd.OutOrStderr(), "[TRACE] "+format+"\n", a...)
				}
			}
			v := verifier.New(repository, opts)
			cf, r := v.Pass1(data)
			result := verifier.ClassResult{Class: args[0], Result: r}
			if r.OK() {
				result, err = v.VerifyClass(cmd.Context(), cf)
				if err != nil {
					return err
				}
			}

			if outputJSON {
				jsonBytes, err := json.Marshal(result)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
				return nil
			}
			return writeMethods(cmd.OutOrStdout(), cf, result, disassemble)
		},
	}
	cmd.Flags().StringVar(&className, "class-name", "", `Specify the full class name and package to verify when reading from a jar, e.g. com.example.Main.`)
	cmd.Flags().StringVar(&classPath, "classpath", "", `Directories and jars, separated by the platform's path list separator, to resolve classes from.`)
	cmd.Flags().BoolVar(&disassemble, "disassemble", false, "If true, the instructions of each method are printed below its result")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "If true, output will be in JSON format")
	cmd.Flags().BoolVar(&trace, "enable-trace-logging", false, "Enables tracing of the data-flow analysis of each method")
	return &cmd
}

func writeMethods(w io.Writer, cf *classfile.ClassFile, result verifier.ClassResult, disassemble bool) error {
	if _, err := fmt.Fprintf(w, "%s: %s\n", result.Class, result.Result); err != nil {
		return err
	}
	for i, m := range result.Methods {
		status := m.Result.String()
		if m.Err != nil {
			status = "not verified: " + m.Err.Error()
		}
		if _, err := fmt.Fprintf(w, "  %s%s: %s\n", m.Name, m.Descriptor, status); err != nil {
			return err
		}
		if !disassemble || cf.Methods[i].Code == nil {
			continue
		}
		list, err := bytecode.Decode(cf.Methods[i].Code.Bytecode)
		if err != nil {
			_, _ = fmt.Fprintf(w, "    %v\n", err)
			continue
		}
		for j := range list.Instructions {
			if _, err := fmt.Fprintf(w, "    %s\n", strings.TrimSpace(list.Instructions[j].String())); err != nil {
				return err
			}
		}
	}
	return nil
}

func readClassFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := buffer.ReadAllLimited(f, java.MaxClassSize)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return data, nil
}
