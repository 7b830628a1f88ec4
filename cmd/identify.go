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

	"github.com/palantir/jvm-verifier/pkg/java"
	"github.com/spf13/cobra"
)

func identifyCmd() *cobra.Command {
	var (
		className  string
		outputJSON bool
	)
	cmd := cobra.Command{
		Use:   "identify <jar>",
		Args:  cobra.ExactArgs(1),
		Short: "Produces hashes to identify a class file within a JAR",
		Long: `Produces hashes to identify a class file within a JAR.
The entire class is hashed to allow for matching against the exact version.
The bytecode instructions making up the methods are hashed, for matching versions
that differ only in their constant pool.
Use the class-name option to select the class analysed within the JAR.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			hashes, err := java.HashClass(args[0], className)
			if err != nil {
				return err
			}
			if outputJSON {
				// should not fail
				jsonBytes, _ := json.Marshal(hashes)
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Size of class: %d\n", hashes.ClassSize)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Hash of complete class: %s\n", hashes.CompleteHash)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Hash of all bytecode instructions: %s\n", hashes.BytecodeInstructionHash)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Methods with code: %d\n", hashes.MethodsWithCode)
			return nil
		},
	}
	cmd.Flags().StringVar(&className, "class-name", "", `Specify the full class name and package to hash, e.g. com.example.Main.`)
	cmd.Flags().BoolVar(&outputJSON, "json", false, "If true, output will be in JSON format")
	_ = cmd.MarkFlagRequired("class-name")
	return &cmd
}
