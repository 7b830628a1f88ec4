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
	"github.com/palantir/pkg/cobracli"
	"github.com/spf13/cobra"
)

var Version = "unspecified"

func Execute() int {
	return cobracli.ExecuteWithDefaultParams(rootCmd(), cobracli.VersionFlagParam(Version))
}

func rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jvm-verifier",
		Short: "Verifies the bytecode of java classes on the filesystem",
		Long: `Verifies the bytecode of java classes found in class files and archives on the filesystem.
Each class is checked the way a JVM checks classes before linking them: the class file is parsed,
its constant pool and declarations are checked and the code of every method is checked by data-flow analysis.`,
	}
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(identifyCmd())
	rootCmd.AddCommand(methodsCmd())
	return rootCmd
}
