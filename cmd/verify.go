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
	"github.com/palantir/jvm-verifier/internal/crawler"
	"github.com/palantir/jvm-verifier/pkg/crawl"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	var (
		cmdCrawlFlags  crawlFlags
		outputJSON     bool
		outputSummary  bool
		reportVerified bool
	)
	cmd := cobra.Command{
		Use:   "verify <path>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Verify the classes in class files and archives",
		Long: `Verify the classes in class files and archives.

Each path can be a single file or a directory. Directories are traversed and every .class file found is verified,
as is every class inside a jar, war, ear, zip or tar archive. Classes inside nested archives are verified up to the
configured nested-archive-max-depth.

A line is output for every method that is rejected or could not be verified. The command fails if any class was
rejected or could not be verified.
`,
		Example: `Verify every class in a distribution, resolving classes from its lib directory and the jars of a framework:

jvm-verifier verify /opt/app --classpath /opt/framework/core.jar:/opt/framework/classes --nested-archive-max-depth 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfigFile(cmd, cmdCrawlFlags.configFile); err != nil {
				return err
			}
			crawlConfig, err := createCrawlConfig(args, cmdCrawlFlags)
			if err != nil {
				return err
			}
			// remaining failures are not usage errors
			cmd.SilenceUsage = true

			ctx, cancel := contextWithShutdown(cmd.Context())
			defer cancel()

			reporter := crawl.Reporter{
				OutputWriter:   cmd.OutOrStdout(),
				OutputJSON:     outputJSON,
				ReportVerified: reportVerified,
			}
			stats, err := crawler.Crawl(ctx, crawlConfig, reporter.Report, cmd.OutOrStdout(), cmd.OutOrStderr())
			if err != nil {
				return err
			}
			if outputSummary {
				if err := crawl.WriteSummary(cmd.OutOrStdout(), stats, reporter.Summary(), outputJSON); err != nil {
					return err
				}
			}
			if failures := reporter.FailureCount(); failures > 0 {
				return errors.Errorf("verification failed: %d rejected classes and errors", failures)
			}
			return nil
		},
	}
	applyCrawlFlags(&cmd, &cmdCrawlFlags)
	cmd.Flags().BoolVar(&outputJSON, "json", false, "If true, output will be in JSON format")
	cmd.Flags().BoolVar(&outputSummary, "summary", true, "If true, outputs a summary of all operations once program completes")
	cmd.Flags().BoolVar(&reportVerified, "report-verified", false, "If true, a line is also output for each class that verified")
	return &cmd
}
