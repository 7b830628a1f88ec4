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
	"fmt"
	"regexp"
	"time"

	"github.com/palantir/jvm-verifier/internal/crawler"
	"github.com/palantir/jvm-verifier/pkg/archive"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type crawlFlags struct {
	configFile                   string
	classPath                    string
	ignoreDirs                   []string
	archiveOpenMode              string
	perArchiveTimeout            time.Duration
	nestedArchiveMaxDepth        uint
	nestedArchiveMaxSize         uint
	nestedArchiveDiskSwapMaxSize uint
	nestedArchiveDiskSwapDir     string
	directoriesCrawledPerSecond  int
	archivesCrawledPerSecond     int
	maxIterations                int
	parallelism                  int
	enableTraceLogging           bool
	disableDetailedOutput        bool
}

func applyCrawlFlags(cmd *cobra.Command, flags *crawlFlags) {
	cmd.Flags().StringVar(&flags.configFile, configFlag, "", `Path to a YAML file providing values for any of the other flags, keyed by flag name.
Flags set on the command line take precedence over values in the file.`)
	cmd.Flags().StringVar(&flags.classPath, "classpath", "", `Directories and jars, separated by the platform's path list separator, to resolve classes from.
Classes referenced by a class being verified are looked up first amongst the classes of the same archive on disk,
then on this class path and finally amongst the core java.lang classes known to the verifier.`)
	cmd.Flags().StringSliceVar(&flags.ignoreDirs, "ignore-dir", nil, `Specify directory pattern to ignore. Use multiple times to supply multiple patterns.
Patterns should be relative to the provided root.
e.g. ignore "^/proc" to ignore "/proc" when using a crawl root of "/"`)
	cmd.Flags().StringVar(&flags.archiveOpenMode, "archive-open-mode", "standard", `Supported values:
  standard - standard file opening will be used. This may cause the filesystem cache to be populated with reads from the archive opens.
  directio - direct I/O will be used when opening archives that require sequential reading of their content without being able to skip to file tables at known locations within the file.
             For example, "directio" can have an effect on the way that tar-based archives are read but will have no effect on zip-based archives.
             Using "directio" will cause the filesystem cache to be skipped where possible. "directio" is not supported on tmpfs filesystems and will cause tmpfs archive files to report an error.`)
	cmd.Flags().DurationVar(&flags.perArchiveTimeout, "per-archive-timeout", 15*time.Minute, `If this duration is exceeded when verifying an archive,
an error will be logged and the crawler will move onto the next file.`)
	cmd.Flags().UintVar(&flags.nestedArchiveMaxSize, "nested-archive-max-size", 5*1024*1024, `The maximum compressed size in bytes of any nested archive that will be unarchived for inspection.
This limit is made a per-depth level.
The overall limit to nested archive size unarchived should be controlled
by both the nested-archive-max-size and nested-archive-max-depth.`)
	cmd.Flags().UintVar(&flags.nestedArchiveDiskSwapMaxSize, "nested-archive-disk-swap-max-size", 0, `The maximum size in bytes of disk space allowed to use for inspecting nest archives that are over the nested-archive-max-size.
By default no disk swap is to be allowed, nested archives will only be inspected if they fit into the configured nested-archive-max-size.
When an archive is encountered that is over the nested-archive-max-size, the archive may be written out to a temporary file so that it can be inspected without a large memory penalty.
If large archives are nested within each other, an archive will be opened only if the accumulated space used for archives on disk would not exceed the configured nested-archive-disk-swap-max-size.`)
	cmd.Flags().StringVar(&flags.nestedArchiveDiskSwapDir, "nested-archive-disk-swap-dir", "/tmp", `When nested-archive-disk-swap-max-size is non-zero, this is the directory in which temporary files will be created for writing temporary large nested archives to disk.`)
	cmd.Flags().UintVar(&flags.nestedArchiveMaxDepth, "nested-archive-max-depth", 0, `The maximum depth to recurse into nested archives.
A max depth of 0 will open up an archive on the filesystem but not any nested archives.`)
	cmd.Flags().IntVar(&flags.directoriesCrawledPerSecond, "directories-per-second-rate-limit", 0, `The maximum number of directories to crawl per second. 0 for unlimited.`)
	cmd.Flags().IntVar(&flags.archivesCrawledPerSecond, "archives-per-second-rate-limit", 0, `The maximum number of archives to scan per second. 0 for unlimited.`)
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 0, `The maximum number of instructions symbolically executed when verifying a single method.
A method needing more is reported as not verified rather than rejected. 0 uses the verifier default.`)
	cmd.Flags().IntVar(&flags.parallelism, "parallelism", 0, `The number of methods of a class verified concurrently. 0 for one per CPU.`)
	cmd.Flags().BoolVar(&flags.enableTraceLogging, "enable-trace-logging", false, `Enables trace logging whilst crawling. disable-detailed-output must be set to false (the default value) for this flag to have an effect.`)
	cmd.Flags().BoolVar(&flags.disableDetailedOutput, "disable-detailed-output", false, `Disables progress output such as skipped archives and nested archive limits being hit.`)
}

func createCrawlConfig(roots []string, flags crawlFlags) (crawler.Config, error) {
	ignores, err := flags.resolveIgnoreDirs()
	if err != nil {
		return crawler.Config{}, err
	}

	mode, err := flags.resolveArchiveOpenMode()
	if err != nil {
		return crawler.Config{}, err
	}

	if flags.maxIterations < 0 {
		return crawler.Config{}, errors.Errorf("--max-iterations must not be negative, got %d", flags.maxIterations)
	}
	if flags.parallelism < 0 {
		return crawler.Config{}, errors.Errorf("--parallelism must not be negative, got %d", flags.parallelism)
	}

	return crawler.Config{
		Roots:                       roots,
		ClassPath:                   flags.classPath,
		ArchiveOpenMode:             mode,
		ArchiveListTimeout:          flags.perArchiveTimeout,
		ArchiveMaxDepth:             flags.nestedArchiveMaxDepth,
		ArchiveMaxSize:              flags.nestedArchiveMaxSize,
		ArchiveDiskSwapMaxSize:      flags.nestedArchiveDiskSwapMaxSize,
		ArchiveDiskSwapMaxDir:       flags.nestedArchiveDiskSwapDir,
		DirectoriesCrawledPerSecond: flags.directoriesCrawledPerSecond,
		ArchivesCrawledPerSecond:    flags.archivesCrawledPerSecond,
		MaxIterations:               flags.maxIterations,
		Parallelism:                 flags.parallelism,
		PrintDetailedOutput:         !flags.disableDetailedOutput,
		EnableTraceLogging:          flags.enableTraceLogging,
		Ignores:                     ignores,
	}, nil
}

func (fs crawlFlags) resolveArchiveOpenMode() (archive.FileOpenMode, error) {
	switch fs.archiveOpenMode {
	case "standard":
		return archive.StandardOpen, nil
	case "directio":
		return archive.DirectIOOpen, nil
	}
	return archive.StandardOpen, fmt.Errorf(`unsupported --archive-open-mode: %s. Supported values are "standard" and "directio"`, fs.archiveOpenMode)
}

func (fs crawlFlags) resolveIgnoreDirs() ([]*regexp.Regexp, error) {
	var ignores []*regexp.Regexp
	for _, pattern := range fs.ignoreDirs {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to compile ignore-dir pattern %q", pattern)
		}
		ignores = append(ignores, compiled)
	}
	return ignores, nil
}
