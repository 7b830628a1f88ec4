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

package crawler

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/palantir/jvm-verifier/pkg/archive"
	"github.com/palantir/jvm-verifier/pkg/buffer"
	"github.com/palantir/jvm-verifier/pkg/crawl"
	"github.com/palantir/jvm-verifier/pkg/java"
	"github.com/palantir/jvm-verifier/pkg/log"
	"github.com/palantir/jvm-verifier/pkg/verifier"
	"go.uber.org/ratelimit"
)

type Config struct {
	// Roots are the files and directories to crawl, in order.
	Roots []string
	// ClassPath lists directories and jars, separated by the platform's list separator, that
	// classes are resolved from when they are not found next to the class being verified.
	ClassPath string
	// ArchiveListTimeout is the maximum amount of time that will be spent verifying an archive. Once this duration has
	// passed for a single archive, it is skipped and recorded as an error.
	ArchiveListTimeout time.Duration
	// ArchiveMaxDepth is the maximum archive depth to recurse into. A value of 0 will open up an archive on the
	// filesystem but will not recurse into any nested archives within it.
	ArchiveMaxDepth uint
	// ArchiveMaxSize is the maximum nested archive size that will be unarchived for inspection.
	ArchiveMaxSize uint
	// Maximum number of directories to scan per second, or 0 for no limit.
	DirectoriesCrawledPerSecond int
	// Maximum number of archives to scan per second, or 0 for no limit.
	ArchivesCrawledPerSecond int
	// MaxIterations bounds the data-flow iterations spent on one method, or 0 for the verifier default.
	MaxIterations int
	// Parallelism is the number of methods of a class verified at once, or 0 for one per CPU.
	Parallelism int
	// If true, print progress information such as skipped archives while crawling.
	PrintDetailedOutput bool
	// Ignores specifies the regular expressions used to determine which directories to omit.
	Ignores []*regexp.Regexp
	// ArchiveOpenMode prescribes the crawler to use either direct-io or standard file opening.
	ArchiveOpenMode archive.FileOpenMode
	// EnableTraceLogging enables trace level logging.
	EnableTraceLogging bool
	// ArchiveDiskSwapMaxSize is the size on disk, in bytes, that is allowed to be used for writing
	// archives over ArchiveMaxSize to disk as temporary files.
	// ArchiveDiskSwapMaxSize is the total size allowed across all files that exist at the same time.
	ArchiveDiskSwapMaxSize uint
	// ArchiveDiskSwapMaxDir is the directory in which temporary files will be written for archives
	// that are over ArchiveMaxSize.
	ArchiveDiskSwapMaxDir string
}

// Crawl crawls each root, verifying every class file found on disk or inside archives and
// passing each outcome to process. The returned stats cover all roots.
func Crawl(ctx context.Context, config Config, process crawl.HandleResultFunc, stdout, stderr io.Writer) (crawl.Stats, error) {
	var outputWriter io.Writer
	if config.PrintDetailedOutput {
		outputWriter = stdout
	}
	logger := log.Logger{
		ErrorWriter:        stderr,
		EnableTraceLogging: config.EnableTraceLogging,
		OutputWriter:       outputWriter,
	}

	classPath := java.NewRepository(java.Bootstrap)
	defer func() {
		if err := classPath.Close(); err != nil {
			logger.Warn("Error closing class path: %v", err)
		}
	}()
	if err := classPath.AddClassPath(config.ClassPath); err != nil {
		return crawl.Stats{}, err
	}
	logger.Trace("Resolving classes from class path %v", classPath.ClassPath())

	inspector := crawl.Inspector{
		Logger:             logger,
		Limiter:            limiterFromConfig(config.ArchivesCrawledPerSecond),
		ArchiveWalkTimeout: config.ArchiveListTimeout,
		OpenMode:           config.ArchiveOpenMode,
		ArchiveMaxDepth:    config.ArchiveMaxDepth,
		ArchiveWalkers:     config.archiveWalkers(),
		ClassPath:          classPath,
		Options: verifier.Options{
			MaxIterations: config.MaxIterations,
			Parallelism:   config.Parallelism,
			Tracef:        logger.Tracer(),
		},
		HandleResult: process,
	}
	crawler := crawl.Crawler{
		Limiter:     limiterFromConfig(config.DirectoriesCrawledPerSecond),
		ErrorWriter: stderr,
		IgnoreDirs:  config.Ignores,
	}

	var stats crawl.Stats
	for _, root := range config.Roots {
		rootStats, err := crawler.Crawl(ctx, root, inspector.Inspect)
		if err != nil {
			if stderr != nil {
				_, _ = fmt.Fprintf(stderr, "Error crawling: %v\n", err)
			}
			return crawl.Stats{}, err
		}
		stats.Add(rootStats)
	}
	return stats, nil
}

// archiveWalkers returns the walker lookup used for archives on disk and nested within each
// other, paired with the largest nested archive size that will be opened.
func (cfg Config) archiveWalkers() func(string) (archive.WalkerProvider, int64, bool) {
	var converter buffer.ReaderReaderAtConverter
	maxSize := int64(cfg.ArchiveMaxSize)
	if cfg.ArchiveDiskSwapMaxSize == 0 {
		// nested archives are held in memory only
		converter = buffer.SizeCappedInMemoryReaderAtConverter(maxSize)
	} else {
		converter = &buffer.InMemoryWithDiskOverflowReaderAtConverter{
			Path:          cfg.ArchiveDiskSwapMaxDir,
			MaxMemorySize: maxSize,
			MaxDiskSpace:  int64(cfg.ArchiveDiskSwapMaxSize),
		}
		if swap := int64(cfg.ArchiveDiskSwapMaxSize); swap > maxSize {
			maxSize = swap
		}
	}
	walkers := archive.Walkers(converter, cfg.ArchiveOpenMode)
	return func(name string) (archive.WalkerProvider, int64, bool) {
		provider, ok := walkers(name)
		return provider, maxSize, ok
	}
}

func limiterFromConfig(limit int) ratelimit.Limiter {
	var limiter ratelimit.Limiter
	if limit > 0 {
		limiter = ratelimit.New(limit)
	} else {
		limiter = ratelimit.NewUnlimited()
	}
	return limiter
}
