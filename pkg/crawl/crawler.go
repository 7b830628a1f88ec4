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

package crawl

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/ratelimit"
)

// Crawler crawls filesystems, passing each regular file to a MatchFunc.
type Crawler struct {
	Limiter ratelimit.Limiter
	// if non-nil, error output is written to this writer
	ErrorWriter io.Writer
	IgnoreDirs  []*regexp.Regexp
}

type Stats struct {
	// Total number of files scanned.
	FilesScanned uint64 `json:"filesScanned"`
	// Number of paths that were not considered due to "permission denied" errors
	PermissionDeniedCount uint64 `json:"permissionDeniedErrors"`
	// Number of paths that were attempted to be processed but encountered errors.
	PathErrorCount uint64 `json:"pathErrors"`
	// Number of paths that were skipped due to config/size limits
	PathSkippedCount uint64 `json:"pathsSkipped"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.FilesScanned += other.FilesScanned
	s.PermissionDeniedCount += other.PermissionDeniedCount
	s.PathErrorCount += other.PathErrorCount
	s.PathSkippedCount += other.PathSkippedCount
}

// MatchFunc processes one file, returning the number of paths within it that were skipped.
type MatchFunc func(ctx context.Context, path string, d fs.DirEntry) (skipped uint64, err error)

// Crawl crawls the provided root, which may be a single file or a directory. Each regular file
// is passed to match. On encountering a directory, the path is compared against all IgnoreDirs
// configured in the Crawler; a matching directory and everything nested inside it is ignored.
// Errors from match are counted and reported but do not stop the crawl.
func (c Crawler) Crawl(ctx context.Context, root string, match MatchFunc) (Stats, error) {
	stats := Stats{}
	limiter := c.Limiter
	if limiter == nil {
		limiter = ratelimit.NewUnlimited()
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			switch {
			case os.IsPermission(err):
				stats.PermissionDeniedCount++
				return nil
			case os.IsNotExist(err):
				// entries can disappear between listing a directory and visiting them
				if path == root {
					return err
				}
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if c.includeDir(path) {
				limiter.Take()
				return nil
			}
			return fs.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		stats.FilesScanned++
		skipped, err := match(ctx, path, d)
		stats.PathSkippedCount += skipped
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			stats.PathErrorCount++
			if c.ErrorWriter != nil {
				_, _ = fmt.Fprintf(c.ErrorWriter, "Error processing path %s: %v\n", path, err)
			}
		}
		return nil
	})
	return stats, err
}

func (c Crawler) includeDir(path string) bool {
	for _, pattern := range c.IgnoreDirs {
		if pattern.MatchString(path) {
			return false
		}
	}
	return true
}
