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
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/palantir/jvm-verifier/pkg/testcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrawler_Crawl(t *testing.T) {
	t.Run("ignores configured directories and non-regular files", func(t *testing.T) {
		var matchPathInputs []string
		var matchDirEntryInputs []string
		root := makeTestFS(t, []string{
			"foo",
			"bar",
			"baz",
			"qux",
		}, []string{
			"foo/foo",
			"baz/baz",
			"qux/qux",
		})
		require.NoError(t, os.Symlink(filepath.Join(root, "qux/qux"), filepath.Join(root, "bar/bar")))
		stats, err := Crawler{
			IgnoreDirs: []*regexp.Regexp{
				regexp.MustCompile(filepath.Join(root, `foo`)),
				regexp.MustCompile(filepath.Join(root, `baz`)),
			},
		}.Crawl(testcontext.GetTestContext(t), root, func(ctx context.Context, path string, d fs.DirEntry) (uint64, error) {
			matchPathInputs = append(matchPathInputs, path)
			matchDirEntryInputs = append(matchDirEntryInputs, d.Name())
			return 0, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(root, "qux/qux")}, matchPathInputs)
		assert.Equal(t, []string{"qux"}, matchDirEntryInputs)
		assert.Equal(t, Stats{FilesScanned: 1}, stats)
	})

	t.Run("returns without matching if context is done", func(t *testing.T) {
		var countMatch int
		ctx, cancel := context.WithCancel(testcontext.GetTestContext(t))
		cancel()
		_, err := Crawler{}.Crawl(ctx, makeTestFS(t, nil, []string{"foo"}), func(context.Context, string, fs.DirEntry) (uint64, error) {
			countMatch++
			return 0, nil
		})
		require.Equal(t, ctx.Err(), err)
		assert.Zero(t, countMatch)
	})

	t.Run("error from match is counted and reported", func(t *testing.T) {
		var matchInputs []string
		var errOut bytes.Buffer
		root := makeTestFS(t, nil, []string{"foo", "bar"})
		stats, err := Crawler{ErrorWriter: &errOut}.Crawl(testcontext.GetTestContext(t), root,
			func(ctx context.Context, path string, entry fs.DirEntry) (uint64, error) {
				matchInputs = append(matchInputs, path)
				if entry.Name() == "foo" {
					return 0, errors.New("bad file")
				}
				return 0, nil
			})
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(root, "bar"),
			filepath.Join(root, "foo"),
		}, matchInputs)
		assert.Equal(t, Stats{FilesScanned: 2, PathErrorCount: 1}, stats)
		assert.Equal(t, "Error processing path "+filepath.Join(root, "foo")+": bad file\n", errOut.String())
	})

	t.Run("cancellation during match stops the crawl", func(t *testing.T) {
		ctx, cancel := context.WithCancel(testcontext.GetTestContext(t))
		var countMatch int
		_, err := Crawler{}.Crawl(ctx, makeTestFS(t, nil, []string{"bar", "foo"}), func(ctx context.Context, _ string, _ fs.DirEntry) (uint64, error) {
			countMatch++
			cancel()
			return 0, ctx.Err()
		})
		assert.Equal(t, context.Canceled, err)
		assert.Equal(t, 1, countMatch)
	})

	t.Run("accumulates skipped counts", func(t *testing.T) {
		stats, err := Crawler{}.Crawl(testcontext.GetTestContext(t), makeTestFS(t, nil, []string{"foo", "bar"}),
			func(context.Context, string, fs.DirEntry) (uint64, error) {
				return 2, nil
			})
		require.NoError(t, err)
		assert.Equal(t, Stats{FilesScanned: 2, PathSkippedCount: 4}, stats)
	})

	t.Run("single file root", func(t *testing.T) {
		root := makeTestFS(t, nil, []string{"foo"})
		var matchInputs []string
		_, err := Crawler{}.Crawl(testcontext.GetTestContext(t), filepath.Join(root, "foo"), func(ctx context.Context, path string, d fs.DirEntry) (uint64, error) {
			matchInputs = append(matchInputs, path)
			return 0, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(root, "foo")}, matchInputs)
	})

	t.Run("missing root is an error", func(t *testing.T) {
		_, err := Crawler{}.Crawl(testcontext.GetTestContext(t), filepath.Join(t.TempDir(), "missing"), func(context.Context, string, fs.DirEntry) (uint64, error) {
			return 0, nil
		})
		assert.True(t, os.IsNotExist(err))
	})
}

func TestStatsAdd(t *testing.T) {
	s := Stats{FilesScanned: 1, PathErrorCount: 2}
	s.Add(Stats{FilesScanned: 3, PermissionDeniedCount: 1, PathSkippedCount: 5})
	assert.Equal(t, Stats{FilesScanned: 4, PermissionDeniedCount: 1, PathErrorCount: 2, PathSkippedCount: 5}, s)
}

// makeTestFS creates all dirs first, then all files.
// To create a file in a dir, list the dir in dirs, then the full file path in files.
func makeTestFS(t *testing.T, dirs []string, files []string) string {
	t.Helper()
	tmpDir := t.TempDir()
	for _, dir := range dirs {
		require.NoError(t, os.Mkdir(filepath.Join(tmpDir, dir), 0700))
	}
	for _, file := range files {
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, file), nil, 0640))
	}
	return tmpDir
}
