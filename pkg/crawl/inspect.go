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
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/palantir/jvm-verifier/pkg/archive"
	"github.com/palantir/jvm-verifier/pkg/buffer"
	"github.com/palantir/jvm-verifier/pkg/classfile"
	"github.com/palantir/jvm-verifier/pkg/java"
	"github.com/palantir/jvm-verifier/pkg/log"
	"github.com/palantir/jvm-verifier/pkg/verifier"
	"github.com/pkg/errors"
	"go.uber.org/ratelimit"
	"golang.org/x/exp/slices"
)

// HandleResultFunc is called with the outcome of verifying each class found. err is set when
// verification could not reach a verdict, for example because a referenced class is missing.
type HandleResultFunc func(ctx context.Context, path NestedPath, result verifier.ClassResult, err error)

// Inspector verifies class files on disk and the class files inside archives. The classes of an
// archive on disk, including those of nested archives, resolve against each other before
// falling back to ClassPath.
type Inspector struct {
	Logger  log.Logger
	Limiter ratelimit.Limiter
	// OpenMode applies to class files on disk. Archives on disk are opened by ArchiveWalkers.
	OpenMode archive.FileOpenMode
	// ArchiveWalkTimeout bounds the time spent on one archive on disk. Zero means no limit.
	ArchiveWalkTimeout time.Duration
	// ArchiveMaxDepth is the deepest level of nested archive that is opened. Zero opens archives on
	// disk but none nested within them.
	ArchiveMaxDepth uint
	// ArchiveWalkers returns the provider for an archive name and the largest nested archive of
	// that kind to open, or -1 for no limit.
	ArchiveWalkers func(string) (archive.WalkerProvider, int64, bool)
	// ClassPath resolves classes that are not part of the file being inspected.
	ClassPath verifier.Resolver
	Options   verifier.Options
	// HandleResult receives one call per class.
	HandleResult HandleResultFunc
}

type classEntry struct {
	path NestedPath
	data []byte
}

// Inspect verifies the classes in the file at path. It returns the number of nested archives or
// entries that were skipped because of configured limits.
func (i *Inspector) Inspect(ctx context.Context, path string, d fs.DirEntry) (skipped uint64, err error) {
	name := strings.ToLower(d.Name())
	if strings.HasSuffix(name, ".class") {
		i.Logger.Trace("Verifying class file %s", path)
		data, err := readFile(path, i.OpenMode)
		if err != nil {
			return 0, err
		}
		return 0, i.verifyAll(ctx, []classEntry{{path: NestedPath{path}, data: data}})
	}

	getWalker, _, ok := i.ArchiveWalkers(name)
	if !ok {
		return 0, nil
	}
	i.Logger.Trace("Walking archive %s", path)
	if i.ArchiveWalkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.ArchiveWalkTimeout)
		defer cancel()
	}
	walker, err := getWalker.FromFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open archive %s", path)
	}
	defer func() {
		if cErr := walker.Close(); err == nil && cErr != nil {
			err = cErr
		}
	}()

	var classes []classEntry
	skipped, err = i.collect(ctx, 0, walker, NestedPath{path}, &classes)
	if err != nil {
		return skipped, errors.Wrapf(err, "failed to walk archive %s", path)
	}
	return skipped, i.verifyAll(ctx, classes)
}

func (i *Inspector) limiter() ratelimit.Limiter {
	if i.Limiter == nil {
		return ratelimit.NewUnlimited()
	}
	return i.Limiter
}

// collect gathers the class entries of an archive and, within the depth limit, of the archives
// nested inside it.
func (i *Inspector) collect(ctx context.Context, depth uint, walker archive.WalkCloser, path NestedPath, classes *[]classEntry) (uint64, error) {
	var skipped uint64
	i.limiter().Take()
	err := walker.Walk(ctx, func(ctx context.Context, entry string, size int64, contents io.Reader) (bool, error) {
		entryPath := path.with(entry)
		filename := filenameFromPathInsideArchive(entry)
		if strings.HasSuffix(filename, ".class") {
			if size > java.MaxClassSize {
				skipped++
				i.Logger.Info("Skipping class above maximum size at %s", entryPath.Joined())
				return true, nil
			}
			data, err := buffer.ReadAllLimited(contents, java.MaxClassSize)
			if err != nil {
				return false, errors.Wrapf(err, "reading %s", entryPath.Joined())
			}
			*classes = append(*classes, classEntry{path: entryPath, data: data})
			return true, nil
		}

		getWalker, maxSize, ok := i.ArchiveWalkers(strings.ToLower(filename))
		if !ok {
			return true, nil
		}
		switch {
		case maxSize > -1 && size > maxSize:
			skipped++
			i.Logger.Info("Skipping nested archive above configured maximum size at %s", entryPath.Joined())
			return true, nil
		case depth >= i.ArchiveMaxDepth:
			skipped++
			i.Logger.Info("Skipping nested archive nested beyond configured maximum level at %s", entryPath.Joined())
			return true, nil
		}
		nested, err := getWalker.FromReader(contents, size)
		if err != nil {
			return false, errors.Wrapf(err, "opening nested archive %s", entryPath.Joined())
		}
		innerSkipped, err := i.collect(ctx, depth+1, nested, entryPath, classes)
		skipped += innerSkipped
		if cErr := nested.Close(); err == nil {
			err = cErr
		}
		return err == nil, err
	})
	return skipped, err
}

// verifyAll parses every class, makes them resolvable to each other, then verifies each one.
func (i *Inspector) verifyAll(ctx context.Context, entries []classEntry) error {
	scope := java.NewRepository(i.ClassPath)
	v := verifier.New(scope, i.Options)

	type parsed struct {
		path NestedPath
		cf   *classfile.ClassFile
	}
	var classes []parsed
	seen := make(map[string]bool)
	for _, e := range entries {
		cf, r := v.Pass1(e.data)
		if !r.OK() {
			i.HandleResult(ctx, e.path, verifier.ClassResult{Class: e.path[len(e.path)-1], Result: r}, nil)
			continue
		}
		name, _ := cf.Name()
		if seen[name] {
			i.Logger.Trace("Class %s at %s is shadowed by an earlier definition", name, e.path.Joined())
		} else {
			seen[name] = true
			if err := scope.Add(cf); err != nil {
				i.HandleResult(ctx, e.path, verifier.ClassResult{Class: name}, err)
				continue
			}
		}
		classes = append(classes, parsed{path: e.path, cf: cf})
	}
	slices.SortStableFunc(classes, func(a, b parsed) int {
		return strings.Compare(a.path.Joined(), b.path.Joined())
	})

	for _, c := range classes {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := v.VerifyClass(ctx, c.cf)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		i.HandleResult(ctx, c.path, result, err)
	}
	return nil
}

func readFile(path string, mode archive.FileOpenMode) (data []byte, err error) {
	f, _, err := archive.OpenFile(path, mode)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cErr := f.Close(); err == nil && cErr != nil {
			err = cErr
		}
	}()
	return buffer.ReadAllLimited(f, java.MaxClassSize)
}
