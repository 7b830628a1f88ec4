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

package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"strings"

	"github.com/palantir/jvm-verifier/pkg/buffer"
	"github.com/pkg/errors"
)

// FileWalkFn is called for each regular file in an archive. contents is only valid for the
// duration of the call.
type FileWalkFn func(ctx context.Context, path string, size int64, contents io.Reader) (proceed bool, err error)

// WalkFn walks the files of an archive, stopping at the first error or when a FileWalkFn
// returns false.
type WalkFn func(ctx context.Context, walkFn FileWalkFn) error

// WalkCloser walks an archive and releases its resources on Close.
type WalkCloser interface {
	Walk(ctx context.Context, walkFn FileWalkFn) error
	Close() error
}

// WalkerProvider opens archives of one format, either from disk or from the contents of an
// enclosing archive.
type WalkerProvider interface {
	FromFile(path string) (WalkCloser, error)
	FromReader(r io.Reader, size int64) (WalkCloser, error)
}

// ReaderWalkerProviderFunc creates a WalkCloser over archive content of the given size.
type ReaderWalkerProviderFunc func(r io.Reader, size int64) (WalkCloser, error)

type walkCloser struct {
	walk  WalkFn
	close func() error
}

func (w walkCloser) Walk(ctx context.Context, walkFn FileWalkFn) error {
	return w.walk(ctx, walkFn)
}

func (w walkCloser) Close() error {
	if w.close == nil {
		return nil
	}
	return w.close()
}

type walkerProvider struct {
	fromFile   func(path string) (WalkCloser, error)
	fromReader ReaderWalkerProviderFunc
}

func (w walkerProvider) FromFile(path string) (WalkCloser, error) {
	return w.fromFile(path)
}

func (w walkerProvider) FromReader(r io.Reader, size int64) (WalkCloser, error) {
	return w.fromReader(r, size)
}

// Walkers returns a lookup from file name to the WalkerProvider for its archive format.
// converter buffers nested zip content, which must be randomly accessible. mode applies to
// archives on disk that are read sequentially, which excludes zips.
func Walkers(converter buffer.ReaderReaderAtConverter, mode FileOpenMode) func(filename string) (WalkerProvider, bool) {
	providers := map[Format]WalkerProvider{
		Zip:      zipWalkers(converter),
		Tar:      tarWalkers(mode, plainTar),
		TarGzip:  tarWalkers(mode, gzipTar),
		TarBzip2: tarWalkers(mode, bzip2Tar),
	}
	return func(filename string) (WalkerProvider, bool) {
		format, ok := FormatOf(strings.ToLower(filename))
		if !ok {
			return nil, false
		}
		p, ok := providers[format]
		return p, ok
	}
}

func zipWalkers(converter buffer.ReaderReaderAtConverter) WalkerProvider {
	return walkerProvider{
		fromFile: fileWalker(StandardOpen, func(r io.Reader, size int64) (WalkCloser, error) {
			ra, ok := r.(io.ReaderAt)
			if !ok {
				return nil, errors.New("zip archive must be opened for random access")
			}
			return zipWalkCloser(ra, size, nil)
		}),
		fromReader: func(r io.Reader, size int64) (WalkCloser, error) {
			if converter == nil {
				return nil, errors.New("no buffer configured for nested zip archives")
			}
			ra, closeFn, err := converter.ReaderAt(r, size)
			if err != nil {
				return nil, err
			}
			return zipWalkCloser(ra, size, closeFn)
		},
	}
}

func zipWalkCloser(ra io.ReaderAt, size int64, closeFn func() error) (WalkCloser, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		if closeFn != nil {
			_ = closeFn()
		}
		return nil, err
	}
	return walkCloser{
		walk: func(ctx context.Context, walkFn FileWalkFn) error {
			return WalkZipFiles(ctx, zr, walkFn)
		},
		close: closeFn,
	}, nil
}

type tarDecompressor func(io.Reader) (*tar.Reader, func() error, error)

func plainTar(r io.Reader) (*tar.Reader, func() error, error) {
	return tar.NewReader(r), nil, nil
}

func gzipTar(r io.Reader) (*tar.Reader, func() error, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return tar.NewReader(gr), gr.Close, nil
}

func bzip2Tar(r io.Reader) (*tar.Reader, func() error, error) {
	return tar.NewReader(bzip2.NewReader(r)), nil, nil
}

func tarWalkers(mode FileOpenMode, decompress tarDecompressor) WalkerProvider {
	fromReader := func(r io.Reader, _ int64) (WalkCloser, error) {
		tr, closeFn, err := decompress(r)
		if err != nil {
			return nil, err
		}
		return walkCloser{
			walk: func(ctx context.Context, walkFn FileWalkFn) error {
				return WalkTarFiles(ctx, tr, walkFn)
			},
			close: closeFn,
		}, nil
	}
	return walkerProvider{
		fromFile:   fileWalker(mode, fromReader),
		fromReader: fromReader,
	}
}

// WalkZipFiles calls walkFn for each regular file of a zip archive.
func WalkZipFiles(ctx context.Context, r *zip.Reader, walkFn FileWalkFn) error {
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !f.Mode().IsRegular() {
			continue
		}
		proceed, err := walkZipFile(ctx, f, walkFn)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
	return nil
}

func walkZipFile(ctx context.Context, f *zip.File, walkFn FileWalkFn) (proceed bool, err error) {
	rc, err := f.Open()
	if err != nil {
		return false, errors.Wrapf(err, "opening %s", f.Name)
	}
	defer func() {
		if cErr := rc.Close(); err == nil && cErr != nil {
			err = cErr
		}
	}()
	return walkFn(ctx, f.Name, int64(f.UncompressedSize64), rc)
}

// WalkTarFiles calls walkFn for each regular file of a tar archive.
func WalkTarFiles(ctx context.Context, r *tar.Reader, walkFn FileWalkFn) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		proceed, err := walkFn(ctx, header.Name, header.Size, r)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
}
