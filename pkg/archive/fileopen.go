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
	"io"
	"os"

	"github.com/ncw/directio"
	"github.com/palantir/jvm-verifier/pkg/buffer"
)

// FileOpenMode selects how files on disk are opened for reading.
type FileOpenMode bool

const (
	// StandardOpen opens files read only through the page cache.
	StandardOpen FileOpenMode = false
	// DirectIOOpen opens files for direct I/O, bypassing the page cache. Files smaller than one
	// block are opened as with StandardOpen.
	DirectIOOpen FileOpenMode = true

	directIOBufferSize = 8 * directio.BlockSize
)

type fileReader struct {
	io.Reader
	io.Closer
}

// OpenFile opens the file at path for sequential reading and returns its size. The returned
// reader is an *os.File unless the file was opened for direct I/O.
func OpenFile(path string, mode FileOpenMode) (io.ReadCloser, int64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	size := stat.Size()
	if mode == StandardOpen || size < directio.BlockSize {
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, err
		}
		return f, size, nil
	}
	f, err := directio.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, 0, err
	}
	return fileReader{
		Reader: &buffer.IntermediateBufferReader{
			Reader:      f,
			ContentSize: size,
			Buffer:      directio.AlignedBlock(directIOBufferSize),
		},
		Closer: f,
	}, size, nil
}

// fileWalker adapts a provider of walkers over content into one that opens archives on disk
// with the given mode. The file is closed after the walker.
func fileWalker(mode FileOpenMode, fromReader ReaderWalkerProviderFunc) func(path string) (WalkCloser, error) {
	return func(path string) (WalkCloser, error) {
		rc, size, err := OpenFile(path, mode)
		if err != nil {
			return nil, err
		}
		walker, err := fromReader(rc, size)
		if err != nil {
			_ = rc.Close()
			return nil, err
		}
		return walkCloser{
			walk: walker.Walk,
			close: func() error {
				wErr := walker.Close()
				if fErr := rc.Close(); fErr != nil {
					return fErr
				}
				return wErr
			},
		}, nil
	}
}
