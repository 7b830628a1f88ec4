// Copyright (c) 2022 Palantir Technologies. All rights reserved.
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

package buffer_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"testing/iotest"

	"github.com/palantir/jvm-verifier/pkg/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntermediateBufferReader(t *testing.T) {
	t.Run("propagates read errors", func(t *testing.T) {
		readErr := errors.New("device not ready")
		_, err := io.ReadAll(&buffer.IntermediateBufferReader{
			Reader:      iotest.ErrReader(readErr),
			ContentSize: 1,
			Buffer:      make([]byte, 5),
		})
		assert.Equal(t, readErr, err)
	})

	const blockSize = 7
	for _, size := range []int{0, 3, blockSize - 1, blockSize, blockSize + 1, 4*blockSize + 2} {
		t.Run(fmt.Sprintf("reads %d bytes through a %d byte block", size, blockSize), func(t *testing.T) {
			content := bytes.Repeat([]byte{0xca, 0xfe, 0xba, 0xbe}, size)[:size]
			got, err := io.ReadAll(&buffer.IntermediateBufferReader{
				Reader:      bytes.NewReader(content),
				ContentSize: int64(size),
				Buffer:      make([]byte, blockSize),
			})
			require.NoError(t, err)
			assert.Equal(t, content, got)
		})
	}

	t.Run("passes the whole block to every read", func(t *testing.T) {
		content := bytes.Repeat([]byte("x"), 20)
		r := &blockCheckingReader{Reader: bytes.NewReader(content), blockSize: 8, t: t}
		got, err := io.ReadAll(&buffer.IntermediateBufferReader{
			Reader:      r,
			ContentSize: int64(len(content)),
			Buffer:      make([]byte, 8),
		})
		require.NoError(t, err)
		assert.Equal(t, content, got)
		assert.Equal(t, 3, r.reads)
	})

	t.Run("should read end content on short reads", func(t *testing.T) {
		// stubbed reader will only populate first 3 bytes of the 5 byte buffer,
		// giving us situation where only part of the buffer is active
		bs, err := io.ReadAll(&buffer.IntermediateBufferReader{
			Reader:      stubbedReader("012"),
			ContentSize: 4,
			Buffer:      make([]byte, 5),
		})
		require.NoError(t, err)
		assert.Equal(t, "0120", string(bs))
	})

	t.Run("should error when content ends early", func(t *testing.T) {
		_, err := io.ReadAll(&buffer.IntermediateBufferReader{
			Reader:      bytes.NewBufferString("01"),
			ContentSize: 4,
			Buffer:      make([]byte, 5),
		})
		assert.Equal(t, io.ErrUnexpectedEOF, err)
	})

	t.Run("should error on empty buffer", func(t *testing.T) {
		_, err := io.ReadAll(&buffer.IntermediateBufferReader{
			Reader:      bytes.NewBufferString("01"),
			ContentSize: 2,
		})
		assert.Equal(t, io.ErrShortBuffer, err)
	})

	t.Run("reads no further than content size", func(t *testing.T) {
		bs, err := io.ReadAll(&buffer.IntermediateBufferReader{
			Reader:      bytes.NewBufferString("0123456789"),
			ContentSize: 6,
			Buffer:      make([]byte, 4),
		})
		require.NoError(t, err)
		assert.Equal(t, "012345", string(bs))
	})
}

type stubbedReader string

func (s stubbedReader) Read(p []byte) (n int, err error) {
	return copy(p, s), nil
}

type blockCheckingReader struct {
	io.Reader
	blockSize int
	reads     int
	t         *testing.T
}

func (r *blockCheckingReader) Read(p []byte) (int, error) {
	r.reads++
	assert.Len(r.t, p, r.blockSize)
	return r.Reader.Read(p)
}
