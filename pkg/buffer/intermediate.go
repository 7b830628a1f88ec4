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

package buffer

import (
	"io"
)

// IntermediateBufferReader reads ContentSize bytes from Reader, always passing Buffer to the
// underlying Read. This suits readers with alignment requirements, such as files opened for
// direct I/O, which must be read into an aligned block. Reading fewer than ContentSize bytes
// before the underlying reader is exhausted is an io.ErrUnexpectedEOF.
type IntermediateBufferReader struct {
	Reader      io.Reader
	ContentSize int64
	Buffer      []byte

	// Buffer[start:end] holds bytes read from Reader but not yet returned.
	start, end int
	written    int64
}

func (a *IntermediateBufferReader) Read(p []byte) (int, error) {
	remaining := a.ContentSize - a.written
	if remaining <= 0 {
		return 0, io.EOF
	}
	if a.start == a.end {
		if len(a.Buffer) == 0 {
			return 0, io.ErrShortBuffer
		}
		n, err := a.Reader.Read(a.Buffer)
		a.start, a.end = 0, n
		switch {
		case err == io.EOF && n == 0:
			return 0, io.ErrUnexpectedEOF
		case err != nil && err != io.EOF:
			return 0, err
		}
	}

	n := copy(p, a.Buffer[a.start:a.end])
	if int64(n) > remaining {
		n = int(remaining)
	}
	a.start += n
	a.written += int64(n)
	if a.written == a.ContentSize {
		return n, io.EOF
	}
	return n, nil
}
