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

package buffer

import (
	"bytes"
	"fmt"
	"io"
)

// WriteTooLargeError is returned when a write would take a SizeLimitedBuffer past its limit.
// The value is the limit in bytes.
type WriteTooLargeError int

func (e WriteTooLargeError) Error() string {
	return fmt.Sprintf("write exceeds buffer limit of %d bytes", int(e))
}

func NewSizeLimitedBuffer(limit int) SizeLimitedBuffer {
	return SizeLimitedBuffer{limit: limit}
}

// SizeLimitedBuffer accumulates writes up to a fixed number of bytes.
type SizeLimitedBuffer struct {
	limit  int
	buffer bytes.Buffer
}

func (c *SizeLimitedBuffer) Write(p []byte) (int, error) {
	if len(p)+c.buffer.Len() > c.limit {
		return 0, WriteTooLargeError(c.limit)
	}
	return c.buffer.Write(p)
}

func (c *SizeLimitedBuffer) Bytes() []byte {
	return c.buffer.Bytes()
}

// ReadAllLimited reads r to EOF, failing with a WriteTooLargeError if it holds more than limit
// bytes.
func ReadAllLimited(r io.Reader, limit int) ([]byte, error) {
	buf := NewSizeLimitedBuffer(limit)
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
