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

package verifier

import (
	"fmt"

	"github.com/palantir/jvm-verifier/pkg/bytecode"
	"github.com/pkg/errors"
)

// Pass identifies one of the verification passes.
type Pass int

const (
	Pass1 Pass = iota + 1
	Pass2
	Pass3a
	Pass3b
)

func (p Pass) String() string {
	switch p {
	case Pass1:
		return "1"
	case Pass2:
		return "2"
	case Pass3a:
		return "3a"
	case Pass3b:
		return "3b"
	}
	return fmt.Sprintf("Pass(%d)", int(p))
}

func (p Pass) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// MalformedBytecodeError reports code that cannot be decoded or whose exception table points
// outside the code.
type MalformedBytecodeError struct {
	Offset int
	Reason string
}

func (e *MalformedBytecodeError) Error() string {
	return fmt.Sprintf("malformed bytecode at offset %d: %s", e.Offset, e.Reason)
}

// InvalidSubroutineError reports jsr/ret usage that cannot be partitioned into subroutines.
type InvalidSubroutineError struct {
	Offset int
	Reason string
}

func (e *InvalidSubroutineError) Error() string {
	return fmt.Sprintf("invalid subroutine at offset %d: %s", e.Offset, e.Reason)
}

// ConstraintViolationError is a structural or static constraint that the class or code does
// not satisfy. Offset is -1 when the violation is not attributable to one instruction.
type ConstraintViolationError struct {
	Pass   Pass
	Offset int
	Opcode bytecode.Opcode
	Reason string
}

func (e *ConstraintViolationError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("pass %s: %s", e.Pass, e.Reason)
	}
	return fmt.Sprintf("pass %s: %s at offset %d: %s", e.Pass, e.Opcode, e.Offset, e.Reason)
}

// ClassNotFoundError means the resolver could not supply a class the verifier needed. It is
// not a statement about the safety of the code being verified.
type ClassNotFoundError struct {
	Name string
}

func (e *ClassNotFoundError) Error() string {
	return fmt.Sprintf("class %s not found during verification", e.Name)
}

// InternalError reports a broken invariant inside the verifier itself.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string {
	return "internal verifier error: " + e.Reason
}

func internalf(format string, args ...interface{}) error {
	return &InternalError{Reason: fmt.Sprintf(format, args...)}
}

// ResourceExhaustedError is returned when data-flow analysis does not converge within the
// configured iteration limit.
type ResourceExhaustedError struct {
	Limit int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("data-flow analysis did not converge within %d iterations", e.Limit)
}

// IsRejection reports whether err states that the verified class is unsafe or malformed.
func IsRejection(err error) bool {
	var malformed *MalformedBytecodeError
	var subroutine *InvalidSubroutineError
	var violation *ConstraintViolationError
	return errors.As(err, &malformed) || errors.As(err, &subroutine) || errors.As(err, &violation)
}

func IsClassNotFound(err error) bool {
	var notFound *ClassNotFoundError
	return errors.As(err, &notFound)
}

func IsInternal(err error) bool {
	var internal *InternalError
	return errors.As(err, &internal)
}

// mergeConflict is returned by frame merging and becomes a ConstraintViolationError at the
// instruction whose incoming frames could not be merged.
type mergeConflict struct {
	reason string
}

func (e *mergeConflict) Error() string {
	return e.reason
}
