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
	"github.com/palantir/jvm-verifier/pkg/classfile"
)

// ExceptionHandler is a resolved exception table entry. CatchType is empty for handlers that
// catch any exception.
type ExceptionHandler struct {
	Start     int
	End       int
	Handler   int
	CatchType string
}

// Type returns the type of the exception on the handler's entry stack.
func (h ExceptionHandler) Type() Type {
	if h.CatchType == "" {
		return Reference(throwableClass)
	}
	return Reference(h.CatchType)
}

func (h ExceptionHandler) String() string {
	catch := h.CatchType
	if catch == "" {
		catch = "any"
	}
	return fmt.Sprintf("[%d, %d) -> %d catching %s", h.Start, h.End, h.Handler, catch)
}

// handlerTable maps each instruction to the handlers covering it, in exception table order.
type handlerTable struct {
	handlers []ExceptionHandler
	covering map[int][]ExceptionHandler
}

func buildHandlers(code *classfile.Code, cp classfile.ConstantPool, list *bytecode.InstructionList) (*handlerTable, error) {
	t := &handlerTable{covering: make(map[int][]ExceptionHandler)}
	for i, e := range code.ExceptionTable {
		start, end, target := int(e.StartPC), int(e.EndPC), int(e.HandlerPC)
		switch {
		case start >= end:
			return nil, &MalformedBytecodeError{Offset: start, Reason: fmt.Sprintf("exception handler %d has an empty range [%d, %d)", i, start, end)}
		case !list.IsBoundary(start):
			return nil, &MalformedBytecodeError{Offset: start, Reason: fmt.Sprintf("exception handler %d starts inside an instruction", i)}
		case end != list.CodeLength && !list.IsBoundary(end):
			return nil, &MalformedBytecodeError{Offset: end, Reason: fmt.Sprintf("exception handler %d ends inside an instruction or past the code", i)}
		case !list.IsBoundary(target):
			return nil, &MalformedBytecodeError{Offset: target, Reason: fmt.Sprintf("exception handler %d targets offset %d, which is not an instruction", i, target)}
		}
		h := ExceptionHandler{Start: start, End: end, Handler: target}
		if e.CatchType != 0 {
			name, err := cp.ClassName(e.CatchType)
			if err != nil {
				return nil, &ConstraintViolationError{Pass: Pass3a, Offset: -1, Reason: fmt.Sprintf("exception handler %d catch type: %v", i, err)}
			}
			h.CatchType = name
		}
		t.handlers = append(t.handlers, h)
		for _, in := range list.Instructions {
			if in.Offset >= start && in.Offset < end {
				t.covering[in.Offset] = append(t.covering[in.Offset], h)
			}
		}
	}
	return t, nil
}

// Covering returns the handlers whose range includes the instruction at pc.
func (t *handlerTable) Covering(pc int) []ExceptionHandler {
	return t.covering[pc]
}

func (t *handlerTable) All() []ExceptionHandler {
	return t.handlers
}
