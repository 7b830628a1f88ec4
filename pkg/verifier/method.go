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
	"github.com/pkg/errors"
)

// method holds everything derived from one method while it is verified. It is never shared
// between goroutines.
type method struct {
	cf         *classfile.ClassFile
	cp         classfile.ConstantPool
	class      *ClassInfo
	member     *classfile.Member
	code       *classfile.Code
	desc       classfile.MethodDescriptor
	returnType Type
	isInit     bool

	h        *hierarchy
	opts     Options
	list     *bytecode.InstructionList
	handlers *handlerTable
	subs     *Subroutines
}

func newMethod(cf *classfile.ClassFile, class *ClassInfo, member *classfile.Member, resolver Resolver, opts Options) (*method, error) {
	desc, err := classfile.ParseMethodDescriptor(member.Descriptor)
	if err != nil {
		return nil, &ConstraintViolationError{Pass: Pass3a, Offset: -1, Reason: err.Error()}
	}
	m := &method{
		cf:     cf,
		cp:     cf.ConstantPool,
		class:  class,
		member: member,
		code:   member.Code,
		desc:   desc,
		isInit: member.Name == "<init>",
		h:      &hierarchy{resolver: resolver, self: class},
		opts:   opts,
	}
	if desc.Return != "V" {
		m.returnType = FromDescriptor(desc.Return)
	}
	return m, nil
}

func (m *method) String() string {
	return fmt.Sprintf("%s.%s%s", m.class.Name, m.member.Name, m.member.Descriptor)
}

func (m *method) maxLocals() int {
	return int(m.code.MaxLocals)
}

func (m *method) maxStack() int {
	return int(m.code.MaxStack)
}

func (m *method) violation(pass Pass, in *bytecode.Instruction, format string, args ...interface{}) error {
	return &ConstraintViolationError{Pass: pass, Offset: in.Offset, Opcode: in.Opcode, Reason: fmt.Sprintf(format, args...)}
}

// result is resultOf with the opcode filled in when a rejection names the offset of an
// instruction but not its opcode.
func (m *method) result(pass Pass, err error) (Result, error) {
	r, err := resultOf(pass, err)
	if r.Status != VerifiedRejected || r.Offset < 0 || r.Opcode != "" {
		return r, err
	}
	if m.list != nil {
		if in, ok := m.list.At(r.Offset); ok {
			r.Opcode = in.Opcode.String()
		}
	} else if r.Offset < len(m.code.Bytecode) {
		r.Opcode = bytecode.Opcode(m.code.Bytecode[r.Offset]).String()
	}
	return r, err
}

func (m *method) methodViolation(format string, args ...interface{}) error {
	return &ConstraintViolationError{Pass: Pass3a, Offset: -1, Reason: fmt.Sprintf(format, args...)}
}

// prepare decodes the code and runs the static checks of pass 3a, leaving the instruction
// list, handler table and subroutines ready for data-flow analysis.
func (m *method) prepare() error {
	n := len(m.code.Bytecode)
	if n == 0 || n > 65535 {
		return m.methodViolation("code length %d is outside [1, 65535]", n)
	}
	list, err := bytecode.Decode(m.code.Bytecode)
	if err != nil {
		var decodeErr *bytecode.DecodeError
		if errors.As(err, &decodeErr) {
			return &MalformedBytecodeError{Offset: decodeErr.Offset, Reason: decodeErr.Reason}
		}
		return err
	}
	m.list = list

	argSlots := m.desc.ArgumentSlots()
	if !m.member.IsStatic() {
		argSlots++
	}
	if argSlots > m.maxLocals() {
		return m.methodViolation("arguments need %d local variables but max_locals is %d", argSlots, m.maxLocals())
	}

	if m.handlers, err = buildHandlers(m.code, m.cp, list); err != nil {
		return err
	}
	for _, h := range m.handlers.All() {
		if h.CatchType == "" {
			continue
		}
		ok, err := m.h.isAssignable(Reference(h.CatchType), Reference(throwableClass))
		if err != nil {
			return err
		}
		if !ok {
			return m.methodViolation("catch type %s of handler %s is not a subclass of %s", h.CatchType, h, throwableClass)
		}
	}

	for i := range list.Instructions {
		if err := m.checkStatic(&list.Instructions[i]); err != nil {
			return err
		}
	}
	last := &list.Instructions[len(list.Instructions)-1]
	if last.FallsThrough() || last.IsJsr() {
		return m.violation(Pass3a, last, "execution can fall off the end of the code")
	}

	m.subs, err = analyzeSubroutines(list, m.handlers, m.maxLocals())
	return err
}
