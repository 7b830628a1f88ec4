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
	"strings"

	"github.com/palantir/jvm-verifier/pkg/bytecode"
	"github.com/palantir/jvm-verifier/pkg/classfile"
)

// checkStatic enforces the constraints on a single instruction that do not depend on data flow:
// operand ranges, constant pool entry kinds and branch targets.
func (m *method) checkStatic(in *bytecode.Instruction) error {
	for _, target := range in.BranchTargets() {
		if !m.list.IsBoundary(target) {
			return m.violation(Pass3a, in, "branch target %d is not the start of an instruction", target)
		}
	}
	if n := in.LocalSlots(); n > 0 && in.Index+n > m.maxLocals() {
		return m.violation(Pass3a, in, "local variable %d is not below max_locals %d", in.Index+n-1, m.maxLocals())
	}

	switch in.Opcode {
	case bytecode.Ldc, bytecode.LdcW:
		return m.checkLdc(in, false)
	case bytecode.Ldc2W:
		return m.checkLdc(in, true)

	case bytecode.Getstatic, bytecode.Putstatic, bytecode.Getfield, bytecode.Putfield:
		ref, err := m.memberRef(in, classfile.TagFieldref)
		if err != nil {
			return err
		}
		if !classfile.ValidFieldDescriptor(ref.Descriptor) {
			return m.violation(Pass3a, in, "invalid field descriptor %q", ref.Descriptor)
		}

	case bytecode.Invokevirtual, bytecode.Invokespecial, bytecode.Invokestatic, bytecode.Invokeinterface:
		return m.checkInvoke(in)

	case bytecode.Invokedynamic:
		if m.cp.Tag(uint16(in.Index)) != classfile.TagInvokeDynamic {
			return m.violation(Pass3a, in, "operand must reference an InvokeDynamic constant, not %s", m.cp.Tag(uint16(in.Index)))
		}
		if in.Pad != 0 {
			return m.violation(Pass3a, in, "the two bytes after the index must be zero")
		}
		name, desc, err := m.cp.DynamicRef(uint16(in.Index))
		if err != nil {
			return m.violation(Pass3a, in, "%v", err)
		}
		if strings.HasPrefix(name, "<") {
			return m.violation(Pass3a, in, "cannot invoke %s dynamically", name)
		}
		if _, err := classfile.ParseMethodDescriptor(desc); err != nil {
			return m.violation(Pass3a, in, "%v", err)
		}

	case bytecode.New:
		name, err := m.className(in)
		if err != nil {
			return err
		}
		if strings.HasPrefix(name, "[") {
			return m.violation(Pass3a, in, "cannot create array type %s with new", name)
		}

	case bytecode.Anewarray:
		name, err := m.className(in)
		if err != nil {
			return err
		}
		if classfile.ArrayDimensions(name) >= 255 {
			return m.violation(Pass3a, in, "array type of %s would have more than 255 dimensions", name)
		}

	case bytecode.Checkcast, bytecode.Instanceof:
		_, err := m.className(in)
		return err

	case bytecode.Multianewarray:
		name, err := m.className(in)
		if err != nil {
			return err
		}
		if in.Const < 1 {
			return m.violation(Pass3a, in, "dimensions must be at least 1")
		}
		if dims := classfile.ArrayDimensions(name); int(in.Const) > dims {
			return m.violation(Pass3a, in, "creates %d dimensions of %s, which has only %d", in.Const, name, dims)
		}

	case bytecode.Newarray:
		if _, ok := bytecode.ArrayTypeDescriptor(in.Index); !ok {
			return m.violation(Pass3a, in, "invalid array type code %d", in.Index)
		}
	}
	return nil
}

// checkLdc rejects ldc operands that are not loadable constants of the right category.
func (m *method) checkLdc(in *bytecode.Instruction, wide bool) error {
	tag := m.cp.Tag(uint16(in.Index))
	if tag == classfile.TagInvalid {
		return m.violation(Pass3a, in, "Operand of LDC constraint violated: constant pool index %d is not a valid entry", in.Index)
	}
	if wide {
		switch tag {
		case classfile.TagLong, classfile.TagDouble:
			return nil
		case classfile.TagDynamic:
			if m.dynamicType(in).IsCategory2() {
				return nil
			}
		}
		return m.violation(Pass3a, in, "Operand of LDC2_W constraint violated: must be a Long, Double or category 2 Dynamic constant, but is %s", tag)
	}
	switch tag {
	case classfile.TagInteger, classfile.TagFloat, classfile.TagString, classfile.TagClass, classfile.TagMethodType, classfile.TagMethodHandle:
		return nil
	case classfile.TagDynamic:
		if !m.dynamicType(in).IsCategory2() {
			return nil
		}
	}
	return m.violation(Pass3a, in, "Operand of LDC or LDC_W constraint violated: must be an Integer, Float, String, Class, MethodType, MethodHandle or Dynamic constant, but is %s", tag)
}

func (m *method) dynamicType(in *bytecode.Instruction) Type {
	_, desc, err := m.cp.DynamicRef(uint16(in.Index))
	if err != nil {
		return Top
	}
	return FromDescriptor(desc)
}

func (m *method) className(in *bytecode.Instruction) (string, error) {
	name, err := m.cp.ClassName(uint16(in.Index))
	if err != nil {
		return "", m.violation(Pass3a, in, "operand must reference a Class constant: %v", err)
	}
	return name, nil
}

func (m *method) memberRef(in *bytecode.Instruction, tags ...classfile.ConstantTag) (classfile.MemberRef, error) {
	tag := m.cp.Tag(uint16(in.Index))
	for _, t := range tags {
		if tag == t {
			ref, err := m.cp.MemberRef(uint16(in.Index))
			if err != nil {
				return classfile.MemberRef{}, m.violation(Pass3a, in, "%v", err)
			}
			return ref, nil
		}
	}
	return classfile.MemberRef{}, m.violation(Pass3a, in, "operand must reference %v, not %s", tags, tag)
}

func (m *method) checkInvoke(in *bytecode.Instruction) error {
	var ref classfile.MemberRef
	var err error
	switch in.Opcode {
	case bytecode.Invokevirtual:
		ref, err = m.memberRef(in, classfile.TagMethodref)
	case bytecode.Invokeinterface:
		ref, err = m.memberRef(in, classfile.TagInterfaceMethodref)
	default:
		ref, err = m.memberRef(in, classfile.TagMethodref, classfile.TagInterfaceMethodref)
	}
	if err != nil {
		return err
	}
	desc, err := classfile.ParseMethodDescriptor(ref.Descriptor)
	if err != nil {
		return m.violation(Pass3a, in, "%v", err)
	}
	switch {
	case ref.Name == "<init>":
		if in.Opcode != bytecode.Invokespecial {
			return m.violation(Pass3a, in, "only invokespecial may invoke <init>")
		}
		if desc.Return != "V" {
			return m.violation(Pass3a, in, "<init> must return void")
		}
	case ref.Name == "<clinit>":
		return m.violation(Pass3a, in, "<clinit> cannot be invoked")
	case strings.HasPrefix(ref.Name, "<"):
		return m.violation(Pass3a, in, "invalid method name %s", ref.Name)
	}
	if in.Opcode == bytecode.Invokeinterface {
		if want := desc.ArgumentSlots() + 1; int(in.Const) != want {
			return m.violation(Pass3a, in, "count operand is %d but the arguments need %d", in.Const, want)
		}
		if in.Pad != 0 {
			return m.violation(Pass3a, in, "fourth operand byte must be zero")
		}
	}
	return nil
}
