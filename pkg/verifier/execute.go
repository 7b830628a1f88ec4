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
	"github.com/palantir/jvm-verifier/pkg/bytecode"
	"github.com/palantir/jvm-verifier/pkg/classfile"
)

// execute applies the effect of an instruction whose constraints have been checked to f,
// turning the frame before it into the frame after it.
func (m *method) execute(in *bytecode.Instruction, f *Frame) error {
	if e, ok := simpleEffects[in.Opcode]; ok {
		f.popN(len(e.pops))
		if e.push != nil {
			f.push(*e.push)
		}
		return nil
	}
	switch {
	case isLoad(in.Opcode):
		if isReferenceLocal(in.Opcode) {
			f.push(f.Locals[in.Index])
		} else {
			f.push(loadType(in.Opcode))
		}
		return nil
	case isStore(in.Opcode):
		f.setLocal(in.Index, f.pop())
		return nil
	}
	if e, ok := arrayLoads[in.Opcode]; ok {
		f.popN(2)
		f.push(e.value)
		return nil
	}
	if _, ok := arrayStores[in.Opcode]; ok {
		f.popN(3)
		return nil
	}
	if shape, ok := dupShape[in.Opcode]; ok {
		n, d := shape[0], shape[1]
		top := append([]Type(nil), f.Stack[len(f.Stack)-n:]...)
		at := len(f.Stack) - n - d
		stack := append(append(append(make([]Type, 0, len(f.Stack)+n), f.Stack[:at]...), top...), f.Stack[at:]...)
		f.Stack = stack
		return nil
	}

	switch in.Opcode {
	case bytecode.Ldc, bytecode.LdcW, bytecode.Ldc2W:
		t, err := m.constantType(in)
		if err != nil {
			return err
		}
		f.push(t)
	case bytecode.Aaload:
		f.pop()
		arr := f.pop()
		if component, ok := arr.Component(); ok {
			f.push(component)
		} else {
			f.push(Null)
		}
	case bytecode.Aastore:
		f.popN(3)
	case bytecode.Pop:
		f.Stack = f.Stack[:len(f.Stack)-1]
	case bytecode.Pop2:
		f.Stack = f.Stack[:len(f.Stack)-2]
	case bytecode.Swap:
		n := len(f.Stack)
		f.Stack[n-1], f.Stack[n-2] = f.Stack[n-2], f.Stack[n-1]
	case bytecode.Iinc, bytecode.Ret:
	case bytecode.IfAcmpeq, bytecode.IfAcmpne:
		f.popN(2)
	case bytecode.Ifnull, bytecode.Ifnonnull, bytecode.Ireturn, bytecode.Lreturn, bytecode.Freturn,
		bytecode.Dreturn, bytecode.Areturn, bytecode.Athrow, bytecode.Monitorenter, bytecode.Monitorexit:
		f.pop()
	case bytecode.Return:
	case bytecode.Jsr, bytecode.JsrW:
		f.push(ReturnAddress(in.Target))
	case bytecode.Getstatic, bytecode.Putstatic, bytecode.Getfield, bytecode.Putfield:
		ref, err := m.cp.MemberRef(uint16(in.Index))
		if err != nil {
			return internalf("field reference at %d: %v", in.Offset, err)
		}
		ft := FromDescriptor(ref.Descriptor)
		switch in.Opcode {
		case bytecode.Getstatic:
			f.push(ft)
		case bytecode.Putstatic:
			f.pop()
		case bytecode.Getfield:
			f.pop()
			f.push(ft)
		case bytecode.Putfield:
			f.popN(2)
		}
	case bytecode.Invokevirtual, bytecode.Invokespecial, bytecode.Invokestatic, bytecode.Invokeinterface:
		ref, err := m.cp.MemberRef(uint16(in.Index))
		if err != nil {
			return internalf("method reference at %d: %v", in.Offset, err)
		}
		md, err := classfile.ParseMethodDescriptor(ref.Descriptor)
		if err != nil {
			return internalf("method reference at %d: %v", in.Offset, err)
		}
		f.popN(len(md.Params))
		if in.Opcode != bytecode.Invokestatic {
			recv := f.pop()
			if in.Opcode == bytecode.Invokespecial && ref.Name == "<init>" {
				m.initialize(f, recv)
			}
		}
		if md.Return != "V" {
			f.push(FromDescriptor(md.Return))
		}
	case bytecode.Invokedynamic:
		_, desc, err := m.cp.DynamicRef(uint16(in.Index))
		if err != nil {
			return internalf("invokedynamic at %d: %v", in.Offset, err)
		}
		md, err := classfile.ParseMethodDescriptor(desc)
		if err != nil {
			return internalf("invokedynamic at %d: %v", in.Offset, err)
		}
		f.popN(len(md.Params))
		if md.Return != "V" {
			f.push(FromDescriptor(md.Return))
		}
	case bytecode.New:
		name, err := m.cp.ClassName(uint16(in.Index))
		if err != nil {
			return internalf("new at %d: %v", in.Offset, err)
		}
		f.push(Uninitialized(in.Offset, name))
	case bytecode.Newarray:
		f.pop()
		desc, _ := bytecode.ArrayTypeDescriptor(in.Index)
		f.push(Reference(desc))
	case bytecode.Anewarray, bytecode.Checkcast, bytecode.Multianewarray:
		name, err := m.cp.ClassName(uint16(in.Index))
		if err != nil {
			return internalf("%s at %d: %v", in.Opcode, in.Offset, err)
		}
		switch in.Opcode {
		case bytecode.Anewarray:
			f.pop()
			f.push(Reference("[" + descriptorOf(name)))
		case bytecode.Checkcast:
			f.pop()
			f.push(Reference(name))
		case bytecode.Multianewarray:
			f.popN(int(in.Const))
			f.push(Reference(name))
		}
	case bytecode.Arraylength, bytecode.Instanceof:
		f.pop()
		f.push(Int)
	default:
		return internalf("no effect defined for opcode %s at offset %d", in.Opcode, in.Offset)
	}
	return nil
}

// initialize replaces every copy of an uninitialized receiver once its constructor has run.
func (m *method) initialize(f *Frame, recv Type) {
	switch recv.Kind {
	case KindUninitialized:
		f.replace(recv, Reference(recv.Name))
	case KindUninitializedThis:
		f.replace(recv, Reference(m.class.Name))
		f.ThisUninit = false
	}
}

// constantType is the type pushed by an ldc of the referenced constant.
func (m *method) constantType(in *bytecode.Instruction) (Type, error) {
	c, err := m.cp.Get(uint16(in.Index))
	if err != nil {
		return Top, internalf("ldc at %d: %v", in.Offset, err)
	}
	switch c.Tag {
	case classfile.TagInteger:
		return Int, nil
	case classfile.TagFloat:
		return Float, nil
	case classfile.TagLong:
		return Long, nil
	case classfile.TagDouble:
		return Double, nil
	case classfile.TagString:
		return Reference(stringClass), nil
	case classfile.TagClass:
		return Reference(classClass), nil
	case classfile.TagMethodType:
		return Reference(methodTypeClass), nil
	case classfile.TagMethodHandle:
		return Reference(methodHandleClass), nil
	case classfile.TagDynamic:
		return m.dynamicType(in), nil
	}
	return Top, internalf("ldc at %d of %s constant", in.Offset, c.Tag)
}
