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

// checker verifies that the frame before one instruction satisfies every precondition of its
// opcode. The first violated precondition is reported.
type checker struct {
	m    *method
	in   *bytecode.Instruction
	f    *Frame
	vals []Type
}

func (m *method) check(in *bytecode.Instruction, f *Frame, sub *Subroutine) error {
	c := &checker{m: m, in: in, f: f, vals: f.values()}
	return c.check(sub)
}

func (c *checker) fail(format string, args ...interface{}) error {
	return c.m.violation(Pass3b, c.in, format, args...)
}

// operand returns the value depth entries below the top of the stack, counting longs and
// doubles as one value.
func (c *checker) operand(depth int) (Type, error) {
	if depth >= len(c.vals) {
		return Top, c.fail("operand stack underflow: needs %d values but has %d", depth+1, len(c.vals))
	}
	return c.vals[len(c.vals)-1-depth], nil
}

func (c *checker) expect(depth int, want Type) error {
	t, err := c.operand(depth)
	if err != nil {
		return err
	}
	if t != want {
		return c.fail("expected %s on the operand stack, found %s", want, t)
	}
	return nil
}

// expectAll checks the top values against types listed bottom to top.
func (c *checker) expectAll(types []Type) error {
	if len(types) > 0 {
		if _, err := c.operand(len(types) - 1); err != nil {
			return err
		}
	}
	for i, want := range types {
		if err := c.expect(len(types)-1-i, want); err != nil {
			return err
		}
	}
	return nil
}

// reference returns an initialized reference or null operand.
func (c *checker) reference(depth int) (Type, error) {
	t, err := c.operand(depth)
	if err != nil {
		return Top, err
	}
	if !t.IsReference() {
		return Top, c.fail("expected an initialized object reference, found %s", t)
	}
	return t, nil
}

// assignable checks that the operand at depth can be used where want is expected.
func (c *checker) assignable(depth int, want Type, what string) error {
	t, err := c.operand(depth)
	if err != nil {
		return err
	}
	if want.Kind != KindReference {
		if t != want {
			return c.fail("%s must be %s, found %s", what, want, t)
		}
		return nil
	}
	if !t.IsReference() {
		return c.fail("%s must be a reference assignable to %s, found %s", what, want, t)
	}
	ok, err := c.m.h.isAssignable(t, want)
	if err != nil {
		return err
	}
	if !ok {
		return c.fail("%s of type %s is not assignable to %s", what, t, want)
	}
	return nil
}

// slots checks raw stack entries for the untyped stack manipulation opcodes. boundaries are
// slot counts from the top at which a long or double must not be split.
func (c *checker) slots(n int, boundaries ...int) error {
	if len(c.f.Stack) < n {
		return c.fail("operand stack underflow: needs %d slots but has %d", n, len(c.f.Stack))
	}
	for _, b := range boundaries {
		if c.f.Stack[len(c.f.Stack)-b] == Top {
			return c.fail("would split a long or double value %d slots below the top of the stack", b)
		}
	}
	return nil
}

func isLoad(op bytecode.Opcode) bool {
	return op >= bytecode.Iload && op <= bytecode.Aload3
}

func isStore(op bytecode.Opcode) bool {
	return op >= bytecode.Istore && op <= bytecode.Astore3
}

func isReferenceLocal(op bytecode.Opcode) bool {
	switch op {
	case bytecode.Aload, bytecode.Aload0, bytecode.Aload1, bytecode.Aload2, bytecode.Aload3,
		bytecode.Astore, bytecode.Astore0, bytecode.Astore1, bytecode.Astore2, bytecode.Astore3:
		return true
	}
	return false
}

func (c *checker) check(sub *Subroutine) error {
	in := c.in
	if e, ok := simpleEffects[in.Opcode]; ok {
		return c.expectAll(e.pops)
	}
	switch {
	case isLoad(in.Opcode):
		return c.checkLoad()
	case isStore(in.Opcode):
		return c.checkStore()
	}
	if e, ok := arrayLoads[in.Opcode]; ok {
		return c.checkArray(1, e.arrays)
	}
	if e, ok := arrayStores[in.Opcode]; ok {
		if err := c.expect(0, e.value); err != nil {
			return err
		}
		return c.checkArray(2, e.arrays)
	}
	if shape, ok := dupShape[in.Opcode]; ok {
		n, d := shape[0], shape[1]
		if d == 0 {
			return c.slots(n, n)
		}
		return c.slots(n+d, n, n+d)
	}

	switch in.Opcode {
	case bytecode.Ldc, bytecode.LdcW, bytecode.Ldc2W:
		return nil
	case bytecode.Aaload:
		return c.checkArray(1, nil)
	case bytecode.Aastore:
		if _, err := c.reference(0); err != nil {
			return err
		}
		return c.checkArray(2, nil)
	case bytecode.Pop:
		return c.slots(1, 1)
	case bytecode.Pop2:
		return c.slots(2, 2)
	case bytecode.Swap:
		return c.slots(2, 1, 2)
	case bytecode.Iinc:
		if t := c.f.Locals[in.Index]; t != Int {
			return c.fail("local %d holds %s, expected int", in.Index, t)
		}
		return nil
	case bytecode.IfAcmpeq, bytecode.IfAcmpne:
		if err := c.objectOperand(0); err != nil {
			return err
		}
		return c.objectOperand(1)
	case bytecode.Ifnull, bytecode.Ifnonnull:
		return c.objectOperand(0)
	case bytecode.Jsr, bytecode.JsrW:
		return nil
	case bytecode.Ret:
		return c.checkRet(sub)
	case bytecode.Ireturn, bytecode.Lreturn, bytecode.Freturn, bytecode.Dreturn:
		want := returnType(in.Opcode)
		if c.m.returnType != want {
			return c.fail("%s in a method returning %s", in.Opcode, c.describeReturn())
		}
		return c.expect(0, want)
	case bytecode.Areturn:
		if c.m.returnType.Kind != KindReference {
			return c.fail("areturn in a method returning %s", c.describeReturn())
		}
		return c.assignable(0, c.m.returnType, "returned value")
	case bytecode.Return:
		if c.m.returnType != Top {
			return c.fail("return in a method returning %s", c.describeReturn())
		}
		if c.m.isInit && c.f.ThisUninit {
			return c.fail("constructor returns before this is initialized")
		}
		return nil
	case bytecode.Getstatic, bytecode.Putstatic, bytecode.Getfield, bytecode.Putfield:
		return c.checkField()
	case bytecode.Invokevirtual, bytecode.Invokespecial, bytecode.Invokestatic, bytecode.Invokeinterface:
		return c.checkInvoke()
	case bytecode.Invokedynamic:
		_, desc, err := c.m.cp.DynamicRef(uint16(in.Index))
		if err != nil {
			return c.fail("%v", err)
		}
		md, err := classfile.ParseMethodDescriptor(desc)
		if err != nil {
			return c.fail("%v", err)
		}
		return c.checkArguments(md)
	case bytecode.New:
		name, err := c.m.cp.ClassName(uint16(in.Index))
		if err != nil {
			return c.fail("%v", err)
		}
		if c.f.contains(Uninitialized(in.Offset, name)) {
			return c.fail("the object created by a previous execution of this new is still uninitialized")
		}
		return nil
	case bytecode.Newarray, bytecode.Anewarray:
		return c.expect(0, Int)
	case bytecode.Multianewarray:
		for i := 0; i < int(in.Const); i++ {
			if err := c.expect(i, Int); err != nil {
				return err
			}
		}
		return nil
	case bytecode.Arraylength:
		t, err := c.reference(0)
		if err != nil {
			return err
		}
		if t.Kind != KindNull && !t.IsArray() {
			return c.fail("arraylength on %s, which is not an array", t)
		}
		return nil
	case bytecode.Athrow:
		return c.assignable(0, Reference(throwableClass), "thrown value")
	case bytecode.Checkcast, bytecode.Instanceof, bytecode.Monitorenter, bytecode.Monitorexit:
		_, err := c.reference(0)
		return err
	}
	return internalf("no constraints defined for opcode %s at offset %d", in.Opcode, in.Offset)
}

func (c *checker) describeReturn() string {
	if c.m.returnType == Top {
		return "void"
	}
	return c.m.returnType.String()
}

// objectOperand accepts any reference, including uninitialized ones, as if_acmp and ifnull do.
func (c *checker) objectOperand(depth int) error {
	t, err := c.operand(depth)
	if err != nil {
		return err
	}
	if !t.IsReference() && !t.IsUninitialized() {
		return c.fail("expected an object reference, found %s", t)
	}
	return nil
}

func (c *checker) checkLoad() error {
	idx := c.in.Index
	t := c.f.Locals[idx]
	if isReferenceLocal(c.in.Opcode) {
		if !t.IsReference() && !t.IsUninitialized() {
			return c.fail("local %d holds %s, expected an object reference", idx, t)
		}
		return nil
	}
	want := loadType(c.in.Opcode)
	if t != want {
		return c.fail("local %d holds %s, expected %s", idx, t, want)
	}
	if want.IsCategory2() && c.f.Locals[idx+1] != Top {
		return c.fail("local %d does not hold the second half of a %s", idx+1, want)
	}
	return nil
}

func (c *checker) checkStore() error {
	t, err := c.operand(0)
	if err != nil {
		return err
	}
	if isReferenceLocal(c.in.Opcode) {
		if !t.IsReference() && !t.IsUninitialized() && t.Kind != KindReturnAddress {
			return c.fail("astore of %s, expected an object reference or return address", t)
		}
		return nil
	}
	if want := loadType(c.in.Opcode); t != want {
		return c.fail("expected %s on the operand stack, found %s", want, t)
	}
	return nil
}

// checkArray validates the index and array operands below indexDepth values of an array load
// or store. A nil accepted list means an array of references.
func (c *checker) checkArray(indexDepth int, accepted []string) error {
	if err := c.expect(indexDepth-1, Int); err != nil {
		return err
	}
	arr, err := c.reference(indexDepth)
	if err != nil {
		return err
	}
	if arr.Kind == KindNull {
		return nil
	}
	if !arr.IsArray() {
		return c.fail("%s on %s, which is not an array", c.in.Opcode, arr)
	}
	if accepted == nil {
		if !isReferenceDescriptor(arr.ComponentDescriptor()) {
			return c.fail("%s on %s, which is not an array of references", c.in.Opcode, arr)
		}
		return nil
	}
	for _, a := range accepted {
		if arr.Name == a {
			return nil
		}
	}
	return c.fail("%s on %s, expected %v", c.in.Opcode, arr, accepted)
}

func (c *checker) checkRet(sub *Subroutine) error {
	idx := c.in.Index
	t := c.f.Locals[idx]
	if t.Kind != KindReturnAddress {
		return c.fail("local %d holds %s, not a return address", idx, t)
	}
	if sub == nil || sub.IsTopLevel() {
		return c.fail("ret outside of a subroutine")
	}
	if t.PC != sub.Entry {
		return c.fail("return address of the subroutine at %d used to leave %s", t.PC, sub)
	}
	return nil
}

func (c *checker) checkField() error {
	ref, err := c.m.cp.MemberRef(uint16(c.in.Index))
	if err != nil {
		return c.fail("%v", err)
	}
	ft := FromDescriptor(ref.Descriptor)
	switch c.in.Opcode {
	case bytecode.Putstatic:
		return c.assignable(0, ft, "value of "+ref.Name)
	case bytecode.Getfield:
		return c.fieldReceiver(0, ref)
	case bytecode.Putfield:
		if err := c.assignable(0, ft, "value of "+ref.Name); err != nil {
			return err
		}
		return c.fieldReceiver(1, ref)
	}
	return nil
}

func (c *checker) fieldReceiver(depth int, ref classfile.MemberRef) error {
	t, err := c.operand(depth)
	if err != nil {
		return err
	}
	if c.in.Opcode == bytecode.Putfield && t.Kind == KindUninitializedThis && ref.Class == c.m.class.Name {
		if _, ok := c.m.class.Field(ref.Name, ref.Descriptor); ok {
			return nil
		}
	}
	if err := c.assignable(depth, Reference(ref.Class), "object of "+ref.Name); err != nil {
		return err
	}
	return c.checkProtected(ref, false, t)
}

// checkProtected enforces that a protected member declared in a superclass from another
// package is only accessed through references to the current class or its subclasses.
// Members the resolver does not describe are not checked.
func (c *checker) checkProtected(ref classfile.MemberRef, isMethod bool, receiver Type) error {
	if receiver.Kind == KindNull || ref.Class == c.m.class.Name || classfile.PackageName(ref.Class) == c.m.class.Package() {
		return nil
	}
	isSuper, err := c.m.h.isSubclass(c.m.class.Name, ref.Class)
	if err != nil || !isSuper {
		return err
	}
	info, err := c.m.h.resolve(ref.Class)
	if err != nil {
		return err
	}
	member, ok := info.Field(ref.Name, ref.Descriptor)
	if isMethod {
		member, ok = info.Method(ref.Name, ref.Descriptor)
	}
	if !ok || member.AccessFlags&classfile.AccProtected == 0 {
		return nil
	}
	allowed, err := c.m.h.isAssignable(receiver, Reference(c.m.class.Name))
	if err != nil {
		return err
	}
	if !allowed {
		return c.fail("protected member %s.%s accessed through %s, which is not %s or a subclass", ref.Class, ref.Name, receiver, c.m.class.Name)
	}
	return nil
}

func (c *checker) checkArguments(md classfile.MethodDescriptor) error {
	n := len(md.Params)
	if n > 0 {
		if _, err := c.operand(n - 1); err != nil {
			return err
		}
	}
	for i, p := range md.Params {
		if err := c.assignable(n-1-i, FromDescriptor(p), argumentName(i)); err != nil {
			return err
		}
	}
	return nil
}

func argumentName(i int) string {
	return fmt.Sprintf("argument %d", i+1)
}

func (c *checker) checkInvoke() error {
	ref, err := c.m.cp.MemberRef(uint16(c.in.Index))
	if err != nil {
		return c.fail("%v", err)
	}
	md, err := classfile.ParseMethodDescriptor(ref.Descriptor)
	if err != nil {
		return c.fail("%v", err)
	}
	if err := c.checkArguments(md); err != nil {
		return err
	}
	if c.in.Opcode == bytecode.Invokestatic {
		return nil
	}
	recv, err := c.operand(len(md.Params))
	if err != nil {
		return err
	}
	if c.in.Opcode == bytecode.Invokespecial && ref.Name == "<init>" {
		switch recv.Kind {
		case KindUninitialized:
			if recv.Name != ref.Class {
				return c.fail("%s.<init> invoked on an uninitialized %s", ref.Class, recv.Name)
			}
		case KindUninitializedThis:
			if ref.Class != c.m.class.Name && ref.Class != c.m.class.SuperName {
				return c.fail("%s.<init> invoked on uninitialized this, expected %s or %s", ref.Class, c.m.class.Name, c.m.class.SuperName)
			}
		default:
			return c.fail("%s.<init> invoked on %s, which is not an uninitialized object", ref.Class, recv)
		}
		return nil
	}
	if recv.IsUninitialized() {
		return c.fail("%s.%s invoked on %s before its constructor has been called", ref.Class, ref.Name, recv)
	}
	target := Reference(ref.Class)
	if c.in.Opcode == bytecode.Invokespecial {
		target = Reference(c.m.class.Name)
	}
	if err := c.assignable(len(md.Params), target, "receiver of "+ref.Name); err != nil {
		return err
	}
	if c.in.Opcode == bytecode.Invokevirtual {
		return c.checkProtected(ref, true, recv)
	}
	return nil
}
