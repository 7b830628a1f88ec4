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
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/palantir/jvm-verifier/pkg/bytecode"
	"github.com/palantir/jvm-verifier/pkg/classfile"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newObject emits new, dup and a call to the no-argument constructor of class.
func (tm *testMethod) newObject(class string) *bytecode.Assembler {
	return tm.a.Index(bytecode.New, tm.b.Class(class)).
		Op(bytecode.Dup).
		Index(bytecode.Invokespecial, tm.b.Methodref(class, "<init>", "()V"))
}

func TestIntLoadedAsReference(t *testing.T) {
	tm := newTestMethod("()V", 1, 1)
	tm.a.Op(bytecode.Iconst0).Local(bytecode.Istore, 0).Local(bytecode.Aload, 0).Ops(bytecode.Pop, bytecode.Return)

	r, err := tm.verify(t, Options{})
	requireRejected(t, r, err, Pass3b, 2, "aload_0")
	assert.Equal(t, "local 0 holds int, expected an object reference", r.Message)
}

func TestUninitializedObjects(t *testing.T) {
	for _, tc := range []struct {
		name     string
		emit     func(tm *testMethod)
		rejectAt int
		opcode   string
	}{
		{
			name: "method invoked before the constructor",
			emit: func(tm *testMethod) {
				tm.a.Index(bytecode.New, tm.b.Class("Foo")).Op(bytecode.Dup).
					Index(bytecode.Invokevirtual, tm.b.Methodref("Foo", "run", "()V")).
					Ops(bytecode.Pop, bytecode.Return)
			},
			rejectAt: 4,
			opcode:   "invokevirtual",
		},
		{
			name: "uninitialized object passed as an argument",
			emit: func(tm *testMethod) {
				tm.a.Index(bytecode.New, tm.b.Class("Foo")).Op(bytecode.Dup).
					Index(bytecode.Invokestatic, tm.b.Methodref(testClass, "take", "(LFoo;)V")).
					Ops(bytecode.Pop, bytecode.Return)
			},
			rejectAt: 4,
			opcode:   "invokestatic",
		},
		{
			name: "constructor of another class",
			emit: func(tm *testMethod) {
				tm.a.Index(bytecode.New, tm.b.Class("Foo")).Op(bytecode.Dup).
					Index(bytecode.Invokespecial, tm.b.Methodref("C", "<init>", "()V")).
					Ops(bytecode.Pop, bytecode.Return)
			},
			rejectAt: 4,
			opcode:   "invokespecial",
		},
		{
			name: "initialized then used",
			emit: func(tm *testMethod) {
				tm.newObject("Foo").
					Index(bytecode.Invokevirtual, tm.b.Methodref("Foo", "run", "()V")).
					Op(bytecode.Return)
			},
			rejectAt: -1,
		},
		{
			name: "every copy initialized",
			emit: func(tm *testMethod) {
				tm.a.Index(bytecode.New, tm.b.Class("Foo")).Op(bytecode.Dup).Local(bytecode.Astore, 0).
					Index(bytecode.Invokespecial, tm.b.Methodref("Foo", "<init>", "()V")).
					Local(bytecode.Aload, 0).
					Index(bytecode.Invokevirtual, tm.b.Methodref("Foo", "run", "()V")).
					Op(bytecode.Return)
			},
			rejectAt: -1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tm := newTestMethod("()V", 2, 1)
			tc.emit(tm)
			r, err := tm.verify(t, Options{})
			if tc.rejectAt < 0 {
				require.NoError(t, err)
				assert.Equal(t, VerifiedOK, r.Status, r.String())
				return
			}
			requireRejected(t, r, err, Pass3b, tc.rejectAt, tc.opcode)
		})
	}
}

func TestLongOccupiesTwoLocals(t *testing.T) {
	tm := newTestMethod("()V", 2, 5)
	tm.a.Op(bytecode.Lconst0).Local(bytecode.Lstore, 3).Local(bytecode.Iload, 4).Ops(bytecode.Pop, bytecode.Return)

	r, err := tm.verify(t, Options{})
	requireRejected(t, r, err, Pass3b, 2, "iload")
	assert.Equal(t, "local 4 holds top, expected int", r.Message)

	t.Run("overwriting the second half invalidates the long", func(t *testing.T) {
		tm := newTestMethod("()V", 2, 5)
		tm.a.Op(bytecode.Lconst0).Local(bytecode.Lstore, 2).
			Op(bytecode.Iconst0).Local(bytecode.Istore, 3).
			Local(bytecode.Lload, 2).Ops(bytecode.Pop2, bytecode.Return)
		r, err := tm.verify(t, Options{})
		requireRejected(t, r, err, Pass3b, 4, "lload_2")
	})
}

func TestMergeYieldsCommonSuperclass(t *testing.T) {
	tm := newTestMethod("(I)V", 2, 2)
	a := tm.a
	other, join := a.NewLabel(), a.NewLabel()
	a.Local(bytecode.Iload, 0).Jump(bytecode.Ifeq, other)
	tm.newObject("A").Local(bytecode.Astore, 1).Jump(bytecode.Goto, join)
	a.Mark(other)
	tm.newObject("B").Local(bytecode.Astore, 1)
	joinPC := a.Offset()
	a.Mark(join).Local(bytecode.Aload, 1).
		Index(bytecode.Invokestatic, tm.b.Methodref(testClass, "take", "(LC;)V")).
		Op(bytecode.Return)

	d := tm.analyze(t)
	f, ok := d.frameAt(joinPC)
	require.True(t, ok)
	assert.Equal(t, Reference("C"), f.Locals[1])
	assert.Equal(t, Int, f.Locals[0])
	assert.Empty(t, f.Stack)
}

func TestMergedValueMustSatisfyUse(t *testing.T) {
	tm := newTestMethod("(I)V", 2, 2)
	a := tm.a
	other, join := a.NewLabel(), a.NewLabel()
	a.Local(bytecode.Iload, 0).Jump(bytecode.Ifeq, other)
	tm.newObject("A").Local(bytecode.Astore, 1).Jump(bytecode.Goto, join)
	a.Mark(other)
	tm.newObject("B").Local(bytecode.Astore, 1)
	a.Mark(join).Local(bytecode.Aload, 1)
	callPC := a.Offset()
	a.Index(bytecode.Invokestatic, tm.b.Methodref(testClass, "take", "(LA;)V")).Op(bytecode.Return)

	r, err := tm.verify(t, Options{})
	requireRejected(t, r, err, Pass3b, callPC, "invokestatic")
	assert.Equal(t, "argument 1 of type C is not assignable to A", r.Message)
}

func TestHandlerEntryStack(t *testing.T) {
	tm := newTestMethod("()V", 3, 0)
	a := tm.a
	start, end, handler := a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.Mark(start).Int(1).Int(1).Int(0).Ops(bytecode.Idiv, bytecode.Iadd, bytecode.Pop)
	a.Mark(end).Op(bytecode.Return)
	handlerPC := a.Offset()
	a.Mark(handler).Ops(bytecode.Pop, bytecode.Return)
	a.Handler(start, end, handler, tm.b.Class("java/lang/ArithmeticException"))

	d := tm.analyze(t)
	f, ok := d.frameAt(handlerPC)
	require.True(t, ok)
	assert.Equal(t, []Type{Reference("java/lang/ArithmeticException")}, f.Stack)
}

func TestHandlerSeesLocalsBeforeTheThrowingInstruction(t *testing.T) {
	tm := newTestMethod("()V", 1, 1)
	a := tm.a
	start, end, handler := a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.Int(0).Local(bytecode.Istore, 0)
	a.Mark(start).Op(bytecode.Fconst0).Local(bytecode.Fstore, 0)
	a.Mark(end).Op(bytecode.Return)
	handlerPC := a.Offset()
	a.Mark(handler).Op(bytecode.Pop).Local(bytecode.Iload, 0).Ops(bytecode.Pop, bytecode.Return)
	a.Handler(start, end, handler, 0)

	d := tm.analyze(t)
	f, ok := d.frameAt(handlerPC)
	require.True(t, ok)
	assert.Equal(t, []Type{Int}, f.Locals)
	assert.Equal(t, []Type{Reference(throwableClass)}, f.Stack)

	r, err := tm.verify(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, VerifiedOK, r.Status, r.String())
}

func TestCatchAllHandlerSeesThrowable(t *testing.T) {
	tm := newTestMethod("()V", 1, 1)
	a := tm.a
	start, end, handler := a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.Mark(start).Int(3).Local(bytecode.Istore, 0)
	a.Mark(end).Op(bytecode.Return)
	handlerPC := a.Offset()
	a.Mark(handler).Op(bytecode.Athrow)
	a.Handler(start, end, handler, 0)

	d := tm.analyze(t)
	f, ok := d.frameAt(handlerPC)
	require.True(t, ok)
	assert.Equal(t, []Type{Reference(throwableClass)}, f.Stack)
	// locals come from the frames before the protected instructions
	assert.Equal(t, Top, f.Locals[0])
}

func TestLdcOfFieldref(t *testing.T) {
	tm := newTestMethod("()V", 1, 0)
	tm.a.Index(bytecode.Ldc, tm.b.Fieldref(testClass, "x", "I")).Ops(bytecode.Pop, bytecode.Return)
	cf, i := tm.build(t)
	v := New(testResolver(), Options{})

	r, err := v.Pass3a(cf, i)
	requireRejected(t, r, err, Pass3a, 0, "ldc")
	assert.True(t, strings.HasPrefix(r.Message, "Operand of LDC"), r.Message)
	assert.Contains(t, r.Message, "constraint violated")
	assert.True(t, strings.HasSuffix(r.Message, "but is Fieldref"), r.Message)

	r, err = v.Pass3b(context.Background(), cf, i)
	require.NoError(t, err)
	assert.Equal(t, VerifiedNotYet, r.Status)
}

func TestLdcConstants(t *testing.T) {
	tm := newTestMethod("()V", 2, 0)
	tm.a.Index(bytecode.Ldc, tm.b.String("s")).Index(bytecode.Invokestatic, tm.b.Methodref(testClass, "s", "(Ljava/lang/String;)V")).
		Index(bytecode.Ldc, tm.b.Integer(7)).Op(bytecode.Pop).
		Index(bytecode.Ldc, tm.b.Class("Foo")).Index(bytecode.Invokestatic, tm.b.Methodref(testClass, "c", "(Ljava/lang/Class;)V")).
		Index(bytecode.Ldc2W, tm.b.Long(1<<40)).Op(bytecode.Pop2).
		Op(bytecode.Return)
	r, err := tm.verify(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, VerifiedOK, r.Status, r.String())
}

func TestRetOfInt(t *testing.T) {
	tm := newTestMethod("()V", 1, 2)
	a := tm.a
	sub := a.NewLabel()
	a.Jump(bytecode.Jsr, sub).Op(bytecode.Return)
	a.Mark(sub).Local(bytecode.Astore, 1).Op(bytecode.Iconst0).Local(bytecode.Istore, 1).Local(bytecode.Ret, 1)

	r, err := tm.verify(t, Options{})
	requireRejected(t, r, err, Pass3b, 7, "ret")
	assert.Equal(t, "local 1 holds int, not a return address", r.Message)
}

func TestSubroutineRestoresUntouchedLocals(t *testing.T) {
	tm := newTestMethod("()V", 1, 3)
	a := tm.a
	sub := a.NewLabel()
	a.Int(5).Local(bytecode.Istore, 0)
	jsrPC := a.Offset()
	a.Jump(bytecode.Jsr, sub)
	afterPC := a.Offset()
	a.Local(bytecode.Iload, 0).Ops(bytecode.Pop, bytecode.Return)
	subPC := a.Offset()
	a.Mark(sub).Local(bytecode.Astore, 1).Op(bytecode.Fconst1).Local(bytecode.Fstore, 2).Local(bytecode.Ret, 1)

	d := tm.analyze(t)
	entry, ok := d.frameAt(subPC, jsrPC)
	require.True(t, ok)
	assert.Equal(t, []Type{ReturnAddress(subPC)}, entry.Stack)

	after, ok := d.frameAt(afterPC)
	require.True(t, ok)
	assert.Equal(t, []Type{Int, ReturnAddress(subPC), Float}, after.Locals)

	_, ok = d.frameAt(subPC)
	assert.False(t, ok, "subroutine instructions only have frames in the context of their jsr")
}

func TestSubroutineCalledTwice(t *testing.T) {
	tm := newTestMethod("()V", 1, 2)
	a := tm.a
	sub := a.NewLabel()
	a.Int(1).Local(bytecode.Istore, 0).Jump(bytecode.Jsr, sub)
	a.Op(bytecode.Fconst0).Local(bytecode.Fstore, 0).Jump(bytecode.Jsr, sub)
	a.Local(bytecode.Fload, 0).Ops(bytecode.Pop, bytecode.Return)
	a.Mark(sub).Local(bytecode.Astore, 1).Local(bytecode.Ret, 1)

	r, err := tm.verify(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, VerifiedOK, r.Status, r.String())
}

func TestSubroutineLeftWithoutRet(t *testing.T) {
	tm := newTestMethod("(I)V", 1, 2)
	a := tm.a
	sub, done := a.NewLabel(), a.NewLabel()
	a.Jump(bytecode.Jsr, sub).Op(bytecode.Return)
	a.Mark(sub).Local(bytecode.Astore, 1).Local(bytecode.Iload, 0).Jump(bytecode.Ifeq, done).Ops(bytecode.AconstNull, bytecode.Athrow)
	a.Mark(done).Local(bytecode.Ret, 1)

	r, err := tm.verify(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, VerifiedOK, r.Status, r.String())
}

func TestInvalidSubroutines(t *testing.T) {
	for _, tc := range []struct {
		name   string
		emit   func(a *bytecode.Assembler)
		offset int
		opcode string
		reason string
	}{
		{
			name: "entry is not astore",
			emit: func(a *bytecode.Assembler) {
				sub := a.NewLabel()
				a.Jump(bytecode.Jsr, sub).Op(bytecode.Return)
				a.Mark(sub).Op(bytecode.Return)
			},
			offset: 4,
			opcode: "return",
			reason: "expected astore",
		},
		{
			name: "ret in top level code",
			emit: func(a *bytecode.Assembler) {
				a.Local(bytecode.Ret, 0)
			},
			offset: 0,
			opcode: "ret",
			reason: "ret in top level code",
		},
		{
			name: "recursive call",
			emit: func(a *bytecode.Assembler) {
				sub := a.NewLabel()
				a.Jump(bytecode.Jsr, sub).Op(bytecode.Return)
				a.Mark(sub).Local(bytecode.Astore, 1).Jump(bytecode.Jsr, sub).Local(bytecode.Ret, 1)
			},
			offset: 4,
			opcode: "astore_1",
			reason: "recursive calls are not allowed",
		},
		{
			name: "two rets",
			emit: func(a *bytecode.Assembler) {
				sub, second := a.NewLabel(), a.NewLabel()
				a.Jump(bytecode.Jsr, sub).Op(bytecode.Return)
				a.Mark(sub).Local(bytecode.Astore, 1).Op(bytecode.Iconst0).Jump(bytecode.Ifeq, second).Local(bytecode.Ret, 1)
				a.Mark(second).Local(bytecode.Ret, 1)
			},
			offset: 11,
			opcode: "ret",
			reason: "more than one ret",
		},
		{
			name: "ret through another local",
			emit: func(a *bytecode.Assembler) {
				sub := a.NewLabel()
				a.Jump(bytecode.Jsr, sub).Op(bytecode.Return)
				a.Mark(sub).Local(bytecode.Astore, 1).Local(bytecode.Ret, 0)
			},
			offset: 5,
			opcode: "ret",
			reason: "ret uses local 0",
		},
		{
			name: "shared code",
			emit: func(a *bytecode.Assembler) {
				first, second, shared := a.NewLabel(), a.NewLabel(), a.NewLabel()
				a.Jump(bytecode.Jsr, first).Jump(bytecode.Jsr, second).Op(bytecode.Return)
				a.Mark(first).Local(bytecode.Astore, 1).Jump(bytecode.Goto, shared)
				a.Mark(second).Local(bytecode.Astore, 1)
				a.Mark(shared).Local(bytecode.Ret, 1)
			},
			offset: 12,
			opcode: "ret",
			reason: "more than one subroutine",
		},
		{
			name: "protected by a handler",
			emit: func(a *bytecode.Assembler) {
				sub, end, handler := a.NewLabel(), a.NewLabel(), a.NewLabel()
				a.Jump(bytecode.Jsr, sub)
				a.Mark(handler).Op(bytecode.Return)
				a.Mark(sub).Local(bytecode.Astore, 1).Local(bytecode.Ret, 1)
				a.Mark(end)
				a.Handler(sub, end, handler, 0)
			},
			offset: 4,
			opcode: "astore_1",
			reason: "forbidden by JustIce's definition",
		},
		{
			name: "no ret",
			emit: func(a *bytecode.Assembler) {
				sub := a.NewLabel()
				a.Jump(bytecode.Jsr, sub).Op(bytecode.Return)
				a.Mark(sub).Local(bytecode.Astore, 1).Op(bytecode.Return)
			},
			offset: 4,
			opcode: "astore_1",
			reason: "subroutine at 4 has no ret",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tm := newTestMethod("()V", 2, 2)
			tc.emit(tm.a)
			r, err := tm.verify(t, Options{})
			requireRejected(t, r, err, Pass3a, tc.offset, tc.opcode)
			assert.Contains(t, r.Message, tc.reason)
			assert.Equal(t, "VERIFIED_REJECTED (pass 3a, "+tc.opcode+" at "+strconv.Itoa(tc.offset)+"): "+r.Message, r.String())
		})
	}
}

func TestStackDepthMergeConflict(t *testing.T) {
	tm := newTestMethod("(I)V", 1, 1)
	a := tm.a
	join := a.NewLabel()
	a.Local(bytecode.Iload, 0).Jump(bytecode.Ifeq, join).Op(bytecode.Iconst1)
	a.Mark(join).Op(bytecode.Return)

	r, err := tm.verify(t, Options{})
	requireRejected(t, r, err, Pass3b, 5, "return")
	assert.Contains(t, r.Message, "operand stack depths differ")
}

func TestIncompatibleStackMerge(t *testing.T) {
	tm := newTestMethod("(I)V", 1, 1)
	a := tm.a
	other, join := a.NewLabel(), a.NewLabel()
	a.Local(bytecode.Iload, 0).Jump(bytecode.Ifeq, other).Op(bytecode.Fconst0).Jump(bytecode.Goto, join)
	a.Mark(other).Op(bytecode.Iconst0)
	joinPC := a.Offset()
	a.Mark(join).Ops(bytecode.Pop, bytecode.Return)

	r, err := tm.verify(t, Options{})
	requireRejected(t, r, err, Pass3b, joinPC, "pop")
	assert.Contains(t, r.Message, "cannot merge stack values")
}

func TestMaxStackExceeded(t *testing.T) {
	tm := newTestMethod("()V", 1, 0)
	tm.a.Ops(bytecode.Iconst0, bytecode.Iconst0, bytecode.Pop2, bytecode.Return)
	r, err := tm.verify(t, Options{})
	requireRejected(t, r, err, Pass3b, 1, "iconst_0")
	assert.Contains(t, r.Message, "max_stack 1")
}

func TestClassNotFoundIsNotARejection(t *testing.T) {
	tm := newTestMethod("()V", 2, 0)
	tm.newObject("Foo").Index(bytecode.Invokestatic, tm.b.Methodref(testClass, "take", "(LMissing;)V")).Op(bytecode.Return)

	r, err := tm.verify(t, Options{})
	require.Error(t, err)
	assert.True(t, IsClassNotFound(err), "%+v", err)
	assert.False(t, IsRejection(err))
	assert.Equal(t, VerifiedNotYet, r.Status)
}

func TestIterationLimit(t *testing.T) {
	tm := newTestMethod("()V", 1, 1)
	tm.a.Op(bytecode.Iconst0).Local(bytecode.Istore, 0).Iinc(0, 1).Op(bytecode.Return)

	_, err := tm.verify(t, Options{MaxIterations: 2})
	var exhausted *ResourceExhaustedError
	require.True(t, errors.As(err, &exhausted), "%v", err)
	assert.Equal(t, 2, exhausted.Limit)

	r, err := tm.verify(t, Options{MaxIterations: 4})
	require.NoError(t, err)
	assert.Equal(t, VerifiedOK, r.Status)
}

func TestCancelledContext(t *testing.T) {
	tm := newTestMethod("()V", 0, 0)
	tm.a.Op(bytecode.Return)
	cf, i := tm.build(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testResolver(), Options{}).VerifyMethod(ctx, cf, i)
	assert.True(t, errors.Is(err, context.Canceled), "%v", err)
}

func TestFiftyWayMergeTerminates(t *testing.T) {
	tm := newTestMethod("(I)V", 2, 2)
	a := tm.a
	def, join := a.NewLabel(), a.NewLabel()
	targets := make([]*bytecode.Label, 50)
	for i := range targets {
		targets[i] = a.NewLabel()
	}
	a.Local(bytecode.Iload, 0).TableSwitch(0, def, targets...)
	for i, target := range targets {
		a.Mark(target)
		tm.newObject([]string{"A", "B", "D"}[i%3]).Local(bytecode.Astore, 1).Jump(bytecode.Goto, join)
	}
	a.Mark(def).Op(bytecode.AconstNull).Local(bytecode.Astore, 1)
	joinPC := a.Offset()
	a.Mark(join).Local(bytecode.Aload, 1).
		Index(bytecode.Invokestatic, tm.b.Methodref(testClass, "take", "(LC;)V")).
		Op(bytecode.Return)

	r, err := tm.verify(t, Options{})
	require.NoError(t, err)
	require.Equal(t, VerifiedOK, r.Status, r.String())

	f, ok := tm.analyze(t).frameAt(joinPC)
	require.True(t, ok)
	assert.Equal(t, Reference("C"), f.Locals[1])
}

func TestLoopConverges(t *testing.T) {
	tm := newTestMethod("()V", 2, 2)
	a := tm.a
	loop := a.NewLabel()
	a.Op(bytecode.AconstNull).Local(bytecode.Astore, 1).Op(bytecode.Iconst0).Local(bytecode.Istore, 0)
	a.Mark(loop)
	tm.newObject("D").Local(bytecode.Astore, 1)
	a.Iinc(0, 1).Local(bytecode.Iload, 0).Int(50).Jump(bytecode.IfIcmplt, loop)
	a.Local(bytecode.Aload, 1).
		Index(bytecode.Invokestatic, tm.b.Methodref(testClass, "take", "(LA;)V")).
		Op(bytecode.Return)

	r, err := tm.verify(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, VerifiedOK, r.Status, r.String())
}

func TestInstructionConstraints(t *testing.T) {
	for _, tc := range []struct {
		name    string
		desc    string
		emit    func(tm *testMethod)
		offset  int
		opcode  string
		message string
	}{
		{
			name: "array load of the wrong element type",
			desc: "()V",
			emit: func(tm *testMethod) {
				tm.a.Op(bytecode.Iconst1).NewArray(bytecode.TInt).Op(bytecode.Iconst0).Ops(bytecode.Faload, bytecode.Pop, bytecode.Return)
			},
			offset:  4,
			opcode:  "faload",
			message: "faload on [I, expected [[F]",
		},
		{
			name: "throwing a string",
			desc: "()V",
			emit: func(tm *testMethod) {
				tm.a.Index(bytecode.Ldc, tm.b.String("boom")).Op(bytecode.Athrow)
			},
			offset:  2,
			opcode:  "athrow",
			message: "thrown value of type java/lang/String is not assignable to java/lang/Throwable",
		},
		{
			name: "ireturn from a void method",
			desc: "()V",
			emit: func(tm *testMethod) {
				tm.a.Ops(bytecode.Iconst0, bytecode.Ireturn)
			},
			offset:  1,
			opcode:  "ireturn",
			message: "ireturn in a method returning void",
		},
		{
			name: "areturn of an unrelated class",
			desc: "()LA;",
			emit: func(tm *testMethod) {
				tm.newObject("B").Op(bytecode.Areturn)
			},
			offset:  7,
			opcode:  "areturn",
			message: "returned value of type B is not assignable to A",
		},
		{
			name: "adding an int and a float",
			desc: "()V",
			emit: func(tm *testMethod) {
				tm.a.Ops(bytecode.Iconst0, bytecode.Fconst0, bytecode.Iadd, bytecode.Pop, bytecode.Return)
			},
			offset:  2,
			opcode:  "iadd",
			message: "expected int on the operand stack, found float",
		},
		{
			name: "pop of half a long",
			desc: "()V",
			emit: func(tm *testMethod) {
				tm.a.Ops(bytecode.Lconst0, bytecode.Pop, bytecode.Pop, bytecode.Return)
			},
			offset:  1,
			opcode:  "pop",
			message: "would split a long or double value 1 slots below the top of the stack",
		},
		{
			name: "stack underflow",
			desc: "()V",
			emit: func(tm *testMethod) {
				tm.a.Ops(bytecode.Pop, bytecode.Return)
			},
			offset:  0,
			opcode:  "pop",
			message: "operand stack underflow: needs 1 slots but has 0",
		},
		{
			name: "putfield of the wrong type",
			desc: "()V",
			emit: func(tm *testMethod) {
				tm.b.AddField(0, "x", "I")
				tm.newObject(testClass).Op(bytecode.Fconst0).Index(bytecode.Putfield, tm.b.Fieldref(testClass, "x", "I")).Op(bytecode.Return)
			},
			offset:  8,
			opcode:  "putfield",
			message: "value of x must be int, found float",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tm := newTestMethod(tc.desc, 2, 1)
			tc.emit(tm)
			r, err := tm.verify(t, Options{})
			requireRejected(t, r, err, Pass3b, tc.offset, tc.opcode)
			assert.Equal(t, tc.message, r.Message)
		})
	}
}

func TestStaticConstraints(t *testing.T) {
	for _, tc := range []struct {
		name      string
		desc      string
		maxLocals uint16
		emit      func(tm *testMethod)
		offset    int
		opcode    string
		message   string
	}{
		{
			name:      "branch into the middle of an instruction",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				mid := tm.a.NewLabel()
				tm.a.Jump(bytecode.Goto, mid).Raw(byte(bytecode.Sipush)).Mark(mid).Raw(0, 1).Ops(bytecode.Pop, bytecode.Return)
			},
			offset:  0,
			opcode:  "goto",
			message: "branch target 4 is not the start of an instruction",
		},
		{
			name:      "load beyond max_locals",
			desc:      "()V",
			maxLocals: 2,
			emit: func(tm *testMethod) {
				tm.a.Local(bytecode.Iload, 5).Ops(bytecode.Pop, bytecode.Return)
			},
			offset:  0,
			opcode:  "iload",
			message: "local variable 5 is not below max_locals 2",
		},
		{
			name:      "second slot of a long beyond max_locals",
			desc:      "()V",
			maxLocals: 2,
			emit: func(tm *testMethod) {
				tm.a.Local(bytecode.Lload, 1).Ops(bytecode.Pop2, bytecode.Return)
			},
			offset:  0,
			opcode:  "lload_1",
			message: "local variable 2 is not below max_locals 2",
		},
		{
			name:      "store beyond max_locals",
			desc:      "()V",
			maxLocals: 2,
			emit: func(tm *testMethod) {
				tm.a.Op(bytecode.Iconst0).Local(bytecode.Istore, 2).Op(bytecode.Return)
			},
			offset:  1,
			opcode:  "istore_2",
			message: "local variable 2 is not below max_locals 2",
		},
		{
			name:      "invokevirtual of a constructor",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				tm.a.Op(bytecode.AconstNull).Index(bytecode.Invokevirtual, tm.b.Methodref(objectClass, "<init>", "()V")).Op(bytecode.Return)
			},
			offset:  1,
			opcode:  "invokevirtual",
			message: "only invokespecial may invoke <init>",
		},
		{
			name:      "invoking a class initializer",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				tm.a.Index(bytecode.Invokestatic, tm.b.Methodref(testClass, "<clinit>", "()V")).Op(bytecode.Return)
			},
			offset:  0,
			opcode:  "invokestatic",
			message: "<clinit> cannot be invoked",
		},
		{
			name:      "invokeinterface count does not match the arguments",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				tm.a.Op(bytecode.AconstNull).InvokeInterface(tm.b.InterfaceMethodref("Runner", "run", "()V"), 2).Op(bytecode.Return)
			},
			offset:  1,
			opcode:  "invokeinterface",
			message: "count operand is 2 but the arguments need 1",
		},
		{
			name:      "invokeinterface with a nonzero fourth byte",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				idx := tm.b.InterfaceMethodref("Runner", "run", "()V")
				tm.a.Op(bytecode.AconstNull).Raw(byte(bytecode.Invokeinterface), byte(idx>>8), byte(idx), 1, 7).Op(bytecode.Return)
			},
			offset:  1,
			opcode:  "invokeinterface",
			message: "fourth operand byte must be zero",
		},
		{
			name:      "invalid newarray type code",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				tm.a.Op(bytecode.Iconst1).NewArray(99).Ops(bytecode.Pop, bytecode.Return)
			},
			offset:  1,
			opcode:  "newarray",
			message: "invalid array type code 99",
		},
		{
			name:      "multianewarray of zero dimensions",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				tm.a.MultiANewArray(tm.b.Class("[[I"), 0).Ops(bytecode.Pop, bytecode.Return)
			},
			offset:  0,
			opcode:  "multianewarray",
			message: "dimensions must be at least 1",
		},
		{
			name:      "multianewarray of more dimensions than the type has",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				tm.a.Ops(bytecode.Iconst1, bytecode.Iconst1).MultiANewArray(tm.b.Class("[I"), 2).Ops(bytecode.Pop, bytecode.Return)
			},
			offset:  2,
			opcode:  "multianewarray",
			message: "creates 2 dimensions of [I, which has only 1",
		},
		{
			name:      "new of an array class",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				tm.a.Index(bytecode.New, tm.b.Class("[I")).Ops(bytecode.Pop, bytecode.Return)
			},
			offset:  0,
			opcode:  "new",
			message: "cannot create array type [I with new",
		},
		{
			name:      "falling off the end of the code",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				tm.a.Op(bytecode.Iconst0)
			},
			offset:  0,
			opcode:  "iconst_0",
			message: "execution can fall off the end of the code",
		},
		{
			name:      "jsr as the last instruction",
			desc:      "()V",
			maxLocals: 2,
			emit: func(tm *testMethod) {
				sub, start := tm.a.NewLabel(), tm.a.NewLabel()
				tm.a.Jump(bytecode.Goto, start)
				tm.a.Mark(sub).Local(bytecode.Astore, 1).Local(bytecode.Ret, 1)
				tm.a.Mark(start).Jump(bytecode.Jsr, sub)
			},
			offset:  6,
			opcode:  "jsr",
			message: "execution can fall off the end of the code",
		},
		{
			name:      "arguments exceed max_locals",
			desc:      "(JI)V",
			maxLocals: 2,
			emit: func(tm *testMethod) {
				tm.a.Op(bytecode.Return)
			},
			offset:  -1,
			message: "arguments need 3 local variables but max_locals is 2",
		},
		{
			name:      "catch type is not a Throwable",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				start, end := tm.a.NewLabel(), tm.a.NewLabel()
				tm.a.Mark(start).Op(bytecode.Nop).Mark(end).Op(bytecode.Return)
				tm.a.Handler(start, end, end, tm.b.Class("C"))
			},
			offset:  -1,
			message: "catch type C of handler [0, 1) -> 1 catching C is not a subclass of java/lang/Throwable",
		},
		{
			name:      "handler starts inside an instruction",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				mid, end := tm.a.NewLabel(), tm.a.NewLabel()
				tm.a.Raw(byte(bytecode.Sipush)).Mark(mid).Raw(0, 1).Op(bytecode.Pop).Mark(end).Op(bytecode.Return)
				tm.a.Handler(mid, end, end, 0)
			},
			offset:  1,
			message: "exception handler 0 starts inside an instruction",
		},
		{
			name:      "handler ends inside an instruction",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				start, mid := tm.a.NewLabel(), tm.a.NewLabel()
				tm.a.Mark(start).Raw(byte(bytecode.Sipush)).Mark(mid).Raw(0, 1).Ops(bytecode.Pop, bytecode.Return)
				tm.a.Handler(start, mid, start, 0)
			},
			offset:  1,
			message: "exception handler 0 ends inside an instruction or past the code",
		},
		{
			name:      "unknown opcode",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				tm.a.Raw(0xcb)
			},
			offset:  0,
			opcode:  "opcode(0xcb)",
			message: "unknown opcode 0xcb",
		},
		{
			name:      "truncated operand",
			desc:      "()V",
			maxLocals: 1,
			emit: func(tm *testMethod) {
				tm.a.Op(bytecode.Nop).Raw(byte(bytecode.Sipush), 0)
			},
			offset:  1,
			opcode:  "sipush",
			message: "sipush operands run past the end of the code",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tm := newTestMethod(tc.desc, 2, tc.maxLocals)
			tc.emit(tm)
			r, err := tm.verify(t, Options{})
			requireRejected(t, r, err, Pass3a, tc.offset, tc.opcode)
			assert.Contains(t, r.Message, tc.message)
			assert.NotContains(t, r.String(), "  ")
		})
	}
}

func TestStackManipulationBoundaries(t *testing.T) {
	for _, tc := range []struct {
		name    string
		emit    func(a *bytecode.Assembler)
		offset  int
		opcode  string
		message string
	}{
		{
			name: "dup_x1 of two ints",
			emit: func(a *bytecode.Assembler) {
				a.Ops(bytecode.Iconst0, bytecode.Iconst1, bytecode.DupX1, bytecode.Pop, bytecode.Pop2, bytecode.Return)
			},
			offset: -1,
		},
		{
			name: "dup_x2 of an int over a long",
			emit: func(a *bytecode.Assembler) {
				a.Ops(bytecode.Lconst0, bytecode.Iconst0, bytecode.DupX2, bytecode.Pop, bytecode.Pop2, bytecode.Pop, bytecode.Return)
			},
			offset: -1,
		},
		{
			name: "dup2_x1 of a long over an int",
			emit: func(a *bytecode.Assembler) {
				a.Ops(bytecode.Iconst0, bytecode.Lconst0, bytecode.Dup2X1, bytecode.Pop2, bytecode.Pop, bytecode.Pop2, bytecode.Return)
			},
			offset: -1,
		},
		{
			name: "dup2_x2 of a long over a long",
			emit: func(a *bytecode.Assembler) {
				a.Ops(bytecode.Lconst0, bytecode.Lconst1, bytecode.Dup2X2, bytecode.Pop2, bytecode.Pop2, bytecode.Pop2, bytecode.Return)
			},
			offset: -1,
		},
		{
			name: "dup_x1 under which a long would be split",
			emit: func(a *bytecode.Assembler) {
				a.Ops(bytecode.Lconst0, bytecode.Iconst0, bytecode.DupX1, bytecode.Return)
			},
			offset:  2,
			opcode:  "dup_x1",
			message: "would split a long or double value 2 slots below the top of the stack",
		},
		{
			name: "dup_x2 under which a long would be split",
			emit: func(a *bytecode.Assembler) {
				a.Ops(bytecode.Lconst0, bytecode.Iconst0, bytecode.Iconst0, bytecode.DupX2, bytecode.Return)
			},
			offset:  3,
			opcode:  "dup_x2",
			message: "would split a long or double value 3 slots below the top of the stack",
		},
		{
			name: "dup2 of an int and half a long",
			emit: func(a *bytecode.Assembler) {
				a.Ops(bytecode.Lconst0, bytecode.Iconst0, bytecode.Dup2, bytecode.Return)
			},
			offset:  2,
			opcode:  "dup2",
			message: "would split a long or double value 2 slots below the top of the stack",
		},
		{
			name: "dup2_x1 under which a long would be split",
			emit: func(a *bytecode.Assembler) {
				a.Ops(bytecode.Lconst0, bytecode.Iconst0, bytecode.Iconst0, bytecode.Dup2X1, bytecode.Return)
			},
			offset:  3,
			opcode:  "dup2_x1",
			message: "would split a long or double value 3 slots below the top of the stack",
		},
		{
			name: "dup2_x2 under which a long would be split",
			emit: func(a *bytecode.Assembler) {
				a.Ops(bytecode.Lconst0, bytecode.Iconst0, bytecode.Lconst0, bytecode.Dup2X2, bytecode.Return)
			},
			offset:  3,
			opcode:  "dup2_x2",
			message: "would split a long or double value 4 slots below the top of the stack",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tm := newTestMethod("()V", 8, 1)
			tc.emit(tm.a)
			r, err := tm.verify(t, Options{})
			if tc.offset < 0 {
				require.NoError(t, err)
				assert.Equal(t, VerifiedOK, r.Status, r.String())
				return
			}
			requireRejected(t, r, err, Pass3b, tc.offset, tc.opcode)
			assert.Equal(t, tc.message, r.Message)
		})
	}
}

func TestProtectedMemberReceiver(t *testing.T) {
	for _, tc := range []struct {
		name    string
		desc    string
		emit    func(tm *testMethod)
		message string
	}{
		{
			name: "field read through the current class",
			desc: "(Lp2/Sub;)I",
			emit: func(tm *testMethod) {
				tm.a.Local(bytecode.Aload, 0).Index(bytecode.Getfield, tm.b.Fieldref("p/Base", "f", "I")).Op(bytecode.Ireturn)
			},
		},
		{
			name: "field read through the declaring class",
			desc: "(Lp/Base;)I",
			emit: func(tm *testMethod) {
				tm.a.Local(bytecode.Aload, 0).Index(bytecode.Getfield, tm.b.Fieldref("p/Base", "f", "I")).Op(bytecode.Ireturn)
			},
			message: "protected member p/Base.f accessed through p/Base, which is not p2/Sub or a subclass",
		},
		{
			name: "field write through a sibling subclass",
			desc: "(Lp/Other;)V",
			emit: func(tm *testMethod) {
				tm.a.Local(bytecode.Aload, 0).Op(bytecode.Iconst1).Index(bytecode.Putfield, tm.b.Fieldref("p/Base", "f", "I")).Op(bytecode.Return)
			},
			message: "protected member p/Base.f accessed through p/Other, which is not p2/Sub or a subclass",
		},
		{
			name: "method call through the declaring class",
			desc: "(Lp/Base;)V",
			emit: func(tm *testMethod) {
				tm.a.Local(bytecode.Aload, 0).Index(bytecode.Invokevirtual, tm.b.Methodref("p/Base", "m", "()V")).Op(bytecode.Return)
			},
			message: "protected member p/Base.m accessed through p/Base, which is not p2/Sub or a subclass",
		},
		{
			name: "method call through the current class",
			desc: "(Lp2/Sub;)V",
			emit: func(tm *testMethod) {
				tm.a.Local(bytecode.Aload, 0).Index(bytecode.Invokevirtual, tm.b.Methodref("p/Base", "m", "()V")).Op(bytecode.Return)
			},
		},
		{
			name: "null receiver",
			desc: "()I",
			emit: func(tm *testMethod) {
				tm.a.Op(bytecode.AconstNull).Index(bytecode.Getfield, tm.b.Fieldref("p/Base", "f", "I")).Op(bytecode.Ireturn)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tm := newTestMethod(tc.desc, 2, 1)
			tm.b = classfile.NewBuilder("p2/Sub", "p/Base", classfile.AccPublic|classfile.AccSuper)
			tc.emit(tm)
			r, err := tm.verify(t, Options{})
			if tc.message == "" {
				require.NoError(t, err)
				assert.Equal(t, VerifiedOK, r.Status, r.String())
				return
			}
			require.NoError(t, err)
			require.Equal(t, VerifiedRejected, r.Status, r.String())
			assert.Equal(t, Pass3b, r.Pass)
			assert.Equal(t, tc.message, r.Message)
		})
	}
}

func TestInvokeInterfaceReceiver(t *testing.T) {
	for _, tc := range []struct {
		name    string
		desc    string
		load    bytecode.Opcode
		message string
	}{
		{name: "class receiver", desc: "(LA;)V", load: bytecode.Aload},
		{name: "interface receiver", desc: "(LRunner;)V", load: bytecode.Aload},
		{name: "int receiver", desc: "(I)V", load: bytecode.Iload, message: "receiver of run must be a reference assignable to Runner, found int"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tm := newTestMethod(tc.desc, 1, 1)
			tm.a.Local(tc.load, 0).InvokeInterface(tm.b.InterfaceMethodref("Runner", "run", "()V"), 1).Op(bytecode.Return)
			r, err := tm.verify(t, Options{})
			if tc.message == "" {
				require.NoError(t, err)
				assert.Equal(t, VerifiedOK, r.Status, r.String())
				return
			}
			requireRejected(t, r, err, Pass3b, 1, "invokeinterface")
			assert.Equal(t, tc.message, r.Message)
		})
	}
}

func TestNestedSubroutines(t *testing.T) {
	tm := newTestMethod("()V", 1, 4)
	a := tm.a
	outer, inner := a.NewLabel(), a.NewLabel()
	a.Int(5).Local(bytecode.Istore, 0).Int(5).Local(bytecode.Istore, 3).Jump(bytecode.Jsr, outer)
	afterPC := a.Offset()
	a.Local(bytecode.Fload, 3).Op(bytecode.Pop).Local(bytecode.Iload, 0).Ops(bytecode.Pop, bytecode.Return)
	outerPC := a.Offset()
	a.Mark(outer).Local(bytecode.Astore, 1).Jump(bytecode.Jsr, inner).Local(bytecode.Ret, 1)
	a.Mark(inner).Local(bytecode.Astore, 2).Op(bytecode.Fconst1).Local(bytecode.Fstore, 3).Local(bytecode.Ret, 2)

	r, err := tm.verify(t, Options{})
	require.NoError(t, err)
	require.Equal(t, VerifiedOK, r.Status, r.String())

	d := tm.analyze(t)
	outerSub, ok := d.m.subs.At(outerPC)
	require.True(t, ok)
	assert.True(t, outerSub.Accessed(1))
	assert.True(t, outerSub.Accessed(3), "locals written by a nested subroutine are accessed by its caller")
	assert.False(t, outerSub.Accessed(0))

	after, ok := d.frameAt(afterPC)
	require.True(t, ok)
	assert.Equal(t, Int, after.Locals[0])
	assert.Equal(t, Float, after.Locals[3])
}

func TestConstructors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		emit     func(tm *testMethod)
		rejectAt int
		message  string
	}{
		{
			name: "calls the superclass constructor",
			emit: func(tm *testMethod) {
				tm.a.Local(bytecode.Aload, 0).Index(bytecode.Invokespecial, tm.b.Methodref(objectClass, "<init>", "()V")).Op(bytecode.Return)
			},
			rejectAt: -1,
		},
		{
			name: "assigns its own field first",
			emit: func(tm *testMethod) {
				tm.b.AddField(0, "x", "I")
				tm.a.Local(bytecode.Aload, 0).Op(bytecode.Iconst1).Index(bytecode.Putfield, tm.b.Fieldref(testClass, "x", "I")).
					Local(bytecode.Aload, 0).Index(bytecode.Invokespecial, tm.b.Methodref(objectClass, "<init>", "()V")).Op(bytecode.Return)
			},
			rejectAt: -1,
		},
		{
			name: "returns without initializing this",
			emit: func(tm *testMethod) {
				tm.a.Op(bytecode.Return)
			},
			rejectAt: 0,
			message:  "constructor returns before this is initialized",
		},
		{
			name: "invokes a method on uninitialized this",
			emit: func(tm *testMethod) {
				tm.a.Local(bytecode.Aload, 0).Index(bytecode.Invokevirtual, tm.b.Methodref(testClass, "run", "()V")).
					Local(bytecode.Aload, 0).Index(bytecode.Invokespecial, tm.b.Methodref(objectClass, "<init>", "()V")).Op(bytecode.Return)
			},
			rejectAt: 1,
			message:  "Test.run invoked on uninitializedThis(Test) before its constructor has been called",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tm := newTestMethod("()V", 2, 1)
			tm.access, tm.name = classfile.AccPublic, "<init>"
			tc.emit(tm)
			r, err := tm.verify(t, Options{})
			if tc.rejectAt < 0 {
				require.NoError(t, err)
				assert.Equal(t, VerifiedOK, r.Status, r.String())
				return
			}
			require.NoError(t, err)
			require.Equal(t, VerifiedRejected, r.Status)
			assert.Equal(t, tc.rejectAt, r.Offset)
			assert.Equal(t, tc.message, r.Message)
		})
	}
}

func TestVerifyClass(t *testing.T) {
	b := classfile.NewBuilder(testClass, objectClass, classfile.AccPublic|classfile.AccSuper)
	good := bytecode.NewAssembler().Op(bytecode.Return)
	bad := bytecode.NewAssembler().Op(bytecode.Iconst0).Local(bytecode.Istore, 0).Local(bytecode.Aload, 0).Ops(bytecode.Pop, bytecode.Return)
	goodCode, err := good.Code(0, 0)
	require.NoError(t, err)
	badCode, err := bad.Code(1, 1)
	require.NoError(t, err)
	b.AddMethod(classfile.AccStatic, "good", "()V", goodCode)
	b.AddMethod(classfile.AccStatic, "bad", "()V", badCode)
	b.AddMethod(classfile.AccStatic|classfile.AccNative, "native", "()V", nil)
	cf := b.Build()

	res, err := VerifyClass(context.Background(), cf, testResolver(), Options{Parallelism: 2})
	require.NoError(t, err)
	assert.Equal(t, testClass, res.Class)
	assert.Equal(t, VerifiedOK, res.Result.Status)
	require.Len(t, res.Methods, 3)
	assert.Equal(t, "good", res.Methods[0].Name)
	assert.Equal(t, VerifiedOK, res.Methods[0].Result.Status)
	assert.Equal(t, "bad", res.Methods[1].Name)
	assert.Equal(t, VerifiedRejected, res.Methods[1].Result.Status)
	assert.Equal(t, 2, res.Methods[1].Result.Offset)
	assert.Equal(t, VerifiedOK, res.Methods[2].Result.Status)
	assert.False(t, res.OK())

	again, err := VerifyClass(context.Background(), cf, testResolver(), Options{Parallelism: 1})
	require.NoError(t, err)
	assert.Equal(t, res, again, "verification is idempotent")
}

func TestVerifyClassRecordsMissingClasses(t *testing.T) {
	tm := newTestMethod("()V", 2, 0)
	tm.newObject("Foo").Index(bytecode.Invokestatic, tm.b.Methodref(testClass, "take", "(LMissing;)V")).Op(bytecode.Return)
	cf, _ := tm.build(t)

	res, err := VerifyClass(context.Background(), cf, testResolver(), Options{})
	require.NoError(t, err)
	require.Len(t, res.Methods, 1)
	assert.True(t, IsClassNotFound(res.Methods[0].Err))
	assert.Equal(t, "class Missing not found during verification", res.Methods[0].Error)
	assert.False(t, res.OK())
}

func TestPass1(t *testing.T) {
	tm := newTestMethod("()V", 0, 0)
	tm.a.Op(bytecode.Return)
	cf, _ := tm.build(t)
	data, err := cf.Bytes()
	require.NoError(t, err)

	v := New(testResolver(), Options{})
	parsed, r := v.Pass1(data)
	assert.Equal(t, VerifiedOK, r.Status)
	require.NotNil(t, parsed)

	parsed, r = v.Pass1(data[:20])
	assert.Nil(t, parsed)
	assert.Equal(t, VerifiedRejected, r.Status)
	assert.Equal(t, Pass1, r.Pass)
}

func TestPass2(t *testing.T) {
	code, err := bytecode.NewAssembler().Op(bytecode.Return).Code(0, 1)
	require.NoError(t, err)
	for _, tc := range []struct {
		name    string
		build   func() *classfile.Builder
		message string
	}{
		{
			name: "valid class",
			build: func() *classfile.Builder {
				return classfile.NewBuilder(testClass, "C", classfile.AccPublic).
					Interface("Runner").
					AddField(0, "x", "J").
					AddMethod(classfile.AccPublic, "run", "()V", code).
					AddMethod(classfile.AccPublic|classfile.AccAbstract, "other", "()V", nil)
			},
		},
		{
			name: "extends a final class",
			build: func() *classfile.Builder {
				return classfile.NewBuilder(testClass, "Sealed", classfile.AccPublic)
			},
			message: "Test extends final class Sealed",
		},
		{
			name: "extends an interface",
			build: func() *classfile.Builder {
				return classfile.NewBuilder(testClass, "Runner", classfile.AccPublic)
			},
			message: "Test extends interface Runner",
		},
		{
			name: "implements a class",
			build: func() *classfile.Builder {
				return classfile.NewBuilder(testClass, objectClass, classfile.AccPublic).Interface("C")
			},
			message: "Test implements C, which is not an interface",
		},
		{
			name: "no superclass",
			build: func() *classfile.Builder {
				return classfile.NewBuilder(testClass, "", classfile.AccPublic)
			},
			message: "Test has no superclass",
		},
		{
			name: "duplicate method",
			build: func() *classfile.Builder {
				return classfile.NewBuilder(testClass, objectClass, classfile.AccPublic).
					AddMethod(classfile.AccPublic, "run", "()V", code).
					AddMethod(classfile.AccPublic, "run", "()V", code)
			},
			message: "duplicate method run()V",
		},
		{
			name: "invalid field descriptor",
			build: func() *classfile.Builder {
				return classfile.NewBuilder(testClass, objectClass, classfile.AccPublic).AddField(0, "x", "Q")
			},
			message: `field x has invalid descriptor "Q"`,
		},
		{
			name: "abstract method with code",
			build: func() *classfile.Builder {
				return classfile.NewBuilder(testClass, objectClass, classfile.AccPublic).
					AddMethod(classfile.AccPublic|classfile.AccAbstract, "run", "()V", code)
			},
			message: "abstract or native method run()V has a Code attribute",
		},
		{
			name: "concrete method without code",
			build: func() *classfile.Builder {
				return classfile.NewBuilder(testClass, objectClass, classfile.AccPublic).
					AddMethod(classfile.AccPublic, "run", "()V", nil)
			},
			message: "method run()V has no Code attribute",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r, err := New(testResolver(), Options{}).Pass2(tc.build().Build())
			require.NoError(t, err)
			if tc.message == "" {
				assert.Equal(t, VerifiedOK, r.Status, r.String())
				return
			}
			require.Equal(t, VerifiedRejected, r.Status)
			assert.Equal(t, Pass2, r.Pass)
			assert.Equal(t, -1, r.Offset)
			assert.Equal(t, tc.message, r.Message)
		})
	}

	t.Run("missing superclass", func(t *testing.T) {
		r, err := New(testResolver(), Options{}).Pass2(classfile.NewBuilder(testClass, "Missing", 0).Build())
		assert.True(t, IsClassNotFound(err))
		assert.Equal(t, VerifiedNotYet, r.Status)
	})
}
