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
	"testing"

	"github.com/palantir/jvm-verifier/pkg/bytecode"
	"github.com/palantir/jvm-verifier/pkg/classfile"
	"github.com/stretchr/testify/require"
)

const testClass = "Test"

type mapResolver map[string]*ClassInfo

func (r mapResolver) Resolve(name string) (*ClassInfo, error) {
	if info, ok := r[name]; ok {
		return info, nil
	}
	return nil, &ClassNotFoundError{Name: name}
}

func class(name, super string, flags uint16, interfaces ...string) *ClassInfo {
	return &ClassInfo{Name: name, SuperName: super, AccessFlags: flags | classfile.AccPublic, Interfaces: interfaces}
}

// testResolver describes a small hierarchy: C with subclasses A and B, D extending A, p/Base
// with protected members and its subclass p/Other, and the java/lang types the verifier
// refers to.
func testResolver() mapResolver {
	r := mapResolver{}
	for _, c := range []*ClassInfo{
		class(objectClass, "", 0),
		class(throwableClass, objectClass, 0, serializableClass),
		class("java/lang/Exception", throwableClass, 0),
		class("java/lang/RuntimeException", "java/lang/Exception", 0),
		class("java/lang/ArithmeticException", "java/lang/RuntimeException", 0),
		class(stringClass, objectClass, classfile.AccFinal, serializableClass),
		class(classClass, objectClass, classfile.AccFinal),
		class(cloneableClass, objectClass, classfile.AccInterface|classfile.AccAbstract),
		class(serializableClass, objectClass, classfile.AccInterface|classfile.AccAbstract),
		class("Runner", objectClass, classfile.AccInterface|classfile.AccAbstract),
		class("C", objectClass, 0),
		class("A", "C", 0),
		class("B", "C", 0),
		class("D", "A", 0),
		class("Sealed", objectClass, classfile.AccFinal),
		class("Foo", objectClass, 0),
		class("p/Base", objectClass, 0),
		class("p/Other", "p/Base", 0),
	} {
		r[c.Name] = c
	}
	r["Foo"].Methods = []MemberInfo{{Name: "run", Descriptor: "()V", AccessFlags: classfile.AccPublic}}
	r["Runner"].Methods = []MemberInfo{{Name: "run", Descriptor: "()V", AccessFlags: classfile.AccPublic | classfile.AccAbstract}}
	r["p/Base"].Fields = []MemberInfo{{Name: "f", Descriptor: "I", AccessFlags: classfile.AccProtected}}
	r["p/Base"].Methods = []MemberInfo{{Name: "m", Descriptor: "()V", AccessFlags: classfile.AccProtected}}
	return r
}

// testMethod is a method under construction in a fresh class named Test.
type testMethod struct {
	b         *classfile.Builder
	a         *bytecode.Assembler
	access    uint16
	name      string
	desc      string
	maxStack  uint16
	maxLocals uint16
}

func newTestMethod(desc string, maxStack, maxLocals uint16) *testMethod {
	return &testMethod{
		b:         classfile.NewBuilder(testClass, objectClass, classfile.AccPublic|classfile.AccSuper),
		a:         bytecode.NewAssembler(),
		access:    classfile.AccPublic | classfile.AccStatic,
		name:      "test",
		desc:      desc,
		maxStack:  maxStack,
		maxLocals: maxLocals,
	}
}

// build returns the class and the index of the method under test.
func (tm *testMethod) build(t *testing.T) (*classfile.ClassFile, int) {
	code, err := tm.a.Code(tm.maxStack, tm.maxLocals)
	require.NoError(t, err)
	tm.b.AddMethod(tm.access, tm.name, tm.desc, code)
	cf := tm.b.Build()
	return cf, len(cf.Methods) - 1
}

func (tm *testMethod) verify(t *testing.T, opts Options) (Result, error) {
	cf, i := tm.build(t)
	return New(testResolver(), opts).VerifyMethod(context.Background(), cf, i)
}

// analyze runs the data-flow analysis directly so that tests can inspect the computed frames.
func (tm *testMethod) analyze(t *testing.T) *dataflow {
	cf, i := tm.build(t)
	info, err := ClassInfoOf(cf)
	require.NoError(t, err)
	m, err := newMethod(cf, info, &cf.Methods[i], testResolver(), Options{})
	require.NoError(t, err)
	require.NoError(t, m.prepare())
	d, err := m.analyze(context.Background())
	require.NoError(t, err)
	return d
}

// offsets decodes the method under test and returns the offset of each instruction.
func (tm *testMethod) offsets(t *testing.T) []int {
	code, err := tm.a.Assemble()
	require.NoError(t, err)
	list, err := bytecode.Decode(code)
	require.NoError(t, err)
	var out []int
	for _, in := range list.Instructions {
		out = append(out, in.Offset)
	}
	return out
}

func requireRejected(t *testing.T, r Result, err error, pass Pass, offset int, opcode string) {
	t.Helper()
	require.NoError(t, err)
	require.Equal(t, VerifiedRejected, r.Status, r.String())
	require.Equal(t, pass, r.Pass, r.String())
	require.Equal(t, offset, r.Offset, r.String())
	require.Equal(t, opcode, r.Opcode, r.String())
}
