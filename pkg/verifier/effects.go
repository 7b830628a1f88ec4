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

import "github.com/palantir/jvm-verifier/pkg/bytecode"

// effect is the stack behaviour of an opcode that only consumes and produces primitives or
// constants. Pops are listed bottom to top.
type effect struct {
	pops []Type
	push *Type
}

var simpleEffects = map[bytecode.Opcode]effect{}

func init() {
	def := func(push *Type, pops []Type, ops ...bytecode.Opcode) {
		for _, op := range ops {
			simpleEffects[op] = effect{pops: pops, push: push}
		}
	}
	p := func(t Type) *Type { return &t }
	ints := []Type{Int, Int}
	longs := []Type{Long, Long}
	floats := []Type{Float, Float}
	doubles := []Type{Double, Double}

	def(nil, nil, bytecode.Nop)
	def(p(Null), nil, bytecode.AconstNull)
	def(p(Int), nil, bytecode.IconstM1, bytecode.Iconst0, bytecode.Iconst1, bytecode.Iconst2,
		bytecode.Iconst3, bytecode.Iconst4, bytecode.Iconst5, bytecode.Bipush, bytecode.Sipush)
	def(p(Long), nil, bytecode.Lconst0, bytecode.Lconst1)
	def(p(Float), nil, bytecode.Fconst0, bytecode.Fconst1, bytecode.Fconst2)
	def(p(Double), nil, bytecode.Dconst0, bytecode.Dconst1)

	def(p(Int), ints, bytecode.Iadd, bytecode.Isub, bytecode.Imul, bytecode.Idiv, bytecode.Irem,
		bytecode.Ishl, bytecode.Ishr, bytecode.Iushr, bytecode.Iand, bytecode.Ior, bytecode.Ixor)
	def(p(Long), longs, bytecode.Ladd, bytecode.Lsub, bytecode.Lmul, bytecode.Ldiv, bytecode.Lrem,
		bytecode.Land, bytecode.Lor, bytecode.Lxor)
	def(p(Long), []Type{Long, Int}, bytecode.Lshl, bytecode.Lshr, bytecode.Lushr)
	def(p(Float), floats, bytecode.Fadd, bytecode.Fsub, bytecode.Fmul, bytecode.Fdiv, bytecode.Frem)
	def(p(Double), doubles, bytecode.Dadd, bytecode.Dsub, bytecode.Dmul, bytecode.Ddiv, bytecode.Drem)
	def(p(Int), []Type{Int}, bytecode.Ineg, bytecode.I2b, bytecode.I2c, bytecode.I2s)
	def(p(Long), []Type{Long}, bytecode.Lneg)
	def(p(Float), []Type{Float}, bytecode.Fneg)
	def(p(Double), []Type{Double}, bytecode.Dneg)

	def(p(Long), []Type{Int}, bytecode.I2l)
	def(p(Float), []Type{Int}, bytecode.I2f)
	def(p(Double), []Type{Int}, bytecode.I2d)
	def(p(Int), []Type{Long}, bytecode.L2i)
	def(p(Float), []Type{Long}, bytecode.L2f)
	def(p(Double), []Type{Long}, bytecode.L2d)
	def(p(Int), []Type{Float}, bytecode.F2i)
	def(p(Long), []Type{Float}, bytecode.F2l)
	def(p(Double), []Type{Float}, bytecode.F2d)
	def(p(Int), []Type{Double}, bytecode.D2i)
	def(p(Long), []Type{Double}, bytecode.D2l)
	def(p(Float), []Type{Double}, bytecode.D2f)

	def(p(Int), longs, bytecode.Lcmp)
	def(p(Int), floats, bytecode.Fcmpl, bytecode.Fcmpg)
	def(p(Int), doubles, bytecode.Dcmpl, bytecode.Dcmpg)

	def(nil, []Type{Int}, bytecode.Ifeq, bytecode.Ifne, bytecode.Iflt, bytecode.Ifge, bytecode.Ifgt,
		bytecode.Ifle, bytecode.Tableswitch, bytecode.Lookupswitch)
	def(nil, ints, bytecode.IfIcmpeq, bytecode.IfIcmpne, bytecode.IfIcmplt, bytecode.IfIcmpge,
		bytecode.IfIcmpgt, bytecode.IfIcmple)
	def(nil, nil, bytecode.Goto, bytecode.GotoW)
}

// loadType is the value type moved by a load or store opcode, including the _n forms.
func loadType(op bytecode.Opcode) Type {
	switch op {
	case bytecode.Iload, bytecode.Iload0, bytecode.Iload1, bytecode.Iload2, bytecode.Iload3,
		bytecode.Istore, bytecode.Istore0, bytecode.Istore1, bytecode.Istore2, bytecode.Istore3:
		return Int
	case bytecode.Lload, bytecode.Lload0, bytecode.Lload1, bytecode.Lload2, bytecode.Lload3,
		bytecode.Lstore, bytecode.Lstore0, bytecode.Lstore1, bytecode.Lstore2, bytecode.Lstore3:
		return Long
	case bytecode.Fload, bytecode.Fload0, bytecode.Fload1, bytecode.Fload2, bytecode.Fload3,
		bytecode.Fstore, bytecode.Fstore0, bytecode.Fstore1, bytecode.Fstore2, bytecode.Fstore3:
		return Float
	case bytecode.Dload, bytecode.Dload0, bytecode.Dload1, bytecode.Dload2, bytecode.Dload3,
		bytecode.Dstore, bytecode.Dstore0, bytecode.Dstore1, bytecode.Dstore2, bytecode.Dstore3:
		return Double
	}
	return Reference(objectClass)
}

// arrayElement describes the array opcodes: the element value type and the array descriptors
// the opcode accepts. Reference arrays are matched by aaload and aastore separately.
type arrayElement struct {
	value  Type
	arrays []string
}

var arrayLoads = map[bytecode.Opcode]arrayElement{
	bytecode.Iaload: {Int, []string{"[I"}},
	bytecode.Laload: {Long, []string{"[J"}},
	bytecode.Faload: {Float, []string{"[F"}},
	bytecode.Daload: {Double, []string{"[D"}},
	bytecode.Baload: {Int, []string{"[B", "[Z"}},
	bytecode.Caload: {Int, []string{"[C"}},
	bytecode.Saload: {Int, []string{"[S"}},
}

var arrayStores = map[bytecode.Opcode]arrayElement{
	bytecode.Iastore: {Int, []string{"[I"}},
	bytecode.Lastore: {Long, []string{"[J"}},
	bytecode.Fastore: {Float, []string{"[F"}},
	bytecode.Dastore: {Double, []string{"[D"}},
	bytecode.Bastore: {Int, []string{"[B", "[Z"}},
	bytecode.Castore: {Int, []string{"[C"}},
	bytecode.Sastore: {Int, []string{"[S"}},
}

// returnType is the value type returned by a typed return opcode.
func returnType(op bytecode.Opcode) Type {
	switch op {
	case bytecode.Ireturn:
		return Int
	case bytecode.Lreturn:
		return Long
	case bytecode.Freturn:
		return Float
	case bytecode.Dreturn:
		return Double
	}
	return Reference(objectClass)
}

// dupShape gives, for the dup family, the number of slots copied and the number of slots the
// copy is inserted below.
var dupShape = map[bytecode.Opcode][2]int{
	bytecode.Dup:    {1, 0},
	bytecode.DupX1:  {1, 1},
	bytecode.DupX2:  {1, 2},
	bytecode.Dup2:   {2, 0},
	bytecode.Dup2X1: {2, 1},
	bytecode.Dup2X2: {2, 2},
}
