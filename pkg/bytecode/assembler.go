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

package bytecode

import (
	"encoding/binary"
	"math"

	"github.com/palantir/jvm-verifier/pkg/classfile"
	"github.com/pkg/errors"
)

// Label marks a position in code emitted by an Assembler.
type Label struct {
	offset int
	bound  bool
}

type fixup struct {
	at    int // operand position
	base  int // offset of the branching instruction
	wide  bool
	label *Label
}

type handler struct {
	start, end, target *Label
	catchType          uint16
}

// Assembler emits bytecode with symbolic branch targets. The first error encountered is
// retained and returned by Assemble; emitting methods are no-ops after an error.
type Assembler struct {
	buf      []byte
	fixups   []fixup
	handlers []handler
	err      error
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Offset returns the offset at which the next instruction will be emitted.
func (a *Assembler) Offset() int {
	return len(a.buf)
}

func (a *Assembler) NewLabel() *Label {
	return &Label{}
}

// Mark binds l to the current offset.
func (a *Assembler) Mark(l *Label) *Assembler {
	if a.err != nil {
		return a
	}
	if l.bound {
		a.err = errors.Errorf("label already bound at offset %d", l.offset)
		return a
	}
	l.offset, l.bound = len(a.buf), true
	return a
}

func (a *Assembler) failf(format string, args ...interface{}) *Assembler {
	if a.err == nil {
		a.err = errors.Errorf("offset %d: "+format, append([]interface{}{len(a.buf)}, args...)...)
	}
	return a
}

func (a *Assembler) u2(v int) {
	a.buf = binary.BigEndian.AppendUint16(a.buf, uint16(v))
}

func (a *Assembler) u4(v int32) {
	a.buf = binary.BigEndian.AppendUint32(a.buf, uint32(v))
}

// Op emits an instruction without operands.
func (a *Assembler) Op(op Opcode) *Assembler {
	if a.err != nil {
		return a
	}
	if op.Format() != FormatNone {
		return a.failf("%s takes operands", op)
	}
	a.buf = append(a.buf, byte(op))
	return a
}

// Ops emits a sequence of instructions without operands.
func (a *Assembler) Ops(ops ...Opcode) *Assembler {
	for _, op := range ops {
		a.Op(op)
	}
	return a
}

// Int pushes an int constant using iconst, bipush or sipush.
func (a *Assembler) Int(v int32) *Assembler {
	if a.err != nil {
		return a
	}
	switch {
	case v >= -1 && v <= 5:
		a.buf = append(a.buf, byte(Iconst0)+byte(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		a.buf = append(a.buf, byte(Bipush), byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		a.buf = append(a.buf, byte(Sipush))
		a.u2(int(uint16(int16(v))))
	default:
		return a.failf("int constant %d needs an ldc", v)
	}
	return a
}

// Local emits a load, store or ret of a local variable, choosing the short _n form or wide
// as the index requires.
func (a *Assembler) Local(op Opcode, index int) *Assembler {
	if a.err != nil {
		return a
	}
	if op.Format() != FormatLocal {
		return a.failf("%s does not take a local variable index", op)
	}
	switch {
	case index < 0 || index > math.MaxUint16:
		return a.failf("local variable index %d out of range", index)
	case index <= 3 && op >= Iload && op <= Aload:
		a.buf = append(a.buf, byte(Iload0)+byte(op-Iload)*4+byte(index))
	case index <= 3 && op >= Istore && op <= Astore:
		a.buf = append(a.buf, byte(Istore0)+byte(op-Istore)*4+byte(index))
	case index <= math.MaxUint8:
		a.buf = append(a.buf, byte(op), byte(index))
	default:
		a.buf = append(a.buf, byte(Wide), byte(op))
		a.u2(index)
	}
	return a
}

// Iinc emits iinc, using wide when index or delta do not fit in a byte.
func (a *Assembler) Iinc(index int, delta int) *Assembler {
	if a.err != nil {
		return a
	}
	if index < 0 || index > math.MaxUint16 || delta < math.MinInt16 || delta > math.MaxInt16 {
		return a.failf("iinc %d %d out of range", index, delta)
	}
	if index <= math.MaxUint8 && delta >= math.MinInt8 && delta <= math.MaxInt8 {
		a.buf = append(a.buf, byte(Iinc), byte(index), byte(int8(delta)))
		return a
	}
	a.buf = append(a.buf, byte(Wide), byte(Iinc))
	a.u2(index)
	a.u2(int(uint16(int16(delta))))
	return a
}

// Index emits an instruction whose operand is a constant pool index. ldc is widened to
// ldc_w when the index does not fit in a byte.
func (a *Assembler) Index(op Opcode, index uint16) *Assembler {
	if a.err != nil {
		return a
	}
	switch op.Format() {
	case FormatConstant1:
		if index > math.MaxUint8 {
			a.buf = append(a.buf, byte(LdcW))
			a.u2(int(index))
			return a
		}
		a.buf = append(a.buf, byte(op), byte(index))
	case FormatConstant2:
		a.buf = append(a.buf, byte(op))
		a.u2(int(index))
	case FormatInvokeDynamic:
		a.buf = append(a.buf, byte(op))
		a.u2(int(index))
		a.u2(0)
	default:
		return a.failf("%s does not take a constant pool index", op)
	}
	return a
}

func (a *Assembler) InvokeInterface(index uint16, count uint8) *Assembler {
	if a.err != nil {
		return a
	}
	a.buf = append(a.buf, byte(Invokeinterface))
	a.u2(int(index))
	a.buf = append(a.buf, count, 0)
	return a
}

func (a *Assembler) MultiANewArray(index uint16, dims uint8) *Assembler {
	if a.err != nil {
		return a
	}
	a.buf = append(a.buf, byte(Multianewarray))
	a.u2(int(index))
	a.buf = append(a.buf, dims)
	return a
}

// NewArray emits newarray with one of the T* type codes.
func (a *Assembler) NewArray(typeCode uint8) *Assembler {
	if a.err != nil {
		return a
	}
	a.buf = append(a.buf, byte(Newarray), typeCode)
	return a
}

// Jump emits a branch to l.
func (a *Assembler) Jump(op Opcode, l *Label) *Assembler {
	if a.err != nil {
		return a
	}
	base := len(a.buf)
	switch op.Format() {
	case FormatBranch:
		a.buf = append(a.buf, byte(op), 0, 0)
		a.fixups = append(a.fixups, fixup{at: base + 1, base: base, label: l})
	case FormatBranchWide:
		a.buf = append(a.buf, byte(op), 0, 0, 0, 0)
		a.fixups = append(a.fixups, fixup{at: base + 1, base: base, wide: true, label: l})
	default:
		return a.failf("%s is not a branch", op)
	}
	return a
}

func (a *Assembler) pad() {
	for len(a.buf)%4 != 0 {
		a.buf = append(a.buf, 0)
	}
}

// TableSwitch emits a tableswitch over low..low+len(targets)-1.
func (a *Assembler) TableSwitch(low int32, def *Label, targets ...*Label) *Assembler {
	if a.err != nil {
		return a
	}
	if len(targets) == 0 {
		return a.failf("tableswitch needs at least one target")
	}
	base := len(a.buf)
	a.buf = append(a.buf, byte(Tableswitch))
	a.pad()
	a.switchTarget(base, def)
	a.u4(low)
	a.u4(low + int32(len(targets)) - 1)
	for _, t := range targets {
		a.switchTarget(base, t)
	}
	return a
}

// LookupSwitch emits a lookupswitch; keys must be strictly increasing.
func (a *Assembler) LookupSwitch(def *Label, keys []int32, targets []*Label) *Assembler {
	if a.err != nil {
		return a
	}
	if len(keys) != len(targets) {
		return a.failf("lookupswitch has %d keys and %d targets", len(keys), len(targets))
	}
	base := len(a.buf)
	a.buf = append(a.buf, byte(Lookupswitch))
	a.pad()
	a.switchTarget(base, def)
	a.u4(int32(len(keys)))
	for i, k := range keys {
		a.u4(k)
		a.switchTarget(base, targets[i])
	}
	return a
}

func (a *Assembler) switchTarget(base int, l *Label) {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), base: base, wide: true, label: l})
	a.u4(0)
}

// Raw appends bytes verbatim, e.g. to produce malformed code.
func (a *Assembler) Raw(b ...byte) *Assembler {
	if a.err == nil {
		a.buf = append(a.buf, b...)
	}
	return a
}

// Handler records an exception table entry covering [start, end) and dispatching to target.
// catchType is a Class constant index, or 0 for any exception.
func (a *Assembler) Handler(start, end, target *Label, catchType uint16) *Assembler {
	a.handlers = append(a.handlers, handler{start: start, end: end, target: target, catchType: catchType})
	return a
}

// Assemble resolves labels and returns the code array.
func (a *Assembler) Assemble() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := append([]byte(nil), a.buf...)
	for _, f := range a.fixups {
		if !f.label.bound {
			return nil, errors.Errorf("branch at offset %d targets an unbound label", f.base)
		}
		rel := f.label.offset - f.base
		if f.wide {
			binary.BigEndian.PutUint32(out[f.at:], uint32(int32(rel)))
			continue
		}
		if rel < math.MinInt16 || rel > math.MaxInt16 {
			return nil, errors.Errorf("branch at offset %d is too far for a 16-bit offset", f.base)
		}
		binary.BigEndian.PutUint16(out[f.at:], uint16(int16(rel)))
	}
	return out, nil
}

// ExceptionTable resolves the recorded handlers.
func (a *Assembler) ExceptionTable() ([]classfile.ExceptionTableEntry, error) {
	var out []classfile.ExceptionTableEntry
	for i, h := range a.handlers {
		if !h.start.bound || !h.end.bound || !h.target.bound {
			return nil, errors.Errorf("exception handler %d uses an unbound label", i)
		}
		out = append(out, classfile.ExceptionTableEntry{
			StartPC:   uint16(h.start.offset),
			EndPC:     uint16(h.end.offset),
			HandlerPC: uint16(h.target.offset),
			CatchType: h.catchType,
		})
	}
	return out, nil
}

// Code assembles a complete Code attribute.
func (a *Assembler) Code(maxStack, maxLocals uint16) (*classfile.Code, error) {
	code, err := a.Assemble()
	if err != nil {
		return nil, err
	}
	table, err := a.ExceptionTable()
	if err != nil {
		return nil, err
	}
	return &classfile.Code{
		MaxStack:       maxStack,
		MaxLocals:      maxLocals,
		Bytecode:       code,
		ExceptionTable: table,
	}, nil
}
