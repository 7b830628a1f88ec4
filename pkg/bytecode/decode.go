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
	"fmt"
)

// DecodeError reports code that cannot be split into instructions.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed bytecode at offset %d: %s", e.Offset, e.Reason)
}

// InstructionList is the decoded form of a code array.
type InstructionList struct {
	Instructions []Instruction
	CodeLength   int
	// byOffset maps a code offset to its index in Instructions, or -1 inside an instruction.
	byOffset []int
}

// At returns the instruction starting at offset.
func (l *InstructionList) At(offset int) (*Instruction, bool) {
	i, ok := l.IndexOf(offset)
	if !ok {
		return nil, false
	}
	return &l.Instructions[i], true
}

// IndexOf returns the position of the instruction starting at offset.
func (l *InstructionList) IndexOf(offset int) (int, bool) {
	if offset < 0 || offset >= len(l.byOffset) || l.byOffset[offset] < 0 {
		return 0, false
	}
	return l.byOffset[offset], true
}

// IsBoundary reports whether an instruction starts at offset.
func (l *InstructionList) IsBoundary(offset int) bool {
	_, ok := l.IndexOf(offset)
	return ok
}

// Next returns the instruction physically following in, if any.
func (l *InstructionList) Next(in *Instruction) (*Instruction, bool) {
	return l.At(in.Offset + in.Length)
}

func (l *InstructionList) Len() int {
	return len(l.Instructions)
}

// Decode splits code into instructions. It validates the encoding only: operand values such as
// branch targets and constant pool indices are checked by the verifier.
func Decode(code []byte) (*InstructionList, error) {
	d := &decoder{code: code}
	l := &InstructionList{CodeLength: len(code), byOffset: make([]int, len(code))}
	for i := range l.byOffset {
		l.byOffset[i] = -1
	}
	for d.pos < len(code) {
		in, err := d.instruction()
		if err != nil {
			return nil, err
		}
		l.byOffset[in.Offset] = len(l.Instructions)
		l.Instructions = append(l.Instructions, in)
	}
	return l, nil
}

type decoder struct {
	code  []byte
	pos   int
	start int
}

func (d *decoder) fail(format string, args ...interface{}) error {
	return &DecodeError{Offset: d.start, Reason: fmt.Sprintf(format, args...)}
}

func (d *decoder) need(n int) error {
	if d.pos+n > len(d.code) {
		return d.fail("%s operands run past the end of the code", Opcode(d.code[d.start]))
	}
	return nil
}

func (d *decoder) u1() (int, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.code[d.pos]
	d.pos++
	return int(v), nil
}

func (d *decoder) s1() (int32, error) {
	v, err := d.u1()
	return int32(int8(v)), err
}

func (d *decoder) u2() (int, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.code[d.pos:])
	d.pos += 2
	return int(v), nil
}

func (d *decoder) s2() (int32, error) {
	v, err := d.u2()
	return int32(int16(v)), err
}

func (d *decoder) s4() (int32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.code[d.pos:])
	d.pos += 4
	return int32(v), nil
}

func (d *decoder) instruction() (Instruction, error) {
	d.start = d.pos
	op := Opcode(d.code[d.pos])
	d.pos++
	if !op.Valid() {
		return Instruction{}, d.fail("unknown opcode 0x%02x", uint8(op))
	}
	in := Instruction{Offset: d.start, Opcode: op}
	var err error
	switch op.Format() {
	case FormatNone:
		in.Index = implicitLocal(op)
	case FormatByte:
		in.Const, err = d.s1()
	case FormatShort:
		in.Const, err = d.s2()
	case FormatConstant1, FormatLocal, FormatArrayType:
		in.Index, err = d.u1()
	case FormatConstant2:
		in.Index, err = d.u2()
	case FormatBranch:
		var rel int32
		rel, err = d.s2()
		in.Target = d.start + int(rel)
	case FormatBranchWide:
		var rel int32
		rel, err = d.s4()
		in.Target = d.start + int(rel)
	case FormatIinc:
		if in.Index, err = d.u1(); err == nil {
			in.Const, err = d.s1()
		}
	case FormatInvokeInterface:
		if in.Index, err = d.u2(); err == nil {
			var count int
			if count, err = d.u1(); err == nil {
				in.Const = int32(count)
				in.Pad, err = d.u1()
			}
		}
	case FormatInvokeDynamic:
		if in.Index, err = d.u2(); err == nil {
			in.Pad, err = d.u2()
		}
	case FormatMultiANewArray:
		if in.Index, err = d.u2(); err == nil {
			var dims int
			dims, err = d.u1()
			in.Const = int32(dims)
		}
	case FormatTableSwitch:
		err = d.tableSwitch(&in)
	case FormatLookupSwitch:
		err = d.lookupSwitch(&in)
	case FormatWide:
		err = d.wide(&in)
	default:
		return Instruction{}, d.fail("opcode %s has no operand format", op)
	}
	if err != nil {
		return Instruction{}, err
	}
	in.Length = d.pos - d.start
	return in, nil
}

// implicitLocal returns the local index encoded in the _n forms of loads and stores.
func implicitLocal(op Opcode) int {
	switch {
	case op >= Iload0 && op <= Aload3:
		return int(op-Iload0) % 4
	case op >= Istore0 && op <= Astore3:
		return int(op-Istore0) % 4
	}
	return 0
}

func (d *decoder) align() error {
	for d.pos%4 != 0 {
		if _, err := d.u1(); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) tableSwitch(in *Instruction) error {
	if err := d.align(); err != nil {
		return err
	}
	def, err := d.s4()
	if err != nil {
		return err
	}
	low, err := d.s4()
	if err != nil {
		return err
	}
	high, err := d.s4()
	if err != nil {
		return err
	}
	if low > high {
		return d.fail("tableswitch low %d is greater than high %d", low, high)
	}
	n := int64(high) - int64(low) + 1
	if n*4 > int64(len(d.code)-d.pos) {
		return d.fail("tableswitch with %d offsets runs past the end of the code", n)
	}
	in.Default = d.start + int(def)
	in.Keys = make([]int32, 0, n)
	in.Targets = make([]int, 0, n)
	for i := int64(0); i < n; i++ {
		rel, err := d.s4()
		if err != nil {
			return err
		}
		in.Keys = append(in.Keys, int32(int64(low)+i))
		in.Targets = append(in.Targets, d.start+int(rel))
	}
	return nil
}

func (d *decoder) lookupSwitch(in *Instruction) error {
	if err := d.align(); err != nil {
		return err
	}
	def, err := d.s4()
	if err != nil {
		return err
	}
	npairs, err := d.s4()
	if err != nil {
		return err
	}
	if npairs < 0 {
		return d.fail("lookupswitch has negative pair count %d", npairs)
	}
	if int64(npairs)*8 > int64(len(d.code)-d.pos) {
		return d.fail("lookupswitch with %d pairs runs past the end of the code", npairs)
	}
	in.Default = d.start + int(def)
	in.Keys = make([]int32, 0, npairs)
	in.Targets = make([]int, 0, npairs)
	for i := int32(0); i < npairs; i++ {
		key, err := d.s4()
		if err != nil {
			return err
		}
		rel, err := d.s4()
		if err != nil {
			return err
		}
		if i > 0 && key <= in.Keys[i-1] {
			return d.fail("lookupswitch keys are not strictly increasing at pair %d", i)
		}
		in.Keys = append(in.Keys, key)
		in.Targets = append(in.Targets, d.start+int(rel))
	}
	return nil
}

func (d *decoder) wide(in *Instruction) error {
	next, err := d.u1()
	if err != nil {
		return err
	}
	op := Opcode(next)
	in.Opcode = op
	in.Wide = true
	switch {
	case op == Iinc:
		if in.Index, err = d.u2(); err != nil {
			return err
		}
		in.Const, err = d.s2()
		return err
	case op.Format() == FormatLocal:
		in.Index, err = d.u2()
		return err
	}
	return d.fail("wide cannot modify %s", op)
}
