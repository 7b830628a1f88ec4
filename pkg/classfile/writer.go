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

package classfile

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// pool interns constants, reusing existing entries where an identical one is present.
type pool struct {
	cp    ConstantPool
	index map[Constant]uint16
}

func newPool(cp ConstantPool) *pool {
	p := &pool{index: make(map[Constant]uint16)}
	if len(cp) == 0 {
		cp = ConstantPool{{}}
	}
	p.cp = append(ConstantPool(nil), cp...)
	for i := len(p.cp) - 1; i > 0; i-- {
		if p.cp[i].Tag != TagInvalid {
			p.index[p.cp[i]] = uint16(i)
		}
	}
	return p
}

func (p *pool) add(c Constant) uint16 {
	if i, ok := p.index[c]; ok {
		return i
	}
	i := uint16(len(p.cp))
	p.cp = append(p.cp, c)
	if c.Wide() {
		p.cp = append(p.cp, Constant{})
	}
	p.index[c] = i
	return i
}

func (p *pool) utf8(s string) uint16 {
	return p.add(Constant{Tag: TagUtf8, Utf8: s})
}

type writer struct {
	bytes.Buffer
}

func (w *writer) u1(v uint8) {
	w.WriteByte(v)
}

func (w *writer) u2(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func (w *writer) u4(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

// Bytes serializes the class file. Utf8 entries needed for member and attribute names that are
// missing from the constant pool are appended to it; the receiver is not modified.
func (cf *ClassFile) Bytes() ([]byte, error) {
	p := newPool(cf.ConstantPool)
	body := &writer{}
	body.u2(cf.AccessFlags)
	body.u2(cf.ThisClass)
	body.u2(cf.SuperClass)
	body.u2(uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		body.u2(i)
	}
	for _, members := range [][]Member{cf.Fields, cf.Methods} {
		body.u2(uint16(len(members)))
		for _, m := range members {
			if err := writeMember(body, p, m); err != nil {
				return nil, err
			}
		}
	}
	writeAttributes(body, p, cf.Attributes)

	if len(p.cp) > math.MaxUint16 {
		return nil, errors.Errorf("constant pool has %d entries, more than the class file format allows", len(p.cp))
	}
	out := &writer{}
	out.u4(Magic)
	out.u2(cf.MinorVersion)
	out.u2(cf.MajorVersion)
	if err := writeConstantPool(out, p.cp); err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Buffer.Bytes(), nil
}

func writeConstantPool(w *writer, cp ConstantPool) error {
	w.u2(uint16(len(cp)))
	for i := 1; i < len(cp); i++ {
		c := cp[i]
		w.u1(uint8(c.Tag))
		switch c.Tag {
		case TagUtf8:
			if len(c.Utf8) > math.MaxUint16 {
				return errors.Errorf("Utf8 constant %d is %d bytes long", i, len(c.Utf8))
			}
			w.u2(uint16(len(c.Utf8)))
			w.WriteString(c.Utf8)
		case TagInteger:
			w.u4(uint32(c.Int))
		case TagFloat:
			w.u4(math.Float32bits(c.Float))
		case TagLong:
			w.u4(uint32(uint64(c.Long) >> 32))
			w.u4(uint32(c.Long))
			i++
		case TagDouble:
			bits := math.Float64bits(c.Double)
			w.u4(uint32(bits >> 32))
			w.u4(uint32(bits))
			i++
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.u2(c.Index)
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			w.u2(c.Index)
			w.u2(c.Index2)
		case TagMethodHandle:
			w.u1(c.RefKind)
			w.u2(c.Index)
		default:
			return errors.Errorf("cannot write constant %d with tag %s", i, c.Tag)
		}
	}
	return nil
}

func writeMember(w *writer, p *pool, m Member) error {
	w.u2(m.AccessFlags)
	w.u2(p.utf8(m.Name))
	w.u2(p.utf8(m.Descriptor))
	attrs := make([]Attribute, 0, len(m.Attributes)+2)
	if m.Code != nil {
		data, err := encodeCode(p, m.Code)
		if err != nil {
			return errors.Wrapf(err, "writing Code of %s%s", m.Name, m.Descriptor)
		}
		attrs = append(attrs, Attribute{Name: AttrCode, Data: data})
	}
	if m.Exceptions != nil {
		e := &writer{}
		e.u2(uint16(len(m.Exceptions)))
		for _, name := range m.Exceptions {
			e.u2(p.add(Constant{Tag: TagClass, Index: p.utf8(name)}))
		}
		attrs = append(attrs, Attribute{Name: AttrExceptions, Data: e.Bytes()})
	}
	attrs = append(attrs, m.Attributes...)
	writeAttributes(w, p, attrs)
	return nil
}

func writeAttributes(w *writer, p *pool, attrs []Attribute) {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(p.utf8(a.Name))
		w.u4(uint32(len(a.Data)))
		w.Write(a.Data)
	}
}

func encodeCode(p *pool, c *Code) ([]byte, error) {
	if len(c.Bytecode) > math.MaxInt32 {
		return nil, errors.New("code too long")
	}
	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Bytecode)))
	w.Write(c.Bytecode)
	w.u2(uint16(len(c.ExceptionTable)))
	for _, e := range c.ExceptionTable {
		w.u2(e.StartPC)
		w.u2(e.EndPC)
		w.u2(e.HandlerPC)
		w.u2(e.CatchType)
	}
	var attrs []Attribute
	if len(c.LineNumbers) > 0 {
		lw := &writer{}
		lw.u2(uint16(len(c.LineNumbers)))
		for _, l := range c.LineNumbers {
			lw.u2(l.StartPC)
			lw.u2(l.Line)
		}
		attrs = append(attrs, Attribute{Name: AttrLineNumberTable, Data: lw.Bytes()})
	}
	if len(c.LocalVariables) > 0 {
		vw := &writer{}
		vw.u2(uint16(len(c.LocalVariables)))
		for _, v := range c.LocalVariables {
			vw.u2(v.StartPC)
			vw.u2(v.Length)
			vw.u2(p.utf8(v.Name))
			vw.u2(p.utf8(v.Descriptor))
			vw.u2(v.Index)
		}
		attrs = append(attrs, Attribute{Name: AttrLocalVariableTable, Data: vw.Bytes()})
	}
	attrs = append(attrs, c.Attributes...)
	writeAttributes(w, p, attrs)
	return w.Bytes(), nil
}
