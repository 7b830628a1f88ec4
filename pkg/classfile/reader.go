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
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// FormatError is returned by Parse when the input is not a well-formed class file.
type FormatError struct {
	Offset int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed class file at byte %d: %s", e.Offset, e.Reason)
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) fail(format string, args ...interface{}) error {
	return &FormatError{Offset: r.pos, Reason: fmt.Sprintf(format, args...)}
}

func (r *reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return r.fail("unexpected end of data reading %d bytes", n)
	}
	return nil
}

func (r *reader) u1() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u2() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u4() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// Parse decodes a class file. Utf8 constants are kept as their raw modified UTF-8 bytes so that
// Bytes reproduces the input exactly.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{data: data}
	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, r.fail("bad magic number 0x%08X", magic)
	}
	cf := &ClassFile{}
	if cf.MinorVersion, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.MajorVersion, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.MajorVersion < MinMajorVersion {
		return nil, r.fail("unsupported class file version %d.%d", cf.MajorVersion, cf.MinorVersion)
	}
	if cf.ConstantPool, err = r.constantPool(); err != nil {
		return nil, err
	}
	if cf.AccessFlags, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.ThisClass, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.SuperClass, err = r.u2(); err != nil {
		return nil, err
	}
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		cf.Interfaces = append(cf.Interfaces, idx)
	}
	if cf.Fields, err = r.members(cf.ConstantPool); err != nil {
		return nil, errors.Wrap(err, "reading fields")
	}
	if cf.Methods, err = r.members(cf.ConstantPool); err != nil {
		return nil, errors.Wrap(err, "reading methods")
	}
	if cf.Attributes, err = r.attributes(cf.ConstantPool); err != nil {
		return nil, errors.Wrap(err, "reading class attributes")
	}
	if r.pos != len(r.data) {
		return nil, r.fail("%d trailing bytes after class file", len(r.data)-r.pos)
	}
	return cf, nil
}

func (r *reader) constantPool() (ConstantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, r.fail("constant pool count must be at least 1")
	}
	cp := make(ConstantPool, count)
	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		c := Constant{Tag: ConstantTag(tag)}
		switch c.Tag {
		case TagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			raw, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			c.Utf8 = string(raw)
		case TagInteger:
			v, err := r.u4()
			if err != nil {
				return nil, err
			}
			c.Int = int32(v)
		case TagFloat:
			v, err := r.u4()
			if err != nil {
				return nil, err
			}
			c.Float = math.Float32frombits(v)
		case TagLong, TagDouble:
			hi, err := r.u4()
			if err != nil {
				return nil, err
			}
			lo, err := r.u4()
			if err != nil {
				return nil, err
			}
			v := uint64(hi)<<32 | uint64(lo)
			if c.Tag == TagLong {
				c.Long = int64(v)
			} else {
				c.Double = math.Float64frombits(v)
			}
			if i+1 >= int(count) {
				return nil, r.fail("%s constant at index %d has no room for its second slot", c.Tag, i)
			}
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			if c.Index, err = r.u2(); err != nil {
				return nil, err
			}
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			if c.Index, err = r.u2(); err != nil {
				return nil, err
			}
			if c.Index2, err = r.u2(); err != nil {
				return nil, err
			}
		case TagMethodHandle:
			if c.RefKind, err = r.u1(); err != nil {
				return nil, err
			}
			if c.Index, err = r.u2(); err != nil {
				return nil, err
			}
		default:
			return nil, r.fail("unknown constant pool tag %d at index %d", tag, i)
		}
		cp[i] = c
		if c.Wide() {
			i++
		}
	}
	return cp, nil
}

func (r *reader) members(cp ConstantPool) ([]Member, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, count)
	for i := 0; i < int(count); i++ {
		var m Member
		if m.AccessFlags, err = r.u2(); err != nil {
			return nil, err
		}
		nameIndex, err := r.u2()
		if err != nil {
			return nil, err
		}
		descIndex, err := r.u2()
		if err != nil {
			return nil, err
		}
		if m.Name, err = cp.Utf8(nameIndex); err != nil {
			return nil, r.fail("member name: %v", err)
		}
		if m.Descriptor, err = cp.Utf8(descIndex); err != nil {
			return nil, r.fail("member descriptor: %v", err)
		}
		attrs, err := r.attributes(cp)
		if err != nil {
			return nil, errors.Wrapf(err, "reading attributes of %s%s", m.Name, m.Descriptor)
		}
		for _, attr := range attrs {
			switch attr.Name {
			case AttrCode:
				if m.Code != nil {
					return nil, r.fail("%s%s has more than one Code attribute", m.Name, m.Descriptor)
				}
				if m.Code, err = parseCode(attr.Data, cp); err != nil {
					return nil, errors.Wrapf(err, "reading Code of %s%s", m.Name, m.Descriptor)
				}
			case AttrExceptions:
				if m.Exceptions, err = parseExceptions(attr.Data, cp); err != nil {
					return nil, errors.Wrapf(err, "reading Exceptions of %s%s", m.Name, m.Descriptor)
				}
			default:
				m.Attributes = append(m.Attributes, attr)
			}
		}
		members = append(members, m)
	}
	return members, nil
}

func (r *reader) attributes(cp ConstantPool) ([]Attribute, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	var attrs []Attribute
	for i := 0; i < int(count); i++ {
		nameIndex, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, err := cp.Utf8(nameIndex)
		if err != nil {
			return nil, r.fail("attribute name: %v", err)
		}
		length, err := r.u4()
		if err != nil {
			return nil, err
		}
		if uint64(length) > uint64(len(r.data)-r.pos) {
			return nil, r.fail("attribute %s length %d exceeds remaining data", name, length)
		}
		data, err := r.bytes(int(length))
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, Attribute{Name: name, Data: data})
	}
	return attrs, nil
}

func parseCode(data []byte, cp ConstantPool) (*Code, error) {
	r := &reader{data: data}
	c := &Code{}
	var err error
	if c.MaxStack, err = r.u2(); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = r.u2(); err != nil {
		return nil, err
	}
	length, err := r.u4()
	if err != nil {
		return nil, err
	}
	if uint64(length) > uint64(len(data)-r.pos) {
		return nil, r.fail("code length %d exceeds attribute", length)
	}
	if c.Bytecode, err = r.bytes(int(length)); err != nil {
		return nil, err
	}
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		var e ExceptionTableEntry
		if e.StartPC, err = r.u2(); err != nil {
			return nil, err
		}
		if e.EndPC, err = r.u2(); err != nil {
			return nil, err
		}
		if e.HandlerPC, err = r.u2(); err != nil {
			return nil, err
		}
		if e.CatchType, err = r.u2(); err != nil {
			return nil, err
		}
		c.ExceptionTable = append(c.ExceptionTable, e)
	}
	attrs, err := r.attributes(cp)
	if err != nil {
		return nil, err
	}
	for _, attr := range attrs {
		switch attr.Name {
		case AttrLineNumberTable:
			lines, err := parseLineNumbers(attr.Data)
			if err != nil {
				return nil, err
			}
			c.LineNumbers = append(c.LineNumbers, lines...)
		case AttrLocalVariableTable:
			vars, err := parseLocalVariables(attr.Data, cp)
			if err != nil {
				return nil, err
			}
			c.LocalVariables = append(c.LocalVariables, vars...)
		default:
			c.Attributes = append(c.Attributes, attr)
		}
	}
	if r.pos != len(data) {
		return nil, r.fail("%d trailing bytes in Code attribute", len(data)-r.pos)
	}
	return c, nil
}

func parseExceptions(data []byte, cp ConstantPool) ([]string, error) {
	r := &reader{data: data}
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, err := cp.ClassName(idx)
		if err != nil {
			return nil, r.fail("exception class: %v", err)
		}
		names = append(names, name)
	}
	return names, nil
}

func parseLineNumbers(data []byte) ([]LineNumber, error) {
	r := &reader{data: data}
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	lines := make([]LineNumber, 0, count)
	for i := 0; i < int(count); i++ {
		var l LineNumber
		if l.StartPC, err = r.u2(); err != nil {
			return nil, err
		}
		if l.Line, err = r.u2(); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, nil
}

func parseLocalVariables(data []byte, cp ConstantPool) ([]LocalVariable, error) {
	r := &reader{data: data}
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	vars := make([]LocalVariable, 0, count)
	for i := 0; i < int(count); i++ {
		var v LocalVariable
		if v.StartPC, err = r.u2(); err != nil {
			return nil, err
		}
		if v.Length, err = r.u2(); err != nil {
			return nil, err
		}
		nameIndex, err := r.u2()
		if err != nil {
			return nil, err
		}
		descIndex, err := r.u2()
		if err != nil {
			return nil, err
		}
		if v.Index, err = r.u2(); err != nil {
			return nil, err
		}
		if v.Name, err = cp.Utf8(nameIndex); err != nil {
			return nil, r.fail("local variable name: %v", err)
		}
		if v.Descriptor, err = cp.Utf8(descIndex); err != nil {
			return nil, r.fail("local variable descriptor: %v", err)
		}
		vars = append(vars, v)
	}
	return vars, nil
}
