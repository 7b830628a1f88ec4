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

// Builder synthesizes a ClassFile, interning constant pool entries as they are requested.
type Builder struct {
	pool *pool
	cf   ClassFile
}

// NewBuilder starts a class with the given internal name and superclass. An empty superName
// is only valid for java/lang/Object.
func NewBuilder(name, superName string, accessFlags uint16) *Builder {
	b := &Builder{pool: newPool(nil)}
	b.cf.MajorVersion = 49
	b.cf.AccessFlags = accessFlags
	b.cf.ThisClass = b.Class(name)
	if superName != "" {
		b.cf.SuperClass = b.Class(superName)
	}
	return b
}

// Version overrides the default class file version (49.0, the last without StackMapTable).
func (b *Builder) Version(major, minor uint16) *Builder {
	b.cf.MajorVersion, b.cf.MinorVersion = major, minor
	return b
}

func (b *Builder) Utf8(s string) uint16 {
	return b.pool.utf8(s)
}

func (b *Builder) Class(name string) uint16 {
	return b.pool.add(Constant{Tag: TagClass, Index: b.Utf8(name)})
}

func (b *Builder) String(s string) uint16 {
	return b.pool.add(Constant{Tag: TagString, Index: b.Utf8(s)})
}

func (b *Builder) Integer(v int32) uint16 {
	return b.pool.add(Constant{Tag: TagInteger, Int: v})
}

func (b *Builder) Float(v float32) uint16 {
	return b.pool.add(Constant{Tag: TagFloat, Float: v})
}

func (b *Builder) Long(v int64) uint16 {
	return b.pool.add(Constant{Tag: TagLong, Long: v})
}

func (b *Builder) Double(v float64) uint16 {
	return b.pool.add(Constant{Tag: TagDouble, Double: v})
}

func (b *Builder) NameAndType(name, desc string) uint16 {
	return b.pool.add(Constant{Tag: TagNameAndType, Index: b.Utf8(name), Index2: b.Utf8(desc)})
}

func (b *Builder) Fieldref(class, name, desc string) uint16 {
	return b.memberRef(TagFieldref, class, name, desc)
}

func (b *Builder) Methodref(class, name, desc string) uint16 {
	return b.memberRef(TagMethodref, class, name, desc)
}

func (b *Builder) InterfaceMethodref(class, name, desc string) uint16 {
	return b.memberRef(TagInterfaceMethodref, class, name, desc)
}

func (b *Builder) memberRef(tag ConstantTag, class, name, desc string) uint16 {
	return b.pool.add(Constant{Tag: tag, Index: b.Class(class), Index2: b.NameAndType(name, desc)})
}

func (b *Builder) MethodType(desc string) uint16 {
	return b.pool.add(Constant{Tag: TagMethodType, Index: b.Utf8(desc)})
}

func (b *Builder) MethodHandle(kind uint8, ref uint16) uint16 {
	return b.pool.add(Constant{Tag: TagMethodHandle, RefKind: kind, Index: ref})
}

// Dynamic adds a Dynamic (tag 17) or InvokeDynamic (tag 18) entry.
func (b *Builder) Dynamic(tag ConstantTag, bootstrapIndex uint16, name, desc string) uint16 {
	return b.pool.add(Constant{Tag: tag, Index: bootstrapIndex, Index2: b.NameAndType(name, desc)})
}

// Constant appends an arbitrary entry, e.g. a Module or Package constant.
func (b *Builder) Constant(c Constant) uint16 {
	return b.pool.add(c)
}

func (b *Builder) Interface(name string) *Builder {
	b.cf.Interfaces = append(b.cf.Interfaces, b.Class(name))
	return b
}

func (b *Builder) AddField(accessFlags uint16, name, desc string) *Builder {
	b.Utf8(name)
	b.Utf8(desc)
	b.cf.Fields = append(b.cf.Fields, Member{AccessFlags: accessFlags, Name: name, Descriptor: desc})
	return b
}

// AddMethod adds a method; code is nil for abstract and native methods.
func (b *Builder) AddMethod(accessFlags uint16, name, desc string, code *Code) *Builder {
	b.Utf8(name)
	b.Utf8(desc)
	if code != nil {
		b.Utf8(AttrCode)
	}
	b.cf.Methods = append(b.cf.Methods, Member{AccessFlags: accessFlags, Name: name, Descriptor: desc, Code: code})
	return b
}

// Build returns the synthesized class. The builder may continue to be used afterwards.
func (b *Builder) Build() *ClassFile {
	cf := b.cf
	cf.ConstantPool = append(ConstantPool(nil), b.pool.cp...)
	cf.Interfaces = append([]uint16(nil), b.cf.Interfaces...)
	cf.Fields = append([]Member(nil), b.cf.Fields...)
	cf.Methods = append([]Member(nil), b.cf.Methods...)
	return &cf
}
