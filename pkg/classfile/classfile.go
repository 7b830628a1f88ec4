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
	"strings"
)

const (
	Magic = 0xCAFEBABE

	// MinMajorVersion is the oldest class file version accepted by Parse (JDK 1.0.2).
	MinMajorVersion = 45
)

// Access flags shared by classes, fields and methods.
const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSuper        uint16 = 0x0020
	AccSynchronized uint16 = 0x0020
	AccVolatile     uint16 = 0x0040
	AccBridge       uint16 = 0x0040
	AccTransient    uint16 = 0x0080
	AccVarargs      uint16 = 0x0080
	AccNative       uint16 = 0x0100
	AccInterface    uint16 = 0x0200
	AccAbstract     uint16 = 0x0400
	AccStrict       uint16 = 0x0800
	AccSynthetic    uint16 = 0x1000
	AccAnnotation   uint16 = 0x2000
	AccEnum         uint16 = 0x4000
	AccModule       uint16 = 0x8000
)

const (
	AttrCode               = "Code"
	AttrExceptions         = "Exceptions"
	AttrLineNumberTable    = "LineNumberTable"
	AttrLocalVariableTable = "LocalVariableTable"
	AttrSourceFile         = "SourceFile"
)

// ClassFile is the in-memory model of a parsed class file.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool ConstantPool
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []Member
	Methods      []Member
	Attributes   []Attribute
}

// Member is a field or method.
type Member struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	// Code is set for methods carrying a Code attribute.
	Code *Code
	// Exceptions lists the internal names of the declared checked exceptions.
	Exceptions []string
	// Attributes holds every attribute other than Code and Exceptions, undecoded.
	Attributes []Attribute
}

// Attribute is an undecoded attribute.
type Attribute struct {
	Name string
	Data []byte
}

// Code is the decoded Code attribute of a method.
type Code struct {
	MaxStack       uint16
	MaxLocals      uint16
	Bytecode       []byte
	ExceptionTable []ExceptionTableEntry
	LineNumbers    []LineNumber
	LocalVariables []LocalVariable
	// Attributes holds the nested attributes that are not decoded above.
	Attributes []Attribute
}

// ExceptionTableEntry protects [StartPC, EndPC) with the handler at HandlerPC. A CatchType of
// zero catches everything.
type ExceptionTableEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

type LineNumber struct {
	StartPC uint16
	Line    uint16
}

type LocalVariable struct {
	StartPC    uint16
	Length     uint16
	Name       string
	Descriptor string
	Index      uint16
}

// Name returns the internal name of the class.
func (cf *ClassFile) Name() (string, error) {
	return cf.ConstantPool.ClassName(cf.ThisClass)
}

// SuperName returns the internal name of the superclass, or "" for java/lang/Object.
func (cf *ClassFile) SuperName() (string, error) {
	if cf.SuperClass == 0 {
		return "", nil
	}
	return cf.ConstantPool.ClassName(cf.SuperClass)
}

// InterfaceNames returns the internal names of the directly implemented interfaces.
func (cf *ClassFile) InterfaceNames() ([]string, error) {
	names := make([]string, 0, len(cf.Interfaces))
	for _, i := range cf.Interfaces {
		name, err := cf.ConstantPool.ClassName(i)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (cf *ClassFile) IsInterface() bool {
	return cf.AccessFlags&AccInterface != 0
}

// Method returns the first method with the given name and descriptor.
func (cf *ClassFile) Method(name, descriptor string) (*Member, bool) {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i], true
		}
	}
	return nil, false
}

func (m Member) IsStatic() bool {
	return m.AccessFlags&AccStatic != 0
}

func (m Member) IsAbstract() bool {
	return m.AccessFlags&AccAbstract != 0
}

func (m Member) IsNative() bool {
	return m.AccessFlags&AccNative != 0
}

// PackageName returns the package portion of an internal class name, e.g. "java/lang" for
// "java/lang/String".
func PackageName(internalName string) string {
	if i := strings.LastIndexByte(internalName, '/'); i >= 0 {
		return internalName[:i]
	}
	return ""
}
