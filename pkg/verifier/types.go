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
	"strings"
)

// Kind enumerates the verification types.
type Kind uint8

const (
	// KindTop is an unusable value: an unset local, a local invalidated by a merge, or the
	// second slot of a long or double.
	KindTop Kind = iota
	KindInt
	KindFloat
	KindLong
	KindDouble
	KindNull
	KindReference
	KindUninitialized
	KindUninitializedThis
	KindReturnAddress
)

// Type is a verification type. Name is the internal class name or array descriptor of
// references and the allocated class of uninitialized values; PC is the offset of the
// creating new for Uninitialized and the subroutine entry for ReturnAddress.
type Type struct {
	Kind Kind
	Name string
	PC   int
}

var (
	Top    = Type{Kind: KindTop}
	Int    = Type{Kind: KindInt}
	Float  = Type{Kind: KindFloat}
	Long   = Type{Kind: KindLong}
	Double = Type{Kind: KindDouble}
	Null   = Type{Kind: KindNull}
)

const (
	objectClass       = "java/lang/Object"
	throwableClass    = "java/lang/Throwable"
	stringClass       = "java/lang/String"
	classClass        = "java/lang/Class"
	cloneableClass    = "java/lang/Cloneable"
	serializableClass = "java/io/Serializable"
	methodTypeClass   = "java/lang/invoke/MethodType"
	methodHandleClass = "java/lang/invoke/MethodHandle"
)

func Reference(name string) Type {
	return Type{Kind: KindReference, Name: name}
}

func Uninitialized(pc int, class string) Type {
	return Type{Kind: KindUninitialized, Name: class, PC: pc}
}

func UninitializedThis(class string) Type {
	return Type{Kind: KindUninitializedThis, Name: class}
}

func ReturnAddress(subroutine int) Type {
	return Type{Kind: KindReturnAddress, PC: subroutine}
}

// FromDescriptor returns the verification type of a field descriptor. boolean, byte, char and
// short are all Int.
func FromDescriptor(desc string) Type {
	if desc == "" {
		return Top
	}
	switch desc[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return Int
	case 'F':
		return Float
	case 'J':
		return Long
	case 'D':
		return Double
	case 'L':
		return Reference(strings.TrimSuffix(desc[1:], ";"))
	case '[':
		return Reference(desc)
	}
	return Top
}

// descriptorOf returns the field descriptor of a class name or array descriptor.
func descriptorOf(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

// ArrayOf returns the array type whose components are t.
func ArrayOf(t Type) Type {
	switch t.Kind {
	case KindInt:
		return Reference("[I")
	case KindFloat:
		return Reference("[F")
	case KindLong:
		return Reference("[J")
	case KindDouble:
		return Reference("[D")
	}
	return Reference("[" + descriptorOf(t.Name))
}

// Size returns the number of slots t occupies.
func (t Type) Size() int {
	if t.Kind == KindLong || t.Kind == KindDouble {
		return 2
	}
	return 1
}

func (t Type) IsCategory2() bool {
	return t.Size() == 2
}

// IsReference reports whether t is an initialized reference or null.
func (t Type) IsReference() bool {
	return t.Kind == KindReference || t.Kind == KindNull
}

// IsUninitialized reports whether t is an object whose constructor has not completed.
func (t Type) IsUninitialized() bool {
	return t.Kind == KindUninitialized || t.Kind == KindUninitializedThis
}

func (t Type) IsArray() bool {
	return t.Kind == KindReference && strings.HasPrefix(t.Name, "[")
}

// Component returns the element type of an array type.
func (t Type) Component() (Type, bool) {
	if !t.IsArray() {
		return Top, false
	}
	return FromDescriptor(t.Name[1:]), true
}

// ComponentDescriptor returns the element descriptor of an array type, or "" if t is not an array.
func (t Type) ComponentDescriptor() string {
	if !t.IsArray() {
		return ""
	}
	return t.Name[1:]
}

func (t Type) String() string {
	switch t.Kind {
	case KindTop:
		return "top"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindNull:
		return "null"
	case KindReference:
		return t.Name
	case KindUninitialized:
		return fmt.Sprintf("uninitialized(%d, %s)", t.PC, t.Name)
	case KindUninitializedThis:
		return fmt.Sprintf("uninitializedThis(%s)", t.Name)
	case KindReturnAddress:
		return fmt.Sprintf("returnAddress(%d)", t.PC)
	}
	return fmt.Sprintf("Kind(%d)", t.Kind)
}
