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
	"fmt"

	"github.com/pkg/errors"
)

// ConstantTag identifies the kind of a constant pool entry.
type ConstantTag uint8

const (
	TagInvalid            ConstantTag = 0
	TagUtf8               ConstantTag = 1
	TagInteger            ConstantTag = 3
	TagFloat              ConstantTag = 4
	TagLong               ConstantTag = 5
	TagDouble             ConstantTag = 6
	TagClass              ConstantTag = 7
	TagString             ConstantTag = 8
	TagFieldref           ConstantTag = 9
	TagMethodref          ConstantTag = 10
	TagInterfaceMethodref ConstantTag = 11
	TagNameAndType        ConstantTag = 12
	TagMethodHandle       ConstantTag = 15
	TagMethodType         ConstantTag = 16
	TagDynamic            ConstantTag = 17
	TagInvokeDynamic      ConstantTag = 18
	TagModule             ConstantTag = 19
	TagPackage            ConstantTag = 20
)

var tagNames = map[ConstantTag]string{
	TagInvalid:            "Invalid",
	TagUtf8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldref:           "Fieldref",
	TagMethodref:          "Methodref",
	TagInterfaceMethodref: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagDynamic:            "Dynamic",
	TagInvokeDynamic:      "InvokeDynamic",
	TagModule:             "Module",
	TagPackage:            "Package",
}

func (t ConstantTag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Constant is a single constant pool entry. Which payload fields are meaningful depends on Tag:
//   - Utf8: Utf8
//   - Integer, Float, Long, Double: Int, Float, Long, Double
//   - Class, String, MethodType, Module, Package: Index (a Utf8 entry)
//   - Fieldref, Methodref, InterfaceMethodref: Index (Class), Index2 (NameAndType)
//   - NameAndType: Index (name Utf8), Index2 (descriptor Utf8)
//   - MethodHandle: RefKind, Index (a member reference)
//   - Dynamic, InvokeDynamic: Index (bootstrap method attribute index), Index2 (NameAndType)
type Constant struct {
	Tag     ConstantTag
	Utf8    string
	Int     int32
	Float   float32
	Long    int64
	Double  float64
	Index   uint16
	Index2  uint16
	RefKind uint8
}

// Wide reports whether the constant occupies two constant pool slots.
func (c Constant) Wide() bool {
	return c.Tag == TagLong || c.Tag == TagDouble
}

// ConstantPool is indexed exactly as in the class file: entry 0 is unused, as is the
// slot following every Long and Double.
type ConstantPool []Constant

// Get returns the entry at index i or an error if the index does not name a usable entry.
func (cp ConstantPool) Get(i uint16) (Constant, error) {
	if i == 0 || int(i) >= len(cp) {
		return Constant{}, errors.Errorf("constant pool index %d out of range [1, %d)", i, len(cp))
	}
	c := cp[i]
	if c.Tag == TagInvalid {
		return Constant{}, errors.Errorf("constant pool index %d refers to an unusable slot", i)
	}
	return c, nil
}

// Tag returns the tag at index i, or TagInvalid if i is out of range.
func (cp ConstantPool) Tag(i uint16) ConstantTag {
	if i == 0 || int(i) >= len(cp) {
		return TagInvalid
	}
	return cp[i].Tag
}

func (cp ConstantPool) expect(i uint16, tag ConstantTag) (Constant, error) {
	c, err := cp.Get(i)
	if err != nil {
		return Constant{}, err
	}
	if c.Tag != tag {
		return Constant{}, errors.Errorf("constant pool index %d is %s, expected %s", i, c.Tag, tag)
	}
	return c, nil
}

// Utf8 returns the string stored at a Utf8 entry.
func (cp ConstantPool) Utf8(i uint16) (string, error) {
	c, err := cp.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Utf8, nil
}

// ClassName returns the internal name (or array descriptor) referenced by a Class entry.
func (cp ConstantPool) ClassName(i uint16) (string, error) {
	c, err := cp.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return cp.Utf8(c.Index)
}

// String returns the value of a String entry.
func (cp ConstantPool) String(i uint16) (string, error) {
	c, err := cp.expect(i, TagString)
	if err != nil {
		return "", err
	}
	return cp.Utf8(c.Index)
}

// NameAndType returns the name and descriptor of a NameAndType entry.
func (cp ConstantPool) NameAndType(i uint16) (string, string, error) {
	c, err := cp.expect(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	name, err := cp.Utf8(c.Index)
	if err != nil {
		return "", "", err
	}
	desc, err := cp.Utf8(c.Index2)
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef describes a resolved Fieldref, Methodref or InterfaceMethodref entry.
type MemberRef struct {
	Tag        ConstantTag
	Class      string
	Name       string
	Descriptor string
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref entry.
func (cp ConstantPool) MemberRef(i uint16) (MemberRef, error) {
	c, err := cp.Get(i)
	if err != nil {
		return MemberRef{}, err
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return MemberRef{}, errors.Errorf("constant pool index %d is %s, expected a member reference", i, c.Tag)
	}
	class, err := cp.ClassName(c.Index)
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := cp.NameAndType(c.Index2)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{Tag: c.Tag, Class: class, Name: name, Descriptor: desc}, nil
}

// DynamicRef resolves the name and descriptor of a Dynamic or InvokeDynamic entry.
func (cp ConstantPool) DynamicRef(i uint16) (string, string, error) {
	c, err := cp.Get(i)
	if err != nil {
		return "", "", err
	}
	if c.Tag != TagDynamic && c.Tag != TagInvokeDynamic {
		return "", "", errors.Errorf("constant pool index %d is %s, expected Dynamic or InvokeDynamic", i, c.Tag)
	}
	return cp.NameAndType(c.Index2)
}
