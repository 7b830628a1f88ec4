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

	"github.com/palantir/jvm-verifier/pkg/classfile"
)

func classViolation(pass Pass, format string, args ...interface{}) error {
	return &ConstraintViolationError{Pass: pass, Offset: -1, Reason: fmt.Sprintf(format, args...)}
}

// checkPass1 accepts any class file that parsed, provided its version is one the verifier
// understands.
func checkPass1(cf *classfile.ClassFile) error {
	if cf.MajorVersion < classfile.MinMajorVersion {
		return classViolation(Pass1, "class file version %d.%d is older than %d.0", cf.MajorVersion, cf.MinorVersion, classfile.MinMajorVersion)
	}
	return nil
}

// checkPass2 enforces the static consistency of the class as a whole: constant pool cross
// references, the superclass chain and member declarations.
func checkPass2(cf *classfile.ClassFile, h *hierarchy) error {
	if err := checkConstantPool(cf.ConstantPool); err != nil {
		return err
	}
	name, err := cf.Name()
	if err != nil {
		return classViolation(Pass2, "this_class: %v", err)
	}
	super, err := cf.SuperName()
	if err != nil {
		return classViolation(Pass2, "super_class: %v", err)
	}
	switch {
	case super == "" && name != objectClass:
		return classViolation(Pass2, "%s has no superclass", name)
	case super != "" && name == objectClass:
		return classViolation(Pass2, "%s cannot have a superclass", objectClass)
	}
	if cf.IsInterface() && super != objectClass {
		return classViolation(Pass2, "interface %s must extend %s, not %s", name, objectClass, super)
	}
	if super != "" {
		info, err := h.resolve(super)
		if err != nil {
			return err
		}
		if info.IsFinal() {
			return classViolation(Pass2, "%s extends final class %s", name, super)
		}
		if info.IsInterface() {
			return classViolation(Pass2, "%s extends interface %s", name, super)
		}
		// a superclass chain that loops back to the class never terminates at Object
		if ok, err := h.isSubclass(super, name); err != nil {
			return err
		} else if ok {
			return classViolation(Pass2, "circular superclass chain through %s", name)
		}
	}
	interfaces, err := cf.InterfaceNames()
	if err != nil {
		return classViolation(Pass2, "interfaces: %v", err)
	}
	for _, i := range interfaces {
		info, err := h.resolve(i)
		if err != nil {
			return err
		}
		if !info.IsInterface() {
			return classViolation(Pass2, "%s implements %s, which is not an interface", name, i)
		}
	}

	seen := make(map[string]bool)
	for _, f := range cf.Fields {
		if !classfile.ValidFieldDescriptor(f.Descriptor) {
			return classViolation(Pass2, "field %s has invalid descriptor %q", f.Name, f.Descriptor)
		}
		key := "field " + f.Name + " " + f.Descriptor
		if seen[key] {
			return classViolation(Pass2, "duplicate field %s %s", f.Name, f.Descriptor)
		}
		seen[key] = true
	}
	for _, m := range cf.Methods {
		if _, err := classfile.ParseMethodDescriptor(m.Descriptor); err != nil {
			return classViolation(Pass2, "method %s: %v", m.Name, err)
		}
		key := "method " + m.Name + m.Descriptor
		if seen[key] {
			return classViolation(Pass2, "duplicate method %s%s", m.Name, m.Descriptor)
		}
		seen[key] = true
		bodiless := m.IsAbstract() || m.IsNative()
		switch {
		case bodiless && m.Code != nil:
			return classViolation(Pass2, "abstract or native method %s%s has a Code attribute", m.Name, m.Descriptor)
		case !bodiless && m.Code == nil:
			return classViolation(Pass2, "method %s%s has no Code attribute", m.Name, m.Descriptor)
		}
	}
	return nil
}

// checkConstantPool verifies that every entry refers only to entries of the kinds it requires.
func checkConstantPool(cp classfile.ConstantPool) error {
	expect := func(i int, ref uint16, tags ...classfile.ConstantTag) error {
		got := cp.Tag(ref)
		for _, t := range tags {
			if got == t {
				return nil
			}
		}
		return classViolation(Pass2, "constant pool entry %d (%s) refers to entry %d of kind %s, expected %v", i, cp[i].Tag, ref, got, tags)
	}
	for i := 1; i < len(cp); i++ {
		c := cp[i]
		var err error
		switch c.Tag {
		case classfile.TagClass, classfile.TagString, classfile.TagMethodType, classfile.TagModule, classfile.TagPackage:
			err = expect(i, c.Index, classfile.TagUtf8)
		case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
			if err = expect(i, c.Index, classfile.TagClass); err == nil {
				err = expect(i, c.Index2, classfile.TagNameAndType)
			}
		case classfile.TagNameAndType:
			if err = expect(i, c.Index, classfile.TagUtf8); err == nil {
				err = expect(i, c.Index2, classfile.TagUtf8)
			}
		case classfile.TagMethodHandle:
			if c.RefKind < 1 || c.RefKind > 9 {
				return classViolation(Pass2, "constant pool entry %d has invalid reference kind %d", i, c.RefKind)
			}
			err = expect(i, c.Index, classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref)
		case classfile.TagDynamic, classfile.TagInvokeDynamic:
			err = expect(i, c.Index2, classfile.TagNameAndType)
		}
		if err != nil {
			return err
		}
		if c.Tag == classfile.TagClass {
			name, _ := cp.Utf8(c.Index)
			if !classfile.ValidClassName(name) && !classfile.ValidFieldDescriptor(name) {
				return classViolation(Pass2, "constant pool entry %d names invalid class %q", i, name)
			}
		}
	}
	return nil
}
