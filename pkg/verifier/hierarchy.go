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
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/palantir/jvm-verifier/pkg/classfile"
	"github.com/pkg/errors"
)

// Resolver supplies the class hierarchy information the verifier needs. Implementations must
// be safe for concurrent use and should return a *ClassNotFoundError for unknown classes.
type Resolver interface {
	Resolve(name string) (*ClassInfo, error)
}

// ClassInfo describes a resolved class.
type ClassInfo struct {
	Name string
	// SuperName is empty only for java/lang/Object.
	SuperName   string
	Interfaces  []string
	AccessFlags uint16
	Fields      []MemberInfo
	Methods     []MemberInfo
}

type MemberInfo struct {
	Name        string
	Descriptor  string
	AccessFlags uint16
}

func (c *ClassInfo) IsInterface() bool {
	return c.AccessFlags&classfile.AccInterface != 0
}

func (c *ClassInfo) IsFinal() bool {
	return c.AccessFlags&classfile.AccFinal != 0
}

func (c *ClassInfo) IsPublic() bool {
	return c.AccessFlags&classfile.AccPublic != 0
}

func (c *ClassInfo) Package() string {
	return classfile.PackageName(c.Name)
}

// Field returns the named field declared by the class itself.
func (c *ClassInfo) Field(name, desc string) (MemberInfo, bool) {
	return findMember(c.Fields, name, desc)
}

// Method returns the named method declared by the class itself.
func (c *ClassInfo) Method(name, desc string) (MemberInfo, bool) {
	return findMember(c.Methods, name, desc)
}

func findMember(members []MemberInfo, name, desc string) (MemberInfo, bool) {
	for _, m := range members {
		if m.Name == name && m.Descriptor == desc {
			return m, true
		}
	}
	return MemberInfo{}, false
}

// ClassInfoOf extracts the hierarchy information of a parsed class.
func ClassInfoOf(cf *classfile.ClassFile) (*ClassInfo, error) {
	name, err := cf.Name()
	if err != nil {
		return nil, err
	}
	super, err := cf.SuperName()
	if err != nil {
		return nil, err
	}
	interfaces, err := cf.InterfaceNames()
	if err != nil {
		return nil, err
	}
	info := &ClassInfo{Name: name, SuperName: super, Interfaces: interfaces, AccessFlags: cf.AccessFlags}
	for _, f := range cf.Fields {
		info.Fields = append(info.Fields, MemberInfo{Name: f.Name, Descriptor: f.Descriptor, AccessFlags: f.AccessFlags})
	}
	for _, m := range cf.Methods {
		info.Methods = append(info.Methods, MemberInfo{Name: m.Name, Descriptor: m.Descriptor, AccessFlags: m.AccessFlags})
	}
	return info, nil
}

// hierarchy answers subtype questions, consulting the class under verification before the
// resolver.
type hierarchy struct {
	resolver Resolver
	self     *ClassInfo
}

func (h *hierarchy) resolve(name string) (*ClassInfo, error) {
	if h.self != nil && name == h.self.Name {
		return h.self, nil
	}
	info, err := h.resolver.Resolve(name)
	if err != nil {
		if IsClassNotFound(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "resolving %s", name)
	}
	if info == nil {
		return nil, &ClassNotFoundError{Name: name}
	}
	return info, nil
}

// isSubclass reports whether sub is super or extends it through the superclass chain.
func (h *hierarchy) isSubclass(sub, super string) (bool, error) {
	visited := mapset.NewThreadUnsafeSet[string]()
	for name := sub; name != "" && visited.Add(name); {
		if name == super {
			return true, nil
		}
		info, err := h.resolve(name)
		if err != nil {
			return false, err
		}
		name = info.SuperName
	}
	return false, nil
}

// isAssignable reports whether a value of type from may be used where to is expected.
// Interface targets accept every reference, as the JVM defers that check to run time.
func (h *hierarchy) isAssignable(from, to Type) (bool, error) {
	if from == to {
		return true, nil
	}
	switch to.Kind {
	case KindReference:
		switch from.Kind {
		case KindNull:
			return true, nil
		case KindReference:
			return h.isReferenceAssignable(from.Name, to.Name)
		}
	}
	return false, nil
}

func (h *hierarchy) isReferenceAssignable(from, to string) (bool, error) {
	if from == to || to == objectClass {
		return true, nil
	}
	fromArray, toArray := strings.HasPrefix(from, "["), strings.HasPrefix(to, "[")
	switch {
	case toArray && !fromArray:
		return false, nil
	case toArray:
		fc, tc := from[1:], to[1:]
		if !isReferenceDescriptor(fc) || !isReferenceDescriptor(tc) {
			return fc == tc, nil
		}
		return h.isAssignable(FromDescriptor(fc), FromDescriptor(tc))
	case fromArray:
		return to == cloneableClass || to == serializableClass, nil
	}
	target, err := h.resolve(to)
	if err != nil {
		return false, err
	}
	if target.IsInterface() {
		return true, nil
	}
	return h.isSubclass(from, to)
}

func isReferenceDescriptor(desc string) bool {
	return strings.HasPrefix(desc, "L") || strings.HasPrefix(desc, "[")
}

// commonSuperclass returns the nearest class both references extend. Interfaces join to
// java/lang/Object.
func (h *hierarchy) commonSuperclass(a, b string) (string, error) {
	if a == b {
		return a, nil
	}
	aArray, bArray := strings.HasPrefix(a, "["), strings.HasPrefix(b, "[")
	if aArray || bArray {
		if !aArray || !bArray {
			return objectClass, nil
		}
		ac, bc := a[1:], b[1:]
		if !isReferenceDescriptor(ac) || !isReferenceDescriptor(bc) {
			return objectClass, nil
		}
		joined, err := h.commonSuperclass(FromDescriptor(ac).Name, FromDescriptor(bc).Name)
		if err != nil {
			return "", err
		}
		return "[" + descriptorOf(joined), nil
	}

	ancestors := mapset.NewThreadUnsafeSet[string]()
	for name := a; name != "" && !ancestors.Contains(name); {
		info, err := h.resolve(name)
		if err != nil {
			return "", err
		}
		if info.IsInterface() {
			return objectClass, nil
		}
		ancestors.Add(name)
		name = info.SuperName
	}
	visited := mapset.NewThreadUnsafeSet[string]()
	for name := b; name != "" && visited.Add(name); {
		if ancestors.Contains(name) {
			return name, nil
		}
		info, err := h.resolve(name)
		if err != nil {
			return "", err
		}
		if info.IsInterface() {
			return objectClass, nil
		}
		name = info.SuperName
	}
	return objectClass, nil
}

// join returns the least upper bound of two reference types.
func (h *hierarchy) join(a, b Type) (Type, error) {
	switch {
	case a.Kind == KindNull:
		return b, nil
	case b.Kind == KindNull:
		return a, nil
	}
	name, err := h.commonSuperclass(a.Name, b.Name)
	if err != nil {
		return Top, err
	}
	return Reference(name), nil
}
