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

package java

import (
	"github.com/palantir/jvm-verifier/pkg/classfile"
	"github.com/palantir/jvm-verifier/pkg/verifier"
)

// Bootstrap resolves the core platform classes that are never found on a class path.
var Bootstrap verifier.Resolver = bootstrapResolver{}

type bootstrapResolver struct{}

func (bootstrapResolver) Resolve(name string) (*verifier.ClassInfo, error) {
	if info, ok := bootstrapClasses[name]; ok {
		return info, nil
	}
	return nil, &verifier.ClassNotFoundError{Name: name}
}

// BootstrapClassNames returns the names of the classes Bootstrap describes.
func BootstrapClassNames() []string {
	names := make([]string, 0, len(bootstrapClasses))
	for _, c := range bootstrapDescriptions {
		names = append(names, c.Name)
	}
	return names
}

const (
	public    = classfile.AccPublic
	protected = classfile.AccProtected
	final     = classfile.AccPublic | classfile.AccFinal
	abstract  = classfile.AccPublic | classfile.AccAbstract
	iface     = classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract
)

func bootstrapClass(name, super string, flags uint16, interfaces ...string) *verifier.ClassInfo {
	return &verifier.ClassInfo{Name: name, SuperName: super, AccessFlags: flags, Interfaces: interfaces}
}

func withMethods(c *verifier.ClassInfo, methods ...verifier.MemberInfo) *verifier.ClassInfo {
	c.Methods = append(c.Methods, methods...)
	return c
}

func method(flags uint16, name, desc string) verifier.MemberInfo {
	return verifier.MemberInfo{Name: name, Descriptor: desc, AccessFlags: flags}
}

var bootstrapDescriptions = []*verifier.ClassInfo{
	withMethods(bootstrapClass("java/lang/Object", "", public),
		method(public, "<init>", "()V"),
		method(protected|classfile.AccNative, "clone", "()Ljava/lang/Object;"),
		method(protected, "finalize", "()V"),
		method(public, "equals", "(Ljava/lang/Object;)Z"),
		method(public|classfile.AccNative, "hashCode", "()I"),
		method(public, "toString", "()Ljava/lang/String;"),
		method(public|classfile.AccFinal|classfile.AccNative, "getClass", "()Ljava/lang/Class;"),
	),
	bootstrapClass("java/io/Serializable", "java/lang/Object", iface),
	bootstrapClass("java/lang/Cloneable", "java/lang/Object", iface),
	bootstrapClass("java/lang/Comparable", "java/lang/Object", iface),
	bootstrapClass("java/lang/CharSequence", "java/lang/Object", iface),
	bootstrapClass("java/lang/Runnable", "java/lang/Object", iface),
	bootstrapClass("java/lang/AutoCloseable", "java/lang/Object", iface),
	bootstrapClass("java/lang/Iterable", "java/lang/Object", iface),
	bootstrapClass("java/lang/reflect/Type", "java/lang/Object", iface),
	bootstrapClass("java/lang/String", "java/lang/Object", final,
		"java/io/Serializable", "java/lang/Comparable", "java/lang/CharSequence"),
	bootstrapClass("java/lang/Class", "java/lang/Object", final,
		"java/io/Serializable", "java/lang/reflect/Type"),
	bootstrapClass("java/lang/Number", "java/lang/Object", abstract, "java/io/Serializable"),
	bootstrapClass("java/lang/Boolean", "java/lang/Object", final, "java/io/Serializable", "java/lang/Comparable"),
	bootstrapClass("java/lang/Character", "java/lang/Object", final, "java/io/Serializable", "java/lang/Comparable"),
	bootstrapClass("java/lang/Byte", "java/lang/Number", final, "java/lang/Comparable"),
	bootstrapClass("java/lang/Short", "java/lang/Number", final, "java/lang/Comparable"),
	bootstrapClass("java/lang/Integer", "java/lang/Number", final, "java/lang/Comparable"),
	bootstrapClass("java/lang/Long", "java/lang/Number", final, "java/lang/Comparable"),
	bootstrapClass("java/lang/Float", "java/lang/Number", final, "java/lang/Comparable"),
	bootstrapClass("java/lang/Double", "java/lang/Number", final, "java/lang/Comparable"),
	bootstrapClass("java/lang/StringBuilder", "java/lang/Object", final, "java/io/Serializable", "java/lang/CharSequence"),
	bootstrapClass("java/lang/Enum", "java/lang/Object", abstract, "java/lang/Comparable", "java/io/Serializable"),
	bootstrapClass("java/lang/Record", "java/lang/Object", abstract),
	bootstrapClass("java/lang/System", "java/lang/Object", final),
	bootstrapClass("java/lang/Math", "java/lang/Object", final),
	bootstrapClass("java/lang/Thread", "java/lang/Object", public, "java/lang/Runnable"),
	bootstrapClass("java/lang/Throwable", "java/lang/Object", public, "java/io/Serializable"),
	bootstrapClass("java/lang/Exception", "java/lang/Throwable", public),
	bootstrapClass("java/lang/Error", "java/lang/Throwable", public),
	bootstrapClass("java/lang/RuntimeException", "java/lang/Exception", public),
	bootstrapClass("java/lang/ArithmeticException", "java/lang/RuntimeException", public),
	bootstrapClass("java/lang/ArrayIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException", public),
	bootstrapClass("java/lang/IndexOutOfBoundsException", "java/lang/RuntimeException", public),
	bootstrapClass("java/lang/ArrayStoreException", "java/lang/RuntimeException", public),
	bootstrapClass("java/lang/ClassCastException", "java/lang/RuntimeException", public),
	bootstrapClass("java/lang/IllegalArgumentException", "java/lang/RuntimeException", public),
	bootstrapClass("java/lang/IllegalStateException", "java/lang/RuntimeException", public),
	bootstrapClass("java/lang/NegativeArraySizeException", "java/lang/RuntimeException", public),
	bootstrapClass("java/lang/NullPointerException", "java/lang/RuntimeException", public),
	bootstrapClass("java/lang/UnsupportedOperationException", "java/lang/RuntimeException", public),
	bootstrapClass("java/lang/CloneNotSupportedException", "java/lang/Exception", public),
	bootstrapClass("java/lang/InterruptedException", "java/lang/Exception", public),
	bootstrapClass("java/lang/ReflectiveOperationException", "java/lang/Exception", public),
	bootstrapClass("java/lang/ClassNotFoundException", "java/lang/ReflectiveOperationException", public),
	bootstrapClass("java/io/IOException", "java/lang/Exception", public),
	bootstrapClass("java/lang/LinkageError", "java/lang/Error", public),
	bootstrapClass("java/lang/VerifyError", "java/lang/LinkageError", public),
	bootstrapClass("java/lang/AssertionError", "java/lang/Error", public),
	bootstrapClass("java/lang/invoke/MethodHandle", "java/lang/Object", abstract),
	bootstrapClass("java/lang/invoke/MethodType", "java/lang/Object", final, "java/io/Serializable"),
	bootstrapClass("java/lang/invoke/MethodHandles", "java/lang/Object", public),
	bootstrapClass("java/lang/invoke/CallSite", "java/lang/Object", abstract),
}

var bootstrapClasses = func() map[string]*verifier.ClassInfo {
	m := make(map[string]*verifier.ClassInfo, len(bootstrapDescriptions))
	for _, c := range bootstrapDescriptions {
		m[c.Name] = c
	}
	return m
}()
