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

	"github.com/pkg/errors"
)

// MethodDescriptor is a parsed method descriptor. Params and Return hold field descriptors;
// Return is "V" for void methods.
type MethodDescriptor struct {
	Params []string
	Return string
}

// ParseMethodDescriptor parses descriptors of the form "(I[Ljava/lang/String;)V".
func ParseMethodDescriptor(desc string) (MethodDescriptor, error) {
	if !strings.HasPrefix(desc, "(") {
		return MethodDescriptor{}, errors.Errorf("method descriptor %q does not start with '('", desc)
	}
	var md MethodDescriptor
	rest := desc[1:]
	for {
		if rest == "" {
			return MethodDescriptor{}, errors.Errorf("method descriptor %q has no closing ')'", desc)
		}
		if rest[0] == ')' {
			rest = rest[1:]
			break
		}
		n := fieldDescriptorLength(rest)
		if n == 0 {
			return MethodDescriptor{}, errors.Errorf("method descriptor %q has an invalid parameter at %q", desc, rest)
		}
		md.Params = append(md.Params, rest[:n])
		rest = rest[n:]
	}
	if rest == "V" {
		md.Return = rest
		return md, nil
	}
	if n := fieldDescriptorLength(rest); n == 0 || n != len(rest) {
		return MethodDescriptor{}, errors.Errorf("method descriptor %q has an invalid return type %q", desc, rest)
	}
	md.Return = rest
	return md, nil
}

// ValidFieldDescriptor reports whether desc is exactly one field descriptor.
func ValidFieldDescriptor(desc string) bool {
	n := fieldDescriptorLength(desc)
	return n > 0 && n == len(desc)
}

// fieldDescriptorLength returns the length of the field descriptor at the start of s, or 0 if
// s does not start with one.
func fieldDescriptorLength(s string) int {
	dims := 0
	for dims < len(s) && s[dims] == '[' {
		dims++
	}
	if dims > 255 || dims == len(s) {
		return 0
	}
	switch s[dims] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return dims + 1
	case 'L':
		end := strings.IndexByte(s[dims:], ';')
		if end <= 1 {
			return 0
		}
		if !ValidClassName(s[dims+1 : dims+end]) {
			return 0
		}
		return dims + end + 1
	}
	return 0
}

// ValidClassName reports whether name is a plausible internal class name.
func ValidClassName(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || strings.ContainsAny(part, ".;[") {
			return false
		}
	}
	return true
}

// SlotSize returns the number of local variable or operand stack slots a value of the given
// field descriptor occupies.
func SlotSize(desc string) int {
	switch desc {
	case "J", "D":
		return 2
	case "V":
		return 0
	}
	return 1
}

// ArgumentSlots returns the slots taken by the parameters of the method descriptor.
func (md MethodDescriptor) ArgumentSlots() int {
	n := 0
	for _, p := range md.Params {
		n += SlotSize(p)
	}
	return n
}

// ArrayDimensions returns the number of leading '[' in a descriptor.
func ArrayDimensions(desc string) int {
	n := 0
	for n < len(desc) && desc[n] == '[' {
		n++
	}
	return n
}
