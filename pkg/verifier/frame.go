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

// Frame is the abstract machine state before an instruction executes. Long and double values
// occupy two entries, the value followed by Top, in both Locals and Stack.
type Frame struct {
	Locals []Type
	Stack  []Type
	// ThisUninit is set inside a constructor until this has been initialized by a call to
	// another constructor of the same class or of the superclass.
	ThisUninit bool
}

// NewFrame returns a frame with maxLocals unusable locals and an empty stack.
func NewFrame(maxLocals int) *Frame {
	f := &Frame{Locals: make([]Type, maxLocals)}
	for i := range f.Locals {
		f.Locals[i] = Top
	}
	return f
}

func (f *Frame) Clone() *Frame {
	return &Frame{
		Locals:     append([]Type(nil), f.Locals...),
		Stack:      append(make([]Type, 0, len(f.Stack)+2), f.Stack...),
		ThisUninit: f.ThisUninit,
	}
}

func (f *Frame) Equal(o *Frame) bool {
	if f.ThisUninit != o.ThisUninit || len(f.Locals) != len(o.Locals) || len(f.Stack) != len(o.Stack) {
		return false
	}
	for i := range f.Locals {
		if f.Locals[i] != o.Locals[i] {
			return false
		}
	}
	for i := range f.Stack {
		if f.Stack[i] != o.Stack[i] {
			return false
		}
	}
	return true
}

func (f *Frame) String() string {
	var sb strings.Builder
	sb.WriteString("locals[")
	for i, t := range f.Locals {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.String())
	}
	sb.WriteString("] stack[")
	for i, t := range f.Stack {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.String())
	}
	sb.WriteString("]")
	return sb.String()
}

// push appends a value, followed by its continuation slot if it is a long or double.
func (f *Frame) push(t Type) {
	f.Stack = append(f.Stack, t)
	if t.IsCategory2() {
		f.Stack = append(f.Stack, Top)
	}
}

// pop removes and returns the top value, including both slots of a long or double.
func (f *Frame) pop() Type {
	n := len(f.Stack)
	if n >= 2 && f.Stack[n-1] == Top && f.Stack[n-2].IsCategory2() {
		t := f.Stack[n-2]
		f.Stack = f.Stack[:n-2]
		return t
	}
	t := f.Stack[n-1]
	f.Stack = f.Stack[:n-1]
	return t
}

func (f *Frame) popN(n int) {
	for i := 0; i < n; i++ {
		f.pop()
	}
}

// values returns the stack as values, collapsing the two entries of each long and double into
// one. The result is ordered bottom to top.
func (f *Frame) values() []Type {
	out := make([]Type, 0, len(f.Stack))
	for i := 0; i < len(f.Stack); i++ {
		out = append(out, f.Stack[i])
		if f.Stack[i].IsCategory2() {
			i++
		}
	}
	return out
}

// setLocal stores t at index, invalidating any long or double whose pair is overwritten.
func (f *Frame) setLocal(index int, t Type) {
	if index > 0 && f.Locals[index-1].IsCategory2() {
		f.Locals[index-1] = Top
	}
	f.Locals[index] = t
	if t.IsCategory2() {
		f.Locals[index+1] = Top
	}
}

// replace substitutes every occurrence of old, which is how initializing an object updates all
// copies of its uninitialized reference.
func (f *Frame) replace(old, initialized Type) {
	for i, t := range f.Locals {
		if t == old {
			f.Locals[i] = initialized
		}
	}
	for i, t := range f.Stack {
		if t == old {
			f.Stack[i] = initialized
		}
	}
}

func (f *Frame) contains(t Type) bool {
	for _, l := range f.Locals {
		if l == t {
			return true
		}
	}
	for _, s := range f.Stack {
		if s == t {
			return true
		}
	}
	return false
}

// normalizeLocals turns any long or double without its continuation slot into Top.
func (f *Frame) normalizeLocals() {
	for i, t := range f.Locals {
		if t.IsCategory2() && (i+1 >= len(f.Locals) || f.Locals[i+1] != Top) {
			f.Locals[i] = Top
		}
	}
}

// merge joins o into f and reports whether f changed. Stack slots must be compatible; locals
// that are not become Top.
func (f *Frame) merge(h *hierarchy, o *Frame) (bool, error) {
	if len(f.Stack) != len(o.Stack) {
		return false, &mergeConflict{reason: fmt.Sprintf("operand stack depths differ at merge: %d and %d", len(f.Stack), len(o.Stack))}
	}
	if len(f.Locals) != len(o.Locals) {
		return false, internalf("frames with %d and %d locals merged", len(f.Locals), len(o.Locals))
	}
	changed := false
	for i := range f.Stack {
		t, err := mergeStack(h, f.Stack[i], o.Stack[i])
		if err != nil {
			return false, err
		}
		if t != f.Stack[i] {
			f.Stack[i] = t
			changed = true
		}
	}
	for i := range f.Locals {
		t, err := mergeLocal(h, f.Locals[i], o.Locals[i])
		if err != nil {
			return false, err
		}
		if t != f.Locals[i] {
			f.Locals[i] = t
			changed = true
		}
	}
	if o.ThisUninit && !f.ThisUninit {
		f.ThisUninit = true
		changed = true
	}
	return changed, nil
}

func mergeStack(h *hierarchy, a, b Type) (Type, error) {
	if a == b {
		return a, nil
	}
	if a.IsReference() && b.IsReference() {
		return h.join(a, b)
	}
	return Top, &mergeConflict{reason: fmt.Sprintf("cannot merge stack values %s and %s", a, b)}
}

func mergeLocal(h *hierarchy, a, b Type) (Type, error) {
	if a == b {
		return a, nil
	}
	if a.IsReference() && b.IsReference() {
		return h.join(a, b)
	}
	return Top, nil
}
