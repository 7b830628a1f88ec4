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

package bytecode

import (
	"fmt"
	"strings"
)

// Primitive array type codes used by newarray.
const (
	TBoolean = 4
	TChar    = 5
	TFloat   = 6
	TDouble  = 7
	TByte    = 8
	TShort   = 9
	TInt     = 10
	TLong    = 11
)

// ArrayTypeDescriptor returns the array descriptor produced by newarray with the given type code.
func ArrayTypeDescriptor(code int) (string, bool) {
	switch code {
	case TBoolean:
		return "[Z", true
	case TChar:
		return "[C", true
	case TFloat:
		return "[F", true
	case TDouble:
		return "[D", true
	case TByte:
		return "[B", true
	case TShort:
		return "[S", true
	case TInt:
		return "[I", true
	case TLong:
		return "[J", true
	}
	return "", false
}

// Instruction is one decoded instruction. Branch and switch targets are absolute offsets.
type Instruction struct {
	Offset int
	Opcode Opcode
	Length int
	// Wide is set when the instruction was prefixed by wide; Opcode is the modified instruction.
	Wide bool

	// Index is the constant pool index, local variable index (including the implicit index of
	// the _n load and store forms) or newarray type code.
	Index int
	// Const is the bipush/sipush immediate, the iinc increment, the multianewarray dimension
	// count or the invokeinterface argument count.
	Const int32
	// Pad holds the trailing bytes of invokeinterface and invokedynamic that must be zero.
	Pad int

	Target  int
	Default int
	Keys    []int32
	Targets []int
}

// IsBranch reports whether the instruction has a single branch target in Target.
func (in *Instruction) IsBranch() bool {
	f := in.Opcode.Format()
	return f == FormatBranch || f == FormatBranchWide
}

func (in *Instruction) IsSwitch() bool {
	return in.Opcode == Tableswitch || in.Opcode == Lookupswitch
}

func (in *Instruction) IsJsr() bool {
	return in.Opcode == Jsr || in.Opcode == JsrW
}

func (in *Instruction) IsReturn() bool {
	return in.Opcode >= Ireturn && in.Opcode <= Return
}

// FallsThrough reports whether control can continue to the physically next instruction.
// jsr does not: its next instruction is reached through the matching ret.
func (in *Instruction) FallsThrough() bool {
	switch in.Opcode {
	case Goto, GotoW, Jsr, JsrW, Ret, Tableswitch, Lookupswitch, Athrow:
		return false
	}
	return !in.IsReturn()
}

// BranchTargets returns the explicit targets: the branch target, or the default followed by
// the case targets of a switch.
func (in *Instruction) BranchTargets() []int {
	switch {
	case in.IsBranch():
		return []int{in.Target}
	case in.IsSwitch():
		out := make([]int, 0, len(in.Targets)+1)
		out = append(out, in.Default)
		return append(out, in.Targets...)
	}
	return nil
}

// LoadsLocal reports whether the instruction reads a local variable (loads, iinc and ret).
func (in *Instruction) LoadsLocal() bool {
	return (in.Opcode >= Iload && in.Opcode <= Aload3) || in.Opcode == Iinc || in.Opcode == Ret
}

// StoresLocal reports whether the instruction writes a local variable.
func (in *Instruction) StoresLocal() bool {
	return (in.Opcode >= Istore && in.Opcode <= Astore3) || in.Opcode == Iinc
}

// LocalSlots returns the number of local variable slots the instruction touches at Index.
func (in *Instruction) LocalSlots() int {
	switch in.Opcode {
	case Lload, Dload, Lstore, Dstore,
		Lload0, Lload1, Lload2, Lload3, Dload0, Dload1, Dload2, Dload3,
		Lstore0, Lstore1, Lstore2, Lstore3, Dstore0, Dstore1, Dstore2, Dstore3:
		return 2
	}
	if in.LoadsLocal() || in.StoresLocal() {
		return 1
	}
	return 0
}

func (in *Instruction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d: %s", in.Offset, in.Opcode)
	switch in.Opcode.Format() {
	case FormatByte, FormatShort:
		fmt.Fprintf(&sb, " %d", in.Const)
	case FormatConstant1, FormatConstant2, FormatInvokeDynamic:
		fmt.Fprintf(&sb, " #%d", in.Index)
	case FormatLocal:
		fmt.Fprintf(&sb, " %d", in.Index)
	case FormatIinc:
		fmt.Fprintf(&sb, " %d %d", in.Index, in.Const)
	case FormatBranch, FormatBranchWide:
		fmt.Fprintf(&sb, " %d", in.Target)
	case FormatInvokeInterface:
		fmt.Fprintf(&sb, " #%d %d", in.Index, in.Const)
	case FormatArrayType:
		desc, _ := ArrayTypeDescriptor(in.Index)
		fmt.Fprintf(&sb, " %s", desc)
	case FormatMultiANewArray:
		fmt.Fprintf(&sb, " #%d %d", in.Index, in.Const)
	case FormatTableSwitch, FormatLookupSwitch:
		fmt.Fprintf(&sb, " default:%d", in.Default)
		for i, t := range in.Targets {
			fmt.Fprintf(&sb, " %d:%d", in.Keys[i], t)
		}
	}
	if in.Wide {
		return strings.Replace(sb.String(), ": ", ": wide ", 1)
	}
	return sb.String()
}
