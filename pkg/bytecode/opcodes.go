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

import "fmt"

// Opcode is a JVM instruction opcode. Values 0xca and above are reserved and never decode.
type Opcode uint8

const (
	Nop             Opcode = iota // 0x00
	AconstNull                    // 0x01
	IconstM1                      // 0x02
	Iconst0                       // 0x03
	Iconst1                       // 0x04
	Iconst2                       // 0x05
	Iconst3                       // 0x06
	Iconst4                       // 0x07
	Iconst5                       // 0x08
	Lconst0                       // 0x09
	Lconst1                       // 0x0a
	Fconst0                       // 0x0b
	Fconst1                       // 0x0c
	Fconst2                       // 0x0d
	Dconst0                       // 0x0e
	Dconst1                       // 0x0f
	Bipush                        // 0x10
	Sipush                        // 0x11
	Ldc                           // 0x12
	LdcW                          // 0x13
	Ldc2W                         // 0x14
	Iload                         // 0x15
	Lload                         // 0x16
	Fload                         // 0x17
	Dload                         // 0x18
	Aload                         // 0x19
	Iload0                        // 0x1a
	Iload1                        // 0x1b
	Iload2                        // 0x1c
	Iload3                        // 0x1d
	Lload0                        // 0x1e
	Lload1                        // 0x1f
	Lload2                        // 0x20
	Lload3                        // 0x21
	Fload0                        // 0x22
	Fload1                        // 0x23
	Fload2                        // 0x24
	Fload3                        // 0x25
	Dload0                        // 0x26
	Dload1                        // 0x27
	Dload2                        // 0x28
	Dload3                        // 0x29
	Aload0                        // 0x2a
	Aload1                        // 0x2b
	Aload2                        // 0x2c
	Aload3                        // 0x2d
	Iaload                        // 0x2e
	Laload                        // 0x2f
	Faload                        // 0x30
	Daload                        // 0x31
	Aaload                        // 0x32
	Baload                        // 0x33
	Caload                        // 0x34
	Saload                        // 0x35
	Istore                        // 0x36
	Lstore                        // 0x37
	Fstore                        // 0x38
	Dstore                        // 0x39
	Astore                        // 0x3a
	Istore0                       // 0x3b
	Istore1                       // 0x3c
	Istore2                       // 0x3d
	Istore3                       // 0x3e
	Lstore0                       // 0x3f
	Lstore1                       // 0x40
	Lstore2                       // 0x41
	Lstore3                       // 0x42
	Fstore0                       // 0x43
	Fstore1                       // 0x44
	Fstore2                       // 0x45
	Fstore3                       // 0x46
	Dstore0                       // 0x47
	Dstore1                       // 0x48
	Dstore2                       // 0x49
	Dstore3                       // 0x4a
	Astore0                       // 0x4b
	Astore1                       // 0x4c
	Astore2                       // 0x4d
	Astore3                       // 0x4e
	Iastore                       // 0x4f
	Lastore                       // 0x50
	Fastore                       // 0x51
	Dastore                       // 0x52
	Aastore                       // 0x53
	Bastore                       // 0x54
	Castore                       // 0x55
	Sastore                       // 0x56
	Pop                           // 0x57
	Pop2                          // 0x58
	Dup                           // 0x59
	DupX1                         // 0x5a
	DupX2                         // 0x5b
	Dup2                          // 0x5c
	Dup2X1                        // 0x5d
	Dup2X2                        // 0x5e
	Swap                          // 0x5f
	Iadd                          // 0x60
	Ladd                          // 0x61
	Fadd                          // 0x62
	Dadd                          // 0x63
	Isub                          // 0x64
	Lsub                          // 0x65
	Fsub                          // 0x66
	Dsub                          // 0x67
	Imul                          // 0x68
	Lmul                          // 0x69
	Fmul                          // 0x6a
	Dmul                          // 0x6b
	Idiv                          // 0x6c
	Ldiv                          // 0x6d
	Fdiv                          // 0x6e
	Ddiv                          // 0x6f
	Irem                          // 0x70
	Lrem                          // 0x71
	Frem                          // 0x72
	Drem                          // 0x73
	Ineg                          // 0x74
	Lneg                          // 0x75
	Fneg                          // 0x76
	Dneg                          // 0x77
	Ishl                          // 0x78
	Lshl                          // 0x79
	Ishr                          // 0x7a
	Lshr                          // 0x7b
	Iushr                         // 0x7c
	Lushr                         // 0x7d
	Iand                          // 0x7e
	Land                          // 0x7f
	Ior                           // 0x80
	Lor                           // 0x81
	Ixor                          // 0x82
	Lxor                          // 0x83
	Iinc                          // 0x84
	I2l                           // 0x85
	I2f                           // 0x86
	I2d                           // 0x87
	L2i                           // 0x88
	L2f                           // 0x89
	L2d                           // 0x8a
	F2i                           // 0x8b
	F2l                           // 0x8c
	F2d                           // 0x8d
	D2i                           // 0x8e
	D2l                           // 0x8f
	D2f                           // 0x90
	I2b                           // 0x91
	I2c                           // 0x92
	I2s                           // 0x93
	Lcmp                          // 0x94
	Fcmpl                         // 0x95
	Fcmpg                         // 0x96
	Dcmpl                         // 0x97
	Dcmpg                         // 0x98
	Ifeq                          // 0x99
	Ifne                          // 0x9a
	Iflt                          // 0x9b
	Ifge                          // 0x9c
	Ifgt                          // 0x9d
	Ifle                          // 0x9e
	IfIcmpeq                      // 0x9f
	IfIcmpne                      // 0xa0
	IfIcmplt                      // 0xa1
	IfIcmpge                      // 0xa2
	IfIcmpgt                      // 0xa3
	IfIcmple                      // 0xa4
	IfAcmpeq                      // 0xa5
	IfAcmpne                      // 0xa6
	Goto                          // 0xa7
	Jsr                           // 0xa8
	Ret                           // 0xa9
	Tableswitch                   // 0xaa
	Lookupswitch                  // 0xab
	Ireturn                       // 0xac
	Lreturn                       // 0xad
	Freturn                       // 0xae
	Dreturn                       // 0xaf
	Areturn                       // 0xb0
	Return                        // 0xb1
	Getstatic                     // 0xb2
	Putstatic                     // 0xb3
	Getfield                      // 0xb4
	Putfield                      // 0xb5
	Invokevirtual                 // 0xb6
	Invokespecial                 // 0xb7
	Invokestatic                  // 0xb8
	Invokeinterface               // 0xb9
	Invokedynamic                 // 0xba
	New                           // 0xbb
	Newarray                      // 0xbc
	Anewarray                     // 0xbd
	Arraylength                   // 0xbe
	Athrow                        // 0xbf
	Checkcast                     // 0xc0
	Instanceof                    // 0xc1
	Monitorenter                  // 0xc2
	Monitorexit                   // 0xc3
	Wide                          // 0xc4
	Multianewarray                // 0xc5
	Ifnull                        // 0xc6
	Ifnonnull                     // 0xc7
	GotoW                         // 0xc8
	JsrW                          // 0xc9
)

// Format describes the operands that follow an opcode in the code array.
type Format uint8

const (
	FormatInvalid Format = iota
	// FormatNone has no operands.
	FormatNone
	// FormatByte is a signed 8-bit immediate (bipush).
	FormatByte
	// FormatShort is a signed 16-bit immediate (sipush).
	FormatShort
	// FormatConstant1 is an unsigned 8-bit constant pool index (ldc).
	FormatConstant1
	// FormatConstant2 is an unsigned 16-bit constant pool index.
	FormatConstant2
	// FormatLocal is an unsigned 8-bit local variable index, 16 bits under wide.
	FormatLocal
	// FormatBranch is a signed 16-bit branch offset.
	FormatBranch
	// FormatBranchWide is a signed 32-bit branch offset.
	FormatBranchWide
	// FormatIinc is a local index and a signed increment, both widened under wide.
	FormatIinc
	FormatTableSwitch
	FormatLookupSwitch
	// FormatInvokeInterface is a 16-bit index, a count byte and a zero byte.
	FormatInvokeInterface
	// FormatInvokeDynamic is a 16-bit index followed by two zero bytes.
	FormatInvokeDynamic
	// FormatArrayType is the primitive type code of newarray.
	FormatArrayType
	// FormatMultiANewArray is a 16-bit class index and a dimension count.
	FormatMultiANewArray
	FormatWide
)

type opcodeInfo struct {
	name   string
	format Format
}

var opcodes = [256]opcodeInfo{
	Nop:             {"nop", FormatNone},
	AconstNull:      {"aconst_null", FormatNone},
	IconstM1:        {"iconst_m1", FormatNone},
	Iconst0:         {"iconst_0", FormatNone},
	Iconst1:         {"iconst_1", FormatNone},
	Iconst2:         {"iconst_2", FormatNone},
	Iconst3:         {"iconst_3", FormatNone},
	Iconst4:         {"iconst_4", FormatNone},
	Iconst5:         {"iconst_5", FormatNone},
	Lconst0:         {"lconst_0", FormatNone},
	Lconst1:         {"lconst_1", FormatNone},
	Fconst0:         {"fconst_0", FormatNone},
	Fconst1:         {"fconst_1", FormatNone},
	Fconst2:         {"fconst_2", FormatNone},
	Dconst0:         {"dconst_0", FormatNone},
	Dconst1:         {"dconst_1", FormatNone},
	Bipush:          {"bipush", FormatByte},
	Sipush:          {"sipush", FormatShort},
	Ldc:             {"ldc", FormatConstant1},
	LdcW:            {"ldc_w", FormatConstant2},
	Ldc2W:           {"ldc2_w", FormatConstant2},
	Iload:           {"iload", FormatLocal},
	Lload:           {"lload", FormatLocal},
	Fload:           {"fload", FormatLocal},
	Dload:           {"dload", FormatLocal},
	Aload:           {"aload", FormatLocal},
	Iload0:          {"iload_0", FormatNone},
	Iload1:          {"iload_1", FormatNone},
	Iload2:          {"iload_2", FormatNone},
	Iload3:          {"iload_3", FormatNone},
	Lload0:          {"lload_0", FormatNone},
	Lload1:          {"lload_1", FormatNone},
	Lload2:          {"lload_2", FormatNone},
	Lload3:          {"lload_3", FormatNone},
	Fload0:          {"fload_0", FormatNone},
	Fload1:          {"fload_1", FormatNone},
	Fload2:          {"fload_2", FormatNone},
	Fload3:          {"fload_3", FormatNone},
	Dload0:          {"dload_0", FormatNone},
	Dload1:          {"dload_1", FormatNone},
	Dload2:          {"dload_2", FormatNone},
	Dload3:          {"dload_3", FormatNone},
	Aload0:          {"aload_0", FormatNone},
	Aload1:          {"aload_1", FormatNone},
	Aload2:          {"aload_2", FormatNone},
	Aload3:          {"aload_3", FormatNone},
	Iaload:          {"iaload", FormatNone},
	Laload:          {"laload", FormatNone},
	Faload:          {"faload", FormatNone},
	Daload:          {"daload", FormatNone},
	Aaload:          {"aaload", FormatNone},
	Baload:          {"baload", FormatNone},
	Caload:          {"caload", FormatNone},
	Saload:          {"saload", FormatNone},
	Istore:          {"istore", FormatLocal},
	Lstore:          {"lstore", FormatLocal},
	Fstore:          {"fstore", FormatLocal},
	Dstore:          {"dstore", FormatLocal},
	Astore:          {"astore", FormatLocal},
	Istore0:         {"istore_0", FormatNone},
	Istore1:         {"istore_1", FormatNone},
	Istore2:         {"istore_2", FormatNone},
	Istore3:         {"istore_3", FormatNone},
	Lstore0:         {"lstore_0", FormatNone},
	Lstore1:         {"lstore_1", FormatNone},
	Lstore2:         {"lstore_2", FormatNone},
	Lstore3:         {"lstore_3", FormatNone},
	Fstore0:         {"fstore_0", FormatNone},
	Fstore1:         {"fstore_1", FormatNone},
	Fstore2:         {"fstore_2", FormatNone},
	Fstore3:         {"fstore_3", FormatNone},
	Dstore0:         {"dstore_0", FormatNone},
	Dstore1:         {"dstore_1", FormatNone},
	Dstore2:         {"dstore_2", FormatNone},
	Dstore3:         {"dstore_3", FormatNone},
	Astore0:         {"astore_0", FormatNone},
	Astore1:         {"astore_1", FormatNone},
	Astore2:         {"astore_2", FormatNone},
	Astore3:         {"astore_3", FormatNone},
	Iastore:         {"iastore", FormatNone},
	Lastore:         {"lastore", FormatNone},
	Fastore:         {"fastore", FormatNone},
	Dastore:         {"dastore", FormatNone},
	Aastore:         {"aastore", FormatNone},
	Bastore:         {"bastore", FormatNone},
	Castore:         {"castore", FormatNone},
	Sastore:         {"sastore", FormatNone},
	Pop:             {"pop", FormatNone},
	Pop2:            {"pop2", FormatNone},
	Dup:             {"dup", FormatNone},
	DupX1:           {"dup_x1", FormatNone},
	DupX2:           {"dup_x2", FormatNone},
	Dup2:            {"dup2", FormatNone},
	Dup2X1:          {"dup2_x1", FormatNone},
	Dup2X2:          {"dup2_x2", FormatNone},
	Swap:            {"swap", FormatNone},
	Iadd:            {"iadd", FormatNone},
	Ladd:            {"ladd", FormatNone},
	Fadd:            {"fadd", FormatNone},
	Dadd:            {"dadd", FormatNone},
	Isub:            {"isub", FormatNone},
	Lsub:            {"lsub", FormatNone},
	Fsub:            {"fsub", FormatNone},
	Dsub:            {"dsub", FormatNone},
	Imul:            {"imul", FormatNone},
	Lmul:            {"lmul", FormatNone},
	Fmul:            {"fmul", FormatNone},
	Dmul:            {"dmul", FormatNone},
	Idiv:            {"idiv", FormatNone},
	Ldiv:            {"ldiv", FormatNone},
	Fdiv:            {"fdiv", FormatNone},
	Ddiv:            {"ddiv", FormatNone},
	Irem:            {"irem", FormatNone},
	Lrem:            {"lrem", FormatNone},
	Frem:            {"frem", FormatNone},
	Drem:            {"drem", FormatNone},
	Ineg:            {"ineg", FormatNone},
	Lneg:            {"lneg", FormatNone},
	Fneg:            {"fneg", FormatNone},
	Dneg:            {"dneg", FormatNone},
	Ishl:            {"ishl", FormatNone},
	Lshl:            {"lshl", FormatNone},
	Ishr:            {"ishr", FormatNone},
	Lshr:            {"lshr", FormatNone},
	Iushr:           {"iushr", FormatNone},
	Lushr:           {"lushr", FormatNone},
	Iand:            {"iand", FormatNone},
	Land:            {"land", FormatNone},
	Ior:             {"ior", FormatNone},
	Lor:             {"lor", FormatNone},
	Ixor:            {"ixor", FormatNone},
	Lxor:            {"lxor", FormatNone},
	Iinc:            {"iinc", FormatIinc},
	I2l:             {"i2l", FormatNone},
	I2f:             {"i2f", FormatNone},
	I2d:             {"i2d", FormatNone},
	L2i:             {"l2i", FormatNone},
	L2f:             {"l2f", FormatNone},
	L2d:             {"l2d", FormatNone},
	F2i:             {"f2i", FormatNone},
	F2l:             {"f2l", FormatNone},
	F2d:             {"f2d", FormatNone},
	D2i:             {"d2i", FormatNone},
	D2l:             {"d2l", FormatNone},
	D2f:             {"d2f", FormatNone},
	I2b:             {"i2b", FormatNone},
	I2c:             {"i2c", FormatNone},
	I2s:             {"i2s", FormatNone},
	Lcmp:            {"lcmp", FormatNone},
	Fcmpl:           {"fcmpl", FormatNone},
	Fcmpg:           {"fcmpg", FormatNone},
	Dcmpl:           {"dcmpl", FormatNone},
	Dcmpg:           {"dcmpg", FormatNone},
	Ifeq:            {"ifeq", FormatBranch},
	Ifne:            {"ifne", FormatBranch},
	Iflt:            {"iflt", FormatBranch},
	Ifge:            {"ifge", FormatBranch},
	Ifgt:            {"ifgt", FormatBranch},
	Ifle:            {"ifle", FormatBranch},
	IfIcmpeq:        {"if_icmpeq", FormatBranch},
	IfIcmpne:        {"if_icmpne", FormatBranch},
	IfIcmplt:        {"if_icmplt", FormatBranch},
	IfIcmpge:        {"if_icmpge", FormatBranch},
	IfIcmpgt:        {"if_icmpgt", FormatBranch},
	IfIcmple:        {"if_icmple", FormatBranch},
	IfAcmpeq:        {"if_acmpeq", FormatBranch},
	IfAcmpne:        {"if_acmpne", FormatBranch},
	Goto:            {"goto", FormatBranch},
	Jsr:             {"jsr", FormatBranch},
	Ret:             {"ret", FormatLocal},
	Tableswitch:     {"tableswitch", FormatTableSwitch},
	Lookupswitch:    {"lookupswitch", FormatLookupSwitch},
	Ireturn:         {"ireturn", FormatNone},
	Lreturn:         {"lreturn", FormatNone},
	Freturn:         {"freturn", FormatNone},
	Dreturn:         {"dreturn", FormatNone},
	Areturn:         {"areturn", FormatNone},
	Return:          {"return", FormatNone},
	Getstatic:       {"getstatic", FormatConstant2},
	Putstatic:       {"putstatic", FormatConstant2},
	Getfield:        {"getfield", FormatConstant2},
	Putfield:        {"putfield", FormatConstant2},
	Invokevirtual:   {"invokevirtual", FormatConstant2},
	Invokespecial:   {"invokespecial", FormatConstant2},
	Invokestatic:    {"invokestatic", FormatConstant2},
	Invokeinterface: {"invokeinterface", FormatInvokeInterface},
	Invokedynamic:   {"invokedynamic", FormatInvokeDynamic},
	New:             {"new", FormatConstant2},
	Newarray:        {"newarray", FormatArrayType},
	Anewarray:       {"anewarray", FormatConstant2},
	Arraylength:     {"arraylength", FormatNone},
	Athrow:          {"athrow", FormatNone},
	Checkcast:       {"checkcast", FormatConstant2},
	Instanceof:      {"instanceof", FormatConstant2},
	Monitorenter:    {"monitorenter", FormatNone},
	Monitorexit:     {"monitorexit", FormatNone},
	Wide:            {"wide", FormatWide},
	Multianewarray:  {"multianewarray", FormatMultiANewArray},
	Ifnull:          {"ifnull", FormatBranch},
	Ifnonnull:       {"ifnonnull", FormatBranch},
	GotoW:           {"goto_w", FormatBranchWide},
	JsrW:            {"jsr_w", FormatBranchWide},
}

// Valid reports whether op is a defined, non-reserved opcode.
func (op Opcode) Valid() bool {
	return opcodes[op].format != FormatInvalid
}

// Format returns the operand layout of op.
func (op Opcode) Format() Format {
	return opcodes[op].format
}

func (op Opcode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("opcode(0x%02x)", uint8(op))
	}
	return opcodes[op].name
}

// Lookup returns the opcode with the given mnemonic.
func Lookup(mnemonic string) (Opcode, bool) {
	for i, info := range opcodes {
		if info.format != FormatInvalid && info.name == mnemonic {
			return Opcode(i), true
		}
	}
	return 0, false
}
