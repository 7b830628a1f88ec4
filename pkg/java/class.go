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
	"crypto/md5"
	"fmt"

	"github.com/pkg/errors"
	zclassfile "github.com/zxh0/jvm.go/classfile"
	"github.com/zxh0/jvm.go/instructions"
)

// ClassHash identifies a class file both exactly and by the shape of its code.
type ClassHash struct {
	ClassSize int64 `json:"classSize"`
	// CompleteHash is the md5 of the class file bytes.
	CompleteHash string `json:"completeHash"`
	// BytecodeInstructionHash is the md5 of the instruction kinds of every method body. Operands
	// are ignored, so the hash survives constant pool renumbering.
	BytecodeInstructionHash string `json:"bytecodeInstructionHash"`
	// MethodsWithCode counts the methods that carry a Code attribute.
	MethodsWithCode int `json:"methodsWithCode"`
}

// HashClassBytes computes the ClassHash of a class file.
func HashClassBytes(data []byte) (ClassHash, error) {
	instructionHash, methods, err := hashInstructions(data)
	if err != nil {
		return ClassHash{}, err
	}
	return ClassHash{
		ClassSize:               int64(len(data)),
		CompleteHash:            fmt.Sprintf("%x", md5.Sum(data)),
		BytecodeInstructionHash: instructionHash,
		MethodsWithCode:         methods,
	}, nil
}

// HashClassInstructions returns the instruction hash of a class file.
func HashClassInstructions(data []byte) (string, error) {
	h, _, err := hashInstructions(data)
	return h, err
}

func hashInstructions(data []byte) (hash string, methods int, err error) {
	// the decoder panics on constructs it does not know
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("decoding class: %v", r)
		}
	}()
	classFile, err := zclassfile.Parse(data)
	if err != nil {
		return "", 0, errors.Wrap(err, "decoding class")
	}

	h := md5.New()
	for _, method := range classFile.Methods {
		for _, attribute := range method.AttributeTable {
			code, ok := attribute.(zclassfile.CodeAttribute)
			if !ok {
				continue
			}
			methods++
			for _, instruction := range instructions.Decode(code.Code) {
				if _, err := fmt.Fprintf(h, "%T", instruction); err != nil {
					return "", 0, err
				}
			}
		}
	}
	return fmt.Sprintf("%x-v0", h.Sum(nil)), methods, nil
}
