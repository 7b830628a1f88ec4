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
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/palantir/jvm-verifier/pkg/bytecode"
	"github.com/willf/bitset"
)

// Subroutine is a region of code entered by jsr and left by its single ret. The top level
// code of a method is represented as a Subroutine with Entry -1.
type Subroutine struct {
	Entry int
	// Local is the variable the entry's astore saves the return address in.
	Local int
	// Ret is the offset of the ret leaving the subroutine.
	Ret          int
	Instructions mapset.Set[int]
	// Callers are the offsets of the jsr instructions targeting Entry.
	Callers []int

	calls    []int
	accessed *bitset.BitSet
}

func (s *Subroutine) IsTopLevel() bool {
	return s.Entry < 0
}

// Accessed reports whether the subroutine, or one it calls, reads or writes local index.
func (s *Subroutine) Accessed(index int) bool {
	return s.accessed.Test(uint(index))
}

func (s *Subroutine) String() string {
	if s.IsTopLevel() {
		return "top level"
	}
	return fmt.Sprintf("subroutine at %d", s.Entry)
}

// Subroutines partitions the instructions of a method into the top level and its subroutines.
// Every instruction belongs to exactly one of them.
type Subroutines struct {
	TopLevel *Subroutine
	byEntry  map[int]*Subroutine
	owner    map[int]*Subroutine
}

// Of returns the subroutine containing the instruction at pc.
func (s *Subroutines) Of(pc int) (*Subroutine, bool) {
	sub, ok := s.owner[pc]
	return sub, ok
}

// At returns the subroutine entered at entry.
func (s *Subroutines) At(entry int) (*Subroutine, bool) {
	sub, ok := s.byEntry[entry]
	return sub, ok
}

func (s *Subroutines) Entries() []int {
	out := make([]int, 0, len(s.byEntry))
	for e := range s.byEntry {
		out = append(out, e)
	}
	sort.Ints(out)
	return out
}

func subroutineErrorf(offset int, format string, args ...interface{}) error {
	return &InvalidSubroutineError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// analyzeSubroutines colours the instructions reachable from each jsr target, without following
// jsr into its target, and from the method entry and the exception handlers for the top level.
func analyzeSubroutines(list *bytecode.InstructionList, handlers *handlerTable, maxLocals int) (*Subroutines, error) {
	s := &Subroutines{byEntry: make(map[int]*Subroutine), owner: make(map[int]*Subroutine)}
	newSub := func(entry int) *Subroutine {
		return &Subroutine{Entry: entry, Local: -1, Ret: -1, Instructions: mapset.NewThreadUnsafeSet[int](), accessed: bitset.New(uint(maxLocals))}
	}
	s.TopLevel = newSub(-1)

	for i := range list.Instructions {
		in := &list.Instructions[i]
		if !in.IsJsr() {
			continue
		}
		target, ok := list.At(in.Target)
		if !ok {
			return nil, subroutineErrorf(in.Offset, "%s targets offset %d, which is not an instruction", in.Opcode, in.Target)
		}
		sub, seen := s.byEntry[target.Offset]
		if !seen {
			if target.Opcode != bytecode.Astore && (target.Opcode < bytecode.Astore0 || target.Opcode > bytecode.Astore3) {
				return nil, subroutineErrorf(target.Offset, "subroutine entry is %s, expected astore", target.Opcode)
			}
			sub = newSub(target.Offset)
			sub.Local = target.Index
			s.byEntry[target.Offset] = sub
		}
		sub.Callers = append(sub.Callers, in.Offset)
	}

	colour := func(sub *Subroutine, roots []int) error {
		visited := make(map[int]bool)
		queue := append([]int(nil), roots...)
		for _, r := range roots {
			visited[r] = true
		}
		for len(queue) > 0 {
			pc := queue[0]
			queue = queue[1:]
			in, ok := list.At(pc)
			if !ok {
				return subroutineErrorf(pc, "control flows to offset %d, which is not an instruction", pc)
			}
			if owner, claimed := s.owner[pc]; claimed {
				return subroutineErrorf(pc, "instruction %s is part of more than one subroutine (%s and %s)", in, owner, sub)
			}
			s.owner[pc] = sub
			sub.Instructions.Add(pc)
			for _, next := range subroutineSuccessors(list, in) {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		return nil
	}

	roots := []int{0}
	for _, h := range handlers.All() {
		roots = append(roots, h.Handler)
	}
	if err := colour(s.TopLevel, roots); err != nil {
		return nil, err
	}
	for _, entry := range s.Entries() {
		if err := colour(s.byEntry[entry], []int{entry}); err != nil {
			return nil, err
		}
	}

	for _, pc := range sortedInstructions(s.TopLevel) {
		if in, _ := list.At(pc); in.Opcode == bytecode.Ret {
			return nil, subroutineErrorf(pc, "ret in top level code")
		}
	}
	for _, entry := range s.Entries() {
		if err := s.byEntry[entry].findRet(list); err != nil {
			return nil, err
		}
	}

	for _, h := range handlers.All() {
		for _, entry := range s.Entries() {
			sub := s.byEntry[entry]
			for _, pc := range sortedInstructions(sub) {
				if pc >= h.Start && pc < h.End {
					return nil, subroutineErrorf(pc, "subroutine instruction at %d is protected by exception handler %s, which is forbidden by JustIce's definition of subroutines", pc, h)
				}
			}
		}
	}

	for _, sub := range append([]*Subroutine{s.TopLevel}, s.subroutines()...) {
		for _, pc := range sortedInstructions(sub) {
			in, _ := list.At(pc)
			if in.IsJsr() {
				sub.calls = append(sub.calls, in.Target)
			}
			if n := in.LocalSlots(); n > 0 {
				for i := 0; i < n; i++ {
					sub.accessed.Set(uint(in.Index + i))
				}
			}
		}
	}
	if err := s.noRecursiveCalls(s.TopLevel, map[int]bool{}); err != nil {
		return nil, err
	}
	// Subroutines only called from unreachable code are not visited from the top level.
	for _, sub := range s.subroutines() {
		if err := s.noRecursiveCalls(sub, map[int]bool{sub.Local: true}); err != nil {
			return nil, err
		}
	}
	for _, sub := range s.subroutines() {
		s.collectAccessed(sub, sub.accessed)
	}
	return s, nil
}

func (s *Subroutines) subroutines() []*Subroutine {
	out := make([]*Subroutine, 0, len(s.byEntry))
	for _, e := range s.Entries() {
		out = append(out, s.byEntry[e])
	}
	return out
}

func sortedInstructions(sub *Subroutine) []int {
	out := sub.Instructions.ToSlice()
	sort.Ints(out)
	return out
}

// findRet records the single ret of the subroutine. Paths ending in return or athrow need no
// ret.
func (sub *Subroutine) findRet(list *bytecode.InstructionList) error {
	for _, pc := range sortedInstructions(sub) {
		in, _ := list.At(pc)
		if in.Opcode != bytecode.Ret {
			continue
		}
		if sub.Ret >= 0 {
			return subroutineErrorf(pc, "%s has more than one ret: %d and %d", sub, sub.Ret, pc)
		}
		if in.Index != sub.Local {
			return subroutineErrorf(pc, "ret uses local %d but %s saved its return address in local %d", in.Index, sub, sub.Local)
		}
		sub.Ret = pc
	}
	if sub.Ret < 0 {
		return subroutineErrorf(sub.Entry, "%s has no ret", sub)
	}
	return nil
}

// noRecursiveCalls rejects subroutines that call themselves, directly or through others, and
// nested subroutines that keep their return address in the same local as a caller.
func (s *Subroutines) noRecursiveCalls(sub *Subroutine, locals map[int]bool) error {
	for _, entry := range sub.calls {
		callee := s.byEntry[entry]
		if locals[callee.Local] {
			return subroutineErrorf(callee.Entry, "%s is called by a subroutine using the same return address local %d; recursive calls are not allowed", callee, callee.Local)
		}
		locals[callee.Local] = true
		if err := s.noRecursiveCalls(callee, locals); err != nil {
			return err
		}
		delete(locals, callee.Local)
	}
	return nil
}

func (s *Subroutines) collectAccessed(sub *Subroutine, into *bitset.BitSet) {
	for _, entry := range sub.calls {
		callee := s.byEntry[entry]
		into.InPlaceUnion(callee.accessed)
		s.collectAccessed(callee, into)
	}
}

// subroutineSuccessors follows control flow within one subroutine: jsr continues at its
// physical successor, and ret, return and athrow end the path.
func subroutineSuccessors(list *bytecode.InstructionList, in *bytecode.Instruction) []int {
	if in.IsJsr() {
		if next, ok := list.Next(in); ok {
			return []int{next.Offset}
		}
		return nil
	}
	out := in.BranchTargets()
	if in.FallsThrough() {
		if next, ok := list.Next(in); ok {
			out = append(out, next.Offset)
		}
	}
	return out
}
