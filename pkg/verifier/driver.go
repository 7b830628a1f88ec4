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
	"context"
	"strconv"
	"strings"

	"github.com/palantir/jvm-verifier/pkg/bytecode"
	"github.com/pkg/errors"
)

// DefaultMaxIterations bounds the instructions executed by the data-flow analysis of one method.
const DefaultMaxIterations = 1 << 20

// callContext is the chain of jsr instructions, outermost first, through which an instruction
// inside a subroutine was reached. Top level code has an empty context.
type callContext []int

func (c callContext) push(jsr int) callContext {
	return append(append(callContext(nil), c...), jsr)
}

func (c callContext) String() string {
	parts := make([]string, len(c))
	for i, pc := range c {
		parts[i] = strconv.Itoa(pc)
	}
	return strings.Join(parts, ",")
}

type workItem struct {
	pc  int
	ctx callContext
}

func (w workItem) key() string {
	return strconv.Itoa(w.pc) + "@" + w.ctx.String()
}

// dataflow is the state of the fixed-point computation over one method.
type dataflow struct {
	m      *method
	in     map[string]*Frame
	queued map[string]bool
	work   []workItem
}

// entryFrame builds the frame before the first instruction from the method descriptor.
func (m *method) entryFrame() *Frame {
	f := NewFrame(m.maxLocals())
	i := 0
	if !m.member.IsStatic() {
		if m.isInit && m.class.Name != objectClass {
			f.Locals[0] = UninitializedThis(m.class.Name)
			f.ThisUninit = true
		} else {
			f.Locals[0] = Reference(m.class.Name)
		}
		i++
	}
	for _, p := range m.desc.Params {
		t := FromDescriptor(p)
		f.setLocal(i, t)
		i += t.Size()
	}
	return f
}

func (m *method) run(ctx context.Context) error {
	_, err := m.analyze(ctx)
	return err
}

// analyze computes the frames before every reachable instruction, checking each instruction's
// constraints, until no frame changes.
func (m *method) analyze(ctx context.Context) (*dataflow, error) {
	d := &dataflow{m: m, in: make(map[string]*Frame), queued: make(map[string]bool)}
	if err := d.flow(nil, workItem{pc: 0}, m.entryFrame()); err != nil {
		return nil, err
	}
	limit := m.opts.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	iterations := 0
	for len(d.work) > 0 {
		if iterations%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		iterations++
		if iterations > limit {
			return nil, &ResourceExhaustedError{Limit: limit}
		}
		item := d.work[len(d.work)-1]
		d.work = d.work[:len(d.work)-1]
		delete(d.queued, item.key())
		if err := d.step(item); err != nil {
			return nil, err
		}
	}
	m.tracef("%s: converged after %d iterations over %d frames", m, iterations, len(d.in))
	return d, nil
}

// frameAt returns the frame before the instruction at pc reached through the given jsr chain.
func (d *dataflow) frameAt(pc int, jsrs ...int) (*Frame, bool) {
	f, ok := d.in[workItem{pc: pc, ctx: jsrs}.key()]
	return f, ok
}

func (m *method) tracef(format string, args ...interface{}) {
	if m.opts.Tracef != nil {
		m.opts.Tracef(format, args...)
	}
}

// step checks and executes one instruction in one call context and propagates its outgoing
// frame to every successor.
func (d *dataflow) step(item workItem) error {
	m := d.m
	in, ok := m.list.At(item.pc)
	if !ok {
		return internalf("work item at offset %d is not an instruction", item.pc)
	}
	sub, err := d.subroutineOf(in, item.ctx)
	if err != nil {
		return err
	}
	before := d.in[item.key()]
	if err := m.check(in, before, sub); err != nil {
		return err
	}
	after := before.Clone()
	if err := m.execute(in, after); err != nil {
		return err
	}
	if len(after.Stack) > m.maxStack() {
		return m.violation(Pass3b, in, "operand stack overflow: %d slots exceed max_stack %d", len(after.Stack), m.maxStack())
	}

	for _, h := range m.handlers.Covering(in.Offset) {
		hf := &Frame{Locals: append([]Type(nil), before.Locals...), ThisUninit: before.ThisUninit}
		hf.push(h.Type())
		if len(hf.Stack) > m.maxStack() {
			return m.violation(Pass3b, in, "exception handler at %d needs a stack slot but max_stack is %d", h.Handler, m.maxStack())
		}
		if err := d.flow(in, workItem{pc: h.Handler}, hf); err != nil {
			return err
		}
	}

	switch {
	case in.Opcode == bytecode.Ret:
		return d.ret(in, item, sub, after)
	case in.IsJsr():
		return d.flow(in, workItem{pc: in.Target, ctx: item.ctx.push(in.Offset)}, after)
	}
	for _, target := range in.BranchTargets() {
		if err := d.flow(in, workItem{pc: target, ctx: item.ctx}, after); err != nil {
			return err
		}
	}
	if in.FallsThrough() {
		next, ok := m.list.Next(in)
		if !ok {
			return internalf("instruction at %d falls off the end of the code", in.Offset)
		}
		return d.flow(in, workItem{pc: next.Offset, ctx: item.ctx}, after)
	}
	return nil
}

// subroutineOf returns the subroutine of in and checks that it is the one the context entered.
func (d *dataflow) subroutineOf(in *bytecode.Instruction, ctx callContext) (*Subroutine, error) {
	sub, ok := d.m.subs.Of(in.Offset)
	if !ok {
		return nil, internalf("instruction at %d was reached but belongs to no subroutine", in.Offset)
	}
	if len(ctx) == 0 {
		if !sub.IsTopLevel() {
			return nil, internalf("instruction at %d of %s reached from top level code", in.Offset, sub)
		}
		return sub, nil
	}
	jsr, ok := d.m.list.At(ctx[len(ctx)-1])
	if !ok || jsr.Target != sub.Entry {
		return nil, internalf("instruction at %d of %s reached through jsr at %d", in.Offset, sub, ctx[len(ctx)-1])
	}
	return sub, nil
}

// ret continues after the jsr that entered the subroutine. Locals the subroutine never touches
// keep the values they had before that jsr.
func (d *dataflow) ret(in *bytecode.Instruction, item workItem, sub *Subroutine, after *Frame) error {
	if len(item.ctx) == 0 {
		return internalf("ret at %d executed outside of a subroutine", in.Offset)
	}
	jsrPC := item.ctx[len(item.ctx)-1]
	parent := item.ctx[:len(item.ctx)-1]
	jsr, ok := d.m.list.At(jsrPC)
	if !ok {
		return internalf("ret at %d: no jsr at %d", in.Offset, jsrPC)
	}
	next, ok := d.m.list.Next(jsr)
	if !ok {
		return internalf("ret at %d: jsr at %d is the last instruction", in.Offset, jsrPC)
	}
	jsrFrame, ok := d.in[workItem{pc: jsrPC, ctx: parent}.key()]
	if !ok {
		return internalf("ret at %d: no frame recorded for jsr at %d", in.Offset, jsrPC)
	}
	restored := after.Clone()
	for i := range restored.Locals {
		if !sub.Accessed(i) {
			restored.Locals[i] = jsrFrame.Locals[i]
		}
	}
	restored.normalizeLocals()
	return d.flow(in, workItem{pc: next.Offset, ctx: parent}, restored)
}

// flow merges frame into the incoming frame of target and queues target if it changed.
func (d *dataflow) flow(from *bytecode.Instruction, target workItem, frame *Frame) error {
	key := target.key()
	current, ok := d.in[key]
	if !ok {
		d.in[key] = frame.Clone()
		d.enqueue(key, target)
		return nil
	}
	changed, err := current.merge(d.m.h, frame)
	if err != nil {
		var conflict *mergeConflict
		if errors.As(err, &conflict) {
			return d.mergeViolation(from, target.pc, conflict.reason)
		}
		return err
	}
	if changed {
		d.enqueue(key, target)
	}
	return nil
}

func (d *dataflow) enqueue(key string, item workItem) {
	if d.queued[key] {
		return
	}
	d.queued[key] = true
	d.work = append(d.work, item)
}

func (d *dataflow) mergeViolation(from *bytecode.Instruction, pc int, reason string) error {
	in, ok := d.m.list.At(pc)
	if !ok {
		return internalf("merge into offset %d, which is not an instruction", pc)
	}
	if from != nil {
		reason += " (flowing from offset " + strconv.Itoa(from.Offset) + ")"
	}
	return d.m.violation(Pass3b, in, "%s", reason)
}
