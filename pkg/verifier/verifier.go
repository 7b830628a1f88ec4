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
	"fmt"
	"runtime"

	"github.com/palantir/jvm-verifier/pkg/classfile"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of a verification pass.
type Status int

const (
	// VerifiedNotYet means an earlier pass failed, so this one was not attempted.
	VerifiedNotYet Status = iota
	VerifiedOK
	VerifiedRejected
)

func (s Status) String() string {
	switch s {
	case VerifiedOK:
		return "VERIFIED_OK"
	case VerifiedRejected:
		return "VERIFIED_REJECTED"
	}
	return "VERIFIED_NOTYET"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result describes the outcome of one pass. Offset is -1 when a rejection is not attributable
// to a single instruction.
type Result struct {
	Status  Status `json:"status"`
	Pass    Pass   `json:"pass"`
	Offset  int    `json:"offset"`
	Opcode  string `json:"opcode,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r Result) OK() bool {
	return r.Status == VerifiedOK
}

func (r Result) String() string {
	switch r.Status {
	case VerifiedOK:
		return "VERIFIED_OK"
	case VerifiedRejected:
		switch {
		case r.Offset >= 0 && r.Opcode != "":
			return fmt.Sprintf("VERIFIED_REJECTED (pass %s, %s at %d): %s", r.Pass, r.Opcode, r.Offset, r.Message)
		case r.Offset >= 0:
			return fmt.Sprintf("VERIFIED_REJECTED (pass %s, offset %d): %s", r.Pass, r.Offset, r.Message)
		}
		return fmt.Sprintf("VERIFIED_REJECTED (pass %s): %s", r.Pass, r.Message)
	}
	return "VERIFIED_NOTYET"
}

func passed(pass Pass) Result {
	return Result{Status: VerifiedOK, Pass: pass, Offset: -1}
}

// resultOf turns a rejection into a Result. Errors that are not rejections are returned as
// they are.
func resultOf(pass Pass, err error) (Result, error) {
	if err == nil {
		return passed(pass), nil
	}
	var (
		violation  *ConstraintViolationError
		malformed  *MalformedBytecodeError
		subroutine *InvalidSubroutineError
	)
	switch {
	case errors.As(err, &violation):
		r := Result{Status: VerifiedRejected, Pass: violation.Pass, Offset: violation.Offset, Message: violation.Reason}
		if violation.Offset >= 0 {
			r.Opcode = violation.Opcode.String()
		}
		return r, nil
	case errors.As(err, &malformed):
		return Result{Status: VerifiedRejected, Pass: pass, Offset: malformed.Offset, Message: malformed.Error()}, nil
	case errors.As(err, &subroutine):
		return Result{Status: VerifiedRejected, Pass: pass, Offset: subroutine.Offset, Message: subroutine.Error()}, nil
	}
	return Result{Status: VerifiedNotYet, Pass: pass, Offset: -1}, err
}

// Options tune a Verifier. The zero value is usable.
type Options struct {
	// MaxIterations bounds the instructions the data-flow analysis of one method may execute.
	// Zero means DefaultMaxIterations.
	MaxIterations int
	// Parallelism bounds the methods VerifyClass verifies concurrently. Zero means
	// runtime.NumCPU().
	Parallelism int
	// Tracef, if set, receives progress messages from the data-flow analysis.
	Tracef func(format string, args ...interface{})
}

// Verifier runs the verification passes against classes whose dependencies are supplied by a
// Resolver. It holds no per-class state and is safe for concurrent use if the Resolver is.
type Verifier struct {
	resolver Resolver
	opts     Options
}

func New(resolver Resolver, opts Options) *Verifier {
	return &Verifier{resolver: resolver, opts: opts}
}

// Pass1 parses the bytes of a class file.
func (v *Verifier) Pass1(data []byte) (*classfile.ClassFile, Result) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, Result{Status: VerifiedRejected, Pass: Pass1, Offset: -1, Message: err.Error()}
	}
	r, _ := resultOf(Pass1, checkPass1(cf))
	if !r.OK() {
		return nil, r
	}
	return cf, r
}

// Pass2 checks the static consistency of the class as a whole.
func (v *Verifier) Pass2(cf *classfile.ClassFile) (Result, error) {
	if r, _ := resultOf(Pass1, checkPass1(cf)); !r.OK() {
		return Result{Status: VerifiedNotYet, Pass: Pass2, Offset: -1}, nil
	}
	info, err := ClassInfoOf(cf)
	if err != nil {
		return resultOf(Pass2, classViolation(Pass2, "%v", err))
	}
	return resultOf(Pass2, checkPass2(cf, &hierarchy{resolver: v.resolver, self: info}))
}

// Pass3a runs the static code constraints on the method at index i of cf.
func (v *Verifier) Pass3a(cf *classfile.ClassFile, i int) (Result, error) {
	m, r, err := v.prepare(cf, i)
	if err != nil || m == nil {
		return r, err
	}
	return m.result(Pass3a, m.prepare())
}

// Pass3b runs pass 3a and then the data-flow analysis on the method at index i of cf. If pass
// 3a rejects the method the result is VerifiedNotYet.
func (v *Verifier) Pass3b(ctx context.Context, cf *classfile.ClassFile, i int) (Result, error) {
	m, r, err := v.prepare(cf, i)
	if err != nil || m == nil {
		switch r.Status {
		case VerifiedOK:
			r.Pass = Pass3b
		case VerifiedRejected:
			r = Result{Status: VerifiedNotYet, Pass: Pass3b, Offset: -1}
		}
		return r, err
	}
	if r, err := resultOf(Pass3a, m.prepare()); err != nil || !r.OK() {
		return Result{Status: VerifiedNotYet, Pass: Pass3b, Offset: -1}, err
	}
	return m.result(Pass3b, m.run(ctx))
}

// prepare builds the state of one method. It returns a nil method with an OK result for
// methods that have no code to verify.
func (v *Verifier) prepare(cf *classfile.ClassFile, i int) (*method, Result, error) {
	if i < 0 || i >= len(cf.Methods) {
		return nil, Result{}, errors.Errorf("method index %d out of range [0, %d)", i, len(cf.Methods))
	}
	member := &cf.Methods[i]
	if member.IsAbstract() || member.IsNative() {
		return nil, passed(Pass3a), nil
	}
	if member.Code == nil {
		r, err := resultOf(Pass3a, &ConstraintViolationError{Pass: Pass3a, Offset: -1, Reason: "method " + member.Name + member.Descriptor + " has no Code attribute"})
		return nil, r, err
	}
	info, err := ClassInfoOf(cf)
	if err != nil {
		r, err := resultOf(Pass3a, classViolation(Pass3a, "%v", err))
		return nil, r, err
	}
	m, err := newMethod(cf, info, member, v.resolver, v.opts)
	if err != nil {
		r, err := resultOf(Pass3a, err)
		return nil, r, err
	}
	return m, passed(Pass3a), nil
}

// VerifyMethod runs passes 3a and 3b on one method, stopping at the first that does not pass.
func (v *Verifier) VerifyMethod(ctx context.Context, cf *classfile.ClassFile, i int) (Result, error) {
	m, r, err := v.prepare(cf, i)
	if err != nil || m == nil {
		return r, err
	}
	if r, err := m.result(Pass3a, m.prepare()); err != nil || !r.OK() {
		return r, err
	}
	return m.result(Pass3b, m.run(ctx))
}

// MethodResult is the verification outcome of one method. Err holds a failure that is not a
// verdict on the method, such as a class the resolver could not find.
type MethodResult struct {
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
	Result     Result `json:"result"`
	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`
}

// ClassResult is the verification outcome of a class and each of its methods, in declaration
// order. Methods is empty if the class itself was rejected.
type ClassResult struct {
	Class   string         `json:"class"`
	Result  Result         `json:"result"`
	Methods []MethodResult `json:"methods,omitempty"`
}

// OK reports whether the class and all of its methods verified.
func (r ClassResult) OK() bool {
	if !r.Result.OK() {
		return false
	}
	for _, m := range r.Methods {
		if m.Err != nil || !m.Result.OK() {
			return false
		}
	}
	return true
}

// VerifyClass runs pass 2 on cf and then verifies its methods concurrently. Failures to verify
// individual methods are recorded in their MethodResult; the returned error is reserved for
// failures of the class as a whole and for cancellation.
func (v *Verifier) VerifyClass(ctx context.Context, cf *classfile.ClassFile) (ClassResult, error) {
	var res ClassResult
	res.Class, _ = cf.Name()
	r, err := v.Pass2(cf)
	res.Result = r
	if err != nil || !r.OK() {
		return res, err
	}

	res.Methods = make([]MethodResult, len(cf.Methods))
	g, gctx := errgroup.WithContext(ctx)
	limit := v.opts.Parallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g.SetLimit(limit)
	for i := range cf.Methods {
		i := i
		g.Go(func() error {
			mr := MethodResult{Name: cf.Methods[i].Name, Descriptor: cf.Methods[i].Descriptor}
			mr.Result, mr.Err = v.VerifyMethod(gctx, cf, i)
			if mr.Err != nil {
				if errors.Is(mr.Err, context.Canceled) || errors.Is(mr.Err, context.DeadlineExceeded) {
					return mr.Err
				}
				mr.Error = mr.Err.Error()
			}
			res.Methods[i] = mr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, errors.Wrapf(err, "verifying %s", res.Class)
	}
	return res, nil
}

// VerifyClass verifies cf with a Verifier created from resolver and opts.
func VerifyClass(ctx context.Context, cf *classfile.ClassFile, resolver Resolver, opts Options) (ClassResult, error) {
	return New(resolver, opts).VerifyClass(ctx, cf)
}
