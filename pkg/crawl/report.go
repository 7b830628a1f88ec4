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

package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/palantir/jvm-verifier/pkg/verifier"
)

// Reporter writes the outcome of each verified class and keeps the counts for the summary.
type Reporter struct {
	// if non-nil, reported output is written to this writer
	OutputWriter io.Writer
	// True if reported output should be JSON, false otherwise
	OutputJSON bool
	// True if classes that verified should be reported as well as failures
	ReportVerified bool

	mu      sync.Mutex
	summary Summary
}

// Outcome is one reported line: a rejected or unverifiable method, a class rejected as a whole,
// or a class that verified.
type Outcome struct {
	Message      string          `json:"message"`
	FilePath     string          `json:"filePath"`
	DetailedPath string          `json:"detailedPath"`
	Class        string          `json:"class"`
	Method       string          `json:"method,omitempty"`
	Status       verifier.Status `json:"status"`
	Pass         verifier.Pass   `json:"pass,omitempty"`
	Offset       *int            `json:"offset,omitempty"`
	Opcode       string          `json:"opcode,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Report implements HandleResultFunc.
func (r *Reporter) Report(_ context.Context, path NestedPath, result verifier.ClassResult, err error) {
	outcomes := r.record(path, result, err)
	if r.OutputWriter == nil {
		return
	}
	for _, o := range outcomes {
		_, _ = fmt.Fprintln(r.OutputWriter, r.format(o))
	}
}

func (r *Reporter) record(path NestedPath, result verifier.ClassResult, err error) []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Classes++
	base := Outcome{FilePath: path.File(), DetailedPath: path.Joined(), Class: result.Class}

	if err != nil {
		r.summary.Errors++
		o := base
		o.Status = result.Result.Status
		o.Message = "class could not be verified"
		o.Error = err.Error()
		return []Outcome{o}
	}
	if !result.Result.OK() {
		r.summary.ClassesRejected++
		r.summary.rejectedIn(result.Result.Pass)
		return []Outcome{withResult(base, "class rejected", result.Result)}
	}

	var out []Outcome
	rejected := false
	for _, m := range result.Methods {
		r.summary.Methods++
		o := base
		o.Method = m.Name + m.Descriptor
		switch {
		case m.Err != nil:
			r.summary.Errors++
			o.Status = m.Result.Status
			o.Message = "method could not be verified"
			o.Error = m.Err.Error()
			out = append(out, o)
		case !m.Result.OK():
			r.summary.MethodsRejected++
			r.summary.rejectedIn(m.Result.Pass)
			rejected = true
			out = append(out, withResult(o, "method rejected", m.Result))
		}
	}
	if rejected {
		r.summary.ClassesRejected++
	}
	if len(out) == 0 && r.ReportVerified {
		out = append(out, withResult(base, "class verified", result.Result))
	}
	return out
}

func withResult(o Outcome, message string, result verifier.Result) Outcome {
	o.Message = message
	o.Status = result.Status
	if result.Status == verifier.VerifiedRejected {
		o.Pass = result.Pass
		if result.Offset >= 0 {
			offset := result.Offset
			o.Offset = &offset
			o.Opcode = result.Opcode
		}
		o.Error = result.Message
	}
	return o
}

func (r *Reporter) format(o Outcome) string {
	if r.OutputJSON {
		// should not fail
		jsonBytes, _ := json.Marshal(o)
		return string(jsonBytes)
	}
	location := o.Class
	if o.Method != "" {
		location += "." + o.Method
	}
	switch {
	case o.Status == verifier.VerifiedOK && o.Error == "":
		return color.GreenString("[VERIFIED] %s in file %s", location, o.DetailedPath)
	case o.Status == verifier.VerifiedRejected && o.Offset != nil && o.Opcode == "":
		return color.RedString("[REJECTED] %s in file %s. Pass %s at offset %d: %s", location, o.DetailedPath, o.Pass, *o.Offset, o.Error)
	case o.Status == verifier.VerifiedRejected && o.Offset != nil:
		return color.RedString("[REJECTED] %s in file %s. Pass %s, %s at offset %d: %s", location, o.DetailedPath, o.Pass, o.Opcode, *o.Offset, o.Error)
	case o.Status == verifier.VerifiedRejected:
		return color.RedString("[REJECTED] %s in file %s. Pass %s: %s", location, o.DetailedPath, o.Pass, o.Error)
	}
	return color.YellowString("[UNVERIFIED] %s in file %s: %s", location, o.DetailedPath, o.Error)
}

// Summary returns the counts of everything reported so far.
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.RejectionsByPass = make(map[verifier.Pass]uint64, len(r.summary.RejectionsByPass))
	for p, n := range r.summary.RejectionsByPass {
		s.RejectionsByPass[p] = n
	}
	return s
}

// FailureCount returns the number of rejected classes plus the number of verification errors.
func (r *Reporter) FailureCount() uint64 {
	s := r.Summary()
	return s.ClassesRejected + s.Errors
}
