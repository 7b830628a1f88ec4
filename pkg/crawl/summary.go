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
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/palantir/jvm-verifier/pkg/verifier"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Summary counts the classes and methods reported by a Reporter.
type Summary struct {
	Classes         uint64 `json:"classes"`
	ClassesRejected uint64 `json:"classesRejected"`
	Methods         uint64 `json:"methods"`
	MethodsRejected uint64 `json:"methodsRejected"`
	// Errors counts classes and methods for which no verdict could be reached.
	Errors           uint64                   `json:"errors"`
	RejectionsByPass map[verifier.Pass]uint64 `json:"rejectionsByPass,omitempty"`
}

func (s *Summary) rejectedIn(p verifier.Pass) {
	if s.RejectionsByPass == nil {
		s.RejectionsByPass = make(map[verifier.Pass]uint64)
	}
	s.RejectionsByPass[p]++
}

// SummaryJSON is the JSON form of a crawl summary.
type SummaryJSON struct {
	Stats
	Summary
}

// WriteSummary writes the crawl statistics and verification counts as a table, or as a single
// JSON object if outputJSON is set.
func WriteSummary(w io.Writer, stats Stats, summary Summary, outputJSON bool) error {
	if outputJSON {
		jsonBytes, err := json.Marshal(SummaryJSON{Stats: stats, Summary: summary})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(jsonBytes))
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Measure", "Count"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	rows := [][]string{
		{"Files scanned", count(stats.FilesScanned)},
		{"Paths skipped", count(stats.PathSkippedCount)},
		{"Permission denied", count(stats.PermissionDeniedCount)},
		{"Path errors", count(stats.PathErrorCount)},
		{"Classes verified", count(summary.Classes)},
		{"Classes rejected", count(summary.ClassesRejected)},
		{"Methods verified", count(summary.Methods)},
		{"Methods rejected", count(summary.MethodsRejected)},
		{"Verification errors", count(summary.Errors)},
	}
	passes := maps.Keys(summary.RejectionsByPass)
	slices.Sort(passes)
	for _, p := range passes {
		rows = append(rows, []string{"Rejections in pass " + p.String(), count(summary.RejectionsByPass[p])})
	}
	table.AppendBulk(rows)
	table.Render()
	return nil
}

func count(n uint64) string {
	return strconv.FormatUint(n, 10)
}
