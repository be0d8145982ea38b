// Copyright 2021-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

type Status string

const (
	StatusOK          Status = "ok"
	StatusNoData      Status = "no-data"
	StatusFetchFailed Status = "fetch-failed"
	StatusSinkFailed  Status = "sink-failed"
	StatusSkipped     Status = "skipped"
)

// InstrumentResult is the outcome for one instrument
type InstrumentResult struct {
	Ticker  string
	Status  Status
	Records int
	Invalid int
	Err     error
}

// Report summarizes a run. Results are in the order the instruments were
// given to Run.
type Report struct {
	Results  []InstrumentResult
	Started  time.Time
	Finished time.Time
}

// Count returns the number of instruments with status
func (r *Report) Count(status Status) int {
	cnt := 0
	for _, res := range r.Results {
		if res.Status == status {
			cnt++
		}
	}
	return cnt
}

// Failed lists instruments that did not finish with StatusOK
func (r *Report) Failed() []InstrumentResult {
	failed := make([]InstrumentResult, 0)
	for _, res := range r.Results {
		if res.Status != StatusOK {
			failed = append(failed, res)
		}
	}
	return failed
}

// FailureRate is the share of instruments that did not finish with StatusOK;
// an empty report has a rate of 0
func (r *Report) FailureRate() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	return float64(len(r.Failed())) / float64(len(r.Results))
}

// NumRecords is the total of adjusted records across instruments
func (r *Report) NumRecords() int {
	total := 0
	for _, res := range r.Results {
		total += res.Records
	}
	return total
}

// NumInvalid is the total of rejected records across instruments
func (r *Report) NumInvalid() int {
	total := 0
	for _, res := range r.Results {
		total += res.Invalid
	}
	return total
}

// Render writes the report as a table. Only instruments that need attention
// are listed unless all is true.
func (r *Report) Render(w io.Writer, all bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Ticker", "Status", "Records", "Invalid", "Error"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	rows := r.Results
	if !all {
		rows = r.Failed()
		rows = append(rows, r.withInvalid()...)
	}

	sorted := make([]InstrumentResult, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Ticker < sorted[j].Ticker
	})

	for _, res := range sorted {
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		table.Append([]string{res.Ticker, string(res.Status), strconv.Itoa(res.Records), strconv.Itoa(res.Invalid), msg})
	}

	table.SetFooter([]string{
		fmt.Sprintf("%d instruments", len(r.Results)),
		fmt.Sprintf("%d ok", r.Count(StatusOK)),
		strconv.Itoa(r.NumRecords()),
		strconv.Itoa(r.NumInvalid()),
		fmt.Sprintf("failure rate %.1f%%", r.FailureRate()*100),
	})
	table.Render()
}

// withInvalid returns successful instruments that had rejected records
func (r *Report) withInvalid() []InstrumentResult {
	res := make([]InstrumentResult, 0)
	for _, item := range r.Results {
		if item.Status == StatusOK && item.Invalid > 0 {
			res = append(res, item)
		}
	}
	return res
}
