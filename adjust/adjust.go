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

// Package adjust back-adjusts daily price series for splits and cash
// dividends.
//
// Walking from the most recent date to the oldest, a cumulative factor is
// divided by split*(1 + dividend/adjustedClose) at every date and applied to
// that date's open, high and low. The provider's adjusted close is passed
// through unchanged. A date's own event is applied to its own prices.
package adjust

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Result is the adjusted series of one instrument, newest date first
type Result struct {
	Ticker   string
	Records  []AdjustedDailyRecord
	Failures []*InvalidRecordError
}

// foldState is the state carried from one date to the next (older) date
type foldState struct {
	factor float64
}

// step applies a single record to the fold. On failure the returned state is
// the input state so a bad record cannot disturb older dates.
func (s foldState) step(ticker string, rec RawDailyRecord) (foldState, AdjustedDailyRecord, *InvalidRecordError) {
	if bad := validate(ticker, rec); bad != nil {
		return s, AdjustedDailyRecord{}, bad
	}

	denominator := rec.SplitCoefficient * (1 + rec.DividendAmount/rec.AdjustedClose)
	if denominator <= 0 || math.IsNaN(denominator) || math.IsInf(denominator, 0) {
		return s, AdjustedDailyRecord{}, &InvalidRecordError{
			Ticker: rec.Ticker,
			Date:   rec.Date,
			Field:  FieldDividendAmount,
			Value:  formatFloat(rec.DividendAmount),
			Reason: fmt.Sprintf("adjustment denominator %v", denominator),
			Err:    ErrDegenerateFactor,
		}
	}

	next := foldState{factor: s.factor / denominator}
	if next.factor == 0 || math.IsNaN(next.factor) || math.IsInf(next.factor, 0) {
		return s, AdjustedDailyRecord{}, &InvalidRecordError{
			Ticker: rec.Ticker,
			Date:   rec.Date,
			Field:  FieldSplitCoefficient,
			Value:  formatFloat(rec.SplitCoefficient),
			Reason: fmt.Sprintf("adjustment factor %v", next.factor),
			Err:    ErrDegenerateFactor,
		}
	}

	return next, AdjustedDailyRecord{
		Ticker:        rec.Ticker,
		Name:          rec.Name,
		Sector:        rec.Sector,
		Date:          rec.Date,
		AdjustedOpen:  rec.Open * next.factor,
		AdjustedHigh:  rec.High * next.factor,
		AdjustedLow:   rec.Low * next.factor,
		AdjustedClose: rec.AdjustedClose,
		Volume:        rec.Volume,
	}, nil
}

func validate(ticker string, rec RawDailyRecord) *InvalidRecordError {
	invalid := func(field string, val float64, reason string) *InvalidRecordError {
		return &InvalidRecordError{Ticker: rec.Ticker, Date: rec.Date, Field: field, Value: formatFloat(val), Reason: reason}
	}

	if ticker != "" && rec.Ticker != ticker {
		return &InvalidRecordError{Ticker: rec.Ticker, Date: rec.Date, Field: FieldTicker, Value: rec.Ticker, Reason: "expected " + ticker, Err: ErrTickerMismatch}
	}
	if rec.Date.IsZero() {
		return &InvalidRecordError{Ticker: rec.Ticker, Field: FieldDate, Reason: "missing date"}
	}
	if !finite(rec.AdjustedClose) || rec.AdjustedClose <= 0 {
		return invalid(FieldAdjustedClose, rec.AdjustedClose, "must be positive")
	}

	prices := []struct {
		field string
		val   float64
	}{
		{FieldOpen, rec.Open},
		{FieldHigh, rec.High},
		{FieldLow, rec.Low},
	}
	for _, p := range prices {
		if !finite(p.val) || p.val < 0 {
			return invalid(p.field, p.val, "must be a non-negative number")
		}
	}

	if rec.Volume < 0 {
		return &InvalidRecordError{Ticker: rec.Ticker, Date: rec.Date, Field: FieldVolume, Value: strconv.FormatInt(rec.Volume, 10), Reason: "must not be negative"}
	}
	if !finite(rec.SplitCoefficient) || rec.SplitCoefficient <= 0 {
		return invalid(FieldSplitCoefficient, rec.SplitCoefficient, "must be positive")
	}
	if !finite(rec.DividendAmount) || rec.DividendAmount < 0 {
		return invalid(FieldDividendAmount, rec.DividendAmount, "must not be negative")
	}

	return nil
}

// Adjuster lazily produces the adjusted series for one instrument. It can be
// restarted with Reset, each pass yields the same records.
//
//	adj := adjust.NewAdjuster("AAPL", records)
//	for adj.Next() {
//		rec := adj.Record()
//	}
//	if err := adj.Err(); err != nil { ... }
type Adjuster struct {
	ticker string
	sorted []RawDailyRecord

	pos      int
	state    foldState
	current  AdjustedDailyRecord
	failures []*InvalidRecordError
	emitted  int
	done     bool
}

// NewAdjuster sorts a copy of records newest first and prepares the fold. The
// caller's slice is not modified.
func NewAdjuster(ticker string, records []RawDailyRecord) *Adjuster {
	sorted := make([]RawDailyRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return newerFirst(sorted[i], sorted[j])
	})

	adj := &Adjuster{
		ticker: ticker,
		sorted: sorted,
	}
	adj.Reset()
	return adj
}

// Ticker of the series being adjusted
func (adj *Adjuster) Ticker() string {
	return adj.ticker
}

// Len is the number of input records
func (adj *Adjuster) Len() int {
	return len(adj.sorted)
}

// Reset rewinds the adjuster to the most recent date with a factor of 1.0
func (adj *Adjuster) Reset() {
	adj.pos = 0
	adj.state = foldState{factor: 1.0}
	adj.current = AdjustedDailyRecord{}
	adj.emitted = 0
	adj.done = false
	adj.failures = nil
}

// Next advances to the next valid record. It returns false once the series is
// exhausted.
func (adj *Adjuster) Next() bool {
	for adj.pos < len(adj.sorted) {
		rec := adj.sorted[adj.pos]
		adj.pos++

		// dates are unique in the output, the first valid record of a date wins
		if adj.emitted > 0 && rec.Date.Equal(adj.current.Date) {
			adj.failures = append(adj.failures, &InvalidRecordError{
				Ticker: rec.Ticker,
				Date:   rec.Date,
				Field:  FieldDate,
				Value:  rec.Date.Format(DateFormat),
				Reason: "more than one record for date",
				Err:    ErrDuplicateDate,
			})
			continue
		}

		next, out, bad := adj.state.step(adj.ticker, rec)
		if bad != nil {
			adj.failures = append(adj.failures, bad)
			continue
		}

		adj.state = next
		adj.current = out
		adj.emitted++
		return true
	}

	adj.done = true
	adj.current = AdjustedDailyRecord{}
	return false
}

// Record returns the record produced by the last successful call to Next
func (adj *Adjuster) Record() AdjustedDailyRecord {
	return adj.current
}

// Factor returns the current value of the cumulative adjustment factor
func (adj *Adjuster) Factor() float64 {
	return adj.state.factor
}

// Failures returns the records rejected so far in this pass
func (adj *Adjuster) Failures() []*InvalidRecordError {
	return adj.failures
}

// Err returns a *MissingInstrumentDataError once a pass has finished without
// producing a single record.
func (adj *Adjuster) Err() error {
	if adj.done && adj.emitted == 0 {
		return &MissingInstrumentDataError{Ticker: adj.ticker, Rejected: len(adj.failures)}
	}
	return nil
}

// AdjustSeries runs the complete fold over one instrument's records. Records
// may be supplied in any order. The error is a *MissingInstrumentDataError
// when no record survived; the result is returned either way.
func AdjustSeries(ticker string, records []RawDailyRecord) (*Result, error) {
	adj := NewAdjuster(ticker, records)
	res := &Result{
		Ticker:  ticker,
		Records: make([]AdjustedDailyRecord, 0, adj.Len()),
	}
	for adj.Next() {
		res.Records = append(res.Records, adj.Record())
	}
	res.Failures = adj.Failures()
	return res, adj.Err()
}

// AdjustQuotes parses quotes and adjusts them. Quotes that fail to parse are
// reported alongside the records the fold rejects.
func AdjustQuotes(ticker string, quotes []RawQuote) (*Result, error) {
	records, parseFailures := ParseQuotes(quotes)
	res, err := AdjustSeries(ticker, records)
	if len(parseFailures) > 0 {
		res.Failures = append(parseFailures, res.Failures...)
	}
	var missing *MissingInstrumentDataError
	if errors.As(err, &missing) {
		missing.Rejected = len(res.Failures)
	}
	return res, err
}

// ParseQuotes parses every quote, splitting the good from the bad
func ParseQuotes(quotes []RawQuote) ([]RawDailyRecord, []*InvalidRecordError) {
	records := make([]RawDailyRecord, 0, len(quotes))
	var failures []*InvalidRecordError
	for _, q := range quotes {
		rec, err := ParseQuote(q)
		if err != nil {
			failures = append(failures, err.(*InvalidRecordError))
			continue
		}
		records = append(records, rec)
	}
	return records, failures
}

// newerFirst orders by date descending. Records sharing a date are ordered by
// their remaining fields so the kept record does not depend on input order.
func newerFirst(a, b RawDailyRecord) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	if a.Ticker != b.Ticker {
		return a.Ticker < b.Ticker
	}
	keysA := [...]float64{a.AdjustedClose, a.Open, a.High, a.Low, float64(a.Volume), a.SplitCoefficient, a.DividendAmount}
	keysB := [...]float64{b.AdjustedClose, b.Open, b.High, b.Low, float64(b.Volume), b.SplitCoefficient, b.DividendAmount}
	for ii := range keysA {
		x, y := keysA[ii], keysB[ii]
		switch {
		case x == y || (math.IsNaN(x) && math.IsNaN(y)):
			continue
		case math.IsNaN(x):
			return true
		case math.IsNaN(y):
			return false
		default:
			return x < y
		}
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Sector < b.Sector
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
