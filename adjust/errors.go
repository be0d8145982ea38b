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

package adjust

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoData           = errors.New("no data for instrument")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrDegenerateFactor = errors.New("degenerate adjustment factor")
	ErrDuplicateDate    = errors.New("duplicate date")
	ErrTickerMismatch   = errors.New("ticker does not match series")
)

const (
	FieldDate             = "date"
	FieldOpen             = "open"
	FieldHigh             = "high"
	FieldLow              = "low"
	FieldAdjustedClose    = "adjusted_close"
	FieldVolume           = "volume"
	FieldSplitCoefficient = "split_coefficient"
	FieldDividendAmount   = "dividend_amount"
	FieldTicker           = "ticker"
)

// MissingInstrumentDataError is returned when an instrument has no usable
// records. It is a diagnostic, the batch continues.
type MissingInstrumentDataError struct {
	Ticker string
	// Rejected is the number of records that were supplied but failed
	Rejected int
}

func (e *MissingInstrumentDataError) Error() string {
	if e.Rejected > 0 {
		return fmt.Sprintf("%s: %s (%d records rejected)", e.Ticker, ErrNoData, e.Rejected)
	}
	return fmt.Sprintf("%s: %s", e.Ticker, ErrNoData)
}

func (e *MissingInstrumentDataError) Unwrap() error {
	return ErrNoData
}

// InvalidRecordError describes a single record that was dropped from an
// instrument's output
type InvalidRecordError struct {
	Ticker string
	Date   time.Time
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *InvalidRecordError) Error() string {
	dt := "unknown date"
	if !e.Date.IsZero() {
		dt = e.Date.Format(DateFormat)
	}
	msg := fmt.Sprintf("%s %s: invalid %s %q: %s", e.Ticker, dt, e.Field, e.Value, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is reports ErrInvalidRecord for every InvalidRecordError
func (e *InvalidRecordError) Is(target error) bool {
	return target == ErrInvalidRecord
}

func (e *InvalidRecordError) Unwrap() error {
	return e.Err
}
