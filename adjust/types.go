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
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DateFormat = "2006-01-02"

	DefaultSplitCoefficient = 1.0
	DefaultDividendAmount   = 0.0
)

// RawQuote is a daily observation exactly as a provider or file delivered it.
// Split coefficient and dividend amount may be empty.
type RawQuote struct {
	Ticker           string
	Name             string
	Sector           string
	Date             string
	Open             string
	High             string
	Low              string
	AdjustedClose    string
	Volume           string
	SplitCoefficient string
	DividendAmount   string
}

// RawDailyRecord is one parsed, unadjusted observation for an instrument
type RawDailyRecord struct {
	Ticker           string
	Name             string
	Sector           string
	Date             time.Time
	Open             float64
	High             float64
	Low              float64
	AdjustedClose    float64
	Volume           int64
	SplitCoefficient float64
	DividendAmount   float64
}

// AdjustedDailyRecord is the engine output for one date. AdjustedClose is the
// upstream value, never rescaled.
type AdjustedDailyRecord struct {
	Ticker        string    `json:"ticker"`
	Name          string    `json:"name"`
	Sector        string    `json:"sector"`
	Date          time.Time `json:"date"`
	AdjustedOpen  float64   `json:"adjustedOpen"`
	AdjustedHigh  float64   `json:"adjustedHigh"`
	AdjustedLow   float64   `json:"adjustedLow"`
	AdjustedClose float64   `json:"adjustedClose"`
	Volume        int64     `json:"volume"`
}

// ParseDate parses a calendar date (YYYY-MM-DD). Anything after a 'T' or a
// space is ignored so provider timestamps are accepted.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, "T "); idx > 0 {
		s = s[:idx]
	}
	return time.Parse(DateFormat, s)
}

// ParseQuote converts a RawQuote into a RawDailyRecord. This is where missing
// split coefficients and dividend amounts receive their defaults.
func ParseQuote(q RawQuote) (RawDailyRecord, error) {
	rec := RawDailyRecord{
		Ticker:           q.Ticker,
		Name:             q.Name,
		Sector:           q.Sector,
		SplitCoefficient: DefaultSplitCoefficient,
		DividendAmount:   DefaultDividendAmount,
	}

	dt, err := ParseDate(q.Date)
	if err != nil {
		return rec, &InvalidRecordError{Ticker: q.Ticker, Field: FieldDate, Value: q.Date, Reason: "unparseable date", Err: err}
	}
	rec.Date = dt

	fields := []struct {
		name string
		val  string
		dest *float64
	}{
		{FieldOpen, q.Open, &rec.Open},
		{FieldHigh, q.High, &rec.High},
		{FieldLow, q.Low, &rec.Low},
		{FieldAdjustedClose, q.AdjustedClose, &rec.AdjustedClose},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.val), 64)
		if err != nil {
			return rec, &InvalidRecordError{Ticker: q.Ticker, Date: dt, Field: f.name, Value: f.val, Reason: "not a number", Err: err}
		}
		*f.dest = v
	}

	vol, err := ParseVolume(q.Volume)
	if err != nil {
		return rec, &InvalidRecordError{Ticker: q.Ticker, Date: dt, Field: FieldVolume, Value: q.Volume, Reason: "not an integer in int64 range", Err: err}
	}
	rec.Volume = vol

	if s := strings.TrimSpace(q.SplitCoefficient); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, &InvalidRecordError{Ticker: q.Ticker, Date: dt, Field: FieldSplitCoefficient, Value: q.SplitCoefficient, Reason: "not a number", Err: err}
		}
		rec.SplitCoefficient = v
	}

	if s := strings.TrimSpace(q.DividendAmount); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, &InvalidRecordError{Ticker: q.Ticker, Date: dt, Field: FieldDividendAmount, Value: q.DividendAmount, Reason: "not a number", Err: err}
		}
		rec.DividendAmount = v
	}

	return rec, nil
}

// ParseVolume accepts integers and integral floats ("1200.0"), some providers
// export volume as a float column. Fractional or out of range values fail.
func ParseVolume(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, strconv.ErrSyntax
	}
	// float64(math.MaxInt64) rounds up to 2^63
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, strconv.ErrRange
	}
	return int64(f), nil
}
