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

// Package tabular reads and writes raw and adjusted daily price files
package tabular

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-eod/adjust"
)

var (
	ErrMissingColumn = errors.New("required column missing")
	ErrInvalidValue  = errors.New("invalid value")
	ErrClosed        = errors.New("writer is closed")
)

// AdjustedColumns is the header of every adjusted file
var AdjustedColumns = []string{
	"ticker", "name", "sector", "date",
	"adjusted_open", "adjusted_high", "adjusted_low", "adjusted_close", "volume",
}

// CSVWriter writes adjusted series as CSV. Instruments may be written from
// multiple goroutines; the rows of one instrument are always contiguous.
type CSVWriter struct {
	lock   sync.Mutex
	writer *csv.Writer
	closer io.Closer
	closed bool
}

// NewCSVWriter writes the header to w and returns a writer ready for use
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := &CSVWriter{
		writer: csv.NewWriter(w),
	}
	if err := cw.writer.Write(AdjustedColumns); err != nil {
		return nil, err
	}
	cw.writer.Flush()
	return cw, cw.writer.Error()
}

// CreateCSV creates (or truncates) fn and returns a writer that closes the
// file on Close
func CreateCSV(fn string) (*CSVWriter, error) {
	fh, err := os.Create(fn)
	if err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not create csv file")
		return nil, err
	}

	cw, err := NewCSVWriter(fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	cw.closer = fh
	return cw, nil
}

// Write appends every record of the adjuster
func (cw *CSVWriter) Write(ctx context.Context, adj *adjust.Adjuster) error {
	adj.Reset()
	rows := make([][]string, 0, adj.Len())
	for adj.Next() {
		rows = append(rows, AdjustedRow(adj.Record()))
	}

	if len(rows) == 0 {
		return nil
	}

	cw.lock.Lock()
	defer cw.lock.Unlock()

	if cw.closed {
		return ErrClosed
	}
	if err := cw.writer.WriteAll(rows); err != nil {
		log.Error().Err(err).Str("Ticker", adj.Ticker()).Msg("could not write csv rows")
		return err
	}
	return nil
}

// Close flushes buffered rows and closes the underlying file if the writer
// created it
func (cw *CSVWriter) Close() error {
	cw.lock.Lock()
	defer cw.lock.Unlock()

	if cw.closed {
		return nil
	}
	cw.closed = true

	cw.writer.Flush()
	err := cw.writer.Error()
	if cw.closer != nil {
		if cerr := cw.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// AdjustedRow formats a record in AdjustedColumns order
func AdjustedRow(rec adjust.AdjustedDailyRecord) []string {
	return []string{
		rec.Ticker,
		rec.Name,
		rec.Sector,
		rec.Date.Format(adjust.DateFormat),
		formatFloat(rec.AdjustedOpen),
		formatFloat(rec.AdjustedHigh),
		formatFloat(rec.AdjustedLow),
		formatFloat(rec.AdjustedClose),
		strconv.FormatInt(rec.Volume, 10),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// normalizeHeader lowercases a column name and drops underscores, spaces and
// dashes so adjusted_close, adjustedClose and "Adjusted Close" all match
func normalizeHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(name)
}

type columnIndex map[string]int

func indexHeader(header []string) columnIndex {
	idx := make(columnIndex, len(header))
	for ii, name := range header {
		key := normalizeHeader(name)
		if _, ok := idx[key]; !ok {
			idx[key] = ii
		}
	}
	return idx
}

func (ci columnIndex) require(names ...string) error {
	for _, name := range names {
		if _, ok := ci[normalizeHeader(name)]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return nil
}

// get returns the cell for column name or "" when the column is absent
func (ci columnIndex) get(row []string, name string) string {
	ii, ok := ci[normalizeHeader(name)]
	if !ok || ii >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[ii])
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false
	return reader
}

// ReadRawCSV reads unadjusted daily quotes. Columns are matched ignoring
// case and underscores; split_coefficient, dividend_amount, name and sector
// are optional. Values are returned unparsed.
func ReadRawCSV(r io.Reader) ([]adjust.RawQuote, error) {
	reader := newReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}

	cols := indexHeader(header)
	if err := cols.require("ticker", "date", "open", "high", "low", "adjusted_close", "volume"); err != nil {
		return nil, err
	}

	quotes := make([]adjust.RawQuote, 0)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlank(row) {
			continue
		}

		quotes = append(quotes, adjust.RawQuote{
			Ticker:           strings.ToUpper(cols.get(row, "ticker")),
			Name:             cols.get(row, "name"),
			Sector:           cols.get(row, "sector"),
			Date:             cols.get(row, "date"),
			Open:             cols.get(row, "open"),
			High:             cols.get(row, "high"),
			Low:              cols.get(row, "low"),
			AdjustedClose:    cols.get(row, "adjusted_close"),
			Volume:           cols.get(row, "volume"),
			SplitCoefficient: cols.get(row, "split_coefficient"),
			DividendAmount:   cols.get(row, "dividend_amount"),
		})
	}

	return quotes, nil
}

// ReadAdjustedCSV reads a file in AdjustedColumns layout. Empty numeric cells
// are read as 0.
func ReadAdjustedCSV(r io.Reader) ([]adjust.AdjustedDailyRecord, error) {
	reader := newReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}

	cols := indexHeader(header)
	if err := cols.require("ticker", "date"); err != nil {
		return nil, err
	}

	records := make([]adjust.AdjustedDailyRecord, 0)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlank(row) {
			continue
		}

		line, _ := reader.FieldPos(0)
		rec := adjust.AdjustedDailyRecord{
			Ticker: strings.ToUpper(cols.get(row, "ticker")),
			Name:   cols.get(row, "name"),
			Sector: cols.get(row, "sector"),
		}

		if rec.Ticker == "" {
			return nil, fmt.Errorf("line %d: %w: empty ticker", line, ErrInvalidValue)
		}

		rec.Date, err = adjust.ParseDate(cols.get(row, "date"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: date: %v", line, ErrInvalidValue, err)
		}

		numerics := []struct {
			name string
			dst  *float64
		}{
			{"adjusted_open", &rec.AdjustedOpen},
			{"adjusted_high", &rec.AdjustedHigh},
			{"adjusted_low", &rec.AdjustedLow},
			{"adjusted_close", &rec.AdjustedClose},
		}
		for _, col := range numerics {
			val, err := floatOrZero(cols.get(row, col.name))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w: %s: %v", line, ErrInvalidValue, col.name, err)
			}
			*col.dst = val
		}

		if volume := cols.get(row, "volume"); volume != "" {
			rec.Volume, err = adjust.ParseVolume(volume)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w: volume: %v", line, ErrInvalidValue, err)
			}
		}

		records = append(records, rec)
	}

	return records, nil
}

func floatOrZero(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
