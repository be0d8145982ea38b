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

package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-eod/adjust"
	"github.com/penny-vault/pv-eod/tabular"
)

// RawFile serves quotes from a raw CSV file held in memory
type RawFile struct {
	fn      string
	quotes  map[string][]adjust.RawQuote
	tickers []string
}

// LoadRawFile reads and indexes fn by ticker
func LoadRawFile(fn string) (*RawFile, error) {
	fh, err := os.Open(fn)
	if err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not open raw quote file")
		return nil, err
	}
	defer fh.Close()

	quotes, err := tabular.ReadRawCSV(fh)
	if err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not read raw quote file")
		return nil, err
	}

	rf := &RawFile{
		fn:     fn,
		quotes: make(map[string][]adjust.RawQuote),
	}
	for _, q := range quotes {
		ticker := ProviderTicker(q.Ticker)
		q.Ticker = ticker
		if _, ok := rf.quotes[ticker]; !ok {
			rf.tickers = append(rf.tickers, ticker)
		}
		rf.quotes[ticker] = append(rf.quotes[ticker], q)
	}
	sort.Strings(rf.tickers)

	log.Info().Str("File", fn).Int("NumQuotes", len(quotes)).Int("NumTickers", len(rf.tickers)).Msg("loaded raw quote file")
	return rf, nil
}

// Quotes returns the rows of the instrument, stamped with the instrument's
// name and sector where the file has none
func (rf *RawFile) Quotes(_ context.Context, instrument Instrument) ([]adjust.RawQuote, error) {
	rows := rf.quotes[instrument.Ticker]
	res := make([]adjust.RawQuote, len(rows))
	for idx, q := range rows {
		if q.Name == "" {
			q.Name = instrument.Name
		}
		if q.Sector == "" {
			q.Sector = instrument.Sector
		}
		res[idx] = q
	}
	return res, nil
}

// Instruments lists every ticker in the file, taking name and sector from the
// first row that has them
func (rf *RawFile) Instruments(_ context.Context) ([]Instrument, error) {
	res := make([]Instrument, 0, len(rf.tickers))
	for _, ticker := range rf.tickers {
		instrument := Instrument{Ticker: ticker}
		for _, q := range rf.quotes[ticker] {
			if instrument.Name == "" {
				instrument.Name = q.Name
			}
			if instrument.Sector == "" {
				instrument.Sector = q.Sector
			}
		}
		res = append(res, instrument)
	}
	return res, nil
}

// ReadInstrumentsCSV reads a ticker,name,sector file
func ReadInstrumentsCSV(r io.Reader) ([]Instrument, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}

	cols := map[string]int{"ticker": -1, "name": -1, "sector": -1}
	for idx, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := cols[key]; ok {
			cols[key] = idx
		}
	}
	if cols["ticker"] < 0 {
		return nil, fmt.Errorf("%w: ticker", ErrColumnMissing)
	}

	cell := func(row []string, col string) string {
		idx := cols[col]
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	res := make([]Instrument, 0)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		ticker := ProviderTicker(cell(row, "ticker"))
		if ticker == "" {
			continue
		}
		res = append(res, Instrument{
			Ticker: ticker,
			Name:   cell(row, "name"),
			Sector: cell(row, "sector"),
		})
	}
	return res, nil
}
