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

package pgxmockhelper

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/pashagolub/pgxmock"
	"github.com/rs/zerolog/log"
)

// CSVRows holds fixture rows used to answer mocked queries
type CSVRows struct {
	rows   [][]any
	header []string
}

// NewCSVRows reads a fixture. typeMap converts named columns to "date",
// "float64" or "int64"; other columns stay strings.
func NewCSVRows(csvFn string, typeMap map[string]string) *CSVRows {
	subLog := log.With().Str("CsvFn", csvFn).Logger()

	rawData, err := os.ReadFile(csvFn)
	if err != nil {
		subLog.Panic().Err(err).Msg("could not read file")
	}

	lines := strings.Split(string(rawData), "\n")
	if len(lines) < 2 {
		subLog.Panic().Int("NumLines", len(lines)).Msg("input file does not have enough lines, need at least 2 (header + trailing new line)")
	}
	if lines[len(lines)-1] != "" {
		subLog.Panic().Msg("input file is missing a trailing new line")
	}

	rows := &CSVRows{
		header: strings.Split(lines[0], ","),
		rows:   make([][]any, 0, len(lines)-2),
	}

	for _, ll := range lines[1 : len(lines)-1] {
		parts := strings.Split(ll, ",")
		cols := make([]any, len(rows.header))
		for idx, val := range parts {
			if idx >= len(cols) {
				break
			}
			switch typeMap[rows.header[idx]] {
			case "date":
				parsed, err := time.Parse("2006-01-02", val)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to date of format 2006-01-02")
				}
				cols[idx] = parsed
			case "float64":
				parsed, err := strconv.ParseFloat(val, 64)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to float64")
				}
				cols[idx] = parsed
			case "int64":
				parsed, err := strconv.ParseInt(val, 10, 64)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to int64")
				}
				cols[idx] = parsed
			default:
				cols[idx] = val
			}
		}
		rows.rows = append(rows.rows, cols)
	}

	return rows
}

// Where keeps the rows whose column equals val
func (csvRows *CSVRows) Where(column string, val any) *CSVRows {
	colIdx := -1
	for idx, name := range csvRows.header {
		if name == column {
			colIdx = idx
		}
	}
	if colIdx == -1 {
		log.Panic().Str("Column", column).Msg("no such column")
	}

	filtered := &CSVRows{header: csvRows.header, rows: make([][]any, 0)}
	for _, row := range csvRows.rows {
		if row[colIdx] == val {
			filtered.rows = append(filtered.rows, row)
		}
	}
	return filtered
}

// Select projects the rows onto columns
func (csvRows *CSVRows) Select(columns ...string) *CSVRows {
	idx := make([]int, len(columns))
	for ii, column := range columns {
		idx[ii] = -1
		for jj, name := range csvRows.header {
			if name == column {
				idx[ii] = jj
			}
		}
		if idx[ii] == -1 {
			log.Panic().Str("Column", column).Msg("no such column")
		}
	}

	projected := &CSVRows{header: columns, rows: make([][]any, 0, len(csvRows.rows))}
	for _, row := range csvRows.rows {
		out := make([]any, len(columns))
		for ii, jj := range idx {
			out[ii] = row[jj]
		}
		projected.rows = append(projected.rows, out)
	}
	return projected
}

// Len is the number of fixture rows
func (csvRows *CSVRows) Len() int {
	return len(csvRows.rows)
}

// Rows converts the fixture into pgxmock rows
func (csvRows *CSVRows) Rows() *pgxmock.Rows {
	r := pgxmock.NewRows(csvRows.header)
	for _, row := range csvRows.rows {
		r.AddRow(row...)
	}
	return r
}

// MockStockLookup expects the name and sector lookup for ticker and answers
// it from the stocks fixture in fn; tickers missing from the fixture get
// pgx.ErrNoRows
func MockStockLookup(db pgxmock.PgxConnIface, fn, ticker string) {
	expect := db.ExpectQuery("SELECT COALESCE\\(name, ''\\), COALESCE\\(sector, ''\\) FROM stocks").WithArgs(ticker)

	rows := NewCSVRows(fn, nil).Where("ticker", ticker)
	if rows.Len() == 0 {
		expect.WillReturnError(pgx.ErrNoRows)
		return
	}
	expect.WillReturnRows(rows.Select("name", "sector").Rows())
}
