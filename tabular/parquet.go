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

package tabular

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/penny-vault/pv-eod/adjust"
)

// ParquetRecord is the parquet layout of an adjusted record. Column names
// match AdjustedColumns.
type ParquetRecord struct {
	Ticker        string  `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Name          string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Sector        string  `parquet:"name=sector, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Date          string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	AdjustedOpen  float64 `parquet:"name=adjusted_open, type=DOUBLE"`
	AdjustedHigh  float64 `parquet:"name=adjusted_high, type=DOUBLE"`
	AdjustedLow   float64 `parquet:"name=adjusted_low, type=DOUBLE"`
	AdjustedClose float64 `parquet:"name=adjusted_close, type=DOUBLE"`
	Volume        int64   `parquet:"name=volume, type=INT64, convertedtype=INT_64"`
}

// ParquetWriter writes adjusted series to a snappy compressed parquet file
type ParquetWriter struct {
	lock   sync.Mutex
	fh     source.ParquetFile
	pw     *writer.ParquetWriter
	fn     string
	closed bool
}

// CreateParquet creates fn and prepares it for writing
func CreateParquet(fn string) (*ParquetWriter, error) {
	fh, err := local.NewLocalFileWriter(fn)
	if err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not create parquet file")
		return nil, err
	}

	pw, err := writer.NewParquetWriter(fh, new(ParquetRecord), 4)
	if err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not create parquet writer")
		fh.Close()
		return nil, err
	}

	pw.RowGroupSize = 128 * 1024 * 1024 // 128M
	pw.PageSize = 8 * 1024              // 8K
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	return &ParquetWriter{
		fh: fh,
		pw: pw,
		fn: fn,
	}, nil
}

// Write appends every record of the adjuster
func (w *ParquetWriter) Write(ctx context.Context, adj *adjust.Adjuster) error {
	adj.Reset()
	rows := make([]*ParquetRecord, 0, adj.Len())
	for adj.Next() {
		rec := adj.Record()
		rows = append(rows, &ParquetRecord{
			Ticker:        rec.Ticker,
			Name:          rec.Name,
			Sector:        rec.Sector,
			Date:          rec.Date.Format(adjust.DateFormat),
			AdjustedOpen:  rec.AdjustedOpen,
			AdjustedHigh:  rec.AdjustedHigh,
			AdjustedLow:   rec.AdjustedLow,
			AdjustedClose: rec.AdjustedClose,
			Volume:        rec.Volume,
		})
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return ErrClosed
	}

	for _, row := range rows {
		if err := w.pw.Write(row); err != nil {
			log.Error().Err(err).Str("File", w.fn).Str("Ticker", adj.Ticker()).Msg("could not write parquet row")
			return err
		}
	}
	return nil
}

// Close writes the footer and closes the file
func (w *ParquetWriter) Close() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.pw.WriteStop(); err != nil {
		log.Error().Err(err).Str("File", w.fn).Msg("could not finalize parquet file")
		w.fh.Close()
		return err
	}
	return w.fh.Close()
}

// ReadParquet reads every record of a file written by ParquetWriter
func ReadParquet(fn string) ([]adjust.AdjustedDailyRecord, error) {
	fh, err := local.NewLocalFileReader(fn)
	if err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not open parquet file")
		return nil, err
	}
	defer fh.Close()

	pr, err := reader.NewParquetReader(fh, new(ParquetRecord), 4)
	if err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not create parquet reader")
		return nil, err
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	rows := make([]ParquetRecord, num)
	if err := pr.Read(&rows); err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not read parquet rows")
		return nil, err
	}

	records := make([]adjust.AdjustedDailyRecord, 0, num)
	for _, row := range rows {
		dt, err := adjust.ParseDate(row.Date)
		if err != nil {
			return nil, err
		}
		records = append(records, adjust.AdjustedDailyRecord{
			Ticker:        row.Ticker,
			Name:          row.Name,
			Sector:        row.Sector,
			Date:          dt,
			AdjustedOpen:  row.AdjustedOpen,
			AdjustedHigh:  row.AdjustedHigh,
			AdjustedLow:   row.AdjustedLow,
			AdjustedClose: row.AdjustedClose,
			Volume:        row.Volume,
		})
	}
	return records, nil
}
