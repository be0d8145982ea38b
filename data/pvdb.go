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
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/penny-vault/pv-eod/adjust"
	"github.com/penny-vault/pv-eod/data/database"
	"github.com/penny-vault/pv-eod/observability/opentelemetry"
)

const (
	placeholder = "0"

	upsertStockSQL = `INSERT INTO stocks (ticker, name, sector) VALUES ($1, $2, $3)
ON CONFLICT (ticker) DO UPDATE SET
	name = CASE WHEN EXCLUDED.name IN ('', '0') THEN stocks.name ELSE EXCLUDED.name END,
	sector = CASE WHEN EXCLUDED.sector IN ('', '0') THEN stocks.sector ELSE EXCLUDED.sector END
RETURNING (xmax = 0) AS inserted`

	upsertStockDataSQL = `INSERT INTO stock_data (ticker, event_date, open_price, high_price, low_price, close_price, volume)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (ticker, event_date) DO UPDATE SET
	open_price = EXCLUDED.open_price,
	high_price = EXCLUDED.high_price,
	low_price = EXCLUDED.low_price,
	close_price = EXCLUDED.close_price,
	volume = EXCLUDED.volume`

	selectStockSQL = `SELECT COALESCE(name, ''), COALESCE(sector, '') FROM stocks WHERE ticker = $1`

	updateStockSQL = `UPDATE stocks SET name = $2, sector = $3 WHERE ticker = $1`
)

// PvDb stores adjusted series in the stocks and stock_data tables
type PvDb struct {
}

// NewPvDb creates a new database sink
func NewPvDb() *PvDb {
	return &PvDb{}
}

// Write stores every record the adjuster yields. All rows of the instrument
// are written in a single transaction.
func (p *PvDb) Write(ctx context.Context, adj *adjust.Adjuster) error {
	adj.Reset()
	records := make([]adjust.AdjustedDailyRecord, 0, adj.Len())
	for adj.Next() {
		records = append(records, adj.Record())
	}
	if len(records) == 0 {
		return nil
	}
	return p.SaveRecords(ctx, records)
}

// Close is a no-op; the pool is owned by the database package
func (p *PvDb) Close() error {
	return nil
}

// SaveRecords upserts records, grouped by ticker with one transaction per
// ticker. Groups keep the order in which tickers first appear.
func (p *PvDb) SaveRecords(ctx context.Context, records []adjust.AdjustedDailyRecord) error {
	order := make([]string, 0)
	groups := make(map[string][]adjust.AdjustedDailyRecord)
	for _, rec := range records {
		if _, ok := groups[rec.Ticker]; !ok {
			order = append(order, rec.Ticker)
		}
		groups[rec.Ticker] = append(groups[rec.Ticker], rec)
	}

	for _, ticker := range order {
		if err := p.saveInstrument(ctx, ticker, groups[ticker]); err != nil {
			return err
		}
	}
	return nil
}

func (p *PvDb) saveInstrument(ctx context.Context, ticker string, records []adjust.AdjustedDailyRecord) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "pvdb.SaveInstrument")
	defer span.End()

	span.SetAttributes(attribute.String("Ticker", ticker), attribute.Int("NumRecords", len(records)))
	subLog := log.With().Str("Ticker", ticker).Int("NumRecords", len(records)).Logger()

	trx, err := database.Trx(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not begin transaction")
		subLog.Error().Err(err).Msg("could not get transaction")
		return err
	}

	// the first record carries the most recent descriptive data
	name, sector := descriptive(records[0])

	var inserted bool
	if err := trx.QueryRow(ctx, upsertStockSQL, ticker, name, sector).Scan(&inserted); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock upsert failed")
		subLog.Error().Err(err).Msg("could not upsert stock")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if inserted {
		subLog.Info().Msg("new stock created")
	}

	for _, rec := range records {
		if _, err := trx.Exec(ctx, upsertStockDataSQL, ticker, rec.Date, rec.AdjustedOpen, rec.AdjustedHigh,
			rec.AdjustedLow, rec.AdjustedClose, rec.Volume); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stock data upsert failed")
			subLog.Error().Err(err).Time("Date", rec.Date).Msg("could not upsert stock data")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Err(err).Msg("could not rollback transaction")
			}
			return err
		}
	}

	if err := trx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		subLog.Error().Err(err).Msg("could not commit transaction")
		return err
	}

	subLog.Debug().Msg("saved adjusted series")
	return nil
}

// FillPlaceholders replaces placeholder names and sectors of stocks that
// already exist. It returns the tickers that could not be found; no stock is
// created.
func (p *PvDb) FillPlaceholders(ctx context.Context, instruments []Instrument) ([]string, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "pvdb.FillPlaceholders")
	defer span.End()

	trx, err := database.Trx(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not begin transaction")
		log.Error().Err(err).Msg("could not get transaction")
		return nil, err
	}

	notFound := make([]string, 0)
	numUpdated := 0

	for _, instrument := range instruments {
		subLog := log.With().Str("Ticker", instrument.Ticker).Logger()

		var curName, curSector string
		err := trx.QueryRow(ctx, selectStockSQL, instrument.Ticker).Scan(&curName, &curSector)
		if errors.Is(err, pgx.ErrNoRows) {
			subLog.Warn().Msg("stock not found")
			notFound = append(notFound, instrument.Ticker)
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stock lookup failed")
			subLog.Error().Err(err).Msg("could not query stock")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}

		name, nameChanged := fillValue(curName, instrument.Name)
		sector, sectorChanged := fillValue(curSector, instrument.Sector)
		if !nameChanged && !sectorChanged {
			subLog.Debug().Msg("no update needed")
			continue
		}

		if _, err := trx.Exec(ctx, updateStockSQL, instrument.Ticker, name, sector); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stock update failed")
			subLog.Error().Err(err).Msg("could not update stock")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}

		numUpdated++
		subLog.Info().Str("Name", name).Str("Sector", sector).Msg("updated stock")
	}

	if err := trx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		log.Error().Err(err).Msg("could not commit transaction")
		return nil, err
	}

	span.SetAttributes(attribute.Int("NumUpdated", numUpdated), attribute.Int("NumNotFound", len(notFound)))
	log.Info().Int("NumUpdated", numUpdated).Int("NumNotFound", len(notFound)).Msg("filled placeholder names and sectors")
	return notFound, nil
}

func descriptive(rec adjust.AdjustedDailyRecord) (string, string) {
	name := rec.Name
	if IsPlaceholder(name) {
		name = placeholder
	}
	sector := rec.Sector
	if IsPlaceholder(sector) {
		sector = placeholder
	}
	return name, sector
}

// fillValue returns the value to store and whether it differs from current.
// Only placeholder values are replaced and never by another placeholder.
func fillValue(current, incoming string) (string, bool) {
	if !IsPlaceholder(current) || IsPlaceholder(incoming) {
		return current, false
	}
	return incoming, true
}
