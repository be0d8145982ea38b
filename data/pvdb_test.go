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

package data_test

import (
	"context"
	"errors"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-eod/adjust"
	"github.com/penny-vault/pv-eod/data"
	"github.com/penny-vault/pv-eod/data/database"
	"github.com/penny-vault/pv-eod/pgxmockhelper"
)

func eodRecord(d int, open, adjClose float64, split float64) adjust.RawDailyRecord {
	return adjust.RawDailyRecord{
		Ticker:           "KO",
		Name:             "Coca-Cola",
		Sector:           "Consumer Staples",
		Date:             time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC),
		Open:             open,
		High:             open,
		Low:              open,
		AdjustedClose:    adjClose,
		Volume:           1000,
		SplitCoefficient: split,
	}
}

var _ = Describe("PVDB", func() {
	var (
		dbPool pgxmock.PgxConnIface
		pvdb   *data.PvDb
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
		pvdb = data.NewPvDb()
		ctx = context.Background()
	})

	AfterEach(func() {
		viper.Set("database.role", "")
	})

	Context("when writing an adjusted series", func() {
		It("upserts the stock and each record in one transaction", func() {
			adj := adjust.NewAdjuster("KO", []adjust.RawDailyRecord{
				eodRecord(3, 60, 60, 1),
				eodRecord(2, 120, 59, 2),
			})

			dbPool.ExpectBegin()
			dbPool.ExpectQuery("INSERT INTO stocks").WithArgs("KO", "Coca-Cola", "Consumer Staples").
				WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
			dbPool.ExpectExec("INSERT INTO stock_data").
				WithArgs("KO", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), 60.0, 60.0, 60.0, 60.0, int64(1000)).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO stock_data").
				WithArgs("KO", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 60.0, 60.0, 60.0, 59.0, int64(1000)).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			Expect(pvdb.Write(ctx, adj)).To(Succeed())
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
			Expect(database.NumOpenTransactions()).To(Equal(0))
		})

		It("writes placeholders for missing descriptive data", func() {
			rec := eodRecord(3, 60, 60, 1)
			rec.Name = ""
			rec.Sector = "0"

			dbPool.ExpectBegin()
			dbPool.ExpectQuery("INSERT INTO stocks").WithArgs("KO", "0", "0").
				WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
			dbPool.ExpectExec("INSERT INTO stock_data").
				WithArgs("KO", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			Expect(pvdb.Write(ctx, adjust.NewAdjuster("KO", []adjust.RawDailyRecord{rec}))).To(Succeed())
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
		})

		It("switches role when one is configured", func() {
			viper.Set("database.role", "pveod")

			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE \"pveod\"").WillReturnResult(pgxmock.NewResult("SET", 0))
			dbPool.ExpectQuery("INSERT INTO stocks").
				WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
			dbPool.ExpectExec("INSERT INTO stock_data").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			Expect(pvdb.Write(ctx, adjust.NewAdjuster("KO", []adjust.RawDailyRecord{eodRecord(3, 60, 60, 1)}))).To(Succeed())
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
		})

		It("rolls back when a record cannot be stored", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("INSERT INTO stocks").
				WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
			dbPool.ExpectExec("INSERT INTO stock_data").WillReturnError(errors.New("disk full"))
			dbPool.ExpectRollback()

			err := pvdb.Write(ctx, adjust.NewAdjuster("KO", []adjust.RawDailyRecord{eodRecord(3, 60, 60, 1)}))
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("disk full"))
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
			Expect(database.NumOpenTransactions()).To(Equal(0))
		})

		It("does nothing for an empty series", func() {
			Expect(pvdb.Write(ctx, adjust.NewAdjuster("KO", nil))).To(Succeed())
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
		})
	})

	Context("when importing records for several tickers", func() {
		It("uses one transaction per ticker", func() {
			records := []adjust.AdjustedDailyRecord{
				{Ticker: "KO", Name: "Coca-Cola", Sector: "Consumer Staples", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), AdjustedOpen: 1, AdjustedHigh: 1, AdjustedLow: 1, AdjustedClose: 1, Volume: 1},
				{Ticker: "PEP", Name: "PepsiCo", Sector: "Consumer Staples", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), AdjustedOpen: 2, AdjustedHigh: 2, AdjustedLow: 2, AdjustedClose: 2, Volume: 2},
				{Ticker: "KO", Name: "Coca-Cola", Sector: "Consumer Staples", Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), AdjustedOpen: 3, AdjustedHigh: 3, AdjustedLow: 3, AdjustedClose: 3, Volume: 3},
			}

			dbPool.ExpectBegin()
			dbPool.ExpectQuery("INSERT INTO stocks").WithArgs("KO", "Coca-Cola", "Consumer Staples").
				WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
			dbPool.ExpectExec("INSERT INTO stock_data").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO stock_data").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("INSERT INTO stocks").WithArgs("PEP", "PepsiCo", "Consumer Staples").
				WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
			dbPool.ExpectExec("INSERT INTO stock_data").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			Expect(pvdb.SaveRecords(ctx, records)).To(Succeed())
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
		})
	})

	Context("when filling placeholder names", func() {
		It("replaces a placeholder with a real value", func() {
			dbPool.ExpectBegin()
			pgxmockhelper.MockStockLookup(dbPool, "testdata/stocks.csv", "MSFT")
			dbPool.ExpectExec("UPDATE stocks").WithArgs("MSFT", "Microsoft", "").
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			dbPool.ExpectCommit()

			notFound, err := pvdb.FillPlaceholders(ctx, []data.Instrument{{Ticker: "MSFT", Name: "Microsoft", Sector: "0"}})
			Expect(err).To(BeNil())
			Expect(notFound).To(BeEmpty())
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
		})

		It("only replaces placeholders of existing stocks", func() {
			fh, err := os.Open("testdata/names.csv")
			Expect(err).To(BeNil())
			defer fh.Close()
			instruments, err := data.ReadInstrumentsCSV(fh)
			Expect(err).To(BeNil())

			dbPool.ExpectBegin()
			pgxmockhelper.MockStockLookup(dbPool, "testdata/stocks.csv", "AAPL")
			dbPool.ExpectExec("UPDATE stocks").WithArgs("AAPL", "Apple Inc.", "Information Technology").
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			pgxmockhelper.MockStockLookup(dbPool, "testdata/stocks.csv", "BRK-B")
			pgxmockhelper.MockStockLookup(dbPool, "testdata/stocks.csv", "ZZZZ")
			dbPool.ExpectCommit()

			notFound, err := pvdb.FillPlaceholders(ctx, instruments)
			Expect(err).To(BeNil())
			Expect(notFound).To(Equal([]string{"ZZZZ"}))
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
		})
	})
})
