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

package tabular_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-eod/adjust"
	"github.com/penny-vault/pv-eod/tabular"
)

func rawRecord(ticker string, d int, price float64, split float64) adjust.RawDailyRecord {
	return adjust.RawDailyRecord{
		Ticker:           ticker,
		Name:             ticker + " Inc.",
		Sector:           "Energy",
		Date:             time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC),
		Open:             price,
		High:             price + 1,
		Low:              price - 1,
		AdjustedClose:    price,
		Volume:           100,
		SplitCoefficient: split,
	}
}

var _ = Describe("CSV files", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("when writing adjusted series", func() {
		It("writes the header and one row per adjusted record", func() {
			var buf bytes.Buffer
			cw, err := tabular.NewCSVWriter(&buf)
			Expect(err).To(BeNil())

			adj := adjust.NewAdjuster("XOM", []adjust.RawDailyRecord{
				rawRecord("XOM", 4, 100, 2),
				rawRecord("XOM", 1, 200, 1),
			})
			Expect(cw.Write(ctx, adj)).To(Succeed())
			Expect(cw.Close()).To(Succeed())

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			Expect(lines).To(HaveLen(3))
			Expect(lines[0]).To(Equal("ticker,name,sector,date,adjusted_open,adjusted_high,adjusted_low,adjusted_close,volume"))
			Expect(lines[1]).To(Equal("XOM,XOM Inc.,Energy,2024-03-04,50,50.5,49.5,100,100"))
			Expect(lines[2]).To(Equal("XOM,XOM Inc.,Energy,2024-03-01,100,100.5,99.5,200,100"))
		})

		It("writes from the beginning of the series even if the adjuster was consumed", func() {
			var buf bytes.Buffer
			cw, err := tabular.NewCSVWriter(&buf)
			Expect(err).To(BeNil())

			adj := adjust.NewAdjuster("XOM", []adjust.RawDailyRecord{
				rawRecord("XOM", 2, 10, 1),
				rawRecord("XOM", 1, 10, 1),
			})
			for adj.Next() {
			}

			Expect(cw.Write(ctx, adj)).To(Succeed())
			Expect(cw.Close()).To(Succeed())
			Expect(strings.Count(buf.String(), "\n")).To(Equal(3))
		})

		It("keeps the rows of each instrument together when written concurrently", func() {
			var buf bytes.Buffer
			cw, err := tabular.NewCSVWriter(&buf)
			Expect(err).To(BeNil())

			tickers := []string{"AAA", "BBB", "CCC", "DDD", "EEE"}
			var wg sync.WaitGroup
			for _, ticker := range tickers {
				records := make([]adjust.RawDailyRecord, 0, 20)
				for d := 1; d <= 20; d++ {
					records = append(records, rawRecord(ticker, d, 10, 1))
				}
				adj := adjust.NewAdjuster(ticker, records)

				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(cw.Write(ctx, adj)).To(Succeed())
				}()
			}
			wg.Wait()
			Expect(cw.Close()).To(Succeed())

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")[1:]
			Expect(lines).To(HaveLen(100))

			runs := 0
			last := ""
			for _, line := range lines {
				ticker := strings.Split(line, ",")[0]
				if ticker != last {
					runs++
					last = ticker
				}
			}
			Expect(runs).To(Equal(len(tickers)))
		})

		It("refuses writes after close", func() {
			var buf bytes.Buffer
			cw, err := tabular.NewCSVWriter(&buf)
			Expect(err).To(BeNil())
			Expect(cw.Close()).To(Succeed())
			Expect(cw.Close()).To(Succeed())

			adj := adjust.NewAdjuster("XOM", []adjust.RawDailyRecord{rawRecord("XOM", 1, 10, 1)})
			Expect(errors.Is(cw.Write(ctx, adj), tabular.ErrClosed)).To(BeTrue())
		})

		It("creates and closes a file", func() {
			dir, err := os.MkdirTemp("", "pveod-csv")
			Expect(err).To(BeNil())
			DeferCleanup(os.RemoveAll, dir)

			fn := filepath.Join(dir, "adjusted.csv")
			cw, err := tabular.CreateCSV(fn)
			Expect(err).To(BeNil())
			Expect(cw.Write(ctx, adjust.NewAdjuster("XOM", []adjust.RawDailyRecord{rawRecord("XOM", 1, 10, 1)}))).To(Succeed())
			Expect(cw.Close()).To(Succeed())

			fh, err := os.Open(fn)
			Expect(err).To(BeNil())
			defer fh.Close()

			records, err := tabular.ReadAdjustedCSV(fh)
			Expect(err).To(BeNil())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Ticker).To(Equal("XOM"))
			Expect(records[0].AdjustedHigh).To(Equal(11.0))
		})
	})

	Context("when reading raw quotes", func() {
		It("reads the snake case layout", func() {
			fh, err := os.Open("testdata/raw.csv")
			Expect(err).To(BeNil())
			defer fh.Close()

			quotes, err := tabular.ReadRawCSV(fh)
			Expect(err).To(BeNil())
			Expect(quotes).To(HaveLen(4))
			Expect(quotes[0]).To(Equal(adjust.RawQuote{
				Ticker:           "AAPL",
				Date:             "2020-08-31",
				Open:             "127.58",
				High:             "131.0",
				Low:              "126.0",
				AdjustedClose:    "128.12",
				Volume:           "225702700",
				SplitCoefficient: "4.0",
				DividendAmount:   "0.0",
			}))
		})

		It("accepts camel case headers and missing event columns", func() {
			in := "Ticker,Date,Open,High,Low,adjustedClose,Volume\nmsft,2024-01-02,1,2,0.5,1.5,10\n\n"
			quotes, err := tabular.ReadRawCSV(strings.NewReader(in))
			Expect(err).To(BeNil())
			Expect(quotes).To(HaveLen(1))
			Expect(quotes[0].Ticker).To(Equal("MSFT"))
			Expect(quotes[0].AdjustedClose).To(Equal("1.5"))
			Expect(quotes[0].SplitCoefficient).To(Equal(""))
			Expect(quotes[0].DividendAmount).To(Equal(""))

			rec, err := adjust.ParseQuote(quotes[0])
			Expect(err).To(BeNil())
			Expect(rec.SplitCoefficient).To(Equal(1.0))
			Expect(rec.DividendAmount).To(Equal(0.0))
		})

		It("fails when a required column is missing", func() {
			in := "ticker,date,open,high,low,volume\nMSFT,2024-01-02,1,2,0.5,10\n"
			_, err := tabular.ReadRawCSV(strings.NewReader(in))
			Expect(errors.Is(err, tabular.ErrMissingColumn)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("adjusted_close"))
		})
	})

	Context("when reading adjusted files", func() {
		It("defaults empty numeric cells to zero", func() {
			in := "ticker,name,sector,date,adjusted_open,adjusted_high,adjusted_low,adjusted_close,volume\n" +
				"KO,Coca-Cola,Consumer Staples,2024-01-02,,60.5,59,60,\n"
			records, err := tabular.ReadAdjustedCSV(strings.NewReader(in))
			Expect(err).To(BeNil())
			Expect(records).To(HaveLen(1))
			Expect(records[0].AdjustedOpen).To(Equal(0.0))
			Expect(records[0].AdjustedHigh).To(Equal(60.5))
			Expect(records[0].Volume).To(Equal(int64(0)))
			Expect(records[0].Date).To(Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
		})

		It("rejects fractional and out of range volumes", func() {
			for _, vol := range []string{"1200.7", "1e19"} {
				in := "ticker,name,sector,date,adjusted_open,adjusted_high,adjusted_low,adjusted_close,volume\n" +
					"KO,Coca-Cola,Consumer Staples,2024-01-02,1,1,1,1," + vol + "\n"
				_, err := tabular.ReadAdjustedCSV(strings.NewReader(in))
				Expect(errors.Is(err, tabular.ErrInvalidValue)).To(BeTrue(), vol)
				Expect(err.Error()).To(ContainSubstring("volume"))
			}
		})

		It("accepts integral float volumes", func() {
			in := "ticker,name,sector,date,adjusted_open,adjusted_high,adjusted_low,adjusted_close,volume\n" +
				"KO,Coca-Cola,Consumer Staples,2024-01-02,1,1,1,1,1200.0\n"
			records, err := tabular.ReadAdjustedCSV(strings.NewReader(in))
			Expect(err).To(BeNil())
			Expect(records[0].Volume).To(Equal(int64(1200)))
		})

		It("reports the line of a bad value", func() {
			in := "ticker,name,sector,date,adjusted_open,adjusted_high,adjusted_low,adjusted_close,volume\n" +
				"KO,Coca-Cola,Consumer Staples,2024-01-02,1,1,1,1,1\n" +
				"KO,Coca-Cola,Consumer Staples,2024-01-03,abc,1,1,1,1\n"
			_, err := tabular.ReadAdjustedCSV(strings.NewReader(in))
			Expect(errors.Is(err, tabular.ErrInvalidValue)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("line 3"))
			Expect(err.Error()).To(ContainSubstring("adjusted_open"))
		})
	})
})
