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
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-eod/adjust"
	"github.com/penny-vault/pv-eod/common"
	"github.com/penny-vault/pv-eod/data"
)

const (
	throttleNote = `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`
	unknownError = `{"Error Message": "Invalid API call. Please retry or visit the documentation for TIME_SERIES_DAILY_ADJUSTED."}`
)

// sequence returns a responder that replies with each responder in turn and
// repeats the last one; calls counts the requests
func sequence(calls *int32, responders ...httpmock.Responder) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		idx := int(atomic.AddInt32(calls, 1)) - 1
		if idx >= len(responders) {
			idx = len(responders) - 1
		}
		return responders[idx](req)
	}
}

var _ = Describe("Alpha Vantage", func() {
	var (
		ctx     context.Context
		av      *data.AlphaVantage
		content []byte
		ibm     data.Instrument
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		content, err = os.ReadFile("testdata/alphavantage_ibm.json")
		Expect(err).To(BeNil())

		ibm = data.Instrument{Ticker: "IBM", Name: "International Business Machines", Sector: "Information Technology"}
		av = data.NewAlphaVantage("TEST",
			data.WithRequestsPerMinute(0),
			data.WithRetryInterval(time.Millisecond),
			data.WithMaxRetries(3),
		)
	})

	Context("when the symbol exists", func() {
		It("requests the full daily adjusted series", func() {
			httpmock.RegisterResponderWithQuery("GET", data.AlphaVantageURL, map[string]string{
				"function":   "TIME_SERIES_DAILY_ADJUSTED",
				"symbol":     "IBM",
				"outputsize": "full",
				"apikey":     "TEST",
			}, httpmock.NewBytesResponder(200, content))

			quotes, err := av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())
			Expect(quotes).To(HaveLen(3))
			Expect(httpmock.GetTotalCallCount()).To(Equal(1))
		})

		It("returns quotes newest first with name and sector", func() {
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, httpmock.NewBytesResponder(200, content))

			quotes, err := av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())
			Expect(quotes).To(HaveLen(3))
			Expect(quotes[0]).To(Equal(adjust.RawQuote{
				Ticker:           "IBM",
				Name:             "International Business Machines",
				Sector:           "Information Technology",
				Date:             "2024-02-12",
				Open:             "185.9",
				High:             "186.48",
				Low:              "184.03",
				AdjustedClose:    "186.16",
				Volume:           "4724117",
				SplitCoefficient: "1.0",
				DividendAmount:   "0.0000",
			}))
			Expect(quotes[1].Date).To(Equal("2024-02-09"))
			Expect(quotes[1].DividendAmount).To(Equal("1.6600"))
			Expect(quotes[2].Date).To(Equal("2024-02-08"))
		})

		It("produces quotes the engine can adjust", func() {
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, httpmock.NewBytesResponder(200, content))

			quotes, err := av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())

			res, err := adjust.AdjustQuotes("IBM", quotes)
			Expect(err).To(BeNil())
			Expect(res.Failures).To(BeEmpty())
			Expect(res.Records).To(HaveLen(3))
			Expect(res.Records[0].AdjustedOpen).To(Equal(185.9))
			Expect(res.Records[1].AdjustedOpen).To(BeNumerically("~", 184.44/(1+1.66/184.6825), 1e-9))
		})
	})

	Context("when responses are cached", func() {
		oneDay := `{"Time Series (Daily)": {"2024-01-02": {"1. open": "10", "2. high": "11", "3. low": "9", "4. close": "10",
			"5. adjusted close": "10", "6. volume": "100", "7. dividend amount": "0.0000", "8. split coefficient": "1.0"}}}`

		BeforeEach(func() {
			viper.Set("cache.local_size", 16)
			viper.Set("cache.ttl", 0)
			Expect(common.SetupCache()).To(Succeed())
			DeferCleanup(func() {
				viper.Set("cache.local_size", 0)
				viper.Set("cache.ttl", 0)
				Expect(common.SetupCache()).To(Succeed())
			})
		})

		It("serves a repeated request from the cache", func() {
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, httpmock.NewBytesResponder(200, content))

			first, err := av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())
			second, err := av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())

			Expect(second).To(Equal(first))
			Expect(httpmock.GetTotalCallCount()).To(Equal(1))
		})

		It("fetches again once the cached series is older than the ttl", func() {
			viper.Set("cache.ttl", 1)
			Expect(common.SetupCache()).To(Succeed())

			var calls int32
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, sequence(&calls,
				httpmock.NewStringResponder(200, oneDay),
				httpmock.NewBytesResponder(200, content),
			))

			quotes, err := av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())
			Expect(quotes).To(HaveLen(1))

			time.Sleep(1100 * time.Millisecond)

			quotes, err = av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())
			Expect(quotes).To(HaveLen(3))
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(2)))
		})

		It("ignores a cached body that does not decode", func() {
			key := common.CacheKey(data.AlphaVantageURL, "TIME_SERIES_DAILY_ADJUSTED", "IBM", "full")
			Expect(common.CacheSet(ctx, key, []byte("not json"))).To(Succeed())
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, httpmock.NewBytesResponder(200, content))

			quotes, err := av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())
			Expect(quotes).To(HaveLen(3))
			Expect(httpmock.GetTotalCallCount()).To(Equal(1))

			quotes, err = av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())
			Expect(quotes).To(HaveLen(3))
			Expect(httpmock.GetTotalCallCount()).To(Equal(1))
		})

		It("does not cache error responses", func() {
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, httpmock.NewStringResponder(200, unknownError))

			for ii := 0; ii < 2; ii++ {
				quotes, err := av.Quotes(ctx, ibm)
				Expect(err).To(BeNil())
				Expect(quotes).To(BeEmpty())
			}
			Expect(httpmock.GetTotalCallCount()).To(Equal(2))
		})
	})

	Context("when the provider throttles", func() {
		It("retries until data is returned", func() {
			var calls int32
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, sequence(&calls,
				httpmock.NewStringResponder(200, throttleNote),
				httpmock.NewStringResponder(200, `{"Information": "rate limit"}`),
				httpmock.NewBytesResponder(200, content),
			))

			quotes, err := av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())
			Expect(quotes).To(HaveLen(3))
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(3)))
		})

		It("retries on 429 and 5xx status codes", func() {
			var calls int32
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, sequence(&calls,
				httpmock.NewStringResponder(429, "slow down"),
				httpmock.NewStringResponder(503, "unavailable"),
				httpmock.NewBytesResponder(200, content),
			))

			quotes, err := av.Quotes(ctx, ibm)
			Expect(err).To(BeNil())
			Expect(quotes).To(HaveLen(3))
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(3)))
		})

		It("gives up after the maximum number of retries", func() {
			var calls int32
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, sequence(&calls,
				httpmock.NewStringResponder(200, throttleNote),
			))

			_, err := av.Quotes(ctx, ibm)
			Expect(errors.Is(err, data.ErrThrottled)).To(BeTrue())
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(4)))
		})
	})

	Context("when the request cannot succeed", func() {
		It("does not retry client errors", func() {
			var calls int32
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, sequence(&calls,
				httpmock.NewStringResponder(404, "not found"),
			))

			_, err := av.Quotes(ctx, ibm)
			Expect(errors.Is(err, data.ErrUnexpectedStatus)).To(BeTrue())
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		})

		It("does not retry a response without a time series", func() {
			var calls int32
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, sequence(&calls,
				httpmock.NewStringResponder(200, `{}`),
			))

			_, err := av.Quotes(ctx, ibm)
			Expect(errors.Is(err, data.ErrNoTimeSeries)).To(BeTrue())
			Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		})

		It("treats an error message as no data", func() {
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, httpmock.NewStringResponder(200, unknownError))

			quotes, err := av.Quotes(ctx, data.Instrument{Ticker: "NOPE"})
			Expect(err).To(BeNil())
			Expect(quotes).To(BeEmpty())
			Expect(httpmock.GetTotalCallCount()).To(Equal(1))
		})

		It("requires an api key", func() {
			_, err := data.NewAlphaVantage("").Quotes(ctx, ibm)
			Expect(errors.Is(err, data.ErrMissingAPIKey)).To(BeTrue())
			Expect(httpmock.GetTotalCallCount()).To(Equal(0))
		})

		It("stops when the context is cancelled", func() {
			httpmock.RegisterResponder("GET", data.AlphaVantageURL, httpmock.NewStringResponder(200, throttleNote))

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := av.Quotes(cancelled, ibm)
			Expect(err).ToNot(BeNil())
		})
	})
})
