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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/penny-vault/pv-eod/adjust"
	"github.com/penny-vault/pv-eod/common"
	"github.com/penny-vault/pv-eod/observability/opentelemetry"
)

const (
	AlphaVantageURL = "https://www.alphavantage.co/query"

	alphaVantageDailyAdjusted = "TIME_SERIES_DAILY_ADJUSTED"
)

type alphaVantageDaily struct {
	Open             string `json:"1. open"`
	High             string `json:"2. high"`
	Low              string `json:"3. low"`
	Close            string `json:"4. close"`
	AdjustedClose    string `json:"5. adjusted close"`
	Volume           string `json:"6. volume"`
	DividendAmount   string `json:"7. dividend amount"`
	SplitCoefficient string `json:"8. split coefficient"`
}

type alphaVantageResponse struct {
	MetaData     map[string]string            `json:"Meta Data"`
	TimeSeries   map[string]alphaVantageDaily `json:"Time Series (Daily)"`
	Note         string                       `json:"Note"`
	Information  string                       `json:"Information"`
	ErrorMessage string                       `json:"Error Message"`
}

// AlphaVantage fetches full daily adjusted histories. Requests are paced by a
// shared limiter so any number of workers may call Quotes concurrently.
type AlphaVantage struct {
	apikey        string
	baseURL       string
	client        *http.Client
	limiter       *rate.Limiter
	maxRetries    uint64
	retryInterval time.Duration
}

type AlphaVantageOption func(*AlphaVantage)

// WithBaseURL overrides the query endpoint
func WithBaseURL(u string) AlphaVantageOption {
	return func(av *AlphaVantage) {
		av.baseURL = u
	}
}

// WithRequestsPerMinute sets the request pace; 0 disables pacing
func WithRequestsPerMinute(n float64) AlphaVantageOption {
	return func(av *AlphaVantage) {
		if n <= 0 {
			av.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		av.limiter = rate.NewLimiter(rate.Limit(n/60.0), 1)
	}
}

// WithMaxRetries sets how many times a throttled or failed request is retried
func WithMaxRetries(n uint64) AlphaVantageOption {
	return func(av *AlphaVantage) {
		av.maxRetries = n
	}
}

// WithRetryInterval sets the initial backoff interval
func WithRetryInterval(d time.Duration) AlphaVantageOption {
	return func(av *AlphaVantage) {
		av.retryInterval = d
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) AlphaVantageOption {
	return func(av *AlphaVantage) {
		av.client = client
	}
}

// NewAlphaVantage creates a new Alpha Vantage data source
func NewAlphaVantage(apikey string, opts ...AlphaVantageOption) *AlphaVantage {
	av := &AlphaVantage{
		apikey:        apikey,
		baseURL:       AlphaVantageURL,
		client:        &http.Client{Timeout: 60 * time.Second},
		limiter:       rate.NewLimiter(rate.Every(2*time.Second), 1),
		maxRetries:    5,
		retryInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(av)
	}
	return av
}

// Quotes returns every daily observation Alpha Vantage has for the
// instrument, newest first. An unknown symbol yields no quotes and no error.
func (av *AlphaVantage) Quotes(ctx context.Context, instrument Instrument) ([]adjust.RawQuote, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "alphavantage.Quotes")
	defer span.End()

	span.SetAttributes(attribute.String("Ticker", instrument.Ticker))
	subLog := log.With().Str("Ticker", instrument.Ticker).Logger()

	if av.apikey == "" {
		return nil, ErrMissingAPIKey
	}

	cacheKey := common.CacheKey(av.baseURL, alphaVantageDailyAdjusted, instrument.Ticker, "full")
	var resp *alphaVantageResponse

	body, err := common.CacheGet(ctx, cacheKey)
	switch {
	case err == nil:
		resp = &alphaVantageResponse{}
		if err := json.Unmarshal(body, resp); err != nil {
			subLog.Warn().Err(err).Msg("ignoring undecodable cached response")
			resp = nil
		} else {
			subLog.Debug().Msg("using cached alpha vantage response")
		}
	case !errors.Is(err, common.ErrCacheMiss):
		subLog.Warn().Err(err).Msg("could not read response cache")
	}

	if resp == nil {
		body, resp, err = av.fetch(ctx, instrument.Ticker)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "alpha vantage request failed")
			subLog.Error().Err(err).Msg("could not fetch daily adjusted time series")
			return nil, err
		}

		if len(resp.TimeSeries) > 0 {
			if err := common.CacheSet(ctx, cacheKey, body); err != nil {
				subLog.Warn().Err(err).Msg("could not cache alpha vantage response")
			}
		}
	}

	if resp.ErrorMessage != "" {
		subLog.Warn().Str("Message", resp.ErrorMessage).Msg("alpha vantage returned an error for ticker")
		return nil, nil
	}

	quotes := make([]adjust.RawQuote, 0, len(resp.TimeSeries))
	for dt, vals := range resp.TimeSeries {
		quotes = append(quotes, adjust.RawQuote{
			Ticker:           instrument.Ticker,
			Name:             instrument.Name,
			Sector:           instrument.Sector,
			Date:             dt,
			Open:             vals.Open,
			High:             vals.High,
			Low:              vals.Low,
			AdjustedClose:    vals.AdjustedClose,
			Volume:           vals.Volume,
			SplitCoefficient: vals.SplitCoefficient,
			DividendAmount:   vals.DividendAmount,
		})
	}

	// ISO dates sort lexically
	sort.Slice(quotes, func(i, j int) bool {
		return quotes[i].Date > quotes[j].Date
	})

	span.SetAttributes(attribute.Int("NumQuotes", len(quotes)))
	subLog.Debug().Int("NumQuotes", len(quotes)).Msg("loaded quotes from alpha vantage")
	return quotes, nil
}

// fetch performs the request, retrying transport failures, 429/5xx responses
// and throttle notices with exponential backoff
func (av *AlphaVantage) fetch(ctx context.Context, ticker string) ([]byte, *alphaVantageResponse, error) {
	params := url.Values{}
	params.Set("function", alphaVantageDailyAdjusted)
	params.Set("symbol", ticker)
	params.Set("outputsize", "full")
	params.Set("apikey", av.apikey)
	reqURL := av.baseURL + "?" + params.Encode()

	subLog := log.With().Str("Ticker", ticker).Logger()

	var body []byte
	var resp *alphaVantageResponse

	operation := func() error {
		if err := av.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", common.UserAgent())

		httpResp, err := av.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
			return fmt.Errorf("%w: %d", ErrUnexpectedStatus, httpResp.StatusCode)
		}
		if httpResp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("%w: %d", ErrUnexpectedStatus, httpResp.StatusCode))
		}

		body, err = io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}

		resp = &alphaVantageResponse{}
		if err := json.Unmarshal(body, resp); err != nil {
			return backoff.Permanent(err)
		}

		if len(resp.TimeSeries) == 0 && resp.ErrorMessage == "" {
			if resp.Note != "" || resp.Information != "" {
				return fmt.Errorf("%w: %s%s", ErrThrottled, resp.Note, resp.Information)
			}
			return backoff.Permanent(ErrNoTimeSeries)
		}

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = av.retryInterval
	policy.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		subLog.Warn().Err(err).Dur("Wait", wait).Msg("alpha vantage request failed; retrying")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, av.maxRetries), ctx), notify)
	if err != nil {
		return nil, nil, err
	}

	return body, resp, nil
}
