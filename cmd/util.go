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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-eod/common"
	"github.com/penny-vault/pv-eod/data"
	"github.com/penny-vault/pv-eod/data/database"
	"github.com/penny-vault/pv-eod/pipeline"
	"github.com/penny-vault/pv-eod/tabular"
)

var ErrFailureRateExceeded = errors.New("failure rate exceeded")

// fetchOptions is everything a single fetch run needs
type fetchOptions struct {
	input          string
	csv            string
	parquet        string
	db             bool
	tickers        []string
	maxFailureRate float64
	workers        int
	showAll        bool
}

func fetchOptionsFromViper() fetchOptions {
	tickers := viper.GetStringSlice("fetch.tickers")
	common.ArrToUpper(tickers)

	return fetchOptions{
		input:          viper.GetString("fetch.input"),
		csv:            viper.GetString("fetch.csv"),
		parquet:        viper.GetString("fetch.parquet"),
		db:             viper.GetBool("fetch.db"),
		tickers:        tickers,
		maxFailureRate: viper.GetFloat64("fetch.max_failure_rate"),
		workers:        viper.GetInt("workers"),
		showAll:        viper.GetBool("fetch.show_all"),
	}
}

// runFetch builds the universe, source and sinks described by opts and runs
// the pipeline. The report is written to out.
func runFetch(ctx context.Context, opts fetchOptions, out io.Writer) (*pipeline.Report, error) {
	var rawFile *data.RawFile
	if opts.input != "" {
		var err error
		rawFile, err = data.LoadRawFile(opts.input)
		if err != nil {
			return nil, err
		}
	}

	instruments, err := loadInstruments(ctx, rawFile)
	if err != nil {
		return nil, err
	}
	instruments = data.FilterTickers(instruments, opts.tickers)

	var source data.Source
	if rawFile != nil {
		source = rawFile
	} else {
		source = data.NewAlphaVantage(viper.GetString("alphavantage.api_key"),
			data.WithBaseURL(viper.GetString("alphavantage.url")),
			data.WithRequestsPerMinute(viper.GetFloat64("alphavantage.requests_per_minute")),
			data.WithMaxRetries(viper.GetUint64("alphavantage.max_retries")),
		)
	}

	sinks, err := openSinks(ctx, opts)
	if err != nil {
		return nil, err
	}

	pipe := &pipeline.Pipeline{
		Source:  source,
		Sinks:   sinks,
		Workers: opts.workers,
	}

	report, runErr := pipe.Run(ctx, instruments)
	closeErr := pipe.Close()
	if opts.db {
		database.LogOpenTransactions()
	}

	if report != nil {
		report.Render(out, opts.showAll)
	}

	if runErr != nil {
		return report, runErr
	}
	if closeErr != nil {
		return report, closeErr
	}

	if rate := report.FailureRate(); rate > opts.maxFailureRate {
		log.Error().Float64("FailureRate", rate).Float64("MaxFailureRate", opts.maxFailureRate).
			Int("NumFailed", len(report.Failed())).Msg("too many instruments failed")
		return report, fmt.Errorf("%w: %.3f > %.3f", ErrFailureRateExceeded, rate, opts.maxFailureRate)
	}

	return report, nil
}

// loadInstruments reads the universe from, in order of preference, the
// universe file, the raw input file, or the constituents page
func loadInstruments(ctx context.Context, rawFile *data.RawFile) ([]data.Instrument, error) {
	var universe data.Universe

	switch {
	case viper.GetString("universe.file") != "":
		fileUniverse, err := data.LoadUniverseFile(viper.GetString("universe.file"))
		if err != nil {
			return nil, err
		}
		universe = fileUniverse
	case rawFile != nil:
		universe = rawFile
	default:
		wiki := data.NewWikipedia()
		if u := viper.GetString("universe.url"); u != "" {
			wiki.URL = u
		}
		universe = wiki
	}

	return universe.Instruments(ctx)
}

func openSinks(ctx context.Context, opts fetchOptions) ([]pipeline.Sink, error) {
	sinks := make([]pipeline.Sink, 0, 3)
	closeAll := func() {
		for _, sink := range sinks {
			sink.Close()
		}
	}

	if opts.csv != "" {
		cw, err := tabular.CreateCSV(opts.csv)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, cw)
	}

	if opts.parquet != "" {
		pw, err := tabular.CreateParquet(opts.parquet)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, pw)
	}

	if opts.db {
		if err := connectDatabase(ctx); err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, data.NewPvDb())
	}

	if len(sinks) == 0 {
		log.Warn().Msg("no output configured; adjusted series will be discarded")
	}

	return sinks, nil
}

func connectDatabase(ctx context.Context) error {
	if database.Connected() {
		return nil
	}
	if viper.GetString("database.url") == "" {
		return fmt.Errorf("%w: set database.url or DATABASE_URL", database.ErrNotConnected)
	}
	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return database.Connect(connCtx)
}

func isParquet(fn string) bool {
	return strings.HasSuffix(strings.ToLower(fn), ".parquet")
}
