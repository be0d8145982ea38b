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

// Package pipeline fetches, adjusts and stores the daily series of a
// universe of instruments
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/penny-vault/pv-eod/adjust"
	"github.com/penny-vault/pv-eod/data"
	"github.com/penny-vault/pv-eod/observability/opentelemetry"
)

// Sink receives the adjusted series of one instrument at a time. Write may be
// called concurrently for different instruments and must call Reset on the
// adjuster before reading it.
type Sink interface {
	Write(ctx context.Context, adj *adjust.Adjuster) error
	Close() error
}

type Pipeline struct {
	Source  data.Source
	Sinks   []Sink
	Workers int
}

// Run processes every instrument with at most Workers instruments in flight.
// A failing instrument is recorded in the report and does not stop the run;
// only a cancelled context aborts it.
func (p *Pipeline) Run(ctx context.Context, instruments []data.Instrument) (*Report, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "pipeline.Run")
	defer span.End()

	report := &Report{
		Results: make([]InstrumentResult, len(instruments)),
		Started: time.Now(),
	}

	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	log.Info().Int("NumInstruments", len(instruments)).Int("Workers", workers).Msg("starting run")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for idx, instrument := range instruments {
		idx, instrument := idx, instrument
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := p.process(gctx, instrument)
			report.Results[idx] = res
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				return res.Err
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	report.Finished = time.Now()

	for idx := range report.Results {
		if report.Results[idx].Status == "" {
			report.Results[idx].Ticker = instruments[idx].Ticker
			report.Results[idx].Status = StatusSkipped
		}
	}

	rate := report.FailureRate()
	lastRunFailureRate.Set(rate)
	span.SetAttributes(attribute.Int("NumInstruments", len(instruments)), attribute.Float64("FailureRate", rate))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run aborted")
		log.Error().Err(err).Msg("run aborted")
		return report, err
	}

	log.Info().Int("NumInstruments", len(instruments)).Int("NumOk", report.Count(StatusOK)).
		Float64("FailureRate", rate).Dur("Elapsed", report.Finished.Sub(report.Started)).Msg("run complete")
	return report, nil
}

func (p *Pipeline) process(ctx context.Context, instrument data.Instrument) InstrumentResult {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "pipeline.process")
	defer span.End()

	span.SetAttributes(opentelemetry.InstrumentAttributes(instrument.Ticker, instrument.Name)...)
	subLog := log.With().Str("Ticker", instrument.Ticker).Logger()

	start := time.Now()
	res := InstrumentResult{Ticker: instrument.Ticker}
	defer func() {
		if res.Status == "" {
			return
		}
		instrumentsTotal.WithLabelValues(string(res.Status)).Inc()
		instrumentDuration.WithLabelValues(string(res.Status)).Observe(time.Since(start).Seconds())
		recordsAdjusted.Add(float64(res.Records))
		recordsInvalid.Add(float64(res.Invalid))
		span.SetAttributes(attribute.String("Status", string(res.Status)))
	}()

	quotes, err := p.Source.Quotes(ctx, instrument)
	if err != nil {
		res.Err = err
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		res.Status = StatusFetchFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		subLog.Error().Err(err).Msg("could not fetch quotes")
		return res
	}

	records, failures := adjust.ParseQuotes(quotes)
	adj := adjust.NewAdjuster(instrument.Ticker, records)

	// first pass counts the usable records; sinks rewind the adjuster
	for adj.Next() {
		res.Records++
	}
	failures = append(failures, adj.Failures()...)
	res.Invalid = len(failures)

	for _, bad := range failures {
		subLog.Warn().Err(bad).Str("Field", bad.Field).Str("Value", bad.Value).Msg("skipping invalid record")
	}

	if err := adj.Err(); err != nil {
		var missing *adjust.MissingInstrumentDataError
		if errors.As(err, &missing) {
			missing.Rejected = res.Invalid
		}
		res.Status = StatusNoData
		res.Err = err
		subLog.Warn().Err(err).Int("NumQuotes", len(quotes)).Msg("no usable data for instrument")
		return res
	}

	for _, sink := range p.Sinks {
		if err := sink.Write(ctx, adj); err != nil {
			res.Err = err
			if ctx.Err() != nil {
				res.Err = ctx.Err()
				res.Status = ""
				return res
			}
			res.Status = StatusSinkFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, "sink failed")
			subLog.Error().Err(err).Msg("could not write adjusted series")
			return res
		}
	}

	res.Status = StatusOK
	subLog.Debug().Int("NumRecords", res.Records).Int("NumInvalid", res.Invalid).Msg("instrument complete")
	return res
}

// Close closes every sink and returns the first error
func (p *Pipeline) Close() error {
	var first error
	for _, sink := range p.Sinks {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Msg("could not close sink")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
