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
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/html"

	"github.com/penny-vault/pv-eod/common"
	"github.com/penny-vault/pv-eod/observability/opentelemetry"
)

const (
	SP500ConstituentsURL = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"
)

var validate = validator.New()

// Wikipedia reads the S&P 500 constituents table. Tickers are rewritten to the
// provider format (BRK.B -> BRK-B).
type Wikipedia struct {
	URL    string
	Client *http.Client
}

// NewWikipedia creates a universe backed by the S&P 500 constituents page
func NewWikipedia() *Wikipedia {
	return &Wikipedia{
		URL:    SP500ConstituentsURL,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Instruments downloads the constituents page and parses the table
func (w *Wikipedia) Instruments(ctx context.Context) ([]Instrument, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "wikipedia.Instruments")
	defer span.End()

	subLog := log.With().Str("Url", w.URL).Logger()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", common.UserAgent())

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "constituents request failed")
		subLog.Error().Err(err).Msg("could not download constituents page")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, "invalid status code")
		subLog.Error().Int("HTTPResponseStatusCode", resp.StatusCode).Msg("constituents page returned invalid response code")
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		span.RecordError(err)
		subLog.Error().Err(err).Msg("could not parse constituents page")
		return nil, err
	}

	instruments, err := parseConstituents(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		subLog.Error().Err(err).Msg("could not read constituents table")
		return nil, err
	}

	span.SetAttributes(attribute.Int("NumInstruments", len(instruments)))
	subLog.Info().Int("NumInstruments", len(instruments)).Msg("loaded universe")
	return instruments, nil
}

// parseConstituents finds the table with id "constituents" (or failing that
// the first wikitable) and reads the Symbol, Security and GICS Sector columns
func parseConstituents(doc *html.Node) ([]Instrument, error) {
	table := findNode(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "table" && attr(n, "id") == "constituents"
	})
	if table == nil {
		table = findNode(doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "table" && strings.Contains(attr(n, "class"), "wikitable")
		})
	}
	if table == nil {
		return nil, ErrConstituentsMissing
	}

	rows := findAll(table, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "tr"
	})
	if len(rows) == 0 {
		return nil, ErrConstituentsMissing
	}

	header := cells(rows[0], "th")
	columns := map[string]int{"symbol": -1, "security": -1, "gics sector": -1}
	for idx, name := range header {
		key := strings.ToLower(name)
		if _, ok := columns[key]; ok {
			columns[key] = idx
		}
	}
	for name, idx := range columns {
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrColumnMissing, name)
		}
	}

	instruments := make([]Instrument, 0, len(rows))
	for _, row := range rows[1:] {
		vals := cells(row, "td")
		if len(vals) <= columns["gics sector"] || len(vals) <= columns["symbol"] || len(vals) <= columns["security"] {
			continue
		}

		instrument := Instrument{
			Ticker: ProviderTicker(vals[columns["symbol"]]),
			Name:   vals[columns["security"]],
			Sector: vals[columns["gics sector"]],
		}
		if err := validate.Struct(instrument); err != nil {
			log.Warn().Err(err).Str("Ticker", instrument.Ticker).Msg("skipping invalid constituent")
			continue
		}
		instruments = append(instruments, instrument)
	}

	return instruments, nil
}

// ProviderTicker converts an exchange ticker into the form used by the price
// provider
func ProviderTicker(ticker string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(ticker)), ".", "-")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var res []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			res = append(res, c)
		}
		res = append(res, findAll(c, match)...)
	}
	return res
}

func cells(row *html.Node, tag string) []string {
	var res []string
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			res = append(res, strings.Join(strings.Fields(text(c)), " "))
		}
	}
	return res
}

func text(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(text(c))
	}
	return sb.String()
}

// universeFile is the on-disk format read by LoadUniverseFile
//
//	[[instruments]]
//	ticker = "AAPL"
//	name = "Apple Inc."
//	sector = "Information Technology"
type universeFile struct {
	Instruments []Instrument `toml:"instruments"`
}

// StaticUniverse is a fixed list of instruments
type StaticUniverse []Instrument

// Instruments returns the list
func (s StaticUniverse) Instruments(_ context.Context) ([]Instrument, error) {
	return s, nil
}

// LoadUniverseFile reads a TOML list of instruments
func LoadUniverseFile(fn string) (StaticUniverse, error) {
	doc, err := os.ReadFile(fn)
	if err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not read universe file")
		return nil, err
	}

	var uf universeFile
	if err := toml.Unmarshal(doc, &uf); err != nil {
		log.Error().Err(err).Str("File", fn).Msg("could not parse universe file")
		return nil, err
	}

	res := make(StaticUniverse, 0, len(uf.Instruments))
	for _, instrument := range uf.Instruments {
		instrument.Ticker = ProviderTicker(instrument.Ticker)
		if err := validate.Struct(instrument); err != nil {
			return nil, fmt.Errorf("universe file %s: %w", fn, err)
		}
		res = append(res, instrument)
	}

	return res, nil
}

// FilterTickers keeps only the requested tickers. Requested tickers that are
// not in the universe are added without descriptive data.
func FilterTickers(instruments []Instrument, tickers []string) []Instrument {
	if len(tickers) == 0 {
		return instruments
	}

	byTicker := make(map[string]Instrument, len(instruments))
	for _, instrument := range instruments {
		byTicker[instrument.Ticker] = instrument
	}

	res := make([]Instrument, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, ticker := range tickers {
		ticker = ProviderTicker(ticker)
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true

		if instrument, ok := byTicker[ticker]; ok {
			res = append(res, instrument)
		} else {
			res = append(res, Instrument{Ticker: ticker})
		}
	}
	return res
}
