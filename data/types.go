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

	"github.com/penny-vault/pv-eod/adjust"
)

// Instrument is the reference data for a single tradable security
type Instrument struct {
	Ticker string `json:"ticker" toml:"ticker" validate:"required,max=12,printascii,excludes=."`
	Name   string `json:"name" toml:"name"`
	Sector string `json:"sector" toml:"sector"`
}

// Source delivers the raw daily quotes for one instrument covering its full
// available history. An empty slice with a nil error means the source has no
// data for the instrument.
type Source interface {
	Quotes(ctx context.Context, instrument Instrument) ([]adjust.RawQuote, error)
}

// Universe lists the instruments to process
type Universe interface {
	Instruments(ctx context.Context) ([]Instrument, error)
}

// IsPlaceholder reports whether a descriptive value is one of the
// placeholders written by earlier imports ("0" or empty)
func IsPlaceholder(val string) bool {
	return val == "" || val == "0"
}
