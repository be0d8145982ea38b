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
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/penny-vault/pv-eod/data"
)

func init() {
	rootCmd.AddCommand(namesCmd)
}

var namesCmd = &cobra.Command{
	Use:   "names <ticker_name_sector.csv>",
	Short: "Fill placeholder stock names and sectors",
	Long: `Read a ticker,name,sector CSV and replace names and sectors stored as "0" or
empty for stocks already in the database. Unknown tickers are reported and
skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runNames(cmd.Context(), args[0]); err != nil {
			cleanup()
			log.Fatal().Err(err).Str("File", args[0]).Msg("could not update names")
		}
	},
}

func runNames(ctx context.Context, fn string) error {
	fh, err := os.Open(fn)
	if err != nil {
		return err
	}
	defer fh.Close()

	instruments, err := data.ReadInstrumentsCSV(fh)
	if err != nil {
		return err
	}

	if err := connectDatabase(ctx); err != nil {
		return err
	}

	notFound, err := data.NewPvDb().FillPlaceholders(ctx, instruments)
	if err != nil {
		return err
	}

	if len(notFound) > 0 {
		log.Warn().Strs("Tickers", notFound).Msg("stocks not found")
	}
	return nil
}
