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

	"github.com/penny-vault/pv-eod/adjust"
	"github.com/penny-vault/pv-eod/data"
	"github.com/penny-vault/pv-eod/tabular"
)

func init() {
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <adjusted.csv|adjusted.parquet>",
	Short: "Upsert a file of adjusted series into the database",
	Long: `Read a file written by fetch and upsert it into the stocks and stock_data
tables. Empty numeric cells are stored as 0.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runImport(cmd.Context(), args[0]); err != nil {
			cleanup()
			log.Fatal().Err(err).Str("File", args[0]).Msg("import failed")
		}
	},
}

func readAdjustedFile(fn string) ([]adjust.AdjustedDailyRecord, error) {
	if isParquet(fn) {
		return tabular.ReadParquet(fn)
	}

	fh, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return tabular.ReadAdjustedCSV(fh)
}

func runImport(ctx context.Context, fn string) error {
	records, err := readAdjustedFile(fn)
	if err != nil {
		return err
	}

	if err := connectDatabase(ctx); err != nil {
		return err
	}

	if err := data.NewPvDb().SaveRecords(ctx, records); err != nil {
		return err
	}

	log.Info().Str("File", fn).Int("NumRecords", len(records)).Msg("import complete")
	return nil
}
