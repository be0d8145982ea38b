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
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	fetchCmd.Flags().String("input", "", "Read raw quotes from this CSV instead of Alpha Vantage")
	fetchCmd.Flags().String("csv", "", "Write adjusted series to this CSV file")
	fetchCmd.Flags().String("parquet", "", "Write adjusted series to this parquet file")
	fetchCmd.Flags().Bool("db", false, "Upsert adjusted series into the database")
	fetchCmd.Flags().StringSlice("tickers", []string{}, "Only process these tickers")
	fetchCmd.Flags().Float64("max-failure-rate", 0.05, "Exit with an error when a larger share of instruments fails")
	fetchCmd.Flags().Bool("show-all", false, "List every instrument in the report, not only those that need attention")

	for key, flag := range map[string]string{
		"fetch.input":            "input",
		"fetch.csv":              "csv",
		"fetch.parquet":          "parquet",
		"fetch.db":               "db",
		"fetch.tickers":          "tickers",
		"fetch.max_failure_rate": "max-failure-rate",
		"fetch.show_all":         "show-all",
	} {
		if err := viper.BindPFlag(key, fetchCmd.Flags().Lookup(flag)); err != nil {
			log.Panic().Err(err).Str("Key", key).Msg("could not bind flag")
		}
	}

	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download, adjust and store the daily history of every instrument",
	Long: `Download the full daily history of every instrument in the universe, back-adjust
open, high and low for splits and dividends, and write the adjusted series to
the configured outputs.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := runFetch(cmd.Context(), fetchOptionsFromViper(), os.Stdout); err != nil {
			cleanup()
			log.Fatal().Err(err).Msg("fetch failed")
		}
	},
}
