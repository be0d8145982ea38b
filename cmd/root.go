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
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-eod/common"
	"github.com/penny-vault/pv-eod/data"
	"github.com/penny-vault/pv-eod/observability/opentelemetry"
)

var (
	logCloser     io.Closer
	traceShutdown func(context.Context) error
)

// bind registers a persistent flag and ties it to a viper key and an
// environment variable
func bind(key, env, flag string) {
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			log.Panic().Err(err).Str("Key", key).Msg("could not bind environment variable")
		}
	}
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		log.Panic().Err(err).Str("Key", key).Msg("could not bind flag")
	}
}

func init() {
	// Alpha Vantage
	rootCmd.PersistentFlags().String("alphavantage-api-key", "", "Alpha Vantage API key")
	bind("alphavantage.api_key", "ALPHAVANTAGE_API_KEY", "alphavantage-api-key")

	rootCmd.PersistentFlags().String("alphavantage-url", data.AlphaVantageURL, "Alpha Vantage query endpoint")
	bind("alphavantage.url", "ALPHAVANTAGE_URL", "alphavantage-url")

	rootCmd.PersistentFlags().Float64("alphavantage-requests-per-minute", 30, "Maximum Alpha Vantage requests per minute, 0 disables pacing")
	bind("alphavantage.requests_per_minute", "ALPHAVANTAGE_REQUESTS_PER_MINUTE", "alphavantage-requests-per-minute")

	rootCmd.PersistentFlags().Uint64("alphavantage-max-retries", 5, "Retries for throttled or failed Alpha Vantage requests")
	bind("alphavantage.max_retries", "ALPHAVANTAGE_MAX_RETRIES", "alphavantage-max-retries")

	// Universe
	rootCmd.PersistentFlags().String("universe-url", data.SP500ConstituentsURL, "Page listing the S&P 500 constituents")
	bind("universe.url", "PVEOD_UNIVERSE_URL", "universe-url")

	rootCmd.PersistentFlags().String("universe-file", "", "TOML file listing instruments; overrides universe-url")
	bind("universe.file", "PVEOD_UNIVERSE_FILE", "universe-file")

	// Database
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	bind("database.url", "DATABASE_URL", "database-url")

	rootCmd.PersistentFlags().String("database-role", "", "Role to switch to in each transaction")
	bind("database.role", "PVEOD_DATABASE_ROLE", "database-role")

	// Cache
	rootCmd.PersistentFlags().Int("cache-local-size", 0, "Number of provider responses held in memory, 0 disables the cache")
	bind("cache.local_size", "PVEOD_CACHE_LOCAL_SIZE", "cache-local-size")

	rootCmd.PersistentFlags().Bool("cache-redis", false, "Share cached responses through redis")
	bind("cache.redis", "PVEOD_CACHE_REDIS", "cache-redis")

	rootCmd.PersistentFlags().String("cache-redis-url", "redis://localhost:6379/0", "Redis connection URL")
	bind("cache.redis_url", "REDIS_URL", "cache-redis-url")

	rootCmd.PersistentFlags().Int("cache-ttl", 12*60*60, "Seconds a cached response is served before it is fetched again (0 keeps it forever)")
	bind("cache.ttl", "PVEOD_CACHE_TTL", "cache-ttl")

	rootCmd.PersistentFlags().String("cache-compression", "fast", "lz4 level for cached responses: fast or 1-9")
	bind("cache.compression", "PVEOD_CACHE_COMPRESSION", "cache-compression")

	// Logging
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level")
	bind("log.level", "PVEOD_LOG_LEVEL", "log-level")

	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	bind("log.output", "PVEOD_LOG_OUTPUT", "log-output")

	rootCmd.PersistentFlags().Bool("log-pretty", false, "Write human readable logs instead of JSON")
	bind("log.pretty", "PVEOD_LOG_PRETTY", "log-pretty")

	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log file and line that called log statement")
	bind("log.report_caller", "PVEOD_LOG_REPORT_CALLER", "log-report-caller")

	// Processing
	rootCmd.PersistentFlags().Int("workers", 1, "Number of instruments processed concurrently")
	bind("workers", "PVEOD_WORKERS", "workers")

	// Tracing
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OTLP collector endpoint, tracing is disabled when empty")
	bind("otlp.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "otlp-endpoint")

	rootCmd.PersistentFlags().Bool("otlp-http", false, "Use HTTP instead of gRPC for OTLP")
	bind("otlp.http", "PVEOD_OTLP_HTTP", "otlp-http")

	rootCmd.PersistentFlags().Bool("otlp-insecure", false, "Disable TLS for the OTLP connection")
	bind("otlp.insecure", "PVEOD_OTLP_INSECURE", "otlp-insecure")
}

var rootCmd = &cobra.Command{
	Use:     common.ProgramName,
	Version: common.CurrentVersion.String(),
	Short:   "Download and back-adjust daily equity prices",
	Long: `pveod downloads the complete daily price history of a universe of equities,
back-adjusts open, high and low for splits and dividends, and writes the
adjusted series to CSV, parquet or PostgreSQL.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logCloser = common.SetupLogging()

		if err := common.SetupCache(); err != nil {
			return err
		}

		shutdown, err := opentelemetry.Setup(cmd.Context())
		if err != nil {
			log.Error().Err(err).Msg("could not initialize tracing")
			return err
		}
		traceShutdown = shutdown
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		cleanup()
	},
}

func cleanup() {
	if traceShutdown != nil {
		if err := traceShutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("could not flush traces")
		}
		traceShutdown = nil
	}
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cleanup()
		os.Exit(1)
	}
}
