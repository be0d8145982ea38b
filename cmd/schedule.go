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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-eod/common"
	"github.com/penny-vault/pv-eod/tradecron"
)

func init() {
	scheduleCmd.Flags().String("cron", "0 18 * * 1-5", "Cron expression (New York time) for fetch runs")
	scheduleCmd.Flags().String("metrics-listen", "", "Serve prometheus metrics on this address, e.g. :9090")
	scheduleCmd.Flags().Bool("run-now", false, "Run fetch once immediately after starting")
	scheduleCmd.Flags().Bool("skip-holidays", false, "Skip runs on market holidays listed in the market_holidays table")

	viper.BindEnv("schedule.cron", "PVEOD_SCHEDULE_CRON")
	viper.BindPFlag("schedule.cron", scheduleCmd.Flags().Lookup("cron"))
	viper.BindEnv("metrics.listen", "PVEOD_METRICS_LISTEN")
	viper.BindPFlag("metrics.listen", scheduleCmd.Flags().Lookup("metrics-listen"))
	viper.BindPFlag("schedule.run_now", scheduleCmd.Flags().Lookup("run-now"))
	viper.BindPFlag("schedule.skip_holidays", scheduleCmd.Flags().Lookup("skip-holidays"))

	rootCmd.AddCommand(scheduleCmd)
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run fetch on a schedule",
	Long: `Run fetch every time the cron expression matches, using the fetch.* settings
from the configuration file. Runs never overlap.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runSchedule(ctx); err != nil {
			cleanup()
			log.Fatal().Err(err).Msg("scheduler failed")
		}
	},
}

func runSchedule(ctx context.Context) error {
	expr := viper.GetString("schedule.cron")
	scheduler := gocron.NewScheduler(common.GetTimezone())

	var calendar *tradecron.Calendar
	if viper.GetBool("schedule.skip_holidays") {
		if err := connectDatabase(ctx); err != nil {
			return err
		}
		calendar = tradecron.NewCalendar()
	}

	job, err := scheduler.Cron(expr).SingletonMode().Do(func() {
		if !shouldRun(ctx, calendar, time.Now()) {
			return
		}

		opts := fetchOptionsFromViper()
		report, err := runFetch(ctx, opts, log.Logger)
		if err != nil {
			log.Error().Err(err).Msg("scheduled fetch failed")
			return
		}
		log.Info().Int("NumInstruments", len(report.Results)).Float64("FailureRate", report.FailureRate()).Msg("scheduled fetch complete")
	})
	if err != nil {
		log.Error().Err(err).Str("Cron", expr).Msg("invalid schedule")
		return err
	}

	var server *http.Server
	if listen := viper.GetString("metrics.listen"); listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{
			Addr:              listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("Listen", listen).Msg("serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	scheduler.StartAsync()
	if viper.GetBool("schedule.run_now") {
		scheduler.RunAll()
	}
	log.Info().Str("Cron", expr).Time("NextRun", job.NextRun()).Msg("scheduler started")

	<-ctx.Done()
	log.Info().Msg("stopping scheduler")
	scheduler.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("could not stop metrics server")
		}
	}
	return nil
}

// shouldRun refreshes the holiday list and reports whether today is a trading
// day. A nil calendar always runs.
func shouldRun(ctx context.Context, calendar *tradecron.Calendar, now time.Time) bool {
	if calendar == nil {
		return true
	}
	if err := calendar.LoadMarketHolidays(ctx); err != nil {
		log.Warn().Err(err).Msg("could not refresh market holidays")
	}
	if !calendar.IsTradeDay(now) {
		log.Info().Time("Now", now).Msg("market closed today; skipping fetch")
		return false
	}
	return true
}
