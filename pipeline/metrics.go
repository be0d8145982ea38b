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

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	instrumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pveod_instruments_total",
			Help: "Instruments processed by status",
		},
		[]string{"status"},
	)
	recordsAdjusted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pveod_records_adjusted_total",
			Help: "Adjusted daily records produced",
		},
	)
	recordsInvalid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pveod_records_invalid_total",
			Help: "Daily records rejected by parsing or adjustment",
		},
	)
	instrumentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pveod_instrument_duration_seconds",
			Help:    "Time spent fetching, adjusting and writing one instrument",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	lastRunFailureRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pveod_last_run_failure_rate",
			Help: "Share of instruments that failed in the most recent run",
		},
	)
)
