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

package tabular_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-eod/adjust"
	"github.com/penny-vault/pv-eod/tabular"
)

var _ = Describe("Parquet files", func() {
	var (
		dir string
		ctx context.Context
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "pveod-parquet")
		Expect(err).To(BeNil())
		DeferCleanup(os.RemoveAll, dir)
		ctx = context.Background()
	})

	It("round trips adjusted series", func() {
		fn := filepath.Join(dir, "adjusted.parquet")
		pw, err := tabular.CreateParquet(fn)
		Expect(err).To(BeNil())

		Expect(pw.Write(ctx, adjust.NewAdjuster("XOM", []adjust.RawDailyRecord{
			rawRecord("XOM", 4, 100, 2),
			rawRecord("XOM", 1, 200, 1),
		}))).To(Succeed())
		Expect(pw.Write(ctx, adjust.NewAdjuster("KO", []adjust.RawDailyRecord{
			rawRecord("KO", 2, 60, 1),
		}))).To(Succeed())
		Expect(pw.Close()).To(Succeed())

		records, err := tabular.ReadParquet(fn)
		Expect(err).To(BeNil())
		Expect(records).To(HaveLen(3))

		Expect(records[0].Ticker).To(Equal("XOM"))
		Expect(records[0].Date).To(Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))
		Expect(records[0].AdjustedOpen).To(Equal(50.0))
		Expect(records[0].AdjustedClose).To(Equal(100.0))
		Expect(records[1].AdjustedOpen).To(Equal(100.0))
		Expect(records[1].Volume).To(Equal(int64(100)))
		Expect(records[2].Ticker).To(Equal("KO"))
		Expect(records[2].Name).To(Equal("KO Inc."))
	})

	It("does not write after close", func() {
		pw, err := tabular.CreateParquet(filepath.Join(dir, "closed.parquet"))
		Expect(err).To(BeNil())
		Expect(pw.Close()).To(Succeed())
		Expect(pw.Write(ctx, adjust.NewAdjuster("KO", []adjust.RawDailyRecord{
			rawRecord("KO", 2, 60, 1),
		}))).To(MatchError(tabular.ErrClosed))
	})
})
