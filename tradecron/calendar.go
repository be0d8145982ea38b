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

package tradecron

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-eod/common"
	"github.com/penny-vault/pv-eod/data/database"
)

const selectHolidaysSQL = `SELECT event_date FROM market_holidays WHERE event_date > $1 ORDER BY event_date ASC`

// Calendar knows which days the exchange is closed. Holidays come from the
// market_holidays table; weekends are always closed.
type Calendar struct {
	mu              sync.RWMutex
	holidays        map[int][]time.Time
	lastHolidayLoad time.Time
}

// NewCalendar returns a calendar with no holidays loaded
func NewCalendar() *Calendar {
	return &Calendar{
		holidays: make(map[int][]time.Time),
	}
}

// LoadMarketHolidays reads holidays newer than the last one loaded
func (c *Calendar) LoadMarketHolidays(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	rows, err := trx.Query(ctx, selectHolidaysSQL, c.lastHolidayLoad)
	if err != nil {
		log.Error().Err(err).Msg("could not query market holidays")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	nyc := common.GetTimezone()
	cnt := 0
	for rows.Next() {
		var dt time.Time
		if err := rows.Scan(&dt); err != nil {
			rows.Close()
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Err(err).Msg("could not rollback transaction")
			}
			return err
		}
		dt = time.Date(dt.Year(), dt.Month(), dt.Day(), 0, 0, 0, 0, nyc)
		c.lastHolidayLoad = dt
		c.holidays[dt.Year()] = append(c.holidays[dt.Year()], dt)
		cnt++
	}
	rows.Close()

	if err := trx.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("could not commit transaction")
		return err
	}

	log.Debug().Int("NumHolidays", cnt).Msg("loaded market holidays")
	return nil
}

// IsMarketHoliday returns true if the specified date is a market holiday
func (c *Calendar) IsMarketHoliday(t time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t = t.In(common.GetTimezone())
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for _, day := range c.holidays[d.Year()] {
		if d.Equal(day) {
			return true
		}
	}
	return false
}

// IsTradeDay returns true if the specified date is not a weekend or market
// holiday in New York
func (c *Calendar) IsTradeDay(t time.Time) bool {
	t = t.In(common.GetTimezone())
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !c.IsMarketHoliday(t)
}
