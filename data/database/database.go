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

package database

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// PgxIface is the subset of a pool (or mock connection) used to start transactions
type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
}

var (
	ErrNotConnected = errors.New("database connection has not been configured")
)

var (
	pool             PgxIface
	poolLock         sync.RWMutex
	openTransactions sync.Map
)

// SetPool replaces the connection pool; tests pass a pgxmock connection
func SetPool(myPool PgxIface) {
	poolLock.Lock()
	defer poolLock.Unlock()

	openTransactions.Range(func(k, _ any) bool {
		openTransactions.Delete(k)
		return true
	})
	pool = myPool
}

// Connect opens a pool to database.url and verifies it with a ping
func Connect(ctx context.Context) error {
	myPool, err := pgxpool.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to pool")
		return err
	}
	if err = myPool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		myPool.Close()
		return err
	}
	SetPool(myPool)
	return nil
}

// Connected reports whether a pool has been configured
func Connected() bool {
	poolLock.RLock()
	defer poolLock.RUnlock()
	return pool != nil
}

// Close releases the pool if it was opened by Connect
func Close() {
	poolLock.Lock()
	defer poolLock.Unlock()

	if p, ok := pool.(*pgxpool.Pool); ok {
		p.Close()
	}
	pool = nil
}

// LogOpenTransactions writes an INFO log for each open transaction
func LogOpenTransactions() {
	openTransactions.Range(func(k, v any) bool {
		log.Info().Str("TrxId", k.(string)).Str("Caller", v.(string)).Msg("open transaction")
		return true
	})
}

// NumOpenTransactions returns the count of transactions that have been
// started but not yet committed or rolled back
func NumOpenTransactions() int {
	cnt := 0
	openTransactions.Range(func(_, _ any) bool {
		cnt++
		return true
	})
	return cnt
}

// Trx begins a tracked transaction. When database.role is set the
// transaction switches to that role before returning.
func Trx(ctx context.Context) (pgx.Tx, error) {
	poolLock.RLock()
	myPool := pool
	poolLock.RUnlock()

	if myPool == nil {
		return nil, ErrNotConnected
	}

	trx, err := myPool.Begin(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	_, file, lineno, ok := runtime.Caller(1)
	caller := fmt.Sprintf("[%v] %s:%d", ok, file, lineno)
	trxID := uuid.New().String()
	openTransactions.Store(trxID, caller)

	wrappedTrx := &TrackedTx{
		id: trxID,
		tx: trx,
	}

	role := viper.GetString("database.role")
	if role == "" {
		return wrappedTrx, nil
	}

	// SET ROLE does not accept bind parameters
	ident := pgx.Identifier{role}
	sql := fmt.Sprintf("SET ROLE %s", ident.Sanitize())
	if _, err := wrappedTrx.Exec(ctx, sql); err != nil {
		log.Error().Stack().Err(err).Str("Role", role).Msg("could not switch role")
		if err := wrappedTrx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	return wrappedTrx, nil
}
