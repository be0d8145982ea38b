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

// TrackedTx wraps a pgx transaction and records it in the open transaction
// log until it is committed or rolled back, which makes leaked transactions
// visible through LogOpenTransactions.

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

var (
	ErrNestedTransaction = errors.New("nested transactions are not supported")
)

type TrackedTx struct {
	id string
	tx pgx.Tx
}

// ID returns the tracking id of the transaction
func (t *TrackedTx) ID() string {
	return t.id
}

func (t *TrackedTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, ErrNestedTransaction
}

func (t *TrackedTx) BeginFunc(ctx context.Context, f func(pgx.Tx) error) error {
	return ErrNestedTransaction
}

// Commit removes the transaction from the open log and commits it
func (t *TrackedTx) Commit(ctx context.Context) error {
	openTransactions.Delete(t.id)
	return t.tx.Commit(ctx)
}

// Rollback removes the transaction from the open log and rolls it back. Safe
// to call after Commit.
func (t *TrackedTx) Rollback(ctx context.Context) error {
	openTransactions.Delete(t.id)
	return t.tx.Rollback(ctx)
}

func (t *TrackedTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return t.tx.CopyFrom(ctx, tableName, columnNames, rowSrc)
}

func (t *TrackedTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return t.tx.SendBatch(ctx, b)
}

func (t *TrackedTx) LargeObjects() pgx.LargeObjects {
	return t.tx.LargeObjects()
}

func (t *TrackedTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return t.tx.Prepare(ctx, name, sql)
}

func (t *TrackedTx) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return t.tx.Exec(ctx, sql, arguments...)
}

func (t *TrackedTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t *TrackedTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *TrackedTx) QueryFunc(ctx context.Context, sql string, args []interface{}, scans []interface{}, f func(pgx.QueryFuncRow) error) (pgconn.CommandTag, error) {
	return t.tx.QueryFunc(ctx, sql, args, scans, f)
}

func (t *TrackedTx) Conn() *pgx.Conn {
	return t.tx.Conn()
}
