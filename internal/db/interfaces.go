package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/roasbeef/outreach/internal/db/sqlc"
)

const (
	// DefaultNumTxRetries is the number of times a transaction is
	// attempted when it keeps failing because another connection holds
	// the database lock. The recorder and the admin API both write, so a
	// short busy spell is normal and not worth surfacing to the caller.
	DefaultNumTxRetries = 10

	// DefaultInitialRetryDelay is the base delay between two attempts.
	// The actual wait is drawn at random from 50% to 150% of it, so 20 to
	// 60 milliseconds, and doubles after each attempt until it reaches
	// DefaultMaxRetryDelay. The jitter keeps writers that collided once
	// from colliding again on the next attempt.
	DefaultInitialRetryDelay = time.Millisecond * 40

	// DefaultMaxRetryDelay is the longest we ever wait between two
	// attempts of the same transaction.
	DefaultMaxRetryDelay = time.Second * 3
)

// TxOptions describes the transaction a caller wants opened. Today the only
// choice is between a read-only and a read-write transaction; SQLite gives
// read-only transactions a shared lock, so reports and status reads never
// block the recorder.
type TxOptions interface {
	// ReadOnly returns true if the transaction should be read-only.
	ReadOnly() bool
}

// BaseTxOptions is the set of transaction options the outreach store
// understands. Callers build one with ReadTxOption or WriteTxOption.
type BaseTxOptions struct {
	// readOnly is true if the transaction only reads.
	readOnly bool
}

// ReadOnly returns true if the transaction should be opened read-only.
//
// NOTE: This implements the TxOptions interface.
func (a *BaseTxOptions) ReadOnly() bool {
	return a.readOnly
}

// ReadTxOption returns the options for a read-only transaction, used by
// every query that only loads accounts, records or counters.
func ReadTxOption() *BaseTxOptions {
	return &BaseTxOptions{readOnly: true}
}

// WriteTxOption returns the options for a read-write transaction, used by
// the recorder and by account and config updates.
func WriteTxOption() *BaseTxOptions {
	return &BaseTxOptions{}
}

// BatchedTx runs several queries against a query set Q as one atomic
// transaction. Stores hold a BatchedTx rather than a TransactionExecutor.
type BatchedTx[Q any] interface {
	// ExecTx runs txBody inside a single transaction opened with
	// txOptions. The transaction commits only if txBody returns nil.
	ExecTx(ctx context.Context, txOptions TxOptions,
		txBody func(Q) error) error
}

// QueryCreator turns an open transaction into a query set Q. The
// TransactionExecutor calls it once per attempt, so every query a body runs
// goes through the same transaction and commits or rolls back with it. Q is
// usually a narrow interface over sqlc.Querier, which lets a store depend
// only on the queries it actually runs.
type QueryCreator[Q any] func(*sql.Tx) Q

// BatchedQuerier is a query source that can also open transactions. Single
// statements run straight against it; anything that has to be atomic goes
// through BeginTx, usually by way of a TransactionExecutor.
type BatchedQuerier interface {
	// Querier runs single statements outside of any explicit
	// transaction. Embedding it lets a BatchedQuerier be passed wherever
	// plain queries are enough.
	sqlc.Querier

	// BeginTx opens a new transaction with the given options.
	BeginTx(ctx context.Context, options TxOptions) (*sql.Tx, error)
}

// BaseDB pairs an open connection pool with the sqlc queries bound to it.
// SqliteStore embeds it to satisfy BatchedQuerier.
type BaseDB struct {
	*sql.DB

	*sqlc.Queries
}

// NewBaseDB creates a new BaseDB instance from a sql.DB connection.
func NewBaseDB(db *sql.DB) *BaseDB {
	return &BaseDB{
		DB:      db,
		Queries: sqlc.New(db),
	}
}

// BeginTx opens a transaction, mapping our TxOptions onto the options the
// database/sql package understands.
//
// NOTE: This implements the BatchedQuerier interface.
func (s *BaseDB) BeginTx(ctx context.Context, opts TxOptions) (*sql.Tx, error) {
	sqlOptions := sql.TxOptions{
		ReadOnly: opts.ReadOnly(),
	}

	return s.DB.BeginTx(ctx, &sqlOptions)
}
