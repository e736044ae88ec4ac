package db

import (
	"context"
	"log/slog"
	"math"
	prand "math/rand"
	"time"

	"github.com/roasbeef/outreach/internal/db/sqlc"
)

// A compile time check to ensure TransactionExecutor implements BatchedTx.
var _ BatchedTx[*sqlc.Queries] = (*TransactionExecutor[*sqlc.Queries])(nil)

// txExecutorOptions holds the retry settings of a TransactionExecutor. They
// only matter for transactions that fail because the database is busy or
// locked; any other failure is returned on the first attempt.
type txExecutorOptions struct {
	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

// defaultTxExecutorOptions returns the retry settings used unless a
// TxExecutorOption overrides them.
func defaultTxExecutorOptions() *txExecutorOptions {
	return &txExecutorOptions{
		numRetries:        DefaultNumTxRetries,
		initialRetryDelay: DefaultInitialRetryDelay,
		maxRetryDelay:     DefaultMaxRetryDelay,
	}
}

// randRetryDelay returns how long to wait before retrying after the given
// attempt. The delay starts somewhere between 50% and 150% of the initial
// delay, doubles with every attempt and never exceeds the maximum. A zero
// initial delay disables waiting.
func (t *txExecutorOptions) randRetryDelay(attempt int) time.Duration {
	if t.initialRetryDelay <= 0 {
		return 0
	}

	// Half the delay plus 0%-100% of it gives the 50%-150% range.
	halfDelay := t.initialRetryDelay / 2
	randDelay := prand.Int63n(int64(t.initialRetryDelay)) //nolint:gosec
	delay := halfDelay + time.Duration(randDelay)

	// Doubling n times is a factor of 2^n. The power is capped at 32 so
	// the factor cannot overflow.
	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	delay *= factor //nolint:durationcheck

	if delay > t.maxRetryDelay || delay <= 0 {
		return t.maxRetryDelay
	}

	return delay
}

// TxExecutorOption is a functional option that tunes a TransactionExecutor
// when it is created.
type TxExecutorOption func(*txExecutorOptions)

// WithTxRetries sets how many times a transaction is attempted in total
// before ExecTx gives up with ErrRetriesExceeded.
func WithTxRetries(numRetries int) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.numRetries = numRetries
	}
}

// WithTxRetryDelay sets the initial delay between two attempts. Later
// delays grow from it as described on randRetryDelay.
func WithTxRetryDelay(delay time.Duration) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.initialRetryDelay = delay
	}
}

// TransactionExecutor runs a body of queries inside one database
// transaction. It is generic over the query set the body sees, so a store
// can hand its callers a narrow interface instead of the full sqlc.Querier.
// The QueryCreator binds that query set to each transaction the embedded
// BatchedQuerier opens.
type TransactionExecutor[Query any] struct {
	BatchedQuerier

	createQuery QueryCreator[Query]

	opts *txExecutorOptions

	log *slog.Logger
}

// NewTransactionExecutor creates a TransactionExecutor that opens its
// transactions on db and builds the body's query set with createQuery. Retry
// messages are logged at debug level to log.
func NewTransactionExecutor[Querier any](db BatchedQuerier,
	createQuery QueryCreator[Querier], log *slog.Logger,
	opts ...TxExecutorOption) *TransactionExecutor[Querier] {

	txOpts := defaultTxExecutorOptions()
	for _, optFunc := range opts {
		optFunc(txOpts)
	}

	return &TransactionExecutor[Querier]{
		BatchedQuerier: db,
		createQuery:    createQuery,
		opts:           txOpts,
		log:            log,
	}
}

// ExecTx opens a transaction, runs txBody against the query set bound to
// it and commits. If any step fails because the database is busy or
// locked, the transaction is rolled back and the whole body runs again
// after a randomized backoff, so txBody must be safe to repeat. Every other
// error is mapped with MapSQLError and returned as is. A cancelled context
// ends the wait between attempts.
//
// NOTE: This implements the BatchedTx interface.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) error {

	for i := 0; i < t.opts.numRetries; i++ {
		retry, err := t.attempt(ctx, txOptions, txBody)
		if !retry {
			return err
		}

		delay := t.opts.randRetryDelay(i)
		t.log.DebugContext(ctx, "Retrying transaction after busy "+
			"database", "attempt_number", i, "delay", delay,
			"err", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrRetriesExceeded
}

// attempt runs txBody in a single transaction. It returns the mapped error,
// if any, and whether that error allows another attempt.
func (t *TransactionExecutor[Q]) attempt(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) (bool, error) {

	tx, err := t.BeginTx(ctx, txOptions)
	if err != nil {
		dbErr := MapSQLError(err)
		return IsRetryable(dbErr), dbErr
	}

	// Rollback after a successful commit is a no-op.
	defer func() {
		_ = tx.Rollback()
	}()

	if err := txBody(t.createQuery(tx)); err != nil {
		dbErr := MapSQLError(err)
		return IsRetryable(dbErr), dbErr
	}

	if err := tx.Commit(); err != nil {
		dbErr := MapSQLError(err)
		return IsRetryable(dbErr), dbErr
	}

	return false, nil
}
