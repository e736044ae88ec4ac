package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/db"
	"github.com/roasbeef/outreach/internal/db/sqlc"
	"github.com/roasbeef/outreach/internal/domain"
)

// SqlcStore implements Repository on top of the sqlite store. Every call
// runs in its own transaction unless it is made through WithTx.
type SqlcStore struct {
	sqlite *db.SqliteStore
	exec   db.BatchedTx[*sqlc.Queries]
	clock  clock.Clock
}

// NewSqlcStore wraps an opened and migrated sqlite store.
func NewSqlcStore(sqlite *db.SqliteStore, clk clock.Clock,
	opts ...db.TxExecutorOption) *SqlcStore {

	return &SqlcStore{
		sqlite: sqlite,
		exec:   sqlite.Executor(opts...),
		clock:  clk,
	}
}

// Close closes the underlying database connection.
func (s *SqlcStore) Close() error {
	return s.sqlite.Close()
}

func (s *SqlcStore) read(ctx context.Context, f func(q *txStore) error) error {
	return s.exec.ExecTx(ctx, db.ReadTxOption(), func(q *sqlc.Queries) error {
		return f(&txStore{q: q, clock: s.clock})
	})
}

func (s *SqlcStore) write(ctx context.Context, f func(q *txStore) error) error {
	return s.exec.ExecTx(ctx, db.WriteTxOption(), func(q *sqlc.Queries) error {
		return f(&txStore{q: q, clock: s.clock})
	})
}

// WithTx runs fn inside one write transaction. The transaction is rolled
// back if fn returns an error.
func (s *SqlcStore) WithTx(ctx context.Context,
	fn func(ctx context.Context, r Repository) error) error {

	return s.write(ctx, func(q *txStore) error {
		return fn(ctx, q)
	})
}

// UpsertAccount inserts or replaces an account.
func (s *SqlcStore) UpsertAccount(ctx context.Context, a account.Account) error {
	return s.write(ctx, func(q *txStore) error {
		return q.UpsertAccount(ctx, a)
	})
}

// LoadAccounts returns the accounts on platform, or all of them.
func (s *SqlcStore) LoadAccounts(ctx context.Context,
	platform string) ([]account.Account, error) {

	var out []account.Account
	err := s.read(ctx, func(q *txStore) error {
		var err error
		out, err = q.LoadAccounts(ctx, platform)
		return err
	})

	return out, err
}

// AppendOutreach stores a new record.
func (s *SqlcStore) AppendOutreach(ctx context.Context,
	rec domain.OutreachRecord) (bool, error) {

	var inserted bool
	err := s.write(ctx, func(q *txStore) error {
		var err error
		inserted, err = q.AppendOutreach(ctx, rec)
		return err
	})

	return inserted, err
}

// FinishOutreach stamps an unfinished record.
func (s *SqlcStore) FinishOutreach(ctx context.Context, dispatchID string,
	outcome domain.Outcome, finishedAt time.Time, class domain.ErrorClass,
	detail string) (bool, error) {

	var updated bool
	err := s.write(ctx, func(q *txStore) error {
		var err error
		updated, err = q.FinishOutreach(
			ctx, dispatchID, outcome, finishedAt, class, detail,
		)
		return err
	})

	return updated, err
}

// GetOutreach returns one record.
func (s *SqlcStore) GetOutreach(ctx context.Context,
	dispatchID string) (fn.Option[domain.OutreachRecord], error) {

	var out fn.Option[domain.OutreachRecord]
	err := s.read(ctx, func(q *txStore) error {
		var err error
		out, err = q.GetOutreach(ctx, dispatchID)
		return err
	})

	return out, err
}

// ListOutreach returns records started in [from, to).
func (s *SqlcStore) ListOutreach(ctx context.Context,
	from, to time.Time) ([]domain.OutreachRecord, error) {

	var out []domain.OutreachRecord
	err := s.read(ctx, func(q *txStore) error {
		var err error
		out, err = q.ListOutreach(ctx, from, to)
		return err
	})

	return out, err
}

// ListUnfinished returns records without a finished_at.
func (s *SqlcStore) ListUnfinished(
	ctx context.Context) ([]domain.OutreachRecord, error) {

	var out []domain.OutreachRecord
	err := s.read(ctx, func(q *txStore) error {
		var err error
		out, err = q.ListUnfinished(ctx)
		return err
	})

	return out, err
}

// LastFinishedAt returns the latest finished_at of the account.
func (s *SqlcStore) LastFinishedAt(ctx context.Context,
	accountID string) (fn.Option[time.Time], error) {

	var out fn.Option[time.Time]
	err := s.read(ctx, func(q *txStore) error {
		var err error
		out, err = q.LastFinishedAt(ctx, accountID)
		return err
	})

	return out, err
}

// TerminalTargetKeys returns targets that must never be retried.
func (s *SqlcStore) TerminalTargetKeys(ctx context.Context) ([]string, error) {
	var out []string
	err := s.read(ctx, func(q *txStore) error {
		var err error
		out, err = q.TerminalTargetKeys(ctx)
		return err
	})

	return out, err
}

// IncrementDailyCounter applies delta once per (dispatchID, kind).
func (s *SqlcStore) IncrementDailyCounter(ctx context.Context,
	dispatchID string, kind domain.ActionKind, day string,
	delta int) (bool, error) {

	var applied bool
	err := s.write(ctx, func(q *txStore) error {
		var err error
		applied, err = q.IncrementDailyCounter(
			ctx, dispatchID, kind, day, delta,
		)
		return err
	})

	return applied, err
}

// DailyCounters returns the aggregates for day.
func (s *SqlcStore) DailyCounters(ctx context.Context,
	day string) (map[domain.ActionKind]int, error) {

	var out map[domain.ActionKind]int
	err := s.read(ctx, func(q *txStore) error {
		var err error
		out, err = q.DailyCounters(ctx, day)
		return err
	})

	return out, err
}

// GetConfig returns the value stored under key.
func (s *SqlcStore) GetConfig(ctx context.Context,
	key string) (fn.Option[string], error) {

	var out fn.Option[string]
	err := s.read(ctx, func(q *txStore) error {
		var err error
		out, err = q.GetConfig(ctx, key)
		return err
	})

	return out, err
}

// SetConfig stores value under key.
func (s *SqlcStore) SetConfig(ctx context.Context, key, value string) error {
	return s.write(ctx, func(q *txStore) error {
		return q.SetConfig(ctx, key, value)
	})
}

// DeleteConfig removes key.
func (s *SqlcStore) DeleteConfig(ctx context.Context, key string) error {
	return s.write(ctx, func(q *txStore) error {
		return q.DeleteConfig(ctx, key)
	})
}

// txStore runs every operation against queries bound to one transaction.
type txStore struct {
	q     *sqlc.Queries
	clock clock.Clock
}

// WithTx runs fn in the current transaction.
func (t *txStore) WithTx(ctx context.Context,
	fn func(ctx context.Context, r Repository) error) error {

	return fn(ctx, t)
}

// Close is a no-op; the outer store owns the connection.
func (t *txStore) Close() error {
	return nil
}

func (t *txStore) UpsertAccount(ctx context.Context, a account.Account) error {
	if a.ID == "" {
		return ErrInvalidAccount
	}

	params, err := accountToSqlc(a, t.clock.Now())
	if err != nil {
		return fmt.Errorf("encode account %s: %w", a.ID, err)
	}

	return t.q.UpsertAccount(ctx, params)
}

func (t *txStore) LoadAccounts(ctx context.Context,
	platform string) ([]account.Account, error) {

	var (
		rows []sqlc.Account
		err  error
	)
	if platform == "" {
		rows, err = t.q.ListAccounts(ctx)
	} else {
		rows, err = t.q.ListAccountsByPlatform(ctx, platform)
	}
	if err != nil {
		return nil, err
	}

	out := make([]account.Account, 0, len(rows))
	for _, row := range rows {
		a, err := AccountFromSqlc(row)
		if err != nil {
			return nil, fmt.Errorf("decode account %s: %w",
				row.ID, err)
		}
		out = append(out, a)
	}

	return out, nil
}

func (t *txStore) AppendOutreach(ctx context.Context,
	rec domain.OutreachRecord) (bool, error) {

	if err := validateRecord(rec); err != nil {
		return false, err
	}

	n, err := t.q.InsertOutreachRecord(ctx, sqlc.InsertOutreachRecordParams{
		DispatchID: rec.DispatchID,
		AccountID:  rec.AccountID,
		TargetKey:  rec.TargetKey,
		Kind:       string(rec.Kind),
		Outcome:    string(rec.Outcome),
		StartedAt:  rec.StartedAt.UnixMicro(),
		FinishedAt: ToNullMicros(rec.FinishedAt),
		ErrorClass: string(rec.ErrorClass),
		Detail:     rec.Detail,
	})
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (t *txStore) FinishOutreach(ctx context.Context, dispatchID string,
	outcome domain.Outcome, finishedAt time.Time, class domain.ErrorClass,
	detail string) (bool, error) {

	n, err := t.q.FinishOutreachRecord(ctx, sqlc.FinishOutreachRecordParams{
		Outcome:    string(outcome),
		FinishedAt: ToNullMicros(&finishedAt),
		ErrorClass: string(class),
		Detail:     detail,
		DispatchID: dispatchID,
	})
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (t *txStore) GetOutreach(ctx context.Context,
	dispatchID string) (fn.Option[domain.OutreachRecord], error) {

	row, err := t.q.GetOutreachRecord(ctx, dispatchID)
	if errors.Is(err, sql.ErrNoRows) {
		return fn.None[domain.OutreachRecord](), nil
	}
	if err != nil {
		return fn.None[domain.OutreachRecord](), err
	}

	return fn.Some(OutreachRecordFromSqlc(row)), nil
}

func (t *txStore) ListOutreach(ctx context.Context,
	from, to time.Time) ([]domain.OutreachRecord, error) {

	rows, err := t.q.ListOutreachRecords(ctx, sqlc.ListOutreachRecordsParams{
		StartedAt:   from.UnixMicro(),
		StartedAt_2: to.UnixMicro(),
	})
	if err != nil {
		return nil, err
	}

	return recordsFromSqlc(rows), nil
}

func (t *txStore) ListUnfinished(
	ctx context.Context) ([]domain.OutreachRecord, error) {

	rows, err := t.q.ListUnfinishedOutreachRecords(ctx)
	if err != nil {
		return nil, err
	}

	return recordsFromSqlc(rows), nil
}

func (t *txStore) LastFinishedAt(ctx context.Context,
	accountID string) (fn.Option[time.Time], error) {

	micros, err := t.q.GetLastFinishedAt(ctx, accountID)
	if err != nil {
		return fn.None[time.Time](), err
	}
	if micros == 0 {
		return fn.None[time.Time](), nil
	}

	return fn.Some(time.UnixMicro(micros).UTC()), nil
}

func (t *txStore) TerminalTargetKeys(ctx context.Context) ([]string, error) {
	return t.q.ListTerminalTargetKeys(ctx)
}

func (t *txStore) IncrementDailyCounter(ctx context.Context,
	dispatchID string, kind domain.ActionKind, day string,
	delta int) (bool, error) {

	n, err := t.q.InsertCounterApplication(
		ctx, sqlc.InsertCounterApplicationParams{
			DispatchID: dispatchID,
			Kind:       string(kind),
			Day:        day,
		},
	)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	err = t.q.IncrementDailyCounter(ctx, sqlc.IncrementDailyCounterParams{
		Day:   day,
		Kind:  string(kind),
		Count: int64(delta),
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

func (t *txStore) DailyCounters(ctx context.Context,
	day string) (map[domain.ActionKind]int, error) {

	rows, err := t.q.ListDailyCounters(ctx, day)
	if err != nil {
		return nil, err
	}

	out := make(map[domain.ActionKind]int, len(rows))
	for _, row := range rows {
		out[domain.ActionKind(row.Kind)] = int(row.Count)
	}

	return out, nil
}

func (t *txStore) GetConfig(ctx context.Context,
	key string) (fn.Option[string], error) {

	v, err := t.q.GetConfig(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return fn.None[string](), nil
	}
	if err != nil {
		return fn.None[string](), err
	}

	return fn.Some(v), nil
}

func (t *txStore) SetConfig(ctx context.Context, key, value string) error {
	return t.q.SetConfig(ctx, sqlc.SetConfigParams{
		Key:       key,
		Value:     value,
		UpdatedAt: t.clock.Now().UnixMicro(),
	})
}

func (t *txStore) DeleteConfig(ctx context.Context, key string) error {
	return t.q.DeleteConfig(ctx, key)
}

func recordsFromSqlc(rows []sqlc.OutreachRecord) []domain.OutreachRecord {
	out := make([]domain.OutreachRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, OutreachRecordFromSqlc(row))
	}

	return out
}

// Compile-time interface checks.
var (
	_ Repository = (*SqlcStore)(nil)
	_ Repository = (*txStore)(nil)
)
