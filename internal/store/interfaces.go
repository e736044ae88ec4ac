package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/db/sqlc"
	"github.com/roasbeef/outreach/internal/domain"
)

var (
	// ErrInvalidRecord is returned for outreach records missing their
	// ids.
	ErrInvalidRecord = errors.New("invalid outreach record")

	// ErrInvalidAccount is returned for accounts without an id.
	ErrInvalidAccount = errors.New("account id is required")
)

// Well-known config keys.
const (
	// KeyPipelineStart holds the YYYY-MM-DD warmup start date.
	KeyPipelineStart = "pipeline_start_date"

	// KeyBlockedUsers holds the JSON blocklist.
	KeyBlockedUsers = "blocked_users"

	// apiUsagePrefix prefixes the monthly API usage keys.
	apiUsagePrefix = "api_usage:"
)

// APIUsageKey returns the config key holding API usage for month
// (YYYY-MM).
func APIUsageKey(month string) string {
	return apiUsagePrefix + month
}

// AccountStore persists the account pool.
type AccountStore interface {
	// UpsertAccount inserts or replaces an account.
	UpsertAccount(ctx context.Context, a account.Account) error

	// LoadAccounts returns the accounts on platform, or all accounts
	// when platform is empty.
	LoadAccounts(ctx context.Context,
		platform string) ([]account.Account, error)
}

// OutreachStore persists dispatch attempts.
type OutreachStore interface {
	// AppendOutreach stores a new record. It reports false if a record
	// with the same dispatch id already exists, which is not an error.
	AppendOutreach(ctx context.Context,
		rec domain.OutreachRecord) (bool, error)

	// FinishOutreach sets the outcome of an unfinished record. It reports
	// false if the record is unknown or already finished.
	FinishOutreach(ctx context.Context, dispatchID string,
		outcome domain.Outcome, finishedAt time.Time,
		class domain.ErrorClass, detail string) (bool, error)

	// GetOutreach returns one record.
	GetOutreach(ctx context.Context,
		dispatchID string) (fn.Option[domain.OutreachRecord], error)

	// ListOutreach returns records started in [from, to), oldest first.
	ListOutreach(ctx context.Context,
		from, to time.Time) ([]domain.OutreachRecord, error)

	// ListUnfinished returns records without a finished_at.
	ListUnfinished(ctx context.Context) ([]domain.OutreachRecord, error)

	// LastFinishedAt returns the latest finished_at of the account.
	LastFinishedAt(ctx context.Context,
		accountID string) (fn.Option[time.Time], error)

	// TerminalTargetKeys returns the keys of targets that were sent or
	// failed permanently.
	TerminalTargetKeys(ctx context.Context) ([]string, error)
}

// CounterStore persists daily aggregates.
type CounterStore interface {
	// IncrementDailyCounter adds delta to (day, kind) once per
	// (dispatchID, kind). It reports false for a repeated application.
	IncrementDailyCounter(ctx context.Context, dispatchID string,
		kind domain.ActionKind, day string, delta int) (bool, error)

	// DailyCounters returns the aggregates for day.
	DailyCounters(ctx context.Context,
		day string) (map[domain.ActionKind]int, error)
}

// ConfigStore is a small key/value table.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (fn.Option[string], error)
	SetConfig(ctx context.Context, key, value string) error

	// DeleteConfig removes key. Deleting a missing key succeeds.
	DeleteConfig(ctx context.Context, key string) error
}

// Repository is the durable shadow of the scheduler's state.
type Repository interface {
	AccountStore
	OutreachStore
	CounterStore
	ConfigStore

	// WithTx runs fn with a repository bound to one transaction.
	WithTx(ctx context.Context,
		fn func(ctx context.Context, r Repository) error) error

	// Close releases the underlying resources.
	Close() error
}

func validateRecord(rec domain.OutreachRecord) error {
	switch {
	case rec.DispatchID == "":
		return errors.Join(ErrInvalidRecord, errors.New("no dispatch id"))

	case rec.AccountID == "":
		return errors.Join(ErrInvalidRecord, errors.New("no account id"))

	case rec.TargetKey == "":
		return errors.Join(ErrInvalidRecord, errors.New("no target key"))
	}

	return nil
}

// ToNullMicros converts an optional time to unix microseconds.
func ToNullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

// FromNullMicros converts nullable unix microseconds back to a time.
func FromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}

	t := time.UnixMicro(v.Int64).UTC()

	return &t
}

// OutreachRecordFromSqlc converts a sqlc row into the domain record.
func OutreachRecordFromSqlc(r sqlc.OutreachRecord) domain.OutreachRecord {
	return domain.OutreachRecord{
		DispatchID: r.DispatchID,
		AccountID:  r.AccountID,
		TargetKey:  r.TargetKey,
		Kind:       domain.ActionKind(r.Kind),
		Outcome:    domain.Outcome(r.Outcome),
		StartedAt:  time.UnixMicro(r.StartedAt).UTC(),
		FinishedAt: FromNullMicros(r.FinishedAt),
		ErrorClass: domain.ErrorClass(r.ErrorClass),
		Detail:     r.Detail,
	}
}

// AccountFromSqlc converts a sqlc row into an account.
func AccountFromSqlc(r sqlc.Account) (account.Account, error) {
	a := account.Account{
		ID:            r.ID,
		Platform:      r.Platform,
		Role:          account.Role(r.Role),
		Handle:        r.Handle,
		Status:        account.Status(r.Status),
		Maturity:      account.Maturity(r.Maturity),
		CounterDay:    r.CounterDay,
		LastUsedAt:    FromNullMicros(r.LastUsedAt),
		LastWarningAt: FromNullMicros(r.LastWarningAt),
		BannedAt:      FromNullMicros(r.BannedAt),
		RestingUntil:  FromNullMicros(r.RestingUntil),
	}

	if err := json.Unmarshal([]byte(r.CountersJson), &a.Counters); err != nil {
		return account.Account{}, err
	}

	var warnings []int64
	if err := json.Unmarshal([]byte(r.WarningsJson), &warnings); err != nil {
		return account.Account{}, err
	}
	for _, w := range warnings {
		a.Warnings = append(a.Warnings, time.UnixMicro(w).UTC())
	}

	return a, nil
}

// accountToSqlc converts an account into upsert parameters.
func accountToSqlc(a account.Account,
	now time.Time) (sqlc.UpsertAccountParams, error) {

	counters := a.Counters
	if counters == nil {
		counters = map[account.Counter]int{}
	}
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return sqlc.UpsertAccountParams{}, err
	}

	warnings := make([]int64, 0, len(a.Warnings))
	for _, w := range a.Warnings {
		warnings = append(warnings, w.UnixMicro())
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return sqlc.UpsertAccountParams{}, err
	}

	return sqlc.UpsertAccountParams{
		ID:            a.ID,
		Platform:      a.Platform,
		Role:          string(a.Role),
		Handle:        a.Handle,
		Status:        string(a.Status),
		Maturity:      string(a.Maturity),
		CounterDay:    a.CounterDay,
		CountersJson:  string(countersJSON),
		WarningsJson:  string(warningsJSON),
		LastUsedAt:    ToNullMicros(a.LastUsedAt),
		LastWarningAt: ToNullMicros(a.LastWarningAt),
		BannedAt:      ToNullMicros(a.BannedAt),
		RestingUntil:  ToNullMicros(a.RestingUntil),
		UpdatedAt:     now.UnixMicro(),
	}, nil
}
