package sqlc

import (
	"context"
)

type Querier interface {
	DeleteConfig(ctx context.Context, key string) error
	FinishOutreachRecord(ctx context.Context, arg FinishOutreachRecordParams) (int64, error)
	GetConfig(ctx context.Context, key string) (string, error)
	GetLastFinishedAt(ctx context.Context, accountID string) (int64, error)
	GetOutreachRecord(ctx context.Context, dispatchID string) (OutreachRecord, error)
	IncrementDailyCounter(ctx context.Context, arg IncrementDailyCounterParams) error
	InsertCounterApplication(ctx context.Context, arg InsertCounterApplicationParams) (int64, error)
	InsertOutreachRecord(ctx context.Context, arg InsertOutreachRecordParams) (int64, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListAccountsByPlatform(ctx context.Context, platform string) ([]Account, error)
	ListDailyCounters(ctx context.Context, day string) ([]ListDailyCountersRow, error)
	ListOutreachRecords(ctx context.Context, arg ListOutreachRecordsParams) ([]OutreachRecord, error)
	ListTerminalTargetKeys(ctx context.Context) ([]string, error)
	ListUnfinishedOutreachRecords(ctx context.Context) ([]OutreachRecord, error)
	SetConfig(ctx context.Context, arg SetConfigParams) error
	UpsertAccount(ctx context.Context, arg UpsertAccountParams) error
}

var _ Querier = (*Queries)(nil)
