package sqlc

import (
	"database/sql"
)

type Account struct {
	ID            string
	Platform      string
	Role          string
	Handle        string
	Status        string
	Maturity      string
	CounterDay    string
	CountersJson  string
	WarningsJson  string
	LastUsedAt    sql.NullInt64
	LastWarningAt sql.NullInt64
	BannedAt      sql.NullInt64
	RestingUntil  sql.NullInt64
	UpdatedAt     int64
}

type Config struct {
	Key       string
	Value     string
	UpdatedAt int64
}

type DailyCounter struct {
	Day   string
	Kind  string
	Count int64
}

type DailyCounterApplied struct {
	DispatchID string
	Kind       string
	Day        string
}

type OutreachRecord struct {
	DispatchID string
	AccountID  string
	TargetKey  string
	Kind       string
	Outcome    string
	StartedAt  int64
	FinishedAt sql.NullInt64
	ErrorClass string
	Detail     string
}
