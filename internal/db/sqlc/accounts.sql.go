package sqlc

import (
	"context"
	"database/sql"
)

const listAccounts = `-- name: ListAccounts :many
SELECT id, platform, role, handle, status, maturity, counter_day, counters_json, warnings_json, last_used_at, last_warning_at, banned_at, resting_until, updated_at FROM accounts
ORDER BY platform, id
`

func (q *Queries) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := q.db.QueryContext(ctx, listAccounts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Account
	for rows.Next() {
		var i Account
		if err := rows.Scan(
			&i.ID,
			&i.Platform,
			&i.Role,
			&i.Handle,
			&i.Status,
			&i.Maturity,
			&i.CounterDay,
			&i.CountersJson,
			&i.WarningsJson,
			&i.LastUsedAt,
			&i.LastWarningAt,
			&i.BannedAt,
			&i.RestingUntil,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listAccountsByPlatform = `-- name: ListAccountsByPlatform :many
SELECT id, platform, role, handle, status, maturity, counter_day, counters_json, warnings_json, last_used_at, last_warning_at, banned_at, resting_until, updated_at FROM accounts
WHERE platform = ?
ORDER BY id
`

func (q *Queries) ListAccountsByPlatform(ctx context.Context, platform string) ([]Account, error) {
	rows, err := q.db.QueryContext(ctx, listAccountsByPlatform, platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Account
	for rows.Next() {
		var i Account
		if err := rows.Scan(
			&i.ID,
			&i.Platform,
			&i.Role,
			&i.Handle,
			&i.Status,
			&i.Maturity,
			&i.CounterDay,
			&i.CountersJson,
			&i.WarningsJson,
			&i.LastUsedAt,
			&i.LastWarningAt,
			&i.BannedAt,
			&i.RestingUntil,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertAccount = `-- name: UpsertAccount :exec
INSERT INTO accounts (
    id, platform, role, handle, status, maturity, counter_day,
    counters_json, warnings_json, last_used_at, last_warning_at, banned_at,
    resting_until, updated_at
) VALUES (
    ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
)
ON CONFLICT (id) DO UPDATE SET
    platform = excluded.platform,
    role = excluded.role,
    handle = excluded.handle,
    status = excluded.status,
    maturity = excluded.maturity,
    counter_day = excluded.counter_day,
    counters_json = excluded.counters_json,
    warnings_json = excluded.warnings_json,
    last_used_at = excluded.last_used_at,
    last_warning_at = excluded.last_warning_at,
    banned_at = excluded.banned_at,
    resting_until = excluded.resting_until,
    updated_at = excluded.updated_at
`

type UpsertAccountParams struct {
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

func (q *Queries) UpsertAccount(ctx context.Context, arg UpsertAccountParams) error {
	_, err := q.db.ExecContext(ctx, upsertAccount,
		arg.ID,
		arg.Platform,
		arg.Role,
		arg.Handle,
		arg.Status,
		arg.Maturity,
		arg.CounterDay,
		arg.CountersJson,
		arg.WarningsJson,
		arg.LastUsedAt,
		arg.LastWarningAt,
		arg.BannedAt,
		arg.RestingUntil,
		arg.UpdatedAt,
	)
	return err
}
