package sqlc

import (
	"context"
	"database/sql"
)

const finishOutreachRecord = `-- name: FinishOutreachRecord :execrows
UPDATE outreach_records
SET outcome = ?, finished_at = ?, error_class = ?, detail = ?
WHERE dispatch_id = ? AND finished_at IS NULL
`

type FinishOutreachRecordParams struct {
	Outcome    string
	FinishedAt sql.NullInt64
	ErrorClass string
	Detail     string
	DispatchID string
}

func (q *Queries) FinishOutreachRecord(ctx context.Context, arg FinishOutreachRecordParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, finishOutreachRecord,
		arg.Outcome,
		arg.FinishedAt,
		arg.ErrorClass,
		arg.Detail,
		arg.DispatchID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getLastFinishedAt = `-- name: GetLastFinishedAt :one
SELECT CAST(COALESCE(MAX(finished_at), 0) AS INTEGER) AS last_finished_at
FROM outreach_records
WHERE account_id = ?
`

func (q *Queries) GetLastFinishedAt(ctx context.Context, accountID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getLastFinishedAt, accountID)
	var last_finished_at int64
	err := row.Scan(&last_finished_at)
	return last_finished_at, err
}

const getOutreachRecord = `-- name: GetOutreachRecord :one
SELECT dispatch_id, account_id, target_key, kind, outcome, started_at, finished_at, error_class, detail FROM outreach_records
WHERE dispatch_id = ?
`

func (q *Queries) GetOutreachRecord(ctx context.Context, dispatchID string) (OutreachRecord, error) {
	row := q.db.QueryRowContext(ctx, getOutreachRecord, dispatchID)
	var i OutreachRecord
	err := row.Scan(
		&i.DispatchID,
		&i.AccountID,
		&i.TargetKey,
		&i.Kind,
		&i.Outcome,
		&i.StartedAt,
		&i.FinishedAt,
		&i.ErrorClass,
		&i.Detail,
	)
	return i, err
}

const insertOutreachRecord = `-- name: InsertOutreachRecord :execrows
INSERT INTO outreach_records (
    dispatch_id, account_id, target_key, kind, outcome, started_at,
    finished_at, error_class, detail
) VALUES (
    ?, ?, ?, ?, ?, ?, ?, ?, ?
)
ON CONFLICT (dispatch_id) DO NOTHING
`

type InsertOutreachRecordParams struct {
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

func (q *Queries) InsertOutreachRecord(ctx context.Context, arg InsertOutreachRecordParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertOutreachRecord,
		arg.DispatchID,
		arg.AccountID,
		arg.TargetKey,
		arg.Kind,
		arg.Outcome,
		arg.StartedAt,
		arg.FinishedAt,
		arg.ErrorClass,
		arg.Detail,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listOutreachRecords = `-- name: ListOutreachRecords :many
SELECT dispatch_id, account_id, target_key, kind, outcome, started_at, finished_at, error_class, detail FROM outreach_records
WHERE started_at >= ? AND started_at < ?
ORDER BY started_at, dispatch_id
`

type ListOutreachRecordsParams struct {
	StartedAt   int64
	StartedAt_2 int64
}

func (q *Queries) ListOutreachRecords(ctx context.Context, arg ListOutreachRecordsParams) ([]OutreachRecord, error) {
	rows, err := q.db.QueryContext(ctx, listOutreachRecords, arg.StartedAt, arg.StartedAt_2)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OutreachRecord
	for rows.Next() {
		var i OutreachRecord
		if err := rows.Scan(
			&i.DispatchID,
			&i.AccountID,
			&i.TargetKey,
			&i.Kind,
			&i.Outcome,
			&i.StartedAt,
			&i.FinishedAt,
			&i.ErrorClass,
			&i.Detail,
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

const listTerminalTargetKeys = `-- name: ListTerminalTargetKeys :many
SELECT DISTINCT target_key FROM outreach_records
WHERE outcome IN ('sent', 'permanent_fail')
`

func (q *Queries) ListTerminalTargetKeys(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listTerminalTargetKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var target_key string
		if err := rows.Scan(&target_key); err != nil {
			return nil, err
		}
		items = append(items, target_key)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listUnfinishedOutreachRecords = `-- name: ListUnfinishedOutreachRecords :many
SELECT dispatch_id, account_id, target_key, kind, outcome, started_at, finished_at, error_class, detail FROM outreach_records
WHERE finished_at IS NULL
ORDER BY started_at, dispatch_id
`

func (q *Queries) ListUnfinishedOutreachRecords(ctx context.Context) ([]OutreachRecord, error) {
	rows, err := q.db.QueryContext(ctx, listUnfinishedOutreachRecords)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OutreachRecord
	for rows.Next() {
		var i OutreachRecord
		if err := rows.Scan(
			&i.DispatchID,
			&i.AccountID,
			&i.TargetKey,
			&i.Kind,
			&i.Outcome,
			&i.StartedAt,
			&i.FinishedAt,
			&i.ErrorClass,
			&i.Detail,
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
