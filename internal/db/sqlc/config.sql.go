package sqlc

import (
	"context"
)

const deleteConfig = `-- name: DeleteConfig :exec
DELETE FROM config
WHERE key = ?
`

func (q *Queries) DeleteConfig(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, deleteConfig, key)
	return err
}

const getConfig = `-- name: GetConfig :one
SELECT value FROM config
WHERE key = ?
`

func (q *Queries) GetConfig(ctx context.Context, key string) (string, error) {
	row := q.db.QueryRowContext(ctx, getConfig, key)
	var value string
	err := row.Scan(&value)
	return value, err
}

const setConfig = `-- name: SetConfig :exec
INSERT INTO config (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
    value = excluded.value,
    updated_at = excluded.updated_at
`

type SetConfigParams struct {
	Key       string
	Value     string
	UpdatedAt int64
}

func (q *Queries) SetConfig(ctx context.Context, arg SetConfigParams) error {
	_, err := q.db.ExecContext(ctx, setConfig, arg.Key, arg.Value, arg.UpdatedAt)
	return err
}
