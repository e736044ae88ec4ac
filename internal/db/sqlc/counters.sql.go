package sqlc

import (
	"context"
)

const incrementDailyCounter = `-- name: IncrementDailyCounter :exec
INSERT INTO daily_counters (day, kind, count)
VALUES (?, ?, ?)
ON CONFLICT (day, kind) DO UPDATE SET count = count + excluded.count
`

type IncrementDailyCounterParams struct {
	Day   string
	Kind  string
	Count int64
}

func (q *Queries) IncrementDailyCounter(ctx context.Context, arg IncrementDailyCounterParams) error {
	_, err := q.db.ExecContext(ctx, incrementDailyCounter, arg.Day, arg.Kind, arg.Count)
	return err
}

const insertCounterApplication = `-- name: InsertCounterApplication :execrows
INSERT INTO daily_counter_applied (dispatch_id, kind, day)
VALUES (?, ?, ?)
ON CONFLICT (dispatch_id, kind) DO NOTHING
`

type InsertCounterApplicationParams struct {
	DispatchID string
	Kind       string
	Day        string
}

func (q *Queries) InsertCounterApplication(ctx context.Context, arg InsertCounterApplicationParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertCounterApplication, arg.DispatchID, arg.Kind, arg.Day)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listDailyCounters = `-- name: ListDailyCounters :many
SELECT kind, count FROM daily_counters
WHERE day = ?
ORDER BY kind
`

type ListDailyCountersRow struct {
	Kind  string
	Count int64
}

func (q *Queries) ListDailyCounters(ctx context.Context, day string) ([]ListDailyCountersRow, error) {
	rows, err := q.db.QueryContext(ctx, listDailyCounters, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListDailyCountersRow
	for rows.Next() {
		var i ListDailyCountersRow
		if err := rows.Scan(&i.Kind, &i.Count); err != nil {
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
