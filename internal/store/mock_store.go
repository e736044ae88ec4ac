package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/domain"
)

// MockStore provides an in-memory implementation of Repository for testing
// purposes. All data is stored in maps and protected by a mutex.
type MockStore struct {
	mu sync.RWMutex

	accounts map[string]account.Account
	records  map[string]domain.OutreachRecord
	counters map[string]map[domain.ActionKind]int
	applied  map[string]struct{}
	config   map[string]string

	// writeErr, when set, fails every write.
	writeErr error
}

// NewMockStore creates a new in-memory mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts: make(map[string]account.Account),
		records:  make(map[string]domain.OutreachRecord),
		counters: make(map[string]map[domain.ActionKind]int),
		applied:  make(map[string]struct{}),
		config:   make(map[string]string),
	}
}

// SetWriteErr makes subsequent writes fail with err. Pass nil to recover.
func (m *MockStore) SetWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeErr = err
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// WithTx executes the function within a "transaction" (just runs the
// function for the mock).
func (m *MockStore) WithTx(ctx context.Context,
	fn func(ctx context.Context, r Repository) error) error {

	return fn(ctx, m)
}

func (m *MockStore) UpsertAccount(_ context.Context, a account.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	if a.ID == "" {
		return ErrInvalidAccount
	}

	m.accounts[a.ID] = a.Clone()

	return nil
}

func (m *MockStore) LoadAccounts(_ context.Context,
	platform string) ([]account.Account, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]account.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		if platform != "" && a.Platform != platform {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (m *MockStore) AppendOutreach(_ context.Context,
	rec domain.OutreachRecord) (bool, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return false, m.writeErr
	}
	if err := validateRecord(rec); err != nil {
		return false, err
	}
	if _, ok := m.records[rec.DispatchID]; ok {
		return false, nil
	}

	m.records[rec.DispatchID] = cloneRecord(rec)

	return true, nil
}

func (m *MockStore) FinishOutreach(_ context.Context, dispatchID string,
	outcome domain.Outcome, finishedAt time.Time, class domain.ErrorClass,
	detail string) (bool, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return false, m.writeErr
	}

	rec, ok := m.records[dispatchID]
	if !ok || rec.Finished() {
		return false, nil
	}

	ts := time.UnixMicro(finishedAt.UnixMicro()).UTC()
	rec.Outcome = outcome
	rec.FinishedAt = &ts
	rec.ErrorClass = class
	rec.Detail = detail
	m.records[dispatchID] = rec

	return true, nil
}

func (m *MockStore) GetOutreach(_ context.Context,
	dispatchID string) (fn.Option[domain.OutreachRecord], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[dispatchID]
	if !ok {
		return fn.None[domain.OutreachRecord](), nil
	}

	return fn.Some(cloneRecord(rec)), nil
}

func (m *MockStore) ListOutreach(_ context.Context,
	from, to time.Time) ([]domain.OutreachRecord, error) {

	return m.filterRecords(func(r domain.OutreachRecord) bool {
		return !r.StartedAt.Before(from) && r.StartedAt.Before(to)
	}), nil
}

func (m *MockStore) ListUnfinished(
	_ context.Context) ([]domain.OutreachRecord, error) {

	return m.filterRecords(func(r domain.OutreachRecord) bool {
		return !r.Finished()
	}), nil
}

func (m *MockStore) LastFinishedAt(_ context.Context,
	accountID string) (fn.Option[time.Time], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *time.Time
	for _, r := range m.records {
		if r.AccountID != accountID || r.FinishedAt == nil {
			continue
		}
		if last == nil || r.FinishedAt.After(*last) {
			last = r.FinishedAt
		}
	}
	if last == nil {
		return fn.None[time.Time](), nil
	}

	return fn.Some(*last), nil
}

func (m *MockStore) TerminalTargetKeys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, r := range m.records {
		switch r.Outcome {
		case domain.OutcomeSent, domain.OutcomePermanentFail:
			seen[r.TargetKey] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys, nil
}

func (m *MockStore) IncrementDailyCounter(_ context.Context,
	dispatchID string, kind domain.ActionKind, day string,
	delta int) (bool, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return false, m.writeErr
	}

	key := dispatchID + "|" + string(kind)
	if _, ok := m.applied[key]; ok {
		return false, nil
	}
	m.applied[key] = struct{}{}

	if m.counters[day] == nil {
		m.counters[day] = make(map[domain.ActionKind]int)
	}
	m.counters[day][kind] += delta

	return true, nil
}

func (m *MockStore) DailyCounters(_ context.Context,
	day string) (map[domain.ActionKind]int, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[domain.ActionKind]int, len(m.counters[day]))
	for k, v := range m.counters[day] {
		out[k] = v
	}

	return out, nil
}

func (m *MockStore) GetConfig(_ context.Context,
	key string) (fn.Option[string], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.config[key]
	if !ok {
		return fn.None[string](), nil
	}

	return fn.Some(v), nil
}

func (m *MockStore) SetConfig(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	m.config[key] = value

	return nil
}

func (m *MockStore) DeleteConfig(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	delete(m.config, key)

	return nil
}

func (m *MockStore) filterRecords(
	keep func(domain.OutreachRecord) bool) []domain.OutreachRecord {

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.OutreachRecord
	for _, r := range m.records {
		if keep(r) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].DispatchID < out[j].DispatchID
	})

	return out
}

// cloneRecord copies rec, truncating timestamps to the microsecond
// precision of the sqlite store.
func cloneRecord(rec domain.OutreachRecord) domain.OutreachRecord {
	c := rec
	c.StartedAt = time.UnixMicro(rec.StartedAt.UnixMicro()).UTC()
	if rec.FinishedAt != nil {
		ts := time.UnixMicro(rec.FinishedAt.UnixMicro()).UTC()
		c.FinishedAt = &ts
	}

	return c
}

var _ Repository = (*MockStore)(nil)
