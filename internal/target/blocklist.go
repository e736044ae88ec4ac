package target

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// BlocklistKey is the repository key holding the JSON array of handles.
const BlocklistKey = "blocked_users"

// ConfigStore is the slice of the repository the blocklist persists to.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (fn.Option[string], error)
	SetConfig(ctx context.Context, key, value string) error
}

// NormalizeHandle strips leading "@" characters and lowercases.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(handle), "@"))
}

// Blocklist is a set of recipient handles that must never be contacted.
// Reads are served from memory; Load refreshes from the repository so
// edits made by another process are picked up.
type Blocklist struct {
	store ConfigStore

	mu      sync.RWMutex
	handles []string
	set     map[string]struct{}
}

// NewBlocklist creates an empty blocklist backed by store.
func NewBlocklist(store ConfigStore) *Blocklist {
	return &Blocklist{
		store: store,
		set:   make(map[string]struct{}),
	}
}

// Load replaces the in-memory set with the persisted one. A malformed
// value is treated as empty.
func (b *Blocklist) Load(ctx context.Context) error {
	handles, err := b.read(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.replaceLocked(handles)

	return nil
}

func (b *Blocklist) read(ctx context.Context) ([]string, error) {
	raw, err := b.store.GetConfig(ctx, BlocklistKey)
	if err != nil {
		return nil, err
	}
	if raw.IsNone() {
		return nil, nil
	}

	var handles []string
	if err := json.Unmarshal([]byte(raw.UnwrapOr("")), &handles); err != nil {
		log.WarnS(ctx, "Ignoring malformed blocklist", err)
		return nil, nil
	}

	return handles, nil
}

func (b *Blocklist) replaceLocked(handles []string) {
	b.handles = b.handles[:0]
	b.set = make(map[string]struct{}, len(handles))
	for _, h := range handles {
		h = NormalizeHandle(h)
		if _, dup := b.set[h]; dup || h == "" {
			continue
		}
		b.set[h] = struct{}{}
		b.handles = append(b.handles, h)
	}
}

// Add blocks handle. It reports false if the handle was already blocked.
func (b *Blocklist) Add(ctx context.Context, handle string) (bool, error) {
	return b.update(ctx, handle, true)
}

// Remove unblocks handle. It reports false if the handle was not blocked.
func (b *Blocklist) Remove(ctx context.Context, handle string) (bool, error) {
	return b.update(ctx, handle, false)
}

// update re-reads the persisted list, applies one change and writes it
// back.
func (b *Blocklist) update(ctx context.Context, handle string,
	add bool) (bool, error) {

	h := NormalizeHandle(handle)
	if h == "" {
		return false, nil
	}

	current, err := b.read(ctx)
	if err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.replaceLocked(current)

	_, present := b.set[h]
	switch {
	case add && present, !add && !present:
		return false, nil

	case add:
		b.handles = append(b.handles, h)

	default:
		b.handles = slices.DeleteFunc(b.handles, func(s string) bool {
			return s == h
		})
	}

	data, err := json.Marshal(b.handles)
	if err != nil {
		return false, err
	}
	if err := b.store.SetConfig(ctx, BlocklistKey, string(data)); err != nil {
		return false, err
	}

	b.replaceLocked(slices.Clone(b.handles))

	log.InfoS(ctx, "Blocklist updated", "handle", h, "blocked", add)

	return true, nil
}

// Contains reports whether handle is blocked.
func (b *Blocklist) Contains(handle string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.set[NormalizeHandle(handle)]

	return ok
}

// List returns the blocked handles in insertion order.
func (b *Blocklist) List() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return slices.Clone(b.handles)
}
