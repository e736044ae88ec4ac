package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// RepoPrefix selects the repository-backed halt store in a sentinel
// location, e.g. "repo:halt_sentinel".
const RepoPrefix = "repo:"

// DefaultRepoKey is the repository key used when the location is just
// "repo:".
const DefaultRepoKey = "halt_sentinel"

// resumeSuffix names the resume token next to the sentinel.
const resumeSuffix = ".resumed"

// Sentinel is the durable halt record. Its presence alone forbids
// dispatch: unknown fields in the payload are ignored, so nothing written
// into the file can turn it into a non-halting sentinel. The only way out
// is removing it.
type Sentinel struct {
	Reason    string    `json:"reason"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// resumeToken is the payload of the resume token.
type resumeToken struct {
	ResumedAt time.Time `json:"resumed_at"`
	Cycles    int       `json:"cycles"`
}

// HaltStore persists the halt sentinel and the resume token in one
// canonical location.
type HaltStore interface {
	// Load returns the sentinel, if one is present.
	Load(ctx context.Context) (fn.Option[Sentinel], error)

	// Save writes the sentinel atomically.
	Save(ctx context.Context, s Sentinel) error

	// Clear deletes the sentinel. Clearing an absent sentinel succeeds.
	Clear(ctx context.Context) error

	// ResumeCycles returns the number of reduced-volume cycles left.
	ResumeCycles(ctx context.Context) (int, error)

	// SetResumeCycles stores the remaining reduced-volume cycles. Zero
	// removes the token.
	SetResumeCycles(ctx context.Context, n int, at time.Time) error

	// Location describes where the sentinel lives.
	Location() string
}

// ConfigStore is the slice of the repository the repo-backed halt store
// needs.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (fn.Option[string], error)
	SetConfig(ctx context.Context, key, value string) error
	DeleteConfig(ctx context.Context, key string) error
}

// OpenHaltStore selects the halt store for location: "repo:<key>" uses the
// repository, anything else is treated as a file path. A leading "~/" is
// expanded to the home directory.
func OpenHaltStore(location string, repo ConfigStore) (HaltStore, error) {
	if key, ok := strings.CutPrefix(location, RepoPrefix); ok {
		if repo == nil {
			return nil, fmt.Errorf("halt location %q needs a "+
				"repository", location)
		}
		if key == "" {
			key = DefaultRepoKey
		}

		return NewRepoHaltStore(repo, key), nil
	}

	if location == "" {
		return nil, errors.New("empty halt sentinel location")
	}

	path, err := ExpandHome(location)
	if err != nil {
		return nil, err
	}

	return NewFileHaltStore(path), nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}

	return filepath.Join(home, rest), nil
}

// FileHaltStore keeps the sentinel as a JSON file. Writes go to a temp file
// in the same directory which is synced and renamed into place.
type FileHaltStore struct {
	path string
}

// NewFileHaltStore returns a store for the sentinel at path. The resume
// token lives at path + ".resumed".
func NewFileHaltStore(path string) *FileHaltStore {
	return &FileHaltStore{path: path}
}

// Path returns the sentinel path.
func (f *FileHaltStore) Path() string {
	return f.path
}

// ResumePath returns the resume token path.
func (f *FileHaltStore) ResumePath() string {
	return f.path + resumeSuffix
}

// Location implements HaltStore.
func (f *FileHaltStore) Location() string {
	return f.path
}

// Load implements HaltStore. An unreadable or corrupt sentinel still
// counts as a halt.
func (f *FileHaltStore) Load(ctx context.Context) (fn.Option[Sentinel], error) {
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fn.None[Sentinel](), nil

	case err != nil:
		return fn.None[Sentinel](), fmt.Errorf("read sentinel: %w", err)
	}

	var s Sentinel
	if err := json.Unmarshal(data, &s); err != nil {
		log.WarnS(ctx, "Corrupt halt sentinel treated as halted", err,
			"path", f.path)

		return fn.Some(Sentinel{Reason: "unknown", Source: "unknown"}),
			nil
	}

	return fn.Some(s), nil
}

// Save implements HaltStore.
func (f *FileHaltStore) Save(_ context.Context, s Sentinel) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return writeFileAtomic(f.path, data)
}

// Clear implements HaltStore.
func (f *FileHaltStore) Clear(context.Context) error {
	return removeIfExists(f.path)
}

// ResumeCycles implements HaltStore. A token without a cycle count is
// worth one cycle.
func (f *FileHaltStore) ResumeCycles(context.Context) (int, error) {
	data, err := os.ReadFile(f.ResumePath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		return 0, nil

	case err != nil:
		return 0, fmt.Errorf("read resume token: %w", err)
	}

	return parseResumeToken(data), nil
}

// SetResumeCycles implements HaltStore.
func (f *FileHaltStore) SetResumeCycles(_ context.Context, n int,
	at time.Time) error {

	if n <= 0 {
		return removeIfExists(f.ResumePath())
	}

	data, err := json.Marshal(resumeToken{ResumedAt: at.UTC(), Cycles: n})
	if err != nil {
		return err
	}

	return writeFileAtomic(f.ResumePath(), data)
}

// RepoHaltStore keeps the sentinel in the repository's config table.
type RepoHaltStore struct {
	repo ConfigStore
	key  string
}

// NewRepoHaltStore stores the sentinel under key and the resume token under
// key + ".resumed".
func NewRepoHaltStore(repo ConfigStore, key string) *RepoHaltStore {
	return &RepoHaltStore{repo: repo, key: key}
}

// Location implements HaltStore.
func (r *RepoHaltStore) Location() string {
	return RepoPrefix + r.key
}

// Load implements HaltStore.
func (r *RepoHaltStore) Load(ctx context.Context) (fn.Option[Sentinel], error) {
	raw, err := r.repo.GetConfig(ctx, r.key)
	if err != nil {
		return fn.None[Sentinel](), err
	}
	if raw.IsNone() {
		return fn.None[Sentinel](), nil
	}

	var s Sentinel
	if err := json.Unmarshal([]byte(raw.UnwrapOr("")), &s); err != nil {
		log.WarnS(ctx, "Corrupt halt sentinel treated as halted", err,
			"key", r.key)

		return fn.Some(Sentinel{Reason: "unknown", Source: "unknown"}),
			nil
	}

	return fn.Some(s), nil
}

// Save implements HaltStore.
func (r *RepoHaltStore) Save(ctx context.Context, s Sentinel) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	return r.repo.SetConfig(ctx, r.key, string(data))
}

// Clear implements HaltStore.
func (r *RepoHaltStore) Clear(ctx context.Context) error {
	return r.repo.DeleteConfig(ctx, r.key)
}

// ResumeCycles implements HaltStore.
func (r *RepoHaltStore) ResumeCycles(ctx context.Context) (int, error) {
	raw, err := r.repo.GetConfig(ctx, r.key+resumeSuffix)
	if err != nil {
		return 0, err
	}
	if raw.IsNone() {
		return 0, nil
	}

	return parseResumeToken([]byte(raw.UnwrapOr(""))), nil
}

// SetResumeCycles implements HaltStore.
func (r *RepoHaltStore) SetResumeCycles(ctx context.Context, n int,
	at time.Time) error {

	if n <= 0 {
		return r.repo.DeleteConfig(ctx, r.key+resumeSuffix)
	}

	data, err := json.Marshal(resumeToken{ResumedAt: at.UTC(), Cycles: n})
	if err != nil {
		return err
	}

	return r.repo.SetConfig(ctx, r.key+resumeSuffix, string(data))
}

func parseResumeToken(data []byte) int {
	var tok resumeToken
	if err := json.Unmarshal(data, &tok); err == nil {
		if tok.Cycles > 0 {
			return tok.Cycles
		}

		return 1
	}

	if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil &&
		n > 0 {

		return n
	}

	return 1
}

// writeFileAtomic replaces path with data via a synced temp file and a
// rename, creating the parent directory if needed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	return nil
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}
