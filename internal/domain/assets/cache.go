package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
)

const (
	IndexFile      = "index.json"
	indexVersion   = 1
	lockRetryDelay = 50 * time.Millisecond
)

// CacheEntry points at a downloaded asset. LocalPath is relative to the
// cache directory.
type CacheEntry struct {
	LocalPath       string            `json:"localPath"`
	ProviderAssetID string            `json:"providerAssetId"`
	License         string            `json:"license"`
	Attribution     types.Attribution `json:"attribution"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// CacheIndex is the in-memory copy of stock-cache/index.json. It is loaded
// once per batch, passed explicitly and saved once when the batch is done.
type CacheIndex struct {
	Version int                   `json:"version"`
	Entries map[string]CacheEntry `json:"entries"`
}

func NewCacheIndex() CacheIndex {
	return CacheIndex{Version: indexVersion, Entries: map[string]CacheEntry{}}
}

// CacheKey addresses an asset by provider, kind and normalized query.
func CacheKey(provider string, kind types.AssetKind, query string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + "|" + string(kind) + "|" + textnorm.Query(query)
}

// LoadIndex returns an empty index when the file does not exist yet.
func LoadIndex(path string) (CacheIndex, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewCacheIndex(), nil
	}
	if err != nil {
		return NewCacheIndex(), fmt.Errorf("read cache index: %w", err)
	}
	ix := NewCacheIndex()
	if err := json.Unmarshal(b, &ix); err != nil {
		return NewCacheIndex(), fmt.Errorf("decode cache index %s: %w", path, err)
	}
	if ix.Entries == nil {
		ix.Entries = map[string]CacheEntry{}
	}
	return ix, nil
}

func (ix CacheIndex) Lookup(key string) (CacheEntry, bool) {
	e, ok := ix.Entries[key]
	return e, ok
}

func (ix CacheIndex) Put(key string, e CacheEntry) {
	ix.Entries[key] = e
}

// Save merges ix over the index currently on disk and replaces the file
// atomically while holding an advisory lock next to it.
func (ix CacheIndex) Save(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock cache index: %w", err)
	}
	if !ok {
		return errors.New("lock cache index: not acquired")
	}
	defer func() { _ = lock.Unlock() }()

	merged, err := LoadIndex(path)
	if err != nil {
		merged = NewCacheIndex()
	}
	for k, e := range ix.Entries {
		merged.Entries[k] = e
	}
	merged.Version = indexVersion

	b, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*.json")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace cache index: %w", err)
	}
	return nil
}
