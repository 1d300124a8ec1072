// Package assets proposes stock b-roll for a transcript and resolves each
// proposal to a local file through a persistent, content-addressed cache.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/reelplan/internal/logger"
	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/retry"
	"github.com/forPelevin/reelplan/internal/textnorm"
	"github.com/forPelevin/reelplan/internal/types"
)

// Retry step names recorded in RetryEvents.
const (
	StepSearch   = "asset-search"
	StepDownload = "asset-download"
)

type ResolverConfig struct {
	// CacheDir holds index.json and one subdirectory per provider.
	CacheDir   string
	Providers  []ports.AssetProvider
	Downloader ports.Downloader
	// APIKey returns the credential for a provider, or "" when absent.
	APIKey          func(provider string) string
	Retry           retry.Policy
	SearchTimeout   time.Duration
	DownloadTimeout time.Duration
	Concurrency     int
	Log             logrus.FieldLogger
}

type Resolver struct {
	cacheDir        string
	providers       map[string]ports.AssetProvider
	downloader      ports.Downloader
	apiKey          func(string) string
	policy          retry.Policy
	searchTimeout   time.Duration
	downloadTimeout time.Duration
	concurrency     int
	log             logrus.FieldLogger
	now             func() time.Time
}

func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		cacheDir:        cfg.CacheDir,
		providers:       make(map[string]ports.AssetProvider, len(cfg.Providers)),
		downloader:      cfg.Downloader,
		apiKey:          cfg.APIKey,
		policy:          cfg.Retry,
		searchTimeout:   cfg.SearchTimeout,
		downloadTimeout: cfg.DownloadTimeout,
		concurrency:     cfg.Concurrency,
		log:             cfg.Log,
		now:             time.Now,
	}
	for _, p := range cfg.Providers {
		r.providers[p.Name()] = p
	}
	if r.apiKey == nil {
		r.apiKey = func(string) string { return "" }
	}
	if r.searchTimeout <= 0 {
		r.searchTimeout = 20 * time.Second
	}
	if r.downloadTimeout <= 0 {
		r.downloadTimeout = 45 * time.Second
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	if r.log == nil {
		r.log = logger.Discard()
	}
	return r
}

type Batch struct {
	Assets      []types.AssetSuggestion
	RetryEvents []types.RetryEvent
}

type outcome struct {
	media  types.AssetMedia
	key    string
	entry  *CacheEntry
	events []types.RetryEvent
}

// Resolve gives every suggestion a terminal media status. It never fails:
// per-asset errors end up in media.error with status fetch_failed. The
// cache index is read before any work starts and written once afterwards.
func (r *Resolver) Resolve(ctx context.Context, suggestions []types.AssetSuggestion, fetchExternal bool) Batch {
	indexPath := filepath.Join(r.cacheDir, IndexFile)
	index, err := LoadIndex(indexPath)
	if err != nil {
		r.log.WithError(err).Warn("cache index unreadable, starting empty")
	}

	results := make([]outcome, len(suggestions))
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for i, s := range suggestions {
		wg.Add(1)
		go func(i int, s types.AssetSuggestion) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.resolveOne(ctx, index, s, fetchExternal)
		}(i, s)
	}
	wg.Wait()

	out := Batch{Assets: make([]types.AssetSuggestion, len(suggestions)), RetryEvents: []types.RetryEvent{}}
	dirty := false
	for i, s := range suggestions {
		res := results[i]
		s.Media = res.media
		out.Assets[i] = s
		out.RetryEvents = append(out.RetryEvents, res.events...)
		if res.entry != nil {
			index.Put(res.key, *res.entry)
			dirty = true
		}
	}
	if dirty {
		if err := index.Save(ctx, indexPath); err != nil {
			r.log.WithError(err).Warn("cache index not saved")
		}
	}
	return out
}

func (r *Resolver) resolveOne(ctx context.Context, index CacheIndex, s types.AssetSuggestion, fetchExternal bool) (res outcome) {
	res.key = CacheKey(s.Provider, s.Kind, s.Query)
	log := r.log.WithFields(logrus.Fields{"asset": s.ID, "provider": s.Provider, "kind": s.Kind})
	defer func() {
		if p := recover(); p != nil {
			res.media = types.AssetMedia{Status: types.MediaFetchFailed, Error: fmt.Sprintf("panic: %v", p)}
			res.entry = nil
		}
	}()

	if e, ok := index.Lookup(res.key); ok {
		local := filepath.Join(r.cacheDir, e.LocalPath)
		if fileExists(local) {
			attr := e.Attribution
			res.media = types.AssetMedia{
				Status:          types.MediaCached,
				LocalPath:       local,
				Attribution:     &attr,
				License:         e.License,
				ProviderAssetID: e.ProviderAssetID,
			}
			return res
		}
	}

	if !fetchExternal {
		res.media = types.AssetMedia{Status: types.MediaSkipped}
		return res
	}

	provider, ok := r.providers[s.Provider]
	if !ok {
		res.media = types.AssetMedia{Status: types.MediaFetchFailed, Error: fmt.Sprintf("unknown provider %q", s.Provider)}
		return res
	}
	key := strings.TrimSpace(r.apiKey(s.Provider))
	if key == "" {
		res.media = types.AssetMedia{Status: types.MediaMissingCredentials, Error: "no API key configured for " + s.Provider}
		return res
	}

	var cand types.AssetCandidate
	events, err := r.policy.Do(ctx, retry.Label{Step: StepSearch, Subject: s.ID, Provider: s.Provider}, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.searchTimeout)
		defer cancel()
		c, err := provider.Search(callCtx, key, s.Kind, s.Query)
		if errors.Is(err, ports.ErrNoResults) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		cand = c
		return nil
	})
	res.events = append(res.events, events...)
	if err != nil {
		log.WithError(err).Warn("asset search failed")
		res.media = types.AssetMedia{Status: types.MediaFetchFailed, Error: "search: " + err.Error()}
		return res
	}

	rel := filepath.Join(textnorm.Slug(s.Provider), assetFileName(cand))
	dst := filepath.Join(r.cacheDir, rel)
	events, err = r.policy.Do(ctx, retry.Label{Step: StepDownload, Subject: s.ID, Provider: s.Provider}, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.downloadTimeout)
		defer cancel()
		return r.downloader.Download(callCtx, cand.DownloadURL, dst)
	})
	res.events = append(res.events, events...)
	if err != nil {
		log.WithError(err).Warn("asset download failed")
		res.media = types.AssetMedia{Status: types.MediaFetchFailed, ProviderAssetID: cand.ProviderAssetID, Error: "download: " + err.Error()}
		return res
	}

	attr := types.Attribution{
		Provider:    s.Provider,
		CreatorName: cand.CreatorName,
		CreatorURL:  cand.CreatorURL,
		PageURL:     cand.PageURL,
		License:     cand.License,
	}
	res.media = types.AssetMedia{
		Status:          types.MediaDownloaded,
		LocalPath:       dst,
		Attribution:     &attr,
		License:         cand.License,
		ProviderAssetID: cand.ProviderAssetID,
	}
	res.entry = &CacheEntry{
		LocalPath:       rel,
		ProviderAssetID: cand.ProviderAssetID,
		License:         cand.License,
		Attribution:     attr,
		UpdatedAt:       r.now().UTC(),
	}
	log.WithField("path", dst).Debug("asset downloaded")
	return res
}

func assetFileName(c types.AssetCandidate) string {
	name := textnorm.Slug(c.ProviderAssetID)
	if name == "" {
		name = shortHash(c.DownloadURL)
	}
	if ext := textnorm.Slug(strings.TrimPrefix(c.Ext, ".")); ext != "" {
		return name + "." + ext
	}
	return name
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
