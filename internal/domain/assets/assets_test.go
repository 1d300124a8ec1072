package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/retry"
	"github.com/forPelevin/reelplan/internal/types"
)

type fakeProvider struct {
	name string

	mu    sync.Mutex
	calls int
	errs  []error
	cand  types.AssetCandidate
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(ctx context.Context, apiKey string, kind types.AssetKind, query string) (types.AssetCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return types.AssetCandidate{}, f.errs[i]
	}
	return f.cand, nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDownloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeDownloader) Download(ctx context.Context, url, dst string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte("media:"+url), 0o644)
}

func newProvider() *fakeProvider {
	return &fakeProvider{name: "pexels", cand: types.AssetCandidate{
		ProviderAssetID: "12345",
		DownloadURL:     "https://cdn.example/12345.mp4",
		Ext:             ".mp4",
		CreatorName:     "Jane",
		CreatorURL:      "https://example/jane",
		PageURL:         "https://example/video/12345",
		License:         "Pexels License",
	}}
}

func newResolver(dir string, p *fakeProvider, d *fakeDownloader, key string) *Resolver {
	return NewResolver(ResolverConfig{
		CacheDir:    dir,
		Providers:   []ports.AssetProvider{p},
		Downloader:  d,
		APIKey:      func(string) string { return key },
		Retry:       retry.Policy{MaxRetries: 2, Delay: time.Millisecond},
		Concurrency: 3,
	})
}

func suggestion(id, query string) types.AssetSuggestion {
	return types.AssetSuggestion{ID: id, Provider: "pexels", Kind: types.AssetVideo, Query: query, StartUs: 0, EndUs: 1_000_000}
}

func TestCacheKey_NormalizesQuery(t *testing.T) {
	got := CacheKey(" Pexels ", types.AssetVideo, "  Mountain   LAKE ")
	if got != "pexels|video|mountain lake" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestResolve_SkippedWhenFetchDisabled(t *testing.T) {
	dir := t.TempDir()
	p, d := newProvider(), &fakeDownloader{}
	batch := newResolver(dir, p, d, "key").Resolve(context.Background(), []types.AssetSuggestion{
		suggestion("a", "mountain"), suggestion("b", "ocean"),
	}, false)

	for _, a := range batch.Assets {
		if a.Media.Status != types.MediaSkipped {
			t.Fatalf("expected skipped, got %+v", a.Media)
		}
	}
	if p.Calls() != 0 || d.calls != 0 {
		t.Fatalf("expected no network calls")
	}
	if _, err := os.Stat(filepath.Join(dir, IndexFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no index written, stat err=%v", err)
	}
}

func TestResolve_MissingCredentials(t *testing.T) {
	p := newProvider()
	batch := newResolver(t.TempDir(), p, &fakeDownloader{}, "").Resolve(context.Background(), []types.AssetSuggestion{suggestion("a", "mountain")}, true)
	if got := batch.Assets[0].Media.Status; got != types.MediaMissingCredentials {
		t.Fatalf("expected missing_credentials, got %q", got)
	}
	if p.Calls() != 0 {
		t.Fatalf("expected no search without credentials")
	}
}

func TestResolve_DownloadsThenServesFromCache(t *testing.T) {
	dir := t.TempDir()
	p, d := newProvider(), &fakeDownloader{}
	r := newResolver(dir, p, d, "key")

	first := r.Resolve(context.Background(), []types.AssetSuggestion{suggestion("a", "Mountain Lake")}, true)
	m := first.Assets[0].Media
	if m.Status != types.MediaDownloaded {
		t.Fatalf("expected downloaded, got %+v", m)
	}
	if m.LocalPath != filepath.Join(dir, "pexels", "12345.mp4") {
		t.Fatalf("unexpected local path %q", m.LocalPath)
	}
	if m.Attribution == nil || m.Attribution.CreatorName != "Jane" || m.Attribution.Provider != "pexels" {
		t.Fatalf("unexpected attribution %+v", m.Attribution)
	}

	ix, err := LoadIndex(filepath.Join(dir, IndexFile))
	if err != nil {
		t.Fatalf("load index: %v", err)
	}
	if e, ok := ix.Lookup("pexels|video|mountain lake"); !ok || e.LocalPath != filepath.Join("pexels", "12345.mp4") {
		t.Fatalf("expected index entry, got %+v (ok=%v)", e, ok)
	}

	for i := 0; i < 2; i++ {
		again := r.Resolve(context.Background(), []types.AssetSuggestion{suggestion("b", "mountain   lake")}, true)
		if got := again.Assets[0].Media; got.Status != types.MediaCached || got.LocalPath != m.LocalPath {
			t.Fatalf("expected cached, got %+v", got)
		}
	}
	if p.Calls() != 1 || d.calls != 1 {
		t.Fatalf("expected a single search and download, got %d/%d", p.Calls(), d.calls)
	}
}

func TestResolve_CachedEntryWinsOverDisabledFetch(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "pexels", "99.mp4")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ix := NewCacheIndex()
	ix.Put(CacheKey("pexels", types.AssetVideo, "city"), CacheEntry{LocalPath: filepath.Join("pexels", "99.mp4"), ProviderAssetID: "99", License: "L"})
	if err := ix.Save(context.Background(), filepath.Join(dir, IndexFile)); err != nil {
		t.Fatalf("save: %v", err)
	}

	p := newProvider()
	r := newResolver(dir, p, &fakeDownloader{}, "key")
	for _, fetch := range []bool{true, false} {
		got := r.Resolve(context.Background(), []types.AssetSuggestion{suggestion("a", "City")}, fetch).Assets[0].Media
		if got.Status != types.MediaCached || got.ProviderAssetID != "99" {
			t.Fatalf("fetch=%v: expected cached, got %+v", fetch, got)
		}
	}
	if p.Calls() != 0 {
		t.Fatalf("expected no search for cached asset")
	}
}

func TestResolve_StaleEntryIsRefetched(t *testing.T) {
	dir := t.TempDir()
	ix := NewCacheIndex()
	ix.Put(CacheKey("pexels", types.AssetVideo, "city"), CacheEntry{LocalPath: filepath.Join("pexels", "gone.mp4")})
	if err := ix.Save(context.Background(), filepath.Join(dir, IndexFile)); err != nil {
		t.Fatalf("save: %v", err)
	}
	p := newProvider()
	got := newResolver(dir, p, &fakeDownloader{}, "key").Resolve(context.Background(), []types.AssetSuggestion{suggestion("a", "city")}, true).Assets[0].Media
	if got.Status != types.MediaDownloaded || p.Calls() != 1 {
		t.Fatalf("expected refetch, got %+v calls=%d", got, p.Calls())
	}
}

func TestResolve_FailuresAreTerminalAndRecorded(t *testing.T) {
	boom := errors.New("upstream 503")
	cases := []struct {
		name       string
		provider   *fakeProvider
		downloader *fakeDownloader
		wantStatus string
		wantErr    string
		wantCalls  int
		wantEvents int
	}{
		{
			name:       "search keeps failing",
			provider:   func() *fakeProvider { p := newProvider(); p.errs = []error{boom, boom, boom}; return p }(),
			downloader: &fakeDownloader{},
			wantStatus: types.MediaFetchFailed,
			wantErr:    "upstream 503",
			wantCalls:  3,
			wantEvents: 2,
		},
		{
			name:       "no results is not retried",
			provider:   func() *fakeProvider { p := newProvider(); p.errs = []error{ports.ErrNoResults}; return p }(),
			downloader: &fakeDownloader{},
			wantStatus: types.MediaFetchFailed,
			wantErr:    "no results",
			wantCalls:  1,
			wantEvents: 0,
		},
		{
			name:       "search recovers",
			provider:   func() *fakeProvider { p := newProvider(); p.errs = []error{boom}; return p }(),
			downloader: &fakeDownloader{},
			wantStatus: types.MediaDownloaded,
			wantCalls:  2,
			wantEvents: 1,
		},
		{
			name:       "download keeps failing",
			provider:   newProvider(),
			downloader: &fakeDownloader{err: boom},
			wantStatus: types.MediaFetchFailed,
			wantErr:    "download: upstream 503",
			wantCalls:  1,
			wantEvents: 2,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			batch := newResolver(dir, tc.provider, tc.downloader, "key").Resolve(context.Background(), []types.AssetSuggestion{suggestion("a", "forest")}, true)
			m := batch.Assets[0].Media
			if m.Status != tc.wantStatus {
				t.Fatalf("expected %s, got %+v", tc.wantStatus, m)
			}
			if tc.wantErr != "" && !strings.Contains(m.Error, tc.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tc.wantErr, m.Error)
			}
			if tc.provider.Calls() != tc.wantCalls {
				t.Fatalf("expected %d searches, got %d", tc.wantCalls, tc.provider.Calls())
			}
			if len(batch.RetryEvents) != tc.wantEvents {
				t.Fatalf("expected %d retry events, got %+v", tc.wantEvents, batch.RetryEvents)
			}
			for _, e := range batch.RetryEvents {
				if e.Subject != "a" || e.Provider != "pexels" {
					t.Fatalf("unexpected retry event %+v", e)
				}
			}
		})
	}
}

func TestResolve_UnknownProviderAndOrder(t *testing.T) {
	p := newProvider()
	in := []types.AssetSuggestion{suggestion("a", "one"), {ID: "b", Provider: "nope", Kind: types.AssetImage, Query: "two"}, suggestion("c", "three")}
	batch := newResolver(t.TempDir(), p, &fakeDownloader{}, "key").Resolve(context.Background(), in, true)

	for i, a := range batch.Assets {
		if a.ID != in[i].ID {
			t.Fatalf("expected input order preserved, got %s at %d", a.ID, i)
		}
	}
	if batch.Assets[1].Media.Status != types.MediaFetchFailed {
		t.Fatalf("expected unknown provider to fail, got %+v", batch.Assets[1].Media)
	}
}

func TestSave_MergesWithIndexOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), IndexFile)
	a := NewCacheIndex()
	a.Put("pexels|video|a", CacheEntry{LocalPath: "pexels/a.mp4"})
	if err := a.Save(context.Background(), path); err != nil {
		t.Fatalf("save a: %v", err)
	}
	b := NewCacheIndex()
	b.Put("pixabay|image|b", CacheEntry{LocalPath: "pixabay/b.jpg"})
	if err := b.Save(context.Background(), path); err != nil {
		t.Fatalf("save b: %v", err)
	}
	got, err := LoadIndex(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("expected merged entries, got %+v", got.Entries)
	}
}

func TestSuggest_AvoidsPlacementsAndAlternatesKinds(t *testing.T) {
	tr := types.CanonicalTranscript{Segments: []types.TranscriptSegment{
		{ID: "s1", StartUs: 0, EndUs: 2_000_000, Text: "Welcome to the channel"},
		{ID: "s2", StartUs: 2_000_000, EndUs: 6_000_000, Text: "Remember the secret mountain trail!"},
		{ID: "s3", StartUs: 6_000_000, EndUs: 8_000_000, Text: "It is a very important ocean sunrise"},
		{ID: "s4", StartUs: 8_000_000, EndUs: 9_000_000, Text: "the and but"},
		{ID: "s5", StartUs: 9_000_000, EndUs: 11_000_000, Text: "Step 1: pack camping equipment"},
		{ID: "s6", StartUs: 11_000_000, EndUs: 13_000_000, Text: "Thanks for watching everybody"},
	}}
	placements := []types.TemplatePlacement{{ID: "p", StartUs: 0, EndUs: 1_500_000}}

	got := Suggest(tr, placements, SuggestOptions{})
	if len(got) != 3 {
		t.Fatalf("expected 3 suggestions, got %+v", got)
	}
	wantStarts := []int64{2_000_000, 6_000_000, 9_000_000}
	for i, s := range got {
		if s.StartUs != wantStarts[i] {
			t.Fatalf("suggestion %d: expected start %d, got %d", i, wantStarts[i], s.StartUs)
		}
	}
	if got[0].Kind != types.AssetVideo || got[0].Provider != DefaultVideoProvider || got[1].Kind != types.AssetImage || got[1].Provider != DefaultImageProvider {
		t.Fatalf("expected alternating kinds, got %+v", got)
	}
	if got[0].EndUs != 5_000_000 {
		t.Fatalf("expected window capped at 3s, got %d", got[0].EndUs)
	}
	if got[0].Query != "remember secret mountain" {
		t.Fatalf("unexpected query %q", got[0].Query)
	}
}

func TestKeywords(t *testing.T) {
	cases := map[string]string{
		"":                                    "",
		"the and but":                         "",
		"Pack the camping equipment, 2 tents": "camping equipment tents",
		"Ocean ocean OCEAN waves":             "ocean waves",
	}
	for in, want := range cases {
		if got := Keywords(in, 3); got != want {
			t.Fatalf("Keywords(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScore_PrefersConcreteImagery(t *testing.T) {
	concrete := score("Look at this city skyline, up 5 percent")
	abstract := score("theoretically the epistemology of it")
	if concrete <= abstract {
		t.Fatalf("expected concrete imagery to outrank abstract speech: %.2f <= %.2f", concrete, abstract)
	}
	if score("   ") != 0 {
		t.Fatalf("expected blank text to score 0")
	}
	if s := score(strings.Repeat("look see map photo ", 20)); s != 10 {
		t.Fatalf("expected score capped at 10, got %.2f", s)
	}
}
