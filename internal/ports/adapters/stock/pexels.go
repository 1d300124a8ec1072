package stock

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/retry"
	"github.com/forPelevin/reelplan/internal/types"
)

const (
	PexelsName           = "pexels"
	DefaultPexelsBaseURL = "https://api.pexels.com"
	pexelsLicense        = "Pexels License"
	perPage              = 5
)

type Pexels struct {
	baseURL string
	client  *http.Client
}

func NewPexels(baseURL string, client *http.Client) *Pexels {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultPexelsBaseURL
	}
	if client == nil {
		client = defaultClient()
	}
	return &Pexels{baseURL: baseURL, client: client}
}

func (p *Pexels) Name() string { return PexelsName }

// Search uses /videos/search for video and /v1/search for images; the key
// goes in the Authorization header.
func (p *Pexels) Search(ctx context.Context, apiKey string, kind types.AssetKind, query string) (types.AssetCandidate, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("orientation", "portrait")
	header := http.Header{}
	header.Set("Authorization", apiKey)

	switch kind {
	case types.AssetVideo:
		doc, err := getJSON(ctx, p.client, p.baseURL+"/videos/search?"+q.Encode(), header, apiKey)
		if err != nil {
			return types.AssetCandidate{}, fmt.Errorf("pexels video search: %w", err)
		}
		return pexelsVideo(doc)
	case types.AssetImage:
		doc, err := getJSON(ctx, p.client, p.baseURL+"/v1/search?"+q.Encode(), header, apiKey)
		if err != nil {
			return types.AssetCandidate{}, fmt.Errorf("pexels photo search: %w", err)
		}
		return pexelsPhoto(doc)
	default:
		return types.AssetCandidate{}, retry.Permanent(fmt.Errorf("pexels: unsupported kind %q", kind))
	}
}

func pexelsVideo(doc gjson.Result) (types.AssetCandidate, error) {
	for _, v := range doc.Get("videos").Array() {
		link := bestPexelsFile(v.Get("video_files"))
		if link == "" {
			continue
		}
		return types.AssetCandidate{
			ProviderAssetID: v.Get("id").String(),
			DownloadURL:     link,
			Ext:             extFromURL(link, ".mp4"),
			CreatorName:     v.Get("user.name").String(),
			CreatorURL:      v.Get("user.url").String(),
			PageURL:         v.Get("url").String(),
			License:         pexelsLicense,
		}, nil
	}
	return types.AssetCandidate{}, fmt.Errorf("pexels video search: %w", ports.ErrNoResults)
}

// bestPexelsFile prefers an mp4 rendition closest to 1080 px wide.
func bestPexelsFile(files gjson.Result) string {
	var (
		best     string
		bestDist int64 = -1
	)
	files.ForEach(func(_, f gjson.Result) bool {
		link := f.Get("link").String()
		if link == "" || !strings.Contains(f.Get("file_type").String(), "mp4") {
			return true
		}
		dist := f.Get("width").Int() - 1080
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = link, dist
		}
		return true
	})
	return best
}

func pexelsPhoto(doc gjson.Result) (types.AssetCandidate, error) {
	for _, ph := range doc.Get("photos").Array() {
		link := ph.Get("src.large2x").String()
		if link == "" {
			link = ph.Get("src.original").String()
		}
		if link == "" {
			continue
		}
		return types.AssetCandidate{
			ProviderAssetID: ph.Get("id").String(),
			DownloadURL:     link,
			Ext:             extFromURL(link, ".jpg"),
			CreatorName:     ph.Get("photographer").String(),
			CreatorURL:      ph.Get("photographer_url").String(),
			PageURL:         ph.Get("url").String(),
			License:         pexelsLicense,
		}, nil
	}
	return types.AssetCandidate{}, fmt.Errorf("pexels photo search: %w", ports.ErrNoResults)
}
