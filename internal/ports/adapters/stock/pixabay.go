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
	PixabayName           = "pixabay"
	DefaultPixabayBaseURL = "https://pixabay.com"
	pixabayLicense        = "Pixabay Content License"
)

type Pixabay struct {
	baseURL string
	client  *http.Client
}

func NewPixabay(baseURL string, client *http.Client) *Pixabay {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultPixabayBaseURL
	}
	if client == nil {
		client = defaultClient()
	}
	return &Pixabay{baseURL: baseURL, client: client}
}

func (p *Pixabay) Name() string { return PixabayName }

// Search uses /api/ for images and /api/videos/ for video; the key is a
// query parameter.
func (p *Pixabay) Search(ctx context.Context, apiKey string, kind types.AssetKind, query string) (types.AssetCandidate, error) {
	q := url.Values{}
	q.Set("key", apiKey)
	q.Set("q", query)
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("safesearch", "true")

	switch kind {
	case types.AssetImage:
		q.Set("image_type", "photo")
		doc, err := getJSON(ctx, p.client, p.baseURL+"/api/?"+q.Encode(), nil, apiKey)
		if err != nil {
			return types.AssetCandidate{}, fmt.Errorf("pixabay image search: %w", err)
		}
		return pixabayHit(doc, "image", func(h gjson.Result) (string, string) {
			link := h.Get("largeImageURL").String()
			if link == "" {
				link = h.Get("webformatURL").String()
			}
			return link, ".jpg"
		})
	case types.AssetVideo:
		doc, err := getJSON(ctx, p.client, p.baseURL+"/api/videos/?"+q.Encode(), nil, apiKey)
		if err != nil {
			return types.AssetCandidate{}, fmt.Errorf("pixabay video search: %w", err)
		}
		return pixabayHit(doc, "video", func(h gjson.Result) (string, string) {
			for _, size := range []string{"medium", "large", "small", "tiny"} {
				if link := h.Get("videos." + size + ".url").String(); link != "" {
					return link, ".mp4"
				}
			}
			return "", ""
		})
	default:
		return types.AssetCandidate{}, retry.Permanent(fmt.Errorf("pixabay: unsupported kind %q", kind))
	}
}

func pixabayHit(doc gjson.Result, label string, pick func(gjson.Result) (string, string)) (types.AssetCandidate, error) {
	for _, h := range doc.Get("hits").Array() {
		link, ext := pick(h)
		if link == "" {
			continue
		}
		user := h.Get("user").String()
		creatorURL := ""
		if user != "" {
			creatorURL = fmt.Sprintf("https://pixabay.com/users/%s-%d/", user, h.Get("user_id").Int())
		}
		return types.AssetCandidate{
			ProviderAssetID: h.Get("id").String(),
			DownloadURL:     link,
			Ext:             extFromURL(link, ext),
			CreatorName:     user,
			CreatorURL:      creatorURL,
			PageURL:         h.Get("pageURL").String(),
			License:         pixabayLicense,
		}, nil
	}
	return types.AssetCandidate{}, fmt.Errorf("pixabay %s search: %w", label, ports.ErrNoResults)
}
