// Package stock implements the stock media providers and the HTTP downloader
// used by asset resolution.
package stock

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/forPelevin/reelplan/internal/retry"
)

const maxErrorBody = 400

func defaultClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

// statusError reports a non-2xx response. Client errors other than 408 and
// 429 are permanent.
func statusError(resp *http.Response, secret string) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	body := strings.TrimSpace(string(b))
	if secret != "" {
		body = strings.ReplaceAll(body, secret, "[REDACTED]")
	}
	err := fmt.Errorf("status %d: %s", resp.StatusCode, body)
	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return err
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(err)
	default:
		return err
	}
}

func getJSON(ctx context.Context, client *http.Client, u string, header http.Header, secret string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, retry.Permanent(err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return gjson.Result{}, redactURLError(err, secret)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, statusError(resp, secret)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(b) {
		return gjson.Result{}, fmt.Errorf("invalid JSON response (%d bytes)", len(b))
	}
	return gjson.ParseBytes(b), nil
}

// redactURLError keeps query-string keys out of transport errors.
func redactURLError(err error, secret string) error {
	if secret == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), url.QueryEscape(secret), "[REDACTED]"))
}

// Downloader streams a URL to a temp file next to dst and renames it into place.
type Downloader struct {
	client *http.Client
}

func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = defaultClient()
	}
	return &Downloader{client: client}
}

func (d *Downloader) Download(ctx context.Context, rawURL, dst string) error {
	if strings.TrimSpace(rawURL) == "" {
		return retry.Permanent(fmt.Errorf("empty download url"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp, "")
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return retry.Permanent(fmt.Errorf("create download dir: %w", err))
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("move %s: %w", dst, err)
	}
	return nil
}

func extFromURL(u, fallback string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return fallback
	}
	ext := strings.ToLower(filepath.Ext(parsed.Path))
	if ext == "" || len(ext) > 6 {
		return fallback
	}
	return ext
}
