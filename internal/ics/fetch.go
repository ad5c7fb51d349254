package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "evcal/internal/log"
)

// FetchResult is a downloaded calendar body.
type FetchResult struct {
	URL       string
	Body      []byte
	FromCache bool // the server answered 304 or failed and the cache served
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads remote calendars for import. Bodies are cached on disk
// per URL and revalidated with ETag / Last-Modified.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher returns a fetcher caching under cacheDir. An empty cacheDir
// disables the cache.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
	}
}

// Fetch downloads rawURL. On network errors or non-OK answers a cached
// body is returned when one exists.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return FetchResult{}, fmt.Errorf("fetch: unsupported url %q", redactURL(rawURL))
	}

	dir := f.cachePath(rawURL)
	var (
		meta   cacheMeta
		cached []byte
	)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return FetchResult{}, err
		}
		meta, _ = loadMeta(dir)
		cached, _ = os.ReadFile(filepath.Join(dir, "body.ics"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	fromCache := FetchResult{URL: rawURL, Body: cached, FromCache: true}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("fetch: network error, using cached body", err, "url", redactURL(rawURL))
			return fromCache, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, err
		}
		if dir != "" {
			next := cacheMeta{
				URL:          rawURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(dir, next, body); err != nil {
				appLog.Error("fetch: cache save failed", err, "url", redactURL(rawURL))
			}
		}
		appLog.Info("fetch: downloaded", "url", redactURL(rawURL), "bytes", len(body))
		return FetchResult{URL: rawURL, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("fetch: 304 Not Modified without a cached body")
		}
		appLog.Debug("fetch: not modified", "url", redactURL(rawURL))
		return fromCache, nil

	default:
		status := errors.New(resp.Status)
		if len(cached) > 0 {
			appLog.Error("fetch: non-OK status, using cached body", status, "url", redactURL(rawURL))
			return fromCache, nil
		}
		return FetchResult{}, fmt.Errorf("fetch %s: %w", redactURL(rawURL), status)
	}
}

// cachePath is the per-URL cache directory, named by a hash of the URL.
func (f *Fetcher) cachePath(rawURL string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// saveCache writes the body before the metadata so meta never points at a
// missing body.
func saveCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; calendar URLs often embed secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
