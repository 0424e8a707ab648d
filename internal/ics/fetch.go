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
	"time"

	appLog "webcal/internal/log"
)

// Source is one calendar feed: a remote subscription or the local file.
type Source struct {
	ID  string `yaml:"id" json:"id"`
	URL string `yaml:"url" json:"url"`
	// ReadOnly marks every event of the source as immutable.
	ReadOnly bool `yaml:"-" json:"read_only"`
}

type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool // reused the cached body after 304 or a failed request
}

type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Cache stores fetched bodies and their validators. *diskv.Diskv satisfies
// it.
type Cache interface {
	Read(key string) ([]byte, error)
	Write(key string, val []byte) error
}

// Fetcher downloads ICS subscriptions with conditional requests
// (ETag / Last-Modified) and serves the cached body when the origin is
// unreachable.
type Fetcher struct {
	client *http.Client
	cache  Cache
}

// NewFetcher returns a Fetcher. A nil client gets a 15s timeout; a nil
// cache disables caching.
func NewFetcher(cache Cache, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cache: cache}
}

// FetchAll fetches every source; failures are logged and collected.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error
	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}
	key := cacheKey(src.URL)
	meta, cached := f.load(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
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

	fromCache := FetchResult{Source: src, Body: cached, FromCache: true}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Warn("ics fetch failed, using cached body", "id", src.ID, "url", redactURL(src.URL), "err", err)
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
		f.store(key, cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}, body)
		appLog.Debug("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified", "id", src.ID, "url", redactURL(src.URL))
		return fromCache, nil

	default:
		if len(cached) > 0 {
			appLog.Warn("ics fetch non-OK, using cached body", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
			return fromCache, nil
		}
		return FetchResult{}, fmt.Errorf("fetch %s: %s", redactURL(src.URL), resp.Status)
	}
}

func cacheKey(u string) string {
	sum := sha256.Sum256([]byte(u))
	return "ics-" + hex.EncodeToString(sum[:8])
}

func (f *Fetcher) load(key string) (cacheEntry, []byte) {
	var meta cacheEntry
	if f.cache == nil {
		return meta, nil
	}
	body, err := f.cache.Read(key + ".ics")
	if err != nil {
		return meta, nil
	}
	if raw, err := f.cache.Read(key + ".json"); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	return meta, body
}

// store writes the body before the metadata so validators never refer to
// a missing body.
func (f *Fetcher) store(key string, meta cacheEntry, body []byte) {
	if f.cache == nil {
		return
	}
	meta.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(meta)
	if err == nil {
		err = f.cache.Write(key+".ics", body)
	}
	if err == nil {
		err = f.cache.Write(key+".json", raw)
	}
	if err != nil {
		appLog.Error("ics cache save failed", err, "url", redactURL(meta.URL))
	}
}

// redactURL keeps scheme and host only; subscription URLs usually embed a
// secret token in the path or query.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
