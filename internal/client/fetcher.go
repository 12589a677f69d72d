package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "eventscope/internal/log"
)

// FeedSource is one subscribed feed URL.
type FeedSource struct {
	// ID names the feed in logs and in the event source ("ics:<id>").
	ID  string
	URL string
}

// FeedResult is the body of one feed, fresh or from the disk cache.
type FeedResult struct {
	Source    FeedSource
	Body      []byte
	FromCache bool // reused after a 304 or an upstream failure
}

// feedMeta holds HTTP validators for a single feed URL.
type feedMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests (ETag and
// Last-Modified) and keeps the last good body on disk, so a flaky feed
// keeps serving its previous contents.
type Fetcher struct {
	client   *http.Client
	cacheDir string

	// mu guards locks; each lock serialises one feed's cache directory.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFetcher creates a Fetcher. An empty cacheDir disables the disk cache
// and with it conditional requests.
func NewFetcher(httpClient *http.Client, cacheDir string) *Fetcher {
	if httpClient == nil {
		httpClient = NewHTTPClient(15 * time.Second)
	}
	return &Fetcher{client: httpClient, cacheDir: cacheDir, locks: make(map[string]*sync.Mutex)}
}

// FetchAll fetches sources concurrently. Results keep the order of sources
// and only include feeds that produced a body; failures are logged and
// returned alongside.
func (f *Fetcher) FetchAll(ctx context.Context, sources []FeedSource) ([]FeedResult, []error) {
	slots := make([]*FeedResult, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			res, err := f.FetchOne(gctx, src)
			if err != nil {
				appLog.Error("feed fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
				errs[i] = err
				return nil
			}
			slots[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	results := make([]FeedResult, 0, len(sources))
	var failed []error
	for i := range sources {
		if slots[i] != nil {
			results = append(results, *slots[i])
		}
		if errs[i] != nil {
			failed = append(failed, errs[i])
		}
	}
	return results, failed
}

// FetchOne fetches a single feed, honoring the cached validators.
func (f *Fetcher) FetchOne(ctx context.Context, src FeedSource) (FeedResult, error) {
	if src.URL == "" {
		return FeedResult{}, &QueryError{Op: "feed", URL: src.ID, Err: errors.New("feed URL is empty")}
	}
	shown := redactURL(src.URL)

	var (
		cachePath  string
		meta       feedMeta
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(src.URL)
		unlock := f.lock(cachePath)
		defer unlock()
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return FeedResult{}, fmt.Errorf("feed cache dir: %w", err)
		}
		meta, _ = loadFeedMeta(cachePath)
		cachedBody, _ = os.ReadFile(filepath.Join(cachePath, "body"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FeedResult{}, &QueryError{Op: "feed", URL: shown, Err: err}
	}
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("feed fetch start", "id", src.ID, "url", shown)

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("feed network error, using cached body", err, "id", src.ID, "url", shown)
			return FeedResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FeedResult{}, &QueryError{Op: "feed", URL: shown, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return FeedResult{}, &QueryError{Op: "feed", URL: shown, Status: resp.StatusCode, Err: err}
		}
		if cachePath != "" {
			next := feedMeta{
				URL:          src.URL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveFeedCache(cachePath, next, body); err != nil {
				appLog.Error("feed cache save failed", err, "id", src.ID, "url", shown)
			}
		}
		appLog.Info("feed fetch success", "id", src.ID, "url", shown, "bytes", len(body))
		return FeedResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FeedResult{}, &QueryError{Op: "feed", URL: shown, Status: resp.StatusCode, Err: errors.New("not modified but no cached body")}
		}
		appLog.Debug("feed not modified, using cache", "id", src.ID, "url", shown)
		return FeedResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		qe := &QueryError{Op: "feed", URL: shown, Status: resp.StatusCode, Err: errors.New(resp.Status)}
		if len(cachedBody) > 0 {
			appLog.Error("feed non-OK, using cached body", qe, "id", src.ID, "url", shown)
			return FeedResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FeedResult{}, qe
	}
}

func (f *Fetcher) lock(path string) func() {
	f.mu.Lock()
	l, ok := f.locks[path]
	if !ok {
		l = &sync.Mutex{}
		f.locks[path] = l
	}
	f.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadFeedMeta(cachePath string) (feedMeta, error) {
	var meta feedMeta
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return feedMeta{}, err
	}
	return meta, nil
}

// saveFeedCache writes the body before the validators so meta never points
// at a missing body.
func saveFeedCache(cachePath string, meta feedMeta, body []byte) error {
	if err := writeFileAtomic(filepath.Join(cachePath, "body"), body); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(cachePath, "meta.json"), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
