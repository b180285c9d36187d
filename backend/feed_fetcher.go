package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	log "gopkg.in/inconshreveable/log15.v2"
)

const (
	DefaultUserAgent    = "gator"
	DefaultFetchTimeout = 30 * time.Second

	maxFeedBodySize = 16 << 20
)

// HTTPStatusError is returned by Fetch when the server answers with a status
// outside of 2xx.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("bad HTTP response from %s: %s", e.URL, e.Status)
}

type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration

	// ETagTTL is how long a response ETag is remembered for conditional
	// requests. Zero disables conditional requests.
	ETagTTL time.Duration
}

// FeedFetcher downloads and parses RSS documents.
type FeedFetcher struct {
	client    *http.Client
	userAgent string
	etags     *cache.Cache
	logger    log.Logger
}

func NewFeedFetcher(config FetcherConfig, logger log.Logger) *FeedFetcher {
	fetcher := &FeedFetcher{}
	fetcher.logger = logger

	fetcher.userAgent = config.UserAgent
	if fetcher.userAgent == "" {
		fetcher.userAgent = DefaultUserAgent
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	fetcher.client = &http.Client{Timeout: timeout}

	if config.ETagTTL > 0 {
		fetcher.etags = cache.New(config.ETagTTL, 2*config.ETagTTL)
	}

	return fetcher
}

// Fetch retrieves the document at feedURL and parses it. A 304 answer to a
// conditional request yields a ParsedFeed with NotModified set and no items.
func (f *FeedFetcher) Fetch(ctx context.Context, feedURL string) (*ParsedFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	conditional := false
	if f.etags != nil {
		if etag, found := f.etags.Get(feedURL); found {
			req.Header.Set("If-None-Match", etag.(string))
			conditional = true
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && conditional {
		return &ParsedFeed{NotModified: true, Items: []RawFeedItem{}}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{URL: feedURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodySize))
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}

	feed, err := parseRSS(body, func(index int, err error) {
		f.logger.Debug("skipping invalid item", "url", feedURL, "index", index, "error", err)
	})
	if err != nil {
		return nil, err
	}

	if f.etags != nil {
		if etag := resp.Header.Get("ETag"); etag != "" {
			f.etags.SetDefault(feedURL, etag)
		} else {
			f.etags.Delete(feedURL)
		}
	}

	return feed, nil
}
