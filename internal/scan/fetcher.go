// Package scan fetches monitored pages, normalizes their content and
// classifies how much it changed since the stored snapshot.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go-pagewatch/internal/config"
	"go-pagewatch/internal/logger"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// FetchError is recorded on a page when it could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidatorCache stores HTTP validators between scans. *cache.Cache
// satisfies it.
type ValidatorCache interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	TTL() time.Duration
}

// Response is a fetched document.
type Response struct {
	Body        string
	ContentType string
	// NotModified is set when the server answered a conditional request
	// with 304. Body is empty in that case.
	NotModified bool

	key        string
	validators validators
}

type validators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

// hostLimiter spaces out requests to the same host.
type hostLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	limiters map[string]*rate.Limiter
}

func newHostLimiter(perSecond float64) *hostLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &hostLimiter{limit: limit, limiters: make(map[string]*rate.Limiter)}
}

func (h *hostLimiter) wait(ctx context.Context, host string) error {
	h.mu.Lock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.limit, 1)
		h.limiters[host] = l
	}
	h.mu.Unlock()
	return l.Wait(ctx)
}

// Fetcher retrieves page bodies over HTTP.
type Fetcher struct {
	client    *http.Client
	cache     ValidatorCache
	limiter   *hostLimiter
	userAgent string
	maxBody   int64
	log       logger.Logger
}

// NewFetcher creates a Fetcher. cache may be nil, in which case requests are
// never conditional.
func NewFetcher(cfg config.ScanConfig, cache ValidatorCache, log logger.Logger) *Fetcher {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		cache:     cache,
		limiter:   newHostLimiter(cfg.PerHostRate),
		userAgent: cfg.UserAgent,
		maxBody:   maxBody,
		log:       log.With(map[string]interface{}{"component": "fetcher"}),
	}
}

func cacheKey(pageID, pageURL string) string {
	return pageID + "|" + pageURL
}

// Fetch downloads pageURL. When conditional is set, stored validators are
// sent so that an unchanged page costs a 304. Context cancellation is
// returned as the bare context error, every other failure as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, pageID, pageURL string, conditional bool) (*Response, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &FetchError{URL: pageURL, Err: fmt.Errorf("unsupported url")}
	}

	if err := f.limiter.wait(ctx, u.Host); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{URL: pageURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	key := cacheKey(pageID, pageURL)
	if conditional {
		if v := f.loadValidators(key); v != nil {
			if v.ETag != "" {
				req.Header.Set("If-None-Match", v.ETag)
			}
			if v.LastModified != "" {
				req.Header.Set("If-Modified-Since", v.LastModified)
			}
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && conditional {
		return &Response{NotModified: true, ContentType: resp.Header.Get("Content-Type")}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	reader, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBody), contentType)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: fmt.Errorf("decode charset: %w", err)}
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{URL: pageURL, Err: fmt.Errorf("read body: %w", err)}
	}

	return &Response{
		Body:        string(body),
		ContentType: contentType,
		key:         key,
		validators: validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}, nil
}

// Remember stores the validators of resp so the next conditional fetch can
// be answered with 304. Call it only once the content of resp is stored.
func (f *Fetcher) Remember(resp *Response) {
	if resp == nil || resp.NotModified {
		return
	}
	f.storeValidators(resp.key, resp.validators)
}

func (f *Fetcher) loadValidators(key string) *validators {
	if f.cache == nil {
		return nil
	}
	raw, err := f.cache.Get(key)
	if err != nil {
		f.log.Warn(fmt.Sprintf("Failed to read validators for %s: %v", key, err))
		return nil
	}
	if raw == nil {
		return nil
	}
	var v validators
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

func (f *Fetcher) storeValidators(key string, v validators) {
	if f.cache == nil || (v.ETag == "" && v.LastModified == "") {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := f.cache.Set(key, raw, f.cache.TTL()); err != nil {
		f.log.Warn(fmt.Sprintf("Failed to store validators for %s: %v", key, err))
	}
}
