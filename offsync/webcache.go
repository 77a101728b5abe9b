// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// CacheHeader marks responses the interceptor served from its transport
// cache ("hit") or synthesized as the offline fallback shell
// ("offline-fallback").
const CacheHeader = "X-Ledger-Cache"

// cachedResponse is one stored (request identity -> response) pair. The
// transport cache has no TTL: an entry lives until the next successful
// fetch for the same key overwrites it. StoredAt lets callers judge
// staleness themselves.
type cachedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// response materializes the stored copy as a fresh *http.Response for the
// given request.
func (c *cachedResponse) response(req *http.Request, source string) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(CacheHeader, source)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.Status, http.StatusText(c.Status)),
		StatusCode:    c.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// responseCache is the interceptor's in-memory transport cache. It is
// transient and process-owned, independent of the durable store.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]*cachedResponse
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]*cachedResponse)}
}

func (c *responseCache) get(key string) (*cachedResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *responseCache) put(key string, entry *cachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
}

// cacheKey derives the normalized request identity: method plus canonical
// URL with any fragment stripped.
func cacheKey(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return req.Method + " " + u.String()
}

// snapshot drains resp.Body into a cache entry and replaces the body so
// the caller can still read the response.
func snapshot(resp *http.Response) (*cachedResponse, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return &cachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}
