// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

// Class is the request classification driving strategy selection.
type Class int

const (
	ClassAPI        Class = iota // backend data reads/writes: Network-First
	ClassStatic                  // static assets: Cache-First
	ClassNavigation              // full-page loads: Network-First with offline shell
	ClassOther                   // everything else: Stale-While-Revalidate
)

func (c Class) String() string {
	switch c {
	case ClassAPI:
		return "api"
	case ClassStatic:
		return "static"
	case ClassNavigation:
		return "navigation"
	default:
		return "other"
	}
}

// Classifier assigns a strategy class to an outbound request. It is
// evaluated fresh on every request; there is no cross-request state beyond
// the transport cache.
type Classifier func(*http.Request) Class

var staticExtensions = map[string]bool{
	".js": true, ".css": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".svg": true, ".ico": true, ".webp": true,
	".woff": true, ".woff2": true, ".ttf": true, ".map": true,
}

// DefaultClassifier classifies backend calls (any /api/ path or non-GET
// request) as API, HTML page loads as navigation, known asset extensions
// as static, and everything else as other.
func DefaultClassifier(req *http.Request) Class {
	if req.Method != http.MethodGet || strings.HasPrefix(req.URL.Path, "/api/") {
		return ClassAPI
	}
	if staticExtensions[strings.ToLower(path.Ext(req.URL.Path))] {
		return ClassStatic
	}
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		return ClassNavigation
	}
	return ClassOther
}

// InterceptorConfig configures the request interceptor.
type InterceptorConfig struct {
	Classifier   Classifier // nil means DefaultClassifier
	OfflineShell []byte     // HTML document served when a navigation fetch fails
}

// Interceptor is an http.RoundTripper that sits in front of all outbound
// requests, applying one of four caching strategies per request class and
// serving stored responses when the network fails. Install it as a
// client's Transport (see NewClient) so callers issue ordinary requests.
type Interceptor struct {
	next     http.RoundTripper
	cache    *responseCache
	classify Classifier
	shell    []byte
	logger   *slog.Logger
}

// NewInterceptor creates an interceptor that delegates network fetches to
// next (http.DefaultTransport when nil).
func NewInterceptor(next http.RoundTripper, config *InterceptorConfig, logger *slog.Logger) *Interceptor {
	if next == nil {
		next = http.DefaultTransport
	}
	if config == nil {
		config = &InterceptorConfig{}
	}
	classify := config.Classifier
	if classify == nil {
		classify = DefaultClassifier
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		next:     next,
		cache:    newResponseCache(),
		classify: classify,
		shell:    config.OfflineShell,
		logger:   logger,
	}
}

// NewClient returns an *http.Client with the interceptor installed as its
// transport.
func NewClient(config *InterceptorConfig, logger *slog.Logger) *http.Client {
	return &http.Client{Transport: NewInterceptor(nil, config, logger)}
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	switch i.classify(req) {
	case ClassAPI:
		return i.networkFirst(req, false)
	case ClassStatic:
		return i.cacheFirst(req)
	case ClassNavigation:
		return i.networkFirst(req, true)
	default:
		return i.staleWhileRevalidate(req)
	}
}

// fetch performs the network round trip and stores a copy of the response
// in the transport cache when (and only when) the status is a success.
func (i *Interceptor) fetch(req *http.Request) (*http.Response, error) {
	resp, err := i.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if isSuccess(resp.StatusCode) {
		entry, err := snapshot(resp)
		if err != nil {
			return nil, err
		}
		i.cache.put(cacheKey(req), entry)
	}
	return resp, nil
}

// networkFirst tries the network, falling back to the most recent stored
// copy, then (for navigations) to the offline shell, then propagating the
// failure.
func (i *Interceptor) networkFirst(req *http.Request, shellFallback bool) (*http.Response, error) {
	resp, err := i.fetch(req)
	if err == nil {
		return resp, nil
	}
	if entry, ok := i.cache.get(cacheKey(req)); ok {
		i.logger.Debug("serving cached response after network failure",
			"key", cacheKey(req), "stored_at", entry.StoredAt)
		return entry.response(req, "hit"), nil
	}
	if shellFallback && len(i.shell) > 0 {
		i.logger.Debug("serving offline fallback shell", "url", req.URL.String())
		return i.shellResponse(req), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
}

// cacheFirst returns the stored copy when present without touching the
// network; otherwise it fetches and stores the result.
func (i *Interceptor) cacheFirst(req *http.Request) (*http.Response, error) {
	if entry, ok := i.cache.get(cacheKey(req)); ok {
		return entry.response(req, "hit"), nil
	}
	resp, err := i.fetch(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	return resp, nil
}

// staleWhileRevalidate returns the stored copy immediately while refreshing
// it in the background; without a stored copy the caller waits on the
// network fetch.
func (i *Interceptor) staleWhileRevalidate(req *http.Request) (*http.Response, error) {
	if entry, ok := i.cache.get(cacheKey(req)); ok {
		revalidate := req.Clone(context.WithoutCancel(req.Context()))
		go i.revalidate(revalidate)
		return entry.response(req, "hit"), nil
	}
	resp, err := i.fetch(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	return resp, nil
}

func (i *Interceptor) revalidate(req *http.Request) {
	resp, err := i.fetch(req)
	if err != nil {
		i.logger.Debug("background revalidation failed", "key", cacheKey(req), "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func (i *Interceptor) shellResponse(req *http.Request) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set(CacheHeader, "offline-fallback")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusOK, http.StatusText(http.StatusOK)),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(i.shell)),
		ContentLength: int64(len(i.shell)),
		Request:       req,
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
