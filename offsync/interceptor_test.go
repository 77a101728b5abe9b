package offsync

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubResponse(status int, body string) *http.Response {
	return &http.Response{
		Status:     http.StatusText(status),
		StatusCode: status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return string(body)
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		url      string
		accept   string
		expected Class
	}{
		{"api path", http.MethodGet, "https://ledger.test/api/farmer-products", "", ClassAPI},
		{"non-GET is api", http.MethodPost, "https://ledger.test/anything", "", ClassAPI},
		{"script asset", http.MethodGet, "https://ledger.test/static/app.js", "", ClassStatic},
		{"stylesheet", http.MethodGet, "https://ledger.test/app.css", "", ClassStatic},
		{"icon", http.MethodGet, "https://ledger.test/favicon.ico", "", ClassStatic},
		{"navigation", http.MethodGet, "https://ledger.test/entries", "text/html,application/xhtml+xml", ClassNavigation},
		{"other", http.MethodGet, "https://ledger.test/manifest.webmanifest", "", ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			require.Equal(t, tt.expected, DefaultClassifier(req))
		})
	}
}

// Cache-First: once a static asset is stored, no network call is issued
// and the stored response is returned verbatim.
func TestCacheFirstSkipsNetworkOnHit(t *testing.T) {
	var calls int32
	next := rtFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return stubResponse(http.StatusOK, `console.log("v1")`), nil
	})
	i := NewInterceptor(next, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "https://ledger.test/static/app.js", nil)
	resp, err := i.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, `console.log("v1")`, readBody(t, resp))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	resp, err = i.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, `console.log("v1")`, readBody(t, resp))
	require.Equal(t, "hit", resp.Header.Get(CacheHeader))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "cache hit must not touch the network")
}

// Network-First: a failed API fetch falls back to the most recent stored
// response; with nothing stored the failure propagates.
func TestNetworkFirstFallsBackToCache(t *testing.T) {
	online := true
	next := rtFunc(func(r *http.Request) (*http.Response, error) {
		if !online {
			return nil, errors.New("dial tcp: no route to host")
		}
		return stubResponse(http.StatusOK, `[{"farmer_id":"farmer-1"}]`), nil
	})
	i := NewInterceptor(next, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "https://ledger.test/api/farmer-products?farmer_id=farmer-1", nil)
	resp, err := i.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, `[{"farmer_id":"farmer-1"}]`, readBody(t, resp))

	online = false
	resp, err = i.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, "hit", resp.Header.Get(CacheHeader))
	require.Equal(t, `[{"farmer_id":"farmer-1"}]`, readBody(t, resp))

	// A request identity that was never stored propagates the failure.
	other := httptest.NewRequest(http.MethodGet, "https://ledger.test/api/daily-entry", nil)
	_, err = i.RoundTrip(other)
	require.ErrorIs(t, err, ErrNetworkUnreachable)
}

func TestNetworkFirstDoesNotSynthesizeSuccessFromErrors(t *testing.T) {
	next := rtFunc(func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusInternalServerError, `{"error":"boom"}`), nil
	})
	i := NewInterceptor(next, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "https://ledger.test/api/farmer-products", nil)
	resp, err := i.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	readBody(t, resp)

	// The error response must not have been cached.
	failing := rtFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("network down")
	})
	i.next = failing
	_, err = i.RoundTrip(req)
	require.ErrorIs(t, err, ErrNetworkUnreachable)
}

func TestNavigationServesOfflineShell(t *testing.T) {
	shell := []byte(`<!doctype html><title>Malar Market Ledger</title>`)
	next := rtFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("network down")
	})
	i := NewInterceptor(next, &InterceptorConfig{OfflineShell: shell}, nil)

	req := httptest.NewRequest(http.MethodGet, "https://ledger.test/entries", nil)
	req.Header.Set("Accept", "text/html")
	resp, err := i.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "offline-fallback", resp.Header.Get(CacheHeader))
	require.Equal(t, string(shell), readBody(t, resp))
}

func TestStaleWhileRevalidateServesStaleAndRefreshes(t *testing.T) {
	var version atomic.Int32
	version.Store(1)
	next := rtFunc(func(r *http.Request) (*http.Response, error) {
		if version.Load() == 1 {
			return stubResponse(http.StatusOK, "v1"), nil
		}
		return stubResponse(http.StatusOK, "v2"), nil
	})
	i := NewInterceptor(next, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "https://ledger.test/manifest.webmanifest", nil)
	resp, err := i.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, "v1", readBody(t, resp))

	version.Store(2)

	// Stored copy is returned immediately while the refresh runs behind it.
	resp, err = i.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, "hit", resp.Header.Get(CacheHeader))
	require.Equal(t, "v1", readBody(t, resp))

	require.Eventually(t, func() bool {
		resp, err := i.RoundTrip(req)
		if err != nil {
			return false
		}
		return readBody(t, resp) == "v2"
	}, 2*time.Second, 10*time.Millisecond, "background revalidation must replace the stored copy")
}

func TestCacheKeyStripsFragment(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "https://ledger.test/entries?d=today#section", nil)
	b := httptest.NewRequest(http.MethodGet, "https://ledger.test/entries?d=today", nil)
	require.Equal(t, cacheKey(b), cacheKey(a))

	c := httptest.NewRequest(http.MethodGet, "https://ledger.test/entries?d=yesterday", nil)
	require.NotEqual(t, cacheKey(b), cacheKey(c))
}
