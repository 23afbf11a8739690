package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/numerist/contentgate/internal/gateway/cache"
)

// maxCapturedBody caps how much of an origin response is snapshotted. Larger
// bodies are truncated rather than exhausting memory on a single entry.
const maxCapturedBody = 8 << 20

// Fetcher retrieves an origin response for a request. It is the gateway's
// "network": an upstream HTTP origin or the in-process site renderer.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (cache.Entry, error)
}

// UpstreamFetcher proxies requests to a remote origin over HTTP.
type UpstreamFetcher struct {
	base   *url.URL
	client *http.Client
}

// NewUpstreamFetcher targets the given origin base URL. Timeout bounds every
// fetch including background revalidations.
func NewUpstreamFetcher(baseURL string, timeout time.Duration) (*UpstreamFetcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse origin url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway: origin url %q missing scheme or host", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &UpstreamFetcher{base: base, client: &http.Client{Timeout: timeout}}, nil
}

func (f *UpstreamFetcher) Fetch(ctx context.Context, r *http.Request) (cache.Entry, error) {
	target := *f.base
	target.Path = singleJoin(f.base.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	var body io.Reader
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("gateway: build origin request: %w", err)
	}
	copyForwardableHeaders(req.Header, r.Header)

	resp, err := f.client.Do(req)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("gateway: origin fetch: %w", err)
	}
	defer resp.Body.Close()
	return snapshotResponse(resp.StatusCode, resp.Header, resp.Body)
}

// LocalFetcher treats an in-process handler as the origin, capturing its
// response without a network round trip.
type LocalFetcher struct {
	handler http.Handler
}

func NewLocalFetcher(handler http.Handler) *LocalFetcher {
	return &LocalFetcher{handler: handler}
}

func (f *LocalFetcher) Fetch(ctx context.Context, r *http.Request) (cache.Entry, error) {
	if f.handler == nil {
		return cache.Entry{}, fmt.Errorf("gateway: no local origin handler")
	}
	capture := &responseCapture{header: make(http.Header), status: http.StatusOK}
	f.handler.ServeHTTP(capture, r.WithContext(ctx))
	return snapshotResponse(capture.status, capture.header, bytes.NewReader(capture.body.Bytes()))
}

type responseCapture struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (c *responseCapture) Header() http.Header { return c.header }

func (c *responseCapture) Write(p []byte) (int, error) { return c.body.Write(p) }

func (c *responseCapture) WriteHeader(status int) { c.status = status }

func snapshotResponse(status int, header http.Header, body io.Reader) (cache.Entry, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxCapturedBody))
	if err != nil {
		return cache.Entry{}, fmt.Errorf("gateway: read origin body: %w", err)
	}
	headers := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return cache.Entry{Status: status, Headers: headers, Body: data}, nil
}

// hop-by-hop headers never cross the gateway boundary.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func copyForwardableHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(name)]; hop {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func singleJoin(base, path string) string {
	switch {
	case base == "" || base == "/":
		return path
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + strings.TrimPrefix(path, "/")
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	default:
		return base + path
	}
}
