package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultFilename is used when neither the URL nor the response names the file.
const DefaultFilename = "document.pdf"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBytes caps the document size. Zero means 32 MiB.
	MaxBytes int64
	// RatePerHost is the steady request rate allowed per host.
	RatePerHost rate.Limit
	Burst       int
}

// hostLimiter paces requests to one host. A 429 fails the document that
// drew it and halves the pace for every later document on that host, never
// below a quarter of the configured rate. Each successful download earns
// back a fifth of the current rate until the configured rate is reached
// again; the configured rate is never exceeded.
type hostLimiter struct {
	host    string
	limiter *rate.Limiter

	mu      sync.Mutex
	ceiling rate.Limit
	floor   rate.Limit
	current rate.Limit
}

func newHostLimiter(host string, r rate.Limit, burst int) *hostLimiter {
	return &hostLimiter{
		host:    host,
		limiter: rate.NewLimiter(r, burst),
		ceiling: r,
		floor:   r / 4,
		current: r,
	}
}

func (h *hostLimiter) wait(ctx context.Context) error {
	return h.limiter.Wait(ctx)
}

func (h *hostLimiter) recovered() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current >= h.ceiling {
		return
	}
	h.set(min(h.current*1.2, h.ceiling))
}

func (h *hostLimiter) throttled() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.set(max(h.current/2, h.floor))
	zap.L().Warn("fetcher: host answered 429, slowing later requests",
		zap.String("host", h.host),
		zap.Float64("requests_per_sec", float64(h.current)),
	)
}

// set must be called with mu held.
func (h *hostLimiter) set(r rate.Limit) {
	h.current = r
	h.limiter.SetLimit(r)
}

func (h *hostLimiter) limit() rate.Limit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// HTTPFetcher implements Fetcher using net/http with per-host rate limiting.
// A 429 fails the current document and slows later requests to that host.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*hostLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "form-detector/1.0"
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = 32 << 20
	}
	if opts.RatePerHost == 0 {
		opts.RatePerHost = 2
	}
	if opts.Burst == 0 {
		opts.Burst = 2
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*hostLimiter),
	}
}

// limiterFor returns the host's limiter, creating it on first use.
func (f *HTTPFetcher) limiterFor(u *url.URL) *hostLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[u.Host]
	if !ok {
		lim = newHostLimiter(u.Host, f.opts.RatePerHost, f.opts.Burst)
		f.limiters[u.Host] = lim
	}
	return lim
}

// Fetch downloads rawURL and returns it as a Document. All failures are
// returned as *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Msg: fmt.Sprintf("invalid URL: %v", err), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Msg: err.Error(), Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")

	lim := f.limiterFor(u)
	if err := lim.wait(ctx); err != nil {
		return nil, &FetchError{URL: rawURL, Msg: fmt.Sprintf("rate limiter wait: %v", err), Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Msg: err.Error(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.throttled()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Msg:        "Failed to fetch PDF: " + statusText(resp),
		}
	}
	lim.recovered()

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "pdf") {
		zap.L().Warn("fetcher: content-type is not strictly application/pdf",
			zap.String("url", rawURL),
			zap.String("content_type", contentType),
		)
	}

	if resp.ContentLength > f.opts.MaxBytes {
		return nil, &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Msg:        fmt.Sprintf("document too large: %d bytes (limit %d)", resp.ContentLength, f.opts.MaxBytes),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Msg: fmt.Sprintf("read body: %v", err), Err: err}
	}
	if int64(len(data)) > f.opts.MaxBytes {
		return nil, &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Msg:        fmt.Sprintf("document too large: exceeds %d bytes", f.opts.MaxBytes),
		}
	}

	filename := FilenameFromURL(rawURL)
	if name := FilenameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" {
		filename = name
	}

	zap.L().Debug("fetcher: document downloaded",
		zap.String("url", rawURL),
		zap.String("filename", filename),
		zap.Int("bytes", len(data)),
	)

	return NewDocument(rawURL, filename, contentType, data), nil
}

// statusText returns the reason phrase of resp, e.g. "Not Found".
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	if text == "" {
		text = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return text
}

// FilenameFromURL returns the last path segment of rawURL without its query
// string, or DefaultFilename when there is none.
func FilenameFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if u.Path == "" || strings.HasSuffix(u.Path, "/") {
			return DefaultFilename
		}
		base := path.Base(u.Path)
		if base == "/" || base == "." || base == "" {
			return DefaultFilename
		}
		return base
	}

	s := rawURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return DefaultFilename
	}
	return s
}

var dispositionFilename = regexp.MustCompile(`filename="?([^";]+)"?`)

// FilenameFromDisposition extracts the filename named by a
// Content-Disposition header value, or "" when there is none.
func FilenameFromDisposition(header string) string {
	if header == "" || !strings.Contains(strings.ToLower(header), "filename") {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return path.Base(name)
		}
	}
	if m := dispositionFilename.FindStringSubmatch(header); len(m) == 2 {
		if name := strings.TrimSpace(m[1]); name != "" {
			return path.Base(name)
		}
	}
	return ""
}

// IsFetchError reports whether err is (or wraps) a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
