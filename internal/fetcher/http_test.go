package fetcher

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const samplePDF = "%PDF-1.4\n%fake\n"

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:   "test-agent",
		Timeout:     5 * time.Second,
		RatePerHost: 100,
		Burst:       100,
	})
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte(samplePDF)) //nolint:errcheck
	}))
	defer srv.Close()

	doc, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/forms/w9.pdf?v=2")
	require.NoError(t, err)
	assert.Equal(t, "w9.pdf", doc.Filename)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, samplePDF, string(doc.Data))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(samplePDF)), doc.Base64)
}

func TestFetch_ContentDispositionWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Application Form.pdf"`)
		w.Write([]byte(samplePDF)) //nolint:errcheck
	}))
	defer srv.Close()

	doc, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/download?id=7")
	require.NoError(t, err)
	assert.Equal(t, "Application Form.pdf", doc.Filename)
}

func TestFetch_NonPDFContentTypeProceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte(samplePDF)) //nolint:errcheck
	}))
	defer srv.Close()

	doc, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", doc.ContentType)
}

func TestFetch_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/missing.pdf")
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, "Network Error: Failed to fetch PDF: Not Found", err.Error())
	assert.True(t, IsFetchError(err))
}

func TestFetch_NoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/a.pdf")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestFetch_429SlowsHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.Fetch(context.Background(), srv.URL+"/a.pdf")
	require.Error(t, err)

	u, _ := url.Parse(srv.URL)
	assert.Equal(t, rate.Limit(50), f.limiterFor(u).limit())
}

func TestFetch_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), addr+"/a.pdf")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Network Error: "))
	assert.True(t, IsFetchError(err))
}

func TestFetch_InvalidURL(t *testing.T) {
	_, err := newTestFetcher().Fetch(context.Background(), "https://exa mple.com/%%%")
	require.Error(t, err)
	assert.True(t, IsFetchError(err))
}

func TestFetch_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64))) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxBytes: 16, RatePerHost: 100, Burst: 100})
	_, err := f.Fetch(context.Background(), srv.URL+"/big.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePDF)) //nolint:errcheck
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher().Fetch(ctx, srv.URL+"/a.pdf")
	require.Error(t, err)
	assert.True(t, IsFetchError(err))
}

func TestFilenameFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"https://x.com/a/b/form.pdf", "form.pdf"},
		{"https://x.com/form.pdf?token=abc", "form.pdf"},
		{"https://x.com/", DefaultFilename},
		{"https://x.com", DefaultFilename},
		{"https://x.com/forms/", DefaultFilename},
		{"https://x.com/forms/?page=2", DefaultFilename},
		{"https://x.com/docs/My%20Form.pdf", "My Form.pdf"},
		{"https://exa mple.com/a.pdf?x", "a.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FilenameFromURL(tt.in))
		})
	}
}

func TestFilenameFromDisposition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"inline", ""},
		{`attachment; filename="report.pdf"`, "report.pdf"},
		{`attachment; filename=report.pdf`, "report.pdf"},
		{`attachment; filename*=UTF-8''r%C3%A9sum%C3%A9.pdf`, "résumé.pdf"},
		{`attachment; filename="../../etc/passwd"`, "passwd"},
		{`attachment;; filename="broken.pdf`, "broken.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FilenameFromDisposition(tt.in))
		})
	}
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "form-detector/1.0", f.opts.UserAgent)
	assert.Equal(t, 60*time.Second, f.opts.Timeout)
	assert.Equal(t, int64(32<<20), f.opts.MaxBytes)
	assert.Equal(t, rate.Limit(2), f.opts.RatePerHost)
}

func TestHostLimiter_RecoversUpToConfiguredRate(t *testing.T) {
	h := newHostLimiter("x.com", 10, 10)
	h.throttled()
	assert.Equal(t, rate.Limit(5), h.limit())

	for range 20 {
		h.recovered()
	}
	assert.Equal(t, rate.Limit(10), h.limit())
}

func TestHostLimiter_ThrottledFloorAtQuarter(t *testing.T) {
	h := newHostLimiter("x.com", 10, 10)
	for range 10 {
		h.throttled()
	}
	assert.Equal(t, rate.Limit(2.5), h.limit())
}

func TestHostLimiter_WaitContextCancelled(t *testing.T) {
	h := newHostLimiter("x.com", 0.001, 1)
	require.NoError(t, h.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, h.wait(ctx))
}

func TestFetch_HostsPacedIndependently(t *testing.T) {
	f := newTestFetcher()
	a, _ := url.Parse("https://a.example.com/x.pdf")
	b, _ := url.Parse("https://b.example.com/x.pdf")

	f.limiterFor(a).throttled()
	assert.Less(t, float64(f.limiterFor(a).limit()), float64(f.limiterFor(b).limit()))
	assert.Same(t, f.limiterFor(a), f.limiterFor(a))
}
