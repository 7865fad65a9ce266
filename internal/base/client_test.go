package base

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/olgasafonova/cbeta-mcp-server/internal/errors"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	c := NewClient(cfg, WithLogger(quietLogger()))
	t.Cleanup(c.Close)
	return c
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	defer c.Close()

	cfg := c.Config()
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMaxConcurrent, cfg.MaxConcurrent)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Nil(t, c.Cache, "cache is disabled without a TTL")
	assert.NotNil(t, c.HTTPClient)
	assert.NotEmpty(t, c.BreakerState())
}

func TestNewClientWithOptions(t *testing.T) {
	customHTTP := &http.Client{Timeout: time.Minute}
	customLogger := quietLogger()

	c := NewClient(Config{}, WithHTTPClient(customHTTP), WithLogger(customLogger))
	defer c.Close()

	assert.Same(t, customHTTP, c.HTTPClient)
	assert.Same(t, customLogger, c.Logger)
}

func TestClient_URL(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://api.example/"})
	defer c.Close()

	assert.Equal(t, "https://api.example/toc", c.URL("/toc", nil))
	assert.Equal(t, "https://api.example/search/kwic?juan=1&q=%E6%B3%95", c.URL("search/kwic", url.Values{"q": {"法"}, "juan": {"1"}}))
}

func TestClient_Get_Success(t *testing.T) {
	var gotUA, gotAccept, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"num_found":2,"results":[{"work":"T0001"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	resp, err := c.Get(context.Background(), Request{Path: "/works", Query: url.Values{"q": {"阿含"}}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "阿含", gotQuery)

	var body struct {
		NumFound int `json:"num_found"`
	}
	require.NoError(t, resp.JSON(&body))
	assert.Equal(t, 2, body.NumFound)
}

func TestClient_Get_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/juans/goto", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/T0001_001", http.StatusFound)
	})
	mux.HandleFunc("/T0001_001", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	resp, err := c.Get(context.Background(), Request{Path: "/juans/goto", Query: url.Values{"linehead": {"T01n0001_p0001a01"}}})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/T0001_001", resp.URL)
}

func TestClient_Get_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such work", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	resp, err := c.Get(context.Background(), Request{Path: "/toc"})
	require.Error(t, err)
	assert.True(t, apierrors.IsUpstream(err))
	assert.Contains(t, err.Error(), "HTTP 404")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClient_Get_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	resp, err := c.Get(context.Background(), Request{Path: "/search"})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestClient_Get_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	start := time.Now()
	_, err := c.Get(context.Background(), Request{Path: "/search/similar", Timeout: 50 * time.Millisecond})
	require.Error(t, err)

	assert.True(t, apierrors.IsTimeout(err), "got %T: %v", err, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_Get_Cache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{CacheTTL: time.Minute})
	require.NotNil(t, c.Cache)

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), Request{Path: "/catalog_entry", Query: url.Values{"q": {"CBETA.T"}}})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_Get_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxRetries: 2, RetryDelay: time.Millisecond})
	_, err := c.Get(context.Background(), Request{Path: "/lines"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_Get_NoRetryByDefault(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	_, err := c.Get(context.Background(), Request{Path: "/lines"})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_Get_CircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{BreakerThreshold: 2, BreakerTimeout: time.Minute})
	for i := 0; i < 4; i++ {
		_, err := c.Get(context.Background(), Request{Path: "/search", Query: url.Values{"q": {string(rune('a' + i))}}})
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not reach the upstream")
}

func TestClient_Get_CoalescesIdenticalRequests(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = io.WriteString(w, `{"total":1}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxConcurrent: 10})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), Request{Path: "/search/extended", Query: url.Values{"q": {"觀音"}}})
			assert.NoError(t, err)
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_Get_CoalescedCallerSurvivesFirstCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = io.WriteString(w, `{"toc":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	req := Request{Path: "/toc", Query: url.Values{"work": {"T0001"}}}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Get(firstCtx, req)
		firstErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	secondErr := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), req)
		secondErr <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	assert.NoError(t, <-secondErr, "a live caller must not inherit another caller's cancellation")
	assert.Equal(t, "closed", c.BreakerState())
}

func TestClient_Get_ExcessCallersWaitForSlot(t *testing.T) {
	var active, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		active.Add(-1)
		_, _ = io.WriteString(w, `{"results":[]}`)
	}))
	defer srv.Close()

	const slots = 2
	c := newTestClient(t, srv, Config{MaxConcurrent: slots})

	calls := slots*2 + 1
	errs := make([]error, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// distinct queries so coalescing does not merge them
			_, errs[i] = c.Get(context.Background(), Request{Path: "/search", Query: url.Values{"q": {string(rune('a' + i))}}})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "call %d", i)
	}
	assert.LessOrEqual(t, peak.Load(), int32(slots))
}

func TestClient_Get_QueuedCallTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv, Config{MaxConcurrent: 1})

	go func() {
		_, _ = c.Get(context.Background(), Request{Path: "/hold", Timeout: 2 * time.Second})
	}()
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(context.Background(), Request{Path: "/waiting", Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, apierrors.IsTimeout(err), "got %v", err)
}

func TestResponse_JSON_Invalid(t *testing.T) {
	resp := &Response{URL: "https://api.example/toc", Body: []byte("<html>")}
	var v map[string]any
	err := resp.JSON(&v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short string", "hello", 10, "hello"},
		{"exact length", "hello", 5, "hello"},
		{"truncated", "hello world", 5, "hello..."},
		{"empty", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}
