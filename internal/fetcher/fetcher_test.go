package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tracker-stats/internal/config"
	"tracker-stats/internal/observability"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Backoff = config.BackoffConfig{MinMS: 1, MaxMS: 5, JitterPct: 0}
	cfg.RateLimit = config.RateLimitConfig{MaxConcurrentPerHost: 4, RPM: 60000}
	c := NewClient(&cfg, observability.NewNop())
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`<html><body><h1>ok</h1></body></html>`))
	}))
	defer srv.Close()

	s := testClient(t).Session(Credentials{})
	page, err := s.Fetch(context.Background(), srv.URL+"/index.php", Document, 3)
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.NotNil(t, page.Doc)
	require.Equal(t, "ok", page.Doc.Find("h1").Text())
}

func TestFetchExhaustsAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := testClient(t).Session(Credentials{})
	_, err := s.Fetch(context.Background(), srv.URL, Document, 2)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, 3, fe.Attempts)
	require.Equal(t, srv.URL, fe.URL)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusInternalServerError, se.StatusCode)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchZeroRetriesIsOneAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(t).Session(Credentials{}).Fetch(context.Background(), srv.URL, Raw, 0)
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchEmptyDocumentIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return
		}
		_, _ = w.Write([]byte(`<p id="x">second</p>`))
	}))
	defer srv.Close()

	page, err := testClient(t).Session(Credentials{}).Fetch(context.Background(), srv.URL, Document, 1)
	require.NoError(t, err)
	require.Equal(t, "second", page.Doc.Find("#x").Text())
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchRawMode(t *testing.T) {
	const fragment = `<b>资源总大小：</b>1.23&nbsp;GB`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fragment))
	}))
	defer srv.Close()

	page, err := testClient(t).Session(Credentials{}).Fetch(context.Background(), srv.URL, Raw, 0)
	require.NoError(t, err)
	require.Nil(t, page.Doc)
	require.Equal(t, fragment, page.Body)
}

func TestFetchSendsCredentials(t *testing.T) {
	var cookie, agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie = r.Header.Get("Cookie")
		agent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("<p>ok</p>"))
	}))
	defer srv.Close()

	c := testClient(t)
	_, err := c.Session(Credentials{Cookie: "c_secure_uid=1; c_secure_pass=x", UserAgent: "tester/1.0"}).
		Fetch(context.Background(), srv.URL, Document, 0)
	require.NoError(t, err)
	require.Equal(t, "c_secure_uid=1; c_secure_pass=x", cookie)
	require.Equal(t, "tester/1.0", agent)

	// без явного UA берётся из конфига
	_, err = c.Session(Credentials{}).Fetch(context.Background(), srv.URL, Document, 0)
	require.NoError(t, err)
	require.Equal(t, c.cfg.HTTP.UserAgent, agent)
}

func TestSessionsOnOneClientDoNotShareCookies(t *testing.T) {
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent = append(sent, r.Header.Get("Cookie"))
		http.SetCookie(w, &http.Cookie{Name: "c_secure_pass", Value: "ALICE", Path: "/"})
		_, _ = w.Write([]byte("<p>ok</p>"))
	}))
	defer srv.Close()

	c := testClient(t)
	alice := c.Session(Credentials{Cookie: "c_secure_uid=1"})
	bob := c.Session(Credentials{Cookie: "c_secure_uid=2"})

	_, err := alice.Fetch(context.Background(), srv.URL+"/index.php", Document, 0)
	require.NoError(t, err)
	_, err = bob.Fetch(context.Background(), srv.URL+"/index.php", Document, 0)
	require.NoError(t, err)
	// без кук в сессии Set-Cookie тоже не возвращается
	_, err = c.Session(Credentials{}).Fetch(context.Background(), srv.URL+"/index.php", Document, 0)
	require.NoError(t, err)

	require.Equal(t, []string{"c_secure_uid=1", "c_secure_uid=2", ""}, sent)
}

func TestFetchCancelledContext(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(t).Session(Credentials{}).Fetch(ctx, srv.URL, Document, 5)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestFetchInvalidURL(t *testing.T) {
	_, err := testClient(t).Session(Credentials{}).Fetch(context.Background(), "not a url", Document, 1)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, 0, fe.Attempts)
}

func TestBackoffCalculation(t *testing.T) {
	cfg := config.Default()
	cfg.Backoff = config.BackoffConfig{MinMS: 250, MaxMS: 2000, JitterPct: 20}
	c := NewClient(&cfg, observability.NewNop())

	for attempt := 1; attempt <= 40; attempt++ {
		backoff := c.calculateBackoff(attempt)
		require.GreaterOrEqual(t, backoff, cfg.GetBackoffMin(), "attempt %d", attempt)
		require.LessOrEqual(t, backoff, cfg.GetBackoffMax()*12/10, "attempt %d", attempt)
	}
}

func TestRateLimiterConcurrency(t *testing.T) {
	rl := NewRateLimiter(1, 60000)

	release, err := rl.Acquire(context.Background(), "example.com")
	require.NoError(t, err)

	// второй слот для того же хоста занят
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rl.Acquire(ctx, "example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// другой хост не блокируется
	releaseOther, err := rl.Acquire(context.Background(), "other.org")
	require.NoError(t, err)
	releaseOther()

	release()
	release() // повторный release безопасен

	release, err = rl.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	release()
}

func TestCookieParams(t *testing.T) {
	params := cookieParams("https://www.pttime.org/index.php", " a=1 ; b = two; broken ; =x")
	require.Len(t, params, 2)
	require.Equal(t, "a", params[0].Name)
	require.Equal(t, "1", params[0].Value)
	require.Equal(t, "b", params[1].Name)
	require.Equal(t, "two", params[1].Value)
	require.Equal(t, "https://www.pttime.org/index.php", params[1].URL)
}
