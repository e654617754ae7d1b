package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tracker-stats/internal/config"
	"tracker-stats/internal/observability"
)

var tracer = otel.Tracer("tracker-stats/fetcher")

// Mode: как интерпретировать тело ответа
type Mode int

const (
	// Document: HTML, разобранный в goquery-документ
	Document Mode = iota
	// Raw: тело как есть, для фрагментов, которые разбираются регуляркой
	Raw
)

func (m Mode) String() string {
	if m == Raw {
		return "raw"
	}
	return "document"
}

type Page struct {
	URL        string
	StatusCode int
	Body       string
	Doc        *goquery.Document // nil в режиме Raw
}

// FetchError: все попытки исчерпаны (или контекст отменён). Err: последняя причина.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusError: ответ пришёл, но не 2xx
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

var errEmptyBody = errors.New("empty response body")

// Credentials: то, что выдал внешний слой авторизации
type Credentials struct {
	Cookie    string
	UserAgent string
}

// Client общий на весь процесс: пул соединений, лимитер по хостам, бэкофф
type Client struct {
	http        *resty.Client
	cfg         *config.Config
	logger      *observability.Logger
	rateLimiter *RateLimiter
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg *config.Config, logger *observability.Logger) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.GetConnectTimeout(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.HTTP.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnectionsPerHost,
		IdleConnTimeout:     cfg.GetIdleConnectionTimeout(),
		TLSHandshakeTimeout: cfg.GetConnectTimeout(),
	}

	client := resty.New()
	client.SetTransport(transport)
	if cfg.HTTP.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetTimeout(cfg.GetTotalTimeout())
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if cfg.HTTP.AcceptLanguage != "" {
		client.SetHeader("Accept-Language", cfg.HTTP.AcceptLanguage)
	}
	// повторы делаем сами, с бэкоффом и логами
	client.SetRetryCount(0)
	// клиент общий для всех аккаунтов: куки ходят только из Credentials сессии
	client.SetCookieJar(nil)

	return &Client{
		http:        client,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: NewRateLimiter(cfg.RateLimit.MaxConcurrentPerHost, cfg.RateLimit.RPM),
		sleep:       sleepCtx,
	}
}

// Session: авторизованная возможность делать запросы от имени пользователя.
// Неизменяема после создания, безопасна для параллельного использования.
type Session struct {
	client *Client
	creds  Credentials
}

func (c *Client) Session(creds Credentials) *Session {
	if creds.UserAgent == "" {
		creds.UserAgent = c.cfg.HTTP.UserAgent
	}
	return &Session{client: c, creds: creds}
}

// Fetch делает до 1+maxRetries попыток. Повторяются ошибки транспорта, не-2xx и тела,
// которые не удалось разобрать.
func (s *Session) Fetch(ctx context.Context, rawURL string, mode Mode, maxRetries int) (*Page, error) {
	return s.client.retry(ctx, rawURL, mode, maxRetries, func(ctx context.Context) (*Page, error) {
		return s.fetchOnce(ctx, rawURL, mode)
	})
}

func (s *Session) fetchOnce(ctx context.Context, rawURL string, mode Mode) (*Page, error) {
	req := s.client.http.R().
		SetContext(ctx).
		SetHeader("User-Agent", s.creds.UserAgent)
	if s.creds.Cookie != "" {
		req.SetHeader("Cookie", s.creds.Cookie)
	}

	resp, err := req.Get(rawURL)
	if err != nil {
		return nil, err
	}

	finalURL := rawURL
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		finalURL = resp.RawResponse.Request.URL.String()
	}

	s.client.logger.Debug("Response received",
		"url", finalURL,
		"status", resp.StatusCode(),
		"content_type", resp.Header().Get("Content-Type"),
		"bytes", len(resp.Body()),
	)

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode()}
	}

	return buildPage(finalURL, resp.StatusCode(), resp.Body(), mode)
}

func buildPage(finalURL string, status int, body []byte, mode Mode) (*Page, error) {
	page := &Page{
		URL:        finalURL,
		StatusCode: status,
		Body:       string(body),
	}
	if mode == Raw {
		return page, nil
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errEmptyBody
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	page.Doc = doc
	return page, nil
}

// retry: общий цикл повторов для HTTP- и браузерных сессий
func (c *Client) retry(ctx context.Context, rawURL string, mode Mode, maxRetries int, once func(ctx context.Context) (*Page, error)) (*Page, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Host == "" {
		return nil, &FetchError{URL: rawURL, Attempts: 0, Err: fmt.Errorf("invalid URL: %q", rawURL)}
	}
	host := parsedURL.Host

	ctx, span := tracer.Start(ctx, "fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("url", rawURL),
		attribute.String("mode", mode.String()),
		attribute.Int("max_retries", maxRetries),
	)

	fail := func(attempts int, cause error) (*Page, error) {
		span.RecordError(cause)
		span.SetStatus(codes.Error, cause.Error())
		return nil, &FetchError{URL: rawURL, Attempts: attempts, Err: cause}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Warn("Retrying fetch",
				"url", rawURL,
				"attempt", attempt+1,
				"backoff", backoff.String(),
				"error", lastErr,
			)
			if err := c.sleep(ctx, backoff); err != nil {
				return fail(attempts, err)
			}
		}

		// Apply rate limiting
		release, err := c.rateLimiter.Acquire(ctx, host)
		if err != nil {
			return fail(attempts, err)
		}
		attempts++
		page, err := once(ctx)
		release()

		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempts), attribute.Int("status", page.StatusCode))
			return page, nil
		}
		lastErr = err
		span.AddEvent("attempt failed", trace.WithAttributes(
			attribute.Int("attempt", attempts),
			attribute.String("error", err.Error()),
		))

		if ctx.Err() != nil {
			return fail(attempts, ctx.Err())
		}
	}

	c.logger.Error("Fetch failed", "url", rawURL, "attempts", attempts, "error", lastErr)
	return fail(attempts, lastErr)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	minMS := c.cfg.Backoff.MinMS
	maxMS := c.cfg.Backoff.MaxMS
	jitterPct := c.cfg.Backoff.JitterPct

	// Exponential backoff: min * 2^(attempt-1)
	exponential := maxMS
	if attempt-1 < 31 {
		if e := minMS * (1 << uint(attempt-1)); e > 0 && e < maxMS {
			exponential = e
		}
	}

	// Apply jitter: ±jitterPct%
	jitterRange := float64(exponential) * float64(jitterPct) / 100
	jitter := (rand.Float64() - 0.5) * 2 * jitterRange
	finalMS := float64(exponential) + jitter

	if finalMS < float64(minMS) {
		finalMS = float64(minMS)
	}

	return time.Duration(math.Max(finalMS, 0)) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
