package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Browser: headless Chromium для сайтов за JS-проверкой (rod.enabled)
type Browser struct {
	client   *Client
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (c *Client) NewBrowser() (*Browser, error) {
	l := launcher.New().Headless(true)
	if c.cfg.Rod.ChromePath != "" {
		l = l.Bin(c.cfg.Rod.ChromePath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	c.logger.Info("Browser started", "control_url", controlURL)
	return &Browser{client: c, browser: b, launcher: l}, nil
}

func (b *Browser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	return err
}

// BrowserSession: та же возможность Fetch, но через рендеринг страницы
type BrowserSession struct {
	browser *Browser
	creds   Credentials
}

func (b *Browser) Session(creds Credentials) *BrowserSession {
	if creds.UserAgent == "" {
		creds.UserAgent = b.client.cfg.HTTP.UserAgent
	}
	return &BrowserSession{browser: b, creds: creds}
}

func (s *BrowserSession) Fetch(ctx context.Context, rawURL string, mode Mode, maxRetries int) (*Page, error) {
	return s.browser.client.retry(ctx, rawURL, mode, maxRetries, func(ctx context.Context) (*Page, error) {
		return s.fetchOnce(ctx, rawURL, mode)
	})
}

func (s *BrowserSession) fetchOnce(ctx context.Context, rawURL string, mode Mode) (*Page, error) {
	cfg := s.browser.client.cfg

	tab, err := s.browser.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = tab.Close() }()

	page := tab.Timeout(cfg.GetRodPageTimeout())

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.creds.UserAgent}); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	if cookies := cookieParams(rawURL, s.creds.Cookie); len(cookies) > 0 {
		if err := page.SetCookies(cookies); err != nil {
			return nil, fmt.Errorf("set cookies: %w", err)
		}
	}

	if err := page.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.Timeout(cfg.GetRodWaitLoadTimeout()).WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	if delay := cfg.GetRodLazyLoadDelay(); delay > 0 {
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}

	body, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}

	finalURL := rawURL
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	s.browser.client.logger.Debug("Page rendered", "url", finalURL, "bytes", len(body))
	// статус ответа через CDP не достаём; отрисованная страница считается успешной
	return buildPage(finalURL, http.StatusOK, []byte(body), mode)
}

// cookieParams раскладывает заголовок Cookie ("a=1; b=2") на параметры CDP
func cookieParams(rawURL, header string) []*proto.NetworkCookieParam {
	var out []*proto.NetworkCookieParam
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, &proto.NetworkCookieParam{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
			URL:   rawURL,
		})
	}
	return out
}
